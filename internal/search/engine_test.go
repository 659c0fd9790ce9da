package search

import (
	"context"
	"testing"
	"time"

	"github.com/codesearch-engine/codesearch/internal/store"
)

// MockBM25Index implements store.BM25Index with overridable function fields,
// so each test wires only the behavior it needs.
type MockBM25Index struct {
	IndexFn  func(ctx context.Context, docs []*store.Document) error
	SearchFn func(ctx context.Context, query string, limit int) ([]*store.BM25Result, error)
	DeleteFn func(ctx context.Context, docIDs []string) error
	DeleteByFilePathFn func(ctx context.Context, path string) error
	AllIDsFn func() ([]string, error)
	StatsFn  func() *store.IndexStats
}

func (m *MockBM25Index) Index(ctx context.Context, docs []*store.Document) error {
	if m.IndexFn != nil {
		return m.IndexFn(ctx, docs)
	}
	return nil
}

func (m *MockBM25Index) Search(ctx context.Context, query string, limit int) ([]*store.BM25Result, error) {
	if m.SearchFn != nil {
		return m.SearchFn(ctx, query, limit)
	}
	return nil, nil
}

func (m *MockBM25Index) Delete(ctx context.Context, docIDs []string) error {
	if m.DeleteFn != nil {
		return m.DeleteFn(ctx, docIDs)
	}
	return nil
}

func (m *MockBM25Index) DeleteByFilePath(ctx context.Context, path string) error {
	if m.DeleteByFilePathFn != nil {
		return m.DeleteByFilePathFn(ctx, path)
	}
	return nil
}

func (m *MockBM25Index) AllIDs() ([]string, error) {
	if m.AllIDsFn != nil {
		return m.AllIDsFn()
	}
	return nil, nil
}

func (m *MockBM25Index) Stats() *store.IndexStats {
	if m.StatsFn != nil {
		return m.StatsFn()
	}
	return &store.IndexStats{}
}

func (m *MockBM25Index) Save(path string) error { return nil }
func (m *MockBM25Index) Load(path string) error { return nil }
func (m *MockBM25Index) Close() error           { return nil }

// MockVectorStore implements store.VectorStore with overridable function fields.
type MockVectorStore struct {
	AddFn      func(ctx context.Context, ids []string, vectors [][]float32) error
	SearchFn   func(ctx context.Context, query []float32, k int) ([]*store.VectorResult, error)
	DeleteFn   func(ctx context.Context, ids []string) error
	AllIDsFn   func() []string
	ContainsFn func(id string) bool
	CountFn    func() int
}

func (m *MockVectorStore) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if m.AddFn != nil {
		return m.AddFn(ctx, ids, vectors)
	}
	return nil
}

func (m *MockVectorStore) Search(ctx context.Context, query []float32, k int) ([]*store.VectorResult, error) {
	if m.SearchFn != nil {
		return m.SearchFn(ctx, query, k)
	}
	return nil, nil
}

func (m *MockVectorStore) Delete(ctx context.Context, ids []string) error {
	if m.DeleteFn != nil {
		return m.DeleteFn(ctx, ids)
	}
	return nil
}

func (m *MockVectorStore) AllIDs() []string {
	if m.AllIDsFn != nil {
		return m.AllIDsFn()
	}
	return nil
}

func (m *MockVectorStore) Contains(id string) bool {
	if m.ContainsFn != nil {
		return m.ContainsFn(id)
	}
	return false
}

func (m *MockVectorStore) Count() int {
	if m.CountFn != nil {
		return m.CountFn()
	}
	return 0
}

func (m *MockVectorStore) Save(path string) error { return nil }
func (m *MockVectorStore) Load(path string) error { return nil }
func (m *MockVectorStore) Close() error           { return nil }

// MockEmbedder implements embed.Embedder with overridable function fields.
type MockEmbedder struct {
	EmbedFn       func(ctx context.Context, text string) ([]float32, error)
	EmbedBatchFn  func(ctx context.Context, texts []string) ([][]float32, error)
	DimensionsFn  func() int
	ModelNameFn   func() string
	AvailableFn   func(ctx context.Context) bool
}

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if m.EmbedFn != nil {
		return m.EmbedFn(ctx, text)
	}
	return make([]float32, m.Dimensions()), nil
}

func (m *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if m.EmbedBatchFn != nil {
		return m.EmbedBatchFn(ctx, texts)
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, m.Dimensions())
	}
	return out, nil
}

func (m *MockEmbedder) Dimensions() int {
	if m.DimensionsFn != nil {
		return m.DimensionsFn()
	}
	return 768
}

func (m *MockEmbedder) ModelName() string {
	if m.ModelNameFn != nil {
		return m.ModelNameFn()
	}
	return "mock-embedder"
}

func (m *MockEmbedder) Available(ctx context.Context) bool {
	if m.AvailableFn != nil {
		return m.AvailableFn(ctx)
	}
	return true
}

func (m *MockEmbedder) Close() error          { return nil }
func (m *MockEmbedder) SetBatchIndex(int)     {}
func (m *MockEmbedder) SetFinalBatch(bool)    {}

// MockMetadataStore implements store.MetadataStore, keyed by an in-memory
// chunk map so tests can pre-populate exactly the chunks a search needs.
type MockMetadataStore struct {
	chunks map[string]*store.Chunk
	state  map[string]string
}

// NewMockMetadataStore returns an empty mock metadata store ready for
// tests to populate via its chunks map.
func NewMockMetadataStore() *MockMetadataStore {
	return &MockMetadataStore{
		chunks: make(map[string]*store.Chunk),
		state:  make(map[string]string),
	}
}

func (m *MockMetadataStore) SaveProject(ctx context.Context, project *store.Project) error {
	return nil
}

func (m *MockMetadataStore) GetProject(ctx context.Context, id string) (*store.Project, error) {
	return nil, nil
}

func (m *MockMetadataStore) UpdateProjectStats(ctx context.Context, id string, fileCount, chunkCount int) error {
	return nil
}

func (m *MockMetadataStore) RefreshProjectStats(ctx context.Context, id string) error {
	return nil
}

func (m *MockMetadataStore) SaveFiles(ctx context.Context, files []*store.File) error {
	return nil
}

func (m *MockMetadataStore) GetFileByPath(ctx context.Context, projectID, path string) (*store.File, error) {
	return nil, nil
}

func (m *MockMetadataStore) GetChangedFiles(ctx context.Context, projectID string, since time.Time) ([]*store.File, error) {
	return nil, nil
}

func (m *MockMetadataStore) ListFiles(ctx context.Context, projectID string, cursor string, limit int) ([]*store.File, string, error) {
	return nil, "", nil
}

func (m *MockMetadataStore) GetFilePathsByProject(ctx context.Context, projectID string) ([]string, error) {
	return nil, nil
}

func (m *MockMetadataStore) GetFilesForReconciliation(ctx context.Context, projectID string) (map[string]*store.File, error) {
	return nil, nil
}

func (m *MockMetadataStore) ListFilePathsUnder(ctx context.Context, projectID, dirPrefix string) ([]string, error) {
	return nil, nil
}

func (m *MockMetadataStore) DeleteFile(ctx context.Context, fileID string) error {
	return nil
}

func (m *MockMetadataStore) DeleteFilesByProject(ctx context.Context, projectID string) error {
	return nil
}

func (m *MockMetadataStore) SaveChunks(ctx context.Context, chunks []*store.Chunk) error {
	for _, c := range chunks {
		m.chunks[c.ID] = c
	}
	return nil
}

func (m *MockMetadataStore) GetChunk(ctx context.Context, id string) (*store.Chunk, error) {
	return m.chunks[id], nil
}

func (m *MockMetadataStore) GetChunks(ctx context.Context, ids []string) ([]*store.Chunk, error) {
	var out []*store.Chunk
	for _, id := range ids {
		if c, ok := m.chunks[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *MockMetadataStore) GetChunksByFile(ctx context.Context, fileID string) ([]*store.Chunk, error) {
	var out []*store.Chunk
	for _, c := range m.chunks {
		if c.FileID == fileID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *MockMetadataStore) DeleteChunks(ctx context.Context, ids []string) error {
	for _, id := range ids {
		delete(m.chunks, id)
	}
	return nil
}

func (m *MockMetadataStore) DeleteChunksByFile(ctx context.Context, fileID string) error {
	for id, c := range m.chunks {
		if c.FileID == fileID {
			delete(m.chunks, id)
		}
	}
	return nil
}

func (m *MockMetadataStore) SearchSymbols(ctx context.Context, name string, limit int) ([]*store.Symbol, error) {
	return nil, nil
}

func (m *MockMetadataStore) GetState(ctx context.Context, key string) (string, error) {
	return m.state[key], nil
}

func (m *MockMetadataStore) SetState(ctx context.Context, key, value string) error {
	m.state[key] = value
	return nil
}

func (m *MockMetadataStore) SaveChunkEmbeddings(ctx context.Context, chunkIDs []string, embeddings [][]float32, model string) error {
	return nil
}

func (m *MockMetadataStore) GetAllEmbeddings(ctx context.Context) (map[string][]float32, error) {
	return nil, nil
}

func (m *MockMetadataStore) GetEmbeddingStats(ctx context.Context) (int, int, error) {
	return 0, 0, nil
}

func (m *MockMetadataStore) SaveIndexCheckpoint(ctx context.Context, stage string, total, embeddedCount int, embedderModel string) error {
	return nil
}

func (m *MockMetadataStore) LoadIndexCheckpoint(ctx context.Context) (*store.IndexCheckpoint, error) {
	return nil, nil
}

func (m *MockMetadataStore) ClearIndexCheckpoint(ctx context.Context) error {
	return nil
}

func (m *MockMetadataStore) Close() error { return nil }

func newTestEngine() *Engine {
	bm25 := &MockBM25Index{}
	vec := &MockVectorStore{}
	embedder := &MockEmbedder{}
	metadata := NewMockMetadataStore()
	return New(bm25, vec, embedder, metadata, DefaultConfig())
}

func TestNewEngine_NilDependencies(t *testing.T) {
	metadata := NewMockMetadataStore()
	bm25 := &MockBM25Index{}
	vec := &MockVectorStore{}
	embedder := &MockEmbedder{}

	if _, err := NewEngine(nil, vec, embedder, metadata, DefaultConfig()); err == nil {
		t.Error("expected error for nil bm25 index")
	}
	if _, err := NewEngine(bm25, nil, embedder, metadata, DefaultConfig()); err == nil {
		t.Error("expected error for nil vector store")
	}
	if _, err := NewEngine(bm25, vec, nil, metadata, DefaultConfig()); err == nil {
		t.Error("expected error for nil embedder")
	}
	if _, err := NewEngine(bm25, vec, embedder, nil, DefaultConfig()); err == nil {
		t.Error("expected error for nil metadata store")
	}
}

func TestEngine_Search_EmptyQuery(t *testing.T) {
	engine := newTestEngine()
	results, err := engine.Search(context.Background(), "   ", SearchOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results != nil {
		t.Errorf("expected nil results for empty query, got %v", results)
	}
}

func TestEngine_Search_FusesResults(t *testing.T) {
	metadata := NewMockMetadataStore()
	metadata.chunks["chunk-1"] = &store.Chunk{
		ID:          "chunk-1",
		FilePath:    "main.go",
		Content:     "func main() {}",
		ContentType: store.ContentTypeCode,
		Language:    "go",
	}

	bm25 := &MockBM25Index{
		SearchFn: func(ctx context.Context, query string, limit int) ([]*store.BM25Result, error) {
			return []*store.BM25Result{{DocID: "chunk-1", Score: 5.0}}, nil
		},
	}
	vec := &MockVectorStore{
		SearchFn: func(ctx context.Context, query []float32, k int) ([]*store.VectorResult, error) {
			return []*store.VectorResult{{ID: "chunk-1", Score: 0.9}}, nil
		},
	}
	embedder := &MockEmbedder{
		EmbedFn: func(ctx context.Context, text string) ([]float32, error) {
			return make([]float32, 768), nil
		},
	}

	engine := New(bm25, vec, embedder, metadata, DefaultConfig())
	results, err := engine.Search(context.Background(), "main function", SearchOptions{Limit: 10})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Chunk.ID != "chunk-1" {
		t.Errorf("expected chunk-1, got %s", results[0].Chunk.ID)
	}
	if !results[0].InBothLists {
		t.Error("expected result to be marked as appearing in both lists")
	}
}

func TestEngine_Index_DelegatesToBM25AndVector(t *testing.T) {
	var indexedDocs []*store.Document
	var addedIDs []string

	bm25 := &MockBM25Index{
		IndexFn: func(ctx context.Context, docs []*store.Document) error {
			indexedDocs = docs
			return nil
		},
	}
	vec := &MockVectorStore{
		AddFn: func(ctx context.Context, ids []string, vectors [][]float32) error {
			addedIDs = ids
			return nil
		},
	}
	embedder := &MockEmbedder{
		EmbedBatchFn: func(ctx context.Context, texts []string) ([][]float32, error) {
			out := make([][]float32, len(texts))
			for i := range texts {
				out[i] = make([]float32, 768)
			}
			return out, nil
		},
	}
	metadata := NewMockMetadataStore()

	engine := New(bm25, vec, embedder, metadata, DefaultConfig())
	chunks := []*store.Chunk{
		{ID: "c1", FilePath: "a.go", Content: "func a() {}", ContentType: store.ContentTypeCode},
		{ID: "c2", FilePath: "b.go", Content: "func b() {}", ContentType: store.ContentTypeCode},
	}

	if err := engine.Index(context.Background(), chunks); err != nil {
		t.Fatalf("index failed: %v", err)
	}
	if len(indexedDocs) != 2 {
		t.Errorf("expected 2 documents indexed into bm25, got %d", len(indexedDocs))
	}
	if len(addedIDs) != 2 {
		t.Errorf("expected 2 vectors added, got %d", len(addedIDs))
	}
}
