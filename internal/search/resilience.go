package search

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codesearch-engine/codesearch/internal/merkle"
	"github.com/codesearch-engine/codesearch/internal/store"
)

// HealthStatus classifies a component or overall system health.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// ComponentHealth is the result of a single component's health probe.
type ComponentHealth struct {
	Status    HealthStatus `json:"status"`
	Message   string       `json:"message,omitempty"`
	LatencyMS int64        `json:"latency_ms,omitempty"`
}

// HealthReport aggregates the BM25, vector, and Merkle-snapshot component
// checks into one overall status.
type HealthReport struct {
	Overall HealthStatus    `json:"overall"`
	BM25    ComponentHealth `json:"bm25"`
	Vector  ComponentHealth `json:"vector"`
	Merkle  ComponentHealth `json:"merkle"`
}

// HealthCheck runs the BM25, vector, and Merkle-snapshot component checks in
// parallel and aggregates them: both search backends down is unhealthy, one
// backend down or a missing snapshot is degraded, otherwise healthy.
func (e *Engine) HealthCheck(ctx context.Context, merkleSnapshotPath string) *HealthReport {
	var bm25Health, vecHealth, merkleHealth ComponentHealth

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		bm25Health = e.checkBM25Health(ctx)
	}()
	go func() {
		defer wg.Done()
		vecHealth = e.checkVectorHealth(ctx)
	}()
	go func() {
		defer wg.Done()
		merkleHealth = checkMerkleHealth(merkleSnapshotPath)
	}()
	wg.Wait()

	backendsDown := 0
	if bm25Health.Status == HealthUnhealthy {
		backendsDown++
	}
	if vecHealth.Status == HealthUnhealthy {
		backendsDown++
	}

	overall := HealthHealthy
	switch {
	case backendsDown >= 2:
		overall = HealthUnhealthy
	case backendsDown == 1 || merkleHealth.Status != HealthHealthy:
		overall = HealthDegraded
	}

	return &HealthReport{
		Overall: overall,
		BM25:    bm25Health,
		Vector:  vecHealth,
		Merkle:  merkleHealth,
	}
}

// checkBM25Health probes the text index with a throwaway query, per §4.11's
// "search(\"test\", 1) succeeds within a time budget".
func (e *Engine) checkBM25Health(ctx context.Context) ComponentHealth {
	start := time.Now()
	_, err := e.bm25.Search(ctx, "test", 1)
	latency := time.Since(start)
	if err != nil {
		return ComponentHealth{Status: HealthUnhealthy, Message: err.Error(), LatencyMS: latency.Milliseconds()}
	}
	return ComponentHealth{Status: HealthHealthy, LatencyMS: latency.Milliseconds()}
}

// checkVectorHealth probes the vector store with a zero-vector query. A plain
// Count() can't surface a down backend (it has no error return), so a Search
// probe is used instead to actually detect a stopped backend.
func (e *Engine) checkVectorHealth(ctx context.Context) ComponentHealth {
	start := time.Now()
	probe := make([]float32, e.embedder.Dimensions())
	_, err := e.vector.Search(ctx, probe, 1)
	latency := time.Since(start)
	if err != nil {
		return ComponentHealth{Status: HealthUnhealthy, Message: err.Error(), LatencyMS: latency.Milliseconds()}
	}
	return ComponentHealth{Status: HealthHealthy, LatencyMS: latency.Milliseconds()}
}

// checkMerkleHealth reports whether the change-detection snapshot exists and
// can be read back.
func checkMerkleHealth(snapshotPath string) ComponentHealth {
	if snapshotPath == "" {
		return ComponentHealth{Status: HealthDegraded, Message: "snapshot path not configured"}
	}
	tree, err := merkle.LoadSnapshot(snapshotPath)
	if err != nil {
		return ComponentHealth{Status: HealthDegraded, Message: err.Error()}
	}
	if tree == nil {
		return ComponentHealth{Status: HealthDegraded, Message: "snapshot missing"}
	}
	return ComponentHealth{Status: HealthHealthy}
}

// ResilientSearcher wraps a SearchEngine with a three-tier fallback chain:
// full hybrid, then BM25-only, then vector-only. fallback_mode records
// whether the most recent call needed a fallback tier; it resets to false
// the moment hybrid search succeeds again, so recovery is automatic.
type ResilientSearcher struct {
	engine       SearchEngine
	fallbackMode atomic.Bool
}

// NewResilientSearcher wraps engine with fallback behavior.
func NewResilientSearcher(engine SearchEngine) *ResilientSearcher {
	return &ResilientSearcher{engine: engine}
}

var _ SearchEngine = (*ResilientSearcher)(nil)

// FallbackMode reports whether the most recent Search call used a degraded
// (BM25-only or vector-only) tier instead of full hybrid search.
func (r *ResilientSearcher) FallbackMode() bool {
	return r.fallbackMode.Load()
}

// Search attempts full hybrid search, then BM25-only, then vector-only,
// returning the first tier that succeeds. All three failing surfaces the
// original hybrid error joined with both fallback errors.
func (r *ResilientSearcher) Search(ctx context.Context, query string, opts SearchOptions) ([]*SearchResult, error) {
	results, err := r.engine.Search(ctx, query, opts)
	if err == nil {
		r.fallbackMode.Store(false)
		return results, nil
	}

	bm25Opts := opts
	bm25Opts.BM25Only = true
	results, bm25Err := r.engine.Search(ctx, query, bm25Opts)
	if bm25Err == nil {
		r.fallbackMode.Store(true)
		return results, nil
	}

	results, vecErr := r.engine.GetSimilarCode(ctx, query, opts.Limit)
	if vecErr == nil {
		r.fallbackMode.Store(true)
		return results, nil
	}

	return nil, fmt.Errorf("hybrid search failed: %w (bm25-only fallback: %v, vector-only fallback: %v)", err, bm25Err, vecErr)
}

func (r *ResilientSearcher) GetSimilarCode(ctx context.Context, query string, limit int) ([]*SearchResult, error) {
	return r.engine.GetSimilarCode(ctx, query, limit)
}

func (r *ResilientSearcher) Index(ctx context.Context, chunks []*store.Chunk) error {
	return r.engine.Index(ctx, chunks)
}

func (r *ResilientSearcher) Delete(ctx context.Context, chunkIDs []string) error {
	return r.engine.Delete(ctx, chunkIDs)
}

func (r *ResilientSearcher) Stats() *EngineStats {
	return r.engine.Stats()
}

func (r *ResilientSearcher) Close() error {
	return r.engine.Close()
}

// HealthCheck delegates to the underlying engine's health probes, when
// available.
func (r *ResilientSearcher) HealthCheck(ctx context.Context, merkleSnapshotPath string) *HealthReport {
	if hc, ok := r.engine.(interface {
		HealthCheck(context.Context, string) *HealthReport
	}); ok {
		return hc.HealthCheck(ctx, merkleSnapshotPath)
	}
	return &HealthReport{Overall: HealthDegraded, Merkle: checkMerkleHealth(merkleSnapshotPath)}
}
