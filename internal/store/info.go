package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// EmbedderInfoInput carries the currently configured embedder's identity,
// used by GetIndexInfo to detect a mismatch against what the index was built with.
type EmbedderInfoInput struct {
	Model      string
	Backend    string
	Dimensions int
}

// GetIndexInfo assembles a comprehensive snapshot of an index's configuration
// and statistics for the `codesearch index info` command.
func GetIndexInfo(ctx context.Context, metadata MetadataStore, dataDir string, current *EmbedderInfoInput) (*IndexInfo, error) {
	root := filepath.Dir(dataDir)
	projectID := hashProjectID(root)

	info := &IndexInfo{
		Location:    dataDir,
		ProjectRoot: root,
	}

	project, err := metadata.GetProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load project: %w", err)
	}
	if project != nil {
		info.ChunkCount = project.ChunkCount
		info.DocumentCount = project.FileCount
		info.CreatedAt = project.IndexedAt
		info.UpdatedAt = project.IndexedAt
	}

	dim, err := metadata.GetState(ctx, StateKeyIndexDimension)
	if err != nil {
		return nil, fmt.Errorf("failed to load index dimension: %w", err)
	}
	info.IndexModel, err = metadata.GetState(ctx, StateKeyIndexModel)
	if err != nil {
		return nil, fmt.Errorf("failed to load index model: %w", err)
	}
	if dim != "" {
		if _, err := fmt.Sscanf(dim, "%d", &info.IndexDimensions); err != nil {
			return nil, fmt.Errorf("failed to parse stored index dimension %q: %w", dim, err)
		}
	}
	if info.IndexModel != "" {
		info.IndexBackend = inferBackendFromModel(info.IndexModel)
	}

	info.BM25SizeBytes = getDirSize(filepath.Join(dataDir, "bm25"))
	if info.BM25SizeBytes == 0 {
		info.BM25SizeBytes = fileSize(filepath.Join(dataDir, "bm25.db"))
	}
	info.VectorSizeBytes = fileSize(filepath.Join(dataDir, "vectors.hnsw"))
	info.IndexSizeBytes = info.BM25SizeBytes + info.VectorSizeBytes + fileSize(filepath.Join(dataDir, "metadata.db"))

	if current != nil {
		info.CurrentModel = current.Model
		info.CurrentBackend = current.Backend
		info.CurrentDimensions = current.Dimensions
		info.Compatible = info.IndexModel == "" || info.IndexDimensions == current.Dimensions
	}

	return info, nil
}

// hashProjectID mirrors internal/index.hashString: SHA256(root), first 16 hex chars.
func hashProjectID(root string) string {
	h := sha256.Sum256([]byte(root))
	return hex.EncodeToString(h[:])[:16]
}

// FormatBytes renders a byte count as a human-readable string (B/KB/MB/GB).
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	units := []string{"KB", "MB", "GB", "TB"}
	return fmt.Sprintf("%.1f %s", float64(bytes)/float64(div), units[exp])
}

// FormatTime renders a timestamp as "YYYY-MM-DD HH:MM:SS", or "unknown" for the zero value.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.Format("2006-01-02 15:04:05")
}

// containsAny reports whether s contains any of substrings.
func containsAny(s string, substrings []string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// inferBackendFromModel guesses which embedder backend produced a model
// name when no backend was recorded alongside it (legacy indexes).
func inferBackendFromModel(model string) string {
	switch {
	case model == "static" || model == "static768":
		return "static"
	case strings.HasPrefix(model, "/"):
		return "mlx"
	case containsAny(model, []string{"mlx-community/", "mlx-"}):
		return "mlx"
	default:
		return "ollama"
	}
}

// getDirSize returns the total size in bytes of all regular files under
// dir, recursively. Returns 0 if dir does not exist.
func getDirSize(dir string) int64 {
	var total int64
	_ = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil //nolint:nilerr // best-effort size, skip unreadable entries
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total
}

// fileSize returns the size of a single file, or 0 if it doesn't exist.
func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
