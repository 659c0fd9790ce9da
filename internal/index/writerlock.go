package index

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	amerrors "github.com/codesearch-engine/codesearch/internal/errors"
)

// WriterLock guarantees that at most one indexing pass holds exclusive
// write access to a project's data directory at a time. The text index's
// writer is single-threaded per codebase; this lock is how the coordinator
// enforces that outside of the process boundary, not just within it.
//
// Each holder is tagged with a random token so a lock file left behind by a
// crashed process can still be identified in diagnostics (doctor, health
// checks) even though gofrs/flock itself reclaims the OS-level lock once
// the holding process exits.
type WriterLock struct {
	path  string
	fl    *flock.Flock
	token string
}

// NewWriterLock creates a writer lock rooted at <dataDir>/.writer.lock.
func NewWriterLock(dataDir string) *WriterLock {
	path := filepath.Join(dataDir, ".writer.lock")
	return &WriterLock{
		path:  path,
		fl:    flock.New(path),
		token: uuid.NewString(),
	}
}

// TryAcquire attempts to take exclusive ownership of the lock without
// blocking. It returns a KindConflict error if another process (or pass)
// currently holds it.
func (w *WriterLock) TryAcquire() (func(), error) {
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return nil, fmt.Errorf("writer lock: create dir: %w", err)
	}

	ok, err := w.fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("writer lock: try acquire: %w", err)
	}
	if !ok {
		return nil, amerrors.ConflictErr(fmt.Sprintf("another indexing pass holds the writer lock at %s", w.path))
	}

	_ = os.WriteFile(w.path, []byte(w.token), 0o644)

	release := func() {
		_ = w.fl.Unlock()
	}
	return release, nil
}

// Token identifies this lock holder for diagnostics.
func (w *WriterLock) Token() string {
	return w.token
}
