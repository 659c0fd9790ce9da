package scanner

import (
	"io/fs"
	"path/filepath"
)

// bytesPerLine approximates average source line length for LOC estimation.
const bytesPerLine = 40

// excludedEstimateDirs are skipped when estimating corpus size; they would
// otherwise dominate the byte count without representing indexable content.
var excludedEstimateDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	".codesearch":  true,
}

// EstimateLOC walks root and returns an approximate line count, used to pick
// HNSW build parameters before the full scan/chunk pipeline has run. It is
// intentionally coarse: a byte-count proxy, not an actual line count.
func EstimateLOC(root string) (int, error) {
	var totalBytes int64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // best-effort estimate, skip unreadable entries
		}
		if d.IsDir() {
			if excludedEstimateDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if info, infoErr := d.Info(); infoErr == nil {
			totalBytes += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int(totalBytes / bytesPerLine), nil
}
