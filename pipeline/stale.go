package pipeline

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// RemoveStaleAreas deletes working areas under workDir last modified before
// olderThan ago, which only a crashed or killed run leaves behind. It returns
// the names it removed.
func RemoveStaleAreas(workDir string, olderThan time.Duration) ([]string, error) {
	entries, err := os.ReadDir(workDir)
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-olderThan)
	var removed []string
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), WorkAreaPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(workDir, e.Name())); err != nil {
			return removed, err
		}
		removed = append(removed, e.Name())
	}
	return removed, nil
}
