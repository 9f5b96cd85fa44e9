package pipeline

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"texengine/executor"
	"texengine/model"

	"github.com/google/uuid"
)

// OutputStore keeps rendered pages after the working area is gone. Each run
// gets its own directory under root; only the newest keep runs survive.
type OutputStore struct {
	root string
	keep int
	mu   sync.Mutex
}

func NewOutputStore(root string, keep int) (*OutputStore, error) {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	return &OutputStore{root: root, keep: keep}, nil
}

// Root is the directory run folders are created in.
func (s *OutputStore) Root() string {
	return s.root
}

// Save copies pages, already in page order, into a directory named after
// runID and returns their new locations.
func (s *OutputStore) Save(runID string, pages []string) ([]model.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := filepath.Base(runID)
	if runID == "" || name != runID || name == "." || name == ".." {
		name = uuid.NewString()
	}
	dst := filepath.Join(s.root, name)
	if err := os.RemoveAll(dst); err != nil {
		return nil, fmt.Errorf("clear run directory: %w", err)
	}
	if err := os.MkdirAll(dst, 0o700); err != nil {
		return nil, fmt.Errorf("create run directory: %w", err)
	}

	out := make([]model.Page, 0, len(pages))
	for i, src := range pages {
		target := filepath.Join(dst, fmt.Sprintf("%s-%d%s", executor.PagePrefix, i+1, filepath.Ext(src)))
		if err := copyFile(src, target); err != nil {
			os.RemoveAll(dst)
			return nil, fmt.Errorf("copy page %d: %w", i+1, err)
		}
		out = append(out, model.Page{Index: i + 1, Path: target})
	}

	s.prune(name)
	return out, nil
}

// prune removes the oldest run directories beyond the retention limit,
// never the one just written.
func (s *OutputStore) prune(current string) {
	if s.keep <= 0 {
		return
	}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return
	}

	type run struct {
		name string
		mod  int64
	}
	var runs []run
	for _, e := range entries {
		if !e.IsDir() || e.Name() == current {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		runs = append(runs, run{name: e.Name(), mod: info.ModTime().UnixNano()})
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].mod > runs[j].mod })

	for i := s.keep - 1; i < len(runs); i++ {
		os.RemoveAll(filepath.Join(s.root, runs[i].name))
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
