// Package repo implements a bare object mirror: named refs over a
// content-addressed store, plus path-addressed edits of the trees the refs
// point at.
package repo

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/odvcencio/reftree/pkg/object"
)

// Repo is a bare mirror. Dir holds objects/, refs/ and logs/ directly; there
// is no working tree.
type Repo struct {
	Dir   string
	Store *object.Store
}

// Init creates a new bare mirror at dir. It fails if dir already holds one.
func Init(dir string) (*Repo, error) {
	if _, err := os.Stat(filepath.Join(dir, "objects")); err == nil {
		return nil, fmt.Errorf("init: repository already exists at %s", dir)
	}

	dirs := []string{
		filepath.Join(dir, "objects"),
		filepath.Join(dir, "refs", "heads"),
		filepath.Join(dir, "refs", "remotes"),
		filepath.Join(dir, "logs", "refs"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("init: mkdir %s: %w", d, err)
		}
	}

	return &Repo{
		Dir:   dir,
		Store: object.NewStore(dir),
	}, nil
}

// Open opens an existing bare mirror at dir.
func Open(dir string) (*Repo, error) {
	info, err := os.Stat(filepath.Join(dir, "objects"))
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("open: not a repository: %s", dir)
	}
	return &Repo{
		Dir:   dir,
		Store: object.NewStore(dir),
	}, nil
}
