package repo

import (
	"os"
	"testing"

	"github.com/odvcencio/reftree/pkg/object"
)

func newTestRepo(t *testing.T) *Repo {
	t.Helper()
	r, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	return r
}

func assertFile(t *testing.T, path string) {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("expected file %s: %v", path, err)
	}
	if info.IsDir() {
		t.Fatalf("expected file, got directory: %s", path)
	}
}

func mustBlob(t *testing.T, r *Repo, content string) object.Hash {
	t.Helper()
	h, err := r.Store.WriteBlob(&object.Blob{Data: []byte(content)})
	if err != nil {
		t.Fatalf("WriteBlob: %v", err)
	}
	return h
}

func mustSplit(t *testing.T, p string) []string {
	t.Helper()
	segments, err := SplitPath(p)
	if err != nil {
		t.Fatalf("SplitPath(%q): %v", p, err)
	}
	return segments
}

// treeWith builds a tree holding the given path -> content files.
func treeWith(t *testing.T, r *Repo, files map[string]string) object.Hash {
	t.Helper()
	var root object.Hash
	for p, content := range files {
		var err error
		root, err = r.ApplyTree(root, mustSplit(t, p), InsertOp{Hash: mustBlob(t, r, content)})
		if err != nil {
			t.Fatalf("ApplyTree(%q): %v", p, err)
		}
	}
	root, err := r.TreeRoot(root)
	if err != nil {
		t.Fatalf("TreeRoot: %v", err)
	}
	return root
}

// flatten lists every file under root as path -> blob hash.
func flatten(t *testing.T, r *Repo, root object.Hash) map[string]object.Hash {
	t.Helper()
	out := make(map[string]object.Hash)
	var walk func(h object.Hash, prefix string)
	walk = func(h object.Hash, prefix string) {
		tr, err := r.ReadTree(h)
		if err != nil {
			t.Fatalf("ReadTree(%s): %v", h, err)
		}
		for _, e := range tr.Entries {
			p := e.Name
			if prefix != "" {
				p = prefix + "/" + e.Name
			}
			if e.IsDir {
				walk(e.SubtreeHash, p)
				continue
			}
			out[p] = e.BlobHash
		}
	}
	walk(root, "")
	return out
}
