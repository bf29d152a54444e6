package repo

import (
	"errors"
	"fmt"
	"os"

	"github.com/odvcencio/reftree/pkg/object"
)

// ResolveTip returns the commit the ref points at. A missing ref, or a ref
// whose commit is not in the store, is ErrNotFound.
func (r *Repo) ResolveTip(ref string) (object.Hash, *object.CommitObj, error) {
	h, err := r.ResolveRef(ref)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil, &PathError{Phase: PhaseResolve, Path: ref, Kind: ErrNotFound}
		}
		return "", nil, err
	}
	c, err := r.Store.ReadCommit(h)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil, &PathError{Phase: PhaseResolve, Path: ref, Kind: ErrNotFound, Cause: err}
		}
		return "", nil, fmt.Errorf("resolve tip %q: %w", ref, err)
	}
	return h, c, nil
}

// readTree loads a tree level. The empty hash stands for an absent tree and
// reads as a tree with no entries, as does the canonical empty tree even
// when it was never written locally.
func (r *Repo) readTree(h object.Hash) (*object.TreeObj, error) {
	if h == "" {
		return &object.TreeObj{}, nil
	}
	if h == object.EmptyTreeHash() && !r.Store.Has(h) {
		return &object.TreeObj{}, nil
	}
	tr, err := r.Store.ReadTree(h)
	if err != nil {
		return nil, fmt.Errorf("read tree %s: %w", h, err)
	}
	return tr, nil
}

// ReadTree loads the tree at h; see readTree for the empty-hash case.
func (r *Repo) ReadTree(h object.Hash) (*object.TreeObj, error) {
	return r.readTree(h)
}

// WalkDir resolves every segment but the last to a directory, descending one
// entry at a time from root. It returns the hash and contents of the parent
// directory of the final segment.
func (r *Repo) WalkDir(root object.Hash, segments []string) (object.Hash, *object.TreeObj, error) {
	if len(segments) == 0 {
		return "", nil, &PathError{Phase: PhaseWalk, Kind: ErrInvalidPath}
	}
	current := root
	tr, err := r.readTree(current)
	if err != nil {
		return "", nil, err
	}
	for i, name := range segments[:len(segments)-1] {
		entry, idx := tr.Find(name)
		if idx < 0 {
			return "", nil, pathErr(PhaseWalk, segments[:i+1], ErrNotFound)
		}
		if !entry.IsDir {
			return "", nil, pathErr(PhaseWalk, segments[:i+1], ErrNotADirectory)
		}
		current = entry.SubtreeHash
		if tr, err = r.readTree(current); err != nil {
			return "", nil, err
		}
	}
	return current, tr, nil
}

// LookupFile resolves a full path to a file entry.
func (r *Repo) LookupFile(root object.Hash, segments []string) (object.TreeEntry, error) {
	entry, err := r.LookupEntry(root, segments)
	if err != nil {
		return object.TreeEntry{}, err
	}
	if entry.IsDir {
		return object.TreeEntry{}, pathErr(PhaseLookup, segments, ErrIsADirectory)
	}
	return entry, nil
}

// LookupEntry resolves a full path to an entry of either kind.
func (r *Repo) LookupEntry(root object.Hash, segments []string) (object.TreeEntry, error) {
	_, parent, err := r.WalkDir(root, segments)
	if err != nil {
		return object.TreeEntry{}, err
	}
	entry, idx := parent.Find(segments[len(segments)-1])
	if idx < 0 {
		return object.TreeEntry{}, pathErr(PhaseLookup, segments, ErrNotFound)
	}
	return entry, nil
}
