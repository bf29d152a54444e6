package repo

import (
	"fmt"

	"github.com/odvcencio/reftree/pkg/object"
)

// TreeOp is an edit applied at the last segment of a path.
type TreeOp interface {
	phase() string
}

// InsertOp places Hash at the path, creating missing directories.
//
// An empty Mode keeps the mode of the file being replaced, or is a regular
// file when there is none. FailIfExists and FailIfMissing are checked
// against the final segment only.
type InsertOp struct {
	Hash          object.Hash
	IsDir         bool
	Mode          string
	FailIfExists  bool
	FailIfMissing bool
}

// DeleteOp removes the file at the path. Directories emptied by the removal
// are removed from their parents as well.
type DeleteOp struct{}

func (InsertOp) phase() string { return PhaseInsert }
func (DeleteOp) phase() string { return PhaseDelete }

func (op InsertOp) entry(name string, existing object.TreeEntry, exists bool) object.TreeEntry {
	if op.IsDir {
		return object.TreeEntry{Name: name, IsDir: true, Mode: object.TreeModeDir, SubtreeHash: op.Hash}
	}
	mode := op.Mode
	if mode == "" && exists && !existing.IsDir {
		mode = existing.Mode
	}
	return object.TreeEntry{Name: name, Mode: object.NormalizeFileMode(mode), BlobHash: op.Hash}
}

// ApplyTree applies op at segments under root and returns the new root.
//
// An empty root is an absent tree. The returned hash is empty only when a
// delete removed the last entry of the whole tree. Only the directories on
// the path are rewritten; every other subtree keeps its hash.
func (r *Repo) ApplyTree(root object.Hash, segments []string, op TreeOp) (object.Hash, error) {
	if len(segments) == 0 {
		return "", &PathError{Phase: op.phase(), Kind: ErrInvalidPath}
	}
	return r.applyLevel(root, segments, 0, op)
}

func (r *Repo) applyLevel(base object.Hash, segments []string, depth int, op TreeOp) (object.Hash, error) {
	_, deleting := op.(DeleteOp)
	here := segments[:depth+1]
	if base == "" && deleting {
		return "", pathErr(PhaseDelete, here, ErrNotFound)
	}

	tr, err := r.readTree(base)
	if err != nil {
		return "", err
	}
	name := segments[depth]
	existing, idx := tr.Find(name)
	entries := make([]object.TreeEntry, len(tr.Entries))
	copy(entries, tr.Entries)

	if depth == len(segments)-1 {
		switch o := op.(type) {
		case InsertOp:
			if idx >= 0 && o.FailIfExists {
				return "", pathErr(PhaseInsert, here, ErrConflict)
			}
			if idx < 0 && o.FailIfMissing {
				return "", pathErr(PhaseInsert, here, ErrNotFound)
			}
			entries = upsertEntry(entries, idx, o.entry(name, existing, idx >= 0))
		case DeleteOp:
			if idx < 0 {
				return "", pathErr(PhaseDelete, here, ErrNotFound)
			}
			if existing.IsDir {
				return "", pathErr(PhaseDelete, here, ErrIsADirectory)
			}
			entries = removeEntry(entries, idx)
		default:
			return "", fmt.Errorf("apply tree: unsupported op %T", op)
		}
	} else {
		var child object.Hash
		switch {
		case idx >= 0 && !existing.IsDir:
			return "", pathErr(op.phase(), here, ErrNotADirectory)
		case idx >= 0:
			child = existing.SubtreeHash
		case deleting:
			return "", pathErr(PhaseDelete, here, ErrNotFound)
		}

		newChild, err := r.applyLevel(child, segments, depth+1, op)
		if err != nil {
			return "", err
		}
		if newChild == "" {
			entries = removeEntry(entries, idx)
		} else {
			entries = upsertEntry(entries, idx, object.TreeEntry{
				Name:        name,
				IsDir:       true,
				Mode:        object.TreeModeDir,
				SubtreeHash: newChild,
			})
		}
	}

	if deleting && len(entries) == 0 {
		return "", nil
	}
	h, err := r.Store.WriteTree(&object.TreeObj{Entries: entries})
	if err != nil {
		return "", fmt.Errorf("write tree %q: %w", JoinPath(segments[:depth]), err)
	}
	return h, nil
}

func upsertEntry(entries []object.TreeEntry, idx int, e object.TreeEntry) []object.TreeEntry {
	if idx >= 0 {
		entries[idx] = e
		return entries
	}
	return append(entries, e)
}

func removeEntry(entries []object.TreeEntry, idx int) []object.TreeEntry {
	if idx < 0 {
		return entries
	}
	return append(entries[:idx], entries[idx+1:]...)
}

// RenameInTree moves the file at src to dst, keeping its content hash and
// mode. The destination checks run against the tree with the source already
// removed. Directories can be neither renamed nor replaced.
func (r *Repo) RenameInTree(root object.Hash, src, dst []string, failIfExists bool) (object.Hash, error) {
	entry, err := r.LookupFile(root, src)
	if err != nil {
		return "", err
	}
	afterDelete, err := r.ApplyTree(root, src, DeleteOp{})
	if err != nil {
		return "", err
	}
	if target, err := r.LookupEntry(afterDelete, dst); err == nil && target.IsDir {
		return "", pathErr(PhaseInsert, dst, ErrIsADirectory)
	}
	return r.ApplyTree(afterDelete, dst, InsertOp{
		Hash:         entry.BlobHash,
		Mode:         object.NormalizeFileMode(entry.Mode),
		FailIfExists: failIfExists,
	})
}

// TreeRoot returns h, or the stored empty tree when h is empty, so the
// result can always be referenced from a commit.
func (r *Repo) TreeRoot(h object.Hash) (object.Hash, error) {
	if h != "" {
		return h, nil
	}
	empty, err := r.Store.WriteTree(&object.TreeObj{})
	if err != nil {
		return "", fmt.Errorf("write empty tree: %w", err)
	}
	return empty, nil
}
