package repo

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/odvcencio/reftree/pkg/object"
)

// CommitSigner signs canonical commit payload bytes and returns an encoded
// signature string to be persisted in CommitObj.Signature.
type CommitSigner func(payload []byte) (string, error)

// CommitOptions describes the commit CommitTree writes.
type CommitOptions struct {
	Message string
	Author  string // "Name <email>"
	Now     func() time.Time
	Signer  CommitSigner
}

// CommitTree records tree as a new commit on ref whose only parent is
// parent, then moves ref from parent to the new commit.
//
//  1. Normalize an absent tree to the stored empty tree
//  2. Create CommitObj with tree hash, parent, author, timestamp, message
//  3. Sign it when a signer is configured
//  4. Write commit to store
//  5. Compare-and-swap ref from parent to the new commit
//
// An empty parent creates a root commit and requires ref to be absent. If
// ref no longer points at parent, the commit object is left unreferenced and
// ErrConflict is returned.
func (r *Repo) CommitTree(ref string, tree, parent object.Hash, opts CommitOptions) (object.Hash, error) {
	treeHash, err := r.TreeRoot(tree)
	if err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}

	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	commitObj := &object.CommitObj{
		TreeHash:  treeHash,
		Author:    opts.Author,
		Timestamp: now().Unix(),
		Message:   opts.Message,
	}
	if parent != "" {
		commitObj.Parents = []object.Hash{parent}
	}
	if opts.Signer != nil {
		signature, err := opts.Signer(signedBytes(commitObj))
		if err != nil {
			return "", fmt.Errorf("commit: sign commit: %w", err)
		}
		commitObj.Signature = signature
	}

	commitHash, err := r.Store.WriteCommit(commitObj)
	if err != nil {
		return "", fmt.Errorf("commit: write commit: %w", err)
	}

	reason := "commit: " + firstLine(opts.Message)
	err = r.UpdateRefWithReason(ref, commitHash, reason, parent)
	switch {
	case err == nil, errors.Is(err, ErrRefUpdatedButReflogAppendFailed):
		return commitHash, nil
	case errors.Is(err, ErrRefCASMismatch):
		return "", &PathError{Phase: PhaseRebind, Path: FullRefName(ref), Kind: ErrConflict, Cause: err}
	default:
		return "", fmt.Errorf("commit: update ref %q: %w", ref, err)
	}
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}

// Log walks the commit history starting from the given hash, following
// first-parent links, returning up to limit commits newest first. The walk
// ends early at the first commit missing from the store, which is where a
// shallow mirror's history stops.
func (r *Repo) Log(start object.Hash, limit int) ([]*object.CommitObj, error) {
	var commits []*object.CommitObj
	current := start

	for current != "" && len(commits) < limit {
		c, err := r.Store.ReadCommit(current)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				break
			}
			return nil, fmt.Errorf("log: read commit %s: %w", current, err)
		}
		commits = append(commits, c)

		if len(c.Parents) == 0 {
			break
		}
		current = c.Parents[0]
	}

	return commits, nil
}
