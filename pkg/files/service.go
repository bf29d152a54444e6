// Package files exposes a path-addressed file tree on a remote ref. Reads
// come from the session's shallow mirror; every write records one new
// version on top of the local tip and publishes it.
package files

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.brendoncarroll.net/stdctx/logctx"

	"github.com/odvcencio/reftree/pkg/object"
	"github.com/odvcencio/reftree/pkg/repo"
	"github.com/odvcencio/reftree/pkg/session"
)

// ErrNoFiles is returned by WriteFiles for an empty batch.
var ErrNoFiles = errors.New("no files to write")

// Service runs file operations against one session.
type Service struct {
	s *session.Session
}

// New returns a Service backed by s. Several services may share a session;
// writes are serialized by the session's lock.
func New(s *session.Session) *Service {
	return &Service{s: s}
}

// Session is the session the service runs on.
func (f *Service) Session() *session.Session { return f.s }

// Result describes the version a write produced.
type Result struct {
	Ref    string      `json:"ref"`
	Commit object.Hash `json:"commit"`
	Pushed bool        `json:"pushed"`
}

// WriteOptions controls Write.
type WriteOptions struct {
	Message       string
	FailIfExists  bool
	FailIfMissing bool
	// Mode is the mode recorded for the file. The zero value, KeepMode,
	// leaves an existing file's mode alone; use Regular to clear the
	// executable bit.
	Mode Mode
	// Base64 means the content is standard base64 and is decoded first.
	Base64 bool
}

// FileUpdate is one file of a WriteFiles batch.
type FileUpdate struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Base64  bool   `json:"b64,omitempty"`
	Mode    Mode   `json:"mode,omitempty"`
}

// RenameOptions controls Rename.
type RenameOptions struct {
	Message      string
	FailIfExists bool
}

// Info describes one entry.
type Info struct {
	Path       string      `json:"path"`
	IsDir      bool        `json:"is_dir"`
	Executable bool        `json:"executable"`
	Mode       string      `json:"mode"`
	Hash       object.Hash `json:"hash"`
}

// Version is one entry of History.
type Version struct {
	Hash   object.Hash
	Commit *object.CommitObj
}

// root resolves the tree at the session's local tip.
func (f *Service) root() (object.Hash, object.Hash, error) {
	if err := f.s.Err(); err != nil {
		return "", "", err
	}
	tip, c, err := f.s.Repo().ResolveTip(f.s.Ref())
	if err != nil {
		return "", "", err
	}
	return tip, c.TreeHash, nil
}

// List returns the nested listing of the whole tree. It fails with
// repo.ErrNotFound when the ref does not exist yet.
func (f *Service) List(ctx context.Context) (Listing, error) {
	_, root, err := f.root()
	if err != nil {
		return nil, err
	}
	return BuildListing(f.s.Repo(), root)
}

// ReadBytes returns the raw content of the file at path.
func (f *Service) ReadBytes(ctx context.Context, path string) ([]byte, error) {
	segments, err := repo.SplitPath(path)
	if err != nil {
		return nil, err
	}
	_, root, err := f.root()
	if err != nil {
		return nil, err
	}
	r := f.s.Repo()
	entry, err := r.LookupFile(root, segments)
	if err != nil {
		return nil, err
	}
	blob, err := r.Store.ReadBlob(entry.BlobHash)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", repo.JoinPath(segments), err)
	}
	return blob.Data, nil
}

// Read returns the content of the file at path as text.
func (f *Service) Read(ctx context.Context, path string) (string, error) {
	data, err := f.ReadBytes(ctx, path)
	if err != nil {
		return "", err
	}
	return DecodeText(data), nil
}

// Stat describes the file or directory at path.
func (f *Service) Stat(ctx context.Context, path string) (Info, error) {
	segments, err := repo.SplitPath(path)
	if err != nil {
		return Info{}, err
	}
	_, root, err := f.root()
	if err != nil {
		return Info{}, err
	}
	entry, err := f.s.Repo().LookupEntry(root, segments)
	if err != nil {
		return Info{}, err
	}
	return Info{
		Path:       repo.JoinPath(segments),
		IsDir:      entry.IsDir,
		Executable: !entry.IsDir && object.IsExecutable(entry.Mode),
		Mode:       entry.Mode,
		Hash:       entry.Target(),
	}, nil
}

// History returns up to limit versions, newest first. Only the versions
// present in the mirror are listed; a freshly opened session knows its tip
// and the versions written since.
func (f *Service) History(ctx context.Context, limit int) ([]Version, error) {
	tip, _, err := f.root()
	if err != nil {
		return nil, err
	}
	commits, err := f.s.Repo().Log(tip, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Version, 0, len(commits))
	for _, c := range commits {
		h := object.HashObject(object.TypeCommit, object.MarshalCommit(c))
		out = append(out, Version{Hash: h, Commit: c})
	}
	return out, nil
}

// Reflog returns the recorded movements of the session's ref in this
// mirror, newest first: the initial fetch, every write and every refresh.
func (f *Service) Reflog(ctx context.Context, limit int) ([]repo.ReflogEntry, error) {
	if err := f.s.Err(); err != nil {
		return nil, err
	}
	return f.s.Repo().ReadReflog(f.s.Ref(), limit)
}

// Write stores content at path as one new version.
func (f *Service) Write(ctx context.Context, path, content string, opts WriteOptions) (Result, error) {
	segments, err := repo.SplitPath(path)
	if err != nil {
		return Result{}, err
	}
	data, err := decodeContent(path, content, opts.Base64)
	if err != nil {
		return Result{}, err
	}
	p := repo.JoinPath(segments)
	message := opts.Message
	if message == "" {
		message = "Update " + p
		if opts.FailIfExists {
			message = "Create " + p
		}
	}
	return f.mutate(ctx, message, func(r *repo.Repo, root object.Hash) (object.Hash, error) {
		return insertFile(r, root, segments, data, repo.InsertOp{
			Mode:          opts.Mode.treeMode(),
			FailIfExists:  opts.FailIfExists,
			FailIfMissing: opts.FailIfMissing,
		})
	})
}

// WriteFiles stores every update as one version. Either all files are
// written or none.
func (f *Service) WriteFiles(ctx context.Context, updates []FileUpdate, message string) (Result, error) {
	if len(updates) == 0 {
		return Result{}, ErrNoFiles
	}
	type pending struct {
		segments []string
		data     []byte
		mode     string
	}
	batch := make([]pending, 0, len(updates))
	for _, u := range updates {
		segments, err := repo.SplitPath(u.Path)
		if err != nil {
			return Result{}, err
		}
		data, err := decodeContent(u.Path, u.Content, u.Base64)
		if err != nil {
			return Result{}, err
		}
		batch = append(batch, pending{segments: segments, data: data, mode: u.Mode.treeMode()})
	}
	if message == "" {
		if len(batch) == 1 {
			message = "Update " + repo.JoinPath(batch[0].segments)
		} else {
			message = "Update " + strconv.Itoa(len(batch)) + " files"
		}
	}
	return f.mutate(ctx, message, func(r *repo.Repo, root object.Hash) (object.Hash, error) {
		var err error
		for _, p := range batch {
			root, err = insertFile(r, root, p.segments, p.data, repo.InsertOp{Mode: p.mode})
			if err != nil {
				return "", err
			}
		}
		return root, nil
	})
}

// Remove deletes the file at path. Directories left empty are removed too.
func (f *Service) Remove(ctx context.Context, path, message string) (Result, error) {
	segments, err := repo.SplitPath(path)
	if err != nil {
		return Result{}, err
	}
	if message == "" {
		message = "Delete " + repo.JoinPath(segments)
	}
	return f.mutate(ctx, message, func(r *repo.Repo, root object.Hash) (object.Hash, error) {
		return r.ApplyTree(root, segments, repo.DeleteOp{})
	})
}

// Rename moves the file at src to dst, keeping its content and mode.
func (f *Service) Rename(ctx context.Context, src, dst string, opts RenameOptions) (Result, error) {
	from, err := repo.SplitPath(src)
	if err != nil {
		return Result{}, err
	}
	to, err := repo.SplitPath(dst)
	if err != nil {
		return Result{}, err
	}
	message := opts.Message
	if message == "" {
		message = "Rename " + repo.JoinPath(from) + " -> " + repo.JoinPath(to)
	}
	return f.mutate(ctx, message, func(r *repo.Repo, root object.Hash) (object.Hash, error) {
		return r.RenameInTree(root, from, to, opts.FailIfExists)
	})
}

// mutate runs edit against the local tip under the session lock, records
// the result as a version and publishes it.
//
// An absent ref is edited as an empty tree and gets a root version. A push
// failure still returns the recorded version alongside the error.
func (f *Service) mutate(ctx context.Context, message string, edit func(r *repo.Repo, root object.Hash) (object.Hash, error)) (Result, error) {
	s := f.s
	s.Lock()
	defer s.Unlock()
	if err := s.Err(); err != nil {
		return Result{}, err
	}
	ctx = logctx.NewContext(ctx, s.Logger())
	r := s.Repo()

	parent, c, err := r.ResolveTip(s.Ref())
	var root object.Hash
	switch {
	case err == nil:
		root = c.TreeHash
	case errors.Is(err, repo.ErrNotFound):
		parent = ""
	default:
		return Result{}, err
	}

	newRoot, err := edit(r, root)
	if err != nil {
		return Result{}, err
	}
	commit, err := r.CommitTree(s.Ref(), newRoot, parent, s.CommitOptions(message))
	if err != nil {
		return Result{}, err
	}
	res := Result{Ref: s.Ref(), Commit: commit}
	logctx.Infof(ctx, "committed %s: %s", commit.Short(), message)

	if !s.PushOnWrite() {
		return res, nil
	}
	if err := s.Push(ctx); err != nil {
		return res, err
	}
	res.Pushed = true
	return res, nil
}

// insertFile writes data as a blob and places it at segments. An existing
// directory at the path is not replaced.
func insertFile(r *repo.Repo, root object.Hash, segments []string, data []byte, op repo.InsertOp) (object.Hash, error) {
	if entry, err := r.LookupEntry(root, segments); err == nil && entry.IsDir {
		return "", &repo.PathError{Phase: repo.PhaseInsert, Path: repo.JoinPath(segments), Kind: repo.ErrIsADirectory}
	}
	blob, err := r.Store.WriteBlob(&object.Blob{Data: data})
	if err != nil {
		return "", fmt.Errorf("write blob %s: %w", repo.JoinPath(segments), err)
	}
	op.Hash = blob
	return r.ApplyTree(root, segments, op)
}
