// Package session owns a shallow local mirror of one branch of a remote
// repository, and publishes the versions written into it.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"go.brendoncarroll.net/stdctx/logctx"
	"go.uber.org/zap"

	"github.com/odvcencio/reftree/pkg/object"
	"github.com/odvcencio/reftree/pkg/remote"
	"github.com/odvcencio/reftree/pkg/repo"
)

var (
	// ErrRemoteUnavailable marks a fetch that failed on the network or on
	// authentication.
	ErrRemoteUnavailable = errors.New("remote unavailable")
	// ErrPushRejected marks a publish the origin refused or never received.
	ErrPushRejected = errors.New("push rejected")
	// ErrClosed is returned by a session after Close.
	ErrClosed = errors.New("session closed")
)

// Session is one (origin, ref, credential) mirror.
//
// Reads need no locking. Writers hold Lock for the whole
// resolve, mutate, commit and push sequence.
type Session struct {
	opts   Options
	log    *zap.Logger
	repo   *repo.Repo
	client *remote.Client
	signer repo.CommitSigner

	remoteRef   string
	trackingRef string

	write sync.Mutex

	mu        sync.Mutex
	published object.Hash
	closed    bool
}

// Open creates a private mirror under a temporary directory and fetches the
// tip of opts.Ref into it. A ref absent on the origin leaves the mirror
// empty; the first write then creates it.
func Open(ctx context.Context, opts Options) (*Session, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	var signer repo.CommitSigner
	if opts.SigningKeyPath != "" {
		var err error
		if signer, err = repo.NewSSHCommitSigner(opts.SigningKeyPath); err != nil {
			return nil, fmt.Errorf("session: %w", err)
		}
	}

	client, err := remote.NewClientWithOptions(opts.URI, remote.ClientOptions{
		Timeout:     opts.Timeout,
		MaxAttempts: opts.MaxAttempts,
		Credential:  opts.Credential,
	})
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	dir, err := os.MkdirTemp(opts.TempDir, "reftree-mirror-*")
	if err != nil {
		return nil, fmt.Errorf("session: create mirror dir: %w", err)
	}
	r, err := repo.Init(dir)
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("session: %w", err)
	}

	s := &Session{
		opts:        opts,
		log:         opts.Logger.With(zap.String("remote", client.Endpoint().Redacted()), zap.String("ref", opts.Ref)),
		repo:        r,
		client:      client,
		signer:      signer,
		remoteRef:   remoteRefName(opts.Ref),
		trackingRef: trackingRefName(opts.Ref),
	}
	if err := r.SetRemote("origin", client.Endpoint().Redacted()); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("session: %w", err)
	}
	if err := r.SetTrackedRef(opts.Ref); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("session: %w", err)
	}

	ctx = s.withLogger(ctx)
	tip, err := s.fetchTip(ctx, nil)
	if err != nil {
		os.RemoveAll(dir)
		return nil, err
	}
	if tip != "" {
		if err := s.bind(tip, "fetch", false); err != nil {
			os.RemoveAll(dir)
			return nil, err
		}
		logctx.Infof(ctx, "opened mirror at %s", tip.Short())
	} else {
		logctx.Infof(ctx, "opened empty mirror: %s absent on origin", s.remoteRef)
	}
	s.published = tip
	return s, nil
}

func (s *Session) withLogger(ctx context.Context) context.Context {
	return logctx.NewContext(ctx, s.log)
}

// fetchTip fetches the origin's tip of the tracked ref and returns it, or ""
// when the origin has no such ref.
func (s *Session) fetchTip(ctx context.Context, haves []object.Hash) (object.Hash, error) {
	refs, err := s.client.ListRefs(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: list refs: %w", ErrRemoteUnavailable, err)
	}
	tip, ok := refs[s.remoteRef]
	if !ok {
		return "", nil
	}
	n, err := remote.FetchIntoStore(ctx, s.client, s.repo.Store, []object.Hash{tip}, haves)
	if err != nil {
		return "", fmt.Errorf("%w: fetch %s: %w", ErrRemoteUnavailable, tip.Short(), err)
	}
	logctx.Infof(ctx, "fetched %d objects for %s", n, tip.Short())
	return tip, nil
}

// bind points the tracking ref at tip, and the local ref too when it is
// absent or force is set.
func (s *Session) bind(tip object.Hash, reason string, force bool) error {
	if err := s.repo.UpdateRefWithReason(s.trackingRef, tip, reason); err != nil && !errors.Is(err, repo.ErrRefUpdatedButReflogAppendFailed) {
		return fmt.Errorf("session: update %s: %w", s.trackingRef, err)
	}
	if !force && s.repo.HasRef(s.opts.Ref) {
		return nil
	}
	if err := s.repo.UpdateRefWithReason(s.opts.Ref, tip, reason); err != nil && !errors.Is(err, repo.ErrRefUpdatedButReflogAppendFailed) {
		return fmt.Errorf("session: update %s: %w", s.opts.Ref, err)
	}
	return nil
}

// Push publishes the local tip to the origin's ref. It sends the objects
// reachable from the local tip that the last published tip does not reach,
// then moves the remote ref by compare-and-swap from the last published tip.
//
// On failure the local ref keeps its value; a later Push retries from the
// same published tip, and Refresh discards the unpublished versions.
func (s *Session) Push(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	ctx = s.withLogger(ctx)

	tip, err := s.repo.ResolveRef(s.opts.Ref)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("session: push: %w", err)
	}
	published := s.Published()
	if tip == published {
		return nil
	}

	var stop []object.Hash
	if published != "" {
		stop = []object.Hash{published}
	}
	objs, err := remote.CollectObjectsForPush(s.repo.Store, []object.Hash{tip}, stop)
	if err != nil {
		return fmt.Errorf("session: push: %w", err)
	}
	if err := s.client.PushObjects(ctx, objs); err != nil {
		logctx.Warnf(ctx, "push of %d objects failed: %v", len(objs), err)
		return fmt.Errorf("%w: upload objects: %w", ErrPushRejected, err)
	}

	update := remote.RefUpdate{Name: s.remoteRef, New: tip}
	if published != "" {
		old := published
		update.Old = &old
	}
	if _, err := s.client.UpdateRefs(ctx, []remote.RefUpdate{update}); err != nil {
		logctx.Warnf(ctx, "origin refused %s -> %s: %v", published.Short(), tip.Short(), err)
		return fmt.Errorf("%w: update %s: %w", ErrPushRejected, s.remoteRef, err)
	}

	s.mu.Lock()
	s.published = tip
	s.mu.Unlock()
	if err := s.repo.UpdateRefWithReason(s.trackingRef, tip, "push"); err != nil && !errors.Is(err, repo.ErrRefUpdatedButReflogAppendFailed) {
		return fmt.Errorf("session: update %s: %w", s.trackingRef, err)
	}
	logctx.Infof(ctx, "pushed %s (%d objects)", tip.Short(), len(objs))
	return nil
}

// Refresh re-fetches the origin's tip and rebinds the local ref to it,
// dropping any versions that were never published.
func (s *Session) Refresh(ctx context.Context) error {
	s.Lock()
	defer s.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	ctx = s.withLogger(ctx)

	var haves []object.Hash
	if published := s.Published(); published != "" {
		haves = append(haves, published)
	}
	tip, err := s.fetchTip(ctx, haves)
	if err != nil {
		return err
	}
	if tip == "" {
		if err := s.repo.DeleteRef(s.opts.Ref); err != nil {
			return fmt.Errorf("session: refresh: %w", err)
		}
		if err := s.repo.DeleteRef(s.trackingRef); err != nil {
			return fmt.Errorf("session: refresh: %w", err)
		}
	} else if err := s.bind(tip, "refresh", true); err != nil {
		return err
	}

	s.mu.Lock()
	s.published = tip
	s.mu.Unlock()
	logctx.Infof(ctx, "refreshed to %s", tip.Short())
	return nil
}

// Lock serializes writers on this session.
func (s *Session) Lock() { s.write.Lock() }

// Unlock releases the write lock.
func (s *Session) Unlock() { s.write.Unlock() }

// Close waits for an in-flight writer and removes the mirror. It is safe to
// call more than once.
func (s *Session) Close() error {
	s.Lock()
	defer s.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.log.Info("closing mirror", zap.String("dir", s.repo.Dir))
	if err := os.RemoveAll(s.repo.Dir); err != nil {
		return fmt.Errorf("session: remove mirror: %w", err)
	}
	return nil
}

func (s *Session) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Repo is the local mirror. It must not be used after Close.
func (s *Session) Repo() *repo.Repo { return s.repo }

// Ref is the full name of the tracked local ref.
func (s *Session) Ref() string { return s.opts.Ref }

// TrackingRef is the remote-tracking ref holding the last known origin tip.
func (s *Session) TrackingRef() string { return s.trackingRef }

// Published is the last tip known to be on the origin, or "" when the
// origin has no such ref.
func (s *Session) Published() object.Hash {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.published
}

// CommitOptions returns the authorship and signing settings for a commit
// carrying message.
func (s *Session) CommitOptions(message string) repo.CommitOptions {
	return repo.CommitOptions{
		Message: message,
		Author:  s.opts.Author(),
		Now:     s.opts.Now,
		Signer:  s.signer,
	}
}

// PushOnWrite reports whether writers should push after every commit.
func (s *Session) PushOnWrite() bool { return !s.opts.SkipPush }

// Logger is the session's logger.
func (s *Session) Logger() *zap.Logger { return s.log }

// Err reports ErrClosed once the session is closed.
func (s *Session) Err() error { return s.checkOpen() }
