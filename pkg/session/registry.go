package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/zeebo/xxh3"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const DefaultMaxSessions = 16

// ErrRegistryClosed is returned by Get after Close.
var ErrRegistryClosed = errors.New("session registry closed")

// Key identifies a session by origin, ref and credential. The credential
// only enters the key through its hash.
type Key = xxh3.Uint128

// KeyFor returns the registry key for opts.
func KeyFor(opts Options) Key {
	o := opts.withDefaults()
	return xxh3.HashString128(o.URI + "\x00" + o.Ref + "\x00" + o.Credential)
}

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	// MaxSessions bounds the number of open sessions. The least recently
	// used session is closed to make room.
	MaxSessions int
	// OnEvict runs after an evicted session has been closed.
	OnEvict func(Key, *Session)
	Logger  *zap.Logger
	// Open creates sessions on a miss; Open from this package when nil.
	Open func(context.Context, Options) (*Session, error)
}

// Registry hands out one session per key, creating it on first use.
// Concurrent first uses of a key share a single Open.
type Registry struct {
	opts  RegistryOptions
	log   *zap.Logger
	group singleflight.Group

	mu     sync.Mutex
	cache  *lru.Cache[Key, *Session]
	closed bool
}

// NewRegistry creates an empty registry.
func NewRegistry(opts RegistryOptions) (*Registry, error) {
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = DefaultMaxSessions
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Open == nil {
		opts.Open = Open
	}
	reg := &Registry{opts: opts, log: opts.Logger}
	cache, err := lru.NewWithEvict(opts.MaxSessions, reg.onEvict)
	if err != nil {
		return nil, fmt.Errorf("session registry: %w", err)
	}
	reg.cache = cache
	return reg, nil
}

// Get returns the session for opts, opening it on a miss. Options other
// than URI, Ref and Credential are taken from the call that opened it.
func (reg *Registry) Get(ctx context.Context, opts Options) (*Session, error) {
	key := KeyFor(opts)
	if s, ok := reg.lookup(key); ok {
		return s, nil
	}
	if err := reg.checkOpen(); err != nil {
		return nil, err
	}

	v, err, _ := reg.group.Do(keyString(key), func() (any, error) {
		if s, ok := reg.lookup(key); ok {
			return s, nil
		}
		s, err := reg.opts.Open(ctx, opts)
		if err != nil {
			return nil, err
		}
		reg.mu.Lock()
		closed := reg.closed
		reg.mu.Unlock()
		if closed {
			_ = s.Close()
			return nil, ErrRegistryClosed
		}
		reg.cache.Add(key, s)
		reg.log.Info("session opened", zap.String("key", keyString(key)), zap.Int("sessions", reg.cache.Len()))
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

func (reg *Registry) lookup(key Key) (*Session, bool) {
	s, ok := reg.cache.Get(key)
	if !ok {
		return nil, false
	}
	if s.Err() != nil {
		reg.cache.Remove(key)
		return nil, false
	}
	return s, true
}

// Evict closes and forgets the session for opts, if any.
func (reg *Registry) Evict(opts Options) bool {
	return reg.cache.Remove(KeyFor(opts))
}

// Len is the number of cached sessions.
func (reg *Registry) Len() int {
	return reg.cache.Len()
}

// Close closes every cached session. Later calls to Get fail.
func (reg *Registry) Close() error {
	reg.mu.Lock()
	reg.closed = true
	reg.mu.Unlock()
	reg.cache.Purge()
	return nil
}

func (reg *Registry) checkOpen() error {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if reg.closed {
		return ErrRegistryClosed
	}
	return nil
}

func (reg *Registry) onEvict(key Key, s *Session) {
	if err := s.Close(); err != nil {
		reg.log.Error("closing evicted session", zap.String("key", keyString(key)), zap.Error(err))
	}
	reg.log.Info("session evicted", zap.String("key", keyString(key)))
	if reg.opts.OnEvict != nil {
		reg.opts.OnEvict(key, s)
	}
}

func keyString(k Key) string {
	return fmt.Sprintf("%016x%016x", k.Hi, k.Lo)
}
