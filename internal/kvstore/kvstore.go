// Package kvstore is the expiring key/value cache shared by the host. Entries
// carry their own deadline and are evicted lazily on access or when the
// bounded LRU fills up. Keys under a pinned prefix live outside the LRU and
// leave only when they expire or are deleted.
package kvstore

import (
	"context"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultSize = 10000

// Store is the contract consumed by the component registry and plugins.
type Store interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}

type entry struct {
	value    []byte
	deadline time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.deadline.IsZero() && !now.Before(e.deadline)
}

// Memory is an in-process Store backed by an LRU.
type Memory struct {
	mu       sync.Mutex
	cache    *lru.Cache[string, entry]
	pinned   map[string]entry
	prefixes []string
	now      func() time.Time
}

// Option customises a Memory store.
type Option func(*Memory)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(m *Memory) {
		if now != nil {
			m.now = now
		}
	}
}

// WithPinnedPrefix keeps keys starting with prefix out of the LRU so cache
// pressure from other keys cannot evict them. Their owner must delete them
// or give them a ttl.
func WithPinnedPrefix(prefix string) Option {
	return func(m *Memory) {
		if prefix != "" {
			m.prefixes = append(m.prefixes, prefix)
		}
	}
}

// NewMemory creates a store holding at most size unpinned entries.
func NewMemory(size int, opts ...Option) (*Memory, error) {
	if size <= 0 {
		size = defaultSize
	}
	cache, err := lru.New[string, entry](size)
	if err != nil {
		return nil, err
	}
	m := &Memory{cache: cache, pinned: make(map[string]entry), now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Set stores value under key. A ttl <= 0 keeps the entry until evicted.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.deadline = m.now().Add(ttl)
	}
	m.mu.Lock()
	if m.isPinned(key) {
		m.pinned[key] = e
	} else {
		m.cache.Add(key, e)
	}
	m.mu.Unlock()
	return nil
}

func (m *Memory) isPinned(key string) bool {
	for _, prefix := range m.prefixes {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

// Get returns the value for key if present and not expired.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pinned := m.isPinned(key)
	var (
		e  entry
		ok bool
	)
	if pinned {
		e, ok = m.pinned[key]
	} else {
		e, ok = m.cache.Get(key)
	}
	if !ok {
		return nil, false, nil
	}
	if e.expired(m.now()) {
		if pinned {
			delete(m.pinned, key)
		} else {
			m.cache.Remove(key)
		}
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

// Exists reports whether key is present and not expired.
func (m *Memory) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := m.Get(ctx, key)
	return ok, err
}

// Delete removes key.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.pinned, key)
	m.cache.Remove(key)
	m.mu.Unlock()
	return nil
}

// Len returns the number of cached entries, expired ones included.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cache.Len() + len(m.pinned)
}
