// Package infra provides concrete infrastructure adapters. Services
// consume the minimal KV and PubSub interfaces; main wires either the
// go-redis adapter or the in-memory fallback.
package infra

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrKeyNotFound is returned by Get for absent or expired keys.
var ErrKeyNotFound = errors.New("key not found")

// KV is the key/value surface used for debounce gates and response
// caching.
type KV interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Del(ctx context.Context, keys ...string) error
	// SetNX sets the key only if absent. Returns true when the key was
	// acquired.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
}

// PubSub is the message transport surface used by the Redis-backed bus.
type PubSub interface {
	Publish(ctx context.Context, channel string, message []byte) error
	// Subscribe registers a callback for messages on a channel and
	// returns an unsubscribe function.
	Subscribe(ctx context.Context, channel string, handler func([]byte)) (unsubscribe func(), err error)
}

// MemoryKV is a process-local KV with TTL support. It backs single-pod
// deployments and tests; the clock is injectable so debounce windows can
// be tested deterministically.
type MemoryKV struct {
	mu    sync.Mutex
	items map[string]memoryItem
	now   func() time.Time
}

type memoryItem struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

// NewMemoryKV creates an in-memory KV using the wall clock.
func NewMemoryKV() *MemoryKV {
	return NewMemoryKVWithClock(time.Now)
}

// NewMemoryKVWithClock creates an in-memory KV with a custom clock.
func NewMemoryKVWithClock(now func() time.Time) *MemoryKV {
	return &MemoryKV{items: make(map[string]memoryItem), now: now}
}

func (m *MemoryKV) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = m.newItem(value, ttl)
	return nil
}

func (m *MemoryKV) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[key]
	if !ok || m.expired(item) {
		delete(m.items, key)
		return nil, ErrKeyNotFound
	}
	out := make([]byte, len(item.value))
	copy(out, item.value)
	return out, nil
}

func (m *MemoryKV) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.items, k)
	}
	return nil
}

func (m *MemoryKV) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if item, ok := m.items[key]; ok && !m.expired(item) {
		return false, nil
	}
	m.items[key] = m.newItem(value, ttl)
	return true, nil
}

func (m *MemoryKV) newItem(value []byte, ttl time.Duration) memoryItem {
	item := memoryItem{value: append([]byte(nil), value...)}
	if ttl > 0 {
		item.expiresAt = m.now().Add(ttl)
	}
	return item
}

func (m *MemoryKV) expired(item memoryItem) bool {
	return !item.expiresAt.IsZero() && m.now().After(item.expiresAt)
}

var _ KV = (*MemoryKV)(nil)
