// Package debounce implements the per-key time-gate used to coalesce
// repeated events for the same entity. The gate uses the KV store as a
// keyed lock with TTL = window: the first event for a key acquires the
// key and passes; later events within the window are dropped unless a
// bypass condition holds.
package debounce

import (
	"context"
	"time"

	"github.com/propsignal/backend/internal/infra"
)

// Gate is a keyed time-gate backed by the shared KV store, so the window
// holds across pods when Redis backs the KV.
type Gate struct {
	kv     infra.KV
	prefix string
	window time.Duration
}

// New creates a gate. prefix namespaces keys per subscriber, e.g.
// "debounce:rent:".
func New(kv infra.KV, prefix string, window time.Duration) *Gate {
	return &Gate{kv: kv, prefix: prefix, window: window}
}

// Window returns the configured window.
func (g *Gate) Window() time.Duration { return g.window }

// Allow reports whether the key may be processed now. The first call for
// a key acquires the gate for the window; subsequent calls within the
// window return false. KV errors fail open: losing a debounce only costs
// duplicate work, which downstream idempotency absorbs.
func (g *Gate) Allow(ctx context.Context, key string) bool {
	ok, err := g.kv.SetNX(ctx, g.prefix+key, []byte(time.Now().UTC().Format(time.RFC3339)), g.window)
	if err != nil {
		return true
	}
	return ok
}

// Reset releases the gate for a key, letting the next event through
// immediately. Used by bypass paths so the bypassed event still refreshes
// the window.
func (g *Gate) Reset(ctx context.Context, key string) {
	_ = g.kv.Del(ctx, g.prefix+key)
}
