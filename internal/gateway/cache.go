// Package gateway composes the per-service read models into the public
// HTTP API. No business logic lives here.
package gateway

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/propsignal/backend/internal/infra"
	"github.com/propsignal/backend/internal/metrics"
)

// ResponseCache caches composed JSON responses behind a short TTL, keyed
// by a canonicalized request fingerprint.
type ResponseCache struct {
	kv      infra.KV
	ttl     time.Duration
	metrics *metrics.Metrics
}

func NewResponseCache(kv infra.KV, ttl time.Duration, m *metrics.Metrics) *ResponseCache {
	return &ResponseCache{kv: kv, ttl: ttl, metrics: m}
}

// Fingerprint canonicalizes path + sorted query into a stable cache key.
func Fingerprint(path string, query url.Values) string {
	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(path)
	for _, k := range keys {
		vals := append([]string(nil), query[k]...)
		sort.Strings(vals)
		for _, v := range vals {
			b.WriteByte('&')
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(v)
		}
	}
	sum := sha1.Sum([]byte(b.String()))
	return "resp:" + hex.EncodeToString(sum[:])
}

// Get returns the cached body, or nil on miss. Cache errors read as
// misses.
func (c *ResponseCache) Get(ctx context.Context, key string) []byte {
	if c == nil {
		return nil
	}
	body, err := c.kv.Get(ctx, key)
	hit := err == nil && body != nil
	if c.metrics != nil {
		result := "miss"
		if hit {
			result = "hit"
		}
		c.metrics.ResponseCache.WithLabelValues(result).Inc()
	}
	if !hit {
		return nil
	}
	return body
}

// Put stores the body for the TTL; failures only cost a recompute.
func (c *ResponseCache) Put(ctx context.Context, key string, body []byte) {
	if c == nil {
		return
	}
	_ = c.kv.Set(ctx, key, body, c.ttl)
}
