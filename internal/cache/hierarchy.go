package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/dthorne/ratchet/internal/metrics"
)

// Hierarchy is the read-through/write-through cache over two tiers: the
// process-local LocalCache and a distributed Remote. The third tier (the
// persistent origin store) is never written by this layer; on a full miss
// the caller consults the origin directly and calls Set with what it
// found.
//
// Losing the distributed tier is a performance degradation, not a
// correctness failure: every tier-2 error is swallowed into logs and
// metrics and the hierarchy keeps serving from tier 1 alone.
type Hierarchy struct {
	local  *LocalCache
	remote Remote // nil when the distributed tier is disabled

	// localTTL caps tier-1 entry lifetime so the local tier never
	// outlives the distributed one.
	localTTL  time.Duration
	log       *slog.Logger
	collector *metrics.Collector
}

// NewHierarchy builds the tiered cache. remote may be nil to run
// local-only; collector may be nil to disable metrics.
func NewHierarchy(remote Remote, localTTL time.Duration, log *slog.Logger, collector *metrics.Collector) *Hierarchy {
	if log == nil {
		log = slog.Default()
	}
	return &Hierarchy{
		local:     NewLocalCache(),
		remote:    remote,
		localTTL:  localTTL,
		log:       log,
		collector: collector,
	}
}

// Get checks tier 1, then tier 2. A tier-2 hit backfills tier 1 before
// returning. On a full miss (or an unreachable tier 2) it returns
// (nil, false) and the caller is responsible for computing the value and
// calling Set.
func (h *Hierarchy) Get(ctx context.Context, key string) (any, bool) {
	if data, ok := h.local.Get(key); ok {
		h.hit("local")
		return Decode(data), true
	}

	if h.remote != nil {
		data, ok, err := h.remote.Get(ctx, key)
		if err != nil {
			h.log.Warn("distributed cache tier unreachable, serving local-only",
				"key", key, "error", err)
		} else if ok {
			h.hit("remote")
			h.local.Set(key, data, h.localTTL)
			return Decode(data), true
		}
	}

	h.miss()
	return nil, false
}

// Set writes through to both tiers. The tier-1 TTL is capped by the
// configured local TTL so it is never longer than tier 2's. A ttl of zero
// caches indefinitely until explicit invalidation. Tier-2 write failures
// are logged and swallowed.
func (h *Hierarchy) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := Encode(value)
	if err != nil {
		return err
	}

	h.local.Set(key, data, h.effectiveLocalTTL(ttl))

	if h.remote != nil {
		if err := h.remote.Set(ctx, key, data, ttl); err != nil {
			h.log.Warn("distributed cache write failed, entry is local-only",
				"key", key, "error", err)
		}
	}
	return nil
}

// Delete invalidates a single key in both tiers.
func (h *Hierarchy) Delete(ctx context.Context, key string) {
	h.local.Delete(key)

	if h.remote != nil {
		if err := h.remote.Delete(ctx, key); err != nil {
			h.log.Warn("distributed cache delete failed", "key", key, "error", err)
		}
	}
}

// FlushPattern deletes every tier-2 key matching the glob pattern and
// clears tier 1 entirely, since local entries are not pattern-addressable.
// The flush is eventually consistent with concurrent writers, not an
// atomic snapshot.
func (h *Hierarchy) FlushPattern(ctx context.Context, pattern string) int {
	h.local.Flush()

	if h.remote == nil {
		return 0
	}
	deleted, err := h.remote.FlushPattern(ctx, pattern)
	if err != nil {
		h.log.Warn("distributed cache pattern flush incomplete",
			"pattern", pattern, "deleted", deleted, "error", err)
	}
	return deleted
}

// effectiveLocalTTL keeps tier-1 expiry at or below tier-2's.
func (h *Hierarchy) effectiveLocalTTL(ttl time.Duration) time.Duration {
	if h.localTTL <= 0 {
		return ttl
	}
	if ttl <= 0 || ttl > h.localTTL {
		return h.localTTL
	}
	return ttl
}

func (h *Hierarchy) hit(tier string) {
	if h.collector != nil {
		h.collector.CacheHit(tier)
	}
}

func (h *Hierarchy) miss() {
	if h.collector != nil {
		h.collector.CacheMiss()
	}
}
