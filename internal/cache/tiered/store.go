// Package tiered composes the cache tiers into one store with ordered
// probing, upward backfill and failure isolation.
package tiered

import (
	"context"
	"log/slog"
	"time"

	"github.com/watchstore/gallerycache/internal/cache"
	"github.com/watchstore/gallerycache/internal/core/observability"
)

const backfillTimeout = 5 * time.Second

// Store probes its tiers fastest-first and treats every tier failure as a
// miss for that tier only. Its job is performance, not durability:
// correctness holds with every tier broken, the caller just pays the
// resolver again.
type Store struct {
	logger *slog.Logger
	// fastest first: memory, durable-sync, durable-async
	tiers []cache.Tier
	now   func() time.Time // for tests
}

func New(logger *slog.Logger, tiers ...cache.Tier) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{logger: logger, tiers: tiers, now: time.Now}
}

// Get probes tiers in latency order and stops at the first hit. A hit below
// the fastest tier backfills every faster tier: synchronously for the
// durable-sync tier, on a detached goroutine for the durable-async tier.
func (s *Store) Get(ctx context.Context, key string) (cache.Entry, bool) {
	for i, t := range s.tiers {
		e, ok, err := t.Get(ctx, key)
		if err != nil {
			observability.IncTierError(t.Name(), "get")
			s.logger.Debug("tier get failed, probing next", "tier", t.Name(), "key", key, "err", err)
			continue
		}
		if !ok {
			observability.IncCacheMiss(t.Name())
			continue
		}
		observability.IncCacheHit(t.Name())
		if i > 0 {
			faster := s.tiers[:i]
			if s.isAsync(i) {
				go s.backfill(faster, e)
			} else {
				s.backfillCtx(ctx, faster, e)
			}
		}
		return e, true
	}
	return cache.Entry{}, false
}

// the last tier is the durable-async one
func (s *Store) isAsync(i int) bool { return i == len(s.tiers)-1 && len(s.tiers) > 1 }

func (s *Store) backfill(tiers []cache.Tier, e cache.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), backfillTimeout)
	defer cancel()
	s.backfillCtx(ctx, tiers, e)
}

func (s *Store) backfillCtx(ctx context.Context, tiers []cache.Tier, e cache.Entry) {
	for _, t := range tiers {
		if err := t.Put(ctx, e); err != nil {
			observability.IncTierError(t.Name(), "backfill")
			s.logger.Debug("tier backfill failed", "tier", t.Name(), "key", e.Key, "err", err)
		}
	}
}

// Put writes through to every tier unconditionally. A failing tier never
// blocks the others. Eviction runs opportunistically afterwards.
func (s *Store) Put(ctx context.Context, e cache.Entry) {
	for _, t := range s.tiers {
		if err := t.Put(ctx, e); err != nil {
			observability.IncTierError(t.Name(), "put")
			s.logger.Debug("tier put failed", "tier", t.Name(), "key", e.Key, "err", err)
		}
	}
	s.EvictIfOverCapacity(ctx)
}

func (s *Store) Del(ctx context.Context, keys ...string) {
	for _, t := range s.tiers {
		if err := t.Del(ctx, keys...); err != nil {
			observability.IncTierError(t.Name(), "del")
			s.logger.Debug("tier del failed", "tier", t.Name(), "keys", len(keys), "err", err)
		}
	}
}

func (s *Store) EvictIfOverCapacity(ctx context.Context) {
	now := s.now()
	for _, t := range s.tiers {
		if err := t.Evict(ctx, now); err != nil {
			observability.IncTierError(t.Name(), "evict")
			s.logger.Debug("tier evict failed", "tier", t.Name(), "err", err)
		}
	}
}

func (s *Store) Clear(ctx context.Context) {
	for _, t := range s.tiers {
		if err := t.Clear(ctx); err != nil {
			observability.IncTierError(t.Name(), "clear")
			s.logger.Warn("tier clear failed", "tier", t.Name(), "err", err)
		}
	}
}

// RunJanitor enforces capacity and TTL limits on a fixed interval until ctx
// is done. Complements the opportunistic sweep after each Put.
func (s *Store) RunJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.EvictIfOverCapacity(ctx)
		}
	}
}
