// Package redistier is the durable-sync cache tier backed by Redis.
package redistier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/watchstore/gallerycache/internal/cache"
	"github.com/watchstore/gallerycache/internal/cache/redisstore"
	"github.com/watchstore/gallerycache/internal/core/observability"
)

const (
	keyPrefix = "asset:"
	indexSet  = "asset:index"
)

// Tier stores entries as JSON under asset:{key} with a sorted-set index
// scored by insertion time. Redis has no per-key expiry here; capacity
// enforcement is this tier's responsibility and age-based expiry belongs to
// the durable-async tier.
type Tier struct {
	cli      *redisstore.Client
	capacity int
}

func New(cli *redisstore.Client, capacity int) *Tier {
	return &Tier{cli: cli, capacity: capacity}
}

func (t *Tier) Name() string { return "durable_sync" }

func (t *Tier) Get(ctx context.Context, key string) (cache.Entry, bool, error) {
	raw, ok, err := t.cli.Get(ctx, keyPrefix+key)
	if err != nil {
		return cache.Entry{}, false, fmt.Errorf("%w: %w", cache.ErrUnavailable, err)
	}
	if !ok {
		return cache.Entry{}, false, nil
	}
	var e cache.Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		// A corrupt record is indistinguishable from an unavailable slot.
		return cache.Entry{}, false, fmt.Errorf("%w: decode %q: %w", cache.ErrUnavailable, key, err)
	}
	return e, true, nil
}

// Put writes the value and its index entry in one pipeline; a half-written
// entry would be invisible to eviction and Clear, which both walk the index.
func (t *Tier) Put(ctx context.Context, e cache.Entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode %q: %w", e.Key, err)
	}
	score := float64(e.CreatedAt.UTC().UnixMilli())
	if err := t.cli.SetIndexed(ctx, keyPrefix+e.Key, raw, indexSet, score, e.Key); err != nil {
		return fmt.Errorf("%w: %w", cache.ErrUnavailable, err)
	}
	return nil
}

func (t *Tier) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = keyPrefix + k
	}
	if err := t.cli.Del(ctx, prefixed...); err != nil {
		return fmt.Errorf("%w: %w", cache.ErrUnavailable, err)
	}
	if err := t.cli.ZRem(ctx, indexSet, keys...); err != nil {
		return fmt.Errorf("%w: %w", cache.ErrUnavailable, err)
	}
	return nil
}

// Evict trims oldest-insertion-first until the tier is back under capacity.
func (t *Tier) Evict(ctx context.Context, _ time.Time) error {
	if t.capacity <= 0 {
		return nil
	}
	n, err := t.cli.ZCard(ctx, indexSet)
	if err != nil {
		return fmt.Errorf("%w: %w", cache.ErrUnavailable, err)
	}
	over := n - int64(t.capacity)
	if over <= 0 {
		return nil
	}
	oldest, err := t.cli.ZOldest(ctx, indexSet, over)
	if err != nil {
		return fmt.Errorf("%w: %w", cache.ErrUnavailable, err)
	}
	if err := t.Del(ctx, oldest...); err != nil {
		return err
	}
	observability.AddEvictions(t.Name(), "capacity", len(oldest))
	return nil
}

func (t *Tier) Clear(ctx context.Context) error {
	for {
		batch, err := t.cli.ZOldest(ctx, indexSet, 256)
		if err != nil {
			return fmt.Errorf("%w: %w", cache.ErrUnavailable, err)
		}
		if len(batch) == 0 {
			return nil
		}
		if err := t.Del(ctx, batch...); err != nil {
			return err
		}
	}
}
