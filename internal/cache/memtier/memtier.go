// Package memtier is the in-memory cache tier.
package memtier

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/watchstore/gallerycache/internal/cache"
)

// Tier keeps the hottest entries in process memory. It is insertion-ordered:
// reads go through Peek and never refresh recency, so the LRU's eviction
// order degenerates to oldest-insertion-first.
type Tier struct {
	entries *lru.Cache[string, cache.Entry]
}

func New(capacity int) (*Tier, error) {
	c, err := lru.New[string, cache.Entry](capacity)
	if err != nil {
		return nil, err
	}
	return &Tier{entries: c}, nil
}

func (t *Tier) Name() string { return "memory" }

func (t *Tier) Get(_ context.Context, key string) (cache.Entry, bool, error) {
	e, ok := t.entries.Peek(key)
	return e, ok, nil
}

func (t *Tier) Put(_ context.Context, e cache.Entry) error {
	t.entries.Add(e.Key, e)
	return nil
}

func (t *Tier) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		t.entries.Remove(k)
	}
	return nil
}

// Evict is a no-op: the LRU enforces capacity on every Add.
func (t *Tier) Evict(_ context.Context, _ time.Time) error { return nil }

func (t *Tier) Clear(_ context.Context) error {
	t.entries.Purge()
	return nil
}

func (t *Tier) Len() int { return t.entries.Len() }
