// Package cache defines the entry model and tier contract for the asset cache.
package cache

import (
	"context"
	"errors"
	"time"
)

// Kind records how an entry's resolved URL was produced.
type Kind string

const (
	// KindOriginal means the source asset was directly reachable and is
	// served as-is.
	KindOriginal Kind = "original"
	// KindResized means the resolved URL points at a processed derivative.
	KindResized Kind = "resized"
	// KindFallback means resolution failed and the source URL is served as
	// a degraded substitute.
	KindFallback Kind = "fallback"
)

// Entry is an immutable resolution result. A re-resolution writes a new
// entry that overwrites the old one in every tier.
type Entry struct {
	Key         string    `json:"key"`
	SourceURL   string    `json:"source_url"`
	ResolvedURL string    `json:"resolved_url"`
	Kind        Kind      `json:"kind"`
	CreatedAt   time.Time `json:"created_at"`
}

// ErrUnavailable marks a tier whose backing storage cannot currently be
// read or written. The tiered store treats it as a miss for that tier.
var ErrUnavailable = errors.New("cache tier unavailable")

// Tier is one level of the cache hierarchy. Implementations are safe for
// concurrent use and evict oldest-insertion-first; reads never promote.
type Tier interface {
	Name() string
	Get(ctx context.Context, key string) (Entry, bool, error)
	Put(ctx context.Context, e Entry) error
	Del(ctx context.Context, keys ...string) error
	// Evict enforces the tier's capacity (and, where supported, age) limits.
	Evict(ctx context.Context, now time.Time) error
	Clear(ctx context.Context) error
}
