package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/watchstore/gallerycache/internal/cache"
	"github.com/watchstore/gallerycache/internal/cache/keys"
	"github.com/watchstore/gallerycache/internal/cache/tiered"
	"github.com/watchstore/gallerycache/internal/core/observability"
)

// Coalescer guarantees at most one in-flight resolution per cache key.
// Concurrent callers for the same key share a single outcome; every failure
// path still yields a usable fallback entry with the failure reason
// attached.
type Coalescer struct {
	logger *slog.Logger
	store  *tiered.Store
	remote Remote
	flight singleflight.Group

	// resolveTimeout bounds the flight itself; waitBound bounds a caller
	// suspended on someone else's flight, after which it resolves
	// independently.
	resolveTimeout time.Duration
	waitBound      time.Duration

	now func() time.Time // for tests
}

type outcome struct {
	entry cache.Entry
	err   error
}

func NewCoalescer(logger *slog.Logger, store *tiered.Store, remote Remote, resolveTimeout, waitBound time.Duration) *Coalescer {
	if logger == nil {
		logger = slog.Default()
	}
	if resolveTimeout <= 0 {
		resolveTimeout = 30 * time.Second
	}
	if waitBound <= 0 {
		waitBound = 45 * time.Second
	}
	return &Coalescer{
		logger:         logger,
		store:          store,
		remote:         remote,
		resolveTimeout: resolveTimeout,
		waitBound:      waitBound,
		now:            time.Now,
	}
}

// Resolve returns a renderable entry for sourceURL. The returned error is
// advisory: when non-nil alongside a fallback entry it names why resolution
// degraded, and the entry is still usable. ErrInvalidSource is the one error
// returned without an entry.
func (c *Coalescer) Resolve(ctx context.Context, sourceURL string) (cache.Entry, error) {
	if sourceURL == "" {
		return cache.Entry{}, fmt.Errorf("%w: empty", ErrInvalidSource)
	}
	key := keys.Key(sourceURL)

	if e, ok := c.store.Get(ctx, key); ok {
		return e, nil
	}

	ch := c.flight.DoChan(key, func() (any, error) {
		return c.resolveMiss(key, sourceURL), nil
	})

	select {
	case res := <-ch:
		if res.Shared {
			observability.IncCoalesced()
		}
		out := res.Val.(outcome)
		return out.entry, out.err
	case <-time.After(c.waitBound):
		// Someone else's flight is taking too long; stop waiting on it and
		// resolve independently. Its late result still lands in the cache.
		c.flight.Forget(key)
		c.logger.Warn("wait bound exceeded, resolving independently", "key", key)
		out := c.resolveMiss(key, sourceURL)
		return out.entry, out.err
	case <-ctx.Done():
		return cache.Entry{}, ctx.Err()
	}
}

// resolveMiss runs detached from any caller context so an abandoned flight
// still completes and its result is written through for future lookups.
func (c *Coalescer) resolveMiss(key, sourceURL string) outcome {
	ctx, cancel := context.WithTimeout(context.Background(), c.resolveTimeout)
	defer cancel()

	// A flight that lost the race to a just-finished one answers from the
	// store instead of going upstream again.
	if e, ok := c.store.Get(ctx, key); ok {
		return outcome{entry: e}
	}

	resolvedURL, kind, err := c.remote.Resolve(ctx, key, sourceURL)
	if err != nil {
		if errors.Is(err, ErrInvalidSource) {
			// Programmer error: surface immediately, cache nothing.
			observability.IncResolution("invalid_source")
			return outcome{err: err}
		}
		// Degrade gracefully: serve the original URL directly and cache the
		// fallback so repeated failures stay off the network.
		e := cache.Entry{
			Key:         key,
			SourceURL:   sourceURL,
			ResolvedURL: sourceURL,
			Kind:        cache.KindFallback,
			CreatedAt:   c.now().UTC(),
		}
		c.store.Put(ctx, e)
		observability.IncResolution("fallback")
		c.logger.Warn("resolution degraded to fallback", "key", key, "err", err)
		return outcome{entry: e, err: err}
	}

	e := cache.Entry{
		Key:         key,
		SourceURL:   sourceURL,
		ResolvedURL: resolvedURL,
		Kind:        kind,
		CreatedAt:   c.now().UTC(),
	}
	c.store.Put(ctx, e)
	observability.IncResolution(string(kind))
	return outcome{entry: e}
}
