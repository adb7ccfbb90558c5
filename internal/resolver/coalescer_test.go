package resolver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/watchstore/gallerycache/internal/cache"
	"github.com/watchstore/gallerycache/internal/cache/keys"
	"github.com/watchstore/gallerycache/internal/cache/memtier"
	"github.com/watchstore/gallerycache/internal/cache/tiered"
)

// blockingRemote counts invocations and holds callers until released.
type blockingRemote struct {
	calls   atomic.Int32
	release chan struct{}
	err     error
}

func (b *blockingRemote) Resolve(ctx context.Context, key, sourceURL string) (string, cache.Kind, error) {
	b.calls.Add(1)
	if b.release != nil {
		select {
		case <-b.release:
		case <-ctx.Done():
			return "", "", fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
		}
	}
	if b.err != nil {
		return "", "", b.err
	}
	return "https://resize.example.com/images/" + key + ".webp", cache.KindResized, nil
}

func newTestStore(t *testing.T) *tiered.Store {
	t.Helper()
	mem, err := memtier.New(64)
	if err != nil {
		t.Fatalf("memtier: %v", err)
	}
	return tiered.New(nil, mem)
}

func TestResolve_CacheHitSkipsRemote(t *testing.T) {
	store := newTestStore(t)
	remote := &blockingRemote{}
	c := NewCoalescer(nil, store, remote, time.Second, time.Second)
	ctx := context.Background()

	src := "https://cdn.example.com/products/a.jpg"
	e := cache.Entry{
		Key:         keys.Key(src),
		SourceURL:   src,
		ResolvedURL: "https://resize.example.com/images/a.webp",
		Kind:        cache.KindResized,
		CreatedAt:   time.Now().UTC(),
	}
	store.Put(ctx, e)

	got, err := c.Resolve(ctx, src)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.ResolvedURL != e.ResolvedURL {
		t.Fatalf("got %s, want cached %s", got.ResolvedURL, e.ResolvedURL)
	}
	if n := remote.calls.Load(); n != 0 {
		t.Fatalf("remote invoked %d times on a cache hit", n)
	}
}

func TestResolve_AtMostOneInFlightPerKey(t *testing.T) {
	store := newTestStore(t)
	remote := &blockingRemote{release: make(chan struct{})}
	c := NewCoalescer(nil, store, remote, 5*time.Second, 5*time.Second)
	ctx := context.Background()

	src := "https://cdn.example.com/products/shared.jpg"
	const callers = 5

	var wg sync.WaitGroup
	results := make([]cache.Entry, callers)
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = c.Resolve(ctx, src)
		}()
	}

	// Give every caller time to join the flight before releasing it.
	deadline := time.Now().Add(2 * time.Second)
	for remote.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	close(remote.release)
	wg.Wait()

	if n := remote.calls.Load(); n != 1 {
		t.Fatalf("remote invoked %d times, want 1", n)
	}
	want := results[0].ResolvedURL
	for i := range callers {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if results[i].ResolvedURL != want {
			t.Fatalf("caller %d got %s, want %s", i, results[i].ResolvedURL, want)
		}
	}
}

func TestResolve_WriteThrough_NextGetIsMemoryHit(t *testing.T) {
	store := newTestStore(t)
	remote := &blockingRemote{}
	c := NewCoalescer(nil, store, remote, time.Second, time.Second)
	ctx := context.Background()

	src := "https://cdn.example.com/products/b.jpg"
	e, err := c.Resolve(ctx, src)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	got, ok := store.Get(ctx, keys.Key(src))
	if !ok {
		t.Fatal("resolved entry not written through")
	}
	if got.ResolvedURL != e.ResolvedURL {
		t.Fatalf("store has %s, resolver returned %s", got.ResolvedURL, e.ResolvedURL)
	}

	// And the coalescer itself now answers from cache.
	if _, err := c.Resolve(ctx, src); err != nil {
		t.Fatalf("second Resolve: %v", err)
	}
	if n := remote.calls.Load(); n != 1 {
		t.Fatalf("remote invoked %d times, want 1", n)
	}
}

func TestResolve_FailureYieldsCachedFallbackWithReason(t *testing.T) {
	store := newTestStore(t)
	remote := &blockingRemote{err: fmt.Errorf("%w: derivative not ready after 3 probes", ErrTimeout)}
	c := NewCoalescer(nil, store, remote, time.Second, time.Second)
	ctx := context.Background()

	src := "https://cdn.example.com/products/slow.jpg"
	e, err := c.Resolve(ctx, src)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout attached", err)
	}
	if e.Kind != cache.KindFallback {
		t.Fatalf("kind = %s, want fallback", e.Kind)
	}
	if e.ResolvedURL != src {
		t.Fatalf("fallback url = %s, want source", e.ResolvedURL)
	}

	// The fallback is cached: a repeat failure stays off the network.
	if _, err := c.Resolve(ctx, src); err != nil {
		t.Fatalf("second Resolve should hit cached fallback: %v", err)
	}
	if n := remote.calls.Load(); n != 1 {
		t.Fatalf("remote invoked %d times, want 1", n)
	}
}

func TestResolve_SharedFlightFailureFailsAllCallers(t *testing.T) {
	store := newTestStore(t)
	remote := &blockingRemote{
		release: make(chan struct{}),
		err:     fmt.Errorf("%w: origin down", ErrNetwork),
	}
	c := NewCoalescer(nil, store, remote, 5*time.Second, 5*time.Second)
	ctx := context.Background()

	src := "https://cdn.example.com/products/down.jpg"
	const callers = 3
	var wg sync.WaitGroup
	errs := make([]error, callers)
	entries := make([]cache.Entry, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			entries[i], errs[i] = c.Resolve(ctx, src)
		}()
	}
	deadline := time.Now().Add(2 * time.Second)
	for remote.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	close(remote.release)
	wg.Wait()

	if n := remote.calls.Load(); n != 1 {
		t.Fatalf("remote invoked %d times, want 1", n)
	}
	for i := range callers {
		if !errors.Is(errs[i], ErrNetwork) {
			t.Fatalf("caller %d err = %v, want shared ErrNetwork", i, errs[i])
		}
		if entries[i].Kind != cache.KindFallback {
			t.Fatalf("caller %d kind = %s, want fallback", i, entries[i].Kind)
		}
	}
}

// slowFirstRemote stalls its first call until released; later calls answer
// immediately with a distinguishable URL per attempt.
type slowFirstRemote struct {
	calls   atomic.Int32
	release chan struct{}
}

func (r *slowFirstRemote) Resolve(ctx context.Context, key, sourceURL string) (string, cache.Kind, error) {
	n := r.calls.Add(1)
	if n == 1 {
		select {
		case <-r.release:
		case <-ctx.Done():
			return "", "", fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
		}
	}
	return fmt.Sprintf("https://resize.example.com/images/%s-attempt%d.webp", key, n), cache.KindResized, nil
}

func TestResolve_WaitBoundExceeded_ResolvesIndependently(t *testing.T) {
	store := newTestStore(t)
	remote := &slowFirstRemote{release: make(chan struct{})}
	c := NewCoalescer(nil, store, remote, 5*time.Second, 200*time.Millisecond)
	ctx := context.Background()

	src := "https://cdn.example.com/products/stalled.jpg"
	key := keys.Key(src)

	e, err := c.Resolve(ctx, src)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	// The caller outlived the wait bound, abandoned the stalled flight and
	// resolved on its own.
	want := fmt.Sprintf("https://resize.example.com/images/%s-attempt2.webp", key)
	if e.ResolvedURL != want {
		t.Fatalf("resolved url = %s, want independent attempt %s", e.ResolvedURL, want)
	}
	if n := remote.calls.Load(); n != 2 {
		t.Fatalf("remote invoked %d times, want 2 (stalled flight + independent attempt)", n)
	}

	// The abandoned flight keeps running detached; its late result must
	// still land in the store.
	close(remote.release)
	late := fmt.Sprintf("https://resize.example.com/images/%s-attempt1.webp", key)
	deadline := time.Now().Add(2 * time.Second)
	for {
		if got, ok := store.Get(ctx, key); ok && got.ResolvedURL == late {
			break
		}
		if time.Now().After(deadline) {
			got, ok := store.Get(ctx, key)
			t.Fatalf("late flight result never reached the store: entry=%+v ok=%v", got, ok)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestResolve_InvalidSourceSurfacesImmediately(t *testing.T) {
	store := newTestStore(t)
	c := NewCoalescer(nil, store, &blockingRemote{}, time.Second, time.Second)

	if _, err := c.Resolve(context.Background(), ""); !errors.Is(err, ErrInvalidSource) {
		t.Fatalf("err = %v, want ErrInvalidSource", err)
	}
}
