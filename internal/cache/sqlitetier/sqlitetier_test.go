package sqlitetier

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/watchstore/gallerycache/internal/cache"
)

func openTemp(t *testing.T, capacity int, ttl, fallbackTTL time.Duration) *Tier {
	t.Helper()
	tier, err := Open(filepath.Join(t.TempDir(), "assets.db"), capacity, ttl, fallbackTTL)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = tier.Close() })
	return tier
}

func entryAt(i int, kind cache.Kind, createdAt time.Time) cache.Entry {
	src := fmt.Sprintf("https://cdn.example.com/img-%d.jpg", i)
	return cache.Entry{
		Key:         fmt.Sprintf("img-%d", i),
		SourceURL:   src,
		ResolvedURL: src,
		Kind:        kind,
		CreatedAt:   createdAt,
	}
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	if _, err := Open("", 10, time.Hour, time.Minute); err == nil {
		t.Fatal("expected empty path error")
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	t.Parallel()

	tier := openTemp(t, 10, time.Hour, time.Minute)
	ctx := context.Background()

	now := time.Date(2026, time.March, 2, 9, 30, 0, 0, time.UTC)
	e := entryAt(1, cache.KindResized, now)
	if err := tier.Put(ctx, e); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := tier.Get(ctx, e.Key)
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got != e {
		t.Fatalf("got %+v want %+v", got, e)
	}
}

func TestOverwrite_ReplacesEntry(t *testing.T) {
	t.Parallel()

	tier := openTemp(t, 10, time.Hour, time.Minute)
	ctx := context.Background()

	now := time.Date(2026, time.March, 2, 9, 30, 0, 0, time.UTC)
	e := entryAt(1, cache.KindFallback, now)
	if err := tier.Put(ctx, e); err != nil {
		t.Fatalf("Put: %v", err)
	}
	e2 := e
	e2.Kind = cache.KindResized
	e2.ResolvedURL = "https://resize.example.com/images/img-1.webp"
	e2.CreatedAt = now.Add(time.Minute)
	if err := tier.Put(ctx, e2); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}

	got, ok, _ := tier.Get(ctx, e.Key)
	if !ok || got.Kind != cache.KindResized || got.ResolvedURL != e2.ResolvedURL {
		t.Fatalf("overwrite not applied: %+v", got)
	}
}

func TestEvict_TTLExpiry(t *testing.T) {
	t.Parallel()

	tier := openTemp(t, 100, time.Hour, time.Minute)
	ctx := context.Background()
	now := time.Date(2026, time.March, 2, 12, 0, 0, 0, time.UTC)

	_ = tier.Put(ctx, entryAt(1, cache.KindResized, now.Add(-2*time.Hour)))
	_ = tier.Put(ctx, entryAt(2, cache.KindResized, now.Add(-time.Minute)))

	if err := tier.Evict(ctx, now); err != nil {
		t.Fatalf("Evict: %v", err)
	}
	if _, ok, _ := tier.Get(ctx, "img-1"); ok {
		t.Fatal("expired entry survived")
	}
	if _, ok, _ := tier.Get(ctx, "img-2"); !ok {
		t.Fatal("fresh entry evicted")
	}
}

func TestEvict_FallbackExpiresSooner(t *testing.T) {
	t.Parallel()

	tier := openTemp(t, 100, 24*time.Hour, 10*time.Minute)
	ctx := context.Background()
	now := time.Date(2026, time.March, 2, 12, 0, 0, 0, time.UTC)

	// Both entries are 30 minutes old: well inside the standard TTL, past
	// the fallback TTL.
	_ = tier.Put(ctx, entryAt(1, cache.KindResized, now.Add(-30*time.Minute)))
	_ = tier.Put(ctx, entryAt(2, cache.KindFallback, now.Add(-30*time.Minute)))

	if err := tier.Evict(ctx, now); err != nil {
		t.Fatalf("Evict: %v", err)
	}
	if _, ok, _ := tier.Get(ctx, "img-1"); !ok {
		t.Fatal("resized entry inside TTL was evicted")
	}
	if _, ok, _ := tier.Get(ctx, "img-2"); ok {
		t.Fatal("stale fallback entry survived its shorter TTL")
	}
}

func TestEvict_CapacityOldestFirst(t *testing.T) {
	t.Parallel()

	tier := openTemp(t, 3, time.Hour, time.Minute)
	ctx := context.Background()
	now := time.Date(2026, time.March, 2, 12, 0, 0, 0, time.UTC)

	for i := range 8 {
		e := entryAt(i, cache.KindResized, now.Add(time.Duration(i)*time.Second))
		if err := tier.Put(ctx, e); err != nil {
			t.Fatalf("Put %d: %v", i, err)
		}
	}
	if err := tier.Evict(ctx, now.Add(time.Minute)); err != nil {
		t.Fatalf("Evict: %v", err)
	}

	n, err := tier.Len(ctx)
	if err != nil {
		t.Fatalf("Len: %v", err)
	}
	if n != 3 {
		t.Fatalf("len=%d want 3", n)
	}
	for i := 5; i < 8; i++ {
		if _, ok, _ := tier.Get(ctx, fmt.Sprintf("img-%d", i)); !ok {
			t.Fatalf("newest entry %d missing", i)
		}
	}
}

func TestDelAndClear(t *testing.T) {
	t.Parallel()

	tier := openTemp(t, 10, time.Hour, time.Minute)
	ctx := context.Background()
	now := time.Date(2026, time.March, 2, 12, 0, 0, 0, time.UTC)

	_ = tier.Put(ctx, entryAt(1, cache.KindOriginal, now))
	_ = tier.Put(ctx, entryAt(2, cache.KindOriginal, now))

	if err := tier.Del(ctx, "img-1"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if _, ok, _ := tier.Get(ctx, "img-1"); ok {
		t.Fatal("deleted entry still present")
	}

	if err := tier.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if n, _ := tier.Len(ctx); n != 0 {
		t.Fatalf("len=%d after Clear, want 0", n)
	}
}
