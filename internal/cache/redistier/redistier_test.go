package redistier

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/watchstore/gallerycache/internal/cache"
	"github.com/watchstore/gallerycache/internal/cache/redisstore"
)

func newTier(t *testing.T, capacity int) (*Tier, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)

	cli, err := redisstore.New(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("redisstore.New: %v", err)
	}
	t.Cleanup(func() { _ = cli.Close() })
	return New(cli, capacity), mr
}

func entry(i int) cache.Entry {
	src := fmt.Sprintf("https://cdn.example.com/img-%d.jpg", i)
	return cache.Entry{
		Key:         fmt.Sprintf("img-%d", i),
		SourceURL:   src,
		ResolvedURL: src,
		Kind:        cache.KindResized,
		CreatedAt:   time.Date(2026, time.March, 1, 12, 0, i, 0, time.UTC),
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	tier, mr := newTier(t, 10)
	ctx := context.Background()

	e := entry(1)
	if err := tier.Put(ctx, e); err != nil {
		t.Fatalf("Put: %v", err)
	}
	// The value must be reachable from the index, or eviction and Clear
	// would never see it.
	if _, err := mr.ZScore("asset:index", e.Key); err != nil {
		t.Fatalf("put entry missing from index: %v", err)
	}
	got, ok, err := tier.Get(ctx, e.Key)
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got.ResolvedURL != e.ResolvedURL || got.Kind != e.Kind {
		t.Fatalf("got %+v want %+v", got, e)
	}
	if !got.CreatedAt.Equal(e.CreatedAt) {
		t.Fatalf("created_at = %v want %v", got.CreatedAt, e.CreatedAt)
	}
}

func TestEvict_CapacityOldestFirst(t *testing.T) {
	tier, _ := newTier(t, 3)
	ctx := context.Background()

	for i := range 8 {
		if err := tier.Put(ctx, entry(i)); err != nil {
			t.Fatalf("Put %d: %v", i, err)
		}
	}
	if err := tier.Evict(ctx, time.Now()); err != nil {
		t.Fatalf("Evict: %v", err)
	}

	for i := range 5 {
		if _, ok, _ := tier.Get(ctx, entry(i).Key); ok {
			t.Fatalf("old entry %d survived eviction", i)
		}
	}
	for i := 5; i < 8; i++ {
		if _, ok, _ := tier.Get(ctx, entry(i).Key); !ok {
			t.Fatalf("newest entry %d missing", i)
		}
	}
}

func TestUnavailable_SurfacesTypedError(t *testing.T) {
	tier, mr := newTier(t, 3)
	ctx := context.Background()

	if err := tier.Put(ctx, entry(1)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	mr.Close()

	if _, _, err := tier.Get(ctx, entry(1).Key); !errors.Is(err, cache.ErrUnavailable) {
		t.Fatalf("Get after close: err=%v, want ErrUnavailable", err)
	}
	if err := tier.Put(ctx, entry(2)); !errors.Is(err, cache.ErrUnavailable) {
		t.Fatalf("Put after close: err=%v, want ErrUnavailable", err)
	}
}

func TestCorruptRecord_ReadsAsMiss(t *testing.T) {
	tier, mr := newTier(t, 3)
	ctx := context.Background()

	if err := mr.Set("asset:broken", "{not json"); err != nil {
		t.Fatalf("seed corrupt record: %v", err)
	}

	_, ok, err := tier.Get(ctx, "broken")
	if ok {
		t.Fatal("corrupt record reported as hit")
	}
	if !errors.Is(err, cache.ErrUnavailable) {
		t.Fatalf("err=%v, want ErrUnavailable", err)
	}
}

func TestClear(t *testing.T) {
	tier, _ := newTier(t, 10)
	ctx := context.Background()

	for i := range 5 {
		_ = tier.Put(ctx, entry(i))
	}
	if err := tier.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	for i := range 5 {
		if _, ok, _ := tier.Get(ctx, entry(i).Key); ok {
			t.Fatalf("entry %d survived Clear", i)
		}
	}
}
