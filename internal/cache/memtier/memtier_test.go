package memtier

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/watchstore/gallerycache/internal/cache"
)

func entry(i int) cache.Entry {
	src := fmt.Sprintf("https://cdn.example.com/img-%d.jpg", i)
	return cache.Entry{
		Key:         fmt.Sprintf("img-%d", i),
		SourceURL:   src,
		ResolvedURL: src,
		Kind:        cache.KindOriginal,
		CreatedAt:   time.Date(2026, time.March, 1, 0, 0, i, 0, time.UTC),
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	tier, err := New(4)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	e := entry(1)
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

func TestCapacityBound_RetainsNewest(t *testing.T) {
	tier, err := New(3)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	for i := range 10 {
		if err := tier.Put(ctx, entry(i)); err != nil {
			t.Fatalf("Put %d: %v", i, err)
		}
	}
	if tier.Len() != 3 {
		t.Fatalf("len=%d want 3", tier.Len())
	}
	for i := 7; i < 10; i++ {
		if _, ok, _ := tier.Get(ctx, entry(i).Key); !ok {
			t.Fatalf("newest entry %d missing", i)
		}
	}
	if _, ok, _ := tier.Get(ctx, entry(0).Key); ok {
		t.Fatal("oldest entry survived eviction")
	}
}

func TestReadsDoNotPromote(t *testing.T) {
	tier, err := New(2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	_ = tier.Put(ctx, entry(0))
	_ = tier.Put(ctx, entry(1))

	// Touch the oldest entry; insertion-order eviction must still drop it.
	if _, ok, _ := tier.Get(ctx, entry(0).Key); !ok {
		t.Fatal("entry 0 missing before eviction")
	}
	_ = tier.Put(ctx, entry(2))

	if _, ok, _ := tier.Get(ctx, entry(0).Key); ok {
		t.Fatal("read promoted entry 0 past insertion order")
	}
	if _, ok, _ := tier.Get(ctx, entry(1).Key); !ok {
		t.Fatal("entry 1 should have survived")
	}
}

func TestDelAndClear(t *testing.T) {
	tier, err := New(4)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	_ = tier.Put(ctx, entry(0))
	_ = tier.Put(ctx, entry(1))

	if err := tier.Del(ctx, entry(0).Key); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if _, ok, _ := tier.Get(ctx, entry(0).Key); ok {
		t.Fatal("deleted entry still present")
	}

	if err := tier.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if tier.Len() != 0 {
		t.Fatalf("len=%d after Clear, want 0", tier.Len())
	}
}
