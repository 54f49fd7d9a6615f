package presence

import (
	"context"
	"testing"
	"time"
)

func TestCacheHydrationAndSnapshot(t *testing.T) {
	store := newTestStore(t)
	cache := NewCache(store)
	ctx := context.Background()

	day := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	older := seedSession(t, store, day.Add(9*time.Hour))
	newer := seedSession(t, store, day.Add(10*time.Hour))

	if err := cache.EnsureHydrated(ctx); err != nil {
		t.Fatal(err)
	}
	if cache.Len() != 2 {
		t.Fatal("hydration should load every open session", cache.Len())
	}

	// case: snapshot is most-recent-check-in first
	snapshot := cache.Snapshot()
	if snapshot[0].ID != newer || snapshot[1].ID != older {
		t.Error("snapshot order mismatch", snapshot)
	}

	// case: hydration is lazy, a second call doesn't reload
	late := seedSession(t, store, day.Add(11*time.Hour))
	if err := cache.EnsureHydrated(ctx); err != nil {
		t.Fatal(err)
	}
	if cache.Len() != 2 {
		t.Error("EnsureHydrated should be a no-op once hydrated", cache.Len())
	}

	// case: Refresh reloads unconditionally
	if err := cache.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	if cache.Len() != 3 {
		t.Error("refresh should pick up the late session", cache.Len())
	}

	// case: upsert with a checkout evicts
	closed, err := store.CloseSession(ctx, late, day.Add(12*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	cache.Upsert(closed)
	if cache.Len() != 2 {
		t.Error("closed session should leave the cache", cache.Len())
	}

	// case: snapshot denormalizes member and location
	snapshot = cache.Snapshot()
	if snapshot[0].Member.Handle != "test member" || snapshot[0].Location.Name != "Workshop" {
		t.Error("snapshot should carry display fields", snapshot[0])
	}
}
