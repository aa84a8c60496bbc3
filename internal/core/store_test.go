package core

import (
	"context"
	"sync"
	"testing"

	"github.com/valter-silva-au/tasksync/pkg/models"
)

func TestStore_SnapshotIsImmutable(t *testing.T) {
	s := NewStore()
	s.mutate(nil, func(st *CacheState) {
		st.Tasks = []models.Task{task("1", "a")}
		st.Loaded = true
	})
	before := s.Snapshot()

	s.mutate(nil, func(st *CacheState) {
		st.Tasks[0].Title = "changed"
		st.markPending("1")
	})

	if before.Tasks[0].Title != "a" {
		t.Errorf("published snapshot changed: Title = %q", before.Tasks[0].Title)
	}
	if before.IsPending("1") {
		t.Error("published snapshot saw a later pending marker")
	}
	if after := s.Snapshot(); after.Version <= before.Version {
		t.Errorf("Version = %d, want > %d", after.Version, before.Version)
	}
}

func TestStore_SubscribersSeeVersionOrder(t *testing.T) {
	s := NewStore()
	var mu sync.Mutex
	var seen []uint64
	unsubscribe := s.Subscribe(func(snap *Snapshot) {
		mu.Lock()
		seen = append(seen, snap.Version)
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.mutate(nil, func(st *CacheState) { st.Loaded = true })
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(seen); i++ {
		if seen[i] <= seen[i-1] {
			t.Fatalf("versions out of order: %v", seen)
		}
	}
	if len(seen) == 0 || seen[len(seen)-1] != s.Snapshot().Version {
		t.Errorf("latest version not delivered: %v", seen)
	}

	unsubscribe()
	s.mutate(nil, func(st *CacheState) {})
	if n := len(seen); seen[n-1] == s.Snapshot().Version {
		t.Error("unsubscribed listener still called")
	}
}

func TestStore_ReadSupersededByWrite(t *testing.T) {
	s := NewStore()
	ctx, gen, done := s.beginRead(context.Background(), regionList)
	defer done()

	s.mutate([]string{regionList}, func(st *CacheState) {})

	if ctx.Err() == nil {
		t.Error("expected in-flight read to be cancelled")
	}
	_, applied := s.applyRead(regionList, gen, func(st *CacheState) {
		st.Tasks = []models.Task{task("stale", "old")}
		st.Loaded = true
	})
	if applied {
		t.Error("superseded read was applied")
	}
	if len(s.Snapshot().Tasks) != 0 {
		t.Errorf("cache written by superseded read: %v", s.Snapshot().Tasks)
	}
}

func TestStore_ReadBlockedWhileMutationPending(t *testing.T) {
	s := NewStore()
	s.mutate(nil, func(st *CacheState) { st.markPending("7") })

	_, gen, done := s.beginRead(context.Background(), regionList)
	defer done()
	if _, applied := s.applyRead(regionList, gen, func(st *CacheState) { st.Loaded = true }); applied {
		t.Error("read applied while a mutation is pending")
	}

	_, gen, done2 := s.beginRead(context.Background(), detailRegion("8"))
	defer done2()
	if _, applied := s.applyRead(detailRegion("8"), gen, func(st *CacheState) {}); !applied {
		t.Error("detail read of an unrelated id should apply")
	}
}

func TestStore_ReadUnaffectedByOtherRegion(t *testing.T) {
	s := NewStore()
	ctx, gen, done := s.beginRead(context.Background(), detailRegion("1"))
	defer done()

	s.mutate([]string{detailRegion("2")}, func(st *CacheState) {})

	if ctx.Err() != nil {
		t.Error("read of another region was cancelled")
	}
	if _, applied := s.applyRead(detailRegion("1"), gen, func(st *CacheState) {}); !applied {
		t.Error("expected read to apply")
	}
}

func TestStore_ClearSupersedesReads(t *testing.T) {
	s := NewStore()
	s.mutate(nil, func(st *CacheState) {
		st.Tasks = []models.Task{task("1", "a")}
		st.Loaded = true
	})
	ctx, gen, done := s.beginRead(context.Background(), regionList)
	defer done()

	s.Clear()

	if ctx.Err() == nil {
		t.Error("expected read to be cancelled")
	}
	if _, applied := s.applyRead(regionList, gen, func(st *CacheState) { st.Loaded = true }); applied {
		t.Error("read applied after Clear")
	}
	snap := s.Snapshot()
	if snap.Loaded || len(snap.Tasks) != 0 {
		t.Errorf("Clear left state behind: %+v", snap.CacheState)
	}
}
