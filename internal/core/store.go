package core

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/valter-silva-au/tasksync/pkg/models"
)

// regionList is the cache region holding the task collection. Per-task
// detail entries live in regions named "tasks/<id>".
const regionList = "tasks"

func detailRegion(id string) string {
	return regionList + "/" + id
}

// CacheState is the mutable cache content. Only the sync engine writes it,
// always through Store.
type CacheState struct {
	// Tasks is the collection in server order; optimistic creates are appended.
	Tasks []models.Task
	// Loaded reports whether Tasks holds a fetched (or optimistically
	// seeded) collection.
	Loaded bool
	// Stale marks the collection for refetch on the next read.
	Stale bool
	// Details holds per-id entries fetched individually.
	Details      map[string]models.Task
	StaleDetails map[string]bool
	// Pending counts in-flight mutations per task id.
	Pending map[string]int
}

func (st *CacheState) clone() CacheState {
	return CacheState{
		Tasks:        slices.Clone(st.Tasks),
		Loaded:       st.Loaded,
		Stale:        st.Stale,
		Details:      maps.Clone(st.Details),
		StaleDetails: maps.Clone(st.StaleDetails),
		Pending:      maps.Clone(st.Pending),
	}
}

func (st *CacheState) indexOf(id string) int {
	return slices.IndexFunc(st.Tasks, func(t models.Task) bool { return t.ID == id })
}

func (st *CacheState) setDetail(t models.Task) {
	if st.Details == nil {
		st.Details = make(map[string]models.Task)
	}
	st.Details[t.ID] = t
	delete(st.StaleDetails, t.ID)
}

func (st *CacheState) markPending(id string) {
	if st.Pending == nil {
		st.Pending = make(map[string]int)
	}
	st.Pending[id]++
}

func (st *CacheState) clearPending(id string) {
	if st.Pending[id] <= 1 {
		delete(st.Pending, id)
		return
	}
	st.Pending[id]--
}

// regionBusy reports whether a mutation is pending on region.
func (st *CacheState) regionBusy(region string) bool {
	if region == regionList {
		return len(st.Pending) > 0
	}
	id, ok := strings.CutPrefix(region, regionList+"/")
	return ok && st.Pending[id] > 0
}

// Snapshot is an immutable published view of the cache. Callers must not
// modify its slices or maps.
type Snapshot struct {
	CacheState
	Version uint64
}

// IsPending reports whether a mutation on id is in flight.
func (s *Snapshot) IsPending(id string) bool {
	return s.Pending[id] > 0
}

// Detail returns the cached per-id entry.
func (s *Snapshot) Detail(id string) (models.Task, bool) {
	t, ok := s.Details[id]
	return t, ok
}

// Find returns the task with id from the collection.
func (s *Snapshot) Find(id string) (models.Task, bool) {
	if i := s.indexOf(id); i >= 0 {
		return s.Tasks[i], true
	}
	return models.Task{}, false
}

type readRegion struct {
	gen    uint64
	token  uint64
	cancel context.CancelFunc
}

// Store is the task cache. It publishes a new immutable Snapshot on every
// write and tracks read generations per region so that a read which started
// before a newer write is never applied.
type Store struct {
	mu      sync.Mutex
	state   CacheState
	version uint64
	reads   map[string]*readRegion
	tokens  uint64
	// epoch counts Clear calls; writes tagged with an older epoch no
	// longer own anything in the cache.
	epoch   uint64
	current atomic.Pointer[Snapshot]

	subMu   sync.Mutex
	subs    map[int]func(*Snapshot)
	nextSub int

	notifyMu  sync.Mutex
	delivered uint64
}

// NewStore returns an empty store.
func NewStore() *Store {
	s := &Store{
		reads: make(map[string]*readRegion),
		subs:  make(map[int]func(*Snapshot)),
	}
	s.current.Store(&Snapshot{})
	return s
}

// Snapshot returns the latest published snapshot.
func (s *Store) Snapshot() *Snapshot {
	return s.current.Load()
}

// Subscribe registers fn to receive every newer snapshot, in version order.
// fn must not write to the store. The returned func unsubscribes.
func (s *Store) Subscribe(fn func(*Snapshot)) func() {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

// Clear drops all cached content and supersedes every in-flight read.
func (s *Store) Clear() {
	s.mu.Lock()
	for region := range s.reads {
		s.bumpLocked(region)
	}
	s.state = CacheState{}
	s.epoch++
	s.publishLocked()
	s.mu.Unlock()
	s.deliver()
}

// mutate applies fn to the cache after superseding reads of the given
// regions, then publishes the result.
func (s *Store) mutate(regions []string, fn func(st *CacheState)) *Snapshot {
	s.mu.Lock()
	for _, region := range regions {
		s.bumpLocked(region)
	}
	fn(&s.state)
	snap := s.publishLocked()
	s.mu.Unlock()
	s.deliver()
	return snap
}

// beginRead registers a read of region and returns the context it must run
// under together with its generation. done must be called when the read
// completes.
func (s *Store) beginRead(parent context.Context, region string) (ctx context.Context, gen uint64, done func()) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))

	s.mu.Lock()
	r := s.region(region)
	if r.cancel != nil {
		r.cancel()
	}
	s.tokens++
	token := s.tokens
	r.token = token
	r.cancel = cancel
	gen = r.gen
	s.mu.Unlock()

	return ctx, gen, func() {
		cancel()
		s.mu.Lock()
		if r.token == token {
			r.cancel = nil
		}
		s.mu.Unlock()
	}
}

// applyRead applies fn only if no write superseded the read of region that
// started at gen and no mutation is pending on region.
func (s *Store) applyRead(region string, gen uint64, fn func(st *CacheState)) (*Snapshot, bool) {
	s.mu.Lock()
	if s.region(region).gen != gen || s.state.regionBusy(region) {
		snap := s.current.Load()
		s.mu.Unlock()
		return snap, false
	}
	fn(&s.state)
	snap := s.publishLocked()
	s.mu.Unlock()
	s.deliver()
	return snap, true
}

func (s *Store) region(name string) *readRegion {
	r, ok := s.reads[name]
	if !ok {
		r = &readRegion{}
		s.reads[name] = r
	}
	return r
}

func (s *Store) bumpLocked(region string) {
	r := s.region(region)
	r.gen++
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
}

func (s *Store) publishLocked() *Snapshot {
	s.version++
	snap := &Snapshot{CacheState: s.state.clone(), Version: s.version}
	s.current.Store(snap)
	return snap
}

func (s *Store) deliver() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	snap := s.current.Load()
	if snap.Version <= s.delivered {
		return
	}
	s.delivered = snap.Version

	s.subMu.Lock()
	ids := slices.Sorted(maps.Keys(s.subs))
	fns := make([]func(*Snapshot), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.subs[id])
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}
