package core

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/valter-silva-au/tasksync/pkg/models"
)

var (
	// ErrTaskPending is returned when updating or deleting a task that the
	// server has not confirmed yet.
	ErrTaskPending = errors.New("task is pending server confirmation")
	// ErrTaskNotFound is returned when a task is neither cached nor known to
	// the server.
	ErrTaskNotFound = errors.New("task not found")
	// ErrReadSuperseded is returned when a collection fetch could not be
	// applied because a mutation is in flight and nothing is cached yet.
	ErrReadSuperseded = errors.New("read superseded by a pending mutation")
)

// TaskAPI is the subset of integration.TaskClient the sync engine needs.
type TaskAPI interface {
	List(ctx context.Context) ([]models.Task, error)
	Get(ctx context.Context, id string) (models.Task, error)
	Create(ctx context.Context, draft models.TaskDraft) (models.Task, error)
	Update(ctx context.Context, id string, update models.TaskUpdate) (models.Task, error)
	Remove(ctx context.Context, id string) error
}

// TaskSync keeps the task cache in step with the server. Reads are served
// from the cache when it is fresh; mutations are applied optimistically and
// reconciled or rolled back when the server answers.
type TaskSync interface {
	// Store returns the cache the engine writes to.
	Store() *Store
	// Tasks returns the cached collection, fetching it if missing or stale.
	Tasks(ctx context.Context) ([]models.Task, error)
	// Refresh fetches the collection regardless of cache state.
	Refresh(ctx context.Context) ([]models.Task, error)
	// Task returns one task, fetching it if not cached.
	Task(ctx context.Context, id string) (models.Task, error)
	Create(ctx context.Context, draft models.TaskDraft) (models.Task, error)
	Update(ctx context.Context, id string, update models.TaskUpdate) (models.Task, error)
	Delete(ctx context.Context, id string) error
	// IsMutating reports whether a mutation on id is in flight.
	IsMutating(id string) bool
	// Invalidate marks every cached region stale.
	Invalidate()
	// Reset clears the cache and discards the outcome of in-flight work.
	Reset()
}

// SyncOptions configures a TaskSync. All fields are optional.
type SyncOptions struct {
	Notifier Notifier
	Events   EventLogger
	Now      func() time.Time
	// RefetchOnInvalidate refreshes the collection after every settled
	// mutation instead of waiting for the next read.
	RefetchOnInvalidate bool
}

type ticket struct {
	tx      *Transaction
	turn    *turn
	started time.Time
	// epoch is the store epoch the optimistic change was applied in.
	epoch uint64
}

// keyState orders the outstanding tickets for one task id.
type keyState struct {
	tail    <-chan struct{}
	tickets []*ticket
}

type taskSync struct {
	api   TaskAPI
	store *Store
	opts  SyncOptions
	reads singleflight.Group

	mu   sync.Mutex
	keys map[string]*keyState

	tempSeq atomic.Uint64
}

// NewTaskSync creates a TaskSync over api that writes to store. A nil store
// gets a fresh one.
func NewTaskSync(api TaskAPI, store *Store, opts SyncOptions) TaskSync {
	if store == nil {
		store = NewStore()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &taskSync{
		api:   api,
		store: store,
		opts:  opts,
		keys:  make(map[string]*keyState),
	}
}

func (s *taskSync) Store() *Store {
	return s.store
}

func (s *taskSync) Tasks(ctx context.Context) ([]models.Task, error) {
	snap := s.store.Snapshot()
	if snap.Loaded && !snap.Stale {
		return snap.Tasks, nil
	}
	return s.Refresh(ctx)
}

func (s *taskSync) Refresh(ctx context.Context) ([]models.Task, error) {
	ch := s.reads.DoChan(regionList, func() (any, error) {
		return s.fetchList(ctx)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]models.Task), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *taskSync) fetchList(parent context.Context) ([]models.Task, error) {
	ctx, gen, done := s.store.beginRead(parent, regionList)
	defer done()

	tasks, err := s.api.List(ctx)
	if err != nil {
		if ctx.Err() != nil {
			// Superseded by a write; serve what the cache holds now.
			if snap := s.store.Snapshot(); snap.Loaded {
				s.logEvent("read.discarded", map[string]any{"region": regionList})
				return snap.Tasks, nil
			}
			s.logEvent("read.discarded", map[string]any{"region": regionList})
			return nil, fmt.Errorf("listing tasks: %w", ErrReadSuperseded)
		}
		s.logEvent("read.failed", map[string]any{"region": regionList, "error": err.Error()})
		return nil, fmt.Errorf("listing tasks: %w", err)
	}

	snap, applied := s.store.applyRead(regionList, gen, func(st *CacheState) {
		st.Tasks = tasks
		st.Loaded = true
		st.Stale = false
	})
	if !applied {
		s.logEvent("read.discarded", map[string]any{"region": regionList})
		if !snap.Loaded {
			return nil, fmt.Errorf("listing tasks: %w", ErrReadSuperseded)
		}
	}
	return snap.Tasks, nil
}

func (s *taskSync) Task(ctx context.Context, id string) (models.Task, error) {
	snap := s.store.Snapshot()
	if d, ok := snap.Detail(id); ok && !snap.StaleDetails[id] {
		return d, nil
	}
	if strings.HasPrefix(id, models.TempIDPrefix) {
		if t, ok := snap.Find(id); ok {
			return t, nil
		}
		return models.Task{}, fmt.Errorf("task %s: %w", id, ErrTaskNotFound)
	}

	region := detailRegion(id)
	ch := s.reads.DoChan(region, func() (any, error) {
		return s.fetchDetail(ctx, id)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return models.Task{}, res.Err
		}
		return res.Val.(models.Task), nil
	case <-ctx.Done():
		return models.Task{}, ctx.Err()
	}
}

func (s *taskSync) fetchDetail(parent context.Context, id string) (models.Task, error) {
	region := detailRegion(id)
	ctx, gen, done := s.store.beginRead(parent, region)
	defer done()

	task, err := s.api.Get(ctx, id)
	if err != nil {
		if isNotFound(err) {
			s.store.applyRead(region, gen, func(st *CacheState) {
				delete(st.Details, id)
				delete(st.StaleDetails, id)
			})
			return models.Task{}, fmt.Errorf("task %s: %w: %w", id, ErrTaskNotFound, err)
		}
		if ctx.Err() != nil {
			if d, ok := s.store.Snapshot().Detail(id); ok {
				return d, nil
			}
		}
		s.logEvent("read.failed", map[string]any{"region": region, "error": err.Error()})
		return models.Task{}, fmt.Errorf("getting task %s: %w", id, err)
	}

	snap, applied := s.store.applyRead(region, gen, func(st *CacheState) {
		st.setDetail(task)
	})
	if !applied {
		s.logEvent("read.discarded", map[string]any{"region": region})
		if d, ok := snap.Detail(id); ok {
			return d, nil
		}
	}
	return task, nil
}

func isNotFound(err error) bool {
	var nf interface{ NotFound() bool }
	return errors.As(err, &nf) && nf.NotFound()
}

func (s *taskSync) Create(ctx context.Context, draft models.TaskDraft) (models.Task, error) {
	now := s.opts.Now()
	tempID := fmt.Sprintf("%s%d-%d", models.TempIDPrefix, now.UnixMilli(), s.tempSeq.Add(1))
	tx := NewCreateTransaction(tempID, draft, now)

	server, err := s.run(ctx, tx, func(ctx context.Context) (*models.Task, error) {
		t, err := s.api.Create(ctx, draft)
		if err != nil {
			return nil, err
		}
		return &t, nil
	})
	if err != nil {
		return models.Task{}, fmt.Errorf("creating task: %w", err)
	}
	return *server, nil
}

func (s *taskSync) Update(ctx context.Context, id string, update models.TaskUpdate) (models.Task, error) {
	if strings.HasPrefix(id, models.TempIDPrefix) {
		return models.Task{}, fmt.Errorf("updating task %s: %w", id, ErrTaskPending)
	}
	if update.IsEmpty() {
		return models.Task{}, fmt.Errorf("updating task %s: no fields to update", id)
	}
	tx := NewUpdateTransaction(id, update)

	server, err := s.run(ctx, tx, func(ctx context.Context) (*models.Task, error) {
		t, err := s.api.Update(ctx, id, update)
		if err != nil {
			return nil, err
		}
		return &t, nil
	})
	if err != nil {
		return models.Task{}, fmt.Errorf("updating task %s: %w", id, err)
	}
	return *server, nil
}

func (s *taskSync) Delete(ctx context.Context, id string) error {
	if strings.HasPrefix(id, models.TempIDPrefix) {
		return fmt.Errorf("deleting task %s: %w", id, ErrTaskPending)
	}
	tx := NewDeleteTransaction(id)

	_, err := s.run(ctx, tx, func(ctx context.Context) (*models.Task, error) {
		return nil, s.api.Remove(ctx, id)
	})
	if err != nil {
		return fmt.Errorf("deleting task %s: %w", id, err)
	}
	return nil
}

func (s *taskSync) IsMutating(id string) bool {
	return s.store.Snapshot().IsPending(id)
}

func (s *taskSync) Invalidate() {
	s.store.mutate(nil, func(st *CacheState) {
		st.Stale = st.Loaded
		for id := range st.Details {
			if st.StaleDetails == nil {
				st.StaleDetails = make(map[string]bool)
			}
			st.StaleDetails[id] = true
		}
	})
}

func (s *taskSync) Reset() {
	s.mu.Lock()
	s.keys = make(map[string]*keyState)
	s.mu.Unlock()
	s.store.Clear()
}

// run drives tx through its lifecycle. The optimistic change is applied at
// once; the network call waits for earlier mutations on the same id.
func (s *taskSync) run(ctx context.Context, tx *Transaction, call func(context.Context) (*models.Task, error)) (*models.Task, error) {
	t := s.begin(tx)

	if err := t.turn.wait(ctx); err != nil {
		t.turn.afterPrev(func() {
			s.settle(t, nil, err)
			t.turn.release()
		})
		return nil, err
	}

	server, err := call(ctx)
	s.settle(t, server, err)
	t.turn.release()

	if s.opts.RefetchOnInvalidate {
		if _, rerr := s.Refresh(context.WithoutCancel(ctx)); rerr != nil {
			s.logEvent("read.failed", map[string]any{"region": regionList, "error": rerr.Error()})
		}
	}
	return server, err
}

func (s *taskSync) begin(tx *Transaction) *ticket {
	s.mu.Lock()
	defer s.mu.Unlock()

	ks, ok := s.keys[tx.ID]
	if !ok {
		ks = &keyState{}
		s.keys[tx.ID] = ks
	}
	t := &ticket{tx: tx, turn: newTurn(ks.tail), started: s.opts.Now()}
	ks.tail = t.turn.done
	ks.tickets = append(ks.tickets, t)

	s.store.mutate(regionsFor(tx.ID), func(st *CacheState) {
		t.epoch = s.store.epoch
		tx.Apply(st)
	})

	s.logEvent("mutation.started", map[string]any{
		"kind":    string(tx.Kind),
		"task_id": tx.ID,
	})
	return t
}

func (s *taskSync) settle(t *ticket, server *models.Task, callErr error) {
	tx := t.tx

	s.mu.Lock()
	var latest bool
	var next *Transaction
	if ks, ok := s.keys[tx.ID]; ok {
		if i := slices.Index(ks.tickets, t); i >= 0 {
			latest = i == len(ks.tickets)-1
			if !latest {
				next = ks.tickets[i+1].tx
			}
			ks.tickets = slices.Delete(ks.tickets, i, i+1)
		}
		if len(ks.tickets) == 0 {
			delete(s.keys, tx.ID)
		}
	}

	s.store.mutate(regionsFor(tx.ID), func(st *CacheState) {
		switch {
		case t.epoch != s.store.epoch:
			// The cache was cleared after Apply; the pending marker and
			// entity now belong to whatever ran since.
			tx.discard(server, callErr != nil)
			return
		case !latest:
			tx.Supersede(st, server, callErr != nil)
			if next != nil {
				next.rebase(tx)
			}
			return
		case callErr != nil:
			tx.Rollback(st)
		case server != nil:
			tx.Commit(st, *server)
		default:
			tx.Commit(st, models.Task{})
		}
		st.Stale = st.Loaded
		if _, ok := st.Details[tx.ID]; ok {
			if st.StaleDetails == nil {
				st.StaleDetails = make(map[string]bool)
			}
			st.StaleDetails[tx.ID] = true
		}
	})
	s.mu.Unlock()

	data := map[string]any{
		"kind":        string(tx.Kind),
		"task_id":     tx.ID,
		"duration_ms": s.opts.Now().Sub(t.started).Milliseconds(),
	}
	if callErr != nil {
		data["error"] = callErr.Error()
	}
	s.logEvent("mutation."+tx.Phase().String(), data)

	if tx.Phase() == PhaseSuperseded {
		return
	}
	s.notify(notificationFor(tx, callErr, s.opts.Now()))
}

func regionsFor(id string) []string {
	return []string{regionList, detailRegion(id)}
}

func notificationFor(tx *Transaction, callErr error, now time.Time) models.Notification {
	if callErr != nil {
		return models.Notification{
			Kind:    models.NotifyError,
			Message: fmt.Sprintf("Failed to %s task", tx.Kind),
			TaskID:  tx.ID,
			Detail:  callErr.Error(),
			Time:    now,
		}
	}

	n := models.Notification{Kind: models.NotifySuccess, TaskID: tx.ID, Time: now}
	title := tx.ID
	switch {
	case tx.server != nil:
		title = tx.server.Title
		n.TaskID = tx.server.ID
	case tx.before.present:
		title = tx.before.task.Title
	case tx.before.hasDetail:
		title = tx.before.detail.Title
	}
	n.Message = fmt.Sprintf("Task \"%s\" %sd", title, tx.Kind)
	return n
}

func (s *taskSync) notify(n models.Notification) {
	if s.opts.Notifier == nil {
		return
	}
	if err := s.opts.Notifier.Notify(n); err != nil {
		s.logEvent("notification.failed", map[string]any{"message": n.Message, "error": err.Error()})
	}
}

func (s *taskSync) logEvent(eventType string, data map[string]any) {
	if s.opts.Events == nil {
		return
	}
	_ = s.opts.Events.LogEvent(eventType, data)
}
