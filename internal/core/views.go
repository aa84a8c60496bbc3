package core

import (
	"slices"
	"sync"
	"time"

	"github.com/valter-silva-au/tasksync/pkg/models"
)

// View is the derived, read-only task sequence plus aggregates.
type View struct {
	// Tasks is filtered and sorted; callers must not modify it.
	Tasks  []models.Task
	Filter models.Filter
	Sort   models.SortSpec
	// Counts describe the whole collection, ignoring the filter.
	TotalCount     int
	ActiveCount    int
	CompletedCount int
	// Ready is false until the collection has been fetched.
	Ready bool
}

// IsEmpty reports whether a fetched collection leaves nothing to show after
// filtering.
func (v View) IsEmpty() bool {
	return v.Ready && len(v.Tasks) == 0
}

// HasTasks reports whether the filtered view shows at least one task.
func (v View) HasTasks() bool {
	return v.Ready && len(v.Tasks) > 0
}

// DeriveView filters and sorts tasks. It never modifies tasks.
func DeriveView(tasks []models.Task, loaded bool, filter models.Filter, sortSpec models.SortSpec) View {
	v := View{Filter: filter, Sort: sortSpec, Ready: loaded, TotalCount: len(tasks)}
	for _, t := range tasks {
		if t.Completed {
			v.CompletedCount++
		} else {
			v.ActiveCount++
		}
	}

	out := make([]models.Task, 0, len(tasks))
	for _, t := range tasks {
		if matches(t, filter) {
			out = append(out, t)
		}
	}
	slices.SortStableFunc(out, compareFor(sortSpec))
	v.Tasks = out
	return v
}

func matches(t models.Task, f models.Filter) bool {
	switch f.Status {
	case models.StatusActive:
		if t.Completed {
			return false
		}
	case models.StatusCompleted:
		if !t.Completed {
			return false
		}
	}
	return f.Priority == nil || t.Priority == *f.Priority
}

func compareFor(spec models.SortSpec) func(a, b models.Task) int {
	sign := 1
	if spec.Direction == models.SortDesc {
		sign = -1
	}

	switch spec.Field {
	case models.SortByPriority:
		return func(a, b models.Task) int {
			return sign * (a.Priority.Rank() - b.Priority.Rank())
		}
	case models.SortByDueDate:
		return func(a, b models.Task) int {
			at, aok := ParseDate(a.DueDate, time.UTC)
			bt, bok := ParseDate(b.DueDate, time.UTC)
			switch {
			case aok && bok:
				return sign * at.Compare(bt)
			case aok:
				return -1
			case bok:
				return 1
			}
			return 0
		}
	default:
		return func(a, b models.Task) int {
			at, _ := ParseDate(a.CreatedAt, time.UTC)
			bt, _ := ParseDate(b.CreatedAt, time.UTC)
			return sign * at.Compare(bt)
		}
	}
}

// TaskView keeps a View current: it recomputes whenever the store publishes
// a snapshot or the filter or sort changes, and tells its listeners.
type TaskView struct {
	mu        sync.Mutex
	snap      *Snapshot
	filter    models.Filter
	sort      models.SortSpec
	view      View
	listeners map[int]func(View)
	nextID    int
	stop      func()
}

// NewTaskView subscribes a view to store.
func NewTaskView(store *Store, filter models.Filter, sortSpec models.SortSpec) *TaskView {
	tv := &TaskView{
		snap:      store.Snapshot(),
		filter:    filter,
		sort:      sortSpec,
		listeners: make(map[int]func(View)),
	}
	tv.view = DeriveView(tv.snap.Tasks, tv.snap.Loaded, filter, sortSpec)
	tv.stop = store.Subscribe(func(snap *Snapshot) {
		tv.update(func() { tv.snap = snap })
	})
	return tv
}

// Current returns the latest view.
func (tv *TaskView) Current() View {
	tv.mu.Lock()
	defer tv.mu.Unlock()
	return tv.view
}

// SetFilter replaces the filter and recomputes.
func (tv *TaskView) SetFilter(f models.Filter) {
	tv.update(func() { tv.filter = f })
}

// SetSort replaces the sort specification and recomputes.
func (tv *TaskView) SetSort(s models.SortSpec) {
	tv.update(func() { tv.sort = s })
}

// OnChange registers fn to run after every recomputation. The returned func
// removes it.
func (tv *TaskView) OnChange(fn func(View)) func() {
	tv.mu.Lock()
	id := tv.nextID
	tv.nextID++
	tv.listeners[id] = fn
	tv.mu.Unlock()

	return func() {
		tv.mu.Lock()
		delete(tv.listeners, id)
		tv.mu.Unlock()
	}
}

// Close stops following the store.
func (tv *TaskView) Close() {
	tv.stop()
}

func (tv *TaskView) update(change func()) {
	tv.mu.Lock()
	change()
	tv.view = DeriveView(tv.snap.Tasks, tv.snap.Loaded, tv.filter, tv.sort)
	v := tv.view
	fns := make([]func(View), 0, len(tv.listeners))
	for _, fn := range tv.listeners {
		fns = append(fns, fn)
	}
	tv.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}
