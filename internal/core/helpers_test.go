package core

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/valter-silva-au/tasksync/pkg/models"
)

// fakeAPI implements TaskAPI with overridable behavior.
type fakeAPI struct {
	ListFunc   func(ctx context.Context) ([]models.Task, error)
	GetFunc    func(ctx context.Context, id string) (models.Task, error)
	CreateFunc func(ctx context.Context, draft models.TaskDraft) (models.Task, error)
	UpdateFunc func(ctx context.Context, id string, update models.TaskUpdate) (models.Task, error)
	RemoveFunc func(ctx context.Context, id string) error

	mu    sync.Mutex
	calls []string
}

func (f *fakeAPI) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeAPI) count(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if len(c) >= len(prefix) && c[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

func (f *fakeAPI) List(ctx context.Context) ([]models.Task, error) {
	f.record("list")
	if f.ListFunc != nil {
		return f.ListFunc(ctx)
	}
	return []models.Task{}, nil
}

func (f *fakeAPI) Get(ctx context.Context, id string) (models.Task, error) {
	f.record("get " + id)
	if f.GetFunc != nil {
		return f.GetFunc(ctx, id)
	}
	return models.Task{}, errNotFound
}

func (f *fakeAPI) Create(ctx context.Context, draft models.TaskDraft) (models.Task, error) {
	f.record("create")
	if f.CreateFunc != nil {
		return f.CreateFunc(ctx, draft)
	}
	return models.Task{ID: "1", Title: draft.Title, Priority: draft.Priority}, nil
}

func (f *fakeAPI) Update(ctx context.Context, id string, update models.TaskUpdate) (models.Task, error) {
	f.record("update " + id)
	if f.UpdateFunc != nil {
		return f.UpdateFunc(ctx, id, update)
	}
	return update.ApplyTo(models.Task{ID: id}), nil
}

func (f *fakeAPI) Remove(ctx context.Context, id string) error {
	f.record("remove " + id)
	if f.RemoveFunc != nil {
		return f.RemoveFunc(ctx, id)
	}
	return nil
}

type notFoundError struct{}

func (notFoundError) Error() string  { return "Not Found (HTTP 404)" }
func (notFoundError) NotFound() bool { return true }

var (
	errNotFound = notFoundError{}
	errServer   = errors.New("Internal Server Error (HTTP 500)")
)

// recordingNotifier collects notifications.
type recordingNotifier struct {
	mu    sync.Mutex
	items []models.Notification
}

func (r *recordingNotifier) Notify(n models.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, n)
	return nil
}

func (r *recordingNotifier) all() []models.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Notification(nil), r.items...)
}

// recordingEvents collects logged events.
type recordingEvents struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingEvents) LogEvent(eventType string, _ map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, eventType)
	return nil
}

func (r *recordingEvents) count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == eventType {
			n++
		}
	}
	return n
}

var fixedNow = time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)

func newTestSync(api TaskAPI) (TaskSync, *recordingNotifier, *recordingEvents) {
	n := &recordingNotifier{}
	ev := &recordingEvents{}
	ts := NewTaskSync(api, nil, SyncOptions{
		Notifier: n,
		Events:   ev,
		Now:      func() time.Time { return fixedNow },
	})
	return ts, n, ev
}

// seed loads tasks into the cache through a normal refresh.
func seed(t *testing.T, api *fakeAPI, ts TaskSync, tasks ...models.Task) {
	t.Helper()
	prev := api.ListFunc
	api.ListFunc = func(context.Context) ([]models.Task, error) {
		return append([]models.Task(nil), tasks...), nil
	}
	if _, err := ts.Refresh(context.Background()); err != nil {
		t.Fatalf("seeding cache: %v", err)
	}
	api.ListFunc = prev
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func task(id, title string) models.Task {
	return models.Task{
		ID:        id,
		Title:     title,
		Priority:  models.PriorityNone,
		CreatedAt: fmt.Sprintf("2025-01-%02dT00:00:00Z", len(id)%28+1),
	}
}

func ids(tasks []models.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	return out
}

func ptr[T any](v T) *T {
	return &v
}

func runtimeYield() {
	runtime.Gosched()
}
