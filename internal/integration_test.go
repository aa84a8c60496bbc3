package internal

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/valter-silva-au/tasksync/internal/core"
	"github.com/valter-silva-au/tasksync/internal/devserver"
	"github.com/valter-silva-au/tasksync/internal/observability"
	"github.com/valter-silva-au/tasksync/internal/transport"
	"github.com/valter-silva-au/tasksync/pkg/models"
)

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// newTestApp wires an App against an in-memory backend served over HTTP.
// extraConfig is appended to the generated .tsyncconfig.
func newTestApp(t *testing.T, extraConfig string) (*App, *devserver.Server, string) {
	t.Helper()
	backend := devserver.New()
	srv := httptest.NewServer(backend.Handler())
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	cfg := "api:\n  base_url: " + srv.URL + "\n  timeout_ms: 2000\n" + extraConfig
	if err := os.WriteFile(filepath.Join(dir, ".tsyncconfig"), []byte(cfg), 0o644); err != nil {
		t.Fatalf("writing .tsyncconfig: %v", err)
	}
	app, err := NewApp(dir)
	if err != nil {
		t.Fatalf("creating test app: %v", err)
	}
	t.Cleanup(func() { _ = app.Close() })
	return app, backend, srv.URL
}

func eventTypes(t *testing.T, log observability.EventLog, filter observability.EventFilter) []string {
	t.Helper()
	events, err := log.Read(filter)
	if err != nil {
		t.Fatalf("reading events: %v", err)
	}
	types := make([]string, len(events))
	for i, e := range events {
		types[i] = e.Type
	}
	return types
}

// ---------------------------------------------------------------------------
// wire format
// ---------------------------------------------------------------------------

func TestIntegration_SnakeCaseRoundTrip(t *testing.T) {
	app, backend, baseURL := newTestApp(t, "  retries: 0\n")
	ctx := context.Background()

	created, err := app.Sync.Create(ctx, models.TaskDraft{
		Title:    "Prepare demo",
		Priority: models.PriorityMedium,
		DueDate:  time.Now().AddDate(0, 0, 3).Format(core.DueDateLayout),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.CreatedAt == "" || created.DueDate == "" {
		t.Errorf("camel-case fields lost on the way back: %+v", created)
	}

	stored := backend.Tasks()
	if len(stored) != 1 || stored[0].DueDate != created.DueDate {
		t.Fatalf("backend stored %+v", stored)
	}

	resp, err := http.Get(baseURL + "/tasks/" + created.ID)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	var wire map[string]any
	if err := json.Unmarshal(raw, &wire); err != nil {
		t.Fatalf("decoding %s: %v", raw, err)
	}
	for _, key := range []string{"due_date", "created_at"} {
		if _, ok := wire[key]; !ok {
			t.Errorf("wire body missing %q: %s", key, raw)
		}
	}
	if _, ok := wire["dueDate"]; ok {
		t.Errorf("camel-case key leaked onto the wire: %s", raw)
	}
}

// ---------------------------------------------------------------------------
// retries and error normalization
// ---------------------------------------------------------------------------

func TestIntegration_RetriesUnavailable(t *testing.T) {
	app, backend, _ := newTestApp(t, "  retries: 2\n")
	backend.FailNext(devserver.Fault{Status: http.StatusServiceUnavailable, Message: "Warming up"})

	tasks, err := app.Sync.Tasks(context.Background())
	if err != nil {
		t.Fatalf("Tasks: %v", err)
	}
	if len(tasks) != 0 {
		t.Errorf("got %d tasks, want 0", len(tasks))
	}
	if backend.Calls() != 2 {
		t.Errorf("backend saw %d calls, want 2", backend.Calls())
	}
	if got := eventTypes(t, app.EventLog, observability.EventFilter{Type: "http.retry"}); len(got) != 1 {
		t.Errorf("http.retry events = %v, want 1", got)
	}
}

func TestIntegration_ClientErrorsAreNotRetried(t *testing.T) {
	app, backend, _ := newTestApp(t, "  retries: 3\n")

	_, err := app.Sync.Task(context.Background(), "task-404")
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, core.ErrTaskNotFound) {
		t.Errorf("err = %v, want ErrTaskNotFound", err)
	}
	var te *transport.Error
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want a wrapped *transport.Error", err)
	}
	if te.Status != http.StatusNotFound || te.Code != "not_found" || te.Message != "Task task-404 not found" {
		t.Errorf("transport error = %+v", te)
	}
	if te.RequestID == "" {
		t.Error("request id missing from error")
	}
	if backend.Calls() != 1 {
		t.Errorf("backend saw %d calls, want 1", backend.Calls())
	}
}

func TestIntegration_ServerValidationSurfaces(t *testing.T) {
	app, _, _ := newTestApp(t, "  retries: 0\n")

	// Bypasses client-side validation to exercise the 422 path.
	_, err := app.Sync.Create(context.Background(), models.TaskDraft{Title: "  "})
	var te *transport.Error
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want *transport.Error", err)
	}
	if te.Status != http.StatusUnprocessableEntity || te.Code != "validation_error" {
		t.Errorf("transport error = %+v", te)
	}
	if snap := app.Sync.Store().Snapshot(); snap.Loaded || len(snap.Tasks) != 0 {
		t.Errorf("failed create left cache state behind: %+v", snap.CacheState)
	}
}

// ---------------------------------------------------------------------------
// optimistic mutations
// ---------------------------------------------------------------------------

func TestIntegration_RollbackOnServerError(t *testing.T) {
	app, backend, _ := newTestApp(t, "  retries: 0\n")
	backend.Seed(models.Task{Title: "Stable", Priority: models.PriorityLow})
	ctx := context.Background()

	if _, err := app.Sync.Tasks(ctx); err != nil {
		t.Fatalf("Tasks: %v", err)
	}
	before := app.Sync.Store().Snapshot()

	backend.FailNext(devserver.Fault{Status: http.StatusInternalServerError, Message: "Disk full"})
	title := "Changed"
	_, err := app.Sync.Update(ctx, "task-1", models.TaskUpdate{Title: &title})
	if err == nil {
		t.Fatal("expected update to fail")
	}
	if !strings.Contains(err.Error(), "updating task task-1: Disk full (HTTP 500)") {
		t.Errorf("err = %v", err)
	}

	after := app.Sync.Store().Snapshot()
	got, _ := after.Find("task-1")
	want, _ := before.Find("task-1")
	if got != want {
		t.Errorf("cache after rollback = %+v, want %+v", got, want)
	}
	if app.Sync.IsMutating("task-1") {
		t.Error("task-1 still pending after rollback")
	}

	notes := app.Notifications.Drain()
	if len(notes) != 1 || notes[0].Kind != models.NotifyError || notes[0].Detail != "Disk full (HTTP 500)" {
		t.Errorf("notifications = %+v", notes)
	}
	types := eventTypes(t, app.EventLog, observability.EventFilter{TypePrefix: "mutation."})
	if strings.Join(types, ",") != "mutation.started,mutation.failed" {
		t.Errorf("mutation events = %v", types)
	}
}

func TestIntegration_SameTaskUpdatesLastIntentWins(t *testing.T) {
	app, backend, _ := newTestApp(t, "  retries: 0\n")
	backend.Seed(models.Task{Title: "Original"})
	ctx := context.Background()
	if _, err := app.Sync.Tasks(ctx); err != nil {
		t.Fatalf("Tasks: %v", err)
	}

	// The first PATCH is held back so the second is issued while it is in flight.
	backend.FailNext(devserver.Fault{Delay: 150 * time.Millisecond})

	first, second := "First", "Second"
	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, errs[0] = app.Sync.Update(ctx, "task-1", models.TaskUpdate{Title: &first})
	}()
	// Wait until the first optimistic write is visible before issuing the second.
	deadline := time.Now().Add(2 * time.Second)
	for !app.Sync.IsMutating("task-1") && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, errs[1] = app.Sync.Update(ctx, "task-1", models.TaskUpdate{Title: &second})
	}()
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("update %d: %v", i, err)
		}
	}
	if got := backend.Tasks()[0].Title; got != "Second" {
		t.Errorf("server title = %q, want Second", got)
	}
	cached, _ := app.Sync.Store().Snapshot().Find("task-1")
	if cached.Title != "Second" {
		t.Errorf("cached title = %q, want Second", cached.Title)
	}

	// Only the latest intent notifies; the superseded one settles silently.
	if notes := app.Notifications.Drain(); len(notes) != 1 {
		t.Errorf("got %d notifications, want 1: %+v", len(notes), notes)
	}
	types := eventTypes(t, app.EventLog, observability.EventFilter{TypePrefix: "mutation."})
	if strings.Count(strings.Join(types, ","), "mutation.superseded") != 1 {
		t.Errorf("mutation events = %v, want one superseded", types)
	}
}

func TestIntegration_CreateThenDelete(t *testing.T) {
	app, backend, _ := newTestApp(t, "  retries: 0\n")
	ctx := context.Background()

	created, err := app.Sync.Create(ctx, models.TaskDraft{Title: "Short lived"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.IsPending() {
		t.Errorf("server id expected, got %q", created.ID)
	}
	if err := app.Sync.Delete(ctx, created.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(backend.Tasks()) != 0 {
		t.Errorf("backend still holds %+v", backend.Tasks())
	}

	tasks, err := app.Sync.Tasks(ctx)
	if err != nil {
		t.Fatalf("Tasks: %v", err)
	}
	if len(tasks) != 0 {
		t.Errorf("cache still holds %+v", tasks)
	}
}

// ---------------------------------------------------------------------------
// observability
// ---------------------------------------------------------------------------

func TestIntegration_FailuresRaiseAlert(t *testing.T) {
	app, backend, _ := newTestApp(t, "  retries: 0\nalerts:\n  min_mutations: 2\n  failure_rate_percent: 50\n")
	backend.Seed(models.Task{Title: "Target"})
	ctx := context.Background()

	backend.FailNext(
		devserver.Fault{Status: http.StatusInternalServerError},
		devserver.Fault{Status: http.StatusInternalServerError},
	)
	done := true
	for i := 0; i < 2; i++ {
		if _, err := app.Sync.Update(ctx, "task-1", models.TaskUpdate{Completed: &done}); err == nil {
			t.Fatalf("update %d should fail", i)
		}
	}

	metrics, err := app.MetricsCalc.Calculate(time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if metrics.MutationsFailed != 2 || metrics.FailureRate != 100 {
		t.Errorf("metrics = %+v", metrics)
	}
	if metrics.HTTPErrors != 2 {
		t.Errorf("HTTPErrors = %d, want 2", metrics.HTTPErrors)
	}

	alerts, err := app.AlertEngine.Evaluate()
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	found := false
	for _, a := range alerts {
		if a.Condition == "mutation_failure_rate" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected mutation_failure_rate alert, got %+v", alerts)
	}
}

func TestIntegration_RefresherPicksUpRemoteChanges(t *testing.T) {
	app, backend, _ := newTestApp(t, "  retries: 0\nrefresh:\n  schedule: \"@every 1s\"\n")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := app.Sync.Tasks(ctx); err != nil {
		t.Fatalf("Tasks: %v", err)
	}
	if err := app.Refresher.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	backend.Seed(models.Task{Title: "Added remotely"})

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if snap := app.Sync.Store().Snapshot(); len(snap.Tasks) == 1 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("refresher did not fetch the remote task")
}
