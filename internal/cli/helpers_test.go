package cli

import (
	"bytes"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/valter-silva-au/tasksync/internal/core"
	"github.com/valter-silva-au/tasksync/internal/devserver"
	"github.com/valter-silva-au/tasksync/internal/integration"
	"github.com/valter-silva-au/tasksync/internal/observability"
	"github.com/valter-silva-au/tasksync/internal/transport"
	"github.com/valter-silva-au/tasksync/pkg/models"
)

var testNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

// newTestBackend starts an in-memory backend seeded with tasks and points
// the package-level Sync at it through the real transport. Everything is
// restored when the test ends.
func newTestBackend(t *testing.T, tasks ...models.Task) *devserver.Server {
	t.Helper()

	backend := devserver.New()
	backend.SetClock(func() time.Time { return testNow })
	backend.Seed(tasks...)
	srv := httptest.NewServer(backend.Handler())
	t.Cleanup(srv.Close)

	client, err := transport.New(transport.Config{
		BaseURL: srv.URL,
		Timeout: 2 * time.Second,
		Retries: 0,
	})
	if err != nil {
		t.Fatalf("transport.New: %v", err)
	}

	origSync, origNotes, origNow := Sync, Notifications, Now
	t.Cleanup(func() {
		Sync, Notifications, Now = origSync, origNotes, origNow
	})

	Now = func() time.Time { return testNow }
	Notifications = observability.NewRecorder()
	Sync = core.NewTaskSync(integration.NewTaskClient(client), nil, core.SyncOptions{
		Notifier: Notifications,
		Now:      Now,
	})
	return backend
}

// runCLI executes the root command with args and returns what it printed.
// Flags of every command are reset first so earlier tests do not leak.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	err := Execute()
	return out.String(), err
}

func resetFlags(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	})
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func seedTask(title string, p models.Priority, completed bool, due, created string) models.Task {
	return models.Task{Title: title, Priority: p, Completed: completed, DueDate: due, CreatedAt: created}
}
