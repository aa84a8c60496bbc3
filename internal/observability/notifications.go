package observability

import (
	"errors"
	"sync"
	"time"

	"github.com/valter-silva-au/tasksync/pkg/models"
)

// Notifier receives notification intents emitted when a mutation settles.
type Notifier interface {
	Notify(n models.Notification) error
}

// Recorder keeps notifications in memory until they are drained. The CLI
// drains it after each command to print what happened.
type Recorder struct {
	mu    sync.Mutex
	items []models.Notification
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Notify(n models.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, n)
	return nil
}

// Drain returns the recorded notifications in arrival order and forgets them.
func (r *Recorder) Drain() []models.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.items
	r.items = nil
	return out
}

// EventLogNotifier persists notifications as "notification.<kind>" events.
type EventLogNotifier struct {
	log EventLog
}

// NewEventLogNotifier returns a Notifier writing to log.
func NewEventLogNotifier(log EventLog) *EventLogNotifier {
	return &EventLogNotifier{log: log}
}

func (e *EventLogNotifier) Notify(n models.Notification) error {
	at := n.Time
	if at.IsZero() {
		at = time.Now().UTC()
	}
	level := LevelInfo
	if n.Kind == models.NotifyError {
		level = LevelError
	}
	data := map[string]any{"kind": string(n.Kind)}
	if n.TaskID != "" {
		data["task_id"] = n.TaskID
	}
	if n.Detail != "" {
		data["detail"] = n.Detail
	}
	return e.log.Write(Event{
		Time:    at,
		Level:   level,
		Type:    "notification." + string(n.Kind),
		Message: n.Message,
		Data:    data,
	})
}

// MultiNotifier fans a notification out to every wrapped Notifier. All of
// them are called even if some fail.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(n models.Notification) error {
	var errs []error
	for _, target := range m {
		if err := target.Notify(n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
