// Package internal provides the App struct that wires all components of
// tsync together and initializes the CLI layer.
package internal

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/valter-silva-au/tasksync/internal/cli"
	"github.com/valter-silva-au/tasksync/internal/core"
	"github.com/valter-silva-au/tasksync/internal/integration"
	"github.com/valter-silva-au/tasksync/internal/observability"
	"github.com/valter-silva-au/tasksync/internal/transport"
	"github.com/valter-silva-au/tasksync/pkg/models"
)

// EventLogFileName is the JSONL event log written under the base path.
const EventLogFileName = ".tsync_events.jsonl"

// App holds all service dependencies for tsync.
type App struct {
	BasePath string

	// Configuration
	ConfigMgr core.ConfigurationManager
	Config    *models.ClientConfig

	// Transport and resource client
	Transport  *transport.Client
	TaskClient integration.TaskClient

	// Core services
	Sync      core.TaskSync
	Refresher *core.Refresher

	// Observability
	EventLog      observability.EventLog
	AlertEngine   observability.AlertEngine
	MetricsCalc   observability.MetricsCalculator
	Notifications *observability.Recorder
	Slack         *observability.SlackNotifier
}

// NewApp creates and wires all components. basePath is the directory holding
// .tsyncconfig and the event log. An invalid configuration is an error; a
// missing one falls back to defaults.
func NewApp(basePath string) (*App, error) {
	app := &App{BasePath: basePath}

	// --- Configuration ---
	app.ConfigMgr = core.NewConfigurationManager(basePath)
	cfg, err := app.ConfigMgr.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	app.Config = cfg

	// --- Observability ---
	app.EventLog, err = observability.NewJSONLEventLog(filepath.Join(basePath, EventLogFileName))
	if err != nil {
		// Non-fatal: run without observability if the log can't be created.
		app.EventLog = nil
	}
	var events core.EventLogger
	if app.EventLog != nil {
		events = &eventLogAdapter{log: app.EventLog}
		app.AlertEngine = observability.NewAlertEngine(app.EventLog, observability.ThresholdsFromConfig(cfg.Alerts))
		app.MetricsCalc = observability.NewMetricsCalculator(app.EventLog)
	}

	app.Notifications = observability.NewRecorder()
	notifiers := observability.MultiNotifier{app.Notifications}
	if app.EventLog != nil {
		notifiers = append(notifiers, observability.NewEventLogNotifier(app.EventLog))
	}
	if cfg.Notifications.Enabled && cfg.Notifications.Slack.WebhookURL != "" {
		app.Slack = observability.NewSlackNotifier(cfg.Notifications.Slack.WebhookURL)
		notifiers = append(notifiers, app.Slack)
	}

	// --- Transport ---
	tc := transport.Config{
		BaseURL: cfg.API.BaseURL,
		Timeout: cfg.API.Timeout(),
		Retries: cfg.API.Retries,
		Token:   cfg.API.Token,
		Debug:   cfg.Debug,
	}
	if events != nil {
		tc.Logger = events
	}
	app.Transport, err = transport.New(tc)
	if err != nil {
		return nil, fmt.Errorf("creating transport: %w", err)
	}
	app.TaskClient = integration.NewTaskClient(app.Transport)

	// --- Core services ---
	app.Sync = core.NewTaskSync(app.TaskClient, core.NewStore(), core.SyncOptions{
		Notifier: notifiers,
		Events:   events,
	})
	if cfg.RefreshCron != "" {
		app.Refresher = core.NewRefresher(app.Sync, cfg.RefreshCron, cfg.API.Timeout(), events)
	}

	// --- Wire CLI package-level variables ---
	cli.Sync = app.Sync
	cli.Config = app.Config
	cli.Refresher = app.Refresher
	cli.Notifications = app.Notifications

	cli.EventLog = app.EventLog
	cli.AlertEngine = app.AlertEngine
	cli.MetricsCalc = app.MetricsCalc
	if app.Slack != nil {
		cli.AlertNotifier = app.Slack
	}

	return app, nil
}

// Close releases resources held by the App, such as the event log file handle.
// It is safe to call Close on an App whose EventLog is nil.
func (a *App) Close() error {
	if a.Refresher != nil {
		a.Refresher.Stop()
	}
	if a.EventLog != nil {
		return a.EventLog.Close()
	}
	return nil
}

// ResolveBasePath determines the directory holding .tsyncconfig. It checks
// the TSYNC_HOME env var, then walks up from the current directory, then
// falls back to the current directory.
func ResolveBasePath() string {
	if home := os.Getenv("TSYNC_HOME"); home != "" {
		return home
	}
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, core.ConfigFileName)); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	cwd, _ := os.Getwd()
	return cwd
}

// eventLogAdapter adapts observability.EventLog to the EventLogger
// interface shared by core and transport.
type eventLogAdapter struct {
	log observability.EventLog
}

func (a *eventLogAdapter) LogEvent(eventType string, data map[string]any) error {
	return a.log.Write(observability.Event{
		Time:    time.Now().UTC(),
		Level:   observability.LevelFor(eventType),
		Type:    eventType,
		Message: eventType,
		Data:    data,
	})
}
