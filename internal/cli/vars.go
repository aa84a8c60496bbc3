package cli

import (
	"time"

	"github.com/valter-silva-au/tasksync/internal/core"
	"github.com/valter-silva-au/tasksync/internal/observability"
	"github.com/valter-silva-au/tasksync/pkg/models"
)

// Core service instances, set during app initialization in app.go.
var (
	Sync   core.TaskSync
	Config *models.ClientConfig

	// Refresher is set when refresh.schedule is configured. Long-running
	// commands start it.
	Refresher *core.Refresher
	// Now is the clock used for validation and relative dates.
	Now = time.Now
)

// Observability service instances, set during app initialization in app.go.
var (
	EventLog      observability.EventLog
	AlertEngine   observability.AlertEngine
	MetricsCalc   observability.MetricsCalculator
	AlertNotifier observability.AlertNotifier
	// Notifications collects the notification intents emitted while a
	// command runs so they can be printed once it finishes.
	Notifications *observability.Recorder
)
