package observability

import (
	"fmt"
	"time"

	"github.com/valter-silva-au/tasksync/pkg/models"
)

// AlertSeverity represents the urgency of an alert.
type AlertSeverity string

const (
	SeverityHigh   AlertSeverity = "high"
	SeverityMedium AlertSeverity = "medium"
	SeverityLow    AlertSeverity = "low"
)

// Alert represents a triggered alert condition.
type Alert struct {
	ID          string        `json:"id"`
	Condition   string        `json:"condition"`
	Severity    AlertSeverity `json:"severity"`
	Message     string        `json:"message"`
	TriggeredAt time.Time     `json:"triggered_at"`
}

// AlertThresholds configures when alerts fire. Only events inside Window
// are considered.
type AlertThresholds struct {
	FailureRatePercent int           `yaml:"failure_rate_percent" json:"failure_rate_percent"`
	MinMutations       int           `yaml:"min_mutations" json:"min_mutations"`
	MaxRetries         int           `yaml:"max_retries" json:"max_retries"`
	Window             time.Duration `yaml:"window" json:"window"`
}

// DefaultAlertThresholds returns sensible defaults for alert thresholds.
func DefaultAlertThresholds() AlertThresholds {
	return AlertThresholds{
		FailureRatePercent: 50,
		MinMutations:       5,
		MaxRetries:         20,
		Window:             time.Hour,
	}
}

// ThresholdsFromConfig builds thresholds from the alerts section of the
// client configuration, using the default window.
func ThresholdsFromConfig(cfg models.AlertConfig) AlertThresholds {
	th := DefaultAlertThresholds()
	th.FailureRatePercent = cfg.FailureRatePercent
	th.MinMutations = cfg.MinMutations
	th.MaxRetries = cfg.MaxRetries
	return th
}

// AlertEngine evaluates alert conditions against the event log.
type AlertEngine interface {
	Evaluate() ([]Alert, error)
}

type alertEngine struct {
	eventLog   EventLog
	thresholds AlertThresholds
	now        func() time.Time
}

// NewAlertEngine creates a new AlertEngine with the given EventLog and thresholds.
func NewAlertEngine(eventLog EventLog, thresholds AlertThresholds) AlertEngine {
	if thresholds.Window <= 0 {
		thresholds.Window = DefaultAlertThresholds().Window
	}
	return &alertEngine{
		eventLog:   eventLog,
		thresholds: thresholds,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Evaluate reads the events inside the window and checks every condition.
func (ae *alertEngine) Evaluate() ([]Alert, error) {
	now := ae.now()
	since := now.Add(-ae.thresholds.Window)
	events, err := ae.eventLog.Read(EventFilter{Since: &since})
	if err != nil {
		return nil, fmt.Errorf("reading events for alerts: %w", err)
	}

	var alerts []Alert
	if a, ok := ae.checkFailureRate(events, now); ok {
		alerts = append(alerts, a)
	}
	if a, ok := ae.checkRetryStorm(events, now); ok {
		alerts = append(alerts, a)
	}
	if a, ok := ae.checkRefreshFailing(events, now); ok {
		alerts = append(alerts, a)
	}
	return alerts, nil
}

// checkFailureRate fires when enough mutations settled and too many of them
// were rolled back.
func (ae *alertEngine) checkFailureRate(events []Event, now time.Time) (Alert, bool) {
	var succeeded, failed int
	for _, e := range events {
		switch e.Type {
		case "mutation.succeeded":
			succeeded++
		case "mutation.failed":
			failed++
		}
	}
	total := succeeded + failed
	if total == 0 || total < ae.thresholds.MinMutations {
		return Alert{}, false
	}
	rate := failed * 100 / total
	if rate < ae.thresholds.FailureRatePercent {
		return Alert{}, false
	}
	return Alert{
		ID:        "mutation-failure-rate",
		Condition: "mutation_failure_rate",
		Severity:  SeverityHigh,
		Message: fmt.Sprintf("%d of %d mutations failed in the last %s (%d%%, threshold %d%%)",
			failed, total, ae.thresholds.Window, rate, ae.thresholds.FailureRatePercent),
		TriggeredAt: now,
	}, true
}

func (ae *alertEngine) checkRetryStorm(events []Event, now time.Time) (Alert, bool) {
	var retries int
	for _, e := range events {
		if e.Type == "http.retry" {
			retries++
		}
	}
	if retries <= ae.thresholds.MaxRetries {
		return Alert{}, false
	}
	return Alert{
		ID:        "retry-storm",
		Condition: "retry_storm",
		Severity:  SeverityMedium,
		Message: fmt.Sprintf("%d request retries in the last %s exceed the limit of %d",
			retries, ae.thresholds.Window, ae.thresholds.MaxRetries),
		TriggeredAt: now,
	}, true
}

// checkRefreshFailing fires when the most recent scheduled refresh failed.
func (ae *alertEngine) checkRefreshFailing(events []Event, now time.Time) (Alert, bool) {
	var last *Event
	for i := range events {
		switch events[i].Type {
		case "refresh.completed", "refresh.failed":
			last = &events[i]
		}
	}
	if last == nil || last.Type != "refresh.failed" {
		return Alert{}, false
	}
	msg := "the last scheduled refresh failed"
	if reason, ok := last.Data["error"].(string); ok && reason != "" {
		msg += ": " + reason
	}
	return Alert{
		ID:          "refresh-failing",
		Condition:   "refresh_failing",
		Severity:    SeverityLow,
		Message:     msg,
		TriggeredAt: now,
	}, true
}
