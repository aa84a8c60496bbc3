package observability

import (
	"fmt"
	"time"
)

// Metrics summarizes sync activity recorded in the event log.
type Metrics struct {
	MutationsStarted    int            `json:"mutations_started" yaml:"mutations_started"`
	MutationsSucceeded  int            `json:"mutations_succeeded" yaml:"mutations_succeeded"`
	MutationsFailed     int            `json:"mutations_failed" yaml:"mutations_failed"`
	MutationsSuperseded int            `json:"mutations_superseded" yaml:"mutations_superseded"`
	MutationsByKind     map[string]int `json:"mutations_by_kind" yaml:"mutations_by_kind"`
	// FailureRate is failed / (succeeded + failed), in percent.
	FailureRate       float64     `json:"failure_rate_percent" yaml:"failure_rate_percent"`
	AvgMutationMS     float64     `json:"avg_mutation_ms" yaml:"avg_mutation_ms"`
	HTTPRetries       int         `json:"http_retries" yaml:"http_retries"`
	HTTPErrors        int         `json:"http_errors" yaml:"http_errors"`
	HTTPErrorByStatus map[int]int `json:"http_errors_by_status" yaml:"http_errors_by_status"`
	ReadsDiscarded    int         `json:"reads_discarded" yaml:"reads_discarded"`
	ReadsFailed       int         `json:"reads_failed" yaml:"reads_failed"`
	Refreshes         int         `json:"refreshes" yaml:"refreshes"`
	EventCount        int         `json:"event_count" yaml:"event_count"`
	OldestEvent       *time.Time  `json:"oldest_event,omitempty" yaml:"oldest_event,omitempty"`
	NewestEvent       *time.Time  `json:"newest_event,omitempty" yaml:"newest_event,omitempty"`
}

// MetricsCalculator derives metrics from the event log.
type MetricsCalculator interface {
	Calculate(since time.Time) (*Metrics, error)
}

type metricsCalculator struct {
	eventLog EventLog
}

// NewMetricsCalculator creates a MetricsCalculator that reads from eventLog.
func NewMetricsCalculator(eventLog EventLog) MetricsCalculator {
	return &metricsCalculator{eventLog: eventLog}
}

// Calculate aggregates every event since the given time.
func (mc *metricsCalculator) Calculate(since time.Time) (*Metrics, error) {
	events, err := mc.eventLog.Read(EventFilter{Since: &since})
	if err != nil {
		return nil, fmt.Errorf("reading events for metrics: %w", err)
	}

	m := &Metrics{
		MutationsByKind:   make(map[string]int),
		HTTPErrorByStatus: make(map[int]int),
		EventCount:        len(events),
	}

	var settledMS float64
	var settled int
	for i, event := range events {
		if i == 0 {
			t := event.Time
			m.OldestEvent = &t
		}
		t := event.Time
		m.NewestEvent = &t

		switch event.Type {
		case "mutation.started":
			m.MutationsStarted++
			if kind, ok := event.Data["kind"].(string); ok {
				m.MutationsByKind[kind]++
			}
		case "mutation.succeeded", "mutation.failed":
			if event.Type == "mutation.succeeded" {
				m.MutationsSucceeded++
			} else {
				m.MutationsFailed++
			}
			if ms, ok := number(event.Data["duration_ms"]); ok {
				settledMS += ms
				settled++
			}
		case "mutation.superseded":
			m.MutationsSuperseded++
		case "http.retry":
			m.HTTPRetries++
		case "http.error":
			m.HTTPErrors++
			if status, ok := number(event.Data["status"]); ok {
				m.HTTPErrorByStatus[int(status)]++
			}
		case "read.discarded":
			m.ReadsDiscarded++
		case "read.failed":
			m.ReadsFailed++
		case "refresh.completed":
			m.Refreshes++
		}
	}

	if total := m.MutationsSucceeded + m.MutationsFailed; total > 0 {
		m.FailureRate = float64(m.MutationsFailed) * 100 / float64(total)
	}
	if settled > 0 {
		m.AvgMutationMS = settledMS / float64(settled)
	}
	return m, nil
}

// number reads a numeric field decoded from JSON (float64) or set in
// process (int, int64).
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
