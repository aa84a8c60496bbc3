package observability

import (
	"testing"
	"time"
)

func TestMetricsCalculator_Calculate(t *testing.T) {
	log := newTestLog(t)

	base := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	writeAll(t, log,
		Event{Time: base, Type: "mutation.started", Data: map[string]any{"kind": "create"}},
		Event{Time: base.Add(time.Second), Type: "mutation.succeeded", Data: map[string]any{"kind": "create", "duration_ms": 100}},
		Event{Time: base.Add(2 * time.Second), Type: "mutation.started", Data: map[string]any{"kind": "update"}},
		Event{Time: base.Add(3 * time.Second), Type: "http.retry", Data: map[string]any{"status": 503}},
		Event{Time: base.Add(4 * time.Second), Type: "http.error", Data: map[string]any{"status": 503}},
		Event{Time: base.Add(5 * time.Second), Type: "mutation.failed", Data: map[string]any{"kind": "update", "duration_ms": 300}},
		Event{Time: base.Add(6 * time.Second), Type: "mutation.started", Data: map[string]any{"kind": "update"}},
		Event{Time: base.Add(7 * time.Second), Type: "mutation.superseded", Data: map[string]any{"kind": "update"}},
		Event{Time: base.Add(8 * time.Second), Type: "read.discarded"},
		Event{Time: base.Add(9 * time.Second), Type: "read.failed"},
		Event{Time: base.Add(10 * time.Second), Type: "refresh.completed"},
	)

	m, err := NewMetricsCalculator(log).Calculate(base.Add(-time.Hour))
	if err != nil {
		t.Fatalf("calculating metrics: %v", err)
	}

	if m.MutationsStarted != 3 {
		t.Errorf("MutationsStarted = %d, want 3", m.MutationsStarted)
	}
	if m.MutationsByKind["create"] != 1 || m.MutationsByKind["update"] != 2 {
		t.Errorf("MutationsByKind = %v", m.MutationsByKind)
	}
	if m.MutationsSucceeded != 1 || m.MutationsFailed != 1 || m.MutationsSuperseded != 1 {
		t.Errorf("settled counts = %d/%d/%d, want 1/1/1",
			m.MutationsSucceeded, m.MutationsFailed, m.MutationsSuperseded)
	}
	if m.FailureRate != 50 {
		t.Errorf("FailureRate = %v, want 50", m.FailureRate)
	}
	if m.AvgMutationMS != 200 {
		t.Errorf("AvgMutationMS = %v, want 200", m.AvgMutationMS)
	}
	if m.HTTPRetries != 1 || m.HTTPErrors != 1 {
		t.Errorf("HTTP counts = %d retries, %d errors", m.HTTPRetries, m.HTTPErrors)
	}
	if m.HTTPErrorByStatus[503] != 1 {
		t.Errorf("HTTPErrorByStatus = %v", m.HTTPErrorByStatus)
	}
	if m.ReadsDiscarded != 1 || m.ReadsFailed != 1 || m.Refreshes != 1 {
		t.Errorf("read/refresh counts = %d/%d/%d", m.ReadsDiscarded, m.ReadsFailed, m.Refreshes)
	}
	if m.EventCount != 11 {
		t.Errorf("EventCount = %d, want 11", m.EventCount)
	}
	if m.OldestEvent == nil || !m.OldestEvent.Equal(base) {
		t.Errorf("OldestEvent = %v, want %v", m.OldestEvent, base)
	}
	if m.NewestEvent == nil || !m.NewestEvent.Equal(base.Add(10*time.Second)) {
		t.Errorf("NewestEvent = %v", m.NewestEvent)
	}
}

func TestMetricsCalculator_RespectsSince(t *testing.T) {
	log := newTestLog(t)

	base := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	writeAll(t, log,
		Event{Time: base, Type: "mutation.failed"},
		Event{Time: base.Add(2 * time.Hour), Type: "mutation.succeeded"},
	)

	m, err := NewMetricsCalculator(log).Calculate(base.Add(time.Hour))
	if err != nil {
		t.Fatalf("calculating metrics: %v", err)
	}
	if m.MutationsFailed != 0 || m.MutationsSucceeded != 1 {
		t.Errorf("expected only the later event, got %+v", m)
	}
	if m.FailureRate != 0 {
		t.Errorf("FailureRate = %v, want 0", m.FailureRate)
	}
}

func TestMetricsCalculator_EmptyLog(t *testing.T) {
	m, err := NewMetricsCalculator(newTestLog(t)).Calculate(time.Time{})
	if err != nil {
		t.Fatalf("calculating metrics: %v", err)
	}
	if m.EventCount != 0 || m.OldestEvent != nil || m.NewestEvent != nil {
		t.Errorf("expected empty metrics, got %+v", m)
	}
	if m.MutationsByKind == nil {
		t.Error("expected MutationsByKind to be non-nil")
	}
}
