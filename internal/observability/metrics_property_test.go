package observability

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"pgregory.net/rapid"
)

// For any mix of settled mutations, the calculator counts each outcome once
// and the failure rate matches the counts.
func TestProperty_MetricsMatchSettledMutations(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		log, err := NewJSONLEventLog(filepath.Join(t.TempDir(), fmt.Sprintf("events-%d.jsonl", time.Now().UnixNano())))
		if err != nil {
			rt.Fatalf("creating event log: %v", err)
		}
		defer log.Close()

		outcomes := rapid.SliceOf(rapid.SampledFrom([]string{
			"mutation.succeeded", "mutation.failed", "mutation.superseded",
		})).Draw(rt, "outcomes")

		base := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
		want := map[string]int{}
		for i, typ := range outcomes {
			want[typ]++
			if err := log.Write(Event{Time: base.Add(time.Duration(i) * time.Second), Type: typ}); err != nil {
				rt.Fatalf("writing event: %v", err)
			}
		}

		m, err := NewMetricsCalculator(log).Calculate(base)
		if err != nil {
			rt.Fatalf("calculating metrics: %v", err)
		}
		if m.MutationsSucceeded != want["mutation.succeeded"] ||
			m.MutationsFailed != want["mutation.failed"] ||
			m.MutationsSuperseded != want["mutation.superseded"] {
			rt.Fatalf("counts %+v do not match %v", m, want)
		}

		total := m.MutationsSucceeded + m.MutationsFailed
		if total == 0 {
			if m.FailureRate != 0 {
				rt.Fatalf("FailureRate = %v with no settled mutations", m.FailureRate)
			}
			return
		}
		expected := float64(m.MutationsFailed) * 100 / float64(total)
		if m.FailureRate != expected {
			rt.Fatalf("FailureRate = %v, want %v", m.FailureRate, expected)
		}
		if m.FailureRate < 0 || m.FailureRate > 100 {
			rt.Fatalf("FailureRate %v out of range", m.FailureRate)
		}
	})
}
