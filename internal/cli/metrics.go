package cli

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	metricsJSON  bool
	metricsSince string
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Display sync metrics",
	Long: `Display metrics derived from the event log.

Metrics include mutations by kind and outcome, the mutation failure rate,
request retries, transport errors, and discarded reads.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if MetricsCalc == nil {
			return fmt.Errorf("metrics calculator not initialized (observability may be disabled)")
		}

		sinceTime, err := parseSinceDuration(metricsSince)
		if err != nil {
			return fmt.Errorf("parsing --since: %w", err)
		}

		metrics, err := MetricsCalc.Calculate(sinceTime)
		if err != nil {
			return fmt.Errorf("calculating metrics: %w", err)
		}

		out := cmd.OutOrStdout()
		if metricsJSON {
			data, err := json.MarshalIndent(metrics, "", "  ")
			if err != nil {
				return fmt.Errorf("formatting metrics as JSON: %w", err)
			}
			fmt.Fprintln(out, string(data))
			return nil
		}

		fmt.Fprintf(out, "Metrics (since %s)\n\n", sinceTime.Format("2006-01-02 15:04"))
		fmt.Fprintf(out, "  %-24s %d\n", "Events recorded:", metrics.EventCount)
		fmt.Fprintf(out, "  %-24s %d\n", "Mutations started:", metrics.MutationsStarted)
		fmt.Fprintf(out, "  %-24s %d\n", "Succeeded:", metrics.MutationsSucceeded)
		fmt.Fprintf(out, "  %-24s %d\n", "Rolled back:", metrics.MutationsFailed)
		fmt.Fprintf(out, "  %-24s %d\n", "Superseded:", metrics.MutationsSuperseded)
		fmt.Fprintf(out, "  %-24s %.1f%%\n", "Failure rate:", metrics.FailureRate)
		fmt.Fprintf(out, "  %-24s %.0fms\n", "Avg mutation time:", metrics.AvgMutationMS)
		fmt.Fprintf(out, "  %-24s %d\n", "Request retries:", metrics.HTTPRetries)
		fmt.Fprintf(out, "  %-24s %d\n", "Transport errors:", metrics.HTTPErrors)
		fmt.Fprintf(out, "  %-24s %d\n", "Reads discarded:", metrics.ReadsDiscarded)

		if len(metrics.MutationsByKind) > 0 {
			fmt.Fprintln(out, "\n  Mutations by kind:")
			kinds := make([]string, 0, len(metrics.MutationsByKind))
			for k := range metrics.MutationsByKind {
				kinds = append(kinds, k)
			}
			slices.Sort(kinds)
			for _, k := range kinds {
				fmt.Fprintf(out, "    %-20s %d\n", k+":", metrics.MutationsByKind[k])
			}
		}

		if metrics.OldestEvent != nil {
			fmt.Fprintf(out, "\n  %-24s %s\n", "Oldest event:", metrics.OldestEvent.Format(time.RFC3339))
		}
		if metrics.NewestEvent != nil {
			fmt.Fprintf(out, "  %-24s %s\n", "Newest event:", metrics.NewestEvent.Format(time.RFC3339))
		}

		return nil
	},
}

// parseSinceDuration parses a human-friendly duration string like "7d" or
// "24h" and returns the corresponding time in the past.
func parseSinceDuration(s string) (time.Time, error) {
	now := Now().UTC()
	s = strings.TrimSpace(s)
	if s == "" {
		return now.Add(-24 * time.Hour), nil
	}

	if strings.HasSuffix(s, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid day duration %q", s)
		}
		return now.AddDate(0, 0, -days), nil
	}

	if strings.HasSuffix(s, "h") {
		hours, err := strconv.Atoi(strings.TrimSuffix(s, "h"))
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid hour duration %q", s)
		}
		return now.Add(-time.Duration(hours) * time.Hour), nil
	}

	return time.Time{}, fmt.Errorf("unsupported duration format %q (use e.g. 7d, 24h)", s)
}

func init() {
	metricsCmd.Flags().BoolVar(&metricsJSON, "json", false, "Output metrics as JSON")
	metricsCmd.Flags().StringVar(&metricsSince, "since", "24h", "Time window for metrics (e.g. 7d, 24h)")
	rootCmd.AddCommand(metricsCmd)
}
