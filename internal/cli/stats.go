package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/valter-silva-au/tasksync/internal/core"
	"github.com/valter-silva-au/tasksync/pkg/models"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count tasks by completion, priority and due date",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Sync == nil {
			return errNotInitialized
		}
		tasks, err := Sync.Tasks(cmd.Context())
		if err != nil {
			return fmt.Errorf("fetching tasks: %w", err)
		}

		s := computeStats(tasks)
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Tasks\n\n")
		fmt.Fprintf(out, "  %-14s %d\n", "Total:", s.total)
		fmt.Fprintf(out, "  %-14s %d\n", "Active:", s.active)
		fmt.Fprintf(out, "  %-14s %d\n", "Completed:", s.completed)
		fmt.Fprintf(out, "  %-14s %d\n", "Overdue:", s.overdue)
		fmt.Fprintf(out, "  %-14s %d\n", "Due today:", s.dueToday)
		fmt.Fprintln(out, "\n  By priority:")
		for i := len(models.Priorities) - 1; i >= 0; i-- {
			p := models.Priorities[i]
			fmt.Fprintf(out, "    %-12s %d\n", string(p)+":", s.byPriority[p])
		}
		return nil
	},
}

type taskStats struct {
	total, active, completed int
	overdue, dueToday        int
	byPriority               map[models.Priority]int
}

// computeStats counts the collection. Overdue and due-today only consider
// active tasks.
func computeStats(tasks []models.Task) taskStats {
	view := core.DeriveView(tasks, true, models.DefaultFilter(), models.DefaultSort())
	s := taskStats{
		total:      view.TotalCount,
		active:     view.ActiveCount,
		completed:  view.CompletedCount,
		byPriority: make(map[models.Priority]int),
	}
	now := Now()
	for _, t := range tasks {
		s.byPriority[t.Priority]++
		if t.Completed || t.DueDate == "" {
			continue
		}
		due, ok := core.ParseDate(t.DueDate, now.Location())
		if !ok {
			continue
		}
		switch days := core.DaysBetween(now, due); {
		case days < 0:
			s.overdue++
		case days == 0:
			s.dueToday++
		}
	}
	return s
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
