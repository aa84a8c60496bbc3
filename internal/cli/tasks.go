package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/valter-silva-au/tasksync/internal/core"
	"github.com/valter-silva-au/tasksync/pkg/models"
)

var errNotInitialized = errors.New("task sync not initialized")

var (
	listStatus    string
	listPriority  string
	listSort      string
	listDirection string
	listOutput    string
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List tasks",
	Long: `List tasks from the backend with optional filters.

Filters: --status (all, active, completed) and --priority (none, low, medium,
high). Sort with --sort (createdAt, dueDate, priority) and --dir (asc, desc).
Tasks without a due date always sort last when ordering by due date.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Sync == nil {
			return errNotInitialized
		}
		if err := validateFormat(listOutput); err != nil {
			return err
		}
		filter, sortSpec, err := parseListFlags()
		if err != nil {
			return err
		}

		tasks, err := Sync.Tasks(cmd.Context())
		if err != nil {
			return fmt.Errorf("fetching tasks: %w", err)
		}
		view := core.DeriveView(tasks, true, filter, sortSpec)

		out := cmd.OutOrStdout()
		if err := writeTasks(out, view.Tasks, listOutput); err != nil {
			return err
		}
		if listOutput == formatTable {
			fmt.Fprintf(out, "\n  %d shown, %d active, %d completed\n",
				len(view.Tasks), view.ActiveCount, view.CompletedCount)
		}
		return nil
	},
}

func parseListFlags() (models.Filter, models.SortSpec, error) {
	filter := models.DefaultFilter()
	switch s := models.StatusFilter(strings.ToLower(listStatus)); s {
	case models.StatusAll, models.StatusActive, models.StatusCompleted:
		filter.Status = s
	default:
		return filter, models.SortSpec{}, fmt.Errorf("invalid --status %q (use all, active or completed)", listStatus)
	}
	if listPriority != "" {
		p, ok := models.ParsePriority(listPriority)
		if !ok {
			return filter, models.SortSpec{}, fmt.Errorf("invalid --priority %q (use none, low, medium or high)", listPriority)
		}
		filter.Priority = &p
	}

	var sortSpec models.SortSpec
	switch f := models.SortField(listSort); f {
	case models.SortByCreatedAt, models.SortByDueDate, models.SortByPriority:
		sortSpec.Field = f
	default:
		return filter, sortSpec, fmt.Errorf("invalid --sort %q (use createdAt, dueDate or priority)", listSort)
	}
	switch d := models.SortDirection(strings.ToLower(listDirection)); d {
	case models.SortAsc, models.SortDesc:
		sortSpec.Direction = d
	default:
		return filter, sortSpec, fmt.Errorf("invalid --dir %q (use asc or desc)", listDirection)
	}
	return filter, sortSpec, nil
}

var showOutput string

var showCmd = &cobra.Command{
	Use:   "show <task-id>",
	Short: "Show one task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if Sync == nil {
			return errNotInitialized
		}
		if err := validateFormat(showOutput); err != nil {
			return err
		}
		task, err := Sync.Task(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return writeTaskDetail(cmd.OutOrStdout(), task, showOutput)
	},
}

var addCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Create a task",
	Long: `Create a task. Words after the command form the title.

The payload is validated before anything is sent: the title must be 1-255
characters and the due date (--due) must be a real, non-past date in
DD-MM-YYYY format.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if Sync == nil {
			return errNotInitialized
		}
		description, _ := cmd.Flags().GetString("description")
		priority, _ := cmd.Flags().GetString("priority")
		due, _ := cmd.Flags().GetString("due")
		completed, _ := cmd.Flags().GetBool("completed")

		draft, err := core.ValidateTaskInput(core.TaskInput{
			Title:       strings.Join(args, " "),
			Description: description,
			Priority:    priority,
			Completed:   completed,
			DueDate:     due,
		}, Now())
		if err != nil {
			return err
		}

		return runMutation(cmd, func(ctx context.Context) error {
			task, err := Sync.Create(ctx, draft)
			if err == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", task.ID)
			}
			return err
		})
	},
}

var editCmd = &cobra.Command{
	Use:   "edit <task-id>",
	Short: "Change fields of a task",
	Long: `Change fields of a task. Only the flags that are given are sent.
Pass --due "" to clear the due date.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if Sync == nil {
			return errNotInitialized
		}
		in := core.UpdateInput{
			Title:       changedString(cmd, "title"),
			Description: changedString(cmd, "description"),
			Priority:    changedString(cmd, "priority"),
			DueDate:     changedString(cmd, "due"),
		}
		if cmd.Flags().Changed("completed") {
			c, _ := cmd.Flags().GetBool("completed")
			in.Completed = &c
		}

		update, err := core.ValidateUpdateInput(in, Now())
		if err != nil {
			return err
		}
		if update.IsEmpty() {
			return fmt.Errorf("nothing to change: pass at least one of --title, --description, --priority, --due, --completed")
		}
		return updateTask(cmd, args[0], update)
	},
}

func changedString(cmd *cobra.Command, name string) *string {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v, _ := cmd.Flags().GetString(name)
	return &v
}

var doneCmd = &cobra.Command{
	Use:   "done <task-id>",
	Short: "Mark a task completed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setCompleted(cmd, args[0], true)
	},
}

var reopenCmd = &cobra.Command{
	Use:   "reopen <task-id>",
	Short: "Mark a completed task active again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setCompleted(cmd, args[0], false)
	},
}

func setCompleted(cmd *cobra.Command, id string, completed bool) error {
	if Sync == nil {
		return errNotInitialized
	}
	return updateTask(cmd, id, models.TaskUpdate{Completed: &completed})
}

func updateTask(cmd *cobra.Command, id string, update models.TaskUpdate) error {
	return runMutation(cmd, func(ctx context.Context) error {
		_, err := Sync.Update(ctx, id, update)
		return err
	})
}

var rmCmd = &cobra.Command{
	Use:     "rm <task-id>...",
	Aliases: []string{"delete"},
	Short:   "Delete tasks",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if Sync == nil {
			return errNotInitialized
		}
		return runMutation(cmd, func(ctx context.Context) error {
			var errs []error
			for _, id := range args {
				if err := Sync.Delete(ctx, id); err != nil {
					errs = append(errs, err)
				}
			}
			return errors.Join(errs...)
		})
	},
}

// runMutation runs fn and prints the notifications it produced, whether it
// succeeded or not.
func runMutation(cmd *cobra.Command, fn func(ctx context.Context) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	err := fn(ctx)
	flushNotifications(cmd.OutOrStdout())
	return err
}

func init() {
	listCmd.Flags().StringVar(&listStatus, "status", "all", "Filter by completion: all, active, completed")
	listCmd.Flags().StringVar(&listPriority, "priority", "", "Filter by priority: none, low, medium, high")
	listCmd.Flags().StringVar(&listSort, "sort", string(models.SortByCreatedAt), "Sort field: createdAt, dueDate, priority")
	listCmd.Flags().StringVar(&listDirection, "dir", string(models.SortDesc), "Sort direction: asc, desc")
	listCmd.Flags().StringVarP(&listOutput, "output", "o", formatTable, "Output format: table, json, yaml")

	showCmd.Flags().StringVarP(&showOutput, "output", "o", formatTable, "Output format: table, json, yaml")

	addCmd.Flags().String("description", "", "Task description")
	addCmd.Flags().String("priority", "", "Priority: none, low, medium, high")
	addCmd.Flags().String("due", "", "Due date (DD-MM-YYYY)")
	addCmd.Flags().Bool("completed", false, "Create the task already completed")

	editCmd.Flags().String("title", "", "New title")
	editCmd.Flags().String("description", "", "New description")
	editCmd.Flags().String("priority", "", "New priority: none, low, medium, high")
	editCmd.Flags().String("due", "", "New due date (DD-MM-YYYY), empty to clear")
	editCmd.Flags().Bool("completed", false, "Completion flag")

	rootCmd.AddCommand(listCmd, showCmd, addCmd, editCmd, doneCmd, reopenCmd, rmCmd)
}
