package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/valter-silva-au/tasksync/internal/core"
	"github.com/valter-silva-au/tasksync/pkg/models"
)

// Output formats accepted by -o.
const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

func validateFormat(format string) error {
	switch format {
	case formatTable, formatJSON, formatYAML:
		return nil
	}
	return fmt.Errorf("unsupported output format %q (use table, json or yaml)", format)
}

// writeTasks renders tasks in the requested format.
func writeTasks(w io.Writer, tasks []models.Task, format string) error {
	switch format {
	case formatJSON:
		data, err := json.MarshalIndent(tasks, "", "  ")
		if err != nil {
			return fmt.Errorf("formatting tasks as JSON: %w", err)
		}
		fmt.Fprintln(w, string(data))
	case formatYAML:
		data, err := yaml.Marshal(tasks)
		if err != nil {
			return fmt.Errorf("formatting tasks as YAML: %w", err)
		}
		fmt.Fprint(w, string(data))
	default:
		writeTaskTable(w, tasks)
	}
	return nil
}

func writeTaskTable(w io.Writer, tasks []models.Task) {
	if len(tasks) == 0 {
		fmt.Fprintln(w, "No tasks found.")
		return
	}
	now := Now()
	fmt.Fprintf(w, "  %-3s %-14s %-6s %-12s %s\n", "", "ID", "PRI", "DUE", "TITLE")
	fmt.Fprintf(w, "  %-3s %-14s %-6s %-12s %s\n", "", "--", "---", "---", "-----")
	for _, t := range tasks {
		due := ""
		if t.DueDate != "" {
			due = core.FormatRelativeDay(t.DueDate, now)
		}
		fmt.Fprintf(w, "  %-3s %-14s %-6s %-12s %s\n", checkbox(t), t.ID, t.Priority, due, t.Title)
	}
}

func writeTaskDetail(w io.Writer, t models.Task, format string) error {
	if format != formatTable {
		switch format {
		case formatJSON:
			data, err := json.MarshalIndent(t, "", "  ")
			if err != nil {
				return fmt.Errorf("formatting task as JSON: %w", err)
			}
			fmt.Fprintln(w, string(data))
		case formatYAML:
			data, err := yaml.Marshal(t)
			if err != nil {
				return fmt.Errorf("formatting task as YAML: %w", err)
			}
			fmt.Fprint(w, string(data))
		}
		return nil
	}

	status := "active"
	if t.Completed {
		status = "completed"
	}
	fmt.Fprintf(w, "%s %s\n\n", checkbox(t), t.Title)
	fmt.Fprintf(w, "  %-12s %s\n", "ID:", t.ID)
	fmt.Fprintf(w, "  %-12s %s\n", "Status:", status)
	fmt.Fprintf(w, "  %-12s %s\n", "Priority:", t.Priority)
	if t.DueDate != "" {
		fmt.Fprintf(w, "  %-12s %s (%s)\n", "Due:", t.DueDate, core.FormatRelativeDay(t.DueDate, Now()))
	}
	fmt.Fprintf(w, "  %-12s %s\n", "Created:", t.CreatedAt)
	if t.Description != "" {
		fmt.Fprintf(w, "\n  %s\n", strings.ReplaceAll(t.Description, "\n", "\n  "))
	}
	return nil
}

func checkbox(t models.Task) string {
	switch {
	case t.IsPending():
		return "[~]"
	case t.Completed:
		return "[x]"
	default:
		return "[ ]"
	}
}

// flushNotifications prints and forgets the recorded notification intents.
func flushNotifications(w io.Writer) {
	if Notifications == nil {
		return
	}
	for _, n := range Notifications.Drain() {
		mark := "✓"
		if n.Kind == models.NotifyError {
			mark = "✗"
		}
		if n.Detail != "" {
			fmt.Fprintf(w, "%s %s: %s\n", mark, n.Message, n.Detail)
			continue
		}
		fmt.Fprintf(w, "%s %s\n", mark, n.Message)
	}
}
