// Package mcp provides an MCP (Model Context Protocol) server that exposes
// the synchronized task collection as tools for AI assistants.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/valter-silva-au/tasksync/internal/core"
	"github.com/valter-silva-au/tasksync/internal/observability"
	"github.com/valter-silva-au/tasksync/pkg/models"
)

// Server wraps the task sync engine and exposes it as MCP tools.
type Server struct {
	server      *gomcp.Server
	sync        core.TaskSync
	metricsCalc observability.MetricsCalculator
	alertEngine observability.AlertEngine
	now         func() time.Time
}

// NewServer creates a new MCP server. metricsCalc and alertEngine may be nil
// if observability is disabled.
func NewServer(ts core.TaskSync, metricsCalc observability.MetricsCalculator, alertEngine observability.AlertEngine, version string) *Server {
	if version == "" {
		version = "dev"
	}

	s := &Server{
		sync:        ts,
		metricsCalc: metricsCalc,
		alertEngine: alertEngine,
		now:         time.Now,
	}

	s.server = gomcp.NewServer(
		&gomcp.Implementation{Name: "tsync", Version: version},
		nil,
	)

	s.registerTools()

	return s
}

// Run serves MCP over stdio, blocking until the client disconnects or the
// context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &gomcp.StdioTransport{})
}

// MCPServer returns the underlying mcp.Server for testing purposes.
func (s *Server) MCPServer() *gomcp.Server {
	return s.server
}

// --- Tool input/output types ---

type taskOutput struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Priority    string `json:"priority"`
	Completed   bool   `json:"completed"`
	CreatedAt   string `json:"created_at"`
	DueDate     string `json:"due_date,omitempty"`
	Due         string `json:"due,omitempty"`
	Pending     bool   `json:"pending,omitempty"`
}

type getTaskInput struct {
	TaskID string `json:"task_id" jsonschema:"the task identifier"`
}

type listTasksInput struct {
	Status    string `json:"status,omitempty" jsonschema:"filter by completion: all, active or completed"`
	Priority  string `json:"priority,omitempty" jsonschema:"filter by priority: none, low, medium or high"`
	SortBy    string `json:"sort_by,omitempty" jsonschema:"sort field: createdAt, dueDate or priority"`
	Direction string `json:"direction,omitempty" jsonschema:"sort direction: asc or desc"`
}

type listTasksOutput struct {
	Tasks []taskOutput `json:"tasks"`
	Count int          `json:"count"`
}

type createTaskInput struct {
	Title       string `json:"title" jsonschema:"task title, 1 to 255 characters"`
	Description string `json:"description,omitempty" jsonschema:"optional description"`
	Priority    string `json:"priority,omitempty" jsonschema:"none, low, medium or high"`
	DueDate     string `json:"due_date,omitempty" jsonschema:"optional due date in DD-MM-YYYY format"`
}

type updateTaskInput struct {
	TaskID      string  `json:"task_id" jsonschema:"the task identifier"`
	Title       *string `json:"title,omitempty" jsonschema:"new title"`
	Description *string `json:"description,omitempty" jsonschema:"new description"`
	Priority    *string `json:"priority,omitempty" jsonschema:"new priority"`
	Completed   *bool   `json:"completed,omitempty" jsonschema:"completion flag"`
	DueDate     *string `json:"due_date,omitempty" jsonschema:"new due date in DD-MM-YYYY format, empty to clear"`
}

type deleteTaskInput struct {
	TaskID string `json:"task_id" jsonschema:"the task identifier"`
}

type messageOutput struct {
	Message string `json:"message"`
}

type getStatsInput struct{}

type statsOutput struct {
	Total     int `json:"total"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Overdue   int `json:"overdue"`
}

type getMetricsInput struct {
	Since string `json:"since,omitempty" jsonschema:"time window for metrics (e.g. 7d, 24h). Defaults to 24h."`
}

type metricsOutput struct {
	MutationsStarted    int            `json:"mutations_started"`
	MutationsSucceeded  int            `json:"mutations_succeeded"`
	MutationsFailed     int            `json:"mutations_failed"`
	MutationsSuperseded int            `json:"mutations_superseded"`
	MutationsByKind     map[string]int `json:"mutations_by_kind"`
	FailureRate         float64        `json:"failure_rate_percent"`
	HTTPRetries         int            `json:"http_retries"`
	HTTPErrors          int            `json:"http_errors"`
	EventCount          int            `json:"event_count"`
}

type getAlertsInput struct{}

type alertOutput struct {
	ID          string `json:"id"`
	Condition   string `json:"condition"`
	Severity    string `json:"severity"`
	Message     string `json:"message"`
	TriggeredAt string `json:"triggered_at"`
}

type getAlertsOutput struct {
	Alerts []alertOutput `json:"alerts"`
	Count  int           `json:"count"`
}

// --- Tool registration ---

func (s *Server) registerTools() {
	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "list_tasks",
		Description: "List tasks with optional completion and priority filters and a sort order.",
	}, s.handleListTasks)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_task",
		Description: "Get one task by ID.",
	}, s.handleGetTask)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "create_task",
		Description: "Create a task. The payload is validated before it is sent to the server.",
	}, s.handleCreateTask)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "update_task",
		Description: "Update some fields of a task. Omitted fields are left unchanged.",
	}, s.handleUpdateTask)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "delete_task",
		Description: "Delete a task by ID.",
	}, s.handleDeleteTask)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_stats",
		Description: "Count total, active, completed and overdue tasks.",
	}, s.handleGetStats)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_metrics",
		Description: "Get sync metrics from the event log: mutation outcomes, retries and transport errors.",
	}, s.handleGetMetrics)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_alerts",
		Description: "Evaluate and return active alerts (mutation failure rate, retry storms, failing refreshes).",
	}, s.handleGetAlerts)
}

// --- Tool handlers ---

func (s *Server) handleListTasks(ctx context.Context, _ *gomcp.CallToolRequest, input listTasksInput) (*gomcp.CallToolResult, listTasksOutput, error) {
	filter, sortSpec, err := parseViewInput(input)
	if err != nil {
		return errorResult(err.Error()), listTasksOutput{}, nil
	}

	tasks, err := s.sync.Tasks(ctx)
	if err != nil {
		return errorResult(fmt.Sprintf("listing tasks: %s", err)), listTasksOutput{}, nil
	}

	snap := s.sync.Store().Snapshot()
	view := core.DeriveView(tasks, true, filter, sortSpec)
	out := listTasksOutput{
		Tasks: make([]taskOutput, len(view.Tasks)),
		Count: len(view.Tasks),
	}
	for i, t := range view.Tasks {
		out.Tasks[i] = s.taskToOutput(t, snap.IsPending(t.ID))
	}
	return nil, out, nil
}

func (s *Server) handleGetTask(ctx context.Context, _ *gomcp.CallToolRequest, input getTaskInput) (*gomcp.CallToolResult, taskOutput, error) {
	if input.TaskID == "" {
		return errorResult("task_id is required"), taskOutput{}, nil
	}

	task, err := s.sync.Task(ctx, input.TaskID)
	if err != nil {
		return errorResult(fmt.Sprintf("getting task %s: %s", input.TaskID, err)), taskOutput{}, nil
	}
	return nil, s.taskToOutput(task, s.sync.IsMutating(task.ID)), nil
}

func (s *Server) handleCreateTask(ctx context.Context, _ *gomcp.CallToolRequest, input createTaskInput) (*gomcp.CallToolResult, taskOutput, error) {
	draft, err := core.ValidateTaskInput(core.TaskInput{
		Title:       input.Title,
		Description: input.Description,
		Priority:    input.Priority,
		DueDate:     input.DueDate,
	}, s.now())
	if err != nil {
		return errorResult(err.Error()), taskOutput{}, nil
	}

	task, err := s.sync.Create(ctx, draft)
	if err != nil {
		return errorResult(err.Error()), taskOutput{}, nil
	}
	return nil, s.taskToOutput(task, false), nil
}

func (s *Server) handleUpdateTask(ctx context.Context, _ *gomcp.CallToolRequest, input updateTaskInput) (*gomcp.CallToolResult, taskOutput, error) {
	if input.TaskID == "" {
		return errorResult("task_id is required"), taskOutput{}, nil
	}
	update, err := core.ValidateUpdateInput(core.UpdateInput{
		Title:       input.Title,
		Description: input.Description,
		Priority:    input.Priority,
		Completed:   input.Completed,
		DueDate:     input.DueDate,
	}, s.now())
	if err != nil {
		return errorResult(err.Error()), taskOutput{}, nil
	}

	task, err := s.sync.Update(ctx, input.TaskID, update)
	if err != nil {
		return errorResult(err.Error()), taskOutput{}, nil
	}
	return nil, s.taskToOutput(task, false), nil
}

func (s *Server) handleDeleteTask(ctx context.Context, _ *gomcp.CallToolRequest, input deleteTaskInput) (*gomcp.CallToolResult, messageOutput, error) {
	if input.TaskID == "" {
		return errorResult("task_id is required"), messageOutput{}, nil
	}
	if err := s.sync.Delete(ctx, input.TaskID); err != nil {
		return errorResult(err.Error()), messageOutput{}, nil
	}
	return nil, messageOutput{Message: fmt.Sprintf("task %s deleted", input.TaskID)}, nil
}

func (s *Server) handleGetStats(ctx context.Context, _ *gomcp.CallToolRequest, _ getStatsInput) (*gomcp.CallToolResult, statsOutput, error) {
	tasks, err := s.sync.Tasks(ctx)
	if err != nil {
		return errorResult(fmt.Sprintf("listing tasks: %s", err)), statsOutput{}, nil
	}

	view := core.DeriveView(tasks, true, models.DefaultFilter(), models.DefaultSort())
	out := statsOutput{
		Total:     view.TotalCount,
		Active:    view.ActiveCount,
		Completed: view.CompletedCount,
	}
	now := s.now()
	for _, t := range tasks {
		if t.Completed || t.DueDate == "" {
			continue
		}
		if due, ok := core.ParseDate(t.DueDate, now.Location()); ok && core.DaysBetween(now, due) < 0 {
			out.Overdue++
		}
	}
	return nil, out, nil
}

func (s *Server) handleGetMetrics(_ context.Context, _ *gomcp.CallToolRequest, input getMetricsInput) (*gomcp.CallToolResult, metricsOutput, error) {
	if s.metricsCalc == nil {
		return errorResult("metrics calculator not available (observability may be disabled)"), metricsOutput{}, nil
	}

	sinceStr := input.Since
	if sinceStr == "" {
		sinceStr = "24h"
	}
	sinceTime, err := ParseSince(sinceStr, s.now())
	if err != nil {
		return errorResult(fmt.Sprintf("parsing since duration: %s", err)), metricsOutput{}, nil
	}

	m, err := s.metricsCalc.Calculate(sinceTime)
	if err != nil {
		return errorResult(fmt.Sprintf("calculating metrics: %s", err)), metricsOutput{}, nil
	}

	return nil, metricsOutput{
		MutationsStarted:    m.MutationsStarted,
		MutationsSucceeded:  m.MutationsSucceeded,
		MutationsFailed:     m.MutationsFailed,
		MutationsSuperseded: m.MutationsSuperseded,
		MutationsByKind:     m.MutationsByKind,
		FailureRate:         m.FailureRate,
		HTTPRetries:         m.HTTPRetries,
		HTTPErrors:          m.HTTPErrors,
		EventCount:          m.EventCount,
	}, nil
}

func (s *Server) handleGetAlerts(_ context.Context, _ *gomcp.CallToolRequest, _ getAlertsInput) (*gomcp.CallToolResult, getAlertsOutput, error) {
	if s.alertEngine == nil {
		return errorResult("alert engine not available (observability may be disabled)"), getAlertsOutput{}, nil
	}

	alerts, err := s.alertEngine.Evaluate()
	if err != nil {
		return errorResult(fmt.Sprintf("evaluating alerts: %s", err)), getAlertsOutput{}, nil
	}

	out := getAlertsOutput{
		Alerts: make([]alertOutput, len(alerts)),
		Count:  len(alerts),
	}
	for i, a := range alerts {
		out.Alerts[i] = alertOutput{
			ID:          a.ID,
			Condition:   a.Condition,
			Severity:    string(a.Severity),
			Message:     a.Message,
			TriggeredAt: a.TriggeredAt.Format(time.RFC3339),
		}
	}
	return nil, out, nil
}

// --- Helpers ---

func (s *Server) taskToOutput(t models.Task, pending bool) taskOutput {
	out := taskOutput{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Priority:    string(t.Priority),
		Completed:   t.Completed,
		CreatedAt:   t.CreatedAt,
		DueDate:     t.DueDate,
		Pending:     pending || t.IsPending(),
	}
	if t.DueDate != "" {
		out.Due = core.FormatRelativeDay(t.DueDate, s.now())
	}
	return out
}

func parseViewInput(in listTasksInput) (models.Filter, models.SortSpec, error) {
	filter := models.DefaultFilter()
	switch models.StatusFilter(in.Status) {
	case "":
	case models.StatusAll, models.StatusActive, models.StatusCompleted:
		filter.Status = models.StatusFilter(in.Status)
	default:
		return filter, models.SortSpec{}, fmt.Errorf("invalid status %q: must be one of all, active, completed", in.Status)
	}
	if in.Priority != "" {
		p, ok := models.ParsePriority(in.Priority)
		if !ok {
			return filter, models.SortSpec{}, fmt.Errorf("invalid priority %q: must be one of none, low, medium, high", in.Priority)
		}
		filter.Priority = &p
	}

	sortSpec := models.DefaultSort()
	switch models.SortField(in.SortBy) {
	case "":
	case models.SortByCreatedAt, models.SortByDueDate, models.SortByPriority:
		sortSpec.Field = models.SortField(in.SortBy)
	default:
		return filter, sortSpec, fmt.Errorf("invalid sort_by %q: must be one of createdAt, dueDate, priority", in.SortBy)
	}
	switch models.SortDirection(in.Direction) {
	case "":
	case models.SortAsc, models.SortDesc:
		sortSpec.Direction = models.SortDirection(in.Direction)
	default:
		return filter, sortSpec, errors.New("invalid direction: must be asc or desc")
	}
	return filter, sortSpec, nil
}

func errorResult(msg string) *gomcp.CallToolResult {
	return &gomcp.CallToolResult{
		Content: []gomcp.Content{&gomcp.TextContent{Text: msg}},
		IsError: true,
	}
}

// ParseSince parses a human-friendly window like "7d" or "24h" into the
// corresponding instant before now.
func ParseSince(s string, now time.Time) (time.Time, error) {
	if len(s) < 2 {
		return time.Time{}, fmt.Errorf("invalid duration %q", s)
	}

	suffix := s[len(s)-1]
	var num int
	if _, err := fmt.Sscanf(s[:len(s)-1], "%d", &num); err != nil {
		return time.Time{}, fmt.Errorf("invalid duration %q: %w", s, err)
	}

	switch suffix {
	case 'd':
		return now.AddDate(0, 0, -num), nil
	case 'h':
		return now.Add(-time.Duration(num) * time.Hour), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported duration suffix %q (use d or h)", string(suffix))
	}
}
