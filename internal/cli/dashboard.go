package cli

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/valter-silva-au/tasksync/internal/core"
	"github.com/valter-silva-au/tasksync/pkg/models"
)

// Dashboard panel indices.
const (
	panelTasks = iota
	panelMetrics
	panelAlerts
	panelCount
)

var statusCycle = []models.StatusFilter{models.StatusAll, models.StatusActive, models.StatusCompleted}

var sortCycle = []models.SortField{models.SortByCreatedAt, models.SortByDueDate, models.SortByPriority}

type dashboardModel struct {
	sync        core.TaskSync
	view        *core.TaskView
	current     core.View
	activePanel int
	cursor      int
	width       int
	height      int

	metricsData *metricsSnapshot
	alerts      []alertSnapshot

	loading bool
	status  string
	err     error
}

type metricsSnapshot struct {
	started     int
	succeeded   int
	failed      int
	superseded  int
	retries     int
	failureRate float64
}

type alertSnapshot struct {
	severity string
	message  string
}

// viewChangedMsg signals that the TaskView recomputed. The model re-reads
// the view, so delivery order does not matter.
type viewChangedMsg struct{}

// dataLoadedMsg reports the outcome of a refresh.
type dataLoadedMsg struct {
	metrics *metricsSnapshot
	alerts  []alertSnapshot
	err     error
}

// mutationDoneMsg reports a finished mutation and the notifications it
// produced.
type mutationDoneMsg struct {
	status string
	err    error
}

// Style definitions.
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	panelStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(1, 2)

	activePanelStyle = lipgloss.NewStyle().
				BorderStyle(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("62")).
				Padding(1, 2)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62")).
			MarginBottom(1)

	cursorStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("230")).Background(lipgloss.Color("238"))
	completedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Strikethrough(true)
	pendingStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Italic(true)

	priorityHigh   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	priorityMedium = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
	priorityLow    = lipgloss.NewStyle().Foreground(lipgloss.Color("69"))

	severityHigh   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	severityMedium = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
	severityLow    = lipgloss.NewStyle().Foreground(lipgloss.Color("69"))

	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	helpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

func newDashboardModel(ts core.TaskSync, view *core.TaskView) dashboardModel {
	return dashboardModel{
		sync:        ts,
		view:        view,
		current:     view.Current(),
		activePanel: panelTasks,
		loading:     true,
	}
}

func (m dashboardModel) Init() tea.Cmd {
	return m.loadData
}

func (m dashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case viewChangedMsg:
		m.current = m.view.Current()
		m.clampCursor()
		return m, nil

	case dataLoadedMsg:
		m.loading = false
		m.err = msg.err
		if msg.err == nil {
			m.metricsData = msg.metrics
			m.alerts = msg.alerts
		}
		m.current = m.view.Current()
		m.clampCursor()
		return m, nil

	case mutationDoneMsg:
		m.status = msg.status
		if msg.err != nil && m.status == "" {
			m.status = "✗ " + msg.err.Error()
		}
		m.current = m.view.Current()
		m.clampCursor()
		return m, nil
	}

	return m, nil
}

func (m dashboardModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc", "ctrl+c":
		return m, tea.Quit
	case "tab":
		m.activePanel = (m.activePanel + 1) % panelCount
	case "shift+tab":
		m.activePanel = (m.activePanel - 1 + panelCount) % panelCount
	case "j", "down":
		if m.cursor < len(m.current.Tasks)-1 {
			m.cursor++
		}
	case "k", "up":
		if m.cursor > 0 {
			m.cursor--
		}
	case "r":
		m.loading = true
		m.sync.Invalidate()
		return m, m.loadData
	case "f":
		f := m.current.Filter
		f.Status = statusCycle[(indexOf(statusCycle, f.Status)+1)%len(statusCycle)]
		m.view.SetFilter(f)
	case "p":
		f := m.current.Filter
		f.Priority = nextPriority(f.Priority)
		m.view.SetFilter(f)
	case "s":
		s := m.current.Sort
		s.Field = sortCycle[(indexOf(sortCycle, s.Field)+1)%len(sortCycle)]
		m.view.SetSort(s)
	case "o":
		s := m.current.Sort
		if s.Direction == models.SortAsc {
			s.Direction = models.SortDesc
		} else {
			s.Direction = models.SortAsc
		}
		m.view.SetSort(s)
	case " ", "x":
		if t, ok := m.selected(); ok {
			completed := !t.Completed
			return m, m.mutate(func(ctx context.Context) error {
				_, err := m.sync.Update(ctx, t.ID, models.TaskUpdate{Completed: &completed})
				return err
			})
		}
	case "d":
		if t, ok := m.selected(); ok {
			return m, m.mutate(func(ctx context.Context) error {
				return m.sync.Delete(ctx, t.ID)
			})
		}
	}
	m.current = m.view.Current()
	m.clampCursor()
	return m, nil
}

func (m dashboardModel) selected() (models.Task, bool) {
	if m.cursor < 0 || m.cursor >= len(m.current.Tasks) {
		return models.Task{}, false
	}
	return m.current.Tasks[m.cursor], true
}

func (m *dashboardModel) clampCursor() {
	if m.cursor >= len(m.current.Tasks) {
		m.cursor = len(m.current.Tasks) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

// mutate runs fn off the event loop. The optimistic change reaches the
// board through the TaskView listener before the server answers.
func (m dashboardModel) mutate(fn func(ctx context.Context) error) tea.Cmd {
	return func() tea.Msg {
		err := fn(context.Background())
		var lines []string
		if Notifications != nil {
			for _, n := range Notifications.Drain() {
				mark := "✓"
				if n.Kind == models.NotifyError {
					mark = "✗"
				}
				lines = append(lines, mark+" "+n.Message)
			}
		}
		return mutationDoneMsg{status: strings.Join(lines, "  "), err: err}
	}
}

func (m dashboardModel) loadData() tea.Msg {
	var result dataLoadedMsg

	if _, err := m.sync.Tasks(context.Background()); err != nil {
		result.err = fmt.Errorf("loading tasks: %w", err)
		return result
	}

	if MetricsCalc != nil {
		metrics, err := MetricsCalc.Calculate(Now().UTC().Add(-24 * time.Hour))
		if err != nil {
			result.err = fmt.Errorf("loading metrics: %w", err)
			return result
		}
		result.metrics = &metricsSnapshot{
			started:     metrics.MutationsStarted,
			succeeded:   metrics.MutationsSucceeded,
			failed:      metrics.MutationsFailed,
			superseded:  metrics.MutationsSuperseded,
			retries:     metrics.HTTPRetries,
			failureRate: metrics.FailureRate,
		}
	}

	if AlertEngine != nil {
		alerts, err := AlertEngine.Evaluate()
		if err != nil {
			result.err = fmt.Errorf("loading alerts: %w", err)
			return result
		}
		sort.Slice(alerts, func(i, j int) bool {
			return severityRank(string(alerts[i].Severity)) < severityRank(string(alerts[j].Severity))
		})
		result.alerts = make([]alertSnapshot, 0, len(alerts))
		for _, a := range alerts {
			result.alerts = append(result.alerts, alertSnapshot{severity: string(a.Severity), message: a.Message})
		}
	}

	return result
}

func (m dashboardModel) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	title := titleStyle.Render(" tsync ")
	help := helpStyle.Render("j/k: move | space: toggle | d: delete | f: status | p: priority | s: sort | o: order | r: refresh | q: quit")

	if m.loading && !m.current.Ready {
		return fmt.Sprintf("%s\n\n  Loading tasks...\n\n%s", title, help)
	}

	tasksPanel := m.renderTasksPanel()
	side := lipgloss.JoinVertical(lipgloss.Left,
		m.applyPanelStyle(panelMetrics, m.renderMetricsPanel(), 34),
		m.applyPanelStyle(panelAlerts, m.renderAlertsPanel(), 34),
	)

	availableWidth := m.width - 2
	var body string
	if availableWidth > 100 {
		tasksPanel = m.applyPanelStyle(panelTasks, tasksPanel, availableWidth-44)
		body = lipgloss.JoinHorizontal(lipgloss.Top, tasksPanel, side)
	} else {
		panelWidth := availableWidth - 4
		if panelWidth < 20 {
			panelWidth = 20
		}
		tasksPanel = m.applyPanelStyle(panelTasks, tasksPanel, panelWidth)
		body = lipgloss.JoinVertical(lipgloss.Left, tasksPanel, side)
	}

	footer := help
	switch {
	case m.err != nil:
		footer = errorStyle.Render("Error: "+m.err.Error()) + "\n" + help
	case m.status != "":
		footer = m.status + "\n" + help
	}
	return fmt.Sprintf("%s\n\n%s\n\n%s", title, body, footer)
}

func (m dashboardModel) applyPanelStyle(panel int, content string, width int) string {
	style := panelStyle
	if m.activePanel == panel {
		style = activePanelStyle
	}
	return style.Width(width).Render(content)
}

func (m dashboardModel) renderTasksPanel() string {
	v := m.current
	var b strings.Builder

	heading := fmt.Sprintf("Tasks · %s", v.Filter.Status)
	if v.Filter.Priority != nil {
		heading += fmt.Sprintf(" · %s", *v.Filter.Priority)
	}
	heading += fmt.Sprintf(" · %s %s", v.Sort.Field, v.Sort.Direction)
	b.WriteString(headerStyle.Render(heading))
	b.WriteString("\n")

	if v.IsEmpty() {
		b.WriteString("  No tasks match.")
	}
	now := Now()
	for i, t := range v.Tasks {
		due := ""
		if t.DueDate != "" {
			due = core.FormatRelativeDay(t.DueDate, now)
		}
		pending := t.IsPending() || m.sync.IsMutating(t.ID)
		mark := checkbox(t)
		if pending {
			mark = "[~]"
		}
		line := fmt.Sprintf("%s %-6s %-12s %s", mark, styleForPriority(t.Priority).Render(string(t.Priority)), due, t.Title)
		switch {
		case pending:
			line = pendingStyle.Render(line)
		case t.Completed:
			line = completedStyle.Render(line)
		}
		if i == m.cursor {
			line = cursorStyle.Render("> ") + line
		} else {
			line = "  " + line
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	b.WriteString(fmt.Sprintf("\n  %d active · %d completed · %d total", v.ActiveCount, v.CompletedCount, v.TotalCount))
	return b.String()
}

func (m dashboardModel) renderMetricsPanel() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Sync (24h)"))
	b.WriteString("\n")

	if m.metricsData == nil {
		b.WriteString("  No metrics available.")
		return b.String()
	}

	md := m.metricsData
	lines := []struct {
		label string
		value string
	}{
		{"Mutations", fmt.Sprint(md.started)},
		{"Succeeded", fmt.Sprint(md.succeeded)},
		{"Rolled back", fmt.Sprint(md.failed)},
		{"Superseded", fmt.Sprint(md.superseded)},
		{"Retries", fmt.Sprint(md.retries)},
		{"Failure rate", fmt.Sprintf("%.0f%%", md.failureRate)},
	}
	for _, l := range lines {
		b.WriteString(fmt.Sprintf("  %-14s %s\n", l.label, l.value))
	}
	return b.String()
}

func (m dashboardModel) renderAlertsPanel() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Alerts"))
	b.WriteString("\n")

	if len(m.alerts) == 0 {
		b.WriteString("  No active alerts.")
		return b.String()
	}

	for _, a := range m.alerts {
		sev := styleForSeverity(a.severity).Render(fmt.Sprintf("[%s]", strings.ToUpper(a.severity)))
		b.WriteString(fmt.Sprintf("  %s %s\n", sev, a.message))
	}
	return b.String()
}

func styleForPriority(p models.Priority) lipgloss.Style {
	switch p {
	case models.PriorityHigh:
		return priorityHigh
	case models.PriorityMedium:
		return priorityMedium
	case models.PriorityLow:
		return priorityLow
	default:
		return helpStyle
	}
}

func styleForSeverity(severity string) lipgloss.Style {
	switch strings.ToLower(severity) {
	case "high":
		return severityHigh
	case "medium":
		return severityMedium
	case "low":
		return severityLow
	default:
		return lipgloss.NewStyle()
	}
}

func severityRank(s string) int {
	switch s {
	case "high":
		return 0
	case "medium":
		return 1
	case "low":
		return 2
	default:
		return 3
	}
}

func indexOf[T comparable](list []T, v T) int {
	for i, x := range list {
		if x == v {
			return i
		}
	}
	return -1
}

// nextPriority cycles nil -> high -> medium -> low -> none -> nil.
func nextPriority(p *models.Priority) *models.Priority {
	order := []models.Priority{models.PriorityHigh, models.PriorityMedium, models.PriorityLow, models.PriorityNone}
	if p == nil {
		return &order[0]
	}
	i := indexOf(order, *p)
	if i < 0 || i == len(order)-1 {
		return nil
	}
	return &order[i+1]
}

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Interactive task board",
	Long: `Launch an interactive terminal board over the task collection.

Toggling and deleting apply immediately and roll back if the server rejects
them. Sync metrics and alerts are shown beside the board.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Sync == nil {
			return errNotInitialized
		}
		view := core.NewTaskView(Sync.Store(), models.DefaultFilter(), models.DefaultSort())
		defer view.Close()

		if Refresher != nil {
			if err := Refresher.Start(cmd.Context()); err != nil {
				return err
			}
			defer Refresher.Stop()
		}

		p := tea.NewProgram(newDashboardModel(Sync, view), tea.WithAltScreen())
		// Listeners run on whichever goroutine changed the view, which may be
		// the program's own update loop, so Send must not block it.
		unsubscribe := view.OnChange(func(core.View) {
			go p.Send(viewChangedMsg{})
		})
		defer unsubscribe()

		_, err := p.Run()
		return err
	},
}

func init() {
	rootCmd.AddCommand(dashboardCmd)
}
