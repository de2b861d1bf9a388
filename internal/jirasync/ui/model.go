package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"k8s.io/utils/clock"

	"github.com/petr-muller/jirasync/internal/jirasync/watch"
)

const (
	maxLogLines     = 10
	maxTableRows    = 15
	refreshInterval = time.Second
)

// StatusSource provides the current per-issue watch status
type StatusSource interface {
	Statuses() []watch.Status
}

// Resumer restarts suspended watches
type Resumer interface {
	Resume(key string) bool
}

type eventMsg struct {
	event watch.Event
}

type eventsClosedMsg struct{}

type refreshMsg time.Time

// waitForEvent blocks until the engine delivers the next event
func waitForEvent(events <-chan watch.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return eventsClosedMsg{}
		}
		return eventMsg{event: ev}
	}
}

func refreshAfter(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return refreshMsg(t)
	})
}

// formatDuration formats a duration into a human-readable string
func formatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

func valueOr(s *string, fallback string) string {
	if s == nil {
		return fallback
	}
	return *s
}

// FormatEvent renders an event as a single log line
func FormatEvent(ev watch.Event) string {
	ts := ev.When().Format("15:04:05")
	switch ev := ev.(type) {
	case watch.StatusChanged:
		return fmt.Sprintf("%s %s status: %s -> %s", ts, ev.Key, valueOr(ev.OldStatus, "(none)"), valueOr(ev.NewStatus, "(none)"))
	case watch.SummaryChanged:
		return fmt.Sprintf("%s %s summary: %q -> %q", ts, ev.Key, valueOr(ev.OldSummary, ""), valueOr(ev.NewSummary, ""))
	case watch.WatchFailed:
		msg := ev.Message
		if msg == "" && ev.Err != nil {
			msg = ev.Err.Error()
		}
		return fmt.Sprintf("%s %s watch suspended after %d attempts (%s): %s", ts, ev.Key, ev.Attempts, ev.Kind, msg)
	default:
		return fmt.Sprintf("%s %s event %s", ts, ev.IssueKey(), ev.EventID())
	}
}

// Model is the TUI showing live watch state and the event log
type Model struct {
	title    string
	source   StatusSource
	events   <-chan watch.Event
	clock    clock.PassiveClock
	table    table.Model
	spinner  spinner.Model
	statuses []watch.Status
	log      []string
	closed   bool
	width    int
	height   int
}

// NewModel creates a new TUI model
func NewModel(title string, source StatusSource, events <-chan watch.Event, clk clock.PassiveClock) Model {
	columns := []table.Column{
		{Title: "Key", Width: 12},
		{Title: "Status", Width: 16},
		{Title: "State", Width: 10},
		{Title: "Last Poll", Width: 10},
		{Title: "Next Poll", Width: 10},
		{Title: "Failures", Width: 8},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(2),
	)

	s := table.DefaultStyles()
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("230")).
		Background(lipgloss.Color("240")).
		Bold(true)
	t.SetStyles(s)

	m := Model{
		title:   title,
		source:  source,
		events:  events,
		clock:   clk,
		table:   t,
		spinner: spinner.New(spinner.WithSpinner(spinner.Points)),
	}
	m.refresh()
	return m
}

// Init starts listening for events and schedules status refreshes
func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForEvent(m.events), refreshAfter(refreshInterval), m.spinner.Tick)
}

// Update handles messages and updates the model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case eventMsg:
		m.appendLog(FormatEvent(msg.event))
		m.refresh()
		return m, waitForEvent(m.events)
	case eventsClosedMsg:
		m.closed = true
		return m, nil
	case refreshMsg:
		m.refresh()
		return m, refreshAfter(refreshInterval)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updateTableSize()
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			m.resumeSelected()
			return m, nil
		}
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// View renders the model
func (m Model) View() string {
	var s strings.Builder

	headerStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("205"))
	header := fmt.Sprintf("Watching: %s (%d issues)", m.title, len(m.statuses))
	if !m.closed {
		header = m.spinner.View() + " " + header
	}
	s.WriteString(headerStyle.Render(header))
	s.WriteString("\n\n")

	s.WriteString(m.table.View())
	s.WriteString("\n")

	if len(m.statuses) > maxTableRows {
		scrollStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Italic(true)
		s.WriteString(scrollStyle.Render(fmt.Sprintf("Showing %d of %d issues - use arrow keys to scroll", maxTableRows, len(m.statuses))))
		s.WriteString("\n")
	}

	if selected, ok := m.selected(); ok {
		s.WriteString(renderDetail(selected))
	}

	logStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("250")).
		MarginTop(1)
	if len(m.log) == 0 {
		s.WriteString(logStyle.Render("No changes observed yet"))
	} else {
		s.WriteString(logStyle.Render(strings.Join(m.log, "\n")))
	}
	s.WriteString("\n")

	helpStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("240")).
		MarginTop(1)
	s.WriteString(helpStyle.Render("Press 'q' to quit, 'r' to resume a suspended watch, arrow keys to navigate"))

	return s.String()
}

func renderDetail(status watch.Status) string {
	detailStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
	line := fmt.Sprintf("%s: %s", status.Key, valueOr(status.LastSummary, ""))
	if status.LastError != nil {
		errStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
		return detailStyle.Render(line) + "\n" + errStyle.Render(status.LastError.Error()) + "\n"
	}
	return detailStyle.Render(line) + "\n"
}

func (m *Model) appendLog(line string) {
	m.log = append(m.log, line)
	if len(m.log) > maxLogLines {
		m.log = m.log[len(m.log)-maxLogLines:]
	}
}

func (m *Model) refresh() {
	m.statuses = m.source.Statuses()

	now := m.clock.Now()
	rows := make([]table.Row, 0, len(m.statuses))
	for _, status := range m.statuses {
		rows = append(rows, m.statusToRow(status, now))
	}
	m.table.SetRows(rows)
	m.updateTableSize()
}

func (m *Model) statusToRow(status watch.Status, now time.Time) table.Row {
	lastPoll, nextPoll := "-", "-"
	if !status.LastPolledAt.IsZero() {
		lastPoll = formatDuration(now.Sub(status.LastPolledAt)) + " ago"
	}
	if !status.NextPollAt.IsZero() && status.State != watch.Suspended {
		nextPoll = "in " + formatDuration(max(status.NextPollAt.Sub(now), 0))
	}

	return table.Row{
		status.Key,
		valueOr(status.LastStatus, "-"),
		status.State.String(),
		lastPoll,
		nextPoll,
		fmt.Sprintf("%d", status.Failures),
	}
}

func (m *Model) updateTableSize() {
	m.table.SetHeight(max(min(len(m.statuses), maxTableRows), 1) + 1)
}

func (m *Model) selected() (watch.Status, bool) {
	cursor := m.table.Cursor()
	if cursor < 0 || cursor >= len(m.statuses) {
		return watch.Status{}, false
	}
	return m.statuses[cursor], true
}

func (m *Model) resumeSelected() {
	resumer, ok := m.source.(Resumer)
	if !ok {
		return
	}
	selected, ok := m.selected()
	if !ok || selected.State != watch.Suspended {
		return
	}
	if resumer.Resume(selected.Key) {
		m.appendLog(fmt.Sprintf("%s %s watch resumed", m.clock.Now().Format("15:04:05"), selected.Key))
	}
}
