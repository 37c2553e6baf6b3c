package tui

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/warmpool/internal/events"
)

// --- Styles ---

var (
	docStyle = lipgloss.NewStyle().Margin(1, 2)

	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#874BFD"))

	statusOK      = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00"))
	statusRunning = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00"))
	statusFailed  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1)
)

// --- Types ---

// Stats is a point-in-time pool snapshot. The provider closure must be safe
// to call from the TUI goroutine.
type Stats struct {
	Running int
	Idle    int
}

type workerRow struct {
	ID        string
	Queue     string
	Status    string
	ExitCode  int
	StartTime time.Time
	EndTime   time.Time
}

type Model struct {
	hubEvents <-chan events.Event
	unsub     func()
	stats     func() Stats

	width  int
	height int

	workers map[string]*workerRow
	order   []string
	counts  struct {
		dispatched int
		succeeded  int
		failed     int
		pruned     int
	}
	eventLog []events.Event
	snapshot Stats

	workerTable table.Model
}

type eventMsg events.Event
type statsMsg Stats

// --- Init ---

// NewMonitor builds a monitor over hub. statsFn supplies live pool counts and
// may be nil.
func NewMonitor(hub *events.Hub, statsFn func() Stats) *Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ST", Width: 2},
			{Title: "Worker", Width: 12},
			{Title: "Queue", Width: 16},
			{Title: "Exit", Width: 4},
			{Title: "Duration", Width: 10},
		}),
		table.WithFocused(true),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	ch, cancel := hub.Subscribe()
	return &Model{
		hubEvents:   ch,
		unsub:       cancel,
		stats:       statsFn,
		workers:     make(map[string]*workerRow),
		eventLog:    make([]events.Event, 0),
		workerTable: t,
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		m.receiveNextEvent(),
		m.pollStats(),
		tea.EnterAltScreen,
	)
}

// --- Update ---

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.unsub()
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.workerTable.SetWidth(m.width - 6)

	case eventMsg:
		m.handleEvent(events.Event(msg))
		m.updateTable()
		return m, m.receiveNextEvent()

	case statsMsg:
		m.snapshot = Stats(msg)
		return m, tea.Tick(2*time.Second, func(time.Time) tea.Msg {
			return m.fetchStats()
		})
	}

	m.workerTable, cmd = m.workerTable.Update(msg)
	return m, cmd
}

func (m *Model) handleEvent(e events.Event) {
	m.eventLog = append([]events.Event{e}, m.eventLog...)
	if len(m.eventLog) > 50 {
		m.eventLog = m.eventLog[:50]
	}

	data := make(map[string]any)
	_ = json.Unmarshal(e.Data, &data)

	workerID, _ := data["worker_id"].(string)

	switch e.Type {
	case events.TypeDispatched:
		m.counts.dispatched++
		if workerID == "" {
			return
		}
		row := &workerRow{
			ID:        workerID,
			Status:    "running",
			StartTime: time.Now(),
		}
		if q, ok := data["queue"].(string); ok {
			row.Queue = q
		}
		if _, seen := m.workers[workerID]; !seen {
			m.order = append([]string{workerID}, m.order...)
		}
		m.workers[workerID] = row

	case events.TypeSuccess, events.TypeError:
		if e.Type == events.TypeSuccess {
			m.counts.succeeded++
		} else {
			m.counts.failed++
		}
		row, ok := m.workers[workerID]
		if !ok {
			return
		}
		row.EndTime = time.Now()
		if e.Type == events.TypeSuccess {
			row.Status = "succeeded"
		} else {
			row.Status = "failed"
		}
		if code, ok := data["exit_code"].(float64); ok {
			row.ExitCode = int(code)
		}

	case events.TypePruned:
		m.counts.pruned++
	}

	if len(m.order) > 50 {
		for _, id := range m.order[50:] {
			delete(m.workers, id)
		}
		m.order = m.order[:50]
	}
}

func (m *Model) updateTable() {
	rows := make([]table.Row, 0, len(m.order))
	for _, id := range m.order {
		row := m.workers[id]
		if row == nil {
			continue
		}

		statusSym := "○"
		exit := "-"
		switch row.Status {
		case "running":
			statusSym = statusRunning.Render("◉")
		case "succeeded":
			statusSym = statusOK.Render("●")
			exit = "0"
		case "failed":
			statusSym = statusFailed.Render("∅")
			exit = fmt.Sprintf("%d", row.ExitCode)
		}

		duration := "-"
		if !row.StartTime.IsZero() {
			end := row.EndTime
			if end.IsZero() {
				end = time.Now()
			}
			duration = end.Sub(row.StartTime).Round(time.Millisecond).String()
		}

		shortID := row.ID
		if len(shortID) > 8 {
			shortID = shortID[:8]
		}

		rows = append(rows, table.Row{statusSym, shortID, row.Queue, exit, duration})
	}

	m.workerTable.SetRows(rows)
}

// --- View ---

func (m *Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	header := m.renderHeader()
	workersView := borderStyle.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			titleStyle.Render("Workers"),
			m.workerTable.View(),
		),
	)

	eventsView := borderStyle.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			titleStyle.Render("Event Stream"),
			m.renderEvents(),
		),
	)

	help := lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Render(" [q] Quit • [↑/↓] Scroll Workers")

	return docStyle.Render(
		lipgloss.JoinVertical(
			lipgloss.Left,
			header,
			workersView,
			eventsView,
			help,
		),
	)
}

func (m *Model) renderHeader() string {
	items := []string{
		fmt.Sprintf("Running: %s", statusRunning.Render(fmt.Sprintf("%d", m.snapshot.Running))),
		fmt.Sprintf("Idle: %d", m.snapshot.Idle),
		fmt.Sprintf("Done: %s", statusOK.Render(fmt.Sprintf("%d", m.counts.succeeded))),
		fmt.Sprintf("Failed: %s", statusFailed.Render(fmt.Sprintf("%d", m.counts.failed))),
	}

	return borderStyle.Width(m.width - 4).Render(
		lipgloss.JoinHorizontal(lipgloss.Top,
			lipgloss.NewStyle().Width((m.width-4)/4).Render(items[0]),
			lipgloss.NewStyle().Width((m.width-4)/4).Render(items[1]),
			lipgloss.NewStyle().Width((m.width-4)/4).Render(items[2]),
			lipgloss.NewStyle().Width((m.width-4)/4).Render(items[3]),
		),
	)
}

func (m *Model) renderEvents() string {
	var lines []string
	for i, e := range m.eventLog {
		if i >= 10 {
			break
		}
		ts := e.At.Format("15:04:05")
		lines = append(lines, fmt.Sprintf("%s | %-16s | %s", ts, e.Type, string(e.Data)))
	}
	if len(lines) == 0 {
		return "  No events yet..."
	}
	return lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
}

// --- Commands ---

func (m *Model) receiveNextEvent() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.hubEvents
		if !ok {
			return tea.Quit()
		}
		return eventMsg(ev)
	}
}

func (m *Model) pollStats() tea.Cmd {
	return func() tea.Msg {
		return m.fetchStats()
	}
}

func (m *Model) fetchStats() tea.Msg {
	if m.stats == nil {
		return statsMsg{}
	}
	return statsMsg(m.stats())
}
