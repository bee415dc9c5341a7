// Package tui implements the terminal dashboard fed by the gateway's event
// stream.
package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/psgate/psgate/internal/classify"
	"github.com/psgate/psgate/internal/events"
)

// maxRows bounds the rolling execution table.
const maxRows = 200

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	statStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	levelColor = map[classify.Level]lipgloss.Style{
		classify.LevelSafe:      lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
		classify.LevelRisky:     lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
		classify.LevelUnknown:   lipgloss.NewStyle().Foreground(lipgloss.Color("6")),
		classify.LevelDangerous: lipgloss.NewStyle().Foreground(lipgloss.Color("1")),
		classify.LevelCritical:  lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
		classify.LevelBlocked:   lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
	}
)

// EventMsg delivers one stream event into the model.
type EventMsg events.Event

// DisconnectedMsg signals the subscription ended.
type DisconnectedMsg struct{ Err error }

// Model is the dashboard Bubble Tea model.
type Model struct {
	spin     spinner.Model
	tbl      table.Model
	rows     []table.Row
	total    int
	blocked  int
	attempts int
	dropped  bool
	err      error
	width    int
}

// New creates the dashboard model.
func New() Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot

	tbl := table.New(
		table.WithColumns([]table.Column{
			{Title: "Time", Width: 8},
			{Title: "Kind", Width: 9},
			{Title: "Level", Width: 10},
			{Title: "ms", Width: 7},
			{Title: "Exit", Width: 5},
			{Title: "Command", Width: 60},
		}),
		table.WithHeight(20),
		table.WithFocused(true),
	)
	return Model{spin: sp, tbl: tbl}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return m.spin.Tick
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.tbl.SetHeight(msg.Height - 5)
	case EventMsg:
		m.total++
		ev := events.Event(msg)
		if ev.Blocked {
			m.blocked++
		}
		if ev.Kind == events.KindAttempt {
			m.attempts++
		}
		exit := "-"
		if ev.ExitCode != nil {
			exit = fmt.Sprintf("%d", *ev.ExitCode)
		}
		level := string(ev.Level)
		if style, ok := levelColor[ev.Level]; ok {
			level = style.Render(level)
		}
		row := table.Row{
			ev.Timestamp.Local().Format("15:04:05"),
			string(ev.Kind),
			level,
			fmt.Sprintf("%d", ev.DurationMs),
			exit,
			ev.Preview,
		}
		m.rows = append([]table.Row{row}, m.rows...)
		if len(m.rows) > maxRows {
			m.rows = m.rows[:maxRows]
		}
		m.tbl.SetRows(m.rows)
	case DisconnectedMsg:
		m.err = msg.Err
		return m, tea.Quit
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.spin, cmd = m.spin.Update(msg)
	cmds = append(cmds, cmd)
	m.tbl, cmd = m.tbl.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// View implements tea.Model.
func (m Model) View() string {
	header := titleStyle.Render("psgate live executions") + "  " + m.spin.View()
	stats := statStyle.Render(fmt.Sprintf(
		"events=%d blocked=%d attempts=%d  (q to quit)  %s",
		m.total, m.blocked, m.attempts, time.Now().Format("15:04:05")))
	return header + "\n" + stats + "\n" + m.tbl.View() + "\n"
}
