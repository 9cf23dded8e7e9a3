// Package tui shows a live status line per browser window while the server
// harvests tabs.
package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/lotas/tabharvest/internal/badge"
	"github.com/lotas/tabharvest/internal/run"
	"github.com/lotas/tabharvest/internal/types"
)

// --- Messages ---

type loadingMsg struct {
	window types.WindowID
	tick   types.LoadingTick
}

type savingMsg struct {
	window types.WindowID
	saved  int
}

type finishedMsg struct {
	window    types.WindowID
	saved     int
	hadErrors bool
}

type reportMsg struct{ report run.Report }

type statusTickMsg time.Time

// maxReports is how many finished runs stay listed.
const maxReports = 8

type phase int

const (
	phaseLoading phase = iota
	phaseSaving
	phaseFinished
)

type windowRow struct {
	id        types.WindowID
	phase     phase
	tick      types.LoadingTick
	saved     int
	hadErrors bool
	updated   time.Time
}

// --- Model ---

type Model struct {
	port      int
	connected func() bool
	online    bool

	windows map[types.WindowID]*windowRow
	reports []run.Report

	spinner spinner.Model
	bar     progress.Model
	width   int
	now     func() time.Time
}

// NewModel creates the monitor model. connected reports whether the
// extension is attached; it may be nil.
func NewModel(port int, connected func() bool) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(badge.ColorLoading))

	bar := progress.New(progress.WithSolidFill(badge.ColorLoading), progress.WithoutPercentage())
	bar.Width = 20

	return Model{
		port:      port,
		connected: connected,
		windows:   make(map[types.WindowID]*windowRow),
		spinner:   sp,
		bar:       bar,
		now:       time.Now,
	}
}

func statusTick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return statusTickMsg(t) })
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, statusTick())
}

func (m *Model) row(id types.WindowID) *windowRow {
	r, ok := m.windows[id]
	if !ok {
		r = &windowRow{id: id}
		m.windows[id] = r
	}
	r.updated = m.now()
	return r
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "c":
			for id, r := range m.windows {
				if r.phase == phaseFinished {
					delete(m.windows, id)
				}
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case statusTickMsg:
		if m.connected != nil {
			m.online = m.connected()
		}
		return m, statusTick()

	case loadingMsg:
		r := m.row(msg.window)
		r.phase = phaseLoading
		r.tick = msg.tick

	case savingMsg:
		r := m.row(msg.window)
		r.phase = phaseSaving
		r.saved = msg.saved

	case finishedMsg:
		r := m.row(msg.window)
		r.phase = phaseFinished
		r.saved = msg.saved
		r.hadErrors = msg.hadErrors

	case reportMsg:
		m.reports = append([]run.Report{msg.report}, m.reports...)
		if len(m.reports) > maxReports {
			m.reports = m.reports[:maxReports]
		}
	}
	return m, nil
}

// --- View ---

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	onlineStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(badge.ColorFinished))
	windowStyle = lipgloss.NewStyle().Bold(true).Width(12)
)

func badgeStyle(b badge.Badge) lipgloss.Style {
	return lipgloss.NewStyle().
		Foreground(lipgloss.Color("#ffffff")).
		Background(lipgloss.Color(b.Color)).
		Padding(0, 1)
}

func (m Model) View() string {
	var b strings.Builder

	status := dimStyle.Render("waiting for extension")
	if m.online {
		status = onlineStyle.Render("extension connected")
	}
	b.WriteString(titleStyle.Render(fmt.Sprintf("tabharvest :%d", m.port)))
	b.WriteString(" ")
	b.WriteString(status)
	b.WriteString("\n\n")

	ids := make([]types.WindowID, 0, len(m.windows))
	for id := range m.windows {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	if len(ids) == 0 {
		b.WriteString(dimStyle.Render("  No runs yet. Click the toolbar button in a browser window."))
		b.WriteString("\n")
	}
	for _, id := range ids {
		b.WriteString("  ")
		b.WriteString(m.renderRow(m.windows[id]))
		b.WriteString("\n")
	}

	if len(m.reports) > 0 {
		b.WriteString("\n")
		b.WriteString(titleStyle.Render("Recent"))
		b.WriteString("\n")
		for _, r := range m.reports {
			b.WriteString(dimStyle.Render(fmt.Sprintf("  %s  window %d  %s  ",
				r.Finished.Format("15:04:05"), r.Window, r.Outcome)))
			b.WriteString(strings.ReplaceAll(r.Body, "\n", " · "))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(dimStyle.Render("  q quit · c clear finished"))
	return b.String()
}

func (m Model) renderRow(r *windowRow) string {
	name := windowStyle.Render(fmt.Sprintf("Window %d", r.id))
	switch r.phase {
	case phaseLoading:
		bg := badge.Loading(r.tick)
		if r.tick.Fine {
			return name + badgeStyle(bg).Render(bg.Text) + " " + m.bar.ViewAs(r.tick.Percent/100) + dimStyle.Render(" settling")
		}
		return name + badgeStyle(bg).Render(bg.Text) + " " + m.spinner.View() + dimStyle.Render(" loading tabs")
	case phaseSaving:
		bg, _ := badge.Saving(r.saved)
		return name + badgeStyle(bg).Render(bg.Text) + dimStyle.Render(" saving")
	default:
		bg := badge.Finished(r.saved, r.hadErrors)
		label := fmt.Sprintf(" %d saved", r.saved)
		if r.hadErrors {
			label += ", with errors"
		}
		return name + badgeStyle(bg).Render(fmt.Sprint(r.saved)) + dimStyle.Render(label)
	}
}
