package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/lotas/tabharvest/internal/run"
	"github.com/lotas/tabharvest/internal/types"
)

// Sender is satisfied by *tea.Program.
type Sender interface {
	Send(msg tea.Msg)
}

// Progress forwards run progress into the monitor program.
type Progress struct {
	prog Sender
}

// NewProgress returns a progress sink for prog.
func NewProgress(prog Sender) *Progress {
	return &Progress{prog: prog}
}

func (p *Progress) SetLoading(window types.WindowID, tick types.LoadingTick) {
	p.prog.Send(loadingMsg{window: window, tick: tick})
}

func (p *Progress) SetSaving(window types.WindowID, saved int) {
	p.prog.Send(savingMsg{window: window, saved: saved})
}

func (p *Progress) SetFinished(window types.WindowID, saved int, hadErrors bool) {
	p.prog.Send(finishedMsg{window: window, saved: saved, hadErrors: hadErrors})
}

// Report lists a finished run.
func (p *Progress) Report(r run.Report) {
	p.prog.Send(reportMsg{report: r})
}
