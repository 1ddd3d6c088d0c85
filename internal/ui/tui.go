// ABOUTME: TUI initialization and control
// ABOUTME: Wraps the bubbletea program so the playlist can push status updates
package ui

import (
	"context"
	"errors"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Resonate-Protocol/resonate-engine/internal/app"
	"github.com/Resonate-Protocol/resonate-engine/pkg/broadcast"
)

// TUI is a running player interface
type TUI struct {
	program *tea.Program
}

// New creates a TUI bound to ctx. clients may be nil when nothing is
// broadcast; spectrum may be nil to hide the spectrum row.
func New(ctx context.Context, ctrl Controller, clients func() []broadcast.ClientInfo, spectrum func() []float32) *TUI {
	model := NewModel(ctrl, clients).WithSpectrum(spectrum)
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	return &TUI{program: p}
}

// Run blocks until the user quits or the context ends
func (t *TUI) Run() error {
	_, err := t.program.Run()
	if errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}

// Update pushes a playlist snapshot to the interface
func (t *TUI) Update(s app.Status) {
	t.program.Send(StatusMsg(s))
}

// Quit stops the interface
func (t *TUI) Quit() {
	t.program.Quit()
}
