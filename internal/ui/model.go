// ABOUTME: Bubbletea model for the player TUI
// ABOUTME: Renders playlist status and turns key presses into transport commands
package ui

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Resonate-Protocol/resonate-engine/internal/app"
	"github.com/Resonate-Protocol/resonate-engine/pkg/broadcast"
	"github.com/Resonate-Protocol/resonate-engine/pkg/playback"
)

const (
	seekStep   = 5.0
	volumeStep = 0.05

	spectrumBars  = 32
	spectrumRange = 48.0 // dB shown as a full bar
)

var barLevels = []rune(" ▁▂▃▄▅▆▇█")

// Controller is the playlist surface the TUI drives
type Controller interface {
	TogglePause() bool
	Next() error
	Prev() error
	Seek(delta float64) (float64, error)
	AdjustVolume(delta float64)
	ToggleMute()
	ToggleTransport() error
}

// StatusMsg carries a playlist snapshot
type StatusMsg app.Status

// ClientsMsg carries the connected broadcast listeners
type ClientsMsg []broadcast.ClientInfo

// actionMsg reports the result of a controller call
type actionMsg struct {
	action string
	err    error
}

type tickMsg time.Time

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	valueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	clientStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("220"))
	frameStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// Model represents the TUI state
type Model struct {
	ctrl     Controller
	clients  func() []broadcast.ClientInfo
	spectrum func() []float32

	status    app.Status
	listeners []broadcast.ClientInfo
	lastErr   string

	keys     KeyMap
	help     help.Model
	progress progress.Model

	width    int
	quitting bool
}

// NewModel creates a model driving ctrl. clients may be nil.
func NewModel(ctrl Controller, clients func() []broadcast.ClientInfo) Model {
	return Model{
		ctrl:     ctrl,
		clients:  clients,
		status:   app.Status{Volume: 1},
		keys:     DefaultKeyMap(),
		help:     help.New(),
		progress: progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage()),
	}
}

// WithSpectrum shows the bins returned by fn, typically a
// spectrum.Analyzer's Bins
func (m Model) WithSpectrum(fn func() []float32) Model {
	m.spectrum = fn
	return m
}

// Init starts the refresh tick
func (m Model) Init() tea.Cmd {
	return tick()
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		m.progress.Width = max(10, msg.Width-20)

	case StatusMsg:
		m.status = app.Status(msg)

	case ClientsMsg:
		m.listeners = msg

	case actionMsg:
		if msg.err != nil {
			m.lastErr = fmt.Sprintf("%s: %v", msg.action, msg.err)
		} else {
			m.lastErr = ""
		}

	case tickMsg:
		cmds := []tea.Cmd{tick()}
		if m.clients != nil {
			fetch := m.clients
			cmds = append(cmds, func() tea.Msg { return ClientsMsg(fetch()) })
		}
		return m, tea.Batch(cmds...)
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		return m, tea.Quit
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil
	}

	if m.ctrl == nil {
		return m, nil
	}

	ctrl := m.ctrl
	switch {
	case key.Matches(msg, m.keys.PlayPause):
		return m, run("pause", func() error {
			ctrl.TogglePause()
			return nil
		})
	case key.Matches(msg, m.keys.Next):
		return m, run("next", ctrl.Next)
	case key.Matches(msg, m.keys.Prev):
		return m, run("prev", ctrl.Prev)
	case key.Matches(msg, m.keys.SeekForward):
		return m, run("seek", func() error {
			_, err := ctrl.Seek(seekStep)
			return err
		})
	case key.Matches(msg, m.keys.SeekBackward):
		return m, run("seek", func() error {
			_, err := ctrl.Seek(-seekStep)
			return err
		})
	case key.Matches(msg, m.keys.VolumeUp):
		m.status.Volume = clampVolume(m.status.Volume + volumeStep)
		return m, run("volume", func() error {
			ctrl.AdjustVolume(volumeStep)
			return nil
		})
	case key.Matches(msg, m.keys.VolumeDown):
		m.status.Volume = clampVolume(m.status.Volume - volumeStep)
		return m, run("volume", func() error {
			ctrl.AdjustVolume(-volumeStep)
			return nil
		})
	case key.Matches(msg, m.keys.Mute):
		m.status.Muted = !m.status.Muted
		return m, run("mute", func() error {
			ctrl.ToggleMute()
			return nil
		})
	case key.Matches(msg, m.keys.Transport):
		return m, run("transport", ctrl.ToggleTransport)
	}
	return m, nil
}

// run executes a controller call off the UI goroutine
func run(action string, fn func() error) tea.Cmd {
	return func() tea.Msg {
		return actionMsg{action: action, err: fn()}
	}
}

// View renders the TUI
func (m Model) View() string {
	if m.quitting {
		return "Stopping playback...\n"
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Resonate Engine"))
	b.WriteString("\n\n")

	s := m.status
	b.WriteString(row("Track", fmt.Sprintf("%s (%d/%d)", trackName(s.URI), s.Index+1, max(s.Count, 1))))
	b.WriteString(row("State", stateLabel(s.State)))
	if s.Transport != "" {
		b.WriteString(row("Transport", s.Transport))
	}

	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("%s %s %s\n",
		formatTime(s.Position), m.progress.ViewAs(fraction(s.Position, s.Duration)), formatTime(s.Duration)))

	if m.spectrum != nil && s.State == playback.PlaybackPlaying {
		b.WriteString(row("Spectrum", bars(m.spectrum(), spectrumBars)))
	}

	volume := fmt.Sprintf("%3.0f%%", s.Volume*100)
	if s.Muted {
		volume += " (muted)"
	}
	b.WriteString(row("Volume", volume))

	if m.clients != nil {
		b.WriteString("\n")
		b.WriteString(clientStyle.Render(fmt.Sprintf("Listeners (%d)", len(m.listeners))))
		b.WriteString("\n")
		for _, c := range m.listeners {
			b.WriteString(valueStyle.Render(fmt.Sprintf("  • %s (%s, %s)", c.Name, c.Codec, c.State)))
			b.WriteString("\n")
		}
	}

	if m.lastErr != "" {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render(m.lastErr))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.help.View(m.keys))

	return frameStyle.Render(b.String()) + "\n"
}

func row(label, value string) string {
	return headerStyle.Render(fmt.Sprintf("%-10s", label+":")) + " " + valueStyle.Render(value) + "\n"
}

func stateLabel(s playback.PlaybackState) string {
	switch s {
	case playback.PlaybackPlaying:
		return "▶ playing"
	case playback.PlaybackPaused:
		return "⏸ paused"
	case playback.PlaybackPrepared:
		return "◌ prepared"
	default:
		return "■ stopped"
	}
}

func trackName(uri string) string {
	if uri == "" {
		return "-"
	}
	return path.Base(uri)
}

func fraction(pos, total float64) float64 {
	if total <= 0 {
		return 0
	}
	return min(1, max(0, pos/total))
}

func clampVolume(v float64) float64 {
	return min(1, max(0, v))
}

// bars folds bins into n columns, each drawn by its loudest bin
func bars(bins []float32, n int) string {
	if len(bins) == 0 || n <= 0 {
		return ""
	}
	n = min(n, len(bins))
	per := len(bins) / n

	out := make([]rune, n)
	for i := range out {
		var loudest float32
		for _, v := range bins[i*per : (i+1)*per] {
			loudest = max(loudest, v)
		}
		level := int(float64(loudest) / spectrumRange * float64(len(barLevels)-1))
		out[i] = barLevels[min(max(level, 0), len(barLevels)-1)]
	}
	return string(out)
}

func formatTime(seconds float64) string {
	if seconds <= 0 {
		return "0:00"
	}
	d := time.Duration(seconds * float64(time.Second))
	return fmt.Sprintf("%d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}
