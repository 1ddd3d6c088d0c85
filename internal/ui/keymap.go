// ABOUTME: Key bindings for the player TUI
// ABOUTME: Implements help.KeyMap so the bindings render as inline help
package ui

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the player's key bindings
type KeyMap struct {
	PlayPause key.Binding
	Next      key.Binding
	Prev      key.Binding

	SeekForward  key.Binding
	SeekBackward key.Binding

	VolumeUp   key.Binding
	VolumeDown key.Binding
	Mute       key.Binding

	Transport key.Binding

	Help key.Binding
	Quit key.Binding
}

// DefaultKeyMap returns the default key bindings
func DefaultKeyMap() KeyMap {
	return KeyMap{
		PlayPause: key.NewBinding(
			key.WithKeys(" ", "p"),
			key.WithHelp("space", "play/pause"),
		),
		Next: key.NewBinding(
			key.WithKeys("n"),
			key.WithHelp("n", "next"),
		),
		Prev: key.NewBinding(
			key.WithKeys("N", "b"),
			key.WithHelp("b", "prev"),
		),
		SeekForward: key.NewBinding(
			key.WithKeys("right", "l"),
			key.WithHelp("→", "+5s"),
		),
		SeekBackward: key.NewBinding(
			key.WithKeys("left", "h"),
			key.WithHelp("←", "-5s"),
		),
		VolumeUp: key.NewBinding(
			key.WithKeys("up", "+", "="),
			key.WithHelp("↑", "vol+"),
		),
		VolumeDown: key.NewBinding(
			key.WithKeys("down", "-"),
			key.WithHelp("↓", "vol-"),
		),
		Mute: key.NewBinding(
			key.WithKeys("m"),
			key.WithHelp("m", "mute"),
		),
		Transport: key.NewBinding(
			key.WithKeys("t"),
			key.WithHelp("t", "gapless/crossfade"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "help"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

// ShortHelp implements help.KeyMap
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.PlayPause, k.Next, k.Prev, k.Mute, k.Help, k.Quit}
}

// FullHelp implements help.KeyMap
func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.PlayPause, k.Next, k.Prev},
		{k.SeekForward, k.SeekBackward},
		{k.VolumeUp, k.VolumeDown, k.Mute},
		{k.Transport, k.Help, k.Quit},
	}
}
