package ui

import (
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"pagelink/internal/session"
)

type keyMap struct {
	Up      key.Binding
	Down    key.Binding
	Confirm key.Binding
	Back    key.Binding
	Prev    key.Binding
	Next    key.Binding
	Quit    key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Up:      key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
		Down:    key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
		Confirm: key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "select")),
		Back:    key.NewBinding(key.WithKeys("esc", "backspace"), key.WithHelp("esc", "back")),
		Prev:    key.NewBinding(key.WithKeys("left", "h"), key.WithHelp("←/h", "prev")),
		Next:    key.NewBinding(key.WithKeys("right", "l"), key.WithHelp("→/l", "next")),
		Quit:    key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "quit")),
	}
}

// input maps a key to an engine input.
func (k keyMap) input(msg tea.KeyMsg) (session.Input, bool) {
	switch {
	case key.Matches(msg, k.Up):
		return session.Up, true
	case key.Matches(msg, k.Down):
		return session.Down, true
	case key.Matches(msg, k.Confirm):
		return session.Confirm, true
	case key.Matches(msg, k.Back):
		return session.Back, true
	case key.Matches(msg, k.Prev):
		return session.Prev, true
	case key.Matches(msg, k.Next):
		return session.Next, true
	}
	return 0, false
}

// hints returns the bindings a state reacts to, for the help line.
func (k keyMap) hints(s session.State) []key.Binding {
	switch s {
	case session.BrowsingList:
		return []key.Binding{k.Back, k.Confirm, k.Up, k.Down}
	case session.ReceivingPage:
		return []key.Binding{k.Back}
	case session.DisplayPage:
		return []key.Binding{k.Back, k.Prev, k.Next}
	case session.Failed:
		return []key.Binding{k.Back}
	}
	return []key.Binding{k.Quit}
}
