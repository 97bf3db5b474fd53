package tui

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the key bindings of the watch view.
type KeyMap struct {
	NextPage  key.Binding
	PrevPage  key.Binding
	FirstPage key.Binding
	Refresh   key.Binding

	// Search.
	SearchActivate key.Binding
	SearchClear    key.Binding

	Quit key.Binding
}

// DefaultKeyMap is the built-in key binding set.
var DefaultKeyMap = KeyMap{
	NextPage: key.NewBinding(
		key.WithKeys("n", "right", "pgdown"),
		key.WithHelp("n/→", "next page"),
	),
	PrevPage: key.NewBinding(
		key.WithKeys("p", "left", "pgup"),
		key.WithHelp("p/←", "prev page"),
	),
	FirstPage: key.NewBinding(
		key.WithKeys("g", "home"),
		key.WithHelp("g", "first page"),
	),
	Refresh: key.NewBinding(
		key.WithKeys("r", "ctrl+r"),
		key.WithHelp("r", "refresh"),
	),
	SearchActivate: key.NewBinding(
		key.WithKeys("/"),
		key.WithHelp("/", "search"),
	),
	SearchClear: key.NewBinding(
		key.WithKeys("esc"),
		key.WithHelp("esc", "clear search"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

// ShortHelp lists the bindings shown in the footer.
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.PrevPage, k.NextPage, k.Refresh, k.SearchActivate, k.Quit}
}
