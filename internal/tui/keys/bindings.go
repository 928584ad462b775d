package keys

import (
	"unicode"

	"github.com/gdamore/tcell/v2"
)

// Action represents a keybinding action.
type Action struct {
	Key         tcell.Key
	Rune        rune
	Label       string
	Description string
	Handler     func()
}

// Matches returns true if the event matches this action.
func (a *Action) Matches(ev *tcell.EventKey) bool {
	if a.Key == tcell.KeyRune {
		return ev.Key() == tcell.KeyRune && ev.Rune() == a.Rune
	}
	if ev.Key() == a.Key {
		return true
	}
	// Ctrl+letter may also arrive as the letter rune with ModCtrl set.
	if a.Key >= tcell.KeyCtrlA && a.Key <= tcell.KeyCtrlZ &&
		ev.Key() == tcell.KeyRune && ev.Modifiers()&tcell.ModCtrl != 0 {
		return unicode.ToLower(ev.Rune()) == 'a'+rune(a.Key-tcell.KeyCtrlA)
	}
	return false
}

// Registry holds keybindings in registration order, global first.
type Registry struct {
	global []*Action
	views  map[string][]*Action
}

// NewRegistry creates a new keybinding registry.
func NewRegistry() *Registry {
	return &Registry{views: make(map[string][]*Action)}
}

// AddGlobal registers a binding active in every view.
func (r *Registry) AddGlobal(a *Action) {
	r.global = append(r.global, a)
}

// AddView registers a binding active only in view.
func (r *Registry) AddView(view string, a *Action) {
	r.views[view] = append(r.views[view], a)
}

// Bindings lists the bindings that apply to view: its own, then global.
func (r *Registry) Bindings(view string) []*Action {
	out := make([]*Action, 0, len(r.views[view])+len(r.global))
	out = append(out, r.views[view]...)
	return append(out, r.global...)
}

// HandleEvent runs the first binding for view that matches ev. While typing,
// plain rune bindings are skipped so text input keeps its characters.
func (r *Registry) HandleEvent(view string, ev *tcell.EventKey, typing bool) bool {
	for _, a := range r.Bindings(view) {
		if typing && a.Key == tcell.KeyRune {
			continue
		}
		if a.Matches(ev) {
			a.Handler()
			return true
		}
	}
	return false
}
