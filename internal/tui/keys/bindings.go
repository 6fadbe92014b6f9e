package keys

import "github.com/gdamore/tcell/v2"

// Action represents a keybinding action.
type Action struct {
	Key         tcell.Key
	Rune        rune
	Description string
	Handler     func()
	Visible     bool
}

// Matches returns true if the event matches this action.
func (a *Action) Matches(ev *tcell.EventKey) bool {
	if a.Key != tcell.KeyRune {
		return ev.Key() == a.Key
	}
	return ev.Key() == tcell.KeyRune && ev.Rune() == a.Rune
}

type binding struct {
	name   string
	action *Action
}

// scope keeps bindings in registration order so hints render stably.
type scope []binding

func (s *scope) set(name string, a *Action) {
	for i := range *s {
		if (*s)[i].name == name {
			(*s)[i].action = a
			return
		}
	}
	*s = append(*s, binding{name: name, action: a})
}

func (s scope) match(ev *tcell.EventKey) *Action {
	for _, b := range s {
		if b.action.Matches(ev) {
			return b.action
		}
	}
	return nil
}

// Registry holds keybindings organized by scope. View bindings shadow
// global ones with the same key.
type Registry struct {
	global scope
	views  map[string]scope
}

// NewRegistry creates a new keybinding registry.
func NewRegistry() *Registry {
	return &Registry{views: make(map[string]scope)}
}

// AddGlobal registers a global keybinding. Registering a name again
// replaces it.
func (r *Registry) AddGlobal(name string, action *Action) {
	r.global.set(name, action)
}

// AddView registers a view-specific keybinding.
func (r *Registry) AddView(view, name string, action *Action) {
	s := r.views[view]
	s.set(name, action)
	r.views[view] = s
}

// Hints returns visible descriptions for view: view bindings first, then
// globals, each in registration order.
func (r *Registry) Hints(view string) []string {
	var hints []string
	for _, s := range []scope{r.views[view], r.global} {
		for _, b := range s {
			if b.action.Visible {
				hints = append(hints, b.action.Description)
			}
		}
	}
	return hints
}

// HandleEvent dispatches a key event to the matching action of view, or
// a global one. Returns true if a handler ran.
func (r *Registry) HandleEvent(view string, ev *tcell.EventKey) bool {
	a := r.views[view].match(ev)
	if a == nil {
		a = r.global.match(ev)
	}
	if a == nil {
		return false
	}
	a.Handler()
	return true
}
