package rank

import (
	"fmt"
	"sync"
	"time"
)

// MarksKey is the local state key of message marks.
const MarksKey = "message_marks"

// MarkType names one flag a user can set on a message.
type MarkType string

const (
	MarkImportant MarkType = "important"
	MarkUrgent    MarkType = "urgent"
	MarkTodo      MarkType = "todo"
	MarkDone      MarkType = "done"
)

// ParseMarkType converts a name into a MarkType.
func ParseMarkType(s string) (MarkType, error) {
	switch t := MarkType(s); t {
	case MarkImportant, MarkUrgent, MarkTodo, MarkDone:
		return t, nil
	}
	return "", fmt.Errorf("unknown mark type %q", s)
}

// Mark is the set of flags on one message.
type Mark struct {
	Important bool `json:"important,omitempty"`
	Urgent    bool `json:"urgent,omitempty"`
	Todo      bool `json:"todo,omitempty"`
	Done      bool `json:"done,omitempty"`
}

// Any reports whether any flag is set.
func (m Mark) Any() bool {
	return m.Important || m.Urgent || m.Todo || m.Done
}

// Has reports whether flag t is set.
func (m Mark) Has(t MarkType) bool {
	switch t {
	case MarkImportant:
		return m.Important
	case MarkUrgent:
		return m.Urgent
	case MarkTodo:
		return m.Todo
	case MarkDone:
		return m.Done
	}
	return false
}

func (m *Mark) flip(t MarkType) bool {
	var f *bool
	switch t {
	case MarkImportant:
		f = &m.Important
	case MarkUrgent:
		f = &m.Urgent
	case MarkTodo:
		f = &m.Todo
	case MarkDone:
		f = &m.Done
	default:
		return false
	}
	*f = !*f
	return *f
}

// Marks holds the marks of every message.
type Marks struct {
	mu    sync.RWMutex
	marks map[string]Mark
}

// NewMarks creates an empty set.
func NewMarks() *Marks {
	return &Marks{marks: make(map[string]Mark)}
}

// Toggle flips flag t on message id and returns its new value.
func (s *Marks) Toggle(id string, t MarkType) (bool, error) {
	if _, err := ParseMarkType(string(t)); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.marks[id]
	on := m.flip(t)
	if m.Any() {
		s.marks[id] = m
	} else {
		delete(s.marks, id)
	}
	return on, nil
}

// Get returns the marks of message id.
func (s *Marks) Get(id string) Mark {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.marks[id]
}

// Snapshot copies every non-empty mark.
func (s *Marks) Snapshot() map[string]Mark {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Mark, len(s.marks))
	for id, m := range s.marks {
		out[id] = m
	}
	return out
}

// Clear drops every mark.
func (s *Marks) Clear() {
	s.mu.Lock()
	s.marks = make(map[string]Mark)
	s.mu.Unlock()
}

type marksPayload struct {
	Marks     map[string]Mark `json:"marks"`
	Version   int             `json:"version"`
	LastSaved int64           `json:"lastSaved"`
}

// Save writes the marks to db.
func (s *Marks) Save(db StateStore) error {
	return db.SaveState(MarksKey, marksPayload{
		Marks:     s.Snapshot(),
		Version:   stateVersion,
		LastSaved: time.Now().UnixMilli(),
	})
}

// Load replaces the marks with the saved ones, if any.
func (s *Marks) Load(db StateStore) error {
	var payload marksPayload
	found, err := db.LoadState(MarksKey, &payload)
	if err != nil || !found {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marks = make(map[string]Mark, len(payload.Marks))
	for id, m := range payload.Marks {
		if m.Any() {
			s.marks[id] = m
		}
	}
	return nil
}
