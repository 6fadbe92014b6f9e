package rank

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/dmsync/internal/msgstore"
)

// QuickAccessKey is the local state key of pins, recents and filters.
const QuickAccessKey = "message_quick_access"

const (
	MaxPinned = 10
	MaxRecent = 5
)

// Quick filter names.
const (
	FilterPinned    = "showPinned"
	FilterRecent    = "showRecent"
	FilterImportant = "showImportant"
	FilterTodo      = "showTodo"
)

// ErrUnknownFilter is returned by ToggleFilter for a name outside the
// quick filter set.
var ErrUnknownFilter = errors.New("unknown quick filter")

var filterNames = []string{FilterPinned, FilterRecent, FilterImportant, FilterTodo}

// PinnedMessage is a snapshot of a message taken when it was pinned.
type PinnedMessage struct {
	MessageID  string               `json:"messageId"`
	Content    string               `json:"content"`
	SenderName string               `json:"senderName"`
	Timestamp  int64                `json:"timestamp"`
	Type       msgstore.MessageType `json:"type"`
	PinnedAt   int64                `json:"pinnedAt"`
}

// RecentMessage is a snapshot of a message taken when it was viewed.
type RecentMessage struct {
	MessageID  string               `json:"messageId"`
	Content    string               `json:"content"`
	SenderName string               `json:"senderName"`
	Timestamp  int64                `json:"timestamp"`
	Type       msgstore.MessageType `json:"type"`
	ViewedAt   int64                `json:"viewedAt"`
}

// QuickAccess keeps the pinned and recently viewed messages of a session
// plus the quick filters.
type QuickAccess struct {
	mu      sync.RWMutex
	pinned  []PinnedMessage
	recent  []RecentMessage
	filters map[string]bool
	now     func() time.Time
}

// NewQuickAccess creates empty quick-access state.
func NewQuickAccess() *QuickAccess {
	return &QuickAccess{filters: emptyFilters(), now: time.Now}
}

func emptyFilters() map[string]bool {
	f := make(map[string]bool, len(filterNames))
	for _, n := range filterNames {
		f[n] = false
	}
	return f
}

// Pin puts m first in the pinned list. It returns false when m is already
// pinned or the list is full.
func (q *QuickAccess) Pin(m msgstore.Message) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pinned) >= MaxPinned {
		return false
	}
	if slices.ContainsFunc(q.pinned, func(p PinnedMessage) bool { return p.MessageID == m.ID }) {
		return false
	}
	p := PinnedMessage{
		MessageID:  m.ID,
		Content:    m.Content,
		SenderName: m.SenderName,
		Timestamp:  m.CreatedAt.UnixMilli(),
		Type:       m.Type,
		PinnedAt:   q.now().UnixMilli(),
	}
	q.pinned = slices.Insert(q.pinned, 0, p)
	return true
}

// Unpin removes id from the pinned list. It reports whether it was pinned.
func (q *QuickAccess) Unpin(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := slices.IndexFunc(q.pinned, func(p PinnedMessage) bool { return p.MessageID == id })
	if i < 0 {
		return false
	}
	q.pinned = slices.Delete(q.pinned, i, i+1)
	return true
}

// IsPinned reports whether id is pinned.
func (q *QuickAccess) IsPinned(id string) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return slices.ContainsFunc(q.pinned, func(p PinnedMessage) bool { return p.MessageID == id })
}

// Pinned returns the pinned messages, most recently pinned first.
func (q *QuickAccess) Pinned() []PinnedMessage {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return slices.Clone(q.pinned)
}

// AddToRecent moves m to the front of the recent list, evicting the oldest
// entry beyond MaxRecent.
func (q *QuickAccess) AddToRecent(m msgstore.Message) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.recent = slices.DeleteFunc(q.recent, func(r RecentMessage) bool { return r.MessageID == m.ID })
	r := RecentMessage{
		MessageID:  m.ID,
		Content:    m.Content,
		SenderName: m.SenderName,
		Timestamp:  m.CreatedAt.UnixMilli(),
		Type:       m.Type,
		ViewedAt:   q.now().UnixMilli(),
	}
	q.recent = slices.Insert(q.recent, 0, r)
	if len(q.recent) > MaxRecent {
		q.recent = q.recent[:MaxRecent]
	}
}

// Recent returns the recently viewed messages, newest first.
func (q *QuickAccess) Recent() []RecentMessage {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return slices.Clone(q.recent)
}

// ClearRecent empties the recent list.
func (q *QuickAccess) ClearRecent() {
	q.mu.Lock()
	q.recent = nil
	q.mu.Unlock()
}

// ToggleFilter flips the named filter and returns its new value.
func (q *QuickAccess) ToggleFilter(name string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	v, ok := q.filters[name]
	if !ok {
		return false, fmt.Errorf("%w %q", ErrUnknownFilter, name)
	}
	q.filters[name] = !v
	return !v, nil
}

// ActiveFilters lists the enabled filters in a fixed order.
func (q *QuickAccess) ActiveFilters() []string {
	q.mu.RLock()
	defer q.mu.RUnlock()
	var out []string
	for _, n := range filterNames {
		if q.filters[n] {
			out = append(out, n)
		}
	}
	return out
}

// ClearFilters disables every filter.
func (q *QuickAccess) ClearFilters() {
	q.mu.Lock()
	q.filters = emptyFilters()
	q.mu.Unlock()
}

// Reset drops pins, recents and filters.
func (q *QuickAccess) Reset() {
	q.mu.Lock()
	q.pinned = nil
	q.recent = nil
	q.filters = emptyFilters()
	q.mu.Unlock()
}

// Apply keeps the messages that pass every active filter. With no active
// filter msgs is returned unchanged.
func (q *QuickAccess) Apply(msgs []msgstore.Message, marks map[string]Mark) []msgstore.Message {
	q.mu.RLock()
	pinned := make(map[string]bool, len(q.pinned))
	for _, p := range q.pinned {
		pinned[p.MessageID] = true
	}
	recent := make(map[string]bool, len(q.recent))
	for _, r := range q.recent {
		recent[r.MessageID] = true
	}
	f := make(map[string]bool, len(q.filters))
	for k, v := range q.filters {
		f[k] = v
	}
	q.mu.RUnlock()

	if !f[FilterPinned] && !f[FilterRecent] && !f[FilterImportant] && !f[FilterTodo] {
		return msgs
	}
	out := make([]msgstore.Message, 0, len(msgs))
	for _, m := range msgs {
		switch {
		case f[FilterPinned] && !pinned[m.ID]:
		case f[FilterRecent] && !recent[m.ID]:
		case f[FilterImportant] && !marks[m.ID].Important:
		case f[FilterTodo] && !marks[m.ID].Todo:
		default:
			out = append(out, m)
		}
	}
	return out
}

type quickAccessPayload struct {
	Pinned    []PinnedMessage `json:"pinned"`
	Recent    []RecentMessage `json:"recent"`
	Filters   map[string]bool `json:"filters"`
	Version   int             `json:"version"`
	LastSaved int64           `json:"lastSaved"`
}

// Save writes the quick-access state to db.
func (q *QuickAccess) Save(db StateStore) error {
	q.mu.RLock()
	payload := quickAccessPayload{
		Pinned:    slices.Clone(q.pinned),
		Recent:    slices.Clone(q.recent),
		Filters:   make(map[string]bool, len(q.filters)),
		Version:   stateVersion,
		LastSaved: q.now().UnixMilli(),
	}
	for k, v := range q.filters {
		payload.Filters[k] = v
	}
	q.mu.RUnlock()
	return db.SaveState(QuickAccessKey, payload)
}

// Load restores saved state. Lists longer than their caps are truncated and
// unknown filter names are ignored.
func (q *QuickAccess) Load(db StateStore) error {
	var payload quickAccessPayload
	found, err := db.LoadState(QuickAccessKey, &payload)
	if err != nil || !found {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if payload.Pinned != nil {
		q.pinned = payload.Pinned[:min(len(payload.Pinned), MaxPinned)]
	}
	if payload.Recent != nil {
		q.recent = payload.Recent[:min(len(payload.Recent), MaxRecent)]
	}
	for k, v := range payload.Filters {
		if _, ok := q.filters[k]; ok {
			q.filters[k] = v
		}
	}
	return nil
}
