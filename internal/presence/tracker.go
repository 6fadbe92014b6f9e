// Package presence tracks the online status of known users and who is
// typing in each conversation.
package presence

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Status is a user's availability.
type Status string

const (
	Online  Status = "online"
	Away    Status = "away"
	Busy    Status = "busy"
	DND     Status = "dnd"
	Offline Status = "offline"
)

// ParseStatus converts a name into a Status.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case Online, Away, Busy, DND, Offline:
		return st, nil
	}
	return "", fmt.Errorf("unknown presence status %q", s)
}

// Record is the presence of one user.
type Record struct {
	UserID    string    `json:"userId"`
	Status    Status    `json:"status"`
	Message   string    `json:"message,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
	LastSeen  time.Time `json:"lastSeen"`
}

// Tracker holds one Record per observed user. Records are created on first
// observation and live until Clear or ClearAll.
type Tracker struct {
	mu      sync.RWMutex
	records map[string]Record
	typing  map[string]map[string]bool
	now     func() time.Time
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		records: make(map[string]Record),
		typing:  make(map[string]map[string]bool),
		now:     time.Now,
	}
}

// Get returns the record of userID, or an offline record without creating
// one when the user was never observed.
func (t *Tracker) Get(userID string) Record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if r, ok := t.records[userID]; ok {
		return r
	}
	return Record{UserID: userID, Status: Offline}
}

// Set records userID's status. An empty status means offline. A zero
// lastSeen is replaced by the current time.
func (t *Tracker) Set(userID string, status Status, message string, lastSeen time.Time) {
	if userID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setLocked(userID, status, message, lastSeen)
}

func (t *Tracker) setLocked(userID string, status Status, message string, lastSeen time.Time) {
	now := t.now()
	if status == "" {
		status = Offline
	}
	if lastSeen.IsZero() {
		lastSeen = now
	}
	t.records[userID] = Record{
		UserID:    userID,
		Status:    status,
		Message:   message,
		UpdatedAt: now,
		LastSeen:  lastSeen,
	}
}

// ApplyOnline applies a user-online-status event. Going offline keeps the
// event time as the last time the user was seen.
func (t *Tracker) ApplyOnline(userID string, isOnline bool, at time.Time) {
	if userID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	status := Offline
	if isOnline {
		status = Online
	}
	msg := t.records[userID].Message
	t.setLocked(userID, status, msg, at)
	if !isOnline {
		for _, users := range t.typing {
			delete(users, userID)
		}
	}
}

// SetTyping records whether userID is typing in conversationID.
func (t *Tracker) SetTyping(conversationID, userID string, isTyping bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	users := t.typing[conversationID]
	if !isTyping {
		delete(users, userID)
		if len(users) == 0 {
			delete(t.typing, conversationID)
		}
		return
	}
	if users == nil {
		users = make(map[string]bool)
		t.typing[conversationID] = users
	}
	users[userID] = true
}

// Typing lists who is typing in conversationID, sorted by user id.
func (t *Tracker) Typing(conversationID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.typing[conversationID]))
	for u := range t.typing[conversationID] {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// ByStatus returns the records with status, sorted by user id.
func (t *Tracker) ByStatus(status Status) []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []Record
	for _, r := range t.records {
		if r.Status == status {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// All returns every record, sorted by user id.
func (t *Tracker) All() []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Record, 0, len(t.records))
	for _, r := range t.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Clear forgets userID.
func (t *Tracker) Clear(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.records, userID)
	for conv, users := range t.typing {
		delete(users, userID)
		if len(users) == 0 {
			delete(t.typing, conv)
		}
	}
}

// ClearAll forgets every user, as on logout.
func (t *Tracker) ClearAll() {
	t.mu.Lock()
	t.records = make(map[string]Record)
	t.typing = make(map[string]map[string]bool)
	t.mu.Unlock()
}

// LastSeenText renders how long ago r was seen.
func LastSeenText(r Record, now time.Time) string {
	if r.Status == Online {
		return "online"
	}
	if r.LastSeen.IsZero() {
		return "never seen"
	}
	d := now.Sub(r.LastSeen)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%d minutes ago", int(d/time.Minute))
	case d < 24*time.Hour:
		return fmt.Sprintf("%d hours ago", int(d/time.Hour))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%d days ago", int(d/(24*time.Hour)))
	}
	return r.LastSeen.Format("2006-01-02")
}
