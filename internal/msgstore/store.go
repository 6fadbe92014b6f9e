// Package msgstore is the client-side authoritative cache of messages,
// conversations and edit history windows.
package msgstore

import (
	"slices"
	"sort"
	"sync"
	"time"
)

// Store owns every Message and EditVersion. Readers get copies.
type Store struct {
	mu            sync.RWMutex
	messages      map[string]*Message
	order         map[string][]string
	conversations map[string]*Conversation
	versions      map[string][]EditVersion
	active        string
}

// New creates an empty store.
func New() *Store {
	return &Store{
		messages:      make(map[string]*Message),
		order:         make(map[string][]string),
		conversations: make(map[string]*Conversation),
		versions:      make(map[string][]EditVersion),
	}
}

// Upsert inserts m or merges it into the existing message with the same id.
// A merge never downgrades status, keeps newer local edits and keeps the
// local engagement fields. Returns true when the message was new.
func (s *Store) Upsert(m Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.messages[m.ID]
	if !ok {
		c := m.clone()
		s.messages[m.ID] = &c
		s.order[m.ConversationID] = append(s.order[m.ConversationID], m.ID)
		s.touchConversation(m.ConversationID, m.CreatedAt)
		return true
	}

	if m.Status.rank() > cur.Status.rank() {
		cur.Status = m.Status
	}
	if m.EditCount >= cur.EditCount {
		cur.Content = m.Content
		cur.EditCount = m.EditCount
		if !m.LastEditedAt.IsZero() {
			cur.LastEditedAt = m.LastEditedAt
		}
	}
	if m.SenderName != "" {
		cur.SenderName = m.SenderName
	}
	if cur.CreatedAt.IsZero() {
		cur.CreatedAt = m.CreatedAt
	}
	if m.IsRecalled {
		cur.IsRecalled = true
	}
	return false
}

func (s *Store) touchConversation(id string, at time.Time) {
	c, ok := s.conversations[id]
	if !ok {
		c = &Conversation{ID: id}
		s.conversations[id] = c
	}
	if at.After(c.LastMessageAt) {
		c.LastMessageAt = at
	}
}

// Get returns a copy of the message with the given id.
func (s *Store) Get(id string) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return Message{}, false
	}
	return m.clone(), true
}

// List returns the messages of a conversation in arrival order.
func (s *Store) List(conversationID string) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.order[conversationID]
	out := make([]Message, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.messages[id].clone())
	}
	return out
}

// Len returns the number of messages held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// ApplyEdit sets content, edit count and edit time unless the store already
// holds a newer edit: a lower count, or the same count edited no later
// than the current copy, is stale. It reports whether the edit was applied.
func (s *Store) ApplyEdit(id, content string, editCount int, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return false
	}
	if editCount < m.EditCount || (editCount == m.EditCount && !at.After(m.LastEditedAt)) {
		return false
	}
	m.Content = content
	m.EditCount = editCount
	m.LastEditedAt = at
	return true
}

// BeginEdit atomically bumps the edit count of a message whose content is
// still expect. It returns the updated message, or false when the message
// is gone, was recalled, or its content changed underneath the caller.
func (s *Store) BeginEdit(id, expect, content string, at time.Time) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok || m.IsRecalled || m.Content != expect {
		return Message{}, false
	}
	m.Content = content
	m.EditCount++
	m.LastEditedAt = at
	return m.clone(), true
}

// SetStatus moves a message forward to status. Downgrades are ignored.
func (s *Store) SetStatus(id string, status Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok || status.rank() <= m.Status.rank() {
		return false
	}
	m.Status = status
	return true
}

// MarkRead records that readBy read the message. Reading your own message
// does not change it.
func (s *Store) MarkRead(id, readBy string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok || m.SenderID == readBy {
		return false
	}
	m.Status = StatusRead
	m.IsRead = true
	return true
}

// MarkConversationRead marks every message in the conversation not sent by
// readBy as read and returns how many changed.
func (s *Store) MarkConversationRead(conversationID, readBy string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, id := range s.order[conversationID] {
		m := s.messages[id]
		if m.SenderID == readBy || (m.IsRead && m.Status == StatusRead) {
			continue
		}
		m.Status = StatusRead
		m.IsRead = true
		n++
	}
	return n
}

// Recall flags a message as recalled.
func (s *Store) Recall(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok || m.IsRecalled {
		return false
	}
	m.IsRecalled = true
	return true
}

// Delete removes a message together with its history window.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return false
	}
	delete(s.messages, id)
	delete(s.versions, id)
	ids := s.order[m.ConversationID]
	if i := slices.Index(ids, id); i >= 0 {
		s.order[m.ConversationID] = slices.Delete(ids, i, i+1)
	}
	return true
}

// Reactions returns the like/collect state of a message.
func (s *Store) Reactions(id string) (Reactions, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return Reactions{}, false
	}
	return Reactions{Liked: m.Liked, LikeCount: m.LikeCount, Collected: m.Collected}, true
}

// SetReactions overwrites the like/collect state of a message.
func (s *Store) SetReactions(id string, r Reactions) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return false
	}
	m.Liked = r.Liked
	m.LikeCount = r.LikeCount
	m.Collected = r.Collected
	return true
}

// Versions returns the history window of a message in increasing version order.
func (s *Store) Versions(id string) []EditVersion {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.versions[id])
}

// HasVersions reports whether any history is cached for the message.
func (s *Store) HasVersions(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.versions[id]) > 0
}

// AppendVersion adds v to the window of its message. Versions at or below
// the newest cached one are rejected as duplicates. A version that skips
// ahead starts a new window so the window stays contiguous.
func (s *Store) AppendVersion(v EditVersion) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	window := s.versions[v.MessageID]
	if n := len(window); n > 0 {
		last := window[n-1].Version
		if v.Version <= last {
			return false
		}
		if v.Version != last+1 {
			window = nil
		}
	}
	window = append(window, v)
	if len(window) > MaxHistoryVersions {
		window = slices.Clone(window[len(window)-MaxHistoryVersions:])
	}
	s.versions[v.MessageID] = window
	return true
}

// ReplaceVersions installs a fetched history. Only the newest contiguous run
// of at most MaxHistoryVersions entries is kept.
func (s *Store) ReplaceVersions(id string, versions []EditVersion) []EditVersion {
	vs := slices.Clone(versions)
	sort.SliceStable(vs, func(i, j int) bool { return vs[i].Version < vs[j].Version })
	vs = slices.CompactFunc(vs, func(a, b EditVersion) bool { return a.Version == b.Version })

	start := len(vs) - 1
	for start > 0 && vs[start-1].Version == vs[start].Version-1 && len(vs)-start < MaxHistoryVersions {
		start--
	}
	if start < 0 {
		start = 0
	}
	window := vs[start:]
	for i := range window {
		window[i].MessageID = id
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(window) == 0 {
		delete(s.versions, id)
		return nil
	}
	s.versions[id] = window
	return slices.Clone(window)
}

// UpsertConversation records a conversation and its participants.
func (s *Store) UpsertConversation(c Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.conversations[c.ID]
	if !ok {
		cp := c
		cp.Participants = slices.Clone(c.Participants)
		s.conversations[c.ID] = &cp
		return
	}
	for _, p := range c.Participants {
		if !slices.Contains(cur.Participants, p) {
			cur.Participants = append(cur.Participants, p)
		}
	}
	if c.LastMessageAt.After(cur.LastMessageAt) {
		cur.LastMessageAt = c.LastMessageAt
	}
}

// Conversation returns a copy of a conversation.
func (s *Store) Conversation(id string) (Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return Conversation{}, false
	}
	cp := *c
	cp.Participants = slices.Clone(c.Participants)
	return cp, true
}

// Conversations returns all conversations, most recently active first.
func (s *Store) Conversations() []Conversation {
	s.mu.RLock()
	out := make([]Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		cp := *c
		cp.Participants = slices.Clone(c.Participants)
		out = append(out, cp)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastMessageAt.Equal(out[j].LastMessageAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].LastMessageAt.After(out[j].LastMessageAt)
	})
	return out
}

// IncrementUnread bumps the unread counter of a conversation.
func (s *Store) IncrementUnread(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		c = &Conversation{ID: conversationID}
		s.conversations[conversationID] = c
	}
	c.UnreadCount++
}

// ResetUnread zeroes the unread counter of a conversation.
func (s *Store) ResetUnread(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.conversations[conversationID]; ok {
		c.UnreadCount = 0
	}
}

// SetActive makes conversationID the active conversation and returns the
// previous one.
func (s *Store) SetActive(conversationID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.active
	s.active = conversationID
	if _, ok := s.conversations[conversationID]; !ok && conversationID != "" {
		s.conversations[conversationID] = &Conversation{ID: conversationID}
	}
	return prev
}

// Active returns the active conversation id, empty when none is open.
func (s *Store) Active() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Reset drops everything, as on logout.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = make(map[string]*Message)
	s.order = make(map[string][]string)
	s.conversations = make(map[string]*Conversation)
	s.versions = make(map[string][]EditVersion)
	s.active = ""
}
