// Package messaging implements the conversation operations a user performs:
// opening a conversation, sending, read receipts, typing and remote search.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/dmsync/internal/bus"
	"github.com/matheus3301/dmsync/internal/edit"
	"github.com/matheus3301/dmsync/internal/msgstore"
	"github.com/matheus3301/dmsync/internal/outbox"
	"github.com/matheus3301/dmsync/internal/protocol"
	"github.com/matheus3301/dmsync/internal/rank"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	ErrNoConversation = errors.New("no conversation given")
	// ErrInactiveConversation is returned by SearchRemote when the
	// conversation is not, or is no longer, the active one.
	ErrInactiveConversation = errors.New("conversation is not active")
)

// TypingInterval is the minimum gap between two "is typing" frames for the
// same conversation. Stop frames are never throttled.
const TypingInterval = 2 * time.Second

// Conn is the relay connection as seen by the service.
type Conn interface {
	Send(event string, payload any) bool
	UserID() string
}

// SearchLog records the keywords a user searched for.
type SearchLog interface {
	RecordSearch(keyword string, at time.Time) error
	RecentSearches(limit int) ([]string, error)
}

// Service owns the active conversation and the outbound message flow.
type Service struct {
	store  *msgstore.Store
	conn   Conn
	queue  *outbox.Queue
	search *rank.SearchCache
	log    SearchLog
	bus    *bus.Bus
	logger *zap.Logger
	now    func() time.Time

	mu     sync.Mutex
	typing map[string]*rate.Limiter
	name   string
}

// NewService creates a messaging service.
func NewService(store *msgstore.Store, conn Conn, queue *outbox.Queue, search *rank.SearchCache, log SearchLog, b *bus.Bus, logger *zap.Logger) *Service {
	return &Service{
		store:  store,
		conn:   conn,
		queue:  queue,
		search: search,
		log:    log,
		bus:    b,
		logger: logger,
		now:    time.Now,
		typing: make(map[string]*rate.Limiter),
	}
}

// SetDisplayName sets the sender name stamped on outgoing messages.
func (s *Service) SetDisplayName(name string) {
	s.mu.Lock()
	s.name = name
	s.mu.Unlock()
}

func (s *Service) displayName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// OpenConversation makes conversationID the active conversation: it leaves
// the previous one, joins the new one and marks it read. It reports whether
// the join frame went out; when it did not, the conversation is re-joined
// on reconnect.
func (s *Service) OpenConversation(conversationID string) (bool, error) {
	if conversationID == "" {
		return false, ErrNoConversation
	}
	prev := s.store.SetActive(conversationID)
	if prev != "" && prev != conversationID {
		s.conn.Send(protocol.LeaveConversation, protocol.Conversation{ConversationID: prev})
	}
	s.store.ResetUnread(conversationID)
	if n := s.store.MarkConversationRead(conversationID, s.conn.UserID()); n > 0 {
		s.logger.Debug("marked messages read", zap.String("conversation_id", conversationID), zap.Int("count", n))
	}

	joined := s.conn.Send(protocol.JoinConversation, protocol.Conversation{ConversationID: conversationID})
	if joined {
		s.conn.Send(protocol.MarkConversationRead, protocol.Conversation{ConversationID: conversationID})
	} else {
		s.logger.Warn("join deferred until reconnect", zap.String("conversation_id", conversationID))
	}
	return joined, nil
}

// Leave closes the active conversation.
func (s *Service) Leave() {
	prev := s.store.SetActive("")
	if prev == "" {
		return
	}
	s.conn.Send(protocol.LeaveConversation, protocol.Conversation{ConversationID: prev})
	s.conn.Send(protocol.TypingIndicator, protocol.Typing{ConversationID: prev, IsTyping: false})
}

// SendResult describes an outgoing message.
type SendResult struct {
	Message msgstore.Message
	Queued  bool
}

// Send adds a message to the store immediately and sends it. When the relay
// is unreachable the frame is queued and re-sent on reconnect; the relay
// deduplicates by message id.
func (s *Service) Send(_ context.Context, conversationID, content string) (SendResult, error) {
	if conversationID == "" {
		return SendResult{}, ErrNoConversation
	}
	if err := edit.Validate(content); err != nil {
		return SendResult{}, err
	}

	m := msgstore.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       s.conn.UserID(),
		SenderName:     s.displayName(),
		Content:        content,
		Type:           msgstore.TypeText,
		Status:         msgstore.StatusSent,
		CreatedAt:      s.now(),
	}
	s.store.Upsert(m)
	s.bus.Emit(bus.KindMessageUpserted, m)

	req := protocol.SendMessage{ConversationID: conversationID, Content: content, MessageID: m.ID}
	if s.conn.Send(protocol.SendPrivateMessage, req) {
		return SendResult{Message: m}, nil
	}
	s.queue.Enqueue(protocol.SendPrivateMessage, m.ID, req)
	s.bus.Notify(bus.KindNotifyError, "Message not delivered, will retry when reconnected", m.ID)
	s.logger.Warn("message queued", zap.String("message_id", m.ID), zap.String("conversation_id", conversationID))
	return SendResult{Message: m, Queued: true}, nil
}

// MarkRead marks a received message read locally and tells the relay.
func (s *Service) MarkRead(conversationID, messageID string) bool {
	m, ok := s.store.Get(messageID)
	if !ok {
		return false
	}
	if conversationID == "" {
		conversationID = m.ConversationID
	}
	s.store.MarkRead(messageID, s.conn.UserID())
	return s.conn.Send(protocol.MarkMessageRead, protocol.MarkRead{ConversationID: conversationID, MessageID: messageID})
}

func (s *Service) typingLimiter(conversationID string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.typing[conversationID]
	if !ok {
		l = rate.NewLimiter(rate.Every(TypingInterval), 1)
		s.typing[conversationID] = l
	}
	return l
}

// SetTyping sends a typing indicator. Start frames are throttled to one per
// TypingInterval; it reports whether a frame was sent.
func (s *Service) SetTyping(conversationID string, isTyping bool) bool {
	if conversationID == "" {
		return false
	}
	if isTyping && !s.typingLimiter(conversationID).AllowN(s.now(), 1) {
		return false
	}
	return s.conn.Send(protocol.TypingIndicator, protocol.Typing{ConversationID: conversationID, IsTyping: isTyping})
}

// SearchLocal searches the cached messages of a conversation.
func (s *Service) SearchLocal(conversationID, keyword string, f rank.Filters) []msgstore.Message {
	return rank.SearchLocal(s.store.List(conversationID), keyword, f, s.now())
}

// SearchRemote runs the server-side search of the active conversation.
// Results that arrive after the user switched conversations are discarded.
func (s *Service) SearchRemote(ctx context.Context, conversationID, keyword string, opts rank.SearchOptions) ([]msgstore.Message, bool, error) {
	if conversationID == "" || conversationID != s.store.Active() {
		return nil, false, fmt.Errorf("%w: %s", ErrInactiveConversation, conversationID)
	}
	keyword = strings.TrimSpace(keyword)
	if keyword != "" && s.log != nil {
		if err := s.log.RecordSearch(keyword, s.now()); err != nil {
			s.logger.Warn("record search", zap.Error(err))
		}
	}

	results, cached, err := s.search.Search(ctx, conversationID, keyword, opts)
	if err != nil {
		return nil, false, fmt.Errorf("remote search: %w", err)
	}
	if s.store.Active() != conversationID {
		s.logger.Debug("discarding stale search result", zap.String("conversation_id", conversationID))
		return nil, false, fmt.Errorf("%w: %s", ErrInactiveConversation, conversationID)
	}
	return results, cached, nil
}

// Delete removes a message from the store together with every queued frame
// that concerns it, and returns how many frames were dropped.
func (s *Service) Delete(messageID string) (int, error) {
	m, ok := s.store.Get(messageID)
	if !ok || !s.store.Delete(messageID) {
		return 0, fmt.Errorf("%w: %s", edit.ErrMessageNotFound, messageID)
	}
	dropped := s.queue.Remove(messageID)
	s.bus.Emit(bus.KindMessageDeleted, m)
	s.logger.Info("message deleted",
		zap.String("message_id", messageID),
		zap.String("conversation_id", m.ConversationID),
		zap.Int("dropped_frames", dropped))
	return dropped, nil
}

// CacheStats describes the cached remote search results.
func (s *Service) CacheStats() rank.CacheStats { return s.search.Stats() }

// ClearCache drops every cached remote search result.
func (s *Service) ClearCache() { s.search.Clear() }

// Reset forgets the session's messages, queued frames, cached searches and
// typing limiters, as on logout. The search history is kept.
func (s *Service) Reset() {
	s.store.Reset()
	n := s.queue.Clear()
	s.search.Clear()
	s.mu.Lock()
	clear(s.typing)
	s.mu.Unlock()
	s.logger.Info("messaging state reset", zap.Int("dropped_frames", n))
}

// Suggestions returns up to five recent searches that contain partial.
func (s *Service) Suggestions(partial string) []string {
	if s.log == nil {
		return nil
	}
	recent, err := s.log.RecentSearches(20)
	if err != nil {
		s.logger.Warn("recent searches", zap.Error(err))
		return nil
	}
	return rank.Suggestions(partial, recent)
}
