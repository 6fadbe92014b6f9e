package sync

import (
	"fmt"
	"time"

	"github.com/matheus3301/dmsync/internal/bus"
	"github.com/matheus3301/dmsync/internal/edit"
	"github.com/matheus3301/dmsync/internal/msgstore"
	"github.com/matheus3301/dmsync/internal/presence"
	"github.com/matheus3301/dmsync/internal/protocol"
	"github.com/matheus3301/dmsync/internal/relay"
	"go.uber.org/zap"
)

// Conn is the part of the relay connection the engine needs.
type Conn interface {
	On(event string, h relay.Handler) error
	Send(event string, payload any) bool
	UserID() string
}

// ReadReceipt is the bus payload of message.read and conversation.read.
// MessageID is empty for a whole-conversation receipt.
type ReadReceipt struct {
	ConversationID string
	MessageID      string
	ReadBy         string
	ReadAt         time.Time
	Changed        int
}

// TypingChange is the bus payload of presence.typing.
type TypingChange struct {
	ConversationID string
	UserID         string
	IsTyping       bool
}

// Engine applies inbound relay events to the message store, the presence
// tracker and the edit engine. The connection dispatches frames from a
// single goroutine, so they are applied in receive order.
type Engine struct {
	store    *msgstore.Store
	presence *presence.Tracker
	edits    *edit.Engine
	conn     Conn
	bus      *bus.Bus
	logger   *zap.Logger
	now      func() time.Time
}

// NewEngine creates a new sync engine.
func NewEngine(store *msgstore.Store, tracker *presence.Tracker, edits *edit.Engine, conn Conn, b *bus.Bus, logger *zap.Logger) *Engine {
	return &Engine{
		store:    store,
		presence: tracker,
		edits:    edits,
		conn:     conn,
		bus:      b,
		logger:   logger,
		now:      time.Now,
	}
}

// Register installs a handler for every inbound event.
func (e *Engine) Register() error {
	handlers := map[string]relay.Handler{
		protocol.PrivateMessage:   e.onPrivateMessage,
		protocol.MessageRead:      e.onMessageRead,
		protocol.ConversationRead: e.onConversationRead,
		protocol.UserTyping:       e.onUserTyping,
		protocol.UserOnlineStatus: e.onOnlineStatus,
		protocol.MessageEdit:      e.onMessageEdit,
		protocol.MessageRecall:    e.onMessageRecall,
		protocol.Pong:             e.onPong,
		protocol.Reconnect:        e.onReconnect,
		protocol.ReconnectAttempt: e.onReconnectAttempt,
		protocol.Error:            e.onError,
		protocol.Disconnect:       e.onDisconnect,
	}
	for event, h := range handlers {
		if err := e.conn.On(event, h); err != nil {
			return fmt.Errorf("register %s: %w", event, err)
		}
	}
	return nil
}

func (e *Engine) bind(env protocol.Envelope, v any) bool {
	if err := env.Bind(v); err != nil {
		e.logger.Warn("malformed payload", zap.String("event", env.Event), zap.Error(err))
		return false
	}
	return true
}

func (e *Engine) onPrivateMessage(env protocol.Envelope) {
	var wire protocol.Message
	if !e.bind(env, &wire) {
		return
	}
	if wire.ID == "" || wire.ConversationID == "" {
		e.logger.Warn("private-message without id or conversation")
		return
	}
	m := wire.ToStore()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = e.now()
	}
	fresh := e.store.Upsert(m)
	e.store.UpsertConversation(msgstore.Conversation{
		ID:            m.ConversationID,
		Participants:  []string{m.SenderID},
		LastMessageAt: m.CreatedAt,
	})
	mine := m.SenderID == e.conn.UserID()
	if fresh && !mine && m.ConversationID != e.store.Active() {
		e.store.IncrementUnread(m.ConversationID)
	}
	// The relay echoes our own messages back once it has fanned them out.
	if !fresh && mine {
		e.store.SetStatus(m.ID, msgstore.StatusDelivered)
	}
	if stored, ok := e.store.Get(m.ID); ok {
		e.bus.Emit(bus.KindMessageUpserted, stored)
	}
	e.logger.Debug("message received",
		zap.String("message_id", m.ID),
		zap.String("conversation_id", m.ConversationID),
		zap.Bool("new", fresh))
}

func (e *Engine) onMessageRead(env protocol.Envelope) {
	var r protocol.Read
	if !e.bind(env, &r) {
		return
	}
	if !e.store.MarkRead(r.MessageID, r.ReadBy) {
		return
	}
	m, _ := e.store.Get(r.MessageID)
	e.bus.Emit(bus.KindMessageRead, ReadReceipt{
		ConversationID: m.ConversationID,
		MessageID:      r.MessageID,
		ReadBy:         r.ReadBy,
		ReadAt:         r.ReadAt,
		Changed:        1,
	})
}

func (e *Engine) onConversationRead(env protocol.Envelope) {
	var r protocol.ConversationReadPayload
	if !e.bind(env, &r) {
		return
	}
	n := e.store.MarkConversationRead(r.ConversationID, r.ReadBy)
	e.bus.Emit(bus.KindConversationRead, ReadReceipt{
		ConversationID: r.ConversationID,
		ReadBy:         r.ReadBy,
		ReadAt:         r.ReadAt,
		Changed:        n,
	})
}

func (e *Engine) onUserTyping(env protocol.Envelope) {
	var t protocol.UserTypingPayload
	if !e.bind(env, &t) {
		return
	}
	if t.UserID == e.conn.UserID() {
		return
	}
	e.presence.SetTyping(t.ConversationID, t.UserID, t.IsTyping)
	e.bus.Emit(bus.KindTypingChanged, TypingChange{
		ConversationID: t.ConversationID,
		UserID:         t.UserID,
		IsTyping:       t.IsTyping,
	})
}

func (e *Engine) onOnlineStatus(env protocol.Envelope) {
	var s protocol.OnlineStatus
	if !e.bind(env, &s) {
		return
	}
	at := s.Timestamp
	if at.IsZero() {
		at = e.now()
	}
	e.presence.ApplyOnline(s.UserID, s.IsOnline, at)
	e.bus.Emit(bus.KindPresenceChanged, e.presence.Get(s.UserID))
}

func (e *Engine) onMessageEdit(env protocol.Envelope) {
	var evt protocol.Edited
	if !e.bind(env, &evt) {
		return
	}
	e.edits.HandleEditEvent(evt)
}

func (e *Engine) onMessageRecall(env protocol.Envelope) {
	var evt protocol.Recalled
	if !e.bind(env, &evt) {
		return
	}
	e.edits.HandleRecallEvent(evt)
}

func (e *Engine) onPong(protocol.Envelope) {
	e.logger.Debug("pong")
}

// onReconnect re-joins the active conversation. Queued frames are flushed
// by the outbox sender on conn.established.
func (e *Engine) onReconnect(env protocol.Envelope) {
	var a protocol.Attempt
	e.bind(env, &a)
	if active := e.store.Active(); active != "" {
		if !e.conn.Send(protocol.JoinConversation, protocol.Conversation{ConversationID: active}) {
			e.logger.Warn("rejoin after reconnect failed", zap.String("conversation_id", active))
		}
	}
	e.logger.Info("reconnected", zap.Int("attempts", a.Attempt))
	e.bus.Emit(bus.KindConnReconnected, a.Attempt)
}

func (e *Engine) onReconnectAttempt(env protocol.Envelope) {
	var a protocol.Attempt
	if !e.bind(env, &a) {
		return
	}
	e.logger.Info("reconnecting", zap.Int("attempt", a.Attempt))
	e.bus.Emit(bus.KindConnReconnecting, a.Attempt)
}

func (e *Engine) onError(env protocol.Envelope) {
	var r protocol.Reason
	e.bind(env, &r)
	e.logger.Warn("relay error", zap.String("message", r.Message))
	e.bus.Emit(bus.KindConnError, r.Message)
}

func (e *Engine) onDisconnect(env protocol.Envelope) {
	var r protocol.Reason
	e.bind(env, &r)
	e.logger.Warn("relay disconnected", zap.String("reason", r.Message))
	e.bus.Emit(bus.KindConnLost, r.Message)
}
