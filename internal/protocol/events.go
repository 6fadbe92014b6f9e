// Package protocol defines the JSON frames exchanged with the relay.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/matheus3301/dmsync/internal/msgstore"
)

// Outbound events (client to relay).
const (
	JoinConversation     = "join-conversation"
	LeaveConversation    = "leave-conversation"
	SendPrivateMessage   = "send-private-message"
	MessageEdit          = "message-edit"
	MessageRecall        = "message-recall"
	TypingIndicator      = "typing-indicator"
	MarkMessageRead      = "mark-message-read"
	MarkConversationRead = "mark-conversation-read"
	Ping                 = "ping"
)

// Inbound events (relay to client). MessageEdit and MessageRecall travel in
// both directions. Reconnect, ReconnectAttempt, Error and Disconnect are
// raised locally by the connection.
const (
	PrivateMessage   = "private-message"
	MessageRead      = "message-read"
	ConversationRead = "conversation-read"
	UserTyping       = "user-typing"
	UserOnlineStatus = "user-online-status"
	Pong             = "pong"
	Reconnect        = "reconnect"
	ReconnectAttempt = "reconnect_attempt"
	Error            = "error"
	Disconnect       = "disconnect"
)

var inbound = map[string]bool{
	PrivateMessage:   true,
	MessageRead:      true,
	ConversationRead: true,
	UserTyping:       true,
	UserOnlineStatus: true,
	MessageEdit:      true,
	MessageRecall:    true,
	Pong:             true,
	Reconnect:        true,
	ReconnectAttempt: true,
	Error:            true,
	Disconnect:       true,
}

var outbound = map[string]bool{
	JoinConversation:     true,
	LeaveConversation:    true,
	SendPrivateMessage:   true,
	MessageEdit:          true,
	MessageRecall:        true,
	TypingIndicator:      true,
	MarkMessageRead:      true,
	MarkConversationRead: true,
	Ping:                 true,
}

// IsInbound reports whether event belongs to the inbound event table.
func IsInbound(event string) bool { return inbound[event] }

// IsOutbound reports whether event may be sent by a client.
func IsOutbound(event string) bool { return outbound[event] }

// Envelope is one WebSocket frame.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode builds a frame for event with payload marshaled as data.
func Encode(event string, payload any) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", event, err)
		}
		raw = b
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

// Decode parses a frame.
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode frame: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("decode frame: missing event")
	}
	return env, nil
}

// Bind unmarshals the frame data into v.
func (e Envelope) Bind(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s: empty payload", e.Event)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%s: %w", e.Event, err)
	}
	return nil
}

// Conversation is the payload of join, leave and mark-conversation-read.
type Conversation struct {
	ConversationID string `json:"conversationId"`
}

type SendMessage struct {
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
	MessageID      string `json:"messageId"`
}

// EditRequest asks the relay to broadcast a new message content.
// Timestamp is Unix milliseconds.
type EditRequest struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
	NewContent     string `json:"newContent"`
	Timestamp      int64  `json:"timestamp"`
	OperatorID     string `json:"operatorId"`
	EditCount      int    `json:"editCount,omitempty"`
}

type RecallRequest struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
	OperatorID     string `json:"operatorId"`
}

type Typing struct {
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
}

type MarkRead struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

type PingPayload struct {
	UserID string `json:"userId"`
}

// Message is the payload of private-message.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	SenderName     string    `json:"senderName,omitempty"`
	Content        string    `json:"content"`
	Type           string    `json:"type"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"createdAt"`
	EditCount      int       `json:"editCount,omitempty"`
	RelevanceScore float64   `json:"relevanceScore,omitempty"`
}

// ToStore converts m into a store message. Missing type and status default
// to text and sent.
func (m Message) ToStore() msgstore.Message {
	out := msgstore.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		SenderName:     m.SenderName,
		Content:        m.Content,
		Type:           msgstore.MessageType(m.Type),
		Status:         msgstore.Status(m.Status),
		EditCount:      m.EditCount,
		CreatedAt:      m.CreatedAt,
		RelevanceScore: m.RelevanceScore,
	}
	if out.Type == "" {
		out.Type = msgstore.TypeText
	}
	if out.Status == "" {
		out.Status = msgstore.StatusSent
	}
	return out
}

// FromStore converts a store message into its wire form.
func FromStore(m msgstore.Message) Message {
	return Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		SenderName:     m.SenderName,
		Content:        m.Content,
		Type:           string(m.Type),
		Status:         string(m.Status),
		CreatedAt:      m.CreatedAt,
		EditCount:      m.EditCount,
		RelevanceScore: m.RelevanceScore,
	}
}

type Read struct {
	MessageID string    `json:"messageId"`
	ReadBy    string    `json:"readBy"`
	ReadAt    time.Time `json:"readAt"`
}

type ConversationReadPayload struct {
	ConversationID string    `json:"conversationId"`
	ReadBy         string    `json:"readBy"`
	ReadAt         time.Time `json:"readAt"`
}

type UserTypingPayload struct {
	UserID         string    `json:"userId"`
	ConversationID string    `json:"conversationId"`
	IsTyping       bool      `json:"isTyping"`
	Timestamp      time.Time `json:"timestamp"`
}

type OnlineStatus struct {
	UserID    string    `json:"userId"`
	IsOnline  bool      `json:"isOnline"`
	Timestamp time.Time `json:"timestamp"`
}

// Edited is the server-stamped broadcast of an edit.
type Edited struct {
	MessageID      string    `json:"messageId"`
	ConversationID string    `json:"conversationId"`
	Content        string    `json:"content"`
	EditedAt       time.Time `json:"editedAt"`
	EditCount      int       `json:"editCount"`
	EditedBy       string    `json:"editedBy"`
}

type Recalled struct {
	MessageID      string    `json:"messageId"`
	ConversationID string    `json:"conversationId"`
	RecalledBy     string    `json:"recalledBy"`
	RecalledAt     time.Time `json:"recalledAt"`
}

type PongPayload struct {
	UserID    string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
}

// Attempt is the payload of reconnect and reconnect_attempt.
type Attempt struct {
	Attempt int `json:"attempt"`
}

// Reason is the payload of error and disconnect.
type Reason struct {
	Message string `json:"message"`
}
