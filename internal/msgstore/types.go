package msgstore

import (
	"slices"
	"time"
)

// MessageType is the content kind of a message. Only text is editable.
type MessageType string

const (
	TypeText   MessageType = "text"
	TypeImage  MessageType = "image"
	TypeFile   MessageType = "file"
	TypeAudio  MessageType = "audio"
	TypeSystem MessageType = "system"
)

// Status is the delivery state of a message. It only moves forward.
type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
)

func (s Status) rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	}
	return 0
}

// MaxHistoryVersions bounds the per-message edit history window.
const MaxHistoryVersions = 10

type Attachment struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	MimeType string `json:"mimeType,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

type QuotedMessage struct {
	ID         string `json:"id"`
	SenderName string `json:"senderName"`
	Content    string `json:"content"`
}

// Message is a chat message as held by the store. Values returned by the
// store are copies; changes go through Store methods.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	SenderName     string
	Content        string
	Type           MessageType
	Status         Status
	EditCount      int
	LastEditedAt   time.Time
	IsRecalled     bool
	IsRead         bool
	Attachments    []Attachment
	Quoted         *QuotedMessage
	CreatedAt      time.Time

	Liked          bool
	LikeCount      int
	Collected      bool
	ForwardCount   int
	ReplyCount     int
	ViewCount      int
	RelevanceScore float64
}

func (m Message) clone() Message {
	m.Attachments = slices.Clone(m.Attachments)
	if m.Quoted != nil {
		q := *m.Quoted
		m.Quoted = &q
	}
	return m
}

// EditVersion is one historical content snapshot of a message.
type EditVersion struct {
	MessageID string    `json:"messageId"`
	Version   int       `json:"version"`
	Content   string    `json:"content"`
	EditedAt  time.Time `json:"editedAt"`
	EditedBy  string    `json:"editedBy"`
}

type Conversation struct {
	ID            string
	Participants  []string
	UnreadCount   int
	LastMessageAt time.Time
}

// Reactions is the per-message state touched by optimistic toggles.
type Reactions struct {
	Liked     bool
	LikeCount int
	Collected bool
}
