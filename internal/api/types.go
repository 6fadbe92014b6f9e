package api

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/matheus3301/dmsync/internal/msgstore"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// Encode converts a JSON-tagged value into a Struct.
func Encode(v any) (*structpb.Struct, error) {
	if v == nil {
		return &structpb.Struct{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return out, nil
}

// Decode fills the JSON-tagged value v from s.
func Decode(s *structpb.Struct, v any) error {
	if s == nil {
		return nil
	}
	data, err := protojson.Marshal(s)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// Message is a message as shown to control clients.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	SenderName     string    `json:"sender_name,omitempty"`
	Content        string    `json:"content"`
	Type           string    `json:"type"`
	Status         string    `json:"status"`
	EditCount      int       `json:"edit_count,omitempty"`
	LastEditedAt   time.Time `json:"last_edited_at,omitzero"`
	IsRecalled     bool      `json:"is_recalled,omitempty"`
	IsRead         bool      `json:"is_read,omitempty"`
	CreatedAt      time.Time `json:"created_at,omitzero"`
	Liked          bool      `json:"liked,omitempty"`
	LikeCount      int       `json:"like_count,omitempty"`
	Collected      bool      `json:"collected,omitempty"`
	Relevance      float64   `json:"relevance,omitempty"`
}

func messageOut(m msgstore.Message) Message {
	return Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		SenderName:     m.SenderName,
		Content:        m.Content,
		Type:           string(m.Type),
		Status:         string(m.Status),
		EditCount:      m.EditCount,
		LastEditedAt:   m.LastEditedAt,
		IsRecalled:     m.IsRecalled,
		IsRead:         m.IsRead,
		CreatedAt:      m.CreatedAt,
		Liked:          m.Liked,
		LikeCount:      m.LikeCount,
		Collected:      m.Collected,
		Relevance:      m.RelevanceScore,
	}
}

func messagesOut(msgs []msgstore.Message) []Message {
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = messageOut(m)
	}
	return out
}

type Conversation struct {
	ID            string    `json:"id"`
	Participants  []string  `json:"participants,omitempty"`
	Unread        int       `json:"unread"`
	LastMessageAt time.Time `json:"last_message_at,omitzero"`
	Typing        []string  `json:"typing,omitempty"`
}

type StatusResponse struct {
	Session            string         `json:"session"`
	UserID             string         `json:"user_id"`
	State              string         `json:"state"`
	LatencyMS          int64          `json:"latency_ms"`
	ActiveConversation string         `json:"active_conversation,omitempty"`
	Queued             int            `json:"queued"`
	CachedSearches     int            `json:"cached_searches"`
	Conversations      []Conversation `json:"conversations"`
}

type StateResponse struct {
	State string `json:"state"`
}

type ConversationRequest struct {
	ConversationID string `json:"conversation_id"`
}

type OpenConversationResponse struct {
	Joined   bool      `json:"joined"`
	Messages []Message `json:"messages"`
}

type SendMessageRequest struct {
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
}

type SendMessageResponse struct {
	Message Message `json:"message"`
	Queued  bool    `json:"queued"`
}

// ListMessagesRequest searches, filters and sorts a conversation. With
// Remote set the relay search runs instead of the local one; it requires
// the conversation to be the active one.
type ListMessagesRequest struct {
	ConversationID string `json:"conversation_id"`
	Keyword        string `json:"keyword,omitempty"`
	Sort           string `json:"sort,omitempty"`
	SenderID       string `json:"sender_id,omitempty"`
	Type           string `json:"type,omitempty"`
	Status         string `json:"status,omitempty"`
	Unread         bool   `json:"unread,omitempty"`
	Since          string `json:"since,omitempty"` // duration such as "24h"
	Remote         bool   `json:"remote,omitempty"`
}

type ListMessagesResponse struct {
	Messages []Message `json:"messages"`
	Cached   bool      `json:"cached,omitempty"`
}

type MessageRequest struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id,omitempty"`
}

type MessageResponse struct {
	Message Message `json:"message"`
}

type TypingRequest struct {
	ConversationID string `json:"conversation_id"`
	IsTyping       bool   `json:"is_typing"`
}

type SentResponse struct {
	Sent bool `json:"sent"`
}

type EditMessageRequest struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id,omitempty"`
	Content        string `json:"content"`
}

type EditResponse struct {
	Changed bool    `json:"changed"`
	Queued  bool    `json:"queued"`
	Version int     `json:"version"`
	Message Message `json:"message"`
}

type QueuedResponse struct {
	Queued bool `json:"queued"`
}

type Version struct {
	Version  int       `json:"version"`
	Content  string    `json:"content"`
	EditedAt time.Time `json:"edited_at"`
	EditedBy string    `json:"edited_by,omitempty"`
}

type HistoryResponse struct {
	Versions []Version `json:"versions"`
}

type RestoreVersionRequest struct {
	MessageID string `json:"message_id"`
	Version   int    `json:"version"`
}

type ToggleRequest struct {
	Kind       string `json:"kind"`
	TargetType string `json:"target_type"`
	TargetID   string `json:"target_id"`
}

type Engagement struct {
	Liked         bool `json:"liked"`
	LikeCount     int  `json:"like_count"`
	Collected     bool `json:"collected"`
	Following     bool `json:"following"`
	FollowerCount int  `json:"follower_count"`
}

type ToggleResponse struct {
	Confirmed  bool       `json:"confirmed"`
	Engagement Engagement `json:"engagement"`
}

type ChangedResponse struct {
	Changed bool `json:"changed"`
}

type Snapshot struct {
	MessageID  string    `json:"message_id"`
	Content    string    `json:"content"`
	SenderName string    `json:"sender_name,omitempty"`
	At         time.Time `json:"at"`
}

type QuickAccessResponse struct {
	Pinned  []Snapshot `json:"pinned"`
	Recent  []Snapshot `json:"recent"`
	Filters []string   `json:"filters"`
}

// SetFilterRequest toggles one quick filter, or turns all of them off when
// Clear is set. ClearRecent empties the recently viewed list.
type SetFilterRequest struct {
	Name        string `json:"name,omitempty"`
	Clear       bool   `json:"clear,omitempty"`
	ClearRecent bool   `json:"clear_recent,omitempty"`
}

type MarkRequest struct {
	MessageID string `json:"message_id"`
	Mark      string `json:"mark"`
}

type MarkResponse struct {
	On    bool     `json:"on"`
	Marks []string `json:"marks"`
}

// SetPreferenceRequest changes one sort preference. Reset restores the
// defaults; an empty Key only reads them.
type SetPreferenceRequest struct {
	Key   string `json:"key,omitempty"`
	Value string `json:"value,omitempty"`
	Reset bool   `json:"reset,omitempty"`
}

type Preferences struct {
	DefaultSort      string  `json:"default_sort"`
	BoostCollected   bool    `json:"boost_collected"`
	BoostMarked      bool    `json:"boost_marked"`
	BoostFromVIP     bool    `json:"boost_from_vip"`
	RecencyWeight    float64 `json:"recency_weight"`
	ImportanceWeight float64 `json:"importance_weight"`
	EngagementWeight float64 `json:"engagement_weight"`
}

type SuggestionsRequest struct {
	Partial string `json:"partial"`
}

type SuggestionsResponse struct {
	Suggestions []string `json:"suggestions"`
}

// PresenceRequest reads presence records. Status narrows the listing to one
// status; SetStatus first changes the session user's own status.
type PresenceRequest struct {
	UserIDs        []string `json:"user_ids,omitempty"`
	ConversationID string   `json:"conversation_id,omitempty"`
	Status         string   `json:"status,omitempty"`
	SetStatus      string   `json:"set_status,omitempty"`
	StatusMessage  string   `json:"status_message,omitempty"`
}

type User struct {
	UserID   string    `json:"user_id"`
	Status   string    `json:"status"`
	Message  string    `json:"message,omitempty"`
	LastSeen string    `json:"last_seen"`
	SeenAt   time.Time `json:"seen_at,omitzero"`
}

type PresenceResponse struct {
	Users  []User   `json:"users"`
	Typing []string `json:"typing,omitempty"`
}

type DeleteResponse struct {
	Deleted       bool `json:"deleted"`
	DroppedFrames int  `json:"dropped_frames"`
}

// CacheRequest reads the remote search cache, emptying it when Clear is set.
type CacheRequest struct {
	Clear bool `json:"clear,omitempty"`
}

type CacheEntry struct {
	Key     string `json:"key"`
	AgeMS   int64  `json:"age_ms"`
	Results int    `json:"results"`
}

type CacheResponse struct {
	Size    int          `json:"size"`
	Entries []CacheEntry `json:"entries"`
	Cleared int          `json:"cleared,omitempty"`
}

type RetryResponse struct {
	Sent     int `json:"sent"`
	Retained int `json:"retained"`
	Dropped  int `json:"dropped"`
}

// WatchRequest selects bus namespaces such as "message." or "notify.".
// An empty list streams every event.
type WatchRequest struct {
	Namespaces []string `json:"namespaces,omitempty"`
}

// Event is one bus event streamed by Watch.
type Event struct {
	Kind    string          `json:"kind"`
	At      time.Time       `json:"at"`
	Payload json.RawMessage `json:"payload,omitempty"`
}
