package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/matheus3301/dmsync/internal/bus"
	"github.com/matheus3301/dmsync/internal/edit"
	"github.com/matheus3301/dmsync/internal/messaging"
	"github.com/matheus3301/dmsync/internal/msgstore"
	"github.com/matheus3301/dmsync/internal/optimistic"
	"github.com/matheus3301/dmsync/internal/outbox"
	"github.com/matheus3301/dmsync/internal/presence"
	"github.com/matheus3301/dmsync/internal/rank"
	"github.com/matheus3301/dmsync/internal/status"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Connector is the relay connection as driven by the control API.
type Connector interface {
	Connect(ctx context.Context, token, userID string) error
	Disconnect()
	State() status.State
	Latency() time.Duration
}

// Account identifies the session user on the relay.
type Account struct {
	Session string
	Token   string
	UserID  string
}

// Deps are the components the control service drives.
type Deps struct {
	Account   Account
	Conn      Connector
	Store     *msgstore.Store
	Messaging *messaging.Service
	Organizer *messaging.Organizer
	Edits     *edit.Engine
	Actions   *optimistic.Executor
	States    optimistic.States
	Presence  *presence.Tracker
	Queue     *outbox.Queue
	Sender    *outbox.Sender
	Bus       *bus.Bus
	Logger    *zap.Logger
}

// Control implements ControlServer.
type Control struct {
	d   Deps
	now func() time.Time
}

// NewControl creates the control service.
func NewControl(d Deps) *Control {
	return &Control{d: d, now: time.Now}
}

var _ ControlServer = (*Control)(nil)

// handle decodes in into a request of type Req, runs fn and encodes its
// result, mapping domain errors to status codes.
func handle[Req, Resp any](in *structpb.Struct, fn func(Req) (Resp, error)) (*structpb.Struct, error) {
	var req Req
	if err := Decode(in, &req); err != nil {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}
	resp, err := fn(req)
	if err != nil {
		return nil, toStatus(err)
	}
	out, err := Encode(resp)
	if err != nil {
		return nil, grpcstatus.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errInvalid, fmt.Sprintf(format, args...))
}

func (c *Control) Status(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(in, func(struct{}) (StatusResponse, error) {
		resp := StatusResponse{
			Session:            c.d.Account.Session,
			UserID:             c.d.Account.UserID,
			State:              string(c.d.Conn.State()),
			LatencyMS:          c.d.Conn.Latency().Milliseconds(),
			ActiveConversation: c.d.Store.Active(),
			Queued:             c.d.Queue.Len(),
			CachedSearches:     c.d.Messaging.CacheStats().Size,
			Conversations:      []Conversation{},
		}
		for _, conv := range c.d.Store.Conversations() {
			resp.Conversations = append(resp.Conversations, Conversation{
				ID:            conv.ID,
				Participants:  conv.Participants,
				Unread:        conv.UnreadCount,
				LastMessageAt: conv.LastMessageAt,
				Typing:        c.d.Presence.Typing(conv.ID),
			})
		}
		return resp, nil
	})
}

func (c *Control) Connect(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(in, func(struct{}) (StateResponse, error) {
		if err := c.d.Conn.Connect(ctx, c.d.Account.Token, c.d.Account.UserID); err != nil {
			return StateResponse{}, grpcstatus.Errorf(codes.Unavailable, "connect: %v", err)
		}
		return StateResponse{State: string(c.d.Conn.State())}, nil
	})
}

func (c *Control) Disconnect(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(in, func(struct{}) (StateResponse, error) {
		c.d.Messaging.Leave()
		c.d.Conn.Disconnect()
		return StateResponse{State: string(c.d.Conn.State())}, nil
	})
}

// Logout disconnects and forgets everything the session learned: messages,
// queued frames, cached searches, presence and ranking state.
func (c *Control) Logout(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(in, func(struct{}) (StateResponse, error) {
		c.d.Messaging.Leave()
		c.d.Conn.Disconnect()
		c.d.Messaging.Reset()
		c.d.Presence.ClearAll()
		if err := c.d.Organizer.Reset(); err != nil {
			return StateResponse{}, fmt.Errorf("reset ranking state: %w", err)
		}
		c.d.Logger.Info("logged out", zap.String("session", c.d.Account.Session))
		return StateResponse{State: string(c.d.Conn.State())}, nil
	})
}

func (c *Control) OpenConversation(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(in, func(req ConversationRequest) (OpenConversationResponse, error) {
		joined, err := c.d.Messaging.OpenConversation(req.ConversationID)
		if err != nil {
			return OpenConversationResponse{}, err
		}
		return OpenConversationResponse{
			Joined:   joined,
			Messages: messagesOut(c.d.Store.List(req.ConversationID)),
		}, nil
	})
}

func (c *Control) SendMessage(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(in, func(req SendMessageRequest) (SendMessageResponse, error) {
		res, err := c.d.Messaging.Send(ctx, req.ConversationID, req.Content)
		if err != nil {
			return SendMessageResponse{}, err
		}
		return SendMessageResponse{Message: messageOut(res.Message), Queued: res.Queued}, nil
	})
}

func (c *Control) filters(req ListMessagesRequest) (rank.Filters, error) {
	f := rank.Filters{
		SenderID: req.SenderID,
		Type:     msgstore.MessageType(req.Type),
		Status:   msgstore.Status(req.Status),
	}
	if req.Unread {
		unread := false
		f.IsRead = &unread
	}
	if req.Since != "" {
		d, err := time.ParseDuration(req.Since)
		if err != nil || d <= 0 {
			return f, invalid("since %q", req.Since)
		}
		f.Start = c.now().Add(-d)
	}
	return f, nil
}

func (c *Control) ListMessages(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(in, func(req ListMessagesRequest) (ListMessagesResponse, error) {
		if req.ConversationID == "" {
			return ListMessagesResponse{}, messaging.ErrNoConversation
		}
		var strategy rank.Strategy
		if req.Sort != "" {
			s, err := rank.ParseStrategy(req.Sort)
			if err != nil {
				return ListMessagesResponse{}, invalid("%v", err)
			}
			strategy = s
		}

		if req.Remote {
			opts := rank.SearchOptions{SenderID: req.SenderID, Type: req.Type}
			msgs, cached, err := c.d.Messaging.SearchRemote(ctx, req.ConversationID, req.Keyword, opts)
			if err != nil {
				return ListMessagesResponse{}, err
			}
			if strategy != "" {
				msgs = c.d.Organizer.Sort(msgs, strategy)
			}
			return ListMessagesResponse{Messages: messagesOut(msgs), Cached: cached}, nil
		}

		f, err := c.filters(req)
		if err != nil {
			return ListMessagesResponse{}, err
		}
		msgs := c.d.Organizer.View(req.ConversationID, messaging.ViewQuery{
			Keyword:  req.Keyword,
			Filters:  f,
			Strategy: strategy,
		})
		return ListMessagesResponse{Messages: messagesOut(msgs)}, nil
	})
}

func (c *Control) ViewMessage(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(in, func(req MessageRequest) (MessageResponse, error) {
		m, err := c.d.Organizer.Touch(req.MessageID)
		if err != nil {
			return MessageResponse{}, err
		}
		return MessageResponse{Message: messageOut(m)}, nil
	})
}

func (c *Control) MarkRead(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(in, func(req MessageRequest) (SentResponse, error) {
		if _, ok := c.d.Store.Get(req.MessageID); !ok {
			return SentResponse{}, fmt.Errorf("%w: %s", edit.ErrMessageNotFound, req.MessageID)
		}
		return SentResponse{Sent: c.d.Messaging.MarkRead(req.ConversationID, req.MessageID)}, nil
	})
}

func (c *Control) Typing(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(in, func(req TypingRequest) (SentResponse, error) {
		if req.ConversationID == "" {
			return SentResponse{}, messaging.ErrNoConversation
		}
		return SentResponse{Sent: c.d.Messaging.SetTyping(req.ConversationID, req.IsTyping)}, nil
	})
}

func editOut(r edit.Result) EditResponse {
	return EditResponse{
		Changed: r.Changed,
		Queued:  r.Queued,
		Version: r.Version,
		Message: messageOut(r.Message),
	}
}

func (c *Control) EditMessage(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(in, func(req EditMessageRequest) (EditResponse, error) {
		res, err := c.d.Edits.EditMessage(ctx, req.MessageID, req.ConversationID, req.Content)
		if err != nil {
			return EditResponse{}, err
		}
		return editOut(res), nil
	})
}

func (c *Control) RecallMessage(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(in, func(req MessageRequest) (QueuedResponse, error) {
		queued, err := c.d.Edits.RecallMessage(ctx, req.MessageID)
		return QueuedResponse{Queued: queued}, err
	})
}

func (c *Control) DeleteMessage(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(in, func(req MessageRequest) (DeleteResponse, error) {
		n, err := c.d.Messaging.Delete(req.MessageID)
		if err != nil {
			return DeleteResponse{}, err
		}
		return DeleteResponse{Deleted: true, DroppedFrames: n}, nil
	})
}

func (c *Control) History(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(in, func(req MessageRequest) (HistoryResponse, error) {
		if _, ok := c.d.Store.Get(req.MessageID); !ok {
			return HistoryResponse{}, fmt.Errorf("%w: %s", edit.ErrMessageNotFound, req.MessageID)
		}
		versions, err := c.d.Edits.GetMessageHistory(ctx, req.MessageID)
		if err != nil {
			return HistoryResponse{}, err
		}
		resp := HistoryResponse{Versions: make([]Version, len(versions))}
		for i, v := range versions {
			resp.Versions[i] = Version{Version: v.Version, Content: v.Content, EditedAt: v.EditedAt, EditedBy: v.EditedBy}
		}
		return resp, nil
	})
}

func (c *Control) RestoreVersion(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(in, func(req RestoreVersionRequest) (EditResponse, error) {
		res, err := c.d.Edits.RestoreVersion(ctx, req.MessageID, req.Version)
		if err != nil {
			return EditResponse{}, err
		}
		return editOut(res), nil
	})
}

func (c *Control) Toggle(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(in, func(req ToggleRequest) (ToggleResponse, error) {
		kind, err := optimistic.ParseKind(req.Kind)
		if err != nil {
			return ToggleResponse{}, invalid("%v", err)
		}
		tt, err := optimistic.ParseTargetType(req.TargetType)
		if err != nil {
			return ToggleResponse{}, invalid("%v", err)
		}
		if req.TargetID == "" {
			return ToggleResponse{}, invalid("target_id is required")
		}
		target := optimistic.Target{Type: tt, ID: req.TargetID}
		if tt == optimistic.TargetMessage {
			if _, ok := c.d.Store.Get(req.TargetID); !ok {
				return ToggleResponse{}, fmt.Errorf("%w: %s", edit.ErrMessageNotFound, req.TargetID)
			}
		}

		confirmed := c.d.Actions.Perform(ctx, optimistic.Action{Kind: kind, Target: target})
		e := c.d.States.Load(target)
		return ToggleResponse{
			Confirmed: confirmed,
			Engagement: Engagement{
				Liked:         e.Liked,
				LikeCount:     e.LikeCount,
				Collected:     e.Collected,
				Following:     e.Following,
				FollowerCount: e.FollowerCount,
			},
		}, nil
	})
}

func (c *Control) Pin(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(in, func(req MessageRequest) (ChangedResponse, error) {
		ok, err := c.d.Organizer.Pin(req.MessageID)
		return ChangedResponse{Changed: ok}, err
	})
}

func (c *Control) Unpin(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(in, func(req MessageRequest) (ChangedResponse, error) {
		ok, err := c.d.Organizer.Unpin(req.MessageID)
		return ChangedResponse{Changed: ok}, err
	})
}

func (c *Control) quickAccess() QuickAccessResponse {
	resp := QuickAccessResponse{Pinned: []Snapshot{}, Recent: []Snapshot{}, Filters: []string{}}
	for _, p := range c.d.Organizer.Pinned() {
		resp.Pinned = append(resp.Pinned, Snapshot{
			MessageID:  p.MessageID,
			Content:    p.Content,
			SenderName: p.SenderName,
			At:         time.UnixMilli(p.PinnedAt),
		})
	}
	for _, r := range c.d.Organizer.Recent() {
		resp.Recent = append(resp.Recent, Snapshot{
			MessageID:  r.MessageID,
			Content:    r.Content,
			SenderName: r.SenderName,
			At:         time.UnixMilli(r.ViewedAt),
		})
	}
	resp.Filters = append(resp.Filters, c.d.Organizer.ActiveFilters()...)
	return resp
}

func (c *Control) QuickAccess(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(in, func(struct{}) (QuickAccessResponse, error) {
		return c.quickAccess(), nil
	})
}

func (c *Control) SetFilter(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(in, func(req SetFilterRequest) (QuickAccessResponse, error) {
		switch {
		case req.ClearRecent:
			if err := c.d.Organizer.ClearRecent(); err != nil {
				return QuickAccessResponse{}, err
			}
		case req.Clear:
			if err := c.d.Organizer.ClearFilters(); err != nil {
				return QuickAccessResponse{}, err
			}
		case req.Name != "":
			if _, err := c.d.Organizer.ToggleFilter(req.Name); err != nil {
				return QuickAccessResponse{}, err
			}
		default:
			return QuickAccessResponse{}, invalid("name, clear or clear_recent is required")
		}
		return c.quickAccess(), nil
	})
}

func markNames(m rank.Mark) []string {
	out := []string{}
	for _, t := range []rank.MarkType{rank.MarkImportant, rank.MarkUrgent, rank.MarkTodo, rank.MarkDone} {
		if m.Has(t) {
			out = append(out, string(t))
		}
	}
	return out
}

func (c *Control) Mark(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(in, func(req MarkRequest) (MarkResponse, error) {
		if _, ok := c.d.Store.Get(req.MessageID); !ok {
			return MarkResponse{}, fmt.Errorf("%w: %s", edit.ErrMessageNotFound, req.MessageID)
		}
		if req.Mark == "" {
			return MarkResponse{Marks: markNames(c.d.Organizer.Mark(req.MessageID))}, nil
		}
		t, err := rank.ParseMarkType(req.Mark)
		if err != nil {
			return MarkResponse{}, invalid("%v", err)
		}
		on, err := c.d.Organizer.ToggleMark(req.MessageID, t)
		return MarkResponse{On: on, Marks: markNames(c.d.Organizer.Mark(req.MessageID))}, err
	})
}

func (c *Control) SetPreference(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(in, func(req SetPreferenceRequest) (Preferences, error) {
		switch {
		case req.Reset:
			if err := c.d.Organizer.ResetPreferences(); err != nil {
				return Preferences{}, err
			}
		case req.Key != "":
			if err := c.d.Organizer.SetPreference(req.Key, req.Value); err != nil {
				return Preferences{}, err
			}
		}
		p := c.d.Organizer.Preferences()
		return Preferences{
			DefaultSort:      string(p.DefaultSort),
			BoostCollected:   p.BoostCollected,
			BoostMarked:      p.BoostMarked,
			BoostFromVIP:     p.BoostFromVIP,
			RecencyWeight:    p.RecencyWeight,
			ImportanceWeight: p.ImportanceWeight,
			EngagementWeight: p.EngagementWeight,
		}, nil
	})
}

func (c *Control) Suggestions(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(in, func(req SuggestionsRequest) (SuggestionsResponse, error) {
		s := c.d.Messaging.Suggestions(req.Partial)
		if s == nil {
			s = []string{}
		}
		return SuggestionsResponse{Suggestions: s}, nil
	})
}

func (c *Control) Cache(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(in, func(req CacheRequest) (CacheResponse, error) {
		st := c.d.Messaging.CacheStats()
		resp := CacheResponse{Entries: []CacheEntry{}}
		if req.Clear {
			c.d.Messaging.ClearCache()
			resp.Cleared = st.Size
			return resp, nil
		}
		resp.Size = st.Size
		for _, it := range st.Items {
			resp.Entries = append(resp.Entries, CacheEntry{Key: it.Key, AgeMS: it.Age.Milliseconds(), Results: it.Results})
		}
		return resp, nil
	})
}

func (c *Control) Presence(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(in, func(req PresenceRequest) (PresenceResponse, error) {
		now := c.now()
		if req.SetStatus != "" {
			st, err := presence.ParseStatus(req.SetStatus)
			if err != nil {
				return PresenceResponse{}, invalid("%v", err)
			}
			c.d.Presence.Set(c.d.Account.UserID, st, req.StatusMessage, now)
			c.d.Bus.Emit(bus.KindPresenceChanged, c.d.Presence.Get(c.d.Account.UserID))
		}

		var want presence.Status
		if req.Status != "" {
			st, err := presence.ParseStatus(req.Status)
			if err != nil {
				return PresenceResponse{}, invalid("%v", err)
			}
			want = st
		}
		var records []presence.Record
		switch {
		case len(req.UserIDs) > 0:
			for _, id := range req.UserIDs {
				if r := c.d.Presence.Get(id); want == "" || r.Status == want {
					records = append(records, r)
				}
			}
		case want != "":
			records = c.d.Presence.ByStatus(want)
		default:
			records = c.d.Presence.All()
		}
		resp := PresenceResponse{Users: make([]User, 0, len(records))}
		for _, r := range records {
			resp.Users = append(resp.Users, User{
				UserID:   r.UserID,
				Status:   string(r.Status),
				Message:  r.Message,
				LastSeen: presence.LastSeenText(r, now),
				SeenAt:   r.LastSeen,
			})
		}
		if req.ConversationID != "" {
			resp.Typing = c.d.Presence.Typing(req.ConversationID)
		}
		return resp, nil
	})
}

func (c *Control) Retry(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(in, func(struct{}) (RetryResponse, error) {
		if c.d.Conn.State() != status.Connected {
			return RetryResponse{}, grpcstatus.Errorf(codes.Unavailable, "relay is %s", c.d.Conn.State())
		}
		res := c.d.Sender.Flush()
		return RetryResponse{Sent: len(res.Sent), Retained: res.Retained, Dropped: len(res.Dropped)}, nil
	})
}

// Watch streams bus events until the client goes away.
func (c *Control) Watch(in *structpb.Struct, stream grpc.ServerStream) error {
	var req WatchRequest
	if err := Decode(in, &req); err != nil {
		return grpcstatus.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}
	namespaces := req.Namespaces
	if len(namespaces) == 0 {
		namespaces = []string{""}
	}

	merged := make(chan bus.Event, 256)
	for _, ns := range namespaces {
		ch, unsub := c.d.Bus.Subscribe(ns, 256)
		defer unsub()
		go func() {
			for {
				select {
				case evt := <-ch:
					select {
					case merged <- evt:
					case <-stream.Context().Done():
						return
					}
				case <-stream.Context().Done():
					return
				}
			}
		}()
	}

	for {
		select {
		case evt := <-merged:
			out, err := eventOut(evt)
			if err != nil {
				c.d.Logger.Warn("encode watch event", zap.String("kind", evt.Kind), zap.Error(err))
				continue
			}
			if err := stream.SendMsg(out); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

func eventOut(evt bus.Event) (*structpb.Struct, error) {
	payload := evt.Payload
	switch p := payload.(type) {
	case msgstore.Message:
		payload = messageOut(p)
	case optimistic.Target:
		payload = map[string]string{"target_type": string(p.Type), "target_id": p.ID}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return Encode(Event{Kind: evt.Kind, At: evt.Timestamp, Payload: raw})
}
