// Package relaysrv is a development relay: it routes private-message frames
// between the clients of a conversation and serves the REST endpoints the
// client consumes (edit history, search, engagement toggles).
package relaysrv

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matheus3301/dmsync/internal/metrics"
	"github.com/matheus3301/dmsync/internal/msgstore"
	"github.com/matheus3301/dmsync/internal/protocol"
	"go.uber.org/zap"
)

const sendBuffer = 256

// peer is one connected client.
type peer struct {
	hub    *Hub
	conn   *websocket.Conn
	userID string
	send   chan []byte
	rooms  map[string]bool // guarded by hub.mu

	mu     sync.Mutex
	closed bool
}

// enqueue hands data to the write pump. A peer whose buffer is full is
// disconnected.
func (p *peer) enqueue(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.send <- data:
	default:
		p.hub.logger.Warn("peer buffer full, dropping connection", zap.String("user_id", p.userID))
		p.closed = true
		close(p.send)
	}
}

func (p *peer) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.send)
	}
}

func (p *peer) emit(event string, payload any) {
	data, err := protocol.Encode(event, payload)
	if err != nil {
		p.hub.logger.Error("encode frame", zap.String("event", event), zap.Error(err))
		return
	}
	p.enqueue(data)
}

// Hub holds the connected peers, their conversations and the messages the
// relay has routed.
type Hub struct {
	logger *zap.Logger
	now    func() time.Time

	mu       sync.RWMutex
	rooms    map[string]map[*peer]bool
	users    map[string]map[*peer]bool
	messages map[string]protocol.Message
	order    map[string][]string
	history  map[string][]msgstore.EditVersion
	recalled map[string]bool
	toggles  map[string]bool
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:   logger,
		now:      time.Now,
		rooms:    make(map[string]map[*peer]bool),
		users:    make(map[string]map[*peer]bool),
		messages: make(map[string]protocol.Message),
		order:    make(map[string][]string),
		history:  make(map[string][]msgstore.EditVersion),
		recalled: make(map[string]bool),
		toggles:  make(map[string]bool),
	}
}

func (h *Hub) newPeer(conn *websocket.Conn, userID string) *peer {
	return &peer{
		hub:    h,
		conn:   conn,
		userID: userID,
		send:   make(chan []byte, sendBuffer),
		rooms:  make(map[string]bool),
	}
}

func (h *Hub) register(p *peer) {
	h.mu.Lock()
	if h.users[p.userID] == nil {
		h.users[p.userID] = make(map[*peer]bool)
	}
	h.users[p.userID][p] = true
	h.mu.Unlock()
	metrics.RelayConnections.Inc()
	h.logger.Info("client connected", zap.String("user_id", p.userID))
}

// unregister removes p. When it was the user's last connection, the rooms
// it was in learn that the user went offline.
func (h *Hub) unregister(p *peer) {
	h.mu.Lock()
	rooms := make([]string, 0, len(p.rooms))
	for conv := range p.rooms {
		rooms = append(rooms, conv)
		h.leaveLocked(p, conv)
	}
	delete(h.users[p.userID], p)
	lastConn := len(h.users[p.userID]) == 0
	if lastConn {
		delete(h.users, p.userID)
	}
	h.mu.Unlock()

	p.close()
	metrics.RelayConnections.Dec()
	h.logger.Info("client disconnected", zap.String("user_id", p.userID))

	if lastConn {
		status := protocol.OnlineStatus{UserID: p.userID, IsOnline: false, Timestamp: h.now()}
		for _, conv := range rooms {
			h.broadcast(conv, protocol.UserOnlineStatus, status, nil)
		}
	}
}

func (h *Hub) join(p *peer, conv string) (others []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[conv] == nil {
		h.rooms[conv] = make(map[*peer]bool)
	}
	seen := map[string]bool{p.userID: true}
	for q := range h.rooms[conv] {
		if !seen[q.userID] {
			seen[q.userID] = true
			others = append(others, q.userID)
		}
	}
	h.rooms[conv][p] = true
	p.rooms[conv] = true
	sort.Strings(others)
	return others
}

func (h *Hub) leave(p *peer, conv string) {
	h.mu.Lock()
	h.leaveLocked(p, conv)
	h.mu.Unlock()
}

func (h *Hub) leaveLocked(p *peer, conv string) {
	delete(p.rooms, conv)
	if members, ok := h.rooms[conv]; ok {
		delete(members, p)
		if len(members) == 0 {
			delete(h.rooms, conv)
		}
	}
}

func (h *Hub) inRoom(p *peer, conv string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return p.rooms[conv]
}

// broadcast sends a frame to every peer in conv except skip.
func (h *Hub) broadcast(conv, event string, payload any, skip *peer) {
	data, err := protocol.Encode(event, payload)
	if err != nil {
		h.logger.Error("encode frame", zap.String("event", event), zap.Error(err))
		return
	}
	h.mu.RLock()
	targets := make([]*peer, 0, len(h.rooms[conv]))
	for q := range h.rooms[conv] {
		if q != skip {
			targets = append(targets, q)
		}
	}
	h.mu.RUnlock()
	for _, q := range targets {
		q.enqueue(data)
	}
}

// Connections returns the number of open client connections.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, peers := range h.users {
		n += len(peers)
	}
	return n
}

// online reports whether userID has a connection.
func (h *Hub) online(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID]) > 0
}

// storeMessage records m. A message id seen before returns the stored copy
// and false, so a resent frame is not duplicated.
func (h *Hub) storeMessage(m protocol.Message) (protocol.Message, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if prev, ok := h.messages[m.ID]; ok {
		return prev, false
	}
	h.messages[m.ID] = m
	h.order[m.ConversationID] = append(h.order[m.ConversationID], m.ID)
	return m, true
}

func (h *Hub) message(id string) (protocol.Message, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	m, ok := h.messages[id]
	return m, ok && !h.recalled[id]
}

// recordEdit stores a new content for id and returns the broadcast. The
// edit count is the larger of the client's count and the stored count
// plus one.
func (h *Hub) recordEdit(req protocol.EditRequest, editor string) (protocol.Edited, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.messages[req.MessageID]
	if !ok || h.recalled[req.MessageID] {
		return protocol.Edited{}, false
	}
	count := max(m.EditCount+1, req.EditCount)
	at := h.now()
	m.Content = req.NewContent
	m.EditCount = count
	h.messages[m.ID] = m
	h.history[m.ID] = append(h.history[m.ID], msgstore.EditVersion{
		MessageID: m.ID,
		Version:   count,
		Content:   req.NewContent,
		EditedAt:  at,
		EditedBy:  editor,
	})
	if n := len(h.history[m.ID]); n > msgstore.MaxHistoryVersions {
		h.history[m.ID] = h.history[m.ID][n-msgstore.MaxHistoryVersions:]
	}
	return protocol.Edited{
		MessageID:      m.ID,
		ConversationID: m.ConversationID,
		Content:        req.NewContent,
		EditedAt:       at,
		EditCount:      count,
		EditedBy:       editor,
	}, true
}

func (h *Hub) recall(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.messages[id]; !ok || h.recalled[id] {
		return false
	}
	h.recalled[id] = true
	return true
}

// History returns the recorded edit versions of a message.
func (h *Hub) History(id string) ([]msgstore.EditVersion, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.messages[id]; !ok {
		return nil, false
	}
	out := make([]msgstore.EditVersion, len(h.history[id]))
	copy(out, h.history[id])
	return out, true
}

// Messages returns the live messages of a conversation in send order.
func (h *Hub) Messages(conv string) []msgstore.Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]msgstore.Message, 0, len(h.order[conv]))
	for _, id := range h.order[conv] {
		if h.recalled[id] {
			continue
		}
		out = append(out, h.messages[id].ToStore())
	}
	return out
}

func toggleKey(user, targetType, id, kind string) string {
	return strings.Join([]string{user, targetType, id, kind}, "/")
}

// Engaged reports whether user has the kind toggle on for a target.
func (h *Hub) Engaged(user, targetType, id, kind string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.toggles[toggleKey(user, targetType, id, kind)]
}

func (h *Hub) setToggle(key string, on bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if on {
		h.toggles[key] = true
	} else {
		delete(h.toggles, key)
	}
}

func (h *Hub) handleFrame(p *peer, raw []byte) {
	env, err := protocol.Decode(raw)
	if err != nil {
		p.emit(protocol.Error, protocol.Reason{Message: "invalid frame"})
		return
	}
	metrics.RelayEvents.WithLabelValues(env.Event).Inc()

	switch env.Event {
	case protocol.Ping:
		p.emit(protocol.Pong, protocol.PongPayload{UserID: p.userID, Timestamp: h.now()})

	case protocol.JoinConversation:
		var c protocol.Conversation
		if !h.bind(p, env, &c) || c.ConversationID == "" {
			return
		}
		others := h.join(p, c.ConversationID)
		now := h.now()
		for _, u := range others {
			p.emit(protocol.UserOnlineStatus, protocol.OnlineStatus{UserID: u, IsOnline: h.online(u), Timestamp: now})
		}
		h.broadcast(c.ConversationID, protocol.UserOnlineStatus,
			protocol.OnlineStatus{UserID: p.userID, IsOnline: true, Timestamp: now}, p)

	case protocol.LeaveConversation:
		var c protocol.Conversation
		if h.bind(p, env, &c) {
			h.leave(p, c.ConversationID)
		}

	case protocol.SendPrivateMessage:
		var req protocol.SendMessage
		if !h.bind(p, env, &req) {
			return
		}
		h.handleSend(p, req)

	case protocol.MessageEdit:
		var req protocol.EditRequest
		if !h.bind(p, env, &req) {
			return
		}
		h.handleEdit(p, req)

	case protocol.MessageRecall:
		var req protocol.RecallRequest
		if !h.bind(p, env, &req) {
			return
		}
		m, ok := h.message(req.MessageID)
		if !ok || m.SenderID != p.userID {
			p.emit(protocol.Error, protocol.Reason{Message: "cannot recall message " + req.MessageID})
			return
		}
		if h.recall(req.MessageID) {
			h.broadcast(m.ConversationID, protocol.MessageRecall, protocol.Recalled{
				MessageID:      m.ID,
				ConversationID: m.ConversationID,
				RecalledBy:     p.userID,
				RecalledAt:     h.now(),
			}, nil)
		}

	case protocol.TypingIndicator:
		var t protocol.Typing
		if !h.bind(p, env, &t) {
			return
		}
		h.broadcast(t.ConversationID, protocol.UserTyping, protocol.UserTypingPayload{
			UserID:         p.userID,
			ConversationID: t.ConversationID,
			IsTyping:       t.IsTyping,
			Timestamp:      h.now(),
		}, p)

	case protocol.MarkMessageRead:
		var r protocol.MarkRead
		if !h.bind(p, env, &r) {
			return
		}
		h.broadcast(r.ConversationID, protocol.MessageRead, protocol.Read{
			MessageID: r.MessageID,
			ReadBy:    p.userID,
			ReadAt:    h.now(),
		}, p)

	case protocol.MarkConversationRead:
		var c protocol.Conversation
		if !h.bind(p, env, &c) {
			return
		}
		h.broadcast(c.ConversationID, protocol.ConversationRead, protocol.ConversationReadPayload{
			ConversationID: c.ConversationID,
			ReadBy:         p.userID,
			ReadAt:         h.now(),
		}, p)

	default:
		p.emit(protocol.Error, protocol.Reason{Message: "unknown event " + env.Event})
	}
}

func (h *Hub) bind(p *peer, env protocol.Envelope, v any) bool {
	if err := env.Bind(v); err != nil {
		p.emit(protocol.Error, protocol.Reason{Message: err.Error()})
		return false
	}
	return true
}

func (h *Hub) handleSend(p *peer, req protocol.SendMessage) {
	if req.ConversationID == "" || strings.TrimSpace(req.Content) == "" || req.MessageID == "" {
		p.emit(protocol.Error, protocol.Reason{Message: "send-private-message needs conversationId, messageId and content"})
		return
	}
	if !h.inRoom(p, req.ConversationID) {
		h.join(p, req.ConversationID)
	}
	m, fresh := h.storeMessage(protocol.Message{
		ID:             req.MessageID,
		ConversationID: req.ConversationID,
		SenderID:       p.userID,
		SenderName:     p.userID,
		Content:        req.Content,
		Type:           string(msgstore.TypeText),
		Status:         string(msgstore.StatusDelivered),
		CreatedAt:      h.now(),
	})
	if !fresh {
		// A resend after reconnect: confirm to the sender only.
		p.emit(protocol.PrivateMessage, m)
		return
	}
	h.broadcast(req.ConversationID, protocol.PrivateMessage, m, nil)
}

func (h *Hub) handleEdit(p *peer, req protocol.EditRequest) {
	m, ok := h.message(req.MessageID)
	switch {
	case !ok:
		p.emit(protocol.Error, protocol.Reason{Message: "message not found: " + req.MessageID})
		return
	case m.SenderID != p.userID:
		p.emit(protocol.Error, protocol.Reason{Message: "not allowed to edit " + req.MessageID})
		return
	case strings.TrimSpace(req.NewContent) == "":
		p.emit(protocol.Error, protocol.Reason{Message: "empty content"})
		return
	}
	evt, ok := h.recordEdit(req, p.userID)
	if !ok {
		return
	}
	h.broadcast(evt.ConversationID, protocol.MessageEdit, evt, nil)
}
