// Package edit implements in-place message editing with a bounded,
// append-only version history per message.
package edit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/dmsync/internal/bus"
	"github.com/matheus3301/dmsync/internal/metrics"
	"github.com/matheus3301/dmsync/internal/msgstore"
	"github.com/matheus3301/dmsync/internal/outbox"
	"github.com/matheus3301/dmsync/internal/protocol"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrConflict is returned when the message content changed between the
// read and the optimistic write of an edit.
var ErrConflict = errors.New("message changed during edit")

// Publisher sends frames to the relay. Send reports false when the frame
// could not be written.
type Publisher interface {
	Send(event string, payload any) bool
}

// HistoryFetcher loads the server-side edit history of a message.
type HistoryFetcher interface {
	FetchHistory(ctx context.Context, messageID string) ([]msgstore.EditVersion, error)
}

// Result describes the outcome of an edit.
type Result struct {
	Changed bool
	Queued  bool
	Version int
	Message msgstore.Message
}

// Engine applies local and remote edits to the message store.
type Engine struct {
	store   *msgstore.Store
	conn    Publisher
	history HistoryFetcher
	queue   *outbox.Queue
	bus     *bus.Bus
	logger  *zap.Logger
	now     func() time.Time

	mu      sync.RWMutex
	userID  string
	fetched map[string]bool
	group   singleflight.Group
}

// NewEngine creates an edit engine. history may be nil, in which case only
// locally recorded versions are returned.
func NewEngine(store *msgstore.Store, conn Publisher, history HistoryFetcher, queue *outbox.Queue, b *bus.Bus, logger *zap.Logger) *Engine {
	return &Engine{
		store:   store,
		conn:    conn,
		history: history,
		queue:   queue,
		bus:     b,
		logger:  logger,
		now:     time.Now,
		fetched: make(map[string]bool),
	}
}

// SetUser sets the id of the signed-in user.
func (e *Engine) SetUser(userID string) {
	e.mu.Lock()
	e.userID = userID
	e.mu.Unlock()
}

func (e *Engine) user() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.userID
}

// EditMessage replaces the content of a message the current user sent.
// Unchanged content is a no-op. Invalid or forbidden edits return an error
// and leave the store untouched. When the relay is unreachable the edit
// stays applied locally and its frame is queued for retry.
func (e *Engine) EditMessage(_ context.Context, messageID, conversationID, newContent string) (Result, error) {
	m, ok := e.store.Get(messageID)
	if !ok || (conversationID != "" && m.ConversationID != conversationID) {
		return Result{}, fmt.Errorf("%w: %s", ErrMessageNotFound, messageID)
	}
	if newContent == m.Content {
		return Result{Message: m, Version: m.EditCount}, nil
	}
	if err := Validate(newContent); err != nil {
		metrics.Edits.WithLabelValues("rejected").Inc()
		return Result{}, err
	}
	user := e.user()
	if !CanEdit(m, user) {
		metrics.Edits.WithLabelValues("rejected").Inc()
		return Result{}, fmt.Errorf("%w: %s", ErrNotEditable, messageID)
	}

	now := e.now()
	updated, ok := e.store.BeginEdit(messageID, m.Content, newContent, now)
	if !ok {
		if cur, found := e.store.Get(messageID); found && cur.IsRecalled {
			metrics.Edits.WithLabelValues("rejected").Inc()
			return Result{}, fmt.Errorf("%w: %s", ErrNotEditable, messageID)
		}
		return Result{}, fmt.Errorf("%w: %s", ErrConflict, messageID)
	}

	req := protocol.EditRequest{
		MessageID:      messageID,
		ConversationID: updated.ConversationID,
		NewContent:     newContent,
		Timestamp:      now.UnixMilli(),
		OperatorID:     user,
		EditCount:      updated.EditCount,
	}
	sent := e.conn.Send(protocol.MessageEdit, req)

	e.store.AppendVersion(msgstore.EditVersion{
		MessageID: messageID,
		Version:   updated.EditCount,
		Content:   newContent,
		EditedAt:  now,
		EditedBy:  user,
	})

	res := Result{Changed: true, Version: updated.EditCount, Message: updated}
	if !sent {
		e.queue.Enqueue(protocol.MessageEdit, messageID, req)
		res.Queued = true
		metrics.Edits.WithLabelValues("queued").Inc()
		e.logger.Warn("edit not delivered, queued for retry",
			zap.String("message_id", messageID),
			zap.Int("edit_count", updated.EditCount))
		e.bus.Notify(bus.KindNotifyError, "Edit not delivered, will retry when reconnected", messageID)
	} else {
		metrics.Edits.WithLabelValues("applied").Inc()
	}
	e.bus.Emit(bus.KindMessageEdited, updated)
	return res, nil
}

// GetMessageHistory returns the version window of a message. The server
// history is fetched at most once per message for the engine's lifetime.
func (e *Engine) GetMessageHistory(ctx context.Context, messageID string) ([]msgstore.EditVersion, error) {
	if e.history == nil || e.store.HasVersions(messageID) || e.wasFetched(messageID) {
		return e.store.Versions(messageID), nil
	}

	v, err, _ := e.group.Do(messageID, func() (any, error) {
		if e.wasFetched(messageID) {
			return e.store.Versions(messageID), nil
		}
		versions, err := e.history.FetchHistory(ctx, messageID)
		if err != nil {
			return nil, err
		}
		if !e.store.HasVersions(messageID) {
			e.store.ReplaceVersions(messageID, versions)
		}
		e.mu.Lock()
		e.fetched[messageID] = true
		e.mu.Unlock()
		return e.store.Versions(messageID), nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch history %s: %w", messageID, err)
	}
	return v.([]msgstore.EditVersion), nil
}

func (e *Engine) wasFetched(messageID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.fetched[messageID]
}

// RestoreVersion re-applies the content of an earlier version as a new edit.
func (e *Engine) RestoreVersion(ctx context.Context, messageID string, version int) (Result, error) {
	m, ok := e.store.Get(messageID)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrMessageNotFound, messageID)
	}
	for _, v := range e.store.Versions(messageID) {
		if v.Version == version {
			return e.EditMessage(ctx, messageID, m.ConversationID, v.Content)
		}
	}
	return Result{}, fmt.Errorf("%w: %s v%d", ErrVersionNotFound, messageID, version)
}

// HandleEditEvent applies an edit broadcast by the relay. The newest edit
// wins by edit count, then by server edit time; an older edit, such as the
// late echo of an earlier local edit, leaves the message alone. A version
// is recorded only if it is newer than the window, so the echo of a local
// edit is not recorded twice.
func (e *Engine) HandleEditEvent(evt protocol.Edited) bool {
	m, ok := e.store.Get(evt.MessageID)
	if !ok {
		e.logger.Debug("edit for unknown message", zap.String("message_id", evt.MessageID))
		return false
	}

	at := evt.EditedAt
	if at.IsZero() {
		at = e.now()
	}
	count := evt.EditCount
	if count <= 0 {
		count = m.EditCount + 1
	}
	applied := e.store.ApplyEdit(evt.MessageID, evt.Content, count, at)
	recorded := applied && e.store.AppendVersion(msgstore.EditVersion{
		MessageID: evt.MessageID,
		Version:   count,
		Content:   evt.Content,
		EditedAt:  at,
		EditedBy:  evt.EditedBy,
	})
	if applied {
		metrics.Edits.WithLabelValues("remote").Inc()
	} else {
		metrics.Edits.WithLabelValues("stale").Inc()
	}

	if evt.EditedBy != "" && evt.EditedBy != e.user() {
		e.bus.Notify(bus.KindNotifyInfo, "A message was edited", evt.MessageID)
	}
	if updated, ok := e.store.Get(evt.MessageID); ok {
		e.bus.Emit(bus.KindMessageEdited, updated)
	}
	e.logger.Debug("remote edit applied",
		zap.String("message_id", evt.MessageID),
		zap.Int("edit_count", count),
		zap.Bool("applied", applied),
		zap.Bool("new_version", recorded))
	return true
}

// RecallMessage withdraws a message the current user sent.
func (e *Engine) RecallMessage(_ context.Context, messageID string) (bool, error) {
	m, ok := e.store.Get(messageID)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrMessageNotFound, messageID)
	}
	user := e.user()
	if m.SenderID != user || m.IsRecalled {
		return false, fmt.Errorf("%w: %s", ErrNotEditable, messageID)
	}
	e.store.Recall(messageID)

	req := protocol.RecallRequest{MessageID: messageID, ConversationID: m.ConversationID, OperatorID: user}
	queued := false
	if !e.conn.Send(protocol.MessageRecall, req) {
		e.queue.Enqueue(protocol.MessageRecall, messageID, req)
		queued = true
		e.bus.Notify(bus.KindNotifyError, "Recall not delivered, will retry when reconnected", messageID)
	}
	e.bus.Emit(bus.KindMessageRecalled, messageID)
	return queued, nil
}

// HandleRecallEvent applies a recall broadcast by the relay.
func (e *Engine) HandleRecallEvent(evt protocol.Recalled) bool {
	if !e.store.Recall(evt.MessageID) {
		return false
	}
	e.bus.Emit(bus.KindMessageRecalled, evt.MessageID)
	return true
}
