package outbox

import (
	"context"
	"sync"

	"github.com/matheus3301/dmsync/internal/bus"
	"go.uber.org/zap"
)

// FrameSender is the relay connection as seen by the outbox.
type FrameSender interface {
	Send(event string, payload any) bool
}

// Sender drains the queue whenever the relay connection is (re)established.
type Sender struct {
	queue  *Queue
	conn   FrameSender
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
	mu     sync.Mutex
}

// NewSender creates a new outbox sender.
func NewSender(q *Queue, conn FrameSender, b *bus.Bus, logger *zap.Logger) *Sender {
	return &Sender{
		queue:  q,
		conn:   conn,
		bus:    b,
		logger: logger,
	}
}

// Start subscribes to connection events and flushes on every established
// connection.
func (s *Sender) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	ch, unsub := s.bus.Subscribe(bus.KindConnEstablished, 16)

	go func() {
		defer unsub()
		for {
			select {
			case <-ch:
				if s.queue.Len() > 0 {
					s.Flush()
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the sender loop.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Flush makes one retry pass over the queue.
func (s *Sender) Flush() DrainResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := s.queue.Drain(func(e Entry) bool {
		return s.conn.Send(e.Event, e.Payload)
	})

	for _, e := range res.Sent {
		s.logger.Info("queued frame sent",
			zap.String("event", e.Event),
			zap.String("ref", e.Ref),
			zap.Int("attempts", e.Attempts))
		s.bus.Emit(bus.KindOutboxSent, e)
	}
	for _, e := range res.Dropped {
		s.logger.Warn("dropping frame after max attempts",
			zap.String("event", e.Event),
			zap.String("ref", e.Ref),
			zap.Int("attempts", e.Attempts))
		s.bus.Emit(bus.KindOutboxDropped, e)
	}
	return res
}
