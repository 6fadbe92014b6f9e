package outbox

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/dmsync/internal/bus"
	"go.uber.org/zap"
)

// mockConn records frames and fails while down is true.
type mockConn struct {
	mu     sync.Mutex
	down   bool
	frames []string
}

func (m *mockConn) Send(event string, _ any) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return false
	}
	m.frames = append(m.frames, event)
	return true
}

func (m *mockConn) setDown(down bool) {
	m.mu.Lock()
	m.down = down
	m.mu.Unlock()
}

func (m *mockConn) sent() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.frames)
}

func TestQueueDrainSendsInOrder(t *testing.T) {
	q := NewQueue(3)
	q.Enqueue("message-edit", "m1", 1)
	q.Enqueue("message-edit", "m2", 2)

	var order []string
	res := q.Drain(func(e Entry) bool {
		order = append(order, e.Ref)
		return true
	})
	if len(res.Sent) != 2 || res.Retained != 0 {
		t.Fatalf("res = %+v", res)
	}
	if order[0] != "m1" || order[1] != "m2" {
		t.Errorf("order = %v", order)
	}
	if q.Len() != 0 {
		t.Errorf("Len = %d after full drain", q.Len())
	}
}

func TestQueueDropsAfterMaxAttempts(t *testing.T) {
	q := NewQueue(3)
	q.Enqueue("message-edit", "m1", nil)

	fail := func(Entry) bool { return false }
	for i := 1; i <= 2; i++ {
		res := q.Drain(fail)
		if res.Retained != 1 || len(res.Dropped) != 0 {
			t.Fatalf("pass %d: res = %+v", i, res)
		}
	}
	res := q.Drain(fail)
	if len(res.Dropped) != 1 || res.Dropped[0].Attempts != 3 {
		t.Fatalf("third pass: res = %+v", res)
	}
	if q.Len() != 0 {
		t.Errorf("Len = %d, want 0", q.Len())
	}
}

func TestQueueDefaultsAndRemove(t *testing.T) {
	q := NewQueue(0)
	if q.maxAttempts != DefaultMaxAttempts {
		t.Errorf("maxAttempts = %d", q.maxAttempts)
	}
	q.Enqueue("message-edit", "m1", nil)
	q.Enqueue("send-private-message", "m2", nil)
	q.Enqueue("message-edit", "m1", nil)

	if n := q.Remove("m1"); n != 2 {
		t.Errorf("Remove = %d, want 2", n)
	}
	p := q.Pending()
	if len(p) != 1 || p[0].Ref != "m2" {
		t.Errorf("Pending = %+v", p)
	}
}

func TestSenderFlushesOnConnectionEstablished(t *testing.T) {
	q := NewQueue(3)
	conn := &mockConn{}
	b := bus.New()
	logger, _ := zap.NewDevelopment()
	s := NewSender(q, conn, b, logger)

	ch, unsub := b.Subscribe("outbox.", 10)
	defer unsub()

	s.Start(context.Background())
	defer s.Stop()

	q.Enqueue("message-edit", "m1", map[string]string{"newContent": "hello"})
	b.Emit(bus.KindConnEstablished, nil)

	select {
	case evt := <-ch:
		if evt.Kind != bus.KindOutboxSent {
			t.Errorf("kind = %q, want %s", evt.Kind, bus.KindOutboxSent)
		}
		if e, ok := evt.Payload.(Entry); !ok || e.Ref != "m1" {
			t.Errorf("payload = %#v", evt.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for outbox.sent")
	}
	if conn.sent() != 1 {
		t.Errorf("sent = %d, want 1", conn.sent())
	}
}

func TestSenderFlushReportsDrops(t *testing.T) {
	q := NewQueue(1)
	conn := &mockConn{}
	conn.setDown(true)
	b := bus.New()
	s := NewSender(q, conn, b, zap.NewNop())

	ch, unsub := b.Subscribe(bus.KindOutboxDropped, 1)
	defer unsub()

	q.Enqueue("message-edit", "m1", nil)
	res := s.Flush()
	if len(res.Dropped) != 1 {
		t.Fatalf("res = %+v", res)
	}
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("no outbox.dropped event")
	}
}
