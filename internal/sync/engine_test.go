package sync

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/matheus3301/dmsync/internal/bus"
	"github.com/matheus3301/dmsync/internal/edit"
	"github.com/matheus3301/dmsync/internal/msgstore"
	"github.com/matheus3301/dmsync/internal/outbox"
	"github.com/matheus3301/dmsync/internal/presence"
	"github.com/matheus3301/dmsync/internal/protocol"
	"github.com/matheus3301/dmsync/internal/relay"
	"go.uber.org/zap"
)

type fakeConn struct {
	handlers map[string]relay.Handler
	sent     []protocol.Envelope
	down     bool
}

func (f *fakeConn) On(event string, h relay.Handler) error {
	if !protocol.IsInbound(event) {
		return relay.ErrUnknownEvent
	}
	f.handlers[event] = h
	return nil
}

func (f *fakeConn) Send(event string, payload any) bool {
	if f.down {
		return false
	}
	data, _ := protocol.Encode(event, payload)
	env, _ := protocol.Decode(data)
	f.sent = append(f.sent, env)
	return true
}

func (f *fakeConn) UserID() string { return "me" }

// deliver simulates an inbound frame.
func (f *fakeConn) deliver(t *testing.T, event string, payload any) {
	t.Helper()
	data, err := protocol.Encode(event, payload)
	if err != nil {
		t.Fatal(err)
	}
	env, err := protocol.Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	h, ok := f.handlers[event]
	if !ok {
		t.Fatalf("no handler for %s", event)
	}
	h(env)
}

type fixture struct {
	store    *msgstore.Store
	presence *presence.Tracker
	conn     *fakeConn
	bus      *bus.Bus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    msgstore.New(),
		presence: presence.NewTracker(),
		conn:     &fakeConn{handlers: make(map[string]relay.Handler)},
		bus:      bus.New(),
	}
	edits := edit.NewEngine(f.store, f.conn, nil, outbox.NewQueue(3), f.bus, zap.NewNop())
	edits.SetUser("me")
	e := NewEngine(f.store, f.presence, edits, f.conn, f.bus, zap.NewNop())
	if err := e.Register(); err != nil {
		t.Fatal(err)
	}
	return f
}

func expectEvent(t *testing.T, ch <-chan bus.Event) bus.Event {
	t.Helper()
	select {
	case evt := <-ch:
		return evt
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for bus event")
	}
	return bus.Event{}
}

func TestRegisterCoversInboundTable(t *testing.T) {
	f := newFixture(t)
	for _, event := range []string{
		protocol.PrivateMessage, protocol.MessageRead, protocol.ConversationRead,
		protocol.UserTyping, protocol.UserOnlineStatus, protocol.MessageEdit,
		protocol.MessageRecall, protocol.Pong, protocol.Reconnect,
		protocol.ReconnectAttempt, protocol.Error, protocol.Disconnect,
	} {
		if _, ok := f.conn.handlers[event]; !ok {
			t.Errorf("no handler for %s", event)
		}
	}
}

func TestPrivateMessageUpsertAndUnread(t *testing.T) {
	f := newFixture(t)
	ch, unsub := f.bus.Subscribe(bus.KindMessageUpserted, 4)
	defer unsub()
	f.store.SetActive("open")

	f.conn.deliver(t, protocol.PrivateMessage, protocol.Message{ID: "m1", ConversationID: "other", SenderID: "bob", Content: "hey"})
	f.conn.deliver(t, protocol.PrivateMessage, protocol.Message{ID: "m2", ConversationID: "open", SenderID: "bob", Content: "here"})
	f.conn.deliver(t, protocol.PrivateMessage, protocol.Message{ID: "m3", ConversationID: "other", SenderID: "me", Content: "mine"})
	// Redelivery must not count twice.
	f.conn.deliver(t, protocol.PrivateMessage, protocol.Message{ID: "m1", ConversationID: "other", SenderID: "bob", Content: "hey"})

	evt := expectEvent(t, ch)
	if m := evt.Payload.(msgstore.Message); m.ID != "m1" || m.Type != msgstore.TypeText || m.Status != msgstore.StatusSent {
		t.Errorf("upserted = %+v", m)
	}

	other, _ := f.store.Conversation("other")
	open, _ := f.store.Conversation("open")
	if other.UnreadCount != 1 || open.UnreadCount != 0 {
		t.Errorf("unread other=%d open=%d, want 1 and 0", other.UnreadCount, open.UnreadCount)
	}
	if n := len(f.store.List("other")); n != 2 {
		t.Errorf("other has %d messages, want 2", n)
	}
	if !cmp.Equal(other.Participants, []string{"bob", "me"}) {
		t.Errorf("participants = %v", other.Participants)
	}
}

func TestOwnMessageEchoMarksDelivered(t *testing.T) {
	f := newFixture(t)
	f.store.Upsert(msgstore.Message{ID: "m1", ConversationID: "c1", SenderID: "me", Content: "hi", Status: msgstore.StatusSent})

	f.conn.deliver(t, protocol.PrivateMessage, protocol.Message{ID: "m1", ConversationID: "c1", SenderID: "me", Content: "hi", Status: "sent"})
	if m, _ := f.store.Get("m1"); m.Status != msgstore.StatusDelivered {
		t.Errorf("status after echo = %s, want delivered", m.Status)
	}

	// A peer's redelivered message is not ours to confirm.
	f.store.Upsert(msgstore.Message{ID: "m2", ConversationID: "c1", SenderID: "bob", Content: "yo", Status: msgstore.StatusSent})
	f.conn.deliver(t, protocol.PrivateMessage, protocol.Message{ID: "m2", ConversationID: "c1", SenderID: "bob", Content: "yo", Status: "sent"})
	if m, _ := f.store.Get("m2"); m.Status != msgstore.StatusSent {
		t.Errorf("peer status = %s, want sent", m.Status)
	}

	// Read is never downgraded by a late echo.
	f.store.MarkRead("m1", "bob")
	f.conn.deliver(t, protocol.PrivateMessage, protocol.Message{ID: "m1", ConversationID: "c1", SenderID: "me", Content: "hi", Status: "sent"})
	if m, _ := f.store.Get("m1"); m.Status != msgstore.StatusRead {
		t.Errorf("status after late echo = %s, want read", m.Status)
	}
}

func TestMalformedFramesAreIgnored(t *testing.T) {
	f := newFixture(t)
	f.conn.deliver(t, protocol.PrivateMessage, map[string]any{"content": "no id"})
	f.conn.deliver(t, protocol.MessageRead, "not an object")
	if f.store.Len() != 0 {
		t.Error("malformed frame reached the store")
	}
}

func TestReadReceipts(t *testing.T) {
	f := newFixture(t)
	ch, unsub := f.bus.Subscribe(bus.KindMessageRead, 1)
	defer unsub()
	convCh, unsubConv := f.bus.Subscribe(bus.KindConversationRead, 1)
	defer unsubConv()

	for _, id := range []string{"m1", "m2", "m3"} {
		f.store.Upsert(msgstore.Message{ID: id, ConversationID: "c1", SenderID: "me", Status: msgstore.StatusDelivered})
	}

	f.conn.deliver(t, protocol.MessageRead, protocol.Read{MessageID: "m1", ReadBy: "bob", ReadAt: time.Now()})
	receipt := expectEvent(t, ch).Payload.(ReadReceipt)
	if receipt.ConversationID != "c1" || receipt.MessageID != "m1" || receipt.ReadBy != "bob" {
		t.Errorf("receipt = %+v", receipt)
	}
	if m, _ := f.store.Get("m1"); m.Status != msgstore.StatusRead {
		t.Errorf("m1 status = %s", m.Status)
	}

	f.conn.deliver(t, protocol.ConversationRead, protocol.ConversationReadPayload{ConversationID: "c1", ReadBy: "bob"})
	if got := expectEvent(t, convCh).Payload.(ReadReceipt).Changed; got != 2 {
		t.Errorf("conversation read changed %d messages, want 2", got)
	}
	for _, m := range f.store.List("c1") {
		if m.Status != msgstore.StatusRead {
			t.Errorf("%s status = %s", m.ID, m.Status)
		}
	}
}

func TestTypingAndPresence(t *testing.T) {
	f := newFixture(t)
	f.conn.deliver(t, protocol.UserOnlineStatus, protocol.OnlineStatus{UserID: "bob", IsOnline: true})
	f.conn.deliver(t, protocol.UserTyping, protocol.UserTypingPayload{UserID: "bob", ConversationID: "c1", IsTyping: true})
	f.conn.deliver(t, protocol.UserTyping, protocol.UserTypingPayload{UserID: "me", ConversationID: "c1", IsTyping: true})

	if got := f.presence.Get("bob").Status; got != presence.Online {
		t.Errorf("bob = %s", got)
	}
	if diff := cmp.Diff([]string{"bob"}, f.presence.Typing("c1")); diff != "" {
		t.Errorf("typing (-want +got):\n%s", diff)
	}

	seen := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.conn.deliver(t, protocol.UserOnlineStatus, protocol.OnlineStatus{UserID: "bob", IsOnline: false, Timestamp: seen})
	r := f.presence.Get("bob")
	if r.Status != presence.Offline || !r.LastSeen.Equal(seen) {
		t.Errorf("bob after offline = %+v", r)
	}
	if len(f.presence.Typing("c1")) != 0 {
		t.Error("offline user still typing")
	}
}

func TestRemoteEditAndRecall(t *testing.T) {
	f := newFixture(t)
	f.store.Upsert(msgstore.Message{ID: "m1", ConversationID: "c1", SenderID: "bob", Content: "v0", Type: msgstore.TypeText})

	f.conn.deliver(t, protocol.MessageEdit, protocol.Edited{MessageID: "m1", ConversationID: "c1", Content: "v1", EditCount: 1, EditedBy: "bob"})
	m, _ := f.store.Get("m1")
	if m.Content != "v1" || m.EditCount != 1 {
		t.Errorf("after edit = %+v", m)
	}
	if n := len(f.store.Versions("m1")); n != 1 {
		t.Errorf("versions = %d, want 1", n)
	}

	f.conn.deliver(t, protocol.MessageRecall, protocol.Recalled{MessageID: "m1", ConversationID: "c1", RecalledBy: "bob"})
	if m, _ := f.store.Get("m1"); !m.IsRecalled {
		t.Error("message not recalled")
	}
}

func TestReconnectRejoinsActiveConversation(t *testing.T) {
	f := newFixture(t)
	ch, unsub := f.bus.Subscribe("conn.", 4)
	defer unsub()

	f.conn.deliver(t, protocol.ReconnectAttempt, protocol.Attempt{Attempt: 1})
	f.conn.deliver(t, protocol.Reconnect, protocol.Attempt{Attempt: 1})
	if len(f.conn.sent) != 0 {
		t.Errorf("sent %d frames without an active conversation", len(f.conn.sent))
	}

	f.store.SetActive("c9")
	f.conn.deliver(t, protocol.Reconnect, protocol.Attempt{Attempt: 2})
	if len(f.conn.sent) != 1 || f.conn.sent[0].Event != protocol.JoinConversation {
		t.Fatalf("sent = %+v", f.conn.sent)
	}
	var c protocol.Conversation
	f.conn.sent[0].Bind(&c)
	if c.ConversationID != "c9" {
		t.Errorf("rejoined %q", c.ConversationID)
	}

	var kinds []string
	for range 3 {
		kinds = append(kinds, expectEvent(t, ch).Kind)
	}
	want := []string{bus.KindConnReconnecting, bus.KindConnReconnected, bus.KindConnReconnected}
	if diff := cmp.Diff(want, kinds); diff != "" {
		t.Errorf("bus kinds (-want +got):\n%s", diff)
	}
}

func TestDisconnectAndErrorArePublished(t *testing.T) {
	f := newFixture(t)
	ch, unsub := f.bus.Subscribe("conn.", 2)
	defer unsub()

	f.conn.deliver(t, protocol.Error, protocol.Reason{Message: "read failed"})
	f.conn.deliver(t, protocol.Disconnect, protocol.Reason{Message: "going away"})

	if evt := expectEvent(t, ch); evt.Kind != bus.KindConnError || evt.Payload != "read failed" {
		t.Errorf("first = %+v", evt)
	}
	if evt := expectEvent(t, ch); evt.Kind != bus.KindConnLost || evt.Payload != "going away" {
		t.Errorf("second = %+v", evt)
	}
}

func TestRegisterPropagatesErrors(t *testing.T) {
	failing := &refusingConn{}
	e := NewEngine(msgstore.New(), presence.NewTracker(), nil, failing, bus.New(), zap.NewNop())
	if err := e.Register(); !errors.Is(err, relay.ErrUnknownEvent) {
		t.Errorf("Register() = %v", err)
	}
}

type refusingConn struct{ fakeConn }

func (refusingConn) On(string, relay.Handler) error { return relay.ErrUnknownEvent }
