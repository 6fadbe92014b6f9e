package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/matheus3301/dmsync/internal/api"
	"github.com/matheus3301/dmsync/internal/bus"
	"github.com/matheus3301/dmsync/internal/edit"
	"github.com/matheus3301/dmsync/internal/messaging"
	"github.com/matheus3301/dmsync/internal/msgstore"
	"github.com/matheus3301/dmsync/internal/optimistic"
	"github.com/matheus3301/dmsync/internal/outbox"
	"github.com/matheus3301/dmsync/internal/presence"
	"github.com/matheus3301/dmsync/internal/rank"
	"github.com/matheus3301/dmsync/internal/status"
	"github.com/matheus3301/dmsync/internal/store"
	"github.com/matheus3301/dmsync/internal/tui/client"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

// relayStub stands in for the relay connection.
type relayStub struct {
	mu     sync.Mutex
	state  status.State
	frames []string
}

func (r *relayStub) Send(event string, _ any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != status.Connected {
		return false
	}
	r.frames = append(r.frames, event)
	return true
}

func (r *relayStub) UserID() string { return "me" }

func (r *relayStub) Connect(_ context.Context, token, _ string) error {
	if token == "" {
		return errors.New("no token")
	}
	r.mu.Lock()
	r.state = status.Connected
	r.mu.Unlock()
	return nil
}

func (r *relayStub) Disconnect() {
	r.mu.Lock()
	r.state = status.Disconnected
	r.mu.Unlock()
}

func (r *relayStub) State() status.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *relayStub) Latency() time.Duration { return 5 * time.Millisecond }

// searchStub answers every relay search with results.
type searchStub struct{ results []msgstore.Message }

func (s *searchStub) SearchMessages(context.Context, string, string, rank.SearchOptions) ([]msgstore.Message, error) {
	return s.results, nil
}

type backend struct{ fail bool }

func (b *backend) Toggle(context.Context, optimistic.Kind, optimistic.Target, bool) error {
	if b.fail {
		return errors.New("backend down")
	}
	return nil
}

type harness struct {
	client  *client.Client
	relay   *relayStub
	store   *msgstore.Store
	bus     *bus.Bus
	backend *backend
	queue   *outbox.Queue
	search  *searchStub
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	h := &harness{
		relay:   &relayStub{state: status.Disconnected},
		store:   msgstore.New(),
		bus:     bus.New(),
		backend: &backend{},
		queue:   outbox.NewQueue(3),
		search:  &searchStub{},
	}
	logger := zap.NewNop()
	edits := edit.NewEngine(h.store, h.relay, nil, h.queue, h.bus, logger)
	edits.SetUser("me")
	states := optimistic.Router{Messages: h.store, Others: optimistic.NewLedger()}

	control := api.NewControl(api.Deps{
		Account:   api.Account{Session: "main", Token: "t", UserID: "me"},
		Conn:      h.relay,
		Store:     h.store,
		Messaging: messaging.NewService(h.store, h.relay, h.queue, rank.NewSearchCache(h.search, 8, time.Minute), db, h.bus, logger),
		Organizer: messaging.NewOrganizer(h.store, db, h.bus, logger),
		Edits:     edits,
		Actions:   optimistic.NewExecutor(states, h.backend, h.bus, logger),
		States:    states,
		Presence:  presence.NewTracker(),
		Queue:     h.queue,
		Sender:    outbox.NewSender(h.queue, h.relay, h.bus, logger),
		Bus:       h.bus,
		Logger:    logger,
	})

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	api.Register(srv, control)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	h.client = client.FromConn(conn)
	return h
}

func ctx(t *testing.T) context.Context {
	c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return c
}

func wantCode(t *testing.T, err error, code codes.Code) {
	t.Helper()
	if got := grpcstatus.Code(err); got != code {
		t.Errorf("code = %s (%v), want %s", got, err, code)
	}
}

func TestConnectAndStatus(t *testing.T) {
	h := newHarness(t)
	st, err := h.client.Status(ctx(t))
	if err != nil {
		t.Fatal(err)
	}
	if st.State != string(status.Disconnected) || st.Session != "main" || st.UserID != "me" {
		t.Errorf("status = %+v", st)
	}

	state, err := h.client.Connect(ctx(t))
	if err != nil || state != string(status.Connected) {
		t.Fatalf("Connect() = %q, %v", state, err)
	}
	st, _ = h.client.Status(ctx(t))
	if st.LatencyMS != 5 {
		t.Errorf("latency = %d", st.LatencyMS)
	}

	state, err = h.client.Disconnect(ctx(t))
	if err != nil || state != string(status.Disconnected) {
		t.Errorf("Disconnect() = %q, %v", state, err)
	}
}

func TestSendEditAndRestore(t *testing.T) {
	h := newHarness(t)
	h.client.Connect(ctx(t))

	open, err := h.client.OpenConversation(ctx(t), "c1")
	if err != nil || !open.Joined {
		t.Fatalf("OpenConversation() = %+v, %v", open, err)
	}
	sent, err := h.client.Send(ctx(t), "c1", "hello")
	if err != nil || sent.Queued {
		t.Fatalf("Send() = %+v, %v", sent, err)
	}
	id := sent.Message.ID

	for _, content := range []string{"hello again", "hello for real"} {
		if _, err := h.client.Edit(ctx(t), id, content); err != nil {
			t.Fatal(err)
		}
	}
	restored, err := h.client.Restore(ctx(t), id, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !restored.Changed || restored.Version != 3 || restored.Message.Content != "hello again" {
		t.Errorf("restore = %+v", restored)
	}

	versions, err := h.client.History(ctx(t), id)
	if err != nil {
		t.Fatal(err)
	}
	var contents []string
	for _, v := range versions {
		contents = append(contents, v.Content)
	}
	if diff := cmp.Diff([]string{"hello again", "hello for real", "hello again"}, contents); diff != "" {
		t.Errorf("history (-want +got):\n%s", diff)
	}

	queued, err := h.client.Recall(ctx(t), id)
	if err != nil || queued {
		t.Errorf("Recall() = %v, %v", queued, err)
	}
	if _, err := h.client.Edit(ctx(t), id, "too late"); err == nil {
		t.Error("edit of a recalled message succeeded")
	}
}

func TestErrorCodes(t *testing.T) {
	h := newHarness(t)
	h.store.Upsert(msgstore.Message{ID: "theirs", ConversationID: "c1", SenderID: "bob", Content: "hi", Type: msgstore.TypeText})

	_, err := h.client.Edit(ctx(t), "missing", "x")
	wantCode(t, err, codes.NotFound)
	_, err = h.client.Edit(ctx(t), "theirs", "mine now")
	wantCode(t, err, codes.FailedPrecondition)
	_, err = h.client.Send(ctx(t), "c1", "  ")
	wantCode(t, err, codes.InvalidArgument)
	_, err = h.client.ListMessages(ctx(t), api.ListMessagesRequest{ConversationID: "c1", Keyword: "hi", Remote: true})
	wantCode(t, err, codes.FailedPrecondition)
	_, err = h.client.ListMessages(ctx(t), api.ListMessagesRequest{ConversationID: "c1", Sort: "random"})
	wantCode(t, err, codes.InvalidArgument)
	_, err = h.client.SetPreference(ctx(t), api.SetPreferenceRequest{Key: "colour", Value: "red"})
	wantCode(t, err, codes.InvalidArgument)
	_, err = h.client.SetFilter(ctx(t), api.SetFilterRequest{Name: "showEverything"})
	wantCode(t, err, codes.InvalidArgument)
	_, err = h.client.Toggle(ctx(t), "poke", "message", "theirs")
	wantCode(t, err, codes.InvalidArgument)
	_, err = h.client.Retry(ctx(t))
	wantCode(t, err, codes.Unavailable)
}

func TestQuickAccessMarksAndSorting(t *testing.T) {
	h := newHarness(t)
	now := time.Now()
	h.store.Upsert(msgstore.Message{ID: "a", ConversationID: "c1", SenderID: "bob", SenderName: "Bob", Content: "first", Type: msgstore.TypeText, CreatedAt: now.Add(-48 * time.Hour)})
	h.store.Upsert(msgstore.Message{ID: "b", ConversationID: "c1", SenderID: "amy", SenderName: "Amy", Content: "second", Type: msgstore.TypeText, CreatedAt: now.Add(-time.Minute)})

	if ok, err := h.client.Pin(ctx(t), "a"); err != nil || !ok {
		t.Fatalf("Pin() = %v, %v", ok, err)
	}
	if _, err := h.client.ViewMessage(ctx(t), "b"); err != nil {
		t.Fatal(err)
	}
	mark, err := h.client.Mark(ctx(t), "a", "important")
	if err != nil || !mark.On || !cmp.Equal(mark.Marks, []string{"important"}) {
		t.Fatalf("Mark() = %+v, %v", mark, err)
	}

	qa, err := h.client.SetFilter(ctx(t), api.SetFilterRequest{Name: rank.FilterImportant})
	if err != nil {
		t.Fatal(err)
	}
	if len(qa.Pinned) != 1 || qa.Pinned[0].MessageID != "a" || len(qa.Recent) != 1 || qa.Recent[0].MessageID != "b" {
		t.Errorf("quick access = %+v", qa)
	}
	list, err := h.client.ListMessages(ctx(t), api.ListMessagesRequest{ConversationID: "c1"})
	if err != nil || len(list.Messages) != 1 || list.Messages[0].ID != "a" {
		t.Errorf("filtered list = %+v, %v", list, err)
	}

	if _, err := h.client.SetFilter(ctx(t), api.SetFilterRequest{Clear: true}); err != nil {
		t.Fatal(err)
	}
	prefs, err := h.client.SetPreference(ctx(t), api.SetPreferenceRequest{Key: "defaultSort", Value: "oldest"})
	if err != nil || prefs.DefaultSort != "oldest" {
		t.Fatalf("SetPreference() = %+v, %v", prefs, err)
	}
	list, _ = h.client.ListMessages(ctx(t), api.ListMessagesRequest{ConversationID: "c1"})
	if len(list.Messages) != 2 || list.Messages[0].ID != "a" {
		t.Errorf("oldest first = %+v", list.Messages)
	}
	if _, err := h.client.SetPreference(ctx(t), api.SetPreferenceRequest{Key: "boostMarked", Value: "false"}); err != nil {
		t.Fatal(err)
	}
	list, _ = h.client.ListMessages(ctx(t), api.ListMessagesRequest{ConversationID: "c1", Sort: "alphabetical"})
	if len(list.Messages) != 2 || list.Messages[0].ID != "b" {
		t.Errorf("alphabetical = %+v", list.Messages)
	}

	// Relay results are ranked with the same marks as local ones.
	h.search.results = []msgstore.Message{
		{ID: "b", ConversationID: "c1", Content: "second", CreatedAt: now.Add(-time.Minute)},
		{ID: "a", ConversationID: "c1", Content: "first", CreatedAt: now.Add(-48 * time.Hour)},
	}
	if _, err := h.client.OpenConversation(ctx(t), "c1"); err != nil {
		t.Fatal(err)
	}
	list, err = h.client.ListMessages(ctx(t), api.ListMessagesRequest{ConversationID: "c1", Remote: true, Sort: "importance"})
	if err != nil || len(list.Messages) != 2 || list.Messages[0].ID != "a" {
		t.Errorf("remote by importance = %+v, %v", list.Messages, err)
	}
}

func TestToggleRollsBackOnFailure(t *testing.T) {
	h := newHarness(t)
	h.store.Upsert(msgstore.Message{ID: "m1", ConversationID: "c1", SenderID: "bob", Type: msgstore.TypeText})

	res, err := h.client.Toggle(ctx(t), "like", "message", "m1")
	if err != nil || !res.Confirmed || !res.Engagement.Liked || res.Engagement.LikeCount != 1 {
		t.Fatalf("like = %+v, %v", res, err)
	}

	h.backend.fail = true
	res, err = h.client.Toggle(ctx(t), "like", "message", "m1")
	if err != nil || res.Confirmed || !res.Engagement.Liked || res.Engagement.LikeCount != 1 {
		t.Errorf("failed unlike = %+v, %v", res, err)
	}

	res, err = h.client.Toggle(ctx(t), "follow", "user", "bob")
	if err != nil || res.Confirmed || res.Engagement.Following {
		t.Errorf("failed follow = %+v, %v", res, err)
	}
}

func TestRetryFlushesQueue(t *testing.T) {
	h := newHarness(t)
	h.client.OpenConversation(ctx(t), "c1")
	sent, err := h.client.Send(ctx(t), "c1", "offline")
	if err != nil || !sent.Queued {
		t.Fatalf("Send() = %+v, %v", sent, err)
	}

	h.client.Connect(ctx(t))
	res, err := h.client.Retry(ctx(t))
	if err != nil {
		t.Fatal(err)
	}
	if res.Sent != 1 || res.Retained != 0 || h.queue.Len() != 0 {
		t.Errorf("retry = %+v, queue = %d", res, h.queue.Len())
	}
}

func TestWatchStreamsBusEvents(t *testing.T) {
	h := newHarness(t)
	c, cancel := context.WithCancel(ctx(t))
	defer cancel()

	got := make(chan api.Event, 1)
	go func() {
		_ = h.client.Watch(c, []string{"message."}, func(evt api.Event) error {
			select {
			case got <- evt:
			default:
			}
			return nil
		})
	}()

	m := msgstore.Message{ID: "m1", ConversationID: "c1", Content: "ping"}
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case evt := <-got:
			if evt.Kind != bus.KindMessageUpserted {
				t.Fatalf("kind = %s", evt.Kind)
			}
			var payload api.Message
			if err := json.Unmarshal(evt.Payload, &payload); err != nil || payload.ID != "m1" {
				t.Errorf("payload = %s, %v", evt.Payload, err)
			}
			return
		case <-tick.C:
			h.bus.Emit(bus.KindNotifyInfo, "ignored")
			h.bus.Emit(bus.KindMessageUpserted, m)
		case <-c.Done():
			t.Fatal("no event streamed")
		}
	}
}

func TestLogoutClearsSessionState(t *testing.T) {
	h := newHarness(t)
	if _, err := h.client.Connect(ctx(t)); err != nil {
		t.Fatal(err)
	}
	h.store.Upsert(msgstore.Message{ID: "a", ConversationID: "c1", SenderID: "bob", Content: "hi", Type: msgstore.TypeText})
	h.search.results = []msgstore.Message{{ID: "r1", ConversationID: "c1"}}
	h.client.OpenConversation(ctx(t), "c1")
	h.client.Pin(ctx(t), "a")
	h.client.ViewMessage(ctx(t), "a")
	h.client.Mark(ctx(t), "a", "todo")
	h.client.ListMessages(ctx(t), api.ListMessagesRequest{ConversationID: "c1", Remote: true, Keyword: "hi"})
	if _, err := h.client.Presence(ctx(t), api.PresenceRequest{SetStatus: "busy"}); err != nil {
		t.Fatal(err)
	}
	h.relay.Disconnect()
	h.client.Send(ctx(t), "c1", "queued")

	state, err := h.client.Logout(ctx(t))
	if err != nil || state != string(status.Disconnected) {
		t.Fatalf("Logout() = %q, %v", state, err)
	}

	st, _ := h.client.Status(ctx(t))
	if len(st.Conversations) != 0 || st.ActiveConversation != "" || st.Queued != 0 || st.CachedSearches != 0 {
		t.Errorf("status after logout = %+v", st)
	}
	if h.store.Len() != 0 {
		t.Errorf("store holds %d messages", h.store.Len())
	}
	qa, _ := h.client.QuickAccess(ctx(t))
	if len(qa.Pinned) != 0 || len(qa.Recent) != 0 {
		t.Errorf("quick access after logout = %+v", qa)
	}
	p, _ := h.client.Presence(ctx(t), api.PresenceRequest{})
	if len(p.Users) != 0 {
		t.Errorf("presence after logout = %+v", p.Users)
	}
	h.store.Upsert(msgstore.Message{ID: "a", ConversationID: "c1", SenderID: "bob", Type: msgstore.TypeText})
	if m, _ := h.client.Mark(ctx(t), "a", ""); len(m.Marks) != 0 {
		t.Errorf("marks after logout = %v", m.Marks)
	}
}

func TestPresenceSetAndFilter(t *testing.T) {
	h := newHarness(t)
	resp, err := h.client.Presence(ctx(t), api.PresenceRequest{SetStatus: "dnd", StatusMessage: "focus"})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Users) != 1 || resp.Users[0].UserID != "me" || resp.Users[0].Status != "dnd" || resp.Users[0].Message != "focus" {
		t.Errorf("after set = %+v", resp.Users)
	}

	tests := []struct {
		name string
		req  api.PresenceRequest
		want []string
	}{
		{"other status", api.PresenceRequest{Status: "online"}, nil},
		{"own status", api.PresenceRequest{Status: "dnd"}, []string{"me"}},
		{"named users", api.PresenceRequest{UserIDs: []string{"me", "bob"}, Status: "dnd"}, []string{"me"}},
		{"named offline", api.PresenceRequest{UserIDs: []string{"bob"}}, []string{"bob"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := h.client.Presence(ctx(t), tt.req)
			if err != nil {
				t.Fatal(err)
			}
			var got []string
			for _, u := range resp.Users {
				got = append(got, u.UserID)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("users (-want +got):\n%s", diff)
			}
		})
	}

	_, err = h.client.Presence(ctx(t), api.PresenceRequest{SetStatus: "sleeping"})
	wantCode(t, err, codes.InvalidArgument)
	_, err = h.client.Presence(ctx(t), api.PresenceRequest{Status: "sleeping"})
	wantCode(t, err, codes.InvalidArgument)
}

func TestDeleteMessageDropsQueuedFrames(t *testing.T) {
	h := newHarness(t)
	h.client.OpenConversation(ctx(t), "c1")
	sent, err := h.client.Send(ctx(t), "c1", "oops")
	if err != nil || !sent.Queued {
		t.Fatalf("Send() = %+v, %v", sent, err)
	}

	res, err := h.client.Delete(ctx(t), sent.Message.ID)
	if err != nil || !res.Deleted || res.DroppedFrames != 1 {
		t.Fatalf("Delete() = %+v, %v", res, err)
	}
	if h.queue.Len() != 0 {
		t.Errorf("queue len = %d", h.queue.Len())
	}
	if _, ok := h.store.Get(sent.Message.ID); ok {
		t.Error("message survived delete")
	}
	_, err = h.client.Delete(ctx(t), sent.Message.ID)
	wantCode(t, err, codes.NotFound)
}

func TestCacheStatsAndClear(t *testing.T) {
	h := newHarness(t)
	h.search.results = []msgstore.Message{{ID: "r1", ConversationID: "c1"}}
	h.client.OpenConversation(ctx(t), "c1")
	if _, err := h.client.ListMessages(ctx(t), api.ListMessagesRequest{ConversationID: "c1", Remote: true, Keyword: "lunch"}); err != nil {
		t.Fatal(err)
	}

	st, _ := h.client.Status(ctx(t))
	if st.CachedSearches != 1 {
		t.Errorf("cached searches = %d, want 1", st.CachedSearches)
	}
	c, err := h.client.Cache(ctx(t), false)
	if err != nil || c.Size != 1 || len(c.Entries) != 1 || c.Entries[0].Results != 1 {
		t.Fatalf("Cache() = %+v, %v", c, err)
	}
	c, err = h.client.Cache(ctx(t), true)
	if err != nil || c.Cleared != 1 {
		t.Fatalf("Cache(clear) = %+v, %v", c, err)
	}
	if st, _ := h.client.Status(ctx(t)); st.CachedSearches != 0 {
		t.Errorf("cached searches after clear = %d", st.CachedSearches)
	}
}
