package daemon

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/matheus3301/dmsync/internal/api"
	"github.com/matheus3301/dmsync/internal/bus"
	"github.com/matheus3301/dmsync/internal/config"
	"github.com/matheus3301/dmsync/internal/relay"
	"github.com/matheus3301/dmsync/internal/relaysrv"
	"github.com/matheus3301/dmsync/internal/session"
	"github.com/matheus3301/dmsync/internal/status"
	"github.com/matheus3301/dmsync/internal/tui/client"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// shortHome points the session directory at a short path under /tmp to stay
// under the 104-char Unix socket limit on macOS.
func shortHome(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "dms-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	t.Setenv(session.HomeEnv, dir)
	return dir
}

func testParams(t *testing.T, relayURL string) Params {
	t.Helper()
	settings := config.DefaultSession()
	settings.RelayURL = "ws" + strings.TrimPrefix(relayURL, "http") + "/ws"
	settings.APIURL = relayURL
	settings.Token = "tok-alice"
	settings.UserID = "alice"
	settings.UserName = "Alice"
	return Params{
		SessionName: "test",
		Settings:    settings,
		AutoConnect: true,
		LogLevel:    zapcore.WarnLevel,
		Quiet:       true,
	}
}

func startRelay(t *testing.T) *httptest.Server {
	t.Helper()
	hub := relaysrv.NewHub(zap.NewNop())
	srv := httptest.NewServer(relaysrv.NewServer(hub, relaysrv.Options{}, zap.NewNop()).Router())
	t.Cleanup(srv.Close)
	return srv
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestDaemonLifecycle(t *testing.T) {
	shortHome(t)
	relaySrv := startRelay(t)
	p := testParams(t, relaySrv.URL)

	app := fxtest.New(t, fx.NopLogger, Module(p))
	app.RequireStart()

	socketPath := session.SocketPath(p.SessionName)
	if info, err := os.Stat(socketPath); err != nil {
		t.Fatalf("socket not created: %v", err)
	} else if info.Mode().Perm() != 0600 {
		t.Errorf("socket permission = %o, want 600", info.Mode().Perm())
	}
	if _, err := os.Stat(session.StateDBPath(p.SessionName)); err != nil {
		t.Errorf("state db not created: %v", err)
	}

	c, err := client.New(socketPath)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	waitFor(t, "auto-connect", func() bool {
		st, err := c.Status(ctx)
		return err == nil && st.State == string(status.Connected)
	})

	st, err := c.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Session != "test" || st.UserID != "alice" {
		t.Errorf("status = %+v", st)
	}

	open, err := c.OpenConversation(ctx, "c1")
	if err != nil {
		t.Fatalf("OpenConversation() error = %v", err)
	}
	if !open.Joined {
		t.Error("expected join to be sent")
	}

	sent, err := c.Send(ctx, "c1", "hello")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if sent.Queued {
		t.Error("send while connected should not queue")
	}
	if sent.Message.Content != "hello" || sent.Message.SenderID != "alice" {
		t.Errorf("sent message = %+v", sent.Message)
	}

	list, err := c.ListMessages(ctx, api.ListMessagesRequest{ConversationID: "c1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(list.Messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(list.Messages))
	}

	if state, err := c.Disconnect(ctx); err != nil || state != string(status.Disconnected) {
		t.Errorf("Disconnect() = %q, %v", state, err)
	}

	app.RequireStop()

	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Error("socket should be removed on stop")
	}
	if _, err := os.Stat(filepath.Join(session.Dir(p.SessionName), "LOCK")); err != nil {
		t.Errorf("lock file: %v", err)
	}
}

func TestSecondDaemonRefusedWhileLocked(t *testing.T) {
	shortHome(t)
	relaySrv := startRelay(t)
	p := testParams(t, relaySrv.URL)
	p.AutoConnect = false

	first := fxtest.New(t, fx.NopLogger, Module(p))
	first.RequireStart()
	defer first.RequireStop()

	second := fx.New(fx.NopLogger, Module(p))
	err := second.Err()
	if err == nil {
		t.Fatal("second daemon for the same session should fail")
	}
	if !strings.Contains(err.Error(), "session lock held") {
		t.Errorf("error = %v, want lock conflict", err)
	}
}

func TestMetricsEndpointServesState(t *testing.T) {
	b := bus.New()
	conn := relay.New(relay.Config{URL: "ws://127.0.0.1:1/ws"}, status.NewMachine(b), b, zap.NewNop())

	off := provideMetricsServer(Params{}, conn, zap.NewNop())
	off.Start()
	off.Stop(context.Background())
	if off.srv != nil {
		t.Fatal("metrics server should be disabled without an address")
	}

	p := Params{Settings: config.Session{MetricsAddr: "127.0.0.1:0"}}
	m := provideMetricsServer(p, conn, zap.NewNop())
	if m.srv == nil {
		t.Fatal("metrics server should be configured")
	}

	rec := httptest.NewRecorder()
	m.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != string(status.Disconnected) {
		t.Errorf("healthz = %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	m.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Error("metrics output missing runtime collectors")
	}
}

func TestServerRefusesNonSocketPath(t *testing.T) {
	path := filepath.Join(shortHome(t), "not-a-socket")
	if err := os.WriteFile(path, []byte("keep me"), 0600); err != nil {
		t.Fatal(err)
	}

	_, err := NewServer(Params{SocketPath: path}, zap.NewNop(), nil)
	if err == nil || !strings.Contains(err.Error(), "not a socket") {
		t.Fatalf("NewServer error = %v, want not a socket", err)
	}
	if data, _ := os.ReadFile(path); string(data) != "keep me" {
		t.Errorf("file was modified: %q", data)
	}
}
