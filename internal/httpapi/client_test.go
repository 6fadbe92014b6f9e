package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/go-cmp/cmp"
	"github.com/matheus3301/dmsync/internal/msgstore"
	"github.com/matheus3301/dmsync/internal/optimistic"
	"github.com/matheus3301/dmsync/internal/protocol"
	"github.com/matheus3301/dmsync/internal/rank"
)

type recorded struct {
	method, path, user, auth string
	query                    string
}

func newServer(t *testing.T) (*Client, func() []recorded) {
	t.Helper()
	var mu sync.Mutex
	var calls []recorded
	record := func(r *http.Request) {
		mu.Lock()
		calls = append(calls, recorded{
			method: r.Method,
			path:   r.URL.Path,
			user:   r.Header.Get("X-User-ID"),
			auth:   r.Header.Get("Authorization"),
			query:  r.URL.RawQuery,
		})
		mu.Unlock()
	}

	r := chi.NewRouter()
	r.Get("/api/messages/{id}/history", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		if chi.URLParam(r, "id") == "missing" {
			http.Error(w, "no such message", http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"versions": []msgstore.EditVersion{
			{MessageID: chi.URLParam(r, "id"), Version: 1, Content: "v1", EditedBy: "u1"},
		}})
	})
	r.Get("/api/conversations/{id}/messages/search", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		json.NewEncoder(w).Encode(map[string]any{"messages": []protocol.Message{
			{ID: "m1", ConversationID: chi.URLParam(r, "id"), Content: "found " + r.URL.Query().Get("q")},
		}})
	})
	r.HandleFunc("/api/{type}/{id}/{kind}", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return New(srv.URL+"/", "tok", "u1", nil), func() []recorded {
		mu.Lock()
		defer mu.Unlock()
		return append([]recorded(nil), calls...)
	}
}

func TestFetchHistory(t *testing.T) {
	c, calls := newServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got, err := c.FetchHistory(ctx, "m7")
	if err != nil {
		t.Fatal(err)
	}
	want := []msgstore.EditVersion{{MessageID: "m7", Version: 1, Content: "v1", EditedBy: "u1"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("history (-want +got):\n%s", diff)
	}
	rec := calls()[0]
	if rec.auth != "Bearer tok" || rec.user != "u1" {
		t.Errorf("headers = %+v", rec)
	}

	_, err = c.FetchHistory(ctx, "missing")
	if !IsStatus(err, http.StatusNotFound) {
		t.Errorf("err = %v, want 404 StatusError", err)
	}
}

func TestSearchMessages(t *testing.T) {
	c, calls := newServer(t)
	got, err := c.SearchMessages(context.Background(), "c1", "lunch", rank.SearchOptions{SenderID: "u2", Limit: 20})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Content != "found lunch" || got[0].Type != msgstore.TypeText {
		t.Errorf("results = %+v", got)
	}
	if q := calls()[0].query; q != "limit=20&q=lunch&senderId=u2" {
		t.Errorf("query = %q", q)
	}
}

func TestToggleMethodFollowsState(t *testing.T) {
	c, calls := newServer(t)
	post := optimistic.Target{Type: optimistic.TargetPost, ID: "p1"}
	if err := c.Toggle(context.Background(), optimistic.Like, post, true); err != nil {
		t.Fatal(err)
	}
	user := optimistic.Target{Type: optimistic.TargetUser, ID: "u9"}
	if err := c.Toggle(context.Background(), optimistic.Follow, user, false); err != nil {
		t.Fatal(err)
	}
	got := calls()
	if got[0].method != http.MethodPost || got[0].path != "/api/posts/p1/like" {
		t.Errorf("first call = %+v", got[0])
	}
	if got[1].method != http.MethodDelete || got[1].path != "/api/users/u9/follow" {
		t.Errorf("second call = %+v", got[1])
	}
}
