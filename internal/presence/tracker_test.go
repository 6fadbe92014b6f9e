package presence

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func fixedTracker(now time.Time) *Tracker {
	tr := NewTracker()
	tr.now = func() time.Time { return now }
	return tr
}

func TestGetUnknownUserIsOfflineAndNotCreated(t *testing.T) {
	tr := NewTracker()
	if r := tr.Get("ghost"); r.Status != Offline || r.UserID != "ghost" {
		t.Errorf("Get(ghost) = %+v", r)
	}
	if len(tr.All()) != 0 {
		t.Error("Get created a record")
	}
}

func TestSetAndByStatus(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := fixedTracker(now)
	tr.Set("u1", Busy, "in a meeting", time.Time{})
	if r := tr.Get("u1"); r.Status != Busy || r.Message != "in a meeting" || !r.LastSeen.Equal(now) {
		t.Errorf("Get(u1) = %+v", r)
	}

	tr.Set("u2", Online, "", time.Time{})
	tr.Set("", Online, "", time.Time{})
	tr.Set("u3", "", "", time.Time{})
	if tr.Get("u3").Status != Offline {
		t.Error("empty status should default to offline")
	}
	if len(tr.All()) != 3 {
		t.Errorf("records = %d, want 3", len(tr.All()))
	}
	online := tr.ByStatus(Online)
	if len(online) != 1 || online[0].UserID != "u2" {
		t.Errorf("ByStatus(online) = %+v", online)
	}
}

func TestApplyOnline(t *testing.T) {
	tr := NewTracker()
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	tr.ApplyOnline("u1", true, at)
	tr.SetTyping("c1", "u1", true)
	tr.ApplyOnline("u1", false, at.Add(time.Hour))

	r := tr.Get("u1")
	if r.Status != Offline || !r.LastSeen.Equal(at.Add(time.Hour)) {
		t.Errorf("after offline = %+v", r)
	}
	if len(tr.Typing("c1")) != 0 {
		t.Error("offline user still typing")
	}
}

func TestTyping(t *testing.T) {
	tr := NewTracker()
	tr.SetTyping("c1", "u2", true)
	tr.SetTyping("c1", "u1", true)
	tr.SetTyping("c2", "u3", true)
	if diff := cmp.Diff([]string{"u1", "u2"}, tr.Typing("c1")); diff != "" {
		t.Errorf("Typing(c1) (-want +got):\n%s", diff)
	}
	tr.SetTyping("c1", "u2", false)
	tr.SetTyping("c1", "u9", false)
	if diff := cmp.Diff([]string{"u1"}, tr.Typing("c1")); diff != "" {
		t.Errorf("Typing(c1) (-want +got):\n%s", diff)
	}
}

func TestClear(t *testing.T) {
	tr := NewTracker()
	tr.Set("u1", Online, "", time.Time{})
	tr.Set("u2", Online, "", time.Time{})
	tr.SetTyping("c1", "u1", true)

	tr.Clear("u1")
	if tr.Get("u1").Status != Offline || len(tr.Typing("c1")) != 0 {
		t.Error("Clear(u1) left state behind")
	}
	tr.ClearAll()
	if len(tr.All()) != 0 {
		t.Error("ClearAll left records")
	}
}

func TestLastSeenText(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		rec  Record
		want string
	}{
		{Record{Status: Online}, "online"},
		{Record{Status: Offline}, "never seen"},
		{Record{Status: Offline, LastSeen: now.Add(-20 * time.Second)}, "just now"},
		{Record{Status: Away, LastSeen: now.Add(-5 * time.Minute)}, "5 minutes ago"},
		{Record{Status: Offline, LastSeen: now.Add(-3 * time.Hour)}, "3 hours ago"},
		{Record{Status: Offline, LastSeen: now.Add(-50 * time.Hour)}, "2 days ago"},
		{Record{Status: Offline, LastSeen: now.Add(-30 * 24 * time.Hour)}, "2026-02-08"},
	}
	for _, tt := range tests {
		if got := LastSeenText(tt.rec, now); got != tt.want {
			t.Errorf("LastSeenText(%+v) = %q, want %q", tt.rec, got, tt.want)
		}
	}
	if _, err := ParseStatus("dnd"); err != nil {
		t.Error(err)
	}
	if _, err := ParseStatus("sleeping"); err == nil {
		t.Error("ParseStatus(sleeping) should fail")
	}
}
