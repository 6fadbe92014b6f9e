package model

import (
	"testing"
	"time"
)

func TestFlashExpires(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	f := Flash{now: func() time.Time { return now }}

	if msg, _ := f.Get(); msg != "" {
		t.Fatalf("empty flash = %q", msg)
	}

	f.Error("send failed", 3*time.Second)
	msg, level := f.Get()
	if msg != "send failed" || level != FlashError {
		t.Errorf("Get() = %q, %v", msg, level)
	}

	now = now.Add(2 * time.Second)
	f.Set("queued", time.Second)
	if msg, level := f.Get(); msg != "queued" || level != FlashInfo {
		t.Errorf("Get() = %q, %v", msg, level)
	}

	now = now.Add(1500 * time.Millisecond)
	if msg, _ := f.Get(); msg != "" {
		t.Errorf("expired flash = %q", msg)
	}
}
