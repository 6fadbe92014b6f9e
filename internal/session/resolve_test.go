package session

import (
	"testing"

	"github.com/matheus3301/dmsync/internal/config"
)

func TestResolve(t *testing.T) {
	t.Setenv(HomeEnv, t.TempDir())

	if got := Resolve(""); got != DefaultSessionName {
		t.Errorf("Resolve() without config = %q", got)
	}

	cfg := &config.Config{DefaultSession: "work"}
	s := config.DefaultSession()
	s.UserID = "alice"
	cfg.SetSession("work", s)
	if err := config.Save(ConfigPath(), cfg); err != nil {
		t.Fatal(err)
	}

	if got := Resolve(""); got != "work" {
		t.Errorf("Resolve() = %q, want work", got)
	}
	if got := Resolve("other"); got != "other" {
		t.Errorf("Resolve(other) = %q", got)
	}

	got, err := Settings("work")
	if err != nil || got.UserID != "alice" {
		t.Errorf("Settings(work) = %+v, %v", got, err)
	}
}
