package tui

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/matheus3301/dmsync/internal/api"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in   string
		want Command
	}{
		{"edit  fixed the typo ", Command{Name: "edit", Args: "fixed the typo"}},
		{"PIN", Command{Name: "pin"}},
		{" restore v2", Command{Name: "restore", Args: "v2"}},
		{"", Command{}},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, ParseCommand(tt.in)); diff != "" {
			t.Errorf("ParseCommand(%q) mismatch (-want +got):\n%s", tt.in, diff)
		}
	}
}

func TestNextSortCycles(t *testing.T) {
	seen := map[string]bool{}
	s := ""
	for range sortCycle {
		s = nextSort(s)
		seen[s] = true
	}
	if s != "" {
		t.Errorf("cycle did not return to preferred sort, ended at %q", s)
	}
	if len(seen) != len(sortCycle) {
		t.Errorf("visited %d strategies, want %d", len(seen), len(sortCycle))
	}
	if got := nextSort("bogus"); got != "" {
		t.Errorf("nextSort(unknown) = %q", got)
	}
}

func TestFilterRequest(t *testing.T) {
	if diff := cmp.Diff(api.SetFilterRequest{Clear: true}, filterRequest("off")); diff != "" {
		t.Error(diff)
	}
	if diff := cmp.Diff(api.SetFilterRequest{Name: "showTodo"}, filterRequest("showTodo")); diff != "" {
		t.Error(diff)
	}
}
