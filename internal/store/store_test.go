package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := testDB(t)

	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 2 {
		t.Errorf("version = %d, want 2 (local_state + search_history)", result.Version)
	}
}

type payload struct {
	Name    string `json:"name"`
	Version int    `json:"version"`
}

func TestStateRoundTrip(t *testing.T) {
	db := testDB(t)

	var got payload
	found, err := db.LoadState("prefs", &got)
	if err != nil || found {
		t.Fatalf("LoadState on empty db = %v, %v", found, err)
	}

	if err := db.SaveState("prefs", payload{Name: "a", Version: 1}); err != nil {
		t.Fatal(err)
	}
	if err := db.SaveState("prefs", payload{Name: "b", Version: 1}); err != nil {
		t.Fatal(err)
	}

	found, err = db.LoadState("prefs", &got)
	if err != nil || !found {
		t.Fatalf("LoadState = %v, %v", found, err)
	}
	if got.Name != "b" {
		t.Errorf("name = %q, want b (upsert should replace)", got.Name)
	}

	if err := db.DeleteState("prefs"); err != nil {
		t.Fatal(err)
	}
	if found, _ := db.LoadState("prefs", &got); found {
		t.Error("key still present after delete")
	}
}

func TestLoadStateCorruptPayload(t *testing.T) {
	db := testDB(t)
	if _, err := db.Exec(`INSERT INTO local_state (key, value, updated_at) VALUES ('bad', 'not json', 0)`); err != nil {
		t.Fatal(err)
	}
	var got payload
	found, err := db.LoadState("bad", &got)
	if !found || err == nil {
		t.Errorf("LoadState(bad) = %v, %v; want found with decode error", found, err)
	}
}

func TestSearchHistory(t *testing.T) {
	db := testDB(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, k := range []string{"hello", "meeting", "report", "hello"} {
		if err := db.RecordSearch(k, base.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatal(err)
		}
	}

	got, err := db.RecentSearches(10)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"hello", "report", "meeting"}, got); diff != "" {
		t.Errorf("RecentSearches (-want +got):\n%s", diff)
	}

	if err := db.ClearSearches(); err != nil {
		t.Fatal(err)
	}
	got, _ = db.RecentSearches(10)
	if len(got) != 0 {
		t.Errorf("after clear = %v", got)
	}
}

func TestOpenCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions", "work", "state.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if db.Path() != path {
		t.Errorf("Path() = %q, want %q", db.Path(), path)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
}
