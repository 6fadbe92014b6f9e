package rank

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/matheus3301/dmsync/internal/msgstore"
	"github.com/matheus3301/dmsync/internal/store"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func msg(id string) msgstore.Message {
	return msgstore.Message{ID: id, Content: "content " + id, SenderName: "Alice", Type: msgstore.TypeText, CreatedAt: time.Unix(1700000000, 0)}
}

func TestPinCapAndDuplicates(t *testing.T) {
	q := NewQuickAccess()
	for i := range MaxPinned {
		if !q.Pin(msg(fmt.Sprintf("m%d", i))) {
			t.Fatalf("Pin(m%d) failed", i)
		}
	}
	if q.Pin(msg("extra")) {
		t.Error("Pin beyond the cap should fail")
	}
	if len(q.Pinned()) != MaxPinned {
		t.Errorf("pinned = %d", len(q.Pinned()))
	}
	if q.Pinned()[0].MessageID != "m9" {
		t.Errorf("latest pin should be first, got %s", q.Pinned()[0].MessageID)
	}

	if !q.Unpin("m3") {
		t.Error("Unpin(m3) = false")
	}
	if q.Unpin("m3") {
		t.Error("second Unpin(m3) should report false")
	}
	if q.Pin(msg("m0")) {
		t.Error("Pin of an already pinned message should fail")
	}
	if !q.Pin(msg("extra")) || !q.IsPinned("extra") {
		t.Error("Pin after Unpin should succeed")
	}
}

func TestRecentIsLRU(t *testing.T) {
	q := NewQuickAccess()
	for _, id := range []string{"A", "B", "C", "D", "E", "F"} {
		q.AddToRecent(msg(id))
	}
	got := func() []string {
		var out []string
		for _, r := range q.Recent() {
			out = append(out, r.MessageID)
		}
		return out
	}
	if diff := cmp.Diff([]string{"F", "E", "D", "C", "B"}, got()); diff != "" {
		t.Errorf("recent (-want +got):\n%s", diff)
	}
	q.AddToRecent(msg("C"))
	if diff := cmp.Diff([]string{"C", "F", "E", "D", "B"}, got()); diff != "" {
		t.Errorf("after revisit (-want +got):\n%s", diff)
	}
	q.ClearRecent()
	if len(q.Recent()) != 0 {
		t.Error("ClearRecent left entries")
	}
}

func TestFilters(t *testing.T) {
	q := NewQuickAccess()
	if on, err := q.ToggleFilter(FilterTodo); err != nil || !on {
		t.Fatalf("ToggleFilter(todo) = %v, %v", on, err)
	}
	q.ToggleFilter(FilterPinned)
	if diff := cmp.Diff([]string{FilterPinned, FilterTodo}, q.ActiveFilters()); diff != "" {
		t.Errorf("active (-want +got):\n%s", diff)
	}
	if _, err := q.ToggleFilter("showEverything"); err == nil {
		t.Error("unknown filter should fail")
	}

	msgs := []msgstore.Message{msg("a"), msg("b"), msg("c")}
	q.Pin(msg("a"))
	q.Pin(msg("b"))
	marks := map[string]Mark{"b": {Todo: true}, "c": {Todo: true}}
	if diff := cmp.Diff([]string{"b"}, ids(q.Apply(msgs, marks))); diff != "" {
		t.Errorf("Apply (-want +got):\n%s", diff)
	}

	q.ClearFilters()
	if len(q.ActiveFilters()) != 0 {
		t.Error("ClearFilters left filters on")
	}
	if len(q.Apply(msgs, marks)) != 3 {
		t.Error("Apply with no filter should keep everything")
	}
}

func TestQuickAccessPersistence(t *testing.T) {
	db := testDB(t)
	q := NewQuickAccess()
	q.Pin(msg("p1"))
	q.AddToRecent(msg("r1"))
	q.ToggleFilter(FilterImportant)
	if err := q.Save(db); err != nil {
		t.Fatal(err)
	}

	restored := NewQuickAccess()
	if err := restored.Load(db); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(q.Pinned(), restored.Pinned()); diff != "" {
		t.Errorf("pinned (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(q.Recent(), restored.Recent()); diff != "" {
		t.Errorf("recent (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{FilterImportant}, restored.ActiveFilters()); diff != "" {
		t.Errorf("filters (-want +got):\n%s", diff)
	}

	var raw map[string]any
	if _, err := db.LoadState(QuickAccessKey, &raw); err != nil {
		t.Fatal(err)
	}
	if raw["version"] != float64(1) {
		t.Errorf("version = %v, want 1", raw["version"])
	}
}

func TestMarksToggleAndPersist(t *testing.T) {
	db := testDB(t)
	m := NewMarks()
	if on, _ := m.Toggle("m1", MarkImportant); !on {
		t.Error("first toggle should set the mark")
	}
	m.Toggle("m2", MarkTodo)
	m.Toggle("m2", MarkTodo)
	if _, err := m.Toggle("m1", "starred"); err == nil {
		t.Error("unknown mark type should fail")
	}
	if diff := cmp.Diff(map[string]Mark{"m1": {Important: true}}, m.Snapshot()); diff != "" {
		t.Errorf("snapshot (-want +got):\n%s", diff)
	}
	if err := m.Save(db); err != nil {
		t.Fatal(err)
	}

	restored := NewMarks()
	if err := restored.Load(db); err != nil {
		t.Fatal(err)
	}
	if !restored.Get("m1").Has(MarkImportant) {
		t.Error("mark lost across save/load")
	}
}

func TestPreferences(t *testing.T) {
	db := testDB(t)
	s := NewPreferenceStore(db)
	if err := s.Set("defaultSort", "engagement"); err != nil {
		t.Fatal(err)
	}
	if err := s.Set("boostMarked", "false"); err != nil {
		t.Fatal(err)
	}
	if err := s.Set("recencyWeight", "1.5"); !errors.Is(err, ErrInvalidPreference) {
		t.Error("weight above 1 should fail")
	}
	if err := s.Set("colour", "red"); !errors.Is(err, ErrUnknownPreference) {
		t.Errorf("unknown key error = %v", err)
	}
	if err := s.Save(); err != nil {
		t.Fatal(err)
	}

	restored := NewPreferenceStore(db)
	if err := restored.Load(); err != nil {
		t.Fatal(err)
	}
	want := DefaultPreferences()
	want.DefaultSort = Engagement
	want.BoostMarked = false
	if diff := cmp.Diff(want, restored.Get()); diff != "" {
		t.Errorf("preferences (-want +got):\n%s", diff)
	}

	restored.Reset()
	if restored.Get() != DefaultPreferences() {
		t.Error("Reset did not restore defaults")
	}
}

func TestPreferencesLoadKeepsDefaultsForMissingFields(t *testing.T) {
	db := testDB(t)
	if err := db.SaveState(PreferencesKey, map[string]any{
		"preferences": map[string]any{"defaultSort": "bogus", "boostFromVIP": false},
		"version":     1,
	}); err != nil {
		t.Fatal(err)
	}
	s := NewPreferenceStore(db)
	if err := s.Load(); err != nil {
		t.Fatal(err)
	}
	got := s.Get()
	if got.DefaultSort != Recency || got.BoostFromVIP || !got.BoostCollected || got.ImportanceWeight != 0.3 {
		t.Errorf("loaded = %+v", got)
	}
}
