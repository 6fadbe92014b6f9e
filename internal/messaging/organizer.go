package messaging

import (
	"fmt"
	"time"

	"github.com/matheus3301/dmsync/internal/bus"
	"github.com/matheus3301/dmsync/internal/edit"
	"github.com/matheus3301/dmsync/internal/msgstore"
	"github.com/matheus3301/dmsync/internal/rank"
	"go.uber.org/zap"
)

// Organizer owns the per-user ranking state: pins, recently viewed
// messages, marks and sort preferences. Every change is saved to the local
// state database.
type Organizer struct {
	store  *msgstore.Store
	db     rank.StateStore
	quick  *rank.QuickAccess
	marks  *rank.Marks
	prefs  *rank.PreferenceStore
	bus    *bus.Bus
	logger *zap.Logger
	now    func() time.Time
}

// NewOrganizer creates an organizer with empty state. Call Load to restore
// the saved state.
func NewOrganizer(store *msgstore.Store, db rank.StateStore, b *bus.Bus, logger *zap.Logger) *Organizer {
	return &Organizer{
		store:  store,
		db:     db,
		quick:  rank.NewQuickAccess(),
		marks:  rank.NewMarks(),
		prefs:  rank.NewPreferenceStore(db),
		bus:    b,
		logger: logger,
		now:    time.Now,
	}
}

// Load restores pins, marks and preferences.
func (o *Organizer) Load() error {
	if err := o.quick.Load(o.db); err != nil {
		return fmt.Errorf("load quick access: %w", err)
	}
	if err := o.marks.Load(o.db); err != nil {
		return fmt.Errorf("load marks: %w", err)
	}
	if err := o.prefs.Load(); err != nil {
		return fmt.Errorf("load preferences: %w", err)
	}
	return nil
}

func (o *Organizer) saveQuickAccess() error {
	if err := o.quick.Save(o.db); err != nil {
		return fmt.Errorf("save quick access: %w", err)
	}
	o.bus.Emit(bus.KindQuickAccessChanged, nil)
	return nil
}

// ViewQuery selects and orders the messages of a conversation.
type ViewQuery struct {
	Keyword  string
	Filters  rank.Filters
	Strategy rank.Strategy // empty selects the preferred default
}

// View searches a conversation, narrows it by the active quick-access
// filters and sorts it.
func (o *Organizer) View(conversationID string, q ViewQuery) []msgstore.Message {
	now := o.now()
	msgs := rank.SearchLocal(o.store.List(conversationID), q.Keyword, q.Filters, now)
	if q.Keyword != "" {
		for i := range msgs {
			msgs[i].RelevanceScore = min(1, 0.5*float64(len(rank.MatchedFields(msgs[i], q.Keyword))))
		}
	}
	marks := o.marks.Snapshot()
	msgs = o.quick.Apply(msgs, marks)
	return o.sort(msgs, q.Strategy, marks, now)
}

// Sort orders msgs by strategy, or the preferred default when it is empty,
// with the user's marks and preference boosts applied.
func (o *Organizer) Sort(msgs []msgstore.Message, strategy rank.Strategy) []msgstore.Message {
	return o.sort(msgs, strategy, o.marks.Snapshot(), o.now())
}

func (o *Organizer) sort(msgs []msgstore.Message, strategy rank.Strategy, marks map[string]rank.Mark, now time.Time) []msgstore.Message {
	prefs := o.prefs.Get()
	if strategy == "" {
		strategy = prefs.DefaultSort
	}
	return rank.SortMessages(msgs, strategy, prefs, rank.Signals{Marks: marks, Now: now})
}

// Touch records that the user viewed a message.
func (o *Organizer) Touch(messageID string) (msgstore.Message, error) {
	m, ok := o.store.Get(messageID)
	if !ok {
		return msgstore.Message{}, fmt.Errorf("%w: %s", edit.ErrMessageNotFound, messageID)
	}
	o.quick.AddToRecent(m)
	return m, o.saveQuickAccess()
}

// Pin pins a cached message. It reports false when the message is already
// pinned or MaxPinned is reached.
func (o *Organizer) Pin(messageID string) (bool, error) {
	m, ok := o.store.Get(messageID)
	if !ok {
		return false, fmt.Errorf("%w: %s", edit.ErrMessageNotFound, messageID)
	}
	if !o.quick.Pin(m) {
		return false, nil
	}
	return true, o.saveQuickAccess()
}

// Unpin removes a pin; unpinning twice is not an error.
func (o *Organizer) Unpin(messageID string) (bool, error) {
	if !o.quick.Unpin(messageID) {
		return false, nil
	}
	return true, o.saveQuickAccess()
}

// ToggleFilter flips a quick-access filter and returns its new value.
func (o *Organizer) ToggleFilter(name string) (bool, error) {
	on, err := o.quick.ToggleFilter(name)
	if err != nil {
		return false, err
	}
	return on, o.saveQuickAccess()
}

// ClearFilters turns every quick-access filter off.
func (o *Organizer) ClearFilters() error {
	o.quick.ClearFilters()
	return o.saveQuickAccess()
}

// ClearRecent empties the recently viewed list.
func (o *Organizer) ClearRecent() error {
	o.quick.ClearRecent()
	return o.saveQuickAccess()
}

// Pinned returns the pinned messages, most recent first.
func (o *Organizer) Pinned() []rank.PinnedMessage { return o.quick.Pinned() }

// Recent returns the recently viewed messages, most recent first.
func (o *Organizer) Recent() []rank.RecentMessage { return o.quick.Recent() }

// ActiveFilters lists the filters that are on.
func (o *Organizer) ActiveFilters() []string { return o.quick.ActiveFilters() }

// ToggleMark flips a mark on a message and returns its new value.
func (o *Organizer) ToggleMark(messageID string, t rank.MarkType) (bool, error) {
	on, err := o.marks.Toggle(messageID, t)
	if err != nil {
		return false, err
	}
	if err := o.marks.Save(o.db); err != nil {
		return on, fmt.Errorf("save marks: %w", err)
	}
	return on, nil
}

// Mark returns the marks of a message.
func (o *Organizer) Mark(messageID string) rank.Mark { return o.marks.Get(messageID) }

// SetPreference changes one sort preference and saves it.
func (o *Organizer) SetPreference(key, value string) error {
	if err := o.prefs.Set(key, value); err != nil {
		return err
	}
	if err := o.prefs.Save(); err != nil {
		return fmt.Errorf("save preferences: %w", err)
	}
	o.logger.Info("preference changed", zap.String("key", key), zap.String("value", value))
	return nil
}

// ResetPreferences restores and saves the default preferences.
func (o *Organizer) ResetPreferences() error {
	o.prefs.Reset()
	return o.prefs.Save()
}

// Preferences returns the current sort preferences.
func (o *Organizer) Preferences() rank.Preferences { return o.prefs.Get() }

// Reset drops all ranking state, as on logout.
func (o *Organizer) Reset() error {
	o.quick.Reset()
	o.marks.Clear()
	o.prefs.Reset()
	if err := o.quick.Save(o.db); err != nil {
		return err
	}
	if err := o.marks.Save(o.db); err != nil {
		return err
	}
	return o.prefs.Save()
}
