package rank

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// StateStore persists versioned JSON payloads.
type StateStore interface {
	LoadState(key string, v any) (bool, error)
	SaveState(key string, v any) error
}

// PreferencesKey is the local state key of the sort preferences.
const PreferencesKey = "message_sorting_prefs"

const stateVersion = 1

var (
	// ErrUnknownPreference is returned by Set for an unknown key.
	ErrUnknownPreference = errors.New("unknown preference")
	ErrInvalidPreference = errors.New("invalid preference value")
)

// Preferences tune sorting. The weights are stored for clients that blend
// strategies; Score itself uses only the boost flags.
type Preferences struct {
	DefaultSort      Strategy `json:"defaultSort"`
	BoostCollected   bool     `json:"boostCollected"`
	BoostMarked      bool     `json:"boostMarked"`
	BoostFromVIP     bool     `json:"boostFromVIP"`
	RecencyWeight    float64  `json:"recencyWeight"`
	ImportanceWeight float64  `json:"importanceWeight"`
	EngagementWeight float64  `json:"engagementWeight"`
}

// DefaultPreferences returns the factory settings.
func DefaultPreferences() Preferences {
	return Preferences{
		DefaultSort:      Recency,
		BoostCollected:   true,
		BoostMarked:      true,
		BoostFromVIP:     true,
		RecencyWeight:    0.2,
		ImportanceWeight: 0.3,
		EngagementWeight: 0.2,
	}
}

type prefsPayload struct {
	Preferences Preferences `json:"preferences"`
	Version     int         `json:"version"`
	SavedAt     int64       `json:"savedAt"`
}

// PreferenceStore owns the sort preferences of a session.
type PreferenceStore struct {
	mu    sync.RWMutex
	prefs Preferences
	db    StateStore
}

// NewPreferenceStore creates a store holding the defaults.
func NewPreferenceStore(db StateStore) *PreferenceStore {
	return &PreferenceStore{prefs: DefaultPreferences(), db: db}
}

// Get returns the current preferences.
func (s *PreferenceStore) Get() Preferences {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prefs
}

// Set changes one preference by its JSON name, parsing value.
func (s *PreferenceStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.prefs
	var err error
	switch key {
	case "defaultSort":
		p.DefaultSort, err = ParseStrategy(value)
	case "boostCollected":
		p.BoostCollected, err = strconv.ParseBool(value)
	case "boostMarked":
		p.BoostMarked, err = strconv.ParseBool(value)
	case "boostFromVIP":
		p.BoostFromVIP, err = strconv.ParseBool(value)
	case "recencyWeight":
		p.RecencyWeight, err = parseWeight(value)
	case "importanceWeight":
		p.ImportanceWeight, err = parseWeight(value)
	case "engagementWeight":
		p.EngagementWeight, err = parseWeight(value)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownPreference, key)
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidPreference, key, err)
	}
	s.prefs = p
	return nil
}

func parseWeight(v string) (float64, error) {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, err
	}
	if f < 0 || f > 1 {
		return 0, fmt.Errorf("weight %v outside [0,1]", f)
	}
	return f, nil
}

// Reset restores the defaults.
func (s *PreferenceStore) Reset() {
	s.mu.Lock()
	s.prefs = DefaultPreferences()
	s.mu.Unlock()
}

// Load reads saved preferences over the defaults. Fields a newer version
// added are ignored; fields it dropped keep their defaults.
func (s *PreferenceStore) Load() error {
	payload := prefsPayload{Preferences: DefaultPreferences()}
	found, err := s.db.LoadState(PreferencesKey, &payload)
	if err != nil || !found {
		return err
	}
	if _, err := ParseStrategy(string(payload.Preferences.DefaultSort)); err != nil {
		payload.Preferences.DefaultSort = Recency
	}
	s.mu.Lock()
	s.prefs = payload.Preferences
	s.mu.Unlock()
	return nil
}

// Save writes the preferences.
func (s *PreferenceStore) Save() error {
	return s.db.SaveState(PreferencesKey, prefsPayload{
		Preferences: s.Get(),
		Version:     stateVersion,
		SavedAt:     time.Now().UnixMilli(),
	})
}
