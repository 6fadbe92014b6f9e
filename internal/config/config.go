package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.dmsync/config.toml.
type Config struct {
	DefaultSession string             `toml:"default_session"`
	Sessions       map[string]Session `toml:"sessions,omitempty"`
}

// Session holds the relay account and tuning of one named session.
type Session struct {
	RelayURL    string `toml:"relay_url"`
	APIURL      string `toml:"api_url"`
	Token       string `toml:"token"`
	UserID      string `toml:"user_id"`
	UserName    string `toml:"user_name,omitempty"`
	MetricsAddr string `toml:"metrics_addr,omitempty"`

	Reconnect      Reconnect `toml:"reconnect"`
	EditRetry      EditRetry `toml:"edit_retry"`
	SearchCacheTTL Duration  `toml:"search_cache_ttl,omitempty"`
}

// Reconnect is the connection-tier retry policy.
type Reconnect struct {
	BaseDelay   Duration `toml:"base_delay"`
	MaxDelay    Duration `toml:"max_delay"`
	MaxAttempts int      `toml:"max_attempts"` // 0 retries forever
}

// EditRetry is the durability-tier policy of queued edits and sends.
type EditRetry struct {
	MaxAttempts int `toml:"max_attempts"`
}

// Duration is a time.Duration written as "1s", "500ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// DefaultSession returns the settings a new session starts with.
func DefaultSession() Session {
	return Session{
		RelayURL: "ws://127.0.0.1:8088/ws",
		APIURL:   "http://127.0.0.1:8088",
		Reconnect: Reconnect{
			BaseDelay:   Duration{time.Second},
			MaxDelay:    Duration{5 * time.Second},
			MaxAttempts: 5,
		},
		EditRetry:      EditRetry{MaxAttempts: 3},
		SearchCacheTTL: Duration{5 * time.Minute},
	}
}

// Session returns the settings of name laid over the defaults. Unset
// fields keep their default, except reconnect MaxAttempts where zero means
// unbounded; Load fills that one in when the file omits it.
func (c *Config) Session(name string) Session {
	out := DefaultSession()
	if c == nil {
		return out
	}
	s, ok := c.Sessions[name]
	if !ok {
		return out
	}
	if s.RelayURL != "" {
		out.RelayURL = s.RelayURL
	}
	if s.APIURL != "" {
		out.APIURL = s.APIURL
	}
	out.Token = s.Token
	out.UserID = s.UserID
	out.UserName = s.UserName
	out.MetricsAddr = s.MetricsAddr
	if s.Reconnect.BaseDelay.Duration > 0 {
		out.Reconnect.BaseDelay = s.Reconnect.BaseDelay
	}
	if s.Reconnect.MaxDelay.Duration > 0 {
		out.Reconnect.MaxDelay = s.Reconnect.MaxDelay
	}
	out.Reconnect.MaxAttempts = s.Reconnect.MaxAttempts
	if s.EditRetry.MaxAttempts > 0 {
		out.EditRetry = s.EditRetry
	}
	if s.SearchCacheTTL.Duration > 0 {
		out.SearchCacheTTL = s.SearchCacheTTL
	}
	return out
}

// SetSession stores the settings of one session.
func (c *Config) SetSession(name string, s Session) {
	if c.Sessions == nil {
		c.Sessions = make(map[string]Session)
	}
	c.Sessions[name] = s
}

// Validate checks the settings a daemon needs before it can connect.
func (s Session) Validate() error {
	switch {
	case s.RelayURL == "":
		return errors.New("relay_url is required")
	case s.Token == "":
		return errors.New("token is required")
	case s.UserID == "":
		return errors.New("user_id is required")
	case s.Reconnect.MaxAttempts < 0:
		return errors.New("reconnect.max_attempts must not be negative")
	}
	return nil
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	for name, s := range cfg.Sessions {
		if !md.IsDefined("sessions", name, "reconnect", "max_attempts") {
			s.Reconnect.MaxAttempts = DefaultSession().Reconnect.MaxAttempts
			cfg.Sessions[name] = s
		}
	}
	return &cfg, nil
}

// LoadOrEmpty reads config from path, treating a missing file as empty.
func LoadOrEmpty(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &Config{}, nil
	}
	return cfg, err
}

// Save writes config to the given path, creating parent dirs as needed.
// The file holds relay tokens, so it is private to the user.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
