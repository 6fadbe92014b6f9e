package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// LoadState decodes the JSON payload stored under key into v. It reports
// false when the key is absent.
func (db *DB) LoadState(key string, v any) (bool, error) {
	var raw []byte
	err := db.QueryRow(`SELECT value FROM local_state WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return true, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// SaveState stores v as JSON under key, replacing any previous payload.
func (db *DB) SaveState(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	_, err = db.Exec(`
		INSERT INTO local_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at`,
		key, raw, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

// DeleteState removes key. Missing keys are not an error.
func (db *DB) DeleteState(key string) error {
	_, err := db.Exec(`DELETE FROM local_state WHERE key = ?`, key)
	return err
}

// RecordSearch remembers a search keyword, refreshing its timestamp.
func (db *DB) RecordSearch(keyword string, at time.Time) error {
	_, err := db.Exec(`
		INSERT INTO search_history (keyword, used_at) VALUES (?, ?)
		ON CONFLICT(keyword) DO UPDATE SET used_at = excluded.used_at`,
		keyword, at.UnixMilli())
	return err
}

// RecentSearches returns up to limit keywords, most recently used first.
func (db *DB) RecentSearches(limit int) ([]string, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.Query(`SELECT keyword FROM search_history ORDER BY used_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// ClearSearches forgets the search history.
func (db *DB) ClearSearches() error {
	_, err := db.Exec(`DELETE FROM search_history`)
	return err
}
