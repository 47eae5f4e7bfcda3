package store

import (
	"database/sql"
	"fmt"
	"time"
)

// DefaultSettings are seeded for every new household. Only these keys may be
// stored.
var DefaultSettings = map[string]string{
	"week_start":          "sunday",
	"timezone":            "UTC",
	"theme":               "garden",
	"quiet_hours_enabled": "false",
	"quiet_hours_start":   "22:00",
	"quiet_hours_end":     "06:00",
}

type SettingsStore struct {
	db *sql.DB
}

func NewSettingsStore(db *sql.DB) *SettingsStore {
	return &SettingsStore{db: db}
}

func (s *SettingsStore) Get(householdID int64, key string) (string, error) {
	var value string
	err := s.db.QueryRow(
		`SELECT value FROM household_settings WHERE household_id = ? AND key = ?`,
		householdID, key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return DefaultSettings[key], nil
	}
	if err != nil {
		return "", fmt.Errorf("get setting %q: %w", key, err)
	}
	return value, nil
}

// GetAll returns the household's settings with defaults filled in for keys
// never written.
func (s *SettingsStore) GetAll(householdID int64) (map[string]string, error) {
	settings := make(map[string]string, len(DefaultSettings))
	for k, v := range DefaultSettings {
		settings[k] = v
	}

	rows, err := s.db.Query(
		`SELECT key, value FROM household_settings WHERE household_id = ? ORDER BY key`,
		householdID,
	)
	if err != nil {
		return nil, fmt.Errorf("get all settings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		settings[key] = value
	}
	return settings, rows.Err()
}

func (s *SettingsStore) Set(householdID int64, key, value string) error {
	if _, ok := DefaultSettings[key]; !ok {
		return fmt.Errorf("unknown setting %q", key)
	}
	_, err := s.db.Exec(
		`INSERT INTO household_settings (household_id, key, value, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(household_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		householdID, key, value, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("set setting %q: %w", key, err)
	}
	return nil
}

// seedSettings writes the default settings for a new household.
func seedSettings(tx *sql.Tx, householdID int64) error {
	for key, value := range DefaultSettings {
		if _, err := tx.Exec(
			`INSERT INTO household_settings (household_id, key, value) VALUES (?, ?, ?)`,
			householdID, key, value,
		); err != nil {
			return fmt.Errorf("seed setting %q: %w", key, err)
		}
	}
	return nil
}
