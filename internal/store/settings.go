package store

import (
	"database/sql"
	"fmt"
)

// Setting keys used by collaborators. Values are opaque strings.
const (
	SettingRepoToken = "repo_token"
)

// GetSetting returns the value for key, or ErrNotFound.
func (s *Store) GetSetting(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("reading setting %s: %w", key, err)
	}
	return value, nil
}

// SetSetting upserts a settings value.
func (s *Store) SetSetting(key, value string) error {
	return s.write(func() error {
		_, err := s.db.Exec(`
			INSERT INTO settings (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			key, value,
		)
		if err != nil {
			return fmt.Errorf("writing setting %s: %w", key, err)
		}
		return nil
	})
}
