package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

// GetSetting reads a single settings row, returning ("", false) if absent.
func (d *DB) GetSetting(key string) (string, bool, error) {
	row := d.conn.QueryRow(`SELECT value FROM settings WHERE key = ?`, key)
	var value string
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("storage: get setting %s: %w", key, err)
	}
	return value, true, nil
}

// SetSetting upserts a settings row.
func (d *DB) SetSetting(key, value string) error {
	_, err := d.conn.Exec(
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("storage: set setting %s: %w", key, err)
	}
	return nil
}
