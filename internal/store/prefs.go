package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/mseelig/ccvault/internal/model"
)

const defaultStorageMode = model.ModeAggregate

// Preference returns the stored value for key, or "" when unset.
func (s *Store) Preference(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM preferences WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", classify("read preference", err)
	}
	return value, nil
}

// SetPreference stores a preference value, replacing any existing one.
func (s *Store) SetPreference(key, value string) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO preferences (key, value, updated_at)
		VALUES (?, ?, ?)`,
		key, value, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return classify("write preference", err)
	}
	return nil
}

// StorageMode returns the store's persisted storage mode. The mode
// lives in the store itself so every writer on the device agrees.
func (s *Store) StorageMode() (model.StorageMode, error) {
	v, err := s.Preference("storage_mode")
	if err != nil {
		return "", err
	}
	if v == "" {
		return defaultStorageMode, nil
	}
	return model.StorageMode(v), nil
}

// SetStorageMode persists the storage mode. Switching out of full mode
// does not delete raw events already stored; it only stops adding new
// ones.
func (s *Store) SetStorageMode(mode model.StorageMode) error {
	return s.SetPreference("storage_mode", string(mode))
}
