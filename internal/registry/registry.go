// Package registry tracks device identities in a shared machines.db.
// The registry never holds token data; it only answers "which devices
// exist and when were they last seen".
package registry

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mseelig/ccvault/internal/model"
)

// Registry is the shared device database. Unlike the per-device usage
// stores it may be written from several machines, so it uses rollback
// journaling with full sync for cloud-synced folders.
type Registry struct {
	db *sql.DB
}

// Open opens (creating if needed) the registry database at path.
func Open(path string) (*Registry, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create registry directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open registry: %w", err)
	}

	// DELETE journal; WAL sidecars confuse file-level cloud sync when
	// more than one machine writes.
	if _, err := db.Exec("PRAGMA journal_mode = DELETE"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set journal mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = FULL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set synchronous mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 30000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS machines (
		machine_name TEXT PRIMARY KEY,
		hostname TEXT NOT NULL,
		registered_date TEXT NOT NULL,
		last_seen TEXT NOT NULL,
		active INTEGER DEFAULT 1
	);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create machines table: %w", err)
	}

	return &Registry{db: db}, nil
}

// Close releases the registry connection.
func (r *Registry) Close() error { return r.db.Close() }

// RegisterOrTouch inserts the device on first contact and refreshes
// last_seen (and hostname, which can legitimately change) afterwards.
// Repeated calls are idempotent apart from the refreshed timestamp.
func (r *Registry) RegisterOrTouch(machineName, hostname string) error {
	now := time.Now().UTC().Format(time.RFC3339)

	var registered string
	err := r.db.QueryRow(`SELECT registered_date FROM machines WHERE machine_name = ?`, machineName).Scan(&registered)
	switch {
	case err == sql.ErrNoRows:
		_, err = r.db.Exec(`
			INSERT INTO machines (machine_name, hostname, registered_date, last_seen, active)
			VALUES (?, ?, ?, ?, 1)`,
			machineName, hostname, now, now)
		if err != nil {
			return fmt.Errorf("failed to register device: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("failed to look up device: %w", err)
	}

	_, err = r.db.Exec(`
		UPDATE machines SET last_seen = ?, hostname = ? WHERE machine_name = ?`,
		now, hostname, machineName)
	if err != nil {
		return fmt.Errorf("failed to touch device: %w", err)
	}
	return nil
}

// List returns registered devices ordered by last_seen descending.
// Inactive devices are excluded unless includeInactive is set.
func (r *Registry) List(includeInactive bool) ([]model.Device, error) {
	query := `SELECT machine_name, hostname, registered_date, last_seen, active FROM machines`
	if !includeInactive {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY last_seen DESC`

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer rows.Close()

	var devices []model.Device
	for rows.Next() {
		var d model.Device
		var registered, lastSeen string
		var active int
		if err := rows.Scan(&d.MachineName, &d.Hostname, &registered, &lastSeen, &active); err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		d.RegisteredDate, _ = time.Parse(time.RFC3339, registered)
		d.LastSeen, _ = time.Parse(time.RFC3339, lastSeen)
		d.Active = active == 1
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// Deactivate hides a device from default listings without deleting its
// history.
func (r *Registry) Deactivate(machineName string) error {
	return r.setActive(machineName, 0)
}

// Activate restores a deactivated device.
func (r *Registry) Activate(machineName string) error {
	return r.setActive(machineName, 1)
}

func (r *Registry) setActive(machineName string, active int) error {
	_, err := r.db.Exec(`UPDATE machines SET active = ? WHERE machine_name = ?`, active, machineName)
	if err != nil {
		return fmt.Errorf("failed to update device: %w", err)
	}
	return nil
}
