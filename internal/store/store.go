package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mseelig/ccvault/internal/pricing"
)

// Store is one device's usage history database. It is written only by
// processes on that device; cross-device reads open other stores
// read-only through the combine package.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the usage history database at path
// and migrates the schema.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL allows readers to coexist with the single writer; safe for
	// cloud-synced folders since WAL sidecar files sync properly.
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set synchronous mode: %w", err)
	}

	// Bounded lock wait; a timeout surfaces as ErrBusy, not a hang.
	if _, err := db.Exec("PRAGMA busy_timeout = 30000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxIdleTime(time.Minute)

	s := &Store{db: db, path: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS usage_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		date TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		session_id TEXT NOT NULL,
		message_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		model TEXT,
		folder TEXT NOT NULL,
		git_branch TEXT,
		version TEXT NOT NULL,
		input_tokens INTEGER NOT NULL,
		output_tokens INTEGER NOT NULL,
		cache_creation_tokens INTEGER NOT NULL,
		cache_read_tokens INTEGER NOT NULL,
		total_tokens INTEGER NOT NULL,
		UNIQUE(session_id, message_id)
	);

	CREATE INDEX IF NOT EXISTS idx_usage_events_date ON usage_events(date);

	CREATE TABLE IF NOT EXISTS daily_rollups (
		date TEXT PRIMARY KEY,
		prompts INTEGER NOT NULL,
		responses INTEGER NOT NULL,
		sessions INTEGER NOT NULL,
		input_tokens INTEGER NOT NULL,
		output_tokens INTEGER NOT NULL,
		cache_creation_tokens INTEGER NOT NULL,
		cache_read_tokens INTEGER NOT NULL,
		total_tokens INTEGER NOT NULL,
		last_updated TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS limits_snapshots (
		captured_at TEXT PRIMARY KEY,
		date TEXT NOT NULL,
		session_pct INTEGER,
		week_pct INTEGER,
		opus_pct INTEGER,
		session_reset TEXT,
		week_reset TEXT,
		opus_reset TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_limits_snapshots_date ON limits_snapshots(date);

	CREATE TABLE IF NOT EXISTS model_pricing (
		model_name TEXT PRIMARY KEY,
		input_price_per_mtok REAL NOT NULL,
		output_price_per_mtok REAL NOT NULL,
		cache_write_price_per_mtok REAL NOT NULL,
		cache_read_price_per_mtok REAL NOT NULL,
		last_updated TEXT NOT NULL,
		notes TEXT
	);

	CREATE TABLE IF NOT EXISTS preferences (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	if err := s.seedPricing(); err != nil {
		return err
	}
	return s.seedPreferences()
}

// seedPricing writes the embedded price list into model_pricing,
// refreshing known rows so price updates ship with new versions.
func (s *Store) seedPricing() error {
	now := time.Now().UTC().Format(time.RFC3339)
	for _, e := range pricing.Default().Entries() {
		_, err := s.db.Exec(`
			INSERT OR REPLACE INTO model_pricing (
				model_name, input_price_per_mtok, output_price_per_mtok,
				cache_write_price_per_mtok, cache_read_price_per_mtok,
				last_updated, notes
			) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			e.ModelName, e.InputPerMTok, e.OutputPerMTok, e.CacheWritePerMTok, e.CacheReadPerMTok, now, e.Notes,
		)
		if err != nil {
			return fmt.Errorf("failed to seed pricing: %w", err)
		}
	}
	return nil
}

func (s *Store) seedPreferences() error {
	defaults := [][2]string{
		{"storage_mode", string(defaultStorageMode)},
	}
	now := time.Now().UTC().Format(time.RFC3339)
	for _, kv := range defaults {
		if _, err := s.db.Exec(`INSERT OR IGNORE INTO preferences (key, value, updated_at) VALUES (?, ?, ?)`, kv[0], kv[1], now); err != nil {
			return fmt.Errorf("failed to seed preferences: %w", err)
		}
	}
	return nil
}

// PricingTable loads the persisted price list as an explicit table
// value. Unknown models still resolve through the family fallbacks.
func (s *Store) PricingTable() (*pricing.Table, error) {
	rows, err := s.db.Query(`
		SELECT model_name, input_price_per_mtok, output_price_per_mtok,
		       cache_write_price_per_mtok, cache_read_price_per_mtok, COALESCE(notes, '')
		FROM model_pricing`)
	if err != nil {
		return nil, classify("load pricing", err)
	}
	defer rows.Close()

	var entries []pricing.Entry
	for rows.Next() {
		var e pricing.Entry
		if err := rows.Scan(&e.ModelName, &e.InputPerMTok, &e.OutputPerMTok, &e.CacheWritePerMTok, &e.CacheReadPerMTok, &e.Notes); err != nil {
			return nil, classify("load pricing", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("load pricing", err)
	}

	return pricing.New(entries), nil
}
