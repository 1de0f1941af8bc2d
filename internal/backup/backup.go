// Package backup snapshots the live store file once a day. Backups are
// best-effort: every failure is logged and swallowed so they can never
// block ingestion.
package backup

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/mseelig/ccvault/internal/model"
)

const lastBackupFile = "last_backup"

// Manager handles daily snapshots and retention for one store file.
type Manager struct {
	StorePath     string
	RetentionDays int
	KeepMonthly   bool

	now func() time.Time // test hook
}

// New returns a Manager for the given store file.
func New(storePath string, retentionDays int, keepMonthly bool) *Manager {
	return &Manager{
		StorePath:     storePath,
		RetentionDays: retentionDays,
		KeepMonthly:   keepMonthly,
	}
}

func (m *Manager) clock() time.Time {
	if m.now != nil {
		return m.now()
	}
	return time.Now()
}

// Dir returns the backups directory next to the live store.
func (m *Manager) Dir() string {
	return filepath.Join(filepath.Dir(m.StorePath), "backups")
}

// MaybeBackupToday snapshots the store if none was taken today, then
// prunes old backups. Returns true only when a new backup was written.
// Failures never propagate; a missed backup must not break the caller.
func (m *Manager) MaybeBackupToday() bool {
	if _, err := os.Stat(m.StorePath); err != nil {
		return false
	}
	if !m.shouldBackup() {
		return false
	}

	if _, err := m.Create(); err != nil {
		log.Printf("backup failed: %v", err)
		return false
	}

	today := m.clock().Format("2006-01-02")
	if err := os.WriteFile(filepath.Join(m.Dir(), lastBackupFile), []byte(today), 0644); err != nil {
		log.Printf("backup: could not record backup date: %v", err)
	}

	if n := m.Cleanup(); n > 0 {
		log.Printf("backup: removed %d expired backups", n)
	}
	return true
}

// shouldBackup reports whether no backup has been recorded for today's
// local date. An unreadable or malformed date file means back up.
func (m *Manager) shouldBackup() bool {
	data, err := os.ReadFile(filepath.Join(m.Dir(), lastBackupFile))
	if err != nil {
		return true
	}
	last, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(string(data)), time.Local)
	if err != nil {
		return true
	}
	y, mo, d := m.clock().Date()
	startOfToday := time.Date(y, mo, d, 0, 0, 0, 0, time.Local)
	return last.Before(startOfToday)
}

// Create copies the store into the backups directory, named for
// today's date, with a _monthly tag on the first of the month. The
// copy never locks the live store.
func (m *Manager) Create() (string, error) {
	if err := os.MkdirAll(m.Dir(), 0755); err != nil {
		return "", fmt.Errorf("failed to create backups directory: %w", err)
	}

	today := m.clock()
	name := m.backupName(today)
	dst := filepath.Join(m.Dir(), name)

	if err := copyFile(m.StorePath, dst); err != nil {
		return "", err
	}
	return dst, nil
}

func (m *Manager) backupName(t time.Time) string {
	base := filepath.Base(m.StorePath)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	name := fmt.Sprintf("%s_backup_%s", stem, t.Format("20060102"))
	if t.Day() == 1 {
		name += "_monthly"
	}
	return name + ext
}

// Cleanup deletes backups older than the retention window, preserving
// _monthly files when KeepMonthly is set. Returns the number of files
// deleted; any error yields 0.
func (m *Manager) Cleanup() int {
	cutoff := m.clock().AddDate(0, 0, -m.RetentionDays)

	deleted := 0
	for _, b := range m.List() {
		if m.KeepMonthly && b.Monthly {
			continue
		}
		if b.Date.Before(cutoff) {
			if err := os.Remove(b.Path); err != nil {
				log.Printf("backup: could not remove %s: %v", b.Path, err)
				continue
			}
			deleted++
		}
	}
	return deleted
}

// List returns existing backups of this store, newest first. Files that
// do not match the backup naming scheme are ignored.
func (m *Manager) List() []model.BackupInfo {
	entries, err := os.ReadDir(m.Dir())
	if err != nil {
		return nil
	}

	base := filepath.Base(m.StorePath)
	ext := filepath.Ext(base)
	prefix := strings.TrimSuffix(base, ext) + "_backup_"

	var backups []model.BackupInfo
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ext) {
			continue
		}

		tag := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ext)
		monthly := strings.HasSuffix(tag, "_monthly")
		tag = strings.TrimSuffix(tag, "_monthly")

		date, err := time.ParseInLocation("20060102", tag, time.Local)
		if err != nil {
			continue
		}

		info, err := e.Info()
		if err != nil {
			continue
		}

		backups = append(backups, model.BackupInfo{
			Path:    filepath.Join(m.Dir(), name),
			Date:    date,
			Monthly: monthly,
			Size:    info.Size(),
		})
	}

	sort.Slice(backups, func(i, j int) bool { return backups[i].Date.After(backups[j].Date) })
	return backups
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open store for backup: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create backup file: %w", err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("failed to copy store: %w", err)
	}

	// Close errors matter here; a backup that did not flush is no backup.
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return fmt.Errorf("failed to finalize backup file: %w", err)
	}
	return nil
}
