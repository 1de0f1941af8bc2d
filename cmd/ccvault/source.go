package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mseelig/ccvault/internal/model"
)

// readEvents decodes a JSON array of usage events from a file.
func readEvents(path string) ([]model.UsageEvent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var events []model.UsageEvent
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return events, nil
}

// spoolSource reads decoded event batches dropped into a spool
// directory as *.json files. The upstream decoder owns transcript
// parsing; we only pick up its output.
type spoolSource struct {
	dir string
}

func (s spoolSource) WatchDirs() []string {
	return []string{s.dir}
}

func (s spoolSource) Events(since time.Time) ([]model.UsageEvent, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var all []model.UsageEvent
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		// Skip files unchanged since the last ingest. Dedup in the
		// store makes re-reads harmless, this is just less work.
		if !since.IsZero() && info.ModTime().Before(since) {
			continue
		}
		events, err := readEvents(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			// A half-written file shows up while the decoder is
			// flushing. Leave it for the next pass.
			continue
		}
		all = append(all, events...)
	}
	return all, nil
}
