// Package tracker runs the background refresh loop: pull new events
// from the source, ingest them, touch the device registry, and take the
// daily backup. One Tracker is the single logical writer for its store.
package tracker

import (
	"log"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"

	"github.com/mseelig/ccvault/internal/backup"
	"github.com/mseelig/ccvault/internal/model"
	"github.com/mseelig/ccvault/internal/registry"
	"github.com/mseelig/ccvault/internal/store"
)

// EventSource is the external parsing collaborator: a finite,
// restartable sequence of already-decoded events. Order is not
// guaranteed; the store deduplicates (full mode) or the since filter
// bounds re-reads (aggregate mode).
type EventSource interface {
	// Events returns events newer than since (zero means everything).
	Events(since time.Time) ([]model.UsageEvent, error)
	// WatchDirs returns directories whose changes indicate new events.
	// Empty means interval-only refresh.
	WatchDirs() []string
}

// Tracker periodically refreshes one device's store.
type Tracker struct {
	Source      EventSource
	Store       *store.Store
	Registry    *registry.Registry // optional
	Backups     *backup.Manager    // optional
	MachineName string
	Hostname    string
	Interval    time.Duration

	stop    chan struct{}
	done    chan struct{}
	deb     *Debouncer
	limiter *rate.Limiter

	// mu serializes refresh: the ticker loop and the debouncer's timer
	// goroutine can both fire, and lastIngest must not be read while
	// another refresh is advancing it.
	mu         sync.Mutex
	lastIngest time.Time
}

// Start begins the refresh loop: an immediate refresh, then one per
// Interval, plus debounced refreshes on filesystem changes. Watch
// triggers are rate-capped so a busy log directory cannot cause a
// refresh storm.
func (t *Tracker) Start() error {
	if t.Interval <= 0 {
		t.Interval = time.Hour
	}
	t.stop = make(chan struct{})
	t.done = make(chan struct{})
	t.deb = NewDebouncer(2*time.Second, t.refresh)
	t.limiter = rate.NewLimiter(rate.Every(10*time.Second), 3)

	watcher := t.startWatcher()

	go func() {
		defer close(t.done)
		if watcher != nil {
			defer watcher.Close()
		}

		t.refresh()

		ticker := time.NewTicker(t.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				t.refresh()
			case <-t.stop:
				t.deb.Flush()
				return
			}
		}
	}()

	return nil
}

// Stop halts the loop, flushing any pending debounced refresh.
func (t *Tracker) Stop() {
	close(t.stop)
	<-t.done
}

// startWatcher wires fsnotify on the source's directories. Watching is
// opportunistic: if it cannot be set up, the interval refresh still
// covers everything.
func (t *Tracker) startWatcher() *fsnotify.Watcher {
	dirs := t.Source.WatchDirs()
	if len(dirs) == 0 {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("tracker: file watching unavailable: %v", err)
		return nil
	}

	watching := false
	for _, dir := range dirs {
		if err := w.Add(dir); err != nil {
			log.Printf("tracker: cannot watch %s: %v", dir, err)
			continue
		}
		watching = true
	}
	if !watching {
		w.Close()
		return nil
	}

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if t.limiter.Allow() {
					t.deb.Trigger()
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Printf("tracker: watch error: %v", err)
			case <-t.stop:
				return
			}
		}
	}()

	return w
}

// refresh pulls new events and ingests them. Failures are logged, not
// fatal: the next tick retries from the same high-water mark. One
// refresh runs at a time; a concurrent trigger waits its turn and then
// sees the advanced mark instead of re-pulling the same batch.
func (t *Tracker) refresh() {
	t.mu.Lock()
	defer t.mu.Unlock()

	events, err := t.Source.Events(t.lastIngest)
	if err != nil {
		log.Printf("tracker: reading events: %v", err)
		return
	}

	if len(events) > 0 {
		mode, err := t.Store.StorageMode()
		if err != nil {
			log.Printf("tracker: reading storage mode: %v", err)
			return
		}

		n, err := t.Store.Ingest(events, mode)
		if err != nil {
			log.Printf("tracker: ingest failed: %v", err)
			return
		}
		if n > 0 {
			log.Printf("tracker: ingested %d new records", n)
		}

		for _, e := range events {
			if e.Timestamp.After(t.lastIngest) {
				t.lastIngest = e.Timestamp
			}
		}
	}

	if t.Registry != nil && t.MachineName != "" {
		if err := t.Registry.RegisterOrTouch(t.MachineName, t.Hostname); err != nil {
			log.Printf("tracker: registry touch failed: %v", err)
		}
	}

	if t.Backups != nil {
		t.Backups.MaybeBackupToday()
	}
}
