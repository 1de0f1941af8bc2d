// Package combine reads every device's usage store and merges rollups
// into combined statistics. It never writes: cross-device numbers are
// computed by reading multiple stores, one writer each.
package combine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/mseelig/ccvault/internal/model"
	"github.com/mseelig/ccvault/internal/registry"
	"github.com/mseelig/ccvault/internal/store"
)

// DeviceStore names one device's store file.
type DeviceStore struct {
	MachineName string
	Path        string
}

// StoreLocator enumerates the per-device store files. Implementations
// decide the layout; the aggregator never touches the filesystem
// directly.
type StoreLocator interface {
	StorePaths() ([]DeviceStore, error)
}

// DirLocator finds usage_history_<machine>.db files in one directory.
type DirLocator struct {
	Dir string
}

const storePrefix = "usage_history_"

// StorePaths scans the directory. The shared machines.db and the
// backups subdirectory are not device stores.
func (l DirLocator) StorePaths() ([]DeviceStore, error) {
	entries, err := os.ReadDir(l.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to scan store directory: %w", err)
	}

	var out []DeviceStore
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, storePrefix) || !strings.HasSuffix(name, ".db") {
			continue
		}
		machine := strings.TrimSuffix(strings.TrimPrefix(name, storePrefix), ".db")
		if machine == "" {
			continue
		}
		out = append(out, DeviceStore{MachineName: machine, Path: filepath.Join(l.Dir, name)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MachineName < out[j].MachineName })
	return out, nil
}

// RegistryLocator enumerates devices known to the registry and maps
// each to its store file under Dir. Inactive devices are skipped.
type RegistryLocator struct {
	Registry *registry.Registry
	Dir      string
}

func (l RegistryLocator) StorePaths() ([]DeviceStore, error) {
	devices, err := l.Registry.List(false)
	if err != nil {
		return nil, err
	}
	out := make([]DeviceStore, 0, len(devices))
	for _, d := range devices {
		out = append(out, DeviceStore{
			MachineName: d.MachineName,
			Path:        filepath.Join(l.Dir, storePrefix+d.MachineName+".db"),
		})
	}
	return out, nil
}

// FixedLocator returns a fixed list; used by tests and explicit
// configuration.
type FixedLocator []DeviceStore

func (l FixedLocator) StorePaths() ([]DeviceStore, error) { return l, nil }

// Skipped records a device whose store could not be read. The combined
// result is still usable; callers should surface the skip rather than
// silently under-report.
type Skipped struct {
	MachineName string
	Reason      string
}

// DeviceTotals is one device's contribution to the combined numbers.
type DeviceTotals struct {
	MachineName string
	Totals      model.DailyRollup
	TotalCost   float64
}

// Stats is the merged view across devices.
type Stats struct {
	Totals    model.DailyRollup // date field is empty; counters are sums
	PerDay    []model.DailyRollup
	PerDevice []DeviceTotals
	TotalCost float64
	Skipped   []Skipped
}

// Partial reports whether any device was skipped.
func (s Stats) Partial() bool { return len(s.Skipped) > 0 }

// Options tunes a combined read.
type Options struct {
	From string // inclusive YYYY-MM-DD, "" for open
	To   string // inclusive YYYY-MM-DD, "" for open
	// PerDeviceTimeout bounds each store read so one unreachable store
	// (e.g. not yet synced from cloud storage) cannot stall the whole
	// aggregation. Zero means 5s.
	PerDeviceTimeout time.Duration
}

// Combined merges rollups from every locatable device store. A store
// that is missing, locked, or slow is skipped and reported in
// Stats.Skipped; only locator failure is a hard error.
func Combined(ctx context.Context, locator StoreLocator, opts Options) (Stats, error) {
	stores, err := locator.StorePaths()
	if err != nil {
		return Stats{}, err
	}

	timeout := opts.PerDeviceTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	var stats Stats
	byDay := make(map[string]*model.DailyRollup)

	for _, ds := range stores {
		dev, err := readDevice(ctx, ds, opts, timeout)
		if err != nil {
			stats.Skipped = append(stats.Skipped, Skipped{MachineName: ds.MachineName, Reason: err.Error()})
			continue
		}

		stats.PerDevice = append(stats.PerDevice, dev.totals)
		stats.TotalCost += dev.totals.TotalCost
		for _, r := range dev.rollups {
			day, ok := byDay[r.Date]
			if !ok {
				day = &model.DailyRollup{Date: r.Date}
				byDay[r.Date] = day
			}
			day.Add(r)
			stats.Totals.Add(r)
		}
	}

	stats.PerDay = make([]model.DailyRollup, 0, len(byDay))
	for _, r := range byDay {
		stats.PerDay = append(stats.PerDay, *r)
	}
	sort.Slice(stats.PerDay, func(i, j int) bool { return stats.PerDay[i].Date < stats.PerDay[j].Date })

	return stats, nil
}

type deviceRead struct {
	totals  DeviceTotals
	rollups []model.DailyRollup
}

// readDevice opens one store with a deadline. The read runs in its own
// goroutine; on timeout the result is abandoned and the device skipped.
func readDevice(ctx context.Context, ds DeviceStore, opts Options, timeout time.Duration) (deviceRead, error) {
	if _, err := os.Stat(ds.Path); err != nil {
		return deviceRead{}, fmt.Errorf("store unreachable: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		read deviceRead
		err  error
	}
	ch := make(chan result, 1)

	go func() {
		s, err := store.Open(ds.Path)
		if err != nil {
			ch <- result{err: err}
			return
		}
		defer s.Close()

		rollups, err := s.DailyRollups(opts.From, opts.To)
		if err != nil {
			ch <- result{err: err}
			return
		}
		st, err := s.Stats()
		if err != nil {
			ch <- result{err: err}
			return
		}

		read := deviceRead{
			totals:  DeviceTotals{MachineName: ds.MachineName, TotalCost: st.TotalCost},
			rollups: rollups,
		}
		for _, r := range rollups {
			read.totals.Totals.Add(r)
		}
		ch <- result{read: read}
	}()

	select {
	case res := <-ch:
		return res.read, res.err
	case <-ctx.Done():
		return deviceRead{}, ctx.Err()
	}
}
