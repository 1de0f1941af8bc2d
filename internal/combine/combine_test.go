package combine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mseelig/ccvault/internal/model"
	"github.com/mseelig/ccvault/internal/registry"
	"github.com/mseelig/ccvault/internal/store"
)

func seedStore(t *testing.T, path string, events []model.UsageEvent) {
	t.Helper()
	s, err := store.Open(path)
	require.NoError(t, err)
	defer s.Close()
	_, err = s.Ingest(events, model.ModeFull)
	require.NoError(t, err)
}

func at(day int) time.Time {
	return time.Date(2025, 6, day, 12, 0, 0, 0, time.Local)
}

func event(sess, msg string, ts time.Time, tokens int64) model.UsageEvent {
	return model.UsageEvent{
		Timestamp: ts,
		SessionID: sess,
		MessageID: msg,
		Kind:      model.KindAssistant,
		Model:     "claude-sonnet-4-5-20250929",
		Folder:    "/p",
		Version:   "2.0.1",
		Usage:     &model.TokenUsage{InputTokens: tokens},
	}
}

func TestCombinedMergesDevices(t *testing.T) {
	dir := t.TempDir()
	laptop := filepath.Join(dir, "usage_history_laptop.db")
	desktop := filepath.Join(dir, "usage_history_desktop.db")

	seedStore(t, laptop, []model.UsageEvent{
		event("sess-1", "msg-1", at(1), 100),
		event("sess-1", "msg-2", at(2), 50),
	})
	seedStore(t, desktop, []model.UsageEvent{
		event("sess-2", "msg-1", at(1), 30),
	})

	stats, err := Combined(context.Background(), FixedLocator{
		{MachineName: "laptop", Path: laptop},
		{MachineName: "desktop", Path: desktop},
	}, Options{})
	require.NoError(t, err)

	assert.False(t, stats.Partial())
	assert.Equal(t, int64(180), stats.Totals.TotalTokens)
	assert.Len(t, stats.PerDevice, 2)

	require.Len(t, stats.PerDay, 2)
	assert.Equal(t, at(1).Format("2006-01-02"), stats.PerDay[0].Date)
	assert.Equal(t, int64(130), stats.PerDay[0].TotalTokens)
	assert.Equal(t, int64(50), stats.PerDay[1].TotalTokens)

	// 180 input tokens at the Sonnet rate.
	assert.InDelta(t, 180.0/1_000_000*3.0, stats.TotalCost, 1e-12)
}

func TestCombinedSkipsMissingStore(t *testing.T) {
	dir := t.TempDir()
	laptop := filepath.Join(dir, "usage_history_laptop.db")
	seedStore(t, laptop, []model.UsageEvent{event("sess-1", "msg-1", at(1), 100)})

	stats, err := Combined(context.Background(), FixedLocator{
		{MachineName: "laptop", Path: laptop},
		{MachineName: "ghost", Path: filepath.Join(dir, "usage_history_ghost.db")},
	}, Options{})
	require.NoError(t, err)

	assert.True(t, stats.Partial())
	require.Len(t, stats.Skipped, 1)
	assert.Equal(t, "ghost", stats.Skipped[0].MachineName)
	assert.Equal(t, int64(100), stats.Totals.TotalTokens)
	assert.Len(t, stats.PerDevice, 1)
}

func TestCombinedDateRange(t *testing.T) {
	dir := t.TempDir()
	laptop := filepath.Join(dir, "usage_history_laptop.db")
	seedStore(t, laptop, []model.UsageEvent{
		event("sess-1", "msg-1", at(1), 100),
		event("sess-1", "msg-2", at(5), 50),
	})

	stats, err := Combined(context.Background(), FixedLocator{
		{MachineName: "laptop", Path: laptop},
	}, Options{From: at(4).Format("2006-01-02"), To: at(6).Format("2006-01-02")})
	require.NoError(t, err)

	assert.Equal(t, int64(50), stats.Totals.TotalTokens)
	require.Len(t, stats.PerDay, 1)
}

func TestCombinedNoDevices(t *testing.T) {
	stats, err := Combined(context.Background(), FixedLocator{}, Options{})
	require.NoError(t, err)
	assert.Zero(t, stats.Totals.TotalTokens)
	assert.False(t, stats.Partial())
}

func TestRegistryLocatorListsActiveDevices(t *testing.T) {
	dir := t.TempDir()
	reg, err := registry.Open(filepath.Join(dir, "machines.db"))
	require.NoError(t, err)
	defer reg.Close()

	require.NoError(t, reg.RegisterOrTouch("laptop", "h1"))
	require.NoError(t, reg.RegisterOrTouch("desktop", "h2"))
	require.NoError(t, reg.RegisterOrTouch("old-mini", "h3"))
	require.NoError(t, reg.Deactivate("old-mini"))

	stores, err := RegistryLocator{Registry: reg, Dir: dir}.StorePaths()
	require.NoError(t, err)

	var names []string
	for _, ds := range stores {
		names = append(names, ds.MachineName)
	}
	assert.ElementsMatch(t, []string{"laptop", "desktop"}, names)
	for _, ds := range stores {
		assert.Equal(t, filepath.Join(dir, "usage_history_"+ds.MachineName+".db"), ds.Path)
	}
}

func TestCombinedThroughRegistryLocator(t *testing.T) {
	dir := t.TempDir()
	reg, err := registry.Open(filepath.Join(dir, "machines.db"))
	require.NoError(t, err)
	defer reg.Close()

	require.NoError(t, reg.RegisterOrTouch("laptop", "h1"))
	require.NoError(t, reg.RegisterOrTouch("ghost", "h2"))

	seedStore(t, filepath.Join(dir, "usage_history_laptop.db"), []model.UsageEvent{
		event("sess-1", "msg-1", at(1), 100),
	})

	// "ghost" is registered but its store never synced to this machine.
	stats, err := Combined(context.Background(), RegistryLocator{Registry: reg, Dir: dir}, Options{})
	require.NoError(t, err)

	assert.Equal(t, int64(100), stats.Totals.TotalTokens)
	require.Len(t, stats.Skipped, 1)
	assert.Equal(t, "ghost", stats.Skipped[0].MachineName)
}

func TestDirLocatorFindsDeviceStores(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"usage_history_laptop.db",
		"usage_history_desktop.db",
		"machines.db", // registry, not a device store
		"random.txt",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "backups"), 0755))

	stores, err := DirLocator{Dir: dir}.StorePaths()
	require.NoError(t, err)

	var names []string
	for _, ds := range stores {
		names = append(names, ds.MachineName)
	}
	assert.ElementsMatch(t, []string{"laptop", "desktop"}, names)
}
