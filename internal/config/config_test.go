package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mseelig/ccvault/internal/model"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	assert.NotEmpty(t, cfg.MachineName)
	assert.NotEmpty(t, cfg.DataDir)
	assert.Equal(t, model.ModeAggregate, cfg.StorageMode)
	assert.True(t, cfg.Backup.Enabled)
	assert.Equal(t, 30, cfg.Backup.RetentionDays)
	assert.True(t, cfg.Backup.KeepMonthly)
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := loadFrom(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, model.ModeAggregate, cfg.StorageMode)
}

func TestLoadFillsUnsetFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("machine_name: laptop\n"), 0600))

	cfg, err := loadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, "laptop", cfg.MachineName)
	assert.NotEmpty(t, cfg.DataDir)
	assert.Equal(t, model.ModeAggregate, cfg.StorageMode)
	assert.Equal(t, 30, cfg.Backup.RetentionDays)
}

func TestLoadMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("machine_name: [unclosed"), 0600))

	_, err := loadFrom(path)
	assert.Error(t, err)
}

func TestSaveLoadRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	in := &Config{
		MachineName: "work-laptop",
		DataDir:     "/data/ccvault",
		StorageMode: model.ModeFull,
		Backup: BackupConfig{
			Enabled:       true,
			RetentionDays: 7,
			KeepMonthly:   false,
		},
	}
	require.NoError(t, saveTo(in, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	out, err := loadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, in.MachineName, out.MachineName)
	assert.Equal(t, in.DataDir, out.DataDir)
	assert.Equal(t, model.ModeFull, out.StorageMode)
	assert.Equal(t, 7, out.Backup.RetentionDays)
	assert.False(t, out.Backup.KeepMonthly)
}

func TestPaths(t *testing.T) {
	cfg := &Config{MachineName: "laptop", DataDir: "/data/ccvault"}
	assert.Equal(t, filepath.Join("/data/ccvault", "usage_history_laptop.db"), cfg.StorePath())
	assert.Equal(t, filepath.Join("/data/ccvault", "machines.db"), cfg.RegistryPath())
	assert.Equal(t, filepath.Join("/data/ccvault", "incoming"), cfg.SpoolDir())
}
