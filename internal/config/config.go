package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/mseelig/ccvault/internal/model"
)

// BackupConfig holds the backup knobs.
type BackupConfig struct {
	Enabled       bool `yaml:"enabled"`
	RetentionDays int  `yaml:"retention_days"`
	KeepMonthly   bool `yaml:"keep_monthly"`
}

// Config holds the ccvault configuration
type Config struct {
	MachineName string            `yaml:"machine_name,omitempty"`
	DataDir     string            `yaml:"data_dir,omitempty"`
	StorageMode model.StorageMode `yaml:"storage_mode,omitempty"`
	Backup      BackupConfig      `yaml:"backup"`
}

// configPath returns the path to the config file
func configPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".ccvault.yaml"), nil
}

// Defaults returns a config with every field filled in: hostname as
// machine name, ~/.ccvault as the data directory, aggregate storage,
// backups on with 30-day retention and permanent monthly snapshots.
func Defaults() *Config {
	cfg := &Config{
		StorageMode: model.ModeAggregate,
		Backup: BackupConfig{
			Enabled:       true,
			RetentionDays: 30,
			KeepMonthly:   true,
		},
	}
	if host, err := os.Hostname(); err == nil {
		cfg.MachineName = host
	}
	if home, err := os.UserHomeDir(); err == nil {
		cfg.DataDir = filepath.Join(home, ".ccvault")
	}
	return cfg
}

// Load loads the configuration from disk, filling unset fields with
// defaults. A missing file yields pure defaults.
func Load() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	return loadFrom(path)
}

func loadFrom(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.fillDefaults()
	return cfg, nil
}

func (c *Config) fillDefaults() {
	d := Defaults()
	if c.MachineName == "" {
		c.MachineName = d.MachineName
	}
	if c.DataDir == "" {
		c.DataDir = d.DataDir
	}
	if c.StorageMode == "" {
		c.StorageMode = d.StorageMode
	}
	if c.Backup.RetentionDays <= 0 {
		c.Backup.RetentionDays = d.Backup.RetentionDays
	}
}

// Save saves the configuration to disk
func Save(cfg *Config) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	return saveTo(cfg, path)
}

func saveTo(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// StorePath returns this machine's usage store file.
func (c *Config) StorePath() string {
	return filepath.Join(c.DataDir, "usage_history_"+c.MachineName+".db")
}

// RegistryPath returns the shared machines.db file.
func (c *Config) RegistryPath() string {
	return filepath.Join(c.DataDir, "machines.db")
}

// SpoolDir is where the transcript decoder drops event batches for
// the tracking service to pick up.
func (c *Config) SpoolDir() string {
	return filepath.Join(c.DataDir, "incoming")
}
