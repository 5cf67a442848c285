package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	appLog "calen/internal/log"
	"calen/internal/model"
)

// Load/Save keep the YAML file as the source of truth. Environment
// variables (CALEN_*) override it at load time but are never written back.

// FeedConfig describes one ICS subscription imported into the store.
type FeedConfig struct {
	// ID keys imported occurrences; changing it re-imports everything.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label.
	Name string `yaml:"name" json:"name"`
	// URL is an http(s) endpoint, a file:// URL or a local path.
	URL string `yaml:"url" json:"url"`
	// Rigidity is applied to every imported event ("Rigid" or "Dynamic").
	Rigidity string `yaml:"rigidity" json:"rigidity"`
}

// BasicAuthConfig protects the HTTP shell. PasswordHash is an Argon2id
// hash produced by `calen hash-password`.
type BasicAuthConfig struct {
	Username     string `yaml:"username" json:"username" env:"USERNAME"`
	PasswordHash string `yaml:"password_hash" json:"-" env:"PASSWORD_HASH"`
}

// SnapshotConfig controls `calen snapshot`.
type SnapshotConfig struct {
	Width  int    `yaml:"width" json:"width" env:"WIDTH"`
	Height int    `yaml:"height" json:"height" env:"HEIGHT"`
	Output string `yaml:"output" json:"output" env:"OUTPUT"`
}

// Config is the top-level application configuration.
type Config struct {
	// DBPath is the SQLite file holding the Events table.
	DBPath string `yaml:"db_path" json:"db_path" env:"DB_PATH"`

	// Listen is the HTTP listen address for `calen serve`.
	Listen string `yaml:"listen" json:"listen" env:"LISTEN"`

	// Timezone is the IANA zone used to render "today" and feed occurrences.
	Timezone string `yaml:"timezone" json:"timezone" env:"TIMEZONE"`

	// WeekStart is "monday" (default) or "sunday".
	WeekStart string `yaml:"week_start" json:"week_start" env:"WEEK_START"`

	// SyncCron is the cron schedule for feed imports while serving.
	SyncCron string `yaml:"sync" json:"sync" env:"SYNC"`

	// HorizonDays / BackfillDays bound the feed expansion window.
	HorizonDays  int `yaml:"horizon_days" json:"horizon_days" env:"HORIZON_DAYS"`
	BackfillDays int `yaml:"backfill_days" json:"backfill_days" env:"BACKFILL_DAYS"`

	// LogLevel is debug, info, warn or error.
	LogLevel string `yaml:"log_level" json:"log_level" env:"LOG_LEVEL"`

	// CacheDir holds the HTTP cache for feeds.
	CacheDir string `yaml:"cache_dir" json:"cache_dir" env:"CACHE_DIR"`

	Feeds []FeedConfig `yaml:"feeds" json:"feeds"`

	BasicAuth BasicAuthConfig `yaml:"basic_auth" json:"basic_auth" envPrefix:"AUTH_"`

	Snapshot SnapshotConfig `yaml:"snapshot" json:"snapshot" envPrefix:"SNAPSHOT_"`
}

const envPrefix = "CALEN_"

// DefaultPath returns $XDG_CONFIG_HOME/calen/config.yaml (or the OS
// equivalent), falling back to ./calen.yaml.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "calen.yaml"
	}
	return filepath.Join(dir, "calen", "config.yaml")
}

func defaultDataDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "."
	}
	return filepath.Join(dir, "calen")
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	dataDir := defaultDataDir()
	return &Config{
		DBPath:       filepath.Join(dataDir, "calen.db"),
		Listen:       "127.0.0.1:8080",
		Timezone:     "Local",
		WeekStart:    "monday",
		SyncCron:     "*/30 * * * *",
		HorizonDays:  90,
		BackfillDays: 7,
		LogLevel:     "info",
		CacheDir:     filepath.Join(dataDir, "feed-cache"),
		Feeds:        []FeedConfig{},
		Snapshot: SnapshotConfig{
			Width:  1280,
			Height: 960,
			Output: "calen-month.png",
		},
	}
}

// Normalize fills missing values with defaults so that partially filled
// or older configs still behave.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.DBPath == "" {
		c.DBPath = def.DBPath
	}
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	switch strings.ToLower(c.WeekStart) {
	case "monday", "sunday":
		c.WeekStart = strings.ToLower(c.WeekStart)
	default:
		c.WeekStart = "monday"
	}
	if c.SyncCron == "" {
		c.SyncCron = def.SyncCron
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = def.HorizonDays
	}
	if c.BackfillDays < 0 {
		c.BackfillDays = 0
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.CacheDir == "" {
		c.CacheDir = def.CacheDir
	}
	if c.Feeds == nil {
		c.Feeds = []FeedConfig{}
	}
	for i := range c.Feeds {
		f := &c.Feeds[i]
		if f.ID == "" {
			f.ID = f.Name
		}
		if f.ID == "" {
			f.ID = f.URL
		}
		if f.Rigidity == "" {
			f.Rigidity = string(model.RigidityRigid)
		}
	}
	if c.Snapshot.Width <= 0 {
		c.Snapshot.Width = def.Snapshot.Width
	}
	if c.Snapshot.Height <= 0 {
		c.Snapshot.Height = def.Snapshot.Height
	}
	if c.Snapshot.Output == "" {
		c.Snapshot.Output = def.Snapshot.Output
	}
}

// Validate rejects values Normalize cannot repair.
func (c *Config) Validate() error {
	if _, err := cron.ParseStandard(c.SyncCron); err != nil {
		return fmt.Errorf("sync schedule %q: %w", c.SyncCron, err)
	}
	for _, f := range c.Feeds {
		if f.URL == "" {
			return fmt.Errorf("feed %q: url is required", f.ID)
		}
		if _, err := model.ParseRigidity(f.Rigidity); err != nil {
			return fmt.Errorf("feed %q: %w", f.ID, err)
		}
	}
	if (c.BasicAuth.Username == "") != (c.BasicAuth.PasswordHash == "") {
		return errors.New("basic_auth needs both username and password_hash")
	}
	return nil
}

// AuthEnabled reports whether HTTP Basic Auth is configured.
func (c *Config) AuthEnabled() bool {
	return c.BasicAuth.Username != "" && c.BasicAuth.PasswordHash != ""
}

// Load reads configuration from the YAML file at path.
//
// Behavior:
//   - If the file does not exist, a default config is written there
//     with 0600 perms and returned.
//   - Otherwise the YAML is unmarshaled and normalized.
//   - CALEN_* environment variables override the result.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	var cfg *Config
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		cfg = DefaultConfig()
		if err := Save(path, cfg); err != nil {
			return cfg, fmt.Errorf("write default config: %w", err)
		}
	case err != nil:
		return nil, err
	default:
		cfg = &Config{}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: envPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600 perms.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".calen-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Location resolves Timezone, falling back to time.Local when it is
// unknown to the tz database.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", c.Timezone)
		return time.Local
	}
	return loc
}
