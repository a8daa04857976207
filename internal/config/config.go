package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	DefaultListen          = "127.0.0.1:8080"
	DefaultTimezone        = "Asia/Bahrain"
	DefaultWeekStart       = "monday"
	DefaultRowHeight       = 128
	DefaultRefreshCron     = "*/15 * * * *"
	DefaultHorizonDays     = 31
	DefaultBackfillDays    = 7
	DefaultDurationMinutes = 20
	DefaultLogLevel        = "info"
	DefaultCacheDir        = "/var/lib/santecal/ics-cache"
	DefaultPreviewPath     = "/var/lib/santecal/preview.png"
)

// ICSConfig describes a single ICS appointment feed.
type ICSConfig struct {
	// URL is the feed endpoint. file:// URLs and plain paths are read from disk.
	URL string `yaml:"url" json:"url"`
	// ID is an internal identifier used as the event source ID and in logs.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label.
	Name string `yaml:"name" json:"name"`
}

// SourceID returns the identifier events from this feed are stored under.
func (c ICSConfig) SourceID() string {
	switch {
	case c.ID != "":
		return c.ID
	case c.Name != "":
		return c.Name
	default:
		return c.URL
	}
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API and day view.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone in which calendar days are evaluated.
	Timezone string `yaml:"timezone" json:"timezone"`

	// WeekStart is "monday" (default) or "sunday".
	WeekStart string `yaml:"week_start" json:"week_start"`

	// RowHeight is the pixel height of one hour in the day view.
	RowHeight int `yaml:"row_height" json:"row_height"`

	// RefreshCron is a cron-style schedule string for feed refresh.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// HorizonDays and BackfillDays bound the window feeds are expanded into.
	HorizonDays  int `yaml:"horizon_days" json:"horizon_days"`
	BackfillDays int `yaml:"backfill_days" json:"backfill_days"`

	// DefaultDurationMinutes is used for feed entries without DTEND.
	DefaultDurationMinutes int `yaml:"default_duration_minutes" json:"default_duration_minutes"`

	LogLevel    string `yaml:"log_level" json:"log_level"`
	CacheDir    string `yaml:"cache_dir" json:"cache_dir"`
	PreviewPath string `yaml:"preview_path" json:"preview_path"`

	// ICS is the list of subscribed appointment feeds.
	ICS []ICSConfig `yaml:"ics" json:"ics"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:                 DefaultListen,
		Timezone:               DefaultTimezone,
		WeekStart:              DefaultWeekStart,
		RowHeight:              DefaultRowHeight,
		RefreshCron:            DefaultRefreshCron,
		HorizonDays:            DefaultHorizonDays,
		BackfillDays:           DefaultBackfillDays,
		DefaultDurationMinutes: DefaultDurationMinutes,
		LogLevel:               DefaultLogLevel,
		CacheDir:               DefaultCacheDir,
		PreviewPath:            DefaultPreviewPath,
		ICS:                    []ICSConfig{},
		BasicAuth:              nil,
	}
}

// Normalize fills in missing/zero values with defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.Timezone == "" {
		c.Timezone = DefaultTimezone
	}
	switch c.WeekStart {
	case "monday", "sunday":
	default:
		// Unknown value; fall back to monday to avoid surprising layouts.
		c.WeekStart = DefaultWeekStart
	}
	if c.RowHeight <= 0 {
		c.RowHeight = DefaultRowHeight
	}
	if c.RefreshCron == "" {
		c.RefreshCron = DefaultRefreshCron
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = DefaultHorizonDays
	}
	if c.BackfillDays < 0 {
		c.BackfillDays = 0
	}
	if c.DefaultDurationMinutes <= 0 {
		c.DefaultDurationMinutes = DefaultDurationMinutes
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.CacheDir == "" {
		c.CacheDir = DefaultCacheDir
	}
	if c.PreviewPath == "" {
		c.PreviewPath = DefaultPreviewPath
	}
	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms (creating the parent directory) and returned.
//   - Otherwise the YAML is unmarshaled and normalized.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600 perms,
// creating the parent directory with 0700 if needed.
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

	tmp, err := os.CreateTemp(dir, ".santecal-config-*.tmp")
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

// Save is a convenience method that delegates to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
