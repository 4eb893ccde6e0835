// Package config loads the daemon's YAML configuration via koanf,
// mirroring the layered defaults-then-file-then-validate approach used
// throughout this codebase's services.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds every tunable of the message-metadata daemon.
type Config struct {
	Profile   ProfileConfig   `koanf:"profile"`
	RowStore  RowStoreConfig  `koanf:"rowstore"`
	Threading ThreadingConfig `koanf:"threading"`
	Retention RetentionConfig `koanf:"retention"`
	Purge     PurgeConfig     `koanf:"purge"`
	Logging   LoggingConfig   `koanf:"logging"`
	Metrics   MetricsConfig   `koanf:"metrics"`
}

// ProfileConfig locates the on-disk profile directory holding
// panorama.sqlite and every folder's per-folder summary file.
type ProfileConfig struct {
	Dir string `koanf:"dir"`
}

// RowStoreConfig tunes the embedded per-folder row store.
type RowStoreConfig struct {
	HitCacheSize          int     `koanf:"hit_cache_size"`
	CompressWasteFraction float64 `koanf:"compress_waste_fraction"`
}

// ThreadingConfig mirrors the threading engine's user-facing prefs
// (§4.3), kept here so a fresh profile gets sane defaults.
type ThreadingConfig struct {
	StrictThreading          bool `koanf:"strict_threading"`
	ThreadBySubjectWithoutRe bool `koanf:"thread_by_subject_without_re"`
	CorrectThreading         bool `koanf:"correct_threading"`
}

// RetentionConfig supplies the default retention policy new folders
// inherit before any folder-level override is set.
type RetentionConfig struct {
	Mode              string `koanf:"mode"` // all, by_age, by_count
	DaysToKeepBodies  int    `koanf:"days_to_keep_bodies"`
	ApplyToFlagged    bool   `koanf:"apply_to_flagged"`
	UseServerDefaults bool   `koanf:"use_server_defaults"`
}

// PurgeConfig tunes the periodic purge service (§4.6.2).
type PurgeConfig struct {
	Interval       string `koanf:"interval"`
	MinFolderDelay string `koanf:"min_folder_delay"`
	WallClockBudget string `koanf:"wall_clock_budget"`
}

// LoggingConfig controls the zerolog sink (§ ambient stack).
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, console
}

// MetricsConfig controls the Prometheus exporter.
type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Listen  string `koanf:"listen"`
}

// DefaultConfig returns the configuration a fresh profile starts from.
func DefaultConfig() *Config {
	return &Config{
		Profile: ProfileConfig{
			Dir: defaultProfileDir(),
		},
		RowStore: RowStoreConfig{
			HitCacheSize:          512,
			CompressWasteFraction: 0.30,
		},
		Threading: ThreadingConfig{
			StrictThreading:          false,
			ThreadBySubjectWithoutRe: false,
			CorrectThreading:         false,
		},
		Retention: RetentionConfig{
			Mode:              "all",
			DaysToKeepBodies:  0,
			ApplyToFlagged:    false,
			UseServerDefaults: true,
		},
		Purge: PurgeConfig{
			Interval:        "5m",
			MinFolderDelay:  "8h",
			WallClockBudget: "500ms",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  "127.0.0.1:9090",
		},
	}
}

func defaultProfileDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".aerion-msgdb"
	}
	return home + "/.local/share/aerion-msgdb"
}

// Load reads configuration from a YAML file over top of DefaultConfig,
// returning defaults unmodified if path does not exist.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config file: %w", err)
	}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

// Validate rejects configurations that would fail in confusing ways
// later (e.g. inside a background goroutine with no caller to report
// the error to).
func (c *Config) Validate() error {
	if c.Profile.Dir == "" {
		return fmt.Errorf("profile.dir is required")
	}
	if c.RowStore.HitCacheSize <= 0 {
		return fmt.Errorf("rowstore.hit_cache_size must be positive")
	}
	if c.RowStore.CompressWasteFraction <= 0 || c.RowStore.CompressWasteFraction > 1 {
		return fmt.Errorf("rowstore.compress_waste_fraction must be in (0,1]")
	}
	switch c.Retention.Mode {
	case "all", "by_age", "by_count":
	default:
		return fmt.Errorf("retention.mode must be one of all, by_age, by_count")
	}
	if _, err := time.ParseDuration(c.Purge.Interval); err != nil {
		return fmt.Errorf("purge.interval: %w", err)
	}
	if _, err := time.ParseDuration(c.Purge.MinFolderDelay); err != nil {
		return fmt.Errorf("purge.min_folder_delay: %w", err)
	}
	if _, err := time.ParseDuration(c.Purge.WallClockBudget); err != nil {
		return fmt.Errorf("purge.wall_clock_budget: %w", err)
	}
	return nil
}
