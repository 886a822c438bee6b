package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"espressomap/internal/geo"
)

// NOTE: This file provides the configuration model and YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions. Environment variables override a few deployment-specific
// fields at load time and are never written back.

const (
	defaultListen         = "127.0.0.1:8080"
	defaultRequestTimeout = "5s"
	defaultRefreshCron    = "*/15 * * * *"
	defaultLogLevel       = "info"
	defaultHorizonDays    = 365
	defaultMaxOccurrences = 500
	defaultCacheDir       = "./var/ics-cache"
)

// ErrNotSaved is returned with a usable default Config when the first-run
// file cannot be written.
var ErrNotSaved = errors.New("default config not saved")

// SeriesConfig bounds expansion of recurring events.
type SeriesConfig struct {
	// HorizonDays is how far ahead of now occurrences are generated.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`
	// MaxOccurrences caps each recurring series.
	MaxOccurrences int `yaml:"max_occurrences" json:"max_occurrences"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// APIURL is the base URL of the remote event source. Empty means the
	// bundled dataset is always used.
	APIURL string `yaml:"api_url" json:"api_url"`

	// RequestTimeout bounds each call to the event source, as a Go
	// duration string ("5s", "1500ms").
	RequestTimeout string `yaml:"request_timeout" json:"request_timeout"`

	// RefreshCron is a standard 5-field cron schedule for catalog reloads.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// ProximityKm is the default grouping radius for /api/groups.
	ProximityKm float64 `yaml:"proximity_km" json:"proximity_km"`

	// FallbackPath replaces the bundled dataset with a local .json or .ics
	// file, or an http(s) URL of an iCalendar subscription.
	FallbackPath string `yaml:"fallback_path" json:"fallback_path"`

	// CacheDir keeps the last good body of a subscription fallback.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	Series SeriesConfig `yaml:"series" json:"series"`

	// Metrics toggles the /metrics endpoint. Unset means enabled.
	Metrics *bool `yaml:"metrics,omitempty" json:"metrics,omitempty"`

	// BasicAuth, if set with both fields non-empty, protects every endpoint
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:         defaultListen,
		RequestTimeout: defaultRequestTimeout,
		RefreshCron:    defaultRefreshCron,
		ProximityKm:    geo.DefaultProximityKm,
		LogLevel:       defaultLogLevel,
		CacheDir:       defaultCacheDir,
		Series: SeriesConfig{
			HorizonDays:    defaultHorizonDays,
			MaxOccurrences: defaultMaxOccurrences,
		},
	}
}

// Normalize fills in missing/zero values with defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	c.Listen = strings.TrimSpace(c.Listen)
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	c.APIURL = strings.TrimSpace(c.APIURL)
	if c.RequestTimeout == "" {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.RefreshCron == "" {
		c.RefreshCron = defaultRefreshCron
	}
	if c.ProximityKm <= 0 {
		c.ProximityKm = geo.DefaultProximityKm
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.CacheDir == "" {
		c.CacheDir = defaultCacheDir
	}
	if c.Series.HorizonDays <= 0 {
		c.Series.HorizonDays = defaultHorizonDays
	}
	if c.Series.MaxOccurrences <= 0 {
		c.Series.MaxOccurrences = defaultMaxOccurrences
	}
}

// Validate reports settings that Normalize cannot repair.
func (c *Config) Validate() error {
	var errs []error
	if d, err := time.ParseDuration(c.RequestTimeout); err != nil {
		errs = append(errs, fmt.Errorf("request_timeout: %w", err))
	} else if d <= 0 {
		errs = append(errs, errors.New("request_timeout: must be positive"))
	}
	if _, err := cron.ParseStandard(c.RefreshCron); err != nil {
		errs = append(errs, fmt.Errorf("refresh: %w", err))
	}
	return errors.Join(errs...)
}

// Timeout returns RequestTimeout as a duration, or the default when it
// does not parse.
func (c *Config) Timeout() time.Duration {
	d, err := time.ParseDuration(c.RequestTimeout)
	if err != nil || d <= 0 {
		d, _ = time.ParseDuration(defaultRequestTimeout)
	}
	return d
}

// MetricsEnabled reports whether /metrics should be served.
func (c *Config) MetricsEnabled() bool {
	return c.Metrics == nil || *c.Metrics
}

// ApplyEnv overrides fields from the environment:
//
//	ESPRESSO_API_URL    api_url
//	ESPRESSO_LISTEN     listen
//	ESPRESSO_LOG_LEVEL  log_level
func (c *Config) ApplyEnv() {
	c.APIURL = getEnv("ESPRESSO_API_URL", c.APIURL)
	c.Listen = getEnv("ESPRESSO_LISTEN", c.Listen)
	c.LogLevel = getEnv("ESPRESSO_LOG_LEVEL", c.LogLevel)
}

func getEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(value)
	}
	return defaultValue
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
//
// Environment overrides are applied in both cases.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				cfg.ApplyEnv()
				return cfg, fmt.Errorf("%w: %w", ErrNotSaved, err)
			}
			cfg.ApplyEnv()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.Normalize()
	cfg.ApplyEnv()

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
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

	tmp, err := os.CreateTemp(dir, ".espressomap-config-*.tmp")
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

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
