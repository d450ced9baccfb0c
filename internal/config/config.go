package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
	_ "time/tzdata"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// NOTE: Load writes a default config with 0600 permissions on first run, the
// same way Save does: temp file in the target directory, then rename.

const (
	defaultListen      = "127.0.0.1:8000"
	defaultTimezone    = "Australia/Sydney"
	defaultRefreshCron = "0 */6 * * *"
	defaultHorizonDays = 30
	defaultWindowDays  = 30
	defaultLogLevel    = "info"
	defaultDBPath      = "/var/lib/campuscal/events.db"
	defaultWorkers     = 4

	defaultBaseURL     = "https://www.activateuts.com.au"
	defaultListingPath = "/events"
	defaultPageQuery   = "/?orderby=featured&page_num=%d"
	defaultLinkPrefix  = "/events/"
	defaultPageTimeout = 45 * time.Second

	defaultClassifierModel   = "gemini-1.5-flash"
	defaultClassifierTimeout = 20 * time.Second
	defaultFeedTimeout       = 15 * time.Second
)

// BasicAuthConfig holds HTTP Basic Auth credentials for the read API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// DatabaseConfig locates the SQLite event store.
type DatabaseConfig struct {
	Path string `yaml:"path" json:"path" env:"CAMPUSCAL_DB_PATH"`
}

// SiteConfig describes the listing site being crawled.
type SiteConfig struct {
	BaseURL     string `yaml:"base_url" json:"base_url"`
	ListingPath string `yaml:"listing_path" json:"listing_path"`
	// PageQuery must contain %d for the 1-based page number.
	PageQuery  string `yaml:"page_query" json:"page_query"`
	LinkPrefix string `yaml:"link_prefix" json:"link_prefix"`
	// PageTimeout bounds each browser navigation.
	PageTimeout time.Duration `yaml:"page_timeout" json:"page_timeout"`
}

// IngestConfig tunes the ingestion pipeline.
type IngestConfig struct {
	Workers    int  `yaml:"workers" json:"workers"`
	Categorise bool `yaml:"categorise" json:"categorise"`
	// RunOnStart triggers one ingestion immediately at startup in addition to
	// the cron schedule.
	RunOnStart bool `yaml:"run_on_start" json:"run_on_start"`
}

// ClassifierConfig configures the Gemini categoriser.
type ClassifierConfig struct {
	Model    string        `yaml:"model" json:"model"`
	Endpoint string        `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	APIKey   string        `yaml:"api_key,omitempty" json:"-" env:"GOOGLE_API_KEY"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout"`
}

// FeedConfig configures fetching of consumer calendar feeds.
type FeedConfig struct {
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the read API.
	Listen string `yaml:"listen" json:"listen" env:"CAMPUSCAL_LISTEN"`

	// Timezone is the IANA zone whose calendar date forms part of an event's
	// natural key (e.g. "Australia/Sydney").
	Timezone string `yaml:"timezone" json:"timezone"`

	// RefreshCron is a cron schedule (e.g. "0 */6 * * *") for ingestion runs.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// HorizonDays bounds busy time taken from a consumer feed, counted from
	// the day of the feed's first event.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`

	// DefaultWindowDays is the query window used when end_time is absent.
	DefaultWindowDays int `yaml:"default_window_days" json:"default_window_days"`

	LogLevel string `yaml:"log_level" json:"log_level" env:"CAMPUSCAL_LOG_LEVEL"`

	Database   DatabaseConfig   `yaml:"database" json:"database"`
	Site       SiteConfig       `yaml:"site" json:"site"`
	Ingest     IngestConfig     `yaml:"ingest" json:"ingest"`
	Classifier ClassifierConfig `yaml:"classifier" json:"classifier"`
	Feed       FeedConfig       `yaml:"feed" json:"feed"`

	// CORSAllowOrigins lists browser origins allowed to call the API. "*"
	// allows any origin.
	CORSAllowOrigins []string `yaml:"cors_allow_origins" json:"cors_allow_origins" env:"CORS_ALLOW_ORIGINS" envSeparator:","`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:            defaultListen,
		Timezone:          defaultTimezone,
		RefreshCron:       defaultRefreshCron,
		HorizonDays:       defaultHorizonDays,
		DefaultWindowDays: defaultWindowDays,
		LogLevel:          defaultLogLevel,
		Database:          DatabaseConfig{Path: defaultDBPath},
		Site: SiteConfig{
			BaseURL:     defaultBaseURL,
			ListingPath: defaultListingPath,
			PageQuery:   defaultPageQuery,
			LinkPrefix:  defaultLinkPrefix,
			PageTimeout: defaultPageTimeout,
		},
		Ingest: IngestConfig{Workers: defaultWorkers},
		Classifier: ClassifierConfig{
			Model:   defaultClassifierModel,
			Timeout: defaultClassifierTimeout,
		},
		Feed:             FeedConfig{Timeout: defaultFeedTimeout},
		CORSAllowOrigins: []string{},
		BasicAuth:        nil,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	if c.RefreshCron == "" {
		c.RefreshCron = defaultRefreshCron
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = defaultHorizonDays
	}
	if c.DefaultWindowDays <= 0 {
		c.DefaultWindowDays = defaultWindowDays
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.Database.Path == "" {
		c.Database.Path = defaultDBPath
	}

	if c.Site.BaseURL == "" {
		c.Site.BaseURL = defaultBaseURL
	}
	if c.Site.ListingPath == "" {
		c.Site.ListingPath = defaultListingPath
	}
	if c.Site.PageQuery == "" {
		c.Site.PageQuery = defaultPageQuery
	}
	if c.Site.LinkPrefix == "" {
		c.Site.LinkPrefix = defaultLinkPrefix
	}
	if c.Site.PageTimeout <= 0 {
		c.Site.PageTimeout = defaultPageTimeout
	}

	if c.Ingest.Workers <= 0 {
		c.Ingest.Workers = defaultWorkers
	}
	if c.Classifier.Model == "" {
		c.Classifier.Model = defaultClassifierModel
	}
	if c.Classifier.Timeout <= 0 {
		c.Classifier.Timeout = defaultClassifierTimeout
	}
	if c.Feed.Timeout <= 0 {
		c.Feed.Timeout = defaultFeedTimeout
	}
	if c.CORSAllowOrigins == nil {
		c.CORSAllowOrigins = []string{}
	}
}

// ApplyEnv overlays environment variables on c. Unset variables leave the
// file values in place.
func (c *Config) ApplyEnv() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("config: parse env: %w", err)
	}
	c.Normalize()
	return nil
}

// Location resolves Timezone, falling back to UTC when the zone database
// does not know it.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC, fmt.Errorf("config: timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// DefaultWindow is DefaultWindowDays as a duration.
func (c *Config) DefaultWindow() time.Duration {
	return time.Duration(c.DefaultWindowDays) * 24 * time.Hour
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
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes cfg to path atomically with 0600 permissions, creating the
// parent directory (0700) if needed.
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

	tmp, err := os.CreateTemp(dir, ".campuscal-config-*.tmp")
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
