package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"habitcal/internal/tzclock"
)

// NOTE: This file provides the configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions.

// CalendarConfig selects and configures the calendar backend.
type CalendarConfig struct {
	// Provider is "google" (default) or "memory" for local development.
	Provider string `yaml:"provider" json:"provider"`
	// BaseURL overrides the Google Calendar v3 API root.
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty"`
	// CalendarID is the calendar events are written to.
	CalendarID string `yaml:"calendar_id" json:"calendar_id"`
	// RequestsPerSecond caps outbound calendar calls; 0 disables the limit.
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
	// TimeoutSeconds bounds each calendar HTTP call.
	TimeoutSeconds int `yaml:"timeout_seconds" json:"timeout_seconds"`
	// AccessTokenEnv names an environment variable holding a static access
	// token. When set and non-empty it takes precedence over the connector.
	AccessTokenEnv string `yaml:"access_token_env,omitempty" json:"access_token_env,omitempty"`
}

// ConnectorConfig describes the broker that issues calendar access tokens.
type ConnectorConfig struct {
	// Hostname of the connection broker (no scheme).
	Hostname string `yaml:"hostname" json:"hostname"`
	// IdentityEnv names an environment variable holding the complete broker
	// identity. Empty means it is derived from REPL_IDENTITY or
	// WEB_REPL_RENEWAL.
	IdentityEnv string `yaml:"identity_env,omitempty" json:"identity_env,omitempty"`
	// ConnectorName of the calendar connection at the broker.
	ConnectorName string `yaml:"connector_name" json:"connector_name"`
}

// LogConfig controls internal/log.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
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

	// Timezone is the IANA zone assumed when a request names none
	// (e.g. "America/Los_Angeles").
	Timezone string `yaml:"timezone" json:"timezone"`

	// DefaultDurationMinutes applies to habits that do not state a duration.
	DefaultDurationMinutes int `yaml:"default_duration_minutes" json:"default_duration_minutes"`

	// MinConfidence drops extracted intents below this score (0..1).
	MinConfidence float64 `yaml:"min_confidence" json:"min_confidence"`

	// RefreshCron is a cron-style schedule string (e.g. "*/15 * * * *")
	// for refreshing the cached list of upcoming events.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// AgendaSize is how many upcoming events the agenda cache keeps.
	AgendaSize int `yaml:"agenda_size" json:"agenda_size"`

	Log       LogConfig       `yaml:"log" json:"log"`
	Calendar  CalendarConfig  `yaml:"calendar" json:"calendar"`
	Connector ConnectorConfig `yaml:"connector" json:"connector"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:                 "127.0.0.1:8080",
		Timezone:               "America/Los_Angeles",
		DefaultDurationMinutes: 60,
		MinConfidence:          0.8,
		RefreshCron:            "*/15 * * * *",
		AgendaSize:             20,
		Log:                    LogConfig{Level: "info", Format: "console"},
		Calendar: CalendarConfig{
			Provider:          "google",
			CalendarID:        "primary",
			RequestsPerSecond: 5,
			TimeoutSeconds:    15,
		},
		Connector: ConnectorConfig{ConnectorName: "google-calendar"},
		BasicAuth: nil,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	d := DefaultConfig()
	if c.Listen == "" {
		c.Listen = d.Listen
	}
	if c.Timezone == "" {
		c.Timezone = d.Timezone
	}
	if c.DefaultDurationMinutes <= 0 {
		c.DefaultDurationMinutes = d.DefaultDurationMinutes
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		c.MinConfidence = d.MinConfidence
	}
	if c.RefreshCron == "" {
		c.RefreshCron = d.RefreshCron
	}
	if c.AgendaSize <= 0 {
		c.AgendaSize = d.AgendaSize
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
	switch c.Calendar.Provider {
	case "google", "memory":
		// ok
	default:
		c.Calendar.Provider = d.Calendar.Provider
	}
	if c.Calendar.CalendarID == "" {
		c.Calendar.CalendarID = d.Calendar.CalendarID
	}
	if c.Calendar.RequestsPerSecond < 0 {
		c.Calendar.RequestsPerSecond = 0
	}
	if c.Calendar.TimeoutSeconds <= 0 {
		c.Calendar.TimeoutSeconds = d.Calendar.TimeoutSeconds
	}
	if c.Connector.ConnectorName == "" {
		c.Connector.ConnectorName = d.Connector.ConnectorName
	}
}

// Validate reports settings that Normalize cannot repair. An unknown
// timezone is an error rather than a silent fallback.
func (c *Config) Validate() error {
	if _, err := tzclock.Load(c.Timezone); err != nil {
		return fmt.Errorf("config: timezone: %w", err)
	}
	if _, err := cron.ParseStandard(c.RefreshCron); err != nil {
		return fmt.Errorf("config: refresh %q: %w", c.RefreshCron, err)
	}
	return nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML over DefaultConfig()
//   - normalize defaults and validate
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
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	// Keys missing from the file keep their defaults.
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
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

	tmp, err := os.CreateTemp(dir, ".habitcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
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
