package config

import (
	"fmt"
	"time"
)

// Config represents the complete application configuration.
type Config struct {
	Version   string          `yaml:"version"`
	Server    ServerConfig    `yaml:"server"`
	API       APIConfig       `yaml:"api"`
	Google    GoogleConfig    `yaml:"google"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Import    ImportConfig    `yaml:"import"`
	Cleanup   CleanupConfig   `yaml:"cleanup"`
}

// ServerConfig contains server-related configuration.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	HTTPPort        int           `yaml:"http_port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	LogLevel        string        `yaml:"log_level"`
	LogFormat       string        `yaml:"log_format"`
	TLS             TLSConfig     `yaml:"tls"`
}

// TLSConfig contains TLS configuration.
type TLSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	CertFile   string `yaml:"cert_file"`
	KeyFile    string `yaml:"key_file"`
	MinVersion string `yaml:"min_version"` // "1.2" or "1.3"
}

// APIConfig contains API-related configuration.
type APIConfig struct {
	Enabled   bool            `yaml:"enabled"`
	BasePath  string          `yaml:"base_path"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// AuthConfig contains API authentication configuration.
type AuthConfig struct {
	Enabled    bool     `yaml:"enabled"`
	APIKeys    []string `yaml:"api_keys"`
	HeaderName string   `yaml:"header_name"`
}

// RateLimitConfig contains rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	Burst             int `yaml:"burst"`
}

// GoogleConfig contains the Google Calendar OAuth application settings.
// Secret values support ${ENV_VAR} substitution in the config file.
type GoogleConfig struct {
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	RedirectURL  string   `yaml:"redirect_url"`
	CalendarID   string   `yaml:"calendar_id"`
	Scopes       []string `yaml:"scopes"`
}

// SchedulerConfig contains the meeting-time suggestion knobs.
type SchedulerConfig struct {
	WorkingHoursStart  int           `yaml:"working_hours_start"`
	WorkingHoursEnd    int           `yaml:"working_hours_end"`
	GranularityMinutes int           `yaml:"granularity_minutes"`
	DefaultDuration    int           `yaml:"default_duration_minutes"`
	MaxSuggestions     int           `yaml:"max_suggestions"`
	MinScore           int           `yaml:"min_score"`
	Timezone           string        `yaml:"timezone"`
	RefreshConcurrency int           `yaml:"refresh_concurrency"`
	RequestTimeout     time.Duration `yaml:"request_timeout"`
}

// ImportConfig controls the token-file import watcher.
type ImportConfig struct {
	Enabled      bool          `yaml:"enabled"`
	TokenDir     string        `yaml:"token_dir"`
	ScanInterval time.Duration `yaml:"scan_interval"`
}

// CleanupConfig controls background retention cleanup.
type CleanupConfig struct {
	Enabled              bool          `yaml:"enabled"`
	Interval             time.Duration `yaml:"interval"`
	RevokedRetentionDays int           `yaml:"revoked_retention_days"`
	MappingRetentionDays int           `yaml:"mapping_retention_days"`
}

// Validate checks the entire configuration tree.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.API.Validate(); err != nil {
		return fmt.Errorf("api: %w", err)
	}
	if err := c.Google.Validate(); err != nil {
		return fmt.Errorf("google: %w", err)
	}
	if err := c.Scheduler.Validate(); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	if err := c.Cleanup.Validate(); err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}
	return nil
}

// Validate checks server configuration.
func (s *ServerConfig) Validate() error {
	if s.HTTPPort <= 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("http_port must be between 1 and 65535, got %d", s.HTTPPort)
	}
	if s.ShutdownTimeout < 0 {
		return fmt.Errorf("shutdown_timeout cannot be negative")
	}
	switch s.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q", s.LogLevel)
	}
	if s.TLS.Enabled {
		if s.TLS.CertFile == "" || s.TLS.KeyFile == "" {
			return fmt.Errorf("tls requires cert_file and key_file")
		}
		switch s.TLS.MinVersion {
		case "", "1.2", "1.3":
		default:
			return fmt.Errorf("tls min_version must be 1.2 or 1.3, got %q", s.TLS.MinVersion)
		}
	}
	return nil
}

// Validate checks API configuration.
func (a *APIConfig) Validate() error {
	if a.Auth.Enabled && len(a.Auth.APIKeys) == 0 {
		return fmt.Errorf("auth enabled but no api_keys configured")
	}
	if a.RateLimit.RequestsPerMinute < 0 {
		return fmt.Errorf("requests_per_minute cannot be negative")
	}
	if a.RateLimit.Burst < 0 {
		return fmt.Errorf("burst cannot be negative")
	}
	return nil
}

// Validate checks Google OAuth configuration. Credentials may legitimately
// be absent in test and doctor modes, so emptiness is not an error here;
// the provider constructor enforces presence where it matters.
func (g *GoogleConfig) Validate() error {
	if g.ClientID != "" && g.ClientSecret == "" {
		return fmt.Errorf("client_id set without client_secret")
	}
	return nil
}

// Validate checks the scheduler knobs against their documented bounds.
func (s *SchedulerConfig) Validate() error {
	if s.WorkingHoursStart < 0 || s.WorkingHoursStart > 23 {
		return fmt.Errorf("working_hours_start must be between 0 and 23, got %d", s.WorkingHoursStart)
	}
	if s.WorkingHoursEnd < 1 || s.WorkingHoursEnd > 24 {
		return fmt.Errorf("working_hours_end must be between 1 and 24, got %d", s.WorkingHoursEnd)
	}
	if s.WorkingHoursStart >= s.WorkingHoursEnd {
		return fmt.Errorf("working_hours_start must be before working_hours_end")
	}
	if s.GranularityMinutes <= 0 {
		return fmt.Errorf("granularity_minutes must be positive, got %d", s.GranularityMinutes)
	}
	if s.DefaultDuration < 15 || s.DefaultDuration > 480 {
		return fmt.Errorf("default_duration_minutes must be between 15 and 480, got %d", s.DefaultDuration)
	}
	if s.MaxSuggestions < 1 || s.MaxSuggestions > 10 {
		return fmt.Errorf("max_suggestions must be between 1 and 10, got %d", s.MaxSuggestions)
	}
	if s.MinScore < 0 || s.MinScore > 100 {
		return fmt.Errorf("min_score must be between 0 and 100, got %d", s.MinScore)
	}
	if s.RefreshConcurrency <= 0 {
		return fmt.Errorf("refresh_concurrency must be positive, got %d", s.RefreshConcurrency)
	}
	if s.Timezone != "" {
		if _, err := time.LoadLocation(s.Timezone); err != nil {
			return fmt.Errorf("invalid timezone %q: %w", s.Timezone, err)
		}
	}
	return nil
}

// Validate checks cleanup configuration.
func (c *CleanupConfig) Validate() error {
	if c.RevokedRetentionDays < 0 {
		return fmt.Errorf("revoked_retention_days cannot be negative")
	}
	if c.MappingRetentionDays < 0 {
		return fmt.Errorf("mapping_retention_days cannot be negative")
	}
	if c.Enabled && c.Interval <= 0 {
		return fmt.Errorf("cleanup enabled but interval is not positive")
	}
	return nil
}
