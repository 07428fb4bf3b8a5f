package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	calerrors "github.com/calsched/calsched/internal/errors"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 8421, cfg.Server.HTTPPort)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "info", cfg.Server.LogLevel)
	assert.True(t, cfg.API.Enabled)
	assert.Equal(t, "/api/v1", cfg.API.BasePath)
	assert.Equal(t, "primary", cfg.Google.CalendarID)
	assert.Equal(t, 9, cfg.Scheduler.WorkingHoursStart)
	assert.Equal(t, 18, cfg.Scheduler.WorkingHoursEnd)
	assert.Equal(t, 30, cfg.Scheduler.GranularityMinutes)
	assert.Equal(t, 60, cfg.Scheduler.DefaultDuration)
	assert.Equal(t, 5, cfg.Scheduler.MaxSuggestions)
	assert.Equal(t, 50, cfg.Scheduler.MinScore)
	assert.Equal(t, "UTC", cfg.Scheduler.Timezone)
	assert.Equal(t, 20, cfg.Scheduler.RefreshConcurrency)
	assert.Equal(t, 30, cfg.Cleanup.RevokedRetentionDays)
	assert.Equal(t, 180, cfg.Cleanup.MappingRetentionDays)

	require.NoError(t, cfg.Validate())
}

func TestParseOverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
server:
  http_port: 9000
scheduler:
  working_hours_start: 8
  working_hours_end: 17
  max_suggestions: 3
`))
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.HTTPPort)
	assert.Equal(t, 8, cfg.Scheduler.WorkingHoursStart)
	assert.Equal(t, 17, cfg.Scheduler.WorkingHoursEnd)
	assert.Equal(t, 3, cfg.Scheduler.MaxSuggestions)
	// Untouched sections keep their defaults.
	assert.Equal(t, 30, cfg.Scheduler.GranularityMinutes)
}

func TestParseInvalidYAML(t *testing.T) {
	_, err := Parse([]byte("server: [not a map"))
	var perr *calerrors.ErrConfigParse
	assert.ErrorAs(t, err, &perr)
}

func TestParseValidationFailures(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad port", "server:\n  http_port: 70000\n"},
		{"bad log level", "server:\n  log_level: loud\n"},
		{"working hours inverted", "scheduler:\n  working_hours_start: 18\n  working_hours_end: 9\n"},
		{"duration too short", "scheduler:\n  default_duration_minutes: 5\n"},
		{"duration too long", "scheduler:\n  default_duration_minutes: 500\n"},
		{"too many suggestions", "scheduler:\n  max_suggestions: 11\n"},
		{"min score out of range", "scheduler:\n  min_score: 101\n"},
		{"bad timezone", "scheduler:\n  timezone: Mars/Olympus\n"},
		{"auth without keys", "api:\n  auth:\n    enabled: true\n"},
		{"tls without certs", "server:\n  tls:\n    enabled: true\n"},
		{"cleanup enabled without interval", "cleanup:\n  enabled: true\n  interval: 0\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			var verr *calerrors.ErrConfigValidation
			assert.ErrorAs(t, err, &verr)
		})
	}
}

func TestLoaderLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  http_port: 9100\n"), 0644))

	loader := NewLoader(path)
	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.HTTPPort)
	assert.Same(t, cfg, loader.Get())
}

func TestLoaderMissingFile(t *testing.T) {
	loader := NewLoader(filepath.Join(t.TempDir(), "absent.yaml"))
	_, err := loader.Load()
	var nerr *calerrors.ErrConfigNotFound
	assert.ErrorAs(t, err, &nerr)
}

func TestLoaderEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_CLIENT_SECRET", "s3cret")
	t.Setenv("TEST_CLIENT_ID", "client-1")

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "google:\n  client_id: ${TEST_CLIENT_ID}\n  client_secret: ${TEST_CLIENT_SECRET}\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := NewLoader(path).Load()
	require.NoError(t, err)
	assert.Equal(t, "client-1", cfg.Google.ClientID)
	assert.Equal(t, "s3cret", cfg.Google.ClientSecret)
}

func TestLoaderReloadCallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  http_port: 9100\n"), 0644))

	loader := NewLoader(path)
	_, err := loader.Load()
	require.NoError(t, err)

	var seen *Config
	loader.SetOnChange(func(c *Config) { seen = c })

	require.NoError(t, os.WriteFile(path, []byte("server:\n  http_port: 9200\n"), 0644))
	cfg, err := loader.Reload()
	require.NoError(t, err)
	assert.Equal(t, 9200, cfg.Server.HTTPPort)
	assert.Same(t, cfg, seen)
}
