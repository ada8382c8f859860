package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fidde/log_anomaly_detector/internal/detector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "anomalyd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, detector.DefaultConfig(), cfg.DetectorConfig())
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, ":4318", cfg.Server.OTLPHTTPAddr)
	assert.Equal(t, 100, cfg.Generator.Count)
}

func TestLoad_YAML(t *testing.T) {
	path := writeConfig(t, `
detector:
  error_threshold: 3
  time_window: 60
storage:
  backend: sqlite
  sqlite_path: /tmp/x.db
servicenow:
  instance: https://dev.service-now.com/
  timeout: 5s
slack:
  webhook_url: https://hooks.slack.com/services/T/B/X
logging:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, detector.Config{ErrorThreshold: 3, TimeWindow: time.Minute}, cfg.DetectorConfig())
	assert.Equal(t, "sqlite", cfg.StorageConfig().Backend)
	assert.Equal(t, "/tmp/x.db", cfg.StorageConfig().SQLitePath)
	assert.Equal(t, 5*time.Second, cfg.TicketingConfig().Timeout)
	assert.Equal(t, "https://dev.service-now.com/", cfg.TicketingConfig().Instance)
	assert.Equal(t, "json", cfg.Logging.Format)

	// Unset sections keep their defaults
	assert.Equal(t, ":8080", cfg.Server.APIAddr)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "detector:\n  error_threshold: 3\n")

	t.Setenv("ANOMALY_ERROR_THRESHOLD", "8")
	t.Setenv("ANOMALY_TIME_WINDOW", "30")
	t.Setenv("STORAGE_BACKEND", "sqlite")
	t.Setenv("SNOW_INSTANCE", "https://env.service-now.com")
	t.Setenv("SLACK_WEBHOOK_URL", "https://hooks.example/x")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Detector.ErrorThreshold)
	assert.Equal(t, 30, cfg.Detector.TimeWindow)
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, "https://env.service-now.com", cfg.ServiceNow.Instance)
	assert.Equal(t, "https://hooks.example/x", cfg.Slack.WebhookURL)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoad_InvalidEnvIntIgnored(t *testing.T) {
	t.Setenv("ANOMALY_ERROR_THRESHOLD", "many")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, detector.DefaultErrorThreshold, cfg.Detector.ErrorThreshold)
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"zero threshold":  "detector:\n  error_threshold: 0\n",
		"negative window": "detector:\n  time_window: -1\n",
		"unknown backend": "storage:\n  backend: redis\n",
		"same mirror":     "storage:\n  backend: memory\n  mirror: memory\n",
		"unknown mirror":  "storage:\n  mirror: redis\n",
		"negative count":  "generator:\n  count: -1\n",
		"negative rate":   "dispatch:\n  incidents_per_second: -2\n",
		"bad log level":   "logging:\n  level: loud\n",
		"malformed yaml":  "detector: [",
	}

	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, content))
			assert.Error(t, err)
		})
	}
}

func TestValidate_DetectorErrorsWrapSentinel(t *testing.T) {
	cfg := Default()
	cfg.Detector.ErrorThreshold = -3
	assert.ErrorIs(t, cfg.Validate(), detector.ErrInvalidConfig)
}
