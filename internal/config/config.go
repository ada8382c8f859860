// Package config loads anomalyd configuration from YAML and the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/fidde/log_anomaly_detector/internal/detector"
	"github.com/fidde/log_anomaly_detector/internal/logging"
	"github.com/fidde/log_anomaly_detector/internal/storage/backend"
	"github.com/fidde/log_anomaly_detector/internal/ticketing"
	"gopkg.in/yaml.v3"
)

// Config is the full anomalyd configuration.
type Config struct {
	Detector   DetectorConfig   `yaml:"detector"`
	Storage    StorageConfig    `yaml:"storage"`
	Server     ServerConfig     `yaml:"server"`
	ServiceNow ServiceNowConfig `yaml:"servicenow"`
	Slack      SlackConfig      `yaml:"slack"`
	Logging    logging.Config   `yaml:"logging"`
	Generator  GeneratorConfig  `yaml:"generator"`
	Dispatch   DispatchConfig   `yaml:"dispatch"`
}

// DetectorConfig holds the threshold rule parameters.
type DetectorConfig struct {
	ErrorThreshold int `yaml:"error_threshold"`

	// TimeWindow is in seconds
	TimeWindow int `yaml:"time_window"`
}

// StorageConfig selects and configures the storage backend.
type StorageConfig struct {
	Backend    string           `yaml:"backend"`
	Mirror     string           `yaml:"mirror"`
	SQLitePath string           `yaml:"sqlite_path"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
}

// ClickHouseConfig holds ClickHouse connection settings.
type ClickHouseConfig struct {
	Addr     string `yaml:"addr"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// ServerConfig holds listener addresses for the serve command.
type ServerConfig struct {
	APIAddr         string        `yaml:"api_addr"`
	OTLPHTTPAddr    string        `yaml:"otlp_http_addr"`
	OTLPGRPCAddr    string        `yaml:"otlp_grpc_addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// ServiceNowConfig holds incident API credentials.
type ServiceNowConfig struct {
	Instance   string        `yaml:"instance"`
	Username   string        `yaml:"username"`
	Password   string        `yaml:"password"`
	Timeout    time.Duration `yaml:"timeout"`
	RetryCount int           `yaml:"retry_count"`
}

// SlackConfig holds the incident alert webhook.
type SlackConfig struct {
	WebhookURL string        `yaml:"webhook_url"`
	Timeout    time.Duration `yaml:"timeout"`
}

// GeneratorConfig controls synthetic log generation.
type GeneratorConfig struct {
	Count   int    `yaml:"count"`
	LogsDir string `yaml:"logs_dir"`
}

// DispatchConfig bounds incident creation.
type DispatchConfig struct {
	IncidentsPerSecond float64 `yaml:"incidents_per_second"`
	Burst              int     `yaml:"burst"`
}

// Default returns the built-in configuration.
func Default() *Config {
	st := backend.DefaultConfig()
	sn := ticketing.DefaultConfig()

	return &Config{
		Detector: DetectorConfig{
			ErrorThreshold: detector.DefaultErrorThreshold,
			TimeWindow:     int(detector.DefaultTimeWindow / time.Second),
		},
		Storage: StorageConfig{
			Backend:    st.Backend,
			SQLitePath: st.SQLitePath,
			ClickHouse: ClickHouseConfig{
				Addr:     st.ClickHouseAddr,
				Database: st.ClickHouseDatabase,
				Username: st.ClickHouseUsername,
			},
		},
		Server: ServerConfig{
			APIAddr:         ":8080",
			OTLPHTTPAddr:    ":4318",
			OTLPGRPCAddr:    ":4317",
			ShutdownTimeout: 10 * time.Second,
		},
		ServiceNow: ServiceNowConfig{
			Timeout:    sn.Timeout,
			RetryCount: sn.RetryCount,
		},
		Slack: SlackConfig{
			Timeout: 10 * time.Second,
		},
		Logging: logging.DefaultConfig(),
		Generator: GeneratorConfig{
			Count:   100,
			LogsDir: "logs",
		},
		Dispatch: DispatchConfig{
			IncidentsPerSecond: 5,
			Burst:              1,
		},
	}
}

// Load reads path over the defaults, applies environment overrides and validates.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("reading config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config YAML: %w", err)
			}
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Detector.ErrorThreshold = getEnvInt("ANOMALY_ERROR_THRESHOLD", c.Detector.ErrorThreshold)
	c.Detector.TimeWindow = getEnvInt("ANOMALY_TIME_WINDOW", c.Detector.TimeWindow)

	c.Storage.Backend = getEnv("STORAGE_BACKEND", c.Storage.Backend)
	c.Storage.Mirror = getEnv("STORAGE_MIRROR", c.Storage.Mirror)
	c.Storage.SQLitePath = getEnv("SQLITE_PATH", c.Storage.SQLitePath)
	c.Storage.ClickHouse.Addr = getEnv("CLICKHOUSE_ADDR", c.Storage.ClickHouse.Addr)

	c.Server.APIAddr = getEnv("API_ADDR", c.Server.APIAddr)
	c.Server.OTLPHTTPAddr = getEnv("OTLP_HTTP_ADDR", c.Server.OTLPHTTPAddr)
	c.Server.OTLPGRPCAddr = getEnv("OTLP_GRPC_ADDR", c.Server.OTLPGRPCAddr)

	c.ServiceNow.Instance = getEnv("SNOW_INSTANCE", c.ServiceNow.Instance)
	c.ServiceNow.Username = getEnv("SNOW_USERNAME", c.ServiceNow.Username)
	c.ServiceNow.Password = getEnv("SNOW_PASSWORD", c.ServiceNow.Password)

	c.Slack.WebhookURL = getEnv("SLACK_WEBHOOK_URL", c.Slack.WebhookURL)

	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("LOG_FORMAT", c.Logging.Format)
	c.Logging.File = getEnv("LOG_FILE", c.Logging.File)
}

// Validate rejects configuration the components would refuse later.
func (c *Config) Validate() error {
	if err := c.DetectorConfig().Validate(); err != nil {
		return err
	}
	if !backend.Supported(c.Storage.Backend) {
		return fmt.Errorf("unknown storage backend %q (supported: memory, sqlite, clickhouse)", c.Storage.Backend)
	}
	if c.Storage.Mirror != "" {
		if !backend.Supported(c.Storage.Mirror) {
			return fmt.Errorf("unknown mirror backend %q", c.Storage.Mirror)
		}
		if c.Storage.Mirror == c.Storage.Backend {
			return fmt.Errorf("mirror backend %q must differ from primary", c.Storage.Mirror)
		}
	}
	if c.Generator.Count < 0 {
		return fmt.Errorf("generator count must not be negative, got %d", c.Generator.Count)
	}
	if c.Dispatch.IncidentsPerSecond < 0 {
		return fmt.Errorf("dispatch rate must not be negative, got %v", c.Dispatch.IncidentsPerSecond)
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	return nil
}

// DetectorConfig converts the detector section.
func (c *Config) DetectorConfig() detector.Config {
	return detector.ConfigFromSeconds(c.Detector.ErrorThreshold, c.Detector.TimeWindow)
}

// StorageConfig converts the storage section.
func (c *Config) StorageConfig() backend.Config {
	return backend.Config{
		Backend:            c.Storage.Backend,
		Mirror:             c.Storage.Mirror,
		SQLitePath:         c.Storage.SQLitePath,
		ClickHouseAddr:     c.Storage.ClickHouse.Addr,
		ClickHouseDatabase: c.Storage.ClickHouse.Database,
		ClickHouseUsername: c.Storage.ClickHouse.Username,
		ClickHousePassword: c.Storage.ClickHouse.Password,
	}
}

// TicketingConfig converts the servicenow section.
func (c *Config) TicketingConfig() ticketing.Config {
	cfg := ticketing.DefaultConfig()
	cfg.Instance = c.ServiceNow.Instance
	cfg.Username = c.ServiceNow.Username
	cfg.Password = c.ServiceNow.Password
	if c.ServiceNow.Timeout > 0 {
		cfg.Timeout = c.ServiceNow.Timeout
	}
	cfg.RetryCount = c.ServiceNow.RetryCount
	return cfg
}

// getEnv gets an environment variable with a default fallback.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer environment variable with a default fallback.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
