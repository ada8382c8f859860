// Package backend opens the storage implementation selected by configuration.
package backend

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fidde/log_anomaly_detector/internal/storage"
	"github.com/fidde/log_anomaly_detector/internal/storage/clickhouse"
	"github.com/fidde/log_anomaly_detector/internal/storage/dual"
	"github.com/fidde/log_anomaly_detector/internal/storage/memory"
	"github.com/fidde/log_anomaly_detector/internal/storage/sqlite"
)

// Supported backend names.
const (
	Memory     = "memory"
	SQLite     = "sqlite"
	ClickHouse = "clickhouse"
)

// Config holds storage configuration.
type Config struct {
	// Backend selects the storage backend: "memory", "sqlite" or "clickhouse"
	Backend string

	// Mirror optionally names a second backend that receives copies of all writes.
	Mirror string

	SQLitePath string

	// ClickHouse-specific config
	ClickHouseAddr     string
	ClickHouseDatabase string
	ClickHouseUsername string
	ClickHousePassword string
}

// DefaultConfig returns default storage configuration.
func DefaultConfig() Config {
	return Config{
		Backend:            Memory,
		SQLitePath:         "data/anomalies.db",
		ClickHouseAddr:     "localhost:9000",
		ClickHouseDatabase: "default",
		ClickHouseUsername: "default",
	}
}

// Supported reports whether name is a backend NewStorage can open.
func Supported(name string) bool {
	switch name {
	case Memory, SQLite, ClickHouse:
		return true
	}
	return false
}

// NewStorage creates a storage implementation based on configuration.
func NewStorage(ctx context.Context, cfg Config, logger *slog.Logger) (storage.Storage, error) {
	if logger == nil {
		logger = slog.Default()
	}

	primary, err := open(ctx, cfg.Backend, cfg, logger)
	if err != nil {
		return nil, err
	}
	if cfg.Mirror == "" {
		return primary, nil
	}
	if cfg.Mirror == cfg.Backend {
		primary.Close()
		return nil, fmt.Errorf("mirror backend %q must differ from primary", cfg.Mirror)
	}

	secondary, err := open(ctx, cfg.Mirror, cfg, logger)
	if err != nil {
		primary.Close()
		return nil, fmt.Errorf("opening mirror: %w", err)
	}

	logger.Info("mirroring storage writes", "primary", cfg.Backend, "secondary", cfg.Mirror)
	return dual.New(dual.Config{
		Primary:   primary,
		Secondary: secondary,
		Logger:    logger,
	}), nil
}

func open(ctx context.Context, name string, cfg Config, logger *slog.Logger) (storage.Storage, error) {
	switch name {
	case Memory:
		logger.Info("using in-memory storage")
		return memory.New(), nil

	case SQLite:
		logger.Info("using SQLite storage", "path", cfg.SQLitePath)
		store, err := sqlite.New(sqlite.DefaultConfig(cfg.SQLitePath))
		if err != nil {
			return nil, fmt.Errorf("creating SQLite store: %w", err)
		}
		return store, nil

	case ClickHouse:
		logger.Info("using ClickHouse storage", "addr", cfg.ClickHouseAddr)

		chCfg := clickhouse.DefaultConfig()
		chCfg.Addr = cfg.ClickHouseAddr
		if cfg.ClickHouseDatabase != "" {
			chCfg.Database = cfg.ClickHouseDatabase
		}
		if cfg.ClickHouseUsername != "" {
			chCfg.Username = cfg.ClickHouseUsername
		}
		chCfg.Password = cfg.ClickHousePassword

		store, err := clickhouse.NewStore(ctx, chCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("creating ClickHouse store: %w", err)
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unknown storage backend: %s (supported: memory, sqlite, clickhouse)", name)
	}
}
