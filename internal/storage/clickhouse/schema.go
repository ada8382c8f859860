package clickhouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

const schemaVersion = "2.0.0"

// InitializeSchema creates all required tables if they don't exist
func InitializeSchema(ctx context.Context, conn driver.Conn) error {
	if err := createSchemaVersionTable(ctx, conn); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	currentVersion, err := getCurrentSchemaVersion(ctx, conn)
	if err != nil {
		return fmt.Errorf("checking schema version: %w", err)
	}

	if currentVersion != "" && currentVersion != schemaVersion {
		return fmt.Errorf("schema version mismatch: database has %s, code expects %s", currentVersion, schemaVersion)
	}

	tables := []struct {
		name string
		ddl  string
	}{
		{"log_events", eventsTableDDL},
		{"detection_runs", runsTableDDL},
		{"anomalies", anomaliesTableDDL},
	}

	for _, table := range tables {
		if err := conn.Exec(ctx, table.ddl); err != nil {
			return fmt.Errorf("creating table %s: %w", table.name, err)
		}
	}

	if currentVersion == "" {
		if err := setSchemaVersion(ctx, conn, schemaVersion); err != nil {
			return fmt.Errorf("setting schema version: %w", err)
		}
	}

	return nil
}

func createSchemaVersionTable(ctx context.Context, conn driver.Conn) error {
	ddl := `
		CREATE TABLE IF NOT EXISTS schema_version (
			version String,
			applied_at DateTime64(3) DEFAULT now64(3)
		) ENGINE = MergeTree()
		ORDER BY applied_at
	`
	return conn.Exec(ctx, ddl)
}

func getCurrentSchemaVersion(ctx context.Context, conn driver.Conn) (string, error) {
	var version string
	row := conn.QueryRow(ctx, "SELECT version FROM schema_version ORDER BY applied_at DESC LIMIT 1")
	err := row.Scan(&version)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", err
	}
	return version, nil
}

func setSchemaVersion(ctx context.Context, conn driver.Conn, version string) error {
	return conn.Exec(ctx, "INSERT INTO schema_version (version) VALUES (?)", version)
}

// Events keep arrival order through (ingested_at, position).
const eventsTableDDL = `
CREATE TABLE IF NOT EXISTS log_events (
    ingested_at DateTime64(9, 'UTC'),
    position UInt32,

    timestamp String,
    level LowCardinality(String),
    component LowCardinality(String),
    message String,
    details String
) ENGINE = MergeTree()
ORDER BY (ingested_at, position)
SETTINGS index_granularity = 8192
`

const runsTableDDL = `
CREATE TABLE IF NOT EXISTS detection_runs (
    id String,
    inserted_at DateTime64(9, 'UTC'),
    started_at DateTime64(9, 'UTC'),
    duration_ns Int64,
    error_threshold UInt32,
    time_window_seconds UInt32,
    event_count UInt64,
    dispatches String
) ENGINE = ReplacingMergeTree(inserted_at)
ORDER BY id
`

const anomaliesTableDDL = `
CREATE TABLE IF NOT EXISTS anomalies (
    run_id String,
    run_inserted_at DateTime64(9, 'UTC'),
    position UInt32,
    timestamp String,
    type LowCardinality(String),
    error_count UInt32,
    component LowCardinality(String),
    message String
) ENGINE = MergeTree()
ORDER BY (run_inserted_at, run_id, position)
`
