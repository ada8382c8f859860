// Package clickhouse provides a ClickHouse-backed storage implementation.
package clickhouse

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/fidde/log_anomaly_detector/pkg/models"
)

// Store implements the storage.Storage interface using ClickHouse
type Store struct {
	conn   driver.Conn
	logger *slog.Logger

	// lastIngest keeps ingested_at strictly increasing across batches
	mu         sync.Mutex
	lastIngest time.Time
}

// NewStore creates a new ClickHouse storage instance
func NewStore(ctx context.Context, config *ConnectionConfig, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := Connect(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connecting to ClickHouse: %w", err)
	}

	if err := InitializeSchema(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	return &Store{
		conn:   conn,
		logger: logger,
	}, nil
}

// nextIngestTime returns a timestamp later than any previously handed out.
func (s *Store) nextIngestTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if !now.After(s.lastIngest) {
		now = s.lastIngest.Add(time.Nanosecond)
	}
	s.lastIngest = now
	return now
}

// Event operations

func (s *Store) StoreEvents(ctx context.Context, events []models.LogEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO log_events")
	if err != nil {
		return fmt.Errorf("preparing event batch: %w", err)
	}

	ingestedAt := s.nextIngestTime()
	for i, e := range events {
		details, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("encoding details: %w", err)
		}
		if err := batch.Append(ingestedAt, uint32(i), e.Timestamp, string(e.Level), e.Component, e.Message, string(details)); err != nil {
			return fmt.Errorf("appending event: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("sending event batch: %w", err)
	}

	s.logger.Debug("stored events", "count", len(events))
	return nil
}

func (s *Store) ListEvents(ctx context.Context, filter models.EventFilter) ([]models.LogEvent, error) {
	var (
		where []string
		args  []any
	)
	if filter.Component != "" {
		where = append(where, "component = ?")
		args = append(args, filter.Component)
	}
	if filter.Level != "" {
		where = append(where, "level = ?")
		args = append(args, string(filter.Level))
	}

	query := "SELECT timestamp, level, component, message, details FROM log_events"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY ingested_at, position"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	events := make([]models.LogEvent, 0)
	for rows.Next() {
		var (
			e       models.LogEvent
			level   string
			details string
		)
		if err := rows.Scan(&e.Timestamp, &level, &e.Component, &e.Message, &details); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		e.Level = models.Level(level)
		if err := json.Unmarshal([]byte(details), &e.Details); err != nil {
			return nil, fmt.Errorf("decoding details: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *Store) CountEvents(ctx context.Context) (int64, error) {
	var n uint64
	if err := s.conn.QueryRow(ctx, "SELECT count() FROM log_events").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting events: %w", err)
	}
	return int64(n), nil
}

// Run operations

func (s *Store) StoreRun(ctx context.Context, run *models.DetectionRun) error {
	if run == nil {
		return errors.New("run cannot be nil")
	}
	if run.ID == "" {
		return errors.New("run ID cannot be empty")
	}

	dispatches, err := json.Marshal(run.Dispatches)
	if err != nil {
		return fmt.Errorf("encoding dispatches: %w", err)
	}

	insertedAt := s.nextIngestTime()

	// A re-stored run replaces its previous anomalies.
	if err := s.conn.Exec(ctx, "DELETE FROM anomalies WHERE run_id = ?", run.ID); err != nil {
		return fmt.Errorf("replacing anomalies: %w", err)
	}

	if len(run.Anomalies) > 0 {
		batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO anomalies")
		if err != nil {
			return fmt.Errorf("preparing anomaly batch: %w", err)
		}
		for i, a := range run.Anomalies {
			if err := batch.Append(run.ID, insertedAt, uint32(i), a.Timestamp, string(a.Type), uint32(a.Details.ErrorCount), a.Details.Component, a.Details.Message); err != nil {
				return fmt.Errorf("appending anomaly: %w", err)
			}
		}
		if err := batch.Send(); err != nil {
			return fmt.Errorf("sending anomaly batch: %w", err)
		}
	}

	err = s.conn.Exec(ctx, `
		INSERT INTO detection_runs (id, inserted_at, started_at, duration_ns, error_threshold, time_window_seconds, event_count, dispatches)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, insertedAt, run.StartedAt.UTC(), int64(run.Duration), uint32(run.ErrorThreshold), uint32(run.TimeWindowSeconds), uint64(run.EventCount), string(dispatches))
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}

	return nil
}

func (s *Store) GetRun(ctx context.Context, id string) (*models.DetectionRun, error) {
	var (
		run               models.DetectionRun
		durationNS        int64
		errorThreshold    uint32
		timeWindowSeconds uint32
		eventCount        uint64
		dispatches        string
	)

	err := s.conn.QueryRow(ctx, `
		SELECT id, started_at, duration_ns, error_threshold, time_window_seconds, event_count, dispatches
		FROM detection_runs FINAL
		WHERE id = ?
		LIMIT 1
	`, id).Scan(&run.ID, &run.StartedAt, &durationNS, &errorThreshold, &timeWindowSeconds, &eventCount, &dispatches)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, models.ErrRunNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying run: %w", err)
	}

	run.StartedAt = run.StartedAt.UTC()
	run.Duration = time.Duration(durationNS)
	run.ErrorThreshold = int(errorThreshold)
	run.TimeWindowSeconds = int(timeWindowSeconds)
	run.EventCount = int(eventCount)
	if err := json.Unmarshal([]byte(dispatches), &run.Dispatches); err != nil {
		return nil, fmt.Errorf("decoding dispatches: %w", err)
	}

	run.Anomalies, err = s.queryAnomalies(ctx, `
		SELECT timestamp, type, error_count, component, message
		FROM anomalies
		WHERE run_id = ?
		ORDER BY position
	`, id)
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *Store) ListRuns(ctx context.Context) ([]*models.RunSummary, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT r.id, r.started_at, r.error_threshold, r.time_window_seconds, r.event_count, r.dispatches, a.cnt
		FROM detection_runs AS r FINAL
		LEFT JOIN (SELECT run_id, count() AS cnt FROM anomalies GROUP BY run_id) AS a ON a.run_id = r.id
		ORDER BY r.started_at DESC, r.inserted_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	summaries := make([]*models.RunSummary, 0)
	for rows.Next() {
		var (
			sum               models.RunSummary
			errorThreshold    uint32
			timeWindowSeconds uint32
			eventCount        uint64
			dispatches        string
			anomalyCount      uint64
		)
		if err := rows.Scan(&sum.ID, &sum.StartedAt, &errorThreshold, &timeWindowSeconds, &eventCount, &dispatches, &anomalyCount); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}

		run := models.DetectionRun{}
		if err := json.Unmarshal([]byte(dispatches), &run.Dispatches); err != nil {
			return nil, fmt.Errorf("decoding dispatches: %w", err)
		}

		sum.StartedAt = sum.StartedAt.UTC()
		sum.ErrorThreshold = int(errorThreshold)
		sum.TimeWindowSeconds = int(timeWindowSeconds)
		sum.EventCount = int(eventCount)
		sum.AnomalyCount = int(anomalyCount)
		sum.IncidentCount = run.IncidentCount()
		summaries = append(summaries, &sum)
	}
	return summaries, rows.Err()
}

func (s *Store) ListAnomalies(ctx context.Context, component string) ([]models.AnomalyRecord, error) {
	query := "SELECT timestamp, type, error_count, component, message FROM anomalies"
	var args []any
	if component != "" {
		query += " WHERE component = ?"
		args = append(args, component)
	}
	query += " ORDER BY run_inserted_at, position"

	return s.queryAnomalies(ctx, query, args...)
}

func (s *Store) queryAnomalies(ctx context.Context, query string, args ...any) ([]models.AnomalyRecord, error) {
	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying anomalies: %w", err)
	}
	defer rows.Close()

	anomalies := make([]models.AnomalyRecord, 0)
	for rows.Next() {
		var (
			a          models.AnomalyRecord
			anomaly    string
			errorCount uint32
		)
		if err := rows.Scan(&a.Timestamp, &anomaly, &errorCount, &a.Details.Component, &a.Details.Message); err != nil {
			return nil, fmt.Errorf("scanning anomaly: %w", err)
		}
		a.Type = models.AnomalyType(anomaly)
		a.Details.ErrorCount = int(errorCount)
		anomalies = append(anomalies, a)
	}
	return anomalies, rows.Err()
}

func (s *Store) Clear(ctx context.Context) error {
	tables := []string{"log_events", "detection_runs", "anomalies"}

	for _, table := range tables {
		if err := s.conn.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s", table)); err != nil {
			return fmt.Errorf("truncating table %s: %w", table, err)
		}
	}

	return nil
}

func (s *Store) Close() error {
	return s.conn.Close()
}
