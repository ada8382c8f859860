// Package sqlite provides a SQLite-backed storage implementation.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fidde/log_anomaly_detector/pkg/models"
	_ "modernc.org/sqlite"
)

//go:embed migrations/001_initial_schema.up.sql
var migrationSQL string

// Store is a SQLite-backed storage for events and detection runs.
type Store struct {
	db *sql.DB

	// Batch writer
	writeCh   chan writeOp
	closeCh   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// writeOp represents a write operation to be batched.
type writeOp struct {
	opType string
	data   interface{}
	done   chan error
}

// Config holds SQLite store configuration.
type Config struct {
	DBPath        string
	BatchSize     int
	FlushInterval time.Duration
}

// DefaultConfig returns default SQLite configuration.
func DefaultConfig(dbPath string) Config {
	return Config{
		DBPath:        dbPath,
		BatchSize:     100,
		FlushInterval: 50 * time.Millisecond,
	}
}

// New creates a new SQLite store with the given configuration.
func New(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// A single connection keeps :memory: databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=-64000", // 64MB cache
		"PRAGMA temp_store=MEMORY",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma: %w", err)
		}
	}

	if _, err := db.Exec(migrationSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 50 * time.Millisecond
	}

	store := &Store{
		db:      db,
		writeCh: make(chan writeOp, 1000),
		closeCh: make(chan struct{}),
	}

	store.wg.Add(1)
	go store.batchWriter(cfg.BatchSize, cfg.FlushInterval)

	return store, nil
}

// batchWriter runs in a goroutine and batches write operations.
func (s *Store) batchWriter(batchSize int, flushInterval time.Duration) {
	defer s.wg.Done()

	batch := make([]writeOp, 0, batchSize)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}

		err := s.executeBatch(batch)

		for i := range batch {
			if batch[i].done != nil {
				batch[i].done <- err
				close(batch[i].done)
			}
		}

		batch = batch[:0]
	}

	for {
		select {
		case op := <-s.writeCh:
			batch = append(batch, op)
			if batchSize > 0 && len(batch) >= batchSize {
				flush()
			}

		case <-ticker.C:
			flush()

		case <-s.closeCh:
			// Drain whatever was queued before Close
			for {
				select {
				case op := <-s.writeCh:
					batch = append(batch, op)
					continue
				default:
				}
				break
			}
			flush()
			return
		}
	}
}

// executeBatch runs a batch of write operations in a single transaction.
func (s *Store) executeBatch(batch []writeOp) error {
	if len(batch) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, op := range batch {
		var err error
		switch op.opType {
		case "StoreEvents":
			err = s.storeEventsTx(tx, op.data.([]models.LogEvent))
		case "StoreRun":
			err = s.storeRunTx(tx, op.data.(*models.DetectionRun))
		case "Clear":
			err = s.clearTx(tx)
		default:
			err = fmt.Errorf("unknown operation: %s", op.opType)
		}

		if err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// enqueue hands an operation to the batch writer and waits for its commit.
func (s *Store) enqueue(ctx context.Context, opType string, data interface{}) error {
	select {
	case <-s.closeCh:
		return errors.New("store is closed")
	default:
	}

	done := make(chan error, 1)

	select {
	case s.writeCh <- writeOp{opType: opType, data: data, done: done}:
		select {
		case err := <-done:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	case <-ctx.Done():
		return ctx.Err()
	case <-s.closeCh:
		return errors.New("store is closed")
	}
}

// Close closes the store and releases resources.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closeCh)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// Clear removes all stored data.
func (s *Store) Clear(ctx context.Context) error {
	return s.enqueue(ctx, "Clear", nil)
}

func (s *Store) clearTx(tx *sql.Tx) error {
	for _, table := range []string{"anomalies", "runs", "events"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("clearing %s: %w", table, err)
		}
	}
	return nil
}

// StoreEvents appends events in the order given.
func (s *Store) StoreEvents(ctx context.Context, events []models.LogEvent) error {
	if len(events) == 0 {
		return nil
	}
	return s.enqueue(ctx, "StoreEvents", events)
}

func (s *Store) storeEventsTx(tx *sql.Tx, events []models.LogEvent) error {
	stmt, err := tx.Prepare(`
		INSERT INTO events (timestamp, level, component, message, details, ingested_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing event insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UnixNano()
	for _, e := range events {
		details, err := encodeJSON(e.Details)
		if err != nil {
			return err
		}
		if _, err := stmt.Exec(e.Timestamp, string(e.Level), e.Component, e.Message, details, now); err != nil {
			return fmt.Errorf("inserting event: %w", err)
		}
	}
	return nil
}

// ListEvents returns stored events in arrival order.
func (s *Store) ListEvents(ctx context.Context, filter models.EventFilter) ([]models.LogEvent, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.Component != "" {
		where = append(where, "component = ?")
		args = append(args, filter.Component)
	}
	if filter.Level != "" {
		where = append(where, "level = ?")
		args = append(args, string(filter.Level))
	}

	query := "SELECT timestamp, level, component, message, details FROM events"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
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
		if err := decodeJSON(details, &e.Details); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// CountEvents returns the number of stored events.
func (s *Store) CountEvents(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting events: %w", err)
	}
	return n, nil
}

// StoreRun stores or replaces a detection run and its anomalies.
func (s *Store) StoreRun(ctx context.Context, run *models.DetectionRun) error {
	if run == nil {
		return errors.New("run cannot be nil")
	}
	if run.ID == "" {
		return errors.New("run ID cannot be empty")
	}
	return s.enqueue(ctx, "StoreRun", run)
}

func (s *Store) storeRunTx(tx *sql.Tx, run *models.DetectionRun) error {
	dispatches, err := encodeJSON(run.Dispatches)
	if err != nil {
		return err
	}

	_, err = tx.Exec(`
		INSERT INTO runs (id, started_at, duration_ns, error_threshold, time_window_seconds, event_count, dispatches, inserted_seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(inserted_seq), 0) + 1 FROM runs))
		ON CONFLICT(id) DO UPDATE SET
			started_at = excluded.started_at,
			duration_ns = excluded.duration_ns,
			error_threshold = excluded.error_threshold,
			time_window_seconds = excluded.time_window_seconds,
			event_count = excluded.event_count,
			dispatches = excluded.dispatches
	`, run.ID, run.StartedAt.UnixNano(), int64(run.Duration), run.ErrorThreshold, run.TimeWindowSeconds, run.EventCount, dispatches)
	if err != nil {
		return fmt.Errorf("upserting run: %w", err)
	}

	if _, err := tx.Exec("DELETE FROM anomalies WHERE run_id = ?", run.ID); err != nil {
		return fmt.Errorf("replacing anomalies: %w", err)
	}

	for i, a := range run.Anomalies {
		_, err := tx.Exec(`
			INSERT INTO anomalies (run_id, position, timestamp, type, error_count, component, message)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, run.ID, i, a.Timestamp, string(a.Type), a.Details.ErrorCount, a.Details.Component, a.Details.Message)
		if err != nil {
			return fmt.Errorf("inserting anomaly: %w", err)
		}
	}
	return nil
}

// GetRun retrieves a detection run by ID.
func (s *Store) GetRun(ctx context.Context, id string) (*models.DetectionRun, error) {
	var (
		run        models.DetectionRun
		startedAt  int64
		durationNS int64
		dispatches string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, duration_ns, error_threshold, time_window_seconds, event_count, dispatches
		FROM runs WHERE id = ?
	`, id).Scan(&run.ID, &startedAt, &durationNS, &run.ErrorThreshold, &run.TimeWindowSeconds, &run.EventCount, &dispatches)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, models.ErrRunNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying run: %w", err)
	}

	run.StartedAt = time.Unix(0, startedAt).UTC()
	run.Duration = time.Duration(durationNS)
	if err := decodeJSON(dispatches, &run.Dispatches); err != nil {
		return nil, err
	}

	run.Anomalies, err = s.queryAnomalies(ctx, `
		SELECT timestamp, type, error_count, component, message
		FROM anomalies WHERE run_id = ? ORDER BY position
	`, id)
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRuns returns run summaries, newest first.
func (s *Store) ListRuns(ctx context.Context) ([]*models.RunSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.started_at, r.error_threshold, r.time_window_seconds, r.event_count, r.dispatches,
			(SELECT COUNT(*) FROM anomalies a WHERE a.run_id = r.id)
		FROM runs r
		ORDER BY r.started_at DESC, r.inserted_seq DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	summaries := make([]*models.RunSummary, 0)
	for rows.Next() {
		var (
			sum        models.RunSummary
			startedAt  int64
			dispatches string
		)
		if err := rows.Scan(&sum.ID, &startedAt, &sum.ErrorThreshold, &sum.TimeWindowSeconds, &sum.EventCount, &dispatches, &sum.AnomalyCount); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		sum.StartedAt = time.Unix(0, startedAt).UTC()

		run := models.DetectionRun{}
		if err := decodeJSON(dispatches, &run.Dispatches); err != nil {
			return nil, err
		}
		sum.IncidentCount = run.IncidentCount()
		summaries = append(summaries, &sum)
	}
	return summaries, rows.Err()
}

// ListAnomalies returns anomalies across runs in run insertion order.
func (s *Store) ListAnomalies(ctx context.Context, component string) ([]models.AnomalyRecord, error) {
	query := `
		SELECT a.timestamp, a.type, a.error_count, a.component, a.message
		FROM anomalies a JOIN runs r ON r.id = a.run_id
	`
	var args []interface{}
	if component != "" {
		query += " WHERE a.component = ?"
		args = append(args, component)
	}
	query += " ORDER BY r.inserted_seq, a.position"

	return s.queryAnomalies(ctx, query, args...)
}

func (s *Store) queryAnomalies(ctx context.Context, query string, args ...interface{}) ([]models.AnomalyRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying anomalies: %w", err)
	}
	defer rows.Close()

	anomalies := make([]models.AnomalyRecord, 0)
	for rows.Next() {
		var (
			a       models.AnomalyRecord
			anomaly string
		)
		if err := rows.Scan(&a.Timestamp, &anomaly, &a.Details.ErrorCount, &a.Details.Component, &a.Details.Message); err != nil {
			return nil, fmt.Errorf("scanning anomaly: %w", err)
		}
		a.Type = models.AnomalyType(anomaly)
		anomalies = append(anomalies, a)
	}
	return anomalies, rows.Err()
}

// Helper functions

// encodeJSON encodes data as JSON string.
func encodeJSON(data interface{}) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("encoding JSON: %w", err)
	}
	return string(b), nil
}

// decodeJSON decodes JSON string to target.
func decodeJSON(data string, target interface{}) error {
	if err := json.Unmarshal([]byte(data), target); err != nil {
		return fmt.Errorf("decoding JSON: %w", err)
	}
	return nil
}
