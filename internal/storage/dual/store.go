// Package dual mirrors writes from a primary storage backend to a secondary one.
package dual

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/fidde/log_anomaly_detector/internal/storage"
	"github.com/fidde/log_anomaly_detector/pkg/models"
)

// ErrClosed is returned by writes after Close.
var ErrClosed = errors.New("dual store is closed")

// queueSize bounds secondary writes waiting on the mirror worker.
const queueSize = 256

// Store wraps two storage backends.
// Writes go to both primary and secondary.
// Reads come from primary only.
// Secondary writes are applied by a single worker in primary commit order.
type Store struct {
	primary   storage.Storage
	secondary storage.Storage
	logger    *slog.Logger

	// mu spans a primary write and its enqueue so the queue follows primary order.
	mu     sync.Mutex
	closed bool

	queue   chan mirrorOp
	done    chan struct{}
	pending sync.WaitGroup
}

type mirrorOp struct {
	name  string
	write func() error
}

// Config holds dual store configuration.
type Config struct {
	Primary   storage.Storage
	Secondary storage.Storage
	Logger    *slog.Logger
}

// New creates a new mirroring store.
func New(cfg Config) *Store {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Store{
		primary:   cfg.Primary,
		secondary: cfg.Secondary,
		logger:    cfg.Logger,
		queue:     make(chan mirrorOp, queueSize),
		done:      make(chan struct{}),
	}
	go s.worker()
	return s
}

// worker applies queued secondary writes one at a time.
func (s *Store) worker() {
	defer close(s.done)
	for op := range s.queue {
		if err := op.write(); err != nil {
			s.logger.Error("mirror write to secondary failed",
				"operation", op.name,
				"error", err,
			)
		}
		s.pending.Done()
	}
}

// mirror performs a write against primary and queues the same write for secondary.
// Errors from secondary are logged but don't fail the operation.
func (s *Store) mirror(op string, primaryWrite, secondaryWrite func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if err := primaryWrite(); err != nil {
		return err
	}

	s.pending.Add(1)
	s.queue <- mirrorOp{name: op, write: secondaryWrite}
	return nil
}

// Flush blocks until all in-flight secondary writes have finished.
func (s *Store) Flush() {
	s.pending.Wait()
}

// StoreEvents stores events in both backends.
func (s *Store) StoreEvents(ctx context.Context, events []models.LogEvent) error {
	// Secondary writes outlive the request that triggered them.
	bg := context.WithoutCancel(ctx)
	return s.mirror("StoreEvents",
		func() error { return s.primary.StoreEvents(ctx, events) },
		func() error { return s.secondary.StoreEvents(bg, events) },
	)
}

// ListEvents lists events from primary backend only.
func (s *Store) ListEvents(ctx context.Context, filter models.EventFilter) ([]models.LogEvent, error) {
	return s.primary.ListEvents(ctx, filter)
}

// CountEvents counts events in primary backend only.
func (s *Store) CountEvents(ctx context.Context) (int64, error) {
	return s.primary.CountEvents(ctx)
}

// StoreRun stores a detection run in both backends.
func (s *Store) StoreRun(ctx context.Context, run *models.DetectionRun) error {
	bg := context.WithoutCancel(ctx)
	return s.mirror("StoreRun",
		func() error { return s.primary.StoreRun(ctx, run) },
		func() error { return s.secondary.StoreRun(bg, run) },
	)
}

// GetRun retrieves a run from primary backend only.
func (s *Store) GetRun(ctx context.Context, id string) (*models.DetectionRun, error) {
	return s.primary.GetRun(ctx, id)
}

// ListRuns lists runs from primary backend only.
func (s *Store) ListRuns(ctx context.Context) ([]*models.RunSummary, error) {
	return s.primary.ListRuns(ctx)
}

// ListAnomalies lists anomalies from primary backend only.
func (s *Store) ListAnomalies(ctx context.Context, component string) ([]models.AnomalyRecord, error) {
	return s.primary.ListAnomalies(ctx, component)
}

// Clear clears both backends.
func (s *Store) Clear(ctx context.Context) error {
	s.Flush()

	if err := s.primary.Clear(ctx); err != nil {
		return fmt.Errorf("clear primary: %w", err)
	}

	// Clear secondary (best effort)
	if err := s.secondary.Clear(ctx); err != nil {
		s.logger.Error("failed to clear secondary backend",
			"error", err,
		)
	}

	return nil
}

// Close drains pending mirror writes, stops the worker and closes both backends.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()
	<-s.done

	primaryErr := s.primary.Close()
	secondaryErr := s.secondary.Close()

	if primaryErr != nil {
		return fmt.Errorf("close primary: %w", primaryErr)
	}
	if secondaryErr != nil {
		return fmt.Errorf("close secondary: %w", secondaryErr)
	}

	return nil
}
