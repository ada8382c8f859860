// Package storage defines the storage interface for log events and detection runs.
package storage

import (
	"context"

	"github.com/fidde/log_anomaly_detector/pkg/models"
)

// Storage is the interface for storing ingested events and detection results.
// Implementations must be safe for concurrent use.
type Storage interface {
	// Event operations. Events are returned in arrival order.
	StoreEvents(ctx context.Context, events []models.LogEvent) error
	ListEvents(ctx context.Context, filter models.EventFilter) ([]models.LogEvent, error)
	CountEvents(ctx context.Context) (int64, error)

	// Detection run operations
	StoreRun(ctx context.Context, run *models.DetectionRun) error
	GetRun(ctx context.Context, id string) (*models.DetectionRun, error)
	ListRuns(ctx context.Context) ([]*models.RunSummary, error)

	// ListAnomalies returns anomalies from all runs, oldest run first,
	// optionally filtered by component.
	ListAnomalies(ctx context.Context, component string) ([]models.AnomalyRecord, error)

	// Clear all data
	Clear(ctx context.Context) error

	// Close the storage (for cleanup, e.g., DB connections)
	Close() error
}
