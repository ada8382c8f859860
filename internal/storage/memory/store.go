// Package memory provides an in-memory storage implementation.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/fidde/log_anomaly_detector/pkg/models"
)

// Store is an in-memory storage for events and detection runs.
type Store struct {
	// Events in arrival order
	events   []models.LogEvent
	eventsmu sync.RWMutex

	// Runs by ID, plus insertion order for listing
	runs     map[string]*models.DetectionRun
	runOrder []string
	runsmu   sync.RWMutex
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		events: make([]models.LogEvent, 0),
		runs:   make(map[string]*models.DetectionRun),
	}
}

// StoreEvents appends events in the order given.
func (s *Store) StoreEvents(ctx context.Context, events []models.LogEvent) error {
	s.eventsmu.Lock()
	defer s.eventsmu.Unlock()

	s.events = append(s.events, events...)
	return nil
}

// ListEvents returns stored events in arrival order.
func (s *Store) ListEvents(ctx context.Context, filter models.EventFilter) ([]models.LogEvent, error) {
	s.eventsmu.RLock()
	defer s.eventsmu.RUnlock()

	events := make([]models.LogEvent, 0, len(s.events))
	for _, e := range s.events {
		if !filter.Matches(e) {
			continue
		}
		events = append(events, e)
		if filter.Limit > 0 && len(events) >= filter.Limit {
			break
		}
	}
	return events, nil
}

// CountEvents returns the number of stored events.
func (s *Store) CountEvents(ctx context.Context) (int64, error) {
	s.eventsmu.RLock()
	defer s.eventsmu.RUnlock()

	return int64(len(s.events)), nil
}

// StoreRun stores or replaces a detection run.
func (s *Store) StoreRun(ctx context.Context, run *models.DetectionRun) error {
	if run == nil {
		return errors.New("run cannot be nil")
	}
	if run.ID == "" {
		return errors.New("run ID cannot be empty")
	}

	s.runsmu.Lock()
	defer s.runsmu.Unlock()

	if _, exists := s.runs[run.ID]; !exists {
		s.runOrder = append(s.runOrder, run.ID)
	}
	cp := *run
	cp.Anomalies = append([]models.AnomalyRecord(nil), run.Anomalies...)
	cp.Dispatches = append([]models.Dispatch(nil), run.Dispatches...)
	s.runs[run.ID] = &cp
	return nil
}

// GetRun retrieves a detection run by ID.
func (s *Store) GetRun(ctx context.Context, id string) (*models.DetectionRun, error) {
	s.runsmu.RLock()
	defer s.runsmu.RUnlock()

	run, exists := s.runs[id]
	if !exists {
		return nil, fmt.Errorf("run %s: %w", id, models.ErrRunNotFound)
	}
	cp := *run
	return &cp, nil
}

// ListRuns returns run summaries, newest first.
// Runs with the same start time are listed most recently inserted first.
func (s *Store) ListRuns(ctx context.Context) ([]*models.RunSummary, error) {
	s.runsmu.RLock()
	defer s.runsmu.RUnlock()

	summaries := make([]*models.RunSummary, 0, len(s.runs))
	for i := len(s.runOrder) - 1; i >= 0; i-- {
		summaries = append(summaries, s.runs[s.runOrder[i]].Summary())
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].StartedAt.After(summaries[j].StartedAt)
	})
	return summaries, nil
}

// ListAnomalies returns anomalies across runs in run insertion order.
func (s *Store) ListAnomalies(ctx context.Context, component string) ([]models.AnomalyRecord, error) {
	s.runsmu.RLock()
	defer s.runsmu.RUnlock()

	anomalies := make([]models.AnomalyRecord, 0)
	for _, id := range s.runOrder {
		for _, a := range s.runs[id].Anomalies {
			if component != "" && a.Details.Component != component {
				continue
			}
			anomalies = append(anomalies, a)
		}
	}
	return anomalies, nil
}

// Clear removes all data.
func (s *Store) Clear(ctx context.Context) error {
	s.eventsmu.Lock()
	s.events = make([]models.LogEvent, 0)
	s.eventsmu.Unlock()

	s.runsmu.Lock()
	s.runs = make(map[string]*models.DetectionRun)
	s.runOrder = nil
	s.runsmu.Unlock()

	return nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}
