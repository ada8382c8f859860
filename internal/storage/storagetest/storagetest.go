// Package storagetest holds behavior checks shared by every storage backend.
package storagetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/fidde/log_anomaly_detector/internal/storage"
	"github.com/fidde/log_anomaly_detector/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty store. Cleanup is the factory's job.
type Factory func(t *testing.T) storage.Storage

// Events returns n events one second apart, cycling levels and components.
func Events(n int) []models.LogEvent {
	components := []string{"Database", "Network", "Security"}
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	events := make([]models.LogEvent, n)
	for i := range events {
		events[i] = models.LogEvent{
			Timestamp: base.Add(time.Duration(i) * time.Second).Format("2006-01-02T15:04:05.000000"),
			Level:     models.Levels[i%len(models.Levels)],
			Component: components[i%len(components)],
			Message:   fmt.Sprintf("event %d", i),
			Details:   map[string]any{"status": "failure", "seq": fmt.Sprint(i)},
		}
	}
	return events
}

// Run builds a detection run with one anomaly per component given.
func Run(id string, startedAt time.Time, components ...string) *models.DetectionRun {
	run := &models.DetectionRun{
		ID:                id,
		StartedAt:         startedAt,
		Duration:          15 * time.Millisecond,
		ErrorThreshold:    5,
		TimeWindowSeconds: 300,
		EventCount:        100,
		Anomalies:         make([]models.AnomalyRecord, 0, len(components)),
	}
	for i, c := range components {
		e := models.LogEvent{
			Timestamp: startedAt.Add(time.Duration(i) * time.Second).Format(time.RFC3339Nano),
			Level:     models.LevelError,
			Component: c,
		}
		run.Anomalies = append(run.Anomalies, models.NewErrorThresholdAnomaly(e, 5+i))
	}
	return run
}

// RunAll exercises the full Storage contract against newStore.
func RunAll(t *testing.T, newStore Factory) {
	t.Run("EventsKeepArrivalOrder", func(t *testing.T) { testEventsOrder(t, newStore(t)) })
	t.Run("EventFilters", func(t *testing.T) { testEventFilters(t, newStore(t)) })
	t.Run("Runs", func(t *testing.T) { testRuns(t, newStore(t)) })
	t.Run("RunsSameStartTime", func(t *testing.T) { testRunsSameStartTime(t, newStore(t)) })
	t.Run("RunNotFound", func(t *testing.T) { testRunNotFound(t, newStore(t)) })
	t.Run("Anomalies", func(t *testing.T) { testAnomalies(t, newStore(t)) })
	t.Run("Clear", func(t *testing.T) { testClear(t, newStore(t)) })
}

func testEventsOrder(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	events := Events(12)

	require.NoError(t, s.StoreEvents(ctx, events[:5]))
	require.NoError(t, s.StoreEvents(ctx, events[5:]))
	require.NoError(t, s.StoreEvents(ctx, nil))

	got, err := s.ListEvents(ctx, models.EventFilter{})
	require.NoError(t, err)
	require.Len(t, got, len(events))
	for i := range events {
		assert.Equal(t, events[i].Timestamp, got[i].Timestamp)
		assert.Equal(t, events[i].Level, got[i].Level)
		assert.Equal(t, events[i].Component, got[i].Component)
		assert.Equal(t, events[i].Message, got[i].Message)
		assert.Equal(t, events[i].Details["seq"], got[i].Details["seq"])
	}

	n, err := s.CountEvents(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, len(events), n)
}

func testEventFilters(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	require.NoError(t, s.StoreEvents(ctx, Events(24)))

	db, err := s.ListEvents(ctx, models.EventFilter{Component: "Database"})
	require.NoError(t, err)
	assert.Len(t, db, 8)
	for _, e := range db {
		assert.Equal(t, "Database", e.Component)
	}

	errs, err := s.ListEvents(ctx, models.EventFilter{Level: models.LevelError})
	require.NoError(t, err)
	assert.Len(t, errs, 6)

	limited, err := s.ListEvents(ctx, models.EventFilter{Limit: 3})
	require.NoError(t, err)
	require.Len(t, limited, 3)
	assert.Equal(t, "event 0", limited[0].Message)
	assert.Equal(t, "event 2", limited[2].Message)
}

func testRuns(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	older := Run("run-older", t0, "Database", "Network")
	older.Dispatches = []models.Dispatch{
		{AnomalyIndex: 0, IncidentNumber: "INC0010001", IncidentSysID: "abc", Notified: true},
		{AnomalyIndex: 1, Error: "ticketing: status 500"},
	}
	newer := Run("run-newer", t0.Add(time.Hour), "Security")

	require.NoError(t, s.StoreRun(ctx, older))
	require.NoError(t, s.StoreRun(ctx, newer))

	got, err := s.GetRun(ctx, "run-older")
	require.NoError(t, err)
	assert.Equal(t, older.ID, got.ID)
	assert.True(t, older.StartedAt.Equal(got.StartedAt))
	assert.Equal(t, older.ErrorThreshold, got.ErrorThreshold)
	assert.Equal(t, older.TimeWindowSeconds, got.TimeWindowSeconds)
	assert.Equal(t, older.EventCount, got.EventCount)
	assert.Equal(t, older.Anomalies, got.Anomalies)
	assert.Equal(t, older.Dispatches, got.Dispatches)

	summaries, err := s.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, "run-newer", summaries[0].ID)
	assert.Equal(t, 1, summaries[0].AnomalyCount)
	assert.Equal(t, "run-older", summaries[1].ID)
	assert.Equal(t, 2, summaries[1].AnomalyCount)
	assert.Equal(t, 1, summaries[1].IncidentCount)
}

func testRunsSameStartTime(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.StoreRun(ctx, Run("tie-first", t0, "Database")))
	require.NoError(t, s.StoreRun(ctx, Run("latest", t0.Add(time.Minute), "Network")))
	require.NoError(t, s.StoreRun(ctx, Run("tie-second", t0, "Security")))
	require.NoError(t, s.StoreRun(ctx, Run("tie-third", t0, "Database")))

	summaries, err := s.ListRuns(ctx)
	require.NoError(t, err)
	ids := make([]string, 0, len(summaries))
	for _, sum := range summaries {
		ids = append(ids, sum.ID)
	}
	assert.Equal(t, []string{"latest", "tie-third", "tie-second", "tie-first"}, ids)
}

func testRunNotFound(t *testing.T, s storage.Storage) {
	_, err := s.GetRun(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, models.ErrRunNotFound)
}

func testAnomalies(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.StoreRun(ctx, Run("a", t0, "Database", "Network", "Database")))
	require.NoError(t, s.StoreRun(ctx, Run("b", t0.Add(time.Minute), "Database")))

	all, err := s.ListAnomalies(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, 5, all[0].Details.ErrorCount)
	assert.Equal(t, 7, all[2].Details.ErrorCount)
	assert.Equal(t, 5, all[3].Details.ErrorCount)

	db, err := s.ListAnomalies(ctx, "Database")
	require.NoError(t, err)
	assert.Len(t, db, 3)
	for _, a := range db {
		assert.Equal(t, "Database", a.Details.Component)
	}
}

func testClear(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	require.NoError(t, s.StoreEvents(ctx, Events(5)))
	require.NoError(t, s.StoreRun(ctx, Run("r", time.Now().UTC(), "Database")))

	require.NoError(t, s.Clear(ctx))

	n, err := s.CountEvents(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	runs, err := s.ListRuns(ctx)
	require.NoError(t, err)
	assert.Empty(t, runs)

	anomalies, err := s.ListAnomalies(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, anomalies)
}
