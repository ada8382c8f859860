package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fidde/log_anomaly_detector/internal/detector"
	"github.com/fidde/log_anomaly_detector/internal/storage/memory"
	"github.com/fidde/log_anomaly_detector/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTicketer struct {
	mu       sync.Mutex
	created  []models.AnomalyRecord
	failAt   map[int]bool
	onCreate func(n int)
}

func (f *fakeTicketer) CreateIncident(ctx context.Context, a models.AnomalyRecord) (*models.Incident, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := len(f.created)
	f.created = append(f.created, a)
	if f.onCreate != nil {
		f.onCreate(n)
	}
	if f.failAt[n] {
		return nil, errors.New("servicenow down")
	}
	return &models.Incident{
		SysID:  fmt.Sprintf("sys-%d", n),
		Number: fmt.Sprintf("INC%04d", n),
	}, nil
}

func (f *fakeTicketer) UpdateIncident(ctx context.Context, sysID string, fields map[string]string) (*models.Incident, error) {
	return &models.Incident{SysID: sysID}, nil
}

type fakeNotifier struct {
	sent []string
	err  error
}

func (f *fakeNotifier) SendIncidentAlert(ctx context.Context, incident *models.Incident) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, incident.Number)
	return nil
}

// burst returns n ERROR events one second apart.
func burst(n int) []models.LogEvent {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	events := make([]models.LogEvent, n)
	for i := range events {
		events[i] = models.LogEvent{
			Timestamp: base.Add(time.Duration(i) * time.Second).Format(time.RFC3339),
			Level:     models.LevelError,
			Component: "Database",
			Message:   "query timeout",
		}
	}
	return events
}

func TestRun_DetectsAndStores(t *testing.T) {
	store := memory.New()
	p := New(store, Options{})

	run, err := p.Run(context.Background(), burst(7), detector.DefaultConfig(), RunOptions{})
	require.NoError(t, err)

	assert.NotEmpty(t, run.ID)
	assert.Equal(t, 7, run.EventCount)
	assert.Equal(t, 5, run.ErrorThreshold)
	assert.Equal(t, 300, run.TimeWindowSeconds)
	require.Len(t, run.Anomalies, 3)
	assert.Equal(t, []int{5, 6, 7}, []int{
		run.Anomalies[0].Details.ErrorCount,
		run.Anomalies[1].Details.ErrorCount,
		run.Anomalies[2].Details.ErrorCount,
	})
	assert.Empty(t, run.Dispatches)

	stored, err := store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.Anomalies, stored.Anomalies)
}

func TestRun_MalformedStoresNothing(t *testing.T) {
	store := memory.New()
	p := New(store, Options{})

	events := burst(3)
	events[1].Timestamp = "yesterday"

	_, err := p.Run(context.Background(), events, detector.DefaultConfig(), RunOptions{})
	require.ErrorIs(t, err, detector.ErrMalformedEvent)

	var eventErr *detector.EventError
	require.ErrorAs(t, err, &eventErr)
	assert.Equal(t, 1, eventErr.Index)

	runs, err := store.ListRuns(context.Background())
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestRun_InvalidConfig(t *testing.T) {
	p := New(memory.New(), Options{})
	_, err := p.Run(context.Background(), burst(3), detector.Config{ErrorThreshold: 0, TimeWindow: time.Second}, RunOptions{})
	assert.ErrorIs(t, err, detector.ErrInvalidConfig)
}

func TestRun_Dispatch(t *testing.T) {
	ticketer := &fakeTicketer{failAt: map[int]bool{1: true}}
	notifier := &fakeNotifier{}
	p := New(memory.New(), Options{Ticketer: ticketer, Notifier: notifier})

	run, err := p.Run(context.Background(), burst(7), detector.DefaultConfig(), RunOptions{Dispatch: true})
	require.NoError(t, err)

	require.Len(t, run.Dispatches, 3)
	assert.Len(t, ticketer.created, 3, "a failed incident must not stop the rest")

	assert.Equal(t, "INC0000", run.Dispatches[0].IncidentNumber)
	assert.True(t, run.Dispatches[0].Notified)

	assert.Empty(t, run.Dispatches[1].IncidentNumber)
	assert.Contains(t, run.Dispatches[1].Error, "servicenow down")
	assert.False(t, run.Dispatches[1].Notified)

	assert.Equal(t, 2, run.Dispatches[2].AnomalyIndex)
	assert.Equal(t, []string{"INC0000", "INC0002"}, notifier.sent)
	assert.Equal(t, 2, run.IncidentCount())

	err = DispatchError(run)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anomaly 1")
}

func TestRun_NotifierFailureKeepsIncident(t *testing.T) {
	p := New(memory.New(), Options{
		Ticketer: &fakeTicketer{},
		Notifier: &fakeNotifier{err: errors.New("webhook gone")},
	})

	run, err := p.Run(context.Background(), burst(5), detector.DefaultConfig(), RunOptions{Dispatch: true})
	require.NoError(t, err)
	require.Len(t, run.Dispatches, 1)
	assert.Equal(t, "INC0000", run.Dispatches[0].IncidentNumber)
	assert.False(t, run.Dispatches[0].Notified)
	assert.Contains(t, run.Dispatches[0].Error, "webhook gone")
}

func TestRun_DispatchWithoutTicketer(t *testing.T) {
	p := New(memory.New(), Options{})
	run, err := p.Run(context.Background(), burst(6), detector.DefaultConfig(), RunOptions{Dispatch: true})
	require.NoError(t, err)
	assert.Len(t, run.Anomalies, 2)
	assert.Empty(t, run.Dispatches)
	assert.NoError(t, DispatchError(run))
}

func TestRun_DispatchDeadlineKeepsIncidents(t *testing.T) {
	store := memory.New()
	ticketer := &fakeTicketer{}
	p := New(store, Options{Ticketer: ticketer, IncidentsPerSecond: 0.001, Burst: 1})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	run, err := p.Run(ctx, burst(7), detector.DefaultConfig(), RunOptions{Dispatch: true})
	require.Error(t, err)
	require.NotNil(t, run)
	assert.Len(t, run.Anomalies, 3)
	require.Len(t, run.Dispatches, 1)
	assert.Equal(t, "INC0000", run.Dispatches[0].IncidentNumber)
	assert.Len(t, ticketer.created, 1)

	stored, err := store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Anomalies, 3)
	assert.Equal(t, run.Dispatches, stored.Dispatches)
}

func TestRun_CanceledMidDispatch(t *testing.T) {
	store := memory.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ticketer := &fakeTicketer{onCreate: func(n int) {
		if n == 1 {
			cancel()
		}
	}}
	p := New(store, Options{Ticketer: ticketer})

	// 10 consecutive errors fire 6 anomalies.
	run, err := p.Run(ctx, burst(10), detector.DefaultConfig(), RunOptions{Dispatch: true})
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, run)
	assert.Len(t, run.Anomalies, 6)
	assert.Len(t, run.Dispatches, 2)
	assert.Len(t, ticketer.created, 2)

	runs, err := store.ListRuns(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)

	stored, err := store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Dispatches, 2)
}

func TestRunStored(t *testing.T) {
	store := memory.New()
	require.NoError(t, store.StoreEvents(context.Background(), burst(5)))

	p := New(store, Options{})
	run, err := p.RunStored(context.Background(), detector.DefaultConfig(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 5, run.EventCount)
	assert.Len(t, run.Anomalies, 1)
}
