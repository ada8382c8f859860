package detector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fidde/log_anomaly_detector/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// seq builds events from (offset seconds, level, component) triples.
type step struct {
	offset    int
	level     models.Level
	component string
}

func seq(steps ...step) []models.LogEvent {
	events := make([]models.LogEvent, 0, len(steps))
	for _, s := range steps {
		component := s.component
		if component == "" {
			component = "Database"
		}
		events = append(events, models.LogEvent{
			Timestamp: base.Add(time.Duration(s.offset) * time.Second).Format("2006-01-02T15:04:05.000000"),
			Level:     s.level,
			Component: component,
			Message:   "sample",
		})
	}
	return events
}

func errorsEvery(n, start, spacing int) []step {
	steps := make([]step, n)
	for i := range steps {
		steps[i] = step{offset: start + i*spacing, level: models.LevelError}
	}
	return steps
}

func mustDetector(t *testing.T, cfg Config) *Detector {
	t.Helper()
	d, err := New(cfg)
	require.NoError(t, err)
	return d
}

func TestDetect_EmptyInput(t *testing.T) {
	for _, cfg := range []Config{DefaultConfig(), ConfigFromSeconds(1, 1), ConfigFromSeconds(100, 3600)} {
		got, err := mustDetector(t, cfg).Detect(nil)
		require.NoError(t, err)
		assert.NotNil(t, got)
		assert.Empty(t, got)
	}
}

func TestDetect_NoQualifyingEvents(t *testing.T) {
	var steps []step
	for i := 0; i < 50; i++ {
		level := models.LevelInfo
		if i%2 == 0 {
			level = models.LevelWarning
		}
		steps = append(steps, step{offset: i, level: level})
	}
	got, err := mustDetector(t, ConfigFromSeconds(1, 300)).Detect(seq(steps...))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDetect_ExactThresholdBurst(t *testing.T) {
	events := seq(errorsEvery(5, 0, 1)...)

	got, err := mustDetector(t, DefaultConfig()).Detect(events)
	require.NoError(t, err)
	require.Len(t, got, 1)

	assert.Equal(t, events[4].Timestamp, got[0].Timestamp)
	assert.Equal(t, models.AnomalyErrorThresholdExceeded, got[0].Type)
	assert.Equal(t, 5, got[0].Details.ErrorCount)
	assert.Equal(t, "Database", got[0].Details.Component)
	assert.Equal(t, "Error threshold exceeded in Database", got[0].Details.Message)
}

func TestDetect_ThresholdOvershoot(t *testing.T) {
	events := seq(errorsEvery(7, 0, 0)...)

	got, err := mustDetector(t, DefaultConfig()).Detect(events)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, want := range []int{5, 6, 7} {
		assert.Equal(t, want, got[i].Details.ErrorCount)
		assert.Equal(t, events[4+i].Timestamp, got[i].Timestamp)
	}
}

func TestDetect_RepeatedFiring(t *testing.T) {
	for k := 0; k < 6; k++ {
		events := seq(errorsEvery(DefaultErrorThreshold+k, 0, 1)...)
		got, err := mustDetector(t, DefaultConfig()).Detect(events)
		require.NoError(t, err)
		assert.Len(t, got, k+1, "threshold+%d events", k)
	}
}

func TestDetect_GapReset(t *testing.T) {
	steps := errorsEvery(4, 0, 1)
	steps = append(steps, step{offset: 3 + 300 + 1, level: models.LevelError})

	got, err := mustDetector(t, DefaultConfig()).Detect(seq(steps...))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDetect_GapResetThenAccumulates(t *testing.T) {
	steps := errorsEvery(4, 0, 1)
	steps = append(steps, errorsEvery(5, 1000, 1)...)

	got, err := mustDetector(t, DefaultConfig()).Detect(seq(steps...))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 5, got[0].Details.ErrorCount)
}

func TestDetect_BoundaryGapDoesNotReset(t *testing.T) {
	steps := errorsEvery(4, 0, 1)
	steps = append(steps, step{offset: 3 + 300, level: models.LevelError})

	got, err := mustDetector(t, DefaultConfig()).Detect(seq(steps...))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 5, got[0].Details.ErrorCount)
}

func TestDetect_SubSecondGapBeyondWindowResets(t *testing.T) {
	events := seq(errorsEvery(4, 0, 1)...)
	late := base.Add(3*time.Second + 300*time.Second + 500*time.Millisecond)
	events = append(events, models.LogEvent{
		Timestamp: late.Format(time.RFC3339Nano),
		Level:     models.LevelError,
		Component: "Database",
	})

	got, err := mustDetector(t, DefaultConfig()).Detect(events)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDetect_MixedLevels(t *testing.T) {
	events := seq(
		step{0, models.LevelError, ""},
		step{1, models.LevelInfo, ""},
		step{2, models.LevelError, ""},
		step{3, models.LevelWarning, ""},
		step{4, models.LevelCritical, ""},
		step{5, models.LevelInfo, ""},
		step{6, models.LevelWarning, ""},
		step{7, models.LevelError, ""},
		step{8, models.LevelInfo, ""},
		step{9, models.LevelCritical, ""},
		step{10, models.LevelInfo, ""},
	)

	got, err := mustDetector(t, DefaultConfig()).Detect(events)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, events[9].Timestamp, got[0].Timestamp)
	assert.Equal(t, 5, got[0].Details.ErrorCount)
}

func TestDetect_NonQualifyingEventsAdvanceGapClock(t *testing.T) {
	// The INFO event at 200s bridges the 350s span between errors.
	steps := errorsEvery(4, 0, 1)
	steps = append(steps,
		step{offset: 200, level: models.LevelInfo},
		step{offset: 350, level: models.LevelError},
	)

	got, err := mustDetector(t, DefaultConfig()).Detect(seq(steps...))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 5, got[0].Details.ErrorCount)
}

func TestDetect_NonQualifyingEventAfterLongGapResets(t *testing.T) {
	steps := errorsEvery(4, 0, 1)
	steps = append(steps,
		step{offset: 1000, level: models.LevelInfo},
		step{offset: 1001, level: models.LevelError},
	)

	got, err := mustDetector(t, DefaultConfig()).Detect(seq(steps...))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDetect_ComponentAttribution(t *testing.T) {
	components := []string{"Network", "Database", "Security", "Network", "Application", "System", "Database"}
	steps := make([]step, len(components))
	for i, c := range components {
		steps[i] = step{offset: i, level: models.LevelError, component: c}
	}

	got, err := mustDetector(t, DefaultConfig()).Detect(seq(steps...))
	require.NoError(t, err)
	require.Len(t, got, 3)

	// The count is shared across components.
	for i, a := range got {
		assert.Equal(t, components[4+i], a.Details.Component)
		assert.Equal(t, "Error threshold exceeded in "+components[4+i], a.Details.Message)
		assert.Equal(t, 5+i, a.Details.ErrorCount)
	}
}

func TestDetect_FirstEventCountsAsOne(t *testing.T) {
	events := seq(step{0, models.LevelCritical, ""})

	got, err := mustDetector(t, DefaultConfig()).Detect(events)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = mustDetector(t, ConfigFromSeconds(1, 300)).Detect(events)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].Details.ErrorCount)
}

func TestDetect_LevelCaseIsNormalized(t *testing.T) {
	events := seq(errorsEvery(5, 0, 1)...)
	events[2].Level = "error"
	events[3].Level = "Critical"

	got, err := mustDetector(t, DefaultConfig()).Detect(events)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestDetect_DoesNotMutateInput(t *testing.T) {
	events := seq(errorsEvery(6, 0, 1)...)
	events[0].Details = map[string]any{"code": 1234}
	before := make([]models.LogEvent, len(events))
	copy(before, events)

	_, err := mustDetector(t, DefaultConfig()).Detect(events)
	require.NoError(t, err)
	assert.Equal(t, before, events)
}

func TestDetect_MalformedInput(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(e *models.LogEvent)
		field  string
	}{
		{"bad timestamp", func(e *models.LogEvent) { e.Timestamp = "yesterday" }, "timestamp"},
		{"empty timestamp", func(e *models.LogEvent) { e.Timestamp = "" }, "timestamp"},
		{"missing level", func(e *models.LogEvent) { e.Level = "" }, "level"},
		{"unknown level", func(e *models.LogEvent) { e.Level = "DEBUG" }, "level"},
		{"missing component", func(e *models.LogEvent) { e.Component = "" }, "component"},
		{"blank component", func(e *models.LogEvent) { e.Component = "   " }, "component"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := seq(errorsEvery(8, 0, 1)...)
			tt.mutate(&events[6])

			got, err := mustDetector(t, DefaultConfig()).Detect(events)
			require.Error(t, err)
			assert.Nil(t, got, "no partial results")
			assert.ErrorIs(t, err, ErrMalformedEvent)

			var evErr *EventError
			require.True(t, errors.As(err, &evErr))
			assert.Equal(t, 6, evErr.Index)
			assert.Equal(t, tt.field, evErr.Field)
			assert.Contains(t, err.Error(), "event 6")
		})
	}
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"zero threshold", Config{ErrorThreshold: 0, TimeWindow: time.Minute}},
		{"negative threshold", Config{ErrorThreshold: -1, TimeWindow: time.Minute}},
		{"zero window", Config{ErrorThreshold: 5, TimeWindow: 0}},
		{"negative window", Config{ErrorThreshold: 5, TimeWindow: -time.Second}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := New(tt.cfg)
			assert.Nil(t, d)
			assert.ErrorIs(t, err, ErrInvalidConfig)

			_, err = Detect(nil, tt.cfg)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 5, cfg.ErrorThreshold)
	assert.Equal(t, 300*time.Second, cfg.TimeWindow)
	assert.Equal(t, 300, cfg.WindowSeconds())
	assert.NoError(t, cfg.Validate())
}

func TestDetectAll_IndependentCounters(t *testing.T) {
	d := mustDetector(t, DefaultConfig())

	// Each sequence alone stays under the threshold; a shared counter would fire.
	sequences := [][]models.LogEvent{
		seq(errorsEvery(3, 0, 1)...),
		seq(errorsEvery(3, 0, 1)...),
		seq(errorsEvery(6, 0, 1)...),
		nil,
	}

	results, err := d.DetectAll(context.Background(), sequences)
	require.NoError(t, err)
	require.Len(t, results, 4)
	assert.Empty(t, results[0])
	assert.Empty(t, results[1])
	assert.Len(t, results[2], 2)
	assert.Empty(t, results[3])
}

func TestDetectAll_PropagatesMalformedSequence(t *testing.T) {
	d := mustDetector(t, DefaultConfig())
	bad := seq(errorsEvery(2, 0, 1)...)
	bad[1].Timestamp = "not-a-time"

	_, err := d.DetectAll(context.Background(), [][]models.LogEvent{seq(errorsEvery(2, 0, 1)...), bad})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedEvent)
	assert.Contains(t, err.Error(), "sequence 1")
}

func TestValidate(t *testing.T) {
	events := seq(errorsEvery(4, 0, 1)...)
	assert.NoError(t, Validate(events))
	assert.NoError(t, Validate(nil))

	events[2].Level = "NOTICE"
	err := Validate(events)

	var eventErr *EventError
	require.ErrorAs(t, err, &eventErr)
	assert.Equal(t, 2, eventErr.Index)
	assert.Equal(t, "level", eventErr.Field)
}
