package generator

import (
	"testing"
	"time"

	"github.com/fidde/log_anomaly_detector/internal/detector"
	"github.com/fidde/log_anomaly_detector/pkg/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock() func() time.Time {
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return t0 }
}

func TestGenerate_Shape(t *testing.T) {
	g := New(WithSeed(42), WithClock(fixedClock()))
	events := g.Generate(200)
	require.Len(t, events, 200)

	for _, e := range events {
		assert.True(t, e.Level.Valid(), "level %q", e.Level)
		assert.Contains(t, DefaultComponents, e.Component)
		assert.Contains(t, e.Message, "Sample log message from ")
		assert.Equal(t, "2024-03-01T12:00:00.000000", e.Timestamp)

		code, ok := e.Details["code"].(int)
		require.True(t, ok)
		assert.GreaterOrEqual(t, code, 1000)
		assert.LessOrEqual(t, code, 9999)
		assert.Contains(t, []string{"success", "failure"}, e.Details["status"])

		_, err := uuid.Parse(e.Details["request_id"].(string))
		assert.NoError(t, err)
	}
}

func TestGenerate_SeedIsReproducible(t *testing.T) {
	a := New(WithSeed(7), WithClock(fixedClock())).Generate(50)
	b := New(WithSeed(7), WithClock(fixedClock())).Generate(50)
	assert.Equal(t, a, b)
}

func TestGenerate_SpacingKeepsOrder(t *testing.T) {
	events := New(WithSeed(1), WithClock(fixedClock()), WithSpacing(2*time.Second)).Generate(10)

	var prev time.Time
	for i, e := range events {
		ts, err := detector.ParseTimestamp(e.Timestamp)
		require.NoError(t, err)
		if i > 0 {
			assert.Equal(t, 2*time.Second, ts.Sub(prev))
		}
		prev = ts
	}
}

func TestGenerate_OutputIsDetectable(t *testing.T) {
	events := New(WithSeed(3)).Generate(500)
	_, err := detector.Detect(events, detector.DefaultConfig())
	assert.NoError(t, err)
}

func TestGenerate_NonPositiveCount(t *testing.T) {
	assert.Empty(t, New().Generate(0))
	assert.Empty(t, New().Generate(-3))
}

func TestWithComponents(t *testing.T) {
	events := New(WithSeed(9), WithComponents("Billing")).Generate(20)
	for _, e := range events {
		assert.Equal(t, "Billing", e.Component)
	}
	assert.NotEmpty(t, models.Levels)
}
