// Package generator produces synthetic log events for demos and load tests.
package generator

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/fidde/log_anomaly_detector/pkg/models"
	"github.com/google/uuid"
)

// TimestampLayout matches the naive ISO-8601 form with microseconds.
const TimestampLayout = "2006-01-02T15:04:05.000000"

// DefaultComponents are the subsystems synthetic events are attributed to.
var DefaultComponents = []string{"System", "Network", "Database", "Application", "Security"}

var statuses = []string{"success", "failure"}

// Option configures a Generator.
type Option func(*Generator)

// WithSeed makes the generated sequence reproducible.
func WithSeed(seed uint64) Option {
	return func(g *Generator) {
		g.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

// WithClock sets the time source used for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		if now != nil {
			g.now = now
		}
	}
}

// WithSpacing advances the timestamp by d between consecutive events.
// Without it every event in a batch is stamped with the clock's current time.
func WithSpacing(d time.Duration) Option {
	return func(g *Generator) {
		if d > 0 {
			g.spacing = d
		}
	}
}

// WithComponents overrides the component pool.
func WithComponents(components ...string) Option {
	return func(g *Generator) {
		if len(components) > 0 {
			g.components = components
		}
	}
}

// Generator builds random log events.
// A Generator is not safe for concurrent use.
type Generator struct {
	rng        *rand.Rand
	now        func() time.Time
	spacing    time.Duration
	components []string
}

// New creates a generator.
func New(opts ...Option) *Generator {
	g := &Generator{
		rng:        rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		now:        time.Now,
		components: DefaultComponents,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// GenerateOne returns a single event stamped at t.
func (g *Generator) GenerateOne(t time.Time) models.LogEvent {
	return models.LogEvent{
		Timestamp: t.Format(TimestampLayout),
		Level:     models.Levels[g.rng.IntN(len(models.Levels))],
		Component: g.pick(g.components),
		Message:   fmt.Sprintf("Sample log message from %s component", g.pick(g.components)),
		Details: map[string]any{
			"status":     g.pick(statuses),
			"code":       1000 + g.rng.IntN(9000),
			"request_id": g.requestID(),
		},
	}
}

// Generate returns count events in non-decreasing timestamp order.
func (g *Generator) Generate(count int) []models.LogEvent {
	if count <= 0 {
		return []models.LogEvent{}
	}

	events := make([]models.LogEvent, 0, count)
	start := g.now()
	for i := 0; i < count; i++ {
		t := start
		if g.spacing > 0 {
			t = start.Add(time.Duration(i) * g.spacing)
		} else if now := g.now(); now.After(t) {
			t = now
		}
		events = append(events, g.GenerateOne(t))
	}
	return events
}

func (g *Generator) pick(values []string) string {
	return values[g.rng.IntN(len(values))]
}

// requestID derives a UUID from the generator's RNG so seeded runs repeat.
func (g *Generator) requestID() string {
	var b [16]byte
	for i := 0; i < len(b); i += 8 {
		v := g.rng.Uint64()
		for j := 0; j < 8; j++ {
			b[i+j] = byte(v >> (8 * j))
		}
	}
	id, err := uuid.FromBytes(b[:])
	if err != nil {
		return uuid.NewString()
	}
	// Stamp version 4 / RFC 4122 variant bits.
	id[6] = (id[6] & 0x0f) | 0x40
	id[8] = (id[8] & 0x3f) | 0x80
	return id.String()
}
