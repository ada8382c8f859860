// Package detector flags bursts of ERROR and CRITICAL log events.
//
// The rule is a gap-reset threshold: a running count of qualifying events is
// kept across the whole sequence and reset to zero only when the time since
// the previous event (of any level) is strictly greater than the window.
// Every qualifying event at or above the threshold raises an anomaly; the
// count is not cleared after an anomaly fires.
package detector

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fidde/log_anomaly_detector/pkg/models"
	"golang.org/x/sync/errgroup"
)

// Detector applies the threshold rule. It holds no state between calls and
// is safe for concurrent use.
type Detector struct {
	cfg Config
}

// New creates a detector, rejecting invalid configuration.
func New(cfg Config) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Detector{cfg: cfg}, nil
}

// Config returns the detector's configuration.
func (d *Detector) Config() Config {
	return d.cfg
}

// Detect converts an arrival-ordered event sequence into anomalies.
// Events are not re-sorted. The first malformed event aborts the pass with
// an *EventError and no anomalies.
func (d *Detector) Detect(events []models.LogEvent) ([]models.AnomalyRecord, error) {
	anomalies := make([]models.AnomalyRecord, 0)

	count := 0
	var last time.Time
	haveLast := false

	for i, e := range events {
		t, level, err := parseEvent(i, e)
		if err != nil {
			return nil, err
		}

		if haveLast && t.Sub(last) > d.cfg.TimeWindow {
			count = 0
		}

		if level.Qualifies() {
			count++
			if count >= d.cfg.ErrorThreshold {
				anomalies = append(anomalies, models.NewErrorThresholdAnomaly(e, count))
			}
		}

		last = t
		haveLast = true
	}

	return anomalies, nil
}

// parseEvent checks the fields the rule reads and returns them normalized.
func parseEvent(i int, e models.LogEvent) (time.Time, models.Level, error) {
	t, err := ParseTimestamp(e.Timestamp)
	if err != nil {
		return time.Time{}, "", &EventError{Index: i, Field: "timestamp", Value: e.Timestamp, Err: err}
	}
	level, err := models.ParseLevel(string(e.Level))
	if err != nil {
		return time.Time{}, "", &EventError{Index: i, Field: "level", Value: string(e.Level), Err: err}
	}
	if strings.TrimSpace(e.Component) == "" {
		return time.Time{}, "", &EventError{Index: i, Field: "component", Value: e.Component}
	}
	return t, level, nil
}

// Validate reports the first event Detect would reject, without detecting.
func Validate(events []models.LogEvent) error {
	for i, e := range events {
		if _, _, err := parseEvent(i, e); err != nil {
			return err
		}
	}
	return nil
}

// Detect runs a single pass with cfg.
func Detect(events []models.LogEvent, cfg Config) ([]models.AnomalyRecord, error) {
	d, err := New(cfg)
	if err != nil {
		return nil, err
	}
	return d.Detect(events)
}

// DetectAll runs independent sequences in parallel. Each sequence gets its
// own counters; results[i] belongs to sequences[i]. The first failure
// cancels the remaining work.
func (d *Detector) DetectAll(ctx context.Context, sequences [][]models.LogEvent) ([][]models.AnomalyRecord, error) {
	results := make([][]models.AnomalyRecord, len(sequences))

	g, gctx := errgroup.WithContext(ctx)
	for i, seq := range sequences {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			anomalies, err := d.Detect(seq)
			if err != nil {
				return fmt.Errorf("sequence %d: %w", i, err)
			}
			results[i] = anomalies
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
