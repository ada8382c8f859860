// Package pipeline runs detection over a batch of events and forwards the
// resulting anomalies to ticketing and notification.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fidde/log_anomaly_detector/internal/detector"
	"github.com/fidde/log_anomaly_detector/internal/metrics"
	"github.com/fidde/log_anomaly_detector/internal/notify"
	"github.com/fidde/log_anomaly_detector/internal/storage"
	"github.com/fidde/log_anomaly_detector/internal/ticketing"
	"github.com/fidde/log_anomaly_detector/pkg/models"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Options configures a Pipeline. Nil Ticketer disables dispatch and nil
// Notifier disables alerts.
type Options struct {
	Ticketer ticketing.Ticketer
	Notifier notify.Notifier
	Logger   *slog.Logger

	// IncidentsPerSecond bounds incident creation. Zero means unlimited.
	IncidentsPerSecond float64
	Burst              int
}

// RunOptions controls a single run.
type RunOptions struct {
	Dispatch bool
}

// Pipeline wires the detector to storage and downstream dispatch.
type Pipeline struct {
	store    storage.Storage
	ticketer ticketing.Ticketer
	notifier notify.Notifier
	limiter  *rate.Limiter
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a pipeline persisting runs to store.
func New(store storage.Storage, opts Options) *Pipeline {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	limit := rate.Inf
	if opts.IncidentsPerSecond > 0 {
		limit = rate.Limit(opts.IncidentsPerSecond)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Pipeline{
		store:    store,
		ticketer: opts.Ticketer,
		notifier: opts.Notifier,
		limiter:  rate.NewLimiter(limit, burst),
		logger:   opts.Logger,
		now:      time.Now,
	}
}

// Run detects anomalies in events, optionally dispatches them, and stores
// the run. Detection failures abort before anything is stored. If ctx ends
// during dispatch, the remaining anomalies are not dispatched and the run is
// stored with the dispatches made so far and returned along with the error.
func (p *Pipeline) Run(ctx context.Context, events []models.LogEvent, cfg detector.Config, opts RunOptions) (*models.DetectionRun, error) {
	d, err := detector.New(cfg)
	if err != nil {
		return nil, err
	}

	started := p.now().UTC()
	anomalies, err := d.Detect(events)
	elapsed := p.now().Sub(started)
	metrics.RecordRun(err, len(anomalies), elapsed)
	if err != nil {
		p.logger.Warn("detection failed", "events", len(events), "error", err)
		return nil, err
	}

	run := &models.DetectionRun{
		ID:                uuid.NewString(),
		StartedAt:         started,
		Duration:          elapsed,
		ErrorThreshold:    cfg.ErrorThreshold,
		TimeWindowSeconds: cfg.WindowSeconds(),
		EventCount:        len(events),
		Anomalies:         anomalies,
	}

	p.logger.Info("detection finished",
		"run_id", run.ID,
		"events", len(events),
		"anomalies", len(anomalies),
		"duration", elapsed,
	)

	if opts.Dispatch {
		if err := p.dispatch(ctx, run); err != nil {
			// Incidents already opened must stay on record.
			p.logger.Warn("dispatch interrupted",
				"run_id", run.ID,
				"dispatched", len(run.Dispatches),
				"anomalies", len(run.Anomalies),
				"error", err,
			)
			if storeErr := p.store.StoreRun(context.WithoutCancel(ctx), run); storeErr != nil {
				return run, errors.Join(err, fmt.Errorf("storing run: %w", storeErr))
			}
			return run, err
		}
	}

	if err := p.store.StoreRun(ctx, run); err != nil {
		return nil, fmt.Errorf("storing run: %w", err)
	}

	return run, nil
}

// RunStored runs detection over every event currently in storage.
func (p *Pipeline) RunStored(ctx context.Context, cfg detector.Config, opts RunOptions) (*models.DetectionRun, error) {
	events, err := p.store.ListEvents(ctx, models.EventFilter{})
	if err != nil {
		return nil, fmt.Errorf("loading events: %w", err)
	}
	return p.Run(ctx, events, cfg, opts)
}

// dispatch opens an incident per anomaly, in order, and alerts on each.
// A failure for one anomaly is recorded on its Dispatch and the rest continue.
// Only the end of ctx stops the loop early.
func (p *Pipeline) dispatch(ctx context.Context, run *models.DetectionRun) error {
	if p.ticketer == nil {
		p.logger.Warn("dispatch requested but no ticketer is configured", "run_id", run.ID)
		return nil
	}

	run.Dispatches = make([]models.Dispatch, 0, len(run.Anomalies))
	for i, anomaly := range run.Anomalies {
		if err := p.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("dispatching anomaly %d: %w", i, err)
		}
		run.Dispatches = append(run.Dispatches, p.dispatchOne(ctx, i, anomaly))
	}
	return nil
}

func (p *Pipeline) dispatchOne(ctx context.Context, index int, anomaly models.AnomalyRecord) models.Dispatch {
	d := models.Dispatch{AnomalyIndex: index}

	incident, err := p.ticketer.CreateIncident(ctx, anomaly)
	metrics.Incidents.WithLabelValues(metrics.Status(err)).Inc()
	if err != nil {
		p.logger.Error("failed to create incident",
			"anomaly_index", index,
			"component", anomaly.Details.Component,
			"error", err,
		)
		d.Error = err.Error()
		return d
	}
	d.IncidentNumber = incident.Number
	d.IncidentSysID = incident.SysID

	if p.notifier == nil {
		metrics.Notifications.WithLabelValues(metrics.StatusSkipped).Inc()
		return d
	}

	err = p.notifier.SendIncidentAlert(ctx, incident)
	metrics.Notifications.WithLabelValues(metrics.Status(err)).Inc()
	if err != nil {
		p.logger.Warn("failed to send incident alert",
			"incident", incident.Number,
			"error", err,
		)
		d.Error = fmt.Sprintf("notify: %v", err)
		return d
	}
	d.Notified = true
	return d
}

// DispatchError joins the failures recorded on a run's dispatches.
func DispatchError(run *models.DetectionRun) error {
	var errs []error
	for _, d := range run.Dispatches {
		if d.Error != "" {
			errs = append(errs, fmt.Errorf("anomaly %d: %s", d.AnomalyIndex, d.Error))
		}
	}
	return errors.Join(errs...)
}
