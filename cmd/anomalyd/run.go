package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/fidde/log_anomaly_detector/internal/generator"
	"github.com/fidde/log_anomaly_detector/internal/pipeline"
	"github.com/fidde/log_anomaly_detector/internal/storage/backend"
	"github.com/fidde/log_anomaly_detector/internal/storage/files"
	"github.com/fidde/log_anomaly_detector/pkg/models"
	"github.com/spf13/cobra"
)

type runOptions struct {
	count    int
	logsDir  string
	dispatch bool
}

func newRunCommand(a *app) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Generate logs, detect anomalies and open incidents",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("count") {
				opts.count = a.cfg.Generator.Count
			}
			if !cmd.Flags().Changed("logs-dir") {
				opts.logsDir = a.cfg.Generator.LogsDir
			}
			return a.run(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().IntVar(&opts.count, "count", 100, "number of events to generate")
	cmd.Flags().StringVar(&opts.logsDir, "logs-dir", "logs", "directory for generated log files")
	cmd.Flags().BoolVar(&opts.dispatch, "dispatch", true, "create incidents and send alerts for anomalies")

	return cmd
}

func (a *app) run(ctx context.Context, out io.Writer, opts runOptions) error {
	events := generator.New().Generate(opts.count)

	path := files.TimestampedName(opts.logsDir, "generated_logs", time.Now())
	if err := files.SaveEvents(path, events); err != nil {
		return err
	}
	fmt.Fprintf(out, "Saved %d logs to %s\n", len(events), path)

	store, err := backend.NewStorage(ctx, a.cfg.StorageConfig(), a.logger)
	if err != nil {
		return err
	}
	defer store.Close()

	pipeOpts := pipeline.Options{
		Logger:             a.logger,
		IncidentsPerSecond: a.cfg.Dispatch.IncidentsPerSecond,
		Burst:              a.cfg.Dispatch.Burst,
	}
	if opts.dispatch {
		pipeOpts.Ticketer = a.ticketer()
		pipeOpts.Notifier = a.notifier()
	}

	run, err := pipeline.New(store, pipeOpts).Run(ctx, events, a.cfg.DetectorConfig(), pipeline.RunOptions{Dispatch: opts.dispatch})
	if run != nil {
		printRun(out, run)
	}
	return err
}

func printRun(out io.Writer, run *models.DetectionRun) {
	if len(run.Anomalies) == 0 {
		fmt.Fprintln(out, "No anomalies detected")
		return
	}

	fmt.Fprintf(out, "Detected %d anomalies\n", len(run.Anomalies))
	for _, d := range run.Dispatches {
		switch {
		case d.IncidentNumber == "":
			fmt.Fprintf(out, "Failed to create ServiceNow incident: %s\n", d.Error)
		case d.Error != "":
			fmt.Fprintf(out, "Created ServiceNow incident: %s (alert failed: %s)\n", d.IncidentNumber, d.Error)
		default:
			fmt.Fprintf(out, "Created ServiceNow incident: %s\n", d.IncidentNumber)
		}
	}
}
