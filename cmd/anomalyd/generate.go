package main

import (
	"fmt"
	"time"

	"github.com/fidde/log_anomaly_detector/internal/generator"
	"github.com/fidde/log_anomaly_detector/internal/storage/files"
	"github.com/spf13/cobra"
)

type generateOptions struct {
	count   int
	out     string
	seed    uint64
	spacing time.Duration
}

func newGenerateCommand(a *app) *cobra.Command {
	var opts generateOptions

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Write synthetic log events to a JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("count") {
				opts.count = a.cfg.Generator.Count
			}
			if opts.count < 0 {
				return fmt.Errorf("count must not be negative, got %d", opts.count)
			}
			if opts.out == "" {
				opts.out = files.TimestampedName(a.cfg.Generator.LogsDir, "generated_logs", time.Now())
			}

			events := newGenerator(cmd.Flags().Changed("seed"), opts).Generate(opts.count)
			if err := files.SaveEvents(opts.out, events); err != nil {
				return err
			}

			a.logger.Info("generated logs", "count", len(events), "path", opts.out)
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d logs to %s\n", len(events), opts.out)
			return nil
		},
	}

	cmd.Flags().IntVar(&opts.count, "count", 100, "number of events to generate")
	cmd.Flags().StringVar(&opts.out, "out", "", "output path (default logs/generated_logs_<timestamp>.json)")
	cmd.Flags().Uint64Var(&opts.seed, "seed", 0, "random seed for reproducible output")
	cmd.Flags().DurationVar(&opts.spacing, "spacing", 0, "time between consecutive events")

	return cmd
}

func newGenerator(seeded bool, opts generateOptions) *generator.Generator {
	var genOpts []generator.Option
	if seeded {
		genOpts = append(genOpts, generator.WithSeed(opts.seed))
	}
	if opts.spacing > 0 {
		genOpts = append(genOpts, generator.WithSpacing(opts.spacing))
	}
	return generator.New(genOpts...)
}
