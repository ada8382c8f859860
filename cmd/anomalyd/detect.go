package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fidde/log_anomaly_detector/internal/detector"
	"github.com/fidde/log_anomaly_detector/internal/storage/files"
	"github.com/spf13/cobra"
)

func newDetectCommand(a *app) *cobra.Command {
	var (
		in        string
		out       string
		threshold int
		window    int
	)

	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Detect anomalies in a JSON log file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg.DetectorConfig()
			if cmd.Flags().Changed("threshold") {
				cfg.ErrorThreshold = threshold
			}
			if cmd.Flags().Changed("window") {
				cfg.TimeWindow = time.Duration(window) * time.Second
			}

			events, err := files.LoadEvents(in)
			if err != nil {
				return err
			}

			anomalies, err := detector.Detect(events, cfg)
			if err != nil {
				return fmt.Errorf("%s: %w", in, err)
			}

			if out == "" {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(anomalies)
			}

			if err := files.SaveAnomalies(out, anomalies); err != nil {
				return err
			}
			if len(anomalies) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No anomalies detected")
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Detected %d anomalies\n", len(anomalies))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&in, "in", "", "input JSON file of log events")
	cmd.Flags().StringVar(&out, "out", "", "output JSON file for anomalies (default stdout)")
	cmd.Flags().IntVar(&threshold, "threshold", detector.DefaultErrorThreshold, "error threshold")
	cmd.Flags().IntVar(&window, "window", int(detector.DefaultTimeWindow/time.Second), "time window in seconds")
	if err := cmd.MarkFlagRequired("in"); err != nil {
		panic(err)
	}

	return cmd
}
