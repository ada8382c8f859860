package main

import (
	"errors"
	"io"
	"log/slog"

	"github.com/fidde/log_anomaly_detector/internal/config"
	"github.com/fidde/log_anomaly_detector/internal/logging"
	"github.com/fidde/log_anomaly_detector/internal/notify"
	"github.com/fidde/log_anomaly_detector/internal/ticketing"
	"github.com/spf13/cobra"
)

// app carries state shared by all subcommands.
type app struct {
	configPath string
	logLevel   string

	cfg       *config.Config
	logger    *slog.Logger
	logCloser io.Closer
}

func newRootCommand() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:          "anomalyd",
		Short:        "Log anomaly detector",
		Long:         `anomalyd flags bursts of ERROR and CRITICAL log events and opens ServiceNow incidents for them.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.logCloser != nil {
				return a.logCloser.Close()
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&a.configPath, "config", "anomalyd.yaml", "path to YAML config file")
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	cmd.AddCommand(
		newServeCommand(a),
		newGenerateCommand(a),
		newDetectCommand(a),
		newRunCommand(a),
	)

	return cmd
}

func (a *app) init() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		if _, err := logging.ParseLevel(a.logLevel); err != nil {
			return err
		}
		cfg.Logging.Level = a.logLevel
	}

	logger, closer, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	a.cfg = cfg
	a.logger = logger
	a.logCloser = closer
	return nil
}

// ticketer returns the configured ServiceNow client, or nil when none is set.
func (a *app) ticketer() ticketing.Ticketer {
	sn, err := ticketing.NewServiceNow(a.cfg.TicketingConfig(), a.logger)
	if errors.Is(err, ticketing.ErrNotConfigured) {
		a.logger.Info("ServiceNow not configured, incidents disabled")
		return nil
	}
	if err != nil {
		a.logger.Warn("ServiceNow client disabled", "error", err)
		return nil
	}
	return sn
}

// notifier returns the configured Slack notifier, or nil when none is set.
func (a *app) notifier() notify.Notifier {
	slack, err := notify.NewSlack(a.cfg.Slack.WebhookURL, a.cfg.Slack.Timeout, a.logger)
	if errors.Is(err, notify.ErrNotConfigured) {
		a.logger.Warn("SLACK_WEBHOOK_URL not set, incident alerts disabled")
		return nil
	}
	if err != nil {
		a.logger.Warn("Slack notifier disabled", "error", err)
		return nil
	}
	return slack
}
