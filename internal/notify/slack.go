// Package notify sends incident alerts to chat channels.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fidde/log_anomaly_detector/pkg/models"
	"github.com/go-resty/resty/v2"
)

// ErrNotConfigured is returned when no webhook URL is set.
var ErrNotConfigured = errors.New("slack: webhook URL not configured")

// Notifier announces newly created incidents.
type Notifier interface {
	SendIncidentAlert(ctx context.Context, incident *models.Incident) error
}

// Slack posts Block Kit messages to an incoming webhook.
type Slack struct {
	client     *resty.Client
	webhookURL string
	logger     *slog.Logger
}

// NewSlack creates a notifier for webhookURL.
func NewSlack(webhookURL string, timeout time.Duration, logger *slog.Logger) (*Slack, error) {
	if webhookURL == "" {
		return nil, ErrNotConfigured
	}
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Slack{
		client:     resty.New().SetTimeout(timeout).SetHeader("Content-Type", "application/json"),
		webhookURL: webhookURL,
		logger:     logger.With("component", "slack"),
	}, nil
}

type textObject struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

type block struct {
	Type   string       `json:"type"`
	Text   *textObject  `json:"text,omitempty"`
	Fields []textObject `json:"fields,omitempty"`
}

// Message is a Slack webhook payload.
type Message struct {
	Blocks []block `json:"blocks"`
}

// IncidentMessage renders the alert for incident.
func IncidentMessage(incident *models.Incident) Message {
	number := "UNKNOWN"
	description := "No description"
	link := ""
	if incident != nil {
		if incident.Number != "" {
			number = incident.Number
		}
		if incident.ShortDescription != "" {
			description = incident.ShortDescription
		}
		link = incident.URL
	}

	return Message{Blocks: []block{
		{
			Type: "header",
			Text: &textObject{Type: "plain_text", Text: "🚨 New ServiceNow Incident Created", Emoji: true},
		},
		{
			Type: "section",
			Fields: []textObject{
				{Type: "mrkdwn", Text: "*Incident Number:*\n" + number},
				{Type: "mrkdwn", Text: "*Description:*\n" + description},
			},
		},
		{
			Type: "section",
			Text: &textObject{Type: "mrkdwn", Text: fmt.Sprintf("*<%s|View Incident in ServiceNow>*", link)},
		},
	}}
}

// SendIncidentAlert posts the incident alert to the webhook.
func (s *Slack) SendIncidentAlert(ctx context.Context, incident *models.Incident) error {
	if incident == nil {
		return errors.New("slack: incident cannot be nil")
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(IncidentMessage(incident)).
		Post(s.webhookURL)
	if err != nil {
		return fmt.Errorf("slack: posting alert: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("slack: posting alert: status %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}

	s.logger.Debug("sent incident alert", "number", incident.Number)
	return nil
}
