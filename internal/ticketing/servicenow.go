// Package ticketing opens incidents for detected anomalies.
package ticketing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fidde/log_anomaly_detector/pkg/models"
	"github.com/go-resty/resty/v2"
)

// ErrNotConfigured is returned when no ServiceNow instance is set.
var ErrNotConfigured = errors.New("servicenow: instance not configured")

// Ticketer creates and updates incidents.
type Ticketer interface {
	CreateIncident(ctx context.Context, anomaly models.AnomalyRecord) (*models.Incident, error)
	UpdateIncident(ctx context.Context, sysID string, fields map[string]string) (*models.Incident, error)
}

// Config holds ServiceNow connection parameters.
type Config struct {
	Instance string
	Username string
	Password string

	Timeout       time.Duration
	RetryCount    int
	RetryWaitTime time.Duration
}

// DefaultConfig returns client defaults with no instance set.
func DefaultConfig() Config {
	return Config{
		Timeout:       30 * time.Second,
		RetryCount:    2,
		RetryWaitTime: 500 * time.Millisecond,
	}
}

// ServiceNow talks to the ServiceNow Table API.
type ServiceNow struct {
	client   *resty.Client
	instance string
	logger   *slog.Logger
}

// incidentResponse is the Table API envelope.
type incidentResponse struct {
	Result struct {
		SysID            string `json:"sys_id"`
		Number           string `json:"number"`
		ShortDescription string `json:"short_description"`
		Description      string `json:"description"`
	} `json:"result"`
}

// NewServiceNow builds a client for cfg.Instance.
func NewServiceNow(cfg Config, logger *slog.Logger) (*ServiceNow, error) {
	if cfg.Instance == "" {
		return nil, ErrNotConfigured
	}
	if logger == nil {
		logger = slog.Default()
	}

	instance := strings.TrimRight(cfg.Instance, "/")
	if _, err := url.ParseRequestURI(instance); err != nil {
		return nil, fmt.Errorf("servicenow: invalid instance URL %q: %w", cfg.Instance, err)
	}

	client := resty.New().
		SetBaseURL(instance+"/api/now").
		SetBasicAuth(cfg.Username, cfg.Password).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(cfg.RetryWaitTime).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			code := resp.StatusCode()
			return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
		})

	return &ServiceNow{
		client:   client,
		instance: instance,
		logger:   logger.With("component", "servicenow"),
	}, nil
}

// Instance returns the instance URL without a trailing slash.
func (s *ServiceNow) Instance() string {
	return s.instance
}

// IncidentPayload builds the incident fields for an anomaly.
func IncidentPayload(anomaly models.AnomalyRecord) map[string]string {
	return map[string]string{
		"short_description": fmt.Sprintf("Anomaly detected: %s", anomaly.Type),
		"description": fmt.Sprintf("Anomaly details:\n%s\nError count: %d",
			anomaly.Details.Message, anomaly.Details.ErrorCount),
		"impact":      "2",
		"urgency":     "2",
		"category":    "software",
		"subcategory": "application",
	}
}

// CreateIncident opens an incident for anomaly.
func (s *ServiceNow) CreateIncident(ctx context.Context, anomaly models.AnomalyRecord) (*models.Incident, error) {
	var out incidentResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(IncidentPayload(anomaly)).
		SetResult(&out).
		Post("/table/incident")
	if err := checkResponse("create incident", resp, err); err != nil {
		return nil, err
	}

	incident := s.incident(out)
	s.logger.Info("created incident",
		"number", incident.Number,
		"sys_id", incident.SysID,
		"component", anomaly.Details.Component,
	)
	return incident, nil
}

// UpdateIncident applies fields to an existing incident.
func (s *ServiceNow) UpdateIncident(ctx context.Context, sysID string, fields map[string]string) (*models.Incident, error) {
	if sysID == "" {
		return nil, errors.New("servicenow: sys_id cannot be empty")
	}

	var out incidentResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetPathParam("sysID", sysID).
		SetBody(fields).
		SetResult(&out).
		Put("/table/incident/{sysID}")
	if err := checkResponse("update incident", resp, err); err != nil {
		return nil, err
	}

	return s.incident(out), nil
}

// IncidentURL links to the incident form in the ServiceNow UI.
func (s *ServiceNow) IncidentURL(sysID string) string {
	return fmt.Sprintf("%s/nav_to.do?uri=incident.do?sys_id=%s", s.instance, sysID)
}

func (s *ServiceNow) incident(out incidentResponse) *models.Incident {
	return &models.Incident{
		SysID:            out.Result.SysID,
		Number:           out.Result.Number,
		ShortDescription: out.Result.ShortDescription,
		Description:      out.Result.Description,
		URL:              s.IncidentURL(out.Result.SysID),
	}
}

func checkResponse(op string, resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("servicenow: %s: %w", op, err)
	}
	if resp.IsError() {
		return fmt.Errorf("servicenow: %s: status %d: %s", op, resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	return nil
}
