package models

import (
	"errors"
	"fmt"
	"time"
)

// AnomalyType tags the rule that produced an anomaly.
type AnomalyType string

// AnomalyErrorThresholdExceeded is raised when qualifying events reach the threshold.
const AnomalyErrorThresholdExceeded AnomalyType = "error_threshold_exceeded"

// ErrRunNotFound is returned when a detection run does not exist.
var ErrRunNotFound = errors.New("detection run not found")

// AnomalyRecord is one detected anomaly, stamped with its triggering event's timestamp.
type AnomalyRecord struct {
	Timestamp string         `json:"timestamp"`
	Type      AnomalyType    `json:"type"`
	Details   AnomalyDetails `json:"details"`
}

// AnomalyDetails carries the running count and attribution of an anomaly.
type AnomalyDetails struct {
	ErrorCount int    `json:"error_count"`
	Component  string `json:"component"`
	Message    string `json:"message"`
}

// NewErrorThresholdAnomaly builds the record raised by the threshold rule.
func NewErrorThresholdAnomaly(e LogEvent, count int) AnomalyRecord {
	return AnomalyRecord{
		Timestamp: e.Timestamp,
		Type:      AnomalyErrorThresholdExceeded,
		Details: AnomalyDetails{
			ErrorCount: count,
			Component:  e.Component,
			Message:    fmt.Sprintf("Error threshold exceeded in %s", e.Component),
		},
	}
}

// DetectionRun is the persisted outcome of one detection pass.
type DetectionRun struct {
	ID                string          `json:"id"`
	StartedAt         time.Time       `json:"started_at"`
	Duration          time.Duration   `json:"duration_ns"`
	ErrorThreshold    int             `json:"error_threshold"`
	TimeWindowSeconds int             `json:"time_window_seconds"`
	EventCount        int             `json:"event_count"`
	Anomalies         []AnomalyRecord `json:"anomalies"`
	Dispatches        []Dispatch      `json:"dispatches,omitempty"`
}

// Summary strips the anomaly bodies from the run.
func (r *DetectionRun) Summary() *RunSummary {
	return &RunSummary{
		ID:                r.ID,
		StartedAt:         r.StartedAt,
		ErrorThreshold:    r.ErrorThreshold,
		TimeWindowSeconds: r.TimeWindowSeconds,
		EventCount:        r.EventCount,
		AnomalyCount:      len(r.Anomalies),
		IncidentCount:     r.IncidentCount(),
	}
}

// IncidentCount returns how many dispatches produced an incident.
func (r *DetectionRun) IncidentCount() int {
	n := 0
	for _, d := range r.Dispatches {
		if d.IncidentNumber != "" {
			n++
		}
	}
	return n
}

// RunSummary lists a detection run without its anomalies.
type RunSummary struct {
	ID                string    `json:"id"`
	StartedAt         time.Time `json:"started_at"`
	ErrorThreshold    int       `json:"error_threshold"`
	TimeWindowSeconds int       `json:"time_window_seconds"`
	EventCount        int       `json:"event_count"`
	AnomalyCount      int       `json:"anomaly_count"`
	IncidentCount     int       `json:"incident_count"`
}

// Dispatch records what happened when one anomaly was forwarded downstream.
type Dispatch struct {
	AnomalyIndex   int    `json:"anomaly_index"`
	IncidentNumber string `json:"incident_number,omitempty"`
	IncidentSysID  string `json:"incident_sys_id,omitempty"`
	Notified       bool   `json:"notified"`
	Error          string `json:"error,omitempty"`
}

// Incident is a ticket created for an anomaly.
type Incident struct {
	SysID            string `json:"sys_id"`
	Number           string `json:"number"`
	ShortDescription string `json:"short_description"`
	Description      string `json:"description,omitempty"`
	URL              string `json:"url,omitempty"`
}
