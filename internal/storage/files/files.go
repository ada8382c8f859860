// Package files reads and writes raw log events and anomalies as JSON files.
// Paths ending in .gz are transparently gzip-compressed.
package files

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fidde/log_anomaly_detector/pkg/models"
)

const gzipExtension = ".gz"

// SaveEvents writes events to path as an indented JSON array.
func SaveEvents(path string, events []models.LogEvent) error {
	if events == nil {
		events = []models.LogEvent{}
	}
	return writeJSON(path, events)
}

// LoadEvents reads events previously written by SaveEvents (or any
// producer using the same field names).
func LoadEvents(path string) ([]models.LogEvent, error) {
	var events []models.LogEvent
	if err := readJSON(path, &events); err != nil {
		return nil, err
	}
	if events == nil {
		events = []models.LogEvent{}
	}
	return events, nil
}

// SaveAnomalies writes anomalies to path as an indented JSON array.
func SaveAnomalies(path string, anomalies []models.AnomalyRecord) error {
	if anomalies == nil {
		anomalies = []models.AnomalyRecord{}
	}
	return writeJSON(path, anomalies)
}

// LoadAnomalies reads anomalies previously written by SaveAnomalies.
func LoadAnomalies(path string) ([]models.AnomalyRecord, error) {
	var anomalies []models.AnomalyRecord
	if err := readJSON(path, &anomalies); err != nil {
		return nil, err
	}
	if anomalies == nil {
		anomalies = []models.AnomalyRecord{}
	}
	return anomalies, nil
}

// TimestampedName returns dir/prefix_YYYYMMDD_HHMMSS.json.
func TimestampedName(dir, prefix string, now time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%s.json", prefix, now.Format("20060102_150405")))
}

func writeJSON(path string, v any) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating directory: %w", err)
		}
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", path, err)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer file.Close()

	var w io.Writer = file
	var gw *gzip.Writer
	if isGzip(path) {
		gw = gzip.NewWriter(file)
		w = gw
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if gw != nil {
		if err := gw.Close(); err != nil {
			return fmt.Errorf("closing gzip stream: %w", err)
		}
	}

	return file.Close()
}

func readJSON(path string, v any) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer file.Close()

	var r io.Reader = file
	if isGzip(path) {
		gr, err := gzip.NewReader(file)
		if err != nil {
			return fmt.Errorf("reading gzip header: %w", err)
		}
		defer gr.Close()
		r = gr
	}

	if err := json.NewDecoder(r).Decode(v); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}

func isGzip(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), gzipExtension)
}
