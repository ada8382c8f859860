// Package ingest converts OTLP log records into log events.
package ingest

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/fidde/log_anomaly_detector/pkg/models"
	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	logspb "go.opentelemetry.io/proto/otlp/logs/v1"
)

// ComponentAttribute is the log record attribute that names the emitting component.
const ComponentAttribute = "component"

// UnknownComponent is used when neither the record nor its resource names a component.
const UnknownComponent = "unknown"

// LogsConverter turns OTLP export requests into log events.
type LogsConverter struct {
	now func() time.Time
}

// NewLogsConverter creates a converter that stamps records lacking timestamps with the current time.
func NewLogsConverter() *LogsConverter {
	return &LogsConverter{now: time.Now}
}

// Convert flattens an OTLP logs export request into events, preserving record order.
func (c *LogsConverter) Convert(req *collogspb.ExportLogsServiceRequest) ([]models.LogEvent, error) {
	if req == nil {
		return nil, fmt.Errorf("request cannot be nil")
	}

	received := c.now().UTC()
	events := make([]models.LogEvent, 0)

	for _, resourceLogs := range req.ResourceLogs {
		resourceAttrs := resourceLogs.GetResource().GetAttributes()
		resourceComponent := getServiceName(resourceAttrs)

		for _, scopeLogs := range resourceLogs.ScopeLogs {
			for _, record := range scopeLogs.LogRecords {
				events = append(events, convertRecord(record, resourceComponent, received))
			}
		}
	}

	return events, nil
}

func convertRecord(record *logspb.LogRecord, resourceComponent string, received time.Time) models.LogEvent {
	details := extractAttributes(record.GetAttributes())

	component := resourceComponent
	if v, ok := details[ComponentAttribute].(string); ok && v != "" {
		component = v
		delete(details, ComponentAttribute)
	}

	if id := record.GetTraceId(); len(id) > 0 {
		details["trace_id"] = hex.EncodeToString(id)
	}
	if id := record.GetSpanId(); len(id) > 0 {
		details["span_id"] = hex.EncodeToString(id)
	}
	if len(details) == 0 {
		details = nil
	}

	return models.LogEvent{
		Timestamp: recordTime(record, received).Format(time.RFC3339Nano),
		Level:     recordLevel(record),
		Component: component,
		Message:   bodyString(record.GetBody()),
		Details:   details,
	}
}

func recordTime(record *logspb.LogRecord, received time.Time) time.Time {
	if ns := record.GetTimeUnixNano(); ns != 0 {
		return time.Unix(0, int64(ns)).UTC()
	}
	if ns := record.GetObservedTimeUnixNano(); ns != 0 {
		return time.Unix(0, int64(ns)).UTC()
	}
	return received
}

// recordLevel prefers severity text and falls back to the severity number range.
func recordLevel(record *logspb.LogRecord) models.Level {
	if level, err := models.ParseLevel(record.GetSeverityText()); err == nil {
		return level
	}
	return SeverityLevel(record.GetSeverityNumber())
}

// SeverityLevel maps an OTLP severity number onto a detector level.
// Unspecified, TRACE, DEBUG and INFO ranges all map to INFO.
func SeverityLevel(n logspb.SeverityNumber) models.Level {
	switch {
	case n >= logspb.SeverityNumber_SEVERITY_NUMBER_FATAL:
		return models.LevelCritical
	case n >= logspb.SeverityNumber_SEVERITY_NUMBER_ERROR:
		return models.LevelError
	case n >= logspb.SeverityNumber_SEVERITY_NUMBER_WARN:
		return models.LevelWarning
	default:
		return models.LevelInfo
	}
}

// getServiceName picks the component name from resource attributes.
func getServiceName(attrs []*commonpb.KeyValue) string {
	values := make(map[string]string, len(attrs))
	for _, attr := range attrs {
		values[attr.Key] = attributeValueToString(attr.Value)
	}

	// First try service.name
	if name := values["service.name"]; name != "" {
		return name
	}

	// Fallback to host.name
	if name := values["host.name"]; name != "" {
		return name
	}

	return UnknownComponent
}

// extractAttributes converts OTLP key-values to a JSON-friendly map.
func extractAttributes(attrs []*commonpb.KeyValue) map[string]any {
	result := make(map[string]any, len(attrs))
	for _, attr := range attrs {
		result[attr.Key] = attributeValue(attr.Value)
	}
	return result
}

// attributeValue converts an OTLP attribute value to its natural Go type.
func attributeValue(value *commonpb.AnyValue) any {
	if value == nil {
		return nil
	}

	switch v := value.Value.(type) {
	case *commonpb.AnyValue_StringValue:
		return v.StringValue
	case *commonpb.AnyValue_IntValue:
		return v.IntValue
	case *commonpb.AnyValue_DoubleValue:
		return v.DoubleValue
	case *commonpb.AnyValue_BoolValue:
		return v.BoolValue
	case *commonpb.AnyValue_BytesValue:
		return hex.EncodeToString(v.BytesValue)
	case *commonpb.AnyValue_ArrayValue:
		values := v.ArrayValue.GetValues()
		out := make([]any, len(values))
		for i, item := range values {
			out[i] = attributeValue(item)
		}
		return out
	case *commonpb.AnyValue_KvlistValue:
		return extractAttributes(v.KvlistValue.GetValues())
	default:
		return nil
	}
}

// attributeValueToString converts an OTLP attribute value to string.
func attributeValueToString(value *commonpb.AnyValue) string {
	switch v := attributeValue(value).(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// bodyString renders a log body as the event message.
func bodyString(body *commonpb.AnyValue) string {
	if body == nil {
		return ""
	}
	if s, ok := body.Value.(*commonpb.AnyValue_StringValue); ok {
		return s.StringValue
	}
	return attributeValueToString(body)
}
