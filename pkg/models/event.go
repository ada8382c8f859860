package models

// LogEvent is a single structured log record as produced upstream.
// Timestamp stays in its textual ISO-8601 form so it round-trips unchanged.
type LogEvent struct {
	Timestamp string         `json:"timestamp"`
	Level     Level          `json:"level"`
	Component string         `json:"component"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
}

// EventFilter narrows a stored event listing.
type EventFilter struct {
	// Component matches events emitted by this component (empty = all)
	Component string

	// Level matches events of exactly this level (empty = all)
	Level Level

	// Limit caps the number of returned events (0 = no limit)
	Limit int
}

// Matches reports whether e passes the filter's component and level checks.
func (f EventFilter) Matches(e LogEvent) bool {
	if f.Component != "" && e.Component != f.Component {
		return false
	}
	if f.Level != "" && e.Level != f.Level {
		return false
	}
	return true
}
