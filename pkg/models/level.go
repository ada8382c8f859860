// Package models defines the core data structures for log anomaly detection.
package models

import (
	"fmt"
	"strings"
)

// Level is the severity of a log event. The set is closed.
type Level string

// Known severity levels.
const (
	LevelInfo     Level = "INFO"
	LevelWarning  Level = "WARNING"
	LevelError    Level = "ERROR"
	LevelCritical Level = "CRITICAL"
)

// Levels lists every known level in increasing severity.
var Levels = []Level{LevelInfo, LevelWarning, LevelError, LevelCritical}

// ParseLevel normalizes s into a known Level.
// Matching is case-insensitive; WARN and FATAL are accepted as aliases.
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "INFO":
		return LevelInfo, nil
	case "WARNING", "WARN":
		return LevelWarning, nil
	case "ERROR":
		return LevelError, nil
	case "CRITICAL", "FATAL":
		return LevelCritical, nil
	case "":
		return "", fmt.Errorf("level is empty")
	default:
		return "", fmt.Errorf("unknown level %q", s)
	}
}

// Valid reports whether l is one of the known levels, spelled canonically.
func (l Level) Valid() bool {
	switch l {
	case LevelInfo, LevelWarning, LevelError, LevelCritical:
		return true
	}
	return false
}

// Qualifies reports whether events of this level count toward the error threshold.
func (l Level) Qualifies() bool {
	return l == LevelError || l == LevelCritical
}

func (l Level) String() string {
	return string(l)
}
