package detector

import (
	"errors"
	"fmt"
	"time"
)

const (
	// DefaultErrorThreshold is the number of qualifying events that raises an anomaly.
	DefaultErrorThreshold = 5

	// DefaultTimeWindow is the largest gap between consecutive events that keeps the count.
	DefaultTimeWindow = 300 * time.Second
)

// ErrInvalidConfig is returned for non-positive thresholds or windows.
var ErrInvalidConfig = errors.New("invalid detector config")

// Config holds the threshold rule parameters.
type Config struct {
	// ErrorThreshold is the minimum running count of ERROR/CRITICAL events
	ErrorThreshold int

	// TimeWindow resets the count when the gap to the previous event exceeds it
	TimeWindow time.Duration
}

// DefaultConfig returns the default threshold rule: 5 errors, 300 second window.
func DefaultConfig() Config {
	return Config{
		ErrorThreshold: DefaultErrorThreshold,
		TimeWindow:     DefaultTimeWindow,
	}
}

// ConfigFromSeconds builds a Config from a window expressed in whole seconds.
func ConfigFromSeconds(threshold, windowSeconds int) Config {
	return Config{
		ErrorThreshold: threshold,
		TimeWindow:     time.Duration(windowSeconds) * time.Second,
	}
}

// Validate rejects non-positive parameters.
func (c Config) Validate() error {
	if c.ErrorThreshold <= 0 {
		return fmt.Errorf("%w: error threshold must be positive, got %d", ErrInvalidConfig, c.ErrorThreshold)
	}
	if c.TimeWindow <= 0 {
		return fmt.Errorf("%w: time window must be positive, got %s", ErrInvalidConfig, c.TimeWindow)
	}
	return nil
}

// WindowSeconds returns the window truncated to whole seconds.
func (c Config) WindowSeconds() int {
	return int(c.TimeWindow / time.Second)
}
