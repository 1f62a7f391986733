package distributed

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Config holds configuration for a Worker.
type Config struct {
	// SchedulerAddr is the WebSocket URL of the cluster scheduler.
	SchedulerAddr string

	// ConnectTimeout bounds how long a task waits for the worker's
	// scheduler client to become available.
	ConnectTimeout time.Duration

	// Concurrency is the pool capacity: the maximum number of tasks
	// counted as executing at once. Seceded tasks do not count.
	Concurrency int

	// QueueDepth is the number of accepted-but-not-started tasks the
	// pool will buffer before Submit fails.
	QueueDepth int

	// ControlBuffer is the capacity of the worker's control loop
	// channel, which carries asynchronous state transition requests.
	ControlBuffer int

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:  30 * time.Second,
		Concurrency:     10,
		QueueDepth:      1024,
		ControlBuffer:   256,
		ShutdownTimeout: 30 * time.Second,
	}
}

// ParseTimeout converts a timeout value from configuration or user input
// into a duration. Two encodings are accepted: a bare number, integer or
// fractional, interpreted as seconds ("10", "0.5"), or any string
// time.ParseDuration understands ("10s", "500ms", "1m30s").
//
// An empty, negative, or unparseable value fails with ErrBadTimeout;
// callers must not fall back to a default silently.
func ParseTimeout(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty value", ErrBadTimeout)
	}

	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		if secs < 0 {
			return 0, fmt.Errorf("%w: negative seconds %q", ErrBadTimeout, s)
		}
		return time.Duration(secs * float64(time.Second)), nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadTimeout, s)
	}
	if d < 0 {
		return 0, fmt.Errorf("%w: negative duration %q", ErrBadTimeout, s)
	}

	return d, nil
}
