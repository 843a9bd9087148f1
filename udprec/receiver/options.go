package receiver

import (
	"time"

	"github.com/rs/zerolog"
)

// File options.go provides options that can be passed to the receiver constructor to configure it.

// Option function to set various options on the receiver.
// Uses defaults if an option is not set.
type Option func(*Receiver)

// WithLogger replaces the receiver's default logger with the given logger.
func WithLogger(l *zerolog.Logger) Option {
	return func(r *Receiver) {
		r.log = l
	}
}

// WithPollInterval overwrites DefaultPollInterval.
// Shorter intervals make Stop return sooner at the cost of more wakeups while idle.
// Non-positive values are ignored.
func WithPollInterval(d time.Duration) Option {
	return func(r *Receiver) {
		if d > 0 {
			r.pollInterval = d
		}
	}
}

// WithMetrics attaches prometheus collectors to the receiver.
func WithMetrics(m *Metrics) Option {
	return func(r *Receiver) { r.metrics = m }
}
