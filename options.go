package tablekeep

import (
	"time"

	"github.com/inconshreveable/log15"
)

// Option is an option function for Start.
// See Rob Pike's post on the topic for more information on this pattern:
// https://commandcenter.blogspot.com/2014/01/self-referential-functions-and-design.html
type Option func(k *Keeper)

// WithLogger configures the logger used for keeper and worker events.
// By default, nothing will be logged.
func WithLogger(l log15.Logger) Option {
	return func(k *Keeper) {
		if l != nil {
			k.l = l
		}
	}
}

// WithRestartIntensity configures the crash-loop threshold: more than
// maxRestarts worker crashes inside window is fatal to the whole unit.
// Start fails with ErrInvalidOptions for a negative maxRestarts or a
// non-positive window.
func WithRestartIntensity(maxRestarts int, window time.Duration) Option {
	return func(k *Keeper) {
		k.maxRestarts = maxRestarts
		k.restartWindow = window
	}
}

// WithMetrics configures a collector for supervision events. By default,
// nothing is recorded.
func WithMetrics(m Metrics) Option {
	return func(k *Keeper) {
		if m != nil {
			k.metrics = m
		}
	}
}
