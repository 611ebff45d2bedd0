package reflow

import (
	"time"

	"github.com/reflowlabs/reflow/logging"
)

// Option configures a Store.
type Option func(*config)

// config contains Store configuration.
type config struct {
	// initialState seeds the state cell.
	initialState any

	// logger receives warnings and operational logging.
	logger logging.Logger

	// traceDebounce is the delay between a recorded trace and batch
	// delivery to trace callbacks.
	traceDebounce time.Duration

	// onChange is an external callback invoked with the latest state
	// on each coalesced change notification.
	onChange func(newState any)
}

// defaultConfig returns sensible defaults.
func defaultConfig() config {
	return config{
		logger:        logging.Default(),
		traceDebounce: 0, // tracer default
	}
}

// WithInitialState seeds the store's state cell.
func WithInitialState(v any) Option {
	return func(c *config) {
		c.initialState = v
	}
}

// WithLogger sets the logger used across the store.
func WithLogger(l logging.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithTraceDebounce sets the trace batch delivery delay.
func WithTraceDebounce(d time.Duration) Option {
	return func(c *config) {
		c.traceDebounce = d
	}
}

// WithOnChange registers an external state-change callback. It
// receives only the latest value per coalesced notification.
func WithOnChange(fn func(newState any)) Option {
	return func(c *config) {
		c.onChange = fn
	}
}
