// Package trace collects structured per-event execution records and
// delivers them to registered callbacks in debounced batches.
package trace

import (
	"time"
)

// EffectExecution records one timed effect handler invocation.
type EffectExecution struct {
	// Kind is the effect kind that was executed.
	Kind string

	// Start and End bound the handler invocation.
	Start time.Time
	End   time.Time

	// Duration is End minus Start.
	Duration time.Duration

	// Err is the handler failure, if any.
	Err error
}

// Event is an immutable record of one dispatch.
type Event struct {
	// ID uniquely identifies this record.
	ID string

	// EventKey is the dispatched event name.
	EventKey string

	// Payload is the dispatched payload.
	Payload any

	// StateBefore and StateAfter snapshot the state cell around the
	// dispatch.
	StateBefore any
	StateAfter  any

	// InterceptorIDs lists the chain's interceptor ids in before-phase
	// order.
	InterceptorIDs []string

	// Effects is the final effect map. It is empty when the dispatch
	// ended in an error, since no effects ran.
	Effects map[string]any

	// EffectExecutions records every timed effect handler invocation.
	EffectExecutions []EffectExecution

	// Start and End bound the full dispatch.
	Start time.Time
	End   time.Time

	// Duration is End minus Start.
	Duration time.Duration

	// Err is the terminal error, if any.
	Err error
}

// Callback receives batches of finished trace records.
type Callback func(batch []Event)
