// Package fault funnels every engine failure path through a single
// pluggable error handler.
//
// Interceptor, effect, and subscription errors are reported with a
// uniform Context describing where the failure occurred. The handler's
// own failure is caught and logged, never allowed to escape. When the
// Rethrow flag is set, the original error is returned to the reporting
// call site after the handler runs; this is the only path by which a
// core failure becomes visible to a dispatch caller.
package fault

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/reflowlabs/reflow/logging"
)

// Phase identifies the engine phase a failure occurred in.
type Phase string

// Failure phases.
const (
	PhaseInterceptor  Phase = "interceptor"
	PhaseEffect       Phase = "effect"
	PhaseSubscription Phase = "subscription"
)

// Direction identifies which half of an interceptor failed.
type Direction string

// Interceptor directions.
const (
	DirectionBefore Direction = "before"
	DirectionAfter  Direction = "after"
)

// InterceptorRef identifies the interceptor whose transform failed.
type InterceptorRef struct {
	ID        string
	Direction Direction
}

// Context describes where a reported error occurred.
type Context struct {
	// EventKey is the event being processed, if any.
	EventKey string

	// Payload is the event payload, if any.
	Payload any

	// Phase is the engine phase the error occurred in.
	Phase Phase

	// Interceptor is set for interceptor-phase errors.
	Interceptor *InterceptorRef

	// EffectKind is set for effect-phase errors.
	EffectKind string

	// SubscriptionKey is set for subscription-phase errors.
	SubscriptionKey string
}

// Config holds error handler configuration.
type Config struct {
	// Rethrow re-raises the original error to the reporting caller
	// after the handler runs.
	Rethrow bool
}

// Handler receives every reported engine error.
type Handler func(err error, fctx Context, cfg Config)

// Manager holds the pluggable error handler and its configuration.
type Manager struct {
	mu      sync.RWMutex
	handler Handler
	config  Config
	logger  logging.Logger
}

// NewManager creates a manager with the default handler, which logs
// reported errors at Error level.
func NewManager(logger logging.Logger) *Manager {
	if logger == nil {
		logger = logging.Default()
	}
	m := &Manager{logger: logger}
	m.handler = m.defaultHandler
	return m
}

// SetHandler replaces the error handler and its configuration.
// A nil handler restores the default.
func (m *Manager) SetHandler(h Handler, cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if h == nil {
		h = m.defaultHandler
	}
	m.handler = h
	m.config = cfg
}

// Config returns the current handler configuration.
func (m *Manager) Config() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// Report routes an error through the registered handler.
// It returns the original error when Rethrow is configured, nil
// otherwise. A nil error is ignored.
func (m *Manager) Report(err error, fctx Context) error {
	if err == nil {
		return nil
	}

	m.mu.RLock()
	handler := m.handler
	cfg := m.config
	m.mu.RUnlock()

	m.run(handler, err, fctx, cfg)

	if cfg.Rethrow {
		return err
	}
	return nil
}

// run invokes the handler with panic protection.
func (m *Manager) run(h Handler, err error, fctx Context, cfg Config) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			m.logger.Error("error handler panicked",
				"panic", fmt.Sprint(r),
				"original", err.Error(),
				"stack", string(buf[:n]))
		}
	}()

	h(err, fctx, cfg)
}

// defaultHandler logs the error with its context.
func (m *Manager) defaultHandler(err error, fctx Context, _ Config) {
	args := []any{"phase", string(fctx.Phase)}
	if fctx.EventKey != "" {
		args = append(args, "event", fctx.EventKey)
	}
	if fctx.Interceptor != nil {
		args = append(args, "interceptor", fctx.Interceptor.ID, "direction", string(fctx.Interceptor.Direction))
	}
	if fctx.EffectKind != "" {
		args = append(args, "effect", fctx.EffectKind)
	}
	if fctx.SubscriptionKey != "" {
		args = append(args, "subscription", fctx.SubscriptionKey)
	}
	m.logger.Error("unhandled engine error: "+err.Error(), args...)
}
