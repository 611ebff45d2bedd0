package subscription

import (
	"sync"

	"github.com/reflowlabs/reflow/logging"
)

// ComputeFunc computes a leaf subscription's result from state.
type ComputeFunc func(state any, params []any) any

// CombineFunc computes a derived subscription's result from its
// dependencies' results, in Deps order.
type CombineFunc func(inputs []any, params []any) any

// Listener receives a subscription's new result when it changes.
type Listener func(result any)

// Config declares a subscription. Exactly one of Compute or the
// Deps/Combine pair must be set.
type Config struct {
	// Compute makes this a leaf subscription.
	Compute ComputeFunc

	// Deps lists the subscription keys this derived view depends on.
	Deps []string

	// Combine merges the dependencies' results.
	Combine CombineFunc
}

// valid reports whether the config is one of the two legal forms.
func (c Config) valid() bool {
	if c.Compute != nil {
		return len(c.Deps) == 0 && c.Combine == nil
	}
	return len(c.Deps) > 0 && c.Combine != nil
}

// Registry holds subscription definitions keyed by name.
type Registry struct {
	mu     sync.RWMutex
	defs   map[string]Config
	logger logging.Logger
}

// NewRegistry creates an empty definition registry.
func NewRegistry(logger logging.Logger) *Registry {
	if logger == nil {
		logger = logging.Default()
	}
	return &Registry{
		defs:   make(map[string]Config),
		logger: logger,
	}
}

// Register stores a definition under key. Overwriting an existing
// definition is allowed and logged as a warning.
func (r *Registry) Register(key string, cfg Config) error {
	if !cfg.valid() {
		return ErrInvalidConfig
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.defs[key]; exists {
		r.logger.Warn("overwriting registered subscription", "subscription", key)
	}
	r.defs[key] = cfg
	return nil
}

// Get returns the definition registered under key.
func (r *Registry) Get(key string) (Config, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.defs[key]
	return cfg, ok
}

// Has returns true if a definition is registered under key.
func (r *Registry) Has(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.defs[key]
	return ok
}

// Deregister removes the definition registered under key.
func (r *Registry) Deregister(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.defs, key)
}

// Clear removes every definition.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs = make(map[string]Config)
}
