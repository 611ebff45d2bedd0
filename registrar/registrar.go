// Package registrar provides a two-level keyed store mapping (kind, id)
// pairs to opaque handler values.
//
// The registrar holds no logic beyond lookup, insert, and remove. Every
// other engine component depends on it for handler resolution. At most
// one live handler exists per (kind, id); re-registration overwrites the
// previous handler and is reported as a warning, not an error.
package registrar

import (
	"sort"
	"sync"

	"github.com/reflowlabs/reflow/logging"
)

// Kind identifies a handler namespace.
type Kind string

// Handler namespaces used by the engine.
const (
	// KindEvent holds interceptor chains keyed by event name.
	KindEvent Kind = "event"

	// KindEffect holds effect handlers keyed by effect kind.
	KindEffect Kind = "effect"

	// KindCoeffect holds coeffect providers keyed by coeffect name.
	KindCoeffect Kind = "cofx"
)

// Registrar is a thread-safe (kind, id) -> handler store.
type Registrar struct {
	mu       sync.RWMutex
	handlers map[Kind]map[string]any
	logger   logging.Logger
}

// New creates an empty registrar. A nil logger falls back to the
// default slog-backed logger.
func New(logger logging.Logger) *Registrar {
	if logger == nil {
		logger = logging.Default()
	}
	return &Registrar{
		handlers: make(map[Kind]map[string]any),
		logger:   logger,
	}
}

// Register stores a handler under (kind, id).
// Overwriting an existing entry is allowed and logged as a warning.
func (r *Registrar) Register(kind Kind, id string, handler any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ns := r.handlers[kind]
	if ns == nil {
		ns = make(map[string]any)
		r.handlers[kind] = ns
	}

	if _, exists := ns[id]; exists {
		r.logger.Warn("overwriting registered handler", "kind", string(kind), "id", id)
	}
	ns[id] = handler
}

// Get returns the handler registered under (kind, id).
func (r *Registrar) Get(kind Kind, id string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[kind][id]
	return h, ok
}

// Has returns true if a handler is registered under (kind, id).
func (r *Registrar) Has(kind Kind, id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.handlers[kind][id]
	return ok
}

// IDs returns the sorted ids registered under a kind.
func (r *Registrar) IDs(kind Kind) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ns := r.handlers[kind]
	if len(ns) == 0 {
		return nil
	}

	ids := make([]string, 0, len(ns))
	for id := range ns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Count returns the number of handlers registered under a kind.
func (r *Registrar) Count(kind Kind) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[kind])
}

// Clear removes every handler in every namespace.
func (r *Registrar) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = make(map[Kind]map[string]any)
}

// ClearKind drops one namespace entirely.
func (r *Registrar) ClearKind(kind Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, kind)
}

// ClearID removes a single (kind, id) entry.
// Removing an absent entry is a no-op logged as a warning.
func (r *Registrar) ClearID(kind Kind, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ns := r.handlers[kind]
	if _, ok := ns[id]; !ok {
		r.logger.Warn("clearing unregistered handler", "kind", string(kind), "id", id)
		return
	}
	delete(ns, id)
}
