package subscription

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/reflowlabs/reflow/fault"
	"github.com/reflowlabs/reflow/logging"
	"github.com/reflowlabs/reflow/state"
)

// canonical serializes params with sorted map keys so value-equal
// params always produce the same cache identity.
var canonical = jsoniter.Config{SortMapKeys: true, EscapeHTML: false}.Froze()

// instance is one live (key, params) subscription with its cache entry
// and lifecycle bookkeeping.
type instance struct {
	key       string
	params    []any
	refs      int
	listeners map[string]Listener

	// Cache entry: the state reference and result last computed.
	stateRef  any
	result    any
	hasResult bool
}

// Manager resolves, memoizes, and notifies subscription instances.
type Manager struct {
	mu       sync.Mutex
	registry *Registry
	faults   *fault.Manager
	logger   logging.Logger
	cache    map[string]*instance
	handles  map[string]*Handle
	stateFn  func() any
}

// NewManager creates a manager over the given definition registry.
func NewManager(registry *Registry, faults *fault.Manager, logger logging.Logger) *Manager {
	if logger == nil {
		logger = logging.Default()
	}
	return &Manager{
		registry: registry,
		faults:   faults,
		logger:   logger,
		cache:    make(map[string]*instance),
		handles:  make(map[string]*Handle),
	}
}

// Registry returns the definition registry.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// SetStateSource sets the current-state accessor used by handles.
func (m *Manager) SetStateSource(fn func() any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stateFn = fn
}

// cacheKey builds the canonical identity for a (key, params) pair.
func cacheKey(key string, params []any) string {
	if len(params) == 0 {
		return key
	}
	b, err := canonical.Marshal(params)
	if err != nil {
		// Unserializable params still need a stable identity.
		return key + "|" + fmt.Sprintf("%#v", params)
	}
	return key + "|" + string(b)
}

// Query resolves the (key, params) subscription against the given
// state, returning its memoized or freshly computed result. The second
// return value is false when the subscription is unregistered or
// failed with no cached fallback.
func (m *Manager) Query(st any, key string, params ...any) (any, bool) {
	return m.query(st, key, params, make(map[string]struct{}))
}

// query is the recursive resolution step. visiting carries the cache
// keys currently being resolved, for cycle detection.
func (m *Manager) query(st any, key string, params []any, visiting map[string]struct{}) (any, bool) {
	def, ok := m.registry.Get(key)
	if !ok {
		m.logger.Warn("no subscription registered", "subscription", key)
		return nil, false
	}

	ck := cacheKey(key, params)

	m.mu.Lock()
	inst := m.cache[ck]
	if inst == nil {
		inst = newInstance(key, params)
		m.cache[ck] = inst
	}
	if inst.hasResult && state.SameRef(inst.stateRef, st) {
		res := inst.result
		m.mu.Unlock()
		return res, true
	}
	m.mu.Unlock()

	if _, busy := visiting[ck]; busy {
		return m.fallback(inst, key, fmt.Errorf("%w: %s", ErrCyclicDependency, key))
	}
	visiting[ck] = struct{}{}
	defer delete(visiting, ck)

	res, err := m.compute(st, def, params, visiting)
	if err != nil {
		return m.fallback(inst, key, err)
	}

	m.mu.Lock()
	inst.stateRef = st
	inst.result = res
	inst.hasResult = true
	m.mu.Unlock()

	return res, true
}

// compute runs a leaf's Compute or recursively resolves a derived
// subscription's dependencies and runs Combine. Panics become errors.
func (m *Manager) compute(st any, def Config, params []any, visiting map[string]struct{}) (res any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrComputePanic, r)
		}
	}()

	if def.Compute != nil {
		return def.Compute(st, params), nil
	}

	inputs := make([]any, len(def.Deps))
	for i, dep := range def.Deps {
		// Dependency failures have already been reported; the
		// combine sees nil for that input.
		inputs[i], _ = m.query(st, dep, nil, visiting)
	}
	return def.Combine(inputs, params), nil
}

// fallback reports a computation error and returns the previous cached
// result if one exists, the no-result sentinel otherwise. Subscription
// failures never rethrow; a query result is (any, bool) with no error
// channel, so the Rethrow escape path covers dispatches only.
func (m *Manager) fallback(inst *instance, key string, err error) (any, bool) {
	_ = m.faults.Report(err, fault.Context{
		Phase:           fault.PhaseSubscription,
		SubscriptionKey: key,
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	if inst.hasResult {
		return inst.result, true
	}
	return nil, false
}

// Subscribe resolves or creates the (key, params) instance, increments
// its reference count, delivers an immediate result to the callback,
// and registers the callback as a listener. The returned function
// removes the listener and decrements the reference count; when the
// count reaches zero and no listeners remain, the instance and its
// cache entry are evicted.
func (m *Manager) Subscribe(st any, key string, params []any, cb Listener) func() {
	if cb == nil {
		return func() {}
	}
	if !m.registry.Has(key) {
		m.logger.Warn("no subscription registered", "subscription", key)
		return func() {}
	}

	ck := cacheKey(key, params)

	m.mu.Lock()
	inst := m.cache[ck]
	if inst == nil {
		inst = newInstance(key, params)
		m.cache[ck] = inst
	}
	inst.refs++
	token := uuid.NewString()
	inst.listeners[token] = cb
	m.mu.Unlock()

	if res, ok := m.Query(st, key, params...); ok {
		cb(res)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()

			delete(inst.listeners, token)
			inst.refs--
			if inst.refs <= 0 && len(inst.listeners) == 0 {
				delete(m.cache, ck)
			}
		})
	}
}

// NotifyListeners recomputes every listened subscription against the
// new state and invokes listeners whose result changed by deep
// equality. Subscriptions without listeners are skipped but keep their
// cache entries.
func (m *Manager) NotifyListeners(newState any) {
	type target struct {
		key       string
		params    []any
		prev      any
		hadPrev   bool
		listeners []Listener
	}

	m.mu.Lock()
	targets := make([]target, 0, len(m.cache))
	for _, inst := range m.cache {
		if len(inst.listeners) == 0 {
			continue
		}
		ls := make([]Listener, 0, len(inst.listeners))
		for _, l := range inst.listeners {
			ls = append(ls, l)
		}
		targets = append(targets, target{
			key:       inst.key,
			params:    inst.params,
			prev:      inst.result,
			hadPrev:   inst.hasResult,
			listeners: ls,
		})
	}
	m.mu.Unlock()

	for _, t := range targets {
		res, ok := m.Query(newState, t.key, t.params...)
		if !ok {
			continue
		}
		if t.hadPrev && reflect.DeepEqual(t.prev, res) {
			continue
		}
		for _, l := range t.listeners {
			l(res)
		}
	}
}

// Handle returns a stable handle for the (key, params) pair, suitable
// for memoization by external callers. The same pair always yields the
// same handle until the manager is reset.
func (m *Manager) Handle(key string, params ...any) *Handle {
	ck := cacheKey(key, params)

	m.mu.Lock()
	defer m.mu.Unlock()

	h := m.handles[ck]
	if h == nil {
		h = &Handle{m: m, key: key, params: params}
		m.handles[ck] = h
	}
	return h
}

// CachedCount returns the number of live cache entries.
func (m *Manager) CachedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cache)
}

// Refs returns the reference count of the (key, params) instance, or
// zero if it is not cached.
func (m *Manager) Refs(key string, params ...any) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	inst := m.cache[cacheKey(key, params)]
	if inst == nil {
		return 0
	}
	return inst.refs
}

// Reset evicts every cache entry and handle. Definitions stay
// registered.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache = make(map[string]*instance)
	m.handles = make(map[string]*Handle)
}

func newInstance(key string, params []any) *instance {
	return &instance{
		key:       key,
		params:    params,
		listeners: make(map[string]Listener),
	}
}

// Handle is a stable identity for a (key, params) subscription.
type Handle struct {
	m      *Manager
	key    string
	params []any
}

// Key returns the subscription key.
func (h *Handle) Key() string {
	return h.key
}

// Params returns the subscription params.
func (h *Handle) Params() []any {
	return h.params
}

// Value queries the subscription against the manager's current state
// source.
func (h *Handle) Value() (any, bool) {
	h.m.mu.Lock()
	fn := h.m.stateFn
	h.m.mu.Unlock()

	if fn == nil {
		return nil, false
	}
	return h.m.Query(fn(), h.key, h.params...)
}
