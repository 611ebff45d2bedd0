package reflow

import (
	"github.com/reflowlabs/reflow/effect"
	"github.com/reflowlabs/reflow/event"
	"github.com/reflowlabs/reflow/fault"
	"github.com/reflowlabs/reflow/interceptor"
	"github.com/reflowlabs/reflow/logging"
	"github.com/reflowlabs/reflow/registrar"
	"github.com/reflowlabs/reflow/router"
	"github.com/reflowlabs/reflow/state"
	"github.com/reflowlabs/reflow/subscription"
	"github.com/reflowlabs/reflow/trace"
)

// Store is a self-contained event-processing engine: handler
// registries, the state cell, the event queue, the effect executor,
// and the subscription cache, wired together. Stores are independent;
// any number may coexist.
type Store struct {
	logger  logging.Logger
	reg     *registrar.Registrar
	states  *state.Manager
	faults  *fault.Manager
	tracer  *trace.Tracer
	effects *effect.Executor
	events  *event.Manager
	router  *router.Router
	subs    *subscription.Manager
}

// Ensure Store satisfies the handle effect handlers receive.
var _ effect.Store = (*Store)(nil)

// New creates a fully wired store.
func New(opts ...Option) *Store {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Store{logger: cfg.logger}
	s.reg = registrar.New(cfg.logger)
	s.states = state.NewManager(cfg.initialState)
	s.faults = fault.NewManager(cfg.logger)
	s.tracer = trace.New(cfg.traceDebounce)
	s.effects = effect.NewExecutor(s.reg, s.faults, cfg.logger)
	s.events = event.NewManager(s.reg, s.states, s.effects, s.tracer, s.faults, cfg.logger)
	s.router = router.New(s.events.HandleEvent)
	s.subs = subscription.NewManager(subscription.NewRegistry(cfg.logger), s.faults, cfg.logger)

	s.subs.SetStateSource(s.states.Get)
	s.states.OnChange(s.subs.NotifyListeners)
	if cfg.onChange != nil {
		s.states.OnChange(cfg.onChange)
	}
	// Coalesced notifications fire at each drain-burst boundary.
	s.router.OnIdle(s.states.Flush)

	s.effects.SetStore(s)
	effect.RegisterBuiltins(s.reg, s.states.Set, cfg.logger)

	return s
}

// RegisterEventDB registers a state-returning event handler, wrapped
// into a db effect, behind any supplied interceptors.
func (s *Store) RegisterEventDB(key string, h event.DBHandler, ics ...interceptor.Interceptor) {
	s.events.RegisterDB(key, h, ics...)
}

// RegisterEventFX registers an effect-map-returning event handler
// behind any supplied interceptors.
func (s *Store) RegisterEventFX(key string, h event.FXHandler, ics ...interceptor.Interceptor) {
	s.events.RegisterFX(key, h, ics...)
}

// DeregisterEvent removes a registered event handler.
func (s *Store) DeregisterEvent(key string) {
	s.events.Deregister(key)
}

// RegisterEffect registers a handler for an effect kind.
func (s *Store) RegisterEffect(kind string, h effect.Handler) {
	s.reg.Register(registrar.KindEffect, kind, h)
}

// RegisterCoeffect registers a named coeffect provider, invoked fresh
// on every dispatch.
func (s *Store) RegisterCoeffect(name string, p event.CoeffectProvider) {
	s.events.RegisterCoeffect(name, p)
}

// InjectCoeffect returns an interceptor that injects one registered
// coeffect into a chain's context.
func (s *Store) InjectCoeffect(name string) interceptor.Interceptor {
	return s.events.Inject(name)
}

// RegisterSub registers a subscription definition.
func (s *Store) RegisterSub(key string, cfg subscription.Config) error {
	return s.subs.Registry().Register(key, cfg)
}

// RegisterErrorHandler replaces the pluggable error handler. With
// cfg.Rethrow set, reported errors propagate to dispatch receipts.
func (s *Store) RegisterErrorHandler(h fault.Handler, cfg fault.Config) {
	s.faults.SetHandler(h, cfg)
}

// Dispatch appends an event to the queue and returns a receipt that
// resolves once the event has been fully processed.
func (s *Store) Dispatch(key string, payload any) *router.Receipt {
	return s.router.Dispatch(key, payload)
}

// DispatchSync dispatches and blocks until the event settles.
func (s *Store) DispatchSync(key string, payload any) error {
	return s.Dispatch(key, payload).Wait()
}

// Flush drains the queue, delivers pending state notifications, and
// flushes pending trace batches. Intended for tests and shutdown.
func (s *Store) Flush() {
	s.router.Flush()
	s.states.Flush()
	s.tracer.Flush()
}

// State returns the current state value.
func (s *Store) State() any {
	return s.states.Get()
}

// SetState replaces the state directly and delivers the change
// notification immediately. Bootstrap and test use; normal mutation
// goes through the db effect of a dispatched event.
func (s *Store) SetState(v any) {
	s.states.Set(v)
	s.states.Flush()
}

// Query resolves a subscription against the current state.
func (s *Store) Query(key string, params ...any) (any, bool) {
	return s.subs.Query(s.states.Get(), key, params...)
}

// Subscribe registers a listener on a subscription, delivering an
// immediate result and then every changed result. The returned
// function unsubscribes.
func (s *Store) Subscribe(key string, params []any, cb subscription.Listener) func() {
	return s.subs.Subscribe(s.states.Get(), key, params, cb)
}

// Sub returns a stable handle for a (key, params) subscription.
func (s *Store) Sub(key string, params ...any) *subscription.Handle {
	return s.subs.Handle(key, params...)
}

// AddTraceCallback registers a callback receiving batches of event
// traces, debounced.
func (s *Store) AddTraceCallback(key string, cb trace.Callback) {
	s.tracer.AddCallback(key, cb)
}

// RemoveTraceCallback removes a registered trace callback.
func (s *Store) RemoveTraceCallback(key string) {
	s.tracer.RemoveCallback(key)
}

// TraceStats returns aggregated dispatch statistics for an event key.
func (s *Store) TraceStats(key string) *trace.KeyStats {
	return s.tracer.Stats(key)
}

// Subscriptions exposes the subscription manager, mainly for
// inspection in tests.
func (s *Store) Subscriptions() *subscription.Manager {
	return s.subs
}

// Reset drains in-flight work, clears every registry and cache, and
// empties the state cell. Built-in effect handlers are re-registered.
func (s *Store) Reset() {
	s.router.Flush()

	s.reg.Clear()
	effect.RegisterBuiltins(s.reg, s.states.Set, s.logger)

	s.subs.Registry().Clear()
	s.subs.Reset()
	s.tracer.Reset()

	s.states.Set(nil)
	s.states.Flush()
}
