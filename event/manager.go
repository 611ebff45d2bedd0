package event

import (
	"fmt"
	"runtime"
	"time"

	"github.com/reflowlabs/reflow/effect"
	"github.com/reflowlabs/reflow/fault"
	"github.com/reflowlabs/reflow/interceptor"
	"github.com/reflowlabs/reflow/logging"
	"github.com/reflowlabs/reflow/registrar"
	"github.com/reflowlabs/reflow/state"
	"github.com/reflowlabs/reflow/trace"
)

// DBHandler computes new state from the current state and the event
// payload. Its return value becomes the db effect.
type DBHandler func(db any, payload any) any

// FXHandler computes a full effect map from the coeffect bag and the
// event payload.
type FXHandler func(coeffects map[string]any, payload any) map[string]any

// CoeffectProvider produces one named coeffect value, invoked fresh on
// every dispatch. Providers must complete without suspension; the
// before-phase snapshot depends on all coeffects being available
// before any interceptor runs.
type CoeffectProvider func() any

// Manager registers event handlers and executes their interceptor
// chains.
type Manager struct {
	reg    *registrar.Registrar
	states *state.Manager
	exec   *effect.Executor
	tracer *trace.Tracer
	faults *fault.Manager
	logger logging.Logger
}

// NewManager wires a manager to its collaborators.
func NewManager(reg *registrar.Registrar, states *state.Manager, exec *effect.Executor, tracer *trace.Tracer, faults *fault.Manager, logger logging.Logger) *Manager {
	if logger == nil {
		logger = logging.Default()
	}
	return &Manager{
		reg:    reg,
		states: states,
		exec:   exec,
		tracer: tracer,
		faults: faults,
		logger: logger,
	}
}

// RegisterDB registers a db handler for an event key, wrapped as the
// terminal interceptor after any caller-supplied interceptors.
// Overwriting an existing registration logs a warning.
func (m *Manager) RegisterDB(key string, h DBHandler, ics ...interceptor.Interceptor) {
	terminal := interceptor.Interceptor{
		ID: key,
		Before: func(c *interceptor.Context) (*interceptor.Context, error) {
			c.SetEffectDB(h(c.DB(), c.Event().Payload))
			return c, nil
		},
	}
	m.register(key, terminal, ics)
}

// RegisterFX registers an fx handler for an event key, wrapped as the
// terminal interceptor after any caller-supplied interceptors.
func (m *Manager) RegisterFX(key string, h FXHandler, ics ...interceptor.Interceptor) {
	terminal := interceptor.Interceptor{
		ID: key,
		Before: func(c *interceptor.Context) (*interceptor.Context, error) {
			effects := h(c.Coeffects, c.Event().Payload)
			if effects == nil {
				effects = make(map[string]any)
			}
			c.Effects = effects
			return c, nil
		},
	}
	m.register(key, terminal, ics)
}

func (m *Manager) register(key string, terminal interceptor.Interceptor, ics []interceptor.Interceptor) {
	chain := make([]interceptor.Interceptor, 0, len(ics)+1)
	chain = append(chain, ics...)
	chain = append(chain, terminal)
	m.reg.Register(registrar.KindEvent, key, chain)
}

// Deregister removes the handler chain registered for an event key.
func (m *Manager) Deregister(key string) {
	m.reg.ClearID(registrar.KindEvent, key)
}

// RegisterCoeffect registers a named coeffect provider.
func (m *Manager) RegisterCoeffect(name string, p CoeffectProvider) {
	m.reg.Register(registrar.KindCoeffect, name, p)
}

// Inject returns an interceptor that injects one registered coeffect
// into the context from inside a chain.
func (m *Manager) Inject(name string) interceptor.Interceptor {
	return interceptor.Interceptor{
		ID: "inject-" + name,
		Before: func(c *interceptor.Context) (*interceptor.Context, error) {
			h, ok := m.reg.Get(registrar.KindCoeffect, name)
			if !ok {
				m.logger.Warn("no coeffect provider registered", "coeffect", name)
				return c, nil
			}
			provider, ok := h.(CoeffectProvider)
			if !ok {
				m.logger.Warn("registered coeffect provider has wrong type", "coeffect", name)
				return c, nil
			}
			c.Coeffects[name] = provider()
			return c, nil
		},
	}
}

// HandleEvent runs the full interceptor chain for a dispatched event
// and executes its effects. The returned error is non-nil only when
// the error handler is configured to rethrow.
func (m *Manager) HandleEvent(key string, payload any) error {
	start := time.Now()

	chainAny, ok := m.reg.Get(registrar.KindEvent, key)
	if !ok {
		m.logger.Warn("no event handler registered", "event", key)
		return nil
	}
	chain, ok := chainAny.([]interceptor.Interceptor)
	if !ok {
		m.logger.Warn("registered event handler has wrong type", "event", key)
		return nil
	}

	stateBefore := m.states.Get()

	var (
		execErr   error
		failedRef *fault.InterceptorRef
	)

	coeffects, err := m.buildCoeffects(key, payload, stateBefore)
	if err != nil {
		execErr = err
	}

	ctx := interceptor.NewContext(coeffects, chain)

	// Before phase: queue front to back, pushing onto the stack.
	for execErr == nil && len(ctx.Queue) > 0 {
		ic := ctx.Queue[0]
		ctx.Queue = ctx.Queue[1:]
		ctx.Stack = append(ctx.Stack, ic)
		if ic.Before == nil {
			continue
		}
		next, err := applyTransform(ic.Before, ctx)
		if err != nil {
			execErr = err
			failedRef = &fault.InterceptorRef{ID: ic.ID, Direction: fault.DirectionBefore}
			break
		}
		if next != nil {
			ctx = next
		}
	}

	// After phase: stack unwound in exact reverse of the before phase.
	for execErr == nil && len(ctx.Stack) > 0 {
		ic := ctx.Stack[len(ctx.Stack)-1]
		ctx.Stack = ctx.Stack[:len(ctx.Stack)-1]
		if ic.After == nil {
			continue
		}
		next, err := applyTransform(ic.After, ctx)
		if err != nil {
			execErr = err
			failedRef = &fault.InterceptorRef{ID: ic.ID, Direction: fault.DirectionAfter}
			break
		}
		if next != nil {
			ctx = next
		}
	}

	// Either branch yields the rethrow error for the dispatch receipt:
	// the interceptor failure re-raised by the error handler, or the
	// effect-stage failures the executor collected from it.
	var (
		records []trace.EffectExecution
		rethrow error
	)
	effects := make(map[string]any)
	if execErr == nil {
		records, rethrow = m.exec.Execute(key, payload, ctx.Effects)
		effects = ctx.Effects
	} else {
		rethrow = m.faults.Report(execErr, fault.Context{
			EventKey:    key,
			Payload:     payload,
			Phase:       fault.PhaseInterceptor,
			Interceptor: failedRef,
		})
	}

	end := time.Now()
	m.tracer.Record(trace.Event{
		EventKey:         key,
		Payload:          payload,
		StateBefore:      stateBefore,
		StateAfter:       m.states.Get(),
		InterceptorIDs:   interceptor.IDs(chain),
		Effects:          effects,
		EffectExecutions: records,
		Start:            start,
		End:              end,
		Duration:         end.Sub(start),
		Err:              execErr,
	})

	return rethrow
}

// buildCoeffects invokes every registered coeffect provider and merges
// the results with the state snapshot and the event pair.
func (m *Manager) buildCoeffects(key string, payload any, stateBefore any) (cofx map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			err = fmt.Errorf("coeffect provider panicked: %v\n%s", r, buf[:n])
		}
	}()

	cofx = make(map[string]any)
	for _, name := range m.reg.IDs(registrar.KindCoeffect) {
		h, ok := m.reg.Get(registrar.KindCoeffect, name)
		if !ok {
			continue
		}
		provider, ok := h.(CoeffectProvider)
		if !ok {
			m.logger.Warn("registered coeffect provider has wrong type", "coeffect", name)
			continue
		}
		cofx[name] = provider()
	}

	cofx[interceptor.CoeffectDB] = stateBefore
	cofx[interceptor.CoeffectEvent] = interceptor.Event{Key: key, Payload: payload}
	return cofx, nil
}

// applyTransform runs one interceptor transform with panic protection.
func applyTransform(fn interceptor.Fn, ctx *interceptor.Context) (next *interceptor.Context, err error) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			next = nil
			err = fmt.Errorf("interceptor panicked: %v\n%s", r, buf[:n])
		}
	}()

	return fn(ctx)
}
