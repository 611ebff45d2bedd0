package effect

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/reflowlabs/reflow/fault"
	"github.com/reflowlabs/reflow/interceptor"
	"github.com/reflowlabs/reflow/logging"
	"github.com/reflowlabs/reflow/registrar"
	"github.com/reflowlabs/reflow/router"
	"github.com/reflowlabs/reflow/trace"
)

// Store is the narrow store handle passed to effect handlers.
type Store interface {
	// Dispatch appends an event to the store's queue.
	Dispatch(eventKey string, payload any) *router.Receipt

	// DeregisterEvent removes a registered event handler.
	DeregisterEvent(eventKey string)
}

// Handler executes one effect. Handlers may block; blocking handlers
// in the parallel stage run concurrently with each other.
type Handler func(ctx context.Context, payload any, store Store) error

// Executor runs effect maps under the package's ordering contract.
type Executor struct {
	reg    *registrar.Registrar
	faults *fault.Manager
	logger logging.Logger

	mu    sync.RWMutex
	store Store
}

// NewExecutor creates an executor resolving handlers from the given
// registrar.
func NewExecutor(reg *registrar.Registrar, faults *fault.Manager, logger logging.Logger) *Executor {
	if logger == nil {
		logger = logging.Default()
	}
	return &Executor{
		reg:    reg,
		faults: faults,
		logger: logger,
	}
}

// SetStore sets the store handle passed to handlers.
func (e *Executor) SetStore(s Store) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.store = s
}

func (e *Executor) storeHandle() Store {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.store
}

// Execute runs a final effect map. The event key and payload identify
// the owning event in error reports. It returns the timed execution
// record for every handler invocation, in execution order: db first,
// then the parallel stage in settlement order, then fx items in list
// order. The returned error joins every handler failure the error
// handler re-raised; it is nil unless the handler is configured to
// rethrow.
func (e *Executor) Execute(eventKey string, payload any, effects map[string]any) ([]trace.EffectExecution, error) {
	if len(effects) == 0 {
		return nil, nil
	}

	var (
		recMu    sync.Mutex
		records  []trace.EffectExecution
		rethrows []error
	)
	record := func(rec trace.EffectExecution) {
		recMu.Lock()
		records = append(records, rec)
		recMu.Unlock()
	}
	report := func(err error) {
		if err == nil {
			return
		}
		recMu.Lock()
		rethrows = append(rethrows, err)
		recMu.Unlock()
	}

	// Stage 1: db runs first, before any other effect.
	if v, ok := effects[interceptor.EffectDB]; ok {
		report(e.runOne(eventKey, payload, interceptor.EffectDB, v, record))
	}

	// Stage 2: everything except db and fx, started concurrently.
	kinds := make([]string, 0, len(effects))
	for kind := range effects {
		if kind == interceptor.EffectDB || kind == interceptor.EffectFX {
			continue
		}
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)

	var wg sync.WaitGroup
	for _, kind := range kinds {
		wg.Add(1)
		go func(kind string, v any) {
			defer wg.Done()
			report(e.runOne(eventKey, payload, kind, v, record))
		}(kind, effects[kind])
	}
	wg.Wait()

	// Stage 3: fx items run strictly in order.
	if v, ok := effects[interceptor.EffectFX]; ok {
		e.runSeq(eventKey, payload, v, record, report)
	}

	return records, errors.Join(rethrows...)
}

// runOne resolves and invokes one effect handler, recording its timed
// execution. A missing handler is a warning, not an abort. The return
// value is the error handler's re-raise, non-nil only under Rethrow.
func (e *Executor) runOne(eventKey string, eventPayload any, kind string, payload any, record func(trace.EffectExecution)) error {
	h, ok := e.reg.Get(registrar.KindEffect, kind)
	if !ok {
		e.logger.Warn("no effect handler registered", "effect", kind, "event", eventKey)
		return nil
	}
	handler, ok := h.(Handler)
	if !ok {
		e.logger.Warn("registered effect handler has wrong type", "effect", kind, "event", eventKey)
		return nil
	}

	start := time.Now()
	err := e.invoke(handler, payload)
	end := time.Now()

	record(trace.EffectExecution{
		Kind:     kind,
		Start:    start,
		End:      end,
		Duration: end.Sub(start),
		Err:      err,
	})

	if err != nil {
		return e.faults.Report(err, fault.Context{
			EventKey:   eventKey,
			Payload:    eventPayload,
			Phase:      fault.PhaseEffect,
			EffectKind: kind,
		})
	}
	return nil
}

// runSeq executes an fx payload: an ordered list of (kind, payload)
// items, each completing before the next starts.
func (e *Executor) runSeq(eventKey string, eventPayload any, payload any, record func(trace.EffectExecution), report func(error)) {
	items, ok := normalizeItems(payload)
	if !ok {
		e.logger.Warn("fx effect expects a list of items", "event", eventKey)
		return
	}

	for _, it := range items {
		if it == nil {
			continue
		}
		if it.Kind == interceptor.EffectDB {
			e.logger.Warn("db not allowed inside fx; use the top-level db effect", "event", eventKey)
			continue
		}
		report(e.runOne(eventKey, eventPayload, it.Kind, it.Payload, record))
	}
}

// invoke calls a handler with panic protection.
func (e *Executor) invoke(h Handler, payload any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			err = fmt.Errorf("%w: %v\n%s", ErrHandlerPanic, r, buf[:n])
		}
	}()

	return h(context.Background(), payload, e.storeHandle())
}

// Item is one (kind, payload) entry of an fx effect.
type Item struct {
	Kind    string
	Payload any
}

// normalizeItems accepts []Item, []*Item, or []any holding Item,
// *Item, or nil entries.
func normalizeItems(v any) ([]*Item, bool) {
	switch list := v.(type) {
	case nil:
		return nil, true
	case []Item:
		items := make([]*Item, len(list))
		for i := range list {
			items[i] = &list[i]
		}
		return items, true
	case []*Item:
		return list, true
	case []any:
		items := make([]*Item, 0, len(list))
		for _, entry := range list {
			switch it := entry.(type) {
			case nil:
				items = append(items, nil)
			case Item:
				items = append(items, &it)
			case *Item:
				items = append(items, it)
			default:
				return nil, false
			}
		}
		return items, true
	default:
		return nil, false
	}
}
