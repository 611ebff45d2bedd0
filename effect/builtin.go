package effect

import (
	"context"
	"fmt"
	"time"

	"github.com/reflowlabs/reflow/logging"
	"github.com/reflowlabs/reflow/registrar"
)

// Built-in effect kinds.
const (
	// KindDispatch re-enters the router with one event.
	KindDispatch = "dispatch"

	// KindDispatchN re-enters the router with several events, enqueued
	// one at a time so they hold consecutive queue positions.
	KindDispatchN = "dispatch-n"

	// KindDispatchLater schedules dispatches after a delay.
	KindDispatchLater = "dispatch-later"

	// KindDeregister removes registered event handlers.
	KindDeregister = "deregister-event-handler"
)

// Intent names an event to dispatch with its payload.
type Intent struct {
	Event   string
	Payload any
}

// Later names an event to dispatch after a delay.
type Later struct {
	After   time.Duration
	Event   string
	Payload any
}

// RegisterBuiltins registers the built-in effect handlers, plus the
// default db handler which replaces state via setState.
func RegisterBuiltins(reg *registrar.Registrar, setState func(any), logger logging.Logger) {
	if logger == nil {
		logger = logging.Default()
	}

	reg.Register(registrar.KindEffect, "db", Handler(
		func(_ context.Context, payload any, _ Store) error {
			setState(payload)
			return nil
		}))

	reg.Register(registrar.KindEffect, KindDispatch, Handler(
		func(_ context.Context, payload any, store Store) error {
			intent, err := normalizeIntent(payload)
			if err != nil {
				return err
			}
			store.Dispatch(intent.Event, intent.Payload)
			return nil
		}))

	reg.Register(registrar.KindEffect, KindDispatchN, Handler(
		func(_ context.Context, payload any, store Store) error {
			intents, err := normalizeIntents(payload)
			if err != nil {
				return err
			}
			// One at a time; queue positions stay FIFO-appended.
			for _, intent := range intents {
				store.Dispatch(intent.Event, intent.Payload)
			}
			return nil
		}))

	reg.Register(registrar.KindEffect, KindDispatchLater, Handler(
		func(_ context.Context, payload any, store Store) error {
			laters, err := normalizeLaters(payload)
			if err != nil {
				return err
			}
			// Fire-and-forget relative to the current event.
			for _, l := range laters {
				l := l
				time.AfterFunc(l.After, func() {
					store.Dispatch(l.Event, l.Payload)
				})
			}
			return nil
		}))

	reg.Register(registrar.KindEffect, KindDeregister, Handler(
		func(_ context.Context, payload any, store Store) error {
			keys, err := normalizeKeys(payload)
			if err != nil {
				return err
			}
			for _, key := range keys {
				store.DeregisterEvent(key)
			}
			return nil
		}))
}

// normalizeIntent accepts Intent, *Intent, or a map with "event" and
// optional "payload" keys.
func normalizeIntent(v any) (Intent, error) {
	switch p := v.(type) {
	case Intent:
		if p.Event == "" {
			return Intent{}, fmt.Errorf("%w: dispatch requires an event key", ErrInvalidPayload)
		}
		return p, nil
	case *Intent:
		if p == nil {
			return Intent{}, fmt.Errorf("%w: dispatch requires an event key", ErrInvalidPayload)
		}
		return normalizeIntent(*p)
	case map[string]any:
		ev, _ := p["event"].(string)
		if ev == "" {
			return Intent{}, fmt.Errorf("%w: dispatch requires an event key", ErrInvalidPayload)
		}
		return Intent{Event: ev, Payload: p["payload"]}, nil
	default:
		return Intent{}, fmt.Errorf("%w: dispatch got %T", ErrInvalidPayload, v)
	}
}

// normalizeIntents accepts []Intent or []any of intent-shaped values.
func normalizeIntents(v any) ([]Intent, error) {
	switch list := v.(type) {
	case []Intent:
		for _, in := range list {
			if in.Event == "" {
				return nil, fmt.Errorf("%w: dispatch-n requires event keys", ErrInvalidPayload)
			}
		}
		return list, nil
	case []any:
		intents := make([]Intent, 0, len(list))
		for _, entry := range list {
			intent, err := normalizeIntent(entry)
			if err != nil {
				return nil, err
			}
			intents = append(intents, intent)
		}
		return intents, nil
	default:
		return nil, fmt.Errorf("%w: dispatch-n got %T", ErrInvalidPayload, v)
	}
}

// normalizeLaters accepts Later, *Later, []Later, or []any of those.
func normalizeLaters(v any) ([]Later, error) {
	switch p := v.(type) {
	case Later:
		if p.Event == "" {
			return nil, fmt.Errorf("%w: dispatch-later requires an event key", ErrInvalidPayload)
		}
		return []Later{p}, nil
	case *Later:
		if p == nil {
			return nil, fmt.Errorf("%w: dispatch-later requires an event key", ErrInvalidPayload)
		}
		return normalizeLaters(*p)
	case []Later:
		for _, l := range p {
			if l.Event == "" {
				return nil, fmt.Errorf("%w: dispatch-later requires event keys", ErrInvalidPayload)
			}
		}
		return p, nil
	case []any:
		laters := make([]Later, 0, len(p))
		for _, entry := range p {
			ls, err := normalizeLaters(entry)
			if err != nil {
				return nil, err
			}
			laters = append(laters, ls...)
		}
		return laters, nil
	default:
		return nil, fmt.Errorf("%w: dispatch-later got %T", ErrInvalidPayload, v)
	}
}

// normalizeKeys accepts a string, []string, or []any of strings.
func normalizeKeys(v any) ([]string, error) {
	switch p := v.(type) {
	case string:
		return []string{p}, nil
	case []string:
		return p, nil
	case []any:
		keys := make([]string, 0, len(p))
		for _, entry := range p {
			s, ok := entry.(string)
			if !ok {
				return nil, fmt.Errorf("%w: deregister-event-handler got %T", ErrInvalidPayload, entry)
			}
			keys = append(keys, s)
		}
		return keys, nil
	default:
		return nil, fmt.Errorf("%w: deregister-event-handler got %T", ErrInvalidPayload, v)
	}
}
