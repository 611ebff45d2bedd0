package subscription_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/reflowlabs/reflow/fault"
	"github.com/reflowlabs/reflow/subscription"
)

// recordingLogger captures warnings for assertions.
type recordingLogger struct {
	mu    sync.Mutex
	warns []string
}

func (l *recordingLogger) Debug(string, ...any) {}
func (l *recordingLogger) Info(string, ...any)  {}
func (l *recordingLogger) Error(string, ...any) {}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

func (l *recordingLogger) warnCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.warns)
}

func newManager(t *testing.T) (*subscription.Manager, *recordingLogger) {
	t.Helper()
	logger := &recordingLogger{}
	reg := subscription.NewRegistry(logger)
	return subscription.NewManager(reg, fault.NewManager(logger), logger), logger
}

func mustRegister(t *testing.T, m *subscription.Manager, key string, cfg subscription.Config) {
	t.Helper()
	if err := m.Registry().Register(key, cfg); err != nil {
		t.Fatalf("register %q: %v", key, err)
	}
}

func TestRegisterRejectsInvalidConfig(t *testing.T) {
	logger := &recordingLogger{}
	reg := subscription.NewRegistry(logger)

	cases := []subscription.Config{
		{},
		{Deps: []string{"a"}},
		{Combine: func([]any, []any) any { return nil }},
		{
			Compute: func(any, []any) any { return nil },
			Deps:    []string{"a"},
			Combine: func([]any, []any) any { return nil },
		},
	}
	for i, cfg := range cases {
		if err := reg.Register("bad", cfg); !errors.Is(err, subscription.ErrInvalidConfig) {
			t.Errorf("case %d: expected ErrInvalidConfig, got %v", i, err)
		}
	}
}

func TestQueryComputesLeaf(t *testing.T) {
	m, _ := newManager(t)
	mustRegister(t, m, "count", subscription.Config{
		Compute: func(st any, _ []any) any {
			return st.(map[string]any)["count"]
		},
	})

	st := map[string]any{"count": 7}
	res, ok := m.Query(st, "count")
	if !ok || res != 7 {
		t.Errorf("Query = %v, %v; want 7, true", res, ok)
	}
}

func TestQueryUnregisteredWarns(t *testing.T) {
	m, logger := newManager(t)

	if _, ok := m.Query(nil, "ghost"); ok {
		t.Error("expected ok=false for unregistered subscription")
	}
	if logger.warnCount() != 1 {
		t.Errorf("expected 1 warning, got %d", logger.warnCount())
	}
}

func TestQueryMemoizesPerStateRef(t *testing.T) {
	m, _ := newManager(t)

	computes := 0
	mustRegister(t, m, "count", subscription.Config{
		Compute: func(st any, _ []any) any {
			computes++
			return st.(map[string]any)["count"]
		},
	})

	st := map[string]any{"count": 1}
	for i := 0; i < 5; i++ {
		if res, _ := m.Query(st, "count"); res != 1 {
			t.Fatalf("unexpected result %v", res)
		}
	}
	if computes != 1 {
		t.Errorf("expected 1 compute for the same state reference, got %d", computes)
	}

	// A new state reference invalidates the cache.
	if res, _ := m.Query(map[string]any{"count": 2}, "count"); res != 2 {
		t.Fatalf("unexpected result after state change: %v", res)
	}
	if computes != 2 {
		t.Errorf("expected a recompute after the state changed, got %d computes", computes)
	}
}

func TestParamsFormSeparateInstances(t *testing.T) {
	m, _ := newManager(t)
	mustRegister(t, m, "item", subscription.Config{
		Compute: func(st any, params []any) any {
			return st.(map[string]any)[params[0].(string)]
		},
	})

	st := map[string]any{"a": 1, "b": 2}
	if res, _ := m.Query(st, "item", "a"); res != 1 {
		t.Errorf("expected 1, got %v", res)
	}
	if res, _ := m.Query(st, "item", "b"); res != 2 {
		t.Errorf("expected 2, got %v", res)
	}
	if m.CachedCount() != 2 {
		t.Errorf("expected 2 cache entries, got %d", m.CachedCount())
	}
}

func TestValueEqualParamsShareOneInstance(t *testing.T) {
	m, _ := newManager(t)

	computes := 0
	mustRegister(t, m, "lookup", subscription.Config{
		Compute: func(any, []any) any {
			computes++
			return "x"
		},
	})

	st := map[string]any{}
	// Maps with the same entries in any construction order are one
	// identity under canonical serialization.
	m.Query(st, "lookup", map[string]any{"a": 1, "b": 2})
	m.Query(st, "lookup", map[string]any{"b": 2, "a": 1})

	if computes != 1 {
		t.Errorf("expected value-equal params to share a cache entry, got %d computes", computes)
	}
	if m.CachedCount() != 1 {
		t.Errorf("expected 1 cache entry, got %d", m.CachedCount())
	}
}

func TestDerivedSubscription(t *testing.T) {
	m, _ := newManager(t)

	mustRegister(t, m, "count", subscription.Config{
		Compute: func(st any, _ []any) any {
			return st.(map[string]any)["count"].(int)
		},
	})
	mustRegister(t, m, "doubled", subscription.Config{
		Deps: []string{"count"},
		Combine: func(inputs []any, _ []any) any {
			return inputs[0].(int) * 2
		},
	})

	res, ok := m.Query(map[string]any{"count": 3}, "doubled")
	if !ok || res != 6 {
		t.Errorf("Query(doubled) = %v, %v; want 6, true", res, ok)
	}
}

func TestDerivedReusesDependencyCache(t *testing.T) {
	m, _ := newManager(t)

	leafComputes := 0
	mustRegister(t, m, "base", subscription.Config{
		Compute: func(st any, _ []any) any {
			leafComputes++
			return st.(int)
		},
	})
	mustRegister(t, m, "a", subscription.Config{
		Deps:    []string{"base"},
		Combine: func(in []any, _ []any) any { return in[0].(int) + 1 },
	})
	mustRegister(t, m, "b", subscription.Config{
		Deps:    []string{"base"},
		Combine: func(in []any, _ []any) any { return in[0].(int) + 2 },
	})

	st := 10
	m.Query(st, "a")
	m.Query(st, "b")

	if leafComputes != 1 {
		t.Errorf("expected shared dependency computed once, got %d", leafComputes)
	}
}

func TestCycleDetection(t *testing.T) {
	var reported error
	logger := &recordingLogger{}
	reg := subscription.NewRegistry(logger)
	m := subscription.NewManager(reg, faultManagerRecording(&reported), logger)

	combine := func(in []any, _ []any) any { return in[0] }
	mustRegister(t, m, "x", subscription.Config{Deps: []string{"y"}, Combine: combine})
	mustRegister(t, m, "y", subscription.Config{Deps: []string{"x"}, Combine: combine})

	// The cycle is cut at the inner recursion; the outer combine still
	// completes with a nil input.
	if res, ok := m.Query(nil, "x"); !ok || res != nil {
		t.Errorf("expected nil result with the cycle cut, got %v, %v", res, ok)
	}
	if !errors.Is(reported, subscription.ErrCyclicDependency) {
		t.Errorf("expected ErrCyclicDependency reported, got %v", reported)
	}
}

// faultManagerRecording builds a fault manager whose handler stores the
// reported error.
func faultManagerRecording(dst *error) *fault.Manager {
	fm := fault.NewManager(&recordingLogger{})
	fm.SetHandler(func(err error, _ fault.Context, _ fault.Config) {
		*dst = err
	}, fault.Config{})
	return fm
}

func TestComputePanicFallsBackToCachedResult(t *testing.T) {
	var reported error
	logger := &recordingLogger{}
	reg := subscription.NewRegistry(logger)
	m := subscription.NewManager(reg, faultManagerRecording(&reported), logger)

	healthy := true
	mustRegister(t, m, "fragile", subscription.Config{
		Compute: func(st any, _ []any) any {
			if !healthy {
				panic("compute exploded")
			}
			return st
		},
	})

	if res, _ := m.Query("good", "fragile"); res != "good" {
		t.Fatalf("expected good, got %v", res)
	}

	healthy = false
	res, ok := m.Query("next", "fragile")
	if !ok || res != "good" {
		t.Errorf("expected previous cached result on failure, got %v, %v", res, ok)
	}
	if !errors.Is(reported, subscription.ErrComputePanic) {
		t.Errorf("expected ErrComputePanic reported, got %v", reported)
	}
}

func TestComputeFailureWithoutCacheReturnsNotOK(t *testing.T) {
	var reported error
	logger := &recordingLogger{}
	reg := subscription.NewRegistry(logger)
	m := subscription.NewManager(reg, faultManagerRecording(&reported), logger)

	mustRegister(t, m, "fragile", subscription.Config{
		Compute: func(any, []any) any { panic("always") },
	})

	if res, ok := m.Query(nil, "fragile"); ok || res != nil {
		t.Errorf("expected nil, false with no fallback; got %v, %v", res, ok)
	}
}

func TestSubscribeDeliversImmediateResult(t *testing.T) {
	m, _ := newManager(t)
	mustRegister(t, m, "count", subscription.Config{
		Compute: func(st any, _ []any) any { return st },
	})

	var got []any
	unsub := m.Subscribe(42, "count", nil, func(res any) {
		got = append(got, res)
	})
	defer unsub()

	if len(got) != 1 || got[0] != 42 {
		t.Errorf("expected immediate delivery of 42, got %v", got)
	}
}

func TestSubscribeUnregisteredIsNoOp(t *testing.T) {
	m, logger := newManager(t)

	unsub := m.Subscribe(nil, "ghost", nil, func(any) {
		t.Error("listener must not run for an unregistered subscription")
	})
	unsub()

	if logger.warnCount() != 1 {
		t.Errorf("expected 1 warning, got %d", logger.warnCount())
	}
}

func TestNotifyListenersOnChange(t *testing.T) {
	m, _ := newManager(t)
	mustRegister(t, m, "count", subscription.Config{
		Compute: func(st any, _ []any) any {
			return st.(map[string]any)["count"]
		},
	})

	var got []any
	unsub := m.Subscribe(map[string]any{"count": 1}, "count", nil, func(res any) {
		got = append(got, res)
	})
	defer unsub()

	m.NotifyListeners(map[string]any{"count": 2})

	if len(got) != 2 || got[1] != 2 {
		t.Errorf("expected [1 2], got %v", got)
	}
}

func TestNotifySkipsDeepEqualResults(t *testing.T) {
	m, _ := newManager(t)
	mustRegister(t, m, "name", subscription.Config{
		Compute: func(st any, _ []any) any {
			return st.(map[string]any)["name"]
		},
	})

	calls := 0
	unsub := m.Subscribe(map[string]any{"name": "ada", "count": 1}, "name", nil, func(any) {
		calls++
	})
	defer unsub()

	// The state reference changed but the derived result did not.
	m.NotifyListeners(map[string]any{"name": "ada", "count": 2})

	if calls != 1 {
		t.Errorf("expected only the immediate delivery, got %d calls", calls)
	}
}

func TestUnsubscribeEvictsAtZeroRefs(t *testing.T) {
	m, _ := newManager(t)

	computes := 0
	mustRegister(t, m, "count", subscription.Config{
		Compute: func(st any, _ []any) any {
			computes++
			return st
		},
	})

	st := map[string]any{}
	unsub1 := m.Subscribe(st, "count", nil, func(any) {})
	unsub2 := m.Subscribe(st, "count", nil, func(any) {})

	if m.Refs("count") != 2 {
		t.Fatalf("expected 2 refs, got %d", m.Refs("count"))
	}

	unsub1()
	if m.Refs("count") != 1 {
		t.Errorf("expected 1 ref, got %d", m.Refs("count"))
	}
	if m.CachedCount() != 1 {
		t.Error("instance must survive while refs remain")
	}

	unsub2()
	if m.CachedCount() != 0 {
		t.Error("expected eviction at zero refs")
	}

	// A fresh query recomputes from scratch.
	before := computes
	m.Query(st, "count")
	if computes != before+1 {
		t.Error("expected recompute after eviction")
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	m, _ := newManager(t)
	mustRegister(t, m, "count", subscription.Config{
		Compute: func(st any, _ []any) any { return st },
	})

	unsub := m.Subscribe(nil, "count", nil, func(any) {})
	other := m.Subscribe(nil, "count", nil, func(any) {})
	defer other()

	unsub()
	unsub()

	if m.Refs("count") != 1 {
		t.Errorf("double unsubscribe must decrement once, got %d refs", m.Refs("count"))
	}
}

func TestHandleIsStable(t *testing.T) {
	m, _ := newManager(t)
	mustRegister(t, m, "item", subscription.Config{
		Compute: func(st any, params []any) any {
			return st.(map[string]any)[params[0].(string)]
		},
	})

	h1 := m.Handle("item", "a")
	h2 := m.Handle("item", "a")
	if h1 != h2 {
		t.Error("expected the same handle for the same key and params")
	}
	if m.Handle("item", "b") == h1 {
		t.Error("expected distinct handles for distinct params")
	}
}

func TestHandleValueUsesStateSource(t *testing.T) {
	m, _ := newManager(t)
	mustRegister(t, m, "count", subscription.Config{
		Compute: func(st any, _ []any) any { return st },
	})

	h := m.Handle("count")
	if _, ok := h.Value(); ok {
		t.Error("expected ok=false with no state source")
	}

	m.SetStateSource(func() any { return 9 })
	if res, ok := h.Value(); !ok || res != 9 {
		t.Errorf("Value = %v, %v; want 9, true", res, ok)
	}
}

func TestResetEvictsCache(t *testing.T) {
	m, _ := newManager(t)

	computes := 0
	mustRegister(t, m, "count", subscription.Config{
		Compute: func(st any, _ []any) any {
			computes++
			return st
		},
	})

	st := map[string]any{}
	m.Query(st, "count")
	m.Reset()

	if m.CachedCount() != 0 {
		t.Errorf("expected empty cache, got %d", m.CachedCount())
	}

	m.Query(st, "count")
	if computes != 2 {
		t.Errorf("expected recompute after reset, got %d computes", computes)
	}
}
