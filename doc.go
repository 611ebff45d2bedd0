// Package reflow is an in-process event-driven state-update engine.
//
// A Store owns a single state value that is transitioned only through
// registered event handlers. Each handler runs inside a composable
// interceptor chain, declares its side effects as data, and has those
// effects executed under a strict ordering contract. A companion
// subscription system provides memoized, dependency-aware derived
// views over the state with reference-counted cache lifecycle.
//
// # Basic usage
//
//	store := reflow.New(reflow.WithInitialState(map[string]any{"count": 0}))
//
//	store.RegisterEventDB("increment", func(db, _ any) any {
//	    m := db.(map[string]any)
//	    return map[string]any{"count": m["count"].(int) + 1}
//	})
//
//	store.RegisterSub("count", subscription.Config{
//	    Compute: func(state any, _ []any) any {
//	        return state.(map[string]any)["count"]
//	    },
//	})
//
//	store.DispatchSync("increment", nil)
//	count, _ := store.Query("count")
//
// # Processing model
//
// Dispatched events enter a FIFO queue drained by a single in-flight
// loop: events process strictly in enqueue order, and an event
// dispatched from inside another event's effect phase is appended to
// the tail, never nested. State-change notifications are coalesced:
// multiple state replacements within one drain burst deliver only the
// latest value to subscribers. Intermediate states remain visible
// through State.
//
// Multiple independent stores may coexist; nothing in the engine is
// package-global.
package reflow
