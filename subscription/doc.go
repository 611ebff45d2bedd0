// Package subscription provides declarative, memoized derived views
// over store state.
//
// A subscription is registered once under a string key, in one of two
// forms:
//
//   - a leaf, computing its result directly from state:
//
//     subscription.Config{Compute: func(state any, params []any) any {...}}
//
//   - a derived view, combining the results of other subscriptions:
//
//     subscription.Config{Deps: []string{"a", "b"}, Combine: ...}
//
// Dependencies are resolved recursively and may themselves be derived,
// forming a DAG. Cycles are detected during resolution and reported
// through the error handler.
//
// # Identity and memoization
//
// A subscription instance is identified by its (key, params) pair,
// with params compared by canonical JSON serialization. Each instance
// caches the (state reference, result) pair it last computed; cache
// validity is state reference identity, not deep equality, so repeated
// queries against an unchanged state are O(1).
//
// # Lifecycle
//
// Instances are created lazily on first reference and carry an
// explicit reference count: incremented by Subscribe, decremented by
// the returned unsubscribe function. When the count reaches zero and
// no listeners remain, the instance and its cache entry are evicted
// synchronously. Instances created by plain Query keep their cache
// entry until a later subscribe/unsubscribe cycle evicts them or the
// manager is reset.
//
// # Errors
//
// A compute or combine failure (error or panic) is isolated to that
// subscription: it is routed to the error handler, and the previous
// cached result, if any, is returned as a fallback. Computation errors
// never propagate past this boundary.
package subscription
