// Package interceptor defines the middleware units composed around
// event handlers and the execution context threaded through them.
//
// An interceptor pairs an optional before transform with an optional
// after transform. During event processing the before transforms run
// outside-in over the chain; the after transforms run inside-out, in
// exact reverse order. This gives every interceptor the ability to
// wrap, observe, or transform both the input and the output of
// everything nested inside it.
package interceptor

// Fn transforms an execution context, returning the (possibly new)
// context to continue with. Returning a nil context keeps the current
// one.
type Fn func(ctx *Context) (*Context, error)

// Interceptor is an immutable before/after transform pair.
// Ownership is shared read-only across dispatches.
type Interceptor struct {
	// ID identifies the interceptor in traces and error reports.
	// Diagnostic only.
	ID string

	// Before runs outside-in during the before phase.
	Before Fn

	// After runs inside-out during the after phase.
	After Fn
}

// IDs returns the ids of a chain in order.
func IDs(chain []Interceptor) []string {
	ids := make([]string, len(chain))
	for i, ic := range chain {
		ids[i] = ic.ID
	}
	return ids
}
