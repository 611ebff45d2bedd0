// Package event registers event handlers and runs the interceptor
// chain for each dispatched event.
//
// Registration wraps a terminal handler as the final interceptor of a
// chain, appended to any caller-supplied interceptors. Two handler
// forms exist: a db handler returning new state, auto-wrapped into a
// db effect, and an fx handler returning a full effect map.
//
// # Chain protocol
//
// Handling an event proceeds in ordered phases:
//
//  1. Every registered coeffect provider runs, building the input bag
//     merged with the current state snapshot and the event itself.
//  2. Before phase: interceptors are popped from the queue, pushed
//     onto the stack, and their before transforms applied outside-in.
//  3. After phase: interceptors are popped from the stack and their
//     after transforms applied in exact reverse order, inside-out.
//  4. The final effect map is handed to the effect executor.
//  5. A trace of the full execution is recorded.
//
// A transform failure in either phase stops that phase immediately,
// skips effect execution entirely, and routes the error through the
// error handler; the trace is still emitted, with an emptied effect
// map. Failures never corrupt other events.
package event
