// Package effect executes the declared side effects of an event under
// a strict ordering contract.
//
// Given a final effect map, execution proceeds in three stages:
//
//  1. The db effect, if present, runs first and alone. Its failure is
//     recorded and reported, and execution continues regardless.
//  2. Every other effect except fx is dispatched to its registered
//     handler; these handlers start concurrently and the stage
//     completes when all have settled. Failures are recorded
//     independently; one handler's failure never cancels another.
//  3. The fx effect, if present, is a sequential list of (kind,
//     payload) items executed strictly in order, each completing
//     before the next starts. Nil items are skipped; a db item is
//     rejected with a warning (use the top-level db key); a missing
//     handler is a warning; an item's failure does not stop the rest.
//
// A missing handler for an effect kind is a non-fatal warning. Every
// handler invocation, built-in or user-registered, is timed and
// recorded in the event's trace.
//
// Built-in effect kinds are provided for re-entering the router
// (dispatch, dispatch-n, dispatch-later), deregistering event handlers
// (deregister-event-handler), and ordered sub-effects (fx). Handlers
// receive a Store handle so they can trigger further events; they must
// not block on the receipts of events they dispatch, since those
// events queue behind the one currently executing. For the same
// reason, dispatch-n enqueues its entries one at a time in list order
// rather than awaiting each receipt: consecutive queue positions are
// the ordering guarantee, and the events process in exactly that order
// once the current event settles.
package effect
