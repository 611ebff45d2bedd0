// Package router provides the FIFO event queue and its single-flight
// drain loop, the only public entry point for triggering event
// processing.
//
// Events are processed strictly in enqueue order. A later event never
// begins processing until the earlier event has fully settled,
// including its effect stage. An event dispatched from inside another
// event's effect phase is appended to the tail of the same queue,
// never nested or interleaved with its parent. Because of this, an
// effect handler must never block on the Receipt of an event it
// dispatched; the event cannot process until the handler returns.
package router

import (
	"sync"
)

// ProcessFunc processes one dequeued event to completion.
type ProcessFunc func(eventKey string, payload any) error

// Receipt tracks the completion of one enqueued event.
type Receipt struct {
	done chan struct{}
	err  error
}

// Done returns a channel closed once the event and everything queued
// before it have been fully processed.
func (r *Receipt) Done() <-chan struct{} {
	return r.done
}

// Err returns the terminal error for the event. It is only meaningful
// after Done is closed, and is non-nil only when the error handler is
// configured to rethrow.
func (r *Receipt) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}

// Wait blocks until the event has been processed and returns its
// terminal error.
func (r *Receipt) Wait() error {
	<-r.done
	return r.err
}

func (r *Receipt) resolve(err error) {
	r.err = err
	close(r.done)
}

// item is one queued (eventKey, payload) pair.
type item struct {
	key     string
	payload any
	receipt *Receipt
}

// Router is the FIFO event queue with a single in-flight drain.
type Router struct {
	mu       sync.Mutex
	cond     *sync.Cond
	queue    []item
	draining bool
	process  ProcessFunc
	onIdle   func()
}

// New creates a router draining into the given process function.
func New(process ProcessFunc) *Router {
	r := &Router{process: process}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// OnIdle registers a function invoked each time the drain loop empties
// the queue, before the drain is considered finished. Work it enqueues
// is picked up by the same drain.
func (r *Router) OnIdle(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onIdle = fn
}

// Dispatch appends an event to the queue and starts a drain if none is
// in progress. The returned Receipt resolves once the event and
// everything queued before it, including recursively enqueued events,
// have been fully processed.
func (r *Router) Dispatch(eventKey string, payload any) *Receipt {
	rec := &Receipt{done: make(chan struct{})}

	r.mu.Lock()
	r.queue = append(r.queue, item{key: eventKey, payload: payload, receipt: rec})
	start := !r.draining
	if start {
		r.draining = true
	}
	r.mu.Unlock()

	if start {
		go r.drain()
	}
	return rec
}

// drain processes queued events strictly in order until the queue
// stays empty.
func (r *Router) drain() {
	for {
		r.mu.Lock()
		if len(r.queue) == 0 {
			idle := r.onIdle
			r.mu.Unlock()

			// The idle hook may enqueue follow-up work; keep the
			// drain alive until the queue stays empty.
			if idle != nil {
				idle()
			}

			r.mu.Lock()
			if len(r.queue) == 0 {
				r.draining = false
				r.cond.Broadcast()
				r.mu.Unlock()
				return
			}
		}
		next := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()

		err := r.process(next.key, next.payload)
		next.receipt.resolve(err)
	}
}

// Flush blocks until the queue is empty and no drain is in flight.
func (r *Router) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for r.draining || len(r.queue) > 0 {
		r.cond.Wait()
	}
}

// Len returns the number of queued events not yet dequeued.
func (r *Router) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}
