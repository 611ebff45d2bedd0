package trace

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultDebounce is the default delay between a recorded trace and
// batch delivery to callbacks.
const DefaultDebounce = 50 * time.Millisecond

// Tracer accumulates trace records and delivers them to registered
// callbacks, debounced so bursts of dispatches arrive as one batch.
type Tracer struct {
	mu        sync.Mutex
	debounce  time.Duration
	callbacks map[string]Callback
	pending   []Event
	timer     *time.Timer
	stats     map[string]*KeyStats
}

// KeyStats aggregates dispatch statistics for one event key.
type KeyStats struct {
	EventKey      string
	DispatchCount uint64
	ErrorCount    uint64
	TotalDuration time.Duration
	MinDuration   time.Duration
	MaxDuration   time.Duration
	LastDispatch  time.Time
}

// AverageDuration returns the mean dispatch duration for the key.
func (s *KeyStats) AverageDuration() time.Duration {
	if s.DispatchCount == 0 {
		return 0
	}
	return s.TotalDuration / time.Duration(s.DispatchCount)
}

// New creates a tracer. A non-positive debounce uses DefaultDebounce.
func New(debounce time.Duration) *Tracer {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Tracer{
		debounce:  debounce,
		callbacks: make(map[string]Callback),
		stats:     make(map[string]*KeyStats),
	}
}

// AddCallback registers a batch callback under a removal key.
func (t *Tracer) AddCallback(key string, cb Callback) {
	if cb == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.callbacks[key] = cb
}

// RemoveCallback removes a previously registered callback.
func (t *Tracer) RemoveCallback(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.callbacks, key)
}

// CallbackCount returns the number of registered callbacks.
func (t *Tracer) CallbackCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.callbacks)
}

// Record stores a finished trace record and schedules delivery.
// The record is assigned an ID if it has none.
func (t *Tracer) Record(ev Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}

	t.recordStats(ev)

	if len(t.callbacks) == 0 {
		return
	}

	t.pending = append(t.pending, ev)
	if t.timer == nil {
		t.timer = time.AfterFunc(t.debounce, t.deliver)
	}
}

// recordStats updates per-key aggregates. Caller holds the lock.
func (t *Tracer) recordStats(ev Event) {
	ks := t.stats[ev.EventKey]
	if ks == nil {
		ks = &KeyStats{
			EventKey:    ev.EventKey,
			MinDuration: ev.Duration,
			MaxDuration: ev.Duration,
		}
		t.stats[ev.EventKey] = ks
	}

	ks.DispatchCount++
	ks.TotalDuration += ev.Duration
	ks.LastDispatch = ev.End
	if ev.Err != nil {
		ks.ErrorCount++
	}
	if ev.Duration < ks.MinDuration {
		ks.MinDuration = ev.Duration
	}
	if ev.Duration > ks.MaxDuration {
		ks.MaxDuration = ev.Duration
	}
}

// Stats returns a copy of the aggregates for an event key.
// Returns nil if the key has never been dispatched.
func (t *Tracer) Stats(eventKey string) *KeyStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	ks := t.stats[eventKey]
	if ks == nil {
		return nil
	}
	cp := *ks
	return &cp
}

// Flush delivers any pending records immediately.
func (t *Tracer) Flush() {
	t.mu.Lock()
	if t.timer != nil {
		t.timer.Stop()
	}
	t.mu.Unlock()

	t.deliver()
}

// deliver hands the pending batch to every callback.
func (t *Tracer) deliver() {
	t.mu.Lock()
	t.timer = nil
	if len(t.pending) == 0 {
		t.mu.Unlock()
		return
	}
	batch := t.pending
	t.pending = nil
	cbs := make([]Callback, 0, len(t.callbacks))
	for _, cb := range t.callbacks {
		cbs = append(cbs, cb)
	}
	t.mu.Unlock()

	for _, cb := range cbs {
		cb(batch)
	}
}

// Reset clears pending records and statistics. Callbacks stay
// registered.
func (t *Tracer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.pending = nil
	t.stats = make(map[string]*KeyStats)
}
