package trace_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/reflowlabs/reflow/trace"
)

// collector accumulates delivered batches.
type collector struct {
	mu      sync.Mutex
	batches [][]trace.Event
}

func (c *collector) callback(batch []trace.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, batch)
}

func (c *collector) batchCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.batches)
}

func (c *collector) totalEvents() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, b := range c.batches {
		n += len(b)
	}
	return n
}

func TestBurstArrivesAsOneBatch(t *testing.T) {
	tr := trace.New(10 * time.Millisecond)
	c := &collector{}
	tr.AddCallback("test", c.callback)

	tr.Record(trace.Event{EventKey: "a"})
	tr.Record(trace.Event{EventKey: "b"})
	tr.Record(trace.Event{EventKey: "c"})

	deadline := time.Now().Add(time.Second)
	for c.batchCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	if c.batchCount() != 1 {
		t.Fatalf("expected one debounced batch, got %d", c.batchCount())
	}
	if c.totalEvents() != 3 {
		t.Errorf("expected 3 records in the batch, got %d", c.totalEvents())
	}
}

func TestRecordAssignsID(t *testing.T) {
	tr := trace.New(time.Millisecond)
	c := &collector{}
	tr.AddCallback("test", c.callback)

	tr.Record(trace.Event{EventKey: "a"})
	tr.Flush()

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.batches) != 1 || len(c.batches[0]) != 1 {
		t.Fatalf("expected one delivered record, got %v", c.batches)
	}
	if c.batches[0][0].ID == "" {
		t.Error("expected a generated record id")
	}
}

func TestFlushDeliversImmediately(t *testing.T) {
	tr := trace.New(time.Hour)
	c := &collector{}
	tr.AddCallback("test", c.callback)

	tr.Record(trace.Event{EventKey: "a"})
	tr.Flush()

	if c.totalEvents() != 1 {
		t.Errorf("expected immediate delivery on flush, got %d records", c.totalEvents())
	}
}

func TestNoBufferingWithoutCallbacks(t *testing.T) {
	tr := trace.New(time.Millisecond)

	tr.Record(trace.Event{EventKey: "a"})

	// A callback registered afterwards must not receive earlier records.
	c := &collector{}
	tr.AddCallback("late", c.callback)
	tr.Flush()

	if c.totalEvents() != 0 {
		t.Errorf("records before any callback must be dropped, got %d", c.totalEvents())
	}
}

func TestRemoveCallback(t *testing.T) {
	tr := trace.New(time.Millisecond)
	c := &collector{}
	tr.AddCallback("test", c.callback)
	tr.RemoveCallback("test")

	if tr.CallbackCount() != 0 {
		t.Fatalf("expected 0 callbacks, got %d", tr.CallbackCount())
	}

	tr.Record(trace.Event{EventKey: "a"})
	tr.Flush()

	if c.totalEvents() != 0 {
		t.Errorf("removed callback must not be invoked, got %d records", c.totalEvents())
	}
}

func TestStatsAggregation(t *testing.T) {
	tr := trace.New(time.Millisecond)

	now := time.Now()
	tr.Record(trace.Event{EventKey: "save", Duration: 10 * time.Millisecond, End: now})
	tr.Record(trace.Event{EventKey: "save", Duration: 30 * time.Millisecond, End: now.Add(time.Second)})
	tr.Record(trace.Event{EventKey: "save", Duration: 20 * time.Millisecond, Err: errors.New("boom")})

	ks := tr.Stats("save")
	if ks == nil {
		t.Fatal("expected stats for dispatched key")
	}
	if ks.DispatchCount != 3 {
		t.Errorf("DispatchCount = %d, want 3", ks.DispatchCount)
	}
	if ks.ErrorCount != 1 {
		t.Errorf("ErrorCount = %d, want 1", ks.ErrorCount)
	}
	if ks.MinDuration != 10*time.Millisecond {
		t.Errorf("MinDuration = %v, want 10ms", ks.MinDuration)
	}
	if ks.MaxDuration != 30*time.Millisecond {
		t.Errorf("MaxDuration = %v, want 30ms", ks.MaxDuration)
	}
	if ks.AverageDuration() != 20*time.Millisecond {
		t.Errorf("AverageDuration = %v, want 20ms", ks.AverageDuration())
	}
}

func TestStatsMissingKey(t *testing.T) {
	tr := trace.New(time.Millisecond)

	if ks := tr.Stats("never"); ks != nil {
		t.Errorf("expected nil stats for unseen key, got %+v", ks)
	}
}

func TestStatsRecordedWithoutCallbacks(t *testing.T) {
	tr := trace.New(time.Millisecond)

	tr.Record(trace.Event{EventKey: "save", Duration: time.Millisecond})

	if ks := tr.Stats("save"); ks == nil || ks.DispatchCount != 1 {
		t.Errorf("stats must aggregate even with no callbacks, got %+v", ks)
	}
}

func TestResetClearsPendingAndStats(t *testing.T) {
	tr := trace.New(time.Hour)
	c := &collector{}
	tr.AddCallback("test", c.callback)

	tr.Record(trace.Event{EventKey: "save"})
	tr.Reset()
	tr.Flush()

	if c.totalEvents() != 0 {
		t.Errorf("expected pending records dropped, got %d", c.totalEvents())
	}
	if tr.Stats("save") != nil {
		t.Error("expected stats cleared")
	}
	if tr.CallbackCount() != 1 {
		t.Error("callbacks must survive a reset")
	}
}
