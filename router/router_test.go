package router_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/reflowlabs/reflow/router"
)

func TestDispatchProcessesEvent(t *testing.T) {
	var mu sync.Mutex
	var got []string

	r := router.New(func(key string, _ any) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, key)
		return nil
	})

	if err := r.Dispatch("one", nil).Wait(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != "one" {
		t.Errorf("expected [one], got %v", got)
	}
}

func TestEventsProcessInEnqueueOrder(t *testing.T) {
	var mu sync.Mutex
	var got []string

	r := router.New(func(key string, _ any) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, key)
		return nil
	})

	keys := []string{"a", "b", "c", "d", "e"}
	var last *router.Receipt
	for _, k := range keys {
		last = r.Dispatch(k, nil)
	}
	_ = last.Wait()

	mu.Lock()
	defer mu.Unlock()
	for i, k := range keys {
		if got[i] != k {
			t.Fatalf("order violated: got %v", got)
		}
	}
}

func TestNestedDispatchAppendsToTail(t *testing.T) {
	var mu sync.Mutex
	var got []string
	var r *router.Router

	// Hold processing until both top-level events are queued.
	ready := make(chan struct{})

	r = router.New(func(key string, _ any) error {
		<-ready
		mu.Lock()
		got = append(got, key)
		mu.Unlock()

		// "parent" enqueues a child mid-processing; the child must run
		// after everything already queued, never nested.
		if key == "parent" {
			r.Dispatch("child", nil)
		}
		return nil
	})

	r.Dispatch("parent", nil)
	r.Dispatch("sibling", nil)
	close(ready)
	r.Flush()

	mu.Lock()
	defer mu.Unlock()
	want := []string{"parent", "sibling", "child"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestReceiptCarriesProcessError(t *testing.T) {
	boom := errors.New("boom")
	r := router.New(func(string, any) error { return boom })

	if err := r.Dispatch("x", nil).Wait(); !errors.Is(err, boom) {
		t.Errorf("expected boom, got %v", err)
	}
}

func TestReceiptErrBeforeDone(t *testing.T) {
	release := make(chan struct{})
	r := router.New(func(string, any) error {
		<-release
		return errors.New("late")
	})

	rec := r.Dispatch("x", nil)
	if rec.Err() != nil {
		t.Error("Err must be nil before Done")
	}
	close(release)
	<-rec.Done()
	if rec.Err() == nil {
		t.Error("Err must surface after Done")
	}
}

func TestFlushWaitsForQueue(t *testing.T) {
	var processed int
	var mu sync.Mutex

	r := router.New(func(string, any) error {
		time.Sleep(time.Millisecond)
		mu.Lock()
		processed++
		mu.Unlock()
		return nil
	})

	for i := 0; i < 10; i++ {
		r.Dispatch("x", nil)
	}
	r.Flush()

	mu.Lock()
	defer mu.Unlock()
	if processed != 10 {
		t.Errorf("expected 10 processed, got %d", processed)
	}
	if r.Len() != 0 {
		t.Errorf("expected empty queue, got %d", r.Len())
	}
}

func TestFlushOnIdleRouter(t *testing.T) {
	r := router.New(func(string, any) error { return nil })

	done := make(chan struct{})
	go func() {
		r.Flush()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Flush on an idle router must return immediately")
	}
}

func TestOnIdleRunsAtDrainBoundary(t *testing.T) {
	var mu sync.Mutex
	var order []string

	ready := make(chan struct{})

	r := router.New(func(key string, _ any) error {
		<-ready
		mu.Lock()
		order = append(order, "process:"+key)
		mu.Unlock()
		return nil
	})
	r.OnIdle(func() {
		mu.Lock()
		order = append(order, "idle")
		mu.Unlock()
	})

	r.Dispatch("a", nil)
	r.Dispatch("b", nil)
	close(ready)
	r.Flush()

	mu.Lock()
	defer mu.Unlock()
	if len(order) < 3 {
		t.Fatalf("expected processing plus idle, got %v", order)
	}
	if order[0] != "process:a" || order[1] != "process:b" {
		t.Errorf("expected both events before idle, got %v", order)
	}
	if order[len(order)-1] != "idle" {
		t.Errorf("expected idle at drain boundary, got %v", order)
	}
}

func TestOnIdleEnqueueKeepsDrainAlive(t *testing.T) {
	var mu sync.Mutex
	var got []string
	requeued := false

	r := router.New(func(key string, _ any) error {
		mu.Lock()
		got = append(got, key)
		mu.Unlock()
		return nil
	})
	r.OnIdle(func() {
		mu.Lock()
		defer mu.Unlock()
		if !requeued {
			requeued = true
			r.Dispatch("followup", nil)
		}
	})

	r.Dispatch("first", nil)
	r.Flush()

	mu.Lock()
	defer mu.Unlock()
	want := []string{"first", "followup"}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("expected %v, got %v", want, got)
	}
}
