package pipeline

import (
	"sync"
	"testing"
	"time"
)

func TestCallbackQueueOrderAndSpacing(t *testing.T) {
	q := NewCallbackQueue(20 * time.Millisecond)

	var mu sync.Mutex
	var order []int
	var stamps []time.Time
	done := make(chan struct{})

	for i := 0; i < 3; i++ {
		i := i
		q.Enqueue(func() {
			mu.Lock()
			order = append(order, i)
			stamps = append(stamps, time.Now())
			if len(order) == 3 {
				close(done)
			}
			mu.Unlock()
		})
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("queue did not drain")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, got := range order {
		if got != i {
			t.Fatalf("order = %v, want FIFO", order)
		}
	}
	for i := 1; i < len(stamps); i++ {
		if gap := stamps[i].Sub(stamps[i-1]); gap < 20*time.Millisecond {
			t.Fatalf("gap %d = %v, want >= 20ms", i, gap)
		}
	}
}

func TestCallbackQueueRestartsAfterDrain(t *testing.T) {
	q := NewCallbackQueue(time.Millisecond)

	run := func() chan struct{} {
		ch := make(chan struct{})
		q.Enqueue(func() { close(ch) })
		return ch
	}

	first := run()
	select {
	case <-first:
	case <-time.After(time.Second):
		t.Fatal("first callback never ran")
	}

	// Let the drain loop wind down, then enqueue again.
	time.Sleep(20 * time.Millisecond)
	second := run()
	select {
	case <-second:
	case <-time.After(time.Second):
		t.Fatal("queue did not restart for the second callback")
	}
}

func TestCallbackQueueWindsDownWithoutTrailingGap(t *testing.T) {
	q := NewCallbackQueue(time.Second)

	ran := make(chan struct{})
	q.Enqueue(func() { close(ran) })
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("callback never ran")
	}

	// With nothing left the loop must exit right away, not sit out the
	// full spacing first.
	deadline := time.Now().Add(100 * time.Millisecond)
	for {
		q.mu.Lock()
		draining := q.draining
		q.mu.Unlock()
		if !draining {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("drain loop lingered after the last item")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestCallbackQueuePicksUpMidDrainEnqueues(t *testing.T) {
	q := NewCallbackQueue(time.Millisecond)

	done := make(chan struct{})
	q.Enqueue(func() {
		// Enqueued while the drain loop is running the first item.
		q.Enqueue(func() { close(done) })
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("mid-drain enqueue was not picked up")
	}
}
