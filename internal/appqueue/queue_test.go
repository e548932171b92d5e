package appqueue

import (
	"sync"
	"testing"
	"time"
)

func TestGroupSerialization(t *testing.T) {
	q := New(0)
	var order []int
	var mu sync.Mutex

	done := make(chan struct{})
	go func() {
		for i := 0; i < 2; i++ {
			r, ok := q.Dispatch()
			if !ok {
				return
			}
			mu.Lock()
			order = append(order, int(r.ID))
			mu.Unlock()
			r.Run()
			q.Release(r.Group)
		}
		close(done)
	}()

	first := make(chan struct{})
	q.Enqueue(&Request{ID: 1, Group: 1, Run: func() { close(first) }})
	<-first
	q.Enqueue(&Request{ID: 2, Group: 1, Run: func() {}})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for dispatch loop")
	}

	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("expected in-order dispatch [1 2], got %v", order)
	}
}

func TestDifferentGroupsRunConcurrently(t *testing.T) {
	q := New(0)
	q.Enqueue(&Request{ID: 1, Group: 1, Run: func() {}})
	q.Enqueue(&Request{ID: 2, Group: 2, Run: func() {}})

	r1, ok := q.Dispatch()
	if !ok || r1.Group != 1 {
		t.Fatalf("expected group 1 first, got %+v ok=%v", r1, ok)
	}
	// Group 1 is now busy but group 2 should still be dispatchable.
	r2, ok := q.Dispatch()
	if !ok || r2.Group != 2 {
		t.Fatalf("expected group 2 to dispatch while group 1 is busy, got %+v ok=%v", r2, ok)
	}
}

func TestPauseBlocksNormalNotUrgent(t *testing.T) {
	q := New(0)
	q.Pause()
	q.Enqueue(&Request{ID: 1, Group: 1, Run: func() {}})
	q.Enqueue(&Request{ID: 2, Group: 2, Urgent: true, Run: func() {}})

	r, ok := q.Dispatch()
	if !ok || r.ID != 2 {
		t.Fatalf("expected urgent request to dispatch while paused, got %+v ok=%v", r, ok)
	}
}

func TestExpiredRequestsAreDropped(t *testing.T) {
	q := New(0)
	q.Enqueue(&Request{ID: 1, Group: 1, Expired: func() bool { return true }, Run: func() {}})
	q.Enqueue(&Request{ID: 2, Group: 1, Run: func() {}})

	r, ok := q.Dispatch()
	if !ok || r.ID != 2 {
		t.Fatalf("expected expired request 1 to be skipped, got %+v ok=%v", r, ok)
	}
	if q.Dropped() != 1 {
		t.Fatalf("expected 1 dropped request, got %d", q.Dropped())
	}
}

func TestCloseUnblocksDispatch(t *testing.T) {
	q := New(0)
	done := make(chan struct{})
	go func() {
		_, ok := q.Dispatch()
		if ok {
			t.Error("expected Dispatch to return false after Close")
		}
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close did not unblock Dispatch")
	}
}
