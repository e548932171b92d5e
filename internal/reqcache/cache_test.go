package reqcache

import (
	"testing"
	"time"
)

func TestInsertGetRemove(t *testing.T) {
	c := New()
	c.Insert(&Entry{ID: 1, HandlerID: 1, Deadline: time.Now().Add(time.Minute)})

	if _, ok := c.Get(1); !ok {
		t.Fatal("expected entry 1 to be present")
	}
	if !c.Remove(1) {
		t.Fatal("Remove should report success")
	}
	if c.Remove(1) {
		t.Fatal("second Remove of the same id should report false")
	}
}

func TestNextExpiredOrdering(t *testing.T) {
	c := New()
	base := time.Now()
	c.Insert(&Entry{ID: 1, Deadline: base.Add(-2 * time.Second)})
	c.Insert(&Entry{ID: 2, Deadline: base.Add(-1 * time.Second)})
	c.Insert(&Entry{ID: 3, Deadline: base.Add(time.Hour)})

	expired := c.NextExpired(base)
	if len(expired) != 2 {
		t.Fatalf("expected 2 expired entries, got %d", len(expired))
	}
	if expired[0].ID != 1 || expired[1].ID != 2 {
		t.Fatalf("expired entries out of order: %+v", expired)
	}
	if c.Len() != 1 {
		t.Fatalf("expected 1 remaining entry, got %d", c.Len())
	}
}

func TestSweepOutOfOrderDeadlines(t *testing.T) {
	c := New()
	base := time.Now()
	c.Insert(&Entry{ID: 1, Deadline: base.Add(time.Hour)})
	c.Insert(&Entry{ID: 2, Deadline: base.Add(-time.Hour)})

	expired := c.Sweep(base)
	if len(expired) != 1 || expired[0].ID != 2 {
		t.Fatalf("Sweep should find the out-of-order expired entry: %+v", expired)
	}
}

func TestPurgeForHandler(t *testing.T) {
	c := New()
	c.Insert(&Entry{ID: 1, HandlerID: 10, Deadline: time.Now().Add(time.Minute)})
	c.Insert(&Entry{ID: 2, HandlerID: 20, Deadline: time.Now().Add(time.Minute)})
	c.Insert(&Entry{ID: 3, HandlerID: 10, Deadline: time.Now().Add(time.Minute)})

	purged := c.PurgeForHandler(10)
	if len(purged) != 2 {
		t.Fatalf("expected 2 purged entries, got %d", len(purged))
	}
	if c.Len() != 1 {
		t.Fatalf("expected 1 remaining entry, got %d", c.Len())
	}
	if _, ok := c.Get(2); !ok {
		t.Fatal("handler 20's entry should survive the purge")
	}
}

func TestInsertDuplicateIDPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate id insert")
		}
	}()
	c := New()
	c.Insert(&Entry{ID: 1, Deadline: time.Now()})
	c.Insert(&Entry{ID: 1, Deadline: time.Now()})
}
