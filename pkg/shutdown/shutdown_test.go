package shutdown

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"
)

func TestQueue_RunsInPriorityOrder(t *testing.T) {
	q := NewQueue(time.Second)
	var mu sync.Mutex
	var order []string
	record := func(name string) Hook {
		return func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			return nil
		}
	}
	q.Register(PriorityDatabase, "db", record("db"))
	q.Register(PriorityTransport, "transport", record("transport"))
	q.Register(PriorityHTTP, "http-a", record("http-a"))
	q.Register(PriorityHTTP, "http-b", record("http-b"))

	if err := q.Run(context.Background()); err != nil {
		t.Fatalf("shutdown:shutdown_test - Run: %v", err)
	}
	want := []string{"transport", "http-a", "http-b", "db"}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("shutdown:shutdown_test - order = %v, want %v", order, want)
	}
}

func TestQueue_FailuresDoNotStopLaterHooks(t *testing.T) {
	q := NewQueue(time.Second)
	ran := false
	q.Register(1, "fails", func(context.Context) error { return errors.New("boom") })
	q.Register(2, "panics", func(context.Context) error { panic("boom") })
	q.Register(3, "last", func(context.Context) error { ran = true; return nil })

	if err := q.Run(context.Background()); err != nil {
		t.Fatalf("shutdown:shutdown_test - Run: %v", err)
	}
	if !ran {
		t.Errorf("shutdown:shutdown_test - later hook did not run")
	}
}

func TestQueue_Ceiling(t *testing.T) {
	q := NewQueue(20 * time.Millisecond)
	release := make(chan struct{})
	defer close(release)
	q.Register(1, "stuck", func(context.Context) error { <-release; return nil })

	start := time.Now()
	err := q.Run(context.Background())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("shutdown:shutdown_test - expected DeadlineExceeded, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Errorf("shutdown:shutdown_test - ceiling not enforced")
	}
}

func TestQueue_RunsOnce(t *testing.T) {
	q := NewQueue(time.Second)
	calls := 0
	q.Register(1, "count", func(context.Context) error { calls++; return nil })
	_ = q.Run(context.Background())
	_ = q.Run(context.Background())
	if calls != 1 {
		t.Errorf("shutdown:shutdown_test - hook ran %d times, want 1", calls)
	}
}
