// Package shutdown runs registered teardown hooks in priority order under a
// hard ceiling.
package shutdown

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

const logPrefix = "shutdown:shutdown"

// DefaultCeiling bounds the whole shutdown sequence.
const DefaultCeiling = 2 * time.Minute

// Priorities used by the client. Lower runs first.
const (
	PriorityTransport = 100
	PriorityHTTP      = 200
	PriorityComms     = 300
	PriorityDatabase  = 400
)

// Hook tears down one component.
type Hook func(ctx context.Context) error

type entry struct {
	priority int
	name     string
	fn       Hook
	seq      int
}

// Queue holds shutdown hooks. Hooks with equal priority run in
// registration order.
type Queue struct {
	mu      sync.Mutex
	entries []entry
	ceiling time.Duration
	ran     bool
}

func NewQueue(ceiling time.Duration) *Queue {
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	return &Queue{ceiling: ceiling}
}

func (q *Queue) Register(priority int, name string, fn Hook) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, entry{priority: priority, name: name, fn: fn, seq: len(q.entries)})
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Run executes every hook once. A failing or panicking hook is logged and
// the rest still run. Run returns context.DeadlineExceeded when the ceiling
// elapses before all hooks finish; remaining hooks are then abandoned.
func (q *Queue) Run(ctx context.Context) error {
	q.mu.Lock()
	if q.ran {
		q.mu.Unlock()
		return nil
	}
	q.ran = true
	entries := append([]entry(nil), q.entries...)
	q.mu.Unlock()

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].priority != entries[j].priority {
			return entries[i].priority < entries[j].priority
		}
		return entries[i].seq < entries[j].seq
	})

	ctx, cancel := context.WithTimeout(ctx, q.ceiling)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, e := range entries {
			if ctx.Err() != nil {
				return
			}
			runHook(ctx, e)
		}
	}()

	select {
	case <-done:
		slog.Info(fmt.Sprintf("%s - Shutdown complete", logPrefix))
		return nil
	case <-ctx.Done():
		slog.Error(fmt.Sprintf("%s - Shutdown ceiling of %s reached, abandoning remaining hooks", logPrefix, q.ceiling))
		return ctx.Err()
	}
}

func runHook(ctx context.Context, e entry) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error(fmt.Sprintf("%s - Hook %s panicked: %v", logPrefix, e.name, r))
		}
	}()
	start := time.Now()
	if err := e.fn(ctx); err != nil {
		slog.Warn(fmt.Sprintf("%s - Hook %s failed: %v", logPrefix, e.name, err))
		return
	}
	slog.Debug(fmt.Sprintf("%s - Hook %s done in %s", logPrefix, e.name, time.Since(start)))
}
