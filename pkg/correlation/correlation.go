// Package correlation carries the per-invocation correlation bundle through a
// context.Context so any code running within an invocation (including goroutines
// started from it) can read it without explicit parameter threading.
package correlation

import (
	"context"
	"time"
)

// Context is the immutable correlation bundle for one command or event invocation.
type Context struct {
	CorrelationID  string
	TeamID         string
	TeamName       string
	OperationName  string
	InvocationID   string
	StartTimestamp time.Time
}

type contextKey struct{}

// WithContext returns a child of parent carrying c. The parent is untouched, so a
// nested invocation gets its own value and the caller's value is restored as soon
// as the nested call returns and the caller goes back to using its own ctx.
func WithContext(parent context.Context, c Context) context.Context {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithValue(parent, contextKey{}, c)
}

// FromContext returns the active correlation bundle, if any.
func FromContext(ctx context.Context) (Context, bool) {
	if ctx == nil {
		return Context{}, false
	}
	c, ok := ctx.Value(contextKey{}).(Context)
	return c, ok
}

// CorrelationID returns the active correlation id or "" outside an invocation.
func CorrelationID(ctx context.Context) string {
	c, _ := FromContext(ctx)
	return c.CorrelationID
}

// Clear returns a child of ctx with no active correlation bundle.
func Clear(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return context.WithValue(ctx, contextKey{}, nil)
}

// Elapsed reports the time since the invocation started.
func (c Context) Elapsed() time.Duration {
	if c.StartTimestamp.IsZero() {
		return 0
	}
	return time.Since(c.StartTimestamp)
}

// String renders the bundle for log lines.
func (c Context) String() string {
	return "corrid=" + c.CorrelationID + " team=" + c.TeamID + " op=" + c.OperationName + " inv=" + c.InvocationID
}
