package handler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const contextLogPrefix = "handler:context"

// GraphClient queries and mutates the team's graph.
type GraphClient interface {
	Query(ctx context.Context, query string, variables map[string]interface{}, out interface{}) error
	Mutate(ctx context.Context, mutation string, variables map[string]interface{}, out interface{}) error
}

// Destination addresses a message to channels and/or users of a team.
type Destination struct {
	TeamID   string   `json:"team_id,omitempty"`
	Channels []string `json:"channels,omitempty"`
	Users    []string `json:"users,omitempty"`
}

// Post modes for message options.
const (
	PostAlways     = "always"
	PostUpdateOnly = "update_only"
)

// MessageOptions tune delivery of one message.
type MessageOptions struct {
	ID        string
	TTL       time.Duration
	Timestamp time.Time
	Post      string
}

// MessageClient sends messages on behalf of a handler.
type MessageClient interface {
	// Respond replies to whoever invoked the handler.
	Respond(ctx context.Context, msg interface{}, opts *MessageOptions) error
	// Send addresses a message explicitly.
	Send(ctx context.Context, msg interface{}, dest Destination, opts *MessageOptions) error
}

// Context is created fresh per invocation and owned by it.
type Context struct {
	TeamID        string
	TeamName      string
	CorrelationID string
	InvocationID  string
	Graph         GraphClient
	Messages      MessageClient
	Lifecycle     *Lifecycle
}

type disposable struct {
	fn          func(context.Context) error
	description string
}

// Lifecycle collects resources a handler wants released once its invocation
// completes.
type Lifecycle struct {
	mu          sync.Mutex
	disposables []disposable
	disposed    bool
}

// NewLifecycle returns an empty Lifecycle.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{}
}

// RegisterDisposable adds fn to run at disposal. After disposal fn runs immediately.
func (l *Lifecycle) RegisterDisposable(fn func(context.Context) error, description string) {
	l.mu.Lock()
	if l.disposed {
		l.mu.Unlock()
		if err := fn(context.Background()); err != nil {
			slog.Warn(fmt.Sprintf("%s - late disposable %q failed: %v", contextLogPrefix, description, err))
		}
		return
	}
	l.disposables = append(l.disposables, disposable{fn: fn, description: description})
	l.mu.Unlock()
}

// Dispose runs registered disposables in reverse order of registration and
// returns their errors. Later calls are no-ops.
func (l *Lifecycle) Dispose(ctx context.Context) []error {
	l.mu.Lock()
	if l.disposed {
		l.mu.Unlock()
		return nil
	}
	l.disposed = true
	ds := l.disposables
	l.disposables = nil
	l.mu.Unlock()

	var errs []error
	for i := len(ds) - 1; i >= 0; i-- {
		if err := ds[i].fn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s - dispose %q: %w", contextLogPrefix, ds[i].description, err))
		}
	}
	return errs
}
