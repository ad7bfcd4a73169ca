package listener

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/morezero/automation-client/pkg/correlation"
	"github.com/morezero/automation-client/pkg/handler"
	"github.com/morezero/automation-client/pkg/wire"
)

const logPrefix = "listener:pipeline"

// Pipeline notifies an ordered list of listeners. Each listener call is
// isolated: a panic or returned error is logged and the next listener still
// runs. Pipeline itself satisfies Listener; its error-returning hooks always
// return nil.
type Pipeline struct {
	mu        sync.RWMutex
	listeners []Listener
}

// NewPipeline creates a Pipeline notifying ls in order.
func NewPipeline(ls ...Listener) *Pipeline {
	p := &Pipeline{}
	for _, l := range ls {
		p.Add(l)
	}
	return p
}

// Add appends l. Nil listeners are ignored.
func (p *Pipeline) Add(l Listener) {
	if l == nil {
		return
	}
	p.mu.Lock()
	p.listeners = append(p.listeners, l)
	p.mu.Unlock()
}

// Len returns the number of listeners.
func (p *Pipeline) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.listeners)
}

func (p *Pipeline) snapshot() []Listener {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Listener(nil), p.listeners...)
}

// notify runs fn once per listener, in order, containing panics and errors.
func (p *Pipeline) notify(ctx context.Context, hook string, fn func(Listener) error) {
	for i, l := range p.snapshot() {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					slog.Error(fmt.Sprintf("%s - [%s] Listener %d (%T) panicked in %s: %v", logPrefix, correlation.CorrelationID(ctx), i, l, hook, rec))
				}
			}()
			if err := fn(l); err != nil {
				slog.Warn(fmt.Sprintf("%s - [%s] Listener %d (%T) failed in %s: %v", logPrefix, correlation.CorrelationID(ctx), i, l, hook, err))
			}
		}()
	}
}

func (p *Pipeline) CommandIncoming(ctx context.Context, frame *wire.CommandFrame) {
	p.notify(ctx, "CommandIncoming", func(l Listener) error { l.CommandIncoming(ctx, frame); return nil })
}

func (p *Pipeline) ContextCreated(ctx context.Context, hc *handler.Context) {
	p.notify(ctx, "ContextCreated", func(l Listener) error { l.ContextCreated(ctx, hc); return nil })
}

func (p *Pipeline) CommandStarting(ctx context.Context, inv *handler.CommandInvocation, hc *handler.Context) {
	p.notify(ctx, "CommandStarting", func(l Listener) error { l.CommandStarting(ctx, inv, hc); return nil })
}

func (p *Pipeline) CommandSuccessful(ctx context.Context, inv *handler.CommandInvocation, hc *handler.Context, result *handler.Result) error {
	p.notify(ctx, "CommandSuccessful", func(l Listener) error { return l.CommandSuccessful(ctx, inv, hc, result) })
	return nil
}

func (p *Pipeline) CommandFailed(ctx context.Context, inv *handler.CommandInvocation, hc *handler.Context, result *handler.Result) error {
	p.notify(ctx, "CommandFailed", func(l Listener) error { return l.CommandFailed(ctx, inv, hc, result) })
	return nil
}

func (p *Pipeline) EventIncoming(ctx context.Context, frame *wire.EventFrame) {
	p.notify(ctx, "EventIncoming", func(l Listener) error { l.EventIncoming(ctx, frame); return nil })
}

func (p *Pipeline) EventStarting(ctx context.Context, e *handler.EventFired, hc *handler.Context) {
	p.notify(ctx, "EventStarting", func(l Listener) error { l.EventStarting(ctx, e, hc); return nil })
}

func (p *Pipeline) EventSuccessful(ctx context.Context, e *handler.EventFired, hc *handler.Context, results []*handler.Result) error {
	p.notify(ctx, "EventSuccessful", func(l Listener) error { return l.EventSuccessful(ctx, e, hc, results) })
	return nil
}

func (p *Pipeline) EventFailed(ctx context.Context, e *handler.EventFired, hc *handler.Context, results []*handler.Result) error {
	p.notify(ctx, "EventFailed", func(l Listener) error { return l.EventFailed(ctx, e, hc, results) })
	return nil
}

func (p *Pipeline) MessageSent(ctx context.Context, msg interface{}, dest *handler.Destination, opts *handler.MessageOptions, hc *handler.Context) {
	p.notify(ctx, "MessageSent", func(l Listener) error { l.MessageSent(ctx, msg, dest, opts, hc); return nil })
}

func (p *Pipeline) RegistrationSuccessful(ctx context.Context, conf *wire.RegistrationConfirmation) {
	p.notify(ctx, "RegistrationSuccessful", func(l Listener) error { l.RegistrationSuccessful(ctx, conf); return nil })
}
