// Package listener defines the observers notified as an invocation moves
// through the request processor, and the pipeline that fans notifications out
// to them in registration order.
package listener

import (
	"context"

	"github.com/morezero/automation-client/pkg/handler"
	"github.com/morezero/automation-client/pkg/wire"
)

// Listener observes invocation lifecycle transitions. Hooks returning an error
// are notified sequentially after an invocation settles; the rest fire as the
// transition happens.
type Listener interface {
	CommandIncoming(ctx context.Context, frame *wire.CommandFrame)
	ContextCreated(ctx context.Context, hc *handler.Context)
	CommandStarting(ctx context.Context, inv *handler.CommandInvocation, hc *handler.Context)
	CommandSuccessful(ctx context.Context, inv *handler.CommandInvocation, hc *handler.Context, result *handler.Result) error
	CommandFailed(ctx context.Context, inv *handler.CommandInvocation, hc *handler.Context, result *handler.Result) error

	EventIncoming(ctx context.Context, frame *wire.EventFrame)
	EventStarting(ctx context.Context, e *handler.EventFired, hc *handler.Context)
	EventSuccessful(ctx context.Context, e *handler.EventFired, hc *handler.Context, results []*handler.Result) error
	EventFailed(ctx context.Context, e *handler.EventFired, hc *handler.Context, results []*handler.Result) error

	// MessageSent is called before a handler-originated message is handed to
	// the transport. dest is nil for replies to the invoking source.
	MessageSent(ctx context.Context, msg interface{}, dest *handler.Destination, opts *handler.MessageOptions, hc *handler.Context)

	RegistrationSuccessful(ctx context.Context, conf *wire.RegistrationConfirmation)
}

// NoOpListener implements every hook as a no-op. Embed it and override the
// hooks of interest.
type NoOpListener struct{}

func (NoOpListener) CommandIncoming(context.Context, *wire.CommandFrame)                        {}
func (NoOpListener) ContextCreated(context.Context, *handler.Context)                           {}
func (NoOpListener) CommandStarting(context.Context, *handler.CommandInvocation, *handler.Context) {}
func (NoOpListener) CommandSuccessful(context.Context, *handler.CommandInvocation, *handler.Context, *handler.Result) error {
	return nil
}
func (NoOpListener) CommandFailed(context.Context, *handler.CommandInvocation, *handler.Context, *handler.Result) error {
	return nil
}
func (NoOpListener) EventIncoming(context.Context, *wire.EventFrame)                     {}
func (NoOpListener) EventStarting(context.Context, *handler.EventFired, *handler.Context) {}
func (NoOpListener) EventSuccessful(context.Context, *handler.EventFired, *handler.Context, []*handler.Result) error {
	return nil
}
func (NoOpListener) EventFailed(context.Context, *handler.EventFired, *handler.Context, []*handler.Result) error {
	return nil
}
func (NoOpListener) MessageSent(context.Context, interface{}, *handler.Destination, *handler.MessageOptions, *handler.Context) {
}
func (NoOpListener) RegistrationSuccessful(context.Context, *wire.RegistrationConfirmation) {}
