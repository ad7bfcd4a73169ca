package listener

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/morezero/automation-client/pkg/correlation"
	"github.com/morezero/automation-client/pkg/events"
	"github.com/morezero/automation-client/pkg/handler"
	"github.com/morezero/automation-client/pkg/wire"
)

const commsLogPrefix = "listener:comms"

// CommsListener publishes every lifecycle transition through an
// events.EventPublisher.
type CommsListener struct {
	publisher  events.EventPublisher
	automation string
	version    string
	now        func() time.Time
}

// NewCommsListener creates a CommsListener stamping events with the automation's identity.
func NewCommsListener(publisher events.EventPublisher, automation, version string) *CommsListener {
	return &CommsListener{publisher: publisher, automation: automation, version: version, now: time.Now}
}

func (c *CommsListener) event(ctx context.Context, stage, name string) *events.LifecycleEvent {
	e := &events.LifecycleEvent{
		Stage:      stage,
		Automation: c.automation,
		Version:    c.version,
		Name:       name,
		Timestamp:  c.now().UTC().Format(time.RFC3339Nano),
	}
	if cc, ok := correlation.FromContext(ctx); ok {
		e.CorrelationID = cc.CorrelationID
		e.InvocationID = cc.InvocationID
		e.TeamID = cc.TeamID
		e.DurationMs = cc.Elapsed().Milliseconds()
	}
	return e
}

func withResult(e *events.LifecycleEvent, r *handler.Result) *events.LifecycleEvent {
	if r != nil {
		code := r.Code
		e.Code = &code
		e.Message = r.Message
	}
	return e
}

func withResults(e *events.LifecycleEvent, rs []*handler.Result) *events.LifecycleEvent {
	code := 0
	for _, r := range rs {
		if r != nil && r.Code != 0 {
			code = r.Code
			break
		}
	}
	e.Code = &code
	e.HandlerCount = len(rs)
	return e
}

// fire publishes without surfacing the error; used by hooks that return nothing.
func (c *CommsListener) fire(ctx context.Context, e *events.LifecycleEvent) {
	if err := c.publisher.PublishLifecycle(ctx, e); err != nil {
		slog.Warn(fmt.Sprintf("%s - [%s] Failed to publish %s: %v", commsLogPrefix, e.CorrelationID, e.Stage, err))
	}
}

func (c *CommsListener) CommandIncoming(ctx context.Context, frame *wire.CommandFrame) {
	c.fire(ctx, c.event(ctx, events.StageCommandIncoming, frame.Name))
}

func (c *CommsListener) ContextCreated(context.Context, *handler.Context) {}

func (c *CommsListener) CommandStarting(ctx context.Context, inv *handler.CommandInvocation, _ *handler.Context) {
	c.fire(ctx, c.event(ctx, events.StageCommandStarting, inv.Name))
}

func (c *CommsListener) CommandSuccessful(ctx context.Context, inv *handler.CommandInvocation, _ *handler.Context, result *handler.Result) error {
	return c.publisher.PublishLifecycle(ctx, withResult(c.event(ctx, events.StageCommandSuccessful, inv.Name), result))
}

func (c *CommsListener) CommandFailed(ctx context.Context, inv *handler.CommandInvocation, _ *handler.Context, result *handler.Result) error {
	return c.publisher.PublishLifecycle(ctx, withResult(c.event(ctx, events.StageCommandFailed, inv.Name), result))
}

func (c *CommsListener) EventIncoming(ctx context.Context, frame *wire.EventFrame) {
	c.fire(ctx, c.event(ctx, events.StageEventIncoming, frame.Extensions.OperationName))
}

func (c *CommsListener) EventStarting(ctx context.Context, e *handler.EventFired, _ *handler.Context) {
	c.fire(ctx, c.event(ctx, events.StageEventStarting, e.Extensions.OperationName))
}

func (c *CommsListener) EventSuccessful(ctx context.Context, e *handler.EventFired, _ *handler.Context, results []*handler.Result) error {
	return c.publisher.PublishLifecycle(ctx, withResults(c.event(ctx, events.StageEventSuccessful, e.Extensions.OperationName), results))
}

func (c *CommsListener) EventFailed(ctx context.Context, e *handler.EventFired, _ *handler.Context, results []*handler.Result) error {
	return c.publisher.PublishLifecycle(ctx, withResults(c.event(ctx, events.StageEventFailed, e.Extensions.OperationName), results))
}

func (c *CommsListener) MessageSent(ctx context.Context, _ interface{}, _ *handler.Destination, _ *handler.MessageOptions, _ *handler.Context) {
	c.fire(ctx, c.event(ctx, events.StageMessageSent, ""))
}

func (c *CommsListener) RegistrationSuccessful(ctx context.Context, conf *wire.RegistrationConfirmation) {
	e := c.event(ctx, events.StageRegistrationSuccessful, conf.Name)
	e.Message = conf.URL
	c.fire(ctx, e)
}
