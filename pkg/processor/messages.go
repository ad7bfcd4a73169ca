package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/morezero/automation-client/pkg/handler"
	"github.com/morezero/automation-client/pkg/listener"
	"github.com/morezero/automation-client/pkg/wire"
)

const messagesLogPrefix = "processor:messages"

// ErrRespondUnavailable is returned by Respond for event invocations, which
// have no invoking source to reply to.
var ErrRespondUnavailable = errors.New("respond is not available outside command handlers")

// notifyingClient tells listeners about every message before delegating.
type notifyingClient struct {
	inner     handler.MessageClient
	listeners listener.Listener
	hc        *handler.Context
}

func (c *notifyingClient) Respond(ctx context.Context, msg interface{}, opts *handler.MessageOptions) error {
	c.listeners.MessageSent(ctx, msg, nil, opts, c.hc)
	return c.inner.Respond(ctx, msg, opts)
}

func (c *notifyingClient) Send(ctx context.Context, msg interface{}, dest handler.Destination, opts *handler.MessageOptions) error {
	c.listeners.MessageSent(ctx, msg, &dest, opts, c.hc)
	return c.inner.Send(ctx, msg, dest, opts)
}

// frameResponder writes response frames for one invocation through the processor's sender.
type frameResponder struct {
	processor     *Processor
	correlationID string
	team          wire.Team
	source        json.RawMessage
	event         bool
}

func (r *frameResponder) Respond(ctx context.Context, msg interface{}, opts *handler.MessageOptions) error {
	if r.event {
		return fmt.Errorf("%s - %w", messagesLogPrefix, ErrRespondUnavailable)
	}
	f, err := r.frame(msg, opts)
	if err != nil {
		return err
	}
	f.Source = r.source
	return r.send(ctx, f)
}

func (r *frameResponder) Send(ctx context.Context, msg interface{}, dest handler.Destination, opts *handler.MessageOptions) error {
	f, err := r.frame(msg, opts)
	if err != nil {
		return err
	}
	if dest.TeamID != "" && dest.TeamID != r.team.ID {
		f.Team = wire.Team{ID: dest.TeamID}
	}
	f.Channels = dest.Channels
	f.Users = dest.Users
	return r.send(ctx, f)
}

func (r *frameResponder) frame(msg interface{}, opts *handler.MessageOptions) (*wire.ResponseFrame, error) {
	raw, contentType, err := wire.EncodeMessage(msg)
	if err != nil {
		return nil, fmt.Errorf("%s - encode message: %w", messagesLogPrefix, err)
	}
	f := &wire.ResponseFrame{
		APIVersion:    wire.APIVersion,
		CorrelationID: r.correlationID,
		Team:          r.team,
		ContentType:   contentType,
		Message:       raw,
	}
	f.ApplyOptions(opts)
	if f.MessageID == "" {
		f.MessageID = uuid.NewString()
	}
	return f, nil
}

func (r *frameResponder) send(ctx context.Context, f *wire.ResponseFrame) error {
	sender := r.processor.getSender()
	if sender == nil {
		return handler.Errorf(handler.CodeConnectionLost, "no transport for message %s", f.MessageID)
	}
	if err := sender.Send(ctx, f); err != nil {
		return fmt.Errorf("%s - send message: %w", messagesLogPrefix, err)
	}
	return nil
}
