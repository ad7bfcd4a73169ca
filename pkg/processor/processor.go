// Package processor runs the per-invocation state machine: it builds the
// correlation and handler context for an inbound frame, drives the automation
// server, notifies listeners and acknowledges commands over the transport.
package processor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/morezero/automation-client/pkg/automation"
	"github.com/morezero/automation-client/pkg/correlation"
	"github.com/morezero/automation-client/pkg/handler"
	"github.com/morezero/automation-client/pkg/listener"
	"github.com/morezero/automation-client/pkg/wire"
)

const logPrefix = "processor:processor"

// Sender writes an outbound frame to whoever delivered the invocation.
type Sender interface {
	Send(ctx context.Context, frame interface{}) error
}

// GraphFactory hands out graph clients scoped to a team.
type GraphFactory interface {
	ClientFor(teamID string) handler.GraphClient
	// Reset replaces the credentials clients use and drops cached clients.
	Reset(jwt string)
}

// Processor turns inbound command and event frames into settled results.
type Processor struct {
	server    *automation.Server
	listeners *listener.Pipeline
	graphs    GraphFactory
	name      string
	version   string
	now       func() time.Time

	mu           sync.RWMutex
	sender       Sender
	confirmation *wire.RegistrationConfirmation
}

// NewProcessorParams holds dependencies for NewProcessor.
type NewProcessorParams struct {
	Server            *automation.Server
	Listeners         *listener.Pipeline
	Sender            Sender
	Graphs            GraphFactory
	AutomationName    string
	AutomationVersion string
}

// NewProcessor creates a Processor. Sender may be set later with SetSender,
// since the transport usually needs the processor first.
func NewProcessor(params NewProcessorParams) *Processor {
	ls := params.Listeners
	if ls == nil {
		ls = listener.NewPipeline()
	}
	return &Processor{
		server:    params.Server,
		listeners: ls,
		graphs:    params.Graphs,
		sender:    params.Sender,
		name:      params.AutomationName,
		version:   params.AutomationVersion,
		now:       time.Now,
	}
}

// SetSender sets the outbound channel.
func (p *Processor) SetSender(s Sender) {
	p.mu.Lock()
	p.sender = s
	p.mu.Unlock()
}

func (p *Processor) getSender() Sender {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sender
}

// Confirmation returns the registration of the current connection, or nil.
func (p *Processor) Confirmation() *wire.RegistrationConfirmation {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.confirmation
}

// OnConnect records the registration of a new connection.
func (p *Processor) OnConnect(ctx context.Context, conf *wire.RegistrationConfirmation) {
	p.mu.Lock()
	p.confirmation = conf
	p.mu.Unlock()
	if p.graphs != nil {
		p.graphs.Reset(conf.JWT)
	}
	p.listeners.RegistrationSuccessful(ctx, conf)
}

// OnDisconnect drops registration state and cached graph clients.
func (p *Processor) OnDisconnect(_ context.Context) {
	p.mu.Lock()
	p.confirmation = nil
	p.mu.Unlock()
	if p.graphs != nil {
		p.graphs.Reset("")
	}
}

// ProcessCommand runs one command frame to completion. Exactly one status
// frame is sent and callback is called exactly once, whatever the outcome.
func (p *Processor) ProcessCommand(ctx context.Context, frame *wire.CommandFrame, callback func(*handler.Result)) {
	invocationID := frame.InvocationID
	if invocationID == "" {
		invocationID = uuid.NewString()
	}
	ctx = correlation.WithContext(ctx, correlation.Context{
		CorrelationID:  frame.CorrelationID,
		TeamID:         frame.Team.ID,
		TeamName:       frame.Team.Name,
		OperationName:  frame.Name,
		InvocationID:   invocationID,
		StartTimestamp: p.now(),
	})

	p.listeners.CommandIncoming(ctx, frame)

	inv := frame.Invocation(invocationID)
	responder := &frameResponder{processor: p, correlationID: frame.CorrelationID, team: frame.Team, source: frame.Source}
	hc := p.newContext(ctx, frame.Team, frame.CorrelationID, invocationID, responder)

	p.listeners.ContextCreated(ctx, hc)
	p.listeners.CommandStarting(ctx, inv, hc)

	result, err := p.invokeCommand(ctx, inv, hc)
	switch {
	case err != nil:
		slog.Warn(fmt.Sprintf("%s - [%s] Command %s rejected: %v", logPrefix, frame.CorrelationID, frame.Name, err))
		result = handler.ResultFromError(err)
	case result == nil:
		result = handler.Success(fmt.Sprintf("Command %s completed successfully", frame.Name))
	}
	if result.HandlerName == "" {
		result.HandlerName = frame.Name
	}
	if result.CorrelationID == "" {
		result.CorrelationID = frame.CorrelationID
	}
	if result.InvocationID == "" {
		result.InvocationID = invocationID
	}

	if result.Succeeded() {
		_ = p.listeners.CommandSuccessful(ctx, inv, hc, result)
	} else {
		_ = p.listeners.CommandFailed(ctx, inv, hc, result)
	}

	p.sendStatus(ctx, frame, result)
	if callback != nil {
		callback(result)
	}
	p.dispose(ctx, hc)
}

// ProcessEvent runs one event frame through every matching handler. No
// status frame is sent for events.
func (p *Processor) ProcessEvent(ctx context.Context, frame *wire.EventFrame, callback func([]*handler.Result)) {
	invocationID := frame.InvocationID
	if invocationID == "" {
		invocationID = uuid.NewString()
	}
	team := wire.Team{ID: frame.Extensions.TeamID, Name: frame.Extensions.TeamName}
	ctx = correlation.WithContext(ctx, correlation.Context{
		CorrelationID:  frame.Extensions.CorrelationID,
		TeamID:         team.ID,
		TeamName:       team.Name,
		OperationName:  frame.Extensions.OperationName,
		InvocationID:   invocationID,
		StartTimestamp: p.now(),
	})

	p.listeners.EventIncoming(ctx, frame)

	e := frame.EventFired(invocationID)
	responder := &frameResponder{processor: p, correlationID: frame.Extensions.CorrelationID, team: team, event: true}
	hc := p.newContext(ctx, team, frame.Extensions.CorrelationID, invocationID, responder)

	p.listeners.ContextCreated(ctx, hc)
	p.listeners.EventStarting(ctx, e, hc)

	results, err := p.onEvent(ctx, e, hc)
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - [%s] Event %s not handled: %v", logPrefix, frame.Extensions.CorrelationID, frame.Extensions.OperationName, err))
		r := handler.ResultFromError(err)
		r.CorrelationID = frame.Extensions.CorrelationID
		r.InvocationID = invocationID
		results = []*handler.Result{r}
	}
	for i, r := range results {
		if r == nil {
			results[i] = &handler.Result{Code: 0, Message: "Event handler completed successfully", CorrelationID: frame.Extensions.CorrelationID, InvocationID: invocationID}
		}
	}

	if handler.AllSucceeded(results) {
		_ = p.listeners.EventSuccessful(ctx, e, hc, results)
	} else {
		_ = p.listeners.EventFailed(ctx, e, hc, results)
	}

	if callback != nil {
		callback(results)
	}
	p.dispose(ctx, hc)
}

func (p *Processor) newContext(ctx context.Context, team wire.Team, correlationID, invocationID string, responder *frameResponder) *handler.Context {
	hc := &handler.Context{
		TeamID:        team.ID,
		TeamName:      team.Name,
		CorrelationID: correlationID,
		InvocationID:  invocationID,
		Lifecycle:     handler.NewLifecycle(),
	}
	if p.graphs != nil {
		hc.Graph = p.graphs.ClientFor(team.ID)
	}
	hc.Messages = &notifyingClient{inner: responder, listeners: p.listeners, hc: hc}
	return hc
}

// invokeCommand converges panics raised outside the handler body (binding,
// validation) onto the same error path as a returned error.
func (p *Processor) invokeCommand(ctx context.Context, inv *handler.CommandInvocation, hc *handler.Context) (result *handler.Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = handler.Errorf(handler.CodeHandlerThrew, "command %s: %v", inv.Name, rec)
		}
	}()
	return p.server.InvokeCommand(ctx, inv, hc)
}

func (p *Processor) onEvent(ctx context.Context, e *handler.EventFired, hc *handler.Context) (results []*handler.Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = handler.Errorf(handler.CodeHandlerThrew, "event %s: %v", e.Extensions.OperationName, rec)
		}
	}()
	return p.server.OnEvent(ctx, e, hc)
}

func (p *Processor) sendStatus(ctx context.Context, frame *wire.CommandFrame, result *handler.Result) {
	status, err := wire.NewStatusFrame(frame, result, p.name, p.version)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - [%s] Failed to build status frame: %v", logPrefix, frame.CorrelationID, err))
		return
	}
	sender := p.getSender()
	if sender == nil {
		slog.Error(fmt.Sprintf("%s - [%s] No transport to send status frame on", logPrefix, frame.CorrelationID))
		return
	}
	if err := sender.Send(ctx, status); err != nil {
		slog.Error(fmt.Sprintf("%s - [%s] Failed to send status frame: %v", logPrefix, frame.CorrelationID, err))
	}
}

func (p *Processor) dispose(ctx context.Context, hc *handler.Context) {
	for _, err := range hc.Lifecycle.Dispose(ctx) {
		slog.Warn(fmt.Sprintf("%s - [%s] %v", logPrefix, hc.CorrelationID, err))
	}
}
