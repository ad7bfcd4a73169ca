package listener

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/morezero/automation-client/pkg/correlation"
	"github.com/morezero/automation-client/pkg/handler"
	"github.com/morezero/automation-client/pkg/wire"
)

const loggingLogPrefix = "listener:logging"

// LoggingListener logs every transition with its correlation id and, once
// settled, the invocation's duration.
type LoggingListener struct {
	NoOpListener
}

func elapsed(ctx context.Context) string {
	if c, ok := correlation.FromContext(ctx); ok {
		return c.Elapsed().String()
	}
	return "?"
}

func (LoggingListener) CommandIncoming(ctx context.Context, frame *wire.CommandFrame) {
	slog.Info(fmt.Sprintf("%s - [%s] Incoming command %s for team %s", loggingLogPrefix, frame.CorrelationID, frame.Name, frame.Team.ID))
}

func (LoggingListener) CommandStarting(ctx context.Context, inv *handler.CommandInvocation, _ *handler.Context) {
	slog.Debug(fmt.Sprintf("%s - [%s] Starting command %s (%s)", loggingLogPrefix, inv.CorrelationID, inv.Name, inv.InvocationID))
}

func (LoggingListener) CommandSuccessful(ctx context.Context, inv *handler.CommandInvocation, _ *handler.Context, result *handler.Result) error {
	slog.Info(fmt.Sprintf("%s - [%s] Command %s succeeded in %s: %s", loggingLogPrefix, inv.CorrelationID, inv.Name, elapsed(ctx), result.Message))
	return nil
}

func (LoggingListener) CommandFailed(ctx context.Context, inv *handler.CommandInvocation, _ *handler.Context, result *handler.Result) error {
	slog.Warn(fmt.Sprintf("%s - [%s] Command %s failed in %s with code %d: %s", loggingLogPrefix, inv.CorrelationID, inv.Name, elapsed(ctx), result.Code, result.Message))
	return nil
}

func (LoggingListener) EventIncoming(ctx context.Context, frame *wire.EventFrame) {
	slog.Info(fmt.Sprintf("%s - [%s] Incoming event %s for team %s", loggingLogPrefix, frame.Extensions.CorrelationID, frame.Extensions.OperationName, frame.Extensions.TeamID))
}

func (LoggingListener) EventSuccessful(ctx context.Context, e *handler.EventFired, _ *handler.Context, results []*handler.Result) error {
	slog.Info(fmt.Sprintf("%s - [%s] Event %s handled by %d handlers in %s", loggingLogPrefix, e.Extensions.CorrelationID, e.Extensions.OperationName, len(results), elapsed(ctx)))
	return nil
}

func (LoggingListener) EventFailed(ctx context.Context, e *handler.EventFired, _ *handler.Context, results []*handler.Result) error {
	failed := 0
	for _, r := range results {
		if r != nil && !r.Succeeded() {
			failed++
		}
	}
	slog.Warn(fmt.Sprintf("%s - [%s] Event %s: %d of %d handlers failed in %s", loggingLogPrefix, e.Extensions.CorrelationID, e.Extensions.OperationName, failed, len(results), elapsed(ctx)))
	return nil
}

func (LoggingListener) MessageSent(ctx context.Context, _ interface{}, dest *handler.Destination, _ *handler.MessageOptions, _ *handler.Context) {
	if dest == nil {
		slog.Debug(fmt.Sprintf("%s - [%s] Responding to invoking source", loggingLogPrefix, correlation.CorrelationID(ctx)))
		return
	}
	slog.Debug(fmt.Sprintf("%s - [%s] Sending message to %d channels, %d users", loggingLogPrefix, correlation.CorrelationID(ctx), len(dest.Channels), len(dest.Users)))
}

func (LoggingListener) RegistrationSuccessful(_ context.Context, conf *wire.RegistrationConfirmation) {
	slog.Info(fmt.Sprintf("%s - Registered %s@%s, connecting to %s", loggingLogPrefix, conf.Name, conf.Version, conf.URL))
}
