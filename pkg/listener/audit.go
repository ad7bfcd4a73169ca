package listener

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/morezero/automation-client/pkg/correlation"
	"github.com/morezero/automation-client/pkg/db"
	"github.com/morezero/automation-client/pkg/handler"
)

const auditLogPrefix = "listener:audit"

// auditWriteTimeout bounds one audit insert; the invocation context may already be done.
const auditWriteTimeout = 5 * time.Second

// InvocationRecorder persists completed invocations. *db.Repository implements it.
type InvocationRecorder interface {
	InsertInvocation(ctx context.Context, inv *db.Invocation) error
}

// AuditListener records every settled command and event fan-out.
type AuditListener struct {
	NoOpListener
	recorder   InvocationRecorder
	automation string
	version    string
}

// NewAuditListener creates an AuditListener writing through recorder.
func NewAuditListener(recorder InvocationRecorder, automation, version string) *AuditListener {
	return &AuditListener{recorder: recorder, automation: automation, version: version}
}

func (a *AuditListener) record(ctx context.Context, inv *db.Invocation) error {
	inv.Automation = a.automation
	inv.Version = a.version
	inv.StartedAt = time.Now()
	if cc, ok := correlation.FromContext(ctx); ok {
		inv.StartedAt = cc.StartTimestamp
		inv.DurationMs = cc.Elapsed().Milliseconds()
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditWriteTimeout)
	defer cancel()
	if err := a.recorder.InsertInvocation(wctx, inv); err != nil {
		return fmt.Errorf("%s - record %s %s: %w", auditLogPrefix, inv.Kind, inv.Name, err)
	}
	return nil
}

func (a *AuditListener) command(ctx context.Context, inv *handler.CommandInvocation, result *handler.Result) error {
	status := db.StatusSuccess
	if !result.Succeeded() {
		status = db.StatusFailure
	}
	results, err := json.Marshal([]*handler.Result{result})
	if err != nil {
		return fmt.Errorf("%s - encode result: %w", auditLogPrefix, err)
	}
	return a.record(ctx, &db.Invocation{
		InvocationID:  inv.InvocationID,
		CorrelationID: inv.CorrelationID,
		Kind:          db.KindCommand,
		Name:          inv.Name,
		TeamID:        inv.TeamID,
		Status:        status,
		Code:          result.Code,
		Message:       result.Message,
		HandlerCount:  1,
		Results:       results,
	})
}

func (a *AuditListener) event(ctx context.Context, e *handler.EventFired, results []*handler.Result) error {
	rec := &db.Invocation{
		InvocationID:  e.InvocationID,
		CorrelationID: e.Extensions.CorrelationID,
		Kind:          db.KindEvent,
		Name:          e.Extensions.OperationName,
		TeamID:        e.Extensions.TeamID,
		Status:        db.StatusSuccess,
		HandlerCount:  len(results),
	}
	for _, r := range results {
		if r != nil && !r.Succeeded() {
			rec.Status = db.StatusFailure
			rec.Code = r.Code
			rec.Message = r.Message
			break
		}
	}
	encoded, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("%s - encode results: %w", auditLogPrefix, err)
	}
	rec.Results = encoded
	return a.record(ctx, rec)
}

func (a *AuditListener) CommandSuccessful(ctx context.Context, inv *handler.CommandInvocation, _ *handler.Context, result *handler.Result) error {
	return a.command(ctx, inv, result)
}

func (a *AuditListener) CommandFailed(ctx context.Context, inv *handler.CommandInvocation, _ *handler.Context, result *handler.Result) error {
	return a.command(ctx, inv, result)
}

func (a *AuditListener) EventSuccessful(ctx context.Context, e *handler.EventFired, _ *handler.Context, results []*handler.Result) error {
	return a.event(ctx, e, results)
}

func (a *AuditListener) EventFailed(ctx context.Context, e *handler.EventFired, _ *handler.Context, results []*handler.Result) error {
	return a.event(ctx, e, results)
}
