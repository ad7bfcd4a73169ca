// Package automation validates and runs invocations against the handler
// registry: point dispatch for commands, concurrent fan-out for events.
package automation

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/morezero/automation-client/pkg/binder"
	"github.com/morezero/automation-client/pkg/correlation"
	"github.com/morezero/automation-client/pkg/handler"
	"github.com/morezero/automation-client/pkg/registry"
)

const logPrefix = "automation:server"

// Server runs invocations against registered handlers.
type Server struct {
	registry *registry.Registry
	binder   *binder.Binder
	timeout  time.Duration
}

// NewServerParams holds dependencies for NewServer.
type NewServerParams struct {
	Registry *registry.Registry
	Binder   *binder.Binder
	// Timeout bounds each handler run. Zero disables the deadline.
	Timeout time.Duration
}

// NewServer creates a Server. A nil Binder binds from the invocation only.
func NewServer(params NewServerParams) *Server {
	b := params.Binder
	if b == nil {
		b = binder.NewBinder(nil, nil)
	}
	return &Server{registry: params.Registry, binder: b, timeout: params.Timeout}
}

// Registry returns the registry the server dispatches against.
func (s *Server) Registry() *registry.Registry {
	return s.registry
}

// ValidateInvocation checks inv against the registered command's metadata
// without running anything.
func (s *Server) ValidateInvocation(inv *handler.CommandInvocation) (*handler.Metadata, error) {
	reg, ok := s.registry.Command(inv.Name)
	if !ok {
		return nil, handler.Errorf(handler.CodeNotFound, "no command handler registered for %q", inv.Name)
	}
	meta := reg.Metadata
	for _, p := range meta.Parameters {
		value, supplied := inv.Arg(p.Name)
		if !supplied {
			if p.Required && !p.HasDefault() {
				return nil, handler.Errorf(handler.CodeMissingParameter, "required parameter %s missing", p.Name)
			}
			continue
		}
		if p.Required && value == "" && !p.HasDefault() {
			return nil, handler.Errorf(handler.CodeMissingParameter, "required parameter %s is empty", p.Name)
		}
		if !p.Matches(value) {
			return nil, handler.Errorf(handler.CodeInvalidParameter, "parameter %s value does not match pattern %s", p.Name, p.Pattern)
		}
		if _, err := binder.Coerce(p.Type, value); err != nil {
			return nil, handler.Errorf(handler.CodeInvalidParameter, "parameter %s: %v", p.Name, err)
		}
		if p.MinLength > 0 && len(value) < p.MinLength {
			return nil, handler.Errorf(handler.CodeInvalidParameter, "parameter %s shorter than %d", p.Name, p.MinLength)
		}
		if p.MaxLength > 0 && len(value) > p.MaxLength {
			return nil, handler.Errorf(handler.CodeInvalidParameter, "parameter %s longer than %d", p.Name, p.MaxLength)
		}
	}
	return meta, nil
}

// InvokeCommand validates inv, binds a fresh handler instance and runs it.
//
// Validation and binding failures are returned as errors and the handler never
// runs. A handler that returns an error, panics or overruns the deadline yields
// a failure Result whose Err carries the code. A nil Result with a nil error
// means the handler reported nothing.
func (s *Server) InvokeCommand(ctx context.Context, inv *handler.CommandInvocation, hc *handler.Context) (*handler.Result, error) {
	meta, err := s.ValidateInvocation(inv)
	if err != nil {
		return nil, err
	}
	reg, _ := s.registry.Command(inv.Name)

	instance := reg.New()
	cmd, ok := instance.(handler.CommandHandler)
	if !ok {
		return nil, handler.Errorf(handler.CodeNotFound, "%s is not a command handler", inv.Name)
	}
	if err := s.binder.Bind(ctx, instance, meta, binder.CommandInput(inv)); err != nil {
		return nil, err
	}

	result := s.run(ctx, meta.Name, func(ctx context.Context) (*handler.Result, error) {
		return cmd.Handle(ctx, hc)
	})
	return stamp(result, meta.Name, inv.CorrelationID, inv.InvocationID), nil
}

// OnEvent runs every handler subscribed to the event's operation name, falling
// back to ingestors routed by that name. Handlers run concurrently; results are
// returned in registration order, one per handler, and one handler's failure
// never affects another's entry.
func (s *Server) OnEvent(ctx context.Context, e *handler.EventFired, hc *handler.Context) ([]*handler.Result, error) {
	op := e.Extensions.OperationName
	matches := s.registry.EventsFor(op)
	if len(matches) == 0 {
		matches = s.registry.IngestorsFor(op)
	}
	if len(matches) == 0 {
		return nil, handler.Errorf(handler.CodeNoMatchingHandler, "no event handler subscribed to %q", op)
	}

	results := make([]*handler.Result, len(matches))
	var g errgroup.Group
	for i, reg := range matches {
		i, reg := i, reg
		g.Go(func() error {
			results[i] = stamp(s.runEvent(ctx, reg, e, hc), reg.Metadata.Name, e.Extensions.CorrelationID, e.InvocationID)
			return nil
		})
	}
	_ = g.Wait()

	slog.Debug(fmt.Sprintf("%s - [%s] Event %s fanned out to %d handlers", logPrefix, correlation.CorrelationID(ctx), op, len(matches)))
	return results, nil
}

func (s *Server) runEvent(ctx context.Context, reg *registry.Registration, e *handler.EventFired, hc *handler.Context) *handler.Result {
	instance := reg.New()
	eh, ok := instance.(handler.EventHandler)
	if !ok {
		return handler.ResultFromError(handler.Errorf(handler.CodeNoMatchingHandler, "%s is not an event handler", reg.Metadata.Name))
	}
	if err := s.binder.Bind(ctx, instance, reg.Metadata, binder.EventInput(e)); err != nil {
		return handler.ResultFromError(err)
	}
	return s.run(ctx, reg.Metadata.Name, func(ctx context.Context) (*handler.Result, error) {
		return eh.HandleEvent(ctx, e, hc)
	})
}

type outcome struct {
	result *handler.Result
	err    error
}

// run executes fn in its own goroutine so a panic is contained and the
// configured deadline is enforced even when fn ignores ctx.
func (s *Server) run(ctx context.Context, name string, fn func(context.Context) (*handler.Result, error)) *handler.Result {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error(fmt.Sprintf("%s - [%s] Handler %s panicked: %v\n%s", logPrefix, correlation.CorrelationID(ctx), name, rec, debug.Stack()))
				done <- outcome{err: handler.Errorf(handler.CodeHandlerThrew, "handler %s panicked: %v", name, rec)}
			}
		}()
		r, err := fn(ctx)
		done <- outcome{result: r, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			if handler.ErrorCode(o.err) == "" {
				o.err = handler.WrapError(handler.CodeHandlerThrew, o.err)
			}
			return handler.ResultFromError(o.err)
		}
		return o.result
	case <-ctx.Done():
		slog.Warn(fmt.Sprintf("%s - [%s] Handler %s did not settle: %v", logPrefix, correlation.CorrelationID(ctx), name, ctx.Err()))
		return handler.ResultFromError(handler.Errorf(handler.CodeTimeout, "handler %s did not complete: %v", name, ctx.Err()))
	}
}

// stamp fills identifying fields the handler left empty.
func stamp(r *handler.Result, name, correlationID, invocationID string) *handler.Result {
	if r == nil {
		return nil
	}
	if r.HandlerName == "" {
		r.HandlerName = name
	}
	if r.CorrelationID == "" {
		r.CorrelationID = correlationID
	}
	if r.InvocationID == "" {
		r.InvocationID = invocationID
	}
	return r
}
