package automation

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/morezero/automation-client/pkg/handler"
	"github.com/morezero/automation-client/pkg/registry"
)

const serverTestPrefix = "automation:server_test"

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type greet struct {
	Name     string
	Greeting string
	Times    int
	Loud     bool
}

func (g *greet) Describe(b *handler.Builder) {
	b.Command("Greet", "greet someone", "greet").
		StringParameter(&g.Name, handler.Parameter{Name: "name", Required: true, Pattern: "^[a-z]+$"}).
		StringParameter(&g.Greeting, handler.Parameter{Name: "greeting", Required: true}).
		IntParameter(&g.Times, handler.Parameter{Name: "times", MaxLength: 2}).
		BoolParameter(&g.Loud, handler.Parameter{Name: "loud"})
}

func (g *greet) Handle(_ context.Context, _ *handler.Context) (*handler.Result, error) {
	switch g.Name {
	case "boom":
		panic("exploded")
	case "fail":
		return nil, errors.New("greeting refused")
	case "slow":
		time.Sleep(200 * time.Millisecond)
	}
	return handler.Success(g.Greeting + " " + g.Name), nil
}

type ordered struct {
	wait    <-chan struct{}
	release chan<- struct{}
	tag     string
	code    int
}

func (o *ordered) Describe(b *handler.Builder) {
	b.Event("Ordered"+o.tag, "fan-out ordering", "PushImpact", "")
}

func (o *ordered) HandleEvent(ctx context.Context, _ *handler.EventFired, _ *handler.Context) (*handler.Result, error) {
	if o.wait != nil {
		select {
		case <-o.wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if o.release != nil {
		close(o.release)
	}
	return &handler.Result{Code: o.code, Message: o.tag}, nil
}

func newServer(t *testing.T, timeout time.Duration) *Server {
	t.Helper()
	reg := registry.NewRegistry()
	if err := reg.RegisterCommand(handler.CommandFactory(func() *greet { return &greet{Greeting: "hello"} })); err != nil {
		t.Fatalf("%s - register: %v", serverTestPrefix, err)
	}
	return NewServer(NewServerParams{Registry: reg, Timeout: timeout})
}

func TestValidateInvocation(t *testing.T) {
	s := newServer(t, 0)
	tests := []struct {
		name     string
		inv      handler.CommandInvocation
		wantCode string
	}{
		{"unknown command", handler.CommandInvocation{Name: "Nope"}, handler.CodeNotFound},
		{"missing required", handler.CommandInvocation{Name: "Greet"}, handler.CodeMissingParameter},
		{"pattern mismatch", handler.CommandInvocation{Name: "Greet", Args: []handler.Arg{{Name: "name", Value: "Bob"}}}, handler.CodeInvalidParameter},
		{"too long", handler.CommandInvocation{Name: "Greet", Args: []handler.Arg{{Name: "name", Value: "bob"}, {Name: "times", Value: "100"}}}, handler.CodeInvalidParameter},
		{"number not numeric", handler.CommandInvocation{Name: "Greet", Args: []handler.Arg{{Name: "name", Value: "bob"}, {Name: "times", Value: "ab"}}}, handler.CodeInvalidParameter},
		{"boolean not boolean", handler.CommandInvocation{Name: "Greet", Args: []handler.Arg{{Name: "name", Value: "bob"}, {Name: "loud", Value: "yes"}}}, handler.CodeInvalidParameter},
		{"coercible values", handler.CommandInvocation{Name: "Greet", Args: []handler.Arg{{Name: "name", Value: "bob"}, {Name: "times", Value: "3"}, {Name: "loud", Value: "true"}}}, ""},
		{"defaulted greeting", handler.CommandInvocation{Name: "Greet", Args: []handler.Arg{{Name: "name", Value: "bob"}}}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.ValidateInvocation(&tt.inv)
			if got := handler.ErrorCode(err); got != tt.wantCode {
				t.Errorf("%s - code = %q, want %q (err %v)", serverTestPrefix, got, tt.wantCode, err)
			}
		})
	}
}

func TestInvokeCommand(t *testing.T) {
	s := newServer(t, 0)
	inv := &handler.CommandInvocation{Name: "Greet", CorrelationID: "c1", InvocationID: "i1", Args: []handler.Arg{{Name: "name", Value: "bob"}}}
	r, err := s.InvokeCommand(context.Background(), inv, &handler.Context{})
	if err != nil {
		t.Fatalf("%s - InvokeCommand: %v", serverTestPrefix, err)
	}
	if !r.Succeeded() || r.Message != "hello bob" {
		t.Errorf("%s - result = %+v", serverTestPrefix, r)
	}
	if r.HandlerName != "Greet" || r.CorrelationID != "c1" || r.InvocationID != "i1" {
		t.Errorf("%s - result not stamped: %+v", serverTestPrefix, r)
	}
}

func TestInvokeCommand_HandlerFailures(t *testing.T) {
	tests := []struct {
		name     string
		arg      string
		timeout  time.Duration
		wantCode string
	}{
		{"returned error", "fail", 0, handler.CodeHandlerThrew},
		{"panic", "boom", 0, handler.CodeHandlerThrew},
		{"deadline", "slow", 20 * time.Millisecond, handler.CodeTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newServer(t, tt.timeout)
			inv := &handler.CommandInvocation{Name: "Greet", Args: []handler.Arg{{Name: "name", Value: tt.arg}}}
			r, err := s.InvokeCommand(context.Background(), inv, &handler.Context{})
			if err != nil {
				t.Fatalf("%s - handler failures must come back as results, got %v", serverTestPrefix, err)
			}
			if r.Succeeded() {
				t.Fatalf("%s - expected failure result", serverTestPrefix)
			}
			if got := handler.ErrorCode(r.Err); got != tt.wantCode {
				t.Errorf("%s - code = %q, want %q", serverTestPrefix, got, tt.wantCode)
			}
			// The slow handler outlives the deadline; let it finish before goleak runs.
			if tt.arg == "slow" {
				time.Sleep(250 * time.Millisecond)
			}
		})
	}
}

func TestInvokeCommand_ValidationPreventsConstruction(t *testing.T) {
	tests := []struct {
		name    string
		args    []handler.Arg
		wantErr error
	}{
		{"missing parameter", nil, handler.ErrMissingParameter},
		{"uncoercible number", []handler.Arg{{Name: "name", Value: "bob"}, {Name: "times", Value: "abc"}}, handler.ErrInvalidParameter},
		{"uncoercible boolean", []handler.Arg{{Name: "name", Value: "bob"}, {Name: "loud", Value: "yes"}}, handler.ErrInvalidParameter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			built := 0
			reg := registry.NewRegistry()
			if err := reg.RegisterCommand(func() handler.Describer { built++; return &greet{Greeting: "hello"} }); err != nil {
				t.Fatalf("%s - register: %v", serverTestPrefix, err)
			}
			s := NewServer(NewServerParams{Registry: reg})
			before := built

			_, err := s.InvokeCommand(context.Background(), &handler.CommandInvocation{Name: "Greet", Args: tt.args}, &handler.Context{})
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("%s - expected %v, got %v", serverTestPrefix, tt.wantErr, err)
			}
			if built != before {
				t.Errorf("%s - factory invoked for an invalid invocation", serverTestPrefix)
			}
		})
	}
}

func TestOnEvent_FanOutKeepsRegistrationOrder(t *testing.T) {
	gate := make(chan struct{})
	reg := registry.NewRegistry()
	// First registered waits until the second has finished.
	if err := reg.RegisterEvent(handler.EventFactory(func() *ordered { return &ordered{tag: "A", wait: gate} })); err != nil {
		t.Fatalf("%s - register A: %v", serverTestPrefix, err)
	}
	if err := reg.RegisterEvent(handler.EventFactory(func() *ordered { return &ordered{tag: "B", release: gate, code: 1} })); err != nil {
		t.Fatalf("%s - register B: %v", serverTestPrefix, err)
	}
	s := NewServer(NewServerParams{Registry: reg})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	e := &handler.EventFired{Extensions: handler.EventExtensions{OperationName: "PushImpact"}}
	results, err := s.OnEvent(ctx, e, &handler.Context{})
	if err != nil {
		t.Fatalf("%s - OnEvent: %v", serverTestPrefix, err)
	}
	if len(results) != 2 {
		t.Fatalf("%s - expected 2 results, got %d", serverTestPrefix, len(results))
	}
	if results[0].Message != "A" || results[1].Message != "B" {
		t.Errorf("%s - results out of registration order: %q, %q", serverTestPrefix, results[0].Message, results[1].Message)
	}
	if !results[0].Succeeded() || results[1].Succeeded() {
		t.Errorf("%s - failures must stay isolated per handler: %+v %+v", serverTestPrefix, results[0], results[1])
	}
	if handler.AllSucceeded(results) {
		t.Errorf("%s - AllSucceeded should be false", serverTestPrefix)
	}
}

type route struct{}

func (route) Describe(b *handler.Builder) { b.Ingestor("Hook", "webhook ingestor", "ci-status") }
func (route) HandleEvent(context.Context, *handler.EventFired, *handler.Context) (*handler.Result, error) {
	return handler.Success("ingested"), nil
}

func TestOnEvent_IngestorFallbackAndNoMatch(t *testing.T) {
	reg := registry.NewRegistry()
	if err := reg.RegisterIngestor(func() handler.Describer { return route{} }); err != nil {
		t.Fatalf("%s - register: %v", serverTestPrefix, err)
	}
	s := NewServer(NewServerParams{Registry: reg})

	results, err := s.OnEvent(context.Background(), &handler.EventFired{Extensions: handler.EventExtensions{OperationName: "ci-status"}}, &handler.Context{})
	if err != nil || len(results) != 1 || results[0].Message != "ingested" {
		t.Errorf("%s - ingestor fallback = %+v, %v", serverTestPrefix, results, err)
	}

	_, err = s.OnEvent(context.Background(), &handler.EventFired{Extensions: handler.EventExtensions{OperationName: "Unknown"}}, &handler.Context{})
	if handler.ErrorCode(err) != handler.CodeNoMatchingHandler {
		t.Errorf("%s - expected NO_MATCHING_HANDLER, got %v", serverTestPrefix, err)
	}
}
