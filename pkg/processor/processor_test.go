package processor

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/morezero/automation-client/pkg/automation"
	"github.com/morezero/automation-client/pkg/handler"
	"github.com/morezero/automation-client/pkg/listener"
	"github.com/morezero/automation-client/pkg/registry"
	"github.com/morezero/automation-client/pkg/wire"
)

const processorTestPrefix = "processor:processor_test"

type captureSender struct {
	mu     sync.Mutex
	frames []interface{}
}

func (s *captureSender) Send(_ context.Context, frame interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, frame)
	return nil
}

func (s *captureSender) statuses(t *testing.T) []*wire.Status {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*wire.Status
	for _, f := range s.frames {
		sf, ok := f.(*wire.StatusFrame)
		if !ok {
			continue
		}
		st, err := sf.DecodeStatus()
		if err != nil {
			t.Fatalf("%s - decode status: %v", processorTestPrefix, err)
		}
		out = append(out, st)
	}
	return out
}

type echo struct {
	Msg      string
	seen     *string
	disposed *bool
}

func (e *echo) Describe(b *handler.Builder) {
	b.Command("Echo", "echo a message", "echo").
		StringParameter(&e.Msg, handler.Parameter{Name: "msg", Required: true})
}

func (e *echo) Handle(ctx context.Context, hc *handler.Context) (*handler.Result, error) {
	*e.seen = e.Msg
	hc.Lifecycle.RegisterDisposable(func(context.Context) error { *e.disposed = true; return nil }, "echo scratch")
	if e.Msg == "fail" {
		return handler.Failure(1, "asked to fail"), nil
	}
	if err := hc.Messages.Respond(ctx, "echo: "+e.Msg, nil); err != nil {
		return nil, err
	}
	return handler.Success("echoed"), nil
}

type trace struct {
	listener.NoOpListener
	mu    sync.Mutex
	hooks []string
}

func (t *trace) add(s string) { t.mu.Lock(); t.hooks = append(t.hooks, s); t.mu.Unlock() }

func (t *trace) CommandIncoming(context.Context, *wire.CommandFrame)      { t.add("CommandIncoming") }
func (t *trace) ContextCreated(context.Context, *handler.Context)         { t.add("ContextCreated") }
func (t *trace) CommandStarting(context.Context, *handler.CommandInvocation, *handler.Context) {
	t.add("CommandStarting")
}
func (t *trace) CommandSuccessful(context.Context, *handler.CommandInvocation, *handler.Context, *handler.Result) error {
	t.add("CommandSuccessful")
	return nil
}
func (t *trace) CommandFailed(context.Context, *handler.CommandInvocation, *handler.Context, *handler.Result) error {
	t.add("CommandFailed")
	return nil
}
func (t *trace) EventSuccessful(context.Context, *handler.EventFired, *handler.Context, []*handler.Result) error {
	t.add("EventSuccessful")
	return nil
}
func (t *trace) EventFailed(context.Context, *handler.EventFired, *handler.Context, []*handler.Result) error {
	t.add("EventFailed")
	return nil
}
func (t *trace) MessageSent(context.Context, interface{}, *handler.Destination, *handler.MessageOptions, *handler.Context) {
	t.add("MessageSent")
}

type fixture struct {
	proc     *Processor
	sender   *captureSender
	trace    *trace
	seen     string
	disposed bool
	built    int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{sender: &captureSender{}, trace: &trace{}}
	reg := registry.NewRegistry()
	err := reg.RegisterCommand(func() handler.Describer {
		f.built++
		return &echo{seen: &f.seen, disposed: &f.disposed}
	})
	if err != nil {
		t.Fatalf("%s - register: %v", processorTestPrefix, err)
	}
	f.proc = NewProcessor(NewProcessorParams{
		Server:            automation.NewServer(automation.NewServerParams{Registry: reg}),
		Listeners:         listener.NewPipeline(f.trace),
		AutomationName:    "test-sdm",
		AutomationVersion: "1.0.0",
	})
	f.proc.SetSender(f.sender)
	return f
}

func TestProcessCommand_EchoEndToEnd(t *testing.T) {
	f := newFixture(t)
	var frame wire.CommandFrame
	raw := `{"name":"Echo","corrid":"abc123","team":{"id":"T1"},"parameters":[{"name":"msg","value":"hi"}]}`
	if err := json.Unmarshal([]byte(raw), &frame); err != nil {
		t.Fatalf("%s - unmarshal: %v", processorTestPrefix, err)
	}

	var got *handler.Result
	f.proc.ProcessCommand(context.Background(), &frame, func(r *handler.Result) { got = r })

	if f.seen != "hi" {
		t.Errorf("%s - handler saw msg %q, want hi", processorTestPrefix, f.seen)
	}
	if got == nil || !got.Succeeded() || got.CorrelationID != "abc123" {
		t.Fatalf("%s - callback result = %+v", processorTestPrefix, got)
	}

	statuses := f.sender.statuses(t)
	if len(statuses) != 1 {
		t.Fatalf("%s - expected exactly one status frame, got %d", processorTestPrefix, len(statuses))
	}
	if statuses[0].Status != wire.StatusSuccess || statuses[0].AutomationName != "test-sdm" {
		t.Errorf("%s - status = %+v", processorTestPrefix, statuses[0])
	}
	sf := f.sender.frames[len(f.sender.frames)-1].(*wire.StatusFrame)
	if sf.CorrelationID != "abc123" || sf.ContentType != wire.ContentTypeStatus {
		t.Errorf("%s - status frame = %+v", processorTestPrefix, sf)
	}

	resp, ok := f.sender.frames[0].(*wire.ResponseFrame)
	if !ok {
		t.Fatalf("%s - first frame should be the handler response, got %T", processorTestPrefix, f.sender.frames[0])
	}
	if string(resp.Message) != `"echo: hi"` || resp.ContentType != wire.ContentTypeText || resp.CorrelationID != "abc123" || resp.MessageID == "" {
		t.Errorf("%s - response frame = %+v", processorTestPrefix, resp)
	}

	if !f.disposed {
		t.Errorf("%s - lifecycle disposables did not run", processorTestPrefix)
	}

	want := []string{"CommandIncoming", "ContextCreated", "CommandStarting", "MessageSent", "CommandSuccessful"}
	if len(f.trace.hooks) != len(want) {
		t.Fatalf("%s - hooks = %v, want %v", processorTestPrefix, f.trace.hooks, want)
	}
	for i := range want {
		if f.trace.hooks[i] != want[i] {
			t.Errorf("%s - hook %d = %s, want %s", processorTestPrefix, i, f.trace.hooks[i], want[i])
		}
	}
}

func TestProcessCommand_HandlerFailureStatus(t *testing.T) {
	f := newFixture(t)
	frame := &wire.CommandFrame{Name: "Echo", CorrelationID: "corr-fail", Parameters: []handler.Arg{{Name: "msg", Value: "fail"}}}

	var got *handler.Result
	f.proc.ProcessCommand(context.Background(), frame, func(r *handler.Result) { got = r })

	statuses := f.sender.statuses(t)
	if len(statuses) != 1 || statuses[0].Status != wire.StatusFailure || statuses[0].Code != 1 {
		t.Fatalf("%s - statuses = %+v", processorTestPrefix, statuses)
	}
	if sf := f.sender.frames[0].(*wire.StatusFrame); sf.CorrelationID != "corr-fail" {
		t.Errorf("%s - status corrid = %q", processorTestPrefix, sf.CorrelationID)
	}
	if got.Succeeded() {
		t.Errorf("%s - callback got success", processorTestPrefix)
	}
	if last := f.trace.hooks[len(f.trace.hooks)-1]; last != "CommandFailed" {
		t.Errorf("%s - last hook = %s", processorTestPrefix, last)
	}
}

func TestProcessCommand_UnregisteredCommand(t *testing.T) {
	f := newFixture(t)
	before := f.built
	frame := &wire.CommandFrame{Name: "Missing", CorrelationID: "corr-404", Team: wire.Team{ID: "T1"}}

	var got *handler.Result
	f.proc.ProcessCommand(context.Background(), frame, func(r *handler.Result) { got = r })

	if f.built != before {
		t.Errorf("%s - factory was invoked for an unregistered command", processorTestPrefix)
	}
	if got == nil || got.Succeeded() || handler.ErrorCode(got.Err) != handler.CodeNotFound {
		t.Fatalf("%s - result = %+v", processorTestPrefix, got)
	}
	statuses := f.sender.statuses(t)
	if len(statuses) != 1 || statuses[0].Status != wire.StatusFailure {
		t.Errorf("%s - statuses = %+v", processorTestPrefix, statuses)
	}
}

type pushHandler struct {
	name string
	code int
}

func (p *pushHandler) Describe(b *handler.Builder) {
	b.Event(p.name, "push listener", "OnPush", "")
}

func (p *pushHandler) HandleEvent(context.Context, *handler.EventFired, *handler.Context) (*handler.Result, error) {
	if p.code == 0 {
		return nil, nil
	}
	return handler.Failure(p.code, p.name+" failed"), nil
}

func TestProcessEvent(t *testing.T) {
	reg := registry.NewRegistry()
	for _, h := range []*pushHandler{{name: "A"}, {name: "B", code: 1}} {
		h := h
		if err := reg.RegisterEvent(func() handler.Describer { return &pushHandler{name: h.name, code: h.code} }); err != nil {
			t.Fatalf("%s - register: %v", processorTestPrefix, err)
		}
	}
	sender := &captureSender{}
	tr := &trace{}
	proc := NewProcessor(NewProcessorParams{
		Server:    automation.NewServer(automation.NewServerParams{Registry: reg}),
		Listeners: listener.NewPipeline(tr),
		Sender:    sender,
	})

	frame := &wire.EventFrame{Data: json.RawMessage(`{"Push":[]}`), Extensions: wire.EventExtensions{OperationName: "OnPush", CorrelationID: "ev1"}}
	var got []*handler.Result
	proc.ProcessEvent(context.Background(), frame, func(rs []*handler.Result) { got = rs })

	if len(got) != 2 || !got[0].Succeeded() || got[1].Succeeded() {
		t.Fatalf("%s - results = %+v", processorTestPrefix, got)
	}
	if tr.hooks[len(tr.hooks)-1] != "EventFailed" {
		t.Errorf("%s - expected EventFailed, hooks %v", processorTestPrefix, tr.hooks)
	}
	if len(sender.frames) != 0 {
		t.Errorf("%s - events must not produce status frames, got %d frames", processorTestPrefix, len(sender.frames))
	}

	// No subscriber: surfaced as a single failed result, not a panic or connection error.
	got = nil
	frame.Extensions.OperationName = "Nobody"
	proc.ProcessEvent(context.Background(), frame, func(rs []*handler.Result) { got = rs })
	if len(got) != 1 || handler.ErrorCode(got[0].Err) != handler.CodeNoMatchingHandler {
		t.Errorf("%s - no-match results = %+v", processorTestPrefix, got)
	}
}

type fakeGraphs struct {
	resets []string
}

func (g *fakeGraphs) ClientFor(string) handler.GraphClient { return nil }
func (g *fakeGraphs) Reset(jwt string)                     { g.resets = append(g.resets, jwt) }

func TestProcessor_ConnectDisconnect(t *testing.T) {
	graphs := &fakeGraphs{}
	proc := NewProcessor(NewProcessorParams{Server: automation.NewServer(automation.NewServerParams{Registry: registry.NewRegistry()}), Graphs: graphs})

	conf := &wire.RegistrationConfirmation{URL: "wss://example/ws", JWT: "jwt-1", Name: "sdm", Version: "1.0.0"}
	proc.OnConnect(context.Background(), conf)
	if proc.Confirmation() != conf {
		t.Errorf("%s - confirmation not recorded", processorTestPrefix)
	}
	proc.OnDisconnect(context.Background())
	if proc.Confirmation() != nil {
		t.Errorf("%s - confirmation not cleared", processorTestPrefix)
	}
	if len(graphs.resets) != 2 || graphs.resets[0] != "jwt-1" || graphs.resets[1] != "" {
		t.Errorf("%s - graph resets = %v", processorTestPrefix, graphs.resets)
	}
}
