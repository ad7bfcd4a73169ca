package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/morezero/automation-client/pkg/automation"
	"github.com/morezero/automation-client/pkg/handler"
	"github.com/morezero/automation-client/pkg/listener"
	"github.com/morezero/automation-client/pkg/processor"
	"github.com/morezero/automation-client/pkg/registry"
	"github.com/morezero/automation-client/pkg/wire"
)

const dispatcherTestPrefix = "dispatcher:dispatcher_test"

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

func (s *captureSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

// scriptedWorker records what it was sent and completes immediately unless told not to.
type scriptedWorker struct {
	id       string
	mu       sync.Mutex
	got      []string
	fail     error
	silent   bool
	complete CompleteFunc
}

func (w *scriptedWorker) ID() string { return w.id }

func (w *scriptedWorker) Dispatch(_ context.Context, req *Request, complete CompleteFunc) error {
	if w.fail != nil {
		return w.fail
	}
	w.mu.Lock()
	w.got = append(w.got, req.ID)
	w.complete = complete
	w.mu.Unlock()
	if !w.silent {
		go complete(&Response{ID: req.ID, Ok: true, Results: []*handler.Result{handler.Success(w.id)}})
	}
	return nil
}

func TestDispatcher_RoundRobin(t *testing.T) {
	w1, w2 := &scriptedWorker{id: "w1"}, &scriptedWorker{id: "w2"}
	d := NewDispatcher(NewDispatcherParams{Workers: []Worker{w1, w2}})

	var handledBy []string
	for _, id := range []string{"i1", "i2", "i3"} {
		d.ProcessCommand(context.Background(), &wire.CommandFrame{Name: "Echo", InvocationID: id}, func(r *handler.Result) {
			handledBy = append(handledBy, r.Message)
		})
	}

	want := []string{"w1", "w2", "w1"}
	for i := range want {
		if handledBy[i] != want[i] {
			t.Errorf("%s - request %d handled by %s, want %s", dispatcherTestPrefix, i, handledBy[i], want[i])
		}
	}
	if d.Pending() != 0 {
		t.Errorf("%s - %d invocations still pending", dispatcherTestPrefix, d.Pending())
	}
}

func TestDispatcher_CompleteExactlyOnce(t *testing.T) {
	w := &scriptedWorker{id: "w1", silent: true}
	d := NewDispatcher(NewDispatcherParams{Workers: []Worker{w}})

	done := make(chan *handler.Result, 1)
	go d.ProcessCommand(context.Background(), &wire.CommandFrame{Name: "Echo", InvocationID: "inv-1"}, func(r *handler.Result) { done <- r })

	deadline := time.Now().Add(2 * time.Second)
	for d.Pending() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if err := d.Complete(&Response{ID: "unknown"}); err == nil {
		t.Errorf("%s - completing an unknown id should fail", dispatcherTestPrefix)
	}
	if err := d.Complete(&Response{ID: "inv-1", Ok: true, Results: []*handler.Result{handler.Success("first")}}); err != nil {
		t.Fatalf("%s - Complete: %v", dispatcherTestPrefix, err)
	}
	if err := d.Complete(&Response{ID: "inv-1", Ok: true}); err == nil {
		t.Errorf("%s - second completion should fail", dispatcherTestPrefix)
	}

	select {
	case r := <-done:
		if r.Message != "first" {
			t.Errorf("%s - result = %+v", dispatcherTestPrefix, r)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("%s - callback not called", dispatcherTestPrefix)
	}
}

func TestDispatcher_WorkerUnavailableSendsFailureStatus(t *testing.T) {
	sender := &captureSender{}
	w := &scriptedWorker{id: "w1", fail: errors.New("worker gone")}
	d := NewDispatcher(NewDispatcherParams{Workers: []Worker{w}, Sender: sender, AutomationName: "sdm", AutomationVersion: "1.0.0"})

	var got *handler.Result
	d.ProcessCommand(context.Background(), &wire.CommandFrame{Name: "Echo", CorrelationID: "c1"}, func(r *handler.Result) { got = r })

	if got == nil || got.Succeeded() || handler.ErrorCode(got.Err) != handler.CodeConnectionLost {
		t.Fatalf("%s - result = %+v", dispatcherTestPrefix, got)
	}
	if sender.count() != 1 {
		t.Fatalf("%s - expected one failure status, got %d frames", dispatcherTestPrefix, sender.count())
	}
	st, err := sender.frames[0].(*wire.StatusFrame).DecodeStatus()
	if err != nil || st.Status != wire.StatusFailure || st.HandlerName != "Echo" {
		t.Errorf("%s - status = %+v, %v", dispatcherTestPrefix, st, err)
	}
}

func TestDispatcher_Timeout(t *testing.T) {
	w := &scriptedWorker{id: "w1", silent: true}
	d := NewDispatcher(NewDispatcherParams{Workers: []Worker{w}, Timeout: 20 * time.Millisecond})

	var got []*handler.Result
	d.ProcessEvent(context.Background(), &wire.EventFrame{Extensions: wire.EventExtensions{OperationName: "Push"}}, func(rs []*handler.Result) { got = rs })

	if len(got) != 1 || handler.ErrorCode(got[0].Err) != handler.CodeTimeout {
		t.Fatalf("%s - results = %+v", dispatcherTestPrefix, got)
	}
	if d.Pending() != 0 {
		t.Errorf("%s - timed out invocation still pending", dispatcherTestPrefix)
	}
}

func TestDispatcher_NoWorkers(t *testing.T) {
	d := NewDispatcher(NewDispatcherParams{})
	var got *handler.Result
	d.ProcessCommand(context.Background(), &wire.CommandFrame{Name: "Echo"}, func(r *handler.Result) { got = r })
	if got == nil || got.Succeeded() {
		t.Errorf("%s - expected failure without workers, got %+v", dispatcherTestPrefix, got)
	}
}

type hello struct{ Name string }

func (h *hello) Describe(b *handler.Builder) {
	b.Command("Hello", "say hello").StringParameter(&h.Name, handler.Parameter{Name: "name", Required: true})
}

func (h *hello) Handle(context.Context, *handler.Context) (*handler.Result, error) {
	return handler.Success("hello " + h.Name), nil
}

func newHelloProcessor(t *testing.T, sender processor.Sender) *processor.Processor {
	t.Helper()
	reg := registry.NewRegistry()
	if err := reg.RegisterCommand(handler.CommandFactory(func() *hello { return &hello{} })); err != nil {
		t.Fatalf("%s - register: %v", dispatcherTestPrefix, err)
	}
	return processor.NewProcessor(processor.NewProcessorParams{
		Server:            automation.NewServer(automation.NewServerParams{Registry: reg}),
		Sender:            sender,
		AutomationName:    "sdm",
		AutomationVersion: "1.0.0",
	})
}

func TestDispatcher_LocalWorkers(t *testing.T) {
	sender := &captureSender{}
	p := newHelloProcessor(t, sender)
	d := NewDispatcher(NewDispatcherParams{Workers: []Worker{NewLocalWorker("local-1", p), NewLocalWorker("local-2", p)}, Sender: sender})

	var got *handler.Result
	frame := &wire.CommandFrame{Name: "Hello", CorrelationID: "c1", Parameters: []handler.Arg{{Name: "name", Value: "world"}}}
	d.ProcessCommand(context.Background(), frame, func(r *handler.Result) { got = r })

	if got == nil || got.Message != "hello world" {
		t.Fatalf("%s - result = %+v", dispatcherTestPrefix, got)
	}
	// The worker's processor acknowledges; the dispatcher adds nothing.
	if sender.count() != 1 {
		t.Errorf("%s - expected exactly one status frame, got %d", dispatcherTestPrefix, sender.count())
	}
}

type registrations struct {
	listener.NoOpListener
	mu sync.Mutex
	n  int
}

func (r *registrations) RegistrationSuccessful(context.Context, *wire.RegistrationConfirmation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.n++
}

func TestDispatcher_SharedProcessorNotifiedOnce(t *testing.T) {
	regs := &registrations{}
	reg := registry.NewRegistry()
	p := processor.NewProcessor(processor.NewProcessorParams{
		Server:            automation.NewServer(automation.NewServerParams{Registry: reg}),
		Listeners:         listener.NewPipeline(regs),
		AutomationName:    "sdm",
		AutomationVersion: "1.0.0",
	})
	d := NewDispatcher(NewDispatcherParams{Workers: []Worker{NewLocalWorker("local-1", p), NewLocalWorker("local-2", p)}})

	d.OnConnect(context.Background(), &wire.RegistrationConfirmation{URL: "wss://x", Name: "sdm", Version: "1.0.0"})
	if regs.n != 1 {
		t.Errorf("%s - RegistrationSuccessful fired %d times, want 1", dispatcherTestPrefix, regs.n)
	}
	if p.Confirmation() == nil {
		t.Errorf("%s - processor did not record the registration", dispatcherTestPrefix)
	}
	d.OnDisconnect(context.Background())
	if p.Confirmation() != nil {
		t.Errorf("%s - processor kept the registration after disconnect", dispatcherTestPrefix)
	}
}

// slowSuccess holds the worker between its result and its status frame.
type slowSuccess struct {
	listener.NoOpListener
	delay time.Duration
}

func (s *slowSuccess) CommandSuccessful(context.Context, *handler.CommandInvocation, *handler.Context, *handler.Result) error {
	time.Sleep(s.delay)
	return nil
}

var _ listener.Listener = (*slowSuccess)(nil)

func TestDispatcher_OneStatusPerCommand(t *testing.T) {
	tests := []struct {
		name     string
		delay    time.Duration
		timeout  time.Duration
		wantCode string
		want     string
	}{
		{name: "worker acknowledges in time", delay: 0, timeout: 2 * time.Second, want: wire.StatusSuccess},
		{name: "worker acknowledges after timeout", delay: 100 * time.Millisecond, timeout: 20 * time.Millisecond, wantCode: handler.CodeTimeout, want: wire.StatusFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &captureSender{}
			reg := registry.NewRegistry()
			if err := reg.RegisterCommand(handler.CommandFactory(func() *hello { return &hello{} })); err != nil {
				t.Fatalf("%s - register: %v", dispatcherTestPrefix, err)
			}
			p := processor.NewProcessor(processor.NewProcessorParams{
				Server:            automation.NewServer(automation.NewServerParams{Registry: reg}),
				Listeners:         listener.NewPipeline(&slowSuccess{delay: tt.delay}),
				AutomationName:    "sdm",
				AutomationVersion: "1.0.0",
			})
			d := NewDispatcher(NewDispatcherParams{Workers: []Worker{NewLocalWorker("local-1", p)}, Sender: sender, Timeout: tt.timeout, AutomationName: "sdm", AutomationVersion: "1.0.0"})
			p.SetSender(d.WorkerSender())

			var got *handler.Result
			frame := &wire.CommandFrame{Name: "Hello", CorrelationID: "c1", Parameters: []handler.Arg{{Name: "name", Value: "world"}}}
			d.ProcessCommand(context.Background(), frame, func(r *handler.Result) { got = r })

			if got == nil || handler.ErrorCode(got.Err) != tt.wantCode {
				t.Fatalf("%s - result = %+v, want code %q", dispatcherTestPrefix, got, tt.wantCode)
			}
			// Let a late worker finish before counting frames.
			time.Sleep(tt.delay + 200*time.Millisecond)
			if sender.count() != 1 {
				t.Fatalf("%s - expected exactly one status frame, got %d", dispatcherTestPrefix, sender.count())
			}
			st, err := sender.frames[0].(*wire.StatusFrame).DecodeStatus()
			if err != nil || st.Status != tt.want {
				t.Errorf("%s - status = %+v, %v, want %s", dispatcherTestPrefix, st, err, tt.want)
			}
		})
	}
}
