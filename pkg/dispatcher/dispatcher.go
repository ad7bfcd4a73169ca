package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/morezero/automation-client/pkg/correlation"
	"github.com/morezero/automation-client/pkg/handler"
	"github.com/morezero/automation-client/pkg/wire"
)

const logPrefix = "dispatcher:dispatch"

// abandonedTTL bounds how long the dispatcher remembers commands it answered
// itself, waiting for the worker's late status to drop.
const abandonedTTL = 10 * time.Minute

// CompleteFunc delivers a worker's response back to the dispatcher.
type CompleteFunc func(resp *Response)

// Worker runs requests. Dispatch must not block on the request's execution;
// the outcome is reported later through complete.
type Worker interface {
	ID() string
	Dispatch(ctx context.Context, req *Request, complete CompleteFunc) error
}

// readiness is implemented by workers that can be temporarily unavailable.
type readiness interface {
	Ready() bool
}

// ConnectionObserver is implemented by workers that track the transport connection.
type ConnectionObserver interface {
	OnConnect(ctx context.Context, conf *wire.RegistrationConfirmation)
	OnDisconnect(ctx context.Context)
}

// Sender writes frames to the transport.
type Sender interface {
	Send(ctx context.Context, frame interface{}) error
}

// Dispatched pairs an in-flight invocation with its eventual response.
// Exactly one side acknowledges a command: the worker, by sending its status
// frame, or the dispatcher, when the worker fails or times out first.
type Dispatched struct {
	InvocationID string
	WorkerID     string
	Kind         string
	Started      time.Time

	once  sync.Once
	done  chan *Response
	acked bool // guarded by Dispatcher.mu
}

func (d *Dispatched) resolve(resp *Response) bool {
	resolved := false
	d.once.Do(func() {
		d.done <- resp
		resolved = true
	})
	return resolved
}

// Dispatcher round-robins inbound frames across workers.
type Dispatcher struct {
	workers []Worker
	next    atomic.Uint64
	timeout time.Duration
	name    string
	version string

	mu        sync.Mutex
	pending   map[string]*Dispatched
	abandoned map[string]time.Time
	sender    Sender
}

// NewDispatcherParams holds dependencies for NewDispatcher.
type NewDispatcherParams struct {
	Workers []Worker
	// Timeout bounds the wait for a completion. Zero waits until ctx is done.
	Timeout           time.Duration
	Sender            Sender
	AutomationName    string
	AutomationVersion string
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(params NewDispatcherParams) *Dispatcher {
	return &Dispatcher{
		workers:   params.Workers,
		timeout:   params.Timeout,
		sender:    params.Sender,
		name:      params.AutomationName,
		version:   params.AutomationVersion,
		pending:   make(map[string]*Dispatched),
		abandoned: make(map[string]time.Time),
	}
}

// SetSender sets the transport failure status frames are written to.
func (d *Dispatcher) SetSender(s Sender) {
	d.mu.Lock()
	d.sender = s
	d.mu.Unlock()
}

// Pending returns the number of in-flight invocations.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Complete resolves the pending invocation resp belongs to. It fails for an
// unknown or already completed invocation id.
func (d *Dispatcher) Complete(resp *Response) error {
	d.mu.Lock()
	entry, ok := d.pending[resp.ID]
	d.mu.Unlock()
	if !ok || !entry.resolve(resp) {
		return fmt.Errorf("%s - no pending invocation %s", logPrefix, resp.ID)
	}
	return nil
}

func (d *Dispatcher) complete(resp *Response) {
	if err := d.Complete(resp); err != nil {
		slog.Warn(fmt.Sprintf("%s - Dropping completion: %v", logPrefix, err))
	}
}

func (d *Dispatcher) pick() (Worker, error) {
	n := len(d.workers)
	for i := 0; i < n; i++ {
		w := d.workers[int(d.next.Add(1)-1)%n]
		if r, ok := w.(readiness); ok && !r.Ready() {
			continue
		}
		return w, nil
	}
	return nil, handler.Errorf(handler.CodeConnectionLost, "no worker available among %d", n)
}

// dispatch sends req to the next worker and waits for its completion. owned
// reports whether the dispatcher, not the worker, must acknowledge a command.
func (d *Dispatcher) dispatch(ctx context.Context, req *Request) (*Response, bool) {
	w, err := d.pick()
	if err != nil {
		return errorResponse(req.ID, err), true
	}

	entry := &Dispatched{InvocationID: req.ID, WorkerID: w.ID(), Kind: req.Kind, Started: time.Now(), done: make(chan *Response, 1)}
	d.mu.Lock()
	if _, dup := d.pending[req.ID]; dup {
		d.mu.Unlock()
		return errorResponse(req.ID, handler.Errorf(handler.CodeInvalidParameter, "invocation %s already in flight", req.ID)), true
	}
	d.pending[req.ID] = entry
	d.mu.Unlock()

	slog.Debug(fmt.Sprintf("%s - %s %s -> worker %s", logPrefix, req.Kind, req.ID, w.ID()))
	if err := w.Dispatch(ctx, req, d.complete); err != nil {
		d.forget(req.ID)
		return errorResponse(req.ID, handler.WrapError(handler.CodeConnectionLost, err)), true
	}

	wait := ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		wait, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	select {
	case resp := <-entry.done:
		return d.settle(entry, resp)
	case <-wait.Done():
	}
	if d.isAcked(entry) {
		// the worker already answered; its completion follows
		select {
		case resp := <-entry.done:
			return d.settle(entry, resp)
		case <-ctx.Done():
		}
	}
	return d.settle(entry, errorResponse(req.ID, handler.Errorf(handler.CodeTimeout, "worker %s did not complete %s: %v", w.ID(), req.ID, wait.Err())))
}

// settle removes entry and decides who acknowledges it. A failed command the
// worker has not acknowledged is claimed by the dispatcher, and any status
// the worker sends for it later is dropped.
func (d *Dispatcher) settle(entry *Dispatched, resp *Response) (*Response, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending[entry.InvocationID] == entry {
		delete(d.pending, entry.InvocationID)
	}
	if resp.Error == nil || entry.acked {
		return resp, false
	}
	if entry.Kind == KindCommand {
		now := time.Now()
		for id, at := range d.abandoned {
			if now.Sub(at) > abandonedTTL {
				delete(d.abandoned, id)
			}
		}
		d.abandoned[entry.InvocationID] = now
	}
	return resp, true
}

func (d *Dispatcher) isAcked(entry *Dispatched) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return entry.acked
}

// acknowledge claims the status of invocation id for the worker. It fails
// when the dispatcher has already answered the command itself.
func (d *Dispatcher) acknowledge(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, gone := d.abandoned[id]; gone {
		delete(d.abandoned, id)
		return false
	}
	if entry, ok := d.pending[id]; ok {
		entry.acked = true
	}
	return true
}

func (d *Dispatcher) forget(id string) {
	d.mu.Lock()
	delete(d.pending, id)
	d.mu.Unlock()
}

// WorkerSender is the Sender for processors behind local workers. Frames go to
// the transport, except a status frame for a command the dispatcher already
// answered.
func (d *Dispatcher) WorkerSender() Sender {
	return workerSender{d: d}
}

type workerSender struct {
	d *Dispatcher
}

func (s workerSender) Send(ctx context.Context, frame interface{}) error {
	if status, ok := frame.(*wire.StatusFrame); ok {
		cc, _ := correlation.FromContext(ctx)
		if !s.d.acknowledge(cc.InvocationID) {
			slog.Warn(fmt.Sprintf("%s - [%s] Dropping late status for %s", logPrefix, status.CorrelationID, cc.InvocationID))
			return nil
		}
	}
	return s.d.send(ctx, frame)
}

func (d *Dispatcher) send(ctx context.Context, frame interface{}) error {
	d.mu.Lock()
	sender := d.sender
	d.mu.Unlock()
	if sender == nil {
		return handler.NewError(handler.CodeConnectionLost, "no transport to send on")
	}
	return sender.Send(ctx, frame)
}

// ProcessCommand dispatches a command frame. The worker acknowledges the
// command itself; the dispatcher only sends a failure status when the worker
// could not be reached, or failed or timed out before acknowledging.
func (d *Dispatcher) ProcessCommand(ctx context.Context, frame *wire.CommandFrame, callback func(*handler.Result)) {
	if frame.InvocationID == "" {
		frame.InvocationID = uuid.NewString()
	}
	resp, owned := d.dispatch(ctx, &Request{ID: frame.InvocationID, Kind: KindCommand, Command: frame})

	results := resp.results()
	var result *handler.Result
	if len(results) > 0 {
		result = results[0]
	}
	if result == nil {
		result = handler.Success(fmt.Sprintf("Command %s completed successfully", frame.Name))
	}
	if owned {
		d.sendFailureStatus(ctx, frame, result)
	}
	if callback != nil {
		callback(result)
	}
}

// ProcessEvent dispatches an event frame.
func (d *Dispatcher) ProcessEvent(ctx context.Context, frame *wire.EventFrame, callback func([]*handler.Result)) {
	if frame.InvocationID == "" {
		frame.InvocationID = uuid.NewString()
	}
	resp, _ := d.dispatch(ctx, &Request{ID: frame.InvocationID, Kind: KindEvent, Event: frame})
	if callback != nil {
		callback(resp.results())
	}
}

// OnConnect forwards the new registration to workers that observe the connection.
func (d *Dispatcher) OnConnect(ctx context.Context, conf *wire.RegistrationConfirmation) {
	for _, o := range d.observers() {
		o.OnConnect(ctx, conf)
	}
}

// OnDisconnect forwards the disconnect to workers that observe the connection.
func (d *Dispatcher) OnDisconnect(ctx context.Context) {
	for _, o := range d.observers() {
		o.OnDisconnect(ctx)
	}
}

// observers lists each observer once; local workers sharing a processor
// notify it a single time.
func (d *Dispatcher) observers() []ConnectionObserver {
	seen := make(map[ConnectionObserver]bool)
	var out []ConnectionObserver
	for _, w := range d.workers {
		o, ok := w.(ConnectionObserver)
		if !ok {
			continue
		}
		if lw, ok := w.(*LocalWorker); ok {
			o = lw.processor
		}
		if seen[o] {
			continue
		}
		seen[o] = true
		out = append(out, o)
	}
	return out
}

func (d *Dispatcher) sendFailureStatus(ctx context.Context, frame *wire.CommandFrame, result *handler.Result) {
	if result.HandlerName == "" {
		result.HandlerName = frame.Name
	}
	status, err := wire.NewStatusFrame(frame, result, d.name, d.version)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - [%s] Failed to build status frame: %v", logPrefix, frame.CorrelationID, err))
		return
	}
	if err := d.send(ctx, status); err != nil {
		slog.Error(fmt.Sprintf("%s - [%s] Failed to send status frame: %v", logPrefix, frame.CorrelationID, err))
	}
}
