package dispatcher

import (
	"context"
	"fmt"

	"github.com/morezero/automation-client/pkg/handler"
	"github.com/morezero/automation-client/pkg/processor"
	"github.com/morezero/automation-client/pkg/wire"
)

// LocalWorker runs requests on an in-process request processor.
type LocalWorker struct {
	id        string
	processor *processor.Processor
}

// NewLocalWorker creates a LocalWorker.
func NewLocalWorker(id string, p *processor.Processor) *LocalWorker {
	return &LocalWorker{id: id, processor: p}
}

// ID returns the worker id.
func (w *LocalWorker) ID() string { return w.id }

// Dispatch runs req in its own goroutine and reports through complete.
func (w *LocalWorker) Dispatch(ctx context.Context, req *Request, complete CompleteFunc) error {
	if err := validate(req); err != nil {
		return err
	}
	go func() {
		complete(run(ctx, w.processor, req))
	}()
	return nil
}

// OnConnect forwards to the processor.
func (w *LocalWorker) OnConnect(ctx context.Context, conf *wire.RegistrationConfirmation) {
	w.processor.OnConnect(ctx, conf)
}

// OnDisconnect forwards to the processor.
func (w *LocalWorker) OnDisconnect(ctx context.Context) {
	w.processor.OnDisconnect(ctx)
}

func validate(req *Request) error {
	switch {
	case req.Kind == KindCommand && req.Command != nil:
	case req.Kind == KindEvent && req.Event != nil:
	default:
		return fmt.Errorf("%s - malformed %q request %s", logPrefix, req.Kind, req.ID)
	}
	return nil
}

// run executes req synchronously on p.
func run(ctx context.Context, p *processor.Processor, req *Request) *Response {
	resp := &Response{ID: req.ID, Ok: true}
	switch req.Kind {
	case KindCommand:
		p.ProcessCommand(ctx, req.Command, func(r *handler.Result) {
			resp.Results = []*handler.Result{r}
		})
	case KindEvent:
		p.ProcessEvent(ctx, req.Event, func(rs []*handler.Result) {
			resp.Results = rs
		})
	}
	return resp
}
