package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/automation-client/pkg/commsutil"
	"github.com/morezero/automation-client/pkg/correlation"
	"github.com/morezero/automation-client/pkg/processor"
	"github.com/morezero/automation-client/pkg/wire"
)

const commsLogPrefix = "dispatcher:comms"

// DefaultRequestTimeout bounds a remote worker request when the caller's
// context has no deadline.
const DefaultRequestTimeout = 5 * time.Minute

// CommsWorker forwards requests to a remote worker over COMMS request/reply.
type CommsWorker struct {
	id      string
	subject string
	nc      *comms.Conn
	timeout time.Duration
}

// NewCommsWorker creates a worker addressing the process serving subject.
func NewCommsWorker(id string, nc *comms.Conn, subject string, timeout time.Duration) *CommsWorker {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &CommsWorker{id: id, subject: subject, nc: nc, timeout: timeout}
}

// ID returns the worker id.
func (w *CommsWorker) ID() string { return w.id }

// Ready reports whether the COMMS connection is up.
func (w *CommsWorker) Ready() bool { return w.nc.IsConnected() }

// Dispatch sends req and reports the reply through complete.
func (w *CommsWorker) Dispatch(ctx context.Context, req *Request, complete CompleteFunc) error {
	if err := validate(req); err != nil {
		return err
	}
	data, err := commsutil.EncodePayload(req)
	if err != nil {
		return fmt.Errorf("%s - encode request %s: %w", commsLogPrefix, req.ID, err)
	}

	go func() {
		rctx, cancel := context.WithTimeout(ctx, w.timeout)
		defer cancel()

		msg, err := w.nc.RequestWithContext(rctx, w.subject, data)
		if err != nil {
			complete(errorResponse(req.ID, fmt.Errorf("%s - request to %s: %w", commsLogPrefix, w.subject, err)))
			return
		}
		var resp Response
		if err := commsutil.DecodePayload(msg.Data, &resp); err != nil {
			complete(errorResponse(req.ID, err))
			return
		}
		if resp.ID == "" {
			resp.ID = req.ID
		}
		complete(&resp)
	}()
	return nil
}

// ServeWorker subscribes p to subject so a dispatcher elsewhere can use this
// process as a CommsWorker. Each request runs in its own goroutine.
func ServeWorker(ctx context.Context, nc *comms.Conn, subject string, p *processor.Processor) (*comms.Subscription, error) {
	sub, err := nc.Subscribe(subject, func(msg *comms.Msg) {
		var req Request
		if err := commsutil.DecodePayload(msg.Data, &req); err != nil {
			slog.Error(fmt.Sprintf("%s - Malformed worker request on %s: %v", commsLogPrefix, subject, err))
			respond(msg, &Response{Ok: false, Error: &ErrorDetail{Code: "INVALID_REQUEST", Message: err.Error()}})
			return
		}
		if err := validate(&req); err != nil {
			respond(msg, errorResponse(req.ID, err))
			return
		}
		go respond(msg, run(ctx, p, &req))
	})
	if err != nil {
		return nil, fmt.Errorf("%s - subscribe %s: %w", commsLogPrefix, subject, err)
	}
	if err := nc.Flush(); err != nil {
		sub.Unsubscribe()
		return nil, fmt.Errorf("%s - flush subscription %s: %w", commsLogPrefix, subject, err)
	}
	slog.Info(fmt.Sprintf("%s - Serving worker requests on %s", commsLogPrefix, subject))
	return sub, nil
}

func respond(msg *comms.Msg, resp *Response) {
	data, err := commsutil.EncodePayload(resp)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - Failed to encode response %s: %v", commsLogPrefix, resp.ID, err))
		return
	}
	if err := msg.Respond(data); err != nil {
		slog.Error(fmt.Sprintf("%s - Failed to respond to %s: %v", commsLogPrefix, resp.ID, err))
	}
}

// CommsSender lets a remote worker's processor write frames: they are
// published on subject for the connected process to forward.
type CommsSender struct {
	nc      *comms.Conn
	subject string
}

// NewCommsSender creates a CommsSender publishing on subject.
func NewCommsSender(nc *comms.Conn, subject string) *CommsSender {
	return &CommsSender{nc: nc, subject: subject}
}

// Send publishes frame, tagged with the invocation it belongs to.
func (s *CommsSender) Send(ctx context.Context, frame interface{}) error {
	raw, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("%s - encode frame: %w", commsLogPrefix, err)
	}
	out := &Outbound{Frame: raw}
	if cc, ok := correlation.FromContext(ctx); ok {
		out.InvocationID = cc.InvocationID
	}
	_, out.Status = frame.(*wire.StatusFrame)
	data, err := commsutil.EncodePayload(out)
	if err != nil {
		return err
	}
	if err := s.nc.Publish(s.subject, data); err != nil {
		return fmt.Errorf("%s - publish %s: %w", commsLogPrefix, s.subject, err)
	}
	return nil
}

// ForwardOutbound relays frames published by remote workers on subject to the
// transport. A status for a command the dispatcher already answered is dropped.
func (d *Dispatcher) ForwardOutbound(ctx context.Context, nc *comms.Conn, subject string) (*comms.Subscription, error) {
	sub, err := nc.Subscribe(subject, func(msg *comms.Msg) {
		var out Outbound
		if err := commsutil.DecodePayload(msg.Data, &out); err != nil {
			slog.Error(fmt.Sprintf("%s - Malformed outbound frame on %s: %v", commsLogPrefix, subject, err))
			return
		}
		if out.Status && !d.acknowledge(out.InvocationID) {
			slog.Warn(fmt.Sprintf("%s - Dropping late status for %s", commsLogPrefix, out.InvocationID))
			return
		}
		if err := d.send(ctx, out.Frame); err != nil {
			slog.Error(fmt.Sprintf("%s - Failed to forward outbound frame: %v", commsLogPrefix, err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("%s - subscribe %s: %w", commsLogPrefix, subject, err)
	}
	if err := nc.Flush(); err != nil {
		sub.Unsubscribe()
		return nil, fmt.Errorf("%s - flush subscription %s: %w", commsLogPrefix, subject, err)
	}
	return sub, nil
}
