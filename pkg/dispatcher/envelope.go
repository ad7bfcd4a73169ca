// Package dispatcher spreads inbound frames across a pool of workers and
// pairs each dispatched invocation with the completion that comes back.
package dispatcher

import (
	"encoding/json"
	"errors"

	"github.com/morezero/automation-client/pkg/handler"
	"github.com/morezero/automation-client/pkg/wire"
)

// Request kinds.
const (
	KindCommand = "command"
	KindEvent   = "event"
)

// Request is the JSON envelope sent to a worker.
type Request struct {
	ID      string             `json:"id"`
	Kind    string             `json:"kind"`
	Command *wire.CommandFrame `json:"command,omitempty"`
	Event   *wire.EventFrame   `json:"event,omitempty"`
}

// Response is the JSON envelope a worker completes a request with.
type Response struct {
	ID      string            `json:"id"`
	Ok      bool              `json:"ok"`
	Results []*handler.Result `json:"results,omitempty"`
	Error   *ErrorDetail      `json:"error,omitempty"`
}

// ErrorDetail holds structured error information.
type ErrorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// Outbound wraps a frame a remote worker wants written to the transport.
// Status marks a command acknowledgement for InvocationID.
type Outbound struct {
	Frame        json.RawMessage `json:"frame"`
	InvocationID string          `json:"invocation_id,omitempty"`
	Status       bool            `json:"status,omitempty"`
}

func errorResponse(id string, err error) *Response {
	code := handler.ErrorCode(err)
	if code == "" {
		code = handler.CodeConnectionLost
	}
	msg := err.Error()
	var ae *handler.AutomationError
	if errors.As(err, &ae) && ae.Message != "" {
		msg = ae.Message
	}
	return &Response{
		ID: id,
		Ok: false,
		Error: &ErrorDetail{
			Code:      code,
			Message:   msg,
			Retryable: code == handler.CodeConnectionLost || code == handler.CodeTimeout,
		},
	}
}

// results returns the response's results, or a single failure result built
// from its error.
func (r *Response) results() []*handler.Result {
	if r.Error != nil {
		err := handler.NewError(r.Error.Code, r.Error.Message)
		return []*handler.Result{handler.ResultFromError(err)}
	}
	return r.Results
}
