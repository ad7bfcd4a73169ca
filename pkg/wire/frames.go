// Package wire defines the JSON frames exchanged with the orchestration service
// over the registration endpoint and the duplex channel.
package wire

import (
	"encoding/json"

	"github.com/morezero/automation-client/pkg/handler"
)

// API version stamped on outbound frames.
const APIVersion = "1"

// Content types of outbound frames.
const (
	ContentTypeStatus = "application/x-atomist-status+json"
	ContentTypeText   = "text/plain"
	ContentTypeJSON   = "application/json"
)

// CommandRequestType marks inbound command frames.
const CommandRequestType = "command_handler_request"

// Team identifies the workspace an invocation belongs to.
type Team struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// SecretValue is a resolved secret supplied with an invocation.
type SecretValue struct {
	URI   string `json:"uri"`
	Value string `json:"value"`
}

// CommandFrame is an inbound command invocation.
type CommandFrame struct {
	AtomistType      string          `json:"atomist_type,omitempty"`
	APIVersion       string          `json:"api_version,omitempty"`
	Name             string          `json:"name"`
	CorrelationID    string          `json:"corrid"`
	InvocationID     string          `json:"invocation_id,omitempty"`
	Team             Team            `json:"team"`
	Parameters       []handler.Arg   `json:"parameters,omitempty"`
	MappedParameters []handler.Arg   `json:"mapped_parameters,omitempty"`
	Secrets          []SecretValue   `json:"secrets,omitempty"`
	Source           json.RawMessage `json:"source,omitempty"`
}

// Invocation converts the frame into the immutable command invocation.
func (f *CommandFrame) Invocation(invocationID string) *handler.CommandInvocation {
	return &handler.CommandInvocation{
		Name:             f.Name,
		Args:             append([]handler.Arg(nil), f.Parameters...),
		MappedParameters: append([]handler.Arg(nil), f.MappedParameters...),
		Secrets:          secretArgs(f.Secrets),
		CorrelationID:    f.CorrelationID,
		InvocationID:     invocationID,
		TeamID:           f.Team.ID,
		TeamName:         f.Team.Name,
	}
}

// EventExtensions routes an event frame.
type EventExtensions struct {
	TeamID        string `json:"team_id"`
	TeamName      string `json:"team_name,omitempty"`
	OperationName string `json:"operationName"`
	CorrelationID string `json:"correlation_id"`
}

// EventFrame is an inbound event; the presence of data distinguishes it from a command.
type EventFrame struct {
	Data         json.RawMessage `json:"data"`
	Extensions   EventExtensions `json:"extensions"`
	Secrets      []SecretValue   `json:"secrets,omitempty"`
	InvocationID string          `json:"invocation_id,omitempty"`
}

// EventFired converts the frame into the immutable event invocation.
func (f *EventFrame) EventFired(invocationID string) *handler.EventFired {
	return &handler.EventFired{
		Data: append(json.RawMessage(nil), f.Data...),
		Extensions: handler.EventExtensions{
			OperationName: f.Extensions.OperationName,
			TeamID:        f.Extensions.TeamID,
			TeamName:      f.Extensions.TeamName,
			CorrelationID: f.Extensions.CorrelationID,
		},
		Secrets:      secretArgs(f.Secrets),
		InvocationID: invocationID,
	}
}

func secretArgs(in []SecretValue) []handler.Arg {
	out := make([]handler.Arg, 0, len(in))
	for _, s := range in {
		out = append(out, handler.Arg{Name: s.URI, Value: s.Value})
	}
	return out
}

// Status is the payload of a command acknowledgement.
type Status struct {
	Status            string `json:"status"`
	Code              int    `json:"code"`
	Message           string `json:"message,omitempty"`
	HandlerName       string `json:"handler_name,omitempty"`
	AutomationName    string `json:"automation_name,omitempty"`
	AutomationVersion string `json:"automation_version,omitempty"`
}

// Status values.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// StatusFrame acknowledges a command; Message holds the JSON-encoded Status.
type StatusFrame struct {
	APIVersion    string          `json:"api_version"`
	CorrelationID string          `json:"corrid"`
	Team          Team            `json:"team"`
	Source        json.RawMessage `json:"source,omitempty"`
	ContentType   string          `json:"content_type"`
	Message       string          `json:"message"`
}

// NewStatusFrame builds the acknowledgement for a settled command.
func NewStatusFrame(cmd *CommandFrame, result *handler.Result, automationName, automationVersion string) (*StatusFrame, error) {
	st := Status{
		Status:            StatusSuccess,
		Code:              result.Code,
		Message:           result.Message,
		HandlerName:       result.HandlerName,
		AutomationName:    automationName,
		AutomationVersion: automationVersion,
	}
	if result.Code != 0 {
		st.Status = StatusFailure
	}
	payload, err := json.Marshal(st)
	if err != nil {
		return nil, err
	}
	return &StatusFrame{
		APIVersion:    APIVersion,
		CorrelationID: cmd.CorrelationID,
		Team:          cmd.Team,
		Source:        cmd.Source,
		ContentType:   ContentTypeStatus,
		Message:       string(payload),
	}, nil
}

// DecodeStatus parses the Status carried by a status frame.
func (f *StatusFrame) DecodeStatus() (*Status, error) {
	var st Status
	if err := json.Unmarshal([]byte(f.Message), &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// ResponseFrame carries a handler-originated message.
type ResponseFrame struct {
	APIVersion    string          `json:"api_version"`
	CorrelationID string          `json:"corrid"`
	Team          Team            `json:"team"`
	Source        json.RawMessage `json:"source,omitempty"`
	Channels      []string        `json:"channels,omitempty"`
	Users         []string        `json:"users,omitempty"`
	ContentType   string          `json:"content_type"`
	Message       json.RawMessage `json:"message"`
	MessageID     string          `json:"message_id,omitempty"`
	TTL           int64           `json:"ttl,omitempty"`
	Timestamp     int64           `json:"timestamp,omitempty"`
	Post          string          `json:"post,omitempty"`
}

// EncodeMessage renders a handler message: strings travel as text, anything else as JSON.
func EncodeMessage(msg interface{}) (json.RawMessage, string, error) {
	if s, ok := msg.(string); ok {
		raw, err := json.Marshal(s)
		return raw, ContentTypeText, err
	}
	raw, err := json.Marshal(msg)
	return raw, ContentTypeJSON, err
}

// ApplyOptions copies message options into the frame.
func (f *ResponseFrame) ApplyOptions(opts *handler.MessageOptions) {
	if opts == nil {
		return
	}
	f.MessageID = opts.ID
	if opts.TTL > 0 {
		f.TTL = opts.TTL.Milliseconds()
	}
	if !opts.Timestamp.IsZero() {
		f.Timestamp = opts.Timestamp.UnixMilli()
	}
	f.Post = opts.Post
}

// Ping is a heartbeat.
type Ping struct {
	Ping int64 `json:"ping"`
}

// Pong answers a Ping with the same sequence number.
type Pong struct {
	Pong int64 `json:"pong"`
}

// Control frames carry service notices; they are logged only.
type Control struct {
	Control json.RawMessage `json:"control"`
}
