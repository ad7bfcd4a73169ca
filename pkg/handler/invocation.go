package handler

import "encoding/json"

// Arg is a wire-level name/value pair.
type Arg struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// FindArg returns the value of the first arg named name.
func FindArg(args []Arg, name string) (string, bool) {
	for _, a := range args {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// CommandInvocation is built once from a command frame and never mutated.
type CommandInvocation struct {
	Name             string
	Args             []Arg
	MappedParameters []Arg
	Secrets          []Arg
	CorrelationID    string
	InvocationID     string
	TeamID           string
	TeamName         string
}

// Arg returns the value supplied for parameter name.
func (i *CommandInvocation) Arg(name string) (string, bool) {
	return FindArg(i.Args, name)
}

// EventExtensions carries the routing data of an event frame.
type EventExtensions struct {
	OperationName string `json:"operationName"`
	TeamID        string `json:"team_id"`
	TeamName      string `json:"team_name,omitempty"`
	CorrelationID string `json:"correlation_id"`
}

// EventFired is built once from an event frame and never mutated.
type EventFired struct {
	Data         json.RawMessage
	Extensions   EventExtensions
	Secrets      []Arg
	InvocationID string
}

// Decode unmarshals the event payload into v.
func (e *EventFired) Decode(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}
