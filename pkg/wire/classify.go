package wire

import (
	"encoding/json"
	"fmt"
)

const logPrefix = "wire:classify"

// Kind classifies an inbound frame.
type Kind int

const (
	KindUnknown Kind = iota
	KindPing
	KindPong
	KindControl
	KindCommand
	KindEvent
)

func (k Kind) String() string {
	switch k {
	case KindPing:
		return "ping"
	case KindPong:
		return "pong"
	case KindControl:
		return "control"
	case KindCommand:
		return "command"
	case KindEvent:
		return "event"
	default:
		return "unknown"
	}
}

// Classify inspects the shape of a JSON frame. Malformed JSON is an error;
// well-formed frames of no recognizable shape are KindUnknown.
func Classify(data []byte) (Kind, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return KindUnknown, fmt.Errorf("%s - malformed frame: %w", logPrefix, err)
	}
	if _, ok := fields["ping"]; ok {
		return KindPing, nil
	}
	if _, ok := fields["pong"]; ok {
		return KindPong, nil
	}
	if _, ok := fields["control"]; ok {
		return KindControl, nil
	}
	if _, ok := fields["data"]; ok {
		return KindEvent, nil
	}
	if raw, ok := fields["atomist_type"]; ok {
		var t string
		if err := json.Unmarshal(raw, &t); err == nil && t == CommandRequestType {
			return KindCommand, nil
		}
	}
	_, hasName := fields["name"]
	_, hasCorrID := fields["corrid"]
	if hasName && hasCorrID {
		return KindCommand, nil
	}
	return KindUnknown, nil
}

// Frame is a classified inbound frame with the decoded body of its kind.
type Frame struct {
	Kind    Kind
	Ping    *Ping
	Pong    *Pong
	Control *Control
	Command *CommandFrame
	Event   *EventFrame
	Raw     []byte
}

// Decode classifies data and decodes it into the matching frame type.
func Decode(data []byte) (*Frame, error) {
	kind, err := Classify(data)
	if err != nil {
		return nil, err
	}
	f := &Frame{Kind: kind, Raw: data}
	switch kind {
	case KindPing:
		f.Ping = &Ping{}
		err = json.Unmarshal(data, f.Ping)
	case KindPong:
		f.Pong = &Pong{}
		err = json.Unmarshal(data, f.Pong)
	case KindControl:
		f.Control = &Control{}
		err = json.Unmarshal(data, f.Control)
	case KindCommand:
		f.Command = &CommandFrame{}
		err = json.Unmarshal(data, f.Command)
	case KindEvent:
		f.Event = &EventFrame{}
		err = json.Unmarshal(data, f.Event)
	}
	if err != nil {
		return nil, fmt.Errorf("%s - cannot decode %s frame: %w", logPrefix, kind, err)
	}
	return f, nil
}
