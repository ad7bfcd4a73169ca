// Package handler defines the handler-facing types of the automation client:
// metadata declared by command/event handlers, the invocation shapes built from
// wire frames, the per-invocation handler context and the result taxonomy.
package handler

import (
	"regexp"
)

// Kind distinguishes the registered handler shapes.
type Kind int

const (
	KindCommand Kind = iota
	KindEvent
	KindIngestor
)

func (k Kind) String() string {
	switch k {
	case KindCommand:
		return "command-handler"
	case KindEvent:
		return "event-handler"
	case KindIngestor:
		return "ingester"
	default:
		return "unknown"
	}
}

// ParameterType is the declared type of a command parameter.
type ParameterType string

const (
	TypeString  ParameterType = "string"
	TypeNumber  ParameterType = "number"
	TypeBoolean ParameterType = "boolean"
)

// Parameter describes one declared command parameter.
type Parameter struct {
	Name         string        `json:"name"`
	DisplayName  string        `json:"display_name,omitempty"`
	Description  string        `json:"description,omitempty"`
	Pattern      string        `json:"pattern,omitempty"`
	ValidInput   string        `json:"valid_input,omitempty"`
	Required     bool          `json:"required"`
	DefaultValue string        `json:"default_value,omitempty"`
	Type         ParameterType `json:"type,omitempty"`
	MinLength    int           `json:"min_length,omitempty"`
	MaxLength    int           `json:"max_length,omitempty"`
	Displayable  bool          `json:"displayable"`
	Group        string        `json:"group,omitempty"`

	re *regexp.Regexp
}

// HasDefault reports whether a default value was declared or captured.
func (p Parameter) HasDefault() bool {
	return p.DefaultValue != ""
}

// Matches reports whether value satisfies the declared pattern. Parameters
// without a pattern accept anything.
func (p Parameter) Matches(value string) bool {
	if p.Pattern == "" {
		return true
	}
	re := p.re
	if re == nil {
		compiled, err := regexp.Compile(p.Pattern)
		if err != nil {
			return false
		}
		re = compiled
	}
	return re.MatchString(value)
}

// MappedParameter is resolved from an external context value by foreign key.
type MappedParameter struct {
	Name     string `json:"local_key"`
	URI      string `json:"foreign_key"`
	Required bool   `json:"required"`
}

// Secret is resolved by URI; its value never leaves the process.
type Secret struct {
	Name     string `json:"name"`
	URI      string `json:"uri"`
	Required bool   `json:"required"`
}

// Descriptor is the kind-specific part of handler metadata: exactly one of
// CommandDescriptor, EventDescriptor or IngestorDescriptor.
type Descriptor interface {
	Kind() Kind
	isDescriptor()
}

// CommandDescriptor holds command-only metadata.
type CommandDescriptor struct {
	Intents    []string
	AutoSubmit bool
}

func (CommandDescriptor) Kind() Kind { return KindCommand }
func (CommandDescriptor) isDescriptor() {}

// EventDescriptor holds the subscription an event handler listens to.
type EventDescriptor struct {
	Subscription string
	Query        string
}

func (EventDescriptor) Kind() Kind { return KindEvent }
func (EventDescriptor) isDescriptor() {}

// IngestorDescriptor matches incoming events by route instead of subscription.
type IngestorDescriptor struct {
	Route string
}

func (IngestorDescriptor) Kind() Kind { return KindIngestor }
func (IngestorDescriptor) isDescriptor() {}

// Metadata is extracted once at registration and is read-only afterwards.
type Metadata struct {
	Name             string
	Description      string
	Tags             []string
	Parameters       []Parameter
	MappedParameters []MappedParameter
	Secrets          []Secret
	Descriptor       Descriptor
}

// Kind returns the handler kind from the descriptor.
func (m *Metadata) Kind() Kind {
	if m.Descriptor == nil {
		return KindCommand
	}
	return m.Descriptor.Kind()
}

// Parameter finds a declared parameter by name.
func (m *Metadata) Parameter(name string) (Parameter, bool) {
	for _, p := range m.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return Parameter{}, false
}

// Subscription returns the event subscription name, or "" for other kinds.
func (m *Metadata) Subscription() string {
	if d, ok := m.Descriptor.(EventDescriptor); ok {
		return d.Subscription
	}
	return ""
}

// Route returns the ingestor route, or "" for other kinds.
func (m *Metadata) Route() string {
	if d, ok := m.Descriptor.(IngestorDescriptor); ok {
		return d.Route
	}
	return ""
}

// SecretURIs lists declared secret URIs for export; values are never exported.
func (m *Metadata) SecretURIs() []string {
	uris := make([]string, 0, len(m.Secrets))
	for _, s := range m.Secrets {
		uris = append(uris, s.URI)
	}
	return uris
}
