package handler

import (
	"fmt"
	"regexp"
	"strconv"
)

const builderLogPrefix = "handler:builder"

// Target is a typed reference to a handler field a binder can assign.
type Target struct {
	str  *string
	num  *int
	flag *bool
}

// Type reports the parameter type implied by the field.
func (t Target) Type() ParameterType {
	switch {
	case t.num != nil:
		return TypeNumber
	case t.flag != nil:
		return TypeBoolean
	default:
		return TypeString
	}
}

// Set assigns an already-coerced value. The value's dynamic type must match the field.
func (t Target) Set(v interface{}) error {
	switch {
	case t.str != nil:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("%s - cannot assign %T to string field", builderLogPrefix, v)
		}
		*t.str = s
	case t.num != nil:
		n, ok := v.(int)
		if !ok {
			return fmt.Errorf("%s - cannot assign %T to number field", builderLogPrefix, v)
		}
		*t.num = n
	case t.flag != nil:
		b, ok := v.(bool)
		if !ok {
			return fmt.Errorf("%s - cannot assign %T to boolean field", builderLogPrefix, v)
		}
		*t.flag = b
	default:
		return fmt.Errorf("%s - target has no field", builderLogPrefix)
	}
	return nil
}

// current renders the field's present value, "" when it holds the zero value.
func (t Target) current() string {
	switch {
	case t.str != nil:
		return *t.str
	case t.num != nil && *t.num != 0:
		return strconv.Itoa(*t.num)
	case t.flag != nil && *t.flag:
		return "true"
	}
	return ""
}

// Builder collects the metadata a handler declares in Describe, together with
// the field targets the binder fills. Declaring a name twice replaces the
// earlier declaration in place, so a handler can Include a base type and
// override some of its fields.
type Builder struct {
	meta       Metadata
	params     map[string]Target
	mapped     map[string]Target
	secrets    map[string]Target
	errs       []error
	descriptor bool
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{
		params:  make(map[string]Target),
		mapped:  make(map[string]Target),
		secrets: make(map[string]Target),
	}
}

// Describe runs d.Describe against a fresh builder.
func Describe(d Describer) *Builder {
	b := NewBuilder()
	d.Describe(b)
	return b
}

// Command declares a command handler.
func (b *Builder) Command(name, description string, intents ...string) *Builder {
	b.meta.Name = name
	b.meta.Description = description
	b.setDescriptor(CommandDescriptor{Intents: intents})
	return b
}

// AutoSubmit marks a command as submitting without prompting for optional parameters.
func (b *Builder) AutoSubmit() *Builder {
	if d, ok := b.meta.Descriptor.(CommandDescriptor); ok {
		d.AutoSubmit = true
		b.meta.Descriptor = d
	}
	return b
}

// Event declares an event handler subscribed to the named subscription.
func (b *Builder) Event(name, description, subscription, query string) *Builder {
	b.meta.Name = name
	b.meta.Description = description
	b.setDescriptor(EventDescriptor{Subscription: subscription, Query: query})
	return b
}

// Ingestor declares an event handler matched by route.
func (b *Builder) Ingestor(name, description, route string) *Builder {
	b.meta.Name = name
	b.meta.Description = description
	b.setDescriptor(IngestorDescriptor{Route: route})
	return b
}

// Tags adds tags.
func (b *Builder) Tags(tags ...string) *Builder {
	b.meta.Tags = append(b.meta.Tags, tags...)
	return b
}

// Include merges the declarations of a base type.
func (b *Builder) Include(base Describer) *Builder {
	name, desc, descriptor := b.meta.Name, b.meta.Description, b.meta.Descriptor
	set := b.descriptor
	base.Describe(b)
	if set {
		b.meta.Name, b.meta.Description, b.meta.Descriptor = name, desc, descriptor
		b.descriptor = true
	}
	return b
}

// StringParameter declares a string parameter bound to target.
func (b *Builder) StringParameter(target *string, p Parameter) *Builder {
	return b.parameter(Target{str: target}, p)
}

// IntParameter declares a number parameter bound to target.
func (b *Builder) IntParameter(target *int, p Parameter) *Builder {
	return b.parameter(Target{num: target}, p)
}

// BoolParameter declares a boolean parameter bound to target.
func (b *Builder) BoolParameter(target *bool, p Parameter) *Builder {
	return b.parameter(Target{flag: target}, p)
}

// MappedParameter declares a mapped parameter bound to target.
func (b *Builder) MappedParameter(target *string, m MappedParameter) *Builder {
	if m.Name == "" {
		b.errs = append(b.errs, fmt.Errorf("%s - mapped parameter without name", builderLogPrefix))
		return b
	}
	replaced := false
	for i := range b.meta.MappedParameters {
		if b.meta.MappedParameters[i].Name == m.Name {
			b.meta.MappedParameters[i] = m
			replaced = true
		}
	}
	if !replaced {
		b.meta.MappedParameters = append(b.meta.MappedParameters, m)
	}
	b.mapped[m.Name] = Target{str: target}
	return b
}

// Secret declares a secret bound to target.
func (b *Builder) Secret(target *string, s Secret) *Builder {
	if s.Name == "" {
		s.Name = s.URI
	}
	if s.URI == "" {
		b.errs = append(b.errs, fmt.Errorf("%s - secret %q without uri", builderLogPrefix, s.Name))
		return b
	}
	replaced := false
	for i := range b.meta.Secrets {
		if b.meta.Secrets[i].Name == s.Name {
			b.meta.Secrets[i] = s
			replaced = true
		}
	}
	if !replaced {
		b.meta.Secrets = append(b.meta.Secrets, s)
	}
	b.secrets[s.Name] = Target{str: target}
	return b
}

// Metadata validates the declarations and returns a copy of the metadata.
func (b *Builder) Metadata() (*Metadata, error) {
	if len(b.errs) > 0 {
		return nil, b.errs[0]
	}
	if b.meta.Name == "" {
		return nil, fmt.Errorf("%s - handler declared no name", builderLogPrefix)
	}
	if !b.descriptor {
		return nil, fmt.Errorf("%s - handler %s declared no kind", builderLogPrefix, b.meta.Name)
	}
	m := b.meta
	m.Tags = append([]string(nil), b.meta.Tags...)
	m.Parameters = append([]Parameter(nil), b.meta.Parameters...)
	m.MappedParameters = append([]MappedParameter(nil), b.meta.MappedParameters...)
	m.Secrets = append([]Secret(nil), b.meta.Secrets...)
	return &m, nil
}

// ParameterTarget returns the field bound to a declared parameter.
func (b *Builder) ParameterTarget(name string) (Target, bool) {
	t, ok := b.params[name]
	return t, ok
}

// MappedParameterTarget returns the field bound to a declared mapped parameter.
func (b *Builder) MappedParameterTarget(name string) (Target, bool) {
	t, ok := b.mapped[name]
	return t, ok
}

// SecretTarget returns the field bound to a declared secret.
func (b *Builder) SecretTarget(name string) (Target, bool) {
	t, ok := b.secrets[name]
	return t, ok
}

func (b *Builder) setDescriptor(d Descriptor) {
	b.meta.Descriptor = d
	b.descriptor = true
}

func (b *Builder) parameter(t Target, p Parameter) *Builder {
	if p.Name == "" {
		b.errs = append(b.errs, fmt.Errorf("%s - parameter without name", builderLogPrefix))
		return b
	}
	if p.Type == "" {
		p.Type = t.Type()
	}
	if p.DefaultValue == "" {
		p.DefaultValue = t.current()
	}
	if p.Pattern != "" {
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			b.errs = append(b.errs, fmt.Errorf("%s - parameter %s has invalid pattern %q: %w", builderLogPrefix, p.Name, p.Pattern, err))
			return b
		}
		p.re = re
	}
	replaced := false
	for i := range b.meta.Parameters {
		if b.meta.Parameters[i].Name == p.Name {
			b.meta.Parameters[i] = p
			replaced = true
		}
	}
	if !replaced {
		b.meta.Parameters = append(b.meta.Parameters, p)
	}
	b.params[p.Name] = t
	return b
}
