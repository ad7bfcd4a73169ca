// Package binder fills a fresh handler instance from an invocation's wire-level
// arguments, mapped parameters and secrets.
package binder

import (
	"context"
	"fmt"

	"github.com/morezero/automation-client/pkg/handler"
)

const logPrefix = "binder:bind"

// Resolver resolves a key (foreign key or secret URI) when the invocation did
// not supply a value.
type Resolver interface {
	Resolve(ctx context.Context, key string) (string, error)
}

// Input is the untyped data an invocation supplies.
type Input struct {
	Args             []handler.Arg
	MappedParameters []handler.Arg
	Secrets          []handler.Arg
}

// CommandInput extracts binder input from a command invocation.
func CommandInput(inv *handler.CommandInvocation) Input {
	return Input{Args: inv.Args, MappedParameters: inv.MappedParameters, Secrets: inv.Secrets}
}

// EventInput extracts binder input from an event; events carry secrets only.
func EventInput(e *handler.EventFired) Input {
	return Input{Secrets: e.Secrets}
}

// Binder binds invocations onto handler instances.
type Binder struct {
	mapped  Resolver
	secrets Resolver
}

// NewBinder creates a Binder. Either resolver may be nil, in which case
// values not supplied by the invocation stay unresolved.
func NewBinder(mappedFallback, secretFallback Resolver) *Binder {
	return &Binder{mapped: mappedFallback, secrets: secretFallback}
}

// Bind assigns declared parameters, mapped parameters and secrets on instance,
// then runs its BindAndValidate hook if it has one.
//
// Mapped parameters and secrets are resolved all-or-nothing per source: when the
// invocation supplies any, only the supplied list is consulted; otherwise every
// value comes from the fallback resolver.
func (b *Binder) Bind(ctx context.Context, instance handler.Describer, meta *handler.Metadata, in Input) error {
	bl := handler.Describe(instance)

	for _, p := range meta.Parameters {
		raw, ok := handler.FindArg(in.Args, p.Name)
		if !ok {
			continue
		}
		target, ok := bl.ParameterTarget(p.Name)
		if !ok {
			continue
		}
		v, err := Coerce(p.Type, raw)
		if err != nil {
			return handler.Errorf(handler.CodeInvalidParameter, "parameter %s: %v", p.Name, err)
		}
		if err := target.Set(v); err != nil {
			return handler.Errorf(handler.CodeInvalidParameter, "parameter %s: %v", p.Name, err)
		}
	}

	supplied := len(in.MappedParameters) > 0
	for _, m := range meta.MappedParameters {
		target, ok := bl.MappedParameterTarget(m.Name)
		if !ok {
			continue
		}
		v, found, err := b.resolve(ctx, supplied, in.MappedParameters, m.Name, b.mapped, m.URI)
		if err != nil {
			return handler.Errorf(handler.CodeUnresolvedMappedParameter, "mapped parameter %s: %v", m.Name, err)
		}
		if !found {
			if m.Required {
				return handler.Errorf(handler.CodeUnresolvedMappedParameter, "required mapped parameter %s (%s) not resolved", m.Name, m.URI)
			}
			continue
		}
		if err := target.Set(v); err != nil {
			return handler.Errorf(handler.CodeUnresolvedMappedParameter, "mapped parameter %s: %v", m.Name, err)
		}
	}

	supplied = len(in.Secrets) > 0
	for _, s := range meta.Secrets {
		target, ok := bl.SecretTarget(s.Name)
		if !ok {
			continue
		}
		v, found, err := b.resolve(ctx, supplied, in.Secrets, s.URI, b.secrets, s.URI)
		if err != nil {
			return handler.Errorf(handler.CodeUnresolvedSecret, "secret %s: %v", s.Name, err)
		}
		if !found {
			if s.Required {
				return handler.Errorf(handler.CodeUnresolvedSecret, "required secret %s not resolved", s.URI)
			}
			continue
		}
		if err := target.Set(v); err != nil {
			return handler.Errorf(handler.CodeUnresolvedSecret, "secret %s: %v", s.Name, err)
		}
	}

	if v, ok := instance.(handler.Validator); ok {
		if err := v.BindAndValidate(); err != nil {
			return handler.WrapError(handler.CodeValidationFailed, err)
		}
	}
	return nil
}

// resolve looks name up in the supplied list when the invocation supplied one,
// otherwise asks the fallback resolver for key. A fallback failure is reported
// as not found; only an unusable resolver configuration is an error.
func (b *Binder) resolve(ctx context.Context, supplied bool, list []handler.Arg, name string, fallback Resolver, key string) (string, bool, error) {
	if supplied {
		v, ok := handler.FindArg(list, name)
		return v, ok, nil
	}
	if fallback == nil {
		return "", false, nil
	}
	v, err := fallback.Resolve(ctx, key)
	if err != nil {
		if ctx.Err() != nil {
			return "", false, fmt.Errorf("%s - %w", logPrefix, ctx.Err())
		}
		return "", false, nil
	}
	return v, true, nil
}
