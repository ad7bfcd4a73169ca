package handler

import "context"

// Describer declares a handler's metadata and field bindings.
type Describer interface {
	Describe(b *Builder)
}

// CommandHandler handles one targeted command invocation.
type CommandHandler interface {
	Describer
	Handle(ctx context.Context, hc *Context) (*Result, error)
}

// EventHandler handles an event delivered to its subscription or route.
type EventHandler interface {
	Describer
	HandleEvent(ctx context.Context, e *EventFired, hc *Context) (*Result, error)
}

// Validator is implemented by handlers that check their bound fields before
// the handler body runs.
type Validator interface {
	BindAndValidate() error
}

// Factory returns a fresh handler instance; one is made per invocation.
type Factory func() Describer

// CommandFactory adapts a typed command constructor.
func CommandFactory[T CommandHandler](fn func() T) Factory {
	return func() Describer { return fn() }
}

// EventFactory adapts a typed event constructor.
func EventFactory[T EventHandler](fn func() T) Factory {
	return func() Describer { return fn() }
}
