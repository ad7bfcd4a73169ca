package events

import "context"

// EventPublisher publishes lifecycle events.
type EventPublisher interface {
	PublishLifecycle(ctx context.Context, event *LifecycleEvent) error
}

// NoOpPublisher is an EventPublisher that does nothing.
type NoOpPublisher struct{}

// PublishLifecycle is a no-op.
func (p *NoOpPublisher) PublishLifecycle(_ context.Context, _ *LifecycleEvent) error {
	return nil
}

// CallbackPublisher is an EventPublisher that calls a callback function (for testing).
type CallbackPublisher struct {
	callback func(ctx context.Context, event *LifecycleEvent) error
}

// NewCallbackPublisher creates a new CallbackPublisher.
func NewCallbackPublisher(cb func(ctx context.Context, event *LifecycleEvent) error) *CallbackPublisher {
	return &CallbackPublisher{callback: cb}
}

// PublishLifecycle calls the callback.
func (p *CallbackPublisher) PublishLifecycle(ctx context.Context, event *LifecycleEvent) error {
	return p.callback(ctx, event)
}
