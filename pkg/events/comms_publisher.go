package events

import (
	"context"
	"fmt"
	"log/slog"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/automation-client/pkg/commsutil"
)

const commsPublisherLogPrefix = "events:comms_publisher"

// CommsPublisherOpts configures CommsPublisher. Nil or zero values use defaults.
type CommsPublisherOpts struct {
	// SubjectPrefix overrides the lifecycle subject prefix (LIFECYCLE_SUBJECT_PREFIX).
	SubjectPrefix string
}

// CommsPublisher publishes lifecycle events to COMMS subjects.
type CommsPublisher struct {
	nc     *comms.Conn
	prefix string
}

// NewCommsPublisher creates a new CommsPublisher. Pass nil for opts to use defaults.
func NewCommsPublisher(nc *comms.Conn, opts *CommsPublisherOpts) *CommsPublisher {
	prefix := commsutil.DefaultLifecyclePrefix
	if opts != nil && opts.SubjectPrefix != "" {
		prefix = opts.SubjectPrefix
	}
	return &CommsPublisher{nc: nc, prefix: prefix}
}

// PublishLifecycle publishes event to the granular <prefix>.<automation>.<stage>
// subject and to the global <prefix> subject.
func (p *CommsPublisher) PublishLifecycle(_ context.Context, event *LifecycleEvent) error {
	data, err := commsutil.EncodePayload(event)
	if err != nil {
		return fmt.Errorf("%s - failed to encode event: %w", commsPublisherLogPrefix, err)
	}

	granular := commsutil.BuildLifecycleSubject(p.prefix, event.Automation, event.Stage)
	if err := p.nc.Publish(granular, data); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to publish to %s: %v", commsPublisherLogPrefix, granular, err))
		return err
	}

	if err := p.nc.Publish(p.prefix, data); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to publish to %s: %v", commsPublisherLogPrefix, p.prefix, err))
		return err
	}

	slog.Debug(fmt.Sprintf("%s - Published %s for %s [%s]", commsPublisherLogPrefix, event.Stage, event.Automation, event.CorrelationID))
	return nil
}
