package events

import (
	"context"
	"fmt"
	"log/slog"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/extension-workers/pkg/commsutil"
)

const commsPublisherLogPrefix = "events:comms_publisher"

// CommsPublisherOpts configures CommsPublisher. Nil or zero values use defaults.
type CommsPublisherOpts struct {
	// SubjectPrefix overrides the worker event subject prefix (EVENT_SUBJECT_PREFIX).
	SubjectPrefix string
	// Codec encodes events; JSON when nil.
	Codec commsutil.Codec
}

// CommsPublisher publishes worker lifecycle events to COMMS subjects.
type CommsPublisher struct {
	nc     *comms.Conn
	prefix string
	codec  commsutil.Codec
}

// NewCommsPublisher creates a new CommsPublisher. Pass nil for opts to use defaults.
func NewCommsPublisher(nc *comms.Conn, opts *CommsPublisherOpts) *CommsPublisher {
	p := &CommsPublisher{nc: nc, prefix: commsutil.SubjectWorkerEvents, codec: commsutil.JSONCodec{}}
	if opts != nil {
		if opts.SubjectPrefix != "" {
			p.prefix = opts.SubjectPrefix
		}
		if opts.Codec != nil {
			p.codec = opts.Codec
		}
	}
	return p
}

// PublishWorker publishes the event to <prefix>.<workerId>.<kind>.
func (p *CommsPublisher) PublishWorker(_ context.Context, event *WorkerEvent) error {
	data, err := p.codec.Encode(event)
	if err != nil {
		return fmt.Errorf("%s - failed to encode event: %w", commsPublisherLogPrefix, err)
	}

	subject := commsutil.BuildWorkerEventSubject(p.prefix, event.WorkerID, event.Kind)
	if err := p.nc.Publish(subject, data); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to publish to %s: %v", commsPublisherLogPrefix, subject, err))
		return err
	}

	slog.Debug(fmt.Sprintf("%s - Published %s event for worker %d", commsPublisherLogPrefix, event.Kind, event.WorkerID))
	return nil
}
