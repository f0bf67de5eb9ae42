package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

const publisherLogPrefix = "events:publisher"

// EventPublisher is the interface for publishing worker lifecycle events.
type EventPublisher interface {
	PublishWorker(ctx context.Context, event *WorkerEvent) error
}

// NoOpPublisher discards events.
type NoOpPublisher struct{}

func (p *NoOpPublisher) PublishWorker(_ context.Context, _ *WorkerEvent) error {
	return nil
}

// CallbackPublisher hands each event to a function; used by tests and embedders.
type CallbackPublisher struct {
	callback func(ctx context.Context, event *WorkerEvent) error
}

func NewCallbackPublisher(cb func(ctx context.Context, event *WorkerEvent) error) *CallbackPublisher {
	return &CallbackPublisher{callback: cb}
}

func (p *CallbackPublisher) PublishWorker(ctx context.Context, event *WorkerEvent) error {
	return p.callback(ctx, event)
}

// LogPublisher writes each event to the default logger at debug level.
type LogPublisher struct{}

func (LogPublisher) PublishWorker(_ context.Context, event *WorkerEvent) error {
	slog.Debug(fmt.Sprintf("%s - worker %d %s location=%q service=%q error=%q", publisherLogPrefix,
		event.WorkerID, event.Kind, event.Location, event.ServiceName, event.Error))
	return nil
}

// MultiPublisher fans an event out to every publisher. All of them are tried;
// their errors are joined.
type MultiPublisher []EventPublisher

func (m MultiPublisher) PublishWorker(ctx context.Context, event *WorkerEvent) error {
	var errs []error
	for _, p := range m {
		if err := p.PublishWorker(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
