// Package persistence holds the event-sourced state engine: the append-only
// event store contract, the deterministic folds that project streams into
// entity snapshots, and the service that is the sole way other components
// mutate state.
package persistence

import (
	"context"
	"fmt"
)

// Stream name prefixes. One stream per entity id.
const (
	WorkflowStreamPrefix = "workflows."
	InstanceStreamPrefix = "instances."
	RuleServiceStream    = "rules.services"
)

type StreamNotFoundError struct {
	Stream string
}

func (e StreamNotFoundError) Error() string {
	return fmt.Sprintf("stream %q does not exist", e.Stream)
}

type StorageLayerError struct {
	Message string
}

func (e StorageLayerError) Error() string {
	return fmt.Sprintf("storage layer error: %s", e.Message)
}

// EventStore is the append-only log underneath the state engine. Appending
// is the only mutation in the whole system.
type EventStore interface {
	// Append appends one event to the stream, creating the stream on first
	// use.
	Append(ctx context.Context, stream string, event Event) error

	// Read returns all events of a stream in append order. Returns
	// StreamNotFoundError if the stream was never written.
	Read(ctx context.Context, stream string) ([]Event, error)

	// Streams lists all stream names with the given prefix.
	Streams(ctx context.Context, prefix string) ([]string, error)

	// SubscribeFromNow delivers every event appended from this moment on,
	// across all streams, at most once per event in append order. History is
	// never replayed. The returned cancel func releases the subscription.
	SubscribeFromNow(ctx context.Context) (<-chan StreamEvent, func(), error)

	Close() error
}
