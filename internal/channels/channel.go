// Package channels defines the uniform channel contract implemented by all
// platform adapters, the registry that aggregates live channel instances,
// and the inbound update filters.
package channels

import (
	"context"
	"io"

	"github.com/loopwork/beacon/pkg/models"
)

// Channel is the contract every adapter implements. Implementations own
// their connection lifecycle and must satisfy the state machine
// disconnected → connecting → connected → {reconnecting, error} →
// disconnected, with at most one polling loop alive between Connect and
// Disconnect.
type Channel interface {
	// ID returns the channel instance id.
	ID() models.ChannelID

	// Adapter returns the adapter name (e.g. "telegram", "mock").
	Adapter() string

	// Status returns the current connection status snapshot.
	Status() Status

	// Connect establishes the platform connection and starts the inbound
	// loop. Calling Connect on a connected channel is a no-op.
	Connect(ctx context.Context) error

	// Disconnect stops the inbound loop and aborts any in-flight poll.
	// Event and lifecycle subscriptions survive a disconnect, so a later
	// Connect resumes delivery to the same subscribers.
	Disconnect(ctx context.Context) error

	// Process translates a canonical outbound intent into platform API
	// calls. Informational intents are idempotent; agent_responding and
	// agent_error are not. For a given destination, intents complete in
	// submission order.
	Process(ctx context.Context, intent models.OutboundIntent) (models.IntentConfirmation, error)

	// FetchMedia resolves an opaque media reference produced by this
	// channel into a byte stream. The caller closes the stream.
	FetchMedia(ctx context.Context, ref models.MediaReference) (io.ReadCloser, error)

	// Subscribe registers an inbound event handler and returns its
	// disposer.
	Subscribe(fn func(models.InboundEvent)) func()

	// Events returns a stream of inbound events plus its disposer. The
	// stream stays open across disconnect/reconnect cycles and closes
	// only when disposed.
	Events() (<-chan models.InboundEvent, func())

	// OnLifecycle registers a lifecycle event handler and returns its
	// disposer.
	OnLifecycle(fn func(models.LifecycleEvent)) func()
}

// Status is a point-in-time snapshot of a channel's connection state.
type Status struct {
	State models.ChannelState `json:"state"`
	// Error holds the most recent connection error, if any.
	Error string `json:"error,omitempty"`
	// ConnectedAt is a Unix-millisecond timestamp, zero when disconnected.
	ConnectedAt int64 `json:"connectedAt,omitempty"`
}
