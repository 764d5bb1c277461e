package channels

import (
	"context"
	"log/slog"
	"sync"

	"github.com/loopwork/beacon/internal/bus"
	"github.com/loopwork/beacon/internal/protocol"
	"github.com/loopwork/beacon/pkg/models"
)

// TaggedEvent is an inbound event annotated with the channel it arrived on.
type TaggedEvent struct {
	ChannelID models.ChannelID    `json:"channelId"`
	Event     models.InboundEvent `json:"event"`
}

// TaggedLifecycle is a lifecycle event annotated with its channel.
type TaggedLifecycle struct {
	ChannelID models.ChannelID      `json:"channelId"`
	Event     models.LifecycleEvent `json:"event"`
}

// Registry owns the live channel instances and routes outbound intents by
// channel id. Inbound events from every registered channel are re-emitted
// on a single aggregate stream tagged with the channel id.
type Registry struct {
	mu        sync.RWMutex
	channels  map[models.ChannelID]Channel
	disposers map[models.ChannelID][]func()

	events    *bus.Emitter[TaggedEvent]
	lifecycle *bus.Emitter[TaggedLifecycle]
	logger    *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "channels")
	return &Registry{
		channels:  make(map[models.ChannelID]Channel),
		disposers: make(map[models.ChannelID][]func()),
		events:    bus.NewEmitter[TaggedEvent](logger),
		lifecycle: bus.NewEmitter[TaggedLifecycle](logger),
		logger:    logger,
	}
}

// Register adds a channel and begins forwarding its inbound and lifecycle
// events onto the aggregate streams. Duplicate ids are rejected.
func (r *Registry) Register(ch Channel) error {
	id := ch.ID()

	r.mu.Lock()
	if _, exists := r.channels[id]; exists {
		r.mu.Unlock()
		return protocol.Errorf(protocol.CodeChannelDuplicate, "channel %s already registered", id)
	}
	r.channels[id] = ch
	r.mu.Unlock()

	disposeEvents := ch.Subscribe(func(ev models.InboundEvent) {
		r.events.Emit(TaggedEvent{ChannelID: id, Event: ev})
	})
	disposeLifecycle := ch.OnLifecycle(func(ev models.LifecycleEvent) {
		r.lifecycle.Emit(TaggedLifecycle{ChannelID: id, Event: ev})
	})

	r.mu.Lock()
	r.disposers[id] = []func(){disposeEvents, disposeLifecycle}
	r.mu.Unlock()

	r.logger.Info("channel registered", "channel_id", id, "adapter", ch.Adapter())
	return nil
}

// Unregister removes a channel and disposes its forwarding subscriptions.
// Unknown ids are a no-op.
func (r *Registry) Unregister(id models.ChannelID) {
	r.mu.Lock()
	disposers := r.disposers[id]
	delete(r.disposers, id)
	_, existed := r.channels[id]
	delete(r.channels, id)
	r.mu.Unlock()

	for _, dispose := range disposers {
		dispose()
	}
	if existed {
		r.logger.Info("channel unregistered", "channel_id", id)
	}
}

// Get returns a channel by id.
func (r *Registry) Get(id models.ChannelID) (Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[id]
	return ch, ok
}

// List returns all registered channels.
func (r *Registry) List() []Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		out = append(out, ch)
	}
	return out
}

// Subscribe registers an aggregate inbound handler receiving events from
// every registered channel, tagged with the originating channel id.
func (r *Registry) Subscribe(fn func(TaggedEvent)) func() {
	return r.events.On(fn)
}

// SubscribeLifecycle registers an aggregate lifecycle handler.
func (r *Registry) SubscribeLifecycle(fn func(TaggedLifecycle)) func() {
	return r.lifecycle.On(fn)
}

// EventStream returns a buffered stream of tagged inbound events.
func (r *Registry) EventStream(capacity int, policy bus.OverflowPolicy) (<-chan TaggedEvent, func()) {
	return r.events.Stream(capacity, policy)
}

// LifecycleStream returns a buffered stream of tagged lifecycle events.
func (r *Registry) LifecycleStream(capacity int, policy bus.OverflowPolicy) (<-chan TaggedLifecycle, func()) {
	return r.lifecycle.Stream(capacity, policy)
}

// Process routes an outbound intent to the channel that owns its id.
// The registry lock is not held across the adapter call.
func (r *Registry) Process(ctx context.Context, id models.ChannelID, intent models.OutboundIntent) (models.IntentConfirmation, error) {
	r.mu.RLock()
	ch, ok := r.channels[id]
	r.mu.RUnlock()
	if !ok {
		return models.IntentConfirmation{}, protocol.Errorf(protocol.CodeChannelNotFound, "channel %s not found", id)
	}
	return ch.Process(ctx, intent)
}

// ConnectAll connects every registered channel, continuing past failures.
// The first error is returned.
func (r *Registry) ConnectAll(ctx context.Context) error {
	var firstErr error
	for _, ch := range r.List() {
		if err := ch.Connect(ctx); err != nil {
			r.logger.Error("channel connect failed", "channel_id", ch.ID(), "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// DisconnectAll disconnects every registered channel.
func (r *Registry) DisconnectAll(ctx context.Context) error {
	var firstErr error
	for _, ch := range r.List() {
		if err := ch.Disconnect(ctx); err != nil {
			r.logger.Error("channel disconnect failed", "channel_id", ch.ID(), "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Close completes the aggregate streams. Registered channels must already
// be disconnected.
func (r *Registry) Close() {
	r.events.Complete()
	r.lifecycle.Complete()
}
