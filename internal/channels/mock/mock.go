// Package mock provides an in-memory channel used by tests and local
// development. It records every processed intent, supports synthetic
// failures and delays, and can inject inbound and lifecycle events
// without a network layer.
package mock

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/loopwork/beacon/internal/bus"
	"github.com/loopwork/beacon/internal/channels"
	"github.com/loopwork/beacon/internal/protocol"
	"github.com/loopwork/beacon/pkg/models"
)

// ProcessedIntent is one recorded Process call.
type ProcessedIntent struct {
	Intent     models.OutboundIntent
	ReceivedAt time.Time
}

// Channel is the mock implementation of channels.Channel.
type Channel struct {
	id     models.ChannelID
	logger *slog.Logger
	now    func() time.Time

	events    *bus.Emitter[models.InboundEvent]
	lifecycle *bus.Emitter[models.LifecycleEvent]

	mu        sync.Mutex
	state     models.ChannelState
	processed []ProcessedIntent
	failures  map[models.IntentType]error
	delay     time.Duration
	media     map[string][]byte
}

// Option customises mock construction.
type Option func(*Channel)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Channel) { c.logger = logger }
}

// WithNow overrides the clock.
func WithNow(now func() time.Time) Option {
	return func(c *Channel) { c.now = now }
}

// New builds a mock channel.
func New(id models.ChannelID, opts ...Option) *Channel {
	c := &Channel{
		id:       id,
		logger:   slog.Default(),
		now:      time.Now,
		state:    models.ChannelDisconnected,
		failures: make(map[models.IntentType]error),
		media:    make(map[string][]byte),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "mock", "channel_id", id)
	c.events = bus.NewEmitter[models.InboundEvent](c.logger)
	c.lifecycle = bus.NewEmitter[models.LifecycleEvent](c.logger)
	return c
}

// ID returns the channel instance id.
func (c *Channel) ID() models.ChannelID { return c.id }

// Adapter returns the adapter name.
func (c *Channel) Adapter() string { return "mock" }

// Status returns the connection state snapshot.
func (c *Channel) Status() channels.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return channels.Status{State: c.state}
}

// Connect marks the channel connected.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	c.state = models.ChannelConnected
	c.mu.Unlock()
	c.lifecycle.Emit(models.LifecycleEvent{
		Type:      models.LifecycleConnected,
		ChannelID: c.id,
		Timestamp: c.now().UnixMilli(),
	})
	return nil
}

// Disconnect marks the channel disconnected. The emitters stay open so
// subscribers survive a later reconnect.
func (c *Channel) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	c.state = models.ChannelDisconnected
	c.mu.Unlock()
	c.lifecycle.Emit(models.LifecycleEvent{
		Type:      models.LifecycleDisconnected,
		ChannelID: c.id,
		Timestamp: c.now().UnixMilli(),
	})
	return nil
}

// Process records the intent, honouring any configured delay and failure.
func (c *Channel) Process(ctx context.Context, intent models.OutboundIntent) (models.IntentConfirmation, error) {
	c.mu.Lock()
	delay := c.delay
	failure := c.failures[intent.Type]
	c.processed = append(c.processed, ProcessedIntent{Intent: intent, ReceivedAt: c.now()})
	c.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return models.IntentConfirmation{}, ctx.Err()
		}
	}

	conf := models.IntentConfirmation{IntentType: intent.Type, Timestamp: c.now().UnixMilli()}
	if failure != nil {
		conf.Error = failure.Error()
		return conf, failure
	}
	conf.Success = true
	return conf, nil
}

// FetchMedia serves media bytes registered via AddMedia.
func (c *Channel) FetchMedia(ctx context.Context, ref models.MediaReference) (io.ReadCloser, error) {
	c.mu.Lock()
	data, ok := c.media[ref.ID]
	c.mu.Unlock()
	if !ok {
		return nil, protocol.Errorf(protocol.CodeAdapterAPI, "mock: media %s not found", ref.ID)
	}
	return io.NopCloser(strings.NewReader(string(data))), nil
}

// Subscribe registers an inbound event handler.
func (c *Channel) Subscribe(fn func(models.InboundEvent)) func() {
	return c.events.On(fn)
}

// Events returns a buffered inbound stream.
func (c *Channel) Events() (<-chan models.InboundEvent, func()) {
	return c.events.Stream(64, bus.DropOldest)
}

// OnLifecycle registers a lifecycle handler.
func (c *Channel) OnLifecycle(fn func(models.LifecycleEvent)) func() {
	return c.lifecycle.On(fn)
}

// SimulateInbound injects a canonical inbound event as if it had been
// polled from a platform.
func (c *Channel) SimulateInbound(ev models.InboundEvent) {
	if ev.Origin.ChannelID == "" {
		ev.Origin.ChannelID = c.id
	}
	if ev.Timestamp == 0 {
		ev.Timestamp = c.now().UnixMilli()
	}
	c.events.Emit(ev)
}

// SimulateLifecycle injects a lifecycle event.
func (c *Channel) SimulateLifecycle(ev models.LifecycleEvent) {
	if ev.ChannelID == "" {
		ev.ChannelID = c.id
	}
	if ev.Timestamp == 0 {
		ev.Timestamp = c.now().UnixMilli()
	}
	c.lifecycle.Emit(ev)
}

// FailWith configures a synthetic failure for one intent type. A nil err
// clears it.
func (c *Channel) FailWith(t models.IntentType, err error) {
	c.mu.Lock()
	if err == nil {
		delete(c.failures, t)
	} else {
		c.failures[t] = err
	}
	c.mu.Unlock()
}

// SetDelay makes every Process call take at least d.
func (c *Channel) SetDelay(d time.Duration) {
	c.mu.Lock()
	c.delay = d
	c.mu.Unlock()
}

// AddMedia registers bytes retrievable through FetchMedia.
func (c *Channel) AddMedia(id string, data []byte) {
	c.mu.Lock()
	c.media[id] = data
	c.mu.Unlock()
}

// Processed returns a copy of the recorded intents.
func (c *Channel) Processed() []ProcessedIntent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ProcessedIntent, len(c.processed))
	copy(out, c.processed)
	return out
}

// Reset clears the recorded intents.
func (c *Channel) Reset() {
	c.mu.Lock()
	c.processed = nil
	c.mu.Unlock()
}
