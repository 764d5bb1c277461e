// Package telegram implements the long-polling bot adapter. It converts
// bot API updates into canonical inbound events and canonical outbound
// intents into bot API calls, including media dispatch and typing
// debounce.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loopwork/beacon/internal/bus"
	"github.com/loopwork/beacon/internal/channels"
	"github.com/loopwork/beacon/internal/protocol"
	"github.com/loopwork/beacon/pkg/models"
)

const (
	defaultPollingTimeout = 30 * time.Second
	initialPollBackoff    = time.Second
	maxPollBackoff        = 30 * time.Second
)

// Config holds the adapter configuration for one bot.
type Config struct {
	// ID is the channel instance id this adapter registers under.
	ID models.ChannelID

	// Token is the bot token from @BotFather.
	Token string

	// BaseURL overrides the bot API host, for self-hosted servers.
	BaseURL string

	// PollingTimeout is the long-poll hold time. Defaults to 30s.
	PollingTimeout time.Duration

	// AllowedUpdates restricts the update types the poll requests.
	AllowedUpdates []string

	// AllowedUsers restricts inbound processing to these platform user
	// ids. Empty admits everyone.
	AllowedUsers []string
}

// Validate checks the configuration and applies defaults.
func (c *Config) Validate() error {
	if c.ID == "" {
		return protocol.Errorf(protocol.CodeConfigInvalid, "telegram: channel id is required")
	}
	if c.Token == "" {
		return protocol.Errorf(protocol.CodeConfigInvalid, "telegram: token is required")
	}
	if c.PollingTimeout <= 0 {
		c.PollingTimeout = defaultPollingTimeout
	}
	return nil
}

// Option customises adapter construction.
type Option func(*Channel)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Channel) { c.logger = logger }
}

// WithNow overrides the clock, for tests.
func WithNow(now func() time.Time) Option {
	return func(c *Channel) { c.now = now }
}

// WithAPI substitutes the bot client, for tests.
func WithAPI(api botAPI) Option {
	return func(c *Channel) { c.api = api }
}

// WithFilter adds an inbound update filter on top of the allowlist from
// the configuration.
func WithFilter(f channels.Filter) Option {
	return func(c *Channel) { c.extraFilter = f }
}

// Channel is the telegram implementation of channels.Channel.
type Channel struct {
	cfg         Config
	api         botAPI
	mapper      mapper
	filter      channels.Filter
	extraFilter channels.Filter
	metrics     *channels.Metrics
	typing      *typingDebouncer
	logger      *slog.Logger
	now         func() time.Time

	events    *bus.Emitter[models.InboundEvent]
	lifecycle *bus.Emitter[models.LifecycleEvent]

	mu          sync.Mutex
	state       models.ChannelState
	lastError   string
	connectedAt int64
	cancel      context.CancelFunc
	done        chan struct{}

	// chatLocks serialises outbound sends per chat so intents for a
	// destination complete in submission order.
	chatLocksMu sync.Mutex
	chatLocks   map[int64]*sync.Mutex
}

// New builds a telegram channel. The bot client is not contacted until
// Connect.
func New(cfg Config, opts ...Option) (*Channel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Channel{
		cfg:       cfg,
		mapper:    mapper{channelID: cfg.ID},
		metrics:   channels.NewMetrics(),
		logger:    slog.Default(),
		now:       time.Now,
		state:     models.ChannelDisconnected,
		chatLocks: make(map[int64]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "telegram", "channel_id", cfg.ID)
	c.typing = newTypingDebouncer(typingDebounceInterval, c.now)
	c.filter = channels.Combine(channels.UserAllowlist(cfg.AllowedUsers), c.extraFilter)
	c.events = bus.NewEmitter[models.InboundEvent](c.logger)
	c.lifecycle = bus.NewEmitter[models.LifecycleEvent](c.logger)

	if c.api == nil {
		api, err := newBotClient(cfg.Token, cfg.BaseURL)
		if err != nil {
			return nil, protocol.NewError(protocol.CodeAdapterAPI, "telegram: create bot client", err)
		}
		c.api = api
	}
	return c, nil
}

// ID returns the channel instance id.
func (c *Channel) ID() models.ChannelID { return c.cfg.ID }

// Adapter returns the adapter name.
func (c *Channel) Adapter() string { return platformName }

// Status returns a snapshot of the connection state.
func (c *Channel) Status() channels.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return channels.Status{State: c.state, Error: c.lastError, ConnectedAt: c.connectedAt}
}

// Metrics returns the adapter's counter snapshot.
func (c *Channel) Metrics() channels.MetricsSnapshot { return c.metrics.Snapshot() }

// Connect starts the polling loop. Connecting an already connected
// channel is a no-op.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case models.ChannelConnected, models.ChannelConnecting, models.ChannelReconnecting:
		c.mu.Unlock()
		return nil
	}
	c.state = models.ChannelConnecting
	pollCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	go c.pollLoop(pollCtx, done)

	now := c.now().UnixMilli()
	c.mu.Lock()
	c.state = models.ChannelConnected
	c.lastError = ""
	c.connectedAt = now
	c.mu.Unlock()

	c.logger.Info("channel connected", "polling_timeout", c.cfg.PollingTimeout)
	c.lifecycle.Emit(models.LifecycleEvent{
		Type:      models.LifecycleConnected,
		ChannelID: c.cfg.ID,
		Timestamp: now,
	})
	return nil
}

// Disconnect aborts the in-flight poll and stops the loop. The inbound
// and lifecycle streams stay open so a later Connect reuses them.
func (c *Channel) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == models.ChannelDisconnected {
		c.mu.Unlock()
		return nil
	}
	cancel := c.cancel
	done := c.done
	c.cancel = nil
	c.done = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return protocol.NewError(protocol.CodeInternal, "telegram: disconnect timed out", ctx.Err())
		}
	}

	now := c.now().UnixMilli()
	c.mu.Lock()
	c.state = models.ChannelDisconnected
	c.connectedAt = 0
	c.mu.Unlock()

	c.lifecycle.Emit(models.LifecycleEvent{
		Type:      models.LifecycleDisconnected,
		ChannelID: c.cfg.ID,
		Timestamp: now,
	})
	c.logger.Info("channel disconnected")
	return nil
}

// pollLoop long-polls getUpdates until the context is cancelled. Poll
// errors are recoverable: they surface as channel_error lifecycle events
// and back the loop off, starting at one second.
func (c *Channel) pollLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	var lastSeen int64 = -1
	backoff := initialPollBackoff

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		updates, err := c.api.GetUpdates(ctx, getUpdatesParams{
			Offset:         lastSeen + 1,
			Limit:          100,
			Timeout:        int(c.cfg.PollingTimeout.Seconds()),
			AllowedUpdates: c.cfg.AllowedUpdates,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.metrics.RecordPollError()
			c.setReconnecting(err)

			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxPollBackoff {
				backoff = maxPollBackoff
			}
			continue
		}

		backoff = initialPollBackoff
		c.setConnectedAgain()

		for _, u := range updates {
			if u.ID > lastSeen {
				lastSeen = u.ID
			}
			if !c.filter(updateInfo(u)) {
				c.metrics.RecordEventDropped()
				continue
			}
			ev := c.mapper.mapUpdate(u)
			if ev == nil {
				c.metrics.RecordEventDropped()
				continue
			}
			c.metrics.RecordEventReceived()
			c.events.Emit(*ev)
		}
	}
}

func (c *Channel) setReconnecting(err error) {
	msg := fmt.Sprintf("getUpdates failed: %v", err)

	c.mu.Lock()
	wasConnected := c.state == models.ChannelConnected
	c.state = models.ChannelReconnecting
	c.lastError = msg
	c.mu.Unlock()

	if wasConnected {
		c.metrics.RecordReconnect()
	}
	c.logger.Warn("poll failed, backing off", "error", err)
	c.lifecycle.Emit(models.LifecycleEvent{
		Type:        models.LifecycleChannelError,
		ChannelID:   c.cfg.ID,
		Error:       msg,
		Recoverable: true,
		Timestamp:   c.now().UnixMilli(),
	})
}

func (c *Channel) setConnectedAgain() {
	c.mu.Lock()
	recovered := c.state == models.ChannelReconnecting
	c.state = models.ChannelConnected
	c.lastError = ""
	c.mu.Unlock()

	if recovered {
		c.logger.Info("poll recovered")
		c.lifecycle.Emit(models.LifecycleEvent{
			Type:      models.LifecycleConnected,
			ChannelID: c.cfg.ID,
			Timestamp: c.now().UnixMilli(),
		})
	}
}

// Subscribe registers an inbound event handler.
func (c *Channel) Subscribe(fn func(models.InboundEvent)) func() {
	return c.events.On(fn)
}

// Events returns a buffered stream of inbound events.
func (c *Channel) Events() (<-chan models.InboundEvent, func()) {
	return c.events.Stream(64, bus.DropOldest)
}

// OnLifecycle registers a lifecycle event handler.
func (c *Channel) OnLifecycle(fn func(models.LifecycleEvent)) func() {
	return c.lifecycle.On(fn)
}

// chatLock returns the mutex serialising sends for one chat.
func (c *Channel) chatLock(chatID int64) *sync.Mutex {
	c.chatLocksMu.Lock()
	defer c.chatLocksMu.Unlock()
	l, ok := c.chatLocks[chatID]
	if !ok {
		l = &sync.Mutex{}
		c.chatLocks[chatID] = l
	}
	return l
}
