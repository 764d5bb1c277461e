// Package daemon hosts the control-plane socket server, the RPC method
// surface, and the bridges that route inbound channel events to agent
// sessions and agent output back to channels.
package daemon

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/loopwork/beacon/internal/agent"
	"github.com/loopwork/beacon/internal/bus"
	"github.com/loopwork/beacon/internal/channels"
	"github.com/loopwork/beacon/internal/channels/mock"
	"github.com/loopwork/beacon/internal/channels/telegram"
	"github.com/loopwork/beacon/internal/config"
	"github.com/loopwork/beacon/internal/cron"
	"github.com/loopwork/beacon/internal/injectors"
	"github.com/loopwork/beacon/internal/observability"
	"github.com/loopwork/beacon/internal/protocol"
	"github.com/loopwork/beacon/pkg/models"
)

// Shutdown modes accepted by daemon.shutdown.
const (
	ShutdownGraceful = "graceful"
	ShutdownHard     = "hard"
)

const defaultShutdownTimeout = 10 * time.Second

type shutdownRequest struct {
	mode    string
	timeout time.Duration
}

// Options tunes daemon construction. Zero values resolve to defaults.
type Options struct {
	// ConfigPath is the file the config was loaded from; reload and
	// config.validate use it.
	ConfigPath string
	// SocketPath wins over the config and the environment.
	SocketPath string
	Logger     *slog.Logger
	// Logs is the ring shared with the process log handler so logs
	// subscriptions see everything the daemon writes.
	Logs *LogBuffer
	Now  func() time.Time
}

// Daemon owns every subsystem and their lifecycles.
type Daemon struct {
	logger  *slog.Logger
	logs    *LogBuffer
	metrics *observability.Metrics
	now     func() time.Time

	cfgPath    string
	socketPath string

	cfgMu sync.Mutex
	cfg   config.Config

	agents        *agent.Manager
	registry      *channels.Registry
	scheduler     *cron.Scheduler
	pipeline      *injectors.Pipeline
	skills        *injectors.Skills
	conversations *Conversations
	subs          *Subscriptions
	router        *Router
	server        *Server

	startTime  time.Time
	sessionCtx context.Context

	stopCh chan shutdownRequest
}

// New builds a daemon from a validated configuration. Channels and cron
// jobs are registered here; nothing connects until Run.
func New(cfg config.Config, opts Options) (*Daemon, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logs := opts.Logs
	if logs == nil {
		logs = NewLogBuffer(defaultLogRingCapacity)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	socketPath := opts.SocketPath
	if socketPath == "" {
		socketPath = cfg.Socket
	}
	socketPath = protocol.ResolveSocketPath(socketPath)

	metrics := observability.NewMetrics()
	skills := injectors.NewSkills(cfg.Skills.Dirs, logger)
	d := &Daemon{
		logger:     logger.With("component", "daemon"),
		logs:       logs,
		metrics:    metrics,
		now:        now,
		cfgPath:    opts.ConfigPath,
		socketPath: socketPath,
		cfg:        cfg,
		registry:   channels.NewRegistry(logger),
		skills:     skills,
		pipeline: injectors.NewPipeline(logger,
			injectors.Datetime{},
			injectors.Pulse{PromptPath: cfg.Pulse.PromptPath, Silent: cfg.Pulse.Silent},
			skills,
		),
		conversations: NewConversations(now),
		startTime:     now(),
		sessionCtx:    context.Background(),
		stopCh:        make(chan shutdownRequest, 1),
	}
	d.agents = agent.NewManager(agent.NewFactories(), logger,
		agent.WithNow(now), agent.WithResumeHook(d.resumeContext))

	for _, cc := range cfg.Channels {
		ch, err := buildChannel(cc, logger, now)
		if err != nil {
			return nil, err
		}
		if err := d.registry.Register(ch); err != nil {
			return nil, err
		}
	}

	d.scheduler = cron.NewScheduler(d.runJob, logger, cron.WithNow(now))
	for _, jc := range cfg.Cron.Jobs {
		job := cron.Job{Name: jc.Name, Schedule: jc.Schedule, Disabled: jc.Disabled, Metadata: jc.Metadata}
		if err := d.scheduler.Add(job); err != nil {
			return nil, err
		}
	}

	d.subs = NewSubscriptions(logger, metrics)
	d.router = NewRouter(logger, metrics)
	d.server = NewServer(socketPath, d.router, d.subs, logger, metrics)
	d.registerHandlers()
	return d, nil
}

func buildChannel(cc config.ChannelConfig, logger *slog.Logger, now func() time.Time) (channels.Channel, error) {
	switch cc.Adapter {
	case "telegram":
		return telegram.New(telegram.Config{
			ID:             models.ChannelID(cc.ID),
			Token:          cc.Token,
			BaseURL:        cc.BaseURL,
			PollingTimeout: time.Duration(cc.PollingTimeout) * time.Second,
			AllowedUpdates: cc.AllowedUpdates,
			AllowedUsers:   cc.AllowedUsers,
		}, telegram.WithLogger(logger), telegram.WithNow(now))
	case "mock":
		return mock.New(models.ChannelID(cc.ID), mock.WithLogger(logger), mock.WithNow(now)), nil
	default:
		return nil, protocol.Errorf(protocol.CodeConfigInvalid, "unknown channel adapter %q", cc.Adapter)
	}
}

// SocketPath returns the resolved control socket path.
func (d *Daemon) SocketPath() string { return d.socketPath }

// Run serves until the context is cancelled or daemon.shutdown fires.
// The returned error is nil on a clean stop.
func (d *Daemon) Run(ctx context.Context) error {
	sessionCtx, cancelSessions := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelSessions()
	d.sessionCtx = sessionCtx

	if err := d.server.Listen(); err != nil {
		return protocol.Errorf(protocol.CodeInternal, "bind %s: %v", d.socketPath, err)
	}

	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return d.server.Serve(gctx)
	})

	inbound, disposeInbound := d.registry.EventStream(outboxCapacity, bus.DropOldest)
	group.Go(func() error {
		for ev := range inbound {
			d.handleInbound(sessionCtx, ev)
		}
		return nil
	})

	var metricsServer *http.Server
	if listen := d.currentConfig().Metrics.Listen; listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", d.metrics.Handler())
		metricsServer = &http.Server{Addr: listen, Handler: mux}
		group.Go(func() error {
			err := metricsServer.ListenAndServe()
			if err == http.ErrServerClosed {
				return nil
			}
			return err
		})
	}

	if err := d.skills.Watch(); err != nil {
		d.logger.Warn("skills watcher unavailable, relying on reload", "error", err)
	}
	d.scheduler.Start(sessionCtx)
	if err := d.registry.ConnectAll(sessionCtx); err != nil {
		d.logger.Warn("channel connect failed, adapters will retry", "error", err)
	}
	d.logger.Info("daemon ready", "socket", d.socketPath, "channels", len(d.registry.List()))

	group.Go(func() error {
		var req shutdownRequest
		select {
		case <-gctx.Done():
			req = shutdownRequest{mode: ShutdownGraceful}
		case req = <-d.stopCh:
		}
		d.teardown(req, cancelSessions, disposeInbound, metricsServer)
		return nil
	})

	return group.Wait()
}

// RequestShutdown asks the run loop to stop. Safe to call more than
// once; only the first request is acted on.
func (d *Daemon) RequestShutdown(mode string, timeout time.Duration) {
	select {
	case d.stopCh <- shutdownRequest{mode: mode, timeout: timeout}:
	default:
	}
}

func (d *Daemon) teardown(req shutdownRequest, cancelSessions func(), disposeInbound func(), metricsServer *http.Server) {
	timeout := req.timeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	d.logger.Info("stopping", "mode", req.mode)
	d.router.Drain()
	d.scheduler.Stop(ctx)

	if req.mode == ShutdownGraceful {
		for _, sess := range d.agents.List() {
			if err := d.agents.Terminate(sess.ID()); err != nil {
				d.logger.Warn("session terminate failed", "session", sess.ID(), "error", err)
			}
		}
		if err := d.registry.DisconnectAll(ctx); err != nil {
			d.logger.Warn("channel disconnect failed", "error", err)
		}
	}

	disposeInbound()
	d.subs.Close()
	d.registry.Close()
	d.skills.Close()
	if metricsServer != nil {
		metricsServer.Close()
	}
	cancelSessions()
	if err := d.server.Close(); err != nil {
		d.logger.Debug("server close", "error", err)
	}
	d.logs.Close()
}

// Reload re-reads the configuration file and refreshes the components
// that honour runtime changes: scheduler jobs, the skills cache, and
// the stored config served by config.get. Channel topology is fixed at
// startup.
func (d *Daemon) Reload(_ context.Context) ([]string, error) {
	if d.cfgPath == "" {
		return nil, protocol.Errorf(protocol.CodeInvalidParams, "daemon was started without a config file")
	}
	cfg, err := config.Load(d.cfgPath)
	if err != nil {
		return nil, err
	}

	d.cfgMu.Lock()
	d.cfg = *cfg
	d.cfgMu.Unlock()
	refreshed := []string{"config"}

	for _, status := range d.scheduler.List() {
		d.scheduler.Remove(status.Name)
	}
	for _, jc := range cfg.Cron.Jobs {
		job := cron.Job{Name: jc.Name, Schedule: jc.Schedule, Disabled: jc.Disabled, Metadata: jc.Metadata}
		if err := d.scheduler.Add(job); err != nil {
			return nil, err
		}
	}
	refreshed = append(refreshed, "scheduler")

	d.skills.Invalidate()
	refreshed = append(refreshed, "skills")

	d.logger.Info("configuration reloaded", "path", d.cfgPath, "components", strings.Join(refreshed, ","))
	return refreshed, nil
}

func (d *Daemon) currentConfig() config.Config {
	d.cfgMu.Lock()
	defer d.cfgMu.Unlock()
	return d.cfg
}

// spawnSession creates and starts a session, filling adapter and prompt
// defaults from the configuration and the injector pipeline. onSpawn, if
// set, runs after creation but before the run loop starts, so output
// bridges attach without missing the first events.
func (d *Daemon) spawnSession(ctx context.Context, params agent.CreateParams, onSpawn func(*agent.Session)) (*agent.Session, error) {
	cfg := d.currentConfig()

	if params.AdapterName == "" {
		params.AdapterName = cfg.Agents.DefaultAdapter
	}
	if params.AdapterName == "" {
		params.AdapterName = "echo"
	}

	if len(cfg.Agents.AdapterConfig) > 0 {
		merged := make(map[string]any, len(cfg.Agents.AdapterConfig)+len(params.AdapterConfig))
		for k, v := range cfg.Agents.AdapterConfig {
			merged[k] = v
		}
		for k, v := range params.AdapterConfig {
			merged[k] = v
		}
		params.AdapterConfig = merged
	}

	if params.GuidancePath == "" {
		params.GuidancePath = cfg.Agents.GuidancePath
	}

	injected := d.pipeline.SystemContext(ctx, injectors.Context{
		Timezone:     cfg.Timezone,
		Now:          d.now(),
		GuidancePath: params.GuidancePath,
		Metadata:     params.Metadata,
	})
	params.SystemPrompt = joinPrompt(cfg.Agents.SystemPrompt, params.SystemPrompt, injected)

	sess, err := d.agents.Spawn(params)
	if err != nil {
		return nil, err
	}
	if onSpawn != nil {
		onSpawn(sess)
	}
	d.startSession(sess)
	return sess, nil
}

// resumeContext supplies the injector pipeline's contribution to a
// session continued from a checkpoint.
func (d *Daemon) resumeContext(cp models.Checkpoint) []models.CheckpointMessage {
	cfg := d.currentConfig()
	return d.pipeline.ResumeContext(context.Background(), injectors.Context{
		Timezone:     cfg.Timezone,
		Now:          d.now(),
		SessionID:    cp.Session.ID,
		GuidancePath: cp.Guidance.GuidancePath,
		Metadata:     cp.Session.Metadata,
	})
}

func joinPrompt(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n\n")
}

// startSession runs a session's loop on its own goroutine under the
// daemon-lifetime context.
func (d *Daemon) startSession(sess *agent.Session) {
	d.metrics.ActiveSessions.Inc()
	go func() {
		defer d.metrics.ActiveSessions.Dec()
		if err := sess.Run(d.sessionCtx); err != nil {
			d.logger.Warn("session run ended with error", "session", sess.ID(), "error", err)
		}
	}()
}

// runJob is the scheduler callback: every job spawns a pulse session so
// the agent wakes up, checks its surroundings, and either reports or
// stays quiet per the pulse contract.
func (d *Daemon) runJob(ctx context.Context, job cron.Job) error {
	metadata := map[string]any{"isPulse": true, "job": job.Name}
	for k, v := range job.Metadata {
		metadata[k] = v
	}
	input := "pulse"
	if v, ok := job.Metadata["input"].(string); ok && v != "" {
		input = v
	}
	_, err := d.spawnSession(ctx, agent.CreateParams{
		Task:         job.Name,
		Metadata:     metadata,
		InitialInput: input,
	}, nil)
	return err
}

// handleInbound routes one canonical channel event: bound conversations
// feed their session, unbound ones spawn a fresh session and bind it.
func (d *Daemon) handleInbound(ctx context.Context, ev channels.TaggedEvent) {
	if d.metrics != nil {
		d.metrics.ChannelEvents.WithLabelValues(string(ev.ChannelID)).Inc()
	}
	text, ok := inboundText(ev.Event)
	if !ok {
		d.logger.Debug("ignoring inbound event", "channel", ev.ChannelID, "type", ev.Event.Type)
		return
	}

	key := ConversationKey{ChannelID: ev.ChannelID, Ref: ev.Event.Origin.Ref}
	dest := ev.Event.Origin
	dest.ChannelID = ev.ChannelID

	if sessionID, bound := d.conversations.Lookup(key); bound {
		if sess, err := d.agents.Get(sessionID); err == nil {
			if err := sess.Send(text); err == nil {
				return
			}
		}
		// Terminal or missing: restore from the latest checkpoint.
		sess, err := d.agents.Continue(sessionID, text, "")
		if err == nil {
			d.bindOutput(sess, dest)
			d.startSession(sess)
			return
		}
		d.logger.Warn("bound session unavailable, respawning", "session", sessionID, "error", err)
		d.conversations.Unbind(key)
	}

	_, err := d.spawnSession(ctx, agent.CreateParams{
		Metadata: map[string]any{
			"channelId": string(ev.ChannelID),
			"ref":       ev.Event.Origin.Ref,
		},
		InitialInput: text,
	}, func(sess *agent.Session) {
		d.conversations.Bind(key, sess.ID())
		d.bindOutput(sess, dest)
	})
	if err != nil {
		d.logger.Error("spawn for inbound message failed", "channel", ev.ChannelID, "error", err)
	}
}

// inboundText extracts the conversational payload of an event. Only
// plain messages, captions, and commands drive sessions; the rest is
// control-plane telemetry.
func inboundText(ev models.InboundEvent) (string, bool) {
	switch ev.Type {
	case models.EventMessageReceived, models.EventMessageEdited:
		if ev.Content == nil {
			return "", false
		}
		switch ev.Content.Type {
		case models.InboundText:
			if ev.Content.Text != nil && ev.Content.Text.Text != "" {
				return ev.Content.Text.Text, true
			}
		case models.InboundMedia:
			if ev.Content.Media != nil && ev.Content.Media.Caption != "" {
				return ev.Content.Media.Caption, true
			}
		}
		return "", false
	case models.EventCommandReceived:
		if ev.Command == nil {
			return "", false
		}
		text := ev.Command.Command
		if ev.Command.Args != "" {
			text += " " + ev.Command.Args
		}
		return text, true
	case models.EventCallbackReceived:
		if ev.Callback != nil && ev.Callback.Data != "" {
			return ev.Callback.Data, true
		}
		return "", false
	default:
		return "", false
	}
}

// bindOutput forwards a session's events to a destination as outbound
// intents until the session completes.
func (d *Daemon) bindOutput(sess *agent.Session, dest models.Destination) {
	events, dispose := sess.Events(outboxCapacity, bus.Block)
	go func() {
		defer dispose()
		for ev := range events {
			intent, ok := d.intentFor(ev, dest)
			if !ok {
				continue
			}
			_, err := d.registry.Process(d.sessionCtx, dest.ChannelID, intent)
			if d.metrics != nil {
				status := "ok"
				if err != nil {
					status = "error"
				}
				d.metrics.ChannelIntents.WithLabelValues(string(dest.ChannelID), status).Inc()
			}
			if err != nil {
				d.logger.Warn("outbound intent failed",
					"channel", dest.ChannelID, "session", sess.ID(), "intent", intent.Type, "error", err)
			}
		}
	}()
}

func (d *Daemon) intentFor(ev agent.Event, dest models.Destination) (models.OutboundIntent, bool) {
	base := models.OutboundIntent{Destination: dest, Timestamp: d.now().UnixMilli()}
	switch ev.Type {
	case agent.EventThought:
		base.Type = models.IntentThinking
		base.Partial = ev.Text
	case agent.EventOutput:
		// A quiet pulse acknowledgement never reaches the platform.
		if injectors.IsQuietReply(ev.Text) {
			return models.OutboundIntent{}, false
		}
		base.Type = models.IntentResponding
		content := models.NewOutboundText(ev.Text, models.FormatMarkdown)
		base.Content = &content
	case agent.EventToolStart:
		base.Type = models.IntentToolCall
		base.ToolName = ev.ToolName
		base.ToolCallID = ev.ToolCallID
	case agent.EventError:
		if !ev.Fatal {
			return models.OutboundIntent{}, false
		}
		base.Type = models.IntentError
		base.Error = ev.Error
		base.Recoverable = false
	default:
		return models.OutboundIntent{}, false
	}
	return base, true
}
