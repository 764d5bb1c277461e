package daemon

import (
	"context"
	"encoding/json"
	"time"

	"github.com/loopwork/beacon/internal/agent"
	"github.com/loopwork/beacon/internal/channels"
	"github.com/loopwork/beacon/internal/config"
	"github.com/loopwork/beacon/internal/protocol"
	"github.com/loopwork/beacon/pkg/models"
)

// sessionSummary is the wire shape of one agent session.
type sessionSummary struct {
	SessionID       models.SessionID                    `json:"sessionId"`
	Adapter         string                              `json:"adapter"`
	State           models.SessionState                 `json:"state"`
	Metrics         models.SessionMetrics               `json:"metrics"`
	PendingRequests map[string]*models.SuspensionRecord `json:"pendingRequests,omitempty"`
}

func summarize(sess *agent.Session) sessionSummary {
	out := sessionSummary{
		SessionID: sess.ID(),
		Adapter:   sess.AdapterName(),
		State:     sess.State(),
		Metrics:   sess.Metrics(),
	}
	if pending := sess.PendingRequests(); len(pending) > 0 {
		out.PendingRequests = pending
	}
	return out
}

// channelSummary is the wire shape of one channel instance.
type channelSummary struct {
	ChannelID models.ChannelID          `json:"channelId"`
	Adapter   string                    `json:"adapter"`
	Status    channels.Status           `json:"status"`
	Metrics   *channels.MetricsSnapshot `json:"metrics,omitempty"`
}

func summarizeChannel(ch channels.Channel, withMetrics bool) channelSummary {
	out := channelSummary{ChannelID: ch.ID(), Adapter: ch.Adapter(), Status: ch.Status()}
	if withMetrics {
		if m, ok := ch.(interface{ Metrics() channels.MetricsSnapshot }); ok {
			snap := m.Metrics()
			out.Metrics = &snap
		}
	}
	return out
}

func (d *Daemon) registerHandlers() {
	r := d.router

	r.Register("daemon.ping", d.handlePing)
	r.Register("daemon.status", d.handleStatus)
	r.Register("daemon.shutdown", d.handleShutdown)
	r.Register("daemon.reload", d.handleReload)

	r.Register("agent.list", d.handleAgentList)
	r.Register("agent.get", d.handleAgentGet)
	r.Register("agent.spawn", d.handleAgentSpawn)
	r.Register("agent.continue", d.handleAgentContinue)
	r.Register("agent.listCheckpoints", d.handleAgentListCheckpoints)
	r.Register("agent.terminate", d.handleAgentTerminate)
	r.Register("agent.pause", d.handleAgentPause)
	r.Register("agent.resume", d.handleAgentResume)
	r.Register("agent.send", d.handleAgentSend)
	r.Register("agent.snapshot", d.handleAgentSnapshot)
	r.Register("agent.resumeTool", d.handleAgentResumeTool)

	r.Register("channel.list", d.handleChannelList)
	r.Register("channel.get", d.handleChannelGet)
	r.Register("channel.connect", d.handleChannelConnect)
	r.Register("channel.disconnect", d.handleChannelDisconnect)
	r.Register("channel.reconnect", d.handleChannelReconnect)

	r.Register("conversation.list", d.handleConversationList)
	r.Register("conversation.get", d.handleConversationGet)
	r.Register("conversation.bind", d.handleConversationBind)
	r.Register("conversation.unbind", d.handleConversationUnbind)

	r.Register("config.get", d.handleConfigGet)
	r.Register("config.validate", d.handleConfigValidate)

	r.Register("onboard.status", d.handleOnboardStatus)
	r.Register("onboard.execute", d.handleOnboardExecute)

	r.Register("scheduler.list", d.handleSchedulerList)
	r.Register("scheduler.trigger", d.handleSchedulerTrigger)

	r.Register("subscribe", d.handleSubscribe)
	r.Register("unsubscribe", d.handleUnsubscribe)
}

func (d *Daemon) handlePing(context.Context, *connection, json.RawMessage) (any, error) {
	return map[string]any{"pong": true}, nil
}

func (d *Daemon) handleStatus(context.Context, *connection, json.RawMessage) (any, error) {
	return map[string]any{
		"uptimeSeconds": int64(d.now().Sub(d.startTime) / time.Second),
		"sessions":      len(d.agents.List()),
		"channels":      len(d.registry.List()),
		"subscriptions": d.subs.Count(),
		"connections":   d.server.ConnectionCount(),
		"socket":        d.socketPath,
	}, nil
}

func (d *Daemon) handleShutdown(_ context.Context, _ *connection, params json.RawMessage) (any, error) {
	var p struct {
		Mode      string `json:"mode,omitempty"`
		TimeoutMs int    `json:"timeoutMs,omitempty"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	mode := p.Mode
	if mode == "" {
		mode = ShutdownGraceful
	}
	if mode != ShutdownGraceful && mode != ShutdownHard {
		return nil, protocol.Errorf(protocol.CodeInvalidParams, "unknown shutdown mode %q", p.Mode)
	}
	timeout := time.Duration(p.TimeoutMs) * time.Millisecond
	d.RequestShutdown(mode, timeout)
	return map[string]any{"stopping": true, "mode": mode}, nil
}

func (d *Daemon) handleReload(ctx context.Context, _ *connection, _ json.RawMessage) (any, error) {
	refreshed, err := d.Reload(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"reloaded": refreshed}, nil
}

type sessionIDParams struct {
	SessionID models.SessionID `json:"sessionId"`
}

func (d *Daemon) handleAgentList(context.Context, *connection, json.RawMessage) (any, error) {
	sessions := d.agents.List()
	out := make([]sessionSummary, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, summarize(sess))
	}
	return out, nil
}

func (d *Daemon) handleAgentGet(_ context.Context, _ *connection, params json.RawMessage) (any, error) {
	var p sessionIDParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	sess, err := d.agents.Get(p.SessionID)
	if err != nil {
		return nil, err
	}
	return summarize(sess), nil
}

func (d *Daemon) handleAgentSpawn(ctx context.Context, _ *connection, params json.RawMessage) (any, error) {
	var p struct {
		Adapter       string         `json:"adapter,omitempty"`
		AdapterConfig map[string]any `json:"adapterConfig,omitempty"`
		Tags          []string       `json:"tags,omitempty"`
		Metadata      map[string]any `json:"metadata,omitempty"`
		Task          string         `json:"task,omitempty"`
		SystemPrompt  string         `json:"systemPrompt,omitempty"`
		Input         string         `json:"input,omitempty"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	sess, err := d.spawnSession(ctx, agent.CreateParams{
		AdapterName:   p.Adapter,
		AdapterConfig: p.AdapterConfig,
		Tags:          p.Tags,
		Metadata:      p.Metadata,
		Task:          p.Task,
		SystemPrompt:  p.SystemPrompt,
		InitialInput:  p.Input,
	}, nil)
	if err != nil {
		return nil, err
	}
	return summarize(sess), nil
}

func (d *Daemon) handleAgentContinue(_ context.Context, _ *connection, params json.RawMessage) (any, error) {
	var p struct {
		SessionID models.SessionID `json:"sessionId"`
		Input     string           `json:"input"`
		Model     string           `json:"model,omitempty"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	sess, err := d.agents.Continue(p.SessionID, p.Input, p.Model)
	if err != nil {
		return nil, err
	}
	// Conversations bound to the session keep receiving its output.
	for _, b := range d.conversations.List() {
		if b.SessionID == sess.ID() {
			d.bindOutput(sess, models.Destination{ChannelID: b.Key.ChannelID, Ref: b.Key.Ref})
		}
	}
	d.startSession(sess)
	return summarize(sess), nil
}

func (d *Daemon) handleAgentListCheckpoints(_ context.Context, _ *connection, params json.RawMessage) (any, error) {
	var p sessionIDParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	return d.agents.Checkpoints(p.SessionID), nil
}

func (d *Daemon) handleAgentTerminate(_ context.Context, _ *connection, params json.RawMessage) (any, error) {
	var p sessionIDParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if err := d.agents.Terminate(p.SessionID); err != nil {
		return nil, err
	}
	d.conversations.DropSession(p.SessionID)
	return map[string]any{"terminated": true}, nil
}

func (d *Daemon) handleAgentPause(_ context.Context, _ *connection, params json.RawMessage) (any, error) {
	var p sessionIDParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	sess, err := d.agents.Get(p.SessionID)
	if err != nil {
		return nil, err
	}
	sess.Pause()
	return summarize(sess), nil
}

func (d *Daemon) handleAgentResume(_ context.Context, _ *connection, params json.RawMessage) (any, error) {
	var p sessionIDParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	sess, err := d.agents.Get(p.SessionID)
	if err != nil {
		return nil, err
	}
	sess.Resume()
	return summarize(sess), nil
}

func (d *Daemon) handleAgentSend(_ context.Context, _ *connection, params json.RawMessage) (any, error) {
	var p struct {
		SessionID models.SessionID `json:"sessionId"`
		Message   string           `json:"message"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	sess, err := d.agents.Get(p.SessionID)
	if err != nil {
		return nil, err
	}
	if err := sess.Send(p.Message); err != nil {
		return nil, err
	}
	return map[string]any{"queued": true}, nil
}

func (d *Daemon) handleAgentSnapshot(_ context.Context, _ *connection, params json.RawMessage) (any, error) {
	var p sessionIDParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	return d.agents.SaveCheckpoint(p.SessionID)
}

func (d *Daemon) handleAgentResumeTool(_ context.Context, _ *connection, params json.RawMessage) (any, error) {
	var p struct {
		SessionID  models.SessionID `json:"sessionId"`
		ToolCallID string           `json:"toolCallId"`
		StepID     string           `json:"stepId"`
		Result     any              `json:"result,omitempty"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	sess, err := d.agents.Get(p.SessionID)
	if err != nil {
		return nil, err
	}
	if err := sess.ResumeTool(p.ToolCallID, p.StepID, p.Result); err != nil {
		return nil, err
	}
	return summarize(sess), nil
}

type channelIDParams struct {
	ChannelID models.ChannelID `json:"channelId"`
}

func (d *Daemon) getChannel(id models.ChannelID) (channels.Channel, error) {
	ch, ok := d.registry.Get(id)
	if !ok {
		return nil, protocol.Errorf(protocol.CodeChannelNotFound, "channel %s is not registered", id)
	}
	return ch, nil
}

func (d *Daemon) handleChannelList(context.Context, *connection, json.RawMessage) (any, error) {
	list := d.registry.List()
	out := make([]channelSummary, 0, len(list))
	for _, ch := range list {
		out = append(out, summarizeChannel(ch, false))
	}
	return out, nil
}

func (d *Daemon) handleChannelGet(_ context.Context, _ *connection, params json.RawMessage) (any, error) {
	var p channelIDParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	ch, err := d.getChannel(p.ChannelID)
	if err != nil {
		return nil, err
	}
	return summarizeChannel(ch, true), nil
}

func (d *Daemon) handleChannelConnect(ctx context.Context, _ *connection, params json.RawMessage) (any, error) {
	var p channelIDParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	ch, err := d.getChannel(p.ChannelID)
	if err != nil {
		return nil, err
	}
	if err := ch.Connect(ctx); err != nil {
		return nil, err
	}
	return summarizeChannel(ch, false), nil
}

func (d *Daemon) handleChannelDisconnect(ctx context.Context, _ *connection, params json.RawMessage) (any, error) {
	var p channelIDParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	ch, err := d.getChannel(p.ChannelID)
	if err != nil {
		return nil, err
	}
	if err := ch.Disconnect(ctx); err != nil {
		return nil, err
	}
	return summarizeChannel(ch, false), nil
}

func (d *Daemon) handleChannelReconnect(ctx context.Context, _ *connection, params json.RawMessage) (any, error) {
	var p channelIDParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	ch, err := d.getChannel(p.ChannelID)
	if err != nil {
		return nil, err
	}
	if err := ch.Disconnect(ctx); err != nil {
		return nil, err
	}
	if err := ch.Connect(ctx); err != nil {
		return nil, err
	}
	return summarizeChannel(ch, false), nil
}

type conversationParams struct {
	ChannelID models.ChannelID `json:"channelId"`
	Ref       string           `json:"ref"`
}

func (p conversationParams) key() ConversationKey {
	return ConversationKey{ChannelID: p.ChannelID, Ref: p.Ref}
}

func (d *Daemon) handleConversationList(context.Context, *connection, json.RawMessage) (any, error) {
	return d.conversations.List(), nil
}

func (d *Daemon) handleConversationGet(_ context.Context, _ *connection, params json.RawMessage) (any, error) {
	var p conversationParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	binding, ok := d.conversations.Get(p.key())
	if !ok {
		return nil, protocol.Errorf(protocol.CodeInvalidParams, "conversation %s/%s is not bound", p.ChannelID, p.Ref)
	}
	return binding, nil
}

func (d *Daemon) handleConversationBind(_ context.Context, _ *connection, params json.RawMessage) (any, error) {
	var p struct {
		conversationParams
		SessionID models.SessionID `json:"sessionId"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if _, err := d.getChannel(p.ChannelID); err != nil {
		return nil, err
	}
	sess, err := d.agents.Get(p.SessionID)
	if err != nil {
		return nil, err
	}
	binding := d.conversations.Bind(p.key(), sess.ID())
	d.bindOutput(sess, models.Destination{ChannelID: p.ChannelID, Ref: p.Ref})
	return binding, nil
}

func (d *Daemon) handleConversationUnbind(_ context.Context, _ *connection, params json.RawMessage) (any, error) {
	var p conversationParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if err := d.conversations.Unbind(p.key()); err != nil {
		return nil, err
	}
	return map[string]any{"unbound": true}, nil
}

func (d *Daemon) handleConfigGet(context.Context, *connection, json.RawMessage) (any, error) {
	return redactConfig(d.currentConfig()), nil
}

func (d *Daemon) handleConfigValidate(_ context.Context, _ *connection, params json.RawMessage) (any, error) {
	var p struct {
		Path string `json:"path,omitempty"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	path := p.Path
	if path == "" {
		path = d.cfgPath
	}
	if path == "" {
		return nil, protocol.Errorf(protocol.CodeInvalidParams, "no configuration path to validate")
	}
	if _, err := config.Load(path); err != nil {
		return nil, err
	}
	return map[string]any{"valid": true, "path": path}, nil
}

func (d *Daemon) handleOnboardStatus(context.Context, *connection, json.RawMessage) (any, error) {
	var pending []models.ChannelID
	list := d.registry.List()
	states := make([]channelSummary, 0, len(list))
	for _, ch := range list {
		states = append(states, summarizeChannel(ch, false))
		if ch.Status().State != models.ChannelConnected {
			pending = append(pending, ch.ID())
		}
	}
	return map[string]any{
		"onboarded": len(pending) == 0,
		"channels":  states,
		"pending":   pending,
	}, nil
}

// Onboarding flows live in the CLI front-end; the daemon only
// acknowledges the call so older clients do not break.
func (d *Daemon) handleOnboardExecute(context.Context, *connection, json.RawMessage) (any, error) {
	return map[string]any{"acknowledged": true}, nil
}

func (d *Daemon) handleSchedulerList(context.Context, *connection, json.RawMessage) (any, error) {
	return d.scheduler.List(), nil
}

func (d *Daemon) handleSchedulerTrigger(ctx context.Context, _ *connection, params json.RawMessage) (any, error) {
	var p struct {
		Name string `json:"name"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if err := d.scheduler.Trigger(ctx, p.Name); err != nil {
		return nil, err
	}
	return map[string]any{"triggered": p.Name}, nil
}

func (d *Daemon) handleSubscribe(_ context.Context, c *connection, params json.RawMessage) (any, error) {
	var p struct {
		Type   string          `json:"type"`
		Filter json.RawMessage `json:"filter,omitempty"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if err := validType(p.Type); err != nil {
		return nil, err
	}

	var id string
	switch p.Type {
	case SubLogs:
		var f struct {
			Level         string `json:"level,omitempty"`
			Component     string `json:"component,omitempty"`
			Since         int64  `json:"since,omitempty"`
			Limit         int    `json:"limit,omitempty"`
			IncludeRecent bool   `json:"includeRecent,omitempty"`
		}
		if err := decodeParams(p.Filter, &f); err != nil {
			return nil, err
		}
		filter := LogFilter{Level: f.Level, Component: f.Component, Since: f.Since, Limit: f.Limit}
		var replay []LogEntry
		if f.IncludeRecent {
			replay = d.logs.Recent(filter)
		}
		source, dispose := d.logs.Stream(outboxCapacity, PolicyFor(p.Type))
		id = Attach(d.subs, c, p.Type, source, dispose, replay, filter.Match)

	case SubAgentOutput:
		var f struct {
			AgentID models.SessionID `json:"agentId"`
		}
		if err := decodeParams(p.Filter, &f); err != nil {
			return nil, err
		}
		if f.AgentID == "" {
			return nil, protocol.Errorf(protocol.CodeInvalidParams, "agent.output subscriptions require filter.agentId")
		}
		sess, err := d.agents.Get(f.AgentID)
		if err != nil {
			return nil, err
		}
		source, dispose := sess.Events(outboxCapacity, PolicyFor(p.Type))
		id = Attach(d.subs, c, p.Type, source, dispose, nil, nil)

	case SubChannelEvents:
		f, err := decodeChannelFilter(p.Filter)
		if err != nil {
			return nil, err
		}
		source, dispose := d.registry.EventStream(outboxCapacity, PolicyFor(p.Type))
		var keep func(channels.TaggedEvent) bool
		if f != "" {
			keep = func(ev channels.TaggedEvent) bool { return ev.ChannelID == f }
		}
		id = Attach(d.subs, c, p.Type, source, dispose, nil, keep)

	case SubLifecycle:
		f, err := decodeChannelFilter(p.Filter)
		if err != nil {
			return nil, err
		}
		source, dispose := d.registry.LifecycleStream(outboxCapacity, PolicyFor(p.Type))
		var keep func(channels.TaggedLifecycle) bool
		if f != "" {
			keep = func(ev channels.TaggedLifecycle) bool { return ev.ChannelID == f }
		}
		id = Attach(d.subs, c, p.Type, source, dispose, nil, keep)
	}

	return map[string]any{"id": id}, nil
}

func (d *Daemon) handleUnsubscribe(_ context.Context, c *connection, params json.RawMessage) (any, error) {
	var p struct {
		ID string `json:"id"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	d.subs.Release(c, p.ID)
	return map[string]any{}, nil
}

func decodeChannelFilter(raw json.RawMessage) (models.ChannelID, error) {
	var f struct {
		ChannelID models.ChannelID `json:"channelId,omitempty"`
	}
	if err := decodeParams(raw, &f); err != nil {
		return "", err
	}
	return f.ChannelID, nil
}

// redactConfig masks secrets before the config crosses the wire.
func redactConfig(cfg config.Config) config.Config {
	out := cfg
	out.Channels = make([]config.ChannelConfig, len(cfg.Channels))
	copy(out.Channels, cfg.Channels)
	for i := range out.Channels {
		if out.Channels[i].Token != "" {
			out.Channels[i].Token = "***"
		}
	}
	return out
}
