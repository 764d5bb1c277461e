package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/loopwork/beacon/internal/agent"
	"github.com/loopwork/beacon/internal/channels/mock"
	"github.com/loopwork/beacon/internal/config"
	"github.com/loopwork/beacon/internal/injectors"
	"github.com/loopwork/beacon/pkg/models"
)

func testConfig() config.Config {
	return config.Config{
		Channels: []config.ChannelConfig{{ID: "mock-1", Adapter: "mock"}},
		Agents:   config.AgentsConfig{DefaultAdapter: "echo"},
	}
}

func startDaemon(t *testing.T, cfg config.Config) (*Daemon, chan error) {
	t.Helper()
	socket := filepath.Join(t.TempDir(), "beacon.sock")
	d, err := New(cfg, Options{
		SocketPath: socket,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Logs:       NewLogBuffer(128),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Error("daemon did not stop")
		}
	})
	return d, done
}

type wireClient struct {
	t       *testing.T
	conn    net.Conn
	scanner *bufio.Scanner
}

func dialDaemon(t *testing.T, socket string) *wireClient {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		conn, err := net.Dial("unix", socket)
		if err == nil {
			sc := bufio.NewScanner(conn)
			sc.Buffer(make([]byte, 64*1024), maxFrameBytes)
			t.Cleanup(func() { conn.Close() })
			return &wireClient{t: t, conn: conn, scanner: sc}
		}
		if time.Now().After(deadline) {
			t.Fatalf("dial %s: %v", socket, err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func (c *wireClient) writeLine(line string) {
	c.t.Helper()
	if _, err := c.conn.Write([]byte(line + "\n")); err != nil {
		c.t.Fatalf("write: %v", err)
	}
}

func (c *wireClient) request(id, method string, params any) {
	c.t.Helper()
	frame := map[string]any{"id": id, "method": method}
	if params != nil {
		frame["params"] = params
	}
	data, err := json.Marshal(frame)
	if err != nil {
		c.t.Fatalf("marshal request: %v", err)
	}
	if _, err := c.conn.Write(append(data, '\n')); err != nil {
		c.t.Fatalf("write request: %v", err)
	}
}

func (c *wireClient) readLine(timeout time.Duration) string {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(timeout))
	if !c.scanner.Scan() {
		c.t.Fatalf("read frame: %v", c.scanner.Err())
	}
	return c.scanner.Text()
}

func (c *wireClient) readFrame(timeout time.Duration) map[string]any {
	c.t.Helper()
	var frame map[string]any
	if err := json.Unmarshal([]byte(c.readLine(timeout)), &frame); err != nil {
		c.t.Fatalf("decode frame: %v", err)
	}
	return frame
}

// response sends a request and reads until its response, failing on any
// interleaved frame with the wrong id.
func (c *wireClient) response(id, method string, params any) map[string]any {
	c.t.Helper()
	c.request(id, method, params)
	for {
		frame := c.readFrame(2 * time.Second)
		if frame["id"] == id {
			return frame
		}
	}
}

func (c *wireClient) result(id, method string, params any) any {
	c.t.Helper()
	resp := c.response(id, method, params)
	if resp["error"] != nil {
		c.t.Fatalf("%s returned error %v", method, resp["error"])
	}
	return resp["result"]
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestPingFrameRoundTrip(t *testing.T) {
	d, _ := startDaemon(t, testConfig())
	c := dialDaemon(t, d.SocketPath())

	c.writeLine(`{"id":"r-1","method":"daemon.ping"}`)
	got := c.readLine(2 * time.Second)
	want := `{"id":"r-1","result":{"pong":true}}`
	if got != want {
		t.Fatalf("ping frame = %s, want %s", got, want)
	}
}

func TestUnknownMethodReturnsError(t *testing.T) {
	d, _ := startDaemon(t, testConfig())
	c := dialDaemon(t, d.SocketPath())

	resp := c.response("r-1", "daemon.teleport", nil)
	errPayload, ok := resp["error"].(map[string]any)
	if !ok {
		t.Fatalf("expected error payload, got %v", resp)
	}
	if errPayload["code"] == float64(0) || errPayload["message"] == "" {
		t.Errorf("unexpected error payload %v", errPayload)
	}
}

func TestMalformedLineIsSkipped(t *testing.T) {
	d, _ := startDaemon(t, testConfig())
	c := dialDaemon(t, d.SocketPath())

	c.writeLine(`{this is not json`)
	c.writeLine(`{"id":"r-2","method":"daemon.ping"}`)
	resp := c.readFrame(2 * time.Second)
	if resp["id"] != "r-2" {
		t.Fatalf("daemon must survive malformed lines, got %v", resp)
	}
}

func TestStatusReportsCounts(t *testing.T) {
	d, _ := startDaemon(t, testConfig())
	c := dialDaemon(t, d.SocketPath())

	result := c.result("r-1", "daemon.status", nil).(map[string]any)
	if result["channels"] != float64(1) {
		t.Errorf("channels = %v, want 1", result["channels"])
	}
	if result["socket"] != d.SocketPath() {
		t.Errorf("socket = %v, want %s", result["socket"], d.SocketPath())
	}
	if result["connections"].(float64) < 1 {
		t.Errorf("connections = %v, want >= 1", result["connections"])
	}
}

func TestLogSubscriptionLifecycle(t *testing.T) {
	d, _ := startDaemon(t, testConfig())
	c := dialDaemon(t, d.SocketPath())

	result := c.result("s-1", "subscribe", map[string]any{
		"type":   "logs",
		"filter": map[string]any{"component": "probe"},
	}).(map[string]any)
	subID := result["id"].(string)
	if subID == "" {
		t.Fatal("subscribe returned empty id")
	}

	d.logs.Append(LogEntry{Timestamp: 1, Level: "info", Component: "probe", Message: "one"})
	d.logs.Append(LogEntry{Timestamp: 2, Level: "info", Component: "probe", Message: "two"})
	d.logs.Append(LogEntry{Timestamp: 3, Level: "info", Component: "other", Message: "filtered out"})

	for i, want := range []string{"one", "two"} {
		frame := c.readFrame(2 * time.Second)
		if frame["method"] != "log" {
			t.Fatalf("notification %d: method = %v, want log", i, frame["method"])
		}
		params := frame["params"].(map[string]any)
		if params["message"] != want {
			t.Fatalf("notification %d: message = %v, want %s", i, params["message"], want)
		}
	}

	resp := c.response("s-2", "unsubscribe", map[string]any{"id": subID})
	if resp["error"] != nil {
		t.Fatalf("unsubscribe: %v", resp["error"])
	}

	// Nothing may arrive after the unsubscribe response.
	d.logs.Append(LogEntry{Timestamp: 4, Level: "info", Component: "probe", Message: "three"})
	c.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if c.scanner.Scan() {
		t.Fatalf("unexpected frame after unsubscribe: %s", c.scanner.Text())
	}
}

func TestLogSubscriptionIncludeRecent(t *testing.T) {
	d, _ := startDaemon(t, testConfig())
	c := dialDaemon(t, d.SocketPath())

	d.logs.Append(LogEntry{Timestamp: 1, Level: "info", Component: "replay", Message: "old"})
	d.logs.Append(LogEntry{Timestamp: 2, Level: "info", Component: "replay", Message: "mid"})
	d.logs.Append(LogEntry{Timestamp: 3, Level: "info", Component: "replay", Message: "new"})

	c.result("s-1", "subscribe", map[string]any{
		"type": "logs",
		"filter": map[string]any{
			"component":     "replay",
			"includeRecent": true,
			"limit":         2,
		},
	})

	for i, want := range []string{"mid", "new"} {
		frame := c.readFrame(2 * time.Second)
		params := frame["params"].(map[string]any)
		if params["message"] != want {
			t.Fatalf("replayed entry %d: message = %v, want %s", i, params["message"], want)
		}
	}
}

func TestUnsubscribeUnknownIDSucceedsSilently(t *testing.T) {
	d, _ := startDaemon(t, testConfig())
	c := dialDaemon(t, d.SocketPath())

	resp := c.response("r-1", "unsubscribe", map[string]any{"id": "no-such-subscription"})
	if resp["error"] != nil {
		t.Fatalf("unsubscribe of unknown id must succeed, got %v", resp["error"])
	}
}

func TestAgentSpawnAndContinueOverRPC(t *testing.T) {
	d, _ := startDaemon(t, testConfig())
	c := dialDaemon(t, d.SocketPath())

	spawned := c.result("r-1", "agent.spawn", map[string]any{"input": "hello"}).(map[string]any)
	sessionID := spawned["sessionId"].(string)
	if sessionID == "" {
		t.Fatal("spawn returned empty session id")
	}
	if spawned["adapter"] != "echo" {
		t.Errorf("adapter = %v, want echo (configured default)", spawned["adapter"])
	}

	eventually(t, func() bool {
		got := c.result("g", "agent.get", map[string]any{"sessionId": sessionID}).(map[string]any)
		return got["state"] == "completed"
	}, "session did not complete")

	cp := c.result("r-2", "agent.snapshot", map[string]any{"sessionId": sessionID}).(map[string]any)
	if cp["adapterName"] != "echo" {
		t.Errorf("checkpoint adapter = %v, want echo", cp["adapterName"])
	}

	resumed := c.result("r-3", "agent.continue", map[string]any{
		"sessionId": sessionID,
		"input":     "again",
	}).(map[string]any)
	if resumed["sessionId"] != sessionID {
		t.Errorf("continue must keep the session id, got %v", resumed["sessionId"])
	}

	eventually(t, func() bool {
		got := c.result("g", "agent.get", map[string]any{"sessionId": sessionID}).(map[string]any)
		if got["state"] != "completed" {
			return false
		}
		metrics := got["metrics"].(map[string]any)
		return metrics["turns"].(float64) >= 2
	}, "continued session did not complete a second turn")

	cps := c.result("r-4", "agent.listCheckpoints", map[string]any{"sessionId": sessionID}).([]any)
	if len(cps) == 0 {
		t.Error("expected at least one retained checkpoint")
	}
}

func TestAgentGetUnknownSession(t *testing.T) {
	d, _ := startDaemon(t, testConfig())
	c := dialDaemon(t, d.SocketPath())

	resp := c.response("r-1", "agent.get", map[string]any{"sessionId": "ghost"})
	if resp["error"] == nil {
		t.Fatal("expected AGENT_NOT_FOUND error")
	}
}

func TestInboundMessageSpawnsBoundSession(t *testing.T) {
	d, _ := startDaemon(t, testConfig())
	c := dialDaemon(t, d.SocketPath())

	ch, ok := d.registry.Get("mock-1")
	if !ok {
		t.Fatal("mock channel is not registered")
	}
	mch := ch.(*mock.Channel)

	content := models.NewTextContent("ping from chat")
	mch.SimulateInbound(models.InboundEvent{
		Type:    models.EventMessageReceived,
		Origin:  models.Destination{ChannelID: "mock-1", Ref: "42"},
		Content: &content,
	})

	// The echo agent's reply must come back through the channel.
	eventually(t, func() bool {
		for _, p := range mch.Processed() {
			if p.Intent.Type == models.IntentResponding &&
				p.Intent.Content != nil && p.Intent.Content.Text != nil &&
				p.Intent.Content.Text.Text == "ping from chat" {
				return p.Intent.Destination.Ref == "42"
			}
		}
		return false
	}, "echo reply never reached the mock channel")

	bindings := c.result("r-1", "conversation.list", nil).([]any)
	if len(bindings) != 1 {
		t.Fatalf("expected 1 conversation binding, got %d", len(bindings))
	}
	key := bindings[0].(map[string]any)["key"].(map[string]any)
	if key["channelId"] != "mock-1" || key["ref"] != "42" {
		t.Errorf("unexpected binding key %v", key)
	}

	// A second message reaches the same conversation without a new binding.
	content2 := models.NewTextContent("second")
	mch.SimulateInbound(models.InboundEvent{
		Type:    models.EventMessageReceived,
		Origin:  models.Destination{ChannelID: "mock-1", Ref: "42"},
		Content: &content2,
	})
	eventually(t, func() bool {
		for _, p := range mch.Processed() {
			if p.Intent.Type == models.IntentResponding &&
				p.Intent.Content != nil && p.Intent.Content.Text != nil &&
				p.Intent.Content.Text.Text == "second" {
				return true
			}
		}
		return false
	}, "follow-up reply never arrived")
	if got := len(c.result("r-2", "conversation.list", nil).([]any)); got != 1 {
		t.Errorf("expected the binding to be reused, got %d bindings", got)
	}

	if resp := c.response("r-3", "conversation.unbind", map[string]any{"channelId": "mock-1", "ref": "42"}); resp["error"] != nil {
		t.Fatalf("unbind: %v", resp["error"])
	}
	if resp := c.response("r-4", "conversation.unbind", map[string]any{"channelId": "mock-1", "ref": "42"}); resp["error"] == nil {
		t.Fatal("second unbind must fail")
	}
}

func TestChannelDisconnectConnectOverRPC(t *testing.T) {
	d, _ := startDaemon(t, testConfig())
	c := dialDaemon(t, d.SocketPath())

	got := c.result("r-1", "channel.disconnect", map[string]any{"channelId": "mock-1"}).(map[string]any)
	if got["status"].(map[string]any)["state"] != "disconnected" {
		t.Errorf("state after disconnect = %v", got["status"])
	}
	got = c.result("r-2", "channel.connect", map[string]any{"channelId": "mock-1"}).(map[string]any)
	if got["status"].(map[string]any)["state"] != "connected" {
		t.Errorf("state after connect = %v", got["status"])
	}

	// Inbound traffic after the reconnect must still reach the daemon.
	ch, _ := d.registry.Get("mock-1")
	mch := ch.(*mock.Channel)
	content := models.NewTextContent("after reconnect")
	mch.SimulateInbound(models.InboundEvent{
		Type:    models.EventMessageReceived,
		Origin:  models.Destination{ChannelID: "mock-1", Ref: "7"},
		Content: &content,
	})
	eventually(t, func() bool {
		for _, p := range mch.Processed() {
			if p.Intent.Type == models.IntentResponding &&
				p.Intent.Content != nil && p.Intent.Content.Text != nil &&
				p.Intent.Content.Text.Text == "after reconnect" {
				return true
			}
		}
		return false
	}, "inbound event after reconnect was not routed")

	resp := c.response("r-3", "channel.get", map[string]any{"channelId": "nope"})
	if resp["error"] == nil {
		t.Fatal("expected CHANNEL_NOT_FOUND")
	}
}

func TestQuietPulseRepliesAreSuppressed(t *testing.T) {
	d, err := New(testConfig(), Options{
		SocketPath: filepath.Join(t.TempDir(), "beacon.sock"),
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	dest := models.Destination{ChannelID: "mock-1", Ref: "1"}

	for _, quiet := range []string{"PULSE_OK", "  PULSE_OK  ", "**PULSE_OK**"} {
		if _, ok := d.intentFor(agent.Event{Type: agent.EventOutput, Text: quiet}, dest); ok {
			t.Errorf("quiet reply %q produced an intent", quiet)
		}
	}

	intent, ok := d.intentFor(agent.Event{Type: agent.EventOutput, Text: "disk is filling up"}, dest)
	if !ok || intent.Type != models.IntentResponding {
		t.Fatalf("real output suppressed: ok=%v intent=%+v", ok, intent)
	}
}

func TestSkillsWatcherStartsWithDaemon(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig()
	cfg.Skills.Dirs = []string{root}
	d, _ := startDaemon(t, cfg)
	dialDaemon(t, d.SocketPath())

	if got := len(d.skills.Eligible()); got != 0 {
		t.Fatalf("eligible before any skill = %d", got)
	}

	dir := filepath.Join(root, "notes")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	manifest := "---\nname: notes\ndescription: Keeps notes.\n---\n"
	if err := os.WriteFile(filepath.Join(dir, injectors.SkillFilename), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}

	eventually(t, func() bool { return len(d.skills.Eligible()) == 1 },
		"skill added after startup was never discovered")
}

func TestShutdownRPCStopsDaemon(t *testing.T) {
	d, done := startDaemon(t, testConfig())
	c := dialDaemon(t, d.SocketPath())

	c.request("r-1", "daemon.shutdown", map[string]any{"mode": "graceful"})
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("graceful shutdown returned %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("daemon did not stop after daemon.shutdown")
	}
	// Keep the cleanup from double-reporting.
	done <- nil
}
