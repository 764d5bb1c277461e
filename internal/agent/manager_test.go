package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/loopwork/beacon/internal/agent/steps"
	"github.com/loopwork/beacon/internal/protocol"
	"github.com/loopwork/beacon/pkg/models"
)

func TestManagerSpawnAndGet(t *testing.T) {
	m := NewManager(nil, nil)
	s, err := m.Spawn(CreateParams{AdapterName: "echo", Task: "greet"})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	got, err := m.Get(s.ID())
	if err != nil || got != s {
		t.Fatalf("Get = %v, %v", got, err)
	}
	if len(m.List()) != 1 {
		t.Fatalf("List = %d sessions", len(m.List()))
	}

	_, err = m.Get(models.SessionID("nope"))
	if !errors.Is(err, protocol.Errorf(protocol.CodeAgentNotFound, "")) {
		t.Fatalf("error = %v, want AGENT_NOT_FOUND", err)
	}
}

func TestManagerSpawnUnknownAdapter(t *testing.T) {
	m := NewManager(nil, nil)
	_, err := m.Spawn(CreateParams{AdapterName: "ghost"})
	if !errors.Is(err, protocol.Errorf(protocol.CodeConfigInvalid, "")) {
		t.Fatalf("error = %v, want CONFIG_INVALID", err)
	}
}

func TestManagerTerminateSavesFinalCheckpoint(t *testing.T) {
	m := NewManager(nil, nil)
	s, _ := m.Spawn(CreateParams{AdapterName: "echo", InitialInput: "bye"})

	if err := m.Terminate(s.ID()); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if _, err := m.Get(s.ID()); err == nil {
		t.Fatal("terminated session still listed")
	}
	cps := m.Checkpoints(s.ID())
	if len(cps) != 1 || len(cps[0].PendingInputs) != 1 {
		t.Fatalf("checkpoints = %+v", cps)
	}
	if s.State() != models.SessionTerminated {
		t.Fatalf("state = %s", s.State())
	}
}

func TestManagerCheckpointRingRetention(t *testing.T) {
	m := NewManager(nil, nil)
	s, _ := m.Spawn(CreateParams{AdapterName: "echo"})

	for i := 0; i < checkpointRetention+4; i++ {
		if _, err := m.SaveCheckpoint(s.ID()); err != nil {
			t.Fatalf("SaveCheckpoint: %v", err)
		}
	}
	if got := len(m.Checkpoints(s.ID())); got != checkpointRetention {
		t.Fatalf("retained %d checkpoints, want %d", got, checkpointRetention)
	}
}

func TestManagerContinueRestoresLatestCheckpoint(t *testing.T) {
	factories := NewFactories()
	var lastConfig map[string]any
	factories.Register("capture", func(config map[string]any) (Adapter, error) {
		lastConfig = config
		return NewScriptedAdapter("capture"), nil
	})
	m := NewManager(factories, nil)

	s, err := m.Spawn(CreateParams{
		AdapterName:   "capture",
		AdapterConfig: map[string]any{"model": "base", "temp": 0.2},
		InitialInput:  "first",
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	originalID := s.ID()
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := m.SaveCheckpoint(originalID); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}

	restored, err := m.Continue(originalID, "pick up where we left off", "better-model")
	if err != nil {
		t.Fatalf("Continue: %v", err)
	}
	if restored.ID() != originalID {
		t.Fatalf("continued id = %s, want %s", restored.ID(), originalID)
	}
	if lastConfig["model"] != "better-model" || lastConfig["temp"] != 0.2 {
		t.Fatalf("adapter config = %+v", lastConfig)
	}

	got, err := m.Get(originalID)
	if err != nil || got != restored {
		t.Fatalf("Get after continue = %v, %v", got, err)
	}
	cp := restored.Checkpoint()
	if len(cp.PendingInputs) != 1 || cp.PendingInputs[0] != "pick up where we left off" {
		t.Fatalf("pending inputs = %+v", cp.PendingInputs)
	}
	if len(cp.Messages) != 2 {
		t.Fatalf("history not carried over: %+v", cp.Messages)
	}
}

func TestManagerContinueKeepsSystemPromptAndGuidance(t *testing.T) {
	m := NewManager(nil, nil)
	s, err := m.Spawn(CreateParams{
		AdapterName:  "echo",
		SystemPrompt: "stay concise",
		GuidancePath: "/srv/agent/guidance.md",
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if _, err := m.SaveCheckpoint(s.ID()); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}

	restored, err := m.Continue(s.ID(), "again", "")
	if err != nil {
		t.Fatalf("Continue: %v", err)
	}
	cp := restored.Checkpoint()
	if cp.Guidance.GuidancePath != "/srv/agent/guidance.md" {
		t.Fatalf("guidancePath = %q", cp.Guidance.GuidancePath)
	}
	if got := cp.Guidance.SystemState["systemPrompt"]; got != "stay concise" {
		t.Fatalf("systemPrompt = %v", got)
	}
}

func TestManagerContinueAppendsResumeHookMessages(t *testing.T) {
	hooked := 0
	m := NewManager(nil, nil, WithResumeHook(func(cp models.Checkpoint) []models.CheckpointMessage {
		hooked++
		return []models.CheckpointMessage{{Role: "system", Content: "resumed at noon"}}
	}))

	s, err := m.Spawn(CreateParams{AdapterName: "echo", InitialInput: "hello"})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := m.SaveCheckpoint(s.ID()); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}

	restored, err := m.Continue(s.ID(), "", "")
	if err != nil {
		t.Fatalf("Continue: %v", err)
	}
	if hooked != 1 {
		t.Fatalf("hook ran %d times, want 1", hooked)
	}
	cp := restored.Checkpoint()
	last := cp.Messages[len(cp.Messages)-1]
	if last.Role != "system" || last.Content != "resumed at noon" {
		t.Fatalf("last message = %+v", last)
	}

	// The stored ring must not absorb the hook's messages.
	ring := m.Checkpoints(s.ID())
	for _, msg := range ring[len(ring)-1].Messages {
		if msg.Content == "resumed at noon" {
			t.Fatal("hook message leaked into the saved checkpoint")
		}
	}
}

func TestManagerContinueWithoutCheckpointOrSession(t *testing.T) {
	m := NewManager(nil, nil)
	_, err := m.Continue(models.SessionID("gone"), "hi", "")
	if !errors.Is(err, protocol.Errorf(protocol.CodeAgentNotFound, "")) {
		t.Fatalf("error = %v, want AGENT_NOT_FOUND", err)
	}
}

func TestManagerRegisteredToolsReachSessions(t *testing.T) {
	factories := NewFactories()
	factories.Register("scripted", func(config map[string]any) (Adapter, error) {
		return NewScriptedAdapter("scripted", []TurnEvent{
			{Type: TurnToolCall, ToolCallID: "tc-1", ToolName: "sum", ToolInput: map[string]any{"a": 2.0, "b": 3.0}},
			{Type: TurnDone},
		}), nil
	})
	m := NewManager(factories, nil)
	m.RegisterTool("sum", func(sc *steps.Context, input map[string]any) (any, error) {
		return input["a"].(float64) + input["b"].(float64), nil
	})

	s, _ := m.Spawn(CreateParams{AdapterName: "scripted", InitialInput: "add"})
	var c collector
	s.Subscribe(c.add)
	s.Run(context.Background())

	ends := c.byType(EventToolEnd)
	if len(ends) != 1 || ends[0].ToolResult != 5.0 {
		t.Fatalf("tool_end = %+v", ends)
	}
}
