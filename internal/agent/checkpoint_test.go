package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/loopwork/beacon/internal/agent/steps"
	"github.com/loopwork/beacon/internal/protocol"
	"github.com/loopwork/beacon/pkg/models"
)

func approvalTool(ran *int) ToolFunc {
	return func(sc *steps.Context, input map[string]any) (any, error) {
		decision, err := sc.WaitForApproval(map[string]any{"action": "merge"})
		if err != nil {
			return nil, err
		}
		*ran++
		return decision, nil
	}
}

func TestCheckpointRoundTripWithSuspension(t *testing.T) {
	now := func() time.Time { return time.UnixMilli(1_700_000_000_000) }
	ran := 0
	script := NewScriptedAdapter("scripted", []TurnEvent{
		{Type: TurnToolCall, ToolCallID: "tc-1", ToolName: "merge", ToolInput: map[string]any{"pr": 12}},
		{Type: TurnOutput, Text: "waiting on approval", Final: true},
		{Type: TurnDone},
	})
	s, err := New(Config{
		Adapter:      script,
		InitialInput: "merge it",
		Tools:        map[string]ToolFunc{"merge": approvalTool(&ran)},
		Tags:         []string{"ops"},
		Metadata:     map[string]any{"origin": "test"},
		Task:         "merge the change",
		Now:          now,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	cp := s.Checkpoint()
	if cp.AdapterName != "scripted" {
		t.Fatalf("adapter name = %s", cp.AdapterName)
	}
	if cp.Session.ID != s.ID() || cp.Session.Task != "merge the change" {
		t.Fatalf("session = %+v", cp.Session)
	}
	if cp.Session.Metrics.Turns != 1 || cp.Session.Metrics.ToolCalls != 1 {
		t.Fatalf("metrics = %+v", cp.Session.Metrics)
	}
	if len(cp.Messages) != 2 || cp.Messages[0].Role != "user" || cp.Messages[1].Role != "assistant" {
		t.Fatalf("messages = %+v", cp.Messages)
	}
	if len(cp.ToolExecutions) != 1 || cp.ToolExecutions[0].Suspension == nil {
		t.Fatalf("tool executions = %+v", cp.ToolExecutions)
	}

	restored, err := Restore(cp, Config{
		Adapter: NewScriptedAdapter("scripted"),
		Tools:   map[string]ToolFunc{"merge": approvalTool(&ran)},
		Now:     now,
	})
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if restored.ID() != s.ID() {
		t.Fatalf("restored id = %s, want %s", restored.ID(), s.ID())
	}
	pending := restored.PendingRequests()
	if len(pending) != 1 || pending["tc-1"] == nil || pending["tc-1"].Kind != "approval" {
		t.Fatalf("pending = %+v", pending)
	}

	if err := restored.ResumeTool("tc-1", "__suspension:approval:0", map[string]any{"approved": true}); err != nil {
		t.Fatalf("ResumeTool: %v", err)
	}
	if ran != 1 {
		t.Fatalf("post-suspension code ran %d times", ran)
	}
	if len(restored.PendingRequests()) != 0 {
		t.Fatal("pending request survived resume")
	}
}

func TestCheckpointCapturesPendingInputs(t *testing.T) {
	s, _ := New(Config{Adapter: &EchoAdapter{}, InitialInput: "queued"})
	s.Send("also queued")

	cp := s.Checkpoint()
	if len(cp.PendingInputs) != 2 || cp.PendingInputs[0] != "queued" {
		t.Fatalf("pending inputs = %+v", cp.PendingInputs)
	}

	restored, err := Restore(cp, Config{Adapter: &EchoAdapter{}})
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}

	var c collector
	restored.Subscribe(c.add)
	restored.Run(context.Background())

	outputs := c.byType(EventOutput)
	if len(outputs) != 2 || outputs[0].Text != "queued" || outputs[1].Text != "also queued" {
		t.Fatalf("outputs = %+v", outputs)
	}
}

func TestCheckpointGuidanceRoundTrip(t *testing.T) {
	s, _ := New(Config{
		Adapter:      &EchoAdapter{},
		SystemPrompt: "answer in haiku",
		GuidancePath: "/etc/beacon/guidance.md",
	})

	cp := s.Checkpoint()
	if cp.Guidance.GuidancePath != "/etc/beacon/guidance.md" {
		t.Fatalf("guidancePath = %q", cp.Guidance.GuidancePath)
	}
	if got := cp.Guidance.SystemState["systemPrompt"]; got != "answer in haiku" {
		t.Fatalf("systemPrompt = %v", got)
	}

	restored, err := Restore(cp, Config{Adapter: &EchoAdapter{}})
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	again := restored.Checkpoint()
	if again.Guidance.GuidancePath != cp.Guidance.GuidancePath {
		t.Fatalf("restored guidancePath = %q", again.Guidance.GuidancePath)
	}
	if got := again.Guidance.SystemState["systemPrompt"]; got != "answer in haiku" {
		t.Fatalf("restored systemPrompt = %v", got)
	}
}

func TestRestoreRejectsAdapterMismatch(t *testing.T) {
	s, _ := New(Config{Adapter: &EchoAdapter{}})
	cp := s.Checkpoint()

	_, err := Restore(cp, Config{Adapter: NewScriptedAdapter("other")})
	if !errors.Is(err, protocol.Errorf(protocol.CodeAdapterMismatch, "")) {
		t.Fatalf("error = %v, want AGENT_ADAPTER_MISMATCH", err)
	}
}

func TestRestoreCarriesMetricsForward(t *testing.T) {
	s, _ := New(Config{Adapter: &EchoAdapter{}, InitialInput: "one"})
	s.Run(context.Background())

	cp := s.Checkpoint()
	restored, err := Restore(cp, Config{Adapter: &EchoAdapter{}})
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	m := restored.Metrics()
	if m.Turns != 1 {
		t.Fatalf("turns = %d", m.Turns)
	}
	if restored.State() != models.SessionIdle {
		t.Fatalf("restored state = %s", restored.State())
	}
}
