package agent

import (
	"github.com/loopwork/beacon/internal/protocol"
	"github.com/loopwork/beacon/pkg/models"
)

// Checkpoint snapshots the session. Safe to call at any time; the
// snapshot reflects state at the moment of capture, modulo in-flight
// work.
func (s *Session) Checkpoint() models.Checkpoint {
	s.mu.Lock()
	messages := make([]models.CheckpointMessage, len(s.messages))
	copy(messages, s.messages)
	pendingInputs := make([]string, len(s.inputs))
	copy(pendingInputs, s.inputs)
	tags := make([]string, len(s.cfg.Tags))
	copy(tags, s.cfg.Tags)
	metadata := make(map[string]any, len(s.cfg.Metadata))
	for k, v := range s.cfg.Metadata {
		metadata[k] = v
	}
	session := models.CheckpointSession{
		ID:        s.id,
		CreatedAt: s.createdAt.UnixMilli(),
		Tags:      tags,
		Metadata:  metadata,
		Task:      s.cfg.Task,
		Metrics:   s.metricsLocked(),
	}
	adapterConfig := s.cfg.AdapterConfig
	guidance := models.CheckpointGuidance{GuidancePath: s.cfg.GuidancePath}
	if s.cfg.SystemPrompt != "" {
		guidance.SystemState = map[string]any{"systemPrompt": s.cfg.SystemPrompt}
	}
	s.mu.Unlock()

	return models.Checkpoint{
		Timestamp:      s.now().UnixMilli(),
		AdapterName:    s.adapter.Name(),
		Session:        session,
		Guidance:       guidance,
		Messages:       messages,
		AdapterConfig:  adapterConfig,
		PendingInputs:  pendingInputs,
		ToolExecutions: s.tracker.Snapshot(),
	}
}

// Restore reconstructs a session from a checkpoint: message history,
// metrics, guidance state, tool-execution resume state, and any input
// pending at capture. The restored session keeps the checkpointed id. A
// mismatched adapter name is a hard error.
func Restore(cp models.Checkpoint, cfg Config) (*Session, error) {
	if cfg.Adapter == nil {
		return nil, protocol.Errorf(protocol.CodeConfigInvalid, "restore requires an adapter")
	}
	if cp.AdapterName != cfg.Adapter.Name() {
		return nil, protocol.Errorf(protocol.CodeAdapterMismatch,
			"checkpoint was captured with adapter %q, cannot restore with %q",
			cp.AdapterName, cfg.Adapter.Name())
	}

	if cfg.Task == "" {
		cfg.Task = cp.Session.Task
	}
	if cfg.Tags == nil {
		cfg.Tags = cp.Session.Tags
	}
	if cfg.Metadata == nil {
		cfg.Metadata = cp.Session.Metadata
	}
	if cfg.AdapterConfig == nil {
		cfg.AdapterConfig = cp.AdapterConfig
	}
	if cfg.GuidancePath == "" {
		cfg.GuidancePath = cp.Guidance.GuidancePath
	}
	if cfg.SystemPrompt == "" {
		if prompt, ok := cp.Guidance.SystemState["systemPrompt"].(string); ok {
			cfg.SystemPrompt = prompt
		}
	}

	s, err := New(cfg)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.id = models.SessionID(cp.Session.ID)
	s.messages = make([]models.CheckpointMessage, len(cp.Messages))
	copy(s.messages, cp.Messages)
	s.inputs = append(s.inputs, cp.PendingInputs...)
	s.turns = cp.Session.Metrics.Turns
	s.toolCalls = cp.Session.Metrics.ToolCalls
	for _, exec := range cp.ToolExecutions {
		if exec.Suspension != nil {
			rec := *exec.Suspension
			s.pending[exec.ToolCallID] = &rec
		}
	}
	s.mu.Unlock()

	s.logger = s.cfg.Logger.With("component", "agent", "session_id", s.id, "restored", true)
	s.tracker.Load(cp.ToolExecutions)
	return s, nil
}
