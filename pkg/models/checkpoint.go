package models

// SessionMetrics aggregates a session's lifetime counters.
type SessionMetrics struct {
	DurationMs int64 `json:"durationMs"`
	Turns      int   `json:"turns"`
	ToolCalls  int   `json:"toolCalls"`
}

// CheckpointMessage is one entry of the serialised message history.
type CheckpointMessage struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// CheckpointSession describes the session identity inside a checkpoint.
type CheckpointSession struct {
	ID        SessionID      `json:"id"`
	CreatedAt int64          `json:"createdAt"`
	Tags      []string       `json:"tags,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Task      string         `json:"task,omitempty"`
	Metrics   SessionMetrics `json:"metrics"`
}

// CheckpointGuidance captures the guidance state a restored session needs.
type CheckpointGuidance struct {
	GuidancePath string         `json:"guidancePath,omitempty"`
	MemoryWrites []string       `json:"memoryWrites,omitempty"`
	SystemState  map[string]any `json:"systemState,omitempty"`
}

// CompletedStep records a memoised durable step result.
type CompletedStep struct {
	StepID      string `json:"stepId"`
	Result      any    `json:"result,omitempty"`
	CompletedAt int64  `json:"completedAt"`
}

// SuspensionRecord captures where a tool execution is waiting.
type SuspensionRecord struct {
	StepID  string         `json:"stepId"`
	Kind    string         `json:"kind"`
	Request map[string]any `json:"request,omitempty"`
}

// ToolExecution records the durable state of one tool call, sufficient to
// resume it deterministically: every completed step plus the suspension
// point, if any.
type ToolExecution struct {
	ToolCallID     string            `json:"toolCallId"`
	ToolName       string            `json:"toolName"`
	Input          map[string]any    `json:"input,omitempty"`
	CompletedSteps []CompletedStep   `json:"completedSteps,omitempty"`
	Suspension     *SuspensionRecord `json:"suspension,omitempty"`
}

// Checkpoint is a serialisable snapshot of a session sufficient to resume
// it. Timestamp is Unix milliseconds.
type Checkpoint struct {
	Timestamp      int64               `json:"timestamp"`
	AdapterName    string              `json:"adapterName"`
	Session        CheckpointSession   `json:"session"`
	Guidance       CheckpointGuidance  `json:"guidance"`
	Messages       []CheckpointMessage `json:"messages"`
	AdapterConfig  map[string]any      `json:"adapterConfig,omitempty"`
	PendingInputs  []string            `json:"pendingInputs,omitempty"`
	ToolExecutions []ToolExecution     `json:"toolExecutions,omitempty"`
}
