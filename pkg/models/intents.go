package models

// IntentType tags an outbound intent.
type IntentType string

const (
	IntentThinking     IntentType = "agent_thinking"
	IntentStreaming    IntentType = "agent_streaming"
	IntentResponding   IntentType = "agent_responding"
	IntentToolCall     IntentType = "agent_tool_call"
	IntentToolProgress IntentType = "agent_tool_progress"
	IntentError        IntentType = "agent_error"
)

// Informational reports whether duplicated processing of the intent is
// harmless. agent_responding and agent_error send user-visible messages and
// are deliberately not idempotent.
func (t IntentType) Informational() bool {
	switch t {
	case IntentThinking, IntentStreaming, IntentToolCall, IntentToolProgress:
		return true
	}
	return false
}

// OutboundIntent is a semantic directive from the agent to a channel.
// Timestamp is Unix milliseconds.
type OutboundIntent struct {
	Type        IntentType  `json:"type"`
	Destination Destination `json:"destination"`
	Timestamp   int64       `json:"timestamp"`

	Partial     string           `json:"partial,omitempty"`
	Content     *OutboundContent `json:"content,omitempty"`
	ToolName    string           `json:"toolName,omitempty"`
	ToolCallID  string           `json:"toolCallId,omitempty"`
	ToolInput   map[string]any   `json:"toolInput,omitempty"`
	Progress    string           `json:"progress,omitempty"`
	Error       string           `json:"error,omitempty"`
	Recoverable bool             `json:"recoverable,omitempty"`
}

// IntentConfirmation acknowledges that a channel processed an intent.
type IntentConfirmation struct {
	IntentType IntentType `json:"intentType"`
	Success    bool       `json:"success"`
	Error      string     `json:"error,omitempty"`
	Timestamp  int64      `json:"timestamp"`
}
