// Package agent implements the session lifecycle: a run-loop per session
// with an input queue, a canonical event stream, pause/resume/abort
// controls, durable tool execution, and checkpoint capture/restore.
package agent

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loopwork/beacon/internal/agent/steps"
	"github.com/loopwork/beacon/internal/bus"
	"github.com/loopwork/beacon/internal/protocol"
	"github.com/loopwork/beacon/pkg/models"
)

// EventType tags a session event.
type EventType string

const (
	EventThought   EventType = "thought"
	EventOutput    EventType = "output"
	EventToolStart EventType = "tool_start"
	EventToolEnd   EventType = "tool_end"
	EventStatus    EventType = "status"
	EventError     EventType = "error"
	EventDone      EventType = "done"
)

// Event is one entry of a session's canonical event stream.
type Event struct {
	Type      EventType        `json:"type"`
	SessionID models.SessionID `json:"sessionId"`
	Timestamp int64            `json:"timestamp"`

	// Text carries thought and output text.
	Text string `json:"text,omitempty"`
	// Final marks the last output of a turn.
	Final bool `json:"final,omitempty"`

	ToolCallID string `json:"toolCallId,omitempty"`
	ToolName   string `json:"toolName,omitempty"`
	ToolResult any    `json:"toolResult,omitempty"`
	// ToolError is a tool-layer failure; it never terminates the session.
	ToolError string `json:"toolError,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
	// PendingRequest is set on tool_end when the tool suspended.
	PendingRequest *models.SuspensionRecord `json:"pendingRequest,omitempty"`

	Status models.SessionState `json:"status,omitempty"`

	// Error and Fatal carry adapter-layer failures.
	Error string `json:"error,omitempty"`
	Fatal bool   `json:"fatal,omitempty"`

	// Result and Metrics accompany done.
	Result  string                 `json:"result,omitempty"`
	Metrics *models.SessionMetrics `json:"metrics,omitempty"`
}

// Config describes a session at creation time.
type Config struct {
	Adapter       Adapter
	Tools         map[string]ToolFunc
	Tags          []string
	Metadata      map[string]any
	Task          string
	SystemPrompt  string
	GuidancePath  string
	InitialInput  string
	AdapterConfig map[string]any
	Logger        *slog.Logger
	Now           func() time.Time
}

// Session is one live agent run.
type Session struct {
	id        models.SessionID
	adapter   Adapter
	cfg       Config
	createdAt time.Time
	logger    *slog.Logger
	now       func() time.Time

	events  *bus.Emitter[Event]
	tracker *Tracker

	mu          sync.Mutex
	state       models.SessionState
	inputs      []string
	inputSignal chan struct{}
	paused      bool
	resumeCh    chan struct{}
	aborted     bool
	abortCh     chan struct{}
	messages    []models.CheckpointMessage
	turns       int
	toolCalls   int
	pending     map[string]*models.SuspensionRecord
}

// New creates a session in the idle state. The initial input, when
// present, is queued but not processed until Run.
func New(cfg Config) (*Session, error) {
	if cfg.Adapter == nil {
		return nil, protocol.Errorf(protocol.CodeConfigInvalid, "session requires an adapter")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	s := &Session{
		id:          models.SessionID(uuid.NewString()),
		adapter:     cfg.Adapter,
		cfg:         cfg,
		now:         cfg.Now,
		createdAt:   cfg.Now(),
		state:       models.SessionIdle,
		inputSignal: make(chan struct{}, 1),
		abortCh:     make(chan struct{}),
		pending:     make(map[string]*models.SuspensionRecord),
		tracker:     NewTracker(cfg.Now),
	}
	s.logger = cfg.Logger.With("component", "agent", "session_id", s.id)
	s.events = bus.NewEmitter[Event](s.logger)

	if cfg.InitialInput != "" {
		s.inputs = append(s.inputs, cfg.InitialInput)
	}
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() models.SessionID { return s.id }

// AdapterName returns the adapter behind the session.
func (s *Session) AdapterName() string { return s.adapter.Name() }

// State returns the current lifecycle state.
func (s *Session) State() models.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Metrics returns the session's lifetime counters.
func (s *Session) Metrics() models.SessionMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metricsLocked()
}

func (s *Session) metricsLocked() models.SessionMetrics {
	return models.SessionMetrics{
		DurationMs: s.now().Sub(s.createdAt).Milliseconds(),
		Turns:      s.turns,
		ToolCalls:  s.toolCalls,
	}
}

// Subscribe registers a session event handler.
func (s *Session) Subscribe(fn func(Event)) func() {
	return s.events.On(fn)
}

// Events returns a stream of session events. Output consumers use Block
// so slow readers exert back-pressure on the run-loop.
func (s *Session) Events(capacity int, policy bus.OverflowPolicy) (<-chan Event, func()) {
	return s.events.Stream(capacity, policy)
}

// Send appends a message to the input queue. Legal while the session is
// idle, running, or paused.
func (s *Session) Send(message string) error {
	s.mu.Lock()
	if s.state.Terminal() {
		state := s.state
		s.mu.Unlock()
		return protocol.Errorf(protocol.CodeAgentState, "cannot send to session in state %s", state)
	}
	s.inputs = append(s.inputs, message)
	s.mu.Unlock()

	select {
	case s.inputSignal <- struct{}{}:
	default:
	}
	return nil
}

// Pause closes the gate; the run-loop honours it at the next turn
// boundary. Idempotent.
func (s *Session) Pause() {
	s.mu.Lock()
	if !s.paused {
		s.paused = true
		s.resumeCh = make(chan struct{})
	}
	s.mu.Unlock()
}

// Resume opens the gate. Idempotent.
func (s *Session) Resume() {
	s.mu.Lock()
	if s.paused {
		s.paused = false
		close(s.resumeCh)
		s.resumeCh = nil
	}
	s.mu.Unlock()
}

// Abort signals the run-loop to stop at its next yield. Idempotent.
func (s *Session) Abort() {
	s.mu.Lock()
	if !s.aborted {
		s.aborted = true
		close(s.abortCh)
	}
	s.mu.Unlock()
}

// Terminate aborts the session and completes its event stream.
func (s *Session) Terminate() {
	s.Abort()
	s.mu.Lock()
	s.state = models.SessionTerminated
	s.mu.Unlock()
	s.events.Complete()
}

// PendingRequests returns the outstanding suspension requests keyed by
// tool call id.
func (s *Session) PendingRequests() map[string]*models.SuspensionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*models.SuspensionRecord, len(s.pending))
	for k, v := range s.pending {
		rec := *v
		out[k] = &rec
	}
	return out
}

// Run processes queued inputs until the queue drains, emitting canonical
// events throughout. It returns when the session reaches a terminal
// state for this run.
func (s *Session) Run(ctx context.Context) error {
	s.setState(models.SessionRunning)
	s.emitStatus(models.SessionRunning)

	for {
		if s.isAborted() || ctx.Err() != nil {
			s.finish(models.SessionAborted, "")
			return nil
		}

		if gate := s.pauseGate(); gate != nil {
			s.setState(models.SessionPaused)
			s.emitStatus(models.SessionPaused)
			select {
			case <-gate:
			case <-s.abortCh:
				s.finish(models.SessionAborted, "")
				return nil
			case <-ctx.Done():
				s.finish(models.SessionAborted, "")
				return nil
			}
			s.setState(models.SessionRunning)
			s.emitStatus(models.SessionRunning)
		}

		input, ok := s.dequeue()
		if !ok {
			s.finish(models.SessionCompleted, "")
			return nil
		}

		if fatal := s.runTurn(ctx, input); fatal != nil {
			s.emit(Event{Type: EventError, Error: fatal.Error(), Fatal: true})
			s.finish(models.SessionFailed, fatal.Error())
			return nil
		}
	}
}

func (s *Session) runTurn(ctx context.Context, input string) error {
	s.appendMessage("user", input)

	turn := Turn{
		SessionID:    s.id,
		Input:        input,
		SystemPrompt: s.cfg.SystemPrompt,
		History:      s.history(),
		Config:       s.cfg.AdapterConfig,
	}
	ch, err := s.adapter.RunTurn(ctx, turn)
	if err != nil {
		return err
	}

	for ev := range ch {
		if s.isAborted() {
			return nil
		}
		switch ev.Type {
		case TurnThought:
			s.emit(Event{Type: EventThought, Text: ev.Text})
		case TurnOutput:
			s.emit(Event{Type: EventOutput, Text: ev.Text, Final: ev.Final})
			if ev.Final {
				s.mu.Lock()
				s.turns++
				s.mu.Unlock()
				s.appendMessage("assistant", ev.Text)
			}
		case TurnToolCall:
			s.runTool(ev)
		case TurnError:
			return ev.Err
		case TurnDone:
			return nil
		}
	}
	return nil
}

// runTool executes a requested tool under the durable step context. Tool
// failures become tool_end events with the error text; suspensions become
// pending requests tied to the tool call id.
func (s *Session) runTool(ev TurnEvent) {
	s.mu.Lock()
	s.toolCalls++
	s.mu.Unlock()
	s.emit(Event{Type: EventToolStart, ToolCallID: ev.ToolCallID, ToolName: ev.ToolName})

	fn, ok := s.cfg.Tools[ev.ToolName]
	if !ok {
		s.emit(Event{
			Type:       EventToolEnd,
			ToolCallID: ev.ToolCallID,
			ToolName:   ev.ToolName,
			ToolError:  "unknown tool: " + ev.ToolName,
		})
		return
	}

	res := s.tracker.Invoke(ev.ToolCallID, ev.ToolName, ev.ToolInput, fn, nil)
	s.finishTool(ev.ToolCallID, ev.ToolName, res)
}

// ResumeTool re-invokes a suspended tool with the caller-supplied step
// result. The tool replays from the top with prior steps memoised.
func (s *Session) ResumeTool(toolCallID, stepID string, result any) error {
	toolName, input, ok := s.tracker.Lookup(toolCallID)
	if !ok {
		return protocol.Errorf(protocol.CodeAgentState, "unknown tool call %s", toolCallID)
	}
	fn, ok := s.cfg.Tools[toolName]
	if !ok {
		return protocol.Errorf(protocol.CodeAgentState, "tool %s is no longer registered", toolName)
	}

	s.mu.Lock()
	delete(s.pending, toolCallID)
	s.mu.Unlock()

	res := s.tracker.Invoke(toolCallID, toolName, input, fn, &steps.ResumeData{StepID: stepID, Result: result})
	s.finishTool(toolCallID, toolName, res)
	return nil
}

func (s *Session) finishTool(toolCallID, toolName string, res InvokeResult) {
	switch {
	case res.Suspension != nil:
		rec := res.Suspension.Record()
		s.mu.Lock()
		s.pending[toolCallID] = rec
		s.mu.Unlock()
		s.emit(Event{
			Type:           EventToolEnd,
			ToolCallID:     toolCallID,
			ToolName:       toolName,
			PendingRequest: rec,
		})
	case res.Err != nil:
		s.emit(Event{
			Type:       EventToolEnd,
			ToolCallID: toolCallID,
			ToolName:   toolName,
			ToolError:  res.Err.Error(),
			Retryable:  true,
		})
	default:
		s.emit(Event{
			Type:       EventToolEnd,
			ToolCallID: toolCallID,
			ToolName:   toolName,
			ToolResult: res.Result,
		})
	}
}

func (s *Session) finish(state models.SessionState, errText string) {
	s.setState(state)
	if state != models.SessionCompleted {
		s.emitStatus(state)
	}
	s.mu.Lock()
	metrics := s.metricsLocked()
	s.mu.Unlock()
	done := Event{Type: EventDone, Result: string(state), Metrics: &metrics}
	if errText != "" {
		done.Error = errText
	}
	s.emit(done)
}

func (s *Session) dequeue() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.inputs) == 0 {
		return "", false
	}
	input := s.inputs[0]
	s.inputs = s.inputs[1:]
	return input, true
}

func (s *Session) pauseGate() chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused {
		return s.resumeCh
	}
	return nil
}

func (s *Session) isAborted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aborted
}

func (s *Session) setState(state models.SessionState) {
	s.mu.Lock()
	if !s.state.Terminal() {
		s.state = state
	}
	s.mu.Unlock()
}

func (s *Session) appendMessage(role, content string) {
	s.mu.Lock()
	s.messages = append(s.messages, models.CheckpointMessage{
		Role:      role,
		Content:   content,
		Timestamp: s.now().UnixMilli(),
	})
	s.mu.Unlock()
}

func (s *Session) history() []models.CheckpointMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.CheckpointMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *Session) emitStatus(state models.SessionState) {
	s.emit(Event{Type: EventStatus, Status: state})
}

func (s *Session) emit(ev Event) {
	ev.SessionID = s.id
	ev.Timestamp = s.now().UnixMilli()
	s.events.Emit(ev)
}
