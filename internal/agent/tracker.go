package agent

import (
	"sync"
	"time"

	"github.com/loopwork/beacon/internal/agent/steps"
	"github.com/loopwork/beacon/pkg/models"
)

// ToolFunc is a durable tool implementation. It must block only through
// the step context; a returned *steps.Suspension (via the context's wait
// operations) parks the execution until resume.
type ToolFunc func(sc *steps.Context, input map[string]any) (any, error)

// execution is the tracked state of one tool call.
type execution struct {
	toolCallID string
	toolName   string
	input      map[string]any
	completed  []models.CompletedStep
	suspension *models.SuspensionRecord
}

// Tracker owns the durable state of every tool call in a session, keyed
// by toolCallId. It survives suspensions and is what checkpoints persist.
type Tracker struct {
	mu         sync.Mutex
	executions map[string]*execution
	now        func() time.Time
}

// NewTracker creates an empty tracker.
func NewTracker(now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{executions: make(map[string]*execution), now: now}
}

// InvokeResult is the outcome of one tool invocation attempt.
type InvokeResult struct {
	Result     any
	Suspension *steps.Suspension
	Err        error
}

// Invoke runs (or re-runs) a tool call under its durable step context.
// A suspension is captured, not returned as an error; any other error is
// a plain tool failure. resume is nil on first invocation.
func (t *Tracker) Invoke(toolCallID, toolName string, input map[string]any, fn ToolFunc, resume *steps.ResumeData) InvokeResult {
	t.mu.Lock()
	exec, ok := t.executions[toolCallID]
	if !ok {
		exec = &execution{toolCallID: toolCallID, toolName: toolName, input: input}
		t.executions[toolCallID] = exec
	}
	completed := make([]models.CompletedStep, len(exec.completed))
	copy(completed, exec.completed)
	t.mu.Unlock()

	sc := steps.NewContext(completed, resume, t.now)
	result, err := fn(sc, input)

	t.mu.Lock()
	exec.completed = sc.CompletedSteps()
	if s, suspended := steps.IsSuspension(err); suspended {
		exec.suspension = s.Record()
		t.mu.Unlock()
		return InvokeResult{Suspension: s}
	}
	exec.suspension = nil
	t.mu.Unlock()

	if err != nil {
		return InvokeResult{Err: err}
	}
	return InvokeResult{Result: result}
}

// Suspended returns the suspension record for a tool call, if any.
func (t *Tracker) Suspended(toolCallID string) (*models.SuspensionRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	exec, ok := t.executions[toolCallID]
	if !ok || exec.suspension == nil {
		return nil, false
	}
	rec := *exec.suspension
	return &rec, true
}

// Lookup returns the tool name and input of a tracked call.
func (t *Tracker) Lookup(toolCallID string) (toolName string, input map[string]any, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	exec, found := t.executions[toolCallID]
	if !found {
		return "", nil, false
	}
	return exec.toolName, exec.input, true
}

// Snapshot exports every tracked execution for checkpointing.
func (t *Tracker) Snapshot() []models.ToolExecution {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]models.ToolExecution, 0, len(t.executions))
	for _, exec := range t.executions {
		entry := models.ToolExecution{
			ToolCallID: exec.toolCallID,
			ToolName:   exec.toolName,
			Input:      exec.input,
		}
		entry.CompletedSteps = make([]models.CompletedStep, len(exec.completed))
		copy(entry.CompletedSteps, exec.completed)
		if exec.suspension != nil {
			rec := *exec.suspension
			entry.Suspension = &rec
		}
		out = append(out, entry)
	}
	return out
}

// Load seeds the tracker from checkpointed executions, replacing any
// current state.
func (t *Tracker) Load(executions []models.ToolExecution) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.executions = make(map[string]*execution, len(executions))
	for _, e := range executions {
		exec := &execution{
			toolCallID: e.ToolCallID,
			toolName:   e.ToolName,
			input:      e.Input,
		}
		exec.completed = make([]models.CompletedStep, len(e.CompletedSteps))
		copy(exec.completed, e.CompletedSteps)
		if e.Suspension != nil {
			rec := *e.Suspension
			exec.suspension = &rec
		}
		t.executions[e.ToolCallID] = exec
	}
}
