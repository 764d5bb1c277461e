// Package steps implements the durable step context tools run inside.
// Steps are memoised by id; blocking operations suspend the tool by
// unwinding with a sentinel error, and a later resume replays the tool
// from the top with every prior step short-circuiting to its recorded
// result.
package steps

import (
	"errors"
	"fmt"
	"time"

	"github.com/loopwork/beacon/internal/protocol"
	"github.com/loopwork/beacon/pkg/models"
)

// Kind names a suspension flavour. The ordinal in an auto-generated step
// id counts prior suspensions of the same kind in one execution, which
// keeps replay deterministic.
type Kind string

const (
	KindUserInput Kind = "user_input"
	KindApproval  Kind = "approval"
	KindEvent     Kind = "event"
	KindSleep     Kind = "sleep"
)

// Suspension is the sentinel that unwinds a tool's call stack when it
// blocks on an external condition. It must never escape the session's
// tool runner; callers detect it with errors.As and anything else is a
// plain tool failure.
type Suspension struct {
	StepID  string
	Kind    Kind
	Request map[string]any
}

func (s *Suspension) Error() string {
	return fmt.Sprintf("suspended at %s", s.StepID)
}

// Record converts the suspension to its checkpoint form.
func (s *Suspension) Record() *models.SuspensionRecord {
	return &models.SuspensionRecord{StepID: s.StepID, Kind: string(s.Kind), Request: s.Request}
}

// ResumeData carries the caller-supplied result for the step the tool
// suspended at.
type ResumeData struct {
	StepID string
	Result any
}

// Context is the durable execution context handed to a tool invocation.
// It is rebuilt fresh for every (re-)invocation; only the completed-step
// records and the resume data survive across suspensions.
type Context struct {
	completed map[string]models.CompletedStep
	order     []string

	resume         *ResumeData
	resumeConsumed bool

	ranThisExec map[string]bool
	ordinals    map[Kind]int
	now         func() time.Time
}

// NewContext builds a context seeded with previously completed steps and
// optional resume data. A nil now falls back to time.Now.
func NewContext(completed []models.CompletedStep, resume *ResumeData, now func() time.Time) *Context {
	if now == nil {
		now = time.Now
	}
	c := &Context{
		completed:   make(map[string]models.CompletedStep, len(completed)),
		resume:      resume,
		ranThisExec: make(map[string]bool),
		ordinals:    make(map[Kind]int),
		now:         now,
	}
	for _, step := range completed {
		if _, dup := c.completed[step.StepID]; !dup {
			c.order = append(c.order, step.StepID)
		}
		c.completed[step.StepID] = step
	}
	return c
}

// Run executes fn under the memoisation contract: a completed step id
// returns its recorded result without calling fn; the resume step id
// returns the supplied resume result and records it; anything else runs
// fn and records the outcome. Calling Run twice with one step id in a
// single execution is DUPLICATE_STEP.
func (c *Context) Run(stepID string, fn func() (any, error)) (any, error) {
	result, done, err := c.enter(stepID)
	if err != nil || done {
		return result, err
	}

	result, err = fn()
	if err != nil {
		return nil, err
	}
	c.record(stepID, result)
	return result, nil
}

// enter applies the shared memoisation preamble. done means the step
// already has a result and fn must not run.
func (c *Context) enter(stepID string) (result any, done bool, err error) {
	if c.ranThisExec[stepID] {
		return nil, false, protocol.Errorf(protocol.CodeDuplicateStep,
			"step %q executed twice in one tool invocation", stepID)
	}
	c.ranThisExec[stepID] = true

	if step, ok := c.completed[stepID]; ok {
		return step.Result, true, nil
	}
	if c.resume != nil && !c.resumeConsumed && c.resume.StepID == stepID {
		c.resumeConsumed = true
		c.record(stepID, c.resume.Result)
		return c.resume.Result, true, nil
	}
	return nil, false, nil
}

func (c *Context) record(stepID string, result any) {
	c.completed[stepID] = models.CompletedStep{
		StepID:      stepID,
		Result:      result,
		CompletedAt: c.now().UnixMilli(),
	}
	c.order = append(c.order, stepID)
}

// suspend resolves the auto step id for a wait of the given kind, then
// either short-circuits to a recorded result or unwinds with the
// suspension sentinel.
func (c *Context) suspend(kind Kind, request map[string]any) (any, error) {
	ordinal := c.ordinals[kind]
	c.ordinals[kind]++
	stepID := fmt.Sprintf("__suspension:%s:%d", kind, ordinal)

	result, done, err := c.enter(stepID)
	if err != nil || done {
		return result, err
	}
	return nil, &Suspension{StepID: stepID, Kind: kind, Request: request}
}

// WaitForUserInput suspends until the caller supplies a user message.
func (c *Context) WaitForUserInput(request map[string]any) (any, error) {
	return c.suspend(KindUserInput, request)
}

// WaitForApproval suspends until the caller approves or rejects.
func (c *Context) WaitForApproval(request map[string]any) (any, error) {
	return c.suspend(KindApproval, request)
}

// WaitForEvent suspends until the named external event is delivered.
func (c *Context) WaitForEvent(name string, opts map[string]any) (any, error) {
	request := map[string]any{"event": name}
	for k, v := range opts {
		request[k] = v
	}
	return c.suspend(KindEvent, request)
}

// Sleep suspends for at least the given duration. The wake-up is driven
// by the caller resuming with the sleep step id, not by a host timer.
func (c *Context) Sleep(d time.Duration) error {
	_, err := c.suspend(KindSleep, map[string]any{"ms": d.Milliseconds()})
	return err
}

// CompletedSteps returns the memoised steps in completion order, for
// checkpointing.
func (c *Context) CompletedSteps() []models.CompletedStep {
	out := make([]models.CompletedStep, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.completed[id])
	}
	return out
}

// IsSuspension reports whether err is the suspension sentinel and
// returns it when so.
func IsSuspension(err error) (*Suspension, bool) {
	var s *Suspension
	if errors.As(err, &s) {
		return s, true
	}
	return nil, false
}
