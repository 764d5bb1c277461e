package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/loopwork/beacon/internal/protocol"
	"github.com/loopwork/beacon/pkg/models"
)

// TurnEventType tags an adapter turn event.
type TurnEventType string

const (
	TurnThought  TurnEventType = "thought"
	TurnOutput   TurnEventType = "output"
	TurnToolCall TurnEventType = "tool_call"
	TurnError    TurnEventType = "error"
	TurnDone     TurnEventType = "done"
)

// TurnEvent is one event produced by an adapter while processing a turn.
// The adapter is an opaque producer: the session translates these into
// its canonical event stream and runs requested tools itself.
type TurnEvent struct {
	Type TurnEventType

	// Text carries thought and output text.
	Text string
	// Final marks the last output event of the turn.
	Final bool

	ToolCallID string
	ToolName   string
	ToolInput  map[string]any

	// Err carries adapter-layer failures; these are fatal to the session.
	Err error
}

// Turn is the unit of work handed to an adapter: the new input plus the
// conversational state accumulated so far.
type Turn struct {
	SessionID    models.SessionID
	Input        string
	SystemPrompt string
	History      []models.CheckpointMessage
	Config       map[string]any
}

// Adapter produces the event stream for one turn. The returned channel is
// closed after the terminal event (done or error). Implementations must
// honour ctx cancellation.
type Adapter interface {
	Name() string
	RunTurn(ctx context.Context, turn Turn) (<-chan TurnEvent, error)
}

// Factory builds a fresh adapter instance from a configuration entry.
type Factory func(config map[string]any) (Adapter, error)

// Factories is a registry of adapter constructors keyed by name.
type Factories struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewFactories creates a registry preloaded with the built-in echo
// adapter.
func NewFactories() *Factories {
	f := &Factories{factories: make(map[string]Factory)}
	f.Register("echo", func(config map[string]any) (Adapter, error) {
		return &EchoAdapter{}, nil
	})
	return f
}

// Register adds or replaces a factory.
func (f *Factories) Register(name string, factory Factory) {
	f.mu.Lock()
	f.factories[name] = factory
	f.mu.Unlock()
}

// New builds an adapter instance by name.
func (f *Factories) New(name string, config map[string]any) (Adapter, error) {
	f.mu.RLock()
	factory, ok := f.factories[name]
	f.mu.RUnlock()
	if !ok {
		return nil, protocol.Errorf(protocol.CodeConfigInvalid, "unknown agent adapter %q", name)
	}
	return factory(config)
}

// Names lists the registered adapter names.
func (f *Factories) Names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.factories))
	for name := range f.factories {
		out = append(out, name)
	}
	return out
}

// EchoAdapter is the built-in development adapter: one thought, then the
// input echoed back as the final output.
type EchoAdapter struct{}

// Name implements Adapter.
func (a *EchoAdapter) Name() string { return "echo" }

// RunTurn implements Adapter.
func (a *EchoAdapter) RunTurn(ctx context.Context, turn Turn) (<-chan TurnEvent, error) {
	out := make(chan TurnEvent, 4)
	go func() {
		defer close(out)
		events := []TurnEvent{
			{Type: TurnThought, Text: fmt.Sprintf("echoing %d bytes", len(turn.Input))},
			{Type: TurnOutput, Text: turn.Input, Final: true},
			{Type: TurnDone},
		}
		for _, ev := range events {
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// ScriptedAdapter replays a fixed event script per turn, in order. Turns
// beyond the script echo like EchoAdapter. It backs tests and the mock
// wiring.
type ScriptedAdapter struct {
	AdapterName string

	mu     sync.Mutex
	script [][]TurnEvent
	turn   int
}

// NewScriptedAdapter builds a scripted adapter named name.
func NewScriptedAdapter(name string, script ...[]TurnEvent) *ScriptedAdapter {
	if name == "" {
		name = "scripted"
	}
	return &ScriptedAdapter{AdapterName: name, script: script}
}

// Name implements Adapter.
func (a *ScriptedAdapter) Name() string { return a.AdapterName }

// RunTurn implements Adapter.
func (a *ScriptedAdapter) RunTurn(ctx context.Context, turn Turn) (<-chan TurnEvent, error) {
	a.mu.Lock()
	var events []TurnEvent
	if a.turn < len(a.script) {
		events = a.script[a.turn]
	} else {
		events = []TurnEvent{
			{Type: TurnOutput, Text: turn.Input, Final: true},
			{Type: TurnDone},
		}
	}
	a.turn++
	a.mu.Unlock()

	out := make(chan TurnEvent, len(events))
	go func() {
		defer close(out)
		for _, ev := range events {
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
