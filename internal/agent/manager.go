package agent

import (
	"log/slog"
	"sync"
	"time"

	"github.com/loopwork/beacon/internal/protocol"
	"github.com/loopwork/beacon/pkg/models"
)

// checkpointRetention bounds the in-memory checkpoint ring per session.
const checkpointRetention = 16

// CreateParams describes a new session request.
type CreateParams struct {
	AdapterName   string
	AdapterConfig map[string]any
	Tags          []string
	Metadata      map[string]any
	Task          string
	SystemPrompt  string
	GuidancePath  string
	InitialInput  string
}

// ResumeHook contributes extra context messages when a session is
// continued from a checkpoint. The messages are appended to the
// checkpoint history before the restored session starts.
type ResumeHook func(cp models.Checkpoint) []models.CheckpointMessage

// Manager owns the live sessions, the adapter factories, the shared tool
// set, and the per-session checkpoint rings.
type Manager struct {
	factories *Factories
	logger    *slog.Logger
	now       func() time.Time

	resumeHook ResumeHook

	mu          sync.Mutex
	tools       map[string]ToolFunc
	sessions    map[models.SessionID]*Session
	checkpoints map[models.SessionID][]models.Checkpoint
}

// ManagerOption customises manager construction.
type ManagerOption func(*Manager)

// WithNow overrides the clock.
func WithNow(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// WithResumeHook installs the hook Continue consults for resume context.
func WithResumeHook(hook ResumeHook) ManagerOption {
	return func(m *Manager) { m.resumeHook = hook }
}

// NewManager creates a manager.
func NewManager(factories *Factories, logger *slog.Logger, opts ...ManagerOption) *Manager {
	if factories == nil {
		factories = NewFactories()
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		factories:   factories,
		logger:      logger.With("component", "agent"),
		now:         time.Now,
		tools:       make(map[string]ToolFunc),
		sessions:    make(map[models.SessionID]*Session),
		checkpoints: make(map[models.SessionID][]models.Checkpoint),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RegisterTool adds a tool available to every session.
func (m *Manager) RegisterTool(name string, fn ToolFunc) {
	m.mu.Lock()
	m.tools[name] = fn
	m.mu.Unlock()
}

func (m *Manager) toolSet() map[string]ToolFunc {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]ToolFunc, len(m.tools))
	for k, v := range m.tools {
		out[k] = v
	}
	return out
}

// Spawn creates and registers a new session.
func (m *Manager) Spawn(params CreateParams) (*Session, error) {
	adapter, err := m.factories.New(params.AdapterName, params.AdapterConfig)
	if err != nil {
		return nil, err
	}

	s, err := New(Config{
		Adapter:       adapter,
		Tools:         m.toolSet(),
		Tags:          params.Tags,
		Metadata:      params.Metadata,
		Task:          params.Task,
		SystemPrompt:  params.SystemPrompt,
		GuidancePath:  params.GuidancePath,
		InitialInput:  params.InitialInput,
		AdapterConfig: params.AdapterConfig,
		Logger:        m.logger,
		Now:           m.now,
	})
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()
	m.logger.Info("session spawned", "session_id", s.ID(), "adapter", params.AdapterName)
	return s, nil
}

// Get returns a live session by id.
func (m *Manager) Get(id models.SessionID) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, protocol.Errorf(protocol.CodeAgentNotFound, "session %s not found", id)
	}
	return s, nil
}

// List returns every live session.
func (m *Manager) List() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// Terminate aborts a session, captures a final checkpoint, and removes
// it from the live set.
func (m *Manager) Terminate(id models.SessionID) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	m.saveCheckpoint(s.Checkpoint())
	s.Terminate()

	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	m.logger.Info("session terminated", "session_id", id)
	return nil
}

// SaveCheckpoint captures a checkpoint for a live session and stores it
// in the session's ring.
func (m *Manager) SaveCheckpoint(id models.SessionID) (models.Checkpoint, error) {
	s, err := m.Get(id)
	if err != nil {
		return models.Checkpoint{}, err
	}
	cp := s.Checkpoint()
	m.saveCheckpoint(cp)
	return cp, nil
}

func (m *Manager) saveCheckpoint(cp models.Checkpoint) {
	id := cp.Session.ID
	m.mu.Lock()
	ring := append(m.checkpoints[id], cp)
	if len(ring) > checkpointRetention {
		ring = ring[len(ring)-checkpointRetention:]
	}
	m.checkpoints[id] = ring
	m.mu.Unlock()
}

// Checkpoints lists the retained checkpoints for a session, oldest
// first.
func (m *Manager) Checkpoints(id models.SessionID) []models.Checkpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	ring := m.checkpoints[id]
	out := make([]models.Checkpoint, len(ring))
	copy(out, ring)
	return out
}

// Continue restores the most recent checkpoint for sessionId, applies
// the model override to the adapter configuration, appends any resume
// hook messages to the history, enqueues the input, and returns the
// restored session, which keeps the original id.
func (m *Manager) Continue(id models.SessionID, input string, modelOverride string) (*Session, error) {
	m.mu.Lock()
	live, hasLive := m.sessions[id]
	ring := m.checkpoints[id]
	m.mu.Unlock()

	var cp models.Checkpoint
	switch {
	case len(ring) > 0:
		cp = ring[len(ring)-1]
	case hasLive:
		cp = live.Checkpoint()
	default:
		return nil, protocol.Errorf(protocol.CodeAgentNotFound, "no checkpoint for session %s", id)
	}

	if hasLive {
		live.Terminate()
		m.mu.Lock()
		delete(m.sessions, id)
		m.mu.Unlock()
	}

	adapterConfig := make(map[string]any, len(cp.AdapterConfig)+1)
	for k, v := range cp.AdapterConfig {
		adapterConfig[k] = v
	}
	if modelOverride != "" {
		adapterConfig["model"] = modelOverride
	}

	adapter, err := m.factories.New(cp.AdapterName, adapterConfig)
	if err != nil {
		return nil, err
	}

	if m.resumeHook != nil {
		if extra := m.resumeHook(cp); len(extra) > 0 {
			messages := make([]models.CheckpointMessage, 0, len(cp.Messages)+len(extra))
			messages = append(messages, cp.Messages...)
			cp.Messages = append(messages, extra...)
		}
	}

	s, err := Restore(cp, Config{
		Adapter:       adapter,
		Tools:         m.toolSet(),
		AdapterConfig: adapterConfig,
		Logger:        m.logger,
		Now:           m.now,
	})
	if err != nil {
		return nil, err
	}
	if input != "" {
		if err := s.Send(input); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()
	m.logger.Info("session continued", "session_id", s.ID())
	return s, nil
}
