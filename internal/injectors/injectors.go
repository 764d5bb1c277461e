// Package injectors implements the context injector pipeline: an ordered
// set of pluggable sources that contribute system-prompt fragments to new
// sessions and message-history fragments to resumed ones.
package injectors

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/loopwork/beacon/pkg/models"
)

// Context carries the ambient facts injectors draw on. Metadata is the
// session's metadata map; GuidancePath points at the workspace guidance
// file when one is configured.
type Context struct {
	Timezone     string
	Now          time.Time
	SessionID    models.SessionID
	GuidancePath string
	Metadata     map[string]any
}

// Injector contributes to new and resumed sessions. Either hook may
// return an empty contribution; an error skips the contribution without
// failing the pipeline.
type Injector interface {
	Name() string
	InjectSystemContext(ctx context.Context, in Context) (string, error)
	InjectResumeContext(ctx context.Context, in Context) ([]models.CheckpointMessage, error)
}

// Pipeline executes injectors in declared order.
type Pipeline struct {
	injectors []Injector
	logger    *slog.Logger
}

// NewPipeline creates a pipeline over the given injectors.
func NewPipeline(logger *slog.Logger, injectors ...Injector) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		injectors: injectors,
		logger:    logger.With("component", "injectors"),
	}
}

// Names lists the injectors in execution order.
func (p *Pipeline) Names() []string {
	out := make([]string, len(p.injectors))
	for i, inj := range p.injectors {
		out[i] = inj.Name()
	}
	return out
}

// SystemContext concatenates every injector's system contribution, in
// order, separated by blank lines. Empty contributions are dropped.
func (p *Pipeline) SystemContext(ctx context.Context, in Context) string {
	var parts []string
	for _, inj := range p.injectors {
		fragment, err := inj.InjectSystemContext(ctx, in)
		if err != nil {
			p.logger.Warn("system context injector failed", "injector", inj.Name(), "error", err)
			continue
		}
		if fragment = strings.TrimSpace(fragment); fragment != "" {
			parts = append(parts, fragment)
		}
	}
	return strings.Join(parts, "\n\n")
}

// ResumeContext appends every injector's resume messages, in order.
func (p *Pipeline) ResumeContext(ctx context.Context, in Context) []models.CheckpointMessage {
	var out []models.CheckpointMessage
	for _, inj := range p.injectors {
		messages, err := inj.InjectResumeContext(ctx, in)
		if err != nil {
			p.logger.Warn("resume context injector failed", "injector", inj.Name(), "error", err)
			continue
		}
		out = append(out, messages...)
	}
	return out
}
