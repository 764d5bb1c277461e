// Package cron runs named scheduled jobs against a caller-supplied
// runner. Expressions use the standard five-field syntax plus
// descriptors like @hourly.
package cron

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/loopwork/beacon/internal/protocol"
)

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Job describes one scheduled unit of work. Metadata is passed through
// to the runner untouched.
type Job struct {
	Name     string
	Schedule string
	Disabled bool
	Metadata map[string]any
}

// JobStatus is the introspection view of a job. NextRun is nil when the
// job is disabled or its schedule yields no further runs.
type JobStatus struct {
	Name     string     `json:"name"`
	Schedule string     `json:"schedule"`
	NextRun  *time.Time `json:"nextRun"`
}

// Runner executes a job. Errors are recorded and logged, never fatal to
// the scheduler.
type Runner func(ctx context.Context, job Job) error

type jobState struct {
	job      Job
	schedule cron.Schedule
	nextRun  time.Time
	lastErr  string
}

// Scheduler owns the jobs and the tick loop.
type Scheduler struct {
	logger       *slog.Logger
	runner       Runner
	now          func() time.Time
	tickInterval time.Duration

	mu      sync.Mutex
	jobs    map[string]*jobState
	started bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

// Option configures the scheduler.
type Option func(*Scheduler)

// WithNow overrides the clock for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTickInterval overrides the tick interval.
func WithTickInterval(interval time.Duration) Option {
	return func(s *Scheduler) {
		if interval > 0 {
			s.tickInterval = interval
		}
	}
}

// NewScheduler creates a scheduler that hands due jobs to runner.
func NewScheduler(runner Runner, logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		logger:       logger.With("component", "cron"),
		runner:       runner,
		now:          time.Now,
		tickInterval: time.Second,
		jobs:         make(map[string]*jobState),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add registers a job. A duplicate name or unparsable expression is
// CONFIG_INVALID.
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" {
		return protocol.Errorf(protocol.CodeConfigInvalid, "cron job requires a name")
	}
	schedule, err := cronParser.Parse(job.Schedule)
	if err != nil {
		return protocol.Errorf(protocol.CodeConfigInvalid, "invalid cron expression %q: %v", job.Schedule, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.jobs[job.Name]; dup {
		return protocol.Errorf(protocol.CodeConfigInvalid, "duplicate cron job %q", job.Name)
	}
	state := &jobState{job: job, schedule: schedule}
	if !job.Disabled {
		state.nextRun = schedule.Next(s.now())
	}
	s.jobs[job.Name] = state
	return nil
}

// Remove deletes a job by name. Unknown names are a no-op.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	delete(s.jobs, name)
	s.mu.Unlock()
}

// List returns every job's status, sorted by name.
func (s *Scheduler) List() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobStatus, 0, len(s.jobs))
	for _, state := range s.jobs {
		status := JobStatus{Name: state.job.Name, Schedule: state.job.Schedule}
		if !state.job.Disabled && !state.nextRun.IsZero() {
			next := state.nextRun
			status.NextRun = &next
		}
		out = append(out, status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Trigger runs a job immediately, outside its cadence. The scheduled
// next run is recomputed from now.
func (s *Scheduler) Trigger(ctx context.Context, name string) error {
	s.mu.Lock()
	state, ok := s.jobs[name]
	if !ok {
		s.mu.Unlock()
		return protocol.Errorf(protocol.CodeInvalidParams, "unknown cron job %q", name)
	}
	job := state.job
	s.mu.Unlock()

	err := s.execute(ctx, state, job)
	s.reschedule(state)
	return err
}

// Start begins the tick loop; it runs until Stop is called or ctx is
// cancelled. Idempotent.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.stop = make(chan struct{})
	stop := s.stop
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				s.RunDue(ctx)
			}
		}
	}()
}

// Stop halts the tick loop and waits for it, along with any in-flight
// job, to finish or ctx to expire. The Start context alone no longer
// gates the loop's exit.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.started && s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunDue executes every job whose next run is at or before now and
// returns how many ran. Exposed for tests and manual ticks.
func (s *Scheduler) RunDue(ctx context.Context) int {
	now := s.now()

	s.mu.Lock()
	var due []*jobState
	for _, state := range s.jobs {
		if state.job.Disabled || state.nextRun.IsZero() {
			continue
		}
		if !state.nextRun.After(now) {
			due = append(due, state)
		}
	}
	s.mu.Unlock()

	for _, state := range due {
		s.execute(ctx, state, state.job)
		s.reschedule(state)
	}
	return len(due)
}

func (s *Scheduler) execute(ctx context.Context, state *jobState, job Job) error {
	var err error
	if s.runner != nil {
		err = s.runner(ctx, job)
	}

	s.mu.Lock()
	if err != nil {
		state.lastErr = err.Error()
	} else {
		state.lastErr = ""
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("cron job failed", "job", job.Name, "error", err)
	} else {
		s.logger.Debug("cron job ran", "job", job.Name)
	}
	return err
}

func (s *Scheduler) reschedule(state *jobState) {
	s.mu.Lock()
	if state.job.Disabled {
		state.nextRun = time.Time{}
	} else {
		state.nextRun = state.schedule.Next(s.now())
	}
	s.mu.Unlock()
}
