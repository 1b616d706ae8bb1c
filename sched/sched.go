// Package sched runs named, cron-driven recurring jobs for rooms. It is
// the single owner of the job arena: callers schedule, enable, disable,
// and read status through intention-revealing operations and never touch
// the underlying collection.
package sched

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/turntide/turntide"
)

// Handler is a job's work function. It is invoked on the job's cron tick
// and must tolerate being cancelled via ctx. Errors are logged per run and
// never deregister the job.
type Handler func(ctx context.Context) error

// Job is a registration request. Name must be globally unique; the
// convention is <kind>-<roomID>.
type Job struct {
	Name    string
	Spec    string
	Handler Handler
	Enabled bool

	// RunAt, when set at or before now plus a small grace window, fires
	// the handler once immediately after registration, independent of the
	// recurring schedule. The immediate run may race the first natural
	// tick; that is accepted.
	RunAt time.Time
}

// Status is a read-only view of one scheduled job.
type Status struct {
	Name      string
	Spec      string
	Enabled   bool
	Runs      int64
	LastRunAt time.Time
	NextRunAt time.Time
	LastError string
}

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSpec parses a cron expression and returns the schedule.
func ParseSpec(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

type jobState struct {
	job      Job
	schedule cronlib.Schedule
	enabled  bool
	runs     int64
	lastRun  time.Time
	nextRun  time.Time
	lastErr  string
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithTickInterval sets how often the scheduler checks for due jobs.
func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.tickInterval = d }
}

// WithGrace sets the window within which a RunAt in the near future still
// triggers an immediate catch-up run.
func WithGrace(d time.Duration) Option {
	return func(s *Scheduler) { s.grace = d }
}

// Scheduler owns the job arena and drives due jobs on a tick loop.
type Scheduler struct {
	logger       *slog.Logger
	tickInterval time.Duration
	grace        time.Duration

	mu   sync.Mutex
	jobs map[string]*jobState

	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool
}

// New creates a Scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		logger:       slog.Default(),
		tickInterval: 1 * time.Second,
		grace:        5 * time.Second,
		jobs:         make(map[string]*jobState),
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the tick loop.
func (s *Scheduler) Start(_ context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.tickLoop()
	s.logger.Info("scheduler started",
		slog.Duration("tick_interval", s.tickInterval),
	)
	return nil
}

// Stop signals the tick loop to stop and waits for it. In-flight job runs
// are not preempted.
func (s *Scheduler) Stop(_ context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
	return nil
}

// Schedule validates and registers a job. An invalid cron expression
// rejects the registration with an error; a duplicate name is logged and
// ignored. When the job's RunAt falls at or before now plus the grace
// window, the handler additionally fires once immediately.
func (s *Scheduler) Schedule(job Job) error {
	schedule, err := ParseSpec(job.Spec)
	if err != nil {
		s.logger.Error("invalid job schedule",
			slog.String("job", job.Name),
			slog.String("spec", job.Spec),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%w: %q: %v", turntide.ErrInvalidSchedule, job.Spec, err)
	}

	now := time.Now().UTC()

	s.mu.Lock()
	if _, exists := s.jobs[job.Name]; exists {
		s.mu.Unlock()
		s.logger.Warn("duplicate job registration ignored",
			slog.String("job", job.Name),
		)
		return nil
	}
	st := &jobState{
		job:      job,
		schedule: schedule,
		enabled:  job.Enabled,
		nextRun:  schedule.Next(now),
	}
	s.jobs[job.Name] = st
	s.mu.Unlock()

	s.logger.Info("job scheduled",
		slog.String("job", job.Name),
		slog.String("spec", job.Spec),
		slog.Bool("enabled", job.Enabled),
	)

	if !job.RunAt.IsZero() && !job.RunAt.After(now.Add(s.grace)) && job.Enabled {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.run(st)
		}()
	}
	return nil
}

// Enable resumes recurring runs for the job. Reports whether it exists.
func (s *Scheduler) Enable(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.jobs[name]
	if !ok {
		return false
	}
	if !st.enabled {
		st.enabled = true
		st.nextRun = st.schedule.Next(time.Now().UTC())
	}
	return true
}

// Disable stops future recurring runs without deregistering the job. A run
// already in flight is not cancelled. Reports whether the job exists.
func (s *Scheduler) Disable(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.jobs[name]
	if !ok {
		return false
	}
	st.enabled = false
	return true
}

// Remove deregisters the job entirely. Reports whether it existed.
func (s *Scheduler) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[name]
	delete(s.jobs, name)
	return ok
}

// Status returns a snapshot of every registered job. Pure read.
func (s *Scheduler) Status() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Status, 0, len(s.jobs))
	for _, st := range s.jobs {
		out = append(out, Status{
			Name:      st.job.Name,
			Spec:      st.job.Spec,
			Enabled:   st.enabled,
			Runs:      st.runs,
			LastRunAt: st.lastRun,
			NextRunAt: st.nextRun,
			LastError: st.lastErr,
		})
	}
	return out
}

func (s *Scheduler) tickLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Scheduler) tick() {
	now := time.Now().UTC()

	s.mu.Lock()
	var due []*jobState
	for _, st := range s.jobs {
		if !st.enabled {
			continue
		}
		if st.nextRun.After(now) {
			continue
		}
		st.nextRun = st.schedule.Next(now)
		due = append(due, st)
	}
	s.mu.Unlock()

	for _, st := range due {
		s.wg.Add(1)
		go func(st *jobState) {
			defer s.wg.Done()
			s.run(st)
		}(st)
	}
}

// run executes one job run, recovering panics and recording the outcome.
func (s *Scheduler) run(st *jobState) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("job panic",
				slog.String("job", st.job.Name),
				slog.Any("panic", r),
			)
		}
	}()

	err := st.job.Handler(context.Background())

	s.mu.Lock()
	st.runs++
	st.lastRun = time.Now().UTC()
	if err != nil {
		st.lastErr = err.Error()
	} else {
		st.lastErr = ""
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("job run error",
			slog.String("job", st.job.Name),
			slog.String("error", err.Error()),
		)
	}
}
