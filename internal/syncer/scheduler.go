// internal/syncer/scheduler.go
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"catalogsync/internal/lock"
	"catalogsync/internal/logging"
)

var (
	ErrNotConfigured   = errors.New("syncer not configured")
	ErrCycleInProgress = errors.New("sync cycle already in progress")
)

const (
	DefaultInterval     = 60 * time.Second
	DefaultCycleTimeout = 5 * time.Minute
)

// ResultHook receives every finished cycle. Hooks run in the background.
type ResultHook func(ctx context.Context, res Result) error

// Status is a point-in-time view of the scheduler.
type Status struct {
	State    State      `json:"state" yaml:"state"`
	Interval string     `json:"interval" yaml:"interval"`
	Running  bool       `json:"running" yaml:"running"`
	NextRun  *time.Time `json:"next_run,omitempty" yaml:"next_run,omitempty"`
	Last     *Result    `json:"last,omitempty" yaml:"last,omitempty"`
}

// Scheduler repeats sync cycles on an interval and on demand, never running
// two at once.
type Scheduler struct {
	syncer     *Syncer
	interval   time.Duration
	timeout    time.Duration
	runOnStart bool
	local      *lock.Local
	dist       lock.Locker
	background *Background
	hooks      map[string]ResultHook

	mu      sync.RWMutex
	state   State
	running bool
	nextRun time.Time
	last    *Result
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

func WithInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithCycleTimeout(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithRunOnStart runs a cycle as soon as Run is called.
func WithRunOnStart(v bool) SchedulerOption {
	return func(s *Scheduler) { s.runOnStart = v }
}

// WithDistributedLock extends single-flight across processes.
func WithDistributedLock(l lock.Locker) SchedulerOption {
	return func(s *Scheduler) { s.dist = l }
}

// WithResultHook registers a named best-effort hook for finished cycles.
func WithResultHook(name string, hook ResultHook) SchedulerOption {
	return func(s *Scheduler) { s.hooks[name] = hook }
}

// WithBackground replaces the background runner used for hooks.
func WithBackground(b *Background) SchedulerOption {
	return func(s *Scheduler) {
		if b != nil {
			s.background = b
		}
	}
}

// NewScheduler returns an idle scheduler driving syncer.
func NewScheduler(syncer *Syncer, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		syncer:     syncer,
		interval:   DefaultInterval,
		timeout:    DefaultCycleTimeout,
		local:      lock.NewLocal(),
		background: NewBackground(16, 0),
		hooks:      make(map[string]ResultHook),
		state:      StateIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Background exposes the runner used for result hooks.
func (s *Scheduler) Background() *Background {
	return s.background
}

// Run loops until ctx is cancelled, then waits for background work.
func (s *Scheduler) Run(ctx context.Context) error {
	if s == nil || s.syncer == nil {
		return ErrNotConfigured
	}
	log := logging.FromContext(ctx)
	log.Info().Dur("interval", s.interval).Bool("run_on_start", s.runOnStart).Msg("scheduler started")
	defer s.background.Wait()

	if s.runOnStart {
		s.tick(ctx, TriggerStartup)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.setNextRun(time.Now().Add(s.interval))

	for {
		select {
		case <-ctx.Done():
			s.setNextRun(time.Time{})
			log.Info().Msg("scheduler stopped")
			return nil
		case <-ticker.C:
			s.tick(ctx, TriggerSchedule)
			s.setNextRun(time.Now().Add(s.interval))
		}
	}
}

// tick runs a cycle unless one is already in flight, here or elsewhere.
func (s *Scheduler) tick(ctx context.Context, trigger Trigger) {
	log := logging.FromContext(ctx)
	unlock, ok, _ := s.local.TryLock(ctx)
	if !ok {
		log.Debug().Str("trigger", string(trigger)).Msg("cycle in progress, tick skipped")
		return
	}
	defer unlock()

	if s.dist != nil {
		release, ok, err := s.dist.TryLock(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("distributed lock unavailable, tick skipped")
			return
		}
		if !ok {
			log.Debug().Msg("cycle running in another process, tick skipped")
			return
		}
		defer release()
	}
	s.run(ctx, trigger)
}

// RunOnce runs one cycle on demand. When a cycle is in flight it waits for
// it, bounded by ctx, and then runs a fresh one. Once started, the cycle is
// bounded by the cycle timeout and not by ctx. The error is non-nil only
// when the cycle could not begin.
func (s *Scheduler) RunOnce(ctx context.Context, trigger Trigger) (Result, error) {
	if s == nil || s.syncer == nil {
		return Result{}, ErrNotConfigured
	}
	unlock, err := s.local.Lock(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrCycleInProgress, err)
	}
	defer unlock()

	if s.dist != nil {
		release, err := s.dist.Lock(ctx)
		if err != nil {
			return Result{}, fmt.Errorf("%w: %w", ErrCycleInProgress, err)
		}
		defer release()
	}
	return s.run(context.WithoutCancel(ctx), trigger), nil
}

func (s *Scheduler) run(ctx context.Context, trigger Trigger) Result {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	res := s.syncer.cycle(cctx, trigger, s.setState)

	s.mu.Lock()
	s.running = false
	s.last = &res
	s.mu.Unlock()

	for name, hook := range s.hooks {
		s.background.Go(ctx, name, func(ctx context.Context) error { return hook(ctx, res) })
	}
	return res
}

func (s *Scheduler) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Scheduler) setNextRun(t time.Time) {
	s.mu.Lock()
	s.nextRun = t
	s.mu.Unlock()
}

// Status reports the current phase, the last result and the next tick.
func (s *Scheduler) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Status{
		State:    s.state,
		Interval: s.interval.String(),
		Running:  s.running,
	}
	if !s.nextRun.IsZero() {
		next := s.nextRun
		st.NextRun = &next
	}
	if s.last != nil {
		last := *s.last
		st.Last = &last
	}
	return st
}
