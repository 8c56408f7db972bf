package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/searchsync/internal/crawl"
)

// Crawler runs one reconciliation pass for one entity kind.
type Crawler interface {
	Crawl(ctx context.Context) crawl.Report
}

// Clock abstracts time for the scheduler's wait.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// ResetFunc clears the index and reapplies its mappings.
type ResetFunc func(ctx context.Context) error

// State is the scheduler's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateWaiting
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateWaiting:
		return "waiting"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Scheduler runs crawlers on a Spec's cadence.
//
// Thread-safety: Run executes on one goroutine. State, Passes, NextTrigger
// and Stop may be called from any goroutine.
type Scheduler struct {
	spec     Spec
	crawlers []Crawler
	reset    ResetFunc
	clock    Clock
	logger   *slog.Logger

	mu       sync.Mutex
	state    State
	passes   int
	cleared  int
	lastPass time.Time
	next     time.Time

	// counter counts passes toward the next ClearEvery reset. Only Run
	// touches it.
	counter int

	started  sync.Once
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock sets the clock; the default is the wall clock.
func WithClock(c Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithReset sets the hook that clears the index.
func WithReset(fn ResetFunc) Option {
	return func(s *Scheduler) { s.reset = fn }
}

// New creates a scheduler. Crawlers run in the given order on every pass.
func New(spec Spec, crawlers []Crawler, opts ...Option) (*Scheduler, error) {
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid schedule: %w", err)
	}
	s := &Scheduler{
		spec:     spec,
		crawlers: crawlers,
		clock:    realClock{},
		logger:   slog.Default(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start runs the scheduler on a new goroutine. Later calls are no-ops.
func (s *Scheduler) Start(ctx context.Context) {
	s.started.Do(func() {
		go func() {
			if err := s.run(ctx); err != nil {
				s.logger.Debug("scheduler exited", "error", err)
			}
		}()
	})
}

// Run runs the scheduler on the calling goroutine until Stop is called, ctx
// is cancelled, or a once-mode pass completes. It returns ctx.Err() when the
// context ended the loop. Run and Start are mutually exclusive; a second
// call returns immediately.
func (s *Scheduler) Run(ctx context.Context) error {
	err := fmt.Errorf("scheduler already started")
	s.started.Do(func() { err = s.run(ctx) })
	return err
}

// Stop cancels any pending wait and prevents further passes. A pass in
// progress completes first. Stop is idempotent.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Done is closed once the loop has exited.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Passes returns the number of completed passes.
func (s *Scheduler) Passes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.passes
}

// Resets returns how many times the reset hook has run.
func (s *Scheduler) Resets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cleared
}

// NextTrigger returns the deadline currently waited for.
func (s *Scheduler) NextTrigger() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next, s.state == StateWaiting
}

func (s *Scheduler) setState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
}

func (s *Scheduler) run(ctx context.Context) error {
	defer close(s.done)
	defer s.setState(StateStopped)

	log := s.logger.With("mode", string(s.spec.Mode))
	if s.spec.ClearOnStart {
		s.resetIndex(ctx, log, "startup")
	}
	if !s.spec.Enabled {
		log.Info("scheduled crawling disabled")
		return nil
	}

	// A once-mode scheduler always performs its single pass.
	wait := !s.spec.CrawlOnStart && s.spec.Mode != ModeOnce
	for {
		if wait {
			if err := s.waitNext(ctx, log); err != nil {
				return err
			}
		}
		wait = true

		if s.stopped() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		s.pass(ctx, log)

		if s.spec.Mode == ModeOnce {
			log.Info("single pass complete")
			return nil
		}
	}
}

func (s *Scheduler) stopped() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

// waitNext blocks until the next trigger or Stop. It returns ctx.Err()
// when the context ends the wait.
func (s *Scheduler) waitNext(ctx context.Context, log *slog.Logger) error {
	s.mu.Lock()
	from := s.lastPass
	s.mu.Unlock()
	now := s.clock.Now()
	if from.IsZero() {
		from = now
	}
	next, ok := Next(s.spec, from)
	if !ok {
		return fmt.Errorf("mode %s has no next trigger", s.spec.Mode)
	}

	d := next.Sub(now)
	if d <= 0 {
		log.Warn("next trigger already passed, crawling now", "trigger", next)
		return nil
	}

	s.mu.Lock()
	s.state = StateWaiting
	s.next = next
	s.mu.Unlock()
	log.Info("waiting for next trigger", "trigger", next, "in", d.Round(time.Second))

	select {
	case <-s.clock.After(d):
		return nil
	case <-s.stop:
		log.Info("scheduler stopped while waiting")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) pass(ctx context.Context, log *slog.Logger) {
	s.setState(StateRunning)

	if s.spec.ClearEvery > 0 {
		s.counter++
		if s.counter%s.spec.ClearEvery == 0 {
			s.resetIndex(ctx, log, "interval")
		}
	}

	start := s.clock.Now()
	failed := 0
	for _, c := range s.crawlers {
		rep := c.Crawl(ctx)
		if rep.Err() != nil {
			failed++
		}
	}

	s.mu.Lock()
	s.passes++
	s.lastPass = s.clock.Now()
	n := s.passes
	s.mu.Unlock()
	log.Info("pass complete", "pass", n, "crawlers", len(s.crawlers), "failed", failed, "duration", s.clock.Now().Sub(start))
}

func (s *Scheduler) resetIndex(ctx context.Context, log *slog.Logger, reason string) {
	if s.reset == nil {
		return
	}
	if err := s.reset(ctx); err != nil {
		log.Error("index reset failed", "reason", reason, "error", err)
		return
	}
	s.mu.Lock()
	s.cleared++
	s.mu.Unlock()
	log.Info("index reset", "reason", reason)
}
