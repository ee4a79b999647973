// Package scheduler runs the accumulator flush on a fixed period and on demand.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/fluentlens/fluentlens/internal/core"
	"github.com/fluentlens/fluentlens/internal/core/aggregate"
	"github.com/fluentlens/fluentlens/internal/observability"
)

// Flusher drains the batch accumulator.
type Flusher interface {
	FlushAll(ctx context.Context) (core.FlushReport, error)
}

// Options configures a Scheduler.
type Options struct {
	// Interval is the flush period. Cron rounds periods below one second up.
	Interval time.Duration

	// RunTimeout bounds one flush pass; zero leaves it unbounded.
	RunTimeout time.Duration

	// FlushOnStop runs one final flush after the periodic job has stopped.
	FlushOnStop bool

	Logger *logging.Logger
}

// Run describes the most recent completed flush.
type Run struct {
	Trigger string
	Report  core.FlushReport
	Err     error
	At      time.Time
}

// Scheduler owns a cron instance with a single flush job. Scheduled passes
// never overlap each other; TriggerNow may run alongside a scheduled pass.
type Scheduler struct {
	flusher Flusher
	opts    Options
	logger  *logging.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	last    *Run
}

// New returns a stopped scheduler.
func New(flusher Flusher, opts Options) (*Scheduler, error) {
	if flusher == nil {
		return nil, errors.New("scheduler: flusher is required")
	}
	if opts.Interval <= 0 {
		return nil, fmt.Errorf("scheduler: interval must be positive, got %s", opts.Interval)
	}
	logger := opts.Logger
	if logger == nil {
		logger = observability.Logger()
	}
	return &Scheduler{flusher: flusher, opts: opts, logger: logger}, nil
}

// Start registers the periodic flush and starts cron. ctx scopes every
// scheduled pass; cancelling it aborts in-flight work.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errors.New("scheduler already started")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	clog := cronLogger{logger: s.logger}
	c := cron.New(
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
	)

	runCtx, cancel := context.WithCancel(ctx)
	spec := "@every " + s.opts.Interval.String()
	if _, err := c.AddFunc(spec, func() {
		_, _ = s.run(runCtx, aggregate.TriggerScheduled)
	}); err != nil {
		cancel()
		return fmt.Errorf("schedule flush %q: %w", spec, err)
	}

	c.Start()
	s.cron = c
	s.ctx = runCtx
	s.cancel = cancel
	s.started = true

	s.logger.Info("Flush scheduler started",
		zap.Duration("interval", s.opts.Interval),
		zap.Bool("flush_on_stop", s.opts.FlushOnStop))
	return nil
}

// Stop halts the periodic job, waits for a running pass to finish (or ctx to
// end), then runs the final flush when configured.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	c, cancel := s.cron, s.cancel
	s.started = false
	s.cron = nil
	s.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}

	done := c.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		cancel()
		<-done.Done()
		return fmt.Errorf("waiting for scheduled flush: %w", ctx.Err())
	}
	cancel()

	if s.opts.FlushOnStop {
		if _, err := s.run(ctx, aggregate.TriggerShutdown); err != nil {
			return fmt.Errorf("final flush: %w", err)
		}
	}

	s.logger.Info("Flush scheduler stopped")
	return nil
}

// TriggerNow runs a flush immediately on the caller's goroutine.
func (s *Scheduler) TriggerNow(ctx context.Context) (core.FlushReport, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.run(ctx, aggregate.TriggerManual)
}

// LastRun returns the most recent completed pass, if any.
func (s *Scheduler) LastRun() (Run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Run{}, false
	}
	return *s.last, true
}

// Running reports whether the periodic job is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

func (s *Scheduler) run(ctx context.Context, trigger string) (core.FlushReport, error) {
	ctx = aggregate.WithTrigger(ctx, trigger)
	if s.opts.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.RunTimeout)
		defer cancel()
	}

	report, err := s.flusher.FlushAll(ctx)
	if err != nil {
		s.logger.Error("Flush failed",
			zap.String("trigger", trigger),
			zap.Error(err))
	}

	s.mu.Lock()
	s.last = &Run{Trigger: trigger, Report: report, Err: err, At: time.Now()}
	s.mu.Unlock()

	return report, err
}
