package scan

import (
	"context"
	"sync"
	"time"

	"github.com/raaihank/photo-sentinel/internal/logger"
	"go.uber.org/zap"
)

// Drainer runs the queue to completion
type Drainer interface {
	Drain(ctx context.Context) (*DrainResult, error)
}

// MediaEnumerator refreshes the queue from the media library
type MediaEnumerator interface {
	Enumerate(ctx context.Context) (*EnumerateResult, error)
}

// SchedulerOptions configures periodic runs
type SchedulerOptions struct {
	Interval              time.Duration
	RunOnStart            bool
	EnumerateOnRun        bool
	RequireChargingOrWiFi bool
	Conditions            Conditions
}

// Scheduler triggers background scan runs. At most one run is active at a time.
type Scheduler struct {
	runner     Drainer
	enumerator MediaEnumerator
	events     EventSink
	logger     *logger.Logger

	running sync.Mutex

	mu         sync.Mutex
	opts       SchedulerOptions
	intervalCh chan time.Duration
}

// NewScheduler creates a scheduler. enumerator and events may be nil.
func NewScheduler(runner Drainer, enumerator MediaEnumerator, events EventSink, opts SchedulerOptions, log *logger.Logger) *Scheduler {
	if events == nil {
		events = noopSink{}
	}
	if opts.Interval <= 0 {
		opts.Interval = 15 * time.Minute
	}
	return &Scheduler{
		runner:     runner,
		enumerator: enumerator,
		events:     events,
		logger:     log.WithComponent("scheduler"),
		opts:       opts,
		intervalCh: make(chan time.Duration, 1),
	}
}

// SetConditions records the current device state
func (s *Scheduler) SetConditions(c Conditions) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opts.Conditions = c
}

// Conditions returns the last recorded device state
func (s *Scheduler) Conditions() Conditions {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts.Conditions
}

// SetRequireChargingOrWiFi toggles the power policy
func (s *Scheduler) SetRequireChargingOrWiFi(require bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opts.RequireChargingOrWiFi = require
}

// Interval returns the period between runs
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts.Interval
}

// SetInterval changes the period of a running loop
func (s *Scheduler) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	s.opts.Interval = d
	s.mu.Unlock()

	// keep only the latest pending change
	select {
	case <-s.intervalCh:
	default:
	}
	select {
	case s.intervalCh <- d:
	default:
	}
}

// allowed applies the power policy
func (s *Scheduler) allowed() (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opts.RequireChargingOrWiFi {
		return true, ""
	}
	if s.opts.Conditions.Charging || s.opts.Conditions.OnWiFi {
		return true, ""
	}
	return false, "waiting for charging or wifi"
}

// RunOnce performs one scheduled run. It returns NoData without doing work
// when another run is active or the power policy blocks it.
func (s *Scheduler) RunOnce(ctx context.Context) Outcome {
	if !s.running.TryLock() {
		s.logger.Debug("Scan already in progress")
		return OutcomeNoData
	}
	defer s.running.Unlock()

	if ok, reason := s.allowed(); !ok {
		s.logger.Info("Scan run skipped", zap.String("reason", reason))
		s.events.Publish(EventScanRun, RunEvent{Outcome: OutcomeNoData.String(), Reason: reason})
		return OutcomeNoData
	}

	s.mu.Lock()
	enumerate := s.opts.EnumerateOnRun && s.enumerator != nil
	s.mu.Unlock()

	if enumerate {
		if _, err := s.enumerator.Enumerate(ctx); err != nil {
			s.logger.Error("Enumeration failed", zap.Error(err))
			s.events.Publish(EventScanRun, RunEvent{Outcome: OutcomeFailed.String(), Reason: err.Error()})
			return OutcomeFailed
		}
	}

	result, err := s.runner.Drain(ctx)
	if err != nil {
		s.logger.Error("Scan run failed", zap.Error(err))
		s.events.Publish(EventScanRun, RunEvent{Outcome: OutcomeFailed.String(), Reason: err.Error(), Result: result})
		return OutcomeFailed
	}

	outcome := OutcomeNoData
	if result.Touched() {
		outcome = OutcomeNewData
	}

	s.logger.Info("Scan run finished",
		zap.String("outcome", outcome.String()),
		zap.Int("batches", result.Batches),
		zap.Int("pii_found", result.PiiFound),
		zap.Int("clean", result.Clean),
		zap.Int("retried", result.Retried),
		zap.Int("failed", result.Failed),
		zap.Duration("duration", result.Duration))
	s.events.Publish(EventScanRun, RunEvent{Outcome: outcome.String(), Result: result})

	return outcome
}

// Start runs RunOnce every interval until ctx is cancelled
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	interval := s.opts.Interval
	runOnStart := s.opts.RunOnStart
	s.mu.Unlock()

	s.logger.Info("Scheduler started",
		zap.Duration("interval", interval),
		zap.Bool("run_on_start", runOnStart))

	if runOnStart {
		s.RunOnce(ctx)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopped")
			return nil
		case d := <-s.intervalCh:
			ticker.Reset(d)
			s.logger.Info("Scheduler interval changed", zap.Duration("interval", d))
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}
