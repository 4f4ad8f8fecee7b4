package scheduler

import (
	"context"
	"log/slog"
	"time"

	"inkframe/internal/core"
)

// Machine interface for the device state machine
type Machine interface {
	Tick(ctx context.Context) core.Mode
	RetryDelay() time.Duration
}

// Scheduler drives the device state machine from a single control loop.
// Ticks are strictly serialized: the next tick is scheduled only after the
// previous one has finished, so an overrunning rotation delays the loop
// instead of stacking concurrent work.
type Scheduler struct {
	machine      Machine
	interval     time.Duration
	pollInterval time.Duration
	stopChan     chan struct{}
	doneChan     chan struct{}
	logger       *slog.Logger
}

// NewScheduler creates a new scheduler
func NewScheduler(machine Machine, interval, pollInterval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Hour
	}
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &Scheduler{
		machine:      machine,
		interval:     interval,
		pollInterval: pollInterval,
		stopChan:     make(chan struct{}),
		doneChan:     make(chan struct{}),
		logger:       logger,
	}
}

// Start begins the control loop and blocks until Stop is called
func (s *Scheduler) Start() {
	s.logger.Info("Scheduler started",
		"interval", s.interval.String(),
		"poll_interval", s.pollInterval.String())
	defer close(s.doneChan)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		<-s.stopChan
		cancel()
	}()

	prev := core.Mode("")
	timer := time.NewTimer(0) // first tick immediately
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
		case <-s.stopChan:
			s.logger.Info("Scheduler stopped")
			return
		}

		mode := s.machine.Tick(ctx)

		select {
		case <-s.stopChan:
			s.logger.Info("Scheduler stopped")
			return
		default:
		}

		delay := s.nextDelay(prev, mode)
		s.logger.Debug("Tick complete", "mode", string(mode), "next_tick_in", delay.String())
		prev = mode
		timer.Reset(delay)
	}
}

// Stop stops the scheduler and waits for an in-flight tick to finish or
// abandon cleanly
func (s *Scheduler) Stop() {
	close(s.stopChan)
	<-s.doneChan
}

// nextDelay picks the wait before the next tick from the resulting mode:
// poll quickly while waiting for the user, honor the backoff while failing,
// and keep the slow rotation cadence while healthy. The validation tick only
// confirms the credential, so it gets a quick follow-up to turn the fresh
// credential into a photo; every other path into ACTIVE has already rendered.
func (s *Scheduler) nextDelay(prev, mode core.Mode) time.Duration {
	switch mode {
	case core.ModeUnconfigured, core.ModeAwaitingAuth:
		return s.pollInterval
	case core.ModeErrorBackoff:
		delay := s.machine.RetryDelay()
		if delay <= 0 {
			delay = s.pollInterval
		}
		return delay
	default:
		if prev == core.ModeAwaitingAuth {
			return s.pollInterval
		}
		return s.interval
	}
}
