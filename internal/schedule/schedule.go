// File: internal/schedule/schedule.go
// Cron-driven session starts. A schedule fires the run callback on each tick;
// overlapping runs are skipped rather than queued so a long session never
// stacks up behind itself.
package schedule

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// RunFunc is invoked on each schedule tick with a context cancelled when the
// scheduler stops.
type RunFunc func(ctx context.Context) error

// Scheduler starts sessions on a cron expression.
type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger
	spec   string
	run    RunFunc

	running atomic.Bool
}

// New creates a scheduler for the given cron expression. Standard five-field
// expressions and descriptors such as "@hourly" are accepted.
func New(spec string, run RunFunc, logger *zap.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron:   cron.New(),
		logger: logger.With(zap.String("component", "scheduler"), zap.String("spec", spec)),
		spec:   spec,
		run:    run,
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return s, nil
}

// Run blocks until the context is cancelled, firing the callback on schedule.
func (s *Scheduler) Run(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.spec, func() {
		if !s.running.CompareAndSwap(false, true) {
			s.logger.Warn("Previous run still active, skipping tick")
			return
		}
		defer s.running.Store(false)

		s.logger.Info("Schedule fired")
		if err := s.run(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("Scheduled run failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("register schedule %q: %w", s.spec, err)
	}

	s.cron.Start()
	s.logger.Info("Scheduler started")
	<-ctx.Done()
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.logger.Info("Scheduler stopped")
	return ctx.Err()
}
