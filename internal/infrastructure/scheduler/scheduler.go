// Package scheduler runs periodic maintenance jobs on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Scheduler wraps a cron runner. Overlapping runs of the same job are
// skipped rather than queued.
type Scheduler struct {
	cron   *cron.Cron
	logger zerolog.Logger
}

// New creates a Scheduler. Specs accept the standard five fields plus
// descriptors such as "@every 1h".
func New(logger zerolog.Logger) *Scheduler {
	logger = logger.With().Str("component", "scheduler").Logger()
	cronLog := cronLogger{logger: logger}

	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cronLog),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
		logger: logger,
	}
}

// Add registers job under name. Each run gets its own context bounded by timeout.
func (s *Scheduler) Add(spec, name string, timeout time.Duration, job func(ctx context.Context) error) error {
	_, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		log := s.logger.With().Str("job", name).Logger()
		ctx = log.WithContext(ctx)

		start := time.Now()
		if err := job(ctx); err != nil {
			log.Error().Err(err).Dur("duration", time.Since(start)).Msg("job failed")
			return
		}
		log.Debug().Dur("duration", time.Since(start)).Msg("job finished")
	})
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, spec, err)
	}

	s.logger.Info().Str("job", name).Str("spec", spec).Msg("job scheduled")
	return nil
}

// Start runs the scheduler in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop prevents new runs and waits for running jobs until ctx expires.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()

	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
