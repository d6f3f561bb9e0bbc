// Package scheduler runs periodic jobs on a fixed cadence. All jobs, periodic
// or manually triggered, share one lock so at most one runs at a time.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is a unit of work run under the scheduler lock.
type Job func(ctx context.Context) error

// Scheduler wraps a cron runner whose jobs never overlap.
type Scheduler struct {
	cron   *cron.Cron
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	logger zerolog.Logger
}

// New creates a stopped Scheduler.
func New(logger zerolog.Logger) *Scheduler {
	logger = logger.With().Str("component", "scheduler").Logger()
	cl := cronLogger{logger: logger}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
}

// Every registers job to run every interval. A tick that fires while the
// previous run of the same job is still going is skipped.
func (s *Scheduler) Every(name string, interval time.Duration, job Job) error {
	if interval <= 0 {
		return fmt.Errorf("invalid interval %s for job %s", interval, name)
	}
	s.cron.Schedule(cron.Every(interval), cron.FuncJob(func() {
		if err := s.Do(s.ctx, job); err != nil {
			s.logger.Error().Err(err).Str("job", name).Msg("scheduled job failed")
		}
	}))
	s.logger.Info().Str("job", name).Dur("interval", interval).Msg("job scheduled")
	return nil
}

// Do runs job under the scheduler lock, waiting for any running job first.
func (s *Scheduler) Do(ctx context.Context, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return job(ctx)
}

// Start begins running scheduled jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the cadence, cancels the context handed to scheduled jobs and
// waits for a running job to return.
func (s *Scheduler) Stop() {
	done := s.cron.Stop()
	s.cancel()
	<-done.Done()
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
