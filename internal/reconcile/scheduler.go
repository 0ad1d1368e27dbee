package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type schedule struct {
	job   Job
	every time.Duration
}

// Scheduler runs each registered job on its own ticker until the context
// passed to Start is cancelled. Runner errors are already logged, so a failed
// pass only waits for the next tick.
type Scheduler struct {
	runner    *Runner
	logger    zerolog.Logger
	schedules []schedule
	wg        sync.WaitGroup
}

func NewScheduler(runner *Runner, logger zerolog.Logger) *Scheduler {
	return &Scheduler{runner: runner, logger: logger}
}

// Add registers job to run every interval. Non-positive intervals are ignored.
func (s *Scheduler) Add(job Job, every time.Duration) {
	if every <= 0 {
		s.logger.Warn().Str("job", job.Name()).Dur("every", every).Msg("non-positive interval, job not scheduled")
		return
	}
	s.schedules = append(s.schedules, schedule{job: job, every: every})
}

func (s *Scheduler) Start(ctx context.Context) {
	for _, sc := range s.schedules {
		s.wg.Add(1)
		go s.loop(ctx, sc)
	}
}

// Wait blocks until every loop has returned.
func (s *Scheduler) Wait() { s.wg.Wait() }

func (s *Scheduler) loop(ctx context.Context, sc schedule) {
	defer s.wg.Done()
	s.logger.Info().Str("job", sc.job.Name()).Dur("every", sc.every).Msg("scheduled")

	ticker := time.NewTicker(sc.every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = s.runner.Run(ctx, sc.job)
		}
	}
}
