// Package jobs runs the periodic background sweeps. Invocations are
// fire-and-forget: a failed sweep is logged and never blocks the next
// scheduled run.
package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Locker gates a sweep so only one replica runs it at a time. A nil Locker
// disables gating.
type Locker interface {
	AcquireSweepLock(ctx context.Context, name string, ttl time.Duration) (bool, error)
	ReleaseSweepLock(ctx context.Context, name string) error
}

// Job is one periodic sweep.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

type Runner struct {
	jobs   []Job
	locker Locker
	wg     sync.WaitGroup
}

func NewRunner(locker Locker, jobs ...Job) *Runner {
	return &Runner{jobs: jobs, locker: locker}
}

// Start launches one ticker goroutine per job and returns immediately.
// Stop by cancelling the context, then Wait.
func (r *Runner) Start(ctx context.Context) {
	for _, job := range r.jobs {
		r.wg.Add(1)
		go func(job Job) {
			defer r.wg.Done()
			ticker := time.NewTicker(job.Interval)
			defer ticker.Stop()

			log.Info().Str("job", job.Name).Dur("interval", job.Interval).Msg("Background job scheduled")
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					r.runOnce(ctx, job)
				}
			}
		}(job)
	}
}

func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) runOnce(ctx context.Context, job Job) {
	if r.locker != nil {
		ok, err := r.locker.AcquireSweepLock(ctx, job.Name, job.Interval)
		if err != nil {
			log.Warn().Err(err).Str("job", job.Name).Msg("Failed to acquire sweep lock")
			return
		}
		if !ok {
			// Another replica holds the sweep.
			return
		}
		defer func() {
			if err := r.locker.ReleaseSweepLock(ctx, job.Name); err != nil {
				log.Warn().Err(err).Str("job", job.Name).Msg("Failed to release sweep lock")
			}
		}()
	}

	start := time.Now()
	if err := job.Run(ctx); err != nil {
		log.Error().Err(err).Str("job", job.Name).Msg("Background job failed")
		return
	}
	log.Debug().Str("job", job.Name).Dur("took", time.Since(start)).Msg("Background job finished")
}
