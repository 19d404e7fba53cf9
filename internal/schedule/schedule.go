// Package schedule runs the pipeline on a cron spec or fixed interval with
// gocron, retrying failed runs and never letting two runs overlap.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/go-co-op/gocron"

	"customeretl/internal/pipeline"
	"customeretl/internal/runlock"
)

// RunFunc performs one pipeline run.
type RunFunc func(ctx context.Context) (pipeline.Summary, error)

// Config selects when runs fire.
type Config struct {
	// Spec is a five-field cron expression or a descriptor such as "@daily".
	Spec string
	// Every, when positive, fires at a fixed interval instead of Spec. The
	// first run fires on start.
	Every time.Duration
	// Location evaluates Spec. Nil means time.Local.
	Location *time.Location
	// Retry applies to each triggered run.
	Retry pipeline.RetryPolicy
}

// Scheduler owns a gocron scheduler with a single job.
type Scheduler struct {
	cfg   Config
	run   RunFunc
	guard *runlock.Guard
	sched *gocron.Scheduler
	job   *gocron.Job

	// ctx is the context of the current Start; jobs run under it.
	ctx context.Context
}

// New validates cfg and registers the job. Nothing fires until Start.
func New(cfg Config, run RunFunc) (*Scheduler, error) {
	if run == nil {
		return nil, errors.New("schedule: run func is required")
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}

	s := &Scheduler{
		cfg:   cfg,
		run:   run,
		guard: runlock.NewGuard(),
		sched: gocron.NewScheduler(loc),
		ctx:   context.Background(),
	}
	s.sched.SingletonModeAll()

	var err error
	if cfg.Every > 0 {
		s.job, err = s.sched.Every(cfg.Every).Do(s.fire)
	} else {
		if cfg.Spec == "" {
			return nil, errors.New("schedule: spec or interval is required")
		}
		s.job, err = s.sched.Cron(cfg.Spec).Do(s.fire)
	}
	if err != nil {
		return nil, fmt.Errorf("schedule: %w", err)
	}
	return s, nil
}

func (s *Scheduler) fire() {
	sum, err := s.Trigger(s.ctx)
	switch {
	case pipeline.IsLocked(err):
		log.Printf("schedule: previous run still in progress, skipping this trigger")
	case err != nil:
		log.Printf("schedule: run %s failed: %v", sum.RunID, err)
	}
	if next := s.NextRun(); !next.IsZero() {
		log.Printf("schedule: next run at %s", next.Format(time.RFC3339))
	}
}

// Trigger runs the pipeline now under the retry policy. It returns
// runlock.ErrLocked without running when another run is in progress.
func (s *Scheduler) Trigger(ctx context.Context) (pipeline.Summary, error) {
	release, err := s.guard.TryAcquire()
	if err != nil {
		return pipeline.Summary{}, err
	}
	defer release()
	return pipeline.RunWithRetry(ctx, s.cfg.Retry, s.run)
}

// Run starts the scheduler and blocks until ctx is done, then stops it.
func (s *Scheduler) Run(ctx context.Context) {
	s.ctx = ctx
	retries := max(s.cfg.Retry.Attempts-1, 0)
	if s.cfg.Every > 0 {
		log.Printf("schedule: every %s, retries=%d delay=%s", s.cfg.Every, retries, s.cfg.Retry.Delay)
	} else {
		log.Printf("schedule: cron %q, retries=%d delay=%s", s.cfg.Spec, retries, s.cfg.Retry.Delay)
	}
	s.sched.StartAsync()
	if next := s.NextRun(); !next.IsZero() {
		log.Printf("schedule: next run at %s", next.Format(time.RFC3339))
	}

	<-ctx.Done()
	s.sched.Stop()
	log.Printf("schedule: stopped")
}

// NextRun is the time of the next scheduled fire, or zero before Run.
func (s *Scheduler) NextRun() time.Time {
	if s.job == nil {
		return time.Time{}
	}
	return s.job.NextRun()
}

// RunCount is the number of times the job has fired.
func (s *Scheduler) RunCount() int {
	if s.job == nil {
		return 0
	}
	return s.job.RunCount()
}
