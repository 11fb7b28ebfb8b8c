// Package enrichrunner pulls queued enrichment jobs and drives the wave
// orchestrator, one job per worker at a time.
package enrichrunner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/signalhouse/domain-intel/config"
	"github.com/signalhouse/domain-intel/internal/core"
	"github.com/signalhouse/domain-intel/internal/domain/model"
	"github.com/signalhouse/domain-intel/internal/observability/metrics"
	"github.com/signalhouse/domain-intel/internal/observability/statsd"
	"github.com/signalhouse/domain-intel/internal/service"
)

const lockKeyPrefix = "enrich:lock:"

// RunnerOptions configures the enrichment job runner adapter.
type RunnerOptions struct {
	Jobs         core.EnrichmentJobRepository // Required: job queue
	Cache        core.CacheRepository         // Required: in-flight domain locks
	Orchestrator *service.Orchestrator        // Required: job execution
	Config       config.RunnerConfig
	LockTTL      time.Duration
	Logger       *slog.Logger
	Metrics      statsd.Sink
}

// Runner reserves queued jobs and executes them. A per-domain Redis lock
// keeps two runners from enriching the same domain concurrently; a runner
// that finds the domain locked waits, heartbeating the job so the sweeper
// does not mistake it for crashed.
type Runner struct {
	jobs         core.EnrichmentJobRepository
	cache        core.CacheRepository
	orchestrator *service.Orchestrator
	workers      int
	pollInterval time.Duration
	lockTTL      time.Duration
	logger       *slog.Logger
	metrics      statsd.Sink
}

// NewRunner constructs a Runner.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Jobs == nil {
		return nil, errors.New("EnrichmentJobRepository is required")
	}
	if opts.Cache == nil {
		return nil, errors.New("CacheRepository is required")
	}
	if opts.Orchestrator == nil {
		return nil, errors.New("Orchestrator is required")
	}

	cfg := opts.Config
	cfg.Sanitize()
	lockTTL := opts.LockTTL
	if lockTTL <= 0 {
		lockTTL = 15 * time.Minute
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{
		jobs:         opts.Jobs,
		cache:        opts.Cache,
		orchestrator: opts.Orchestrator,
		workers:      cfg.Workers,
		pollInterval: cfg.PollInterval,
		lockTTL:      lockTTL,
		logger:       logger.With("component", "enrich_runner"),
		metrics:      opts.Metrics,
	}, nil
}

// Run starts worker goroutines and processes jobs until the context is
// cancelled. Returns nil on graceful shutdown.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting enrichment runner",
		"workers", r.workers, "poll_interval", r.pollInterval)

	var wg sync.WaitGroup
	for i := 0; i < r.workers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.workerLoop(ctx, i)
		}()
	}
	wg.Wait()

	if errors.Is(ctx.Err(), context.Canceled) {
		return nil
	}
	return ctx.Err()
}

func (r *Runner) workerLoop(ctx context.Context, worker int) {
	for ctx.Err() == nil {
		job, err := r.jobs.ReserveNext(ctx)
		if err != nil {
			if errors.Is(err, model.ErrNoJobsAvailable) {
				r.sleep(ctx, r.pollInterval)
				continue
			}
			if ctx.Err() != nil {
				return
			}
			r.logger.WarnContext(ctx, "job reservation failed", "worker", worker, "error", err)
			r.sleep(ctx, r.pollInterval)
			continue
		}

		r.processJob(ctx, job)
	}
}

func (r *Runner) processJob(ctx context.Context, job *model.EnrichmentJob) {
	logger := r.logger.With("job_id", job.ID, "domain", job.Domain)
	logger.InfoContext(ctx, "job reserved")

	metrics.EmitJobLifecycle(r.metrics, metrics.JobMetric{
		JobType:    string(job.JobType),
		Transition: "reserve",
		Result:     metrics.ResultSuccess,
	})

	acquired := r.acquireDomainLock(ctx, job)
	if !acquired {
		// Context gone or job cancelled while waiting.
		return
	}
	defer r.releaseDomainLock(job)

	if err := r.orchestrator.Run(ctx, job); err != nil {
		logger.ErrorContext(ctx, "job run failed", "error", err)
	}
}

// acquireDomainLock blocks until the per-domain lock is free, heartbeating
// the job record so a waiting job is not swept as stale. Returns false when
// the wait is abandoned (cancelled context or cancelled job).
func (r *Runner) acquireDomainLock(ctx context.Context, job *model.EnrichmentJob) bool {
	key := lockKeyPrefix + job.Domain
	value := []byte(job.ID)

	for {
		ok, err := r.cache.SetIfNotExists(ctx, key, value, r.lockTTL)
		if err != nil {
			r.logger.WarnContext(ctx, "domain lock check failed", "domain", job.Domain, "error", err)
		}
		if ok {
			return true
		}

		status, statusErr := r.jobs.Status(ctx, job.ID)
		if statusErr != nil || status == model.JobStatusCancelled {
			return false
		}

		step := fmt.Sprintf("waiting for in-flight enrichment of %s", job.Domain)
		_ = r.jobs.UpdateProgress(ctx, core.UpdateJobProgressParams{
			ID:               job.ID,
			CompletedSteps:   job.CompletedSteps,
			CurrentStep:      &step,
			ModulesCompleted: job.ModulesComplete,
			ModulesFailed:    job.ModulesFailed,
			Checkpoint:       job.Checkpoint,
		})

		if !r.sleep(ctx, r.pollInterval) {
			return false
		}
	}
}

// releaseDomainLock deletes the per-domain lock only while this job still
// holds it. A run that outlived the lock TTL must leave the key alone: it
// now belongs to whichever runner re-acquired it.
func (r *Runner) releaseDomainLock(job *model.EnrichmentJob) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key := lockKeyPrefix + job.Domain
	held, err := r.cache.Get(ctx, key)
	if err != nil {
		r.logger.Warn("domain lock read failed", "domain", job.Domain, "error", err)
		return
	}
	if string(held) != job.ID {
		return
	}
	if _, err := r.cache.Delete(ctx, key); err != nil {
		r.logger.Warn("domain lock release failed", "domain", job.Domain, "error", err)
	}
}

// sleep waits for d or until the context is done; returns false when the
// context ended the wait.
func (r *Runner) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
