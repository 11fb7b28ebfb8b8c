package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"log/slog"
	"time"

	"github.com/signalhouse/domain-intel/config"
	"github.com/signalhouse/domain-intel/internal/core"
	"github.com/signalhouse/domain-intel/internal/observability/statsd"
)

// SweeperServiceOptions groups dependencies for SweeperService.
type SweeperServiceOptions struct {
	Repo    core.EnrichmentJobRepository // Required: job repository
	Config  config.SweeperConfig         // Required: sweeper configuration
	Logger  *slog.Logger                 // Optional: structured logger
	Metrics statsd.Sink                  // Optional: metrics sink (StatsD-compatible)
}

// SweeperService provides job recovery and cleanup operations.
//
// This service manages:
// - Requeueing running jobs whose runner stopped writing progress (crash recovery).
// - Deleting old terminal jobs to prevent database bloat.
type SweeperService struct {
	repo    core.EnrichmentJobRepository
	config  config.SweeperConfig
	logger  *slog.Logger
	metrics statsd.Sink
}

// NewSweeperService constructs a new SweeperService.
func NewSweeperService(opts SweeperServiceOptions) (*SweeperService, error) {
	if opts.Repo == nil {
		return nil, errors.New("EnrichmentJobRepository is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "sweeper_service")
		logger.Debug("SweeperService initialized",
			"interval", opts.Config.Interval,
			"stale_running_max_age", opts.Config.StaleRunningMaxAge,
			"terminal_max_age", opts.Config.TerminalMaxAge,
		)
	}

	return &SweeperService{
		repo:    opts.Repo,
		config:  opts.Config,
		logger:  logger,
		metrics: opts.Metrics,
	}, nil
}

// Run starts the sweeper loop and runs until the context is cancelled.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (s *SweeperService) Run(ctx context.Context) error {
	if s.logger != nil {
		s.logger.InfoContext(ctx, "starting sweeper service", "interval", s.config.Interval)
	}

	// Jitter prevents a thundering herd when multiple instances start together.
	s.waitWithJitter(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	if err := s.Sweep(ctx); err != nil {
		s.logSweepError(ctx, err)
	}

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logSweepError(ctx, err)
			}
		}
	}
}

// Sweep performs one recovery-and-cleanup pass.
func (s *SweeperService) Sweep(ctx context.Context) error {
	requeued, err := s.repo.RequeueStale(ctx, s.config.StaleRunningMaxAge, s.config.BatchSize)
	if err != nil {
		return err
	}
	if requeued > 0 {
		if s.logger != nil {
			s.logger.InfoContext(ctx, "requeued stale running jobs", "count", requeued)
		}
		if s.metrics != nil {
			s.metrics.Count("sweeper.requeued", requeued, nil)
		}
	}

	deleted, err := s.repo.DeleteOldTerminal(ctx, s.config.TerminalMaxAge, s.config.BatchSize)
	if err != nil {
		return err
	}
	if deleted > 0 {
		if s.logger != nil {
			s.logger.InfoContext(ctx, "deleted old terminal jobs", "count", deleted)
		}
		if s.metrics != nil {
			s.metrics.Count("sweeper.deleted", deleted, nil)
		}
	}

	return nil
}

// waitWithJitter adds a random delay up to 10% of the interval.
func (s *SweeperService) waitWithJitter(ctx context.Context) {
	maxJitter := int64(s.config.Interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// If crypto/rand fails, skip jitter rather than failing startup.
		if s.logger != nil {
			s.logger.WarnContext(ctx, "failed to generate jitter, skipping", "error", err)
		}
		return
	}

	jitterNanos := binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter)
	jitter := time.Duration(int64(jitterNanos)) // #nosec G115 - bounded by maxJitter which is int64

	select {
	case <-time.After(jitter):
	case <-ctx.Done():
	}
}

func (s *SweeperService) logSweepError(ctx context.Context, err error) {
	if s.logger != nil {
		s.logger.ErrorContext(ctx, "sweep failed", "error", err)
	}
	if s.metrics != nil {
		s.metrics.Count("sweeper.errors", 1, nil)
	}
}
