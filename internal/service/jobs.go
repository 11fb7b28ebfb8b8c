package service

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/signalhouse/domain-intel/internal/core"
	"github.com/signalhouse/domain-intel/internal/domain/model"
	"github.com/signalhouse/domain-intel/internal/enrich"
	apperrors "github.com/signalhouse/domain-intel/internal/errors"
	"github.com/signalhouse/domain-intel/internal/observability/metrics"
	"github.com/signalhouse/domain-intel/internal/observability/statsd"
)

// JobServiceOptions groups dependencies for JobService.
type JobServiceOptions struct {
	Repo     core.EnrichmentJobRepository // Required: job repository
	Registry *enrich.Registry             // Required: module registry for target resolution
	Logger   *slog.Logger                 // Optional: structured logger
	Metrics  statsd.Sink                  // Optional: metrics sink (StatsD-compatible)
}

// JobService owns job submission and the externally visible job surface:
// status, cancellation, stats, recent history.
type JobService struct {
	repo     core.EnrichmentJobRepository
	registry *enrich.Registry
	logger   *slog.Logger
	metrics  statsd.Sink
}

// NewJobService constructs a new JobService.
func NewJobService(opts JobServiceOptions) (*JobService, error) {
	if opts.Repo == nil {
		return nil, errors.New("EnrichmentJobRepository is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("module registry is required")
	}
	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "job_service")
	}
	return &JobService{
		repo:     opts.Repo,
		registry: opts.Registry,
		logger:   logger,
		metrics:  opts.Metrics,
	}, nil
}

// Submit validates and enqueues an enrichment job. The domain is normalized
// to its registrable form (scheme, path, and subdomains stripped) so
// "https://www.acme.co.uk/about" and "acme.co.uk" address the same company.
func (s *JobService) Submit(
	ctx context.Context,
	req *model.CreateEnrichmentJobRequest,
) (*model.EnrichmentJob, error) {
	if req == nil {
		return nil, errors.New("create job request is required")
	}

	domain, err := NormalizeDomain(req.Domain)
	if err != nil {
		return nil, err
	}
	req.Domain = domain

	if err := req.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid job request")
	}
	for _, id := range req.Modules {
		if _, ok := s.registry.Get(id); !ok {
			return nil, apperrors.Validationf("unknown module: %s", id)
		}
	}

	totalSteps, err := s.countTargets(req)
	if err != nil {
		return nil, err
	}

	job, err := s.repo.Create(ctx, core.CreateJobParams{Req: req, TotalSteps: totalSteps})
	if err != nil {
		return nil, err
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "job submitted",
			"job_id", job.ID, "domain", job.Domain,
			"job_type", job.JobType, "total_steps", job.TotalSteps)
	}
	metrics.EmitJobLifecycle(s.metrics, metrics.JobMetric{
		JobType:    string(job.JobType),
		Transition: "submit",
		Result:     metrics.ResultSuccess,
	})

	return job, nil
}

func (s *JobService) countTargets(req *model.CreateEnrichmentJobRequest) (int, error) {
	switch {
	case len(req.Modules) > 0:
		return len(req.Modules), nil
	case len(req.Waves) > 0:
		total := 0
		for _, w := range req.Waves {
			total += len(s.registry.ByWave(w))
		}
		if total == 0 {
			return 0, apperrors.Validation("selected waves contain no modules")
		}
		return total, nil
	default:
		return s.registry.Len(), nil
	}
}

// GetStatus returns the externally visible status summary for a job.
func (s *JobService) GetStatus(ctx context.Context, id string) (*model.JobStatusResponse, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, model.ErrJobNotFound) {
			return nil, apperrors.NotFoundf("job %s not found", id)
		}
		return nil, err
	}

	return &model.JobStatusResponse{
		ID:               job.ID,
		Status:           job.Status,
		Progress:         job.Progress(),
		ModulesCompleted: job.ModulesComplete,
		ModulesFailed:    job.ModulesFailed,
		CurrentStep:      job.CurrentStep,
		ErrorMessage:     job.ErrorMessage,
		CompletedAt:      job.CompletedAt,
	}, nil
}

// Cancel requests cancellation of a queued or running job. Running jobs
// stop cooperatively at the next wave boundary. Cancelling an already
// terminal job is a conflict.
func (s *JobService) Cancel(ctx context.Context, id string) error {
	ok, err := s.repo.Cancel(ctx, id)
	if err != nil {
		if errors.Is(err, model.ErrJobNotFound) {
			return apperrors.NotFoundf("job %s not found", id)
		}
		return err
	}
	if !ok {
		return apperrors.Conflict("job is already finished")
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "job cancellation requested", "job_id", id)
	}
	return nil
}

// Stats returns queue counts by state.
func (s *JobService) Stats(ctx context.Context) (*model.JobStats, error) {
	return s.repo.Stats(ctx)
}

// ListRecent returns the most recently created jobs.
func (s *JobService) ListRecent(ctx context.Context, limit int) ([]*model.EnrichmentJob, error) {
	return s.repo.ListRecent(ctx, limit)
}

// NormalizeDomain reduces any of the accepted input shapes (bare domain,
// host with subdomains, full URL) to the registrable domain, lowercased.
func NormalizeDomain(input string) (string, error) {
	raw := strings.TrimSpace(strings.ToLower(input))
	if raw == "" {
		return "", apperrors.ValidationField("domain", "domain is required")
	}

	host := raw
	if strings.Contains(raw, "/") || strings.Contains(raw, "://") {
		candidate := raw
		if !strings.Contains(candidate, "://") {
			candidate = "https://" + candidate
		}
		u, err := url.Parse(candidate)
		if err != nil || u.Hostname() == "" {
			return "", apperrors.ValidationField("domain", "unparseable domain: "+input)
		}
		host = u.Hostname()
	}
	host = strings.TrimSuffix(host, ".")
	if host == "" || !strings.Contains(host, ".") {
		return "", apperrors.ValidationField("domain", "not a registrable domain: "+input)
	}

	etld, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return "", apperrors.ValidationField("domain", "not a registrable domain: "+input)
	}
	return etld, nil
}
