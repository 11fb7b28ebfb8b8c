// Package service contains the business logic layer: snapshot versioning,
// change detection, the wave orchestrator, job submission, and the sweeper.
// Services depend on the port interfaces in internal/core, never on the
// concrete repositories.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/signalhouse/domain-intel/internal/core"
	"github.com/signalhouse/domain-intel/internal/domain/citation"
	"github.com/signalhouse/domain-intel/internal/domain/diff"
	"github.com/signalhouse/domain-intel/internal/domain/model"
	apperrors "github.com/signalhouse/domain-intel/internal/errors"
	"github.com/signalhouse/domain-intel/internal/observability/metrics"
	"github.com/signalhouse/domain-intel/internal/observability/statsd"
)

// VersioningServiceOptions groups dependencies for VersioningService.
type VersioningServiceOptions struct {
	Repo    core.SnapshotRepository // Required: snapshot repository
	Logger  *slog.Logger            // Optional: structured logger
	Metrics statsd.Sink             // Optional: metrics sink (StatsD-compatible)
	Time    func() time.Time        // Optional: clock override for tests
}

// VersioningService owns the append-only snapshot log: version assignment,
// diff computation against the previous version, and point-in-time reads.
type VersioningService struct {
	repo    core.SnapshotRepository
	logger  *slog.Logger
	metrics statsd.Sink
	now     func() time.Time
}

// NewVersioningService constructs a new VersioningService.
func NewVersioningService(opts VersioningServiceOptions) (*VersioningService, error) {
	if opts.Repo == nil {
		return nil, errors.New("SnapshotRepository is required")
	}
	now := opts.Time
	if now == nil {
		now = time.Now
	}
	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "versioning_service")
	}
	return &VersioningService{
		repo:    opts.Repo,
		logger:  logger,
		metrics: opts.Metrics,
		now:     now,
	}, nil
}

// CreateSnapshot validates the request, runs the citation gate, diffs the
// data against the current latest version, and appends a new snapshot. The
// first snapshot for a (domain, module) pair carries no diff and reports no
// changes. Data that fails the citation gate is never persisted.
func (s *VersioningService) CreateSnapshot(
	ctx context.Context,
	req *model.CreateSnapshotRequest,
) (*model.IntelSnapshot, error) {
	if req == nil {
		return nil, errors.New("create snapshot request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid snapshot request")
	}

	cite := model.SourceCitation{URL: req.SourceURL, Date: req.SourceDate}
	if err := citation.ValidateResult(cite, req.DataType, s.now()); err != nil {
		return nil, err
	}

	snapshotType := req.SnapshotType
	if snapshotType == "" {
		snapshotType = model.SnapshotTypeAuto
	}

	snapshot := &model.IntelSnapshot{
		ModuleType:   req.ModuleType,
		Domain:       req.Domain,
		RecordID:     req.RecordID,
		SnapshotAt:   s.now(),
		SnapshotType: snapshotType,
		Data:         req.Data,
		SourceURL:    req.SourceURL,
		SourceDate:   req.SourceDate,
		JobID:        req.JobID,
		TriggeredBy:  req.TriggeredBy,
	}

	previous, err := s.repo.GetLatest(ctx, req.Domain, req.ModuleType)
	switch {
	case err == nil:
		d, diffErr := diff.ComputeJSON(previous.Data, req.Data)
		if diffErr != nil {
			return nil, apperrors.Wrapf(diffErr, apperrors.ErrCodeInternal,
				"diff %s snapshot for %s", req.ModuleType, req.Domain)
		}
		diffJSON, marshalErr := json.Marshal(d)
		if marshalErr != nil {
			return nil, apperrors.Wrap(marshalErr, apperrors.ErrCodeInternal, "encode diff")
		}
		snapshot.DiffFromPrevious = diffJSON
		snapshot.HasChanges = d.HasChanges()
		snapshot.ChangeCount = d.ChangeCount()
		snapshot.HighestSignificance = diff.Classify(req.ModuleType, d)
	case isSnapshotNotFound(err):
		// First version: nothing to diff against.
	default:
		return nil, fmt.Errorf("load previous snapshot: %w", err)
	}

	inserted, err := s.repo.Insert(ctx, snapshot)
	if err != nil {
		return nil, err
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "snapshot created",
			"domain", inserted.Domain,
			"module", inserted.ModuleType,
			"version", inserted.Version,
			"has_changes", inserted.HasChanges,
			"change_count", inserted.ChangeCount,
		)
	}
	metrics.EmitSnapshotWrite(s.metrics, metrics.SnapshotMetric{
		ModuleID:    string(inserted.ModuleType),
		HasChanges:  inserted.HasChanges,
		ChangeCount: inserted.ChangeCount,
	})

	return inserted, nil
}

// GetLatest returns the current snapshot for a domain/module pair.
func (s *VersioningService) GetLatest(
	ctx context.Context,
	domain string,
	moduleType model.ModuleID,
) (*model.IntelSnapshot, error) {
	snap, err := s.repo.GetLatest(ctx, domain, moduleType)
	if err != nil {
		if isSnapshotNotFound(err) {
			return nil, apperrors.NotFoundf("no snapshots for %s/%s", domain, moduleType)
		}
		return nil, err
	}
	return snap, nil
}

// GetHistory returns the version history for a domain/module pair, newest first.
func (s *VersioningService) GetHistory(
	ctx context.Context,
	params core.SnapshotHistoryParams,
) ([]*model.IntelSnapshot, error) {
	return s.repo.ListHistory(ctx, params)
}

// GetVersionAt returns the snapshot that was current at the given time.
func (s *VersioningService) GetVersionAt(
	ctx context.Context,
	params core.SnapshotAtParams,
) (*model.IntelSnapshot, error) {
	snap, err := s.repo.GetAt(ctx, params)
	if err != nil {
		if isSnapshotNotFound(err) {
			return nil, apperrors.NotFoundf("no snapshot for %s/%s at %s",
				params.Domain, params.ModuleType, params.At.Format(time.RFC3339))
		}
		return nil, err
	}
	return snap, nil
}

// VersionComparison is the result of diffing two stored versions.
type VersionComparison struct {
	Domain      string          `json:"domain"`
	ModuleType  model.ModuleID  `json:"module_type"`
	FromVersion int             `json:"from_version"`
	ToVersion   int             `json:"to_version"`
	Diff        diff.Diff       `json:"diff"`
	FromData    json.RawMessage `json:"from_data,omitempty"`
	ToData      json.RawMessage `json:"to_data,omitempty"`
}

// CompareVersionsParams addresses two versions of the same domain/module pair.
type CompareVersionsParams struct {
	Domain      string
	ModuleType  model.ModuleID
	FromVersion int
	ToVersion   int
}

// CompareVersions computes a structural diff between two arbitrary stored
// versions, not just adjacent ones.
func (s *VersioningService) CompareVersions(
	ctx context.Context,
	params CompareVersionsParams,
) (*VersionComparison, error) {
	if params.FromVersion == params.ToVersion {
		return nil, apperrors.Validation("from and to versions must differ")
	}

	from, err := s.repo.GetByVersion(ctx, core.SnapshotVersionParams{
		Domain: params.Domain, ModuleType: params.ModuleType, Version: params.FromVersion,
	})
	if err != nil {
		if isSnapshotNotFound(err) {
			return nil, apperrors.NotFoundf("version %d not found for %s/%s",
				params.FromVersion, params.Domain, params.ModuleType)
		}
		return nil, err
	}
	to, err := s.repo.GetByVersion(ctx, core.SnapshotVersionParams{
		Domain: params.Domain, ModuleType: params.ModuleType, Version: params.ToVersion,
	})
	if err != nil {
		if isSnapshotNotFound(err) {
			return nil, apperrors.NotFoundf("version %d not found for %s/%s",
				params.ToVersion, params.Domain, params.ModuleType)
		}
		return nil, err
	}

	d, err := diff.ComputeJSON(from.Data, to.Data)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "diff versions")
	}

	return &VersionComparison{
		Domain:      params.Domain,
		ModuleType:  params.ModuleType,
		FromVersion: params.FromVersion,
		ToVersion:   params.ToVersion,
		Diff:        d,
		FromData:    from.Data,
		ToData:      to.Data,
	}, nil
}

func isSnapshotNotFound(err error) bool {
	return errors.Is(err, model.ErrSnapshotNotFound)
}
