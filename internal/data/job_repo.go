package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/signalhouse/domain-intel/internal/core"
	"github.com/signalhouse/domain-intel/internal/data/pgxutil"
	"github.com/signalhouse/domain-intel/internal/domain/model"
)

// Advisory lock namespace for sweeper operations.
// Using two-arg pg_try_advisory_xact_lock(major, minor) for proper namespacing.
const (
	advisoryLockSweeperMajor   = 2000
	advisoryLockSweeperRequeue = 1 // minor key for RequeueStale
	advisoryLockSweeperDelete  = 2 // minor key for DeleteOldTerminal
)

// JobRepo provides database operations for enrichment job state.
type JobRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

var _ core.EnrichmentJobRepository = (*JobRepo)(nil)

// NewJobRepo creates a new JobRepo instance with the given database connection.
func NewJobRepo(db *sql.DB) *JobRepo {
	return &JobRepo{
		DB:           db,
		timeProvider: &RealTimeProvider{},
	}
}

// jobColumns defines the column list for job SELECT queries to ensure consistent field mapping.
const jobColumns = `id, job_type, domain, modules, waves, status, force, total_steps, completed_steps, current_step, modules_completed, modules_failed, checkpoint, triggered_by, started_at, completed_at, duration_seconds, error_message, created_at, updated_at`

// Create inserts a queued job.
func (r *JobRepo) Create(ctx context.Context, params core.CreateJobParams) (*model.EnrichmentJob, error) {
	req := params.Req
	if req == nil {
		return nil, errors.New("create job request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	jobType := req.JobType
	if jobType == "" {
		jobType = model.JobTypeEnrichment
	}
	modules := req.Modules
	if modules == nil {
		modules = model.ModuleIDList{}
	}
	waves := req.Waves
	if waves == nil {
		waves = []int{}
	}

	now := r.timeProvider.Now()
	query := `
		INSERT INTO enrichment_jobs (
			id, job_type, domain, modules, waves, status, force, total_steps,
			completed_steps, modules_completed, modules_failed, checkpoint,
			triggered_by, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, 'queued', $6, $7, 0, '[]', '[]', NULL, $8, $9, $9)
		RETURNING ` + jobColumns

	var job model.EnrichmentJob
	err := pgxutil.WithPgxConn(ctx, r.DB, func(pgxConn *pgx.Conn) error {
		rows, err := pgxConn.Query(ctx, query,
			uuid.NewString(), jobType, req.Domain, modules, waves,
			req.Force, params.TotalSteps, req.TriggeredBy, now,
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		job, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.EnrichmentJob])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create enrichment job: %w", err)
	}
	return &job, nil
}

// GetByID returns one job by primary key.
func (r *JobRepo) GetByID(ctx context.Context, id string) (*model.EnrichmentJob, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrJobNotFound
	}

	var job model.EnrichmentJob
	err := pgxutil.WithPgxConn(ctx, r.DB, func(pgxConn *pgx.Conn) error {
		rows, err := pgxConn.Query(ctx, `SELECT `+jobColumns+` FROM enrichment_jobs WHERE id = $1`, id)
		if err != nil {
			return err
		}
		defer rows.Close()

		job, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.EnrichmentJob])
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("get enrichment job: %w", err)
	}
	return &job, nil
}

// ReserveNext atomically claims the oldest queued job and marks it running.
// FOR UPDATE SKIP LOCKED keeps concurrent runners from claiming the same row.
// Returns model.ErrNoJobsAvailable when the queue is empty.
func (r *JobRepo) ReserveNext(ctx context.Context) (*model.EnrichmentJob, error) {
	now := r.timeProvider.Now()

	var job model.EnrichmentJob
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{Fn: func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			UPDATE enrichment_jobs
			SET status = 'running', started_at = $1, updated_at = $1
			WHERE id = (
				SELECT id FROM enrichment_jobs
				WHERE status = 'queued'
				ORDER BY created_at
				LIMIT 1
				FOR UPDATE SKIP LOCKED
			)
			RETURNING `+jobColumns,
			now)
		if err != nil {
			return err
		}
		defer rows.Close()

		job, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.EnrichmentJob])
		return err
	}})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNoJobsAvailable
		}
		return nil, fmt.Errorf("reserve enrichment job: %w", err)
	}
	return &job, nil
}

// UpdateProgress writes one checkpoint for a running job. Writes against a
// job that is no longer running are rejected with ErrJobNotFound so a
// cancelled job cannot be resurrected by a slow orchestrator.
func (r *JobRepo) UpdateProgress(ctx context.Context, params core.UpdateJobProgressParams) error {
	if params.ID == "" {
		return errors.New("job id is required")
	}
	modulesCompleted := params.ModulesCompleted
	if modulesCompleted == nil {
		modulesCompleted = model.ModuleIDList{}
	}
	modulesFailed := params.ModulesFailed
	if modulesFailed == nil {
		modulesFailed = model.ModuleIDList{}
	}
	completedJSON, err := json.Marshal(modulesCompleted)
	if err != nil {
		return fmt.Errorf("encode modules completed: %w", err)
	}
	failedJSON, err := json.Marshal(modulesFailed)
	if err != nil {
		return fmt.Errorf("encode modules failed: %w", err)
	}

	now := r.timeProvider.Now()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE enrichment_jobs
		SET completed_steps = $2,
			current_step = $3,
			modules_completed = $4,
			modules_failed = $5,
			checkpoint = $6,
			updated_at = $7
		WHERE id = $1 AND status = 'running'`,
		params.ID, params.CompletedSteps, params.CurrentStep,
		completedJSON, failedJSON, params.Checkpoint, now)
	if err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	if affected == 0 {
		return ErrJobNotFound
	}
	return nil
}

// Finish marks a running job terminal and records its duration.
func (r *JobRepo) Finish(ctx context.Context, params core.FinishJobParams) error {
	if params.ID == "" {
		return errors.New("job id is required")
	}
	if !params.Status.Terminal() {
		return fmt.Errorf("finish requires a terminal status, got %q", params.Status)
	}
	completedAt := params.CompletedAt
	if completedAt.IsZero() {
		completedAt = r.timeProvider.Now()
	}

	res, err := r.DB.ExecContext(ctx, `
		UPDATE enrichment_jobs
		SET status = $2,
			error_message = $3,
			completed_at = $4,
			duration_seconds = EXTRACT(EPOCH FROM ($4::timestamptz - started_at)),
			current_step = NULL,
			updated_at = $4
		WHERE id = $1 AND status = 'running'`,
		params.ID, params.Status, params.ErrorMessage, completedAt)
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	if affected == 0 {
		return ErrJobNotFound
	}
	return nil
}

// Cancel flips a queued or running job to cancelled. Returns false when the
// job was already terminal.
func (r *JobRepo) Cancel(ctx context.Context, id string) (bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return false, ErrJobNotFound
	}

	now := r.timeProvider.Now()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE enrichment_jobs
		SET status = 'cancelled', completed_at = $2, updated_at = $2
		WHERE id = $1 AND status IN ('queued', 'running')`,
		id, now)
	if err != nil {
		return false, fmt.Errorf("cancel job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("cancel job: %w", err)
	}
	return affected > 0, nil
}

// Status returns just the job's current status.
func (r *JobRepo) Status(ctx context.Context, id string) (model.JobStatus, error) {
	if _, err := uuid.Parse(id); err != nil {
		return "", ErrJobNotFound
	}

	var status model.JobStatus
	err := r.DB.QueryRowContext(ctx,
		`SELECT status FROM enrichment_jobs WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrJobNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get job status: %w", err)
	}
	return status, nil
}

// Stats summarizes job counts by state.
func (r *JobRepo) Stats(ctx context.Context) (*model.JobStats, error) {
	var stats model.JobStats
	err := r.DB.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'queued'),
			COUNT(*) FILTER (WHERE status = 'running'),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			COUNT(*) FILTER (WHERE status = 'cancelled')
		FROM enrichment_jobs`).Scan(
		&stats.Queued, &stats.Running, &stats.Completed, &stats.Failed, &stats.Cancelled)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	return &stats, nil
}

// ListRecent returns the most recently created jobs.
func (r *JobRepo) ListRecent(ctx context.Context, limit int) ([]*model.EnrichmentJob, error) {
	if limit <= 0 {
		limit = 20
	}

	var jobs []*model.EnrichmentJob
	err := pgxutil.WithPgxConn(ctx, r.DB, func(pgxConn *pgx.Conn) error {
		rows, err := pgxConn.Query(ctx, `
			SELECT `+jobColumns+`
			FROM enrichment_jobs
			ORDER BY created_at DESC
			LIMIT $1`, limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		jobs, err = pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[model.EnrichmentJob])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list recent jobs: %w", err)
	}
	return jobs, nil
}

// RequeueStale flips running jobs whose updated_at is older than maxAge back
// to queued so a crashed runner's work is retried from its last checkpoint.
// Processes up to batchSize jobs per call to prevent long locks and I/O spikes.
// Uses advisory locks to prevent concurrent sweeper instances from conflicting.
func (r *JobRepo) RequeueStale(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error) {
	var rowsAffected int64
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var locked bool
			if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1, $2)",
				advisoryLockSweeperMajor, advisoryLockSweeperRequeue).Scan(&locked); err != nil {
				return fmt.Errorf("acquire advisory lock: %w", err)
			}
			if !locked {
				rowsAffected = 0
				return nil
			}

			now := r.timeProvider.Now()
			cutoff := now.Add(-maxAge)

			res, err := tx.ExecContext(ctx, `
				UPDATE enrichment_jobs
				SET status = 'queued', started_at = NULL, current_step = NULL, updated_at = $1
				WHERE id IN (
					SELECT id FROM enrichment_jobs
					WHERE status = 'running'
					  AND updated_at < $2
					ORDER BY updated_at
					LIMIT $3
				)`,
				now.UTC(), cutoff.UTC(), batchSize)
			if err != nil {
				return fmt.Errorf("requeue stale jobs: %w", err)
			}

			ra, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			rowsAffected = ra
			return nil
		},
	})
	if err != nil {
		return 0, err
	}
	return rowsAffected, nil
}

// DeleteOldTerminal deletes terminal jobs older than maxAge.
// Processes up to batchSize jobs per call to prevent long locks and I/O spikes.
func (r *JobRepo) DeleteOldTerminal(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error) {
	var rowsAffected int64
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var locked bool
			if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1, $2)",
				advisoryLockSweeperMajor, advisoryLockSweeperDelete).Scan(&locked); err != nil {
				return fmt.Errorf("acquire advisory lock: %w", err)
			}
			if !locked {
				rowsAffected = 0
				return nil
			}

			cutoff := r.timeProvider.Now().Add(-maxAge)

			res, err := tx.ExecContext(ctx, `
				DELETE FROM enrichment_jobs
				WHERE id IN (
					SELECT id FROM enrichment_jobs
					WHERE status IN ('completed', 'failed', 'cancelled')
					  AND completed_at < $1
					ORDER BY completed_at
					LIMIT $2
				)`,
				cutoff.UTC(), batchSize)
			if err != nil {
				return fmt.Errorf("delete old terminal jobs: %w", err)
			}

			ra, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			rowsAffected = ra
			return nil
		},
	})
	if err != nil {
		return 0, err
	}
	return rowsAffected, nil
}
