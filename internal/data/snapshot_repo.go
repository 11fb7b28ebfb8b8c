package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/signalhouse/domain-intel/internal/core"
	"github.com/signalhouse/domain-intel/internal/data/pgxutil"
	"github.com/signalhouse/domain-intel/internal/domain/model"
	apperrors "github.com/signalhouse/domain-intel/internal/errors"
)

// SnapshotRepo provides database operations for the append-only snapshot log.
type SnapshotRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

var _ core.SnapshotRepository = (*SnapshotRepo)(nil)

// NewSnapshotRepo creates a new SnapshotRepo instance with the given database connection.
func NewSnapshotRepo(db *sql.DB) *SnapshotRepo {
	return &SnapshotRepo{
		DB:           db,
		timeProvider: &RealTimeProvider{},
	}
}

// snapshotColumns defines the column list for snapshot SELECT queries to ensure consistent field mapping.
const snapshotColumns = `id, module_type, domain, record_id, version, snapshot_at, snapshot_type, data, source_url, source_date, job_id, triggered_by, diff_from_previous, has_changes, change_count, highest_significance, created_at`

// Insert writes a new snapshot, assigning the next version for its
// (domain, module_type) pair inside a transaction. The unique index on
// (domain, module_type, version) turns a concurrent writer race into a
// conflict error rather than a duplicate version.
func (r *SnapshotRepo) Insert(ctx context.Context, snapshot *model.IntelSnapshot) (*model.IntelSnapshot, error) {
	if snapshot == nil {
		return nil, errors.New("snapshot is required")
	}

	now := r.timeProvider.Now()
	snapshotAt := snapshot.SnapshotAt
	if snapshotAt.IsZero() {
		snapshotAt = now
	}

	query := `
		INSERT INTO intel_snapshots (
			id, module_type, domain, record_id, version, snapshot_at, snapshot_type,
			data, source_url, source_date, job_id, triggered_by,
			diff_from_previous, has_changes, change_count, highest_significance, created_at
		)
		VALUES (
			$1, $2, $3, $4,
			(SELECT COALESCE(MAX(version), 0) + 1 FROM intel_snapshots WHERE domain = $3 AND module_type = $2),
			$5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16
		)
		RETURNING ` + snapshotColumns

	var inserted model.IntelSnapshot
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{Fn: func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query,
			uuid.NewString(), snapshot.ModuleType, snapshot.Domain, snapshot.RecordID,
			snapshotAt, snapshot.SnapshotType,
			snapshot.Data, snapshot.SourceURL, snapshot.SourceDate,
			snapshot.JobID, snapshot.TriggeredBy,
			snapshot.DiffFromPrevious, snapshot.HasChanges, snapshot.ChangeCount,
			snapshot.HighestSignificance, now,
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		inserted, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.IntelSnapshot])
		return err
	}})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeConflict, "concurrent snapshot write for the same domain and module")
		}
		return nil, fmt.Errorf("insert snapshot: %w", err)
	}

	return &inserted, nil
}

// GetByID returns one snapshot by primary key.
func (r *SnapshotRepo) GetByID(ctx context.Context, id string) (*model.IntelSnapshot, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrSnapshotNotFound
	}
	return r.getOne(ctx, `SELECT `+snapshotColumns+` FROM intel_snapshots WHERE id = $1`, id)
}

// GetLatest returns the highest-version snapshot for a domain/module pair.
func (r *SnapshotRepo) GetLatest(ctx context.Context, domain string, moduleType model.ModuleID) (*model.IntelSnapshot, error) {
	return r.getOne(ctx, `
		SELECT `+snapshotColumns+`
		FROM intel_snapshots
		WHERE domain = $1 AND module_type = $2
		ORDER BY version DESC
		LIMIT 1`,
		domain, moduleType)
}

// GetByVersion returns one specific version of a domain/module snapshot.
func (r *SnapshotRepo) GetByVersion(ctx context.Context, params core.SnapshotVersionParams) (*model.IntelSnapshot, error) {
	return r.getOne(ctx, `
		SELECT `+snapshotColumns+`
		FROM intel_snapshots
		WHERE domain = $1 AND module_type = $2 AND version = $3`,
		params.Domain, params.ModuleType, params.Version)
}

// ListHistory returns snapshots for a domain/module pair, newest first.
func (r *SnapshotRepo) ListHistory(ctx context.Context, params core.SnapshotHistoryParams) ([]*model.IntelSnapshot, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = 20
	}

	var snapshots []*model.IntelSnapshot
	err := pgxutil.WithPgxConn(ctx, r.DB, func(pgxConn *pgx.Conn) error {
		rows, err := pgxConn.Query(ctx, `
			SELECT `+snapshotColumns+`
			FROM intel_snapshots
			WHERE domain = $1 AND module_type = $2
			ORDER BY version DESC
			LIMIT $3`,
			params.Domain, params.ModuleType, limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		snapshots, err = pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[model.IntelSnapshot])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list snapshot history: %w", err)
	}
	return snapshots, nil
}

// GetAt returns the snapshot that was current at the given point in time:
// the newest version whose snapshot_at is at or before params.At.
func (r *SnapshotRepo) GetAt(ctx context.Context, params core.SnapshotAtParams) (*model.IntelSnapshot, error) {
	return r.getOne(ctx, `
		SELECT `+snapshotColumns+`
		FROM intel_snapshots
		WHERE domain = $1 AND module_type = $2 AND snapshot_at <= $3
		ORDER BY version DESC
		LIMIT 1`,
		params.Domain, params.ModuleType, params.At)
}

func (r *SnapshotRepo) getOne(ctx context.Context, query string, args ...any) (*model.IntelSnapshot, error) {
	var snapshot model.IntelSnapshot
	err := pgxutil.WithPgxConn(ctx, r.DB, func(pgxConn *pgx.Conn) error {
		rows, err := pgxConn.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		snapshot, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.IntelSnapshot])
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	return &snapshot, nil
}
