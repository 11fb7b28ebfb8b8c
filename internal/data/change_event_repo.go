package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/signalhouse/domain-intel/internal/core"
	"github.com/signalhouse/domain-intel/internal/data/pgxutil"
	"github.com/signalhouse/domain-intel/internal/domain/model"
)

// ChangeEventRepo provides database operations for change events.
type ChangeEventRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

var _ core.ChangeEventRepository = (*ChangeEventRepo)(nil)

// NewChangeEventRepo creates a new ChangeEventRepo instance with the given database connection.
func NewChangeEventRepo(db *sql.DB) *ChangeEventRepo {
	return &ChangeEventRepo{
		DB:           db,
		timeProvider: &RealTimeProvider{},
	}
}

// changeEventColumns defines the column list for change event SELECT queries to ensure consistent field mapping.
const changeEventColumns = `id, snapshot_id, domain, module_type, category, significance, field, old_value, new_value, summary, algolia_relevance, detected_at`

const defaultChangeEventLimit = 50

// BulkInsert writes all events from one snapshot in a single transaction and
// returns the number written. An empty slice is a no-op.
func (r *ChangeEventRepo) BulkInsert(ctx context.Context, events []*model.ChangeEvent) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	now := r.timeProvider.Now()
	rows := make([][]any, 0, len(events))
	for _, ev := range events {
		if ev == nil {
			return 0, errors.New("nil change event in batch")
		}
		id := ev.ID
		if id == "" {
			id = uuid.NewString()
		}
		detectedAt := ev.DetectedAt
		if detectedAt.IsZero() {
			detectedAt = now
		}
		rows = append(rows, []any{
			id, ev.SnapshotID, ev.Domain, ev.ModuleType, ev.Category, ev.Significance,
			ev.Field, []byte(ev.OldValue), []byte(ev.NewValue), ev.Summary,
			ev.AlgoliaRelevance, detectedAt,
		})
	}

	var inserted int64
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{Fn: func(tx pgx.Tx) error {
		n, err := tx.CopyFrom(ctx,
			pgx.Identifier{"change_events"},
			strings.Split(changeEventColumns, ", "),
			pgx.CopyFromRows(rows),
		)
		inserted = n
		return err
	}})
	if err != nil {
		return 0, fmt.Errorf("bulk insert change events: %w", err)
	}
	return int(inserted), nil
}

// List returns change events matching the filter options, newest first.
func (r *ChangeEventRepo) List(ctx context.Context, opts *model.ChangeEventListOptions) ([]*model.ChangeEvent, error) {
	if opts == nil {
		opts = &model.ChangeEventListOptions{}
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	query, args := buildChangeEventQuery(opts)

	var events []*model.ChangeEvent
	err := pgxutil.WithPgxConn(ctx, r.DB, func(pgxConn *pgx.Conn) error {
		rows, err := pgxConn.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		events, err = pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[model.ChangeEvent])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list change events: %w", err)
	}
	return events, nil
}

// ListRecent is List restricted to a recency window; it exists for the feed
// endpoints that always query "what changed lately" across many domains.
func (r *ChangeEventRepo) ListRecent(ctx context.Context, opts *model.ChangeEventListOptions) ([]*model.ChangeEvent, error) {
	if opts == nil {
		opts = &model.ChangeEventListOptions{}
	}
	if opts.Since.IsZero() {
		scoped := *opts
		scoped.Since = r.timeProvider.Now().AddDate(0, 0, -7)
		opts = &scoped
	}
	return r.List(ctx, opts)
}

// GetByID returns one change event by primary key.
func (r *ChangeEventRepo) GetByID(ctx context.Context, id string) (*model.ChangeEvent, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrChangeEventNotFound
	}

	var event model.ChangeEvent
	err := pgxutil.WithPgxConn(ctx, r.DB, func(pgxConn *pgx.Conn) error {
		rows, err := pgxConn.Query(ctx,
			`SELECT `+changeEventColumns+` FROM change_events WHERE id = $1`, id)
		if err != nil {
			return err
		}
		defer rows.Close()

		event, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.ChangeEvent])
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrChangeEventNotFound
		}
		return nil, fmt.Errorf("get change event: %w", err)
	}
	return &event, nil
}

// buildChangeEventQuery assembles the filtered SELECT. Filters are ANDed;
// zero values contribute no clause.
func buildChangeEventQuery(opts *model.ChangeEventListOptions) (string, []any) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + changeEventColumns + ` FROM change_events`)

	var clauses []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if opts.Domain != "" {
		clauses = append(clauses, "domain = "+arg(opts.Domain))
	}
	if len(opts.Domains) > 0 {
		clauses = append(clauses, "domain = ANY("+arg(opts.Domains)+")")
	}
	if opts.ModuleType != "" {
		clauses = append(clauses, "module_type = "+arg(opts.ModuleType))
	}
	if opts.Category != "" {
		clauses = append(clauses, "category = "+arg(opts.Category))
	}
	if opts.MinSignificance != "" {
		levels := atLeastLevels(opts.MinSignificance)
		clauses = append(clauses, "significance = ANY("+arg(levels)+")")
	}
	if !opts.Since.IsZero() {
		clauses = append(clauses, "detected_at >= "+arg(opts.Since))
	}
	if !opts.Until.IsZero() {
		clauses = append(clauses, "detected_at <= "+arg(opts.Until))
	}

	if len(clauses) > 0 {
		sb.WriteString(" WHERE " + strings.Join(clauses, " AND "))
	}
	sb.WriteString(" ORDER BY detected_at DESC, id")

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultChangeEventLimit
	}
	sb.WriteString(" LIMIT " + arg(limit))
	if opts.Offset > 0 {
		sb.WriteString(" OFFSET " + arg(opts.Offset))
	}

	return sb.String(), args
}

// atLeastLevels expands a minimum significance into the explicit level set,
// since the levels are words with no natural SQL ordering.
func atLeastLevels(minimum model.Significance) []string {
	all := []model.Significance{
		model.SignificanceCritical,
		model.SignificanceHigh,
		model.SignificanceMedium,
		model.SignificanceLow,
	}
	var out []string
	for _, s := range all {
		if s.AtLeast(minimum) {
			out = append(out, string(s))
		}
	}
	return out
}
