package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/signalhouse/domain-intel/internal/core"
	"github.com/signalhouse/domain-intel/internal/domain/diff"
	"github.com/signalhouse/domain-intel/internal/domain/model"
	apperrors "github.com/signalhouse/domain-intel/internal/errors"
)

// ChangeDetectionServiceOptions groups dependencies for ChangeDetectionService.
type ChangeDetectionServiceOptions struct {
	Repo   core.ChangeEventRepository // Required: change event repository
	Logger *slog.Logger               // Optional: structured logger
	Time   func() time.Time           // Optional: clock override for tests
}

// ChangeDetectionService turns snapshot diffs into discrete, categorized,
// significance-scored change events.
type ChangeDetectionService struct {
	repo   core.ChangeEventRepository
	logger *slog.Logger
	now    func() time.Time
}

// NewChangeDetectionService constructs a new ChangeDetectionService.
func NewChangeDetectionService(opts ChangeDetectionServiceOptions) (*ChangeDetectionService, error) {
	if opts.Repo == nil {
		return nil, errors.New("ChangeEventRepository is required")
	}
	now := opts.Time
	if now == nil {
		now = time.Now
	}
	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "change_detection_service")
	}
	return &ChangeDetectionService{repo: opts.Repo, logger: logger, now: now}, nil
}

// RecordChanges extracts change events from a snapshot's stored diff and
// bulk-inserts them. Snapshots without changes (including every version 1)
// produce no events. Returns the events written.
func (s *ChangeDetectionService) RecordChanges(
	ctx context.Context,
	snapshot *model.IntelSnapshot,
) ([]*model.ChangeEvent, error) {
	if snapshot == nil {
		return nil, errors.New("snapshot is required")
	}
	if !snapshot.HasChanges || len(snapshot.DiffFromPrevious) == 0 {
		return nil, nil
	}

	var d diff.Diff
	if err := json.Unmarshal(snapshot.DiffFromPrevious, &d); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "decode snapshot diff")
	}

	events := s.ExtractEvents(snapshot, d)
	if len(events) == 0 {
		return nil, nil
	}

	if _, err := s.repo.BulkInsert(ctx, events); err != nil {
		return nil, err
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "change events recorded",
			"domain", snapshot.Domain,
			"module", snapshot.ModuleType,
			"snapshot_version", snapshot.Version,
			"events", len(events),
		)
	}
	return events, nil
}

// ExtractEvents builds the event list for one snapshot diff without
// persisting anything. Events are ordered by field name within each bucket
// for determinism.
func (s *ChangeDetectionService) ExtractEvents(snapshot *model.IntelSnapshot, d diff.Diff) []*model.ChangeEvent {
	detectedAt := snapshot.SnapshotAt
	if detectedAt.IsZero() {
		detectedAt = s.now()
	}

	base := func(field string) *model.ChangeEvent {
		return &model.ChangeEvent{
			SnapshotID: snapshot.ID,
			Domain:     snapshot.Domain,
			ModuleType: snapshot.ModuleType,
			Category:   categorize(snapshot.ModuleType, field),
			Field:      field,
			DetectedAt: detectedAt,
		}
	}

	var events []*model.ChangeEvent

	for _, field := range sortedKeys(d.Changed) {
		fc := d.Changed[field]
		ev := base(field)
		ev.OldValue = mustJSON(fc.Old)
		ev.NewValue = mustJSON(fc.New)
		score := CalculateSignificance(SignificanceInput{
			ModuleType: snapshot.ModuleType, Field: field,
			OldValue: fc.Old, NewValue: fc.New, Kind: ChangeKindModified,
		})
		ev.Significance = score.Level
		ev.AlgoliaRelevance = score.Score
		ev.Summary = fmt.Sprintf("%s: %s changed", snapshot.ModuleType, field)
		events = append(events, ev)
	}
	for _, field := range sortedKeys(d.Added) {
		ev := base(field)
		ev.NewValue = mustJSON(d.Added[field])
		score := CalculateSignificance(SignificanceInput{
			ModuleType: snapshot.ModuleType, Field: field,
			NewValue: d.Added[field], Kind: ChangeKindAdded,
		})
		ev.Significance = score.Level
		ev.AlgoliaRelevance = score.Score
		ev.Summary = fmt.Sprintf("%s: %s added", snapshot.ModuleType, field)
		events = append(events, ev)
	}
	for _, field := range sortedKeys(d.Removed) {
		ev := base(field)
		ev.OldValue = mustJSON(d.Removed[field])
		score := CalculateSignificance(SignificanceInput{
			ModuleType: snapshot.ModuleType, Field: field,
			OldValue: d.Removed[field], Kind: ChangeKindRemoved,
		})
		ev.Significance = score.Level
		ev.AlgoliaRelevance = score.Score
		ev.Summary = fmt.Sprintf("%s: %s removed", snapshot.ModuleType, field)
		events = append(events, ev)
	}

	return events
}

// ListEvents returns change events matching the filter.
func (s *ChangeDetectionService) ListEvents(
	ctx context.Context,
	opts *model.ChangeEventListOptions,
) ([]*model.ChangeEvent, error) {
	return s.repo.List(ctx, opts)
}

// ListRecentEvents returns the recent change feed, optionally scoped to a
// watchlist of domains.
func (s *ChangeDetectionService) ListRecentEvents(
	ctx context.Context,
	opts *model.ChangeEventListOptions,
) ([]*model.ChangeEvent, error) {
	return s.repo.ListRecent(ctx, opts)
}

// GetEvent returns one change event by ID.
func (s *ChangeDetectionService) GetEvent(ctx context.Context, id string) (*model.ChangeEvent, error) {
	ev, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, model.ErrChangeEventNotFound) {
			return nil, apperrors.NotFoundf("change event %s not found", id)
		}
		return nil, err
	}
	return ev, nil
}

// ChangeKind distinguishes the three diff buckets for scoring.
type ChangeKind string

const (
	// ChangeKindAdded marks a field present only in the new version.
	ChangeKindAdded ChangeKind = "added"
	// ChangeKindRemoved marks a field present only in the old version.
	ChangeKindRemoved ChangeKind = "removed"
	// ChangeKindModified marks a field whose value changed.
	ChangeKindModified ChangeKind = "modified"
)

// SignificanceInput carries one field-level change into the scoring model.
type SignificanceInput struct {
	ModuleType model.ModuleID
	Field      string
	OldValue   any
	NewValue   any
	Kind       ChangeKind
}

// SignificanceScore is the scored outcome: a relevance value in [0,1] and
// the level it maps to.
type SignificanceScore struct {
	Score float64
	Level model.Significance
}

// Base scores per module type. Modules whose output moves markets or
// people start higher than derived analysis modules.
var moduleBaseScore = map[model.ModuleID]float64{
	model.ModuleCompanyContext:    0.30,
	model.ModuleTechStack:         0.55,
	model.ModuleTraffic:           0.30,
	model.ModuleFinancials:        0.50,
	model.ModuleCompetitors:       0.40,
	model.ModuleHiring:            0.45,
	model.ModuleStrategicSignals:  0.45,
	model.ModuleInvestorRelations: 0.50,
	model.ModuleExecutives:        0.55,
	model.ModuleDisplacement:      0.40,
	model.ModuleCaseStudies:       0.25,
	model.ModuleBuyingCommittee:   0.35,
	model.ModuleICPScore:          0.40,
	model.ModuleSignalScore:       0.40,
	model.ModuleStrategicBrief:    0.25,
}

const defaultBaseScore = 0.30

// CalculateSignificance scores one field-level change. The score starts at
// the module's base, gains bonuses for high-leverage fields (search
// providers, C-level titles, revenue figures) and for the magnitude of
// numeric swings, and maps onto levels at 0.9/0.7/0.5. A removal never
// levels below high: data disappearing is how displacement shows up.
func CalculateSignificance(in SignificanceInput) SignificanceScore {
	score, ok := moduleBaseScore[in.ModuleType]
	if !ok {
		score = defaultBaseScore
	}

	field := strings.ToLower(in.Field)
	switch {
	case strings.Contains(field, "search"):
		score += 0.40
	case strings.Contains(field, "provider"):
		score += 0.30
	case strings.Contains(field, "executive"):
		score += 0.25
	case strings.Contains(field, "revenue") || strings.Contains(field, "funding"):
		score += 0.25
	case strings.Contains(field, "stock"):
		score += 0.20
	case strings.Contains(field, "score"):
		score += 0.15
	}

	if in.Kind == ChangeKindRemoved {
		score += 0.15
	}

	score += magnitudeBonus(in.OldValue, in.NewValue)

	if score > 1 {
		score = 1
	}

	level := levelForScore(score)
	if in.Kind == ChangeKindRemoved {
		level = model.MaxSignificance(level, model.SignificanceHigh)
	}

	return SignificanceScore{Score: score, Level: level}
}

func levelForScore(score float64) model.Significance {
	switch {
	case score >= 0.9:
		return model.SignificanceCritical
	case score >= 0.7:
		return model.SignificanceHigh
	case score >= 0.5:
		return model.SignificanceMedium
	default:
		return model.SignificanceLow
	}
}

// categorize routes a field-level change into an alert bucket: the field
// name's keywords win, the producing module's default bucket is the
// fallback. A roster field in a financial module is still an executive
// change.
func categorize(moduleType model.ModuleID, field string) model.ChangeCategory {
	f := strings.ToLower(field)
	switch {
	case strings.Contains(f, "executive") || strings.Contains(f, "ceo") || strings.Contains(f, "cfo"):
		return model.CategoryExecutiveChange
	case strings.Contains(f, "tech") || strings.Contains(f, "search") || strings.Contains(f, "provider"):
		return model.CategoryTechStackChange
	case strings.Contains(f, "revenue") || strings.Contains(f, "funding") || strings.Contains(f, "stock"):
		return model.CategoryFinancialChange
	case strings.Contains(f, "hiring") || strings.Contains(f, "roles"):
		return model.CategoryHiringChange
	case strings.Contains(f, "traffic") || strings.Contains(f, "visits"):
		return model.CategoryTrafficChange
	case strings.Contains(f, "score"):
		return model.CategoryScoreChange
	case strings.Contains(f, "competitor") || strings.Contains(f, "displace"):
		return model.CategoryCompetitiveChange
	}

	switch moduleType {
	case model.ModuleExecutives, model.ModuleBuyingCommittee:
		return model.CategoryExecutiveChange
	case model.ModuleTechStack:
		return model.CategoryTechStackChange
	case model.ModuleFinancials, model.ModuleInvestorRelations:
		return model.CategoryFinancialChange
	case model.ModuleHiring:
		return model.CategoryHiringChange
	case model.ModuleTraffic:
		return model.CategoryTrafficChange
	case model.ModuleICPScore, model.ModuleSignalScore:
		return model.CategoryScoreChange
	case model.ModuleCompetitors, model.ModuleDisplacement:
		return model.CategoryCompetitiveChange
	default:
		return model.CategoryGeneralChange
	}
}

// magnitudeBonus grades numeric swings. A metric that moved more than half
// its prior value is a different company; more than a fifth is worth a nudge.
// Non-numeric values and zero baselines contribute nothing.
func magnitudeBonus(oldValue, newValue any) float64 {
	oldN, okOld := asNumber(oldValue)
	newN, okNew := asNumber(newValue)
	if !okOld || !okNew || oldN == 0 {
		return 0
	}

	switch pct := math.Abs((newN - oldN) / oldN); {
	case pct > 0.5:
		return 0.2
	case pct > 0.2:
		return 0.1
	default:
		return 0
	}
}

func asNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func mustJSON(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`null`)
	}
	return b
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
