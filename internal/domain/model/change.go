package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ChangeCategory buckets change events for alert routing.
type ChangeCategory string

const (
	// CategoryExecutiveChange covers leadership roster movement.
	CategoryExecutiveChange ChangeCategory = "executive_change"
	// CategoryTechStackChange covers technographic movement.
	CategoryTechStackChange ChangeCategory = "tech_stack_change"
	// CategoryFinancialChange covers revenue/funding/market data movement.
	CategoryFinancialChange ChangeCategory = "financial_change"
	// CategoryHiringChange covers headcount and open-role movement.
	CategoryHiringChange ChangeCategory = "hiring_change"
	// CategoryTrafficChange covers web traffic movement.
	CategoryTrafficChange ChangeCategory = "traffic_change"
	// CategoryScoreChange covers ICP/signal score movement.
	CategoryScoreChange ChangeCategory = "score_change"
	// CategoryCompetitiveChange covers competitor and displacement movement.
	CategoryCompetitiveChange ChangeCategory = "competitive_change"
	// CategoryGeneralChange is the fallback bucket.
	CategoryGeneralChange ChangeCategory = "general_change"
)

// Valid returns true if the ChangeCategory is one of the known buckets.
func (c ChangeCategory) Valid() bool {
	switch c {
	case CategoryExecutiveChange, CategoryTechStackChange, CategoryFinancialChange,
		CategoryHiringChange, CategoryTrafficChange, CategoryScoreChange,
		CategoryCompetitiveChange, CategoryGeneralChange:
		return true
	default:
		return false
	}
}

// ChangeEvent is one discrete, categorized, significance-scored fact
// extracted from a snapshot diff. Events are written in bulk from a single
// snapshot and are immutable.
type ChangeEvent struct {
	ID               string          `json:"id"                  db:"id"`
	SnapshotID       string          `json:"snapshot_id"         db:"snapshot_id"`
	Domain           string          `json:"domain"              db:"domain"`
	ModuleType       ModuleID        `json:"module_type"         db:"module_type"`
	Category         ChangeCategory  `json:"category"            db:"category"`
	Significance     Significance    `json:"significance"        db:"significance"`
	Field            string          `json:"field"               db:"field"`
	OldValue         json.RawMessage `json:"old_value,omitempty" db:"old_value"`
	NewValue         json.RawMessage `json:"new_value,omitempty" db:"new_value"`
	Summary          string          `json:"summary"             db:"summary"`
	AlgoliaRelevance float64         `json:"algolia_relevance"   db:"algolia_relevance"`
	DetectedAt       time.Time       `json:"detected_at"         db:"detected_at"`
}

// ChangeEventListOptions filters change event queries. Zero values mean
// "no filter" for the corresponding dimension.
type ChangeEventListOptions struct {
	Domain          string
	Domains         []string
	ModuleType      ModuleID
	Category        ChangeCategory
	MinSignificance Significance
	Since           time.Time
	Until           time.Time
	Limit           int
	Offset          int
}

// Validate rejects filter combinations the repository cannot express.
func (o *ChangeEventListOptions) Validate() error {
	if o.Category != "" && !o.Category.Valid() {
		return fmt.Errorf("invalid category filter: %q", o.Category)
	}
	if o.MinSignificance != "" && !o.MinSignificance.Valid() {
		return fmt.Errorf("invalid significance filter: %q", o.MinSignificance)
	}
	if o.ModuleType != "" && !o.ModuleType.Valid() {
		return fmt.Errorf("invalid module filter: %q", o.ModuleType)
	}
	if o.Domain != "" && len(o.Domains) > 0 {
		return fmt.Errorf("domain and domains filters are mutually exclusive")
	}
	for _, d := range o.Domains {
		if strings.TrimSpace(d) == "" {
			return fmt.Errorf("empty domain in domains filter")
		}
	}
	return nil
}
