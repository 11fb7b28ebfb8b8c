package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ModuleID identifies one of the fifteen enrichment modules.
type ModuleID string

const (
	// Wave 1: independent fetches.
	ModuleCompanyContext ModuleID = "m01_company_context"
	ModuleTechStack      ModuleID = "m02_tech_stack"
	ModuleTraffic        ModuleID = "m03_traffic"
	ModuleFinancials     ModuleID = "m04_financials"

	// Wave 2: builds on company identity and financial baseline.
	ModuleCompetitors       ModuleID = "m05_competitors"
	ModuleHiring            ModuleID = "m06_hiring"
	ModuleStrategicSignals  ModuleID = "m07_strategic_signals"
	ModuleInvestorRelations ModuleID = "m08_investor_relations"

	// Wave 3: people and positioning.
	ModuleExecutives   ModuleID = "m09_executives"
	ModuleDisplacement ModuleID = "m11_displacement"
	ModuleCaseStudies  ModuleID = "m12_case_studies"

	// Wave 4: synthesis.
	ModuleBuyingCommittee ModuleID = "m10_buying_committee"
	ModuleICPScore        ModuleID = "m13_icp_score"
	ModuleSignalScore     ModuleID = "m14_signal_score"
	ModuleStrategicBrief  ModuleID = "m15_strategic_brief"
)

// AllModuleIDs returns every known module identifier in canonical order.
func AllModuleIDs() []ModuleID {
	return []ModuleID{
		ModuleCompanyContext, ModuleTechStack, ModuleTraffic, ModuleFinancials,
		ModuleCompetitors, ModuleHiring, ModuleStrategicSignals, ModuleInvestorRelations,
		ModuleExecutives, ModuleBuyingCommittee, ModuleDisplacement, ModuleCaseStudies,
		ModuleICPScore, ModuleSignalScore, ModuleStrategicBrief,
	}
}

// Valid returns true if the ModuleID is one of the fifteen known modules.
func (m ModuleID) Valid() bool {
	for _, id := range AllModuleIDs() {
		if id == m {
			return true
		}
	}
	return false
}

// UnmarshalText implements encoding.TextUnmarshaler for ModuleID.
func (m *ModuleID) UnmarshalText(text []byte) error {
	v := ModuleID(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid ModuleID: %q", v)
	}
	*m = v
	return nil
}

// ModuleResult is the output of one module's enrichment of one domain.
// It is constructed once, after the citation gate has passed, and never
// mutated afterwards.
type ModuleResult struct {
	ModuleID   ModuleID        `json:"module_id"`
	Domain     string          `json:"domain"`
	Data       json.RawMessage `json:"data"`
	Source     SourceCitation  `json:"source"`
	EnrichedAt time.Time       `json:"enriched_at"`
	IsCached   bool            `json:"is_cached"`
}
