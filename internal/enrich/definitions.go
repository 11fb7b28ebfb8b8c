package enrich

import (
	"fmt"
	"time"

	"github.com/signalhouse/domain-intel/internal/domain/model"
)

// Provider names shared between the definition table and the catalog built
// at startup.
const (
	ProviderTechnographics   = "technographics"
	ProviderTrafficAnalytics = "traffic_analytics"
	ProviderFinancialData    = "financial_data"
	ProviderWebSearch        = "websearch"
)

// Definitions returns the static declaration of all fifteen modules: wave
// placement, dependencies, provider priority, and budgets. The registry
// validates this table at startup; it is the single source of truth for
// the enrichment plan.
func Definitions() []Definition {
	return []Definition{
		// Wave 1: independent fetches against external providers.
		{
			ID: model.ModuleCompanyContext, Wave: 1,
			SourceType: model.SourceTypeWebpage, DataType: model.DataTypeDefault,
			CacheTTL: 24 * time.Hour, Timeout: 60 * time.Second,
			Providers: []string{ProviderWebSearch, ProviderFinancialData},
			Endpoint:  "company/profile",
		},
		{
			ID: model.ModuleTechStack, Wave: 1,
			SourceType: model.SourceTypeAPI, DataType: model.DataTypeTechStack,
			CacheTTL: 24 * time.Hour, Timeout: 45 * time.Second,
			Providers: []string{ProviderTechnographics, ProviderWebSearch},
			Endpoint:  "technographics/lookup",
		},
		{
			ID: model.ModuleTraffic, Wave: 1,
			SourceType: model.SourceTypeAPI, DataType: model.DataTypeTraffic,
			CacheTTL: 12 * time.Hour, Timeout: 45 * time.Second,
			Providers: []string{ProviderTrafficAnalytics},
			Endpoint:  "traffic/summary",
		},
		{
			ID: model.ModuleFinancials, Wave: 1,
			SourceType: model.SourceTypeAPI, DataType: model.DataTypeQuarterlyFinancials,
			CacheTTL: 24 * time.Hour, Timeout: 60 * time.Second,
			Providers: []string{ProviderFinancialData, ProviderWebSearch},
			Endpoint:  "financials/overview",
		},

		// Wave 2: builds on company identity and financial baseline.
		{
			ID: model.ModuleCompetitors, Wave: 2,
			DependsOn:  []model.ModuleID{model.ModuleCompanyContext, model.ModuleTechStack},
			SourceType: model.SourceTypeWebpage, DataType: model.DataTypeDefault,
			CacheTTL: 24 * time.Hour, Timeout: 60 * time.Second,
			Providers: []string{ProviderWebSearch, ProviderTechnographics},
			Endpoint:  "market/competitors",
		},
		{
			ID: model.ModuleHiring, Wave: 2,
			DependsOn:  []model.ModuleID{model.ModuleCompanyContext},
			SourceType: model.SourceTypeWebpage, DataType: model.DataTypeDefault,
			CacheTTL: 12 * time.Hour, Timeout: 45 * time.Second,
			Providers: []string{ProviderWebSearch},
			Endpoint:  "hiring/openings",
		},
		{
			ID: model.ModuleStrategicSignals, Wave: 2,
			DependsOn:  []model.ModuleID{model.ModuleCompanyContext, model.ModuleFinancials},
			SourceType: model.SourceTypeWebpage, DataType: model.DataTypeDefault,
			CacheTTL: 12 * time.Hour, Timeout: 60 * time.Second,
			Providers: []string{ProviderWebSearch},
			Endpoint:  "signals/strategic",
		},
		{
			ID: model.ModuleInvestorRelations, Wave: 2,
			DependsOn:  []model.ModuleID{model.ModuleFinancials},
			SourceType: model.SourceTypeDocument, DataType: model.DataTypeQuarterlyFinancials,
			CacheTTL: 24 * time.Hour, Timeout: 60 * time.Second,
			Providers: []string{ProviderFinancialData},
			Endpoint:  "financials/investor-relations",
		},

		// Wave 3: people, positioning, and fit scoring.
		{
			ID: model.ModuleExecutives, Wave: 3,
			DependsOn:  []model.ModuleID{model.ModuleCompanyContext},
			SourceType: model.SourceTypeWebpage, DataType: model.DataTypeDefault,
			CacheTTL: 24 * time.Hour, Timeout: 60 * time.Second,
			Providers: []string{ProviderWebSearch},
			Endpoint:  "people/executives",
		},
		{
			ID: model.ModuleDisplacement, Wave: 3,
			DependsOn:  []model.ModuleID{model.ModuleTechStack, model.ModuleCompetitors},
			SourceType: model.SourceTypeAPI, DataType: model.DataTypeTechStack,
			CacheTTL: 24 * time.Hour, Timeout: 45 * time.Second,
			Providers: []string{ProviderTechnographics, ProviderWebSearch},
			Endpoint:  "technographics/displacement",
		},
		{
			ID: model.ModuleCaseStudies, Wave: 3,
			DependsOn:  []model.ModuleID{model.ModuleCompanyContext, model.ModuleCompetitors},
			SourceType: model.SourceTypeWebpage, DataType: model.DataTypeDefault,
			CacheTTL: 48 * time.Hour, Timeout: 60 * time.Second,
			Providers: []string{ProviderWebSearch},
			Endpoint:  "content/case-studies",
		},
		{
			ID: model.ModuleICPScore, Wave: 3,
			DependsOn:  []model.ModuleID{model.ModuleTechStack, model.ModuleTraffic, model.ModuleFinancials},
			SourceType: model.SourceTypeAPI, DataType: model.DataTypeDefault,
			CacheTTL: 12 * time.Hour, Timeout: 30 * time.Second,
			Providers: []string{ProviderWebSearch},
			Endpoint:  "analysis/icp",
		},
		{
			ID: model.ModuleSignalScore, Wave: 3,
			DependsOn:  []model.ModuleID{model.ModuleHiring, model.ModuleStrategicSignals},
			SourceType: model.SourceTypeAPI, DataType: model.DataTypeDefault,
			CacheTTL: 12 * time.Hour, Timeout: 30 * time.Second,
			Providers: []string{ProviderWebSearch},
			Endpoint:  "analysis/signal-score",
		},

		// Wave 4: synthesis over earlier waves.
		{
			ID: model.ModuleBuyingCommittee, Wave: 4,
			DependsOn:  []model.ModuleID{model.ModuleExecutives},
			SourceType: model.SourceTypeWebpage, DataType: model.DataTypeDefault,
			CacheTTL: 24 * time.Hour, Timeout: 45 * time.Second,
			Providers: []string{ProviderWebSearch},
			Endpoint:  "people/buying-committee",
		},
		{
			ID: model.ModuleStrategicBrief, Wave: 4,
			DependsOn:  []model.ModuleID{model.ModuleExecutives, model.ModuleICPScore, model.ModuleSignalScore},
			SourceType: model.SourceTypeWebpage, DataType: model.DataTypeDefault,
			CacheTTL: 12 * time.Hour, Timeout: 60 * time.Second,
			Providers: []string{ProviderWebSearch},
			Endpoint:  "analysis/strategic-brief",
		},
	}
}

// moduleFields is the per-module output schema expressed as JMESPath
// extractions over the merged raw payload. Every optional field carries a
// default so transforms never fail on missing data.
var moduleFields = map[model.ModuleID][]fieldSpec{
	model.ModuleCompanyContext: {
		{Key: "name", Expr: "company.name || name", Default: nil},
		{Key: "description", Expr: "company.description || description", Default: nil},
		{Key: "industry", Expr: "company.industry || industry", Default: nil},
		{Key: "employee_count", Expr: "company.employees || employee_count", Default: nil},
		{Key: "hq_location", Expr: "company.location || hq_location", Default: nil},
		{Key: "founded_year", Expr: "company.founded || founded_year", Default: nil},
	},
	model.ModuleTechStack: {
		{Key: "search", Expr: "technologies.search || search", Default: nil},
		{Key: "cms", Expr: "technologies.cms || cms", Default: nil},
		{Key: "cdn", Expr: "technologies.cdn || cdn", Default: nil},
		{Key: "analytics_provider", Expr: "technologies.analytics || analytics", Default: nil},
		{Key: "ecommerce", Expr: "technologies.ecommerce || ecommerce", Default: nil},
		{Key: "detected", Expr: "technologies.detected || detected", Default: []any{}},
	},
	model.ModuleTraffic: {
		{Key: "monthly_visits", Expr: "traffic.visits || monthly_visits", Default: nil},
		{Key: "bounce_rate", Expr: "traffic.bounce_rate || bounce_rate", Default: nil},
		{Key: "top_countries", Expr: "traffic.countries || top_countries", Default: []any{}},
		{Key: "traffic_rank", Expr: "traffic.rank || traffic_rank", Default: nil},
	},
	model.ModuleFinancials: {
		{Key: "revenue", Expr: "financials.revenue || revenue", Default: nil},
		{Key: "revenue_growth", Expr: "financials.growth || revenue_growth", Default: nil},
		{Key: "stock_price", Expr: "financials.stock_price || stock_price", Default: nil},
		{Key: "funding_total", Expr: "funding.total || funding_total", Default: nil},
		{Key: "last_round", Expr: "funding.last_round || last_round", Default: nil},
		{Key: "is_public", Expr: "financials.is_public || is_public", Default: false},
	},
	model.ModuleCompetitors: {
		{Key: "competitors", Expr: "competitors", Default: []any{}},
		{Key: "market_position", Expr: "market_position", Default: nil},
	},
	model.ModuleHiring: {
		{Key: "open_roles", Expr: "openings.count || open_roles", Default: nil},
		{Key: "engineering_roles", Expr: "openings.engineering || engineering_roles", Default: nil},
		{Key: "sales_roles", Expr: "openings.sales || sales_roles", Default: nil},
		{Key: "hiring_trend", Expr: "trend || hiring_trend", Default: nil},
		{Key: "departments", Expr: "openings.departments || departments", Default: []any{}},
	},
	model.ModuleStrategicSignals: {
		{Key: "signals", Expr: "signals", Default: []any{}},
		{Key: "announcements", Expr: "announcements", Default: []any{}},
		{Key: "expansion_markets", Expr: "expansion_markets", Default: []any{}},
	},
	model.ModuleInvestorRelations: {
		{Key: "latest_quarter", Expr: "ir.latest_quarter || latest_quarter", Default: nil},
		{Key: "guidance", Expr: "ir.guidance || guidance", Default: nil},
		{Key: "earnings_highlights", Expr: "ir.highlights || earnings_highlights", Default: []any{}},
		{Key: "transcript_url", Expr: "ir.transcript_url || transcript_url", Default: nil},
	},
	model.ModuleExecutives: {
		{Key: "executives", Expr: "executives", Default: []any{}},
		{Key: "recent_departures", Expr: "recent_departures", Default: []any{}},
		{Key: "recent_hires", Expr: "recent_hires", Default: []any{}},
	},
	model.ModuleDisplacement: {
		{Key: "displaceable_vendors", Expr: "displaceable_vendors", Default: []any{}},
		{Key: "contract_renewals", Expr: "contract_renewals", Default: []any{}},
		{Key: "displacement_score", Expr: "displacement_score", Default: nil},
	},
	model.ModuleCaseStudies: {
		{Key: "case_studies", Expr: "case_studies", Default: []any{}},
		{Key: "reference_customers", Expr: "reference_customers", Default: []any{}},
	},
	model.ModuleBuyingCommittee: {
		{Key: "members", Expr: "members", Default: []any{}},
		{Key: "economic_buyer", Expr: "economic_buyer", Default: nil},
		{Key: "technical_buyer", Expr: "technical_buyer", Default: nil},
		{Key: "champion_candidates", Expr: "champion_candidates", Default: []any{}},
	},
	model.ModuleICPScore: {
		{Key: "icp_score", Expr: "score || icp_score", Default: nil},
		{Key: "fit_band", Expr: "band || fit_band", Default: nil},
		{Key: "score_breakdown", Expr: "breakdown || score_breakdown", Default: []any{}},
	},
	model.ModuleSignalScore: {
		{Key: "signal_score", Expr: "score || signal_score", Default: nil},
		{Key: "timing_band", Expr: "band || timing_band", Default: nil},
		{Key: "contributing_signals", Expr: "contributing || contributing_signals", Default: []any{}},
	},
	model.ModuleStrategicBrief: {
		{Key: "summary", Expr: "summary", Default: nil},
		{Key: "talking_points", Expr: "talking_points", Default: []any{}},
		{Key: "risks", Expr: "risks", Default: []any{}},
		{Key: "recommended_play", Expr: "recommended_play", Default: nil},
	},
}

// BuildModules constructs the concrete module set from a definition table
// and a provider catalog.
func BuildModules(defs []Definition, catalog ProviderCatalog) (map[model.ModuleID]Module, error) {
	modules := make(map[model.ModuleID]Module, len(defs))
	for _, def := range defs {
		fields, ok := moduleFields[def.ID]
		if !ok {
			return nil, fmt.Errorf("module %s: no field schema declared", def.ID)
		}
		mod, err := newProviderModule(def, catalog, fields)
		if err != nil {
			return nil, err
		}
		modules[def.ID] = mod
	}
	return modules, nil
}
