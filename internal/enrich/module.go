package enrich

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jmespath "github.com/jmespath-community/go-jmespath"

	"github.com/signalhouse/domain-intel/internal/domain/model"
	apperrors "github.com/signalhouse/domain-intel/internal/errors"
)

// Definition declares a module's static placement in the enrichment plan:
// its wave, its dependencies (all in strictly earlier waves), its providers
// in priority order, and its cache/timeout budgets.
type Definition struct {
	ID         model.ModuleID
	Wave       int
	DependsOn  []model.ModuleID
	SourceType model.SourceType
	DataType   model.DataType
	CacheTTL   time.Duration
	Timeout    time.Duration
	// Providers lists provider names in priority order; the first is primary
	// and wins on conflicting fields, later ones fill gaps.
	Providers []string
	Endpoint  string
}

// Module is the contract every enrichment module implements. FetchData does
// the provider I/O; TransformData is a pure mapping into the module's output
// schema. The shared Enricher composes the two with caching and the
// citation gate.
type Module interface {
	Definition() Definition
	FetchData(ctx context.Context, domain string) (map[string]any, error)
	TransformData(raw map[string]any) (map[string]any, error)
}

// fieldSpec maps one output field to a JMESPath expression over the merged
// raw provider payload, with a default for when the path yields nothing.
type fieldSpec struct {
	Key     string
	Expr    string
	Default any
}

type compiledField struct {
	key      string
	expr     string
	fallback any
}

// providerModule is the common shape of all fifteen modules: fetch from the
// declared providers, merge primary-wins, extract typed fields via JMESPath.
type providerModule struct {
	def     Definition
	clients []ProviderClient
	fields  []compiledField
	now     func() time.Time
}

var _ Module = (*providerModule)(nil)

// newProviderModule resolves the definition's providers against the catalog
// and precompiles the field extraction table. Compilation errors are
// programmer errors and surface at startup, never during enrichment.
func newProviderModule(
	def Definition,
	catalog ProviderCatalog,
	fields []fieldSpec,
) (*providerModule, error) {
	clients, err := catalog.Resolve(def.Providers)
	if err != nil {
		return nil, fmt.Errorf("module %s: %w", def.ID, err)
	}
	if len(clients) == 0 {
		return nil, fmt.Errorf("module %s: at least one provider is required", def.ID)
	}

	compiled := make([]compiledField, 0, len(fields))
	for _, f := range fields {
		if _, compileErr := jmespath.Compile(f.Expr); compileErr != nil {
			return nil, fmt.Errorf("module %s: compile field %q: %w", def.ID, f.Key, compileErr)
		}
		compiled = append(compiled, compiledField{key: f.Key, expr: f.Expr, fallback: f.Default})
	}

	return &providerModule{
		def:     def,
		clients: clients,
		fields:  compiled,
		now:     time.Now,
	}, nil
}

// Definition returns the module's static declaration.
func (m *providerModule) Definition() Definition { return m.def }

// FetchData calls the module's providers in priority order and merges their
// payloads: the primary provider wins on conflicting fields, secondaries
// fill gaps. One provider succeeding is enough; the merged result is then
// flagged as partial. All providers failing is a provider error.
func (m *providerModule) FetchData(ctx context.Context, domain string) (map[string]any, error) {
	if strings.TrimSpace(domain) == "" {
		return nil, apperrors.Validation("domain is required")
	}

	params := map[string]string{"domain": domain}

	merged := map[string]any{}
	var succeeded []string
	var failures []error
	sourceURL := ""

	for _, client := range m.clients {
		data, reqURL, err := client.Fetch(ctx, m.def.Endpoint, params)
		if err != nil {
			failures = append(failures, err)
			continue
		}
		if sourceURL == "" {
			sourceURL = reqURL
		}
		succeeded = append(succeeded, client.Name())
		for k, v := range data {
			if _, exists := merged[k]; !exists {
				merged[k] = v
			}
		}
	}

	if len(succeeded) == 0 {
		return nil, apperrors.Wrapf(
			errors.Join(failures...),
			apperrors.ErrCodeProvider,
			"module %s: all providers failed for %s", m.def.ID, domain,
		)
	}

	merged["providers"] = succeeded
	merged["partial_sources"] = len(failures) > 0
	merged["source_url"] = sourceURL
	if _, ok := merged["source_date"].(string); !ok {
		merged["source_date"] = m.now().UTC().Format(time.RFC3339)
	}

	return merged, nil
}

// TransformData maps the merged raw payload into the module's output schema
// via the precompiled extraction table. Missing optional data yields the
// field's default; transform never fails on absent fields.
func (m *providerModule) TransformData(raw map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(m.fields))
	for _, f := range m.fields {
		v, err := jmespath.Search(f.expr, raw)
		if err != nil || v == nil {
			out[f.key] = f.fallback
			continue
		}
		out[f.key] = v
	}
	return out, nil
}

// RawCitation extracts the citation fields a fetch is required to embed in
// its merged payload.
func RawCitation(raw map[string]any, sourceType model.SourceType) model.SourceCitation {
	c := model.SourceCitation{Type: sourceType}
	if u, ok := raw["source_url"].(string); ok {
		c.URL = u
	}
	if ds, ok := raw["source_date"].(string); ok {
		if d, err := time.Parse(time.RFC3339, ds); err == nil {
			c.Date = d
		}
	}
	return c
}
