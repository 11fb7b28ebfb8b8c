package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/signalhouse/domain-intel/internal/core"
	"github.com/signalhouse/domain-intel/internal/domain/citation"
	"github.com/signalhouse/domain-intel/internal/domain/model"
	apperrors "github.com/signalhouse/domain-intel/internal/errors"
)

// TimeProvider abstracts time.Now for deterministic tests.
type TimeProvider func() time.Time

// EnricherOptions configures an Enricher.
type EnricherOptions struct {
	Registry *Registry
	Cache    core.CacheRepository
	Logger   *slog.Logger
	Time     TimeProvider
}

// Enricher runs one module against one domain: cache lookup, provider
// fetch, transform, citation gate, cache write. Results that fail the
// citation gate are discarded, never cached, never returned.
type Enricher struct {
	registry *Registry
	cache    core.CacheRepository
	logger   *slog.Logger
	now      TimeProvider
}

// NewEnricher constructs an Enricher from options.
func NewEnricher(opts EnricherOptions) (*Enricher, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("enricher: registry is required")
	}
	if opts.Cache == nil {
		return nil, fmt.Errorf("enricher: cache is required")
	}
	now := opts.Time
	if now == nil {
		now = time.Now
	}
	return &Enricher{
		registry: opts.Registry,
		cache:    opts.Cache,
		logger:   opts.Logger,
		now:      now,
	}, nil
}

func cacheKey(id model.ModuleID, domain string) string {
	return fmt.Sprintf("enrich:%s:%s", id, domain)
}

// Enrich runs the module with the given id for domain. When force is false
// a cached result short-circuits the whole pipeline, including the gate:
// cached results already passed it when written. Cache failures are logged
// and treated as misses.
func (e *Enricher) Enrich(
	ctx context.Context,
	id model.ModuleID,
	domain string,
	force bool,
) (*model.ModuleResult, error) {
	mod, ok := e.registry.Get(id)
	if !ok {
		return nil, apperrors.Validationf("unknown module: %s", id)
	}
	def := mod.Definition()
	key := cacheKey(id, domain)

	if !force {
		if cached := e.readCache(ctx, key); cached != nil {
			return cached, nil
		}
	}

	raw, err := mod.FetchData(ctx, domain)
	if err != nil {
		return nil, err
	}

	cite := RawCitation(raw, def.SourceType)
	if gateErr := citation.ValidateResult(cite, def.DataType, e.now()); gateErr != nil {
		return nil, gateErr
	}

	data, err := mod.TransformData(raw)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ErrCodeInternal, "module %s: transform", id)
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ErrCodeInternal, "module %s: encode result", id)
	}

	result := &model.ModuleResult{
		ModuleID:   id,
		Domain:     domain,
		Data:       payload,
		Source:     cite,
		EnrichedAt: e.now().UTC(),
	}

	e.writeCache(ctx, key, result, def.CacheTTL)

	return result, nil
}

// readCache returns the cached result for key, or nil on miss, decode
// failure, or cache error.
func (e *Enricher) readCache(ctx context.Context, key string) *model.ModuleResult {
	b, err := e.cache.Get(ctx, key)
	if err != nil {
		if e.logger != nil {
			e.logger.Warn("cache read failed", "key", key, "error", err)
		}
		return nil
	}
	if b == nil {
		return nil
	}
	var result model.ModuleResult
	if err := json.Unmarshal(b, &result); err != nil {
		if e.logger != nil {
			e.logger.Warn("cache entry corrupt, discarding", "key", key, "error", err)
		}
		_, _ = e.cache.Delete(ctx, key)
		return nil
	}
	result.IsCached = true
	return &result
}

func (e *Enricher) writeCache(ctx context.Context, key string, result *model.ModuleResult, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	b, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := e.cache.Set(ctx, key, b, ttl); err != nil && e.logger != nil {
		e.logger.Warn("cache write failed", "key", key, "error", err)
	}
}
