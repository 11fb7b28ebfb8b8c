package config

import (
	"strings"
	"time"
)

// EnrichmentConfig contains wave execution tunables for the orchestrator.
type EnrichmentConfig struct {
	// WaveWorkers bounds concurrent modules within one wave.
	WaveWorkers int `env:"ENRICH_WAVE_WORKERS" envDefault:"4"`

	// WaveTimeout bounds one whole wave. Zero disables the bound; individual
	// module timeouts still apply.
	WaveTimeout time.Duration `env:"ENRICH_WAVE_TIMEOUT" envDefault:"5m"`

	// LockTTL is how long a per-domain in-flight enrichment lock lives if
	// the runner holding it dies.
	LockTTL time.Duration `env:"ENRICH_LOCK_TTL" envDefault:"15m"`
}

// Sanitize applies guardrails to enrichment configuration values.
func (c *EnrichmentConfig) Sanitize() {
	if c.WaveWorkers < 1 {
		c.WaveWorkers = 1
	}
	if c.WaveTimeout < 0 {
		c.WaveTimeout = 0
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 15 * time.Minute
	}
}

// ProviderConfig describes one external data provider endpoint.
type ProviderConfig struct {
	BaseURL string        `env:"BASE_URL"`
	APIKey  string        `env:"API_KEY"`
	Timeout time.Duration `env:"TIMEOUT" envDefault:"30s"`
}

// Configured reports whether the provider has an endpoint to call.
func (c *ProviderConfig) Configured() bool {
	return strings.TrimSpace(c.BaseURL) != ""
}

// ProvidersConfig groups the external data providers the modules draw from.
type ProvidersConfig struct {
	Technographics   ProviderConfig `envPrefix:"PROVIDER_TECHNOGRAPHICS_"`
	TrafficAnalytics ProviderConfig `envPrefix:"PROVIDER_TRAFFIC_"`
	FinancialData    ProviderConfig `envPrefix:"PROVIDER_FINANCIAL_"`
	WebSearch        ProviderConfig `envPrefix:"PROVIDER_WEBSEARCH_"`
}
