// Package enrich defines the enrichment module contract, the static module
// registry, and the fifteen concrete intelligence modules.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/signalhouse/domain-intel/internal/errors"
)

// ProviderClient is the narrow interface modules use to reach an external
// data provider. Rate limits and concurrency caps live in provider
// configuration, not here.
type ProviderClient interface {
	// Name identifies the provider for provenance and logging.
	Name() string
	// Fetch performs one provider call and returns the decoded JSON object
	// along with the request URL used (for source citation).
	Fetch(ctx context.Context, endpoint string, params map[string]string) (map[string]any, string, error)
}

// ProviderCatalog resolves provider names declared in module definitions to
// concrete clients. Built once at startup.
type ProviderCatalog map[string]ProviderClient

// Resolve returns the clients for the given provider names, in order.
// Unknown names are an error: the definition table and the catalog must
// agree at startup.
func (c ProviderCatalog) Resolve(names []string) ([]ProviderClient, error) {
	clients := make([]ProviderClient, 0, len(names))
	for _, name := range names {
		client, ok := c[name]
		if !ok {
			return nil, fmt.Errorf("unknown provider: %q", name)
		}
		clients = append(clients, client)
	}
	return clients, nil
}

// HTTPProviderOptions configures an HTTPProvider.
type HTTPProviderOptions struct {
	Name    string
	BaseURL string
	APIKey  string
	Client  *http.Client
	Timeout time.Duration
}

// HTTPProvider is a ProviderClient backed by a JSON-over-HTTP API.
type HTTPProvider struct {
	name    string
	baseURL string
	apiKey  string
	client  *http.Client
}

var _ ProviderClient = (*HTTPProvider)(nil)

// NewHTTPProvider constructs an HTTPProvider from options.
func NewHTTPProvider(opts HTTPProviderOptions) (*HTTPProvider, error) {
	if strings.TrimSpace(opts.Name) == "" {
		return nil, fmt.Errorf("provider name is required")
	}
	if strings.TrimSpace(opts.BaseURL) == "" {
		return nil, fmt.Errorf("provider base url is required")
	}
	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPProvider{
		name:    opts.Name,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		apiKey:  opts.APIKey,
		client:  client,
	}, nil
}

// Name identifies the provider.
func (p *HTTPProvider) Name() string { return p.name }

// Fetch performs a GET against baseURL/endpoint with the given query
// parameters and decodes the JSON object response.
func (p *HTTPProvider) Fetch(
	ctx context.Context,
	endpoint string,
	params map[string]string,
) (map[string]any, string, error) {
	reqURL, err := p.buildURL(endpoint, params)
	if err != nil {
		return nil, "", apperrors.Wrapf(err, apperrors.ErrCodeProvider, "%s: build request url", p.name)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, "", apperrors.Wrapf(err, apperrors.ErrCodeProvider, "%s: build request", p.name)
	}
	req.Header.Set("Accept", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, "", apperrors.Wrapf(err, apperrors.ErrCodeProvider, "%s: request failed", p.name)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", apperrors.Providerf("%s: unexpected status %d", p.name, resp.StatusCode)
	}

	var data map[string]any
	if decodeErr := json.NewDecoder(resp.Body).Decode(&data); decodeErr != nil {
		return nil, "", apperrors.Wrapf(decodeErr, apperrors.ErrCodeProvider, "%s: malformed response", p.name)
	}

	return data, reqURL, nil
}

func (p *HTTPProvider) buildURL(endpoint string, params map[string]string) (string, error) {
	u, err := url.Parse(p.baseURL + "/" + strings.TrimLeft(endpoint, "/"))
	if err != nil {
		return "", err
	}
	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
