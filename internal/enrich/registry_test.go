package enrich

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalhouse/domain-intel/internal/domain/model"
)

// stubProvider returns canned payloads keyed by endpoint, or an error.
type stubProvider struct {
	name    string
	payload map[string]any
	reqURL  string
	err     error
	calls   int
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Fetch(_ context.Context, _ string, _ map[string]string) (map[string]any, string, error) {
	s.calls++
	if s.err != nil {
		return nil, "", s.err
	}
	// Copy so merge mutations never leak back into the stub.
	out := make(map[string]any, len(s.payload))
	for k, v := range s.payload {
		out[k] = v
	}
	return out, s.reqURL, nil
}

func stubCatalog() ProviderCatalog {
	return ProviderCatalog{
		ProviderTechnographics:   &stubProvider{name: ProviderTechnographics, reqURL: "https://tech.example/api"},
		ProviderTrafficAnalytics: &stubProvider{name: ProviderTrafficAnalytics, reqURL: "https://traffic.example/api"},
		ProviderFinancialData:    &stubProvider{name: ProviderFinancialData, reqURL: "https://fin.example/api"},
		ProviderWebSearch:        &stubProvider{name: ProviderWebSearch, reqURL: "https://search.example/api"},
	}
}

func TestNewDefaultRegistry_AllFifteenModules(t *testing.T) {
	reg, err := NewDefaultRegistry(stubCatalog())
	require.NoError(t, err)

	assert.Equal(t, len(model.AllModuleIDs()), reg.Len())
	assert.Equal(t, []int{1, 2, 3, 4}, reg.WaveOrder())

	// Every declared module is reachable and self-consistent.
	for _, id := range model.AllModuleIDs() {
		mod, ok := reg.Get(id)
		require.True(t, ok, "module %s missing", id)
		assert.Equal(t, id, mod.Definition().ID)
	}
}

func TestNewDefaultRegistry_WaveMembership(t *testing.T) {
	reg, err := NewDefaultRegistry(stubCatalog())
	require.NoError(t, err)

	assert.Equal(t, []model.ModuleID{
		model.ModuleCompanyContext,
		model.ModuleTechStack,
		model.ModuleTraffic,
		model.ModuleFinancials,
	}, reg.ByWave(1))

	// The score modules sit in wave 3: their dependencies are all in waves
	// 1-2, and m15 in wave 4 consumes both.
	assert.Contains(t, reg.ByWave(3), model.ModuleICPScore)
	assert.Contains(t, reg.ByWave(3), model.ModuleSignalScore)

	assert.Equal(t, []model.ModuleID{
		model.ModuleBuyingCommittee,
		model.ModuleStrategicBrief,
	}, reg.ByWave(4))
}

func TestNewDefaultRegistry_DependenciesAlwaysEarlierWave(t *testing.T) {
	reg, err := NewDefaultRegistry(stubCatalog())
	require.NoError(t, err)

	for _, id := range reg.IDs() {
		def, ok := reg.Definition(id)
		require.True(t, ok)
		for _, dep := range def.DependsOn {
			depDef, ok := reg.Definition(dep)
			require.True(t, ok, "%s depends on unknown %s", id, dep)
			assert.Less(t, depDef.Wave, def.Wave,
				"%s (wave %d) must not depend on %s (wave %d)", id, def.Wave, dep, depDef.Wave)
		}
	}
}

type fakeModule struct{ def Definition }

func (f fakeModule) Definition() Definition { return f.def }
func (f fakeModule) FetchData(context.Context, string) (map[string]any, error) {
	return map[string]any{}, nil
}
func (f fakeModule) TransformData(raw map[string]any) (map[string]any, error) { return raw, nil }

func TestNewRegistry_RejectsSameWaveDependency(t *testing.T) {
	mods := map[model.ModuleID]Module{
		model.ModuleCompanyContext: fakeModule{def: Definition{
			ID: model.ModuleCompanyContext, Wave: 2, Timeout: time.Second,
		}},
		model.ModuleHiring: fakeModule{def: Definition{
			ID: model.ModuleHiring, Wave: 2, Timeout: time.Second,
			DependsOn: []model.ModuleID{model.ModuleCompanyContext},
		}},
	}
	_, err := NewRegistry(mods)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "earlier wave")
}

func TestNewRegistry_RejectsUnknownDependency(t *testing.T) {
	mods := map[model.ModuleID]Module{
		model.ModuleHiring: fakeModule{def: Definition{
			ID: model.ModuleHiring, Wave: 2, Timeout: time.Second,
			DependsOn: []model.ModuleID{model.ModuleCompanyContext},
		}},
	}
	_, err := NewRegistry(mods)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unregistered")
}

func TestNewRegistry_RejectsWaveOutOfRange(t *testing.T) {
	for _, wave := range []int{0, 5, -1} {
		mods := map[model.ModuleID]Module{
			model.ModuleTraffic: fakeModule{def: Definition{
				ID: model.ModuleTraffic, Wave: wave, Timeout: time.Second,
			}},
		}
		_, err := NewRegistry(mods)
		assert.Error(t, err, "wave %d", wave)
	}
}

func TestNewRegistry_RejectsMismatchedKey(t *testing.T) {
	mods := map[model.ModuleID]Module{
		model.ModuleTraffic: fakeModule{def: Definition{
			ID: model.ModuleHiring, Wave: 1, Timeout: time.Second,
		}},
	}
	_, err := NewRegistry(mods)
	require.Error(t, err)
}
