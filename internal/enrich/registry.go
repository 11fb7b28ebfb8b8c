package enrich

import (
	"fmt"
	"sort"

	"github.com/signalhouse/domain-intel/internal/domain/model"
)

const (
	minWave = 1
	maxWave = 4
)

// Registry is the validated, read-only set of enrichment modules. It is
// built once at startup; the orchestrator derives its wave plan from it.
type Registry struct {
	modules map[model.ModuleID]Module
	byWave  map[int][]model.ModuleID
	waves   []int
}

// NewRegistry validates the module set and indexes it by wave. Validation
// enforces the plan's structural invariants: unique IDs, waves within
// bounds, and every dependency declared in a strictly earlier wave.
func NewRegistry(modules map[model.ModuleID]Module) (*Registry, error) {
	if len(modules) == 0 {
		return nil, fmt.Errorf("registry: no modules")
	}

	byWave := map[int][]model.ModuleID{}
	for id, mod := range modules {
		def := mod.Definition()
		if def.ID != id {
			return nil, fmt.Errorf("registry: module keyed as %s declares id %s", id, def.ID)
		}
		if !def.ID.Valid() {
			return nil, fmt.Errorf("registry: unknown module id %q", def.ID)
		}
		if def.Wave < minWave || def.Wave > maxWave {
			return nil, fmt.Errorf("registry: module %s: wave %d out of range [%d,%d]",
				def.ID, def.Wave, minWave, maxWave)
		}
		if def.Timeout <= 0 {
			return nil, fmt.Errorf("registry: module %s: timeout must be positive", def.ID)
		}
		byWave[def.Wave] = append(byWave[def.Wave], def.ID)
	}

	for _, mod := range modules {
		def := mod.Definition()
		for _, dep := range def.DependsOn {
			depMod, ok := modules[dep]
			if !ok {
				return nil, fmt.Errorf("registry: module %s depends on unregistered %s", def.ID, dep)
			}
			if depMod.Definition().Wave >= def.Wave {
				return nil, fmt.Errorf(
					"registry: module %s (wave %d) depends on %s (wave %d); dependencies must be in an earlier wave",
					def.ID, def.Wave, dep, depMod.Definition().Wave)
			}
		}
	}

	waves := make([]int, 0, len(byWave))
	for w := range byWave {
		sort.Slice(byWave[w], func(i, j int) bool { return byWave[w][i] < byWave[w][j] })
		waves = append(waves, w)
	}
	sort.Ints(waves)

	return &Registry{modules: modules, byWave: byWave, waves: waves}, nil
}

// NewDefaultRegistry builds the registry from the static definition table
// and the given provider catalog.
func NewDefaultRegistry(catalog ProviderCatalog) (*Registry, error) {
	modules, err := BuildModules(Definitions(), catalog)
	if err != nil {
		return nil, err
	}
	return NewRegistry(modules)
}

// Get returns the module for id, or false when id is not registered.
func (r *Registry) Get(id model.ModuleID) (Module, bool) {
	mod, ok := r.modules[id]
	return mod, ok
}

// ByWave returns the module IDs in the given wave, sorted.
func (r *Registry) ByWave(wave int) []model.ModuleID {
	return r.byWave[wave]
}

// WaveOrder returns the populated wave numbers in ascending order.
func (r *Registry) WaveOrder() []int { return r.waves }

// Len returns the number of registered modules.
func (r *Registry) Len() int { return len(r.modules) }

// IDs returns all registered module IDs in wave-then-ID order.
func (r *Registry) IDs() []model.ModuleID {
	out := make([]model.ModuleID, 0, len(r.modules))
	for _, w := range r.waves {
		out = append(out, r.byWave[w]...)
	}
	return out
}

// Definition returns the definition for id. The bool is false when id is
// not registered.
func (r *Registry) Definition(id model.ModuleID) (Definition, bool) {
	mod, ok := r.modules[id]
	if !ok {
		return Definition{}, false
	}
	return mod.Definition(), true
}
