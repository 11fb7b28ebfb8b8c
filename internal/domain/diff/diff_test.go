package diff

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompute_Partition(t *testing.T) {
	oldData := map[string]any{
		"name":      "Acme",
		"employees": 120.0,
		"hq":        "Austin",
		"tags":      []any{"b2b", "saas"},
	}
	newData := map[string]any{
		"name":      "Acme",
		"employees": 150.0,
		"founded":   2012.0,
		"tags":      []any{"b2b", "saas"},
	}

	d := Compute(oldData, newData)

	assert.Equal(t, map[string]any{"founded": 2012.0}, d.Added)
	assert.Equal(t, map[string]any{"hq": "Austin"}, d.Removed)
	require.Contains(t, d.Changed, "employees")
	assert.Equal(t, 120.0, d.Changed["employees"].Old)
	assert.Equal(t, 150.0, d.Changed["employees"].New)
	assert.Equal(t, []string{"name", "tags"}, d.Unchanged)
	assert.True(t, d.HasChanges())
	assert.Equal(t, 3, d.ChangeCount())
}

func TestCompute_NoOpIsIdempotent(t *testing.T) {
	data := map[string]any{
		"a": "x",
		"b": []any{1.0, 2.0, map[string]any{"k": "v"}},
		"c": map[string]any{"nested": map[string]any{"deep": true}},
	}

	d := Compute(data, data)

	assert.Empty(t, d.Added)
	assert.Empty(t, d.Removed)
	assert.Empty(t, d.Changed)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, d.Unchanged)
	assert.False(t, d.HasChanges())
	assert.Equal(t, 0, d.ChangeCount())
}

func TestCompute_NestedStructuralEquality(t *testing.T) {
	oldData := map[string]any{
		"providers": map[string]any{"search": "elastic", "cdn": "fastly"},
	}
	sameStructure := map[string]any{
		"providers": map[string]any{"cdn": "fastly", "search": "elastic"},
	}
	differentNested := map[string]any{
		"providers": map[string]any{"search": "algolia", "cdn": "fastly"},
	}

	assert.False(t, Compute(oldData, sameStructure).HasChanges(), "key order must not matter")

	d := Compute(oldData, differentNested)
	require.Contains(t, d.Changed, "providers")
}

func TestCompute_ListOrderMatters(t *testing.T) {
	d := Compute(
		map[string]any{"execs": []any{"Alice (CEO)", "Bob (CFO)"}},
		map[string]any{"execs": []any{"Bob (CFO)", "Alice (CEO)"}},
	)
	assert.Contains(t, d.Changed, "execs")
}

func TestEqual_NumericNormalization(t *testing.T) {
	assert.True(t, Equal(3, 3.0))
	assert.True(t, Equal(int64(7), 7.0))
	assert.False(t, Equal(3, "3"))
	assert.False(t, Equal(3.0, 3.5))
	assert.True(t, Equal(nil, nil))
	assert.False(t, Equal(nil, false))
}

func TestComputeJSON(t *testing.T) {
	oldRaw := json.RawMessage(`{"executives": ["Alice (CEO)"]}`)
	newRaw := json.RawMessage(`{"executives": ["Bob (CEO)"]}`)

	d, err := ComputeJSON(oldRaw, newRaw)
	require.NoError(t, err)
	require.Contains(t, d.Changed, "executives")
	assert.Equal(t, []any{"Alice (CEO)"}, d.Changed["executives"].Old)
	assert.Equal(t, []any{"Bob (CEO)"}, d.Changed["executives"].New)
}

func TestComputeJSON_EmptyOldIsAllAdded(t *testing.T) {
	d, err := ComputeJSON(nil, json.RawMessage(`{"a":1,"b":2}`))
	require.NoError(t, err)
	assert.Len(t, d.Added, 2)
	assert.Empty(t, d.Removed)
	assert.Empty(t, d.Changed)
}

func TestComputeJSON_NonObjectFails(t *testing.T) {
	_, err := ComputeJSON(json.RawMessage(`[1,2,3]`), json.RawMessage(`{}`))
	assert.Error(t, err)
}

// TestCompute_PartitionProperty checks that every key of either input lands
// in exactly one bucket, for arbitrary generated objects.
func TestCompute_PartitionProperty(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	properties := gopter.NewProperties(params)

	// asAny retypes a generator's results as `any` so MapOf builds a
	// map[string]any. Gen.Map cannot express this: a mapper returning `any`
	// is mistaken for one returning *gopter.GenResult and panics.
	anyType := reflect.TypeOf((*any)(nil)).Elem()
	asAny := func(g gopter.Gen) gopter.Gen {
		return func(p *gopter.GenParameters) *gopter.GenResult {
			r := g(p)
			r.ResultType = anyType
			r.Shrinker = gopter.NoShrinker
			r.Sieve = nil
			return r
		}
	}

	genObject := gen.MapOf(
		gen.OneConstOf("a", "b", "c", "d", "e", "f"),
		gen.OneGenOf(
			asAny(gen.AlphaString()),
			asAny(gen.Float64Range(-1000, 1000)),
			asAny(gen.Bool()),
		),
	)

	properties.Property("buckets partition the key union", prop.ForAll(
		func(oldData, newData map[string]any) bool {
			d := Compute(oldData, newData)

			buckets := map[string]int{}
			for k := range d.Added {
				buckets[k]++
			}
			for k := range d.Removed {
				buckets[k]++
			}
			for k := range d.Changed {
				buckets[k]++
			}
			for _, k := range d.Unchanged {
				buckets[k]++
			}

			union := map[string]bool{}
			for k := range oldData {
				union[k] = true
			}
			for k := range newData {
				union[k] = true
			}

			if len(buckets) != len(union) {
				return false
			}
			for k, n := range buckets {
				if n != 1 || !union[k] {
					return false
				}
			}
			return true
		},
		genObject, genObject,
	))

	properties.Property("self-diff has no changes", prop.ForAll(
		func(data map[string]any) bool {
			d := Compute(data, data)
			return !d.HasChanges() && len(d.Unchanged) == len(data)
		},
		genObject,
	))

	properties.TestingRun(t)
}
