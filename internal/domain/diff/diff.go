// Package diff computes structural diffs between two versions of a module's
// semi-structured payload. The diff partitions the union of top-level keys
// into added/removed/changed/unchanged buckets; equality is deep and
// structural, recursing into nested objects and arrays.
package diff

import (
	"encoding/json"
	"fmt"
	"sort"
)

// FieldChange captures both sides of a changed top-level field.
type FieldChange struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// Diff is the structural comparison between two payload versions. Every key
// present in either version lands in exactly one bucket.
type Diff struct {
	Added     map[string]any         `json:"added,omitempty"`
	Removed   map[string]any         `json:"removed,omitempty"`
	Changed   map[string]FieldChange `json:"changed,omitempty"`
	Unchanged []string               `json:"unchanged,omitempty"`
}

// HasChanges reports whether any key was added, removed, or changed.
func (d Diff) HasChanges() bool {
	return len(d.Added) > 0 || len(d.Removed) > 0 || len(d.Changed) > 0
}

// ChangeCount is the total number of added, removed, and changed keys.
func (d Diff) ChangeCount() int {
	return len(d.Added) + len(d.Removed) + len(d.Changed)
}

// Compute diffs two decoded JSON objects. Keys only in new are added, keys
// only in old are removed, keys in both with unequal values are changed,
// the rest are unchanged (names only, sorted for determinism).
func Compute(oldData, newData map[string]any) Diff {
	d := Diff{
		Added:   map[string]any{},
		Removed: map[string]any{},
		Changed: map[string]FieldChange{},
	}

	for key, newVal := range newData {
		oldVal, exists := oldData[key]
		switch {
		case !exists:
			d.Added[key] = newVal
		case Equal(oldVal, newVal):
			d.Unchanged = append(d.Unchanged, key)
		default:
			d.Changed[key] = FieldChange{Old: oldVal, New: newVal}
		}
	}
	for key, oldVal := range oldData {
		if _, exists := newData[key]; !exists {
			d.Removed[key] = oldVal
		}
	}

	sort.Strings(d.Unchanged)
	return d
}

// ComputeJSON diffs two raw JSON documents. Both must be JSON objects; a
// nil/empty document is treated as an empty object.
func ComputeJSON(oldRaw, newRaw json.RawMessage) (Diff, error) {
	oldData, err := decodeObject(oldRaw)
	if err != nil {
		return Diff{}, fmt.Errorf("decode old payload: %w", err)
	}
	newData, err := decodeObject(newRaw)
	if err != nil {
		return Diff{}, fmt.Errorf("decode new payload: %w", err)
	}
	return Compute(oldData, newData), nil
}

func decodeObject(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	if data == nil {
		data = map[string]any{}
	}
	return data, nil
}

// Equal performs deep structural comparison of two JSON-compatible values.
// Objects compare key-by-key, arrays element-by-element in order, numbers
// numerically regardless of Go type.
func Equal(a, b any) bool {
	switch av := a.(type) {
	case nil:
		return b == nil
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			other, exists := bv[k]
			if !exists || !Equal(v, other) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	default:
		an, aok := toFloat(a)
		bn, bok := toFloat(b)
		if aok && bok {
			return an == bn
		}
		return a == b
	}
}

// toFloat normalizes the numeric types json.Unmarshal and test fixtures
// produce so 3 and 3.0 compare equal.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
