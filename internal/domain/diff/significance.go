package diff

import (
	"fmt"
	"sort"
	"strings"

	"github.com/signalhouse/domain-intel/internal/domain/model"
)

// cLevelTitles are the executive titles whose movement is treated as high
// significance. Matching is fuzzy substring matching on the lowercased
// title (so "cio" matches "SVP & CIO"); this is a documented heuristic, and
// unusual title formats fall through to the medium bucket.
var cLevelTitles = []string{"ceo", "cfo", "cto", "cio", "coo", "cmo", "cro", "ciso", "cpo"}

// Classify applies the snapshot-level significance rule table to a diff.
// First matching rule wins. Returns nil when the diff carries no changes.
//
// Rules, in order:
//  1. a removed search/provider field is critical
//  2. executive roster changes: high when a C-level name changes, is added,
//     or is removed; medium otherwise
//  3. tech-stack module changes: critical for the "search" field, else high
//  4. financial and hiring module changes are medium
//  5. anything else that changed is low
func Classify(moduleType model.ModuleID, d Diff) *model.Significance {
	if !d.HasChanges() {
		return nil
	}

	for field := range d.Removed {
		if isSearchOrProviderField(field) {
			return sigPtr(model.SignificanceCritical)
		}
	}

	if rosterFields := executiveRosterFields(d); len(rosterFields) > 0 {
		if cLevelRosterChanged(d, rosterFields) {
			return sigPtr(model.SignificanceHigh)
		}
		return sigPtr(model.SignificanceMedium)
	}

	if moduleType == model.ModuleTechStack {
		for field := range d.Changed {
			if strings.Contains(strings.ToLower(field), "search") {
				return sigPtr(model.SignificanceCritical)
			}
		}
		return sigPtr(model.SignificanceHigh)
	}

	switch moduleType {
	case model.ModuleFinancials, model.ModuleInvestorRelations, model.ModuleHiring:
		return sigPtr(model.SignificanceMedium)
	}

	return sigPtr(model.SignificanceLow)
}

func sigPtr(s model.Significance) *model.Significance {
	return &s
}

func isSearchOrProviderField(field string) bool {
	f := strings.ToLower(field)
	return strings.Contains(f, "search") || strings.Contains(f, "provider")
}

// executiveRosterFields returns the names of touched fields that look like
// executive rosters.
func executiveRosterFields(d Diff) []string {
	var fields []string
	seen := map[string]bool{}
	collect := func(field string) {
		if seen[field] {
			return
		}
		if strings.Contains(strings.ToLower(field), "executive") {
			seen[field] = true
			fields = append(fields, field)
		}
	}
	for field := range d.Changed {
		collect(field)
	}
	for field := range d.Added {
		collect(field)
	}
	for field := range d.Removed {
		collect(field)
	}
	return fields
}

// cLevelRosterChanged reports whether any recognized C-level seat gained,
// lost, or swapped its occupant across the diff's roster fields.
func cLevelRosterChanged(d Diff, fields []string) bool {
	for _, field := range fields {
		var oldVal, newVal any
		if fc, ok := d.Changed[field]; ok {
			oldVal, newVal = fc.Old, fc.New
		} else if v, ok := d.Added[field]; ok {
			newVal = v
		} else if v, ok := d.Removed[field]; ok {
			oldVal = v
		}
		if cLevelSeatsDiffer(rosterSeats(oldVal), rosterSeats(newVal)) {
			return true
		}
	}
	return false
}

// rosterSeats extracts a title-keyword -> occupant-names mapping from a
// roster value. Entries are either strings like "Alice (CEO)" or objects
// with name/title keys; anything else is ignored.
func rosterSeats(roster any) map[string][]string {
	seats := map[string][]string{}
	entries, ok := roster.([]any)
	if !ok {
		return seats
	}
	for _, entry := range entries {
		name, title := parseRosterEntry(entry)
		if name == "" || title == "" {
			continue
		}
		lower := strings.ToLower(title)
		for _, t := range cLevelTitles {
			if strings.Contains(lower, t) {
				seats[t] = append(seats[t], name)
			}
		}
	}
	return seats
}

func parseRosterEntry(entry any) (name, title string) {
	switch e := entry.(type) {
	case string:
		// "Alice (CEO)" form: title inside the trailing parentheses.
		open := strings.LastIndex(e, "(")
		closeIdx := strings.LastIndex(e, ")")
		if open >= 0 && closeIdx > open {
			return strings.TrimSpace(e[:open]), strings.TrimSpace(e[open+1 : closeIdx])
		}
		return strings.TrimSpace(e), ""
	case map[string]any:
		return stringField(e, "name"), stringField(e, "title")
	default:
		return "", ""
	}
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// cLevelSeatsDiffer compares two seat maps over the union of titles.
func cLevelSeatsDiffer(oldSeats, newSeats map[string][]string) bool {
	titles := map[string]bool{}
	for t := range oldSeats {
		titles[t] = true
	}
	for t := range newSeats {
		titles[t] = true
	}
	for t := range titles {
		if fmt.Sprint(normalizeNames(oldSeats[t])) != fmt.Sprint(normalizeNames(newSeats[t])) {
			return true
		}
	}
	return false
}

func normalizeNames(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		out = append(out, strings.ToLower(strings.TrimSpace(n)))
	}
	sort.Strings(out)
	return out
}
