// Package citation enforces the source-citation invariant: every externally
// sourced data point must carry a source URL and a source date no older than
// the allowed maximum for its data type. The gate is the single checkpoint
// module outputs and snapshot writes pass through; its errors are fatal and
// are never downgraded to warnings.
package citation

import (
	"strings"
	"time"

	"github.com/signalhouse/domain-intel/internal/domain/model"
	apperrors "github.com/signalhouse/domain-intel/internal/errors"
)

// hoursPerDay converts the age table to durations without DST surprises.
const hoursPerDay = 24 * time.Hour

// staleFraction is the portion of the age bound after which a citation is
// reported as stale (informational only, not blocking).
const staleFraction = 0.75

// MaxAgeDays returns the maximum allowed citation age in days for a data
// type. The table is fixed; unknown types fall back to the default bound.
func MaxAgeDays(dt model.DataType) int {
	switch dt {
	case model.DataTypeStockPrice:
		return 1
	case model.DataTypeTraffic:
		return 30
	case model.DataTypeTechStack:
		return 90
	case model.DataTypeQuarterlyFinancials:
		return 120
	default:
		return 365
	}
}

// ValidateFreshness checks that a source date is within the age bound for
// its data type as of now. A date exactly at the bound passes; one day past
// it fails with a stale-source error.
func ValidateFreshness(date time.Time, dt model.DataType, now time.Time) error {
	if date.IsZero() {
		return apperrors.MissingSource("source date is required")
	}
	cutoff := now.AddDate(0, 0, -MaxAgeDays(dt))
	if date.Before(cutoff) {
		return apperrors.StaleSourcef(
			"source date %s exceeds %d day limit for %s data",
			date.Format(time.RFC3339), MaxAgeDays(dt), dataTypeLabel(dt),
		)
	}
	return nil
}

// ValidateResult enforces the full citation invariant on a result's
// citation: both URL and date must be present, and the date must be fresh.
// Absence of either field is a hard failure; there is no bypass.
func ValidateResult(c model.SourceCitation, dt model.DataType, now time.Time) error {
	if strings.TrimSpace(c.URL) == "" {
		return apperrors.MissingSource("source url is required")
	}
	if c.Date.IsZero() {
		return apperrors.MissingSource("source date is required")
	}
	return ValidateFreshness(c.Date, dt, now)
}

// Freshness classifies a source date for reporting. Unlike ValidateFreshness
// it never fails; callers use it to surface "this data is getting old"
// without blocking anything.
func Freshness(date time.Time, dt model.DataType, now time.Time) model.FreshnessStatus {
	maxAge := time.Duration(MaxAgeDays(dt)) * hoursPerDay
	age := now.Sub(date)
	switch {
	case age > maxAge:
		return model.FreshnessExpired
	case float64(age) > staleFraction*float64(maxAge):
		return model.FreshnessStale
	default:
		return model.FreshnessFresh
	}
}

func dataTypeLabel(dt model.DataType) string {
	if dt == "" {
		return string(model.DataTypeDefault)
	}
	return string(dt)
}
