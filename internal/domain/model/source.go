// Package model defines the core data types shared across the domain-intel
// enrichment system.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// SourceType categorizes where a piece of intelligence was obtained from.
type SourceType string

const (
	// SourceTypeAPI marks data fetched from a structured provider API.
	SourceTypeAPI SourceType = "api"
	// SourceTypeWebpage marks data scraped or derived from a web page.
	SourceTypeWebpage SourceType = "webpage"
	// SourceTypeDocument marks data extracted from a filed document.
	SourceTypeDocument SourceType = "document"
	// SourceTypeTranscript marks data extracted from a call transcript.
	SourceTypeTranscript SourceType = "transcript"
)

// Valid returns true if the SourceType is one of the known values.
func (t SourceType) Valid() bool {
	return t == SourceTypeAPI || t == SourceTypeWebpage ||
		t == SourceTypeDocument || t == SourceTypeTranscript
}

// UnmarshalText implements encoding.TextUnmarshaler for SourceType to allow env parsing.
func (t *SourceType) UnmarshalText(text []byte) error {
	v := SourceType(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid SourceType: %q", v)
	}
	*t = v
	return nil
}

// DataType keys the source freshness table. It describes the kind of data a
// citation backs, not where it came from; different kinds of data go stale
// at very different rates.
type DataType string

const (
	// DataTypeStockPrice is intraday market data; stale after a day.
	DataTypeStockPrice DataType = "stock_price"
	// DataTypeTraffic is web traffic analytics; stale after a month.
	DataTypeTraffic DataType = "traffic"
	// DataTypeTechStack is technographic data; stale after a quarter.
	DataTypeTechStack DataType = "tech_stack"
	// DataTypeQuarterlyFinancials is quarterly reporting data.
	DataTypeQuarterlyFinancials DataType = "quarterly_financials"
	// DataTypeDefault covers everything without a specific freshness bound.
	DataTypeDefault DataType = "default"
)

// FreshnessStatus is the informational freshness classification of a citation.
type FreshnessStatus string

const (
	// FreshnessFresh means the citation is comfortably within its age bound.
	FreshnessFresh FreshnessStatus = "fresh"
	// FreshnessStale means the citation is within bound but past 75% of it.
	FreshnessStale FreshnessStatus = "stale"
	// FreshnessExpired means the citation is past its age bound.
	FreshnessExpired FreshnessStatus = "expired"
)

// SourceCitation is the mandatory provenance tuple attached to every
// externally sourced data point. It is never mutated after being attached
// to a result.
type SourceCitation struct {
	URL  string     `json:"url"`
	Date time.Time  `json:"date"`
	Type SourceType `json:"type"`
}

// Validate checks that the citation carries both a URL and a date.
// Freshness is checked separately by the citation gate.
func (c SourceCitation) Validate() error {
	if strings.TrimSpace(c.URL) == "" {
		return errors.New("source url is required")
	}
	if c.Date.IsZero() {
		return errors.New("source date is required")
	}
	if !c.Type.Valid() {
		return fmt.Errorf("invalid source type: %q", c.Type)
	}
	return nil
}
