package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SnapshotType records why a snapshot was taken.
type SnapshotType string

const (
	// SnapshotTypeAuto is written by an enrichment job run.
	SnapshotTypeAuto SnapshotType = "auto"
	// SnapshotTypeManual is written by an explicit operator request.
	SnapshotTypeManual SnapshotType = "manual"
	// SnapshotTypePreUpdate is written before a record update so the prior
	// state stays recoverable.
	SnapshotTypePreUpdate SnapshotType = "pre_update"
)

// Valid returns true if the SnapshotType is one of the known values.
func (t SnapshotType) Valid() bool {
	return t == SnapshotTypeAuto || t == SnapshotTypeManual || t == SnapshotTypePreUpdate
}

// Significance ranks how notable a change is.
type Significance string

const (
	// SignificanceCritical marks changes that should page somebody.
	SignificanceCritical Significance = "critical"
	// SignificanceHigh marks changes worth an immediate alert.
	SignificanceHigh Significance = "high"
	// SignificanceMedium marks changes worth a digest entry.
	SignificanceMedium Significance = "medium"
	// SignificanceLow marks routine drift.
	SignificanceLow Significance = "low"
)

// Valid returns true if the Significance is one of the known levels.
func (s Significance) Valid() bool {
	return s == SignificanceCritical || s == SignificanceHigh ||
		s == SignificanceMedium || s == SignificanceLow
}

// Rank maps a significance level to an ordinal; higher means more severe.
// Unknown levels rank below low.
func (s Significance) Rank() int {
	switch s {
	case SignificanceCritical:
		return 4
	case SignificanceHigh:
		return 3
	case SignificanceMedium:
		return 2
	case SignificanceLow:
		return 1
	default:
		return 0
	}
}

// AtLeast returns true if s is at or above the given minimum level.
func (s Significance) AtLeast(minimum Significance) bool {
	return s.Rank() >= minimum.Rank()
}

// MaxSignificance returns the more severe of two levels.
func MaxSignificance(a, b Significance) Significance {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// UnmarshalText implements encoding.TextUnmarshaler for Significance.
func (s *Significance) UnmarshalText(text []byte) error {
	v := Significance(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid Significance: %q", v)
	}
	*s = v
	return nil
}

// IntelSnapshot is an immutable, versioned capture of one module's output
// for one domain. Snapshots form an append-only log: rows are written once
// and never updated.
type IntelSnapshot struct {
	ID                  string          `json:"id"                             db:"id"`
	ModuleType          ModuleID        `json:"module_type"                    db:"module_type"`
	Domain              string          `json:"domain"                         db:"domain"`
	RecordID            *string         `json:"record_id,omitempty"            db:"record_id"`
	Version             int             `json:"version"                        db:"version"`
	SnapshotAt          time.Time       `json:"snapshot_at"                    db:"snapshot_at"`
	SnapshotType        SnapshotType    `json:"snapshot_type"                  db:"snapshot_type"`
	Data                json.RawMessage `json:"data"                           db:"data"`
	SourceURL           string          `json:"source_url"                     db:"source_url"`
	SourceDate          time.Time       `json:"source_date"                    db:"source_date"`
	JobID               *string         `json:"job_id,omitempty"               db:"job_id"`
	TriggeredBy         *string         `json:"triggered_by,omitempty"         db:"triggered_by"`
	DiffFromPrevious    json.RawMessage `json:"diff_from_previous,omitempty"   db:"diff_from_previous"`
	HasChanges          bool            `json:"has_changes"                    db:"has_changes"`
	ChangeCount         int             `json:"change_count"                   db:"change_count"`
	HighestSignificance *Significance   `json:"highest_significance,omitempty" db:"highest_significance"`
	CreatedAt           time.Time       `json:"created_at"                     db:"created_at"`
}

// CreateSnapshotRequest carries everything the versioning service needs to
// write a new snapshot. Version, diff, and change summary fields are
// computed by the service, never supplied by callers.
type CreateSnapshotRequest struct {
	ModuleType   ModuleID        `json:"module_type"`
	Domain       string          `json:"domain"`
	RecordID     *string         `json:"record_id,omitempty"`
	SnapshotType SnapshotType    `json:"snapshot_type,omitempty"`
	Data         json.RawMessage `json:"data"`
	SourceURL    string          `json:"source_url"`
	SourceDate   time.Time       `json:"source_date"`
	DataType     DataType        `json:"data_type,omitempty"`
	JobID        *string         `json:"job_id,omitempty"`
	TriggeredBy  *string         `json:"triggered_by,omitempty"`
}

// Validate checks the structural requirements of a snapshot request.
// Citation presence and freshness are enforced by the citation gate.
func (r *CreateSnapshotRequest) Validate() error {
	if !r.ModuleType.Valid() {
		return fmt.Errorf("invalid module type: %q", r.ModuleType)
	}
	if strings.TrimSpace(r.Domain) == "" {
		return errors.New("domain is required")
	}
	if len(r.Data) == 0 {
		return errors.New("data is required")
	}
	if r.SnapshotType != "" && !r.SnapshotType.Valid() {
		return fmt.Errorf("invalid snapshot type: %q", r.SnapshotType)
	}
	return nil
}
