package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// JobType represents the kind of enrichment job.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type JobType string

// JobStatus represents the current state of an enrichment job.
type JobStatus string

const (
	// JobTypeEnrichment is a standard multi-wave enrichment run.
	JobTypeEnrichment JobType = "enrichment"
	// JobTypeRefresh is a forced re-enrichment that bypasses module caches.
	JobTypeRefresh JobType = "refresh"

	// JobStatusQueued indicates a job is waiting for a runner.
	JobStatusQueued JobStatus = "queued"
	// JobStatusRunning indicates a job is being executed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates all target waves resolved. A completed
	// job may still carry failed modules; the count fields distinguish a
	// partial from a clean success.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates no module completed, or the run loop itself errored.
	JobStatusFailed JobStatus = "failed"
	// JobStatusCancelled indicates the job was cancelled before finishing.
	JobStatusCancelled JobStatus = "cancelled"
)

// Repository sentinel errors. They live here rather than in the data layer
// so services can match them via errors.Is through the port interfaces.
var (
	// ErrNoJobsAvailable is returned when no queued jobs are available for reservation.
	ErrNoJobsAvailable = errors.New("no jobs available")
	// ErrJobNotFound is returned when an enrichment job is not found.
	ErrJobNotFound = errors.New("enrichment job not found")
	// ErrSnapshotNotFound is returned when a snapshot is not found.
	ErrSnapshotNotFound = errors.New("snapshot not found")
	// ErrChangeEventNotFound is returned when a change event is not found.
	ErrChangeEventNotFound = errors.New("change event not found")
)

// Valid returns true if the JobType is valid.
func (t JobType) Valid() bool {
	return t == JobTypeEnrichment || t == JobTypeRefresh
}

// UnmarshalText implements encoding.TextUnmarshaler for JobType to allow env parsing.
func (t *JobType) UnmarshalText(text []byte) error {
	v := JobType(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid JobType: %q", v)
	}
	*t = v
	return nil
}

// Valid returns true if the JobStatus is valid.
func (s JobStatus) Valid() bool {
	return s == JobStatusQueued || s == JobStatusRunning || s == JobStatusCompleted ||
		s == JobStatusFailed || s == JobStatusCancelled
}

// Terminal returns true once a job can no longer change state.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// ModuleIDList is a list of module identifiers stored as a JSONB column.
type ModuleIDList []ModuleID

// Contains reports whether the list includes the given module.
func (l ModuleIDList) Contains(id ModuleID) bool {
	for _, m := range l {
		if m == id {
			return true
		}
	}
	return false
}

// EnrichmentJob tracks one enrichment run for one domain. The orchestrator
// owning the job is the only writer of its progress fields; no other
// component mutates a job record.
type EnrichmentJob struct {
	ID              string          `json:"id"                         db:"id"`
	JobType         JobType         `json:"job_type"                   db:"job_type"`
	Domain          string          `json:"domain"                     db:"domain"`
	Modules         ModuleIDList    `json:"modules"                    db:"modules"`
	Waves           []int           `json:"waves"                      db:"waves"`
	Status          JobStatus       `json:"status"                     db:"status"`
	Force           bool            `json:"force"                      db:"force"`
	TotalSteps      int             `json:"total_steps"                db:"total_steps"`
	CompletedSteps  int             `json:"completed_steps"            db:"completed_steps"`
	CurrentStep     *string         `json:"current_step,omitempty"     db:"current_step"`
	ModulesComplete ModuleIDList    `json:"modules_completed"          db:"modules_completed"`
	ModulesFailed   ModuleIDList    `json:"modules_failed"             db:"modules_failed"`
	Checkpoint      json.RawMessage `json:"checkpoint,omitempty"       db:"checkpoint"`
	TriggeredBy     *string         `json:"triggered_by,omitempty"     db:"triggered_by"`
	StartedAt       *time.Time      `json:"started_at,omitempty"       db:"started_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"     db:"completed_at"`
	DurationSeconds *float64        `json:"duration_seconds,omitempty" db:"duration_seconds"`
	ErrorMessage    *string         `json:"error_message,omitempty"    db:"error_message"`
	CreatedAt       time.Time       `json:"created_at"                 db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"                 db:"updated_at"`
}

// Progress returns completion as a percentage in [0,100].
func (j *EnrichmentJob) Progress() float64 {
	if j.TotalSteps <= 0 {
		return 0
	}
	p := float64(j.CompletedSteps) / float64(j.TotalSteps) * 100
	if p > 100 {
		return 100
	}
	return p
}

// PartialSuccess reports whether a completed job had both successes and failures.
func (j *EnrichmentJob) PartialSuccess() bool {
	return j.Status == JobStatusCompleted &&
		len(j.ModulesComplete) > 0 && len(j.ModulesFailed) > 0
}

// CreateEnrichmentJobRequest represents a request to submit a new job.
// Modules and Waves are mutually exclusive target selectors; when both are
// empty the job targets all registered modules.
type CreateEnrichmentJobRequest struct {
	JobType     JobType      `json:"job_type,omitempty"`
	Domain      string       `json:"domain"`
	Modules     ModuleIDList `json:"modules,omitempty"`
	Waves       []int        `json:"waves,omitempty"`
	Force       bool         `json:"force,omitempty"`
	TriggeredBy *string      `json:"triggered_by,omitempty"`
}

// Validate validates the CreateEnrichmentJobRequest fields.
func (r *CreateEnrichmentJobRequest) Validate() error {
	if strings.TrimSpace(r.Domain) == "" {
		return errors.New("domain is required")
	}
	if r.JobType != "" && !r.JobType.Valid() {
		return fmt.Errorf("invalid job type: %q", r.JobType)
	}
	if len(r.Modules) > 0 && len(r.Waves) > 0 {
		return errors.New("modules and waves are mutually exclusive")
	}
	for _, m := range r.Modules {
		if !m.Valid() {
			return fmt.Errorf("invalid module id: %q", m)
		}
	}
	for _, w := range r.Waves {
		if w < 1 || w > 4 {
			return fmt.Errorf("invalid wave number: %d", w)
		}
	}
	return nil
}

// JobStatusResponse is the externally visible status summary for a job.
type JobStatusResponse struct {
	ID               string       `json:"id"`
	Status           JobStatus    `json:"status"`
	Progress         float64      `json:"progress"`
	ModulesCompleted ModuleIDList `json:"modules_completed"`
	ModulesFailed    ModuleIDList `json:"modules_failed"`
	CurrentStep      *string      `json:"current_step,omitempty"`
	ErrorMessage     *string      `json:"error_message,omitempty"`
	CompletedAt      *time.Time   `json:"completed_at,omitempty"`
}

// JobStats summarizes job counts by state for one job type.
type JobStats struct {
	Queued    int `json:"queued"    db:"queued"`
	Running   int `json:"running"   db:"running"`
	Completed int `json:"completed" db:"completed"`
	Failed    int `json:"failed"    db:"failed"`
	Cancelled int `json:"cancelled" db:"cancelled"`
}
