package core

import (
	"context"
	"time"

	"github.com/signalhouse/domain-intel/internal/domain/model"
)

// This file contains repository interface definitions (ports in hexagonal
// architecture). Service implementations depend on these interfaces, not on
// the concrete pgx/redis implementations in internal/data.

// SnapshotRepository defines the interface for intel snapshot persistence.
// Snapshots are append-only; there is no update operation.
type SnapshotRepository interface {
	Insert(ctx context.Context, snapshot *model.IntelSnapshot) (*model.IntelSnapshot, error)
	GetByID(ctx context.Context, id string) (*model.IntelSnapshot, error)
	GetLatest(ctx context.Context, domain string, moduleType model.ModuleID) (*model.IntelSnapshot, error)
	GetByVersion(ctx context.Context, params SnapshotVersionParams) (*model.IntelSnapshot, error)
	ListHistory(ctx context.Context, params SnapshotHistoryParams) ([]*model.IntelSnapshot, error)
	GetAt(ctx context.Context, params SnapshotAtParams) (*model.IntelSnapshot, error)
}

// SnapshotVersionParams addresses one specific snapshot version.
type SnapshotVersionParams struct {
	Domain     string
	ModuleType model.ModuleID
	Version    int
}

// SnapshotHistoryParams groups parameters for ListHistory to keep param count ≤3.
type SnapshotHistoryParams struct {
	Domain     string
	ModuleType model.ModuleID
	Limit      int
}

// SnapshotAtParams groups parameters for GetAt.
type SnapshotAtParams struct {
	Domain     string
	ModuleType model.ModuleID
	At         time.Time
}

// ChangeEventRepository defines the interface for change event persistence.
type ChangeEventRepository interface {
	BulkInsert(ctx context.Context, events []*model.ChangeEvent) (int, error)
	List(ctx context.Context, opts *model.ChangeEventListOptions) ([]*model.ChangeEvent, error)
	ListRecent(ctx context.Context, opts *model.ChangeEventListOptions) ([]*model.ChangeEvent, error)
	GetByID(ctx context.Context, id string) (*model.ChangeEvent, error)
}

// EnrichmentJobRepository defines the interface for enrichment job state.
// Progress fields are only ever written through this interface by the
// orchestrator that owns the job.
type EnrichmentJobRepository interface {
	Create(ctx context.Context, params CreateJobParams) (*model.EnrichmentJob, error)
	GetByID(ctx context.Context, id string) (*model.EnrichmentJob, error)
	// ReserveNext atomically claims the oldest queued job and marks it running.
	// Returns model.ErrNoJobsAvailable when the queue is empty.
	ReserveNext(ctx context.Context) (*model.EnrichmentJob, error)
	UpdateProgress(ctx context.Context, params UpdateJobProgressParams) error
	Finish(ctx context.Context, params FinishJobParams) error
	Cancel(ctx context.Context, id string) (bool, error)
	// Status returns just the job's current status, used for the cooperative
	// cancellation check between waves.
	Status(ctx context.Context, id string) (model.JobStatus, error)
	Stats(ctx context.Context) (*model.JobStats, error)
	ListRecent(ctx context.Context, limit int) ([]*model.EnrichmentJob, error)
	// RequeueStale flips running jobs whose updated_at is older than maxAge
	// back to queued (crashed runner recovery). Returns rows affected.
	RequeueStale(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error)
	// DeleteOldTerminal deletes terminal jobs older than maxAge.
	DeleteOldTerminal(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error)
}

// CreateJobParams pairs a submission request with the resolved step total.
// Target resolution against the module registry happens in the job service;
// the repository stores what it is given.
type CreateJobParams struct {
	Req        *model.CreateEnrichmentJobRequest
	TotalSteps int
}

// UpdateJobProgressParams carries one checkpoint write after a wave (or a
// current-step update mid-wave).
type UpdateJobProgressParams struct {
	ID               string
	CompletedSteps   int
	CurrentStep      *string
	ModulesCompleted model.ModuleIDList
	ModulesFailed    model.ModuleIDList
	Checkpoint       []byte
}

// FinishJobParams marks a job terminal.
type FinishJobParams struct {
	ID           string
	Status       model.JobStatus
	ErrorMessage *string
	CompletedAt  time.Time
}

// CacheRepository defines the interface for cache operations used by the
// module enricher and the in-flight enrichment lock.
type CacheRepository interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Get returns (nil, nil) on a miss.
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) (bool, error)
	SetIfNotExists(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Health(ctx context.Context) error
}
