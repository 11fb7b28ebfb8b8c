package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/signalhouse/domain-intel/internal/core"
	"github.com/signalhouse/domain-intel/internal/domain/model"
)

// fakeSnapshotRepo is an in-memory SnapshotRepository for tests. Versions
// are assigned per (domain, module) the way the real repo does.
type fakeSnapshotRepo struct {
	mu    sync.Mutex
	snaps map[string][]*model.IntelSnapshot
	seq   int
}

func newFakeSnapshotRepo() *fakeSnapshotRepo {
	return &fakeSnapshotRepo{snaps: map[string][]*model.IntelSnapshot{}}
}

func snapKey(domain string, moduleType model.ModuleID) string {
	return domain + "|" + string(moduleType)
}

func (r *fakeSnapshotRepo) Insert(_ context.Context, snapshot *model.IntelSnapshot) (*model.IntelSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	key := snapKey(snapshot.Domain, snapshot.ModuleType)
	stored := *snapshot
	stored.ID = fmt.Sprintf("snap-%d", r.seq)
	stored.Version = len(r.snaps[key]) + 1
	stored.CreatedAt = time.Now()
	r.snaps[key] = append(r.snaps[key], &stored)
	return &stored, nil
}

func (r *fakeSnapshotRepo) GetByID(_ context.Context, id string) (*model.IntelSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, versions := range r.snaps {
		for _, s := range versions {
			if s.ID == id {
				return s, nil
			}
		}
	}
	return nil, model.ErrSnapshotNotFound
}

func (r *fakeSnapshotRepo) GetLatest(
	_ context.Context,
	domain string,
	moduleType model.ModuleID,
) (*model.IntelSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	versions := r.snaps[snapKey(domain, moduleType)]
	if len(versions) == 0 {
		return nil, model.ErrSnapshotNotFound
	}
	return versions[len(versions)-1], nil
}

func (r *fakeSnapshotRepo) GetByVersion(
	_ context.Context,
	params core.SnapshotVersionParams,
) (*model.IntelSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.snaps[snapKey(params.Domain, params.ModuleType)] {
		if s.Version == params.Version {
			return s, nil
		}
	}
	return nil, model.ErrSnapshotNotFound
}

func (r *fakeSnapshotRepo) ListHistory(
	_ context.Context,
	params core.SnapshotHistoryParams,
) ([]*model.IntelSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	versions := r.snaps[snapKey(params.Domain, params.ModuleType)]
	out := make([]*model.IntelSnapshot, 0, len(versions))
	for i := len(versions) - 1; i >= 0; i-- {
		out = append(out, versions[i])
		if params.Limit > 0 && len(out) >= params.Limit {
			break
		}
	}
	return out, nil
}

func (r *fakeSnapshotRepo) GetAt(_ context.Context, params core.SnapshotAtParams) (*model.IntelSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	versions := r.snaps[snapKey(params.Domain, params.ModuleType)]
	for i := len(versions) - 1; i >= 0; i-- {
		if !versions[i].SnapshotAt.After(params.At) {
			return versions[i], nil
		}
	}
	return nil, model.ErrSnapshotNotFound
}

func (r *fakeSnapshotRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, versions := range r.snaps {
		total += len(versions)
	}
	return total
}

// fakeChangeEventRepo is an in-memory ChangeEventRepository for tests.
type fakeChangeEventRepo struct {
	mu     sync.Mutex
	events []*model.ChangeEvent
	seq    int
	err    error
}

func (r *fakeChangeEventRepo) BulkInsert(_ context.Context, events []*model.ChangeEvent) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return 0, r.err
	}
	for _, ev := range events {
		r.seq++
		ev.ID = fmt.Sprintf("ev-%d", r.seq)
		r.events = append(r.events, ev)
	}
	return len(events), nil
}

func (r *fakeChangeEventRepo) List(
	_ context.Context,
	opts *model.ChangeEventListOptions,
) ([]*model.ChangeEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.ChangeEvent
	for _, ev := range r.events {
		if opts != nil && opts.Domain != "" && ev.Domain != opts.Domain {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func (r *fakeChangeEventRepo) ListRecent(
	ctx context.Context,
	opts *model.ChangeEventListOptions,
) ([]*model.ChangeEvent, error) {
	return r.List(ctx, opts)
}

func (r *fakeChangeEventRepo) GetByID(_ context.Context, id string) (*model.ChangeEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.ID == id {
			return ev, nil
		}
	}
	return nil, model.ErrChangeEventNotFound
}

// fakeJobRepo is an in-memory EnrichmentJobRepository for tests.
type fakeJobRepo struct {
	mu       sync.Mutex
	jobs     map[string]*model.EnrichmentJob
	order    []string
	seq      int
	progress []core.UpdateJobProgressParams
	finishes []core.FinishJobParams

	// cancelAfterProgress flips the job to cancelled after each successful
	// progress write, simulating an operator cancelling mid-run.
	cancelAfterProgress bool

	requeueCalls int
	deleteCalls  int
	requeued     int64
	deleted      int64
	sweepErr     error
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{jobs: map[string]*model.EnrichmentJob{}}
}

func (r *fakeJobRepo) Create(_ context.Context, params core.CreateJobParams) (*model.EnrichmentJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	req := params.Req
	jobType := req.JobType
	if jobType == "" {
		jobType = model.JobTypeEnrichment
	}
	job := &model.EnrichmentJob{
		ID:          fmt.Sprintf("job-%d", r.seq),
		JobType:     jobType,
		Domain:      req.Domain,
		Modules:     req.Modules,
		Waves:       req.Waves,
		Status:      model.JobStatusQueued,
		Force:       req.Force,
		TotalSteps:  params.TotalSteps,
		TriggeredBy: req.TriggeredBy,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	r.jobs[job.ID] = job
	r.order = append(r.order, job.ID)
	return job, nil
}

func (r *fakeJobRepo) GetByID(_ context.Context, id string) (*model.EnrichmentJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, model.ErrJobNotFound
	}
	return job, nil
}

func (r *fakeJobRepo) ReserveNext(_ context.Context) (*model.EnrichmentJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.order {
		job := r.jobs[id]
		if job.Status == model.JobStatusQueued {
			job.Status = model.JobStatusRunning
			now := time.Now()
			job.StartedAt = &now
			return job, nil
		}
	}
	return nil, model.ErrNoJobsAvailable
}

func (r *fakeJobRepo) UpdateProgress(_ context.Context, params core.UpdateJobProgressParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[params.ID]
	if !ok || job.Status != model.JobStatusRunning {
		return model.ErrJobNotFound
	}
	job.CompletedSteps = params.CompletedSteps
	job.CurrentStep = params.CurrentStep
	job.ModulesComplete = params.ModulesCompleted
	job.ModulesFailed = params.ModulesFailed
	job.Checkpoint = params.Checkpoint
	job.UpdatedAt = time.Now()
	r.progress = append(r.progress, params)
	if r.cancelAfterProgress {
		job.Status = model.JobStatusCancelled
	}
	return nil
}

func (r *fakeJobRepo) Finish(_ context.Context, params core.FinishJobParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[params.ID]
	if !ok || job.Status != model.JobStatusRunning {
		return model.ErrJobNotFound
	}
	job.Status = params.Status
	job.ErrorMessage = params.ErrorMessage
	completedAt := params.CompletedAt
	job.CompletedAt = &completedAt
	r.finishes = append(r.finishes, params)
	return nil
}

func (r *fakeJobRepo) Cancel(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return false, model.ErrJobNotFound
	}
	if job.Status.Terminal() {
		return false, nil
	}
	job.Status = model.JobStatusCancelled
	return true, nil
}

func (r *fakeJobRepo) Status(_ context.Context, id string) (model.JobStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return "", model.ErrJobNotFound
	}
	return job.Status, nil
}

func (r *fakeJobRepo) Stats(_ context.Context) (*model.JobStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := &model.JobStats{}
	for _, job := range r.jobs {
		switch job.Status {
		case model.JobStatusQueued:
			stats.Queued++
		case model.JobStatusRunning:
			stats.Running++
		case model.JobStatusCompleted:
			stats.Completed++
		case model.JobStatusFailed:
			stats.Failed++
		case model.JobStatusCancelled:
			stats.Cancelled++
		}
	}
	return stats, nil
}

func (r *fakeJobRepo) ListRecent(_ context.Context, limit int) ([]*model.EnrichmentJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.EnrichmentJob
	for i := len(r.order) - 1; i >= 0; i-- {
		out = append(out, r.jobs[r.order[i]])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *fakeJobRepo) RequeueStale(_ context.Context, _ time.Duration, _ int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requeueCalls++
	if r.sweepErr != nil {
		return 0, r.sweepErr
	}
	return r.requeued, nil
}

func (r *fakeJobRepo) DeleteOldTerminal(_ context.Context, _ time.Duration, _ int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleteCalls++
	if r.sweepErr != nil {
		return 0, r.sweepErr
	}
	return r.deleted, nil
}

func (r *fakeJobRepo) finishedStatus(id string) (model.JobStatus, *string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job := r.jobs[id]
	return job.Status, job.ErrorMessage
}

// mustRaw marshals a fixture value or panics; test-only.
func mustRaw(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
