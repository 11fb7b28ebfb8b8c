package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/signalhouse/domain-intel/internal/core"
	"github.com/signalhouse/domain-intel/internal/domain/model"
	"github.com/signalhouse/domain-intel/internal/enrich"
	apperrors "github.com/signalhouse/domain-intel/internal/errors"
	"github.com/signalhouse/domain-intel/internal/observability/metrics"
	"github.com/signalhouse/domain-intel/internal/observability/statsd"
)

// ModuleEnricher is the minimal behavior the orchestrator needs from the
// enrichment pipeline.
type ModuleEnricher interface {
	Enrich(ctx context.Context, id model.ModuleID, domain string, force bool) (*model.ModuleResult, error)
}

// OrchestratorConfig groups the orchestrator's tunables.
type OrchestratorConfig struct {
	// WaveWorkers bounds concurrent modules within one wave.
	WaveWorkers int
	// WaveTimeout bounds one whole wave; zero disables the bound.
	WaveTimeout time.Duration
}

// OrchestratorDeps groups the collaborating services.
type OrchestratorDeps struct {
	Registry   *enrich.Registry
	Enricher   ModuleEnricher
	Jobs       core.EnrichmentJobRepository
	Versioning *VersioningService
	Changes    *ChangeDetectionService
}

// OrchestratorOptions groups dependencies for Orchestrator.
type OrchestratorOptions struct {
	Deps    OrchestratorDeps
	Config  OrchestratorConfig
	Logger  *slog.Logger
	Metrics statsd.Sink
}

// Orchestrator executes one enrichment job: resolves its target modules,
// runs them wave by wave with bounded concurrency, persists a checkpoint
// after every wave, and classifies the terminal state. A module failure
// never aborts the run; it is recorded and later waves decide per-module
// whether their dependencies still hold.
type Orchestrator struct {
	registry   *enrich.Registry
	enricher   ModuleEnricher
	jobs       core.EnrichmentJobRepository
	versioning *VersioningService
	changes    *ChangeDetectionService
	config     OrchestratorConfig
	logger     *slog.Logger
	metrics    statsd.Sink
}

// NewOrchestrator constructs a new Orchestrator.
func NewOrchestrator(opts OrchestratorOptions) (*Orchestrator, error) {
	d := opts.Deps
	if d.Registry == nil {
		return nil, errors.New("module registry is required")
	}
	if d.Enricher == nil {
		return nil, errors.New("module enricher is required")
	}
	if d.Jobs == nil {
		return nil, errors.New("EnrichmentJobRepository is required")
	}
	if d.Versioning == nil {
		return nil, errors.New("VersioningService is required")
	}
	if d.Changes == nil {
		return nil, errors.New("ChangeDetectionService is required")
	}

	cfg := opts.Config
	if cfg.WaveWorkers <= 0 {
		cfg.WaveWorkers = 4
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "orchestrator")
	}

	return &Orchestrator{
		registry:   d.Registry,
		enricher:   d.Enricher,
		jobs:       d.Jobs,
		versioning: d.Versioning,
		changes:    d.Changes,
		config:     cfg,
		logger:     logger,
		metrics:    opts.Metrics,
	}, nil
}

// checkpoint is the resumable state persisted after every wave.
type checkpoint struct {
	Wave      int                `json:"wave"`
	Completed model.ModuleIDList `json:"completed"`
	Failed    model.ModuleIDList `json:"failed"`
	Reasons   map[string]string  `json:"reasons,omitempty"`
}

// runState tracks module outcomes across waves. Guarded by mu because
// modules within a wave finish concurrently.
type runState struct {
	mu        sync.Mutex
	completed model.ModuleIDList
	failed    model.ModuleIDList
	reasons   map[string]string
}

func (st *runState) complete(id model.ModuleID) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.completed = append(st.completed, id)
}

func (st *runState) fail(id model.ModuleID, reason string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.failed = append(st.failed, id)
	st.reasons[string(id)] = reason
}

func (st *runState) done(id model.ModuleID) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.completed.Contains(id) || st.failed.Contains(id)
}

func (st *runState) completedOK(id model.ModuleID) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.completed.Contains(id)
}

// Run executes the job to a terminal state. The error return covers run
// loop failures only; module failures land in the job record.
func (o *Orchestrator) Run(ctx context.Context, job *model.EnrichmentJob) error {
	if job == nil {
		return errors.New("job is required")
	}

	targets, err := o.ResolveTargets(job)
	if err != nil {
		return o.finish(ctx, job, model.JobStatusFailed, err.Error(), time.Time{})
	}

	state := &runState{reasons: map[string]string{}}
	o.restoreCheckpoint(job, state)

	force := job.Force || job.JobType == model.JobTypeRefresh
	started := time.Now()

	if o.logger != nil {
		o.logger.InfoContext(ctx, "enrichment run starting",
			"job_id", job.ID, "domain", job.Domain,
			"targets", len(targets), "force", force,
			"resumed", len(state.completed)+len(state.failed) > 0,
		)
	}

	for _, wave := range o.registry.WaveOrder() {
		waveTargets := o.pendingInWave(wave, targets, state)
		if len(waveTargets) == 0 {
			continue
		}

		if cancelled, cancelErr := o.jobCancelled(ctx, job.ID); cancelErr != nil {
			return cancelErr
		} else if cancelled {
			if o.logger != nil {
				o.logger.InfoContext(ctx, "enrichment run cancelled", "job_id", job.ID, "wave", wave)
			}
			return nil
		}

		o.runWave(ctx, job, waveInput{wave: wave, targets: waveTargets, force: force}, state)

		if err := o.persistCheckpoint(ctx, job, wave, state); err != nil {
			// A cancelled job rejects progress writes; stop quietly.
			if errors.Is(err, model.ErrJobNotFound) {
				return nil
			}
			return err
		}

		if ctx.Err() != nil {
			return o.finish(ctx, job, model.JobStatusFailed, "run interrupted: "+ctx.Err().Error(), started)
		}
	}

	status, message := classifyOutcome(targets, state)
	return o.finish(ctx, job, status, message, started)
}

// ResolveTargets expands the job's module/wave selectors into the concrete
// target set, in registry (wave, id) order.
func (o *Orchestrator) ResolveTargets(job *model.EnrichmentJob) ([]model.ModuleID, error) {
	switch {
	case len(job.Modules) > 0:
		var targets []model.ModuleID
		for _, id := range o.registry.IDs() {
			if job.Modules.Contains(id) {
				targets = append(targets, id)
			}
		}
		if len(targets) != len(job.Modules) {
			for _, id := range job.Modules {
				if _, ok := o.registry.Get(id); !ok {
					return nil, apperrors.Validationf("unknown module: %s", id)
				}
			}
		}
		return targets, nil
	case len(job.Waves) > 0:
		waves := map[int]bool{}
		for _, w := range job.Waves {
			waves[w] = true
		}
		var targets []model.ModuleID
		for _, w := range o.registry.WaveOrder() {
			if waves[w] {
				targets = append(targets, o.registry.ByWave(w)...)
			}
		}
		if len(targets) == 0 {
			return nil, apperrors.Validation("selected waves contain no modules")
		}
		return targets, nil
	default:
		return o.registry.IDs(), nil
	}
}

func (o *Orchestrator) restoreCheckpoint(job *model.EnrichmentJob, state *runState) {
	if len(job.Checkpoint) == 0 {
		return
	}
	var cp checkpoint
	if err := json.Unmarshal(job.Checkpoint, &cp); err != nil {
		if o.logger != nil {
			o.logger.Warn("discarding corrupt checkpoint", "job_id", job.ID, "error", err)
		}
		return
	}
	state.completed = cp.Completed
	state.failed = cp.Failed
	if cp.Reasons != nil {
		state.reasons = cp.Reasons
	}
}

func (o *Orchestrator) pendingInWave(wave int, targets []model.ModuleID, state *runState) []model.ModuleID {
	var out []model.ModuleID
	for _, id := range o.registry.ByWave(wave) {
		if !containsID(targets, id) || state.done(id) {
			continue
		}
		out = append(out, id)
	}
	return out
}

type waveInput struct {
	wave    int
	targets []model.ModuleID
	force   bool
}

// runWave executes one wave's modules with bounded concurrency. Module
// errors are recorded in state, never propagated: a failed sibling must not
// cancel the rest of the wave.
func (o *Orchestrator) runWave(ctx context.Context, job *model.EnrichmentJob, in waveInput, state *runState) {
	waveCtx := ctx
	if o.config.WaveTimeout > 0 {
		var cancel context.CancelFunc
		waveCtx, cancel = context.WithTimeout(ctx, o.config.WaveTimeout)
		defer cancel()
	}

	g, gctx := errgroup.WithContext(waveCtx)
	g.SetLimit(o.config.WaveWorkers)

	for _, id := range in.targets {
		id := id
		g.Go(func() error {
			o.runModule(gctx, job, moduleInput{id: id, wave: in.wave, force: in.force}, state)
			return nil
		})
	}
	_ = g.Wait()
}

type moduleInput struct {
	id    model.ModuleID
	wave  int
	force bool
}

func (o *Orchestrator) runModule(ctx context.Context, job *model.EnrichmentJob, in moduleInput, state *runState) {
	def, ok := o.registry.Definition(in.id)
	if !ok {
		state.fail(in.id, "module not registered")
		return
	}

	if unmet := o.unmetDependencies(def, state); len(unmet) > 0 {
		err := apperrors.DependencyUnmetf("%s: dependencies did not complete: %s",
			in.id, joinIDs(unmet))
		state.fail(in.id, err.Error())
		metrics.EmitModuleEnrichment(o.metrics, metrics.ModuleMetric{
			ModuleID: string(in.id), Wave: in.wave, Result: metrics.ResultSkipped, Err: err,
		})
		if o.logger != nil {
			o.logger.WarnContext(ctx, "module skipped",
				"job_id", job.ID, "module", in.id, "unmet", joinIDs(unmet))
		}
		return
	}

	moduleCtx, cancel := context.WithTimeout(ctx, def.Timeout)
	defer cancel()

	started := time.Now()
	result, err := o.enricher.Enrich(moduleCtx, in.id, job.Domain, in.force)
	elapsed := time.Since(started)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = apperrors.Timeoutf("%s: timed out after %s", in.id, def.Timeout)
		}
		state.fail(in.id, err.Error())
		metrics.EmitModuleEnrichment(o.metrics, metrics.ModuleMetric{
			ModuleID: string(in.id), Wave: in.wave, Result: metrics.ResultError,
			Duration: elapsed, Err: err,
		})
		if o.logger != nil {
			o.logger.WarnContext(ctx, "module enrichment failed",
				"job_id", job.ID, "module", in.id, "error", err)
		}
		return
	}

	if !result.IsCached {
		if snapErr := o.persistResult(ctx, job, result, def); snapErr != nil {
			state.fail(in.id, snapErr.Error())
			metrics.EmitModuleEnrichment(o.metrics, metrics.ModuleMetric{
				ModuleID: string(in.id), Wave: in.wave, Result: metrics.ResultError,
				Duration: elapsed, Err: snapErr,
			})
			if o.logger != nil {
				o.logger.WarnContext(ctx, "snapshot persist failed",
					"job_id", job.ID, "module", in.id, "error", snapErr)
			}
			return
		}
	}

	state.complete(in.id)
	res := metrics.ResultSuccess
	if result.IsCached {
		res = metrics.ResultCached
	}
	metrics.EmitModuleEnrichment(o.metrics, metrics.ModuleMetric{
		ModuleID: string(in.id), Wave: in.wave, Result: res, Duration: elapsed,
	})
}

// unmetDependencies returns declared dependencies absent from the run's
// accumulated context. A completion restored from a checkpoint counts; a
// dependency that failed, or was never part of the target set, does not —
// the module is skipped rather than run against inputs of unknown state.
func (o *Orchestrator) unmetDependencies(def enrich.Definition, state *runState) []model.ModuleID {
	var unmet []model.ModuleID
	for _, dep := range def.DependsOn {
		if !state.completedOK(dep) {
			unmet = append(unmet, dep)
		}
	}
	return unmet
}

// persistResult writes the snapshot for a fresh module result and records
// its change events.
func (o *Orchestrator) persistResult(
	ctx context.Context,
	job *model.EnrichmentJob,
	result *model.ModuleResult,
	def enrich.Definition,
) error {
	snap, err := o.versioning.CreateSnapshot(ctx, &model.CreateSnapshotRequest{
		ModuleType:   result.ModuleID,
		Domain:       result.Domain,
		SnapshotType: model.SnapshotTypeAuto,
		Data:         result.Data,
		SourceURL:    result.Source.URL,
		SourceDate:   result.Source.Date,
		DataType:     def.DataType,
		JobID:        &job.ID,
		TriggeredBy:  job.TriggeredBy,
	})
	if err != nil {
		return err
	}

	if _, err := o.changes.RecordChanges(ctx, snap); err != nil {
		// The snapshot is already durable; losing its events is degraded,
		// not fatal to the module.
		if o.logger != nil {
			o.logger.WarnContext(ctx, "change event write failed",
				"job_id", job.ID, "module", result.ModuleID, "error", err)
		}
	}
	return nil
}

func (o *Orchestrator) jobCancelled(ctx context.Context, jobID string) (bool, error) {
	status, err := o.jobs.Status(ctx, jobID)
	if err != nil {
		if errors.Is(err, model.ErrJobNotFound) {
			return true, nil
		}
		return false, fmt.Errorf("check job status: %w", err)
	}
	return status == model.JobStatusCancelled, nil
}

func (o *Orchestrator) persistCheckpoint(ctx context.Context, job *model.EnrichmentJob, wave int, state *runState) error {
	state.mu.Lock()
	cp := checkpoint{
		Wave:      wave,
		Completed: append(model.ModuleIDList{}, state.completed...),
		Failed:    append(model.ModuleIDList{}, state.failed...),
		Reasons:   state.reasons,
	}
	state.mu.Unlock()

	sort.Slice(cp.Completed, func(i, j int) bool { return cp.Completed[i] < cp.Completed[j] })
	sort.Slice(cp.Failed, func(i, j int) bool { return cp.Failed[i] < cp.Failed[j] })

	raw, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}

	step := fmt.Sprintf("wave %d complete", wave)
	return o.jobs.UpdateProgress(ctx, core.UpdateJobProgressParams{
		ID:               job.ID,
		CompletedSteps:   len(cp.Completed) + len(cp.Failed),
		CurrentStep:      &step,
		ModulesCompleted: cp.Completed,
		ModulesFailed:    cp.Failed,
		Checkpoint:       raw,
	})
}

// classifyOutcome maps the final state onto a terminal status: failed only
// when nothing completed, completed otherwise (partial failures included).
func classifyOutcome(targets []model.ModuleID, state *runState) (model.JobStatus, string) {
	state.mu.Lock()
	defer state.mu.Unlock()

	if len(state.completed) == 0 && len(state.failed) > 0 {
		return model.JobStatusFailed, summarizeFailures(state.reasons)
	}
	if len(state.failed) > 0 {
		return model.JobStatusCompleted, summarizeFailures(state.reasons)
	}
	return model.JobStatusCompleted, ""
}

func summarizeFailures(reasons map[string]string) string {
	keys := make([]string, 0, len(reasons))
	for k := range reasons {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+reasons[k])
	}
	return strings.Join(parts, "; ")
}

func (o *Orchestrator) finish(ctx context.Context, job *model.EnrichmentJob, status model.JobStatus, message string, started time.Time) error {
	var errMsg *string
	if message != "" {
		errMsg = &message
	}

	err := o.jobs.Finish(ctx, core.FinishJobParams{
		ID:           job.ID,
		Status:       status,
		ErrorMessage: errMsg,
		CompletedAt:  time.Now(),
	})
	if err != nil && !errors.Is(err, model.ErrJobNotFound) {
		return fmt.Errorf("finish job: %w", err)
	}

	var duration time.Duration
	if !started.IsZero() {
		duration = time.Since(started)
	}
	metrics.EmitJobLifecycle(o.metrics, metrics.JobMetric{
		JobType:    string(job.JobType),
		Transition: "finish",
		Result:     lifecycleResult(status),
		Duration:   duration,
	})

	if o.logger != nil {
		o.logger.InfoContext(ctx, "enrichment run finished",
			"job_id", job.ID, "domain", job.Domain, "status", status, "message", message)
	}
	return nil
}

func lifecycleResult(status model.JobStatus) string {
	if status == model.JobStatusCompleted {
		return metrics.ResultSuccess
	}
	return metrics.ResultError
}

func containsID(ids []model.ModuleID, id model.ModuleID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func joinIDs(ids []model.ModuleID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	return strings.Join(parts, ", ")
}
