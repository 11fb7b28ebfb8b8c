package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalhouse/domain-intel/internal/core"
	"github.com/signalhouse/domain-intel/internal/domain/model"
	"github.com/signalhouse/domain-intel/internal/enrich"
)

// nullProvider satisfies the catalog so the full default registry can be
// built; orchestrator tests stub the enricher, so it is never called.
type nullProvider struct{ name string }

func (p nullProvider) Name() string { return p.name }

func (p nullProvider) Fetch(context.Context, string, map[string]string) (map[string]any, string, error) {
	return nil, "", fmt.Errorf("%s: not wired in this test", p.name)
}

func testRegistry(t *testing.T) *enrich.Registry {
	t.Helper()
	catalog := enrich.ProviderCatalog{
		enrich.ProviderTechnographics:   nullProvider{name: enrich.ProviderTechnographics},
		enrich.ProviderTrafficAnalytics: nullProvider{name: enrich.ProviderTrafficAnalytics},
		enrich.ProviderFinancialData:    nullProvider{name: enrich.ProviderFinancialData},
		enrich.ProviderWebSearch:        nullProvider{name: enrich.ProviderWebSearch},
	}
	reg, err := enrich.NewDefaultRegistry(catalog)
	require.NoError(t, err)
	return reg
}

// scriptedEnricher records calls and returns scripted results per module.
type scriptedEnricher struct {
	mu     sync.Mutex
	reg    *enrich.Registry
	calls  []model.ModuleID
	forces []bool
	fail   map[model.ModuleID]error
	cached map[model.ModuleID]bool
	data   map[model.ModuleID]json.RawMessage
}

func newScriptedEnricher(reg *enrich.Registry) *scriptedEnricher {
	return &scriptedEnricher{
		reg:    reg,
		fail:   map[model.ModuleID]error{},
		cached: map[model.ModuleID]bool{},
		data:   map[model.ModuleID]json.RawMessage{},
	}
}

func (e *scriptedEnricher) Enrich(
	_ context.Context,
	id model.ModuleID,
	domain string,
	force bool,
) (*model.ModuleResult, error) {
	e.mu.Lock()
	e.calls = append(e.calls, id)
	e.forces = append(e.forces, force)
	err := e.fail[id]
	cached := e.cached[id]
	data := e.data[id]
	e.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if data == nil {
		data = mustRaw(map[string]any{"module": string(id)})
	}
	return &model.ModuleResult{
		ModuleID:   id,
		Domain:     domain,
		Data:       data,
		Source:     model.SourceCitation{URL: "https://src.example/" + string(id), Date: time.Now()},
		EnrichedAt: time.Now(),
		IsCached:   cached,
	}, nil
}

func (e *scriptedEnricher) callOrder() []model.ModuleID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]model.ModuleID{}, e.calls...)
}

type orchestratorFixture struct {
	orch     *Orchestrator
	enricher *scriptedEnricher
	jobs     *fakeJobRepo
	snaps    *fakeSnapshotRepo
	changes  *fakeChangeEventRepo
	registry *enrich.Registry
}

func newOrchestratorFixture(t *testing.T) *orchestratorFixture {
	t.Helper()
	reg := testRegistry(t)
	enricher := newScriptedEnricher(reg)
	jobs := newFakeJobRepo()
	snaps := newFakeSnapshotRepo()
	changeRepo := &fakeChangeEventRepo{}

	versioning, err := NewVersioningService(VersioningServiceOptions{Repo: snaps})
	require.NoError(t, err)
	changes, err := NewChangeDetectionService(ChangeDetectionServiceOptions{Repo: changeRepo})
	require.NoError(t, err)

	orch, err := NewOrchestrator(OrchestratorOptions{
		Deps: OrchestratorDeps{
			Registry:   reg,
			Enricher:   enricher,
			Jobs:       jobs,
			Versioning: versioning,
			Changes:    changes,
		},
		Config: OrchestratorConfig{WaveWorkers: 4},
	})
	require.NoError(t, err)

	return &orchestratorFixture{
		orch:     orch,
		enricher: enricher,
		jobs:     jobs,
		snaps:    snaps,
		changes:  changeRepo,
		registry: reg,
	}
}

// reservedJob creates and reserves a job so it is in running state, the way
// the runner hands jobs to the orchestrator.
func (f *orchestratorFixture) reservedJob(t *testing.T, req *model.CreateEnrichmentJobRequest) *model.EnrichmentJob {
	t.Helper()
	total := len(req.Modules)
	if total == 0 {
		total = f.registry.Len()
	}
	_, err := f.jobs.Create(context.Background(), core.CreateJobParams{Req: req, TotalSteps: total})
	require.NoError(t, err)
	job, err := f.jobs.ReserveNext(context.Background())
	require.NoError(t, err)
	return job
}

func TestOrchestratorRun_FullEnrichmentCompletes(t *testing.T) {
	f := newOrchestratorFixture(t)
	job := f.reservedJob(t, &model.CreateEnrichmentJobRequest{Domain: "acme.com"})

	require.NoError(t, f.orch.Run(context.Background(), job))

	status, errMsg := f.jobs.finishedStatus(job.ID)
	assert.Equal(t, model.JobStatusCompleted, status)
	assert.Nil(t, errMsg)

	calls := f.enricher.callOrder()
	require.Len(t, calls, f.registry.Len(), "every module runs exactly once")

	// Waves must never interleave: the wave of each call is non-decreasing.
	lastWave := 0
	for _, id := range calls {
		def, ok := f.registry.Definition(id)
		require.True(t, ok)
		assert.GreaterOrEqual(t, def.Wave, lastWave, "module %s ran before its wave", id)
		if def.Wave > lastWave {
			lastWave = def.Wave
		}
	}

	// One fresh snapshot per module, with provenance tied to the job.
	assert.Equal(t, f.registry.Len(), f.snaps.count())
	snap, err := f.snaps.GetLatest(context.Background(), "acme.com", model.ModuleTechStack)
	require.NoError(t, err)
	require.NotNil(t, snap.JobID)
	assert.Equal(t, job.ID, *snap.JobID)
	assert.Equal(t, model.SnapshotTypeAuto, snap.SnapshotType)
}

func TestOrchestratorRun_FailedDependencySkipsDependents(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.enricher.fail[model.ModuleCompanyContext] = fmt.Errorf("provider down")
	job := f.reservedJob(t, &model.CreateEnrichmentJobRequest{Domain: "acme.com"})

	require.NoError(t, f.orch.Run(context.Background(), job))

	status, errMsg := f.jobs.finishedStatus(job.ID)
	assert.Equal(t, model.JobStatusCompleted, status, "partial failure still completes")
	require.NotNil(t, errMsg)
	assert.Contains(t, *errMsg, "m01_company_context: ")

	final, err := f.jobs.GetByID(context.Background(), job.ID)
	require.NoError(t, err)

	// Direct dependents of m01 are skipped, and the skip cascades: m14
	// depends on m06/m07, which both depend on m01.
	for _, id := range []model.ModuleID{
		model.ModuleCompanyContext, model.ModuleHiring, model.ModuleCompetitors,
		model.ModuleSignalScore,
	} {
		assert.True(t, final.ModulesFailed.Contains(id), "%s should have failed", id)
	}
	for _, id := range []model.ModuleID{
		model.ModuleTechStack, model.ModuleTraffic, model.ModuleFinancials,
		model.ModuleICPScore,
	} {
		assert.True(t, final.ModulesComplete.Contains(id), "%s should have completed", id)
	}

	// Skipped modules never reach the enricher.
	assert.NotContains(t, f.enricher.callOrder(), model.ModuleHiring)
}

func TestOrchestratorRun_ModuleTimeoutIsRecordedAsFailure(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.enricher.fail[model.ModuleTechStack] = context.DeadlineExceeded
	job := f.reservedJob(t, &model.CreateEnrichmentJobRequest{Domain: "acme.com"})

	require.NoError(t, f.orch.Run(context.Background(), job))

	status, errMsg := f.jobs.finishedStatus(job.ID)
	assert.Equal(t, model.JobStatusCompleted, status, "a timed-out module does not sink the job")
	require.NotNil(t, errMsg)
	assert.Contains(t, *errMsg, "timed out after")

	final, err := f.jobs.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.True(t, final.ModulesFailed.Contains(model.ModuleTechStack))
	for _, id := range []model.ModuleID{
		model.ModuleCompanyContext, model.ModuleTraffic, model.ModuleFinancials,
	} {
		assert.True(t, final.ModulesComplete.Contains(id), "%s should have completed", id)
	}
}

func TestOrchestratorRun_AllModulesFailingFailsJob(t *testing.T) {
	f := newOrchestratorFixture(t)
	for _, id := range model.AllModuleIDs() {
		f.enricher.fail[id] = fmt.Errorf("provider down")
	}
	job := f.reservedJob(t, &model.CreateEnrichmentJobRequest{Domain: "acme.com"})

	require.NoError(t, f.orch.Run(context.Background(), job))

	status, errMsg := f.jobs.finishedStatus(job.ID)
	assert.Equal(t, model.JobStatusFailed, status)
	require.NotNil(t, errMsg)
	assert.Contains(t, *errMsg, "provider down")
	assert.Zero(t, f.snaps.count())
}

func TestOrchestratorRun_ModuleSubsetTarget(t *testing.T) {
	f := newOrchestratorFixture(t)
	job := f.reservedJob(t, &model.CreateEnrichmentJobRequest{
		Domain:  "acme.com",
		Modules: model.ModuleIDList{model.ModuleTechStack, model.ModuleTraffic},
	})

	require.NoError(t, f.orch.Run(context.Background(), job))

	status, _ := f.jobs.finishedStatus(job.ID)
	assert.Equal(t, model.JobStatusCompleted, status)
	assert.ElementsMatch(t,
		[]model.ModuleID{model.ModuleTechStack, model.ModuleTraffic},
		f.enricher.callOrder())
}

func TestOrchestratorRun_ExcludedDependencySkipsModule(t *testing.T) {
	// m13 depends on m02/m03/m04, none of which are in the target set. A
	// dependency excluded from the run is unmet; the module must be skipped,
	// never executed.
	f := newOrchestratorFixture(t)
	job := f.reservedJob(t, &model.CreateEnrichmentJobRequest{
		Domain:  "acme.com",
		Modules: model.ModuleIDList{model.ModuleICPScore},
	})

	require.NoError(t, f.orch.Run(context.Background(), job))

	status, errMsg := f.jobs.finishedStatus(job.ID)
	assert.Equal(t, model.JobStatusFailed, status, "nothing ran, nothing completed")
	require.NotNil(t, errMsg)
	assert.Contains(t, *errMsg, "dependencies did not complete")
	assert.Empty(t, f.enricher.callOrder(), "skipped modules never reach the enricher")

	final, err := f.jobs.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.True(t, final.ModulesFailed.Contains(model.ModuleICPScore))
}

func TestOrchestratorRun_SubsetCarryingItsDepsCompletes(t *testing.T) {
	f := newOrchestratorFixture(t)
	job := f.reservedJob(t, &model.CreateEnrichmentJobRequest{
		Domain: "acme.com",
		Modules: model.ModuleIDList{
			model.ModuleTechStack, model.ModuleTraffic,
			model.ModuleFinancials, model.ModuleICPScore,
		},
	})

	require.NoError(t, f.orch.Run(context.Background(), job))

	status, errMsg := f.jobs.finishedStatus(job.ID)
	assert.Equal(t, model.JobStatusCompleted, status)
	assert.Nil(t, errMsg)
	assert.Len(t, f.enricher.callOrder(), 4)
}

func TestOrchestratorRun_UnknownModuleFailsBeforeStarting(t *testing.T) {
	f := newOrchestratorFixture(t)
	job := f.reservedJob(t, &model.CreateEnrichmentJobRequest{Domain: "acme.com"})
	job.Modules = model.ModuleIDList{model.ModuleID("m99_bogus")}

	require.NoError(t, f.orch.Run(context.Background(), job))

	status, errMsg := f.jobs.finishedStatus(job.ID)
	assert.Equal(t, model.JobStatusFailed, status)
	require.NotNil(t, errMsg)
	assert.Contains(t, *errMsg, "unknown module")
	assert.Empty(t, f.enricher.callOrder())
}

func TestOrchestratorRun_CheckpointResumeSkipsDoneModules(t *testing.T) {
	f := newOrchestratorFixture(t)
	job := f.reservedJob(t, &model.CreateEnrichmentJobRequest{Domain: "acme.com"})

	cp := map[string]any{
		"wave":      1,
		"completed": []string{"m01_company_context", "m02_tech_stack", "m03_traffic", "m04_financials"},
		"failed":    []string{},
	}
	job.Checkpoint = mustRaw(cp)

	require.NoError(t, f.orch.Run(context.Background(), job))

	status, _ := f.jobs.finishedStatus(job.ID)
	assert.Equal(t, model.JobStatusCompleted, status)

	calls := f.enricher.callOrder()
	assert.Len(t, calls, f.registry.Len()-4, "wave 1 must not rerun")
	for _, id := range []model.ModuleID{
		model.ModuleCompanyContext, model.ModuleTechStack,
		model.ModuleTraffic, model.ModuleFinancials,
	} {
		assert.NotContains(t, calls, id)
	}

	// The restored completions still count in the final record.
	final, err := f.jobs.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.True(t, final.ModulesComplete.Contains(model.ModuleTechStack))
}

func TestOrchestratorRun_CorruptCheckpointIsDiscarded(t *testing.T) {
	f := newOrchestratorFixture(t)
	job := f.reservedJob(t, &model.CreateEnrichmentJobRequest{Domain: "acme.com"})
	job.Checkpoint = []byte("{not json")

	require.NoError(t, f.orch.Run(context.Background(), job))

	status, _ := f.jobs.finishedStatus(job.ID)
	assert.Equal(t, model.JobStatusCompleted, status)
	assert.Len(t, f.enricher.callOrder(), f.registry.Len(), "corrupt checkpoint means a full run")
}

func TestOrchestratorRun_CancellationStopsAtWaveBoundary(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.jobs.cancelAfterProgress = true
	job := f.reservedJob(t, &model.CreateEnrichmentJobRequest{Domain: "acme.com"})

	require.NoError(t, f.orch.Run(context.Background(), job))

	// Only wave 1 ran; the cancellation check before wave 2 stopped the run.
	calls := f.enricher.callOrder()
	assert.Len(t, calls, 4)
	for _, id := range calls {
		def, ok := f.registry.Definition(id)
		require.True(t, ok)
		assert.Equal(t, 1, def.Wave)
	}

	// A cancelled job must never be resurrected to a terminal state.
	status, err := f.jobs.Status(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCancelled, status)
	assert.Empty(t, f.jobs.finishes)
}

func TestOrchestratorRun_CachedResultsSkipSnapshots(t *testing.T) {
	f := newOrchestratorFixture(t)
	for _, id := range model.AllModuleIDs() {
		f.enricher.cached[id] = true
	}
	job := f.reservedJob(t, &model.CreateEnrichmentJobRequest{Domain: "acme.com"})

	require.NoError(t, f.orch.Run(context.Background(), job))

	status, _ := f.jobs.finishedStatus(job.ID)
	assert.Equal(t, model.JobStatusCompleted, status)
	assert.Zero(t, f.snaps.count(), "cached results must not churn the version log")
}

func TestOrchestratorRun_RefreshJobForcesEnrichment(t *testing.T) {
	f := newOrchestratorFixture(t)
	job := f.reservedJob(t, &model.CreateEnrichmentJobRequest{
		Domain:  "acme.com",
		JobType: model.JobTypeRefresh,
	})

	require.NoError(t, f.orch.Run(context.Background(), job))

	f.enricher.mu.Lock()
	defer f.enricher.mu.Unlock()
	require.NotEmpty(t, f.enricher.forces)
	for _, force := range f.enricher.forces {
		assert.True(t, force, "refresh jobs bypass module caches")
	}
}

func TestOrchestratorRun_SecondRunRecordsChangeEvents(t *testing.T) {
	f := newOrchestratorFixture(t)
	ctx := context.Background()

	first := f.reservedJob(t, &model.CreateEnrichmentJobRequest{
		Domain:  "acme.com",
		Modules: model.ModuleIDList{model.ModuleTechStack},
	})
	f.enricher.data[model.ModuleTechStack] = mustRaw(map[string]any{"cms": "wordpress"})
	require.NoError(t, f.orch.Run(ctx, first))
	assert.Empty(t, f.changes.events, "version 1 produces no change events")

	second := f.reservedJob(t, &model.CreateEnrichmentJobRequest{
		Domain:  "acme.com",
		Modules: model.ModuleIDList{model.ModuleTechStack},
	})
	f.enricher.mu.Lock()
	f.enricher.data[model.ModuleTechStack] = mustRaw(map[string]any{"cms": "contentful"})
	f.enricher.mu.Unlock()
	require.NoError(t, f.orch.Run(ctx, second))

	require.Len(t, f.changes.events, 1)
	ev := f.changes.events[0]
	assert.Equal(t, "cms", ev.Field)
	assert.Equal(t, model.CategoryTechStackChange, ev.Category)

	snap, err := f.snaps.GetLatest(ctx, "acme.com", model.ModuleTechStack)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Version)
	assert.True(t, snap.HasChanges)
}

func TestOrchestratorRun_PersistFailureMarksModuleFailed(t *testing.T) {
	f := newOrchestratorFixture(t)
	job := f.reservedJob(t, &model.CreateEnrichmentJobRequest{
		Domain:  "acme.com",
		Modules: model.ModuleIDList{model.ModuleTechStack},
	})

	// A result without a citation URL fails the snapshot gate after an
	// otherwise successful enrichment.
	f.orch.enricher = &bareResultEnricher{}

	require.NoError(t, f.orch.Run(context.Background(), job))

	status, errMsg := f.jobs.finishedStatus(job.ID)
	assert.Equal(t, model.JobStatusFailed, status)
	require.NotNil(t, errMsg)
	assert.Contains(t, *errMsg, "source url is required")
	assert.Zero(t, f.snaps.count())
}

// bareResultEnricher returns results that are missing their citation, which
// must be rejected at persist time.
type bareResultEnricher struct{}

func (e *bareResultEnricher) Enrich(
	_ context.Context,
	id model.ModuleID,
	domain string,
	_ bool,
) (*model.ModuleResult, error) {
	return &model.ModuleResult{
		ModuleID:   id,
		Domain:     domain,
		Data:       mustRaw(map[string]any{"module": string(id)}),
		EnrichedAt: time.Now(),
	}, nil
}
