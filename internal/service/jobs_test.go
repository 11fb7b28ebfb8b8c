package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalhouse/domain-intel/internal/domain/model"
	apperrors "github.com/signalhouse/domain-intel/internal/errors"
)

func newTestJobService(t *testing.T) (*JobService, *fakeJobRepo) {
	t.Helper()
	repo := newFakeJobRepo()
	svc, err := NewJobService(JobServiceOptions{
		Repo:     repo,
		Registry: testRegistry(t),
	})
	require.NoError(t, err)
	return svc, repo
}

func TestNormalizeDomain(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"acme.com", "acme.com"},
		{"ACME.COM", "acme.com"},
		{"  acme.com  ", "acme.com"},
		{"www.acme.com", "acme.com"},
		{"api.eu.acme.com", "acme.com"},
		{"https://www.acme.com/about?ref=x", "acme.com"},
		{"http://acme.com:8080/path", "acme.com"},
		{"acme.com/pricing", "acme.com"},
		{"acme.com.", "acme.com"},
		{"www.acme.co.uk", "acme.co.uk"},
		{"https://shop.acme.co.uk/cart", "acme.co.uk"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := NormalizeDomain(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeDomain_Invalid(t *testing.T) {
	for _, input := range []string{"", "   ", "localhost", "not a domain", "https:///nohost", "com"} {
		t.Run(input, func(t *testing.T) {
			_, err := NormalizeDomain(input)
			require.Error(t, err)
			assert.True(t, apperrors.IsValidation(err))
		})
	}
}

func TestSubmit_DefaultsTargetAllModules(t *testing.T) {
	svc, _ := newTestJobService(t)

	job, err := svc.Submit(context.Background(), &model.CreateEnrichmentJobRequest{
		Domain: "https://www.acme.com/about",
	})
	require.NoError(t, err)

	assert.Equal(t, "acme.com", job.Domain, "domain is normalized before storage")
	assert.Equal(t, model.JobTypeEnrichment, job.JobType)
	assert.Equal(t, model.JobStatusQueued, job.Status)
	assert.Equal(t, 15, job.TotalSteps)
}

func TestSubmit_ModuleTargetsSetTotalSteps(t *testing.T) {
	svc, _ := newTestJobService(t)

	job, err := svc.Submit(context.Background(), &model.CreateEnrichmentJobRequest{
		Domain:  "acme.com",
		Modules: model.ModuleIDList{model.ModuleTechStack, model.ModuleExecutives},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, job.TotalSteps)
}

func TestSubmit_WaveTargetsSetTotalSteps(t *testing.T) {
	svc, _ := newTestJobService(t)

	job, err := svc.Submit(context.Background(), &model.CreateEnrichmentJobRequest{
		Domain: "acme.com",
		Waves:  []int{1, 3},
	})
	require.NoError(t, err)
	// Wave 1 has four modules, wave 3 has five.
	assert.Equal(t, 9, job.TotalSteps)
}

func TestSubmit_Rejections(t *testing.T) {
	svc, _ := newTestJobService(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  *model.CreateEnrichmentJobRequest
	}{
		{
			name: "modules and waves are mutually exclusive",
			req: &model.CreateEnrichmentJobRequest{
				Domain:  "acme.com",
				Modules: model.ModuleIDList{model.ModuleTechStack},
				Waves:   []int{1},
			},
		},
		{
			name: "wave out of range",
			req:  &model.CreateEnrichmentJobRequest{Domain: "acme.com", Waves: []int{5}},
		},
		{
			name: "invalid job type",
			req:  &model.CreateEnrichmentJobRequest{Domain: "acme.com", JobType: model.JobType("batch")},
		},
		{
			name: "unknown module",
			req: &model.CreateEnrichmentJobRequest{
				Domain:  "acme.com",
				Modules: model.ModuleIDList{model.ModuleID("m99_bogus")},
			},
		},
		{
			name: "missing domain",
			req:  &model.CreateEnrichmentJobRequest{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Submit(ctx, tt.req)
			require.Error(t, err)
			assert.True(t, apperrors.IsValidation(err))
		})
	}
}

func TestGetStatus(t *testing.T) {
	svc, repo := newTestJobService(t)
	ctx := context.Background()

	job, err := svc.Submit(ctx, &model.CreateEnrichmentJobRequest{Domain: "acme.com"})
	require.NoError(t, err)

	repo.mu.Lock()
	repo.jobs[job.ID].CompletedSteps = 3
	repo.mu.Unlock()

	status, err := svc.GetStatus(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusQueued, status.Status)
	assert.InDelta(t, 20.0, status.Progress, 1e-9)
}

func TestGetStatus_NotFound(t *testing.T) {
	svc, _ := newTestJobService(t)

	_, err := svc.GetStatus(context.Background(), "job-404")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestCancel(t *testing.T) {
	svc, repo := newTestJobService(t)
	ctx := context.Background()

	job, err := svc.Submit(ctx, &model.CreateEnrichmentJobRequest{Domain: "acme.com"})
	require.NoError(t, err)

	require.NoError(t, svc.Cancel(ctx, job.ID))
	status, err := repo.Status(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCancelled, status)

	// Cancelling a terminal job conflicts.
	err = svc.Cancel(ctx, job.ID)
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))
}

func TestCancel_NotFound(t *testing.T) {
	svc, _ := newTestJobService(t)

	err := svc.Cancel(context.Background(), "job-404")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}
