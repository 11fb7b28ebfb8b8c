package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalhouse/domain-intel/internal/core"
	"github.com/signalhouse/domain-intel/internal/domain/model"
	apperrors "github.com/signalhouse/domain-intel/internal/errors"
)

var versioningNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestVersioningService(t *testing.T) (*VersioningService, *fakeSnapshotRepo) {
	t.Helper()
	repo := newFakeSnapshotRepo()
	svc, err := NewVersioningService(VersioningServiceOptions{
		Repo: repo,
		Time: func() time.Time { return versioningNow },
	})
	require.NoError(t, err)
	return svc, repo
}

func snapshotRequest(data any) *model.CreateSnapshotRequest {
	return &model.CreateSnapshotRequest{
		ModuleType: model.ModuleTechStack,
		Domain:     "acme.com",
		Data:       mustRaw(data),
		SourceURL:  "https://builtwith.example/acme.com",
		SourceDate: versioningNow.AddDate(0, 0, -1),
		DataType:   model.DataTypeTechStack,
	}
}

func TestCreateSnapshot_FirstVersionHasNoDiff(t *testing.T) {
	svc, _ := newTestVersioningService(t)

	snap, err := svc.CreateSnapshot(context.Background(), snapshotRequest(map[string]any{"cms": "wordpress"}))
	require.NoError(t, err)

	assert.Equal(t, 1, snap.Version)
	assert.Equal(t, model.SnapshotTypeAuto, snap.SnapshotType)
	assert.False(t, snap.HasChanges)
	assert.Zero(t, snap.ChangeCount)
	assert.Nil(t, snap.DiffFromPrevious, "version 1 stores a null diff, not an empty object")
	assert.Nil(t, snap.HighestSignificance)
}

func TestCreateSnapshot_SecondVersionCarriesDiff(t *testing.T) {
	svc, _ := newTestVersioningService(t)
	ctx := context.Background()

	_, err := svc.CreateSnapshot(ctx, snapshotRequest(map[string]any{
		"cms": "wordpress", "cdn": "cloudflare",
	}))
	require.NoError(t, err)

	snap, err := svc.CreateSnapshot(ctx, snapshotRequest(map[string]any{
		"cms": "contentful", "cdn": "cloudflare", "analytics": "segment",
	}))
	require.NoError(t, err)

	assert.Equal(t, 2, snap.Version)
	assert.True(t, snap.HasChanges)
	assert.Equal(t, 2, snap.ChangeCount, "one changed field plus one added field")
	assert.NotEmpty(t, snap.DiffFromPrevious)
	require.NotNil(t, snap.HighestSignificance)
	assert.True(t, snap.HighestSignificance.Valid())
}

func TestCreateSnapshot_IdenticalDataReportsNoChanges(t *testing.T) {
	svc, _ := newTestVersioningService(t)
	ctx := context.Background()
	payload := map[string]any{"cms": "wordpress"}

	_, err := svc.CreateSnapshot(ctx, snapshotRequest(payload))
	require.NoError(t, err)

	snap, err := svc.CreateSnapshot(ctx, snapshotRequest(payload))
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Version, "identical data still appends a version")
	assert.False(t, snap.HasChanges)
	assert.Zero(t, snap.ChangeCount)
}

func TestCreateSnapshot_CitationGateBlocksPersist(t *testing.T) {
	svc, repo := newTestVersioningService(t)
	ctx := context.Background()

	missing := snapshotRequest(map[string]any{"cms": "wordpress"})
	missing.SourceURL = ""
	_, err := svc.CreateSnapshot(ctx, missing)
	require.Error(t, err)
	assert.True(t, apperrors.IsMissingSource(err))

	// tech_stack allows 90 days.
	stale := snapshotRequest(map[string]any{"cms": "wordpress"})
	stale.SourceDate = versioningNow.AddDate(0, 0, -120)
	_, err = svc.CreateSnapshot(ctx, stale)
	require.Error(t, err)
	assert.True(t, apperrors.IsStaleSource(err))

	assert.Zero(t, repo.count(), "gated data must never reach the repository")
}

func TestCreateSnapshot_SourceDateAtBoundPasses(t *testing.T) {
	svc, _ := newTestVersioningService(t)

	req := snapshotRequest(map[string]any{"cms": "wordpress"})
	req.SourceDate = versioningNow.AddDate(0, 0, -90)
	_, err := svc.CreateSnapshot(context.Background(), req)
	require.NoError(t, err)
}

func TestGetLatest_NotFound(t *testing.T) {
	svc, _ := newTestVersioningService(t)

	_, err := svc.GetLatest(context.Background(), "unknown.com", model.ModuleTechStack)
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestGetVersionAt_PicksSnapshotCurrentAtTime(t *testing.T) {
	svc, repo := newTestVersioningService(t)
	ctx := context.Background()

	first, err := svc.CreateSnapshot(ctx, snapshotRequest(map[string]any{"cms": "wordpress"}))
	require.NoError(t, err)
	repo.mu.Lock()
	repo.snaps[snapKey("acme.com", model.ModuleTechStack)][0].SnapshotAt = versioningNow.AddDate(0, 0, -10)
	repo.mu.Unlock()

	_, err = svc.CreateSnapshot(ctx, snapshotRequest(map[string]any{"cms": "contentful"}))
	require.NoError(t, err)

	got, err := svc.GetVersionAt(ctx, core.SnapshotAtParams{
		Domain:     "acme.com",
		ModuleType: model.ModuleTechStack,
		At:         versioningNow.AddDate(0, 0, -5),
	})
	require.NoError(t, err)
	assert.Equal(t, first.Version, got.Version)

	_, err = svc.GetVersionAt(ctx, core.SnapshotAtParams{
		Domain:     "acme.com",
		ModuleType: model.ModuleTechStack,
		At:         versioningNow.AddDate(0, 0, -30),
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestCompareVersions(t *testing.T) {
	svc, _ := newTestVersioningService(t)
	ctx := context.Background()

	_, err := svc.CreateSnapshot(ctx, snapshotRequest(map[string]any{"cms": "wordpress", "cdn": "akamai"}))
	require.NoError(t, err)
	_, err = svc.CreateSnapshot(ctx, snapshotRequest(map[string]any{"cms": "contentful", "cdn": "akamai"}))
	require.NoError(t, err)

	cmp, err := svc.CompareVersions(ctx, CompareVersionsParams{
		Domain:      "acme.com",
		ModuleType:  model.ModuleTechStack,
		FromVersion: 1,
		ToVersion:   2,
	})
	require.NoError(t, err)
	assert.Len(t, cmp.Diff.Changed, 1)
	assert.Contains(t, cmp.Diff.Changed, "cms")
	assert.Equal(t, []string{"cdn"}, cmp.Diff.Unchanged)
}

func TestCompareVersions_SameVersionRejected(t *testing.T) {
	svc, _ := newTestVersioningService(t)

	_, err := svc.CompareVersions(context.Background(), CompareVersionsParams{
		Domain:      "acme.com",
		ModuleType:  model.ModuleTechStack,
		FromVersion: 2,
		ToVersion:   2,
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestCompareVersions_MissingVersion(t *testing.T) {
	svc, _ := newTestVersioningService(t)
	ctx := context.Background()

	_, err := svc.CreateSnapshot(ctx, snapshotRequest(map[string]any{"cms": "wordpress"}))
	require.NoError(t, err)

	_, err = svc.CompareVersions(ctx, CompareVersionsParams{
		Domain:      "acme.com",
		ModuleType:  model.ModuleTechStack,
		FromVersion: 1,
		ToVersion:   7,
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}
