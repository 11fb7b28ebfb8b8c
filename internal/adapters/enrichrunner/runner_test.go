package enrichrunner

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalhouse/domain-intel/internal/core"
	"github.com/signalhouse/domain-intel/internal/domain/model"
)

type fakeCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

var _ core.CacheRepository = (*fakeCache)(nil)

func newFakeCache() *fakeCache {
	return &fakeCache{data: map[string][]byte{}}
}

func (c *fakeCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *fakeCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data[key], nil
}

func (c *fakeCache) Delete(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data[key]
	delete(c.data, key)
	return ok, nil
}

func (c *fakeCache) SetIfNotExists(_ context.Context, key string, value []byte, _ time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.data[key]; ok {
		return false, nil
	}
	c.data[key] = value
	return true, nil
}

func (c *fakeCache) Health(context.Context) error { return nil }

func newLockTestRunner(cache *fakeCache) *Runner {
	return &Runner{
		cache:   cache,
		lockTTL: 15 * time.Minute,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestAcquireDomainLock_FreeLockStoresJobID(t *testing.T) {
	cache := newFakeCache()
	r := newLockTestRunner(cache)
	job := &model.EnrichmentJob{ID: "job-1", Domain: "acme.com"}

	require.True(t, r.acquireDomainLock(context.Background(), job))

	held, err := cache.Get(context.Background(), lockKeyPrefix+"acme.com")
	require.NoError(t, err)
	assert.Equal(t, "job-1", string(held), "the lock value identifies the holding job")
}

func TestReleaseDomainLock_DeletesOwnLock(t *testing.T) {
	cache := newFakeCache()
	r := newLockTestRunner(cache)
	job := &model.EnrichmentJob{ID: "job-1", Domain: "acme.com"}
	require.True(t, r.acquireDomainLock(context.Background(), job))

	r.releaseDomainLock(job)

	held, err := cache.Get(context.Background(), lockKeyPrefix+"acme.com")
	require.NoError(t, err)
	assert.Nil(t, held)
}

func TestReleaseDomainLock_LeavesLockHeldByAnotherJob(t *testing.T) {
	// A run that outlives the lock TTL comes back to find the key held by
	// whichever runner re-acquired it; releasing must not delete that lock.
	cache := newFakeCache()
	r := newLockTestRunner(cache)
	require.NoError(t, cache.Set(context.Background(), lockKeyPrefix+"acme.com", []byte("job-2"), time.Minute))

	r.releaseDomainLock(&model.EnrichmentJob{ID: "job-1", Domain: "acme.com"})

	held, err := cache.Get(context.Background(), lockKeyPrefix+"acme.com")
	require.NoError(t, err)
	assert.Equal(t, "job-2", string(held))
}

func TestReleaseDomainLock_MissingKeyIsANoOp(t *testing.T) {
	cache := newFakeCache()
	r := newLockTestRunner(cache)

	r.releaseDomainLock(&model.EnrichmentJob{ID: "job-1", Domain: "acme.com"})

	held, err := cache.Get(context.Background(), lockKeyPrefix+"acme.com")
	require.NoError(t, err)
	assert.Nil(t, held)
}
