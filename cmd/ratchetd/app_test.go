package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dthorne/ratchet/internal/executor"
	"github.com/dthorne/ratchet/internal/storage"
	"github.com/dthorne/ratchet/internal/taskqueue"
)

func newTestApplication(t *testing.T) *application {
	t.Helper()

	t.Setenv("RATCHET_STORAGE_LOCAL_DIR", t.TempDir())
	t.Setenv("RATCHET_SERVER_LOG_LEVEL", "warn")

	app, err := newApplication()
	require.NoError(t, err)
	t.Cleanup(app.cleanup)
	return app
}

func TestNewApplicationWiresComponents(t *testing.T) {
	app := newTestApplication(t)

	assert.NotNil(t, app.executor)
	assert.NotNil(t, app.queue)
	assert.NotNil(t, app.cache)
	assert.NotNil(t, app.selector)
	assert.NotNil(t, app.collector)
	assert.NotNil(t, app.router)

	// No database configured, so the origin store stays disabled.
	assert.Nil(t, app.origin)
	assert.Nil(t, app.db)
}

func TestNewApplicationFailsWhenNoBackendProbes(t *testing.T) {
	// Rooting the filesystem backend under a regular file makes its probe
	// fail; with no S3 configured that leaves no backend at all, which is
	// a fatal configuration error rather than a degraded start.
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	t.Setenv("RATCHET_STORAGE_LOCAL_DIR", filepath.Join(blocker, "objects"))
	t.Setenv("RATCHET_SERVER_LOG_LEVEL", "warn")

	_, err := newApplication()
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrNoBackendAvailable)
}

func TestApplicationEndToEnd(t *testing.T) {
	app := newTestApplication(t)
	ctx := context.Background()

	// Executor work flows through and lands in the metrics snapshot.
	h, err := app.executor.Submit(ctx, func(ctx context.Context) (any, error) {
		return 7, nil
	}, "smoke")
	require.NoError(t, err)
	results := app.executor.Wait([]*executor.Handle{h}, time.Second)
	require.Len(t, results, 1)
	assert.Equal(t, 7, results[0].Value)

	// Queue jobs are pollable over the ops surface.
	id, err := app.queue.Submit(func(ctx context.Context) (any, error) {
		return "ok", nil
	}, "")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		status, ok := app.queue.GetStatus(id)
		return ok && status == taskqueue.JobStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	rec := httptest.NewRecorder()
	app.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ops/queue/"+id, nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	// The cache runs local-only without Redis and still round-trips.
	require.NoError(t, app.cache.Set(ctx, "smoke:key", "value", 0))
	got, ok := app.cache.Get(ctx, "smoke:key")
	require.True(t, ok)
	assert.Equal(t, "value", got)

	// Storage lands on the filesystem fallback.
	locator := app.selector.Upload(ctx, []byte("blob"), "smoke/blob", "")
	assert.NotEmpty(t, locator)
	assert.Equal(t, []byte("blob"), app.selector.Download(ctx, "smoke/blob"))

	snap := app.collector.Snapshot()
	assert.GreaterOrEqual(t, snap.TasksCompleted, uint64(2))
}

func TestSnapshotEndpointThroughRouter(t *testing.T) {
	app := newTestApplication(t)

	rec := httptest.NewRecorder()
	app.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ops/metrics/snapshot", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "cache_hit_rate")

	rec = httptest.NewRecorder()
	app.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
