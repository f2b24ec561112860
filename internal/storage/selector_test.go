package storage

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend is an in-memory Backend whose probe and operations can be
// forced to fail.
type fakeBackend struct {
	name string

	mu        sync.Mutex
	data      map[string][]byte
	probeErr  error
	opErr     error
	probeHits int
}

func newFakeBackend(name string) *fakeBackend {
	return &fakeBackend{name: name, data: make(map[string][]byte)}
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) Probe(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probeHits++
	return f.probeErr
}

func (f *fakeBackend) Upload(ctx context.Context, data []byte, key, contentType string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.opErr != nil {
		return "", f.opErr
	}
	f.data[key] = data
	return f.name + "://" + key, nil
}

func (f *fakeBackend) Download(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.opErr != nil {
		return nil, f.opErr
	}
	data, ok := f.data[key]
	if !ok {
		return nil, errors.New("not found")
	}
	return data, nil
}

func (f *fakeBackend) Delete(ctx context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.opErr != nil {
		return false, f.opErr
	}
	_, ok := f.data[key]
	delete(f.data, key)
	return ok, nil
}

func (f *fakeBackend) List(ctx context.Context, prefix string, max int) ([]Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.opErr != nil {
		return nil, f.opErr
	}
	var entries []Entry
	for key, data := range f.data {
		entries = append(entries, Entry{Key: key, Size: int64(len(data))})
	}
	return entries, nil
}

func (f *fakeBackend) fail(probe, ops error) {
	f.mu.Lock()
	f.probeErr = probe
	f.opErr = ops
	f.mu.Unlock()
}

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func newTestSelector(backends ...Backend) *Selector {
	return NewSelector(backends, 100*time.Millisecond, setupTestLogger(), nil)
}

func TestFirstProbeSuccessBecomesActive(t *testing.T) {
	primary := newFakeBackend("primary")
	fallback := newFakeBackend("fallback")
	s := newTestSelector(primary, fallback)

	locator := s.Upload(context.Background(), []byte("x"), "k", "")
	assert.Equal(t, "primary://k", locator)
	assert.Equal(t, "primary", s.ActiveName(context.Background()))

	// The fallback was never consulted.
	assert.Zero(t, fallback.probeHits)
}

func TestProbeSkipsUnreachablePrimary(t *testing.T) {
	primary := newFakeBackend("primary")
	primary.fail(errors.New("dns failure"), nil)
	fallback := newFakeBackend("fallback")
	s := newTestSelector(primary, fallback)

	locator := s.Upload(context.Background(), []byte("x"), "k", "")
	assert.Equal(t, "fallback://k", locator)
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	s := newTestSelector(newFakeBackend("primary"))
	ctx := context.Background()

	payload := []byte("round-trip payload")
	require.NotEmpty(t, s.Upload(ctx, payload, "a/b.txt", "text/plain"))
	assert.Equal(t, payload, s.Download(ctx, "a/b.txt"))
}

func TestOperationFailureTriggersReprobeOnNextCall(t *testing.T) {
	primary := newFakeBackend("primary")
	fallback := newFakeBackend("fallback")
	s := newTestSelector(primary, fallback)
	ctx := context.Background()

	require.Equal(t, "primary://k", s.Upload(ctx, []byte("x"), "k", ""))

	// Primary dies mid-flight: the failing call returns the failure
	// idiom, it is NOT retried against the fallback within the call.
	primary.fail(errors.New("socket reset"), errors.New("socket reset"))
	assert.Empty(t, s.Upload(ctx, []byte("y"), "k2", ""))

	// The next call probes afresh and promotes the fallback.
	locator := s.Upload(ctx, []byte("y"), "k2", "")
	assert.Equal(t, "fallback://k2", locator)
	assert.Equal(t, "fallback", s.ActiveName(ctx))

	// The failed operation was not replayed: the caller retried it.
	data, ok := fallback.data["k2"]
	require.True(t, ok)
	assert.Equal(t, []byte("y"), data)
	assert.NotContains(t, primary.data, "k2")
}

func TestAllBackendsDown(t *testing.T) {
	primary := newFakeBackend("primary")
	primary.fail(errors.New("down"), nil)
	fallback := newFakeBackend("fallback")
	fallback.fail(errors.New("down"), nil)
	s := newTestSelector(primary, fallback)
	ctx := context.Background()

	assert.ErrorIs(t, s.Probe(ctx), ErrNoBackendAvailable)

	// Operations degrade to the uniform failure idiom, never a panic.
	assert.Empty(t, s.Upload(ctx, []byte("x"), "k", ""))
	assert.Nil(t, s.Download(ctx, "k"))
	assert.False(t, s.Delete(ctx, "k"))
	assert.Empty(t, s.List(ctx, "", 10))

	// Recovery on a later call once a backend comes back.
	fallback.fail(nil, nil)
	assert.Equal(t, "fallback://k", s.Upload(ctx, []byte("x"), "k", ""))
}

func TestDeleteReportsWhetherObjectExisted(t *testing.T) {
	s := newTestSelector(newFakeBackend("primary"))
	ctx := context.Background()

	s.Upload(ctx, []byte("x"), "k", "")
	assert.True(t, s.Delete(ctx, "k"))
	assert.False(t, s.Delete(ctx, "k"))
}
