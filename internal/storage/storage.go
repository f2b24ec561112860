package storage

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dthorne/ratchet/internal/metrics"
)

// ErrNoBackendAvailable is returned (once, loudly) when every configured
// backend fails its capability probe. At startup this is fatal
// configuration; afterwards operations fall back to the uniform failure
// idiom.
var ErrNoBackendAvailable = errors.New("no storage backend available")

// Entry describes one stored object in a List result.
type Entry struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// Backend is the capability contract implemented by every concrete
// object-storage variant. Exactly one variant is active per process
// lifetime unless a failover is triggered.
type Backend interface {
	// Name identifies the backend in logs and metrics.
	Name() string

	// Probe is a cheap capability call with a short timeout used to test
	// reachability before committing to the backend.
	Probe(ctx context.Context) error

	// Upload stores data under key and returns a locator for it.
	Upload(ctx context.Context, data []byte, key, contentType string) (string, error)

	// Download returns the object's bytes.
	Download(ctx context.Context, key string) ([]byte, error)

	// Delete removes the object, reporting whether a deletion happened.
	Delete(ctx context.Context, key string) (bool, error)

	// List returns up to max entries under the prefix.
	List(ctx context.Context, prefix string, max int) ([]Entry, error)
}

// Selector exposes one uniform upload/download/delete/list contract over
// an ordered list of interchangeable backends. On first use it probes the
// backends in preference order (primary remote store first) and the first
// success becomes active for the process lifetime.
//
// Failover is deliberately conservative: a failed operation is never
// retried against another backend mid-call (that risks silent double
// writes). Instead the failure schedules a fresh probe cycle for the
// *next* call, which may promote a different backend. Callers that need
// the failed operation applied must retry it themselves.
//
// Every operation returns the failure idiom (empty locator, nil bytes,
// false, empty list) instead of an error, so callers have a single
// failure shape regardless of which backend is active.
type Selector struct {
	backends     []Backend
	probeTimeout time.Duration
	log          *slog.Logger
	collector    *metrics.Collector

	mu         sync.Mutex
	active     Backend
	probed     bool // at least one probe cycle ran
	probeFatal bool // first cycle found nothing; already reported loudly
}

// NewSelector builds a selector over backends in preference order.
// collector may be nil.
func NewSelector(backends []Backend, probeTimeout time.Duration, log *slog.Logger, collector *metrics.Collector) *Selector {
	if log == nil {
		log = slog.Default()
	}
	if probeTimeout <= 0 {
		probeTimeout = 2 * time.Second
	}
	return &Selector{
		backends:     backends,
		probeTimeout: probeTimeout,
		log:          log,
		collector:    collector,
	}
}

// Probe eagerly runs the first probe cycle. Called at startup so a
// configuration with no reachable backend fails loudly at initialization
// instead of at first use.
func (s *Selector) Probe(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.probeLocked(ctx) == nil {
		return ErrNoBackendAvailable
	}
	return nil
}

// ActiveName reports the active backend for observability, probing first
// if needed.
func (s *Selector) ActiveName(ctx context.Context) string {
	b := s.current(ctx)
	if b == nil {
		return ""
	}
	return b.Name()
}

// Upload stores data under key and returns its locator, or "" on failure.
func (s *Selector) Upload(ctx context.Context, data []byte, key, contentType string) string {
	b := s.current(ctx)
	if b == nil {
		return ""
	}
	locator, err := b.Upload(ctx, data, key, contentType)
	if err != nil {
		s.operationFailed(b, "upload", key, err)
		return ""
	}
	return locator
}

// Download returns the object's bytes, or nil on failure or absence.
func (s *Selector) Download(ctx context.Context, key string) []byte {
	b := s.current(ctx)
	if b == nil {
		return nil
	}
	data, err := b.Download(ctx, key)
	if err != nil {
		s.operationFailed(b, "download", key, err)
		return nil
	}
	return data
}

// Delete removes the object, returning false on failure.
func (s *Selector) Delete(ctx context.Context, key string) bool {
	b := s.current(ctx)
	if b == nil {
		return false
	}
	deleted, err := b.Delete(ctx, key)
	if err != nil {
		s.operationFailed(b, "delete", key, err)
		return false
	}
	return deleted
}

// List returns up to max entries under prefix, or an empty list on
// failure.
func (s *Selector) List(ctx context.Context, prefix string, max int) []Entry {
	b := s.current(ctx)
	if b == nil {
		return nil
	}
	entries, err := b.List(ctx, prefix, max)
	if err != nil {
		s.operationFailed(b, "list", prefix, err)
		return nil
	}
	return entries
}

// current returns the active backend, running a probe cycle when none is
// active yet or the previous operation failed.
func (s *Selector) current(ctx context.Context) Backend {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil {
		return s.active
	}
	return s.probeLocked(ctx)
}

// probeLocked tries each backend in preference order and promotes the
// first that answers. Caller holds s.mu.
func (s *Selector) probeLocked(ctx context.Context) Backend {
	for _, b := range s.backends {
		probeCtx, cancel := context.WithTimeout(ctx, s.probeTimeout)
		err := b.Probe(probeCtx)
		cancel()

		if err != nil {
			s.log.Warn("storage backend failed probe", "backend", b.Name(), "error", err)
			continue
		}

		if s.active != b {
			s.log.Info("storage backend active", "backend", b.Name())
		}
		s.active = b
		s.probed = true
		return b
	}

	if !s.probed && !s.probeFatal {
		// First-ever cycle found nothing: loud, startup-grade failure.
		s.probeFatal = true
		s.log.Error("no storage backend passed its capability probe")
	}
	s.active = nil
	return nil
}

// operationFailed logs the failure and demotes the active backend so the
// next call runs a fresh probe cycle.
func (s *Selector) operationFailed(b Backend, op, key string, err error) {
	s.log.Warn("storage operation failed, scheduling backend re-probe",
		"backend", b.Name(), "operation", op, "key", key, "error", err)

	if s.collector != nil {
		s.collector.StorageFailover()
	}

	s.mu.Lock()
	if s.active == b {
		s.active = nil
	}
	s.mu.Unlock()
}
