package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// emaAlpha is the exponential moving average smoothing factor for the
// rolling task duration.
const emaAlpha = 0.2

// Snapshot is a point-in-time copy of the collector's state, consumed by
// internal backoff logic and the ops dashboard endpoint.
type Snapshot struct {
	TasksCompleted    uint64  `json:"tasks_completed"`
	TasksFailed       uint64  `json:"tasks_failed"`
	AvgTaskDurationMs float64 `json:"avg_task_duration_ms"`
	ActiveWorkers     int64   `json:"active_workers"`
	CacheHitsLocal    uint64  `json:"cache_hits_local"`
	CacheHitsRemote   uint64  `json:"cache_hits_remote"`
	CacheMisses       uint64  `json:"cache_misses"`
	StorageFailovers  uint64  `json:"storage_failovers"`
	QueueDepth        int64   `json:"queue_depth"`
}

// HitRate returns the overall cache hit rate in [0, 1], or 0 when the cache
// has not been consulted yet.
func (s Snapshot) HitRate() float64 {
	total := s.CacheHitsLocal + s.CacheHitsRemote + s.CacheMisses
	if total == 0 {
		return 0
	}
	return float64(s.CacheHitsLocal+s.CacheHitsRemote) / float64(total)
}

// Collector aggregates process-wide counters and timers for task
// throughput, failure rate, active-worker count, and cache hit rate.
//
// All state lives behind a single coarse mutex; callers never hold it
// across user-supplied work. The same observations are mirrored to
// Prometheus collectors so external dashboards can scrape them. State is
// reset only by an explicit Reset call, never implicitly.
type Collector struct {
	mu sync.Mutex

	tasksCompleted  uint64
	tasksFailed     uint64
	avgTaskDuration float64 // milliseconds, EMA
	activeWorkers   int64
	cacheHitsLocal  uint64
	cacheHitsRemote uint64
	cacheMisses     uint64
	storageFailover uint64
	queueDepth      int64

	promTasksTotal    *prometheus.CounterVec
	promTaskDuration  prometheus.Histogram
	promActiveWorkers prometheus.Gauge
	promCacheOps      *prometheus.CounterVec
	promFailovers     prometheus.Counter
	promQueueDepth    prometheus.Gauge
}

// New creates a Collector registering its Prometheus collectors against
// reg. Pass prometheus.NewRegistry() in tests to keep them isolated.
func New(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		promTasksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ratchet_tasks_total",
				Help: "Total number of tasks that reached a terminal state",
			},
			[]string{"outcome"}, // completed, failed
		),
		promTaskDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ratchet_task_duration_seconds",
				Help:    "Task execution duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
			},
		),
		promActiveWorkers: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "ratchet_active_workers",
				Help: "Number of workers currently executing a task",
			},
		),
		promCacheOps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ratchet_cache_lookups_total",
				Help: "Cache lookups by result tier",
			},
			[]string{"result"}, // hit_local, hit_remote, miss
		),
		promFailovers: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ratchet_storage_failovers_total",
				Help: "Number of storage backend re-probe cycles triggered by failures",
			},
		),
		promQueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "ratchet_queue_depth",
				Help: "Number of jobs waiting in the background queue",
			},
		),
	}
}

// WorkerStarted records a worker picking up a task.
func (c *Collector) WorkerStarted() {
	c.mu.Lock()
	c.activeWorkers++
	c.mu.Unlock()
	c.promActiveWorkers.Inc()
}

// TaskFinished records a task reaching a terminal state. The duration
// feeds the rolling average whether the task succeeded or failed.
func (c *Collector) TaskFinished(d time.Duration, failed bool) {
	ms := float64(d.Milliseconds())

	c.mu.Lock()
	if c.tasksCompleted == 0 && c.tasksFailed == 0 {
		c.avgTaskDuration = ms
	} else {
		c.avgTaskDuration = emaAlpha*ms + (1-emaAlpha)*c.avgTaskDuration
	}
	if failed {
		c.tasksFailed++
	} else {
		c.tasksCompleted++
	}
	c.activeWorkers--
	c.mu.Unlock()

	outcome := "completed"
	if failed {
		outcome = "failed"
	}
	c.promTasksTotal.WithLabelValues(outcome).Inc()
	c.promTaskDuration.Observe(d.Seconds())
	c.promActiveWorkers.Dec()
}

// CacheHit records a lookup served by the named tier ("local" or "remote").
func (c *Collector) CacheHit(tier string) {
	c.mu.Lock()
	switch tier {
	case "local":
		c.cacheHitsLocal++
	default:
		c.cacheHitsRemote++
	}
	c.mu.Unlock()
	c.promCacheOps.WithLabelValues("hit_" + tier).Inc()
}

// CacheMiss records a lookup that no tier could serve.
func (c *Collector) CacheMiss() {
	c.mu.Lock()
	c.cacheMisses++
	c.mu.Unlock()
	c.promCacheOps.WithLabelValues("miss").Inc()
}

// StorageFailover records an active-backend failure that scheduled a
// fresh probe cycle.
func (c *Collector) StorageFailover() {
	c.mu.Lock()
	c.storageFailover++
	c.mu.Unlock()
	c.promFailovers.Inc()
}

// SetQueueDepth records the background queue's current backlog.
func (c *Collector) SetQueueDepth(depth int) {
	c.mu.Lock()
	c.queueDepth = int64(depth)
	c.mu.Unlock()
	c.promQueueDepth.Set(float64(depth))
}

// Snapshot returns a copy of the current counters.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		TasksCompleted:    c.tasksCompleted,
		TasksFailed:       c.tasksFailed,
		AvgTaskDurationMs: c.avgTaskDuration,
		ActiveWorkers:     c.activeWorkers,
		CacheHitsLocal:    c.cacheHitsLocal,
		CacheHitsRemote:   c.cacheHitsRemote,
		CacheMisses:       c.cacheMisses,
		StorageFailovers:  c.storageFailover,
		QueueDepth:        c.queueDepth,
	}
}

// Reset clears the snapshot counters. This is an explicit operator action;
// nothing in the system resets metrics implicitly. The Prometheus
// collectors are monotonic by design and are left alone.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.tasksCompleted = 0
	c.tasksFailed = 0
	c.avgTaskDuration = 0
	c.cacheHitsLocal = 0
	c.cacheHitsRemote = 0
	c.cacheMisses = 0
	c.storageFailover = 0
	c.queueDepth = 0
}
