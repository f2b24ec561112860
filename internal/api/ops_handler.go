package api

import (
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/dthorne/ratchet/internal/executor"
	"github.com/dthorne/ratchet/internal/metrics"
	"github.com/dthorne/ratchet/internal/taskqueue"
)

// ActiveTaskResponse is one running or queued executor task.
type ActiveTaskResponse struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	ElapsedMs float64 `json:"elapsed_ms"`
	Done      bool    `json:"done"`
}

// ActiveTasksResponse lists the executor's in-flight tasks.
type ActiveTasksResponse struct {
	Count int                  `json:"count"`
	Tasks []ActiveTaskResponse `json:"tasks"`
}

// JobResponse is the pollable state of a queue job.
type JobResponse struct {
	ID string `json:"id"`
	taskqueue.JobResult
}

// SnapshotResponse decorates the metrics snapshot with the derived hit rate.
type SnapshotResponse struct {
	metrics.Snapshot
	CacheHitRate float64 `json:"cache_hit_rate"`
}

// OpsHandler serves the operational endpoints: in-flight executor tasks,
// queue job polling, and the metrics snapshot.
type OpsHandler struct {
	executor  *executor.Executor
	queue     *taskqueue.Queue
	collector *metrics.Collector
}

// NewOpsHandler creates an OpsHandler with the given dependencies.
func NewOpsHandler(
	exec *executor.Executor,
	queue *taskqueue.Queue,
	collector *metrics.Collector,
) *OpsHandler {
	return &OpsHandler{
		executor:  exec,
		queue:     queue,
		collector: collector,
	}
}

// ActiveTasks handles GET /ops/tasks.
func (h *OpsHandler) ActiveTasks(w http.ResponseWriter, r *http.Request) {
	active := h.executor.ActiveTasks()

	tasks := make([]ActiveTaskResponse, 0, len(active))
	for id, t := range active {
		tasks = append(tasks, ActiveTaskResponse{
			ID:        id.String(),
			Name:      t.Name,
			ElapsedMs: float64(t.Elapsed.Microseconds()) / 1000,
			Done:      t.Done,
		})
	}
	// Map iteration order is random; sort for stable output.
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })

	RespondWithJSON(w, r, http.StatusOK, ActiveTasksResponse{
		Count: len(tasks),
		Tasks: tasks,
	})
}

// QueueJob handles GET /ops/queue/{id}.
func (h *OpsHandler) QueueJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		RespondWithError(w, r, http.StatusBadRequest, "Job ID is required")
		return
	}

	result, ok := h.queue.GetResult(id)
	if !ok {
		RespondWithError(w, r, http.StatusNotFound, "Job not found")
		return
	}

	RespondWithJSON(w, r, http.StatusOK, JobResponse{ID: id, JobResult: result})
}

// MetricsSnapshot handles GET /ops/metrics/snapshot.
func (h *OpsHandler) MetricsSnapshot(w http.ResponseWriter, r *http.Request) {
	snap := h.collector.Snapshot()
	RespondWithJSON(w, r, http.StatusOK, SnapshotResponse{
		Snapshot:     snap,
		CacheHitRate: snap.HitRate(),
	})
}

// ResetMetrics handles POST /ops/metrics/reset. Prometheus collectors stay
// monotonic; only the snapshot state clears.
func (h *OpsHandler) ResetMetrics(w http.ResponseWriter, r *http.Request) {
	h.collector.Reset()
	RespondWithJSON(w, r, http.StatusOK, map[string]string{"status": "reset"})
}
