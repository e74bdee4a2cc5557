package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mnemolabs/palace/internal/adapter/sqlite"
	"github.com/mnemolabs/palace/internal/chunker"
	"github.com/mnemolabs/palace/internal/config"
	"github.com/mnemolabs/palace/internal/domain"
	"github.com/mnemolabs/palace/internal/domain/indexjob"
	"github.com/mnemolabs/palace/internal/port/embedding"
)

// rebuildBatchSize is the cancellation check interval during rebuild_index.
const rebuildBatchSize = 32

// trackedJob pairs a job record with its completion signal.
type trackedJob struct {
	job  *indexjob.Job
	done chan struct{}
}

// IndexWorker is the single background consumer of the bounded index job
// queue. Jobs are deduped by (task_type, memory_id) while queued and dropped
// when the queue is at capacity.
type IndexWorker struct {
	store    *sqlite.Store
	embedder embedding.Embedder
	model    string
	cfg      config.Index
	chunk    chunker.Options
	log      *slog.Logger

	// sleepFn runs the sleep_consolidation task; installed by the
	// governance loop.
	sleepFn func(ctx context.Context) ([]string, error)

	mu         sync.Mutex
	queue      chan *trackedJob
	queued     map[string]*trackedJob // dedupe key -> queued job
	jobs       map[string]*trackedJob // job id -> job
	ring       []string               // recent job ids, newest last
	active     string
	cancelling map[string]bool
	lastError  string
}

func NewIndexWorker(store *sqlite.Store, embedder embedding.Embedder, model string, cfg config.Index, chunk chunker.Options, log *slog.Logger) *IndexWorker {
	if cfg.QueueCapacity < 1 {
		cfg.QueueCapacity = 1
	}
	if cfg.RecentJobsRing < 1 {
		cfg.RecentJobsRing = 1
	}
	if chunk.Size <= 0 {
		chunk = chunker.DefaultOptions()
	}
	return &IndexWorker{
		store:      store,
		embedder:   embedder,
		model:      model,
		cfg:        cfg,
		chunk:      chunk,
		log:        log,
		queue:      make(chan *trackedJob, cfg.QueueCapacity),
		queued:     make(map[string]*trackedJob),
		jobs:       make(map[string]*trackedJob),
		cancelling: make(map[string]bool),
	}
}

// SetSleepHook installs the sleep_consolidation task body.
func (w *IndexWorker) SetSleepHook(fn func(ctx context.Context) ([]string, error)) {
	w.sleepFn = fn
}

func dedupeKey(task indexjob.TaskType, memoryID string) string {
	return string(task) + "\x00" + memoryID
}

// Enqueue admits a job. The outcome is one of queued, deduped (collapsed
// into an identical queued job) or dropped (queue at capacity). Dropped
// jobs are persisted in the dropped state so Status can explain them.
func (w *IndexWorker) Enqueue(ctx context.Context, task indexjob.TaskType, memoryID, reason string) (indexjob.EnqueueOutcome, string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	key := dedupeKey(task, memoryID)
	if existing, ok := w.queued[key]; ok {
		return indexjob.OutcomeDeduped, existing.job.JobID, nil
	}

	j := &indexjob.Job{
		JobID:       uuid.NewString(),
		TaskType:    task,
		MemoryID:    memoryID,
		Reason:      reason,
		State:       indexjob.StateQueued,
		RequestedAt: time.Now().UTC(),
	}
	t := &trackedJob{job: j, done: make(chan struct{})}

	select {
	case w.queue <- t:
		w.queued[key] = t
		w.jobs[j.JobID] = t
		w.pushRing(j.JobID)
		w.persist(ctx, j)
		return indexjob.OutcomeQueued, j.JobID, nil
	default:
		j.State = indexjob.StateDropped
		j.FinishedAt = time.Now().UTC()
		j.Error = domain.ErrQueueFull.Code
		close(t.done)
		w.jobs[j.JobID] = t
		w.pushRing(j.JobID)
		w.persist(ctx, j)
		return indexjob.OutcomeDropped, j.JobID, fmt.Errorf("enqueue %s: %w", task, domain.ErrQueueFull)
	}
}

// Cancel moves a queued job to cancelled, or flags a running job as
// cancelling; the worker observes the flag at stage boundaries.
// ReindexNow rebuilds one memory's chunks and vector on the caller's
// goroutine, bypassing the queue. Used when deferred indexing is disabled.
func (w *IndexWorker) ReindexNow(ctx context.Context, memoryID string) ([]string, error) {
	return w.reindexMemory(ctx, memoryID)
}

func (w *IndexWorker) Cancel(ctx context.Context, jobID string) (indexjob.State, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	t, ok := w.jobs[jobID]
	if !ok {
		return "", domain.ErrJobNotFound
	}
	switch t.job.State {
	case indexjob.StateQueued:
		t.job.State = indexjob.StateCancelled
		t.job.FinishedAt = time.Now().UTC()
		delete(w.queued, dedupeKey(t.job.TaskType, t.job.MemoryID))
		close(t.done)
		w.persist(ctx, t.job)
		return indexjob.StateCancelled, nil
	case indexjob.StateRunning:
		t.job.State = indexjob.StateCancelling
		w.cancelling[jobID] = true
		w.persist(ctx, t.job)
		return indexjob.StateCancelling, nil
	case indexjob.StateCancelling:
		return indexjob.StateCancelling, nil
	default:
		return t.job.State, domain.ErrJobAlreadyFinalized
	}
}

// Retry enqueues a fresh job with the original's task parameters.
func (w *IndexWorker) Retry(ctx context.Context, jobID, reason string) (string, error) {
	orig, err := w.Status(ctx, jobID)
	if err != nil {
		return "", err
	}
	if reason == "" {
		reason = "retry of " + jobID
	}
	_, newID, err := w.Enqueue(ctx, orig.TaskType, orig.MemoryID, reason)
	return newID, err
}

// Status returns the current job record, consulting the store for jobs
// from earlier process lifetimes.
func (w *IndexWorker) Status(ctx context.Context, jobID string) (*indexjob.Job, error) {
	w.mu.Lock()
	if t, ok := w.jobs[jobID]; ok {
		j := *t.job
		w.mu.Unlock()
		return &j, nil
	}
	w.mu.Unlock()
	return w.store.GetJob(ctx, jobID)
}

// Wait blocks until the job reaches a terminal state or the timeout lapses.
func (w *IndexWorker) Wait(ctx context.Context, jobID string, timeout time.Duration) (*indexjob.Job, error) {
	w.mu.Lock()
	t, ok := w.jobs[jobID]
	w.mu.Unlock()
	if !ok {
		return nil, domain.ErrJobNotFound
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-t.done:
		return w.Status(ctx, jobID)
	case <-timer.C:
		return nil, fmt.Errorf("job %s: %w", jobID, domain.ErrWaitTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// WorkerStatus is the observable counter set of the worker.
type WorkerStatus struct {
	QueueDepth      int            `json:"queue_depth"`
	ActiveJob       string         `json:"active_job,omitempty"`
	RecentJobs      []indexjob.Job `json:"recent_jobs"`
	CancellingCount int            `json:"cancelling_count"`
	SleepPending    bool           `json:"sleep_pending"`
	LastError       string         `json:"last_error,omitempty"`
}

// Overview reports queue depth, the active job and the recent jobs ring.
func (w *IndexWorker) Overview() WorkerStatus {
	w.mu.Lock()
	defer w.mu.Unlock()

	st := WorkerStatus{
		QueueDepth:      len(w.queue),
		ActiveJob:       w.active,
		CancellingCount: len(w.cancelling),
		LastError:       w.lastError,
	}
	for i := len(w.ring) - 1; i >= 0; i-- {
		if t, ok := w.jobs[w.ring[i]]; ok {
			st.RecentJobs = append(st.RecentJobs, *t.job)
			if !t.job.State.Terminal() && t.job.TaskType == indexjob.TaskSleepConsolidation {
				st.SleepPending = true
			}
		}
	}
	return st
}

// Run consumes the queue until ctx is cancelled. It is the only goroutine
// that executes jobs.
func (w *IndexWorker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-w.queue:
			w.execute(ctx, t)
		}
	}
}

func (w *IndexWorker) execute(ctx context.Context, t *trackedJob) {
	w.mu.Lock()
	j := t.job
	delete(w.queued, dedupeKey(j.TaskType, j.MemoryID))
	if j.State != indexjob.StateQueued { // cancelled while queued
		w.mu.Unlock()
		return
	}
	j.State = indexjob.StateRunning
	j.StartedAt = time.Now().UTC()
	w.active = j.JobID
	w.persist(ctx, j)
	w.mu.Unlock()

	degrade, err := w.runTask(ctx, j)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.active = ""
	j.FinishedAt = time.Now().UTC()
	j.DegradeReasons = degrade
	switch {
	case errors.Is(err, errJobCancelled):
		j.State = indexjob.StateCancelled
	case err != nil:
		j.State = indexjob.StateFailed
		j.Error = err.Error()
		w.lastError = err.Error()
		w.log.Error("index job failed", "job_id", j.JobID, "task", j.TaskType, "error", err)
	default:
		j.State = indexjob.StateSucceeded
	}
	delete(w.cancelling, j.JobID)
	close(t.done)
	w.persist(ctx, j)
}

// errJobCancelled aborts a running task at a stage boundary.
var errJobCancelled = errors.New("job cancelled")

// checkCancelled is called between stages; a flagged job stops cleanly.
func (w *IndexWorker) checkCancelled(ctx context.Context, jobID string) error {
	if ctx.Err() != nil {
		return errJobCancelled
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancelling[jobID] {
		return errJobCancelled
	}
	return nil
}

func (w *IndexWorker) runTask(ctx context.Context, j *indexjob.Job) ([]string, error) {
	switch j.TaskType {
	case indexjob.TaskReindexMemory:
		return w.reindexMemory(ctx, j.MemoryID)
	case indexjob.TaskRebuildIndex:
		return w.rebuildIndex(ctx, j.JobID)
	case indexjob.TaskSleepConsolidation:
		if w.sleepFn == nil {
			return nil, errors.New("sleep consolidation is not configured")
		}
		return w.sleepFn(ctx)
	default:
		return nil, fmt.Errorf("unknown task type %q", j.TaskType)
	}
}

// reindexMemory refreshes the full-text chunks and the vector of one
// memory. It is idempotent; deprecated memories have their index entries
// removed instead.
func (w *IndexWorker) reindexMemory(ctx context.Context, memoryID string) ([]string, error) {
	if err := w.store.ReindexChunks(ctx, memoryID, w.chunk); err != nil {
		return nil, err
	}
	if w.embedder == nil {
		return nil, nil
	}

	mem, err := w.store.GetMemory(ctx, memoryID)
	if err != nil {
		return nil, err
	}
	if mem.Deprecated {
		return nil, w.store.DeleteVector(ctx, memoryID)
	}

	vec, err := w.embedder.Embed(ctx, mem.Content)
	if err != nil {
		// Text index is fresh; the vector refresh degrades without
		// failing the job.
		w.log.Warn("embedding during reindex failed", "memory_id", memoryID, "error", err)
		return []string{"embedding_request_failed"}, nil
	}
	return nil, w.store.UpsertVector(ctx, memoryID, w.model, vec)
}

// rebuildIndex reindexes every active memory, checking for cancellation
// between batches.
func (w *IndexWorker) rebuildIndex(ctx context.Context, jobID string) ([]string, error) {
	mems, err := w.store.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	var degrade []string
	degraded := false
	for i := range mems {
		if i%rebuildBatchSize == 0 {
			if err := w.checkCancelled(ctx, jobID); err != nil {
				return degrade, err
			}
		}
		d, err := w.reindexMemory(ctx, mems[i].ID)
		if err != nil {
			return degrade, fmt.Errorf("reindex %s: %w", mems[i].ID, err)
		}
		if len(d) > 0 && !degraded {
			degrade = append(degrade, d...)
			degraded = true
		}
	}
	return degrade, nil
}

func (w *IndexWorker) pushRing(jobID string) {
	w.ring = append(w.ring, jobID)
	if len(w.ring) > w.cfg.RecentJobsRing {
		evicted := w.ring[0]
		w.ring = w.ring[1:]
		if t, ok := w.jobs[evicted]; ok && t.job.State.Terminal() {
			delete(w.jobs, evicted)
		}
	}
}

// persist writes the job transition through to the store. Persistence
// failures are logged, not fatal; the in-memory state machine is
// authoritative for a live process.
func (w *IndexWorker) persist(ctx context.Context, j *indexjob.Job) {
	cp := *j
	if err := w.store.PutJob(ctx, &cp); err != nil {
		w.log.Warn("persist index job failed", "job_id", j.JobID, "error", err)
	}
}
