// Package indexjob defines the background index job model and state machine.
package indexjob

import "time"

// TaskType identifies what an index job does.
type TaskType string

const (
	TaskRebuildIndex       TaskType = "rebuild_index"
	TaskReindexMemory      TaskType = "reindex_memory"
	TaskSleepConsolidation TaskType = "sleep_consolidation"
)

// State is a job lifecycle state. Transitions:
// queued -> running -> {succeeded, failed, cancelled}
// running -> cancelling -> cancelled
// queued -> cancelled; enqueue overflow -> dropped.
type State string

const (
	StateQueued     State = "queued"
	StateRunning    State = "running"
	StateCancelling State = "cancelling"
	StateCancelled  State = "cancelled"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
	StateDropped    State = "dropped"
)

// Terminal reports whether s is a stable final state.
func (s State) Terminal() bool {
	switch s {
	case StateCancelled, StateSucceeded, StateFailed, StateDropped:
		return true
	}
	return false
}

// Job is one unit of background index work.
type Job struct {
	JobID          string    `json:"job_id"`
	TaskType       TaskType  `json:"task_type"`
	MemoryID       string    `json:"memory_id,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	State          State     `json:"state"`
	RequestedAt    time.Time `json:"requested_at"`
	StartedAt      time.Time `json:"started_at,omitzero"`
	FinishedAt     time.Time `json:"finished_at,omitzero"`
	Error          string    `json:"error,omitempty"`
	DegradeReasons []string  `json:"degrade_reasons,omitempty"`
}

// EnqueueOutcome reports how an enqueue call was absorbed.
type EnqueueOutcome string

const (
	OutcomeQueued  EnqueueOutcome = "queued"
	OutcomeDeduped EnqueueOutcome = "deduped"
	OutcomeDropped EnqueueOutcome = "dropped"
)

// EnqueueStats accumulates enqueue outcomes across one write operation.
type EnqueueStats struct {
	Queued  int `json:"index_queued"`
	Deduped int `json:"index_deduped"`
	Dropped int `json:"index_dropped"`
}

// Record tallies one outcome into the stats.
func (s *EnqueueStats) Record(o EnqueueOutcome) {
	switch o {
	case OutcomeQueued:
		s.Queued++
	case OutcomeDeduped:
		s.Deduped++
	case OutcomeDropped:
		s.Dropped++
	}
}
