package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mnemolabs/palace/internal/domain"
	"github.com/mnemolabs/palace/internal/domain/indexjob"
)

// PutJob inserts or fully rewrites a job record. The worker persists every
// state transition so job history survives restarts.
func (s *Store) PutJob(ctx context.Context, j *indexjob.Job) error {
	reasons, err := json.Marshal(j.DegradeReasons)
	if err != nil {
		return fmt.Errorf("marshal degrade reasons: %w", err)
	}
	var started, finished any
	if !j.StartedAt.IsZero() {
		started = j.StartedAt.UTC().Format(timeLayout)
	}
	if !j.FinishedAt.IsZero() {
		finished = j.FinishedAt.UTC().Format(timeLayout)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO index_jobs (job_id, task_type, memory_id, reason, state, requested_at, started_at, finished_at, error, degrade_reasons)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(job_id) DO UPDATE SET
		   state = excluded.state, started_at = excluded.started_at,
		   finished_at = excluded.finished_at, error = excluded.error,
		   degrade_reasons = excluded.degrade_reasons`,
		j.JobID, string(j.TaskType), j.MemoryID, j.Reason, string(j.State),
		j.RequestedAt.UTC().Format(timeLayout), started, finished, j.Error, string(reasons))
	if err != nil {
		return fmt.Errorf("put job %s: %w", j.JobID, err)
	}
	return nil
}

// GetJob returns one persisted job.
func (s *Store) GetJob(ctx context.Context, jobID string) (*indexjob.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT job_id, task_type, memory_id, reason, state, requested_at, started_at, finished_at, error, degrade_reasons
		 FROM index_jobs WHERE job_id = ?`, jobID)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", jobID, domain.ErrJobNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", jobID, err)
	}
	return j, nil
}

// ListRecentJobs returns the latest jobs, newest first.
func (s *Store) ListRecentJobs(ctx context.Context, limit int) ([]indexjob.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT job_id, task_type, memory_id, reason, state, requested_at, started_at, finished_at, error, degrade_reasons
		 FROM index_jobs ORDER BY requested_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []indexjob.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

func scanJob(row rowScanner) (*indexjob.Job, error) {
	var j indexjob.Job
	var tt, st, requested, reasons string
	var started, finished sql.NullString
	if err := row.Scan(&j.JobID, &tt, &j.MemoryID, &j.Reason, &st, &requested, &started, &finished, &j.Error, &reasons); err != nil {
		return nil, err
	}
	j.TaskType = indexjob.TaskType(tt)
	j.State = indexjob.State(st)
	j.RequestedAt, _ = parseTime(requested)
	if started.Valid {
		j.StartedAt, _ = parseTime(started.String)
	}
	if finished.Valid {
		j.FinishedAt, _ = parseTime(finished.String)
	}
	_ = json.Unmarshal([]byte(reasons), &j.DegradeReasons)
	return &j, nil
}
