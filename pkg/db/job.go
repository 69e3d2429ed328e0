package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/yumyai/phamdb/pkg/model"
)

// CreateJob persists a new queued job and assigns its id from the job
// sequence.
func (s *Store) CreateJob(ctx context.Context, collectionID int64, changes model.ChangeSet) (*model.Job, error) {
	payload, err := json.Marshal(changes)
	if err != nil {
		return nil, fmt.Errorf("encode job changes: %w", err)
	}

	now := time.Now().UTC()
	res, err := s.sql.ExecContext(ctx, `
		INSERT INTO job (collection_id, state, changes, created_at)
		VALUES (?, ?, ?, ?)`,
		collectionID, model.JobQueued, string(payload), now)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	return &model.Job{
		ID:           id,
		CollectionID: collectionID,
		State:        model.JobQueued,
		Changes:      changes,
		CreatedAt:    now,
	}, nil
}

func (s *Store) GetJob(ctx context.Context, id int64) (*model.Job, error) {
	var j model.Job
	var payload string
	var started, ended sql.NullTime
	err := s.sql.QueryRowContext(ctx, `
		SELECT id, collection_id, task_id, state, status_message, error,
			changes, created_at, started_at, ended_at, seen
		FROM job WHERE id = ?`, id).
		Scan(&j.ID, &j.CollectionID, &j.TaskID, &j.State, &j.StatusMessage,
			&j.Error, &payload, &j.CreatedAt, &started, &ended, &j.Seen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job %d: %w", id, err)
	}

	if err := json.Unmarshal([]byte(payload), &j.Changes); err != nil {
		return nil, fmt.Errorf("decode job %d changes: %w", id, err)
	}
	if started.Valid {
		j.StartedAt = &started.Time
	}
	if ended.Valid {
		j.EndedAt = &ended.Time
	}
	return &j, nil
}

// TransitionJob moves a job between states, enforcing the lifecycle
// rules at the storage layer with a guarded UPDATE. Illegal moves and
// concurrent movers surface as a conflict.
func (s *Store) TransitionJob(ctx context.Context, id int64, from, to model.JobState) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("job %d: illegal transition %s -> %s: %w",
			id, from, to, model.ErrConflict)
	}

	set := `state = ?, seen = 0`
	args := []any{to}
	now := time.Now().UTC()
	switch to {
	case model.JobRunning:
		set += `, started_at = ?`
		args = append(args, now)
	case model.JobSuccess, model.JobFailed, model.JobDeleted:
		set += `, ended_at = ?`
		args = append(args, now)
	}
	args = append(args, id, from)

	res, err := s.sql.ExecContext(ctx,
		`UPDATE job SET `+set+` WHERE id = ? AND state = ?`, args...)
	if err != nil {
		return fmt.Errorf("transition job %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("job %d no longer %s: %w", id, from, model.ErrConflict)
	}
	return nil
}

func (s *Store) SetJobTaskID(ctx context.Context, id int64, taskID string) error {
	_, err := s.sql.ExecContext(ctx,
		`UPDATE job SET task_id = ? WHERE id = ?`, taskID, id)
	return err
}

// SetJobMessage updates the human readable phase string while running.
func (s *Store) SetJobMessage(ctx context.Context, id int64, message string) error {
	_, err := s.sql.ExecContext(ctx,
		`UPDATE job SET status_message = ?, seen = 0 WHERE id = ?`, message, id)
	return err
}

func (s *Store) SetJobError(ctx context.Context, id int64, message string) error {
	_, err := s.sql.ExecContext(ctx,
		`UPDATE job SET error = ? WHERE id = ?`, message, id)
	return err
}

func (s *Store) MarkJobSeen(ctx context.Context, id int64) error {
	_, err := s.sql.ExecContext(ctx, `UPDATE job SET seen = 1 WHERE id = ?`, id)
	return err
}

// ListQueuedJobs returns queued jobs for a collection in arrival order.
// The orchestrator replays these into its queue on startup.
func (s *Store) ListQueuedJobs(ctx context.Context, collectionID int64) ([]*model.Job, error) {
	rows, err := s.sql.QueryContext(ctx, `
		SELECT id FROM job
		WHERE collection_id = ? AND state = ? ORDER BY id`,
		collectionID, model.JobQueued)
	if err != nil {
		return nil, fmt.Errorf("list queued jobs: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	jobs := make([]*model.Job, 0, len(ids))
	for _, id := range ids {
		j, err := s.GetJob(ctx, id)
		if err != nil {
			return nil, err
		}
		if j != nil {
			jobs = append(jobs, j)
		}
	}
	return jobs, nil
}

// FailInterruptedJobs transitions every job still marked running to
// failed. Called once on startup so a crashed worker can never leave a
// job running forever.
func (s *Store) FailInterruptedJobs(ctx context.Context, reason string) (int64, error) {
	res, err := s.sql.ExecContext(ctx, `
		UPDATE job SET state = ?, error = ?, ended_at = ?, seen = 0
		WHERE state = ?`,
		model.JobFailed, reason, time.Now().UTC(), model.JobRunning)
	if err != nil {
		return 0, fmt.Errorf("fail interrupted jobs: %w", err)
	}
	return res.RowsAffected()
}
