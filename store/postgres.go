package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGRecorder implements Recorder using PostgreSQL via pgx, structured the
// same way the teacher's postgres.PGStore wraps a pgxpool.Pool.
type PGRecorder struct {
	db *pgxpool.Pool
}

// New creates a new PGRecorder backed by the given pgx connection pool.
func New(db *pgxpool.Pool) *PGRecorder {
	return &PGRecorder{db: db}
}

func (s *PGRecorder) RecordRunStarted(ctx context.Context, runID, rootKey string) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO invocation_runs (run_id, root_key) VALUES ($1, $2)
		 ON CONFLICT (run_id) DO NOTHING`,
		runID, rootKey,
	)
	if err != nil {
		return fmt.Errorf("store: record run started: %w", err)
	}
	return nil
}

func (s *PGRecorder) RecordEntryCompleted(ctx context.Context, runID, key, result string, sequence int) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO invocation_events (run_id, entry_key, sequence, result, failed)
		 VALUES ($1, $2, $3, $4, FALSE)`,
		runID, key, sequence, result,
	)
	if err != nil {
		return fmt.Errorf("store: record entry completed %s: %w", key, err)
	}
	return nil
}

func (s *PGRecorder) RecordEntryFailed(ctx context.Context, runID, key, cause string, sequence int) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO invocation_events (run_id, entry_key, sequence, cause, failed)
		 VALUES ($1, $2, $3, $4, TRUE)`,
		runID, key, sequence, cause,
	)
	if err != nil {
		return fmt.Errorf("store: record entry failed %s: %w", key, err)
	}
	return nil
}

func (s *PGRecorder) RecordRunFinished(ctx context.Context, runID string, failed bool) error {
	_, err := s.db.Exec(ctx,
		`UPDATE invocation_runs SET finished = TRUE, failed = $2 WHERE run_id = $1`,
		runID, failed,
	)
	if err != nil {
		return fmt.Errorf("store: record run finished: %w", err)
	}
	return nil
}

// GetRun retrieves a run's recorded history, ordered by completion
// sequence.
func (s *PGRecorder) GetRun(ctx context.Context, runID string) (*Run, error) {
	run := &Run{RunID: runID}

	err := s.db.QueryRow(ctx,
		`SELECT root_key, finished, failed FROM invocation_runs WHERE run_id = $1`, runID,
	).Scan(&run.RootKey, &run.Finished, &run.Failed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get run: %w", err)
	}

	rows, err := s.db.Query(ctx,
		`SELECT entry_key, sequence, result, cause, failed FROM invocation_events
		 WHERE run_id = $1 ORDER BY sequence`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: query events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e EntryOutcome
		var result, cause *string
		if err := rows.Scan(&e.Key, &e.Sequence, &result, &cause, &e.Failed); err != nil {
			return nil, fmt.Errorf("store: scan event: %w", err)
		}
		if result != nil {
			e.Result = *result
		}
		if cause != nil {
			e.Cause = *cause
		}
		run.Entries = append(run.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: rows events: %w", err)
	}

	return run, nil
}
