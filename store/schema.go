package store

import "context"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS invocation_runs (
    run_id     TEXT PRIMARY KEY,
    root_key   TEXT NOT NULL,
    finished   BOOLEAN NOT NULL DEFAULT FALSE,
    failed     BOOLEAN NOT NULL DEFAULT FALSE,
    started_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS invocation_events (
    id         BIGSERIAL PRIMARY KEY,
    run_id     TEXT NOT NULL REFERENCES invocation_runs(run_id) ON DELETE CASCADE,
    entry_key  TEXT NOT NULL,
    sequence   INT NOT NULL,
    result     TEXT,
    cause      TEXT,
    failed     BOOLEAN NOT NULL DEFAULT FALSE,
    recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_invocation_events_run_id ON invocation_events(run_id);
`

// CreateSchema creates the invocation_runs and invocation_events tables
// if they don't exist.
func (s *PGRecorder) CreateSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, schemaSQL)
	return err
}

// DropSchema drops invocation_events and invocation_runs.
func (s *PGRecorder) DropSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `DROP TABLE IF EXISTS invocation_events, invocation_runs CASCADE;`)
	return err
}
