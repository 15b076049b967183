package postgresql

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// InitSchema creates the automation_jobs table and its indexes. The partial
// unique index is the server-side enforcement of the single-active-job
// invariant: at most one non-terminal row per application, regardless of how
// many API instances race on Start.
func InitSchema(ctx context.Context, pool *pgxpool.Pool) error {
	const schema = `
CREATE TABLE IF NOT EXISTS automation_jobs (
	id               uuid PRIMARY KEY,
	application_id   bigint NOT NULL,
	requested_stages text[] NOT NULL,
	status           text NOT NULL,
	current_stage    text,
	stage_progress   text,
	stages_completed jsonb NOT NULL DEFAULT '{}',
	case_reference_a text,
	case_reference_b text,
	error_message    text,
	error_stage      text,
	triggered_by     text,
	country          text NOT NULL DEFAULT '',
	visible_mode     boolean NOT NULL DEFAULT false,
	cancel_requested boolean NOT NULL DEFAULT false,
	started_at       timestamptz,
	completed_at     timestamptz,
	created_at       timestamptz NOT NULL,
	updated_at       timestamptz NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS automation_jobs_one_active_per_application
	ON automation_jobs (application_id)
	WHERE status IN ('pending','queued','running');

CREATE INDEX IF NOT EXISTS automation_jobs_application_created
	ON automation_jobs (application_id, created_at DESC);

CREATE INDEX IF NOT EXISTS automation_jobs_status
	ON automation_jobs (status);
`
	_, err := pool.Exec(ctx, schema)
	return err
}
