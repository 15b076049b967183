package postgresql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"visa-automation-service/internal/entity"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrActiveJobExists = errors.New("an active job already exists for this application")
)

type JobRepository struct {
	pool *pgxpool.Pool
}

func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{pool: pool}
}

const jobColumns = `
id, application_id, requested_stages, status, current_stage, stage_progress,
stages_completed, case_reference_a, case_reference_b, error_message, error_stage,
triggered_by, country, visible_mode, cancel_requested, started_at, completed_at,
created_at, updated_at`

// Create inserts the job in pending. The partial unique index on
// (application_id) over non-terminal rows turns a concurrent duplicate Start
// into a unique violation, which is surfaced as ErrActiveJobExists.
func (r *JobRepository) Create(ctx context.Context, job *entity.Job) error {
	const q = `
INSERT INTO automation_jobs
  (id, application_id, requested_stages, status, stages_completed,
   triggered_by, country, visible_mode, created_at, updated_at)
VALUES ($1, $2, $3, 'pending', '{}', $4, $5, $6, $7, $7);
`
	_, err := r.pool.Exec(ctx, q,
		job.ID,
		job.ApplicationID,
		stageStrings(job.RequestedStages),
		job.TriggeredBy,
		job.Country,
		job.VisibleMode,
		job.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrActiveJobExists
		}
		return err
	}
	return nil
}

func (r *JobRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	q := `SELECT ` + jobColumns + ` FROM automation_jobs WHERE id = $1;`

	job, err := scanJob(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// ListByApplication returns the full job history for an application, newest first.
func (r *JobRepository) ListByApplication(ctx context.Context, applicationID int64) ([]*entity.Job, error) {
	q := `SELECT ` + jobColumns + ` FROM automation_jobs
WHERE application_id = $1
ORDER BY created_at DESC;`

	rows, err := r.pool.Query(ctx, q, applicationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := make([]*entity.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (r *JobRepository) MarkQueued(ctx context.Context, id uuid.UUID) error {
	const q = `
UPDATE automation_jobs SET status='queued', updated_at=now()
WHERE id=$1 AND status = ANY($2);
`
	tag, err := r.pool.Exec(ctx, q, id, sourcesOf(entity.StatusQueued))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: job %s not in a queueable state", entity.ErrInvalidTransition, id)
	}
	return nil
}

// MarkRunning flips the job to running and sets the first stage. A false
// return means the job left the queued state in the meantime (cancelled while
// waiting); the caller must skip it.
func (r *JobRepository) MarkRunning(ctx context.Context, id uuid.UUID, stage entity.Stage) (bool, error) {
	const q = `
UPDATE automation_jobs
SET status='running', current_stage=$2, started_at=now(), updated_at=now()
WHERE id=$1 AND status = ANY($3);
`
	tag, err := r.pool.Exec(ctx, q, id, string(stage), sourcesOf(entity.StatusRunning))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// SetCurrentStage advances the stage pointer within a running job. Moving to
// the next stage does not change status.
func (r *JobRepository) SetCurrentStage(ctx context.Context, id uuid.UUID, stage entity.Stage) error {
	const q = `
UPDATE automation_jobs
SET current_stage=$2, stage_progress=NULL, updated_at=now()
WHERE id=$1 AND status='running';
`
	tag, err := r.pool.Exec(ctx, q, id, string(stage))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: job %s is not running", entity.ErrInvalidTransition, id)
	}
	return nil
}

// SetStageProgress writes the latest progress line. Guarded on running, so a
// late progress write after the terminal transition is a no-op.
func (r *JobRepository) SetStageProgress(ctx context.Context, id uuid.UUID, progress string) error {
	const q = `
UPDATE automation_jobs SET stage_progress=$2, updated_at=now()
WHERE id=$1 AND status='running';
`
	_, err := r.pool.Exec(ctx, q, id, progress)
	return err
}

// AddStageResult appends the terminal per-stage result and captures the stage's
// case reference. Existing entries are never overwritten and the reference
// columns are set at most once.
func (r *JobRepository) AddStageResult(ctx context.Context, id uuid.UUID, stage entity.Stage, result entity.StageResult) error {
	patch, err := json.Marshal(map[entity.Stage]entity.StageResult{stage: result})
	if err != nil {
		return err
	}

	const q = `
UPDATE automation_jobs
SET stages_completed = stages_completed || $2::jsonb,
    case_reference_a = CASE WHEN $3 = 'StageA' THEN COALESCE(case_reference_a, $4) ELSE case_reference_a END,
    case_reference_b = CASE WHEN $3 = 'StageB' THEN COALESCE(case_reference_b, $4) ELSE case_reference_b END,
    updated_at = now()
WHERE id=$1 AND status='running' AND NOT (stages_completed ? $3);
`
	var artifact *string
	if result.Artifact != "" {
		artifact = &result.Artifact
	}
	_, err = r.pool.Exec(ctx, q, id, patch, string(stage), artifact)
	return err
}

// RequestCancel marks a non-terminal job for cooperative cancellation.
func (r *JobRepository) RequestCancel(ctx context.Context, id uuid.UUID) error {
	const q = `
UPDATE automation_jobs SET cancel_requested=true, updated_at=now()
WHERE id=$1 AND status IN ('pending','queued','running');
`
	_, err := r.pool.Exec(ctx, q, id)
	return err
}

// CancelBeforeDispatch moves a job that has not started executing straight to
// cancelled. A false return means the job already left pending/queued.
func (r *JobRepository) CancelBeforeDispatch(ctx context.Context, id uuid.UUID) (bool, error) {
	const q = `
UPDATE automation_jobs
SET status='cancelled', completed_at=now(), updated_at=now()
WHERE id=$1 AND status IN ('pending','queued');
`
	tag, err := r.pool.Exec(ctx, q, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// Finalize applies a terminal transition. The status guard comes from the
// transition table, so finalizing an already-terminal job updates zero rows
// and returns false instead of overwriting the first outcome.
func (r *JobRepository) Finalize(ctx context.Context, id uuid.UUID, status entity.JobStatus, errMsg *string, errStage *entity.Stage) (bool, error) {
	if !status.Terminal() {
		return false, fmt.Errorf("%w: %s is not terminal", entity.ErrInvalidTransition, status)
	}

	const q = `
UPDATE automation_jobs
SET status=$2, error_message=$3, error_stage=$4, current_stage=NULL,
    completed_at=now(), updated_at=now()
WHERE id=$1 AND status = ANY($5);
`
	var stageText *string
	if errStage != nil {
		s := string(*errStage)
		stageText = &s
	}
	tag, err := r.pool.Exec(ctx, q, id, string(status), errMsg, stageText, sourcesOf(status))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// FailStaleRunning fails running jobs whose last write is older than the
// threshold. Covers crashed workers and dispatches that lost the store
// mid-run: the poller sees failed with a system message instead of a job stuck
// in running forever.
func (r *JobRepository) FailStaleRunning(ctx context.Context, olderThan time.Duration) (int64, error) {
	const q = `
UPDATE automation_jobs
SET status='failed', error_message='system: job made no progress and was abandoned',
    current_stage=NULL, completed_at=now(), updated_at=now()
WHERE status='running' AND updated_at < now() - make_interval(secs => $1);
`
	tag, err := r.pool.Exec(ctx, q, olderThan.Seconds())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func stageStrings(stages []entity.Stage) []string {
	out := make([]string, len(stages))
	for i, s := range stages {
		out[i] = string(s)
	}
	return out
}

func sourcesOf(to entity.JobStatus) []string {
	sources := entity.TransitionSources(to)
	out := make([]string, len(sources))
	for i, s := range sources {
		out[i] = string(s)
	}
	return out
}

func scanJob(row pgx.Row) (*entity.Job, error) {
	var (
		job            entity.Job
		statusText     string
		stages         []string
		currentStage   *string
		errStage       *string
		completedBytes []byte
	)

	if err := row.Scan(
		&job.ID,
		&job.ApplicationID,
		&stages,
		&statusText,
		&currentStage,
		&job.StageProgress,
		&completedBytes,
		&job.CaseReferenceA,
		&job.CaseReferenceB,
		&job.ErrorMessage,
		&errStage,
		&job.TriggeredBy,
		&job.Country,
		&job.VisibleMode,
		&job.CancelRequested,
		&job.StartedAt,
		&job.CompletedAt,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}

	job.Status = entity.JobStatus(statusText)
	job.RequestedStages = make([]entity.Stage, len(stages))
	for i, s := range stages {
		job.RequestedStages[i] = entity.Stage(s)
	}
	if currentStage != nil {
		s := entity.Stage(*currentStage)
		job.CurrentStage = &s
	}
	if errStage != nil {
		s := entity.Stage(*errStage)
		job.ErrorStage = &s
	}
	job.StagesCompleted = map[entity.Stage]entity.StageResult{}
	if len(completedBytes) > 0 {
		if err := json.Unmarshal(completedBytes, &job.StagesCompleted); err != nil {
			return nil, err
		}
	}
	return &job, nil
}
