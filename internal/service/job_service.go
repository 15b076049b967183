package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"visa-automation-service/internal/entity"
)

var ErrInvalidStages = errors.New("invalid stages")

// Port of the repository (implementation: postgresql.JobRepository).
type JobRepository interface {
	Create(ctx context.Context, job *entity.Job) error
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error)
	ListByApplication(ctx context.Context, applicationID int64) ([]*entity.Job, error)
	MarkQueued(ctx context.Context, id uuid.UUID) error
	CancelBeforeDispatch(ctx context.Context, id uuid.UUID) (bool, error)
	RequestCancel(ctx context.Context, id uuid.UUID) error
	Finalize(ctx context.Context, id uuid.UUID, status entity.JobStatus, errMsg *string, errStage *entity.Stage) (bool, error)
}

// Small queue port used by the manager: hand a job to the dispatchers and
// fan a cancellation out to whichever worker holds it.
type JobQueue interface {
	Enqueue(ctx context.Context, jobID string) error
	PublishCancel(ctx context.Context, jobID string) error
}

// JobService is the orchestration entry point: it owns job creation, the
// single-active-job invariant (delegated to the store), and cancellation
// signalling. Stage execution itself happens in the worker.
type JobService struct {
	repo  JobRepository
	queue JobQueue
}

func NewJobService(repo JobRepository, queue JobQueue) *JobService {
	return &JobService{repo: repo, queue: queue}
}

type StartJobRequest struct {
	ApplicationID int64
	Stages        []entity.Stage
	VisibleMode   bool
	TriggeredBy   string
	Country       string
}

// Start creates the job in pending, marks it queued and hands it to the
// dispatch queue. It returns as soon as the row is durable and dispatch is
// initiated; progress is observed by polling.
func (s *JobService) Start(ctx context.Context, req StartJobRequest) (*entity.Job, error) {
	if req.ApplicationID <= 0 {
		return nil, fmt.Errorf("%w: application_id is required", ErrInvalidStages)
	}
	if err := validateStages(req.Stages); err != nil {
		return nil, err
	}

	job := &entity.Job{
		ID:              uuid.New(),
		ApplicationID:   req.ApplicationID,
		RequestedStages: req.Stages,
		Status:          entity.StatusPending,
		StagesCompleted: map[entity.Stage]entity.StageResult{},
		Country:         req.Country,
		VisibleMode:     req.VisibleMode,
		CreatedAt:       time.Now().UTC(),
	}
	if req.TriggeredBy != "" {
		job.TriggeredBy = &req.TriggeredBy
	}
	job.UpdatedAt = job.CreatedAt

	if err := s.repo.Create(ctx, job); err != nil {
		return nil, err
	}

	// queued before enqueueing, so a worker can only ever claim a queued row
	if err := s.repo.MarkQueued(ctx, job.ID); err != nil {
		s.failDispatch(ctx, job.ID, "system: failed to queue job: "+err.Error())
		return nil, fmt.Errorf("queue job: %w", err)
	}
	if err := s.queue.Enqueue(ctx, job.ID.String()); err != nil {
		s.failDispatch(ctx, job.ID, "system: failed to enqueue job: "+err.Error())
		return nil, fmt.Errorf("enqueue job: %w", err)
	}

	return s.repo.GetByID(ctx, job.ID)
}

// failDispatch finalizes a job that could not be handed to the workers, so the
// application is not left blocked by a forever-pending row.
func (s *JobService) failDispatch(ctx context.Context, id uuid.UUID, msg string) {
	if _, err := s.repo.Finalize(ctx, id, entity.StatusFailed, &msg, nil); err != nil {
		log.Printf("[manager] job_id=%s finalize after dispatch failure error=%v", id, err)
	}
}

// Cancel is idempotent. A terminal job is returned unchanged; a job that has
// not started is cancelled directly; a running job gets the cooperative
// signal and transitions once the worker acknowledges (or forces it after the
// grace period).
func (s *JobService) Cancel(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return job, nil
	}

	if job.Status == entity.StatusPending || job.Status == entity.StatusQueued {
		ok, err := s.repo.CancelBeforeDispatch(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			return s.repo.GetByID(ctx, id)
		}
		// raced into running; fall through to the cooperative path
	}

	if err := s.repo.RequestCancel(ctx, id); err != nil {
		return nil, err
	}
	if err := s.queue.PublishCancel(ctx, id.String()); err != nil {
		// the worker also polls the cancel flag, so a lost publish only delays
		log.Printf("[manager] job_id=%s publish cancel error=%v", id, err)
	}
	return s.repo.GetByID(ctx, id)
}

func (s *JobService) Get(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *JobService) List(ctx context.Context, applicationID int64) ([]*entity.Job, error) {
	return s.repo.ListByApplication(ctx, applicationID)
}

func validateStages(stages []entity.Stage) error {
	if len(stages) == 0 {
		return fmt.Errorf("%w: at least one stage is required", ErrInvalidStages)
	}
	seen := map[entity.Stage]bool{}
	for _, st := range stages {
		if !entity.KnownStage(st) {
			return fmt.Errorf("%w: unknown stage %q", ErrInvalidStages, st)
		}
		if seen[st] {
			return fmt.Errorf("%w: duplicate stage %q", ErrInvalidStages, st)
		}
		seen[st] = true
	}
	return nil
}
