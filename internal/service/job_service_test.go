package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"visa-automation-service/internal/entity"
	"visa-automation-service/internal/repository/postgresql"
	"visa-automation-service/internal/service"
)

type fakeRepo struct {
	jobs map[uuid.UUID]*entity.Job

	createErr    error
	markQueueErr error

	createCalled   int
	queuedIDs      []uuid.UUID
	cancelledIDs   []uuid.UUID
	cancelRequests []uuid.UUID
	finalized      []entity.JobStatus
	finalizedMsgs  []*string
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{jobs: map[uuid.UUID]*entity.Job{}}
}

func (r *fakeRepo) Create(ctx context.Context, job *entity.Job) error {
	r.createCalled++
	if r.createErr != nil {
		return r.createErr
	}
	copied := *job
	r.jobs[job.ID] = &copied
	return nil
}

func (r *fakeRepo) GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	j, ok := r.jobs[id]
	if !ok {
		return nil, postgresql.ErrNotFound
	}
	copied := *j
	return &copied, nil
}

func (r *fakeRepo) ListByApplication(ctx context.Context, applicationID int64) ([]*entity.Job, error) {
	var out []*entity.Job
	for _, j := range r.jobs {
		if j.ApplicationID == applicationID {
			out = append(out, j)
		}
	}
	return out, nil
}

func (r *fakeRepo) MarkQueued(ctx context.Context, id uuid.UUID) error {
	if r.markQueueErr != nil {
		return r.markQueueErr
	}
	r.queuedIDs = append(r.queuedIDs, id)
	r.jobs[id].Status = entity.StatusQueued
	return nil
}

func (r *fakeRepo) CancelBeforeDispatch(ctx context.Context, id uuid.UUID) (bool, error) {
	j := r.jobs[id]
	if j.Status != entity.StatusPending && j.Status != entity.StatusQueued {
		return false, nil
	}
	now := time.Now().UTC()
	j.Status = entity.StatusCancelled
	j.CompletedAt = &now
	r.cancelledIDs = append(r.cancelledIDs, id)
	return true, nil
}

func (r *fakeRepo) RequestCancel(ctx context.Context, id uuid.UUID) error {
	r.cancelRequests = append(r.cancelRequests, id)
	r.jobs[id].CancelRequested = true
	return nil
}

func (r *fakeRepo) Finalize(ctx context.Context, id uuid.UUID, status entity.JobStatus, errMsg *string, errStage *entity.Stage) (bool, error) {
	j := r.jobs[id]
	if j.Status.Terminal() {
		return false, nil
	}
	now := time.Now().UTC()
	j.Status = status
	j.ErrorMessage = errMsg
	j.ErrorStage = errStage
	j.CompletedAt = &now
	r.finalized = append(r.finalized, status)
	r.finalizedMsgs = append(r.finalizedMsgs, errMsg)
	return true, nil
}

type fakeQueue struct {
	enqueuedIDs  []string
	cancelledIDs []string
	enqueueErr   error
}

func (q *fakeQueue) Enqueue(ctx context.Context, jobID string) error {
	if q.enqueueErr != nil {
		return q.enqueueErr
	}
	q.enqueuedIDs = append(q.enqueuedIDs, jobID)
	return nil
}

func (q *fakeQueue) PublishCancel(ctx context.Context, jobID string) error {
	q.cancelledIDs = append(q.cancelledIDs, jobID)
	return nil
}

func TestStart_CreatesQueuesAndEnqueues(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	queue := &fakeQueue{}
	svc := service.NewJobService(repo, queue)

	job, err := svc.Start(ctx, service.StartJobRequest{
		ApplicationID: 42,
		Stages:        []entity.Stage{entity.StageA, entity.StageB},
		TriggeredBy:   "operator-7",
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	if job.Status != entity.StatusQueued {
		t.Fatalf("expected returned job queued, got %s", job.Status)
	}
	if len(queue.enqueuedIDs) != 1 || queue.enqueuedIDs[0] != job.ID.String() {
		t.Fatalf("expected job enqueued once, got %#v", queue.enqueuedIDs)
	}
	if len(repo.queuedIDs) != 1 {
		t.Fatalf("expected MarkQueued before enqueue, got %#v", repo.queuedIDs)
	}
	if job.TriggeredBy == nil || *job.TriggeredBy != "operator-7" {
		t.Fatalf("expected triggered_by recorded, got %v", job.TriggeredBy)
	}
}

func TestStart_RejectsMalformedStageLists(t *testing.T) {
	ctx := context.Background()
	svc := service.NewJobService(newFakeRepo(), &fakeQueue{})

	cases := []struct {
		name   string
		appID  int64
		stages []entity.Stage
	}{
		{"empty stages", 1, nil},
		{"unknown stage", 1, []entity.Stage{"StageC"}},
		{"duplicate stage", 1, []entity.Stage{entity.StageA, entity.StageA}},
		{"missing application", 0, []entity.Stage{entity.StageA}},
	}
	for _, c := range cases {
		_, err := svc.Start(ctx, service.StartJobRequest{ApplicationID: c.appID, Stages: c.stages})
		if !errors.Is(err, service.ErrInvalidStages) {
			t.Fatalf("%s: expected ErrInvalidStages, got %v", c.name, err)
		}
	}
}

func TestStart_ConflictWhenActiveJobExists(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	repo.createErr = postgresql.ErrActiveJobExists
	queue := &fakeQueue{}
	svc := service.NewJobService(repo, queue)

	_, err := svc.Start(ctx, service.StartJobRequest{ApplicationID: 42, Stages: []entity.Stage{entity.StageA}})
	if !errors.Is(err, postgresql.ErrActiveJobExists) {
		t.Fatalf("expected ErrActiveJobExists, got %v", err)
	}
	if len(queue.enqueuedIDs) != 0 {
		t.Fatalf("expected nothing enqueued on conflict, got %#v", queue.enqueuedIDs)
	}
}

func TestStart_EnqueueFailureFinalizesJobFailed(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	queue := &fakeQueue{enqueueErr: errors.New("redis down")}
	svc := service.NewJobService(repo, queue)

	_, err := svc.Start(ctx, service.StartJobRequest{ApplicationID: 42, Stages: []entity.Stage{entity.StageA}})
	if err == nil {
		t.Fatal("expected error when enqueue fails")
	}
	if len(repo.finalized) != 1 || repo.finalized[0] != entity.StatusFailed {
		t.Fatalf("expected job finalized failed, got %#v", repo.finalized)
	}
	if repo.finalizedMsgs[0] == nil || *repo.finalizedMsgs[0] == "" {
		t.Fatal("expected a system error message on the failed job")
	}
}

func TestCancel_TerminalJobIsNoOp(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	id := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	done := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	repo.jobs[id] = &entity.Job{ID: id, Status: entity.StatusCompleted, CompletedAt: &done}

	queue := &fakeQueue{}
	svc := service.NewJobService(repo, queue)

	job, err := svc.Cancel(ctx, id)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if job.Status != entity.StatusCompleted {
		t.Fatalf("expected terminal status unchanged, got %s", job.Status)
	}
	if !job.CompletedAt.Equal(done) {
		t.Fatalf("expected completed_at untouched, got %v", job.CompletedAt)
	}
	if len(repo.cancelledIDs) != 0 || len(repo.cancelRequests) != 0 || len(queue.cancelledIDs) != 0 {
		t.Fatal("expected no cancellation side effects on a terminal job")
	}
}

func TestCancel_QueuedJobCancelledDirectly(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	id := uuid.MustParse("22222222-2222-2222-2222-222222222222")
	repo.jobs[id] = &entity.Job{ID: id, Status: entity.StatusQueued}

	queue := &fakeQueue{}
	svc := service.NewJobService(repo, queue)

	job, err := svc.Cancel(ctx, id)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if job.Status != entity.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", job.Status)
	}
	if len(queue.cancelledIDs) != 0 {
		t.Fatal("expected no cancel publish for a job that never started")
	}
}

func TestCancel_RunningJobGetsCooperativeSignal(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	id := uuid.MustParse("33333333-3333-3333-3333-333333333333")
	repo.jobs[id] = &entity.Job{ID: id, Status: entity.StatusRunning}

	queue := &fakeQueue{}
	svc := service.NewJobService(repo, queue)

	job, err := svc.Cancel(ctx, id)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	// still running: the worker flips the status once the executor acknowledges
	if job.Status != entity.StatusRunning {
		t.Fatalf("expected running until acknowledged, got %s", job.Status)
	}
	if !job.CancelRequested {
		t.Fatal("expected cancel_requested set")
	}
	if len(queue.cancelledIDs) != 1 || queue.cancelledIDs[0] != id.String() {
		t.Fatalf("expected cancel published once, got %#v", queue.cancelledIDs)
	}
}

func TestCancel_UnknownJob(t *testing.T) {
	ctx := context.Background()
	svc := service.NewJobService(newFakeRepo(), &fakeQueue{})

	_, err := svc.Cancel(ctx, uuid.MustParse("44444444-4444-4444-4444-444444444444"))
	if !errors.Is(err, postgresql.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
