package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"visa-automation-service/internal/entity"
	"visa-automation-service/internal/executor"
	"visa-automation-service/internal/service"
)

type JobRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error)
	MarkRunning(ctx context.Context, id uuid.UUID, stage entity.Stage) (bool, error)
	SetCurrentStage(ctx context.Context, id uuid.UUID, stage entity.Stage) error
	AddStageResult(ctx context.Context, id uuid.UUID, stage entity.Stage, result entity.StageResult) error
	Finalize(ctx context.Context, id uuid.UUID, status entity.JobStatus, errMsg *string, errStage *entity.Stage) (bool, error)
}

// Processor runs one claimed job: the requested stages strictly in order, each
// supervised for progress, failure and cooperative cancellation.
type Processor struct {
	repo      JobRepo
	reporter  service.ProgressReporter
	executors executor.Registry
	cancels   *CancelRegistry

	// grace bounds the wait between signalling cancellation and forcing the
	// job to cancelled when the executor does not acknowledge.
	grace      time.Duration
	cancelPoll time.Duration
}

func NewProcessor(repo JobRepo, reporter service.ProgressReporter, executors executor.Registry, cancels *CancelRegistry, grace time.Duration) *Processor {
	if grace <= 0 {
		grace = 30 * time.Second
	}
	return &Processor{
		repo:       repo,
		reporter:   reporter,
		executors:  executors,
		cancels:    cancels,
		grace:      grace,
		cancelPoll: 5 * time.Second,
	}
}

func (p *Processor) Process(ctx context.Context, jobID string) error {
	start := time.Now()

	id, err := uuid.Parse(jobID)
	if err != nil {
		log.Printf("[worker] job_id=%s parse_error=%v", jobID, err)
		return err
	}

	job, err := p.repo.GetByID(ctx, id)
	if err != nil {
		log.Printf("[worker] job_id=%s get_job error=%v", id, err)
		return err
	}

	ok, err := p.repo.MarkRunning(ctx, id, job.RequestedStages[0])
	if err != nil {
		log.Printf("[worker] job_id=%s mark_running error=%v", id, err)
		return err
	}
	if !ok {
		// cancelled (or otherwise finished) while waiting in the queue
		log.Printf("[worker] job_id=%s status=%s skip=left_queue", id, job.Status)
		return nil
	}

	JobsClaimedTotal.Inc()
	JobsRunning.Inc()
	defer JobsRunning.Dec()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	p.cancels.Register(jobID, cancel)
	defer p.cancels.Remove(jobID)
	defer p.reporter.Forget(id)

	// closes the race with a cancel published before we registered, and
	// backstops a lost pubsub message
	p.watchCancelFlag(ctx, runCtx, id, cancel)

	persistFail := make(chan error, 1)
	report := func(step, total int, message string) {
		if err := p.reporter.Report(runCtx, id, step, total, message); err != nil {
			select {
			case persistFail <- err:
			default:
			}
			cancel()
		}
	}

	for i, stage := range job.RequestedStages {
		if i > 0 {
			if err := p.repo.SetCurrentStage(ctx, id, stage); err != nil {
				return p.failSystem(ctx, id, stage, err)
			}
		}

		exec, ok := p.executors[stage]
		if !ok {
			msg := "no executor registered for stage " + string(stage)
			p.finalize(ctx, id, entity.StatusFailed, &msg, &stage)
			JobsFailedTotal.Inc()
			return nil
		}

		outcome := p.runStage(runCtx, job, stage, exec, report)

		select {
		case perr := <-persistFail:
			return p.failSystem(ctx, id, stage, perr)
		default:
		}

		switch {
		case outcome.forced:
			msg := fmt.Sprintf("cancellation not acknowledged within %s; stage %s terminated forcibly", p.grace, stage)
			p.finalize(ctx, id, entity.StatusCancelled, &msg, nil)
			JobsCancelledTotal.Inc()
			log.Printf("[worker] job_id=%s stage=%s status=cancelled forced=true duration_ms=%d",
				id, stage, time.Since(start).Milliseconds())
			return nil

		case errors.Is(outcome.err, executor.ErrCancelled) || errors.Is(outcome.err, context.Canceled):
			p.finalize(ctx, id, entity.StatusCancelled, nil, nil)
			JobsCancelledTotal.Inc()
			log.Printf("[worker] job_id=%s stage=%s status=cancelled forced=false duration_ms=%d",
				id, stage, time.Since(start).Milliseconds())
			return nil

		case outcome.err != nil:
			msg := outcome.err.Error()
			p.finalize(ctx, id, entity.StatusFailed, &msg, &stage)
			JobsFailedTotal.Inc()
			log.Printf("[worker] job_id=%s stage=%s status=failed duration_ms=%d error=%s",
				id, stage, time.Since(start).Milliseconds(), msg)
			return nil
		}

		result := entity.StageResult{Success: true, Artifact: outcome.artifact}
		if err := p.repo.AddStageResult(ctx, id, stage, result); err != nil {
			return p.failSystem(ctx, id, stage, err)
		}
		log.Printf("[worker] job_id=%s stage=%s stage_status=success", id, stage)
	}

	p.finalize(ctx, id, entity.StatusCompleted, nil, nil)
	JobsCompletedTotal.Inc()
	log.Printf("[worker] job_id=%s status=completed duration_ms=%d", id, time.Since(start).Milliseconds())
	return nil
}

type stageOutcome struct {
	artifact string
	err      error
	forced   bool
}

// runStage executes the stage in its own goroutine so the supervisor stays
// responsive to cancellation. Once cancelled, the executor has the grace
// period to return before the outcome is forced.
func (p *Processor) runStage(runCtx context.Context, job *entity.Job, stage entity.Stage, exec executor.StageExecutor, report executor.ProgressFunc) stageOutcome {
	in := executor.Input{
		JobID:         job.ID.String(),
		ApplicationID: job.ApplicationID,
		Stage:         stage,
		Country:       job.Country,
		VisibleMode:   job.VisibleMode,
	}

	resCh := make(chan stageOutcome, 1)
	go func() {
		artifact, err := exec.Run(runCtx, in, report)
		resCh <- stageOutcome{artifact: artifact, err: err}
	}()

	select {
	case r := <-resCh:
		return r
	case <-runCtx.Done():
		select {
		case r := <-resCh:
			return r
		case <-time.After(p.grace):
			return stageOutcome{forced: true}
		}
	}
}

func (p *Processor) watchCancelFlag(ctx, runCtx context.Context, id uuid.UUID, cancel context.CancelFunc) {
	if fresh, err := p.repo.GetByID(ctx, id); err == nil && fresh.CancelRequested {
		cancel()
		return
	}
	go func() {
		ticker := time.NewTicker(p.cancelPoll)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				if fresh, err := p.repo.GetByID(ctx, id); err == nil && fresh.CancelRequested {
					cancel()
					return
				}
			}
		}
	}()
}

// failSystem records a store failure as a failed job rather than leaving it
// stuck in running. Best effort: if the store is down entirely the stale
// reaper finishes the job once the store returns.
func (p *Processor) failSystem(ctx context.Context, id uuid.UUID, stage entity.Stage, cause error) error {
	msg := "system: job store unavailable during dispatch: " + cause.Error()
	p.finalize(ctx, id, entity.StatusFailed, &msg, &stage)
	JobsFailedTotal.Inc()
	log.Printf("[worker] job_id=%s stage=%s status=failed persistence_error=%v", id, stage, cause)
	return cause
}

func (p *Processor) finalize(ctx context.Context, id uuid.UUID, status entity.JobStatus, errMsg *string, errStage *entity.Stage) {
	applied, err := p.repo.Finalize(ctx, id, status, errMsg, errStage)
	if err != nil {
		log.Printf("[worker] job_id=%s finalize status=%s error=%v", id, status, err)
		return
	}
	if !applied {
		log.Printf("[worker] job_id=%s finalize status=%s skipped=already_terminal", id, status)
	}
}
