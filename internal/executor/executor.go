// Package executor defines the boundary to the external portal-automation
// scripts. The orchestrator treats each stage as a black box that emits
// step-level progress and exactly one terminal outcome.
package executor

import (
	"context"
	"errors"

	"visa-automation-service/internal/entity"
)

// ErrCancelled is the distinguished terminal outcome of a stage that observed
// its cancellation signal and stopped cleanly.
var ErrCancelled = errors.New("stage cancelled")

// ProgressFunc receives step-level progress events while a stage runs.
// Implementations must be safe to call from the executing goroutine only; no
// event may follow the executor's return.
type ProgressFunc func(step, total int, message string)

// Input carries the job parameters a stage needs to drive its portal.
type Input struct {
	JobID         string
	ApplicationID int64
	Stage         entity.Stage
	Country       string
	VisibleMode   bool
}

// StageExecutor performs one stage end-to-end. It must observe ctx at step
// boundaries at minimum and return ErrCancelled (or ctx.Err()) when signalled
// rather than hanging. On success the artifact is the portal's durable
// reference for the stage.
type StageExecutor interface {
	Run(ctx context.Context, in Input, report ProgressFunc) (artifact string, err error)
}

// Registry maps stage identifiers to their executors.
type Registry map[entity.Stage]StageExecutor
