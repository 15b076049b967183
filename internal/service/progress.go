package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// ProgressReporter is the push interface a running stage reports through. The
// record store, not any observer, is the durable channel: every distinct line
// is written through immediately and read back by pollers.
type ProgressReporter interface {
	Report(ctx context.Context, jobID uuid.UUID, step, total int, message string) error
	Forget(jobID uuid.UUID)
}

type ProgressStore interface {
	SetStageProgress(ctx context.Context, id uuid.UUID, progress string) error
}

type storeReporter struct {
	store ProgressStore

	mu   sync.Mutex
	last map[uuid.UUID]string
}

func NewStoreReporter(store ProgressStore) ProgressReporter {
	return &storeReporter{store: store, last: make(map[uuid.UUID]string)}
}

// Report formats the composite progress string and persists it. Consecutive
// identical lines are coalesced rather than re-written.
func (r *storeReporter) Report(ctx context.Context, jobID uuid.UUID, step, total int, message string) error {
	line := fmt.Sprintf("Step %d/%d — %s", step, total, message)

	r.mu.Lock()
	if r.last[jobID] == line {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	// recorded only after a successful write, so a failed line is retried
	// rather than coalesced away
	if err := r.store.SetStageProgress(ctx, jobID, line); err != nil {
		return err
	}

	r.mu.Lock()
	r.last[jobID] = line
	r.mu.Unlock()
	return nil
}

// Forget drops the coalescing state for a finished job.
func (r *storeReporter) Forget(jobID uuid.UUID) {
	r.mu.Lock()
	delete(r.last, jobID)
	r.mu.Unlock()
}
