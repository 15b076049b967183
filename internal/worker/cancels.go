package worker

import (
	"context"
	"sync"
)

// CancelRegistry tracks the cancel funcs of jobs executing in this process.
// Cancellations arrive over the shared pubsub channel; only the instance that
// holds the job finds an entry here.
type CancelRegistry struct {
	mu sync.Mutex
	m  map[string]context.CancelFunc
}

func NewCancelRegistry() *CancelRegistry {
	return &CancelRegistry{m: make(map[string]context.CancelFunc)}
}

func (r *CancelRegistry) Register(jobID string, cancel context.CancelFunc) {
	r.mu.Lock()
	r.m[jobID] = cancel
	r.mu.Unlock()
}

func (r *CancelRegistry) Remove(jobID string) {
	r.mu.Lock()
	delete(r.m, jobID)
	r.mu.Unlock()
}

// Cancel fires the registered cancel func, if any. Safe for unknown ids.
func (r *CancelRegistry) Cancel(jobID string) bool {
	r.mu.Lock()
	cancel, ok := r.m[jobID]
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}
