package service

import (
	"context"
	"sync"
)

// AbortRegistry tracks cancellation hooks for jobs being processed in this
// process. It implements core.AbortSignaler. Signals for jobs running on
// other workers are handled through the conditional status update instead.
type AbortRegistry struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewAbortRegistry creates an empty registry.
func NewAbortRegistry() *AbortRegistry {
	return &AbortRegistry{cancels: make(map[string]context.CancelFunc)}
}

// Register associates a cancel function with a job id for the duration of its
// pipeline run. The caller must Unregister when the run ends.
func (r *AbortRegistry) Register(jobID string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancels[jobID] = cancel
}

// Unregister removes the job's cancellation hook.
func (r *AbortRegistry) Unregister(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cancels, jobID)
}

// Signal cancels the job's in-flight pipeline if this process is running it.
// Returns true when a registered pipeline observed the signal.
func (r *AbortRegistry) Signal(jobID string) bool {
	r.mu.Lock()
	cancel, ok := r.cancels[jobID]
	r.mu.Unlock()

	if !ok {
		return false
	}
	cancel()
	return true
}
