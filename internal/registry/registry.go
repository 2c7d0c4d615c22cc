// Package registry tracks the crawl runs currently active in this process.
package registry

import (
	"fmt"
	"sync"
)

// Stopper is the control surface a run exposes to the registry.
type Stopper interface {
	Stop()
}

// Registry maps job IDs to their active runs so the API layer can signal
// them. Entries are owned by the runner: registered when a run starts and
// removed when its result stream closes.
type Registry struct {
	mu   sync.Mutex
	runs map[string]Stopper
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{runs: make(map[string]Stopper)}
}

// Register adds an active run. Registering a job twice is an error; a job
// has at most one active run.
func (r *Registry) Register(jobID string, run Stopper) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.runs[jobID]; exists {
		return fmt.Errorf("job %s already has an active run", jobID)
	}
	r.runs[jobID] = run
	return nil
}

// Deregister removes a run once it reaches a terminal status.
func (r *Registry) Deregister(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.runs, jobID)
}

// Stop signals the run for jobID, if one is active, and reports whether it
// was found.
func (r *Registry) Stop(jobID string) bool {
	r.mu.Lock()
	run, ok := r.runs[jobID]
	r.mu.Unlock()
	if ok {
		run.Stop()
	}
	return ok
}

// Active reports whether a run is registered for jobID.
func (r *Registry) Active(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.runs[jobID]
	return ok
}

// Len returns the number of active runs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}
