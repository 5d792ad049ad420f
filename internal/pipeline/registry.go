package pipeline

import "sync"

// Job is the in-memory state of one interior whose generation is parked on a
// webhook backend: everything the callback path needs to resume the run.
type Job struct {
	InteriorID string
	Room       string
	Style      string
	Tracker    *Tracker
}

// Registry holds pending webhook jobs keyed by interior id. Jobs live only in
// process memory; a restart strands in-flight webhook runs, which then time
// out on the provider side.
type Registry struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]*Job)}
}

// Register stores the job under its interior id. Callers register before
// dispatching the remote work so a fast callback can never miss the entry.
func (r *Registry) Register(job *Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.InteriorID] = job
}

// Lookup returns the pending job for id, if any.
func (r *Registry) Lookup(id string) (*Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	return job, ok
}

// Remove takes the job out of the registry, returning it. The second return
// is false when the id was never registered or was already consumed.
func (r *Registry) Remove(id string) (*Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if ok {
		delete(r.jobs, id)
	}
	return job, ok
}

// Len reports the number of pending jobs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}
