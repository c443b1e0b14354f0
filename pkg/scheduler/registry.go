package scheduler

import "sync"

// Registry tracks the fetches currently on the network, keyed by
// fingerprint. Schedulers sharing a Registry never run two fetches for the
// same fingerprint at once.
type Registry struct {
	mu       sync.Mutex
	inflight map[string]*Task
}

// NewRegistry creates an empty in-flight registry.
func NewRegistry() *Registry {
	return &Registry{inflight: make(map[string]*Task)}
}

// Claim marks t as in flight. If another task already holds the fingerprint,
// that task is returned with false.
func (r *Registry) Claim(t *Task) (*Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.inflight[t.Fingerprint]; ok && current != t {
		return current, false
	}
	r.inflight[t.Fingerprint] = t
	return t, true
}

// Release clears t's claim. A claim held by a different task is left alone.
func (r *Registry) Release(t *Task) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.inflight[t.Fingerprint]; ok && current == t {
		delete(r.inflight, t.Fingerprint)
	}
}

// Lookup returns the in-flight task for fingerprint.
func (r *Registry) Lookup(fingerprint string) (*Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.inflight[fingerprint]
	return t, ok
}

// Len returns the number of in-flight fetches.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inflight)
}
