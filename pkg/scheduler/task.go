package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/Sternrassler/storefront-prefetch/pkg/catalog"
)

// Priority orders submissions within a scheduler queue.
type Priority int

const (
	// PriorityNormal tasks are appended to the tail of the queue.
	PriorityNormal Priority = iota

	// PriorityHigh tasks jump to the head of the queue (hover prefetches,
	// foreground reads).
	PriorityHigh
)

// String returns the label used in logs and metrics.
func (p Priority) String() string {
	if p == PriorityHigh {
		return "high"
	}
	return "normal"
}

// Task is a handle on a pending or settled catalog fetch. Every submitter of
// the same fingerprint shares one Task while it is queued or in flight.
type Task struct {
	Query       catalog.FilterQuery
	Fingerprint string

	priority  Priority
	notBefore time.Time
	requeues  int

	done   chan struct{}
	once   sync.Once
	result *catalog.Result
	err    error
}

func newTask(q catalog.FilterQuery, priority Priority) *Task {
	return &Task{
		Query:       q,
		Fingerprint: q.Fingerprint(),
		priority:    priority,
		done:        make(chan struct{}),
	}
}

// resolvedTask returns a task already settled with result.
func resolvedTask(q catalog.FilterQuery, result *catalog.Result) *Task {
	t := newTask(q, PriorityNormal)
	t.settle(result, nil)
	return t
}

// rejectedTask returns a task already settled with err.
func rejectedTask(q catalog.FilterQuery, err error) *Task {
	t := newTask(q, PriorityNormal)
	t.settle(nil, err)
	return t
}

// settle records the outcome. Only the first call has an effect.
func (t *Task) settle(result *catalog.Result, err error) {
	t.once.Do(func() {
		t.result = result
		t.err = err
		close(t.done)
	})
}

// Done is closed once the task has settled.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Settled reports whether the task has a result or an error.
func (t *Task) Settled() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Result returns the outcome of a settled task. Before settlement it returns
// (nil, nil).
func (t *Task) Result() (*catalog.Result, error) {
	if !t.Settled() {
		return nil, nil
	}
	return t.result, t.err
}

// Wait blocks until the task settles or ctx is done. Abandoning the wait
// does not cancel the underlying fetch.
func (t *Task) Wait(ctx context.Context) (*catalog.Result, error) {
	select {
	case <-t.done:
		return t.result, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
