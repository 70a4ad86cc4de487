package task

import "sync"

// Locks serializes stage transitions per task within a process. The store's
// revision check is the cross-process authority; this lock keeps a process
// from starting a second transition (and burning an agent invocation) for a
// task it is already advancing.
type Locks struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocks creates an empty lock set.
func NewLocks() *Locks {
	return &Locks{held: make(map[string]struct{})}
}

// TryAcquire attempts to take the lock for a task. It never blocks: callers
// that lose should hand the trigger back to the queue for redelivery.
func (l *Locks) TryAcquire(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[id]; ok {
		return false
	}
	l.held[id] = struct{}{}
	return true
}

// Release frees the lock for a task.
func (l *Locks) Release(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, id)
}
