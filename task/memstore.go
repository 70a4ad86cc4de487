package task

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
)

// MemStore is an in-memory Store for tests and single-process use.
// A single mutex serializes all updates, which trivially satisfies the
// per-task atomicity contract.
type MemStore struct {
	mu    sync.Mutex
	tasks map[string]*Task
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{tasks: make(map[string]*Task)}
}

// Create stores a new task. Fails with ErrConflict if the ID exists.
func (s *MemStore) Create(_ context.Context, t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[t.ID]; ok {
		return ErrConflict
	}
	s.tasks[t.ID] = clone(t)
	return nil
}

// Get retrieves a copy of a task by ID.
func (s *MemStore) Get(_ context.Context, id string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(t), nil
}

// Update applies mutate under the store lock.
func (s *MemStore) Update(_ context.Context, id string, mutate func(*Task) error) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}

	mutated := clone(t)
	if err := mutate(mutated); err != nil {
		return nil, err
	}
	s.tasks[id] = mutated
	return clone(mutated), nil
}

// List returns all tasks ordered by ID.
func (s *MemStore) List(_ context.Context) ([]*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, clone(t))
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	return tasks, nil
}

// clone deep-copies a task through its JSON form, matching what callers of
// the KV store observe.
func clone(t *Task) *Task {
	data, _ := json.Marshal(t)
	var out Task
	_ = json.Unmarshal(data, &out)
	return &out
}
