package broker

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
)

// MemStore is an in-memory Store for tests and single-process use.
// Updates are serialized by a single mutex, which gives the same
// per-request atomicity guarantee as the KV-backed store.
type MemStore struct {
	mu       sync.Mutex
	requests map[string][]byte
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{requests: make(map[string][]byte)}
}

// Create implements Store.
func (s *MemStore) Create(_ context.Context, r *PendingRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := r.Key()
	if _, exists := s.requests[key]; exists {
		return ErrConflict
	}

	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	s.requests[key] = data
	return nil
}

// Get implements Store.
func (s *MemStore) Get(_ context.Context, taskID string, checkpoint Checkpoint) (*PendingRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(RequestKey(taskID, checkpoint))
}

// Update implements Store.
func (s *MemStore) Update(_ context.Context, taskID string, checkpoint Checkpoint, mutate func(*PendingRequest) error) (*PendingRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := RequestKey(taskID, checkpoint)
	r, err := s.get(key)
	if err != nil {
		return nil, err
	}

	if err := mutate(r); err != nil {
		return nil, err
	}

	data, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	s.requests[key] = data
	return r, nil
}

// ListPending implements Store.
func (s *MemStore) ListPending(_ context.Context, taskID string) ([]*PendingRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var requests []*PendingRequest
	for key := range s.requests {
		if taskID != "" && !strings.HasPrefix(key, taskID+".") {
			continue
		}
		r, err := s.get(key)
		if err != nil {
			continue
		}
		if r.Status != StatusPending {
			continue
		}
		requests = append(requests, r)
	}
	return requests, nil
}

// get returns a fresh copy of the stored request. Caller holds the lock.
func (s *MemStore) get(key string) (*PendingRequest, error) {
	data, ok := s.requests[key]
	if !ok {
		return nil, ErrNotFound
	}
	var r PendingRequest
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
