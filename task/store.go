package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// TasksBucket is the KV bucket name for task state.
const TasksBucket = "TASKPILOT_TASKS"

// Common store errors.
var (
	// ErrNotFound is returned when a task does not exist.
	ErrNotFound = errors.New("task not found")

	// ErrConflict is returned when a concurrent update won the race for the
	// same task. The caller's trigger should be redelivered, not dropped.
	ErrConflict = errors.New("concurrent task update")
)

// Store persists tasks. Get and Update are atomic with respect to
// concurrent callers for the same task ID.
type Store interface {
	Create(ctx context.Context, t *Task) error
	Get(ctx context.Context, id string) (*Task, error)

	// Update applies mutate to the current task state and persists the
	// result, failing with ErrConflict if another writer got there first.
	// The mutated task is returned on success.
	Update(ctx context.Context, id string, mutate func(*Task) error) (*Task, error)

	List(ctx context.Context) ([]*Task, error)
}

// KVStore is a Store backed by a NATS JetStream KV bucket. Per-task
// atomicity comes from revision-checked updates: the entry revision read
// before mutation must still be current at write time.
type KVStore struct {
	bucket jetstream.KeyValue
}

// NewKVStore creates a KVStore, creating the bucket if needed.
func NewKVStore(ctx context.Context, js jetstream.JetStream) (*KVStore, error) {
	bucket, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      TasksBucket,
		Description: "Coding task workflow state",
		History:     5,
		TTL:         90 * 24 * time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("create/update kv bucket: %w", err)
	}
	return &KVStore{bucket: bucket}, nil
}

// Create stores a new task. Fails with ErrConflict if the ID already exists.
func (s *KVStore) Create(ctx context.Context, t *Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	if _, err := s.bucket.Create(ctx, t.ID, data); err != nil {
		if isAlreadyExists(err) {
			return ErrConflict
		}
		return fmt.Errorf("store task: %w", err)
	}
	return nil
}

// Get retrieves a task by ID.
func (s *KVStore) Get(ctx context.Context, id string) (*Task, error) {
	entry, err := s.bucket.Get(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get task: %w", err)
	}

	var t Task
	if err := json.Unmarshal(entry.Value(), &t); err != nil {
		return nil, fmt.Errorf("unmarshal task: %w", err)
	}
	return &t, nil
}

// Update reads the task at its current revision, applies mutate, and writes
// back with a revision check. A concurrent writer surfaces as ErrConflict.
func (s *KVStore) Update(ctx context.Context, id string, mutate func(*Task) error) (*Task, error) {
	entry, err := s.bucket.Get(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get task: %w", err)
	}

	var t Task
	if err := json.Unmarshal(entry.Value(), &t); err != nil {
		return nil, fmt.Errorf("unmarshal task: %w", err)
	}

	if err := mutate(&t); err != nil {
		return nil, err
	}
	t.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(&t)
	if err != nil {
		return nil, fmt.Errorf("marshal task: %w", err)
	}

	if _, err := s.bucket.Update(ctx, id, data, entry.Revision()); err != nil {
		if isWrongRevision(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("update task: %w", err)
	}
	return &t, nil
}

// List returns all tasks. Entries that fail to load are skipped.
func (s *KVStore) List(ctx context.Context) ([]*Task, error) {
	keys, err := s.bucket.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list task keys: %w", err)
	}

	tasks := make([]*Task, 0, len(keys))
	for _, key := range keys {
		entry, err := s.bucket.Get(ctx, key)
		if err != nil {
			continue
		}
		var t Task
		if err := json.Unmarshal(entry.Value(), &t); err != nil {
			continue
		}
		tasks = append(tasks, &t)
	}
	return tasks, nil
}

// isNotFound checks if an error indicates a key was not found.
func isNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "key not found")
}

// isAlreadyExists checks if an error indicates a key already exists.
func isAlreadyExists(err error) bool {
	return err != nil && strings.Contains(err.Error(), "key exists")
}

// isWrongRevision checks if an error indicates a revision mismatch on a
// compare-and-swap update.
func isWrongRevision(err error) bool {
	return err != nil && strings.Contains(err.Error(), "wrong last sequence")
}
