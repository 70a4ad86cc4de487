package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// RequestsBucket is the KV bucket name for pending input requests.
const RequestsBucket = "TASKPILOT_REQUESTS"

// Common store errors.
var (
	// ErrNotFound is returned when no matching request exists. Resolve
	// surfaces it for stale or duplicate replies.
	ErrNotFound = errors.New("input request not found")

	// ErrConflict is returned when a concurrent writer won the race for the
	// same request. The losing trigger should be redelivered, not dropped.
	ErrConflict = errors.New("concurrent request update")
)

// Store persists input requests keyed by (task, checkpoint).
type Store interface {
	// Create stores a new request. Fails with ErrConflict if a request
	// already exists for the same (task, checkpoint).
	Create(ctx context.Context, r *PendingRequest) error

	// Get retrieves the request for a (task, checkpoint), regardless of status.
	Get(ctx context.Context, taskID string, checkpoint Checkpoint) (*PendingRequest, error)

	// Update applies mutate to the stored request and persists the result,
	// failing with ErrConflict if another writer got there first.
	Update(ctx context.Context, taskID string, checkpoint Checkpoint, mutate func(*PendingRequest) error) (*PendingRequest, error)

	// ListPending returns all pending requests, optionally filtered by task.
	// Empty taskID means all tasks.
	ListPending(ctx context.Context, taskID string) ([]*PendingRequest, error)
}

// KVStore is a Store backed by a NATS JetStream KV bucket. Exactly-once
// resolution comes from revision-checked status flips.
type KVStore struct {
	bucket jetstream.KeyValue
}

// NewKVStore creates a KVStore, creating the bucket if needed.
func NewKVStore(ctx context.Context, js jetstream.JetStream) (*KVStore, error) {
	bucket, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      RequestsBucket,
		Description: "Pending human-input requests",
		History:     5,
		TTL:         30 * 24 * time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("create/update kv bucket: %w", err)
	}
	return &KVStore{bucket: bucket}, nil
}

// Create implements Store.
func (s *KVStore) Create(ctx context.Context, r *PendingRequest) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	if _, err := s.bucket.Create(ctx, r.Key(), data); err != nil {
		if isAlreadyExists(err) {
			return ErrConflict
		}
		return fmt.Errorf("store request: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *KVStore) Get(ctx context.Context, taskID string, checkpoint Checkpoint) (*PendingRequest, error) {
	entry, err := s.bucket.Get(ctx, RequestKey(taskID, checkpoint))
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get request: %w", err)
	}

	var r PendingRequest
	if err := json.Unmarshal(entry.Value(), &r); err != nil {
		return nil, fmt.Errorf("unmarshal request: %w", err)
	}
	return &r, nil
}

// Update implements Store with a revision-checked write.
func (s *KVStore) Update(ctx context.Context, taskID string, checkpoint Checkpoint, mutate func(*PendingRequest) error) (*PendingRequest, error) {
	key := RequestKey(taskID, checkpoint)
	entry, err := s.bucket.Get(ctx, key)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get request: %w", err)
	}

	var r PendingRequest
	if err := json.Unmarshal(entry.Value(), &r); err != nil {
		return nil, fmt.Errorf("unmarshal request: %w", err)
	}

	if err := mutate(&r); err != nil {
		return nil, err
	}

	data, err := json.Marshal(&r)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	if _, err := s.bucket.Update(ctx, key, data, entry.Revision()); err != nil {
		if isWrongRevision(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("update request: %w", err)
	}
	return &r, nil
}

// ListPending implements Store. Entries that fail to load are skipped.
func (s *KVStore) ListPending(ctx context.Context, taskID string) ([]*PendingRequest, error) {
	keys, err := s.bucket.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list request keys: %w", err)
	}

	var requests []*PendingRequest
	for _, key := range keys {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if taskID != "" && !strings.HasPrefix(key, taskID+".") {
			continue
		}

		entry, err := s.bucket.Get(ctx, key)
		if err != nil {
			continue
		}

		var r PendingRequest
		if err := json.Unmarshal(entry.Value(), &r); err != nil {
			continue
		}
		if r.Status != StatusPending {
			continue
		}
		requests = append(requests, &r)
	}
	return requests, nil
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
