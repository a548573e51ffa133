package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/c360studio/agentflow/workflow"
	"github.com/c360studio/semstreams/natsclient"
	"github.com/nats-io/nats.go/jetstream"
)

// ThreadsBucket is the KV bucket name used to store workflow checkpoints.
const ThreadsBucket = "WORKFLOW_THREADS"

// NATSStore persists checkpoints to a JetStream KV bucket, giving every
// process sharing the same NATS account a consistent view of thread state
// without a separate database. Grounded on llm.CallStore's KV idiom.
type NATSStore struct {
	bucket jetstream.KeyValue
}

// NewNATSStore creates (or attaches to) the checkpoint KV bucket.
func NewNATSStore(ctx context.Context, nc *natsclient.Client) (*NATSStore, error) {
	if nc == nil {
		return nil, fmt.Errorf("checkpoint: NATS client required")
	}

	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("checkpoint: get jetstream: %w", err)
	}

	bucket, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      ThreadsBucket,
		Description: "Workflow thread checkpoints",
	})
	if err != nil {
		return nil, fmt.Errorf("checkpoint: create/update kv bucket: %w", err)
	}

	return &NATSStore{bucket: bucket}, nil
}

func keyFor(threadID string) string {
	// Thread IDs are used as KV keys as-is, except that any '/' is
	// replaced with '_'. Other characters are passed through unchanged.
	return strings.ReplaceAll(threadID, "/", "_")
}

func (s *NATSStore) Save(ctx context.Context, state *workflow.WorkflowState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("checkpoint: marshal: %w", err)
	}
	if _, err := s.bucket.Put(ctx, keyFor(state.ThreadID), data); err != nil {
		return fmt.Errorf("checkpoint: put: %w", err)
	}
	return nil
}

func (s *NATSStore) Load(ctx context.Context, threadID string) (*workflow.WorkflowState, error) {
	entry, err := s.bucket.Get(ctx, keyFor(threadID))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("checkpoint: get: %w", err)
	}

	var state workflow.WorkflowState
	if err := json.Unmarshal(entry.Value(), &state); err != nil {
		return nil, fmt.Errorf("checkpoint: unmarshal: %w", err)
	}
	return &state, nil
}

func (s *NATSStore) List(ctx context.Context, projectID string) ([]*workflow.WorkflowState, error) {
	keys, err := s.bucket.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("checkpoint: keys: %w", err)
	}

	var out []*workflow.WorkflowState
	for _, key := range keys {
		entry, err := s.bucket.Get(ctx, key)
		if err != nil {
			if errors.Is(err, jetstream.ErrKeyDeleted) || errors.Is(err, jetstream.ErrKeyNotFound) {
				continue
			}
			return nil, fmt.Errorf("checkpoint: get %s: %w", key, err)
		}
		var state workflow.WorkflowState
		if err := json.Unmarshal(entry.Value(), &state); err != nil {
			continue
		}
		if projectID != "" && state.ProjectID != projectID {
			continue
		}
		out = append(out, &state)
	}
	return out, nil
}

func (s *NATSStore) Delete(ctx context.Context, threadID string) error {
	if err := s.bucket.Delete(ctx, keyFor(threadID)); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("checkpoint: delete: %w", err)
	}
	return nil
}
