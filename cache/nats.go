package cache

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/zeebo/blake3"
)

// DefaultBucket is the JetStream key-value bucket used for the cache.
const DefaultBucket = "PROPSCOUT_CACHE"

// NATSConfig configures a JetStream-backed store.
type NATSConfig struct {
	Bucket string
	// MaxBytes bounds the bucket. Zero leaves it unbounded.
	MaxBytes int64
}

// kvStore is the subset of jetstream.KeyValue the backend needs, with
// entries already unwrapped to bytes.
type kvStore interface {
	get(ctx context.Context, key string) ([]byte, error)
	put(ctx context.Context, key string, value []byte) error
	delete(ctx context.Context, key string) error
	keys(ctx context.Context) ([]string, error)
}

// NATSBackend stores entries in a JetStream key-value bucket so several
// processes can share one cache.
//
// Cache keys contain characters NATS subjects do not allow, so each entry is
// stored under a blake3 digest of its key with the original key kept in the
// value envelope.
type NATSBackend struct {
	kv kvStore
}

type natsEnvelope struct {
	Key   string `json:"key"`
	Value []byte `json:"value"`
}

// NewNATSBackend opens the configured bucket, creating it if needed.
func NewNATSBackend(ctx context.Context, js jetstream.JetStream, cfg NATSConfig) (*NATSBackend, error) {
	if cfg.Bucket == "" {
		cfg.Bucket = DefaultBucket
	}
	kv, err := getOrCreateBucket(ctx, js, cfg)
	if err != nil {
		return nil, fmt.Errorf("nats cache: bucket %s: %w", cfg.Bucket, err)
	}
	return &NATSBackend{kv: &jetstreamKV{kv: kv}}, nil
}

func getOrCreateBucket(ctx context.Context, js jetstream.JetStream, cfg NATSConfig) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, cfg.Bucket)
	if err == nil {
		return kv, nil
	}
	return js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      cfg.Bucket,
		Description: "PropScout provider response cache",
		History:     1,
		MaxBytes:    cfg.MaxBytes,
	})
}

// natsKey maps a cache key onto a valid NATS key.
func natsKey(key string) string {
	sum := blake3.Sum256([]byte(key))
	return "k." + hex.EncodeToString(sum[:])
}

// Get implements Backend.
func (n *NATSBackend) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := n.kv.get(ctx, natsKey(key))
	if err != nil {
		return nil, err
	}
	var env natsEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("nats cache: decode %s: %w", key, err)
	}
	if env.Key != key {
		// Digest collision or a foreign writer; treat as absent.
		return nil, ErrNotFound
	}
	return env.Value, nil
}

// Put implements Backend. A bucket at its byte limit reports full.
func (n *NATSBackend) Put(ctx context.Context, key string, value []byte) (bool, error) {
	data, err := json.Marshal(natsEnvelope{Key: key, Value: value})
	if err != nil {
		return false, fmt.Errorf("nats cache: encode %s: %w", key, err)
	}
	if err := n.kv.put(ctx, natsKey(key), data); err != nil {
		if isBucketFull(err) {
			return false, nil
		}
		return false, fmt.Errorf("nats cache: put %s: %w", key, err)
	}
	return true, nil
}

// Delete implements Backend.
func (n *NATSBackend) Delete(ctx context.Context, key string) error {
	if err := n.kv.delete(ctx, natsKey(key)); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("nats cache: delete %s: %w", key, err)
	}
	return nil
}

// Keys implements Backend. Each entry is read to recover its original key.
func (n *NATSBackend) Keys(ctx context.Context, prefix string) ([]string, error) {
	stored, err := n.kv.keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("nats cache: list keys: %w", err)
	}
	keys := []string{}
	for _, k := range stored {
		data, err := n.kv.get(ctx, k)
		if err != nil {
			continue
		}
		var env natsEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		if strings.HasPrefix(env.Key, prefix) {
			keys = append(keys, env.Key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Close implements Backend. The NATS connection is owned by the caller.
func (n *NATSBackend) Close() error { return nil }

// jetstreamKV adapts jetstream.KeyValue to kvStore.
type jetstreamKV struct {
	kv jetstream.KeyValue
}

func (j *jetstreamKV) get(ctx context.Context, key string) ([]byte, error) {
	entry, err := j.kv.Get(ctx, key)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return entry.Value(), nil
}

func (j *jetstreamKV) put(ctx context.Context, key string, value []byte) error {
	_, err := j.kv.Put(ctx, key, value)
	return err
}

func (j *jetstreamKV) delete(ctx context.Context, key string) error {
	err := j.kv.Purge(ctx, key)
	if isNotFound(err) {
		return nil
	}
	return err
}

func (j *jetstreamKV) keys(ctx context.Context) ([]string, error) {
	keys, err := j.kv.Keys(ctx)
	if errors.Is(err, jetstream.ErrNoKeysFound) {
		return nil, nil
	}
	return keys, err
}

// isNotFound checks if an error indicates a key was not found.
func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, jetstream.ErrKeyNotFound) || strings.Contains(err.Error(), "key not found")
}

// isBucketFull reports whether a put was rejected because the bucket's
// stream hit its byte limit.
func isBucketFull(err error) bool {
	var apiErr *jetstream.APIError
	if errors.As(err, &apiErr) && strings.Contains(strings.ToLower(apiErr.Description), "maximum bytes") {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "maximum bytes")
}
