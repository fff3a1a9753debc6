// Package redis implements storage.Repository on top of Redis so that
// several server instances can share sessions, users and the audit trail.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/jmcleod/terminguard/storage"
)

// DefaultKeyPrefix is used when Config.KeyPrefix is empty.
const DefaultKeyPrefix = "terminguard:"

// Config contains configuration options for the Redis repository.
type Config struct {
	// Client is the Redis client instance.
	Client *redis.Client
	// KeyPrefix is prepended to every key. Default: "terminguard:".
	KeyPrefix string
}

// Store implements storage.Repository. Each record is a JSON-encoded
// envelope under its own key; a set per (namespace, recordType) indexes the
// record IDs for List.
type Store struct {
	client    *redis.Client
	keyPrefix string
}

var _ storage.Repository = (*Store)(nil)

// New creates a Redis-backed repository.
func New(cfg Config) (*Store, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	return &Store{client: cfg.Client, keyPrefix: cfg.KeyPrefix}, nil
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) recordKey(namespace, recordType, recordID string) string {
	return s.keyPrefix + namespace + ":" + recordType + ":" + recordID
}

func (s *Store) indexKey(namespace, recordType string) string {
	return s.keyPrefix + namespace + ":" + recordType + ":__index"
}

func (s *Store) Put(ctx context.Context, namespace, recordType, recordID string, envelope *storage.Envelope) error {
	data, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.recordKey(namespace, recordType, recordID), data, 0)
		pipe.SAdd(ctx, s.indexKey(namespace, recordType), recordID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis put %s/%s: %w", recordType, recordID, err)
	}
	return nil
}

// Replace uses SET XX so a record removed by another instance is not
// recreated.
func (s *Store) Replace(ctx context.Context, namespace, recordType, recordID string, envelope *storage.Envelope) error {
	data, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	ok, err := s.client.SetXX(ctx, s.recordKey(namespace, recordType, recordID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("redis replace %s/%s: %w", recordType, recordID, err)
	}
	if !ok {
		return fmt.Errorf("%s/%s: %w", recordType, recordID, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, namespace, recordType, recordID string) (*storage.Envelope, error) {
	data, err := s.client.Get(ctx, s.recordKey(namespace, recordType, recordID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%s/%s: %w", recordType, recordID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s/%s: %w", recordType, recordID, err)
	}
	var env storage.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decoding envelope %s/%s: %w", recordType, recordID, err)
	}
	return &env, nil
}

func (s *Store) List(ctx context.Context, namespace, recordType string) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey(namespace, recordType)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list %s: %w", recordType, err)
	}
	return ids, nil
}

func (s *Store) Delete(ctx context.Context, namespace, recordType, recordID string) error {
	var del *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, s.recordKey(namespace, recordType, recordID))
		pipe.SRem(ctx, s.indexKey(namespace, recordType), recordID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete %s/%s: %w", recordType, recordID, err)
	}
	if del.Val() == 0 {
		return fmt.Errorf("%s/%s: %w", recordType, recordID, storage.ErrNotFound)
	}
	return nil
}
