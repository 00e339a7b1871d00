// Package redisstore implements metadata.Store on Redis.
//
// Each record is a JSON value under "<prefix><project>". Updates run inside
// WATCH/MULTI so a concurrent writer aborts the transaction, which surfaces
// as STALE_METADATA.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/pipevision/pipevision/pkg/errors"
	"github.com/pipevision/pipevision/pkg/metadata"
)

// DefaultPrefix namespaces metadata keys.
const DefaultPrefix = "pipevision:metadata:"

// Config configures the Redis connection.
type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Store is a Redis-backed metadata store.
type Store struct {
	client *redis.Client
	prefix string
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", cfg.Addr, err)
	}
	return NewWithClient(client, cfg.Prefix), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) key(projectID string) string {
	return s.prefix + projectID
}

// Get returns the stored record, or an empty one at version 0.
func (s *Store) Get(ctx context.Context, projectID string) (*metadata.Record, error) {
	return read(ctx, s.client, s.key(projectID), projectID)
}

// Update performs an optimistic compare-and-swap on the record version.
func (s *Store) Update(ctx context.Context, projectID string, expectedVersion int64, mutate func(*metadata.Record) error) (*metadata.Record, error) {
	key := s.key(projectID)
	var next *metadata.Record

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := read(ctx, tx, key, projectID)
		if err != nil {
			return err
		}
		next, err = metadata.Apply(projectID, current, expectedVersion, mutate)
		if err != nil {
			return err
		}
		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}, key)

	if err == redis.TxFailedErr {
		return nil, errors.Wrap(errors.ErrCodeStaleMetadata, err,
			"metadata for project %s changed during update", projectID)
	}
	if err != nil {
		return nil, err
	}
	return next, nil
}

// Close closes the Redis client.
func (s *Store) Close() error {
	return s.client.Close()
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func read(ctx context.Context, c getter, key, projectID string) (*metadata.Record, error) {
	data, err := c.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return metadata.New(projectID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	var r metadata.Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse metadata: %w", err)
	}
	r.ProjectID = projectID
	return &r, nil
}

var _ metadata.Store = (*Store)(nil)
