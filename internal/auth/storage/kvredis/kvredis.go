// Package kvredis backs the ephemeral key-value contract with Redis.
//
// Challenges rely on GETDEL for single-use consumption: Redis executes it
// atomically, so two concurrent verifications of the same nonce cannot both
// observe the value.
package kvredis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/palaverhq/palaver/internal/platform/errors"
	"github.com/palaverhq/palaver/internal/auth/storage"
)

// Store implements storage.KV over a Redis client.
type Store struct {
	client *redis.Client
}

// Config holds Redis connection settings.
type Config struct {
	Addr     string `env:"PALAVER_REDIS_ADDR"`
	Username string `env:"PALAVER_REDIS_USERNAME"`
	Password string `env:"PALAVER_REDIS_PASSWORD"`
	DB       int    `env:"PALAVER_REDIS_DB" envDefault:"0"`
}

// Open connects to Redis and verifies the connection.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Store{client: client}, nil
}

// New wraps an existing Redis client.
func New(client *redis.Client) *Store {
	return &Store{client: client}
}

// Close releases the underlying client.
func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// Put stores value under key with ttl.
func (s *Store) Put(ctx context.Context, key string, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return apperrors.Wrap(apperrors.CodeStoreUnavailable, "redis set", err)
	}
	return nil
}

// Get returns the value for key or storage.ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	value, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", storage.ErrNotFound
		}
		return "", apperrors.Wrap(apperrors.CodeStoreUnavailable, "redis get", err)
	}
	return value, nil
}

// GetDel atomically consumes the value for key.
func (s *Store) GetDel(ctx context.Context, key string) (string, error) {
	value, err := s.client.GetDel(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", storage.ErrNotFound
		}
		return "", apperrors.Wrap(apperrors.CodeStoreUnavailable, "redis getdel", err)
	}
	return value, nil
}

// Delete removes key; absent keys are not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return apperrors.Wrap(apperrors.CodeStoreUnavailable, "redis del", err)
	}
	return nil
}
