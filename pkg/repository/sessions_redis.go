package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/tendant/simple-idm-login/pkg/domain"
)

// DefaultSessionKeyPrefix namespaces session keys in Redis.
const DefaultSessionKeyPrefix = "idm:sess:"

// RedisSessionStore keeps sessions as JSON values with a Redis TTL.
type RedisSessionStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisSessionStore creates a session store on client.
func NewRedisSessionStore(client redis.UniversalClient, prefix string) *RedisSessionStore {
	if prefix == "" {
		prefix = DefaultSessionKeyPrefix
	}
	return &RedisSessionStore{client: client, prefix: prefix}
}

func (s *RedisSessionStore) key(id string) string {
	return s.prefix + id
}

// Create stores data under a new session id.
func (s *RedisSessionStore) Create(ctx context.Context, data *domain.SessionData, ttl time.Duration) (string, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("encode session: %w", err)
	}

	id := uuid.NewString()
	ok, err := s.client.SetNX(ctx, s.key(id), payload, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("redis set session: %w", err)
	}
	if !ok {
		return "", fmt.Errorf("session id collision: %s", id)
	}
	return id, nil
}

// Read retrieves a session. Expired keys are gone, so they read as missing.
func (s *RedisSessionStore) Read(ctx context.Context, id string) (*domain.SessionData, error) {
	payload, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get session: %w", err)
	}

	data := &domain.SessionData{}
	if err := json.Unmarshal(payload, data); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return data, nil
}

// Write replaces an existing session and resets its TTL.
func (s *RedisSessionStore) Write(ctx context.Context, id string, data *domain.SessionData, ttl time.Duration) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	ok, err := s.client.SetXX(ctx, s.key(id), payload, ttl).Result()
	if err != nil {
		return fmt.Errorf("redis set session: %w", err)
	}
	if !ok {
		return domain.ErrSessionNotFound
	}
	return nil
}

// Destroy deletes a session.
func (s *RedisSessionStore) Destroy(ctx context.Context, id string) error {
	n, err := s.client.Del(ctx, s.key(id)).Result()
	if err != nil {
		return fmt.Errorf("redis delete session: %w", err)
	}
	if n == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

// Ping checks the Redis connection.
func (s *RedisSessionStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
