package repository

import (
	"context"
	"fmt"
	"time"

	pkgredis "github.com/feupam/feupam-checkout/pkg/redis"
	"github.com/feupam/feupam-checkout/pkg/telemetry"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
)

// RedisSessionStore keeps sessions in Redis under checkout:<uid>:<key>
type RedisSessionStore struct {
	client *pkgredis.Client
	ttl    time.Duration
}

// NewRedisSessionStore creates a new RedisSessionStore
func NewRedisSessionStore(client *pkgredis.Client, ttl time.Duration) *RedisSessionStore {
	return &RedisSessionStore{client: client, ttl: ttl}
}

func sessionKey(userID, key string) string {
	return fmt.Sprintf("checkout:%s:%s", userID, key)
}

// Get implements SessionStore
func (s *RedisSessionStore) Get(ctx context.Context, userID, key string) (string, bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.session.get")
	defer span.End()
	span.SetAttributes(attribute.String("key", key))

	value, found, err := s.client.GetString(ctx, sessionKey(userID, key))
	if err != nil {
		telemetry.RecordError(span, err)
		return "", false, err
	}
	return value, found, nil
}

// Set implements SessionStore. All keys are written in one MULTI/EXEC.
func (s *RedisSessionStore) Set(ctx context.Context, userID string, values map[string]string) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.session.set")
	defer span.End()
	span.SetAttributes(attribute.Int("keys", len(values)))

	err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for k, v := range values {
			pipe.Set(ctx, sessionKey(userID, k), v, s.ttl)
		}
		return nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("failed to write session: %w", err)
	}
	return nil
}

// Clear implements SessionStore
func (s *RedisSessionStore) Clear(ctx context.Context, userID string, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.session.clear")
	defer span.End()

	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = sessionKey(userID, k)
	}
	if err := s.client.Del(ctx, full...); err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	return nil
}
