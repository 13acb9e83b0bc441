package transform

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"attestor/pkg/sentinel"
)

// RedisVault persists token mappings in Redis so tokenized values survive
// process restarts and are shared across instances.
type RedisVault struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisVault wraps an existing client. A zero ttl keeps tokens forever.
func NewRedisVault(client *redis.Client, ttl time.Duration) *RedisVault {
	return &RedisVault{client: client, ttl: ttl}
}

func (v *RedisVault) Store(ctx context.Context, token, original string) error {
	if err := v.client.Set(ctx, vaultKey(token), original, v.ttl).Err(); err != nil {
		return fmt.Errorf("vault store: %w", err)
	}
	return nil
}

func (v *RedisVault) Lookup(ctx context.Context, token string) (string, error) {
	original, err := v.client.Get(ctx, vaultKey(token)).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("token %q: %w", token, sentinel.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("vault lookup: %w", err)
	}
	return original, nil
}

func vaultKey(token string) string {
	return "attestor:vault:" + token
}
