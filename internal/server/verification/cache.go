package verification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// challengeKeyPrefix namespaces challenge keys in redis.
const challengeKeyPrefix = "verify:v1:"

// Challenge cache errors
var (
	// ErrChallengeNotFound indicates an absent or expired challenge.
	// Terminal for the current attempt.
	ErrChallengeNotFound = errors.New("verification challenge not found or expired")

	// ErrCodeMismatch indicates the submitted code does not match the
	// live challenge. The challenge stays live until its TTL expires.
	ErrCodeMismatch = errors.New("verification code does not match")
)

// ChallengeCache stores at most one live verification challenge per phone.
type ChallengeCache interface {
	// Put stores a challenge, always overwriting any live one for the
	// phone (force semantics: a reissue invalidates the previous code).
	Put(ctx context.Context, phone, code string, ttl time.Duration) error

	// Get returns the live code for a phone.
	// Returns ErrChallengeNotFound if absent or expired.
	Get(ctx context.Context, phone string) (string, error)

	// Delete removes the challenge for a phone.
	Delete(ctx context.Context, phone string) error
}

// RedisCache implements ChallengeCache on a redis client; expiry is
// delegated to redis TTLs.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a challenge cache on an existing redis client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// NewRedisClient configures a redis client from a URL and verifies
// connectivity.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		return nil, fmt.Errorf("redis url is required")
	}

	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opt)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return client, nil
}

// Put stores the challenge with the given TTL, overwriting any live one.
func (c *RedisCache) Put(ctx context.Context, phone, code string, ttl time.Duration) error {
	if err := c.client.Set(ctx, challengeKeyPrefix+phone, code, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store challenge: %w", err)
	}
	return nil
}

// Get returns the live code for a phone.
func (c *RedisCache) Get(ctx context.Context, phone string) (string, error) {
	code, err := c.client.Get(ctx, challengeKeyPrefix+phone).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrChallengeNotFound
		}
		return "", fmt.Errorf("failed to read challenge: %w", err)
	}
	return code, nil
}

// Delete removes the challenge for a phone.
func (c *RedisCache) Delete(ctx context.Context, phone string) error {
	if err := c.client.Del(ctx, challengeKeyPrefix+phone).Err(); err != nil {
		return fmt.Errorf("failed to delete challenge: %w", err)
	}
	return nil
}
