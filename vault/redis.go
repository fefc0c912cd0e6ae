package vault

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "playerauth:"

// Redis stores sealed records in Redis, for hosts without a usable per-user
// filesystem (dedicated game servers, containerized tooling). Records carry
// no TTL; credential lifetime is owned by the lifecycle layer.
type Redis struct {
	client *redis.Client
	sealer *sealer
}

// NewRedis creates a Redis-backed vault sealing records under master.
func NewRedis(client *redis.Client, master []byte) (*Redis, error) {
	s, err := newSealer(master)
	if err != nil {
		return nil, err
	}
	return &Redis{client: client, sealer: s}, nil
}

// Put seals and writes the record for key, replacing any previous value.
func (r *Redis) Put(ctx context.Context, key string, value []byte) error {
	sealed, err := r.sealer.seal(key, value)
	if err != nil {
		return fmt.Errorf("sealing record: %w", err)
	}
	if err := r.client.Set(ctx, redisKeyPrefix+key, sealed, 0).Err(); err != nil {
		return fmt.Errorf("writing record: %w", err)
	}
	return nil
}

// Get reads and opens the record for key.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	sealed, err := r.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading record: %w", err)
	}
	value, err := r.sealer.open(key, sealed)
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Delete removes the record for key. Deleting an absent key is not an error.
func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("deleting record: %w", err)
	}
	return nil
}

// CheckHealth verifies Redis connectivity.
func (r *Redis) CheckHealth(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}
