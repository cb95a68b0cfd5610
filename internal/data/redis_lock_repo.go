package data

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const lockKeyPrefix = "transcoder:lock:"

// Lua scripts make release and extend conditional on still owning the lock.
// A plain DEL/EXPIRE could clobber a lock that expired and was re-acquired by
// another worker in the meantime.
var (
	releaseScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		end
		return 0
	`)
	extendScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		end
		return 0
	`)
)

// RedisLockRepo implements the cross-process lock service on Redis using
// SET NX with TTL and an owner token per acquisition.
//
// Tokens are held in process memory: a worker only ever releases or extends
// locks it acquired itself, so losing the map on crash is safe; the TTL
// reclaims the lock.
type RedisLockRepo struct {
	client redis.UniversalClient

	mu     sync.Mutex
	tokens map[string]string
}

// NewRedisLockRepo creates a new RedisLockRepo with the given Redis client.
func NewRedisLockRepo(client redis.UniversalClient) *RedisLockRepo {
	return &RedisLockRepo{
		client: client,
		tokens: make(map[string]string),
	}
}

func lockKey(key string) string {
	return lockKeyPrefix + key
}

// Acquire atomically takes the lock for key with the given TTL. It returns
// false when another owner holds the lock.
func (r *RedisLockRepo) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, errors.New("lock key cannot be empty")
	}
	if ttl <= 0 {
		ttl = time.Second
	}

	token := uuid.NewString()

	// SET with NX and TTL in one command; SETNX plus a separate EXPIRE would
	// leave an unexpiring lock if the process died in between.
	status, err := r.client.SetArgs(ctx, lockKey(key), token, redis.SetArgs{Mode: "NX", TTL: ttl}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil // key exists, NX condition not met
		}
		return false, fmt.Errorf("redis SET NX: %w", err)
	}
	if status != "OK" {
		return false, nil
	}

	r.mu.Lock()
	r.tokens[key] = token
	r.mu.Unlock()
	return true, nil
}

// Release drops the lock if this process still owns it.
func (r *RedisLockRepo) Release(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, errors.New("lock key cannot be empty")
	}

	r.mu.Lock()
	token, ok := r.tokens[key]
	delete(r.tokens, key)
	r.mu.Unlock()
	if !ok {
		return false, nil
	}

	released, err := releaseScript.Run(ctx, r.client, []string{lockKey(key)}, token).Int()
	if err != nil {
		return false, fmt.Errorf("redis release lock: %w", err)
	}
	return released > 0, nil
}

// Extend refreshes the TTL of a lock this process still owns. It returns
// false when the lock expired or was taken over, in which case the local
// token is forgotten.
func (r *RedisLockRepo) Extend(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, errors.New("lock key cannot be empty")
	}
	if ttl <= 0 {
		ttl = time.Second
	}

	r.mu.Lock()
	token, ok := r.tokens[key]
	r.mu.Unlock()
	if !ok {
		return false, nil
	}

	extended, err := extendScript.Run(ctx, r.client, []string{lockKey(key)}, token, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("redis extend lock: %w", err)
	}
	if extended == 0 {
		r.mu.Lock()
		delete(r.tokens, key)
		r.mu.Unlock()
		return false, nil
	}
	return true, nil
}

// Exists reports whether any worker currently holds the lock.
func (r *RedisLockRepo) Exists(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, errors.New("lock key cannot be empty")
	}

	count, err := r.client.Exists(ctx, lockKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return count > 0, nil
}

// Health checks the health of the Redis connection.
func (r *RedisLockRepo) Health(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
