// Package lock provides per-key mutual exclusion with expiry.
//
// Locks are mutexes, not queues: Acquire never waits, it reports whether the
// caller now holds the key. Expiry bounds how long a crashed holder can keep
// others out.
package lock

import (
	"context"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
)

// Redis implements the lock with SET NX EX on a Redis server.
type Redis struct {
	client redis.UniversalClient
}

// NewRedis wraps an existing client.
func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

// Acquire sets key if absent with the given expiry.
func (r *Redis) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, ulid.Make().String(), ttl).Result()
	if err != nil {
		return false, goerr.Wrap(err, "failed to acquire lock", goerr.V("key", key))
	}
	return ok, nil
}

// Release deletes key unconditionally.
func (r *Redis) Release(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return goerr.Wrap(err, "failed to release lock", goerr.V("key", key))
	}
	return nil
}

// Local is an in-process lock for single-instance deployments.
type Local struct {
	mu    sync.Mutex
	held  map[string]time.Time
	clock func() time.Time
}

// NewLocal returns an empty in-process lock table.
func NewLocal() *Local {
	return &Local{held: map[string]time.Time{}, clock: time.Now}
}

// Acquire takes key unless it is held and not yet expired.
func (l *Local) Acquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if exp, ok := l.held[key]; ok && now.Before(exp) {
		return false, nil
	}
	l.held[key] = now.Add(ttl)
	return true, nil
}

// Release drops key.
func (l *Local) Release(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
	return nil
}

// NewRedisClient parses a redis:// URL and verifies the connection.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to parse Redis URL")
	}
	opts.PoolSize = 10
	opts.MinIdleConns = 2
	opts.MaxRetries = 3
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, goerr.Wrap(err, "failed to connect to Redis", goerr.V("addr", opts.Addr))
	}
	return client, nil
}
