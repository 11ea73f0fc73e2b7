package mailer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// AttemptTracker counts failed deliveries per message across requeues. A
// requeued AMQP message cannot carry a modified header, so the count lives
// beside the queue.
type AttemptTracker interface {
	// Incr records one more failure for key and returns the new total.
	Incr(ctx context.Context, key string) (int, error)
	// Clear forgets key.
	Clear(ctx context.Context, key string) error
}

const attemptKeyPrefix = "txmon:email:attempts:"

// RedisAttempts keeps counters in Redis so they survive worker restarts and
// are shared between worker replicas. Counters expire after ttl.
type RedisAttempts struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisAttempts(rdb *redis.Client, ttl time.Duration) *RedisAttempts {
	return &RedisAttempts{rdb: rdb, ttl: ttl}
}

func (r *RedisAttempts) Incr(ctx context.Context, key string) (int, error) {
	k := attemptKeyPrefix + key
	pipe := r.rdb.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("incr attempts %s: %w", key, err)
	}
	return int(incr.Val()), nil
}

func (r *RedisAttempts) Clear(ctx context.Context, key string) error {
	if err := r.rdb.Del(ctx, attemptKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("clear attempts %s: %w", key, err)
	}
	return nil
}

// MemoryAttempts is the single-process tracker used when Redis is not configured.
type MemoryAttempts struct {
	mu     sync.Mutex
	counts map[string]int
}

func NewMemoryAttempts() *MemoryAttempts {
	return &MemoryAttempts{counts: make(map[string]int)}
}

func (m *MemoryAttempts) Incr(_ context.Context, key string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[key]++
	return m.counts[key], nil
}

func (m *MemoryAttempts) Clear(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.counts, key)
	return nil
}
