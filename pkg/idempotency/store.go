// Package idempotency guards consumers against duplicate delivery. Keys are
// logical (orderId + saga step) so a redelivered event is recognized even
// when it arrives with a different offset.
package idempotency

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type Guard interface {
	// Seen marks key and reports whether it had been marked before.
	Seen(ctx context.Context, key string) (bool, error)
}

// StepKey builds the logical dedup key for one saga step of one order.
func StepKey(orderID int64, step string) string {
	return fmt.Sprintf("idem:%d:%s", orderID, step)
}

// MessageKey builds a transport-level dedup key for a consumed message.
func MessageKey(topic string, partition int, offset int64) string {
	return fmt.Sprintf("idem:%s:%d:%d", topic, partition, offset)
}

// RedisStore is the shared guard used by the bus consumers.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func (s *RedisStore) Seen(ctx context.Context, key string) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, key, "1", s.ttl).Result()
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// Memory is the in-process guard used in tests and single-binary mode.
type Memory struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemory() *Memory {
	return &Memory{seen: make(map[string]struct{})}
}

func (m *Memory) Seen(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seen[key]; ok {
		return true, nil
	}
	m.seen[key] = struct{}{}
	return false, nil
}
