package faucetd

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ReservationStore holds short-lived per-address locks so two concurrent
// requests for the same target cannot both pass the history check.
type ReservationStore interface {
	// Reserve acquires key for ttl. It returns false when key is held.
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Retain extends a held key to expire ttl from now.
	Retain(ctx context.Context, key string, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}

// MemoryReservations keeps reservations in process.
type MemoryReservations struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

func NewMemoryReservations() *MemoryReservations {
	return &MemoryReservations{entries: make(map[string]time.Time), now: time.Now}
}

func (m *MemoryReservations) Reserve(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if expiry, ok := m.entries[key]; ok && now.Before(expiry) {
		return false, nil
	}
	m.entries[key] = now.Add(ttl)
	m.sweepLocked(now)
	return true, nil
}

func (m *MemoryReservations) Retain(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = m.now().Add(ttl)
	return nil
}

func (m *MemoryReservations) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// Len returns the number of unexpired reservations.
func (m *MemoryReservations) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked(m.now())
	return len(m.entries)
}

func (m *MemoryReservations) sweepLocked(now time.Time) {
	for key, expiry := range m.entries {
		if !now.Before(expiry) {
			delete(m.entries, key)
		}
	}
}

// RedisReservations shares reservations between replicas.
type RedisReservations struct {
	client *redis.Client
	prefix string
}

func NewRedisReservations(client *redis.Client, prefix string) *RedisReservations {
	if prefix == "" {
		prefix = "faucet:reservation:"
	}
	return &RedisReservations{client: client, prefix: prefix}
}

func (r *RedisReservations) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.prefix+key, time.Now().UTC().Format(time.RFC3339Nano), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis reserve: %w", err)
	}
	return ok, nil
}

func (r *RedisReservations) Retain(ctx context.Context, key string, ttl time.Duration) error {
	ok, err := r.client.PExpire(ctx, r.prefix+key, ttl).Result()
	if err != nil {
		return fmt.Errorf("redis retain: %w", err)
	}
	if !ok {
		if err := r.client.Set(ctx, r.prefix+key, time.Now().UTC().Format(time.RFC3339Nano), ttl).Err(); err != nil {
			return fmt.Errorf("redis retain: %w", err)
		}
	}
	return nil
}

func (r *RedisReservations) Release(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis release: %w", err)
	}
	return nil
}
