package auth

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/patrickmn/go-cache"
)

// RevocationStore remembers logged-out token ids until they expire.
type RevocationStore interface {
	Revoke(ctx context.Context, tokenID string, until time.Time) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
	Close() error
}

// MemoryRevocations keeps revocations in process memory.
type MemoryRevocations struct {
	cache *cache.Cache
}

func NewMemoryRevocations() *MemoryRevocations {
	return &MemoryRevocations{cache: cache.New(cache.NoExpiration, 10*time.Minute)}
}

func (m *MemoryRevocations) Revoke(_ context.Context, tokenID string, until time.Time) error {
	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}
	m.cache.Set(tokenID, struct{}{}, ttl)
	return nil
}

func (m *MemoryRevocations) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	_, found := m.cache.Get(tokenID)
	return found, nil
}

func (m *MemoryRevocations) Close() error {
	m.cache.Flush()
	return nil
}

const redisRevocationPrefix = "dermascan:revoked:"

// RedisRevocations shares revocations between instances through redis.
type RedisRevocations struct {
	client *redis.Client
}

// NewRedisRevocations wraps an existing client.
func NewRedisRevocations(client *redis.Client) *RedisRevocations {
	return &RedisRevocations{client: client}
}

// DialRedisRevocations connects and pings the server.
func DialRedisRevocations(ctx context.Context, addr, password string, db int) (*RedisRevocations, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return NewRedisRevocations(client), nil
}

func (r *RedisRevocations) Revoke(ctx context.Context, tokenID string, until time.Time) error {
	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}
	return r.client.Set(ctx, redisRevocationPrefix+tokenID, 1, ttl).Err()
}

func (r *RedisRevocations) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := r.client.Exists(ctx, redisRevocationPrefix+tokenID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *RedisRevocations) Close() error {
	return r.client.Close()
}
