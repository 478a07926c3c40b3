package proof

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// MemoryRevocationList keeps revoked key ids in process memory.
type MemoryRevocationList struct {
	mu      sync.RWMutex
	revoked map[string]struct{}
}

func NewMemoryRevocationList() *MemoryRevocationList {
	return &MemoryRevocationList{revoked: make(map[string]struct{})}
}

func (l *MemoryRevocationList) Revoke(_ context.Context, keyID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.revoked[keyID] = struct{}{}
	return nil
}

func (l *MemoryRevocationList) IsRevoked(_ context.Context, keyID string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.revoked[keyID]
	return ok, nil
}

const revokedKeysSet = "mediaguard:proof:revoked_keys"

// RedisRevocationList shares revoked key ids across replicas in a Redis set.
type RedisRevocationList struct {
	client *redis.Client
	key    string
}

func NewRedisRevocationList(client *redis.Client) *RedisRevocationList {
	return &RedisRevocationList{client: client, key: revokedKeysSet}
}

func (l *RedisRevocationList) Revoke(ctx context.Context, keyID string) error {
	if err := l.client.SAdd(ctx, l.key, keyID).Err(); err != nil {
		return fmt.Errorf("revoke verification key: %w", err)
	}
	return nil
}

func (l *RedisRevocationList) IsRevoked(ctx context.Context, keyID string) (bool, error) {
	ok, err := l.client.SIsMember(ctx, l.key, keyID).Result()
	if err != nil {
		return false, fmt.Errorf("check verification key: %w", err)
	}
	return ok, nil
}
