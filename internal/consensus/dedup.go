package consensus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"mediaguard/pkg/domain"
)

// Deduplicator reports whether an event id is seen for the first time.
// Validator instances sharing one deduplicator open one session per event.
type Deduplicator interface {
	FirstSeen(ctx context.Context, eventID domain.EventID) (bool, error)
}

// MemoryDeduplicator remembers event ids for ttl.
type MemoryDeduplicator struct {
	mu   sync.Mutex
	seen map[domain.EventID]time.Time
	ttl  time.Duration
	now  func() time.Time
}

func NewMemoryDeduplicator(ttl time.Duration) *MemoryDeduplicator {
	return &MemoryDeduplicator{seen: make(map[domain.EventID]time.Time), ttl: ttl, now: time.Now}
}

func (d *MemoryDeduplicator) FirstSeen(ctx context.Context, eventID domain.EventID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	if at, ok := d.seen[eventID]; ok && (d.ttl <= 0 || now.Sub(at) < d.ttl) {
		return false, nil
	}
	d.seen[eventID] = now
	if len(d.seen) > 4096 && d.ttl > 0 {
		for id, at := range d.seen {
			if now.Sub(at) >= d.ttl {
				delete(d.seen, id)
			}
		}
	}
	return true, nil
}

const dedupKeyPrefix = "mediaguard:consensus:event:"

// RedisDeduplicator claims event ids with SET NX so that only one instance
// across a deployment sees an event first.
type RedisDeduplicator struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDeduplicator(client *redis.Client, ttl time.Duration) *RedisDeduplicator {
	return &RedisDeduplicator{client: client, ttl: ttl}
}

func (d *RedisDeduplicator) FirstSeen(ctx context.Context, eventID domain.EventID) (bool, error) {
	ok, err := d.client.SetNX(ctx, dedupKeyPrefix+eventID.String(), 1, d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim event id: %w", err)
	}
	return ok, nil
}
