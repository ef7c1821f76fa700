package presence

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	userKeyPrefix = "presence:user:"
	onlineSetKey  = "presence:online"
)

// Registry records who is online across instances.
type Registry interface {
	MarkOnline(ctx context.Context, userID string) error
	MarkOffline(ctx context.Context, userID string) error
	Online(ctx context.Context) ([]string, error)
	IsOnline(ctx context.Context, userID string) (bool, error)
}

// RedisRegistry keeps one expiring key per user plus a set for listing.
// Keys of users whose instance died expire after ttl and are pruned from
// the set on the next listing.
type RedisRegistry struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisRegistry(rdb *redis.Client, ttl time.Duration) *RedisRegistry {
	return &RedisRegistry{rdb: rdb, ttl: ttl}
}

func (r *RedisRegistry) MarkOnline(ctx context.Context, userID string) error {
	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, userKeyPrefix+userID, time.Now().UTC().Format(time.RFC3339), r.ttl)
		p.SAdd(ctx, onlineSetKey, userID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("mark online: %w", err)
	}
	return nil
}

func (r *RedisRegistry) MarkOffline(ctx context.Context, userID string) error {
	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, userKeyPrefix+userID)
		p.SRem(ctx, onlineSetKey, userID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("mark offline: %w", err)
	}
	return nil
}

func (r *RedisRegistry) Online(ctx context.Context) ([]string, error) {
	members, err := r.rdb.SMembers(ctx, onlineSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list online: %w", err)
	}
	if len(members) == 0 {
		return []string{}, nil
	}

	cmds := make([]*redis.IntCmd, len(members))
	_, err = r.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range members {
			cmds[i] = p.Exists(ctx, userKeyPrefix+id)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list online: %w", err)
	}

	online := make([]string, 0, len(members))
	var stale []any
	for i, id := range members {
		if cmds[i].Val() > 0 {
			online = append(online, id)
		} else {
			stale = append(stale, id)
		}
	}
	if len(stale) > 0 {
		r.rdb.SRem(ctx, onlineSetKey, stale...)
	}
	slices.Sort(online)
	return online, nil
}

func (r *RedisRegistry) IsOnline(ctx context.Context, userID string) (bool, error) {
	n, err := r.rdb.Exists(ctx, userKeyPrefix+userID).Result()
	if err != nil {
		return false, fmt.Errorf("is online: %w", err)
	}
	return n > 0, nil
}

// MemoryRegistry is the single-instance registry.
type MemoryRegistry struct {
	mu     sync.RWMutex
	online map[string]struct{}
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{online: make(map[string]struct{})}
}

func (m *MemoryRegistry) MarkOnline(_ context.Context, userID string) error {
	m.mu.Lock()
	m.online[userID] = struct{}{}
	m.mu.Unlock()
	return nil
}

func (m *MemoryRegistry) MarkOffline(_ context.Context, userID string) error {
	m.mu.Lock()
	delete(m.online, userID)
	m.mu.Unlock()
	return nil
}

func (m *MemoryRegistry) Online(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.online))
	for id := range m.online {
		out = append(out, id)
	}
	slices.Sort(out)
	return out, nil
}

func (m *MemoryRegistry) IsOnline(_ context.Context, userID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.online[userID]
	return ok, nil
}
