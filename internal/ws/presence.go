package ws

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Presence tracks which users hold at least one push peer. Join and Leave
// report whether the online set changed.
type Presence interface {
	Join(ctx context.Context, userID int64) (bool, error)
	Leave(ctx context.Context, userID int64) (bool, error)
	Online(ctx context.Context) ([]int64, error)
}

// MemoryPresence is the single-instance Presence.
type MemoryPresence struct {
	mu     sync.Mutex
	counts map[int64]int
}

func NewMemoryPresence() *MemoryPresence {
	return &MemoryPresence{counts: map[int64]int{}}
}

func (p *MemoryPresence) Join(_ context.Context, userID int64) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counts[userID]++
	return p.counts[userID] == 1, nil
}

func (p *MemoryPresence) Leave(_ context.Context, userID int64) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, ok := p.counts[userID]
	if !ok {
		return false, nil
	}
	if n <= 1 {
		delete(p.counts, userID)
		return true, nil
	}
	p.counts[userID] = n - 1
	return false, nil
}

func (p *MemoryPresence) Online(_ context.Context) ([]int64, error) {
	p.mu.Lock()
	ids := make([]int64, 0, len(p.counts))
	for id := range p.counts {
		ids = append(ids, id)
	}
	p.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

const presenceKey = "chat:presence"

// RedisPresence shares peer counts between API instances in a Redis hash.
type RedisPresence struct {
	client *redis.Client
	key    string
}

func NewRedisPresence(client *redis.Client) *RedisPresence {
	return &RedisPresence{client: client, key: presenceKey}
}

func (p *RedisPresence) Join(ctx context.Context, userID int64) (bool, error) {
	n, err := p.client.HIncrBy(ctx, p.key, strconv.FormatInt(userID, 10), 1).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (p *RedisPresence) Leave(ctx context.Context, userID int64) (bool, error) {
	field := strconv.FormatInt(userID, 10)
	n, err := p.client.HIncrBy(ctx, p.key, field, -1).Result()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}
	if err := p.client.HDel(ctx, p.key, field).Err(); err != nil {
		return true, err
	}
	return true, nil
}

func (p *RedisPresence) Online(ctx context.Context) ([]int64, error) {
	fields, err := p.client.HKeys(ctx, p.key).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(fields))
	for _, f := range fields {
		id, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
