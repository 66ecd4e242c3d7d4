package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultPresenceTTL is how long a heartbeat keeps a user online.
const DefaultPresenceTTL = 4 * time.Second

// Presence tracks online users as expiring Redis keys. A user is online while
// its key exists; each heartbeat resets the TTL.
type Presence struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewPresence returns a tracker whose heartbeats last ttl.
func NewPresence(rdb *redis.Client, ttl time.Duration) *Presence {
	if ttl <= 0 {
		ttl = DefaultPresenceTTL
	}
	return &Presence{rdb: rdb, ttl: ttl}
}

func presenceKey(id uuid.UUID) string {
	return "presence:" + id.String()
}

// MarkOnline records a heartbeat for id.
func (p *Presence) MarkOnline(ctx context.Context, id uuid.UUID) error {
	if err := p.rdb.Set(ctx, presenceKey(id), time.Now().UnixMilli(), p.ttl).Err(); err != nil {
		return fmt.Errorf("mark %s online: %w", id, err)
	}
	return nil
}

// OnlineSet reports which of ids currently have a live heartbeat.
func (p *Presence) OnlineSet(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]bool, error) {
	out := make(map[uuid.UUID]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = presenceKey(id)
	}
	vals, err := p.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("read presence: %w", err)
	}
	for i, v := range vals {
		out[ids[i]] = v != nil
	}
	return out, nil
}
