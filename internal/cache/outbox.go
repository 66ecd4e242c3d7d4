package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jason-s-yu/socialgraph/internal/friends"
	"github.com/redis/go-redis/v9"
)

// DefaultQueueName is the Redis list partial-apply records are pushed to.
const DefaultQueueName = "socialgraph_partial_apply"

// Outbox is a Redis list of partial-apply records. The engine pushes to it
// and the reconciler pops from it.
type Outbox struct {
	rdb   *redis.Client
	queue string
}

var _ friends.Reporter = (*Outbox)(nil)

// NewOutbox returns an outbox on the given list.
func NewOutbox(rdb *redis.Client, queue string) *Outbox {
	if queue == "" {
		queue = DefaultQueueName
	}
	return &Outbox{rdb: rdb, queue: queue}
}

// ReportPartialApply serializes the record and pushes it to the tail of the list.
func (o *Outbox) ReportPartialApply(ctx context.Context, rec friends.Record) error {
	return o.Push(ctx, rec)
}

// Push appends a record to the list.
func (o *Outbox) Push(ctx context.Context, rec friends.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal partial apply record: %w", err)
	}
	if err := o.rdb.RPush(ctx, o.queue, data).Err(); err != nil {
		return fmt.Errorf("failed to RPush to Redis list '%s': %w", o.queue, err)
	}
	return nil
}

// Pop blocks up to timeout for the next record. It returns nil, nil when the
// list stayed empty.
func (o *Outbox) Pop(ctx context.Context, timeout time.Duration) (*friends.Record, error) {
	res, err := o.rdb.BLPop(ctx, timeout, o.queue).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("BLPop %s: %w", o.queue, err)
	}
	if len(res) < 2 {
		return nil, nil
	}

	// res[0] is the list name, res[1] the payload
	var rec friends.Record
	if err := json.Unmarshal([]byte(res[1]), &rec); err != nil {
		return nil, fmt.Errorf("%w: %w", friends.ErrInvalidRecord, err)
	}
	return &rec, nil
}

// Len returns the number of queued records.
func (o *Outbox) Len(ctx context.Context) (int64, error) {
	return o.rdb.LLen(ctx, o.queue).Result()
}
