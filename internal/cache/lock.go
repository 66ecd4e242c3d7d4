package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/socialgraph/internal/friends"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	lockRetryMin = 5 * time.Millisecond
	lockRetryMax = 200 * time.Millisecond
)

// unlockScript deletes the lock only if it still holds our token, so an
// expired lock taken over by another holder is left alone.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// refreshScript extends the lock's expiry only while it still holds our token.
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// PairLocker is a friends.PairLocker shared by every instance using the same
// Redis. A held lock is refreshed every ttl/3, so ttl only bounds how long a
// crashed holder blocks the pair, not how long an operation may take.
type PairLocker struct {
	rdb *redis.Client
	ttl time.Duration
}

var _ friends.PairLocker = (*PairLocker)(nil)

// NewPairLocker returns a Redis pair locker.
func NewPairLocker(rdb *redis.Client, ttl time.Duration) *PairLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &PairLocker{rdb: rdb, ttl: ttl}
}

func lockKey(a, b uuid.UUID) string {
	return "pairlock:" + friends.PairKey(a, b)
}

// Lock retries SET NX with backoff until it wins or ctx is done.
func (l *PairLocker) Lock(ctx context.Context, a, b uuid.UUID) (func(), error) {
	key := lockKey(a, b)
	token := uuid.NewString()

	wait := lockRetryMin
	for {
		ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("acquire %s: %w", key, err)
		}
		if ok {
			break
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
		if wait *= 2; wait > lockRetryMax {
			wait = lockRetryMax
		}
	}

	stop, done := make(chan struct{}), make(chan struct{})
	go l.keepAlive(key, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done

			uctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := unlockScript.Run(uctx, l.rdb, []string{key}, token).Err(); err != nil {
				logrus.WithField("key", key).WithError(err).Warn("failed to release pair lock")
			}
		})
	}, nil
}

// keepAlive pushes the lock's expiry forward until stop is closed or the lock
// turns out to belong to someone else.
func (l *PairLocker) keepAlive(key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	every := max(l.ttl/3, time.Millisecond)
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), every)
		n, err := refreshScript.Run(ctx, l.rdb, []string{key}, token, l.ttl.Milliseconds()).Int64()
		cancel()
		if err != nil {
			logrus.WithField("key", key).WithError(err).Warn("failed to refresh pair lock")
			continue
		}
		if n == 0 {
			logrus.WithField("key", key).Warn("pair lock lost before release")
			return
		}
	}
}
