package friends

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// PairLocker serializes operations on one pair of users. The lock is keyed by
// the unordered pair, so (a, b) and (b, a) contend on the same lock.
type PairLocker interface {
	Lock(ctx context.Context, a, b uuid.UUID) (unlock func(), err error)
}

// PairKey returns the canonical key of the unordered pair.
func PairKey(a, b uuid.UUID) string {
	as, bs := a.String(), b.String()
	if as > bs {
		as, bs = bs, as
	}
	return as + ":" + bs
}

// LocalPairLocker is an in-process PairLocker. It is enough for a single
// instance; multiple instances need a distributed locker.
type LocalPairLocker struct {
	mu    sync.Mutex
	locks map[string]*pairLock
}

type pairLock struct {
	ch   chan struct{}
	refs int
}

// NewLocalPairLocker returns an empty in-process locker.
func NewLocalPairLocker() *LocalPairLocker {
	return &LocalPairLocker{locks: make(map[string]*pairLock)}
}

// Lock blocks until the pair is free or ctx is done.
func (l *LocalPairLocker) Lock(ctx context.Context, a, b uuid.UUID) (func(), error) {
	key := PairKey(a, b)

	l.mu.Lock()
	pl, ok := l.locks[key]
	if !ok {
		pl = &pairLock{ch: make(chan struct{}, 1)}
		l.locks[key] = pl
	}
	pl.refs++
	l.mu.Unlock()

	select {
	case pl.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, pl)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-pl.ch
			l.release(key, pl)
		})
	}, nil
}

func (l *LocalPairLocker) release(key string, pl *pairLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pl.refs--
	if pl.refs == 0 {
		delete(l.locks, key)
	}
}

// held returns the number of pairs currently tracked; used by tests.
func (l *LocalPairLocker) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
