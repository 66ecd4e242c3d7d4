// internal/friends/engine.go
package friends

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/socialgraph/internal/models"
	"github.com/sirupsen/logrus"
)

// reportTimeout bounds the outbox write after a partial apply. The caller's
// context may already be canceled at that point.
const reportTimeout = 5 * time.Second

// Engine implements the friend relationship state machine on top of a Store.
// It holds no relationship state of its own between calls.
type Engine struct {
	store    Store
	locker   PairLocker
	reporter Reporter
	log      logrus.FieldLogger

	strict          bool
	suggestWarnSize int
}

// Option configures an Engine.
type Option func(*Engine)

// WithPairLocker replaces the default in-process locker.
func WithPairLocker(l PairLocker) Option {
	return func(e *Engine) { e.locker = l }
}

// WithReporter sets where partial applies are reported.
func WithReporter(r Reporter) Option {
	return func(e *Engine) { e.reporter = r }
}

// WithLogger sets the engine's logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(e *Engine) { e.log = l }
}

// WithStrictRequests makes SendRequest reject requests between users who are
// already friends.
func WithStrictRequests(strict bool) Option {
	return func(e *Engine) { e.strict = strict }
}

// WithSuggestionWarnSize logs a warning whenever SuggestConnections has to
// scan more than n users (0 disables the warning).
func WithSuggestionWarnSize(n int) Option {
	return func(e *Engine) { e.suggestWarnSize = n }
}

// NewEngine builds an engine over the given store.
func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		locker:   NewLocalPairLocker(),
		reporter: nopReporter{},
		log:      logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store returns the underlying user store.
func (e *Engine) Store() Store { return e.store }

// SendRequest records a friend request from requester to target.
//
// Returns ErrDuplicateRequest without mutating anything if the requester has
// already asked the target, or if the target has a request pending towards
// the requester.
func (e *Engine) SendRequest(ctx context.Context, requester, target uuid.UUID) error {
	return e.run(ctx, OpSendRequest, requester, target, func() error {
		a, b, err := e.loadPair(ctx, requester, target)
		if err != nil {
			return err
		}
		if b.Has(models.FieldFriendRequests, requester) {
			return fmt.Errorf("%w: %s already asked %s", ErrDuplicateRequest, requester, target)
		}
		if a.Has(models.FieldFriendRequests, target) {
			return fmt.Errorf("%w: %s has a pending request to %s", ErrDuplicateRequest, target, requester)
		}
		if e.strict && a.Has(models.FieldMyFriends, target) {
			return fmt.Errorf("%w: %s and %s", ErrAlreadyFriends, requester, target)
		}
		return e.apply(ctx, OpSendRequest, requester, target, a, b, []Mutation{
			addTo(target, models.FieldFriendRequests, requester),
			addTo(requester, models.FieldSentRequests, target),
		})
	})
}

// CancelReceived declines the request that target sent to requester.
// No-op if there is no such request.
func (e *Engine) CancelReceived(ctx context.Context, requester, target uuid.UUID) error {
	return e.run(ctx, OpCancelReceived, requester, target, func() error {
		a, b, err := e.loadPair(ctx, requester, target)
		if err != nil {
			return err
		}
		return e.apply(ctx, OpCancelReceived, requester, target, a, b, []Mutation{
			removeFrom(requester, models.FieldFriendRequests, target),
			removeFrom(target, models.FieldSentRequests, requester),
		})
	})
}

// CancelSent withdraws the request requester sent to target.
// No-op if there is no such request.
func (e *Engine) CancelSent(ctx context.Context, requester, target uuid.UUID) error {
	return e.run(ctx, OpCancelSent, requester, target, func() error {
		a, b, err := e.loadPair(ctx, requester, target)
		if err != nil {
			return err
		}
		return e.apply(ctx, OpCancelSent, requester, target, a, b, []Mutation{
			removeFrom(requester, models.FieldSentRequests, target),
			removeFrom(target, models.FieldFriendRequests, requester),
		})
	})
}

// Confirm accepts the pending request that target sent to requester.
//
// The friend entries are written before the request entries are removed, so
// every half-applied state still carries request residue and the reconciler
// can tell an interrupted confirm from an interrupted unfriend.
func (e *Engine) Confirm(ctx context.Context, requester, target uuid.UUID) error {
	return e.run(ctx, OpConfirm, requester, target, func() error {
		a, b, err := e.loadPair(ctx, requester, target)
		if err != nil {
			return err
		}
		if !a.Has(models.FieldFriendRequests, target) {
			return fmt.Errorf("%w: from %s to %s", ErrNoPendingRequest, target, requester)
		}
		return e.apply(ctx, OpConfirm, requester, target, a, b, []Mutation{
			addTo(requester, models.FieldMyFriends, target),
			addTo(target, models.FieldMyFriends, requester),
			removeFrom(requester, models.FieldFriendRequests, target),
			removeFrom(target, models.FieldSentRequests, requester),
		})
	})
}

// Unfriend removes the friend edge between requester and target.
// No-op if they are not friends.
func (e *Engine) Unfriend(ctx context.Context, requester, target uuid.UUID) error {
	return e.run(ctx, OpUnfriend, requester, target, func() error {
		a, b, err := e.loadPair(ctx, requester, target)
		if err != nil {
			return err
		}
		return e.apply(ctx, OpUnfriend, requester, target, a, b, []Mutation{
			removeFrom(requester, models.FieldMyFriends, target),
			removeFrom(target, models.FieldMyFriends, requester),
		})
	})
}

// RemoveUser deletes a user after removing it from the mirror set of every
// counterpart its document references. References held by documents it does
// not point back to are left for the reconciler's scan.
func (e *Engine) RemoveUser(ctx context.Context, id uuid.UUID) (err error) {
	start := time.Now()
	defer func() { observe(OpRemoveUser, err, start) }()

	u, err := e.findUser(ctx, id)
	if err != nil {
		return err
	}

	for _, other := range u.Counterparts() {
		if err := e.detach(ctx, u, other); err != nil {
			return err
		}
	}

	if err := e.store.DeleteUser(ctx, id); err != nil {
		return storeErr(err, "delete user %s", id)
	}
	e.log.WithField("user", id).Info("user removed")
	return nil
}

func (e *Engine) detach(ctx context.Context, u *models.User, other uuid.UUID) error {
	unlock, err := e.locker.Lock(ctx, u.ID, other)
	if err != nil {
		return fmt.Errorf("%w: acquire pair lock: %w", ErrStoreUnavailable, err)
	}
	defer unlock()

	for _, f := range models.RelationFields {
		if !u.Has(f, other) {
			continue
		}
		err := e.store.RemoveFromSet(ctx, other, f.Mirror(), u.ID)
		if errors.Is(err, ErrUserNotFound) {
			return nil
		}
		if err != nil {
			return storeErr(err, "detach %s from %s.%s", u.ID, other, f.Mirror())
		}
	}
	return nil
}

// run validates the pair, takes the pair lock, and records metrics.
func (e *Engine) run(ctx context.Context, op Op, requester, target uuid.UUID, fn func() error) (err error) {
	start := time.Now()
	defer func() { observe(op, err, start) }()

	if requester == target {
		return fmt.Errorf("%w: %s on %s", ErrSelfReference, op, requester)
	}

	unlock, err := e.locker.Lock(ctx, requester, target)
	if err != nil {
		return fmt.Errorf("%w: acquire pair lock: %w", ErrStoreUnavailable, err)
	}
	defer unlock()

	return fn()
}

func (e *Engine) findUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	u, err := e.store.FindUser(ctx, id)
	if err != nil {
		return nil, storeErr(err, "find user %s", id)
	}
	return u, nil
}

func (e *Engine) loadPair(ctx context.Context, a, b uuid.UUID) (*models.User, *models.User, error) {
	ua, err := e.findUser(ctx, a)
	if err != nil {
		return nil, nil, err
	}
	ub, err := e.findUser(ctx, b)
	if err != nil {
		return nil, nil, err
	}
	return ua, ub, nil
}

// apply runs the mutations in order, skipping those the loaded documents
// already satisfy. A failure after the first write is a partial apply.
func (e *Engine) apply(ctx context.Context, op Op, requester, target uuid.UUID, a, b *models.User, plan []Mutation) error {
	var applied []Mutation
	for _, m := range plan {
		doc := a
		if m.User == b.ID {
			doc = b
		}
		if !m.needed(doc) {
			continue
		}

		if err := m.apply(ctx, e.store); err != nil {
			if len(applied) == 0 {
				return storeErr(err, "%s", m)
			}
			perr := &PartialApplyError{
				Op:        op,
				Requester: requester,
				Target:    target,
				Applied:   applied,
				Failed:    m,
				Err:       err,
			}
			e.reportPartial(ctx, perr)
			return perr
		}
		applied = append(applied, m)
	}
	return nil
}

func (e *Engine) reportPartial(ctx context.Context, perr *PartialApplyError) {
	partialApplyTotal.WithLabelValues(string(perr.Op)).Inc()

	rec := perr.Record()
	rec.Timestamp = time.Now().UnixMilli()

	fields := logrus.Fields{
		"op":        perr.Op,
		"requester": perr.Requester,
		"target":    perr.Target,
		"applied":   rec.Applied,
		"failed":    rec.Failed,
	}
	e.log.WithFields(fields).WithError(perr.Err).Error("partial apply, pair needs reconciliation")

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reportTimeout)
	defer cancel()
	if err := e.reporter.ReportPartialApply(rctx, rec); err != nil {
		e.log.WithFields(fields).WithError(err).Error("failed to report partial apply")
	}
}
