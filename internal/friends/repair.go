package friends

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jason-s-yu/socialgraph/internal/models"
	"github.com/sirupsen/logrus"
)

// RepairAction classifies a mutation performed by RepairPair.
type RepairAction string

const (
	ActionCompleteFriend  RepairAction = "complete_friend"
	ActionDropFriend      RepairAction = "drop_friend"
	ActionStripRequest    RepairAction = "strip_request"
	ActionCompleteRequest RepairAction = "complete_request"
	ActionDropRequest     RepairAction = "drop_request"
	ActionPruneDangling   RepairAction = "prune_dangling"
)

// RepairStep is one mutation performed while repairing a pair.
type RepairStep struct {
	Action   RepairAction
	Mutation Mutation
}

// RepairReport lists what RepairPair changed. An empty report means the pair
// was already consistent.
type RepairReport struct {
	A     uuid.UUID
	B     uuid.UUID
	Steps []RepairStep
}

// Changed reports whether any mutation was performed.
func (r *RepairReport) Changed() bool { return len(r.Steps) > 0 }

// PairConsistent reports whether two documents agree on every edge between
// them: friend and request entries are mirrored, a friend edge carries no
// request entries, and requests are not pending in both directions. A
// document is never consistent with itself if it lists itself anywhere.
func PairConsistent(a, b *models.User) bool {
	if a.ID == b.ID {
		for _, f := range models.RelationFields {
			if a.Has(f, a.ID) {
				return false
			}
		}
		return true
	}
	fa, fb := a.Has(models.FieldMyFriends, b.ID), b.Has(models.FieldMyFriends, a.ID)
	if fa != fb {
		return false
	}
	sentAB, recvAB := a.Has(models.FieldSentRequests, b.ID), b.Has(models.FieldFriendRequests, a.ID)
	sentBA, recvBA := b.Has(models.FieldSentRequests, a.ID), a.Has(models.FieldFriendRequests, b.ID)
	if sentAB != recvAB || sentBA != recvBA {
		return false
	}
	if fa && (sentAB || sentBA) {
		return false
	}
	return !(sentAB && sentBA)
}

// RepairPair re-reads both documents under the pair lock and symmetrizes the
// edge between them.
//
// hint is the operation that was interrupted, with a as its requester, or
// empty when the pair was found by a scan. The rules are:
//   - a friend entry on one side is completed when the hint is a confirm, or
//     when there is no hint and request entries between the pair remain;
//     otherwise it is dropped
//   - a request entry on one side is completed when the hint is a send in
//     the same direction; otherwise it is dropped
//   - friends carry no request entries
//   - of two requests pending in opposite directions, the one sent by the
//     lower UID is kept
//
// A missing document causes all references to it on the other document to be
// pruned.
func (e *Engine) RepairPair(ctx context.Context, a, b uuid.UUID, hint Op) (*RepairReport, error) {
	if a == b {
		return nil, fmt.Errorf("%w: repair %s", ErrSelfReference, a)
	}

	unlock, err := e.locker.Lock(ctx, a, b)
	if err != nil {
		return nil, fmt.Errorf("%w: acquire pair lock: %w", ErrStoreUnavailable, err)
	}
	defer unlock()

	ua, err := e.findOptional(ctx, a)
	if err != nil {
		return nil, err
	}
	ub, err := e.findOptional(ctx, b)
	if err != nil {
		return nil, err
	}

	report := &RepairReport{A: a, B: b}
	var steps []RepairStep
	switch {
	case ua == nil && ub == nil:
		return report, nil
	case ua == nil:
		steps = pruneSteps(ub, a)
	case ub == nil:
		steps = pruneSteps(ua, b)
	default:
		steps = planRepair(ua, ub, hint)
	}

	for _, st := range steps {
		if err := st.Mutation.apply(ctx, e.store); err != nil {
			return report, storeErr(err, "repair %s", st.Mutation)
		}
		repairsTotal.WithLabelValues(string(st.Action)).Inc()
		report.Steps = append(report.Steps, st)
	}

	if report.Changed() {
		e.log.WithFields(logrus.Fields{
			"a":     a,
			"b":     b,
			"hint":  hint,
			"steps": len(report.Steps),
		}).Info("repaired pair")
	}
	return report, nil
}

// PruneDangling removes every reference on id's document to users in missing.
func (e *Engine) PruneDangling(ctx context.Context, id uuid.UUID, missing []uuid.UUID) (*RepairReport, error) {
	u, err := e.findUser(ctx, id)
	if err != nil {
		return nil, err
	}
	report := &RepairReport{A: id}
	for _, gone := range missing {
		for _, st := range pruneSteps(u, gone) {
			if err := st.Mutation.apply(ctx, e.store); err != nil {
				return report, storeErr(err, "prune %s", st.Mutation)
			}
			repairsTotal.WithLabelValues(string(st.Action)).Inc()
			report.Steps = append(report.Steps, st)
		}
	}
	return report, nil
}

func (e *Engine) findOptional(ctx context.Context, id uuid.UUID) (*models.User, error) {
	u, err := e.store.FindUser(ctx, id)
	if errors.Is(err, ErrUserNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr(err, "find user %s", id)
	}
	return u, nil
}

func pruneSteps(u *models.User, gone uuid.UUID) []RepairStep {
	var steps []RepairStep
	for _, f := range models.RelationFields {
		if u.Has(f, gone) {
			steps = append(steps, RepairStep{ActionPruneDangling, removeFrom(u.ID, f, gone)})
		}
	}
	return steps
}

// pairView is a mutable snapshot of the edge between two documents.
type pairView struct {
	a, b *models.User
	// friend[x] reports whether x's document lists the other as a friend.
	friend map[uuid.UUID]bool
	// sent[x] and recv[x] describe the request from x to the other user:
	// sent on x's document, received on the other's.
	sent map[uuid.UUID]bool
	recv map[uuid.UUID]bool
}

func newPairView(a, b *models.User) *pairView {
	return &pairView{
		a: a,
		b: b,
		friend: map[uuid.UUID]bool{
			a.ID: a.Has(models.FieldMyFriends, b.ID),
			b.ID: b.Has(models.FieldMyFriends, a.ID),
		},
		sent: map[uuid.UUID]bool{
			a.ID: a.Has(models.FieldSentRequests, b.ID),
			b.ID: b.Has(models.FieldSentRequests, a.ID),
		},
		recv: map[uuid.UUID]bool{
			a.ID: b.Has(models.FieldFriendRequests, a.ID),
			b.ID: a.Has(models.FieldFriendRequests, b.ID),
		},
	}
}

func (p *pairView) other(x uuid.UUID) uuid.UUID {
	if x == p.a.ID {
		return p.b.ID
	}
	return p.a.ID
}

func (p *pairView) residue() bool {
	return p.sent[p.a.ID] || p.recv[p.a.ID] || p.sent[p.b.ID] || p.recv[p.b.ID]
}

func planRepair(a, b *models.User, hint Op) []RepairStep {
	p := newPairView(a, b)
	var steps []RepairStep

	friends := p.friend[a.ID] && p.friend[b.ID]
	if p.friend[a.ID] != p.friend[b.ID] {
		if hint == OpConfirm || (hint == "" && p.residue()) {
			for _, x := range []uuid.UUID{a.ID, b.ID} {
				if !p.friend[x] {
					steps = append(steps, RepairStep{ActionCompleteFriend, addTo(x, models.FieldMyFriends, p.other(x))})
				}
			}
			friends = true
		} else {
			for _, x := range []uuid.UUID{a.ID, b.ID} {
				if p.friend[x] {
					steps = append(steps, RepairStep{ActionDropFriend, removeFrom(x, models.FieldMyFriends, p.other(x))})
				}
			}
		}
	}

	if friends {
		for _, x := range []uuid.UUID{a.ID, b.ID} {
			steps = append(steps, dropRequest(p, x, ActionStripRequest)...)
		}
		return steps
	}

	pending := map[uuid.UUID]bool{}
	for _, x := range []uuid.UUID{a.ID, b.ID} {
		switch {
		case p.sent[x] && p.recv[x]:
			pending[x] = true
		case p.sent[x] || p.recv[x]:
			if hint == OpSendRequest && x == a.ID {
				steps = append(steps, completeRequest(p, x)...)
				pending[x] = true
			} else {
				steps = append(steps, dropRequest(p, x, ActionDropRequest)...)
			}
		}
	}

	if pending[a.ID] && pending[b.ID] {
		loser := a.ID
		if a.ID.String() < b.ID.String() {
			loser = b.ID
		}
		p.sent[loser], p.recv[loser] = true, true
		steps = append(steps, dropRequest(p, loser, ActionDropRequest)...)
	}
	return steps
}

// dropRequest removes whichever entries of the request from x exist.
func dropRequest(p *pairView, x uuid.UUID, action RepairAction) []RepairStep {
	y := p.other(x)
	var steps []RepairStep
	if p.sent[x] {
		steps = append(steps, RepairStep{action, removeFrom(x, models.FieldSentRequests, y)})
	}
	if p.recv[x] {
		steps = append(steps, RepairStep{action, removeFrom(y, models.FieldFriendRequests, x)})
	}
	return steps
}

// completeRequest adds whichever entry of the request from x is missing.
func completeRequest(p *pairView, x uuid.UUID) []RepairStep {
	y := p.other(x)
	var steps []RepairStep
	if !p.recv[x] {
		steps = append(steps, RepairStep{ActionCompleteRequest, addTo(y, models.FieldFriendRequests, x)})
	}
	if !p.sent[x] {
		steps = append(steps, RepairStep{ActionCompleteRequest, addTo(x, models.FieldSentRequests, y)})
	}
	return steps
}
