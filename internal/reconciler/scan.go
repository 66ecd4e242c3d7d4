package reconciler

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/jason-s-yu/socialgraph/internal/friends"
	"github.com/jason-s-yu/socialgraph/internal/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ScanSummary counts what one scan found and fixed.
type ScanSummary struct {
	Users        int
	Inconsistent int
	Dangling     int
	SelfRefs     int
	Repaired     int
	Failed       int
}

// Fields renders the summary for logging.
func (s ScanSummary) Fields() logrus.Fields {
	return logrus.Fields{
		"users":        s.Users,
		"inconsistent": s.Inconsistent,
		"dangling":     s.Dangling,
		"self_refs":    s.SelfRefs,
		"repaired":     s.Repaired,
		"failed":       s.Failed,
	}
}

func (s ScanSummary) String() string {
	return fmt.Sprintf("users=%d inconsistent=%d dangling=%d self_refs=%d repaired=%d failed=%d",
		s.Users, s.Inconsistent, s.Dangling, s.SelfRefs, s.Repaired, s.Failed)
}

type pair struct{ a, b uuid.UUID }

// scanPlan is what one pass over the user snapshot found.
type scanPlan struct {
	sum   ScanSummary
	pairs []pair
	// prune maps a user to ids its document must drop: users that no longer
	// exist, and the user itself.
	prune map[uuid.UUID][]uuid.UUID
}

func (s *Service) plan(ctx context.Context) (*scanPlan, error) {
	users, err := s.engine.Store().ListAllUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	index := make(map[uuid.UUID]*models.User, len(users))
	for i := range users {
		index[users[i].ID] = &users[i]
	}

	p := &scanPlan{prune: make(map[uuid.UUID][]uuid.UUID)}
	p.sum.Users = len(users)
	seen := make(map[string]bool)
	dangling := make(map[uuid.UUID]bool)

	for i := range users {
		u := &users[i]
		for _, other := range u.Counterparts() {
			if other == u.ID {
				p.prune[u.ID] = append(p.prune[u.ID], other)
				p.sum.SelfRefs++
				continue
			}
			peer, ok := index[other]
			if !ok {
				p.prune[u.ID] = append(p.prune[u.ID], other)
				dangling[u.ID] = true
				continue
			}
			key := friends.PairKey(u.ID, other)
			if seen[key] {
				continue
			}
			seen[key] = true
			if !friends.PairConsistent(u, peer) {
				p.pairs = append(p.pairs, pair{u.ID, other})
			}
		}
	}
	p.sum.Inconsistent = len(p.pairs)
	p.sum.Dangling = len(dangling)
	return p, nil
}

// Detect reads every user once and reports what Scan would repair, without
// writing anything.
func (s *Service) Detect(ctx context.Context) (ScanSummary, error) {
	p, err := s.plan(ctx)
	if err != nil {
		return ScanSummary{}, err
	}
	return p.sum, nil
}

// Scan reads every user once, finds pairs whose documents disagree,
// references to users that no longer exist and self references, and repairs
// them. Each pair is re-read under its lock by RepairPair, so a stale
// snapshot only costs a no-op repair.
func (s *Service) Scan(ctx context.Context) (ScanSummary, error) {
	p, err := s.plan(ctx)
	if err != nil {
		return ScanSummary{}, err
	}
	sum := p.sum
	var repaired, failed int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	for _, pr := range p.pairs {
		g.Go(func() error {
			report, err := s.engine.RepairPair(gctx, pr.a, pr.b, "")
			if err != nil {
				atomic.AddInt64(&failed, 1)
				s.log.WithFields(logrus.Fields{"a": pr.a, "b": pr.b}).WithError(err).Warn("pair repair failed")
				return nil
			}
			if report.Changed() {
				atomic.AddInt64(&repaired, 1)
			}
			return nil
		})
	}
	for id, ids := range p.prune {
		g.Go(func() error {
			report, err := s.engine.PruneDangling(gctx, id, ids)
			if err != nil {
				atomic.AddInt64(&failed, 1)
				s.log.WithField("user", id).WithError(err).Warn("prune failed")
				return nil
			}
			if report.Changed() {
				atomic.AddInt64(&repaired, 1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return sum, err
	}

	sum.Repaired = int(repaired)
	sum.Failed = int(failed)
	return sum, ctx.Err()
}
