package friends_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jason-s-yu/socialgraph/internal/friends"
	"github.com/jason-s-yu/socialgraph/internal/memstore"
	"github.com/jason-s-yu/socialgraph/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type edge struct {
	user  int
	field models.RelationField
	other int
}

func seed(t *testing.T, s *memstore.Store, ids []uuid.UUID, edges ...edge) {
	t.Helper()
	for _, e := range edges {
		require.NoError(t, s.AddToSet(context.Background(), ids[e.user], e.field, ids[e.other]))
	}
}

func requirePairConsistent(t *testing.T, s *memstore.Store, a, b uuid.UUID) {
	t.Helper()
	ua, err := s.FindUser(context.Background(), a)
	require.NoError(t, err)
	ub, err := s.FindUser(context.Background(), b)
	require.NoError(t, err)
	require.True(t, friends.PairConsistent(ua, ub), "pair %s/%s is not consistent", a, b)
}

func TestRepairPair(t *testing.T) {
	const (
		mf = models.FieldMyFriends
		fr = models.FieldFriendRequests
		sr = models.FieldSentRequests
	)

	cases := []struct {
		name        string
		edges       []edge
		hint        friends.Op
		wantFriends bool
		// wantRequest is the index of the user whose request survives, or -1.
		wantRequest int
	}{
		{
			name:        "confirm interrupted after first write",
			edges:       []edge{{0, mf, 1}, {0, fr, 1}, {1, sr, 0}},
			hint:        friends.OpConfirm,
			wantFriends: true,
			wantRequest: -1,
		},
		{
			name:        "confirm interrupted, found by scan",
			edges:       []edge{{0, mf, 1}, {0, fr, 1}, {1, sr, 0}},
			wantFriends: true,
			wantRequest: -1,
		},
		{
			name:        "confirm interrupted before last removal",
			edges:       []edge{{0, mf, 1}, {1, mf, 0}, {1, sr, 0}},
			hint:        friends.OpConfirm,
			wantFriends: true,
			wantRequest: -1,
		},
		{
			name:        "unfriend interrupted",
			edges:       []edge{{1, mf, 0}},
			hint:        friends.OpUnfriend,
			wantRequest: -1,
		},
		{
			name:        "one-sided friend without residue, found by scan",
			edges:       []edge{{1, mf, 0}},
			wantRequest: -1,
		},
		{
			name:        "send interrupted",
			edges:       []edge{{1, fr, 0}},
			hint:        friends.OpSendRequest,
			wantRequest: 0,
		},
		{
			name:        "one-sided request, found by scan",
			edges:       []edge{{1, fr, 0}},
			wantRequest: -1,
		},
		{
			name:        "send hint in the other direction does not complete",
			edges:       []edge{{0, fr, 1}},
			hint:        friends.OpSendRequest,
			wantRequest: -1,
		},
		{
			name:        "cancel received interrupted",
			edges:       []edge{{1, sr, 0}},
			hint:        friends.OpCancelReceived,
			wantRequest: -1,
		},
		{
			name:        "cancel sent interrupted",
			edges:       []edge{{1, fr, 0}},
			hint:        friends.OpCancelSent,
			wantRequest: -1,
		},
		{
			name:        "friends with a stale request",
			edges:       []edge{{0, mf, 1}, {1, mf, 0}, {0, sr, 1}, {1, fr, 0}},
			wantFriends: true,
			wantRequest: -1,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			e, s, ids := newTestEngine(t, 2)
			seed(t, s, ids, tc.edges...)

			report, err := e.RepairPair(ctx, ids[0], ids[1], tc.hint)
			require.NoError(t, err)
			assert.True(t, report.Changed())
			requirePairConsistent(t, s, ids[0], ids[1])

			a, b := sets(t, s, ids[0]), sets(t, s, ids[1])
			if tc.wantFriends {
				assert.Equal(t, []uuid.UUID{ids[1]}, a[mf])
				assert.Equal(t, []uuid.UUID{ids[0]}, b[mf])
			} else {
				assert.Empty(t, a[mf])
				assert.Empty(t, b[mf])
			}

			switch tc.wantRequest {
			case -1:
				assert.Empty(t, a[sr])
				assert.Empty(t, b[fr])
				assert.Empty(t, b[sr])
				assert.Empty(t, a[fr])
			case 0:
				assert.Equal(t, []uuid.UUID{ids[1]}, a[sr])
				assert.Equal(t, []uuid.UUID{ids[0]}, b[fr])
			}

			again, err := e.RepairPair(ctx, ids[0], ids[1], tc.hint)
			require.NoError(t, err)
			assert.False(t, again.Changed(), "repair must converge in one pass")
		})
	}
}

func TestRepairPairCrossedRequestsKeepsLowerSender(t *testing.T) {
	ctx := context.Background()
	e, s, ids := newTestEngine(t, 2)
	seed(t, s, ids,
		edge{0, models.FieldSentRequests, 1}, edge{1, models.FieldFriendRequests, 0},
		edge{1, models.FieldSentRequests, 0}, edge{0, models.FieldFriendRequests, 1},
	)

	_, err := e.RepairPair(ctx, ids[0], ids[1], "")
	require.NoError(t, err)
	requirePairConsistent(t, s, ids[0], ids[1])

	low, high := ids[0], ids[1]
	if high.String() < low.String() {
		low, high = high, low
	}
	assert.Equal(t, []uuid.UUID{high}, s.Snapshot(low)[models.FieldSentRequests])
	assert.Equal(t, []uuid.UUID{low}, s.Snapshot(high)[models.FieldFriendRequests])
	assert.Empty(t, s.Snapshot(high)[models.FieldSentRequests])
}

func TestRepairPairConsistentIsNoop(t *testing.T) {
	ctx := context.Background()
	e, _, ids := newTestEngine(t, 3)

	require.NoError(t, e.SendRequest(ctx, ids[0], ids[1]))
	require.NoError(t, e.SendRequest(ctx, ids[0], ids[2]))
	require.NoError(t, e.Confirm(ctx, ids[2], ids[0]))

	for _, other := range ids[1:] {
		report, err := e.RepairPair(ctx, ids[0], other, "")
		require.NoError(t, err)
		assert.False(t, report.Changed())
	}
}

func TestRepairPairMissingDocument(t *testing.T) {
	ctx := context.Background()
	e, s, ids := newTestEngine(t, 2)
	seed(t, s, ids, edge{0, models.FieldMyFriends, 1}, edge{0, models.FieldSentRequests, 1})
	require.NoError(t, s.DeleteUser(ctx, ids[1]))

	report, err := e.RepairPair(ctx, ids[0], ids[1], friends.OpConfirm)
	require.NoError(t, err)
	require.Len(t, report.Steps, 2)
	for _, st := range report.Steps {
		assert.Equal(t, friends.ActionPruneDangling, st.Action)
	}
	assertSets(t, s, ids[0], nil, nil, nil)
}

func TestRepairPairRejectsSelf(t *testing.T) {
	e, _, ids := newTestEngine(t, 1)
	_, err := e.RepairPair(context.Background(), ids[0], ids[0], "")
	assert.ErrorIs(t, err, friends.ErrSelfReference)
}

func TestPruneDangling(t *testing.T) {
	ctx := context.Background()
	e, s, ids := newTestEngine(t, 3)
	ghost := uuid.New()
	require.NoError(t, s.AddToSet(ctx, ids[0], models.FieldFriendRequests, ghost))
	require.NoError(t, s.AddToSet(ctx, ids[0], models.FieldMyFriends, ghost))
	seed(t, s, ids, edge{0, models.FieldMyFriends, 1}, edge{1, models.FieldMyFriends, 0})

	report, err := e.PruneDangling(ctx, ids[0], []uuid.UUID{ghost})
	require.NoError(t, err)
	assert.Len(t, report.Steps, 2)
	assertSets(t, s, ids[0], []uuid.UUID{ids[1]}, nil, nil)
}

func TestSelfEntriesAreInconsistentAndPrunable(t *testing.T) {
	ctx := context.Background()
	e, s, ids := newTestEngine(t, 2)
	me := ids[0]

	u, err := s.FindUser(ctx, me)
	require.NoError(t, err)
	assert.True(t, friends.PairConsistent(u, u))

	seed(t, s, ids, edge{0, models.FieldMyFriends, 0}, edge{0, models.FieldMyFriends, 1}, edge{1, models.FieldMyFriends, 0})
	u, err = s.FindUser(ctx, me)
	require.NoError(t, err)
	assert.False(t, friends.PairConsistent(u, u))

	report, err := e.PruneDangling(ctx, me, []uuid.UUID{me})
	require.NoError(t, err)
	assert.Len(t, report.Steps, 1)
	assertSets(t, s, me, []uuid.UUID{ids[1]}, nil, nil)
}

func TestPartialApplyThenRepairConverges(t *testing.T) {
	ctx := context.Background()

	for failOn := int32(2); failOn <= 4; failOn++ {
		store := &faultStore{Store: memstore.New()}
		a, b := &models.User{Username: "a"}, &models.User{Username: "b"}
		require.NoError(t, store.CreateUser(ctx, a))
		require.NoError(t, store.CreateUser(ctx, b))

		rep := &recordingReporter{}
		e := friends.NewEngine(store, friends.WithReporter(rep), friends.WithLogger(quietLogger()))
		require.NoError(t, e.SendRequest(ctx, b.ID, a.ID))

		store.writes, store.failOn = 0, failOn
		require.ErrorIs(t, e.Confirm(ctx, a.ID, b.ID), friends.ErrPartialApply)
		store.failOn = 0

		require.Len(t, rep.records, 1)
		rec := rep.records[0]
		_, err := e.RepairPair(ctx, rec.Requester, rec.Target, rec.Op)
		require.NoError(t, err)
		requirePairConsistent(t, store.Store, a.ID, b.ID)

		st, err := e.Status(ctx, a.ID, b.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusFriends, st, "fail on %d", failOn)
	}
}
