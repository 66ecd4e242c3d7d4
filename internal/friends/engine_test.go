package friends_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/jason-s-yu/socialgraph/internal/friends"
	"github.com/jason-s-yu/socialgraph/internal/memstore"
	"github.com/jason-s-yu/socialgraph/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errInjected = errors.New("injected store failure")

// faultStore fails the n-th write (1-based) and passes everything else through.
type faultStore struct {
	*memstore.Store
	failOn int32
	writes int32
}

func (f *faultStore) fail() error {
	n := atomic.AddInt32(&f.writes, 1)
	if n == atomic.LoadInt32(&f.failOn) {
		return errInjected
	}
	return nil
}

func (f *faultStore) AddToSet(ctx context.Context, id uuid.UUID, field models.RelationField, value uuid.UUID) error {
	if err := f.fail(); err != nil {
		return err
	}
	return f.Store.AddToSet(ctx, id, field, value)
}

func (f *faultStore) RemoveFromSet(ctx context.Context, id uuid.UUID, field models.RelationField, value uuid.UUID) error {
	if err := f.fail(); err != nil {
		return err
	}
	return f.Store.RemoveFromSet(ctx, id, field, value)
}

// recordingReporter collects outbox records.
type recordingReporter struct {
	mu      sync.Mutex
	records []friends.Record
}

func (r *recordingReporter) ReportPartialApply(_ context.Context, rec friends.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func newTestEngine(t *testing.T, n int, opts ...friends.Option) (*friends.Engine, *memstore.Store, []uuid.UUID) {
	t.Helper()
	store := memstore.New()
	ids := make([]uuid.UUID, n)
	for i := range ids {
		u := &models.User{Username: uuid.NewString()[:8]}
		require.NoError(t, store.CreateUser(context.Background(), u))
		ids[i] = u.ID
	}
	opts = append([]friends.Option{friends.WithLogger(quietLogger())}, opts...)
	return friends.NewEngine(store, opts...), store, ids
}

func sets(t *testing.T, s *memstore.Store, id uuid.UUID) map[models.RelationField][]uuid.UUID {
	t.Helper()
	snap := s.Snapshot(id)
	require.NotNil(t, snap, "user %s missing", id)
	return snap
}

func assertSets(t *testing.T, s *memstore.Store, id uuid.UUID, friendsOf, requests, sent []uuid.UUID) {
	t.Helper()
	snap := sets(t, s, id)
	assert.ElementsMatch(t, friendsOf, snap[models.FieldMyFriends], "myFriends of %s", id)
	assert.ElementsMatch(t, requests, snap[models.FieldFriendRequests], "friendRequests of %s", id)
	assert.ElementsMatch(t, sent, snap[models.FieldSentRequests], "sentRequests of %s", id)
}

func TestFriendLifecycle(t *testing.T) {
	ctx := context.Background()
	e, s, ids := newTestEngine(t, 2)
	u1, u2 := ids[0], ids[1]

	require.NoError(t, e.SendRequest(ctx, u1, u2))
	assertSets(t, s, u1, nil, nil, []uuid.UUID{u2})
	assertSets(t, s, u2, nil, []uuid.UUID{u1}, nil)

	require.NoError(t, e.Confirm(ctx, u2, u1))
	assertSets(t, s, u1, []uuid.UUID{u2}, nil, nil)
	assertSets(t, s, u2, []uuid.UUID{u1}, nil, nil)

	require.NoError(t, e.Unfriend(ctx, u1, u2))
	assertSets(t, s, u1, nil, nil, nil)
	assertSets(t, s, u2, nil, nil, nil)
}

func TestSendRequestTwiceIsDuplicate(t *testing.T) {
	ctx := context.Background()
	e, s, ids := newTestEngine(t, 2)
	u1, u2 := ids[0], ids[1]

	require.NoError(t, e.SendRequest(ctx, u1, u2))
	before1, before2 := sets(t, s, u1), sets(t, s, u2)

	err := e.SendRequest(ctx, u1, u2)
	require.ErrorIs(t, err, friends.ErrDuplicateRequest)
	assert.Equal(t, before1, sets(t, s, u1))
	assert.Equal(t, before2, sets(t, s, u2))
}

func TestSendRequestAgainstReversePending(t *testing.T) {
	ctx := context.Background()
	e, s, ids := newTestEngine(t, 2)
	u1, u2 := ids[0], ids[1]

	require.NoError(t, e.SendRequest(ctx, u1, u2))
	err := e.SendRequest(ctx, u2, u1)
	require.ErrorIs(t, err, friends.ErrDuplicateRequest)

	assertSets(t, s, u1, nil, nil, []uuid.UUID{u2})
	assertSets(t, s, u2, nil, []uuid.UUID{u1}, nil)
}

func TestCancelSentRoundTrip(t *testing.T) {
	ctx := context.Background()
	e, s, ids := newTestEngine(t, 3)
	u1, u2, u3 := ids[0], ids[1], ids[2]

	// unrelated edges must survive the round trip
	require.NoError(t, e.SendRequest(ctx, u3, u1))
	require.NoError(t, e.SendRequest(ctx, u2, u3))

	before1, before2 := sets(t, s, u1), sets(t, s, u2)
	require.NoError(t, e.SendRequest(ctx, u1, u2))
	require.NoError(t, e.CancelSent(ctx, u1, u2))
	assert.Equal(t, before1, sets(t, s, u1))
	assert.Equal(t, before2, sets(t, s, u2))
}

func TestCancelReceived(t *testing.T) {
	ctx := context.Background()
	e, s, ids := newTestEngine(t, 2)
	u1, u2 := ids[0], ids[1]

	require.NoError(t, e.SendRequest(ctx, u1, u2))
	require.NoError(t, e.CancelReceived(ctx, u2, u1))
	assertSets(t, s, u1, nil, nil, nil)
	assertSets(t, s, u2, nil, nil, nil)

	// no edge left: still a no-op success
	require.NoError(t, e.CancelReceived(ctx, u2, u1))
	require.NoError(t, e.CancelSent(ctx, u1, u2))
}

func TestConfirmWithoutRequest(t *testing.T) {
	ctx := context.Background()
	e, s, ids := newTestEngine(t, 2)
	u1, u2 := ids[0], ids[1]

	err := e.Confirm(ctx, u1, u2)
	require.ErrorIs(t, err, friends.ErrNoPendingRequest)
	assertSets(t, s, u1, nil, nil, nil)
	assertSets(t, s, u2, nil, nil, nil)

	// the sender cannot confirm its own request
	require.NoError(t, e.SendRequest(ctx, u1, u2))
	require.ErrorIs(t, e.Confirm(ctx, u1, u2), friends.ErrNoPendingRequest)
	assertSets(t, s, u1, nil, nil, []uuid.UUID{u2})
}

func TestUnfriendIsIdempotent(t *testing.T) {
	ctx := context.Background()
	e, s, ids := newTestEngine(t, 2)
	u1, u2 := ids[0], ids[1]

	require.NoError(t, e.Unfriend(ctx, u1, u2))
	assertSets(t, s, u1, nil, nil, nil)
	assertSets(t, s, u2, nil, nil, nil)

	require.NoError(t, e.SendRequest(ctx, u1, u2))
	require.NoError(t, e.Confirm(ctx, u2, u1))
	require.NoError(t, e.Unfriend(ctx, u2, u1))
	require.NoError(t, e.Unfriend(ctx, u2, u1))
	assertSets(t, s, u1, nil, nil, nil)
	assertSets(t, s, u2, nil, nil, nil)
}

func TestValidation(t *testing.T) {
	ctx := context.Background()
	e, _, ids := newTestEngine(t, 1)
	u1 := ids[0]
	ghost := uuid.New()

	ops := map[string]func(a, b uuid.UUID) error{
		"send":            func(a, b uuid.UUID) error { return e.SendRequest(ctx, a, b) },
		"cancel_received": func(a, b uuid.UUID) error { return e.CancelReceived(ctx, a, b) },
		"cancel_sent":     func(a, b uuid.UUID) error { return e.CancelSent(ctx, a, b) },
		"confirm":         func(a, b uuid.UUID) error { return e.Confirm(ctx, a, b) },
		"unfriend":        func(a, b uuid.UUID) error { return e.Unfriend(ctx, a, b) },
	}
	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, op(u1, u1), friends.ErrSelfReference)
			assert.ErrorIs(t, op(u1, ghost), friends.ErrUserNotFound)
			assert.ErrorIs(t, op(ghost, u1), friends.ErrUserNotFound)
		})
	}
}

func TestStrictRequests(t *testing.T) {
	ctx := context.Background()

	t.Run("default allows request to friend", func(t *testing.T) {
		e, s, ids := newTestEngine(t, 2)
		u1, u2 := ids[0], ids[1]
		require.NoError(t, e.SendRequest(ctx, u1, u2))
		require.NoError(t, e.Confirm(ctx, u2, u1))
		require.NoError(t, e.SendRequest(ctx, u1, u2))
		assertSets(t, s, u1, []uuid.UUID{u2}, nil, []uuid.UUID{u2})
	})

	t.Run("strict rejects", func(t *testing.T) {
		e, s, ids := newTestEngine(t, 2, friends.WithStrictRequests(true))
		u1, u2 := ids[0], ids[1]
		require.NoError(t, e.SendRequest(ctx, u1, u2))
		require.NoError(t, e.Confirm(ctx, u2, u1))
		require.ErrorIs(t, e.SendRequest(ctx, u1, u2), friends.ErrAlreadyFriends)
		assertSets(t, s, u1, []uuid.UUID{u2}, nil, nil)
	})
}

func TestSuggestConnections(t *testing.T) {
	ctx := context.Background()
	e, _, ids := newTestEngine(t, 6)
	me, friend, incoming, outgoing := ids[0], ids[1], ids[2], ids[3]

	require.NoError(t, e.SendRequest(ctx, me, friend))
	require.NoError(t, e.Confirm(ctx, friend, me))
	require.NoError(t, e.SendRequest(ctx, incoming, me))
	require.NoError(t, e.SendRequest(ctx, me, outgoing))

	got, err := e.SuggestConnections(ctx, me)
	require.NoError(t, err)

	var gotIDs []uuid.UUID
	for _, u := range got {
		gotIDs = append(gotIDs, u.ID)
		assert.Empty(t, u.Password)
	}
	assert.ElementsMatch(t, []uuid.UUID{ids[4], ids[5]}, gotIDs)

	_, err = e.SuggestConnections(ctx, uuid.New())
	assert.ErrorIs(t, err, friends.ErrUserNotFound)
}

// TestSuggestionsExcludeRelated drives a fixed sequence of operations and
// checks the exclusion property after every step.
func TestSuggestionsExcludeRelated(t *testing.T) {
	ctx := context.Background()
	e, s, ids := newTestEngine(t, 5)

	steps := []func() error{
		func() error { return e.SendRequest(ctx, ids[0], ids[1]) },
		func() error { return e.SendRequest(ctx, ids[2], ids[0]) },
		func() error { return e.Confirm(ctx, ids[1], ids[0]) },
		func() error { return e.SendRequest(ctx, ids[3], ids[1]) },
		func() error { return e.CancelReceived(ctx, ids[0], ids[2]) },
		func() error { return e.SendRequest(ctx, ids[0], ids[4]) },
		func() error { return e.Unfriend(ctx, ids[0], ids[1]) },
		func() error { return e.Confirm(ctx, ids[1], ids[3]) },
	}
	for i, step := range steps {
		require.NoError(t, step(), "step %d", i)
		for _, id := range ids {
			got, err := e.SuggestConnections(ctx, id)
			require.NoError(t, err)
			snap := sets(t, s, id)
			for _, u := range got {
				assert.NotEqual(t, id, u.ID)
				for _, f := range models.RelationFields {
					assert.NotContains(t, snap[f], u.ID, "step %d: %s suggested to %s while in %s", i, u.ID, id, f)
				}
			}
		}
	}
}

func TestFriendListsAndStatus(t *testing.T) {
	ctx := context.Background()
	e, _, ids := newTestEngine(t, 4)
	me := ids[0]

	require.NoError(t, e.SendRequest(ctx, me, ids[1]))
	require.NoError(t, e.Confirm(ctx, ids[1], me))
	require.NoError(t, e.SendRequest(ctx, ids[2], me))
	require.NoError(t, e.SendRequest(ctx, me, ids[3]))

	friendList, err := e.Friends(ctx, me)
	require.NoError(t, err)
	require.Len(t, friendList, 1)
	assert.Equal(t, ids[1], friendList[0].ID)

	requests, err := e.Requests(ctx, me)
	require.NoError(t, err)
	require.Len(t, requests, 1)
	assert.Equal(t, ids[2], requests[0].ID)

	sent, err := e.SentRequests(ctx, me)
	require.NoError(t, err)
	require.Len(t, sent, 1)
	assert.Equal(t, ids[3], sent[0].ID)

	cases := map[uuid.UUID]models.FriendStatus{
		ids[1]:     models.StatusFriends,
		ids[2]:     models.StatusRequestReceived,
		ids[3]:     models.StatusRequestSent,
		uuid.New(): models.StatusNone,
	}
	for other, want := range cases {
		got, err := e.Status(ctx, me, other)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestRemoveUser(t *testing.T) {
	ctx := context.Background()
	e, s, ids := newTestEngine(t, 4)
	gone := ids[0]

	require.NoError(t, e.SendRequest(ctx, gone, ids[1]))
	require.NoError(t, e.Confirm(ctx, ids[1], gone))
	require.NoError(t, e.SendRequest(ctx, ids[2], gone))
	require.NoError(t, e.SendRequest(ctx, gone, ids[3]))

	require.NoError(t, e.RemoveUser(ctx, gone))

	for _, id := range ids[1:] {
		assertSets(t, s, id, nil, nil, nil)
	}
	_, err := s.FindUser(ctx, gone)
	assert.ErrorIs(t, err, friends.ErrUserNotFound)
}

func TestConcurrentCrossingRequests(t *testing.T) {
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		e, s, ids := newTestEngine(t, 2)
		u1, u2 := ids[0], ids[1]

		var wg sync.WaitGroup
		errs := make([]error, 2)
		wg.Add(2)
		go func() { defer wg.Done(); errs[0] = e.SendRequest(ctx, u1, u2) }()
		go func() { defer wg.Done(); errs[1] = e.SendRequest(ctx, u2, u1) }()
		wg.Wait()

		var ok, dup int
		for _, err := range errs {
			switch {
			case err == nil:
				ok++
			case errors.Is(err, friends.ErrDuplicateRequest):
				dup++
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		require.Equal(t, 1, ok)
		require.Equal(t, 1, dup)

		a, b := sets(t, s, u1), sets(t, s, u2)
		pendingAB := len(a[models.FieldSentRequests]) == 1 && len(b[models.FieldFriendRequests]) == 1
		pendingBA := len(b[models.FieldSentRequests]) == 1 && len(a[models.FieldFriendRequests]) == 1
		require.True(t, pendingAB != pendingBA, "exactly one direction must be pending")
	}
}

func TestConcurrentDistinctPairs(t *testing.T) {
	ctx := context.Background()
	e, s, ids := newTestEngine(t, 21)
	hub := ids[0]

	var wg sync.WaitGroup
	for _, id := range ids[1:] {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			assert.NoError(t, e.SendRequest(ctx, id, hub))
			assert.NoError(t, e.Confirm(ctx, hub, id))
		}(id)
	}
	wg.Wait()

	assertSets(t, s, hub, ids[1:], nil, nil)
}

func TestPartialApply(t *testing.T) {
	ctx := context.Background()

	type setup func(e *friends.Engine, a, b uuid.UUID)
	none := func(*friends.Engine, uuid.UUID, uuid.UUID) {}
	pending := func(e *friends.Engine, a, b uuid.UUID) { require.NoError(t, e.SendRequest(ctx, b, a)) }
	befriended := func(e *friends.Engine, a, b uuid.UUID) {
		require.NoError(t, e.SendRequest(ctx, a, b))
		require.NoError(t, e.Confirm(ctx, b, a))
	}

	cases := []struct {
		name   string
		op     friends.Op
		writes int
		setup  setup
		run    func(e *friends.Engine, a, b uuid.UUID) error
	}{
		{"send", friends.OpSendRequest, 2, none, func(e *friends.Engine, a, b uuid.UUID) error { return e.SendRequest(ctx, a, b) }},
		{"confirm", friends.OpConfirm, 4, pending, func(e *friends.Engine, a, b uuid.UUID) error { return e.Confirm(ctx, a, b) }},
		{"cancel_received", friends.OpCancelReceived, 2, pending, func(e *friends.Engine, a, b uuid.UUID) error { return e.CancelReceived(ctx, a, b) }},
		{"unfriend", friends.OpUnfriend, 2, befriended, func(e *friends.Engine, a, b uuid.UUID) error { return e.Unfriend(ctx, a, b) }},
	}

	for _, tc := range cases {
		for failOn := 1; failOn <= tc.writes; failOn++ {
			store := &faultStore{Store: memstore.New()}
			a, b := &models.User{Username: "a"}, &models.User{Username: "b"}
			require.NoError(t, store.CreateUser(ctx, a))
			require.NoError(t, store.CreateUser(ctx, b))

			rep := &recordingReporter{}
			e := friends.NewEngine(store, friends.WithReporter(rep), friends.WithLogger(quietLogger()))
			tc.setup(e, a.ID, b.ID)

			atomic.StoreInt32(&store.writes, 0)
			atomic.StoreInt32(&store.failOn, int32(failOn))
			err := tc.run(e, a.ID, b.ID)
			require.Error(t, err, "%s fail on %d", tc.name, failOn)
			require.ErrorIs(t, err, friends.ErrStoreUnavailable)
			require.ErrorIs(t, err, errInjected)

			if failOn == 1 {
				assert.NotErrorIs(t, err, friends.ErrPartialApply, "%s: nothing was applied", tc.name)
				assert.Empty(t, rep.records)
				continue
			}

			var perr *friends.PartialApplyError
			require.ErrorAs(t, err, &perr, "%s fail on %d", tc.name, failOn)
			assert.Equal(t, tc.op, perr.Op)
			assert.Equal(t, a.ID, perr.Requester)
			assert.Equal(t, b.ID, perr.Target)
			assert.Len(t, perr.Applied, failOn-1)

			require.Len(t, rep.records, 1)
			rec := rep.records[0]
			assert.Equal(t, tc.op, rec.Op)
			assert.Len(t, rec.Applied, failOn-1)
			assert.NotZero(t, rec.Timestamp)
		}
	}
}
