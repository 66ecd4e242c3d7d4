package friends

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// opsTotal counts engine operations by result.
	// Labels: result is one of "ok", "user_not_found", "self_reference", "duplicate",
	// "no_pending", "already_friends", "partial_apply", "store_unavailable", "other".
	opsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "socialgraph_friend_ops_total",
		Help: "Friend graph operations by op and result",
	}, []string{"op", "result"})

	opDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "socialgraph_friend_op_duration_seconds",
		Help:    "Friend graph operation duration",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"op"})

	partialApplyTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "socialgraph_partial_apply_total",
		Help: "Operations that left a pair half-applied",
	}, []string{"op"})

	repairsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "socialgraph_repairs_total",
		Help: "Mutations performed by pair repair, by action",
	}, []string{"action"})
)

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrUserNotFound):
		return "user_not_found"
	case errors.Is(err, ErrSelfReference):
		return "self_reference"
	case errors.Is(err, ErrDuplicateRequest):
		return "duplicate"
	case errors.Is(err, ErrNoPendingRequest):
		return "no_pending"
	case errors.Is(err, ErrAlreadyFriends):
		return "already_friends"
	case errors.Is(err, ErrPartialApply):
		return "partial_apply"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	}
	return "other"
}

func observe(op Op, err error, start time.Time) {
	opsTotal.WithLabelValues(string(op), resultLabel(err)).Inc()
	opDuration.WithLabelValues(string(op)).Observe(time.Since(start).Seconds())
}
