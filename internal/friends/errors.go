package friends

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrUserNotFound indicates that one of the UIDs has no user document.
	ErrUserNotFound = errors.New("user not found")

	// ErrSelfReference indicates an operation whose requester and target are the same user.
	ErrSelfReference = errors.New("self reference rejected")

	// ErrDuplicateRequest indicates that a request between the pair is already pending.
	// Callers may treat it as success with a notice.
	ErrDuplicateRequest = errors.New("duplicate friend request")

	// ErrNoPendingRequest indicates a confirm without a matching incoming request.
	ErrNoPendingRequest = errors.New("no pending friend request")

	// ErrAlreadyFriends is returned by SendRequest in strict mode when the pair is already connected.
	ErrAlreadyFriends = errors.New("already friends")

	// ErrStoreUnavailable wraps an I/O failure of the user store.
	ErrStoreUnavailable = errors.New("user store unavailable")

	// ErrPartialApply indicates that some, but not all, mutations of an operation were applied.
	ErrPartialApply = errors.New("partial apply")
)

// PartialApplyError is returned when the store fails after at least one
// mutation of a multi-write operation succeeded. Nothing is rolled back; the
// pair needs reconciliation.
type PartialApplyError struct {
	Op        Op
	Requester uuid.UUID
	Target    uuid.UUID
	Applied   []Mutation
	Failed    Mutation
	Err       error
}

func (e *PartialApplyError) Error() string {
	applied := make([]string, len(e.Applied))
	for i, m := range e.Applied {
		applied[i] = m.String()
	}
	return fmt.Sprintf("%s %s -> %s: partial apply after [%s], failed %s: %v",
		e.Op, e.Requester, e.Target, strings.Join(applied, ", "), e.Failed, e.Err)
}

func (e *PartialApplyError) Unwrap() error { return e.Err }

// Is matches both ErrPartialApply and ErrStoreUnavailable.
func (e *PartialApplyError) Is(target error) bool {
	return target == ErrPartialApply || target == ErrStoreUnavailable
}

// Record converts the error into an outbox record.
func (e *PartialApplyError) Record() Record {
	applied := make([]string, len(e.Applied))
	for i, m := range e.Applied {
		applied[i] = m.String()
	}
	var msg string
	if e.Err != nil {
		msg = e.Err.Error()
	}
	return Record{
		Op:        e.Op,
		Requester: e.Requester,
		Target:    e.Target,
		Applied:   applied,
		Failed:    e.Failed.String(),
		Error:     msg,
	}
}

func storeErr(err error, format string, args ...interface{}) error {
	if errors.Is(err, ErrUserNotFound) {
		return fmt.Errorf(format+": %w", append(args, err)...)
	}
	return fmt.Errorf("%w: "+format+": %w", append(append([]interface{}{ErrStoreUnavailable}, args...), err)...)
}
