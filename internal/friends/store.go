package friends

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jason-s-yu/socialgraph/internal/models"
)

// Store is the user store the engine runs against. AddToSet and RemoveFromSet
// must be atomic on a single document; nothing spans two documents.
//
// FindUser, AddToSet and RemoveFromSet return an error wrapping
// ErrUserNotFound when the document does not exist.
type Store interface {
	FindUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	FindUsers(ctx context.Context, ids []uuid.UUID) ([]models.User, error)
	AddToSet(ctx context.Context, id uuid.UUID, field models.RelationField, value uuid.UUID) error
	RemoveFromSet(ctx context.Context, id uuid.UUID, field models.RelationField, value uuid.UUID) error
	ListAllUsers(ctx context.Context) ([]models.User, error)
	DeleteUser(ctx context.Context, id uuid.UUID) error
}

// Op names an engine operation.
type Op string

const (
	OpSendRequest    Op = "send_request"
	OpCancelReceived Op = "cancel_received"
	OpCancelSent     Op = "cancel_sent"
	OpConfirm        Op = "confirm"
	OpUnfriend       Op = "unfriend"
	OpRemoveUser     Op = "remove_user"
)

// MutationKind is either an add-to-set or a remove-from-set.
type MutationKind string

const (
	MutationAdd    MutationKind = "add"
	MutationRemove MutationKind = "remove"
)

// Mutation is one single-document set update.
type Mutation struct {
	Kind  MutationKind
	User  uuid.UUID
	Field models.RelationField
	Value uuid.UUID
}

func addTo(user uuid.UUID, field models.RelationField, value uuid.UUID) Mutation {
	return Mutation{Kind: MutationAdd, User: user, Field: field, Value: value}
}

func removeFrom(user uuid.UUID, field models.RelationField, value uuid.UUID) Mutation {
	return Mutation{Kind: MutationRemove, User: user, Field: field, Value: value}
}

func (m Mutation) String() string {
	return fmt.Sprintf("%s %s.%s %s", m.Kind, m.User, m.Field, m.Value)
}

// needed reports whether applying m to the given document would change it.
func (m Mutation) needed(doc *models.User) bool {
	if doc == nil {
		return true
	}
	has := doc.Has(m.Field, m.Value)
	if m.Kind == MutationAdd {
		return !has
	}
	return has
}

func (m Mutation) apply(ctx context.Context, s Store) error {
	if m.Kind == MutationAdd {
		return s.AddToSet(ctx, m.User, m.Field, m.Value)
	}
	return s.RemoveFromSet(ctx, m.User, m.Field, m.Value)
}

// Record is the outbox form of a partial apply, consumed by the reconciler.
type Record struct {
	Op        Op        `json:"op"`
	Requester uuid.UUID `json:"requester"`
	Target    uuid.UUID `json:"target"`
	Applied   []string  `json:"applied"`
	Failed    string    `json:"failed"`
	Error     string    `json:"error"`
	Attempt   int       `json:"attempt"`
	Timestamp int64     `json:"timestamp"`
}

// ErrInvalidRecord indicates an outbox payload that could not be decoded.
var ErrInvalidRecord = errors.New("invalid partial apply record")

// Reporter receives partial-apply records so the pair can be reconciled later.
type Reporter interface {
	ReportPartialApply(ctx context.Context, rec Record) error
}

type nopReporter struct{}

func (nopReporter) ReportPartialApply(context.Context, Record) error { return nil }
