package friends

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/socialgraph/internal/models"
)

// WithTimeout bounds every call to s by d. The caller's context still applies
// when it is shorter. A non-positive d returns s unchanged.
func WithTimeout(s Store, d time.Duration) Store {
	if d <= 0 {
		return s
	}
	return &timeoutStore{Store: s, d: d}
}

type timeoutStore struct {
	Store
	d time.Duration
}

func (t *timeoutStore) FindUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.Store.FindUser(ctx, id)
}

func (t *timeoutStore) FindUsers(ctx context.Context, ids []uuid.UUID) ([]models.User, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.Store.FindUsers(ctx, ids)
}

func (t *timeoutStore) AddToSet(ctx context.Context, id uuid.UUID, field models.RelationField, value uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.Store.AddToSet(ctx, id, field, value)
}

func (t *timeoutStore) RemoveFromSet(ctx context.Context, id uuid.UUID, field models.RelationField, value uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.Store.RemoveFromSet(ctx, id, field, value)
}

func (t *timeoutStore) ListAllUsers(ctx context.Context) ([]models.User, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.Store.ListAllUsers(ctx)
}

func (t *timeoutStore) DeleteUser(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.Store.DeleteUser(ctx, id)
}
