package friends

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jason-s-yu/socialgraph/internal/models"
	"github.com/sirupsen/logrus"
)

// SuggestConnections returns every user except id itself and anyone in its
// myFriends, friendRequests or sentRequests sets. Order is whatever the store
// returns.
//
// This reads the whole user population on every call.
func (e *Engine) SuggestConnections(ctx context.Context, id uuid.UUID) ([]models.User, error) {
	u, err := e.findUser(ctx, id)
	if err != nil {
		return nil, err
	}

	all, err := e.store.ListAllUsers(ctx)
	if err != nil {
		return nil, storeErr(err, "list users")
	}
	if e.suggestWarnSize > 0 && len(all) > e.suggestWarnSize {
		e.log.WithFields(logrus.Fields{
			"user":       id,
			"population": len(all),
		}).Warn("suggestion query scanned the full user population")
	}

	exclude := map[uuid.UUID]struct{}{id: {}}
	for _, other := range u.Counterparts() {
		exclude[other] = struct{}{}
	}

	out := make([]models.User, 0, len(all))
	for _, candidate := range all {
		if _, skip := exclude[candidate.ID]; skip {
			continue
		}
		candidate.Password = ""
		out = append(out, candidate)
	}
	return out, nil
}

// Friends resolves the myFriends set of id.
func (e *Engine) Friends(ctx context.Context, id uuid.UUID) ([]models.User, error) {
	return e.resolve(ctx, id, models.FieldMyFriends)
}

// Requests resolves the incoming requests of id.
func (e *Engine) Requests(ctx context.Context, id uuid.UUID) ([]models.User, error) {
	return e.resolve(ctx, id, models.FieldFriendRequests)
}

// SentRequests resolves the outgoing requests of id.
func (e *Engine) SentRequests(ctx context.Context, id uuid.UUID) ([]models.User, error) {
	return e.resolve(ctx, id, models.FieldSentRequests)
}

// resolve reads one set from id's document and loads the referenced users.
// The document is authoritative: members are listed whether or not their own
// document mirrors the edge, and members without a document are skipped.
func (e *Engine) resolve(ctx context.Context, id uuid.UUID, field models.RelationField) ([]models.User, error) {
	u, err := e.findUser(ctx, id)
	if err != nil {
		return nil, err
	}
	ids := u.Set(field)
	if len(ids) == 0 {
		return []models.User{}, nil
	}
	users, err := e.store.FindUsers(ctx, ids)
	if err != nil {
		return nil, storeErr(err, "resolve %s of %s", field, id)
	}
	for i := range users {
		users[i].Password = ""
	}
	return users, nil
}

// Status reports how other relates to id, read from id's document only.
func (e *Engine) Status(ctx context.Context, id, other uuid.UUID) (models.FriendStatus, error) {
	if id == other {
		return "", fmt.Errorf("%w: status of %s", ErrSelfReference, id)
	}
	u, err := e.findUser(ctx, id)
	if err != nil {
		return "", err
	}
	switch {
	case u.Has(models.FieldMyFriends, other):
		return models.StatusFriends, nil
	case u.Has(models.FieldSentRequests, other):
		return models.StatusRequestSent, nil
	case u.Has(models.FieldFriendRequests, other):
		return models.StatusRequestReceived, nil
	}
	return models.StatusNone, nil
}
