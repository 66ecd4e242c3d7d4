// internal/memstore/memstore.go
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/socialgraph/internal/friends"
	"github.com/jason-s-yu/socialgraph/internal/models"
)

var _ friends.Store = (*Store)(nil)

// Store keeps user documents in memory. Every method takes the store lock,
// so set mutations are atomic per document.
type Store struct {
	mu    sync.RWMutex
	users map[uuid.UUID]*models.User
	order []uuid.UUID
}

// New returns an empty store.
func New() *Store {
	return &Store{users: make(map[uuid.UUID]*models.User)}
}

// CreateUser inserts a user, assigning an ID if it has none.
func (s *Store) CreateUser(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if _, ok := s.users[u.ID]; ok {
		return fmt.Errorf("user %s: %w", u.ID, models.ErrDuplicateUser)
	}
	for _, existing := range s.users {
		if (u.Email != "" && strings.EqualFold(existing.Email, u.Email)) ||
			(u.Username != "" && existing.Username == u.Username) {
			return models.ErrDuplicateUser
		}
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	s.users[u.ID] = clone(u)
	s.order = append(s.order, u.ID)
	return nil
}

// GetUserByEmail looks a user up by email, case-insensitively.
func (s *Store) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return clone(u), nil
		}
	}
	return nil, fmt.Errorf("email %s: %w", email, friends.ErrUserNotFound)
}

// GetUserByUsername looks a user up by username.
func (s *Store) GetUserByUsername(_ context.Context, username string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Username == username {
			return clone(u), nil
		}
	}
	return nil, fmt.Errorf("username %s: %w", username, friends.ErrUserNotFound)
}

func (s *Store) FindUser(_ context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, friends.ErrUserNotFound)
	}
	return clone(u), nil
}

func (s *Store) FindUsers(_ context.Context, ids []uuid.UUID) ([]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.User, 0, len(ids))
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			out = append(out, *clone(u))
		}
	}
	return out, nil
}

func (s *Store) AddToSet(_ context.Context, id uuid.UUID, field models.RelationField, value uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, set, err := s.field(id, field)
	if err != nil {
		return err
	}
	for _, m := range *set {
		if m == value {
			return nil
		}
	}
	*set = append(*set, value)
	return nil
}

func (s *Store) RemoveFromSet(_ context.Context, id uuid.UUID, field models.RelationField, value uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, set, err := s.field(id, field)
	if err != nil {
		return err
	}
	kept := (*set)[:0]
	for _, m := range *set {
		if m != value {
			kept = append(kept, m)
		}
	}
	*set = kept
	return nil
}

// ListAllUsers returns users in insertion order.
func (s *Store) ListAllUsers(_ context.Context) ([]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.User, 0, len(s.order))
	for _, id := range s.order {
		if u, ok := s.users[id]; ok {
			out = append(out, *clone(u))
		}
	}
	return out, nil
}

func (s *Store) DeleteUser(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return fmt.Errorf("user %s: %w", id, friends.ErrUserNotFound)
	}
	delete(s.users, id)
	for i, o := range s.order {
		if o == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// Snapshot returns a copy of the user's relationship sets with members sorted,
// for comparisons in tests and the CLI.
func (s *Store) Snapshot(id uuid.UUID) map[models.RelationField][]uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil
	}
	out := make(map[models.RelationField][]uuid.UUID, len(models.RelationFields))
	for _, f := range models.RelationFields {
		members := append([]uuid.UUID{}, u.Set(f)...)
		sort.Slice(members, func(i, j int) bool { return members[i].String() < members[j].String() })
		out[f] = members
	}
	return out
}

func (s *Store) field(id uuid.UUID, field models.RelationField) (*models.User, *[]uuid.UUID, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, nil, fmt.Errorf("user %s: %w", id, friends.ErrUserNotFound)
	}
	switch field {
	case models.FieldMyFriends:
		return u, &u.MyFriends, nil
	case models.FieldFriendRequests:
		return u, &u.FriendRequests, nil
	case models.FieldSentRequests:
		return u, &u.SentRequests, nil
	}
	return nil, nil, fmt.Errorf("unknown relation field %q", field)
}

func clone(u *models.User) *models.User {
	c := *u
	c.MyFriends = append([]uuid.UUID{}, u.MyFriends...)
	c.FriendRequests = append([]uuid.UUID{}, u.FriendRequests...)
	c.SentRequests = append([]uuid.UUID{}, u.SentRequests...)
	return &c
}
