package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrDuplicateUser is returned by user stores when the email or username is taken.
var ErrDuplicateUser = errors.New("email or username already exists")

// User is a user document. The three relationship sets are embedded in the
// document; an edge between two users exists only as mirrored membership
// on both documents.
type User struct {
	ID       uuid.UUID `json:"id"`
	Email    string    `json:"email"`
	Password string    `json:"password,omitempty"`
	Username string    `json:"username"`
	Name     string    `json:"name"`

	MyFriends      []uuid.UUID `json:"myFriends"`
	FriendRequests []uuid.UUID `json:"friendRequests"`
	SentRequests   []uuid.UUID `json:"sentRequests"`

	CreatedAt time.Time `json:"created_at"`
}

// Set returns the members of the given relationship field.
func (u *User) Set(field RelationField) []uuid.UUID {
	switch field {
	case FieldMyFriends:
		return u.MyFriends
	case FieldFriendRequests:
		return u.FriendRequests
	case FieldSentRequests:
		return u.SentRequests
	}
	return nil
}

// Has reports whether id is a member of the given relationship field.
func (u *User) Has(field RelationField, id uuid.UUID) bool {
	for _, m := range u.Set(field) {
		if m == id {
			return true
		}
	}
	return false
}

// Counterparts returns every UID referenced by any of the user's relationship
// sets, without duplicates.
func (u *User) Counterparts() []uuid.UUID {
	seen := make(map[uuid.UUID]struct{})
	var out []uuid.UUID
	for _, f := range RelationFields {
		for _, id := range u.Set(f) {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

// Summary strips the user down to its public profile.
func (u *User) Summary() UserSummary {
	return UserSummary{
		ID:       u.ID,
		Username: u.Username,
		Name:     u.Name,
	}
}

// UserSummary is the public view of a user returned by list endpoints.
type UserSummary struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`
	Name     string    `json:"name"`
	Online   bool      `json:"online,omitempty"`
}
