// internal/handlers/friend.go
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/jason-s-yu/socialgraph/internal/friends"
	"github.com/jason-s-yu/socialgraph/internal/models"
)

// friendRequest is the body of every friend mutation endpoint.
type friendRequest struct {
	FriendID string `json:"friend_id" validate:"required,uuid"`
}

type friendAction func(ctx context.Context, me, other uuid.UUID) error

// friendActionHandler authenticates the caller, parses friend_id, and runs
// the engine operation with the caller as requester.
func friendActionHandler(s *APIServer, status int, msg string, action friendAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		me, ok := s.authenticate(w, r)
		if !ok {
			return
		}

		var req friendRequest
		if !decodeAndValidate(w, r, &req) {
			return
		}
		other, err := uuid.Parse(req.FriendID)
		if err != nil {
			http.Error(w, "invalid friend_id", http.StatusBadRequest)
			return
		}

		if err := action(r.Context(), me, other); err != nil {
			s.writeEngineError(w, r, err)
			return
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(msg))
	}
}

// AddFriendHandler sends a friend request from the caller to friend_id.
//
// Request payload: { "friend_id": "some-uuid-string" }
func AddFriendHandler(s *APIServer) http.HandlerFunc {
	return friendActionHandler(s, http.StatusCreated, "friend request sent", s.Engine.SendRequest)
}

// AcceptFriendHandler accepts the request friend_id sent to the caller.
//
// Request payload: { "friend_id": "some-uuid-string" }
func AcceptFriendHandler(s *APIServer) http.HandlerFunc {
	return friendActionHandler(s, http.StatusOK, "friend request accepted", s.Engine.Confirm)
}

// DeclineFriendHandler declines the request friend_id sent to the caller.
func DeclineFriendHandler(s *APIServer) http.HandlerFunc {
	return friendActionHandler(s, http.StatusOK, "friend request declined", s.Engine.CancelReceived)
}

// CancelFriendRequestHandler withdraws the caller's request to friend_id.
func CancelFriendRequestHandler(s *APIServer) http.HandlerFunc {
	return friendActionHandler(s, http.StatusOK, "friend request canceled", s.Engine.CancelSent)
}

// RemoveFriendHandler unfriends friend_id.
//
// Request payload: { "friend_id": "some-uuid-string" }
func RemoveFriendHandler(s *APIServer) http.HandlerFunc {
	return friendActionHandler(s, http.StatusOK, "friend removed", s.Engine.Unfriend)
}

type listFunc func(ctx context.Context, id uuid.UUID) ([]models.User, error)

// listHandler returns the caller's users from fn as a JSON array of
// summaries, with online flags when withPresence is set.
func listHandler(s *APIServer, withPresence bool, fn listFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		me, ok := s.authenticate(w, r)
		if !ok {
			return
		}
		users, err := fn(r.Context(), me)
		if err != nil {
			s.writeEngineError(w, r, err)
			return
		}
		out := summaries(users)
		if withPresence {
			s.markOnline(r.Context(), out)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// markOnline fills the Online flag. Presence failures only cost the flag.
func (s *APIServer) markOnline(ctx context.Context, users []models.UserSummary) {
	if s.Presence == nil || len(users) == 0 {
		return
	}
	ids := make([]uuid.UUID, len(users))
	for i, u := range users {
		ids[i] = u.ID
	}
	online, err := s.Presence.OnlineSet(ctx, ids)
	if err != nil {
		s.Logger.WithError(err).Warn("presence lookup failed")
		return
	}
	for i := range users {
		users[i].Online = online[users[i].ID]
	}
}

// ListFriendsHandler returns the caller's friends with their online status.
func ListFriendsHandler(s *APIServer) http.HandlerFunc {
	return listHandler(s, true, s.Engine.Friends)
}

// ListRequestsHandler returns the users who sent the caller a request.
func ListRequestsHandler(s *APIServer) http.HandlerFunc {
	return listHandler(s, false, s.Engine.Requests)
}

// ListSentRequestsHandler returns the users the caller has sent a request to.
func ListSentRequestsHandler(s *APIServer) http.HandlerFunc {
	return listHandler(s, false, s.Engine.SentRequests)
}

// SuggestionsHandler returns every user unrelated to the caller.
func SuggestionsHandler(s *APIServer) http.HandlerFunc {
	return listHandler(s, false, s.Engine.SuggestConnections)
}

type statusResponse struct {
	UserID uuid.UUID           `json:"user_id"`
	Status models.FriendStatus `json:"status"`
}

// FriendStatusHandler reports how ?user_id= relates to the caller.
func FriendStatusHandler(s *APIServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		me, ok := s.authenticate(w, r)
		if !ok {
			return
		}
		other, err := uuid.Parse(r.URL.Query().Get("user_id"))
		if err != nil {
			http.Error(w, "invalid user_id", http.StatusBadRequest)
			return
		}
		st, err := s.Engine.Status(r.Context(), me, other)
		if err != nil {
			s.writeEngineError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, statusResponse{UserID: other, Status: st})
	}
}

// FriendsOfHandler lists the friends of the user named by ?username=.
func FriendsOfHandler(s *APIServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := s.authenticate(w, r); !ok {
			return
		}
		username := r.URL.Query().Get("username")
		if username == "" {
			http.Error(w, "missing username", http.StatusBadRequest)
			return
		}
		u, err := s.Users.GetUserByUsername(r.Context(), username)
		if errors.Is(err, friends.ErrUserNotFound) {
			http.Error(w, "user not found", http.StatusNotFound)
			return
		}
		if err != nil {
			s.writeEngineError(w, r, err)
			return
		}
		list, err := s.Engine.Friends(r.Context(), u.ID)
		if err != nil {
			s.writeEngineError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, summaries(list))
	}
}
