// internal/handlers/api_server.go
package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/jason-s-yu/socialgraph/internal/auth"
	"github.com/jason-s-yu/socialgraph/internal/friends"
	"github.com/jason-s-yu/socialgraph/internal/middleware"
	"github.com/jason-s-yu/socialgraph/internal/models"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// UserStore is what the user endpoints need beyond the engine's store.
type UserStore interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
}

// PresenceTracker records heartbeats and answers who is online.
type PresenceTracker interface {
	MarkOnline(ctx context.Context, id uuid.UUID) error
	OnlineSet(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]bool, error)
}

// APIServer holds the collaborators shared by every handler.
type APIServer struct {
	Engine *friends.Engine
	Users  UserStore
	Issuer *auth.Issuer
	Logger *logrus.Logger

	// Presence is optional; without it every user is reported offline and
	// heartbeats are accepted but dropped.
	Presence PresenceTracker
}

// NewAPIServer wires an APIServer. presence may be nil.
func NewAPIServer(engine *friends.Engine, users UserStore, issuer *auth.Issuer, presence PresenceTracker, logger *logrus.Logger) *APIServer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &APIServer{
		Engine:   engine,
		Users:    users,
		Issuer:   issuer,
		Presence: presence,
		Logger:   logger,
	}
}

// Routes registers every endpoint on a new mux, wrapped in request logging.
func (s *APIServer) Routes() http.Handler {
	mux := http.NewServeMux()

	// user endpoints
	mux.HandleFunc("POST /user/create", CreateUserHandler(s))
	mux.HandleFunc("POST /user/login", LoginHandler(s))
	mux.HandleFunc("POST /user/active", ActiveHandler(s))
	mux.HandleFunc("DELETE /user/delete", DeleteUserHandler(s))

	// friend endpoints
	mux.HandleFunc("POST /friends/add", AddFriendHandler(s))
	mux.HandleFunc("POST /friends/accept", AcceptFriendHandler(s))
	mux.HandleFunc("POST /friends/decline", DeclineFriendHandler(s))
	mux.HandleFunc("POST /friends/cancel", CancelFriendRequestHandler(s))
	mux.HandleFunc("POST /friends/remove", RemoveFriendHandler(s))
	mux.HandleFunc("GET /friends/list", ListFriendsHandler(s))
	mux.HandleFunc("GET /friends/requests", ListRequestsHandler(s))
	mux.HandleFunc("GET /friends/sent", ListSentRequestsHandler(s))
	mux.HandleFunc("GET /friends/suggestions", SuggestionsHandler(s))
	mux.HandleFunc("GET /friends/status", FriendStatusHandler(s))
	mux.HandleFunc("GET /friends/of", FriendsOfHandler(s))

	mux.Handle("GET /metrics", promhttp.Handler())

	return middleware.LogMiddleware(s.Logger)(mux)
}
