package handlers

import (
	"errors"
	"net/http"

	"github.com/jason-s-yu/socialgraph/internal/auth"
	"github.com/jason-s-yu/socialgraph/internal/friends"
	"github.com/jason-s-yu/socialgraph/internal/models"
)

type createUserRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=128"`
	Username string `json:"username" validate:"required,alphanum,min=3,max=32"`
	Name     string `json:"name" validate:"max=64"`
}

// CreateUserHandler registers a new user with empty relationship sets.
func CreateUserHandler(s *APIServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createUserRequest
		if !decodeAndValidate(w, r, &req) {
			return
		}

		hash, err := auth.HashPassword(req.Password)
		if err != nil {
			s.Logger.WithError(err).Error("failed to hash password")
			http.Error(w, "error creating user", http.StatusInternalServerError)
			return
		}

		user := models.User{
			Email:    req.Email,
			Password: hash,
			Username: req.Username,
			Name:     req.Name,
		}
		if err := s.Users.CreateUser(r.Context(), &user); err != nil {
			if errors.Is(err, models.ErrDuplicateUser) {
				http.Error(w, "email or username already exists", http.StatusConflict)
				return
			}
			s.Logger.WithError(err).Error("failed to create user")
			http.Error(w, "error creating user", http.StatusInternalServerError)
			return
		}

		user.Password = ""
		writeJSON(w, http.StatusCreated, user)
	}
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// LoginHandler handles user login requests. It expects a JSON payload with email and password,
// and returns a JSON response with an authentication token if the login is successful.
//
// Request payload:
//
//	{
//	  "email": "someone@example.com",
//	  "password": "password"
//	}
//
// Response payload:
//
//	{
//	  "token": "{jwt}"
//	}
//
// The token is also sent via the Cookie header.
func LoginHandler(s *APIServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if !decodeAndValidate(w, r, &req) {
			return
		}

		user, err := s.Users.GetUserByEmail(r.Context(), req.Email)
		if err != nil {
			if !errors.Is(err, friends.ErrUserNotFound) {
				s.Logger.WithError(err).Error("failed to look up user")
			}
			http.Error(w, "authentication failed", http.StatusForbidden)
			return
		}
		if !auth.VerifyPassword(req.Password, user.Password) {
			http.Error(w, "authentication failed", http.StatusForbidden)
			return
		}

		token, err := s.Issuer.CreateJWT(user.ID)
		if err != nil {
			s.Logger.WithError(err).Error("failed to create jwt")
			http.Error(w, "authentication failed", http.StatusInternalServerError)
			return
		}

		http.SetCookie(w, &http.Cookie{
			Name:     authCookie,
			Value:    token,
			HttpOnly: true,
			Path:     "/",
			MaxAge:   s.Issuer.MaxAge(),
		})
		writeJSON(w, http.StatusOK, loginResponse{Token: token})
	}
}

// ActiveHandler records a presence heartbeat for the caller.
func ActiveHandler(s *APIServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		me, ok := s.authenticate(w, r)
		if !ok {
			return
		}
		if s.Presence != nil {
			if err := s.Presence.MarkOnline(r.Context(), me); err != nil {
				s.Logger.WithError(err).Warn("failed to record heartbeat")
				http.Error(w, "presence unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// DeleteUserHandler deletes the caller's account after detaching it from
// every counterpart.
func DeleteUserHandler(s *APIServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		me, ok := s.authenticate(w, r)
		if !ok {
			return
		}
		if err := s.Engine.RemoveUser(r.Context(), me); err != nil {
			s.writeEngineError(w, r, err)
			return
		}
		http.SetCookie(w, &http.Cookie{
			Name:     authCookie,
			Value:    "",
			HttpOnly: true,
			Path:     "/",
			MaxAge:   -1,
		})
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("user deleted"))
	}
}
