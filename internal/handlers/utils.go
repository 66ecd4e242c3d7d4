package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jason-s-yu/socialgraph/internal/friends"
	"github.com/jason-s-yu/socialgraph/internal/models"
)

const authCookie = "auth_token"

// maxBodyBytes caps JSON request bodies; every payload is a friend id or a
// short account form.
const maxBodyBytes = 4 << 10

var validate = validator.New()

// extractCookieToken extracts a named cookie value from "Cookie" header, or returns empty if not found.
func extractCookieToken(cookieHeader, cookieName string) string {
	for _, part := range strings.Split(cookieHeader, ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if ok && name == cookieName {
			return value
		}
	}
	return ""
}

// requestToken reads the session token from the auth cookie, falling back to
// an Authorization: Bearer header.
func requestToken(r *http.Request) string {
	if token := extractCookieToken(r.Header.Get("Cookie"), authCookie); token != "" {
		return token
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

// authenticate resolves the caller's UID, writing 401/403 itself on failure.
func (s *APIServer) authenticate(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	token := requestToken(r)
	if token == "" {
		http.Error(w, "missing auth_token", http.StatusUnauthorized)
		return uuid.Nil, false
	}
	id, err := s.Issuer.AuthenticateJWT(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusForbidden)
		return uuid.Nil, false
	}
	return id, true
}

// decodeAndValidate reads a JSON body into v and runs its validate tags.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			return false
		}
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return false
	}
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			http.Error(w, "invalid "+verrs[0].Field(), http.StatusBadRequest)
			return false
		}
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return false
	}
	return true
}

// engineStatus maps an engine error to an HTTP status.
func engineStatus(err error) int {
	switch {
	case errors.Is(err, friends.ErrPartialApply):
		return http.StatusInternalServerError
	case errors.Is(err, friends.ErrSelfReference):
		return http.StatusBadRequest
	case errors.Is(err, friends.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, friends.ErrDuplicateRequest), errors.Is(err, friends.ErrAlreadyFriends):
		return http.StatusConflict
	case errors.Is(err, friends.ErrNoPendingRequest):
		return http.StatusBadRequest
	case errors.Is(err, friends.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeEngineError logs server-side failures and writes the mapped status.
func (s *APIServer) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	status := engineStatus(err)
	if status >= 500 {
		s.Logger.WithField("path", r.URL.Path).WithError(err).Error("friend operation failed")
		http.Error(w, http.StatusText(status), status)
		return
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func summaries(users []models.User) []models.UserSummary {
	out := make([]models.UserSummary, len(users))
	for i := range users {
		out[i] = users[i].Summary()
	}
	return out
}
