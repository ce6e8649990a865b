package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oralvis/apiserver/internal/logging"
	"github.com/oralvis/apiserver/internal/services"
)

// Authenticator verifies credentials and issues sessions.
type Authenticator interface {
	Authenticate(ctx context.Context, email, password string) (services.LoginResult, error)
}

// AuthHandler provides the login and session endpoints.
type AuthHandler struct {
	users  Authenticator
	logger logging.Logger
}

// NewAuthHandler constructs an AuthHandler with the provided dependencies.
func NewAuthHandler(users Authenticator, logger logging.Logger) *AuthHandler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &AuthHandler{users: users, logger: logger}
}

// AuthRouter registers auth routes on the given router. loginLimit may be
// nil to leave login unthrottled.
func AuthRouter(r chi.Router, users Authenticator, gate *Gate, loginLimit func(http.Handler) http.Handler, logger logging.Logger) {
	handler := NewAuthHandler(users, logger)

	if loginLimit != nil {
		r.With(loginLimit).Post("/login", handler.Login)
	} else {
		r.Post("/login", handler.Login)
	}
	r.With(gate.RequireAuth).Get("/me", handler.Me)
}

// Login verifies credentials and returns a session token.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	result, err := h.users.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrMissingCredentials):
			writeError(w, http.StatusBadRequest, "Email and password required")
		case errors.Is(err, services.ErrInvalidCredentials):
			writeError(w, http.StatusUnauthorized, "Invalid credentials")
		default:
			h.logger.Error(r.Context(), "login failed", "error", err)
			writeError(w, http.StatusInternalServerError, "Authentication error")
		}
		return
	}

	h.logger.Info(r.Context(), "user logged in", "user_id", result.User.ID, "role", result.User.Role)
	writeJSON(w, http.StatusOK, result)
}

// Me returns the identity carried by the caller's session token.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	identity, err := identityFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Access token required")
		return
	}
	writeJSON(w, http.StatusOK, identity)
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
