package handlers

import (
	"net/http"

	"github.com/oralvis/apiserver/internal/logging"
	"github.com/oralvis/apiserver/types"
)

// TokenVerifier turns a bearer token into a trusted identity.
type TokenVerifier interface {
	Parse(token string) (types.Identity, error)
}

// Gate authenticates requests and enforces role requirements. It must run
// RequireAuth before RequireRole so that a missing session is always
// reported as 401 ahead of any role check.
type Gate struct {
	tokens TokenVerifier
	logger logging.Logger
}

func NewGate(tokens TokenVerifier, logger logging.Logger) *Gate {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Gate{tokens: tokens, logger: logger}
}

// RequireAuth verifies the bearer token and injects the identity into the
// request context.
func (g *Gate) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString, err := bearerToken(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Access token required")
			return
		}

		identity, err := g.tokens.Parse(tokenString)
		if err != nil {
			g.logger.Debug(r.Context(), "rejected session token", "error", err)
			writeError(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}

		next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), identity)))
	})
}

// RequireRole admits identities holding one of roles.
func (g *Gate) RequireRole(roles ...types.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := identityFromContext(r.Context())
			if err != nil {
				writeError(w, http.StatusUnauthorized, "Access token required")
				return
			}
			if !identity.HasRole(roles...) {
				writeError(w, http.StatusForbidden, "Insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
