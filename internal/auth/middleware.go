package auth

import (
	"encoding/json"
	"net/http"
	"slices"
	"strings"

	"github.com/nakliyeci/carrier-jobs/pkg/logger"
)

// Header names trusted when no JWT secret is configured
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

// Middleware authenticates requests and enforces roles
type Middleware struct {
	auth   *Authenticator
	logger logger.Logger
}

// NewMiddleware creates a new Middleware. With a disabled authenticator the
// identity is read from the X-User-ID and X-User-Role headers.
func NewMiddleware(auth *Authenticator, logger logger.Logger) *Middleware {
	return &Middleware{auth: auth, logger: logger}
}

// Authenticate resolves the caller and stores it in the request context
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := m.identify(r)
		if err != nil {
			m.logger.Debug("Rejected unauthenticated request", "path", r.URL.Path, "error", err)
			writeError(w, http.StatusUnauthorized, err.Error(), "UNAUTHORIZED")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// RequireRole allows only callers holding one of roles
func (m *Middleware) RequireRole(roles ...Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, ErrMissingToken.Error(), "UNAUTHORIZED")
				return
			}
			if !slices.Contains(roles, id.Role) {
				writeError(w, http.StatusForbidden, "role "+string(id.Role)+" may not perform this action", "FORBIDDEN")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m *Middleware) identify(r *http.Request) (*Identity, error) {
	if !m.auth.Enabled() {
		id := &Identity{
			UserID: strings.TrimSpace(r.Header.Get(HeaderUserID)),
			Role:   Role(strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderUserRole)))),
		}
		if id.UserID == "" || !id.Role.Valid() {
			return nil, ErrMissingToken
		}
		return id, nil
	}

	header := r.Header.Get("Authorization")
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || strings.TrimSpace(token) == "" {
		return nil, ErrMissingToken
	}
	return m.auth.ParseToken(strings.TrimSpace(token))
}

func writeError(w http.ResponseWriter, status int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   message,
		"code":    code,
	})
}
