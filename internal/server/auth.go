package server

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/mackeh/AegisGuard/internal/config"
)

// Role represents an RBAC role for API access.
type Role string

const (
	RoleAdmin    Role = "admin"    // lockdown and everything below
	RoleOperator Role = "operator" // screening endpoints
	RoleViewer   Role = "viewer"   // live event stream
)

// AuthMiddleware enforces API key authentication and RBAC.
// If auth is not enabled, all requests pass through.
func AuthMiddleware(cfg config.AuthConfig, requiredRole Role, next http.HandlerFunc) http.HandlerFunc {
	if !cfg.Enabled {
		return next
	}

	return func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		role, ok := authenticateToken(cfg.Keys, token)
		if !ok {
			writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}

		if !hasPermission(role, requiredRole) {
			writeError(w, http.StatusForbidden, "insufficient permissions")
			return
		}

		next(w, r)
	}
}

func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	// Browsers cannot set headers on WebSocket upgrades.
	if key := r.URL.Query().Get("api_key"); key != "" {
		return key
	}
	return ""
}

// authenticateToken compares against every key so timing does not reveal
// which key matched.
func authenticateToken(keys []config.APIKey, token string) (Role, bool) {
	var role Role
	found := false
	for _, k := range keys {
		if subtle.ConstantTimeCompare([]byte(k.Token), []byte(token)) == 1 && !found {
			role, found = Role(k.Role), true
		}
	}
	return role, found
}

// hasPermission checks if the given role meets the required role level.
// admin > operator > viewer
func hasPermission(have, need Role) bool {
	levels := map[Role]int{
		RoleAdmin:    3,
		RoleOperator: 2,
		RoleViewer:   1,
	}
	return levels[have] > 0 && levels[have] >= levels[need]
}
