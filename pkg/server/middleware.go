package server

import (
	"context"
	"net/http"
)

// SessionAuthMiddleware attaches the authenticated panel user and role
// to the request context when a valid session token is present. It does
// not reject requests on its own, RequireSession does that.
func (config *Config) SessionAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearerToken(r.Header.Get("Authorization"))
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := config.ParseSessionToken(token)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		ctx := context.WithValue(r.Context(), "authedUser", claims.Subject)
		ctx = context.WithValue(ctx, "authedRole", claims.Role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireSession rejects requests without a valid session.
func RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetAuthedUser(r) == "" {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin rejects requests unless the session belongs to an admin.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetAuthedRole(r) != RoleAdmin {
			writeError(w, http.StatusForbidden, "admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetAuthedUser returns the panel username attached to the request, or
// an empty string when the request is unauthenticated.
func GetAuthedUser(r *http.Request) string {
	user, _ := r.Context().Value("authedUser").(string)
	return user
}

func GetAuthedRole(r *http.Request) string {
	role, _ := r.Context().Value("authedRole").(string)
	return role
}

// IsOwnerOrAdmin reports whether the request may manage a project.
func IsOwnerOrAdmin(r *http.Request, project Project) bool {
	if GetAuthedRole(r) == RoleAdmin {
		return true
	}

	return GetAuthedUser(r) != "" && GetAuthedUser(r) == project.Owner
}
