// ABOUTME: HTTP middleware for JWT authentication on API endpoints
// ABOUTME: Extracts JWT from Authorization header or access_token query and adds identity to context

package auth

import (
	"log/slog"
	"net/http"
	"strings"
)

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// requestToken reads the bearer header, falling back to the access_token
// query parameter that browsers use for EventSource and WebSocket.
func requestToken(r *http.Request) (string, string) {
	if r.Header.Get("Authorization") == "" {
		if q := r.URL.Query().Get("access_token"); q != "" {
			return q, ""
		}
	}
	return extractBearerToken(r.Header.Get("Authorization"))
}

// HTTPAuthMiddleware creates an HTTP middleware that extracts and validates JWT tokens.
// A nil verifier disables authentication and every request passes through.
func HTTPAuthMiddleware(verifier TokenVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		if verifier == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := requestToken(r)
			if errMsg != "" {
				writeAuthError(w, errMsg, http.StatusUnauthorized)
				return
			}

			claims, err := verifier.Verify(token)
			if err != nil {
				logger.Debug("rejected token", "path", r.URL.Path, "error", err)
				writeAuthError(w, "invalid token", http.StatusUnauthorized)
				return
			}

			authCtx := &AuthContext{Subject: claims.Subject, Worlds: claims.Worlds}
			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), authCtx)))
		})
	}
}

// RequireWorldAccess rejects requests whose token is scoped away from the
// {world} path value. Requests without an AuthContext pass, which is the
// unauthenticated configuration.
func RequireWorldAccess(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authCtx := FromContext(r.Context())
		if authCtx != nil && !authCtx.CanAccessWorld(r.PathValue("world")) {
			writeAuthError(w, "world access denied", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeAuthError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
