// ABOUTME: Authentication context for tracking identity through request handlers
// ABOUTME: Provides WithAuth/FromContext for propagating auth info via context

package auth

import (
	"context"
	"slices"
)

// AuthContext holds the authenticated identity extracted from a request.
type AuthContext struct {
	Subject string
	Worlds  []string // empty means unrestricted
}

// CanAccessWorld reports whether the identity may touch worldID.
func (a *AuthContext) CanAccessWorld(worldID string) bool {
	if a == nil {
		return false
	}
	return len(a.Worlds) == 0 || slices.Contains(a.Worlds, worldID)
}

// authContextKey is the key type for storing AuthContext in context.Context.
type authContextKey struct{}

// WithAuth returns a new context with the AuthContext attached.
func WithAuth(ctx context.Context, auth *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, auth)
}

// FromContext retrieves the AuthContext from the context, returning nil if not present.
func FromContext(ctx context.Context) *AuthContext {
	auth, _ := ctx.Value(authContextKey{}).(*AuthContext)
	return auth
}
