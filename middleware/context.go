package middleware

import (
	"context"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/upb/realty-dashboard/cognito"
	"github.com/upb/realty-dashboard/roleresolver"
)

// Context key type to avoid collisions
type contextKey string

const (
	// UserKey is the context key for the authenticated API caller
	UserKey contextKey = "user"

	// TokenKey is the context key for the caller's raw bearer token
	TokenKey contextKey = "token"

	// ResolutionKey is the context key for a server-side role derivation
	ResolutionKey contextKey = "role_resolution"
)

// GetRequestIDFromContext retrieves the request ID set by chi's RequestID middleware
func GetRequestIDFromContext(ctx context.Context) string {
	return chimw.GetReqID(ctx)
}

// GetUserFromContext retrieves the authenticated caller from context
func GetUserFromContext(ctx context.Context) *cognito.UserContext {
	if user, ok := ctx.Value(UserKey).(*cognito.UserContext); ok {
		return user
	}
	return nil
}

// WithUser adds the authenticated caller to the context
func WithUser(ctx context.Context, user *cognito.UserContext) context.Context {
	return context.WithValue(ctx, UserKey, user)
}

// GetTokenFromContext retrieves the caller's validated token
func GetTokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(TokenKey).(string)
	return token
}

// WithToken adds the caller's validated token to the context
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, TokenKey, token)
}

// GetResolutionFromContext retrieves the role derived by RequireCapability
func GetResolutionFromContext(ctx context.Context) (roleresolver.Resolution, bool) {
	res, ok := ctx.Value(ResolutionKey).(roleresolver.Resolution)
	return res, ok
}

// WithResolution adds a role derivation to the context
func WithResolution(ctx context.Context, res roleresolver.Resolution) context.Context {
	return context.WithValue(ctx, ResolutionKey, res)
}
