package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/upb/realty-dashboard/cognito"
	"github.com/upb/realty-dashboard/gates"
	"github.com/upb/realty-dashboard/roleresolver"
	"github.com/upb/realty-dashboard/roles"
	"github.com/upb/realty-dashboard/utils"
	"go.uber.org/zap"
)

// TokenValidator defines the interface for validating JWT tokens
type TokenValidator interface {
	// ValidateToken validates a JWT token and returns claims
	ValidateToken(ctx context.Context, token string) (*cognito.ParsedClaims, error)
}

// AuthMiddleware authenticates bearer-token API callers and re-checks their
// role before sensitive actions.
type AuthMiddleware struct {
	validator     TokenValidator
	lookup        roleresolver.GroupLister
	lookupTimeout time.Duration
	logger        *zap.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware. lookup may be nil, in
// which case capability checks rely on the role claim alone.
func NewAuthMiddleware(validator TokenValidator, lookup roleresolver.GroupLister, lookupTimeout time.Duration, logger *zap.Logger) *AuthMiddleware {
	if lookupTimeout <= 0 {
		lookupTimeout = 5 * time.Second
	}
	return &AuthMiddleware{
		validator:     validator,
		lookup:        lookup,
		lookupTimeout: lookupTimeout,
		logger:        logger,
	}
}

// authTokenCookieName is the cookie API clients may use instead of the
// Authorization header (the header takes precedence)
const authTokenCookieName = "auth_token"

// RequireAuth is a middleware that requires a valid JWT token
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := GetRequestIDFromContext(ctx)

		token := extractToken(r)
		if token == "" {
			m.logger.Warn("missing token",
				zap.String("request_id", requestID))
			_ = utils.WriteUnauthorized(w, "Missing or invalid authorization")
			return
		}

		claims, err := m.validator.ValidateToken(ctx, token)
		if errors.Is(err, cognito.ErrJWKSFetchFailed) {
			m.logger.Error("signing keys unavailable",
				zap.String("request_id", requestID),
				zap.Error(err))
			_ = utils.WriteError(w, http.StatusServiceUnavailable, "Identity provider unavailable", nil)
			return
		}
		if err != nil {
			m.logger.Warn("token validation failed",
				zap.String("request_id", requestID),
				zap.Error(err))
			_ = utils.WriteUnauthorized(w, "Invalid or expired token")
			return
		}

		user := claims.ToUserContext()
		ctx = WithToken(WithUser(ctx, user), token)

		m.logger.Debug("authentication successful",
			zap.String("request_id", requestID),
			zap.String("sub", user.UserID.String()),
			zap.String("principal", user.Principal()))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireCapability re-derives the caller's role from the token claim and
// the principal's current groups, then requires the role to grant c. The
// claim alone is never trusted for the decision. Must run after RequireAuth.
func (m *AuthMiddleware) RequireCapability(c roles.Capability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := GetRequestIDFromContext(ctx)

			user := GetUserFromContext(ctx)
			token := GetTokenFromContext(ctx)
			if user == nil || token == "" {
				m.logger.Error("caller not found in context",
					zap.String("request_id", requestID))
				_ = utils.WriteUnauthorized(w, "Authentication required")
				return
			}

			if m.lookup != nil && user.Principal() == "" {
				m.logger.Warn("token has no principal for group lookup",
					zap.String("request_id", requestID),
					zap.String("sub", user.UserID.String()),
					zap.String("capability", string(c)))
				_ = utils.WriteForbidden(w, string(gates.ReasonNoPermission), "Your role could not be verified")
				return
			}

			lookupCtx, cancel := context.WithTimeout(ctx, m.lookupTimeout)
			res := roleresolver.Derive(lookupCtx, token, user.Principal(), m.lookup)
			cancel()

			if res.LookupErr != nil {
				m.logger.Warn("group lookup failed during capability check",
					zap.String("request_id", requestID),
					zap.String("principal", user.Principal()),
					zap.Error(res.LookupErr))
			}

			if !roles.HasCapability(res.Role, c) {
				m.logger.Warn("insufficient permissions",
					zap.String("request_id", requestID),
					zap.String("principal", user.Principal()),
					zap.String("capability", string(c)),
					zap.String("role", res.Role.String()),
					zap.String("role_source", string(res.Source)))
				_ = utils.WriteForbidden(w, string(denialReason(res.Role, c)), "Your role does not allow this action")
				return
			}

			m.logger.Debug("capability check passed",
				zap.String("request_id", requestID),
				zap.String("capability", string(c)),
				zap.String("role", res.Role.String()))

			next.ServeHTTP(w, r.WithContext(WithResolution(ctx, res)))
		})
	}
}

// denialReason picks the reason code for a failed capability check.
func denialReason(role roles.Role, c roles.Capability) gates.DenialReason {
	switch {
	case roles.MinimumRoleFor(c) == roles.RoleAdmin:
		return gates.ReasonAdminOnly
	case role == roles.RoleInvestor:
		return gates.ReasonInvestorRestricted
	default:
		return gates.ReasonNoPermission
	}
}

// extractToken extracts the JWT from the Authorization header ("Bearer TOKEN")
// or the auth_token cookie
func extractToken(r *http.Request) string {
	if token := extractBearerToken(r); token != "" {
		return token
	}
	if cookie, err := r.Cookie(authTokenCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return ""
}

// extractBearerToken extracts the Bearer token from the Authorization header
func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
