package authstate

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Session is an authenticated principal and its current identity token.
// The raw token lives only in memory.
type Session struct {
	ID          uuid.UUID
	PrincipalID string
	Email       string
	RawToken    string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// Expired reports whether the token is past its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Credentials are either a username/password pair or an OAuth2
// authorization code from the hosted UI.
type Credentials struct {
	Username    string `json:"username" validate:"required_without=Code,max=256"`
	Password    string `json:"password" validate:"required_with=Username,max=256"`
	Code        string `json:"code,omitempty" validate:"required_without=Username,max=2048"`
	RedirectURI string `json:"-"`
}

// IsCode reports whether the credentials carry an authorization code.
func (c Credentials) IsCode() bool {
	return c.Code != "" && c.Username == ""
}

// TokenStore wraps the identity provider session. Every operation may fail.
type TokenStore interface {
	// GetCurrentSession returns the stored session, refreshing an expired
	// token when possible. ErrSessionAbsent when nothing is stored.
	GetCurrentSession(ctx context.Context) (*Session, error)
	SignIn(ctx context.Context, creds Credentials) (*Session, error)
	SignOut(ctx context.Context) error
	GetFreshToken(ctx context.Context) (string, error)
}
