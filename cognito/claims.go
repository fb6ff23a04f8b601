package cognito

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
	"github.com/upb/realty-dashboard/roles"
	"github.com/upb/realty-dashboard/services"
)

var (
	// ErrMissingClaim is returned when a required claim is missing
	ErrMissingClaim = errors.New("missing required claim")

	// ErrInvalidClaimType is returned when a claim has an unexpected type
	ErrInvalidClaimType = errors.New("invalid claim type")
)

// Claim names written by the pre token generation trigger.
const (
	ClaimRole       = "custom:role"
	ClaimRoleSource = "custom:roleSource"
	ClaimGroups     = "cognito:groups"
)

// Claims represents the claims carried by a Cognito ID or access token
type Claims struct {
	jwt.RegisteredClaims
	Email           string `json:"email"`
	EmailVerified   bool   `json:"email_verified"`
	TokenUse        string `json:"token_use"`
	AuthTime        int64  `json:"auth_time"`
	CognitoUsername string `json:"cognito:username"`
	// AccessUsername is the username claim of access tokens, which carry
	// neither cognito:username nor email.
	AccessUsername string   `json:"username,omitempty"`
	ClientID       string   `json:"client_id,omitempty"`
	Groups         []string `json:"cognito:groups,omitempty"`

	// Role enrichment written at issuance time
	Role       string `json:"custom:role,omitempty"`
	RoleSource string `json:"custom:roleSource,omitempty"`
}

// Username returns the Cognito username from whichever claim the token
// type carries.
func (c *Claims) Username() string {
	if c.CognitoUsername != "" {
		return c.CognitoUsername
	}
	return c.AccessUsername
}

// ParsedClaims represents parsed and validated claims
type ParsedClaims struct {
	Sub           uuid.UUID
	Email         string
	Username      string
	EmailVerified bool
	TokenUse      string
	Groups        []string
	RoleClaim     RoleClaimResult
	IssuedAt      time.Time
	ExpiresAt     time.Time
}

// ClaimStatus tags the outcome of decoding the role claim.
type ClaimStatus int

const (
	// ClaimAbsent means the token carries neither a role claim nor a known group.
	ClaimAbsent ClaimStatus = iota
	// ClaimOK means a well-formed role was decoded.
	ClaimOK
	// ClaimError means the token or claim was malformed.
	ClaimError
)

func (s ClaimStatus) String() string {
	switch s {
	case ClaimOK:
		return "ok"
	case ClaimError:
		return "error"
	default:
		return "absent"
	}
}

// RoleClaimResult is the tagged result of DecodeRoleClaim.
// Role and Source are set only when Status is ClaimOK; Err only when ClaimError.
type RoleClaimResult struct {
	Status ClaimStatus
	Role   roles.Role
	Source roles.Source
	// IssuedSource is the provenance recorded by the trigger, if any.
	IssuedSource roles.Source
	Groups       []string
	Err          error
}

// OK reports whether a role was decoded.
func (r RoleClaimResult) OK() bool { return r.Status == ClaimOK }

// rolePayload is the typed view of the token payload fields the role
// layer cares about.
type rolePayload struct {
	Role       *string  `mapstructure:"custom:role"`
	RoleSource string   `mapstructure:"custom:roleSource"`
	Groups     []string `mapstructure:"cognito:groups"`
}

func claimDecodeError(format string, args ...interface{}) RoleClaimResult {
	return RoleClaimResult{
		Status: ClaimError,
		Err:    services.NewDomainError(services.ErrorTypeClaimDecode, fmt.Sprintf(format, args...), nil),
	}
}

// DecodeRoleClaim decodes the role claim from a raw token without verifying
// its signature. The token's custom:role claim wins; when absent the
// cognito:groups claim is consulted. Unknown role strings are decode errors.
func DecodeRoleClaim(rawToken string) RoleClaimResult {
	if strings.TrimSpace(rawToken) == "" {
		return claimDecodeError("empty token")
	}

	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	mapClaims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(rawToken, mapClaims); err != nil {
		return claimDecodeError("failed to parse token: %v", err)
	}

	return decodeRolePayload(mapClaims)
}

func decodeRolePayload(payload map[string]interface{}) RoleClaimResult {
	var p rolePayload
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  &p,
		TagName: "mapstructure",
	})
	if err != nil {
		return claimDecodeError("failed to create decoder: %v", err)
	}
	if err := decoder.Decode(payload); err != nil {
		return claimDecodeError("%v: %v", ErrInvalidClaimType, err)
	}

	result := RoleClaimResult{Groups: p.Groups}
	if src := roles.Source(p.RoleSource); src.IsValid() {
		result.IssuedSource = src
	}

	if p.Role != nil {
		role, err := roles.Parse(*p.Role)
		if err != nil {
			r := claimDecodeError("%s: %v", ClaimRole, err)
			r.Groups = p.Groups
			return r
		}
		result.Status = ClaimOK
		result.Role = role
		result.Source = roles.SourceClaim
		return result
	}

	if role, ok := roles.FromGroups(p.Groups); ok {
		result.Status = ClaimOK
		result.Role = role
		result.Source = roles.SourceClaim
		return result
	}

	result.Status = ClaimAbsent
	return result
}

// Identity is the principal information carried by a token.
type Identity struct {
	PrincipalID string
	Email       string
	Username    string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// DecodeIdentity extracts the principal from a raw token without validation.
// The subject is required; the email falls back to the username.
func DecodeIdentity(rawToken string) (*Identity, error) {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())

	claims := &Claims{}
	if _, _, err := parser.ParseUnverified(rawToken, claims); err != nil {
		return nil, services.NewDomainError(services.ErrorTypeClaimDecode, "failed to parse token", err)
	}
	if claims.Subject == "" {
		return nil, services.NewDomainError(services.ErrorTypeClaimDecode, "token has no subject", ErrMissingClaim)
	}

	id := &Identity{
		PrincipalID: claims.Subject,
		Email:       claims.Email,
		Username:    claims.Username(),
	}
	if id.Email == "" {
		id.Email = id.Username
	}
	if claims.IssuedAt != nil {
		id.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}
	return id, nil
}

// ExtractClaims extracts and parses claims from a JWT token without validation
// This is useful when you already have a validated token and just need the claims
func ExtractClaims(tokenString string) (*ParsedClaims, error) {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())

	claims := &Claims{}
	if _, _, err := parser.ParseUnverified(tokenString, claims); err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	return parseClaims(claims)
}

// parseClaims converts Claims to ParsedClaims with proper type conversions
func parseClaims(claims *Claims) (*ParsedClaims, error) {
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	sub, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("invalid sub UUID: %w", err)
	}

	payload := map[string]interface{}{
		ClaimRoleSource: claims.RoleSource,
		ClaimGroups:     claims.Groups,
	}
	if claims.Role != "" {
		payload[ClaimRole] = claims.Role
	}

	parsed := &ParsedClaims{
		Sub:           sub,
		Email:         claims.Email,
		Username:      claims.Username(),
		EmailVerified: claims.EmailVerified,
		TokenUse:      claims.TokenUse,
		Groups:        claims.Groups,
		RoleClaim:     decodeRolePayload(payload),
	}
	if claims.IssuedAt != nil {
		parsed.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		parsed.ExpiresAt = claims.ExpiresAt.Time
	}

	return parsed, nil
}

// UserContext carries the authenticated API caller through the request pipeline
type UserContext struct {
	UserID   uuid.UUID
	Email    string
	Username string
	Groups   []string
	// ClaimRole is the role the token claims. It is advisory: sensitive
	// actions re-derive the role before proceeding.
	ClaimRole roles.Role
}

// ToUserContext converts ParsedClaims to UserContext
func (p *ParsedClaims) ToUserContext() *UserContext {
	u := &UserContext{
		UserID:   p.Sub,
		Email:    p.Email,
		Username: p.Username,
		Groups:   p.Groups,
	}
	if p.RoleClaim.OK() {
		u.ClaimRole = p.RoleClaim.Role
	}
	return u
}

// Principal returns the key used for group lookups.
func (u *UserContext) Principal() string {
	if u.Email != "" {
		return u.Email
	}
	return u.Username
}
