// Package roleresolver derives a session's canonical role from its token
// claim and the principal's current group memberships, caches it per
// session and answers capability queries without I/O.
package roleresolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/upb/realty-dashboard/cognito"
	"github.com/upb/realty-dashboard/roles"
	"github.com/upb/realty-dashboard/services"
)

// ErrTokenUnavailable marks a resolution made for a session whose token
// could not be obtained.
var ErrTokenUnavailable = errors.New("session token unavailable")

// GroupLister lists a principal's identity provider groups.
type GroupLister interface {
	ListGroupsForPrincipal(ctx context.Context, principal string) ([]string, error)
}

// Resolution is the outcome of one role derivation.
type Resolution struct {
	Role   roles.Role
	Source roles.Source
	Groups []string
	// ClaimErr and LookupErr record the recoverable failures absorbed
	// while deriving. They never make the resolution itself fail.
	ClaimErr  error
	LookupErr error
}

// Degraded reports whether the role was chosen because a lookup failed.
func (r Resolution) Degraded() bool {
	return r.Source == roles.SourceErrorFallback
}

// Derive computes the role for a token. Group memberships take precedence
// over the token claim, which may be stale; when neither is conclusive the
// least-privileged role is used. Derive never fails: any decode or lookup
// error is absorbed and the result is tagged error-fallback.
//
// principal is the lookup key; when empty it is read from the token.
// A nil lookup is treated as an inconclusive one.
func Derive(ctx context.Context, token, principal string, lookup GroupLister) Resolution {
	if token == "" {
		return Resolution{Role: roles.RoleNone, Source: roles.SourceNone}
	}

	claim := cognito.DecodeRoleClaim(token)
	res := Resolution{Groups: claim.Groups}
	if claim.Status == cognito.ClaimError {
		res.ClaimErr = claim.Err
	}

	if lookup == nil {
		return fromClaim(res, claim)
	}

	if principal == "" {
		if id, err := cognito.DecodeIdentity(token); err == nil {
			principal = id.Email
		}
	}

	groups, err := listGroups(ctx, lookup, principal)
	if err != nil {
		res.LookupErr = err
		if claim.OK() {
			res.Role, res.Source = claim.Role, roles.SourceErrorFallback
			return res
		}
		res.Role, res.Source = roles.Default, roles.SourceErrorFallback
		return res
	}

	res.Groups = groups
	if role, ok := roles.FromGroups(groups); ok {
		res.Role, res.Source = role, roles.SourceGroupLookup
		return res
	}
	return fromClaim(res, claim)
}

// tokenUnavailable is the resolution of a live session without a usable
// token: the least-privileged role, tagged error-fallback.
func tokenUnavailable() Resolution {
	return Resolution{Role: roles.Default, Source: roles.SourceErrorFallback, LookupErr: ErrTokenUnavailable}
}

// fromClaim settles a resolution on the claim alone.
func fromClaim(res Resolution, claim cognito.RoleClaimResult) Resolution {
	switch claim.Status {
	case cognito.ClaimOK:
		res.Role, res.Source = claim.Role, roles.SourceClaim
	case cognito.ClaimError:
		res.Role, res.Source = roles.Default, roles.SourceErrorFallback
	default:
		res.Role, res.Source = roles.Default, roles.SourceDefault
	}
	return res
}

// listGroups calls the lookup, turning a panic into a lookup error.
func listGroups(ctx context.Context, lookup GroupLister, principal string) (groups []string, err error) {
	if principal == "" {
		return nil, services.NewDomainError(services.ErrorTypeGroupLookup, "no principal to look up", nil)
	}

	defer func() {
		if r := recover(); r != nil {
			groups = nil
			err = services.NewDomainError(services.ErrorTypeGroupLookup, fmt.Sprintf("group lookup panicked: %v", r), nil)
		}
	}()

	return lookup.ListGroupsForPrincipal(ctx, principal)
}
