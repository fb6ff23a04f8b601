// Package gates decides what a protected view should show given the
// authentication state and the resolved role. Decisions are pure values;
// the middleware package turns them into HTTP responses.
package gates

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/upb/realty-dashboard/authstate"
	"github.com/upb/realty-dashboard/roleresolver"
	"github.com/upb/realty-dashboard/roles"
)

// AuthViewState is the single state a view renders from.
type AuthViewState string

const (
	Bootstrapping         AuthViewState = "bootstrapping"
	Unauthenticated       AuthViewState = "unauthenticated"
	AuthenticatedReady    AuthViewState = "authenticated_ready"
	AuthenticatedDegraded AuthViewState = "authenticated_degraded"
)

// Project combines the auth state and role snapshot into a view state.
// A session whose role fell back after a lookup failure is degraded.
func Project(state authstate.State, snap roleresolver.Snapshot) AuthViewState {
	switch {
	case !state.AuthCheckComplete:
		return Bootstrapping
	case !state.IsAuthenticated:
		return Unauthenticated
	case snap.Resolved && snap.Source == roles.SourceErrorFallback:
		return AuthenticatedDegraded
	default:
		return AuthenticatedReady
	}
}

// Outcome is what a gate renders.
type Outcome string

const (
	OutcomeRender    Outcome = "render"
	OutcomeLoading   Outcome = "loading"
	OutcomeVerifying Outcome = "verifying"
	OutcomeRedirect  Outcome = "redirect"
	OutcomeDeny      Outcome = "deny"
)

// DenialReason distinguishes denials so each gets its own instructions.
type DenialReason string

const (
	ReasonInvestorRestricted DenialReason = "investor_restricted"
	ReasonAdminOnly          DenialReason = "admin_only"
	ReasonNoPermission       DenialReason = "no_permission"
)

const (
	// Investor messages take the audience of the gate, e.g. "professionals/admins".
	msgInvestorRestricted = "This feature is reserved for %s. Your account has investor access."
	msgUploadRestricted   = "Uploading content is reserved for %s. Your account has investor access."
	msgAdminOnly          = "This area is available to administrators only."
	msgNoPermission       = "You do not have permission to view this page."
)

// Decision is a gate's verdict.
type Decision struct {
	Outcome Outcome
	// Next is the location to return to after signing in (redirects only).
	Next string
	// SessionExpired marks a redirect caused by an expired session rather
	// than a missing one.
	SessionExpired bool
	// Reason and Message are set on denials only.
	Reason  DenialReason
	Message string
}

// PrivateApp gates the authenticated application shell.
func PrivateApp(state authstate.State, origin string) Decision {
	switch {
	case !state.AuthCheckComplete:
		return Decision{Outcome: OutcomeLoading}
	case state.SessionExpired():
		return Decision{Outcome: OutcomeRedirect, Next: origin, SessionExpired: true}
	case !state.IsAuthenticated:
		return Decision{Outcome: OutcomeRedirect, Next: origin}
	default:
		return Decision{Outcome: OutcomeRender}
	}
}

// RoleProtectedRoute gates a view on the resolved role belonging to
// required. With no required roles any resolved role qualifies. While the
// role is resolving the decision is Verifying, never a denial.
func RoleProtectedRoute(snap roleresolver.Snapshot, required ...roles.Role) Decision {
	if !snap.Resolved {
		return Decision{Outcome: OutcomeVerifying}
	}
	if qualifies(snap.Role, required) {
		return Decision{Outcome: OutcomeRender}
	}
	return deny(snap.Role, required, msgInvestorRestricted)
}

// RoleProtectedUpload gates content upload on the professional or admin role.
func RoleProtectedUpload(snap roleresolver.Snapshot) Decision {
	if !snap.Resolved {
		return Decision{Outcome: OutcomeVerifying}
	}
	required := []roles.Role{roles.RoleProfessional, roles.RoleAdmin}
	if qualifies(snap.Role, required) {
		return Decision{Outcome: OutcomeRender}
	}
	return deny(snap.Role, required, msgUploadRestricted)
}

func qualifies(role roles.Role, required []roles.Role) bool {
	if !role.IsValid() {
		return false
	}
	return len(required) == 0 || contains(required, role)
}

func deny(role roles.Role, required []roles.Role, investorMessage string) Decision {
	d := Decision{Outcome: OutcomeDeny}
	switch {
	case len(required) == 1 && required[0] == roles.RoleAdmin:
		d.Reason, d.Message = ReasonAdminOnly, msgAdminOnly
	case role == roles.RoleInvestor && !contains(required, roles.RoleInvestor):
		d.Reason, d.Message = ReasonInvestorRestricted, fmt.Sprintf(investorMessage, audience(required))
	default:
		d.Reason, d.Message = ReasonNoPermission, msgNoPermission
	}
	return d
}

// audience names the roles a gate admits, in the order given.
func audience(required []roles.Role) string {
	names := make([]string, 0, len(required))
	for _, r := range required {
		names = append(names, strings.ToLower(string(r))+"s")
	}
	return strings.Join(names, "/")
}

func contains(rs []roles.Role, role roles.Role) bool {
	for _, r := range rs {
		if r == role {
			return true
		}
	}
	return false
}

// SignInURL builds the sign-in location carrying the origin to return to.
// An expired session adds reason=session_expired.
func SignInURL(base, origin string, expired bool) string {
	q := url.Values{}
	if origin != "" {
		q.Set("next", origin)
	}
	if expired {
		q.Set("reason", "session_expired")
	}
	if len(q) == 0 {
		return base
	}

	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + q.Encode()
}
