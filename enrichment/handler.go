// Package enrichment implements the Cognito pre token generation trigger
// that stamps each issued token with the principal's canonical role.
//
// Group lookup failures never fail token issuance: the principal is given
// the least-privileged role tagged error-fallback, and sensitive actions are
// re-verified server side later.
package enrichment

import (
	"context"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/upb/realty-dashboard/cognito"
	"github.com/upb/realty-dashboard/roles"
	"go.uber.org/zap"
)

// GroupLister lists a principal's identity provider groups.
type GroupLister interface {
	ListGroupsForPrincipal(ctx context.Context, principal string) ([]string, error)
}

// Handler handles pre token generation events.
type Handler struct {
	groups        GroupLister
	logger        *zap.Logger
	lookupTimeout time.Duration
}

// NewHandler creates a trigger handler. lookupTimeout bounds the group
// lookup so that issuance stays within the trigger's time limit.
func NewHandler(groups GroupLister, logger *zap.Logger, lookupTimeout time.Duration) *Handler {
	if lookupTimeout <= 0 {
		lookupTimeout = 3 * time.Second
	}
	return &Handler{groups: groups, logger: logger, lookupTimeout: lookupTimeout}
}

// Resolve maps a principal's group memberships to a role. It never fails:
// an inconclusive lookup yields the default role and a failed lookup
// yields the default role tagged error-fallback. The lookup error, if any,
// is returned alongside for logging.
func Resolve(ctx context.Context, groups GroupLister, principal string) (roles.Role, roles.Source, error) {
	names, err := groups.ListGroupsForPrincipal(ctx, principal)
	if err != nil {
		return roles.Default, roles.SourceErrorFallback, err
	}
	if role, ok := roles.FromGroups(names); ok {
		return role, roles.SourceGroupLookup, nil
	}
	return roles.Default, roles.SourceDefault, nil
}

// Handle adds custom:role and custom:roleSource to the token being issued,
// preserving any overrides already present on the event.
func (h *Handler) Handle(ctx context.Context, event events.CognitoEventUserPoolsPreTokenGen) (events.CognitoEventUserPoolsPreTokenGen, error) {
	principal := principalOf(event)

	lookupCtx, cancel := context.WithTimeout(ctx, h.lookupTimeout)
	role, source, err := Resolve(lookupCtx, h.groups, principal)
	cancel()

	fields := []zap.Field{
		zap.String("principal", principal),
		zap.String("trigger_source", event.TriggerSource),
		zap.String("role", role.String()),
		zap.String("role_source", string(source)),
	}
	if err != nil {
		h.logger.Warn("group lookup failed, issuing least-privileged role", append(fields, zap.Error(err))...)
	} else {
		h.logger.Info("token enriched with role", fields...)
	}

	overrides := event.Response.ClaimsOverrideDetails.ClaimsToAddOrOverride
	if overrides == nil {
		overrides = make(map[string]string, 2)
	}
	overrides[cognito.ClaimRole] = string(role)
	overrides[cognito.ClaimRoleSource] = string(source)
	event.Response.ClaimsOverrideDetails.ClaimsToAddOrOverride = overrides

	return event, nil
}

// principalOf returns the verified email attribute, or the pool username
// when the email is missing or explicitly unverified.
func principalOf(event events.CognitoEventUserPoolsPreTokenGen) string {
	attrs := event.Request.UserAttributes
	email := strings.TrimSpace(attrs["email"])
	if email != "" && attrs["email_verified"] != "false" {
		return email
	}
	return event.UserName
}
