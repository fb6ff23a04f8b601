package cognito

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	cip "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
	"github.com/upb/realty-dashboard/services"
)

// GroupsAPI is the subset of the Cognito admin API used for group lookups.
type GroupsAPI interface {
	AdminListGroupsForUser(ctx context.Context, params *cip.AdminListGroupsForUserInput, optFns ...func(*cip.Options)) (*cip.AdminListGroupsForUserOutput, error)
}

// GroupLookup lists a principal's current group memberships in a user pool.
type GroupLookup struct {
	api        GroupsAPI
	userPoolID string
}

// NewGroupLookup creates a group lookup bound to one user pool.
func NewGroupLookup(api GroupsAPI, userPoolID string) *GroupLookup {
	return &GroupLookup{api: api, userPoolID: userPoolID}
}

// ListGroupsForPrincipal returns every group name the principal belongs to.
// The principal is the pool username, which for this pool is the email.
// Failures are reported as group lookup errors.
func (g *GroupLookup) ListGroupsForPrincipal(ctx context.Context, principal string) ([]string, error) {
	if principal == "" {
		return nil, services.NewDomainError(services.ErrorTypeGroupLookup, "principal is required", nil)
	}

	var groups []string
	input := &cip.AdminListGroupsForUserInput{
		UserPoolId: aws.String(g.userPoolID),
		Username:   aws.String(principal),
	}
	for {
		out, err := g.api.AdminListGroupsForUser(ctx, input)
		if err != nil {
			return nil, services.NewDomainError(services.ErrorTypeGroupLookup, lookupFailureMessage(err), err).
				WithDetail("principal", principal)
		}
		for _, group := range out.Groups {
			if name := aws.ToString(group.GroupName); name != "" {
				groups = append(groups, name)
			}
		}
		if aws.ToString(out.NextToken) == "" {
			break
		}
		input.NextToken = out.NextToken
	}

	return groups, nil
}

func lookupFailureMessage(err error) string {
	var notFound *types.UserNotFoundException
	if errors.As(err, &notFound) {
		return "principal not found in user pool"
	}
	var throttled *types.TooManyRequestsException
	if errors.As(err, &throttled) {
		return "group lookup throttled"
	}
	return "group lookup failed"
}
