package cognito

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	cip "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/upb/realty-dashboard/services"
)

type mockGroupsAPI struct {
	mock.Mock
}

func (m *mockGroupsAPI) AdminListGroupsForUser(ctx context.Context, params *cip.AdminListGroupsForUserInput, optFns ...func(*cip.Options)) (*cip.AdminListGroupsForUserOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cip.AdminListGroupsForUserOutput), args.Error(1)
}

func groupsOutput(next string, names ...string) *cip.AdminListGroupsForUserOutput {
	out := &cip.AdminListGroupsForUserOutput{}
	for _, n := range names {
		out.Groups = append(out.Groups, types.GroupType{GroupName: aws.String(n)})
	}
	if next != "" {
		out.NextToken = aws.String(next)
	}
	return out
}

func TestGroupLookup_Paginates(t *testing.T) {
	api := new(mockGroupsAPI)
	api.On("AdminListGroupsForUser", mock.Anything, mock.MatchedBy(func(in *cip.AdminListGroupsForUserInput) bool {
		return in.NextToken == nil && aws.ToString(in.Username) == "ana@example.com" && aws.ToString(in.UserPoolId) == testUserPoolID
	})).Return(groupsOutput("page-2", "investor"), nil).Once()
	api.On("AdminListGroupsForUser", mock.Anything, mock.MatchedBy(func(in *cip.AdminListGroupsForUserInput) bool {
		return aws.ToString(in.NextToken) == "page-2"
	})).Return(groupsOutput("", "professional"), nil).Once()

	groups, err := NewGroupLookup(api, testUserPoolID).ListGroupsForPrincipal(context.Background(), "ana@example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"investor", "professional"}, groups)
	api.AssertExpectations(t)
}

func TestGroupLookup_NoGroups(t *testing.T) {
	api := new(mockGroupsAPI)
	api.On("AdminListGroupsForUser", mock.Anything, mock.Anything).Return(groupsOutput(""), nil)

	groups, err := NewGroupLookup(api, testUserPoolID).ListGroupsForPrincipal(context.Background(), "ana@example.com")
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestGroupLookup_Errors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		message string
	}{
		{"user not found", &types.UserNotFoundException{Message: aws.String("nope")}, "principal not found in user pool"},
		{"throttled", &types.TooManyRequestsException{Message: aws.String("slow down")}, "group lookup throttled"},
		{"network", errors.New("dial tcp: i/o timeout"), "group lookup failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := new(mockGroupsAPI)
			api.On("AdminListGroupsForUser", mock.Anything, mock.Anything).Return(nil, tt.err)

			_, err := NewGroupLookup(api, testUserPoolID).ListGroupsForPrincipal(context.Background(), "ana@example.com")
			require.Error(t, err)
			assert.ErrorIs(t, err, services.ErrGroupLookup)
			assert.ErrorIs(t, err, tt.err)
			assert.Contains(t, err.Error(), tt.message)
			assert.Equal(t, "ana@example.com", services.GetErrorDetails(err)["principal"])
		})
	}
}

func TestGroupLookup_EmptyPrincipal(t *testing.T) {
	api := new(mockGroupsAPI)
	_, err := NewGroupLookup(api, testUserPoolID).ListGroupsForPrincipal(context.Background(), "")
	assert.True(t, services.IsGroupLookupError(err))
	api.AssertNotCalled(t, "AdminListGroupsForUser", mock.Anything, mock.Anything)
}
