package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/upb/realty-dashboard/authstate"
	"github.com/upb/realty-dashboard/roleresolver"
	"github.com/upb/realty-dashboard/roles"
	"github.com/upb/realty-dashboard/services"
	"github.com/upb/realty-dashboard/workspace"
	"go.uber.org/zap"
)

const testPrincipal = "7d1e9c1a-3f9b-4a51-9a7e-0b7c8e6a1f10"

// MockTokenStore is a mock implementation of authstate.TokenStore
type MockTokenStore struct {
	mock.Mock
}

func (m *MockTokenStore) GetCurrentSession(ctx context.Context) (*authstate.Session, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*authstate.Session), args.Error(1)
}

func (m *MockTokenStore) SignIn(ctx context.Context, creds authstate.Credentials) (*authstate.Session, error) {
	args := m.Called(ctx, creds)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*authstate.Session), args.Error(1)
}

func (m *MockTokenStore) SignOut(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockTokenStore) GetFreshToken(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

// MockGroupLister is a mock implementation of roleresolver.GroupLister
type MockGroupLister struct {
	mock.Mock
}

func (m *MockGroupLister) ListGroupsForPrincipal(ctx context.Context, principal string) ([]string, error) {
	args := m.Called(ctx, principal)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

// MockRoleAuditor is a mock implementation of RoleAuditor
type MockRoleAuditor struct {
	mock.Mock
}

func (m *MockRoleAuditor) LogRoleRefreshed(ctx context.Context, sessionID uuid.UUID, principalID, email string, role roles.Role, source roles.Source) error {
	return m.Called(ctx, sessionID, principalID, email, role, source).Error(0)
}

// roleToken builds an unsigned token carrying the given role claim.
func roleToken(t *testing.T, role string) string {
	claims := jwt.MapClaims{
		"sub":   testPrincipal,
		"email": "agent@example.com",
	}
	if role != "" {
		claims["custom:role"] = role
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	return s
}

func sessionWithRole(t *testing.T, role string) *authstate.Session {
	return &authstate.Session{
		ID:          uuid.New(),
		PrincipalID: testPrincipal,
		Email:       "agent@example.com",
		RawToken:    roleToken(t, role),
	}
}

// signedOutStore is a store with nothing persisted.
func signedOutStore() *MockTokenStore {
	store := new(MockTokenStore)
	store.On("GetCurrentSession", mock.Anything).Return(nil, services.ErrSessionAbsent).Maybe()
	store.On("SignOut", mock.Anything).Return(nil).Maybe()
	return store
}

// signedInStore is a store holding session.
func signedInStore(session *authstate.Session) *MockTokenStore {
	store := new(MockTokenStore)
	store.On("GetCurrentSession", mock.Anything).Return(session, nil).Maybe()
	store.On("SignOut", mock.Anything).Return(nil).Maybe()
	return store
}

// newBootstrappedWorkspace builds a workspace whose bootstrap has completed.
// lookup may be nil.
func newBootstrappedWorkspace(t *testing.T, store authstate.TokenStore, lookup roleresolver.GroupLister) *workspace.Workspace {
	provider := authstate.NewProvider(store, nil, zap.NewNop())
	resolver, err := roleresolver.New(provider, lookup, nil, zap.NewNop(), roleresolver.Config{})
	require.NoError(t, err)
	ws := workspace.New(uuid.New(), provider, resolver)
	require.NoError(t, provider.Bootstrap(context.Background()))
	t.Cleanup(ws.Close)
	return ws
}

func withWorkspace(req *http.Request, ws *workspace.Workspace) *http.Request {
	return req.WithContext(workspace.WithWorkspace(req.Context(), ws))
}
