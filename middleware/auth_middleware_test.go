package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/upb/realty-dashboard/cognito"
	"github.com/upb/realty-dashboard/roles"
	"github.com/upb/realty-dashboard/utils"
	"go.uber.org/zap"
)

// MockTokenValidator is a mock implementation of TokenValidator
type MockTokenValidator struct {
	mock.Mock
}

func (m *MockTokenValidator) ValidateToken(ctx context.Context, token string) (*cognito.ParsedClaims, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cognito.ParsedClaims), args.Error(1)
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

func testClaims() *cognito.ParsedClaims {
	return &cognito.ParsedClaims{
		Sub:      uuid.MustParse("7d1e9c1a-3f9b-4a51-9a7e-0b7c8e6a1f10"),
		Email:    "user@example.com",
		Username: "user@example.com",
		TokenUse: "id",
	}
}

// roleToken builds an unsigned token carrying the given role claim.
func roleToken(t *testing.T, role string) string {
	claims := jwt.MapClaims{
		"sub":   "7d1e9c1a-3f9b-4a51-9a7e-0b7c8e6a1f10",
		"email": "user@example.com",
	}
	if role != "" {
		claims["custom:role"] = role
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	return s
}

func okHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func TestRequireAuth(t *testing.T) {
	logger := zap.NewNop()

	t.Run("valid JWT in Authorization header allows request", func(t *testing.T) {
		mockValidator := new(MockTokenValidator)
		middleware := NewAuthMiddleware(mockValidator, nil, 0, logger)
		mockValidator.On("ValidateToken", mock.Anything, "valid-token").Return(testClaims(), nil)

		handler := middleware.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := GetUserFromContext(r.Context())
			require.NotNil(t, user)
			assert.Equal(t, "user@example.com", user.Principal())
			assert.Equal(t, "valid-token", GetTokenFromContext(r.Context()))
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer valid-token")
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		mockValidator.AssertExpectations(t)
	})

	t.Run("valid JWT in cookie allows request", func(t *testing.T) {
		mockValidator := new(MockTokenValidator)
		middleware := NewAuthMiddleware(mockValidator, nil, 0, logger)
		mockValidator.On("ValidateToken", mock.Anything, "cookie-token").Return(testClaims(), nil)

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.AddCookie(&http.Cookie{Name: "auth_token", Value: "cookie-token"})
		w := httptest.NewRecorder()

		middleware.RequireAuth(http.HandlerFunc(okHandler)).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		mockValidator.AssertExpectations(t)
	})

	t.Run("header takes precedence over cookie", func(t *testing.T) {
		mockValidator := new(MockTokenValidator)
		middleware := NewAuthMiddleware(mockValidator, nil, 0, logger)
		mockValidator.On("ValidateToken", mock.Anything, "header-token").Return(testClaims(), nil)

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer header-token")
		req.AddCookie(&http.Cookie{Name: "auth_token", Value: "cookie-token"})
		w := httptest.NewRecorder()

		middleware.RequireAuth(http.HandlerFunc(okHandler)).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		mockValidator.AssertExpectations(t)
	})

	t.Run("missing or malformed authorization returns 401", func(t *testing.T) {
		for _, header := range []string{"", "Basic dXNlcjpwYXNz", "Bearer"} {
			mockValidator := new(MockTokenValidator)
			middleware := NewAuthMiddleware(mockValidator, nil, 0, logger)

			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			w := httptest.NewRecorder()

			middleware.RequireAuth(http.HandlerFunc(okHandler)).ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code, header)
			mockValidator.AssertNotCalled(t, "ValidateToken", mock.Anything, mock.Anything)
		}
	})

	t.Run("invalid token returns 401", func(t *testing.T) {
		mockValidator := new(MockTokenValidator)
		middleware := NewAuthMiddleware(mockValidator, nil, 0, logger)
		mockValidator.On("ValidateToken", mock.Anything, "bad-token").Return(nil, errors.New("token expired"))

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer bad-token")
		w := httptest.NewRecorder()

		middleware.RequireAuth(http.HandlerFunc(okHandler)).ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "Invalid or expired token")
	})

	t.Run("unreachable signing keys return 503", func(t *testing.T) {
		mockValidator := new(MockTokenValidator)
		middleware := NewAuthMiddleware(mockValidator, nil, 0, logger)
		mockValidator.On("ValidateToken", mock.Anything, "some-token").
			Return(nil, fmt.Errorf("%w: status code 500", cognito.ErrJWKSFetchFailed))

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer some-token")
		w := httptest.NewRecorder()

		middleware.RequireAuth(http.HandlerFunc(okHandler)).ServeHTTP(w, req)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestRequireCapability(t *testing.T) {
	logger := zap.NewNop()

	serve := func(m *AuthMiddleware, token string, c roles.Capability, next http.HandlerFunc) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/uploads", nil)
		ctx := WithToken(WithUser(req.Context(), testClaims().ToUserContext()), token)
		w := httptest.NewRecorder()
		m.RequireCapability(c)(next).ServeHTTP(w, req.WithContext(ctx))
		return w
	}

	t.Run("current groups override a stale claim", func(t *testing.T) {
		lister := new(MockGroupLister)
		lister.On("ListGroupsForPrincipal", mock.Anything, "user@example.com").Return([]string{"investor"}, nil)
		m := NewAuthMiddleware(new(MockTokenValidator), lister, 0, logger)

		w := serve(m, roleToken(t, "PROFESSIONAL"), roles.ActionUploadContent, okHandler)

		assert.Equal(t, http.StatusForbidden, w.Code)
		var body utils.ErrorResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, "investor_restricted", body.Reason)
		lister.AssertExpectations(t)
	})

	t.Run("promoted principal is allowed before the token is reissued", func(t *testing.T) {
		lister := new(MockGroupLister)
		lister.On("ListGroupsForPrincipal", mock.Anything, "user@example.com").Return([]string{"professional"}, nil)
		m := NewAuthMiddleware(new(MockTokenValidator), lister, 0, logger)

		w := serve(m, roleToken(t, "INVESTOR"), roles.ActionUploadContent, func(w http.ResponseWriter, r *http.Request) {
			res, ok := GetResolutionFromContext(r.Context())
			require.True(t, ok)
			assert.Equal(t, roles.RoleProfessional, res.Role)
			assert.Equal(t, roles.SourceGroupLookup, res.Source)
			w.WriteHeader(http.StatusOK)
		})

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("lookup failure falls back to the claim", func(t *testing.T) {
		lister := new(MockGroupLister)
		lister.On("ListGroupsForPrincipal", mock.Anything, mock.Anything).Return(nil, errors.New("throttled"))
		m := NewAuthMiddleware(new(MockTokenValidator), lister, 0, logger)

		w := serve(m, roleToken(t, "PROFESSIONAL"), roles.ActionExportReports, okHandler)
		assert.Equal(t, http.StatusOK, w.Code)

		w = serve(m, roleToken(t, ""), roles.ActionExportReports, okHandler)
		assert.Equal(t, http.StatusForbidden, w.Code, "no claim falls back to investor")
	})

	t.Run("admin capability reports admin_only", func(t *testing.T) {
		m := NewAuthMiddleware(new(MockTokenValidator), nil, 0, logger)

		w := serve(m, roleToken(t, "PROFESSIONAL"), roles.ActionManageUsers, okHandler)

		assert.Equal(t, http.StatusForbidden, w.Code)
		var body utils.ErrorResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, "admin_only", body.Reason)
	})

	t.Run("access token principal comes from the username claim", func(t *testing.T) {
		access, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
			"sub":            "7d1e9c1a-3f9b-4a51-9a7e-0b7c8e6a1f10",
			"token_use":      "access",
			"username":       "user@example.com",
			"cognito:groups": []string{"admin"},
			"custom:role":    "ADMIN",
		}).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		claims, err := cognito.ExtractClaims(access)
		require.NoError(t, err)

		validator := new(MockTokenValidator)
		validator.On("ValidateToken", mock.Anything, access).Return(claims, nil)
		lister := new(MockGroupLister)
		lister.On("ListGroupsForPrincipal", mock.Anything, "user@example.com").Return([]string{"investor"}, nil)
		m := NewAuthMiddleware(validator, lister, 0, logger)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/users", nil)
		req.Header.Set("Authorization", "Bearer "+access)
		w := httptest.NewRecorder()
		m.RequireAuth(m.RequireCapability(roles.ActionManageUsers)(http.HandlerFunc(okHandler))).ServeHTTP(w, req)

		assert.Equal(t, http.StatusForbidden, w.Code)
		lister.AssertNumberOfCalls(t, "ListGroupsForPrincipal", 1)
		lister.AssertExpectations(t)
	})

	t.Run("token without a principal is denied when groups are looked up", func(t *testing.T) {
		lister := new(MockGroupLister)
		m := NewAuthMiddleware(new(MockTokenValidator), lister, 0, logger)

		anon := testClaims()
		anon.Email, anon.Username = "", ""
		req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/users", nil)
		ctx := WithToken(WithUser(req.Context(), anon.ToUserContext()), roleToken(t, "ADMIN"))
		w := httptest.NewRecorder()
		m.RequireCapability(roles.ActionManageUsers)(http.HandlerFunc(okHandler)).ServeHTTP(w, req.WithContext(ctx))

		assert.Equal(t, http.StatusForbidden, w.Code)
		var body utils.ErrorResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, "no_permission", body.Reason)
		lister.AssertNotCalled(t, "ListGroupsForPrincipal", mock.Anything, mock.Anything)
	})

	t.Run("missing caller returns 401", func(t *testing.T) {
		m := NewAuthMiddleware(new(MockTokenValidator), nil, 0, logger)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/uploads", nil)
		w := httptest.NewRecorder()

		m.RequireCapability(roles.ActionUploadContent)(http.HandlerFunc(okHandler)).ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestDenialReason(t *testing.T) {
	assert.Equal(t, "admin_only", string(denialReason(roles.RoleProfessional, roles.SectionAdminPanel)))
	assert.Equal(t, "investor_restricted", string(denialReason(roles.RoleInvestor, roles.ActionUploadContent)))
	assert.Equal(t, "no_permission", string(denialReason(roles.RoleNone, roles.SectionDashboard)))
}
