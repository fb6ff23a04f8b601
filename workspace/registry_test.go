package workspace

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/realty-dashboard/authstate"
	"github.com/upb/realty-dashboard/roleresolver"
	"github.com/upb/realty-dashboard/services"
	"go.uber.org/zap"
)

// emptyStore never holds a session.
type emptyStore struct{}

func (emptyStore) GetCurrentSession(context.Context) (*authstate.Session, error) {
	return nil, services.ErrSessionAbsent
}

func (emptyStore) SignIn(context.Context, authstate.Credentials) (*authstate.Session, error) {
	return nil, services.ErrCredentialsInvalid
}

func (emptyStore) SignOut(context.Context) error { return nil }

func (emptyStore) GetFreshToken(context.Context) (string, error) {
	return "", services.ErrSessionAbsent
}

func buildWorkspace(id uuid.UUID) (*Workspace, error) {
	provider := authstate.NewProvider(emptyStore{}, nil, zap.NewNop())
	resolver, err := roleresolver.New(provider, nil, nil, zap.NewNop(), roleresolver.Config{})
	if err != nil {
		return nil, err
	}
	return New(id, provider, resolver), nil
}

func newTestRegistry(size int) *Registry {
	return NewRegistry(Config{CookieName: "dash_ws", TTL: time.Hour, MaxSize: size}, buildWorkspace, zap.NewNop())
}

func TestRegistry_AttachCreatesAndReuses(t *testing.T) {
	reg := newTestRegistry(10)
	defer reg.Close()

	rec := httptest.NewRecorder()
	ws, err := reg.Attach(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "dash_ws", cookies[0].Name)
	assert.Equal(t, ws.ID.String(), cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)
	assert.Equal(t, 3600, cookies[0].MaxAge)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	rec = httptest.NewRecorder()
	again, err := reg.Attach(rec, req)
	require.NoError(t, err)
	assert.Same(t, ws, again)
	assert.Empty(t, rec.Result().Cookies(), "known workspaces keep their cookie")
	assert.Equal(t, 1, reg.Len())
}

func TestRegistry_UnknownCookieGetsNewWorkspace(t *testing.T) {
	reg := newTestRegistry(10)
	defer reg.Close()

	for _, value := range []string{"not-a-uuid", uuid.NewString()} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: "dash_ws", Value: value})
		rec := httptest.NewRecorder()

		ws, err := reg.Attach(rec, req)
		require.NoError(t, err)
		assert.NotEqual(t, value, ws.ID.String())
		assert.Len(t, rec.Result().Cookies(), 1)
	}
}

func TestRegistry_CreateMountsWorkspace(t *testing.T) {
	reg := newTestRegistry(10)
	defer reg.Close()

	ws, err := reg.Create()
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return ws.Provider.State().AuthCheckComplete
	}, time.Second, 5*time.Millisecond)
	assert.False(t, ws.Provider.State().IsAuthenticated)
}

func TestRegistry_EvictsLeastRecentlyUsed(t *testing.T) {
	reg := newTestRegistry(1)
	defer reg.Close()

	first, err := reg.Create()
	require.NoError(t, err)
	second, err := reg.Create()
	require.NoError(t, err)

	_, ok := reg.Get(first.ID)
	assert.False(t, ok)
	_, ok = reg.Get(second.ID)
	assert.True(t, ok)
	assert.Equal(t, 1, reg.Len())

	reg.Remove(second.ID)
	assert.Equal(t, 0, reg.Len())
}

func captureWorkspace(seen **Workspace) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*seen = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestRegistry_MiddlewareSharesAnonymousWorkspace(t *testing.T) {
	reg := newTestRegistry(10)
	defer reg.Close()

	var first, second *Workspace
	rec := httptest.NewRecorder()
	reg.Middleware(captureWorkspace(&first)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Result().Cookies())

	rec = httptest.NewRecorder()
	reg.Middleware(captureWorkspace(&second)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.NotNil(t, first)
	assert.Same(t, first, second)
	assert.Equal(t, uuid.Nil, first.ID)
	assert.Equal(t, 0, reg.Len(), "anonymous requests register nothing")
	assert.Eventually(t, func() bool {
		return first.Provider.State().AuthCheckComplete
	}, time.Second, 5*time.Millisecond)
	assert.False(t, first.Provider.State().IsAuthenticated)
}

func TestRegistry_MiddlewareUsesRegisteredWorkspace(t *testing.T) {
	reg := newTestRegistry(10)
	defer reg.Close()

	ws, err := reg.Create()
	require.NoError(t, err)

	var seen *Workspace
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "dash_ws", Value: ws.ID.String()})
	reg.Middleware(captureWorkspace(&seen)).ServeHTTP(httptest.NewRecorder(), req)

	assert.Same(t, ws, seen)
}

func TestRegistry_AnonymousTrafficDoesNotEvictSignedInBrowsers(t *testing.T) {
	reg := newTestRegistry(100)
	defer reg.Close()

	victim, err := reg.Create()
	require.NoError(t, err)

	var seen *Workspace
	handler := reg.Middleware(captureWorkspace(&seen))
	for i := 0; i < 100; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/app/dashboard", nil))
	}

	_, ok := reg.Get(victim.ID)
	assert.True(t, ok)
	assert.Equal(t, 1, reg.Len())
}

func TestRegistry_EstablishCreatesWorkspace(t *testing.T) {
	reg := newTestRegistry(10)
	defer reg.Close()

	var seen *Workspace
	rec := httptest.NewRecorder()
	reg.Establish(captureWorkspace(&seen)).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/signin", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, seen)
	_, ok := reg.Get(seen.ID)
	assert.True(t, ok)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, seen.ID.String(), cookies[0].Value)
}

func TestRegistry_MiddlewareBuildFailure(t *testing.T) {
	reg := NewRegistry(Config{CookieName: "dash_ws"}, func(uuid.UUID) (*Workspace, error) {
		return nil, errors.New("no resolver")
	}, zap.NewNop())

	for name, mw := range map[string]func(http.Handler) http.Handler{
		"middleware": reg.Middleware,
		"establish":  reg.Establish,
	} {
		t.Run(name, func(t *testing.T) {
			called := false
			handler := mw(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				called = true
			}))

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

			assert.Equal(t, http.StatusInternalServerError, rec.Code)
			assert.False(t, called)
		})
	}
}

func TestFromContext_Empty(t *testing.T) {
	assert.Nil(t, FromContext(context.Background()))
}
