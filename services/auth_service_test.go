package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/realty-dashboard/config"
)

func tokenServer(t *testing.T, status int, body interface{}, inspect func(*http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if inspect != nil {
			inspect(r)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCognitoTokenExchanger_ExchangeCode(t *testing.T) {
	ctx := context.Background()

	t.Run("returns the token set", func(t *testing.T) {
		var got *http.Request
		srv := tokenServer(t, http.StatusOK, TokenResponse{
			IDToken:      "id-token",
			AccessToken:  "access-token",
			RefreshToken: "refresh-token",
			ExpiresIn:    3600,
			TokenType:    "Bearer",
		}, func(r *http.Request) {
			require.NoError(t, r.ParseForm())
			got = r
		})

		ex := NewCognitoTokenExchanger(config.CognitoConfig{Domain: srv.URL + "/", ClientID: "client", ClientSecret: "secret"})
		tokens, err := ex.ExchangeCode(ctx, "the-code", "http://localhost:8080/auth/callback")
		require.NoError(t, err)

		assert.Equal(t, "id-token", tokens.IDToken)
		assert.Equal(t, 3600, tokens.ExpiresIn)

		require.NotNil(t, got)
		assert.Equal(t, "/oauth2/token", got.URL.Path)
		assert.Equal(t, "authorization_code", got.PostForm.Get("grant_type"))
		assert.Equal(t, "the-code", got.PostForm.Get("code"))
		assert.Equal(t, "http://localhost:8080/auth/callback", got.PostForm.Get("redirect_uri"))
		user, pass, ok := got.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "client", user)
		assert.Equal(t, "secret", pass)
	})

	t.Run("public client sends no basic auth", func(t *testing.T) {
		srv := tokenServer(t, http.StatusOK, TokenResponse{IDToken: "id-token"}, func(r *http.Request) {
			_, _, ok := r.BasicAuth()
			assert.False(t, ok)
		})

		ex := NewCognitoTokenExchanger(config.CognitoConfig{Domain: srv.URL, ClientID: "client"})
		_, err := ex.ExchangeCode(ctx, "code", "http://localhost/cb")
		require.NoError(t, err)
	})

	t.Run("rejected code is invalid credentials", func(t *testing.T) {
		srv := tokenServer(t, http.StatusBadRequest, map[string]string{"error": "invalid_grant"}, nil)

		ex := NewCognitoTokenExchanger(config.CognitoConfig{Domain: srv.URL, ClientID: "client"})
		_, err := ex.ExchangeCode(ctx, "stale", "http://localhost/cb")
		require.Error(t, err)
		assert.True(t, IsCredentialsInvalidError(err))
		assert.Equal(t, "invalid_grant", GetErrorDetails(err)["oauth_error"])
	})

	t.Run("server failure is an external error", func(t *testing.T) {
		srv := tokenServer(t, http.StatusInternalServerError, map[string]string{"error": "server_error"}, nil)

		ex := NewCognitoTokenExchanger(config.CognitoConfig{Domain: srv.URL, ClientID: "client"})
		_, err := ex.ExchangeCode(ctx, "code", "http://localhost/cb")
		require.Error(t, err)
		assert.True(t, IsExternalError(err))
	})

	t.Run("missing id token is an external error", func(t *testing.T) {
		srv := tokenServer(t, http.StatusOK, TokenResponse{AccessToken: "access-only"}, nil)

		ex := NewCognitoTokenExchanger(config.CognitoConfig{Domain: srv.URL, ClientID: "client"})
		_, err := ex.ExchangeCode(ctx, "code", "http://localhost/cb")
		require.Error(t, err)
		assert.True(t, IsExternalError(err))
	})

	t.Run("unreachable domain is an external error", func(t *testing.T) {
		srv := tokenServer(t, http.StatusOK, nil, nil)
		domain := srv.URL
		srv.Close()

		ex := NewCognitoTokenExchanger(config.CognitoConfig{Domain: domain, ClientID: "client"})
		_, err := ex.ExchangeCode(ctx, "code", "http://localhost/cb")
		require.Error(t, err)
		assert.True(t, IsExternalError(err))
	})

	t.Run("hosted UI not configured", func(t *testing.T) {
		ex := NewCognitoTokenExchanger(config.CognitoConfig{})
		_, err := ex.ExchangeCode(ctx, "code", "http://localhost/cb")
		require.Error(t, err)
		assert.True(t, IsInternalError(err))
	})
}
