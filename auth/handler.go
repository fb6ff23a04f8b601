// Package auth implements the Cognito hosted UI sign-in flow for a
// workspace: login redirect, authorization code callback and logout.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"net/url"
	"strings"

	"github.com/upb/realty-dashboard/authstate"
	"github.com/upb/realty-dashboard/cognito"
	"github.com/upb/realty-dashboard/config"
	"github.com/upb/realty-dashboard/gates"
	"github.com/upb/realty-dashboard/services"
	"github.com/upb/realty-dashboard/utils"
	"github.com/upb/realty-dashboard/workspace"
	"go.uber.org/zap"
)

const (
	// StateCookieName is the cookie name for OAuth state (CSRF)
	StateCookieName = "oauth_state"
	// NextCookieName carries the location to return to after the callback
	NextCookieName    = "oauth_next"
	stateCookieMaxAge = 600
)

// TokenValidator validates JWT tokens and returns parsed claims.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*cognito.ParsedClaims, error)
}

// Handler handles OAuth2 authentication flows (login, callback, logout).
type Handler struct {
	cfg       *config.Config
	validator TokenValidator
	logger    *zap.Logger
}

// NewHandler creates a new auth handler. validator may be nil, in which
// case signed-in tokens are trusted as returned by the token endpoint.
func NewHandler(cfg *config.Config, validator TokenValidator, logger *zap.Logger) *Handler {
	return &Handler{
		cfg:       cfg,
		validator: validator,
		logger:    logger,
	}
}

// HandleLogin redirects to the Cognito hosted UI. A relative next query
// parameter is remembered and honored by the callback.
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if !h.cfg.Cognito.HostedUIEnabled() {
		h.logger.Error("cognito hosted UI not configured")
		_ = utils.WriteInternalServerError(w, "Authentication not configured")
		return
	}

	state, err := generateSecureState()
	if err != nil {
		h.logger.Error("failed to generate state", zap.Error(err))
		_ = utils.WriteInternalServerError(w, "Failed to initiate login")
		return
	}

	h.setCookie(w, StateCookieName, state, stateCookieMaxAge)
	if next := r.URL.Query().Get("next"); utils.IsLocalPath(next) {
		h.setCookie(w, NextCookieName, next, stateCookieMaxAge)
	}

	authURL := buildAuthURL(h.cfg.Cognito.Domain, h.cfg.Cognito.ClientID, h.cfg.Cognito.RedirectURI, state)
	http.Redirect(w, r, authURL, http.StatusFound)
}

// HandleCallback signs the workspace in with the authorization code and
// redirects back to the application.
func (h *Handler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")

	if code == "" {
		_ = utils.WriteBadRequest(w, "Missing authorization code", nil)
		return
	}
	if state == "" {
		_ = utils.WriteBadRequest(w, "Missing state parameter", nil)
		return
	}

	stateCookie, err := r.Cookie(StateCookieName)
	if err != nil || stateCookie.Value != state {
		_ = utils.WriteBadRequest(w, "Invalid or expired state", nil)
		return
	}
	h.setCookie(w, StateCookieName, "", -1)

	ws := workspace.FromContext(r.Context())
	if ws == nil {
		h.logger.Error("callback reached without a workspace")
		_ = utils.WriteInternalServerError(w, "")
		return
	}

	session, err := ws.Provider.SignIn(r.Context(), authstate.Credentials{
		Code:        code,
		RedirectURI: h.cfg.Cognito.RedirectURI,
	})
	if err != nil {
		h.logger.Warn("authorization code sign in failed", zap.Error(err))
		if services.IsCredentialsInvalidError(err) || services.IsValidationError(err) {
			_ = utils.WriteUnauthorized(w, "Authentication failed")
			return
		}
		_ = utils.WriteError(w, http.StatusBadGateway, "Identity provider unavailable", nil)
		return
	}

	if h.validator != nil {
		if _, err := h.validator.ValidateToken(r.Context(), session.RawToken); err != nil {
			h.logger.Warn("token validation failed", zap.Error(err))
			ws.Provider.SignOut(r.Context())
			_ = utils.WriteUnauthorized(w, "Invalid token")
			return
		}
	}

	http.Redirect(w, r, h.returnLocation(w, r), http.StatusFound)
}

// HandleLogout signs the workspace out and redirects to Cognito logout
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if ws := workspace.FromContext(r.Context()); ws != nil {
		ws.Provider.SignOut(r.Context())
	}

	if !h.cfg.Cognito.HostedUIEnabled() {
		http.Redirect(w, r, gates.SignInURL(h.cfg.Session.SignInPath, "", false), http.StatusFound)
		return
	}
	logoutURL := buildLogoutURL(h.cfg.Cognito.Domain, h.cfg.Cognito.ClientID, h.cfg.Cognito.FrontEndURL)
	http.Redirect(w, r, logoutURL, http.StatusFound)
}

// returnLocation consumes the remembered next location.
func (h *Handler) returnLocation(w http.ResponseWriter, r *http.Request) string {
	base := strings.TrimSuffix(h.cfg.Cognito.FrontEndURL, "/")
	cookie, err := r.Cookie(NextCookieName)
	if err != nil || !utils.IsLocalPath(cookie.Value) {
		if base == "" {
			return "/"
		}
		return base + "/"
	}
	h.setCookie(w, NextCookieName, "", -1)
	return base + cookie.Value
}

func (h *Handler) setCookie(w http.ResponseWriter, name, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   strings.HasPrefix(h.cfg.Cognito.RedirectURI, "https"),
		SameSite: http.SameSiteLaxMode,
	})
}

func buildAuthURL(domain, clientID, redirectURI, state string) string {
	base := strings.TrimSuffix(domain, "/") + "/oauth2/authorize"
	params := url.Values{
		"response_type": {"code"},
		"client_id":     {clientID},
		"redirect_uri":  {redirectURI},
		"state":         {state},
		"scope":         {"openid email profile"},
	}
	return base + "?" + params.Encode()
}

func buildLogoutURL(domain, clientID, logoutURI string) string {
	base := strings.TrimSuffix(domain, "/") + "/logout"
	params := url.Values{
		"client_id":  {clientID},
		"logout_uri": {logoutURI},
	}
	return base + "?" + params.Encode()
}

func generateSecureState() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
