package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/upb/realty-dashboard/config"
)

// TokenResponse represents the OAuth2 token endpoint response from Cognito
type TokenResponse struct {
	IDToken      string `json:"id_token"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// oauthError is the error body returned by the token endpoint
type oauthError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// CognitoTokenExchanger exchanges authorization codes for tokens via Cognito
type CognitoTokenExchanger struct {
	cfg        config.CognitoConfig
	httpClient *http.Client
}

// NewCognitoTokenExchanger creates a new token exchanger
func NewCognitoTokenExchanger(cfg config.CognitoConfig) *CognitoTokenExchanger {
	timeout := cfg.HTTPTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &CognitoTokenExchanger{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// ExchangeCode exchanges an authorization code for the full token set.
// A rejected code (invalid_grant) is reported as invalid credentials; any
// other failure is an identity provider error.
func (e *CognitoTokenExchanger) ExchangeCode(ctx context.Context, code, redirectURI string) (*TokenResponse, error) {
	if e.cfg.Domain == "" || e.cfg.ClientID == "" {
		return nil, NewDomainError(ErrorTypeInternal, "cognito hosted UI not configured", nil)
	}

	tokenURL := strings.TrimSuffix(e.cfg.Domain, "/") + "/oauth2/token"
	data := url.Values{
		"grant_type":   {"authorization_code"},
		"client_id":    {e.cfg.ClientID},
		"code":         {code},
		"redirect_uri": {redirectURI},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, WrapInternal("create token request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if e.cfg.ClientSecret != "" {
		req.SetBasicAuth(url.QueryEscape(e.cfg.ClientID), url.QueryEscape(e.cfg.ClientSecret))
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, WrapExternal("token request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, WrapExternal("read token response", err)
	}

	if resp.StatusCode != http.StatusOK {
		var oe oauthError
		_ = json.Unmarshal(body, &oe)
		if resp.StatusCode == http.StatusBadRequest && (oe.Error == "invalid_grant" || oe.Error == "unauthorized_client") {
			return nil, NewDomainError(ErrorTypeCredentialsInvalid, "authorization code rejected", nil).
				WithDetail("oauth_error", oe.Error)
		}
		return nil, NewDomainError(ErrorTypeExternal, fmt.Sprintf("token exchange failed: status %d", resp.StatusCode), nil).
			WithDetail("oauth_error", oe.Error)
	}

	var tokenResp TokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, WrapExternal("parse token response", err)
	}

	if tokenResp.IDToken == "" {
		return nil, NewDomainError(ErrorTypeExternal, "no id_token in response", nil)
	}

	return &tokenResp, nil
}
