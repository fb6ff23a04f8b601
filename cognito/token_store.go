package cognito

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cip "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
	"github.com/google/uuid"
	"github.com/upb/realty-dashboard/authstate"
	"github.com/upb/realty-dashboard/services"
)

// AuthAPI is the subset of the Cognito user API used by the token store.
type AuthAPI interface {
	InitiateAuth(ctx context.Context, params *cip.InitiateAuthInput, optFns ...func(*cip.Options)) (*cip.InitiateAuthOutput, error)
	GlobalSignOut(ctx context.Context, params *cip.GlobalSignOutInput, optFns ...func(*cip.Options)) (*cip.GlobalSignOutOutput, error)
}

// CodeExchanger exchanges hosted UI authorization codes for tokens.
type CodeExchanger interface {
	ExchangeCode(ctx context.Context, code, redirectURI string) (*services.TokenResponse, error)
}

// TokenStoreConfig configures a TokenStore.
type TokenStoreConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	// ExpirySkew treats tokens as expired this long before their exp claim.
	ExpirySkew time.Duration
}

// TokenStore holds one browser's Cognito tokens in memory and implements
// authstate.TokenStore. It is safe for concurrent use.
type TokenStore struct {
	api       AuthAPI
	exchanger CodeExchanger
	cfg       TokenStoreConfig
	now       func() time.Time

	mu           sync.Mutex
	sessionID    uuid.UUID
	idToken      string
	accessToken  string
	refreshToken string
	// principalID is the token subject, used as the username for
	// refresh SECRET_HASH computation.
	principalID string
}

var _ authstate.TokenStore = (*TokenStore)(nil)

// NewTokenStore creates an empty token store. exchanger may be nil when the
// hosted UI is not configured.
func NewTokenStore(api AuthAPI, exchanger CodeExchanger, cfg TokenStoreConfig) *TokenStore {
	if cfg.ExpirySkew == 0 {
		cfg.ExpirySkew = 30 * time.Second
	}
	return &TokenStore{
		api:       api,
		exchanger: exchanger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// GetCurrentSession returns the stored session. An expired ID token is
// refreshed first; a rejected refresh ends the session.
func (s *TokenStore) GetCurrentSession(ctx context.Context) (*authstate.Session, error) {
	s.mu.Lock()
	idToken := s.idToken
	s.mu.Unlock()

	if idToken == "" {
		return nil, services.ErrSessionAbsent
	}

	session, err := s.sessionFromToken(idToken)
	if err != nil {
		s.clear()
		return nil, services.NewDomainError(services.ErrorTypeSessionExpired, "stored token is unreadable", err)
	}
	if !session.Expired(s.now().Add(s.cfg.ExpirySkew)) {
		return session, nil
	}

	fresh, err := s.GetFreshToken(ctx)
	if err != nil {
		if services.IsSessionAbsentError(err) {
			// Nothing to refresh with: the stored session is over.
			s.clear()
			return nil, services.ErrSessionExpired
		}
		return nil, err
	}
	return s.sessionFromToken(fresh)
}

// SignIn authenticates with a password or an authorization code and
// replaces the stored tokens only on success.
func (s *TokenStore) SignIn(ctx context.Context, creds authstate.Credentials) (*authstate.Session, error) {
	var (
		tokens *services.TokenResponse
		err    error
	)
	if creds.IsCode() {
		tokens, err = s.exchangeCode(ctx, creds)
	} else {
		tokens, err = s.passwordAuth(ctx, creds.Username, creds.Password)
	}
	if err != nil {
		return nil, err
	}

	identity, err := DecodeIdentity(tokens.IDToken)
	if err != nil {
		return nil, services.WrapExternal("identity provider returned an unreadable token", err)
	}

	s.mu.Lock()
	s.sessionID = uuid.New()
	s.idToken = tokens.IDToken
	s.accessToken = tokens.AccessToken
	s.refreshToken = tokens.RefreshToken
	s.principalID = identity.PrincipalID
	s.mu.Unlock()

	return s.sessionFromToken(tokens.IDToken)
}

// SignOut drops the local tokens, then revokes them remotely. The remote
// error, if any, is returned after local state is already cleared.
func (s *TokenStore) SignOut(ctx context.Context) error {
	s.mu.Lock()
	accessToken := s.accessToken
	s.mu.Unlock()
	s.clear()

	if accessToken == "" {
		return nil
	}
	if _, err := s.api.GlobalSignOut(ctx, &cip.GlobalSignOutInput{AccessToken: aws.String(accessToken)}); err != nil {
		return services.WrapExternal("global sign out failed", err)
	}
	return nil
}

// GetFreshToken exchanges the refresh token for a new ID token.
func (s *TokenStore) GetFreshToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	refreshToken, principal, sessionID := s.refreshToken, s.principalID, s.sessionID
	s.mu.Unlock()

	if refreshToken == "" {
		return "", services.ErrSessionAbsent
	}

	params := map[string]string{"REFRESH_TOKEN": refreshToken}
	if s.cfg.ClientSecret != "" {
		params["SECRET_HASH"] = SecretHash(principal, s.cfg.ClientID, s.cfg.ClientSecret)
	}
	out, err := s.api.InitiateAuth(ctx, &cip.InitiateAuthInput{
		AuthFlow:       types.AuthFlowTypeRefreshTokenAuth,
		ClientId:       aws.String(s.cfg.ClientID),
		AuthParameters: params,
	})
	if err != nil {
		if isRejection(err) {
			s.clearIfSession(sessionID)
			return "", services.NewDomainError(services.ErrorTypeSessionExpired, "refresh token rejected", err)
		}
		return "", services.WrapExternal("token refresh failed", err)
	}
	if out.AuthenticationResult == nil || aws.ToString(out.AuthenticationResult.IdToken) == "" {
		return "", services.NewDomainError(services.ErrorTypeExternal, "refresh returned no id token", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessionID != sessionID {
		// Signed out or replaced while refreshing.
		return "", services.ErrSessionAbsent
	}
	s.idToken = aws.ToString(out.AuthenticationResult.IdToken)
	if at := aws.ToString(out.AuthenticationResult.AccessToken); at != "" {
		s.accessToken = at
	}
	return s.idToken, nil
}

func (s *TokenStore) passwordAuth(ctx context.Context, username, password string) (*services.TokenResponse, error) {
	params := map[string]string{
		"USERNAME": username,
		"PASSWORD": password,
	}
	if s.cfg.ClientSecret != "" {
		params["SECRET_HASH"] = SecretHash(username, s.cfg.ClientID, s.cfg.ClientSecret)
	}

	out, err := s.api.InitiateAuth(ctx, &cip.InitiateAuthInput{
		AuthFlow:       types.AuthFlowTypeUserPasswordAuth,
		ClientId:       aws.String(s.cfg.ClientID),
		AuthParameters: params,
	})
	if err != nil {
		if isRejection(err) {
			return nil, services.NewDomainError(services.ErrorTypeCredentialsInvalid, "incorrect username or password", err)
		}
		return nil, services.WrapExternal("sign in failed", err)
	}
	if out.ChallengeName != "" {
		return nil, services.NewDomainError(services.ErrorTypeCredentialsInvalid, "additional sign-in challenge required", nil).
			WithDetail("challenge", string(out.ChallengeName))
	}
	if out.AuthenticationResult == nil {
		return nil, services.NewDomainError(services.ErrorTypeExternal, "sign in returned no tokens", nil)
	}

	res := out.AuthenticationResult
	return &services.TokenResponse{
		IDToken:      aws.ToString(res.IdToken),
		AccessToken:  aws.ToString(res.AccessToken),
		RefreshToken: aws.ToString(res.RefreshToken),
		ExpiresIn:    int(res.ExpiresIn),
		TokenType:    aws.ToString(res.TokenType),
	}, nil
}

func (s *TokenStore) exchangeCode(ctx context.Context, creds authstate.Credentials) (*services.TokenResponse, error) {
	if s.exchanger == nil {
		return nil, services.NewDomainError(services.ErrorTypeInternal, "hosted UI sign in not configured", nil)
	}
	redirectURI := creds.RedirectURI
	if redirectURI == "" {
		redirectURI = s.cfg.RedirectURI
	}
	return s.exchanger.ExchangeCode(ctx, creds.Code, redirectURI)
}

func (s *TokenStore) sessionFromToken(idToken string) (*authstate.Session, error) {
	identity, err := DecodeIdentity(idToken)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	id := s.sessionID
	s.mu.Unlock()

	return &authstate.Session{
		ID:          id,
		PrincipalID: identity.PrincipalID,
		Email:       identity.Email,
		RawToken:    idToken,
		IssuedAt:    identity.IssuedAt,
		ExpiresAt:   identity.ExpiresAt,
	}, nil
}

func (s *TokenStore) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

func (s *TokenStore) clearIfSession(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessionID == id {
		s.resetLocked()
	}
}

func (s *TokenStore) resetLocked() {
	s.sessionID = uuid.Nil
	s.idToken = ""
	s.accessToken = ""
	s.refreshToken = ""
	s.principalID = ""
}

// isRejection reports whether Cognito refused the principal or token, as
// opposed to failing to answer.
func isRejection(err error) bool {
	var (
		notAuthorized *types.NotAuthorizedException
		notFound      *types.UserNotFoundException
		notConfirmed  *types.UserNotConfirmedException
		resetRequired *types.PasswordResetRequiredException
	)
	return errors.As(err, &notAuthorized) ||
		errors.As(err, &notFound) ||
		errors.As(err, &notConfirmed) ||
		errors.As(err, &resetRequired)
}

// SecretHash computes the SECRET_HASH parameter required by app clients
// that have a client secret.
func SecretHash(username, clientID, clientSecret string) string {
	mac := hmac.New(sha256.New, []byte(clientSecret))
	mac.Write([]byte(username + clientID))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
