package cognito

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrInvalidToken is returned when the token is malformed, unsigned or
	// signed by a key outside the user pool's key set
	ErrInvalidToken = errors.New("invalid token")

	ErrTokenExpired    = errors.New("token expired")
	ErrInvalidIssuer   = errors.New("invalid issuer")
	ErrInvalidAudience = errors.New("invalid audience")

	// ErrJWKSFetchFailed is returned when the user pool key set cannot be
	// fetched
	ErrJWKSFetchFailed = errors.New("failed to fetch JWKS")

	// ErrUnknownKey is returned when no key in the user pool's key set
	// matches the token's kid, even after a refetch
	ErrUnknownKey = errors.New("signing key not found")
)

const (
	maxCachedKeys       = 16
	minRefetchInterval  = time.Minute
	defaultClockLeeway  = 30 * time.Second
	defaultJWKSCacheTTL = time.Hour
)

// JWKS represents the JSON Web Key Set
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JWK represents a JSON Web Key
type JWK struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// CognitoValidator validates ID and access tokens issued by one Cognito
// user pool for one app client.
type CognitoValidator struct {
	issuer     string
	clientID   string
	jwksURL    string
	httpClient *http.Client
	parser     *jwt.Parser

	jwksCache    *JWKS
	jwksCacheExp time.Time
	jwksCacheTTL time.Duration
	lastFetch    time.Time
	cacheMu      sync.RWMutex
	fetches      singleflight.Group

	// minRefetch throttles key set refetches triggered by unknown kids.
	minRefetch time.Duration
	keyCache   *expirable.LRU[string, *rsa.PublicKey]
}

// Config holds configuration for CognitoValidator
type Config struct {
	Region      string
	UserPoolID  string
	ClientID    string
	CacheTTL    time.Duration
	HTTPTimeout time.Duration
	// ClockLeeway tolerates skew between Cognito and this host when
	// checking exp, iat and nbf.
	ClockLeeway time.Duration
	// JWKSURL overrides the user pool's well-known key set location.
	JWKSURL string
}

// Issuer returns the token issuer for the configured user pool.
func (c Config) Issuer() string {
	return fmt.Sprintf("https://cognito-idp.%s.amazonaws.com/%s", c.Region, c.UserPoolID)
}

// NewCognitoValidator creates a new Cognito JWT validator
func NewCognitoValidator(config Config) *CognitoValidator {
	if config.CacheTTL == 0 {
		config.CacheTTL = defaultJWKSCacheTTL
	}
	if config.HTTPTimeout == 0 {
		config.HTTPTimeout = 10 * time.Second
	}
	if config.ClockLeeway == 0 {
		config.ClockLeeway = defaultClockLeeway
	}
	if config.JWKSURL == "" {
		config.JWKSURL = config.Issuer() + "/.well-known/jwks.json"
	}

	return &CognitoValidator{
		issuer:       config.Issuer(),
		clientID:     config.ClientID,
		jwksURL:      config.JWKSURL,
		jwksCacheTTL: config.CacheTTL,
		httpClient:   &http.Client{Timeout: config.HTTPTimeout},
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
			jwt.WithExpirationRequired(),
			jwt.WithIssuedAt(),
			jwt.WithLeeway(config.ClockLeeway),
		),
		minRefetch: minRefetchInterval,
		keyCache:   expirable.NewLRU[string, *rsa.PublicKey](maxCachedKeys, nil, config.CacheTTL),
	}
}

// ValidateToken verifies the signature, issuer, audience and token use of a
// token and returns its parsed claims.
func (v *CognitoValidator) ValidateToken(ctx context.Context, tokenString string) (*ParsedClaims, error) {
	claims := &Claims{}
	token, err := v.parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, errors.New("kid header not found")
		}
		return v.getPublicKey(ctx, kid)
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		case errors.Is(err, ErrJWKSFetchFailed):
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if err := v.verifyClaims(claims); err != nil {
		return nil, err
	}

	return parseClaims(claims)
}

func (v *CognitoValidator) verifyClaims(claims *Claims) error {
	if claims.Issuer != v.issuer {
		return fmt.Errorf("%w: expected %s, got %s", ErrInvalidIssuer, v.issuer, claims.Issuer)
	}

	switch claims.TokenUse {
	case "id":
		if !containsAudience(claims.Audience, v.clientID) {
			return ErrInvalidAudience
		}
	case "access":
		// access tokens carry the app client in client_id, not aud
		if claims.ClientID != v.clientID {
			return ErrInvalidAudience
		}
	default:
		return fmt.Errorf("%w: token_use %q", ErrInvalidToken, claims.TokenUse)
	}
	return nil
}

// FetchJWKS returns the user pool key set, fetching it when the cached copy
// has expired. Concurrent callers share one request.
func (v *CognitoValidator) FetchJWKS(ctx context.Context) (*JWKS, error) {
	v.cacheMu.RLock()
	if v.jwksCache != nil && time.Now().Before(v.jwksCacheExp) {
		defer v.cacheMu.RUnlock()
		return v.jwksCache, nil
	}
	v.cacheMu.RUnlock()

	return v.refreshJWKS(ctx)
}

func (v *CognitoValidator) refreshJWKS(ctx context.Context) (*JWKS, error) {
	res, err, _ := v.fetches.Do("jwks", func() (interface{}, error) {
		return v.fetchJWKS(ctx)
	})
	if err != nil {
		return nil, err
	}
	return res.(*JWKS), nil
}

func (v *CognitoValidator) fetchJWKS(ctx context.Context) (*JWKS, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.jwksURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status code %d", ErrJWKSFetchFailed, resp.StatusCode)
	}

	var jwks JWKS
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrJWKSFetchFailed, err)
	}

	now := time.Now()
	v.cacheMu.Lock()
	v.jwksCache = &jwks
	v.jwksCacheExp = now.Add(v.jwksCacheTTL)
	v.lastFetch = now
	v.cacheMu.Unlock()

	return &jwks, nil
}

// getPublicKey resolves kid to a public key. A kid missing from a cached
// key set triggers one refetch, since Cognito rotates signing keys.
func (v *CognitoValidator) getPublicKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	if key, ok := v.keyCache.Get(kid); ok {
		return key, nil
	}

	jwks, err := v.FetchJWKS(ctx)
	if err != nil {
		return nil, err
	}
	key, err := v.findKey(jwks, kid)
	if !errors.Is(err, ErrUnknownKey) || !v.mayRefetch() {
		return key, err
	}

	if jwks, err = v.refreshJWKS(ctx); err != nil {
		return nil, err
	}
	return v.findKey(jwks, kid)
}

func (v *CognitoValidator) mayRefetch() bool {
	v.cacheMu.RLock()
	defer v.cacheMu.RUnlock()
	return time.Since(v.lastFetch) >= v.minRefetch
}

func (v *CognitoValidator) findKey(jwks *JWKS, kid string) (*rsa.PublicKey, error) {
	for i := range jwks.Keys {
		if jwks.Keys[i].Kid != kid {
			continue
		}
		publicKey, err := jwkToRSAPublicKey(&jwks.Keys[i])
		if err != nil {
			return nil, fmt.Errorf("failed to convert JWK to RSA public key: %w", err)
		}
		v.keyCache.Add(kid, publicKey)
		return publicKey, nil
	}
	return nil, fmt.Errorf("%w: kid %s", ErrUnknownKey, kid)
}

func jwkToRSAPublicKey(jwk *JWK) (*rsa.PublicKey, error) {
	if jwk.Kty != "RSA" {
		return nil, fmt.Errorf("unsupported key type %q", jwk.Kty)
	}

	nBytes, err := base64.RawURLEncoding.DecodeString(jwk.N)
	if err != nil {
		return nil, fmt.Errorf("failed to decode modulus: %w", err)
	}

	eBytes, err := base64.RawURLEncoding.DecodeString(jwk.E)
	if err != nil {
		return nil, fmt.Errorf("failed to decode exponent: %w", err)
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(new(big.Int).SetBytes(eBytes).Int64()),
	}, nil
}

func containsAudience(audiences jwt.ClaimStrings, clientID string) bool {
	for _, aud := range audiences {
		if aud == clientID {
			return true
		}
	}
	return false
}

// InvalidateCache drops the cached key set and parsed keys
func (v *CognitoValidator) InvalidateCache() {
	v.cacheMu.Lock()
	v.jwksCache = nil
	v.jwksCacheExp = time.Time{}
	v.lastFetch = time.Time{}
	v.cacheMu.Unlock()

	v.keyCache.Purge()
}

// GetCacheStats returns cache statistics
func (v *CognitoValidator) GetCacheStats() map[string]interface{} {
	v.cacheMu.RLock()
	defer v.cacheMu.RUnlock()

	stats := map[string]interface{}{
		"jwks_cached":       v.jwksCache != nil,
		"jwks_expires_at":   v.jwksCacheExp,
		"cached_keys_count": v.keyCache.Len(),
	}
	if v.jwksCache != nil {
		stats["jwks_keys_count"] = len(v.jwksCache.Keys)
	}

	return stats
}
