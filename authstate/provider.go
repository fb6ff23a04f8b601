// Package authstate owns a browser session's authentication state: session
// bootstrap, credential sign-in, sign-out and token retrieval.
//
// A Provider is an explicit state object. Each workspace owns exactly one,
// and every change to it is announced through its Broadcaster after the
// change has been applied.
package authstate

import (
	"context"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/upb/realty-dashboard/services"
	"github.com/upb/realty-dashboard/utils"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Phase is the coarse authentication state.
type Phase string

const (
	PhaseBootstrapping   Phase = "bootstrapping"
	PhaseUnauthenticated Phase = "unauthenticated"
	PhaseAuthenticated   Phase = "authenticated"
)

// State is a point-in-time copy of the provider state.
type State struct {
	User              *Session
	Token             string
	IsAuthenticated   bool
	Loading           bool
	AuthCheckComplete bool
	// Err is the terminal session error, if the last session ended because
	// it expired. It is cleared by a successful sign-in or a sign-out.
	Err error
}

// Phase projects the state onto the bootstrap/unauthenticated/authenticated
// machine.
func (s State) Phase() Phase {
	switch {
	case !s.AuthCheckComplete:
		return PhaseBootstrapping
	case s.IsAuthenticated:
		return PhaseAuthenticated
	default:
		return PhaseUnauthenticated
	}
}

// SessionExpired reports whether the last session ended by expiring.
func (s State) SessionExpired() bool {
	return services.IsSessionExpiredError(s.Err)
}

// Provider is the authentication state machine for one browser session.
// It is safe for concurrent use.
type Provider struct {
	store       TokenStore
	recorder    EventRecorder
	logger      *zap.Logger
	broadcaster *Broadcaster
	flights     singleflight.Group
	now         func() time.Time
	expirySkew  time.Duration

	mu                sync.RWMutex
	session           *Session
	authCheckComplete bool
	pendingSignIns    int
	err               error
	// epoch increments on every session replacement so that a bootstrap
	// started earlier does not overwrite a newer sign-in or sign-out.
	epoch uint64
}

// NewProvider creates a provider in the Bootstrapping state. recorder may
// be nil.
func NewProvider(store TokenStore, recorder EventRecorder, logger *zap.Logger) *Provider {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Provider{
		store:       store,
		recorder:    recorder,
		logger:      logger,
		broadcaster: NewBroadcaster(),
		now:         time.Now,
		expirySkew:  30 * time.Second,
	}
}

// Subscribe registers fn to be called after every state change.
func (p *Provider) Subscribe(fn func()) (unsubscribe func()) {
	return p.broadcaster.Subscribe(fn)
}

// State returns a copy of the current state.
func (p *Provider) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()

	s := State{
		IsAuthenticated:   p.session != nil,
		Loading:           !p.authCheckComplete || p.pendingSignIns > 0,
		AuthCheckComplete: p.authCheckComplete,
		Err:               p.err,
	}
	if p.session != nil {
		user := *p.session
		s.User = &user
		s.Token = user.RawToken
	}
	return s
}

// Session returns a copy of the active session, or nil.
func (p *Provider) Session() *Session {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.session == nil {
		return nil
	}
	s := *p.session
	return &s
}

// Bootstrap establishes whether a stored session exists. Concurrent calls
// share one lookup. A cancelled ctx only stops the caller from waiting;
// the lookup still completes and updates state.
func (p *Provider) Bootstrap(ctx context.Context) error {
	detached := context.WithoutCancel(ctx)
	ch := p.flights.DoChan("bootstrap", func() (interface{}, error) {
		p.runBootstrap(detached)
		return nil, nil
	})

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Provider) runBootstrap(ctx context.Context) {
	p.mu.RLock()
	epoch := p.epoch
	p.mu.RUnlock()

	session, err := p.store.GetCurrentSession(ctx)

	p.mu.Lock()
	if p.epoch == epoch {
		if err == nil {
			p.session = session
			p.err = nil
		} else {
			p.session = nil
			p.err = nil
			if services.IsSessionExpiredError(err) {
				p.err = err
			}
		}
	}
	p.authCheckComplete = true
	p.mu.Unlock()

	switch {
	case err == nil:
		p.logger.Debug("session restored",
			zap.String("principal", session.Email),
			zap.String("session_id", session.ID.String()))
	case services.IsSessionAbsentError(err):
		p.logger.Debug("no stored session")
	case services.IsSessionExpiredError(err):
		p.logger.Info("stored session expired", zap.Error(err))
		p.recorder.RecordAuthEvent(ctx, AuthEvent{Type: EventSessionExpired, Err: err})
	default:
		p.logger.Warn("session bootstrap failed", zap.Error(err))
	}

	p.broadcaster.Broadcast()
}

// RefreshAuth re-enters Bootstrapping and runs a new bootstrap cycle.
func (p *Provider) RefreshAuth(ctx context.Context) error {
	p.mu.Lock()
	p.authCheckComplete = false
	p.mu.Unlock()
	p.broadcaster.Broadcast()

	return p.Bootstrap(ctx)
}

// SignIn authenticates with creds. On failure the prior state is left
// untouched and the error is returned. On success the session is stored
// before subscribers are notified.
func (p *Provider) SignIn(ctx context.Context, creds Credentials) (*Session, error) {
	if err := utils.ValidateStruct(creds); err != nil {
		return nil, services.NewDomainError(services.ErrorTypeValidation, "username and password, or an authorization code, are required", err)
	}

	p.mu.Lock()
	p.pendingSignIns++
	p.mu.Unlock()

	session, err := p.store.SignIn(ctx, creds)

	p.mu.Lock()
	p.pendingSignIns--
	if err == nil {
		p.session = session
		p.err = nil
		p.epoch++
	}
	p.mu.Unlock()

	if err != nil {
		p.logger.Info("sign in failed", zap.String("principal", creds.Username), zap.Error(err))
		p.recorder.RecordAuthEvent(ctx, AuthEvent{Type: EventSignInFailed, Email: creds.Username, Err: err})
		return nil, err
	}

	p.logger.Info("signed in",
		zap.String("principal", session.Email),
		zap.String("session_id", session.ID.String()))
	p.recorder.RecordAuthEvent(ctx, AuthEvent{
		Type:        EventSignIn,
		SessionID:   session.ID,
		PrincipalID: session.PrincipalID,
		Email:       session.Email,
	})
	p.broadcaster.Broadcast()

	out := *session
	return &out, nil
}

// SignOut clears the session unconditionally. Remote sign-out errors are
// logged and swallowed.
func (p *Provider) SignOut(ctx context.Context) {
	p.mu.Lock()
	prev := p.session
	p.session = nil
	p.err = nil
	p.epoch++
	p.mu.Unlock()

	p.broadcaster.Broadcast()

	if err := p.store.SignOut(ctx); err != nil {
		p.logger.Warn("remote sign out failed", zap.Error(err))
	}
	if prev != nil {
		p.recorder.RecordAuthEvent(ctx, AuthEvent{
			Type:        EventSignOut,
			SessionID:   prev.ID,
			PrincipalID: prev.PrincipalID,
			Email:       prev.Email,
		})
	}
}

// GetToken returns the current token, fetching a fresh one when the
// memoized token has expired. Concurrent refreshes for the same session
// share one store call. Any failure yields "".
func (p *Provider) GetToken(ctx context.Context) string {
	p.mu.RLock()
	session := p.session
	p.mu.RUnlock()

	if session == nil {
		return ""
	}
	if session.RawToken != "" && !session.Expired(p.now().Add(p.expirySkew)) {
		return session.RawToken
	}

	detached := context.WithoutCancel(ctx)
	ch := p.flights.DoChan("token:"+session.ID.String(), func() (interface{}, error) {
		token, err := p.store.GetFreshToken(detached)
		p.applyFreshToken(detached, session.ID, token, err)
		return token, err
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return ""
		}
		return res.Val.(string)
	case <-ctx.Done():
		return ""
	}
}

func (p *Provider) applyFreshToken(ctx context.Context, sessionID uuid.UUID, token string, err error) {
	p.mu.Lock()
	current := p.session != nil && p.session.ID == sessionID
	if !current {
		p.mu.Unlock()
		return
	}

	if err != nil {
		if !services.IsSessionExpiredError(err) {
			p.mu.Unlock()
			p.logger.Warn("token refresh failed", zap.Error(err))
			return
		}
		prev := p.session
		p.session = nil
		p.err = err
		p.epoch++
		p.mu.Unlock()

		p.logger.Info("session expired", zap.String("principal", prev.Email), zap.Error(err))
		p.recorder.RecordAuthEvent(ctx, AuthEvent{
			Type:        EventSessionExpired,
			SessionID:   prev.ID,
			PrincipalID: prev.PrincipalID,
			Email:       prev.Email,
			Err:         err,
		})
		p.broadcaster.Broadcast()
		return
	}

	updated := *p.session
	updated.RawToken = token
	if iat, exp, ok := tokenTimes(token); ok {
		updated.IssuedAt, updated.ExpiresAt = iat, exp
	}
	p.session = &updated
	p.mu.Unlock()
}

// tokenTimes reads iat and exp from a token without verifying it.
func tokenTimes(raw string) (iat, exp time.Time, ok bool) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser(jwt.WithoutClaimsValidation()).ParseUnverified(raw, claims); err != nil {
		return time.Time{}, time.Time{}, false
	}
	if claims.IssuedAt != nil {
		iat = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		exp = claims.ExpiresAt.Time
	}
	return iat, exp, true
}
