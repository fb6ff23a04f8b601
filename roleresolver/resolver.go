package roleresolver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/upb/realty-dashboard/authstate"
	"github.com/upb/realty-dashboard/models"
	"github.com/upb/realty-dashboard/roles"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// backgroundTimeout bounds work started from an auth state change.
const backgroundTimeout = 30 * time.Second

// SessionSource is the authentication state a resolver is bound to.
// *authstate.Provider satisfies it.
type SessionSource interface {
	Session() *authstate.Session
	GetToken(ctx context.Context) string
	Subscribe(fn func()) (unsubscribe func())
}

// Config tunes a Resolver.
type Config struct {
	CacheSize     int
	LookupTimeout time.Duration
}

// Snapshot is a non-blocking view of the resolver for rendering decisions.
type Snapshot struct {
	Role     roles.Role
	Source   roles.Source
	Groups   []string
	Loading  bool
	Resolved bool
	// HintRole is the last role persisted for this principal. It is only
	// set while Loading and must never be used to authorize.
	HintRole roles.Role
}

// Resolver caches the derived role of the sessions produced by one
// SessionSource. It is safe for concurrent use.
type Resolver struct {
	source      SessionSource
	lookup      GroupLister
	hints       HintStore
	logger      *zap.Logger
	cfg         Config
	cache       *lru.Cache[uuid.UUID, Resolution]
	flights     singleflight.Group
	unsubscribe func()
	background  sync.WaitGroup

	mu sync.Mutex
	// generation increments on every invalidation; a derivation only
	// populates the cache if no invalidation happened while it ran.
	generation uint64
	principal  string
	hint       *models.RoleHint
	closed     bool
}

// New creates a resolver subscribed to source's state changes. lookup and
// hints may be nil.
func New(source SessionSource, lookup GroupLister, hints HintStore, logger *zap.Logger, cfg Config) (*Resolver, error) {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 16
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = 5 * time.Second
	}

	cache, err := lru.New[uuid.UUID, Resolution](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create role cache: %w", err)
	}

	r := &Resolver{
		source: source,
		lookup: lookup,
		hints:  hints,
		logger: logger,
		cfg:    cfg,
		cache:  cache,
	}
	r.unsubscribe = source.Subscribe(r.onAuthChange)
	return r, nil
}

// Close unsubscribes from the session source and waits for background
// derivations to finish.
func (r *Resolver) Close() {
	r.unsubscribe()
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.background.Wait()
}

// Role returns the role of the current session, deriving it on a cache
// miss. A cached fallback made without a token is derived again.
// Concurrent misses share one derivation. A cancelled ctx returns
// ctx.Err() while the derivation still completes and populates the cache.
func (r *Resolver) Role(ctx context.Context) (Resolution, error) {
	session := r.source.Session()
	if session == nil {
		return noSession(), nil
	}
	if res, ok := r.cache.Get(session.ID); ok && !errors.Is(res.LookupErr, ErrTokenUnavailable) {
		return res, nil
	}
	return r.resolve(ctx, session)
}

// ForceUpdateRole discards the cached role and derives it again. The
// result is never a value cached before the call.
func (r *Resolver) ForceUpdateRole(ctx context.Context) (Resolution, error) {
	session := r.source.Session()
	if session == nil {
		return noSession(), nil
	}

	r.mu.Lock()
	r.generation++
	r.cache.Remove(session.ID)
	r.mu.Unlock()

	return r.resolve(ctx, session)
}

// Snapshot reports the cached role without blocking.
func (r *Resolver) Snapshot() Snapshot {
	session := r.source.Session()
	if session == nil {
		return Snapshot{Role: roles.RoleNone, Source: roles.SourceNone, Resolved: true}
	}
	if res, ok := r.cache.Peek(session.ID); ok {
		return Snapshot{
			Role:     res.Role,
			Source:   res.Source,
			Groups:   append([]string(nil), res.Groups...),
			Resolved: true,
		}
	}

	snap := Snapshot{Source: roles.SourceNone, Loading: true}
	r.mu.Lock()
	if r.hint != nil && r.hint.PrincipalID == session.PrincipalID {
		snap.HintRole = r.hint.Role
	}
	r.mu.Unlock()
	return snap
}

// HasPermission reports whether the cached role grants action.
// It is false while the role is unresolved.
func (r *Resolver) HasPermission(action roles.Capability) bool {
	snap := r.Snapshot()
	return snap.Resolved && roles.HasCapability(snap.Role, action)
}

// CanAccess reports whether the cached role may open section.
// It is false while the role is unresolved.
func (r *Resolver) CanAccess(section roles.Capability) bool {
	snap := r.Snapshot()
	return snap.Resolved && roles.HasCapability(snap.Role, section)
}

func (r *Resolver) resolve(ctx context.Context, session *authstate.Session) (Resolution, error) {
	r.mu.Lock()
	gen := r.generation
	r.mu.Unlock()

	detached := context.WithoutCancel(ctx)
	key := fmt.Sprintf("%s/%d", session.ID, gen)
	ch := r.flights.DoChan(key, func() (interface{}, error) {
		return r.derive(detached, session, gen), nil
	})

	select {
	case res := <-ch:
		return res.Val.(Resolution), nil
	case <-ctx.Done():
		return Resolution{}, ctx.Err()
	}
}

func (r *Resolver) derive(ctx context.Context, session *authstate.Session, gen uint64) Resolution {
	var res Resolution
	if token := r.source.GetToken(ctx); token != "" {
		lookupCtx, cancel := context.WithTimeout(ctx, r.cfg.LookupTimeout)
		res = Derive(lookupCtx, token, session.Email, r.lookup)
		cancel()
	} else {
		res = tokenUnavailable()
	}

	fields := []zap.Field{
		zap.String("principal", session.Email),
		zap.String("session_id", session.ID.String()),
		zap.String("role", res.Role.String()),
		zap.String("role_source", string(res.Source)),
	}
	if res.ClaimErr != nil {
		r.logger.Warn("role claim could not be decoded", append(fields, zap.Error(res.ClaimErr))...)
	}
	tokenless := errors.Is(res.LookupErr, ErrTokenUnavailable)
	switch {
	case tokenless:
		r.logger.Warn("no token available for role derivation", fields...)
	case res.LookupErr != nil:
		r.logger.Warn("group lookup failed", append(fields, zap.Error(res.LookupErr))...)
	}

	r.mu.Lock()
	current := r.generation == gen
	if current {
		r.cache.Add(session.ID, res)
	}
	r.mu.Unlock()

	if !current {
		r.logger.Debug("discarding superseded role derivation", fields...)
		return res
	}

	r.logger.Debug("role resolved", fields...)
	if r.hints != nil && !tokenless {
		hint := models.NewRoleHint(session.PrincipalID, res.Role, res.Groups)
		if err := r.hints.Save(ctx, hint); err != nil {
			r.logger.Debug("failed to save role hint", zap.Error(err))
		}
	}
	return res
}

// onAuthChange runs on every auth state broadcast. It must not block.
func (r *Resolver) onAuthChange() {
	session := r.source.Session()

	r.mu.Lock()
	r.generation++
	r.cache.Purge()
	prev := r.principal
	if session == nil {
		r.principal = ""
		r.hint = nil
		r.mu.Unlock()

		if prev != "" && r.hints != nil {
			r.goBackground(func(ctx context.Context) {
				if err := r.hints.Clear(ctx, prev); err != nil {
					r.logger.Debug("failed to clear role hint", zap.Error(err))
				}
			})
		}
		return
	}
	r.principal = session.PrincipalID
	if prev != session.PrincipalID {
		r.hint = nil
	}
	gen := r.generation
	r.mu.Unlock()

	r.goBackground(func(ctx context.Context) {
		r.loadHint(ctx, session.PrincipalID, gen)
		if _, err := r.resolve(ctx, session); err != nil {
			r.logger.Debug("background role derivation abandoned", zap.Error(err))
		}
	})
}

func (r *Resolver) loadHint(ctx context.Context, principalID string, gen uint64) {
	if r.hints == nil {
		return
	}
	hint, err := r.hints.Load(ctx, principalID)
	if err != nil {
		return
	}

	r.mu.Lock()
	if r.generation == gen {
		r.hint = hint
	}
	r.mu.Unlock()
}

// goBackground runs fn unless Close has been called.
func (r *Resolver) goBackground(fn func(ctx context.Context)) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.background.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.background.Done()
		ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
		defer cancel()
		fn(ctx)
	}()
}

func noSession() Resolution {
	return Resolution{Role: roles.RoleNone, Source: roles.SourceNone}
}
