package workspace

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/upb/realty-dashboard/utils"
	"go.uber.org/zap"
)

// BuildFunc creates the workspace for a new browser.
type BuildFunc func(id uuid.UUID) (*Workspace, error)

// Config controls the registry and its cookie.
type Config struct {
	CookieName   string
	SecureCookie bool
	TTL          time.Duration
	MaxSize      int
}

// Registry maps workspace cookies to live workspaces. Workspaces expire
// TTL after creation; the least recently used one is evicted when the
// registry is full. Evicted workspaces are closed.
//
// Browsers without a workspace share one anonymous workspace that is never
// registered; a workspace of their own is created only when they start
// signing in.
type Registry struct {
	cfg    Config
	build  BuildFunc
	logger *zap.Logger
	cache  *expirable.LRU[uuid.UUID, *Workspace]

	anonMu    sync.Mutex
	anonymous *Workspace
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config, build BuildFunc, logger *zap.Logger) *Registry {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 10000
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 12 * time.Hour
	}

	r := &Registry{cfg: cfg, build: build, logger: logger}
	r.cache = expirable.NewLRU[uuid.UUID, *Workspace](cfg.MaxSize, r.onEvict, cfg.TTL)
	return r
}

func (r *Registry) onEvict(id uuid.UUID, ws *Workspace) {
	r.logger.Debug("workspace evicted", zap.String("workspace_id", id.String()))
	go ws.Close()
}

// Get returns a live workspace.
func (r *Registry) Get(id uuid.UUID) (*Workspace, bool) {
	return r.cache.Get(id)
}

// Create builds, registers and mounts a new workspace.
func (r *Registry) Create() (*Workspace, error) {
	id := uuid.New()
	ws, err := r.build(id)
	if err != nil {
		return nil, fmt.Errorf("failed to build workspace: %w", err)
	}
	r.cache.Add(id, ws)
	ws.Mount(r.logger)

	r.logger.Debug("workspace created", zap.String("workspace_id", id.String()))
	return ws, nil
}

// Remove drops and closes a workspace.
func (r *Registry) Remove(id uuid.UUID) {
	r.cache.Remove(id)
}

// Len returns the number of live workspaces.
func (r *Registry) Len() int {
	return r.cache.Len()
}

// Close closes every workspace.
func (r *Registry) Close() {
	r.cache.Purge()

	r.anonMu.Lock()
	anon := r.anonymous
	r.anonymous = nil
	r.anonMu.Unlock()
	if anon != nil {
		anon.Close()
	}
}

// Anonymous returns the shared workspace of browsers that have not signed
// in, building it on first use. It never holds a session.
func (r *Registry) Anonymous() (*Workspace, error) {
	r.anonMu.Lock()
	defer r.anonMu.Unlock()

	if r.anonymous != nil {
		return r.anonymous, nil
	}
	ws, err := r.build(uuid.Nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build anonymous workspace: %w", err)
	}
	ws.Mount(r.logger)
	r.anonymous = ws
	return ws, nil
}

// Lookup returns the registered workspace named by the request's cookie.
func (r *Registry) Lookup(req *http.Request) (*Workspace, bool) {
	cookie, err := req.Cookie(r.cfg.CookieName)
	if err != nil {
		return nil, false
	}
	id, err := uuid.Parse(cookie.Value)
	if err != nil {
		return nil, false
	}
	return r.Get(id)
}

// Attach resolves the request's workspace from its cookie, creating one
// (and setting the cookie) when the cookie is missing, malformed or stale.
func (r *Registry) Attach(w http.ResponseWriter, req *http.Request) (*Workspace, error) {
	if ws, ok := r.Lookup(req); ok {
		return ws, nil
	}

	ws, err := r.Create()
	if err != nil {
		return nil, err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     r.cfg.CookieName,
		Value:    ws.ID.String(),
		Path:     "/",
		MaxAge:   int(r.cfg.TTL.Seconds()),
		HttpOnly: true,
		Secure:   r.cfg.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	return ws, nil
}

// Middleware stores the request's workspace in its context. Requests
// without a live workspace get the anonymous one and no cookie.
func (r *Registry) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ws, ok := r.Lookup(req)
		if !ok {
			var err error
			if ws, err = r.Anonymous(); err != nil {
				r.logger.Error("failed to attach anonymous workspace", zap.Error(err))
				_ = utils.WriteInternalServerError(w, "Failed to start session")
				return
			}
		}
		next.ServeHTTP(w, req.WithContext(WithWorkspace(req.Context(), ws)))
	})
}

// Establish is Middleware for endpoints that start a sign in: a browser
// without a live workspace gets a new one and its cookie.
func (r *Registry) Establish(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ws, err := r.Attach(w, req)
		if err != nil {
			r.logger.Error("failed to attach workspace", zap.Error(err))
			_ = utils.WriteInternalServerError(w, "Failed to start session")
			return
		}
		next.ServeHTTP(w, req.WithContext(WithWorkspace(req.Context(), ws)))
	})
}
