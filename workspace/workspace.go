// Package workspace binds a browser to its own authentication state and
// role resolver. A workspace is created when a browser starts signing in,
// identified afterwards by a cookie and dropped once idle.
package workspace

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/upb/realty-dashboard/authstate"
	"github.com/upb/realty-dashboard/roleresolver"
	"go.uber.org/zap"
)

// mountTimeout bounds the bootstrap started when a workspace is created.
const mountTimeout = 30 * time.Second

// Workspace owns one browser's auth state machine and role resolver.
type Workspace struct {
	ID        uuid.UUID
	Provider  *authstate.Provider
	Resolver  *roleresolver.Resolver
	CreatedAt time.Time
}

// New creates a workspace. The resolver must be bound to provider.
func New(id uuid.UUID, provider *authstate.Provider, resolver *roleresolver.Resolver) *Workspace {
	return &Workspace{
		ID:        id,
		Provider:  provider,
		Resolver:  resolver,
		CreatedAt: time.Now(),
	}
}

// Mount starts the session bootstrap without waiting for it.
func (w *Workspace) Mount(logger *zap.Logger) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), mountTimeout)
		defer cancel()
		if err := w.Provider.Bootstrap(ctx); err != nil {
			logger.Warn("workspace bootstrap did not finish",
				zap.String("workspace_id", w.ID.String()),
				zap.Error(err))
		}
	}()
}

// Close detaches the resolver from the provider.
func (w *Workspace) Close() {
	w.Resolver.Close()
}

type contextKey struct{}

// WithWorkspace stores ws in ctx.
func WithWorkspace(ctx context.Context, ws *Workspace) context.Context {
	return context.WithValue(ctx, contextKey{}, ws)
}

// FromContext returns the workspace stored in ctx, or nil.
func FromContext(ctx context.Context) *Workspace {
	ws, _ := ctx.Value(contextKey{}).(*Workspace)
	return ws
}
