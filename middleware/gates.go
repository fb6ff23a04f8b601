package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/upb/realty-dashboard/gates"
	"github.com/upb/realty-dashboard/roleresolver"
	"github.com/upb/realty-dashboard/roles"
	"github.com/upb/realty-dashboard/utils"
	"github.com/upb/realty-dashboard/workspace"
	"go.uber.org/zap"
)

// AccessAuditor records gate denials. *audit.AuditService satisfies it.
type AccessAuditor interface {
	LogAccessDenied(ctx context.Context, sessionID uuid.UUID, principalID, email string, role roles.Role, source roles.Source, reason, path string) error
}

// PendingResponse is the body of a 202 answer from a gate that is still
// waiting on the session or the role.
type PendingResponse struct {
	Outcome   gates.Outcome       `json:"outcome"`
	ViewState gates.AuthViewState `json:"view_state"`
	// HintRole is the last known role, for display only.
	HintRole string `json:"hint_role,omitempty"`
}

// Gates renders access gate decisions for workspace-bound requests.
// Requests must pass through workspace.Registry.Middleware first.
type Gates struct {
	signInPath    string
	verifyTimeout time.Duration
	auditor       AccessAuditor
	logger        *zap.Logger
}

// NewGates creates the gate middleware. auditor may be nil.
func NewGates(signInPath string, verifyTimeout time.Duration, auditor AccessAuditor, logger *zap.Logger) *Gates {
	return &Gates{
		signInPath:    signInPath,
		verifyTimeout: verifyTimeout,
		auditor:       auditor,
		logger:        logger,
	}
}

// PrivateApp admits authenticated workspaces. It waits up to the verify
// timeout for an unfinished bootstrap, then answers 202 while still
// bootstrapping or redirects to sign-in.
func (g *Gates) PrivateApp(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws := g.workspace(w, r)
		if ws == nil {
			return
		}

		if !ws.Provider.State().AuthCheckComplete {
			ctx, cancel := context.WithTimeout(r.Context(), g.verifyTimeout)
			_ = ws.Provider.Bootstrap(ctx)
			cancel()
		}

		d := gates.PrivateApp(ws.Provider.State(), r.URL.RequestURI())
		if d.Outcome == gates.OutcomeRender {
			next.ServeHTTP(w, r)
			return
		}
		g.render(w, r, ws, d)
	})
}

// RequireRole admits workspaces whose resolved role is one of required.
func (g *Gates) RequireRole(required ...roles.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return g.roleGate(next, func(snap roleresolver.Snapshot) gates.Decision {
			return gates.RoleProtectedRoute(snap, required...)
		})
	}
}

// RequireUploadRole admits workspaces allowed to upload content.
func (g *Gates) RequireUploadRole(next http.Handler) http.Handler {
	return g.roleGate(next, gates.RoleProtectedUpload)
}

func (g *Gates) roleGate(next http.Handler, decide func(roleresolver.Snapshot) gates.Decision) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws := g.workspace(w, r)
		if ws == nil {
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), g.verifyTimeout)
		_, err := ws.Resolver.Role(ctx)
		cancel()
		if err != nil {
			g.logger.Debug("role still resolving",
				zap.String("request_id", GetRequestIDFromContext(r.Context())),
				zap.Error(err))
		}

		d := decide(ws.Resolver.Snapshot())
		if d.Outcome == gates.OutcomeRender {
			next.ServeHTTP(w, r)
			return
		}
		g.render(w, r, ws, d)
	})
}

func (g *Gates) workspace(w http.ResponseWriter, r *http.Request) *workspace.Workspace {
	ws := workspace.FromContext(r.Context())
	if ws == nil {
		g.logger.Error("gate reached without a workspace",
			zap.String("request_id", GetRequestIDFromContext(r.Context())))
		_ = utils.WriteInternalServerError(w, "")
	}
	return ws
}

func (g *Gates) render(w http.ResponseWriter, r *http.Request, ws *workspace.Workspace, d gates.Decision) {
	switch d.Outcome {
	case gates.OutcomeLoading, gates.OutcomeVerifying:
		snap := ws.Resolver.Snapshot()
		w.Header().Set("Retry-After", "1")
		_ = utils.WriteAccepted(w, PendingResponse{
			Outcome:   d.Outcome,
			ViewState: gates.Project(ws.Provider.State(), snap),
			HintRole:  string(snap.HintRole),
		})

	case gates.OutcomeRedirect:
		http.Redirect(w, r, gates.SignInURL(g.signInPath, d.Next, d.SessionExpired), http.StatusFound)

	case gates.OutcomeDeny:
		g.deny(r, ws, d)
		_ = utils.WriteForbidden(w, string(d.Reason), d.Message)
	}
}

func (g *Gates) deny(r *http.Request, ws *workspace.Workspace, d gates.Decision) {
	snap := ws.Resolver.Snapshot()
	session := ws.Provider.Session()

	fields := []zap.Field{
		zap.String("request_id", GetRequestIDFromContext(r.Context())),
		zap.String("path", r.URL.Path),
		zap.String("reason", string(d.Reason)),
		zap.String("role", snap.Role.String()),
		zap.String("role_source", string(snap.Source)),
	}
	if session != nil {
		fields = append(fields, zap.String("principal", session.Email))
	}
	g.logger.Info("access denied", fields...)

	if g.auditor == nil || session == nil {
		return
	}
	err := g.auditor.LogAccessDenied(r.Context(), session.ID, session.PrincipalID, session.Email,
		snap.Role, snap.Source, string(d.Reason), r.URL.Path)
	if err != nil {
		g.logger.Debug("access denial not audited", zap.Error(err))
	}
}
