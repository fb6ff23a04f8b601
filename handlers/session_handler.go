package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/upb/realty-dashboard/authstate"
	"github.com/upb/realty-dashboard/gates"
	"github.com/upb/realty-dashboard/internal/observability"
	"github.com/upb/realty-dashboard/roleresolver"
	"github.com/upb/realty-dashboard/roles"
	"github.com/upb/realty-dashboard/utils"
	"github.com/upb/realty-dashboard/workspace"
	"go.uber.org/zap"
)

// RoleAuditor records explicit role refreshes. *audit.AuditService satisfies it.
type RoleAuditor interface {
	LogRoleRefreshed(ctx context.Context, sessionID uuid.UUID, principalID, email string, role roles.Role, source roles.Source) error
}

// UserResponse describes the signed-in principal. The token never leaves
// the server.
type UserResponse struct {
	SessionID   uuid.UUID `json:"session_id"`
	PrincipalID string    `json:"principal_id"`
	Email       string    `json:"email"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// SessionResponse is the authentication state of a workspace.
type SessionResponse struct {
	Phase          authstate.Phase     `json:"phase"`
	ViewState      gates.AuthViewState `json:"view_state"`
	Authenticated  bool                `json:"authenticated"`
	SessionExpired bool                `json:"session_expired,omitempty"`
	User           *UserResponse       `json:"user,omitempty"`
}

// RoleResponse is the resolved role of a workspace session.
type RoleResponse struct {
	Role         roles.Role         `json:"role,omitempty"`
	Source       roles.Source       `json:"source"`
	Groups       []string           `json:"groups,omitempty"`
	Capabilities []roles.Capability `json:"capabilities,omitempty"`
	Degraded     bool               `json:"degraded,omitempty"`
	Loading      bool               `json:"loading,omitempty"`
	// HintRole is the last known role while Loading. Display only.
	HintRole roles.Role `json:"hint_role,omitempty"`
}

// SessionHandler serves sign-in, sign-out and role endpoints for the
// workspace bound to the request.
type SessionHandler struct {
	auditor       RoleAuditor
	redirectURI   string
	verifyTimeout time.Duration
	logger        *zap.Logger
}

// NewSessionHandler creates a SessionHandler. auditor may be nil.
// redirectURI is sent with authorization codes posted to sign-in.
func NewSessionHandler(auditor RoleAuditor, redirectURI string, verifyTimeout time.Duration, logger *zap.Logger) *SessionHandler {
	if verifyTimeout <= 0 {
		verifyTimeout = 5 * time.Second
	}
	return &SessionHandler{
		auditor:       auditor,
		redirectURI:   redirectURI,
		verifyTimeout: verifyTimeout,
		logger:        logger,
	}
}

// HandleSignIn handles POST /auth/signin
func (h *SessionHandler) HandleSignIn(w http.ResponseWriter, r *http.Request) {
	ws := h.workspace(w, r)
	if ws == nil {
		return
	}

	var creds authstate.Credentials
	if err := utils.DecodeJSON(r, &creds); err != nil {
		HandleValidationError(w, err, h.log(r))
		return
	}
	if creds.IsCode() {
		creds.RedirectURI = h.redirectURI
	}

	if _, err := ws.Provider.SignIn(r.Context(), creds); err != nil {
		HandleServiceError(w, err, h.log(r))
		return
	}

	_ = utils.WriteOK(w, sessionResponse(ws))
}

// HandleSignOut handles POST /auth/signout. It always succeeds.
func (h *SessionHandler) HandleSignOut(w http.ResponseWriter, r *http.Request) {
	ws := h.workspace(w, r)
	if ws == nil {
		return
	}
	ws.Provider.SignOut(r.Context())
	utils.WriteNoContent(w)
}

// HandleRefresh handles POST /auth/refresh. It re-runs the session
// bootstrap and answers 202 if it outlasts the verify timeout.
func (h *SessionHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	ws := h.workspace(w, r)
	if ws == nil {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.verifyTimeout)
	defer cancel()

	if err := ws.Provider.RefreshAuth(ctx); err != nil {
		h.log(r).Debug("session refresh still running", zap.Error(err))
		w.Header().Set("Retry-After", "1")
		_ = utils.WriteAccepted(w, sessionResponse(ws))
		return
	}
	_ = utils.WriteOK(w, sessionResponse(ws))
}

// HandleSession handles GET /auth/session without blocking.
func (h *SessionHandler) HandleSession(w http.ResponseWriter, r *http.Request) {
	ws := h.workspace(w, r)
	if ws == nil {
		return
	}
	_ = utils.WriteOK(w, sessionResponse(ws))
}

// HandleRole handles GET /auth/role
func (h *SessionHandler) HandleRole(w http.ResponseWriter, r *http.Request) {
	h.serveRole(w, r, false)
}

// HandleRoleRefresh handles POST /auth/role/refresh. The cached role is
// discarded and derived again.
func (h *SessionHandler) HandleRoleRefresh(w http.ResponseWriter, r *http.Request) {
	h.serveRole(w, r, true)
}

func (h *SessionHandler) serveRole(w http.ResponseWriter, r *http.Request, force bool) {
	ws := h.workspace(w, r)
	if ws == nil {
		return
	}

	session := ws.Provider.Session()
	if session == nil {
		_ = utils.WriteUnauthorized(w, "No active session")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.verifyTimeout)
	defer cancel()

	var res roleresolver.Resolution
	var err error
	if force {
		res, err = ws.Resolver.ForceUpdateRole(ctx)
	} else {
		res, err = ws.Resolver.Role(ctx)
	}
	if err != nil {
		h.log(r).Debug("role still resolving", zap.Error(err))
		snap := ws.Resolver.Snapshot()
		w.Header().Set("Retry-After", "1")
		_ = utils.WriteAccepted(w, RoleResponse{
			Source:   snap.Source,
			Loading:  true,
			HintRole: snap.HintRole,
		})
		return
	}

	if force && h.auditor != nil {
		if err := h.auditor.LogRoleRefreshed(r.Context(), session.ID, session.PrincipalID, session.Email, res.Role, res.Source); err != nil {
			h.log(r).Warn("failed to audit role refresh", zap.Error(err))
		}
	}

	_ = utils.WriteOK(w, roleResponse(res))
}

func (h *SessionHandler) workspace(w http.ResponseWriter, r *http.Request) *workspace.Workspace {
	ws := workspace.FromContext(r.Context())
	if ws == nil {
		h.log(r).Error("session endpoint reached without a workspace", zap.String("path", r.URL.Path))
		_ = utils.WriteInternalServerError(w, "")
	}
	return ws
}

func (h *SessionHandler) log(r *http.Request) *zap.Logger {
	return observability.WithRequest(r.Context(), h.logger)
}

func sessionResponse(ws *workspace.Workspace) SessionResponse {
	state := ws.Provider.State()
	resp := SessionResponse{
		Phase:          state.Phase(),
		ViewState:      gates.Project(state, ws.Resolver.Snapshot()),
		Authenticated:  state.IsAuthenticated,
		SessionExpired: state.SessionExpired(),
	}
	if state.User != nil {
		resp.User = &UserResponse{
			SessionID:   state.User.ID,
			PrincipalID: state.User.PrincipalID,
			Email:       state.User.Email,
			ExpiresAt:   state.User.ExpiresAt,
		}
	}
	return resp
}

func roleResponse(res roleresolver.Resolution) RoleResponse {
	return RoleResponse{
		Role:         res.Role,
		Source:       res.Source,
		Groups:       res.Groups,
		Capabilities: roles.CapabilitiesFor(res.Role),
		Degraded:     res.Degraded(),
	}
}
