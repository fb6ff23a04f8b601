package handlers

import (
	"net/http"

	"github.com/upb/realty-dashboard/internal/observability"
	"github.com/upb/realty-dashboard/middleware"
	"github.com/upb/realty-dashboard/roles"
	"github.com/upb/realty-dashboard/utils"
	"github.com/upb/realty-dashboard/workspace"
	"go.uber.org/zap"
)

// navigation lists the sections the application shell can link to, in
// display order.
var navigation = []roles.Capability{
	roles.SectionDashboard,
	roles.SectionProperties,
	roles.SectionAnalytics,
	roles.SectionMarketInsights,
	roles.SectionAdminPanel,
	roles.SectionUserManagement,
}

var actions = []roles.Capability{
	roles.ActionViewProperties,
	roles.ActionManageProperties,
	roles.ActionUploadContent,
	roles.ActionExportReports,
	roles.ActionManageUsers,
}

// SectionResponse is what a gated view renders from.
type SectionResponse struct {
	Section    roles.Capability          `json:"section"`
	Role       roles.Role                `json:"role,omitempty"`
	Source     roles.Source              `json:"source"`
	Degraded   bool                      `json:"degraded,omitempty"`
	Navigation []roles.Capability        `json:"navigation"`
	Actions    map[roles.Capability]bool `json:"actions"`
}

// CallerResponse describes the bearer token caller after role derivation.
type CallerResponse struct {
	UserID       string             `json:"user_id"`
	Email        string             `json:"email,omitempty"`
	Username     string             `json:"username,omitempty"`
	ClaimRole    roles.Role         `json:"claim_role,omitempty"`
	Role         roles.Role         `json:"role"`
	Source       roles.Source       `json:"source"`
	Groups       []string           `json:"groups,omitempty"`
	Capabilities []roles.Capability `json:"capabilities"`
}

// AppHandler serves the gated application views and the bearer API.
type AppHandler struct {
	logger *zap.Logger
}

// NewAppHandler creates a new AppHandler
func NewAppHandler(logger *zap.Logger) *AppHandler {
	return &AppHandler{logger: logger}
}

// Section returns the handler for one application view. It runs behind
// the gates, so it only reports what the cached role allows and never
// blocks on role derivation.
func (h *AppHandler) Section(section roles.Capability) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws := workspace.FromContext(r.Context())
		if ws == nil {
			observability.WithRequest(r.Context(), h.logger).Error("view reached without a workspace", zap.String("section", string(section)))
			_ = utils.WriteInternalServerError(w, "")
			return
		}

		snap := ws.Resolver.Snapshot()
		resp := SectionResponse{
			Section:    section,
			Role:       snap.Role,
			Source:     snap.Source,
			Degraded:   snap.Resolved && snap.Source == roles.SourceErrorFallback,
			Navigation: []roles.Capability{},
			Actions:    make(map[roles.Capability]bool, len(actions)),
		}
		for _, s := range navigation {
			if ws.Resolver.CanAccess(s) {
				resp.Navigation = append(resp.Navigation, s)
			}
		}
		for _, a := range actions {
			resp.Actions[a] = ws.Resolver.HasPermission(a)
		}

		_ = utils.WriteOK(w, resp)
	}
}

// HandleMe handles GET /api/v1/me. Must run after RequireCapability so the
// derived role is in the context.
func (h *AppHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	res, ok := middleware.GetResolutionFromContext(r.Context())
	if user == nil || !ok {
		_ = utils.WriteUnauthorized(w, "")
		return
	}

	_ = utils.WriteOK(w, CallerResponse{
		UserID:       user.UserID.String(),
		Email:        user.Email,
		Username:     user.Username,
		ClaimRole:    user.ClaimRole,
		Role:         res.Role,
		Source:       res.Source,
		Groups:       res.Groups,
		Capabilities: roles.CapabilitiesFor(res.Role),
	})
}

// VerifyAction returns the handler for POST /api/v1/actions/{c}/verify.
// Reaching it means RequireCapability(c) admitted the caller, so it only
// echoes the decision for the client to proceed with the action.
func (h *AppHandler) VerifyAction(c roles.Capability) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, ok := middleware.GetResolutionFromContext(r.Context())
		if !ok {
			_ = utils.WriteUnauthorized(w, "")
			return
		}

		observability.WithRequest(r.Context(), h.logger).Info("action verified",
			zap.String("capability", string(c)),
			zap.String("role", res.Role.String()),
			zap.String("role_source", string(res.Source)))

		_ = utils.WriteOK(w, map[string]interface{}{
			"capability": c,
			"allowed":    true,
			"role":       res.Role,
			"source":     res.Source,
		})
	}
}
