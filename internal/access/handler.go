package access

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/compasshq/compass/internal/permission"
	"github.com/compasshq/compass/internal/platform/httpx"
)

// Handler exposes the security administration API: role assignment, group
// membership, individual overrides, and the per-user security summary.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	guard     Middleware
	validator *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, guard Middleware) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		guard:     guard,
		validator: validator.New(),
	}
}

// MountRoutes registers the security administration routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Require(permission.CapSeeSecuritySettings))
		r.Get("/users/{userID}/summary", h.securitySummary)
		r.Get("/roles", h.listRoles)
		r.Get("/groups", h.listGroups)
		r.Get("/capabilities", h.listCapabilities)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Require(permission.CapEditSecuritySettings))
		r.Post("/roles", h.createRole)
		r.Put("/roles/{roleID}/grants", h.setRoleGrants)
		r.Put("/users/{userID}/role", h.assignRole)
		r.Post("/groups", h.createGroup)
		r.Put("/groups/{groupID}/grants", h.setGroupGrants)
		r.Post("/groups/{groupID}/members/{userID}", h.addMember)
		r.Delete("/groups/{groupID}/members/{userID}", h.removeMember)
		r.Put("/users/{userID}/override", h.setOverride)
		r.Delete("/users/{userID}/override", h.clearOverride)
	})
}

type createRoleRequest struct {
	Name        string          `json:"name" validate:"required,min=2,max=120"`
	Description string          `json:"description" validate:"max=500"`
	Grants      map[string]bool `json:"grants" validate:"required"`
}

type createGroupRequest struct {
	Name        string          `json:"name" validate:"required,min=2,max=120"`
	Description string          `json:"description" validate:"max=500"`
	Grants      map[string]bool `json:"grants" validate:"required"`
}

type grantsRequest struct {
	Grants map[string]bool `json:"grants" validate:"required"`
}

type assignRoleRequest struct {
	RoleID int64 `json:"roleId" validate:"required,gt=0"`
}

func (h *Handler) securitySummary(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathID(w, r, "userID")
	if !ok {
		return
	}
	summary, err := h.service.SummaryForUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("security summary", slog.Int64("user_id", userID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListRoles(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": roles})
}

func (h *Handler) listGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.service.ListGroups(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"groups": groups})
}

func (h *Handler) listCapabilities(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string]any{"capabilities": permission.Capabilities()})
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if !h.decode(w, r, &req) {
		return
	}
	actorID, _ := ActorID(r)
	role, err := h.service.CreateRole(r.Context(), actorID, req.Name, req.Description, toCapabilityMap(req.Grants))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, role)
}

func (h *Handler) setRoleGrants(w http.ResponseWriter, r *http.Request) {
	roleID, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	var req grantsRequest
	if !h.decode(w, r, &req) {
		return
	}
	actorID, _ := ActorID(r)
	if err := h.service.SetRoleGrants(r.Context(), actorID, roleID, toCapabilityMap(req.Grants)); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathID(w, r, "userID")
	if !ok {
		return
	}
	var req assignRoleRequest
	if !h.decode(w, r, &req) {
		return
	}
	actorID, _ := ActorID(r)
	if err := h.service.AssignRole(r.Context(), actorID, userID, req.RoleID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) createGroup(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if !h.decode(w, r, &req) {
		return
	}
	actorID, _ := ActorID(r)
	group, err := h.service.CreateGroup(r.Context(), actorID, req.Name, req.Description, toCapabilityMap(req.Grants))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, group)
}

func (h *Handler) setGroupGrants(w http.ResponseWriter, r *http.Request) {
	groupID, ok := h.pathID(w, r, "groupID")
	if !ok {
		return
	}
	var req grantsRequest
	if !h.decode(w, r, &req) {
		return
	}
	actorID, _ := ActorID(r)
	if err := h.service.SetGroupGrants(r.Context(), actorID, groupID, toCapabilityMap(req.Grants)); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) addMember(w http.ResponseWriter, r *http.Request) {
	groupID, ok := h.pathID(w, r, "groupID")
	if !ok {
		return
	}
	userID, ok := h.pathID(w, r, "userID")
	if !ok {
		return
	}
	actorID, _ := ActorID(r)
	if err := h.service.AddGroupMember(r.Context(), actorID, groupID, userID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) removeMember(w http.ResponseWriter, r *http.Request) {
	groupID, ok := h.pathID(w, r, "groupID")
	if !ok {
		return
	}
	userID, ok := h.pathID(w, r, "userID")
	if !ok {
		return
	}
	actorID, _ := ActorID(r)
	if err := h.service.RemoveGroupMember(r.Context(), actorID, groupID, userID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) setOverride(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathID(w, r, "userID")
	if !ok {
		return
	}
	var req grantsRequest
	if !h.decode(w, r, &req) {
		return
	}
	actorID, _ := ActorID(r)
	record, err := h.service.SetOverride(r.Context(), actorID, userID, toCapabilityMap(req.Grants))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"version": record.Version, "updatedAt": record.UpdatedAt})
}

func (h *Handler) clearOverride(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathID(w, r, "userID")
	if !ok {
		return
	}
	actorID, _ := ActorID(r)
	if err := h.service.ClearOverride(r.Context(), actorID, userID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Request", "request body is not valid JSON")
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Identifier", "path parameter "+name+" must be a positive integer")
		return 0, false
	}
	return id, true
}

func toCapabilityMap(grants map[string]bool) map[permission.Capability]bool {
	out := make(map[permission.Capability]bool, len(grants))
	for name, allowed := range grants {
		out[permission.Capability(name)] = allowed
	}
	return out
}
