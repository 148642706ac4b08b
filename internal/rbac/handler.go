package rbac

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/thew0lf/avnz-app/internal/platform/httpx"
	"github.com/thew0lf/avnz-app/internal/shared"
)

// Handler exposes the administration and gate query surface as a JSON API.
type Handler struct {
	logger   *slog.Logger
	catalog  *Catalog
	service  *Service
	acl      *ResourceAclService
	audit    *shared.AuditLogger
	validate *validator.Validate
	rbac     *Middleware
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, catalog *Catalog, service *Service, acl *ResourceAclService, audit *shared.AuditLogger, rbac *Middleware) *Handler {
	return &Handler{
		logger:   logger,
		catalog:  catalog,
		service:  service,
		acl:      acl,
		audit:    audit,
		validate: validator.New(),
		rbac:     rbac,
	}
}

// MountRoutes registers role, permission, grant and ACL routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequirePermission(ActionView, ScopeFromSession(ScopeClient), ""))
		r.Get("/roles", h.listRoles)
		r.Get("/roles/{roleID}", h.getRole)
		r.Get("/permissions", h.listPermissions)
		r.Get("/check/role", h.checkRole)
		r.Get("/check/permission", h.checkPermission)
		r.Get("/resources/{resourceType}/{resourceID}/grants", h.listResourceGrants)
	})
	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(60, time.Minute))
		r.Use(h.rbac.RequirePermission(ActionModify, ScopeFromSession(ScopeClient), ""))
		r.Post("/roles/{roleID}/permissions", h.addRolePermissions)
		r.Put("/roles/{roleID}/permissions", h.setRolePermissions)
		r.Post("/grants", h.grant)
		r.Delete("/grants", h.revoke)
		r.Post("/resources/{resourceType}/{resourceID}/grants", h.grantResource)
		r.Delete("/resources/{resourceType}/{resourceID}/grants/{userID}", h.revokeResource)
	})
}

type scopePayload struct {
	ScopeType string `json:"scope_type"`
	ScopeID   int64  `json:"scope_id"`
}

func (p scopePayload) scope() Scope {
	return Scope{Type: ScopeType(p.ScopeType), ID: p.ScopeID}
}

type grantRequest struct {
	UserID int64  `json:"user_id" validate:"required"`
	Role   string `json:"role" validate:"required"`
	scopePayload
}

type rolePermissionsRequest struct {
	PermissionIDs   []int64  `json:"permission_ids"`
	PermissionNames []string `json:"permission_names"`
}

type resourceGrantRequest struct {
	UserID      int64    `json:"user_id" validate:"required"`
	Permissions []string `json:"permissions" validate:"required,min=1"`
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.catalog.ListRoles(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": roles})
}

func (h *Handler) getRole(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "roleID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid role id")
		return
	}
	role, err := h.catalog.GetRole(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.catalog.ListPermissions(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

func (h *Handler) addRolePermissions(w http.ResponseWriter, r *http.Request) {
	role, req, ok := h.rolePermissionsInput(w, r)
	if !ok {
		return
	}
	var err error
	if len(req.PermissionNames) > 0 {
		role, err = h.catalog.AddPermissionsByName(r.Context(), role, req.PermissionNames)
	} else {
		role, err = h.catalog.AddPermissionsToRole(r.Context(), role, req.PermissionIDs)
	}
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) setRolePermissions(w http.ResponseWriter, r *http.Request) {
	role, req, ok := h.rolePermissionsInput(w, r)
	if !ok {
		return
	}
	role, err := h.catalog.SetPermissionsToRole(r.Context(), role, req.PermissionIDs)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) rolePermissionsInput(w http.ResponseWriter, r *http.Request) (Role, rolePermissionsRequest, bool) {
	var req rolePermissionsRequest
	id, err := strconv.ParseInt(chi.URLParam(r, "roleID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid role id")
		return Role{}, req, false
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed payload")
		return Role{}, req, false
	}
	role, err := h.catalog.GetRole(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return Role{}, req, false
	}
	return role, req, true
}

func (h *Handler) grant(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if !h.decode(w, r, &req) {
		return
	}
	assignment, err := h.service.Grant(r.Context(), req.UserID, RoleByName(req.Role), req.scope())
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.record(r, "rbac.grant", "role_assignment", strconv.FormatInt(assignment.ID, 10), map[string]any{
		"user_id": req.UserID, "role": req.Role, "scope": req.scope().String(),
	})
	httpx.JSON(w, http.StatusCreated, assignment)
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if !h.decode(w, r, &req) {
		return
	}
	revoked, err := h.service.Revoke(r.Context(), req.UserID, RoleByName(req.Role), req.scope())
	if err != nil {
		h.respondError(w, err)
		return
	}
	if revoked {
		h.record(r, "rbac.revoke", "role_assignment", strconv.FormatInt(req.UserID, 10), map[string]any{
			"user_id": req.UserID, "role": req.Role, "scope": req.scope().String(),
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"revoked": revoked})
}

func (h *Handler) checkRole(w http.ResponseWriter, r *http.Request) {
	userID, scope, ok := h.checkQuery(w, r)
	if !ok {
		return
	}
	allowed, err := h.service.Has(r.Context(), userID, RoleByName(r.URL.Query().Get("role")), scope)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"allowed": allowed})
}

func (h *Handler) checkPermission(w http.ResponseWriter, r *http.Request) {
	userID, scope, ok := h.checkQuery(w, r)
	if !ok {
		return
	}
	allowed, err := h.service.HasPermissionInScope(r.Context(), userID, r.URL.Query().Get("permission"), scope)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"allowed": allowed})
}

func (h *Handler) checkQuery(w http.ResponseWriter, r *http.Request) (int64, Scope, bool) {
	q := r.URL.Query()
	userID, err := strconv.ParseInt(q.Get("user_id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid user_id")
		return 0, Scope{}, false
	}
	scope := GlobalScope()
	if q.Get("scope_type") != "" || q.Get("scope_id") != "" {
		id, _ := strconv.ParseInt(q.Get("scope_id"), 10, 64)
		scope = Scope{Type: ScopeType(q.Get("scope_type")), ID: id}
	}
	return userID, scope, true
}

func (h *Handler) grantResource(w http.ResponseWriter, r *http.Request) {
	resourceType, resourceID, ok := h.resourceParams(w, r)
	if !ok {
		return
	}
	var req resourceGrantRequest
	if !h.decode(w, r, &req) {
		return
	}
	acl, err := h.acl.Grant(r.Context(), req.UserID, resourceType, resourceID, req.Permissions)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.record(r, "rbac.resource_grant", resourceType, strconv.FormatInt(resourceID, 10), map[string]any{
		"user_id": req.UserID, "permissions": req.Permissions,
	})
	httpx.JSON(w, http.StatusOK, acl)
}

func (h *Handler) revokeResource(w http.ResponseWriter, r *http.Request) {
	resourceType, resourceID, ok := h.resourceParams(w, r)
	if !ok {
		return
	}
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid user id")
		return
	}
	revoked, err := h.acl.Revoke(r.Context(), userID, resourceType, resourceID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"revoked": revoked})
}

func (h *Handler) listResourceGrants(w http.ResponseWriter, r *http.Request) {
	resourceType, resourceID, ok := h.resourceParams(w, r)
	if !ok {
		return
	}
	grants, err := h.acl.Grants(r.Context(), resourceType, resourceID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"grants": grants})
}

func (h *Handler) resourceParams(w http.ResponseWriter, r *http.Request) (string, int64, bool) {
	resourceType := chi.URLParam(r, "resourceType")
	resourceID, err := strconv.ParseInt(chi.URLParam(r, "resourceID"), 10, 64)
	if err != nil || resourceType == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid resource identity")
		return "", 0, false
	}
	return resourceType, resourceID, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed payload")
		return false
	}
	if err := h.validate.Struct(target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvalidScope):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error("rbac handler", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func (h *Handler) record(r *http.Request, action, entity, entityID string, meta map[string]any) {
	if h.audit == nil {
		return
	}
	actorID, _ := h.rbac.currentUserID(r)
	if err := h.audit.Record(r.Context(), shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: entityID,
		Meta:     meta,
	}); err != nil {
		h.logger.Warn("audit record", slog.Any("error", err))
	}
}
