package api

import (
	"net/http"
	"strconv"

	"github.com/Morfar22/nexus-rp-portal-sub003/internal/domain"
)

// handleListPermissions returns every known permission
func (r *Router) handleListPermissions(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, domain.AllPermissions)
}

func (r *Router) handleListStaffRoles(w http.ResponseWriter, req *http.Request) {
	roles, err := r.store.ListStaffRoles(req.Context())
	if err != nil {
		writeFailure(w, req, err, "staff roles")
		return
	}
	writeJSON(w, http.StatusOK, roles)
}

func (r *Router) handleCreateStaffRole(w http.ResponseWriter, req *http.Request) {
	var role domain.StaffRole
	if !decodeJSON(w, req, &role) {
		return
	}
	if err := validateStaffRole(&role); err != nil {
		writeFailure(w, req, err, "staff role")
		return
	}
	if role.Permissions == nil {
		role.Permissions = []domain.Permission{}
	}
	if err := r.store.CreateStaffRole(req.Context(), &role); err != nil {
		writeFailure(w, req, err, "staff role")
		return
	}

	r.audit(req, authFrom(req), domain.AuditRoleChanged, domain.SeverityInfo, "staff_role", strconv.FormatInt(role.ID, 10),
		map[string]any{"op": "create", "name": role.Name, "permissions": role.Permissions})
	writeJSON(w, http.StatusCreated, role)
}

// handleUpdateStaffRole updates the role's fields; permissions have their own endpoint
func (r *Router) handleUpdateStaffRole(w http.ResponseWriter, req *http.Request) {
	id, ok := pathID(w, req, "staff role")
	if !ok {
		return
	}
	var role domain.StaffRole
	if !decodeJSON(w, req, &role) {
		return
	}
	role.ID = id
	role.Permissions = nil
	if err := validateStaffRole(&role); err != nil {
		writeFailure(w, req, err, "staff role")
		return
	}
	if err := r.store.UpdateStaffRole(req.Context(), &role); err != nil {
		writeFailure(w, req, err, "staff role")
		return
	}

	r.audit(req, authFrom(req), domain.AuditRoleChanged, domain.SeverityInfo, "staff_role", strconv.FormatInt(id, 10),
		map[string]any{"op": "update", "name": role.Name, "discord_role_id": role.DiscordRoleID})

	updated, err := r.store.GetStaffRole(req.Context(), id)
	if err != nil {
		writeFailure(w, req, err, "staff role")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (r *Router) handleDeleteStaffRole(w http.ResponseWriter, req *http.Request) {
	id, ok := pathID(w, req, "staff role")
	if !ok {
		return
	}
	if err := r.store.DeleteStaffRole(req.Context(), id); err != nil {
		writeFailure(w, req, err, "staff role")
		return
	}
	r.audit(req, authFrom(req), domain.AuditRoleChanged, domain.SeverityWarning, "staff_role", strconv.FormatInt(id, 10),
		map[string]any{"op": "delete"})
	writeJSON(w, http.StatusOK, map[string]string{"message": "staff role deleted"})
}

// SetPermissionsRequest replaces a role's permission set
type SetPermissionsRequest struct {
	Permissions []domain.Permission `json:"permissions"`
}

func (r *Router) handleSetRolePermissions(w http.ResponseWriter, req *http.Request) {
	id, ok := pathID(w, req, "staff role")
	if !ok {
		return
	}
	var body SetPermissionsRequest
	if !decodeJSON(w, req, &body) {
		return
	}
	if err := validatePermissions(body.Permissions); err != nil {
		writeFailure(w, req, err, "permissions")
		return
	}
	if _, err := r.store.GetStaffRole(req.Context(), id); err != nil {
		writeFailure(w, req, err, "staff role")
		return
	}
	if err := r.store.SetRolePermissions(req.Context(), id, body.Permissions); err != nil {
		writeFailure(w, req, err, "permissions")
		return
	}

	r.audit(req, authFrom(req), domain.AuditRoleChanged, domain.SeverityWarning, "staff_role", strconv.FormatInt(id, 10),
		map[string]any{"op": "permissions", "permissions": body.Permissions})

	role, err := r.store.GetStaffRole(req.Context(), id)
	if err != nil {
		writeFailure(w, req, err, "staff role")
		return
	}
	writeJSON(w, http.StatusOK, role)
}
