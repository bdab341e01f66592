package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"minerva.org/internal/auth"
)

type createPermissionRequest struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Description string `json:"description"`
}

type updateDisplayRequest struct {
	DisplayName string `json:"display_name"`
	Description string `json:"description"`
}

type createRoleRequest struct {
	Name        string   `json:"name"`
	DisplayName string   `json:"display_name"`
	Description string   `json:"description"`
	RoleType    string   `json:"role_type"`
	Permissions []string `json:"permissions"`
}

type grantPermissionRequest struct {
	Permission string `json:"permission"`
}

type assignRoleRequest struct {
	Role string `json:"role"`
}

type replaceRolesRequest struct {
	Roles []string `json:"roles"`
}

type setStatusRequest struct {
	Status string `json:"status"`
}

func (a *API) handlePermissionsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if !a.ensurePermission(w, r, auth.PermPermissionRead) {
			return
		}
		perms, err := a.svc.ListPermissions(r.Context())
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": viewPermissions(perms)})
	case http.MethodPost:
		if !a.ensurePermission(w, r, auth.PermPermissionManage) {
			return
		}
		var req createPermissionRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, "INVALID_BODY", err.Error())
			return
		}
		perm, err := a.svc.CreatePermission(r.Context(), req.Name, req.DisplayName, req.Description)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		w.Header().Set("Location", fmt.Sprintf("/v1/permissions/%s", perm.ID))
		writeJSON(w, http.StatusCreated, viewPermission(perm))
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handlePermissionResource(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/permissions/"), "/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", "resource not found")
		return
	}
	switch r.Method {
	case http.MethodPut:
		if !a.ensurePermission(w, r, auth.PermPermissionManage) {
			return
		}
		var req updateDisplayRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, "INVALID_BODY", err.Error())
			return
		}
		perm, err := a.svc.UpdatePermission(r.Context(), id, req.DisplayName, req.Description)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, viewPermission(perm))
	case http.MethodDelete:
		if !a.ensurePermission(w, r, auth.PermPermissionManage) {
			return
		}
		if err := a.svc.DeletePermission(r.Context(), id); err != nil {
			handleServiceError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodPut, http.MethodDelete)
	}
}

func (a *API) handleRolesCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if !a.ensurePermission(w, r, auth.PermRoleRead) {
			return
		}
		roles, err := a.svc.ListRoles(r.Context())
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		views := make([]roleView, 0, len(roles))
		for _, role := range roles {
			views = append(views, viewRole(role))
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": views})
	case http.MethodPost:
		if !a.ensurePermission(w, r, auth.PermRoleManage) {
			return
		}
		var req createRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, "INVALID_BODY", err.Error())
			return
		}
		role, err := a.svc.CreateRole(r.Context(), req.Name, req.DisplayName, req.Description,
			auth.RoleType(req.RoleType), req.Permissions)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		w.Header().Set("Location", fmt.Sprintf("/v1/roles/%s", role.ID))
		writeJSON(w, http.StatusCreated, viewRole(role))
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleRoleResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/roles/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	switch {
	case len(parts) == 1:
		a.handleRole(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "permissions":
		a.grantRolePermission(w, r, parts[0])
	case len(parts) == 3 && parts[1] == "permissions":
		a.revokeRolePermission(w, r, parts[0], parts[2])
	default:
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", "resource not found")
	}
}

func (a *API) handleRole(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodPut:
		if !a.ensurePermission(w, r, auth.PermRoleManage) {
			return
		}
		var req updateDisplayRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, "INVALID_BODY", err.Error())
			return
		}
		role, err := a.svc.UpdateRole(r.Context(), id, req.DisplayName, req.Description)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, viewRole(role))
	case http.MethodDelete:
		if !a.ensurePermission(w, r, auth.PermRoleManage) {
			return
		}
		if err := a.svc.DeleteRole(r.Context(), id); err != nil {
			handleServiceError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodPut, http.MethodDelete)
	}
}

func (a *API) grantRolePermission(w http.ResponseWriter, r *http.Request, roleID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.ensurePermission(w, r, auth.PermRoleManage) {
		return
	}
	var req grantPermissionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	role, err := a.svc.GrantRolePermission(r.Context(), roleID, req.Permission)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewRole(role))
}

func (a *API) revokeRolePermission(w http.ResponseWriter, r *http.Request, roleID, permission string) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	if !a.ensurePermission(w, r, auth.PermRoleManage) {
		return
	}
	role, err := a.svc.RevokeRolePermission(r.Context(), roleID, permission)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewRole(role))
}

func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/users/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	switch {
	case len(parts) == 1:
		a.getUser(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "roles":
		a.handleUserRoles(w, r, parts[0])
	case len(parts) == 3 && parts[1] == "roles":
		a.revokeUserRole(w, r, parts[0], parts[2])
	case len(parts) == 2 && parts[1] == "permissions":
		a.getUserPermissions(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "status":
		a.setUserStatus(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "sessions":
		a.invalidateUserSessions(w, r, parts[0])
	default:
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", "resource not found")
	}
}

func (a *API) getUser(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.ensurePermission(w, r, auth.PermUserRead) {
		return
	}
	user, err := a.svc.GetUser(r.Context(), userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewUser(user))
}

func (a *API) handleUserRoles(w http.ResponseWriter, r *http.Request, userID string) {
	switch r.Method {
	case http.MethodPost:
		if !a.ensurePermission(w, r, auth.PermUserManage) {
			return
		}
		var req assignRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, "INVALID_BODY", err.Error())
			return
		}
		req.Role = strings.TrimSpace(req.Role)
		if req.Role == "" {
			writeError(w, r, http.StatusBadRequest, "INVALID_BODY", "role is required")
			return
		}
		user, err := a.svc.AssignRole(r.Context(), userID, req.Role)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, viewUser(user))
	case http.MethodPut:
		if !a.ensurePermission(w, r, auth.PermUserManage) {
			return
		}
		var req replaceRolesRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, "INVALID_BODY", err.Error())
			return
		}
		user, err := a.svc.ReplaceRoles(r.Context(), userID, req.Roles)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, viewUser(user))
	default:
		methodNotAllowed(w, r, http.MethodPost, http.MethodPut)
	}
}

func (a *API) revokeUserRole(w http.ResponseWriter, r *http.Request, userID, roleName string) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	if !a.ensurePermission(w, r, auth.PermUserManage) {
		return
	}
	user, err := a.svc.RevokeRole(r.Context(), userID, roleName)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewUser(user))
}

func (a *API) getUserPermissions(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.ensurePermission(w, r, auth.PermUserRead) {
		return
	}
	perms, err := a.svc.UserPermissions(r.Context(), userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": viewPermissions(perms)})
}

func (a *API) setUserStatus(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	if !a.ensurePermission(w, r, auth.PermUserManage) {
		return
	}
	var req setStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	var user *auth.User
	var err error
	switch auth.UserStatus(req.Status) {
	case auth.UserStatusActive:
		user, err = a.svc.ActivateUser(r.Context(), userID)
	case auth.UserStatusInactive:
		user, err = a.svc.DeactivateUser(r.Context(), userID)
	case auth.UserStatusSuspended:
		user, err = a.svc.SuspendUser(r.Context(), userID)
	default:
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", "status must be active, inactive or suspended")
		return
	}
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewUser(user))
}

func (a *API) invalidateUserSessions(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	if !a.ensurePermission(w, r, auth.PermUserManage) {
		return
	}
	if err := a.svc.InvalidateSessions(r.Context(), userID); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
