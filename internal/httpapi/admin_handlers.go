package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"evaid.org/internal/audit"
	"evaid.org/internal/identity"
)

type registerIdentityRequest struct {
	Identifier     string `json:"identifier"`
	IdentifierType string `json:"identifier_type"`
	Password       string `json:"password"`
}

type registerIdentityResponse struct {
	Identity   identity.Identity   `json:"identity"`
	Credential identity.Credential `json:"credential"`
}

type setActiveRequest struct {
	Active bool `json:"active"`
}

type addCredentialRequest struct {
	Identifier     string `json:"identifier"`
	IdentifierType string `json:"identifier_type"`
	Password       string `json:"password"`
}

type setPasswordRequest struct {
	Password string `json:"password"`
	Reset    bool   `json:"reset"`
}

type assignRoleRequest struct {
	RoleCode string `json:"role_code"`
}

type createRoleRequest struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type createPermissionRequest struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type updateRolePermissionsRequest struct {
	Permissions []string `json:"permissions"`
}

func (a *API) handleIdentitiesCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.registerIdentity(w, r)
	case http.MethodGet:
		if !a.ensurePermission(w, r, identity.PermManageIdentities) {
			return
		}
		idents, err := a.store.ListIdentities(r.Context())
		if err != nil {
			handleIdentityError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": idents})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) registerIdentity(w http.ResponseWriter, r *http.Request) {
	if !a.ensurePermission(w, r, identity.PermManageIdentities) {
		return
	}
	var req registerIdentityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	identifierType, err := identity.ParseIdentifierType(req.IdentifierType)
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	ident, cred, err := a.svc.Register(r.Context(), req.Identifier, identifierType, req.Password)
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "identity.register", map[string]any{
		"identity_id":     ident.ID,
		"identifier_type": string(identifierType),
	})
	w.Header().Set("Location", fmt.Sprintf("/v1/identities/%s", ident.ID))
	writeJSON(w, http.StatusCreated, registerIdentityResponse{Identity: ident, Credential: cred})
}

// handleIdentityResource routes /v1/identities/{id}[/sub...].
func (a *API) handleIdentityResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/identities/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	id := parts[0]

	switch len(parts) {
	case 1:
		a.identityByID(w, r, id)
	case 2:
		switch parts[1] {
		case "active":
			a.setIdentityActive(w, r, id)
		case "credentials":
			a.identityCredentials(w, r, id)
		case "roles":
			a.identityRoles(w, r, id)
		default:
			writeError(w, r, http.StatusNotFound, "resource not found")
		}
	case 3:
		if parts[1] == "roles" {
			a.removeIdentityRole(w, r, id, parts[2])
			return
		}
		writeError(w, r, http.StatusNotFound, "resource not found")
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) identityByID(w http.ResponseWriter, r *http.Request, id string) {
	if !a.ensurePermission(w, r, identity.PermManageIdentities) {
		return
	}
	switch r.Method {
	case http.MethodGet:
		ident, err := a.store.GetIdentity(r.Context(), id)
		if err != nil {
			handleIdentityError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, ident)
	case http.MethodDelete:
		if err := a.store.DeleteIdentity(r.Context(), id); err != nil {
			handleIdentityError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "identity.delete", map[string]any{"identity_id": id})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
	}
}

func (a *API) setIdentityActive(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	if !a.ensurePermission(w, r, identity.PermManageIdentities) {
		return
	}
	var req setActiveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	ident, err := a.svc.SetActive(r.Context(), id, req.Active)
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "identity.set_active", map[string]any{
		"identity_id": id,
		"active":      req.Active,
	})
	writeJSON(w, http.StatusOK, ident)
}

func (a *API) identityCredentials(w http.ResponseWriter, r *http.Request, id string) {
	if !a.ensurePermission(w, r, identity.PermManageIdentities) {
		return
	}
	switch r.Method {
	case http.MethodGet:
		creds, err := a.store.ListCredentials(r.Context(), id)
		if err != nil {
			handleIdentityError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": creds})
	case http.MethodPost:
		var req addCredentialRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		identifierType, err := identity.ParseIdentifierType(req.IdentifierType)
		if err != nil {
			handleIdentityError(w, r, err)
			return
		}
		cred, err := a.svc.AddCredential(r.Context(), id, req.Identifier, identifierType, req.Password)
		if err != nil {
			handleIdentityError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "identity.credential.add", map[string]any{
			"identity_id":     id,
			"identifier_type": string(identifierType),
		})
		writeJSON(w, http.StatusCreated, cred)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) identityRoles(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		if !a.ensurePermission(w, r, identity.PermManageRoles) {
			return
		}
		roles, err := a.store.RolesForIdentity(r.Context(), id)
		if err != nil {
			handleIdentityError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": roles})
	case http.MethodPost:
		if !a.ensurePermission(w, r, identity.PermManageRoles) {
			return
		}
		var req assignRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		req.RoleCode = strings.TrimSpace(req.RoleCode)
		if req.RoleCode == "" {
			writeError(w, r, http.StatusBadRequest, "role_code is required")
			return
		}
		if err := a.svc.AssignRole(r.Context(), id, req.RoleCode); err != nil {
			handleIdentityError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "identity.role.assign", map[string]any{
			"identity_id": id,
			"role_code":   req.RoleCode,
		})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) removeIdentityRole(w http.ResponseWriter, r *http.Request, id, roleCode string) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	if !a.ensurePermission(w, r, identity.PermManageRoles) {
		return
	}
	if err := a.svc.RemoveRole(r.Context(), id, roleCode); err != nil {
		handleIdentityError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "identity.role.remove", map[string]any{
		"identity_id": id,
		"role_code":   roleCode,
	})
	w.WriteHeader(http.StatusNoContent)
}

// handleCredentialResource routes /v1/credentials/{id}[/password].
func (a *API) handleCredentialResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/credentials/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	id := parts[0]

	if !a.ensurePermission(w, r, identity.PermManageIdentities) {
		return
	}

	switch {
	case len(parts) == 1 && r.Method == http.MethodDelete:
		if err := a.store.DeleteCredential(r.Context(), id); err != nil {
			handleIdentityError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "identity.credential.delete", map[string]any{"credential_id": id})
		w.WriteHeader(http.StatusNoContent)
	case len(parts) == 2 && parts[1] == "password":
		if r.Method != http.MethodPut {
			methodNotAllowed(w, r, http.MethodPut)
			return
		}
		var req setPasswordRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		var err error
		if req.Reset {
			err = a.svc.ResetPassword(r.Context(), id, req.Password)
		} else {
			err = a.svc.SetPassword(r.Context(), id, req.Password)
		}
		if err != nil {
			handleIdentityError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "identity.password.update", map[string]any{
			"credential_id": id,
			"reset":         req.Reset,
		})
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleRolesCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		if !a.ensurePermission(w, r, identity.PermManageRoles) {
			return
		}
		var req createRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		role, err := a.svc.CreateRole(r.Context(), req.Code, req.Name, req.Description)
		if err != nil {
			handleIdentityError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "role.create", map[string]any{
			"role_id": role.ID,
			"code":    role.Code,
		})
		w.Header().Set("Location", fmt.Sprintf("/v1/roles/%s", role.ID))
		writeJSON(w, http.StatusCreated, role)
	case http.MethodGet:
		if !a.ensurePermission(w, r, identity.PermManageRoles) {
			return
		}
		roles, err := a.store.ListRoles(r.Context())
		if err != nil {
			handleIdentityError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": roles})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// handleRoleResource routes /v1/roles/{id}[/permissions].
func (a *API) handleRoleResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/roles/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	id := parts[0]

	switch {
	case len(parts) == 1:
		if !a.ensurePermission(w, r, identity.PermManageRoles) {
			return
		}
		switch r.Method {
		case http.MethodGet:
			role, err := a.store.GetRole(r.Context(), id)
			if err != nil {
				handleIdentityError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, role)
		case http.MethodDelete:
			if err := a.store.DeleteRole(r.Context(), id); err != nil {
				handleIdentityError(w, r, err)
				return
			}
			_ = audit.LogEvent(r.Context(), "role.delete", map[string]any{"role_id": id})
			w.WriteHeader(http.StatusNoContent)
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
		}
	case len(parts) == 2 && parts[1] == "permissions":
		a.rolePermissions(w, r, id)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) rolePermissions(w http.ResponseWriter, r *http.Request, roleID string) {
	if !a.ensurePermission(w, r, identity.PermManagePermissions) {
		return
	}
	switch r.Method {
	case http.MethodGet:
		perms, err := a.store.PermissionsForRole(r.Context(), roleID)
		if err != nil {
			handleIdentityError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": perms})
	case http.MethodPut:
		var req updateRolePermissionsRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.svc.SetRolePermissions(r.Context(), roleID, req.Permissions); err != nil {
			handleIdentityError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "role.permissions.update", map[string]any{
			"role_id": roleID,
			"count":   len(req.Permissions),
		})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut)
	}
}

func (a *API) handlePermissionsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		if !a.ensurePermission(w, r, identity.PermManagePermissions) {
			return
		}
		var req createPermissionRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		perm, err := a.svc.CreatePermission(r.Context(), req.Code, req.Name, req.Description)
		if err != nil {
			handleIdentityError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "permission.create", map[string]any{
			"permission_id": perm.ID,
			"code":          perm.Code,
		})
		w.Header().Set("Location", fmt.Sprintf("/v1/permissions/%s", perm.ID))
		writeJSON(w, http.StatusCreated, perm)
	case http.MethodGet:
		if !a.ensurePermission(w, r, identity.PermManagePermissions) {
			return
		}
		perms, err := a.store.ListPermissions(r.Context())
		if err != nil {
			handleIdentityError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": perms})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handlePermissionResource(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/permissions/"), "/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	if !a.ensurePermission(w, r, identity.PermManagePermissions) {
		return
	}
	if err := a.store.DeletePermission(r.Context(), id); err != nil {
		handleIdentityError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "permission.delete", map[string]any{"permission_id": id})
	w.WriteHeader(http.StatusNoContent)
}
