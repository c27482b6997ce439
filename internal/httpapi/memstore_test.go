package httpapi

import (
	"context"
	"sort"
	"sync"
	"time"

	"evaid.org/internal/identity"
	"evaid.org/internal/ids"
)

// memStore is an in-memory identity.Store used to exercise the HTTP layer
// without a database.
type memStore struct {
	mu          sync.Mutex
	identities  map[string]identity.Identity
	credentials map[string]identity.Credential
	passwords   map[string]identity.Password
	roles       map[string]identity.Role
	permissions map[string]identity.Permission
	identRoles  map[string]map[string]bool
	rolePerms   map[string]map[string]bool
}

func newMemStore() *memStore {
	return &memStore{
		identities:  map[string]identity.Identity{},
		credentials: map[string]identity.Credential{},
		passwords:   map[string]identity.Password{},
		roles:       map[string]identity.Role{},
		permissions: map[string]identity.Permission{},
		identRoles:  map[string]map[string]bool{},
		rolePerms:   map[string]map[string]bool{},
	}
}

var _ identity.Store = (*memStore)(nil)

func (m *memStore) CreateIdentity(ctx context.Context, subject string, active bool) (identity.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ident := range m.identities {
		if ident.Subject == subject {
			return identity.Identity{}, identity.ErrConflict
		}
	}
	now := time.Now().UTC()
	ident := identity.Identity{ID: ids.New(), Subject: subject, Active: active, CreatedAt: now, UpdatedAt: now}
	m.identities[ident.ID] = ident
	return ident, nil
}

func (m *memStore) GetIdentity(ctx context.Context, id string) (identity.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ident, ok := m.identities[id]
	if !ok {
		return identity.Identity{}, identity.ErrNotFound
	}
	return ident, nil
}

func (m *memStore) GetIdentityBySubject(ctx context.Context, subject string) (identity.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ident := range m.identities {
		if ident.Subject == subject {
			return ident, nil
		}
	}
	return identity.Identity{}, identity.ErrNotFound
}

func (m *memStore) ListIdentities(ctx context.Context) ([]identity.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]identity.Identity, 0, len(m.identities))
	for _, ident := range m.identities {
		result = append(result, ident)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *memStore) SetIdentityActive(ctx context.Context, id string, active bool) (identity.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ident, ok := m.identities[id]
	if !ok {
		return identity.Identity{}, identity.ErrNotFound
	}
	ident.Active = active
	ident.UpdatedAt = time.Now().UTC()
	m.identities[id] = ident
	return ident, nil
}

func (m *memStore) DeleteIdentity(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.identities[id]; !ok {
		return identity.ErrNotFound
	}
	delete(m.identities, id)
	delete(m.identRoles, id)
	return nil
}

func (m *memStore) CreateCredential(ctx context.Context, identityID, identifier string, identifierType identity.IdentifierType) (identity.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.identities[identityID]; !ok {
		return identity.Credential{}, identity.ErrNotFound
	}
	for _, cred := range m.credentials {
		if cred.Identifier == identifier && cred.IdentifierType == identifierType {
			return identity.Credential{}, identity.ErrConflict
		}
	}
	now := time.Now().UTC()
	cred := identity.Credential{ID: ids.New(), IdentityID: identityID, Identifier: identifier, IdentifierType: identifierType, CreatedAt: now, UpdatedAt: now}
	m.credentials[cred.ID] = cred
	return cred, nil
}

func (m *memStore) FindCredential(ctx context.Context, identifier string, identifierType identity.IdentifierType) (identity.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cred := range m.credentials {
		if cred.Identifier == identifier && cred.IdentifierType == identifierType {
			return cred, nil
		}
	}
	return identity.Credential{}, identity.ErrNotFound
}

func (m *memStore) ListCredentials(ctx context.Context, identityID string) ([]identity.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var creds []identity.Credential
	for _, cred := range m.credentials {
		if cred.IdentityID == identityID {
			creds = append(creds, cred)
		}
	}
	return creds, nil
}

func (m *memStore) DeleteCredential(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.credentials[id]; !ok {
		return identity.ErrNotFound
	}
	delete(m.credentials, id)
	return nil
}

func (m *memStore) CreatePassword(ctx context.Context, credentialID, shadow string, expiresAt *time.Time) (identity.Password, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.credentials[credentialID]; !ok {
		return identity.Password{}, identity.ErrNotFound
	}
	now := time.Now().UTC()
	pwd := identity.Password{ID: ids.New(), CredentialID: credentialID, Shadow: shadow, ExpiresAt: expiresAt, CreatedAt: now, UpdatedAt: now}
	m.passwords[pwd.ID] = pwd
	return pwd, nil
}

func (m *memStore) ListPasswords(ctx context.Context, credentialID string) ([]identity.Password, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var passwords []identity.Password
	for _, pwd := range m.passwords {
		if pwd.CredentialID == credentialID {
			passwords = append(passwords, pwd)
		}
	}
	return passwords, nil
}

func (m *memStore) UpdatePasswordShadow(ctx context.Context, id, shadow string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pwd, ok := m.passwords[id]
	if !ok {
		return identity.ErrNotFound
	}
	pwd.Shadow = shadow
	pwd.UpdatedAt = time.Now().UTC()
	m.passwords[id] = pwd
	return nil
}

func (m *memStore) DeletePasswords(ctx context.Context, credentialID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, pwd := range m.passwords {
		if pwd.CredentialID == credentialID {
			delete(m.passwords, id)
		}
	}
	return nil
}

func (m *memStore) CreateRole(ctx context.Context, code, name, description string) (identity.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, role := range m.roles {
		if role.Code == code {
			return identity.Role{}, identity.ErrConflict
		}
	}
	now := time.Now().UTC()
	role := identity.Role{ID: ids.New(), Code: code, Name: name, Description: description, CreatedAt: now, UpdatedAt: now}
	m.roles[role.ID] = role
	return role, nil
}

func (m *memStore) GetRole(ctx context.Context, id string) (identity.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	role, ok := m.roles[id]
	if !ok {
		return identity.Role{}, identity.ErrNotFound
	}
	return role, nil
}

func (m *memStore) GetRoleByCode(ctx context.Context, code string) (identity.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, role := range m.roles {
		if role.Code == code {
			return role, nil
		}
	}
	return identity.Role{}, identity.ErrNotFound
}

func (m *memStore) ListRoles(ctx context.Context) ([]identity.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	roles := make([]identity.Role, 0, len(m.roles))
	for _, role := range m.roles {
		roles = append(roles, role)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i].Code < roles[j].Code })
	return roles, nil
}

func (m *memStore) DeleteRole(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[id]; !ok {
		return identity.ErrNotFound
	}
	delete(m.roles, id)
	delete(m.rolePerms, id)
	return nil
}

func (m *memStore) CreatePermission(ctx context.Context, code, name, description string) (identity.Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, perm := range m.permissions {
		if perm.Code == code {
			return identity.Permission{}, identity.ErrConflict
		}
	}
	perm := identity.Permission{ID: ids.New(), Code: code, Name: name, Description: description, CreatedAt: time.Now().UTC()}
	m.permissions[perm.ID] = perm
	return perm, nil
}

func (m *memStore) GetPermissionByCode(ctx context.Context, code string) (identity.Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, perm := range m.permissions {
		if perm.Code == code {
			return perm, nil
		}
	}
	return identity.Permission{}, identity.ErrNotFound
}

func (m *memStore) ListPermissions(ctx context.Context) ([]identity.Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	perms := make([]identity.Permission, 0, len(m.permissions))
	for _, perm := range m.permissions {
		perms = append(perms, perm)
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i].Code < perms[j].Code })
	return perms, nil
}

func (m *memStore) DeletePermission(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.permissions[id]; !ok {
		return identity.ErrNotFound
	}
	delete(m.permissions, id)
	return nil
}

func (m *memStore) EnsurePermissions(ctx context.Context, perms []identity.Permission) error {
	for _, perm := range perms {
		if _, err := m.GetPermissionByCode(ctx, perm.Code); err == nil {
			continue
		}
		if _, err := m.CreatePermission(ctx, perm.Code, perm.Name, perm.Description); err != nil {
			return err
		}
	}
	return nil
}

func (m *memStore) AssignRole(ctx context.Context, identityID, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.identities[identityID]; !ok {
		return identity.ErrNotFound
	}
	if _, ok := m.roles[roleID]; !ok {
		return identity.ErrNotFound
	}
	if m.identRoles[identityID] == nil {
		m.identRoles[identityID] = map[string]bool{}
	}
	if m.identRoles[identityID][roleID] {
		return identity.ErrConflict
	}
	m.identRoles[identityID][roleID] = true
	return nil
}

func (m *memStore) RemoveRole(ctx context.Context, identityID, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.identRoles[identityID][roleID] {
		return identity.ErrNotFound
	}
	delete(m.identRoles[identityID], roleID)
	return nil
}

func (m *memStore) RolesForIdentity(ctx context.Context, identityID string) ([]identity.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var roles []identity.Role
	for roleID := range m.identRoles[identityID] {
		if role, ok := m.roles[roleID]; ok {
			roles = append(roles, role)
		}
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i].Code < roles[j].Code })
	return roles, nil
}

func (m *memStore) SetRolePermissions(ctx context.Context, roleID string, permissionCodes []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[roleID]; !ok {
		return identity.ErrNotFound
	}
	next := map[string]bool{}
	for _, code := range permissionCodes {
		found := false
		for id, perm := range m.permissions {
			if perm.Code == code {
				next[id] = true
				found = true
				break
			}
		}
		if !found {
			return identity.ErrNotFound
		}
	}
	m.rolePerms[roleID] = next
	return nil
}

func (m *memStore) PermissionsForRole(ctx context.Context, roleID string) ([]identity.Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var perms []identity.Permission
	for permID := range m.rolePerms[roleID] {
		if perm, ok := m.permissions[permID]; ok {
			perms = append(perms, perm)
		}
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i].Code < perms[j].Code })
	return perms, nil
}
