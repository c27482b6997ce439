package identity

import (
	"context"
	"fmt"
	"time"
)

// fakeStore is an in-memory Store for exercising Service and Resolver logic.
type fakeStore struct {
	seq         int
	identities  map[string]Identity
	credentials map[string]Credential
	passwords   map[string][]Password
	roles       map[string]Role
	permissions map[string]Permission
	identRoles  map[string]map[string]bool
	rolePerms   map[string]map[string]bool
}

var _ Store = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{
		identities:  make(map[string]Identity),
		credentials: make(map[string]Credential),
		passwords:   make(map[string][]Password),
		roles:       make(map[string]Role),
		permissions: make(map[string]Permission),
		identRoles:  make(map[string]map[string]bool),
		rolePerms:   make(map[string]map[string]bool),
	}
}

func (f *fakeStore) nextID() string {
	f.seq++
	return fmt.Sprintf("id-%04d", f.seq)
}

func (f *fakeStore) CreateIdentity(_ context.Context, subject string, active bool) (Identity, error) {
	for _, ident := range f.identities {
		if ident.Subject == subject {
			return Identity{}, ErrConflict
		}
	}
	ident := Identity{ID: f.nextID(), Subject: subject, Active: active, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	f.identities[ident.ID] = ident
	return ident, nil
}

func (f *fakeStore) GetIdentity(_ context.Context, id string) (Identity, error) {
	ident, ok := f.identities[id]
	if !ok {
		return Identity{}, ErrNotFound
	}
	return ident, nil
}

func (f *fakeStore) GetIdentityBySubject(_ context.Context, subject string) (Identity, error) {
	for _, ident := range f.identities {
		if ident.Subject == subject {
			return ident, nil
		}
	}
	return Identity{}, ErrNotFound
}

func (f *fakeStore) ListIdentities(_ context.Context) ([]Identity, error) {
	out := make([]Identity, 0, len(f.identities))
	for _, ident := range f.identities {
		out = append(out, ident)
	}
	return out, nil
}

func (f *fakeStore) SetIdentityActive(_ context.Context, id string, active bool) (Identity, error) {
	ident, ok := f.identities[id]
	if !ok {
		return Identity{}, ErrNotFound
	}
	ident.Active = active
	f.identities[id] = ident
	return ident, nil
}

func (f *fakeStore) DeleteIdentity(_ context.Context, id string) error {
	if _, ok := f.identities[id]; !ok {
		return ErrNotFound
	}
	delete(f.identities, id)
	return nil
}

func (f *fakeStore) CreateCredential(_ context.Context, identityID, identifier string, identifierType IdentifierType) (Credential, error) {
	for _, cred := range f.credentials {
		if cred.Identifier == identifier && cred.IdentifierType == identifierType {
			return Credential{}, ErrConflict
		}
	}
	cred := Credential{ID: f.nextID(), IdentityID: identityID, Identifier: identifier, IdentifierType: identifierType}
	f.credentials[cred.ID] = cred
	return cred, nil
}

func (f *fakeStore) FindCredential(_ context.Context, identifier string, identifierType IdentifierType) (Credential, error) {
	for _, cred := range f.credentials {
		if cred.Identifier == identifier && cred.IdentifierType == identifierType {
			return cred, nil
		}
	}
	return Credential{}, ErrNotFound
}

func (f *fakeStore) ListCredentials(_ context.Context, identityID string) ([]Credential, error) {
	var out []Credential
	for _, cred := range f.credentials {
		if cred.IdentityID == identityID {
			out = append(out, cred)
		}
	}
	return out, nil
}

func (f *fakeStore) DeleteCredential(_ context.Context, id string) error {
	if _, ok := f.credentials[id]; !ok {
		return ErrNotFound
	}
	delete(f.credentials, id)
	return nil
}

func (f *fakeStore) CreatePassword(_ context.Context, credentialID, shadow string, expiresAt *time.Time) (Password, error) {
	pwd := Password{ID: f.nextID(), CredentialID: credentialID, Shadow: shadow, ExpiresAt: expiresAt}
	f.passwords[credentialID] = append(f.passwords[credentialID], pwd)
	return pwd, nil
}

func (f *fakeStore) ListPasswords(_ context.Context, credentialID string) ([]Password, error) {
	return f.passwords[credentialID], nil
}

func (f *fakeStore) UpdatePasswordShadow(_ context.Context, id, shadow string) error {
	for credID, list := range f.passwords {
		for i, pwd := range list {
			if pwd.ID == id {
				list[i].Shadow = shadow
				f.passwords[credID] = list
				return nil
			}
		}
	}
	return ErrNotFound
}

func (f *fakeStore) DeletePasswords(_ context.Context, credentialID string) error {
	delete(f.passwords, credentialID)
	return nil
}

func (f *fakeStore) CreateRole(_ context.Context, code, name, description string) (Role, error) {
	for _, role := range f.roles {
		if role.Code == code {
			return Role{}, ErrConflict
		}
	}
	role := Role{ID: f.nextID(), Code: code, Name: name, Description: description}
	f.roles[role.ID] = role
	return role, nil
}

func (f *fakeStore) GetRole(_ context.Context, id string) (Role, error) {
	role, ok := f.roles[id]
	if !ok {
		return Role{}, ErrNotFound
	}
	return role, nil
}

func (f *fakeStore) GetRoleByCode(_ context.Context, code string) (Role, error) {
	for _, role := range f.roles {
		if role.Code == code {
			return role, nil
		}
	}
	return Role{}, ErrNotFound
}

func (f *fakeStore) ListRoles(_ context.Context) ([]Role, error) {
	out := make([]Role, 0, len(f.roles))
	for _, role := range f.roles {
		out = append(out, role)
	}
	return out, nil
}

func (f *fakeStore) DeleteRole(_ context.Context, id string) error {
	if _, ok := f.roles[id]; !ok {
		return ErrNotFound
	}
	delete(f.roles, id)
	delete(f.rolePerms, id)
	return nil
}

func (f *fakeStore) CreatePermission(_ context.Context, code, name, description string) (Permission, error) {
	for _, perm := range f.permissions {
		if perm.Code == code {
			return Permission{}, ErrConflict
		}
	}
	perm := Permission{ID: f.nextID(), Code: code, Name: name, Description: description}
	f.permissions[perm.ID] = perm
	return perm, nil
}

func (f *fakeStore) GetPermissionByCode(_ context.Context, code string) (Permission, error) {
	for _, perm := range f.permissions {
		if perm.Code == code {
			return perm, nil
		}
	}
	return Permission{}, ErrNotFound
}

func (f *fakeStore) ListPermissions(_ context.Context) ([]Permission, error) {
	out := make([]Permission, 0, len(f.permissions))
	for _, perm := range f.permissions {
		out = append(out, perm)
	}
	return out, nil
}

func (f *fakeStore) DeletePermission(_ context.Context, id string) error {
	if _, ok := f.permissions[id]; !ok {
		return ErrNotFound
	}
	delete(f.permissions, id)
	return nil
}

func (f *fakeStore) EnsurePermissions(ctx context.Context, perms []Permission) error {
	for _, perm := range perms {
		if _, err := f.GetPermissionByCode(ctx, perm.Code); err == nil {
			continue
		}
		if _, err := f.CreatePermission(ctx, perm.Code, perm.Name, perm.Description); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeStore) AssignRole(_ context.Context, identityID, roleID string) error {
	if _, ok := f.identities[identityID]; !ok {
		return ErrNotFound
	}
	if _, ok := f.roles[roleID]; !ok {
		return ErrNotFound
	}
	if f.identRoles[identityID] == nil {
		f.identRoles[identityID] = make(map[string]bool)
	}
	f.identRoles[identityID][roleID] = true
	return nil
}

func (f *fakeStore) RemoveRole(_ context.Context, identityID, roleID string) error {
	if !f.identRoles[identityID][roleID] {
		return ErrNotFound
	}
	delete(f.identRoles[identityID], roleID)
	return nil
}

func (f *fakeStore) RolesForIdentity(_ context.Context, identityID string) ([]Role, error) {
	var out []Role
	for roleID := range f.identRoles[identityID] {
		out = append(out, f.roles[roleID])
	}
	return out, nil
}

func (f *fakeStore) SetRolePermissions(ctx context.Context, roleID string, permissionCodes []string) error {
	if _, ok := f.roles[roleID]; !ok {
		return ErrNotFound
	}
	next := make(map[string]bool, len(permissionCodes))
	for _, code := range permissionCodes {
		perm, err := f.GetPermissionByCode(ctx, code)
		if err != nil {
			return fmt.Errorf("%w: unknown permission %s", ErrInvalidInput, code)
		}
		next[perm.ID] = true
	}
	f.rolePerms[roleID] = next
	return nil
}

func (f *fakeStore) PermissionsForRole(_ context.Context, roleID string) ([]Permission, error) {
	var out []Permission
	for permID := range f.rolePerms[roleID] {
		out = append(out, f.permissions[permID])
	}
	return out, nil
}
