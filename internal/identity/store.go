package identity

import (
	"context"
	"time"
)

// Store describes persistence operations required by the identity subsystem.
// Implementations must return ErrNotFound for absent records and ErrConflict
// on unique constraint violations.
type Store interface {
	CreateIdentity(ctx context.Context, subject string, active bool) (Identity, error)
	GetIdentity(ctx context.Context, id string) (Identity, error)
	GetIdentityBySubject(ctx context.Context, subject string) (Identity, error)
	ListIdentities(ctx context.Context) ([]Identity, error)
	SetIdentityActive(ctx context.Context, id string, active bool) (Identity, error)
	DeleteIdentity(ctx context.Context, id string) error

	CreateCredential(ctx context.Context, identityID, identifier string, identifierType IdentifierType) (Credential, error)
	FindCredential(ctx context.Context, identifier string, identifierType IdentifierType) (Credential, error)
	ListCredentials(ctx context.Context, identityID string) ([]Credential, error)
	DeleteCredential(ctx context.Context, id string) error

	CreatePassword(ctx context.Context, credentialID, shadow string, expiresAt *time.Time) (Password, error)
	ListPasswords(ctx context.Context, credentialID string) ([]Password, error)
	UpdatePasswordShadow(ctx context.Context, id, shadow string) error
	DeletePasswords(ctx context.Context, credentialID string) error

	CreateRole(ctx context.Context, code, name, description string) (Role, error)
	GetRole(ctx context.Context, id string) (Role, error)
	GetRoleByCode(ctx context.Context, code string) (Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	DeleteRole(ctx context.Context, id string) error

	CreatePermission(ctx context.Context, code, name, description string) (Permission, error)
	GetPermissionByCode(ctx context.Context, code string) (Permission, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
	DeletePermission(ctx context.Context, id string) error
	EnsurePermissions(ctx context.Context, perms []Permission) error

	AssignRole(ctx context.Context, identityID, roleID string) error
	RemoveRole(ctx context.Context, identityID, roleID string) error
	RolesForIdentity(ctx context.Context, identityID string) ([]Role, error)
	SetRolePermissions(ctx context.Context, roleID string, permissionCodes []string) error
	PermissionsForRole(ctx context.Context, roleID string) ([]Permission, error)
}
