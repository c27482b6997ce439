package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const defaultPasswordAge = 365 * 24 * time.Hour

// Service provides registration, authentication and administrative operations
// over the identity graph. All validation happens here; the Store only
// persists.
type Service struct {
	store  Store
	hasher *Hasher
	now    func() time.Time

	// Password expiry policy. When permanent is true, new passwords carry no
	// expiry instant at all.
	passwordPermanent bool
	passwordAge       time.Duration
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithPasswordPolicy sets expiry policy for newly created passwords.
func WithPasswordPolicy(permanent bool, age time.Duration) ServiceOption {
	return func(s *Service) {
		s.passwordPermanent = permanent
		if age > 0 {
			s.passwordAge = age
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

func NewService(store Store, hasher *Hasher, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("identity store is required")
	}
	if hasher == nil {
		return nil, errors.New("password hasher is required")
	}
	s := &Service{
		store:             store,
		hasher:            hasher,
		now:               time.Now,
		passwordPermanent: true,
		passwordAge:       defaultPasswordAge,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// EnsureBuiltins makes sure the predefined permission catalog exists.
func (s *Service) EnsureBuiltins(ctx context.Context) error {
	return s.store.EnsurePermissions(ctx, BuiltinPermissions)
}

// Register creates an identity with one credential and one password in a
// single logical operation. The subject UUID is generated here.
func (s *Service) Register(ctx context.Context, identifier string, identifierType IdentifierType, password string) (Identity, Credential, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return Identity{}, Credential{}, fmt.Errorf("%w: identifier is required", ErrInvalidInput)
	}
	shadow, err := s.hasher.Hash(password)
	if err != nil {
		return Identity{}, Credential{}, err
	}
	ident, err := s.store.CreateIdentity(ctx, uuid.NewString(), true)
	if err != nil {
		return Identity{}, Credential{}, err
	}
	cred, err := s.store.CreateCredential(ctx, ident.ID, identifier, identifierType)
	if err != nil {
		return Identity{}, Credential{}, err
	}
	if _, err := s.store.CreatePassword(ctx, cred.ID, shadow, s.passwordExpiry()); err != nil {
		return Identity{}, Credential{}, err
	}
	return ident, cred, nil
}

// Authenticate verifies an identifier/password pair and returns the matching
// identity. An unknown identifier and a wrong password both yield
// ErrCredentialMismatch so callers cannot enumerate identifiers. The inactive
// check runs even when a password matches.
func (s *Service) Authenticate(ctx context.Context, identifier string, identifierType IdentifierType, password string) (Identity, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return Identity{}, ErrCredentialMismatch
	}
	cred, err := s.store.FindCredential(ctx, identifier, identifierType)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Identity{}, ErrCredentialMismatch
		}
		return Identity{}, err
	}
	passwords, err := s.store.ListPasswords(ctx, cred.ID)
	if err != nil {
		return Identity{}, err
	}

	now := s.now()
	matched := false
	for _, pwd := range passwords {
		if pwd.Expired(now) {
			continue
		}
		ok, err := s.hasher.Verify(pwd.Shadow, password)
		if err != nil {
			return Identity{}, err
		}
		if ok {
			matched = true
			break
		}
	}
	if !matched {
		return Identity{}, ErrCredentialMismatch
	}

	ident, err := s.store.GetIdentity(ctx, cred.IdentityID)
	if err != nil {
		return Identity{}, err
	}
	if !ident.Active {
		return Identity{}, ErrInactive
	}
	return ident, nil
}

// SetPassword rehashes the credential's existing password in place, leaving
// its expiry untouched. A credential without a password gets a fresh record
// under the current expiry policy.
func (s *Service) SetPassword(ctx context.Context, credentialID, password string) error {
	shadow, err := s.hasher.Hash(password)
	if err != nil {
		return err
	}
	passwords, err := s.store.ListPasswords(ctx, credentialID)
	if err != nil {
		return err
	}
	if len(passwords) == 0 {
		_, err := s.store.CreatePassword(ctx, credentialID, shadow, s.passwordExpiry())
		return err
	}
	return s.store.UpdatePasswordShadow(ctx, passwords[0].ID, shadow)
}

// ResetPassword replaces all of the credential's passwords wholesale with a
// single new record.
func (s *Service) ResetPassword(ctx context.Context, credentialID, password string) error {
	shadow, err := s.hasher.Hash(password)
	if err != nil {
		return err
	}
	if err := s.store.DeletePasswords(ctx, credentialID); err != nil {
		return err
	}
	_, err = s.store.CreatePassword(ctx, credentialID, shadow, s.passwordExpiry())
	return err
}

// AddCredential attaches another credential (and password) to an identity.
func (s *Service) AddCredential(ctx context.Context, identityID, identifier string, identifierType IdentifierType, password string) (Credential, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return Credential{}, fmt.Errorf("%w: identifier is required", ErrInvalidInput)
	}
	if _, err := s.store.GetIdentity(ctx, identityID); err != nil {
		return Credential{}, err
	}
	cred, err := s.store.CreateCredential(ctx, identityID, identifier, identifierType)
	if err != nil {
		return Credential{}, err
	}
	if password != "" {
		shadow, err := s.hasher.Hash(password)
		if err != nil {
			return Credential{}, err
		}
		if _, err := s.store.CreatePassword(ctx, cred.ID, shadow, s.passwordExpiry()); err != nil {
			return Credential{}, err
		}
	}
	return cred, nil
}

// SetActive soft-enables or soft-disables an identity.
func (s *Service) SetActive(ctx context.Context, identityID string, active bool) (Identity, error) {
	identityID = strings.TrimSpace(identityID)
	if identityID == "" {
		return Identity{}, fmt.Errorf("%w: identity_id is required", ErrInvalidInput)
	}
	return s.store.SetIdentityActive(ctx, identityID, active)
}

// CreateRole registers a role under a unique code.
func (s *Service) CreateRole(ctx context.Context, code, name, description string) (Role, error) {
	code = strings.TrimSpace(code)
	name = strings.TrimSpace(name)
	if code == "" || name == "" {
		return Role{}, fmt.Errorf("%w: role code and name are required", ErrInvalidInput)
	}
	return s.store.CreateRole(ctx, code, name, strings.TrimSpace(description))
}

// CreatePermission registers a permission under a unique code.
func (s *Service) CreatePermission(ctx context.Context, code, name, description string) (Permission, error) {
	code = strings.TrimSpace(code)
	name = strings.TrimSpace(name)
	if code == "" || name == "" {
		return Permission{}, fmt.Errorf("%w: permission code and name are required", ErrInvalidInput)
	}
	return s.store.CreatePermission(ctx, code, name, strings.TrimSpace(description))
}

// AssignRole adds an identity to a role, resolving the role by code.
func (s *Service) AssignRole(ctx context.Context, identityID, roleCode string) error {
	role, err := s.store.GetRoleByCode(ctx, strings.TrimSpace(roleCode))
	if err != nil {
		return err
	}
	return s.store.AssignRole(ctx, identityID, role.ID)
}

// RemoveRole removes an identity from a role, resolving the role by code.
func (s *Service) RemoveRole(ctx context.Context, identityID, roleCode string) error {
	role, err := s.store.GetRoleByCode(ctx, strings.TrimSpace(roleCode))
	if err != nil {
		return err
	}
	return s.store.RemoveRole(ctx, identityID, role.ID)
}

// SetRolePermissions replaces a role's permission bindings. Every referenced
// code must exist.
func (s *Service) SetRolePermissions(ctx context.Context, roleID string, permissionCodes []string) error {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	return s.store.SetRolePermissions(ctx, roleID, dedupeStrings(permissionCodes))
}

func (s *Service) passwordExpiry() *time.Time {
	if s.passwordPermanent {
		return nil
	}
	t := s.now().UTC().Add(s.passwordAge)
	return &t
}

func dedupeStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := set[v]; ok {
			continue
		}
		set[v] = struct{}{}
		result = append(result, v)
	}
	return result
}
