package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"evaid.org/internal/identity"
	"evaid.org/internal/ids"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

var _ identity.Store = (*Store)(nil)

func (s *Store) CreateIdentity(ctx context.Context, subject string, active bool) (identity.Identity, error) {
	if s.db == nil {
		return identity.Identity{}, errors.New("database connection unavailable")
	}
	var ident identity.Identity
	row := s.db.QueryRowContext(ctx, `
		insert into identities (id, subject, active)
		values ($1, $2, $3)
		returning id, subject, active, created_at, updated_at
	`, ids.New(), subject, active)
	if err := row.Scan(&ident.ID, &ident.Subject, &ident.Active, &ident.CreatedAt, &ident.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return identity.Identity{}, identity.ErrConflict
		}
		return identity.Identity{}, err
	}
	return ident, nil
}

func (s *Store) GetIdentity(ctx context.Context, id string) (identity.Identity, error) {
	return s.identityBy(ctx, "id", id)
}

func (s *Store) GetIdentityBySubject(ctx context.Context, subject string) (identity.Identity, error) {
	return s.identityBy(ctx, "subject", subject)
}

func (s *Store) identityBy(ctx context.Context, column, value string) (identity.Identity, error) {
	if s.db == nil {
		return identity.Identity{}, errors.New("database connection unavailable")
	}
	var ident identity.Identity
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		select id, subject, active, created_at, updated_at
		from identities
		where %s = $1
	`, column), value).Scan(&ident.ID, &ident.Subject, &ident.Active, &ident.CreatedAt, &ident.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return identity.Identity{}, identity.ErrNotFound
	}
	if err != nil {
		return identity.Identity{}, err
	}
	return ident, nil
}

func (s *Store) ListIdentities(ctx context.Context) ([]identity.Identity, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, subject, active, created_at, updated_at
		from identities
		order by created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []identity.Identity
	for rows.Next() {
		var ident identity.Identity
		if err := rows.Scan(&ident.ID, &ident.Subject, &ident.Active, &ident.CreatedAt, &ident.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, ident)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) SetIdentityActive(ctx context.Context, id string, active bool) (identity.Identity, error) {
	if s.db == nil {
		return identity.Identity{}, errors.New("database connection unavailable")
	}
	var ident identity.Identity
	err := s.db.QueryRowContext(ctx, `
		update identities
		set active = $2, updated_at = now()
		where id = $1
		returning id, subject, active, created_at, updated_at
	`, id, active).Scan(&ident.ID, &ident.Subject, &ident.Active, &ident.CreatedAt, &ident.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return identity.Identity{}, identity.ErrNotFound
	}
	if err != nil {
		return identity.Identity{}, err
	}
	return ident, nil
}

func (s *Store) DeleteIdentity(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "identities", id)
}

func (s *Store) CreateCredential(ctx context.Context, identityID, identifier string, identifierType identity.IdentifierType) (identity.Credential, error) {
	if s.db == nil {
		return identity.Credential{}, errors.New("database connection unavailable")
	}
	var cred identity.Credential
	row := s.db.QueryRowContext(ctx, `
		insert into credentials (id, identity_id, identifier, identifier_type)
		values ($1, $2, $3, $4)
		returning id, identity_id, identifier, identifier_type, created_at, updated_at
	`, ids.New(), identityID, identifier, string(identifierType))
	if err := row.Scan(&cred.ID, &cred.IdentityID, &cred.Identifier, &cred.IdentifierType, &cred.CreatedAt, &cred.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return identity.Credential{}, identity.ErrConflict
			case pgErrForeignKeyViolation:
				return identity.Credential{}, identity.ErrNotFound
			}
		}
		return identity.Credential{}, err
	}
	return cred, nil
}

func (s *Store) FindCredential(ctx context.Context, identifier string, identifierType identity.IdentifierType) (identity.Credential, error) {
	if s.db == nil {
		return identity.Credential{}, errors.New("database connection unavailable")
	}
	var cred identity.Credential
	err := s.db.QueryRowContext(ctx, `
		select id, identity_id, identifier, identifier_type, created_at, updated_at
		from credentials
		where identifier = $1 and identifier_type = $2
	`, identifier, string(identifierType)).Scan(&cred.ID, &cred.IdentityID, &cred.Identifier, &cred.IdentifierType, &cred.CreatedAt, &cred.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return identity.Credential{}, identity.ErrNotFound
	}
	if err != nil {
		return identity.Credential{}, err
	}
	return cred, nil
}

func (s *Store) ListCredentials(ctx context.Context, identityID string) ([]identity.Credential, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, identity_id, identifier, identifier_type, created_at, updated_at
		from credentials
		where identity_id = $1
		order by identifier
	`, identityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var creds []identity.Credential
	for rows.Next() {
		var cred identity.Credential
		if err := rows.Scan(&cred.ID, &cred.IdentityID, &cred.Identifier, &cred.IdentifierType, &cred.CreatedAt, &cred.UpdatedAt); err != nil {
			return nil, err
		}
		creds = append(creds, cred)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return creds, nil
}

func (s *Store) DeleteCredential(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "credentials", id)
}

func (s *Store) CreatePassword(ctx context.Context, credentialID, shadow string, expiresAt *time.Time) (identity.Password, error) {
	if s.db == nil {
		return identity.Password{}, errors.New("database connection unavailable")
	}
	var (
		pwd identity.Password
		exp sql.NullTime
	)
	row := s.db.QueryRowContext(ctx, `
		insert into passwords (id, credential_id, shadow, expires_at)
		values ($1, $2, $3, $4)
		returning id, credential_id, shadow, expires_at, created_at, updated_at
	`, ids.New(), credentialID, shadow, nullTime(expiresAt))
	if err := row.Scan(&pwd.ID, &pwd.CredentialID, &pwd.Shadow, &exp, &pwd.CreatedAt, &pwd.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return identity.Password{}, identity.ErrNotFound
		}
		return identity.Password{}, err
	}
	if exp.Valid {
		t := exp.Time
		pwd.ExpiresAt = &t
	}
	return pwd, nil
}

func (s *Store) ListPasswords(ctx context.Context, credentialID string) ([]identity.Password, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, credential_id, shadow, expires_at, created_at, updated_at
		from passwords
		where credential_id = $1
		order by created_at desc
	`, credentialID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var passwords []identity.Password
	for rows.Next() {
		var (
			pwd identity.Password
			exp sql.NullTime
		)
		if err := rows.Scan(&pwd.ID, &pwd.CredentialID, &pwd.Shadow, &exp, &pwd.CreatedAt, &pwd.UpdatedAt); err != nil {
			return nil, err
		}
		if exp.Valid {
			t := exp.Time
			pwd.ExpiresAt = &t
		}
		passwords = append(passwords, pwd)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return passwords, nil
}

func (s *Store) UpdatePasswordShadow(ctx context.Context, id, shadow string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `
		update passwords set shadow = $2, updated_at = now() where id = $1
	`, id, shadow)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return identity.ErrNotFound
	}
	return nil
}

func (s *Store) DeletePasswords(ctx context.Context, credentialID string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	_, err := s.db.ExecContext(ctx, `delete from passwords where credential_id = $1`, credentialID)
	return err
}

func (s *Store) CreateRole(ctx context.Context, code, name, description string) (identity.Role, error) {
	if s.db == nil {
		return identity.Role{}, errors.New("database connection unavailable")
	}
	var (
		role identity.Role
		desc sql.NullString
	)
	row := s.db.QueryRowContext(ctx, `
		insert into roles (id, code, name, description)
		values ($1, $2, $3, $4)
		returning id, code, name, description, created_at, updated_at
	`, ids.New(), code, name, nullIfEmpty(description))
	if err := row.Scan(&role.ID, &role.Code, &role.Name, &desc, &role.CreatedAt, &role.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return identity.Role{}, identity.ErrConflict
		}
		return identity.Role{}, err
	}
	if desc.Valid {
		role.Description = desc.String
	}
	return role, nil
}

func (s *Store) GetRole(ctx context.Context, id string) (identity.Role, error) {
	return s.roleBy(ctx, "id", id)
}

func (s *Store) GetRoleByCode(ctx context.Context, code string) (identity.Role, error) {
	return s.roleBy(ctx, "code", code)
}

func (s *Store) roleBy(ctx context.Context, column, value string) (identity.Role, error) {
	if s.db == nil {
		return identity.Role{}, errors.New("database connection unavailable")
	}
	var (
		role identity.Role
		desc sql.NullString
	)
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		select id, code, name, description, created_at, updated_at
		from roles
		where %s = $1
	`, column), value).Scan(&role.ID, &role.Code, &role.Name, &desc, &role.CreatedAt, &role.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return identity.Role{}, identity.ErrNotFound
	}
	if err != nil {
		return identity.Role{}, err
	}
	if desc.Valid {
		role.Description = desc.String
	}
	return role, nil
}

func (s *Store) ListRoles(ctx context.Context) ([]identity.Role, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, code, name, description, created_at, updated_at
		from roles
		order by code
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []identity.Role
	for rows.Next() {
		var (
			role identity.Role
			desc sql.NullString
		)
		if err := rows.Scan(&role.ID, &role.Code, &role.Name, &desc, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		if desc.Valid {
			role.Description = desc.String
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

func (s *Store) DeleteRole(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "roles", id)
}

func (s *Store) CreatePermission(ctx context.Context, code, name, description string) (identity.Permission, error) {
	if s.db == nil {
		return identity.Permission{}, errors.New("database connection unavailable")
	}
	var (
		perm identity.Permission
		desc sql.NullString
	)
	row := s.db.QueryRowContext(ctx, `
		insert into permissions (id, code, name, description)
		values ($1, $2, $3, $4)
		returning id, code, name, description, created_at
	`, ids.New(), code, name, nullIfEmpty(description))
	if err := row.Scan(&perm.ID, &perm.Code, &perm.Name, &desc, &perm.CreatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return identity.Permission{}, identity.ErrConflict
		}
		return identity.Permission{}, err
	}
	if desc.Valid {
		perm.Description = desc.String
	}
	return perm, nil
}

func (s *Store) GetPermissionByCode(ctx context.Context, code string) (identity.Permission, error) {
	if s.db == nil {
		return identity.Permission{}, errors.New("database connection unavailable")
	}
	var (
		perm identity.Permission
		desc sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		select id, code, name, description, created_at
		from permissions
		where code = $1
	`, code).Scan(&perm.ID, &perm.Code, &perm.Name, &desc, &perm.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return identity.Permission{}, identity.ErrNotFound
	}
	if err != nil {
		return identity.Permission{}, err
	}
	if desc.Valid {
		perm.Description = desc.String
	}
	return perm, nil
}

func (s *Store) ListPermissions(ctx context.Context) ([]identity.Permission, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, code, name, description, created_at
		from permissions
		order by code
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []identity.Permission
	for rows.Next() {
		var (
			perm identity.Permission
			desc sql.NullString
		)
		if err := rows.Scan(&perm.ID, &perm.Code, &perm.Name, &desc, &perm.CreatedAt); err != nil {
			return nil, err
		}
		if desc.Valid {
			perm.Description = desc.String
		}
		perms = append(perms, perm)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return perms, nil
}

func (s *Store) DeletePermission(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "permissions", id)
}

func (s *Store) EnsurePermissions(ctx context.Context, perms []identity.Permission) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	for _, perm := range perms {
		if _, err := s.db.ExecContext(ctx, `
			insert into permissions (id, code, name, description)
			values ($1, $2, $3, $4)
			on conflict (code) do nothing
		`, ids.New(), perm.Code, perm.Name, nullIfEmpty(perm.Description)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) AssignRole(ctx context.Context, identityID, roleID string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	_, err := s.db.ExecContext(ctx, `
		insert into identity_roles (identity_id, role_id)
		values ($1, $2)
	`, identityID, roleID)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return identity.ErrConflict
			case pgErrForeignKeyViolation:
				return identity.ErrNotFound
			}
		}
		return err
	}
	return nil
}

func (s *Store) RemoveRole(ctx context.Context, identityID, roleID string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `
		delete from identity_roles
		where identity_id = $1 and role_id = $2
	`, identityID, roleID)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return identity.ErrNotFound
	}
	return nil
}

func (s *Store) RolesForIdentity(ctx context.Context, identityID string) ([]identity.Role, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select r.id, r.code, r.name, r.description, r.created_at, r.updated_at
		from identity_roles ir
		join roles r on r.id = ir.role_id
		where ir.identity_id = $1
		order by r.code
	`, identityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []identity.Role
	for rows.Next() {
		var (
			role identity.Role
			desc sql.NullString
		)
		if err := rows.Scan(&role.ID, &role.Code, &role.Name, &desc, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		if desc.Valid {
			role.Description = desc.String
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

func (s *Store) SetRolePermissions(ctx context.Context, roleID string, permissionCodes []string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, `select 1 from roles where id = $1`, roleID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return identity.ErrNotFound
		}
		return err
	}

	if _, err := tx.ExecContext(ctx, `delete from role_permissions where role_id = $1`, roleID); err != nil {
		return err
	}
	if len(permissionCodes) == 0 {
		return tx.Commit()
	}

	for _, code := range permissionCodes {
		var permID string
		err := tx.QueryRowContext(ctx, `select id from permissions where code = $1`, code).Scan(&permID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: permission %s not found", identity.ErrNotFound, code)
			}
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			insert into role_permissions (role_id, permission_id)
			values ($1, $2)
		`, roleID, permID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) PermissionsForRole(ctx context.Context, roleID string) ([]identity.Permission, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select p.id, p.code, p.name, p.description, p.created_at
		from role_permissions rp
		join permissions p on p.id = rp.permission_id
		where rp.role_id = $1
		order by p.code
	`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []identity.Permission
	for rows.Next() {
		var (
			perm identity.Permission
			desc sql.NullString
		)
		if err := rows.Scan(&perm.ID, &perm.Code, &perm.Name, &desc, &perm.CreatedAt); err != nil {
			return nil, err
		}
		if desc.Valid {
			perm.Description = desc.String
		}
		perms = append(perms, perm)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return perms, nil
}

func (s *Store) deleteByID(ctx context.Context, table, id string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`delete from %s where id = $1`, table), id)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return identity.ErrNotFound
	}
	return nil
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func nullIfEmpty(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
