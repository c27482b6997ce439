package identity

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestService(t *testing.T, opts ...ServiceOption) (*Service, *fakeStore) {
	t.Helper()
	store := newFakeStore()
	svc, err := NewService(store, testHasher(t), opts...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, store
}

func TestRegisterCreatesIdentityGraph(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	ident, cred, err := svc.Register(ctx, "alice", IdentifierUsername, "secret")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if ident.Subject == "" {
		t.Fatal("expected generated subject")
	}
	if !ident.Active {
		t.Fatal("expected new identity active")
	}
	if cred.IdentityID != ident.ID {
		t.Fatalf("credential bound to %s, want %s", cred.IdentityID, ident.ID)
	}

	passwords, err := store.ListPasswords(ctx, cred.ID)
	if err != nil {
		t.Fatalf("list passwords: %v", err)
	}
	if len(passwords) != 1 {
		t.Fatalf("expected 1 password, got %d", len(passwords))
	}
	if passwords[0].Shadow == "secret" {
		t.Fatal("password stored in plaintext")
	}
	if passwords[0].ExpiresAt != nil {
		t.Fatal("default policy is permanent passwords")
	}
}

func TestRegisterDuplicateIdentifier(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, _, err := svc.Register(ctx, "alice", IdentifierUsername, "secret"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, _, err := svc.Register(ctx, "alice", IdentifierUsername, "other"); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestAuthenticateSuccess(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	registered, _, err := svc.Register(ctx, "alice", IdentifierUsername, "secret")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	ident, err := svc.Authenticate(ctx, "alice", IdentifierUsername, "secret")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if ident.Subject != registered.Subject {
		t.Fatalf("subject %s, want %s", ident.Subject, registered.Subject)
	}
}

func TestAuthenticateMismatchIsUniform(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, _, err := svc.Register(ctx, "alice", IdentifierUsername, "secret"); err != nil {
		t.Fatalf("register: %v", err)
	}

	// Unknown identifier and wrong password must be indistinguishable.
	_, unknownErr := svc.Authenticate(ctx, "nobody", IdentifierUsername, "secret")
	_, wrongErr := svc.Authenticate(ctx, "alice", IdentifierUsername, "wrong")
	if !errors.Is(unknownErr, ErrCredentialMismatch) {
		t.Fatalf("unknown identifier: expected ErrCredentialMismatch, got %v", unknownErr)
	}
	if !errors.Is(wrongErr, ErrCredentialMismatch) {
		t.Fatalf("wrong password: expected ErrCredentialMismatch, got %v", wrongErr)
	}
	if unknownErr.Error() != wrongErr.Error() {
		t.Fatalf("errors differ: %q vs %q", unknownErr, wrongErr)
	}
}

func TestAuthenticateInactiveCheckedAfterPassword(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	ident, _, err := svc.Register(ctx, "alice", IdentifierUsername, "secret")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.SetActive(ctx, ident.ID, false); err != nil {
		t.Fatalf("set active: %v", err)
	}

	if _, err := svc.Authenticate(ctx, "alice", IdentifierUsername, "secret"); !errors.Is(err, ErrInactive) {
		t.Fatalf("expected ErrInactive on correct password, got %v", err)
	}
	if _, err := svc.Authenticate(ctx, "alice", IdentifierUsername, "wrong"); !errors.Is(err, ErrCredentialMismatch) {
		t.Fatalf("expected ErrCredentialMismatch on wrong password, got %v", err)
	}
}

func TestAuthenticateSkipsExpiredPasswords(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, store := newTestService(t,
		WithPasswordPolicy(false, time.Hour),
		WithClock(func() time.Time { return now }))
	ctx := context.Background()

	_, cred, err := svc.Register(ctx, "alice", IdentifierUsername, "secret")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	passwords, _ := store.ListPasswords(ctx, cred.ID)
	if passwords[0].ExpiresAt == nil {
		t.Fatal("expected expiring password under non-permanent policy")
	}

	// Move past the expiry instant.
	now = now.Add(2 * time.Hour)
	if _, err := svc.Authenticate(ctx, "alice", IdentifierUsername, "secret"); !errors.Is(err, ErrCredentialMismatch) {
		t.Fatalf("expected ErrCredentialMismatch for expired password, got %v", err)
	}
}

func TestAuthenticateEmptyInputs(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Authenticate(ctx, "", IdentifierUsername, "secret"); !errors.Is(err, ErrCredentialMismatch) {
		t.Fatalf("expected ErrCredentialMismatch, got %v", err)
	}
	if _, err := svc.Authenticate(ctx, "alice", IdentifierUsername, ""); !errors.Is(err, ErrCredentialMismatch) {
		t.Fatalf("expected ErrCredentialMismatch, got %v", err)
	}
}

func TestSetPasswordRehashesInPlace(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	_, cred, err := svc.Register(ctx, "alice", IdentifierUsername, "old")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	before, _ := store.ListPasswords(ctx, cred.ID)

	if err := svc.SetPassword(ctx, cred.ID, "new"); err != nil {
		t.Fatalf("set password: %v", err)
	}
	after, _ := store.ListPasswords(ctx, cred.ID)
	if len(after) != 1 {
		t.Fatalf("expected 1 password, got %d", len(after))
	}
	if after[0].ID != before[0].ID {
		t.Fatal("expected the existing password record rehashed, not replaced")
	}
	if _, err := svc.Authenticate(ctx, "alice", IdentifierUsername, "new"); err != nil {
		t.Fatalf("authenticate with new password: %v", err)
	}
	if _, err := svc.Authenticate(ctx, "alice", IdentifierUsername, "old"); !errors.Is(err, ErrCredentialMismatch) {
		t.Fatalf("old password must stop working, got %v", err)
	}
}

func TestResetPasswordReplacesAll(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	_, cred, err := svc.Register(ctx, "alice", IdentifierUsername, "old")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	before, _ := store.ListPasswords(ctx, cred.ID)

	if err := svc.ResetPassword(ctx, cred.ID, "new"); err != nil {
		t.Fatalf("reset password: %v", err)
	}
	after, _ := store.ListPasswords(ctx, cred.ID)
	if len(after) != 1 {
		t.Fatalf("expected 1 password, got %d", len(after))
	}
	if after[0].ID == before[0].ID {
		t.Fatal("expected a fresh password record")
	}
}

func TestAddCredentialRequiresIdentity(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.AddCredential(context.Background(), "missing", "alice@example.com", IdentifierEmail, "secret"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAssignRoleByCode(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	ident, _, err := svc.Register(ctx, "alice", IdentifierUsername, "secret")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.CreateRole(ctx, "auditor", "Auditor", ""); err != nil {
		t.Fatalf("create role: %v", err)
	}

	if err := svc.AssignRole(ctx, ident.ID, "auditor"); err != nil {
		t.Fatalf("assign role: %v", err)
	}
	roles, _ := store.RolesForIdentity(ctx, ident.ID)
	if len(roles) != 1 || roles[0].Code != "auditor" {
		t.Fatalf("unexpected roles: %+v", roles)
	}

	if err := svc.AssignRole(ctx, ident.ID, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown role code, got %v", err)
	}
}

func TestEnsureBuiltinsIsIdempotent(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	if err := svc.EnsureBuiltins(ctx); err != nil {
		t.Fatalf("ensure builtins: %v", err)
	}
	if err := svc.EnsureBuiltins(ctx); err != nil {
		t.Fatalf("ensure builtins twice: %v", err)
	}
	perms, _ := store.ListPermissions(ctx)
	if len(perms) != len(BuiltinPermissions) {
		t.Fatalf("expected %d permissions, got %d", len(BuiltinPermissions), len(perms))
	}
}
