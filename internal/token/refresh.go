package token

import (
	"context"
	"errors"
	"fmt"

	"evaid.org/internal/identity"
)

// Refresher exchanges a refresh token for a fresh pair. Claims are re-derived
// from current identity and role state; only the subject and identifier_type
// are carried forward from the presented token.
type Refresher struct {
	issuer   *Issuer
	store    identity.Store
	resolver *identity.Resolver
}

func NewRefresher(issuer *Issuer, store identity.Store, resolver *identity.Resolver) *Refresher {
	return &Refresher{issuer: issuer, store: store, resolver: resolver}
}

// Refresh verifies the refresh token, confirms the identity is still active,
// and issues a new access/refresh pair with the identity's current roles. A
// deleted identity fails the same way as a disabled one.
func (r *Refresher) Refresh(ctx context.Context, refreshToken string) (access, refresh string, err error) {
	claims, err := r.issuer.VerifyType(refreshToken, TypeRefresh)
	if err != nil {
		return "", "", err
	}
	ident, err := r.store.GetIdentityBySubject(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return "", "", identity.ErrInactive
		}
		return "", "", err
	}
	if !ident.Active {
		return "", "", identity.ErrInactive
	}
	roles, err := r.resolver.RoleCodes(ctx, ident.ID)
	if err != nil {
		return "", "", fmt.Errorf("resolve roles: %w", err)
	}
	return r.issuer.IssuePair(claims.Subject, roles, claims.IdentifierType)
}
