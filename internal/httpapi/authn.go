package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"evaid.org/internal/audit"
	"evaid.org/internal/identity"
	"evaid.org/internal/token"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

type principalCtxKey struct{}

// Principal is the authenticated caller of an admin endpoint.
type Principal struct {
	IdentityID string
	Subject    string
	Roles      []string
}

var publicPaths = []string{
	"/healthz",
	"/readyz",
	"/metrics",
	"/v1/info",
	"/v1/token/obtain",
	"/v1/token/refresh",
	"/.well-known/jwks.json",
	"/",
}

var publicPrefixes = []string{
	"/auth/",
}

// withAuth authenticates bearer tokens on the admin surface. Challenge and
// token endpoints stay public: they perform their own credential checks.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		tok, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="evaid"`)
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		claims, err := a.issuer.VerifyType(tok, token.TypeAccess)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="evaid", error="invalid_token"`)
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}

		ident, err := a.store.GetIdentityBySubject(r.Context(), claims.Subject)
		if err != nil {
			if errors.Is(err, identity.ErrNotFound) {
				writeError(w, r, http.StatusUnauthorized, "unknown subject")
				return
			}
			writeError(w, r, http.StatusInternalServerError, "authentication error")
			return
		}
		if !ident.Active {
			writeError(w, r, http.StatusForbidden, "identity is inactive")
			return
		}

		ctx := context.WithValue(r.Context(), principalCtxKey{}, Principal{
			IdentityID: ident.ID,
			Subject:    ident.Subject,
			Roles:      claims.Roles,
		})
		ctx = audit.WithSubject(ctx, ident.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// PrincipalFromContext returns the authenticated caller, if any.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalCtxKey{}).(Principal)
	return p, ok
}

// ensurePermission authorizes the caller against current role state. The
// check always goes back to the store; token role claims are informational.
func (a *API) ensurePermission(w http.ResponseWriter, r *http.Request, perm string) bool {
	p, ok := PrincipalFromContext(r.Context())
	if !ok {
		w.Header().Set("WWW-Authenticate", `Bearer realm="evaid"`)
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return false
	}
	allowed, err := a.resolver.HasPermission(r.Context(), p.IdentityID, perm)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "authorization error")
		return false
	}
	if !allowed {
		writeError(w, r, http.StatusForbidden, "permission denied")
		return false
	}
	return true
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	tok := strings.TrimSpace(header[len(bearer):])
	if tok == "" {
		return "", errors.New("missing bearer token")
	}
	return tok, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	for _, prefix := range publicPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
