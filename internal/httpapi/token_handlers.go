package httpapi

import (
	"net/http"

	"evaid.org/internal/audit"
	"evaid.org/internal/identity"
)

type obtainTokenRequest struct {
	Identifier     string `json:"identifier"`
	IdentifierType string `json:"identifier_type"`
	Password       string `json:"password"`
}

type tokenPairResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

// handleTokenObtain authenticates a credential and issues an access/refresh
// pair carrying the identity's current roles.
func (a *API) handleTokenObtain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req obtainTokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	identifierType, err := identity.ParseIdentifierType(req.IdentifierType)
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}

	ident, err := a.svc.Authenticate(r.Context(), req.Identifier, identifierType, req.Password)
	if err != nil {
		_ = audit.LogEvent(r.Context(), "token.obtain.denied", map[string]any{
			"identifier_type": string(identifierType),
		})
		handleIdentityError(w, r, err)
		return
	}
	roles, err := a.resolver.RoleCodes(r.Context(), ident.ID)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "role resolution failed")
		return
	}
	access, refresh, err := a.issuer.IssuePair(ident.Subject, roles, string(identifierType))
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token issuance failed")
		return
	}

	_ = audit.LogEvent(audit.WithSubject(r.Context(), ident.Subject), "token.obtain.issued", map[string]any{
		"identifier_type": string(identifierType),
		"roles":           roles,
	})
	writeJSON(w, http.StatusOK, tokenPairResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
	})
}

// handleTokenRefresh exchanges a bearer refresh token for a fresh pair.
func (a *API) handleTokenRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	refreshToken, err := extractBearerToken(r.Header.Get(authHeader))
	if err != nil {
		w.Header().Set("WWW-Authenticate", `Bearer realm="evaid"`)
		writeError(w, r, http.StatusUnauthorized, err.Error())
		return
	}

	access, refresh, err := a.refresher.Refresh(r.Context(), refreshToken)
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenPairResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
	})
}
