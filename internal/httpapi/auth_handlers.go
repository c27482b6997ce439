package httpapi

import (
	"net/http"
	"strings"

	"evaid.org/internal/audit"
	"evaid.org/internal/identity"
)

// handleLogin drives the login half of the challenge handshake. GET fetches
// challenge state and either redirects (skip) or returns the prompt payload;
// POST submits credentials.
func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.startLogin(w, r)
	case http.MethodPost:
		a.submitLogin(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) startLogin(w http.ResponseWriter, r *http.Request) {
	challenge := strings.TrimSpace(r.URL.Query().Get("login_challenge"))
	if challenge == "" {
		writeError(w, r, http.StatusBadRequest, "login_challenge is required")
		return
	}
	res, err := a.bridge.StartLogin(r.Context(), challenge)
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	if res.Done() {
		http.Redirect(w, r, res.RedirectTo, http.StatusFound)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) submitLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid form body")
		return
	}
	challenge := strings.TrimSpace(r.PostFormValue("challenge"))
	if challenge == "" {
		writeError(w, r, http.StatusBadRequest, "challenge is required")
		return
	}
	identifierType, err := identity.ParseIdentifierType(r.PostFormValue("identifier_type"))
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	identifier := r.PostFormValue("identifier")
	password := r.PostFormValue("password")
	remember := parseCheckbox(r.PostFormValue("remember"))

	res, err := a.bridge.SubmitLogin(r.Context(), challenge, identifier, identifierType, password, remember)
	if err != nil {
		_ = audit.LogEvent(r.Context(), "auth.login.denied", map[string]any{
			"identifier_type": string(identifierType),
		})
		handleIdentityError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.login.accepted", map[string]any{
		"identifier_type": string(identifierType),
	})
	http.Redirect(w, r, res.RedirectTo, http.StatusFound)
}

// handleConsent drives the consent half. GET fetches challenge state; POST
// records the user's grant or denial.
func (a *API) handleConsent(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.startConsent(w, r)
	case http.MethodPost:
		a.submitConsent(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) startConsent(w http.ResponseWriter, r *http.Request) {
	challenge := strings.TrimSpace(r.URL.Query().Get("consent_challenge"))
	if challenge == "" {
		writeError(w, r, http.StatusBadRequest, "consent_challenge is required")
		return
	}
	res, err := a.bridge.StartConsent(r.Context(), challenge)
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	if res.Done() {
		http.Redirect(w, r, res.RedirectTo, http.StatusFound)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) submitConsent(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid form body")
		return
	}
	challenge := strings.TrimSpace(r.PostFormValue("challenge"))
	if challenge == "" {
		writeError(w, r, http.StatusBadRequest, "challenge is required")
		return
	}

	if strings.EqualFold(r.PostFormValue("submit"), "deny") {
		res, err := a.bridge.DenyConsent(r.Context(), challenge)
		if err != nil {
			handleIdentityError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "auth.consent.denied", nil)
		http.Redirect(w, r, res.RedirectTo, http.StatusFound)
		return
	}

	grantScope := r.PostForm["grant_scope"]
	remember := parseCheckbox(r.PostFormValue("remember"))
	res, err := a.bridge.SubmitConsent(r.Context(), challenge, grantScope, remember)
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.consent.granted", map[string]any{
		"scope": grantScope,
	})
	http.Redirect(w, r, res.RedirectTo, http.StatusFound)
}

func parseCheckbox(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "on", "yes":
		return true
	default:
		return false
	}
}
