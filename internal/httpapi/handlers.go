// Package httpapi is the HTTP layer: challenge endpoints for the
// authorization server handshake, token issuance, and the admin CRUD surface.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"evaid.org/internal/hydra"
	"evaid.org/internal/identity"
	"evaid.org/internal/obs"
	"evaid.org/internal/token"
)

// ReadyProbe checks backing-store readiness.
type ReadyProbe struct {
	Pinger interface {
		Ping(ctx context.Context) error
	}
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.Pinger == nil {
		return nil
	}
	return rp.Pinger.Ping(ctx)
}

// Deps carries the wired services the API serves.
type Deps struct {
	Identity  *identity.Service
	Store     identity.Store
	Resolver  *identity.Resolver
	Issuer    *token.Issuer
	Refresher *token.Refresher
	Bridge    *hydra.Bridge
	Ready     ReadyProbe
	Version   string
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	svc        *identity.Service
	store      identity.Store
	resolver   *identity.Resolver
	issuer     *token.Issuer
	refresher  *token.Refresher
	bridge     *hydra.Bridge
	readyProbe ReadyProbe
	version    string
}

func New(deps Deps) *API {
	a := &API{
		mux:        http.NewServeMux(),
		svc:        deps.Identity,
		store:      deps.Store,
		resolver:   deps.Resolver,
		issuer:     deps.Issuer,
		refresher:  deps.Refresher,
		bridge:     deps.Bridge,
		readyProbe: deps.Ready,
		version:    deps.Version,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// challenge handshake
	a.mux.HandleFunc("/auth/login", a.handleLogin)
	a.mux.HandleFunc("/auth/consent", a.handleConsent)

	// direct token issuance
	a.mux.HandleFunc("/v1/token/obtain", a.handleTokenObtain)
	a.mux.HandleFunc("/v1/token/refresh", a.handleTokenRefresh)
	a.mux.HandleFunc("/.well-known/jwks.json", a.handleJWKS)

	// admin CRUD
	a.mux.HandleFunc("/v1/identities", a.handleIdentitiesCollection)
	a.mux.HandleFunc("/v1/identities/", a.handleIdentityResource)
	a.mux.HandleFunc("/v1/credentials/", a.handleCredentialResource)
	a.mux.HandleFunc("/v1/roles", a.handleRolesCollection)
	a.mux.HandleFunc("/v1/roles/", a.handleRoleResource)
	a.mux.HandleFunc("/v1/permissions", a.handlePermissionsCollection)
	a.mux.HandleFunc("/v1/permissions/", a.handlePermissionResource)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the full middleware chain around the mux.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = RateLimit(h, 50, 25)
	h = MaxBodyBytes(h, 1<<20)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "evaid-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "evaid-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

func (a *API) handleJWKS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	data, err := a.issuer.JWKS()
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "jwks rendering failed")
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=300")
	_, _ = w.Write(data)
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// handleIdentityError maps domain errors to HTTP statuses. A credential
// mismatch is deliberately opaque; the upstream admin API failing is the
// gateway's fault, not the client's.
func handleIdentityError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, identity.ErrCredentialMismatch):
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, identity.ErrInactive):
		writeError(w, r, http.StatusForbidden, "identity is inactive")
	case errors.Is(err, token.ErrInvalid):
		writeError(w, r, http.StatusForbidden, "invalid token")
	case errors.Is(err, hydra.ErrUpstream):
		writeError(w, r, http.StatusBadGateway, "authorization server unavailable")
	case errors.Is(err, identity.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, identity.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, identity.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
