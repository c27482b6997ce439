package hydra

import (
	"context"
	"errors"
	"fmt"

	"evaid.org/internal/identity"
)

// Upstream rejection payloads.
const (
	rejectAccessDenied = "access_denied"

	consentDeniedDescription = "resource owner denied consent"
	subjectUnknownDesc       = "subject is not known to this identity provider"
)

// AdminAPI is the slice of the admin client the bridge needs.
type AdminAPI interface {
	GetLoginRequest(ctx context.Context, challenge string) (LoginRequest, error)
	AcceptLoginRequest(ctx context.Context, challenge string, body AcceptLogin) (CompletedRequest, error)
	RejectLoginRequest(ctx context.Context, challenge string, body Reject) (CompletedRequest, error)
	GetConsentRequest(ctx context.Context, challenge string) (ConsentRequest, error)
	AcceptConsentRequest(ctx context.Context, challenge string, body AcceptConsent) (CompletedRequest, error)
	RejectConsentRequest(ctx context.Context, challenge string, body Reject) (CompletedRequest, error)
}

// Authenticator verifies identifier/password pairs. Satisfied by
// identity.Service.
type Authenticator interface {
	Authenticate(ctx context.Context, identifier string, identifierType identity.IdentifierType, password string) (identity.Identity, error)
}

// RoleSource resolves an identity's current role codes. Satisfied by
// identity.Resolver.
type RoleSource interface {
	RoleCodes(ctx context.Context, identityID string) ([]string, error)
}

// SubjectStore looks identities up by subject. Satisfied by identity.Store.
type SubjectStore interface {
	GetIdentityBySubject(ctx context.Context, subject string) (identity.Identity, error)
}

// StartResult is the outcome of fetching a challenge. Exactly one branch is
// populated: RedirectTo when the flow completed without user interaction,
// otherwise the fields the caller needs to render a prompt.
type StartResult struct {
	RedirectTo string `json:"redirect_to,omitempty"`

	Challenge      string         `json:"challenge,omitempty"`
	Subject        string         `json:"subject,omitempty"`
	RequestedScope []string       `json:"requested_scope,omitempty"`
	Client         map[string]any `json:"client,omitempty"`
}

// Done reports whether the flow completed and the browser must be redirected.
func (r StartResult) Done() bool { return r.RedirectTo != "" }

// Bridge holds no flow state of its own. All state lives on the authorization
// server keyed by challenge; each call fetches, decides and answers.
type Bridge struct {
	admin       AdminAPI
	auth        Authenticator
	roles       RoleSource
	subjects    SubjectStore
	rememberFor int64
}

// NewBridge wires the bridge. rememberFor is the session lifetime in seconds
// granted when the user asks to be remembered.
func NewBridge(admin AdminAPI, auth Authenticator, roles RoleSource, subjects SubjectStore, rememberFor int64) (*Bridge, error) {
	if admin == nil {
		return nil, errors.New("hydra: admin API is required")
	}
	if auth == nil || roles == nil || subjects == nil {
		return nil, errors.New("hydra: identity dependencies are required")
	}
	if rememberFor <= 0 {
		rememberFor = 3600
	}
	return &Bridge{
		admin:       admin,
		auth:        auth,
		roles:       roles,
		subjects:    subjects,
		rememberFor: rememberFor,
	}, nil
}

// StartLogin fetches the login challenge. When the authorization server
// already trusts the subject (skip), the login is accepted immediately with
// that exact subject and the caller redirects; otherwise the caller must
// collect credentials.
func (b *Bridge) StartLogin(ctx context.Context, challenge string) (StartResult, error) {
	req, err := b.admin.GetLoginRequest(ctx, challenge)
	if err != nil {
		return StartResult{}, err
	}
	if req.Skip {
		completed, err := b.admin.AcceptLoginRequest(ctx, challenge, AcceptLogin{Subject: req.Subject})
		if err != nil {
			return StartResult{}, err
		}
		return StartResult{RedirectTo: completed.RedirectTo}, nil
	}
	return StartResult{Challenge: challenge, Subject: req.Subject}, nil
}

// SubmitLogin verifies the submitted credentials and answers the challenge.
// A credential mismatch or inactive identity leaves the challenge untouched
// so the user can retry; no hint distinguishes an unknown identifier from a
// wrong password.
func (b *Bridge) SubmitLogin(ctx context.Context, challenge, identifier string, identifierType identity.IdentifierType, password string, remember bool) (StartResult, error) {
	ident, err := b.auth.Authenticate(ctx, identifier, identifierType, password)
	if err != nil {
		return StartResult{}, err
	}

	accept := AcceptLogin{Subject: ident.Subject}
	if remember {
		accept.Remember = true
		accept.RememberFor = b.rememberFor
	}
	completed, err := b.admin.AcceptLoginRequest(ctx, challenge, accept)
	if err != nil {
		return StartResult{}, err
	}
	return StartResult{RedirectTo: completed.RedirectTo}, nil
}

// StartConsent fetches the consent challenge. A skipped consent is accepted
// immediately with the requested scope and audience; otherwise the caller
// renders the grant prompt from the returned fields.
func (b *Bridge) StartConsent(ctx context.Context, challenge string) (StartResult, error) {
	req, err := b.admin.GetConsentRequest(ctx, challenge)
	if err != nil {
		return StartResult{}, err
	}
	if req.Skip {
		completed, err := b.admin.AcceptConsentRequest(ctx, challenge, AcceptConsent{
			GrantScope:    req.RequestedScope,
			GrantAudience: req.RequestedAudience,
		})
		if err != nil {
			return StartResult{}, err
		}
		return StartResult{RedirectTo: completed.RedirectTo}, nil
	}
	return StartResult{
		Challenge:      challenge,
		Subject:        req.Subject,
		RequestedScope: req.RequestedScope,
		Client:         req.Client,
	}, nil
}

// SubmitConsent grants the scopes the user approved and embeds the subject's
// current roles into the session so downstream tokens carry them. A challenge
// whose subject cannot be resolved to a known identity is rejected: tokens
// must never be minted for a subject this provider cannot vouch for.
func (b *Bridge) SubmitConsent(ctx context.Context, challenge string, grantScope []string, remember bool) (StartResult, error) {
	req, err := b.admin.GetConsentRequest(ctx, challenge)
	if err != nil {
		return StartResult{}, err
	}

	ident, err := b.subjects.GetIdentityBySubject(ctx, req.Subject)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			completed, rejectErr := b.admin.RejectConsentRequest(ctx, challenge, Reject{
				Error:            rejectAccessDenied,
				ErrorDescription: subjectUnknownDesc,
			})
			if rejectErr != nil {
				return StartResult{}, rejectErr
			}
			return StartResult{RedirectTo: completed.RedirectTo}, nil
		}
		return StartResult{}, err
	}

	roles, err := b.roles.RoleCodes(ctx, ident.ID)
	if err != nil {
		return StartResult{}, fmt.Errorf("resolve roles: %w", err)
	}

	accept := AcceptConsent{
		GrantScope:    grantScope,
		GrantAudience: req.RequestedAudience,
		Session: &ConsentSession{
			AccessToken: map[string]any{"roles": roles},
			IDToken:     map[string]any{"roles": roles},
		},
	}
	if remember {
		accept.Remember = true
		accept.RememberFor = b.rememberFor
	}
	completed, err := b.admin.AcceptConsentRequest(ctx, challenge, accept)
	if err != nil {
		return StartResult{}, err
	}
	return StartResult{RedirectTo: completed.RedirectTo}, nil
}

// DenyConsent rejects the consent challenge on the user's behalf.
func (b *Bridge) DenyConsent(ctx context.Context, challenge string) (StartResult, error) {
	completed, err := b.admin.RejectConsentRequest(ctx, challenge, Reject{
		Error:            rejectAccessDenied,
		ErrorDescription: consentDeniedDescription,
	})
	if err != nil {
		return StartResult{}, err
	}
	return StartResult{RedirectTo: completed.RedirectTo}, nil
}
