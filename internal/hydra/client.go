// Package hydra talks to the authorization server's admin API and drives the
// login/consent challenge handshake.
package hydra

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"evaid.org/internal/obs"
)

// ErrUpstream indicates an admin API call that errored, timed out or returned
// a non-2xx status. Calls are never retried: accept/reject have side effects
// on the authorization server and are not idempotent.
var ErrUpstream = errors.New("hydra: admin call failed")

// LoginRequest is the challenge state returned by the login GET.
type LoginRequest struct {
	Challenge string `json:"challenge"`
	Skip      bool   `json:"skip"`
	Subject   string `json:"subject"`
}

// ConsentRequest is the challenge state returned by the consent GET.
type ConsentRequest struct {
	Challenge         string         `json:"challenge"`
	Skip              bool           `json:"skip"`
	Subject           string         `json:"subject"`
	RequestedScope    []string       `json:"requested_scope"`
	RequestedAudience []string       `json:"requested_access_token_audience"`
	Client            map[string]any `json:"client"`
}

// CompletedRequest is returned by every accept/reject call. RedirectTo must
// be surfaced to the caller unmodified.
type CompletedRequest struct {
	RedirectTo string `json:"redirect_to"`
}

// AcceptLogin is the body of a login accept.
type AcceptLogin struct {
	Subject     string `json:"subject"`
	Remember    bool   `json:"remember,omitempty"`
	RememberFor int64  `json:"remember_for,omitempty"`
}

// ConsentSession carries claims the authorization server embeds into the
// tokens it later issues for this consent.
type ConsentSession struct {
	AccessToken map[string]any `json:"access_token,omitempty"`
	IDToken     map[string]any `json:"id_token,omitempty"`
}

// AcceptConsent is the body of a consent accept.
type AcceptConsent struct {
	GrantScope    []string        `json:"grant_scope"`
	GrantAudience []string        `json:"grant_access_token_audience,omitempty"`
	Remember      bool            `json:"remember,omitempty"`
	RememberFor   int64           `json:"remember_for,omitempty"`
	Session       *ConsentSession `json:"session,omitempty"`
}

// Reject is the body of a login or consent reject.
type Reject struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// Client wraps the admin API with a bounded per-call timeout.
type Client struct {
	base *url.URL
	http *http.Client
}

// NewClient validates the base URL and builds the HTTP client.
func NewClient(baseURL string, timeout time.Duration) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("hydra: invalid admin URL %q", baseURL)
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		base: base,
		http: &http.Client{Timeout: timeout},
	}, nil
}

// GetLoginRequest fetches login challenge state.
func (c *Client) GetLoginRequest(ctx context.Context, challenge string) (LoginRequest, error) {
	var out LoginRequest
	err := c.do(ctx, "login.get", http.MethodGet, "/oauth2/auth/requests/login", "login_challenge", challenge, nil, &out)
	return out, err
}

// AcceptLoginRequest tells the authorization server the subject authenticated.
func (c *Client) AcceptLoginRequest(ctx context.Context, challenge string, body AcceptLogin) (CompletedRequest, error) {
	var out CompletedRequest
	err := c.do(ctx, "login.accept", http.MethodPut, "/oauth2/auth/requests/login/accept", "login_challenge", challenge, body, &out)
	return out, err
}

// RejectLoginRequest tells the authorization server the login failed.
func (c *Client) RejectLoginRequest(ctx context.Context, challenge string, body Reject) (CompletedRequest, error) {
	var out CompletedRequest
	err := c.do(ctx, "login.reject", http.MethodPut, "/oauth2/auth/requests/login/reject", "login_challenge", challenge, body, &out)
	return out, err
}

// GetConsentRequest fetches consent challenge state.
func (c *Client) GetConsentRequest(ctx context.Context, challenge string) (ConsentRequest, error) {
	var out ConsentRequest
	err := c.do(ctx, "consent.get", http.MethodGet, "/oauth2/auth/requests/consent", "consent_challenge", challenge, nil, &out)
	return out, err
}

// AcceptConsentRequest grants the requested scope.
func (c *Client) AcceptConsentRequest(ctx context.Context, challenge string, body AcceptConsent) (CompletedRequest, error) {
	var out CompletedRequest
	err := c.do(ctx, "consent.accept", http.MethodPut, "/oauth2/auth/requests/consent/accept", "consent_challenge", challenge, body, &out)
	return out, err
}

// RejectConsentRequest denies the requested scope.
func (c *Client) RejectConsentRequest(ctx context.Context, challenge string, body Reject) (CompletedRequest, error) {
	var out CompletedRequest
	err := c.do(ctx, "consent.reject", http.MethodPut, "/oauth2/auth/requests/consent/reject", "consent_challenge", challenge, body, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, operation, method, path, challengeParam, challenge string, in, out any) error {
	challenge = strings.TrimSpace(challenge)
	if challenge == "" {
		return fmt.Errorf("%w: missing challenge", ErrUpstream)
	}

	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	q := u.Query()
	q.Set(challengeParam, challenge)
	u.RawQuery = q.Encode()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%w: encode body: %v", ErrUpstream, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		obs.ObserveAdminCall(operation, "error")
		return fmt.Errorf("%w: %s: %v", ErrUpstream, operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		obs.ObserveAdminCall(operation, "error")
		// Drain a little of the body for the log line without trusting it.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("%w: %s returned %d: %s", ErrUpstream, operation, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		obs.ObserveAdminCall(operation, "error")
		return fmt.Errorf("%w: %s: decode response: %v", ErrUpstream, operation, err)
	}
	obs.ObserveAdminCall(operation, "ok")
	return nil
}
