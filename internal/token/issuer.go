// Package token builds, signs and verifies the access/refresh tokens issued
// by the identity provider.
package token

import (
	"crypto"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v3/jwk"

	"evaid.org/internal/identity"
)

// Type distinguishes access from refresh tokens.
type Type string

const (
	TypeAccess  Type = "access"
	TypeRefresh Type = "refresh"
)

// ErrInvalid indicates a token that failed verification: bad signature,
// malformed structure, wrong type or expired. Verification fails closed;
// there is no partial result.
var ErrInvalid = errors.New("token: invalid token")

const (
	defaultAccessTTL       = 15 * time.Minute
	defaultRefreshTTL      = 14 * 24 * time.Hour
	defaultAppKeyAccessTTL = 30 * 24 * time.Hour
)

// Claims is the signed claim set. TokenType is mandatory; Roles and
// IdentifierType are the custom claims carried for authorization.
type Claims struct {
	TokenType      string   `json:"type"`
	Roles          []string `json:"roles,omitempty"`
	IdentifierType string   `json:"identifier_type,omitempty"`
	jwt.RegisteredClaims
}

// Expiry selects how a token's expiry is computed.
type Expiry struct {
	never bool
	ttl   time.Duration
}

// NeverExpires issues a token without an exp claim.
func NeverExpires() Expiry { return Expiry{never: true} }

// DefaultExpiry uses the configured default lifetime for the token type.
func DefaultExpiry() Expiry { return Expiry{} }

// ExpireIn uses the given lifetime verbatim.
func ExpireIn(d time.Duration) Expiry { return Expiry{ttl: d} }

// Issuer signs and verifies tokens with a single RSA key. The key id header
// is the RFC 7638 thumbprint of the public key, so verifiers can tell keys
// apart without out-of-band coordination.
type Issuer struct {
	privateKey *rsa.PrivateKey
	keyID      string
	issuer     string
	audience   []string
	now        func() time.Time

	accessTTL       time.Duration
	refreshTTL      time.Duration
	appKeyAccessTTL time.Duration
}

// Option configures Issuer behavior.
type Option func(*Issuer)

// WithIssuer sets the iss claim.
func WithIssuer(iss string) Option {
	return func(i *Issuer) { i.issuer = strings.TrimSpace(iss) }
}

// WithAudience sets the aud claim.
func WithAudience(aud []string) Option {
	return func(i *Issuer) { i.audience = aud }
}

// WithAccessTTL overrides the default access token lifetime.
func WithAccessTTL(ttl time.Duration) Option {
	return func(i *Issuer) {
		if ttl > 0 {
			i.accessTTL = ttl
		}
	}
}

// WithRefreshTTL overrides the default refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) Option {
	return func(i *Issuer) {
		if ttl > 0 {
			i.refreshTTL = ttl
		}
	}
}

// WithAppKeyAccessTTL overrides the access lifetime for APP_KEY credentials.
func WithAppKeyAccessTTL(ttl time.Duration) Option {
	return func(i *Issuer) {
		if ttl > 0 {
			i.appKeyAccessTTL = ttl
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(i *Issuer) {
		if fn != nil {
			i.now = fn
		}
	}
}

// NewIssuer parses the PEM private key and derives the key id from it.
func NewIssuer(privatePEM string, opts ...Option) (*Issuer, error) {
	key, err := parseRSAPrivateKey(privatePEM)
	if err != nil {
		return nil, fmt.Errorf("token: parse private key: %w", err)
	}
	kid, err := keyThumbprint(&key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("token: derive key id: %w", err)
	}
	i := &Issuer{
		privateKey:      key,
		keyID:           kid,
		now:             time.Now,
		accessTTL:       defaultAccessTTL,
		refreshTTL:      defaultRefreshTTL,
		appKeyAccessTTL: defaultAppKeyAccessTTL,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// KeyID returns the kid embedded in token headers and the JWKS.
func (i *Issuer) KeyID() string { return i.keyID }

// Issue signs a token of the given type. Roles and identifierType become
// custom claims; expiry follows the policy argument.
func (i *Issuer) Issue(typ Type, subject string, roles []string, identifierType string, expiry Expiry) (string, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", fmt.Errorf("%w: subject is required", identity.ErrInvalidInput)
	}
	if typ != TypeAccess && typ != TypeRefresh {
		return "", fmt.Errorf("%w: unsupported token type %q", identity.ErrInvalidInput, typ)
	}

	now := i.now().UTC()
	claims := Claims{
		TokenType:      string(typ),
		Roles:          roles,
		IdentifierType: identifierType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}
	if i.issuer != "" {
		claims.Issuer = i.issuer
	}
	if len(i.audience) > 0 {
		claims.Audience = jwt.ClaimStrings(i.audience)
	}
	if ttl, ok := i.resolveTTL(typ, identifierType, expiry); ok {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = i.keyID
	signed, err := tok.SignedString(i.privateKey)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// IssuePair issues an access and a refresh token with default expiry.
func (i *Issuer) IssuePair(subject string, roles []string, identifierType string) (access, refresh string, err error) {
	access, err = i.Issue(TypeAccess, subject, roles, identifierType, DefaultExpiry())
	if err != nil {
		return "", "", err
	}
	refresh, err = i.Issue(TypeRefresh, subject, roles, identifierType, DefaultExpiry())
	if err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

// Verify checks signature and temporal claims, returning the claim set. Any
// failure yields an error wrapping ErrInvalid.
func (i *Issuer) Verify(tokenString string) (*Claims, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return nil, ErrInvalid
	}
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		return &i.privateKey.PublicKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalid
	}
	if claims.TokenType != string(TypeAccess) && claims.TokenType != string(TypeRefresh) {
		return nil, ErrInvalid
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalid
	}
	return claims, nil
}

// VerifyType verifies the token and additionally requires its type claim.
func (i *Issuer) VerifyType(tokenString string, typ Type) (*Claims, error) {
	claims, err := i.Verify(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != string(typ) {
		return nil, fmt.Errorf("%w: expected %s token", ErrInvalid, typ)
	}
	return claims, nil
}

func (i *Issuer) resolveTTL(typ Type, identifierType string, expiry Expiry) (time.Duration, bool) {
	if expiry.never {
		return 0, false
	}
	if expiry.ttl > 0 {
		return expiry.ttl, true
	}
	if typ == TypeRefresh {
		return i.refreshTTL, true
	}
	if identifierType == string(identity.IdentifierAppKey) {
		return i.appKeyAccessTTL, true
	}
	return i.accessTTL, true
}

func keyThumbprint(pub *rsa.PublicKey) (string, error) {
	key, err := jwk.Import(pub)
	if err != nil {
		return "", err
	}
	sum, err := key.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(sum), nil
}

func parseRSAPrivateKey(pemData string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(strings.TrimSpace(pemData)))
	if block == nil {
		return nil, errors.New("invalid PEM private key")
	}
	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		if rsaKey, ok := key.(*rsa.PrivateKey); ok {
			return rsaKey, nil
		}
		return nil, errors.New("unsupported private key type")
	default:
		return nil, fmt.Errorf("unsupported private key type %s", block.Type)
	}
}
