package identity

import (
	"fmt"
	"strings"
	"time"
)

// IdentifierType names the channel a credential authenticates through.
type IdentifierType string

const (
	IdentifierUsername IdentifierType = "USERNAME"
	IdentifierEmail    IdentifierType = "EMAIL"
	IdentifierPhone    IdentifierType = "PHONE"
	IdentifierIdP      IdentifierType = "IDP"
	IdentifierAppKey   IdentifierType = "APP_KEY"
)

// ParseIdentifierType validates a caller-supplied identifier type.
func ParseIdentifierType(s string) (IdentifierType, error) {
	switch it := IdentifierType(strings.ToUpper(strings.TrimSpace(s))); it {
	case IdentifierUsername, IdentifierEmail, IdentifierPhone, IdentifierIdP, IdentifierAppKey:
		return it, nil
	default:
		return "", fmt.Errorf("%w: unsupported identifier_type %q", ErrInvalidInput, s)
	}
}

// Identity is an authenticatable subject. Subject is the stable external
// identifier (a UUID) known to the authorization server and embedded in
// tokens; ID is internal to the store.
type Identity struct {
	ID        string    `json:"id"`
	Subject   string    `json:"subject"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Credential identifies an Identity on one authentication channel.
// The (identity, identifier) pair is unique.
type Credential struct {
	ID             string         `json:"id"`
	IdentityID     string         `json:"identity_id"`
	Identifier     string         `json:"identifier"`
	IdentifierType IdentifierType `json:"identifier_type"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Password stores a one-way hash ("shadow") bound to one credential, with an
// optional expiry instant.
type Password struct {
	ID           string     `json:"id"`
	CredentialID string     `json:"credential_id"`
	Shadow       string     `json:"-"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Expired reports whether the password is past its expiry. A password without
// an expiry never expires.
func (p Password) Expired(now time.Time) bool {
	if p.ExpiresAt == nil {
		return false
	}
	return now.After(*p.ExpiresAt)
}

// Role is a named set of permissions. Code is a unique human-assigned
// identifier distinct from the primary key.
type Role struct {
	ID          string    `json:"id"`
	Code        string    `json:"code"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Permission is an atomic capability identified by a unique code.
type Permission struct {
	ID          string    `json:"id"`
	Code        string    `json:"code"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
