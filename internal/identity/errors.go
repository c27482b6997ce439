package identity

import "errors"

var (
	ErrNotFound     = errors.New("identity: not found")
	ErrConflict     = errors.New("identity: resource conflict")
	ErrInvalidInput = errors.New("identity: invalid input")

	// ErrCredentialMismatch covers both an unknown identifier and a wrong
	// password. The two cases are deliberately indistinguishable to callers.
	ErrCredentialMismatch = errors.New("identity: credential mismatch")

	// ErrInactive indicates the identity exists but is disabled.
	ErrInactive = errors.New("identity: identity is inactive")
)
