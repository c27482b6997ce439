package identity

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// ErrMalformedShadow indicates a stored hash that cannot be parsed. This is a
// data corruption / configuration problem, never a verification failure.
var ErrMalformedShadow = errors.New("identity: malformed password shadow")

// HashParams are argon2id cost parameters. All values come from configuration;
// nothing here is hardcoded at call sites.
type HashParams struct {
	TimeCost    uint32
	MemoryCost  uint32
	Parallelism uint8
	KeyLength   uint32
	SaltLength  uint32
}

// DefaultHashParams mirrors the deployment defaults.
func DefaultHashParams() HashParams {
	return HashParams{
		TimeCost:    2,
		MemoryCost:  102400,
		Parallelism: 8,
		KeyLength:   16,
		SaltLength:  16,
	}
}

// Hasher hashes and verifies passwords with argon2id. The produced shadow is
// a PHC string embedding version and cost parameters, so verification never
// depends on the parameters currently configured.
type Hasher struct {
	params HashParams
}

func NewHasher(params HashParams) (*Hasher, error) {
	if params.TimeCost == 0 || params.MemoryCost == 0 || params.Parallelism == 0 {
		return nil, fmt.Errorf("%w: argon2 cost parameters must be positive", ErrInvalidInput)
	}
	if params.KeyLength == 0 || params.SaltLength == 0 {
		return nil, fmt.Errorf("%w: argon2 output lengths must be positive", ErrInvalidInput)
	}
	return &Hasher{params: params}, nil
}

// Hash derives a shadow for the plaintext.
func (h *Hasher) Hash(plaintext string) (string, error) {
	if plaintext == "" {
		return "", fmt.Errorf("%w: password is empty", ErrInvalidInput)
	}
	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	key := argon2.IDKey([]byte(plaintext), salt,
		h.params.TimeCost, h.params.MemoryCost, h.params.Parallelism, h.params.KeyLength)

	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.params.MemoryCost,
		h.params.TimeCost,
		h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify checks plaintext against a stored shadow. A wrong password yields
// (false, nil); only an unparseable shadow yields an error. The comparison is
// constant-time.
func (h *Hasher) Verify(shadow, plaintext string) (bool, error) {
	memory, time, parallelism, salt, key, err := decodeShadow(shadow)
	if err != nil {
		return false, err
	}
	derived := argon2.IDKey([]byte(plaintext), salt, time, memory, parallelism, uint32(len(key)))
	return subtle.ConstantTimeCompare(derived, key) == 1, nil
}

func decodeShadow(shadow string) (memory, time uint32, parallelism uint8, salt, key []byte, err error) {
	parts := strings.Split(shadow, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return 0, 0, 0, nil, nil, ErrMalformedShadow
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return 0, 0, 0, nil, nil, ErrMalformedShadow
	}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &parallelism); err != nil {
		return 0, 0, 0, nil, nil, ErrMalformedShadow
	}
	if memory == 0 || time == 0 || parallelism == 0 {
		return 0, 0, 0, nil, nil, ErrMalformedShadow
	}
	salt, err = base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return 0, 0, 0, nil, nil, ErrMalformedShadow
	}
	key, err = base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return 0, 0, 0, nil, nil, ErrMalformedShadow
	}
	return memory, time, parallelism, salt, key, nil
}
