package token

import (
	"encoding/json"
	"fmt"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwk"
)

// JWKS renders the public half of the signing key as a JSON Web Key Set for
// external verifiers.
func (i *Issuer) JWKS() ([]byte, error) {
	key, err := jwk.Import(&i.privateKey.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("token: build jwk: %w", err)
	}
	if err := key.Set(jwk.KeyIDKey, i.keyID); err != nil {
		return nil, err
	}
	if err := key.Set(jwk.KeyUsageKey, jwk.ForSignature); err != nil {
		return nil, err
	}
	if err := key.Set(jwk.AlgorithmKey, jwa.RS256()); err != nil {
		return nil, err
	}
	set := jwk.NewSet()
	if err := set.AddKey(key); err != nil {
		return nil, err
	}
	return json.Marshal(set)
}
