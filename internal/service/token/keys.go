package token

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v5"
)

var ErrUnknownKey = errors.New("unknown signing key")

// Asymmetric signing key, identified by kid header
type Key struct {
	ID      string
	Method  jwt.SigningMethod
	Private crypto.Signer
}

func (k Key) Public() crypto.PublicKey {
	return k.Private.Public()
}

// KeyProvider gives access to signing key material.
// Implementation may be backed by remote secret store, so SigningKey takes context.
type KeyProvider interface {
	SigningKey(ctx context.Context) (Key, error)
	VerificationKey(kid string) (crypto.PublicKey, error)
}

// KeySet signs with the current key and verifies with current and retired ones
type KeySet struct {
	current Key
	public  map[string]crypto.PublicKey
}

func NewKeySet(current Key, retired ...Key) *KeySet {
	ks := &KeySet{
		current: current,
		public:  make(map[string]crypto.PublicKey, len(retired)+1),
	}
	for _, k := range append([]Key{current}, retired...) {
		ks.public[k.ID] = k.Public()
	}
	return ks
}

func (ks *KeySet) SigningKey(ctx context.Context) (Key, error) {
	if err := ctx.Err(); err != nil {
		return Key{}, err
	}
	return ks.current, nil
}

func (ks *KeySet) VerificationKey(kid string) (crypto.PublicKey, error) {
	key, ok := ks.public[kid]
	if !ok {
		return nil, ErrUnknownKey
	}
	return key, nil
}

// NewKey picks signing method by private key type: RS256, ES256 or EdDSA
func NewKey(private crypto.Signer) (Key, error) {
	var method jwt.SigningMethod

	switch k := private.(type) {
	case *rsa.PrivateKey:
		method = jwt.SigningMethodRS256
	case *ecdsa.PrivateKey:
		if k.Curve.Params().BitSize != 256 {
			return Key{}, fmt.Errorf("unsupported ecdsa curve %s", k.Curve.Params().Name)
		}
		method = jwt.SigningMethodES256
	case ed25519.PrivateKey:
		method = jwt.SigningMethodEdDSA
	default:
		return Key{}, fmt.Errorf("unsupported private key type %T", private)
	}

	der, err := x509.MarshalPKIXPublicKey(private.Public())
	if err != nil {
		return Key{}, fmt.Errorf("error while encoding public key. Err: %w", err)
	}
	sum := sha256.Sum256(der)

	return Key{
		ID:      base64.RawURLEncoding.EncodeToString(sum[:12]),
		Method:  method,
		Private: private,
	}, nil
}

// ParseKeyPEM reads PKCS#1, PKCS#8 or SEC1 encoded private key
func ParseKeyPEM(data []byte) (Key, error) {
	if k, err := jwt.ParseEdPrivateKeyFromPEM(data); err == nil {
		if signer, ok := k.(crypto.Signer); ok {
			return NewKey(signer)
		}
	}
	if k, err := jwt.ParseECPrivateKeyFromPEM(data); err == nil {
		return NewKey(k)
	}
	if k, err := jwt.ParseRSAPrivateKeyFromPEM(data); err == nil {
		return NewKey(k)
	}

	return Key{}, errors.New("signing key must be PEM encoded RSA, ECDSA P-256 or Ed25519 private key")
}

// LoadKeyFile reads signing key from PEM file
func LoadKeyFile(path string) (Key, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Key{}, fmt.Errorf("error while reading signing key. Err: %w", err)
	}
	return ParseKeyPEM(data)
}
