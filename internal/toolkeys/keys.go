// Package toolkeys holds the tool's own signing key and publishes its public
// half as a JWKS, which the platform registration points at.
package toolkeys

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

const rsaBits = 2048

var ErrNotRSA = errors.New("toolkeys: key is not an RSA private key")

// KeyPair is the tool's RSA key with its published kid.
type KeyPair struct {
	KID     string
	Private *rsa.PrivateKey
}

// Generate creates a new RSA key.
func Generate() (*KeyPair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, rsaBits)
	if err != nil {
		return nil, fmt.Errorf("toolkeys: rsa generate: %w", err)
	}
	return newPair(priv)
}

// LoadPEM reads a PKCS#8 (or PKCS#1) RSA private key.
func LoadPEM(path string) (*KeyPair, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("toolkeys: read %s: %w", path, err)
	}
	blk, _ := pem.Decode(b)
	if blk == nil {
		return nil, fmt.Errorf("toolkeys: %s: no PEM block", path)
	}
	var priv *rsa.PrivateKey
	switch blk.Type {
	case "PRIVATE KEY":
		k, err := x509.ParsePKCS8PrivateKey(blk.Bytes)
		if err != nil {
			return nil, fmt.Errorf("toolkeys: parse pkcs8: %w", err)
		}
		rk, ok := k.(*rsa.PrivateKey)
		if !ok {
			return nil, ErrNotRSA
		}
		priv = rk
	case "RSA PRIVATE KEY":
		if priv, err = x509.ParsePKCS1PrivateKey(blk.Bytes); err != nil {
			return nil, fmt.Errorf("toolkeys: parse pkcs1: %w", err)
		}
	default:
		return nil, fmt.Errorf("toolkeys: unexpected PEM type %q", blk.Type)
	}
	return newPair(priv)
}

// LoadOrGenerate loads path when set, else returns an ephemeral key. The bool
// reports whether the key is ephemeral.
func LoadOrGenerate(path string) (*KeyPair, bool, error) {
	if path == "" {
		kp, err := Generate()
		return kp, true, err
	}
	kp, err := LoadPEM(path)
	return kp, false, err
}

func newPair(priv *rsa.PrivateKey) (*KeyPair, error) {
	pub, err := jwk.FromRaw(&priv.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("toolkeys: jwk: %w", err)
	}
	tp, err := pub.Thumbprint(crypto.SHA256)
	if err != nil {
		return nil, fmt.Errorf("toolkeys: thumbprint: %w", err)
	}
	return &KeyPair{KID: base64.RawURLEncoding.EncodeToString(tp), Private: priv}, nil
}

// PublicSet returns the public JWKS (kty, n, e, kid, alg, use).
func (k *KeyPair) PublicSet() (jwk.Set, error) {
	pub, err := jwk.FromRaw(&k.Private.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("toolkeys: jwk: %w", err)
	}
	for name, v := range map[string]any{
		jwk.KeyIDKey:     k.KID,
		jwk.AlgorithmKey: jwa.RS256,
		jwk.KeyUsageKey:  jwk.ForSignature,
	} {
		if err := pub.Set(name, v); err != nil {
			return nil, fmt.Errorf("toolkeys: set %s: %w", name, err)
		}
	}
	set := jwk.NewSet()
	if err := set.AddKey(pub); err != nil {
		return nil, err
	}
	return set, nil
}

// PrivatePEM encodes the key as PKCS#8.
func (k *KeyPair) PrivatePEM() ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(k.Private)
	if err != nil {
		return nil, fmt.Errorf("toolkeys: marshal pkcs8: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// WriteFiles writes the private PEM (0600) and the public JWKS (0644),
// creating parent directories.
func (k *KeyPair) WriteFiles(privatePath, jwksPath string) error {
	priv, err := k.PrivatePEM()
	if err != nil {
		return err
	}
	set, err := k.PublicSet()
	if err != nil {
		return err
	}
	pub, err := json.MarshalIndent(set, "", "  ")
	if err != nil {
		return fmt.Errorf("toolkeys: marshal jwks: %w", err)
	}
	for _, path := range []string{privatePath, jwksPath} {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("toolkeys: mkdir: %w", err)
		}
	}
	if err := os.WriteFile(privatePath, priv, 0o600); err != nil {
		return fmt.Errorf("toolkeys: write %s: %w", privatePath, err)
	}
	if err := os.WriteFile(jwksPath, append(pub, '\n'), 0o644); err != nil {
		return fmt.Errorf("toolkeys: write %s: %w", jwksPath, err)
	}
	return nil
}
