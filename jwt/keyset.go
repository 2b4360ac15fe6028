// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package jwt verifies JWT signatures against local or remote key sets.
package jwt

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	jose "github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	apphttp "github.com/hashicorp/appauth/sdk/http"
)

// KeySet represents a set of keys that can be used to verify the signatures of JWTs.
// A KeySet is expected to be backed by a set of local or remote keys.
type KeySet interface {
	// VerifySignature parses the given JWT, verifies its signature, and returns the claims in its payload.
	VerifySignature(ctx context.Context, token string) (claims map[string]interface{}, err error)
}

// JSONWebKeySet verifies JWT signatures using keys obtained from a JWKS URL.
// Keys are fetched lazily and refreshed when a token carries an unknown key
// id.
type JSONWebKeySet struct {
	remoteJWKS *oidc.RemoteKeySet
}

// ensure that JSONWebKeySet implements the KeySet interface
var _ KeySet = (*JSONWebKeySet)(nil)

// NewJSONWebKeySet returns a KeySet that verifies JWT signatures using keys
// from the JSON Web Key Set (JWKS) at the given jwksURL.
//
// Supported options: WithCACert, WithHTTPClient
func NewJSONWebKeySet(ctx context.Context, jwksURL string, opt ...Option) (*JSONWebKeySet, error) {
	const op = "jwt.NewJSONWebKeySet"
	if jwksURL == "" {
		return nil, fmt.Errorf("%s: jwks URL is empty: %w", op, ErrInvalidParameter)
	}
	opts := getKeySetOpts(opt...)
	client := opts.withHTTPClient
	if client == nil {
		var err error
		if client, err = apphttp.NewClient(opts.withCACert); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	// the remote key set keeps the context for every later fetch
	caCtx := oidc.ClientContext(context.WithoutCancel(ctx), client)
	return &JSONWebKeySet{
		remoteJWKS: oidc.NewRemoteKeySet(caCtx, jwksURL),
	}, nil
}

// VerifySignature implements the KeySet interface.  The given JWT must be of
// the JWS compact serialization form.
func (ks *JSONWebKeySet) VerifySignature(ctx context.Context, token string) (map[string]interface{}, error) {
	const op = "JSONWebKeySet.VerifySignature"
	payload, err := ks.remoteJWKS.VerifySignature(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %s", op, ErrInvalidSignature, err)
	}
	allClaims := map[string]interface{}{}
	if err := json.Unmarshal(payload, &allClaims); err != nil {
		return nil, fmt.Errorf("%s: %w: %s", op, ErrMalformedToken, err)
	}
	return allClaims, nil
}

// StaticKeySet verifies JWT signatures using local public keys.
type StaticKeySet struct {
	publicKeys []crypto.PublicKey
	algs       []jose.SignatureAlgorithm
}

// ensure that StaticKeySet implements the KeySet interface
var _ KeySet = (*StaticKeySet)(nil)

// NewStaticKeySet returns a KeySet that verifies JWT signatures using
// PEM-encoded public keys. The given publicKeys must be of PEM-encoded x509
// certificate or PKIX public key forms.
//
// Supported options: WithSupportedAlgorithms
func NewStaticKeySet(publicKeys []string, opt ...Option) (*StaticKeySet, error) {
	const op = "jwt.NewStaticKeySet"
	parsed := make([]crypto.PublicKey, 0, len(publicKeys))
	for _, k := range publicKeys {
		key, err := ParsePublicKeyPEM([]byte(k))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		parsed = append(parsed, key)
	}
	return NewStaticKeySetFromKeys(parsed, opt...)
}

// NewStaticKeySetFromKeys returns a KeySet over already parsed RSA, ECDSA or
// Ed25519 public keys.
//
// Supported options: WithSupportedAlgorithms
func NewStaticKeySetFromKeys(publicKeys []crypto.PublicKey, opt ...Option) (*StaticKeySet, error) {
	const op = "jwt.NewStaticKeySetFromKeys"
	if len(publicKeys) == 0 {
		return nil, fmt.Errorf("%s: no public keys: %w", op, ErrInvalidParameter)
	}
	for _, k := range publicKeys {
		switch k.(type) {
		case *rsa.PublicKey, *ecdsa.PublicKey, ed25519.PublicKey:
		default:
			return nil, fmt.Errorf("%s: %T: %w", op, k, ErrUnsupportedKeyType)
		}
	}
	opts := getKeySetOpts(opt...)
	return &StaticKeySet{
		publicKeys: publicKeys,
		algs:       opts.withSupportedAlgorithms,
	}, nil
}

// VerifySignature implements the KeySet interface.  The given JWT must be of
// the JWS compact serialization form.
func (ks *StaticKeySet) VerifySignature(_ context.Context, token string) (map[string]interface{}, error) {
	const op = "StaticKeySet.VerifySignature"
	parsedJWT, err := jwt.ParseSigned(token, ks.algs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %s", op, ErrMalformedToken, err)
	}
	for _, key := range ks.publicKeys {
		allClaims := map[string]interface{}{}
		if err := parsedJWT.Claims(key, &allClaims); err == nil {
			return allClaims, nil
		}
	}
	return nil, fmt.Errorf("%s: no known key successfully validated the token signature: %w", op, ErrInvalidSignature)
}

// ParsePublicKeyPEM is used to parse RSA, ECDSA and Ed25519 public keys from
// PEMs holding either a PKIX public key or an x509 certificate.
func ParsePublicKeyPEM(data []byte) (crypto.PublicKey, error) {
	const op = "jwt.ParsePublicKeyPEM"
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%s: no PEM block: %w", op, ErrInvalidPublicKey)
	}
	rawKey, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		cert, certErr := x509.ParseCertificate(block.Bytes)
		if certErr != nil {
			return nil, fmt.Errorf("%s: %w: %s", op, ErrInvalidPublicKey, err)
		}
		rawKey = cert.PublicKey
	}
	switch k := rawKey.(type) {
	case *rsa.PublicKey, *ecdsa.PublicKey, ed25519.PublicKey:
		return k, nil
	default:
		return nil, fmt.Errorf("%s: %T: %w", op, rawKey, ErrUnsupportedKeyType)
	}
}
