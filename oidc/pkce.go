// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"fmt"

	"github.com/hashicorp/appauth/sdk/id"
	"golang.org/x/oauth2"
)

// ChallengeMethod represents PKCE code challenge methods.
type ChallengeMethod string

// S256 is the only supported challenge method.
const S256 ChallengeMethod = "S256"

const (
	// verifierLen is the default number of random bytes in a code verifier,
	// which encodes to 86 characters.
	verifierLen = 64

	// MinVerifierBytes and MaxVerifierBytes bound WithVerifierLength so the
	// encoded verifier is 43..128 characters long.
	MinVerifierBytes = 32
	MaxVerifierBytes = 96

	minVerifierChars = 43
	maxVerifierChars = 128

	// stateLen and nonceLen are the number of random bytes in a state or
	// nonce.
	stateLen = 16
	nonceLen = 16
)

// CodeVerifier is a PKCE code verifier and its S256 challenge.
// See: https://datatracker.ietf.org/doc/html/rfc7636
type CodeVerifier struct {
	verifier  string
	challenge string
	method    ChallengeMethod
}

// NewCodeVerifier creates a new CodeVerifier.
//
// Supported options: WithVerifierLength
func NewCodeVerifier(opt ...Option) (*CodeVerifier, error) {
	const op = "oidc.NewCodeVerifier"
	opts := getPKCEOpts(opt...)
	if opts.withVerifierLength < MinVerifierBytes || opts.withVerifierLength > MaxVerifierBytes {
		return nil, NewError(ErrInvalidParameter, WithOp(op), WithKind(KindParameterViolation),
			WithMsg(fmt.Sprintf("verifier length %d is not within %d..%d bytes", opts.withVerifierLength, MinVerifierBytes, MaxVerifierBytes)))
	}
	v, err := id.Random(opts.withVerifierLength)
	if err != nil {
		return nil, NewError(ErrIdGeneratorFailed, WithOp(op), WithKind(KindInternal), WithMsg("unable to generate verifier"), WithWrap(err))
	}
	return codeVerifierFrom(v)
}

func codeVerifierFrom(v string) (*CodeVerifier, error) {
	cv := &CodeVerifier{verifier: v, method: S256}
	c, err := CreateCodeChallenge(S256, cv)
	if err != nil {
		return nil, err
	}
	cv.challenge = c
	return cv, nil
}

// Verifier returns the code verifier.
func (v *CodeVerifier) Verifier() string { return v.verifier }

// Challenge returns the code challenge.
func (v *CodeVerifier) Challenge() string { return v.challenge }

// Method returns the challenge method.
func (v *CodeVerifier) Method() ChallengeMethod { return v.method }

// CreateCodeChallenge creates a code challenge from the verifier:
// base64url(SHA-256(verifier)) without padding.
func CreateCodeChallenge(method ChallengeMethod, v *CodeVerifier) (string, error) {
	const op = "oidc.CreateCodeChallenge"
	if method != S256 {
		return "", NewError(ErrUnsupportedChallengeMethod, WithOp(op), WithKind(KindParameterViolation), WithMsg(fmt.Sprintf("%q", method)))
	}
	if v == nil {
		return "", NewError(ErrNilParameter, WithOp(op), WithKind(KindParameterViolation), WithMsg("verifier is nil"))
	}
	return oauth2.S256ChallengeFromVerifier(v.verifier), nil
}

// ValidateCodeVerifier checks v is 43..128 characters from the RFC 7636
// unreserved set: ALPHA / DIGIT / "-" / "." / "_" / "~".
func ValidateCodeVerifier(v string) error {
	const op = "oidc.ValidateCodeVerifier"
	if len(v) < minVerifierChars || len(v) > maxVerifierChars {
		return NewError(ErrInvalidCodeVerifier, WithOp(op), WithKind(KindParameterViolation),
			WithMsg(fmt.Sprintf("length %d is not within %d..%d", len(v), minVerifierChars, maxVerifierChars)))
	}
	for i := 0; i < len(v); i++ {
		if !isUnreserved(v[i]) {
			return NewError(ErrInvalidCodeVerifier, WithOp(op), WithKind(KindParameterViolation),
				WithMsg(fmt.Sprintf("invalid character %q at %d", v[i], i)))
		}
	}
	return nil
}

func isUnreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	case c == '-' || c == '.' || c == '_' || c == '~':
		return true
	}
	return false
}

// NewState returns a random opaque state value.
func NewState() (string, error) {
	const op = "oidc.NewState"
	s, err := id.Random(stateLen)
	if err != nil {
		return "", NewError(ErrIdGeneratorFailed, WithOp(op), WithKind(KindInternal), WithMsg("unable to generate state"), WithWrap(err))
	}
	return s, nil
}

// NewNonce returns a random nonce value.
func NewNonce() (string, error) {
	const op = "oidc.NewNonce"
	n, err := id.Random(nonceLen)
	if err != nil {
		return "", NewError(ErrIdGeneratorFailed, WithOp(op), WithKind(KindInternal), WithMsg("unable to generate nonce"), WithWrap(err))
	}
	return n, nil
}

type pkceOptions struct {
	withVerifierLength int
}

func pkceDefaults() pkceOptions {
	return pkceOptions{withVerifierLength: verifierLen}
}

func getPKCEOpts(opt ...Option) pkceOptions {
	opts := pkceDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithVerifierLength overrides the number of random bytes in a code verifier
// for: NewCodeVerifier, NewAuthorizeRequest
func WithVerifierLength(n int) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *pkceOptions:
			v.withVerifierLength = n
		case *authorizeOptions:
			v.withVerifierLength = n
		}
	}
}
