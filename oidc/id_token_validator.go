// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/hashicorp/appauth/jwt"
)

const (
	// RS256 is the only id_token signing algorithm DefaultValidator accepts.
	RS256 = "RS256"

	// MaxIssuedAtSkew is how far an id_token's iat may drift from now.
	MaxIssuedAtSkew = 600 * time.Second

	// GrantTypeAuthorizationCode and GrantTypeRefreshToken are the grants
	// an id_token can be issued for.
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeRefreshToken      = "refresh_token"
)

// ValidationParams are the request values an id_token is validated against.
type ValidationParams struct {
	// Issuer of the resolved provider config.
	Issuer string

	// ClientID must be one of the token's audiences.
	ClientID string

	// Nonce of the authorization request.  It's only compared for the
	// authorization_code grant.
	Nonce string

	// GrantType is the grant the token was issued for.
	GrantType string
}

// IDTokenValidator validates a parsed id_token.
type IDTokenValidator interface {
	Validate(ctx context.Context, t *ParsedIdToken, p ValidationParams) error
}

// ValidatorFunc adapts a func to the IDTokenValidator interface.
type ValidatorFunc func(ctx context.Context, t *ParsedIdToken, p ValidationParams) error

// Validate implements the IDTokenValidator interface.
func (f ValidatorFunc) Validate(ctx context.Context, t *ParsedIdToken, p ValidationParams) error {
	return f(ctx, t, p)
}

// DefaultValidator checks the header and claims of an id_token.  It doesn't
// verify the signature; see NewSignatureValidator.
type DefaultValidator struct {
	now func() time.Time
}

// ensure that DefaultValidator implements the IDTokenValidator interface
var _ IDTokenValidator = (*DefaultValidator)(nil)

// NewDefaultValidator creates a DefaultValidator.
//
// Supported options: WithNow
func NewDefaultValidator(opt ...Option) *DefaultValidator {
	opts := getValidatorOpts(opt...)
	return &DefaultValidator{now: opts.withNow}
}

// Validate checks, in order, and fails on the first violation:
//  1. the alg is RS256
//  2. iss equals p.Issuer
//  3. the issuer is an https url with a host and no query or fragment
//  4. aud contains p.ClientID
//  5. the token isn't expired
//  6. iat is within MaxIssuedAtSkew of now
//  7. for the authorization_code grant, nonce equals p.Nonce
func (v *DefaultValidator) Validate(_ context.Context, t *ParsedIdToken, p ValidationParams) error {
	const op = "DefaultValidator.Validate"
	if t == nil {
		return NewError(ErrNilParameter, WithOp(op), WithKind(KindIdTokenValidation), WithMsg("id_token is nil"))
	}
	invalid := func(code error, msg string) error {
		return NewError(code, WithOp(op), WithKind(KindIdTokenValidation), WithMsg(msg))
	}
	c := &t.Claims

	if t.Header.Alg != RS256 {
		return invalid(ErrUnsupportedAlg, fmt.Sprintf("alg %q is not %s", t.Header.Alg, RS256))
	}
	if c.Issuer != p.Issuer {
		return invalid(ErrInvalidIssuer, fmt.Sprintf("iss %q does not match %q", c.Issuer, p.Issuer))
	}
	u, err := url.Parse(c.Issuer)
	switch {
	case err != nil:
		return invalid(ErrInvalidIssuerURI, fmt.Sprintf("iss %q is not a url", c.Issuer))
	case u.Scheme != "https":
		return invalid(ErrInvalidIssuerURI, fmt.Sprintf("iss %q is not https", c.Issuer))
	case u.Host == "":
		return invalid(ErrInvalidIssuerURI, fmt.Sprintf("iss %q has no host", c.Issuer))
	case u.RawQuery != "" || u.ForceQuery:
		return invalid(ErrInvalidIssuerURI, fmt.Sprintf("iss %q has a query", c.Issuer))
	case u.Fragment != "":
		return invalid(ErrInvalidIssuerURI, fmt.Sprintf("iss %q has a fragment", c.Issuer))
	}
	if !c.Audience.Contains(p.ClientID) {
		return invalid(ErrInvalidAudience, fmt.Sprintf("aud %v does not contain %q", []string(c.Audience), p.ClientID))
	}

	// exp and iat have second precision
	now := v.now().Truncate(time.Second)
	if c.Expiry == nil {
		return invalid(ErrExpiredToken, "exp is missing")
	}
	if now.Sub(c.Expiry.Time()) > 0 {
		return invalid(ErrExpiredToken, fmt.Sprintf("expired at %s", c.Expiry.Time().UTC().Format(time.RFC3339)))
	}
	if c.IssuedAt == nil {
		return invalid(ErrInvalidIssuedAt, "iat is missing")
	}
	skew := now.Sub(c.IssuedAt.Time())
	if skew < 0 {
		skew = -skew
	}
	if skew > MaxIssuedAtSkew {
		return invalid(ErrInvalidIssuedAt, fmt.Sprintf("iat is %s away from now", skew))
	}
	if p.GrantType == GrantTypeAuthorizationCode && c.Nonce != p.Nonce {
		return invalid(ErrInvalidNonce, "nonce does not match request")
	}
	return nil
}

// SignatureValidator verifies the id_token signature with a KeySet before
// handing the token to the next validator.
type SignatureValidator struct {
	keySet jwt.KeySet
	next   IDTokenValidator
}

// NewSignatureValidator creates a SignatureValidator.  A nil next only
// verifies the signature.
func NewSignatureValidator(ks jwt.KeySet, next IDTokenValidator) (*SignatureValidator, error) {
	const op = "oidc.NewSignatureValidator"
	if ks == nil {
		return nil, NewError(ErrNilParameter, WithOp(op), WithKind(KindParameterViolation), WithMsg("key set is nil"))
	}
	return &SignatureValidator{keySet: ks, next: next}, nil
}

// Validate implements the IDTokenValidator interface.
func (v *SignatureValidator) Validate(ctx context.Context, t *ParsedIdToken, p ValidationParams) error {
	const op = "SignatureValidator.Validate"
	if t == nil {
		return NewError(ErrNilParameter, WithOp(op), WithKind(KindIdTokenValidation), WithMsg("id_token is nil"))
	}
	if !t.Signed {
		return NewError(ErrInvalidSignature, WithOp(op), WithKind(KindIdTokenValidation), WithMsg("id_token is not signed"))
	}
	if _, err := v.keySet.VerifySignature(ctx, string(t.Raw)); err != nil {
		return NewError(ErrInvalidSignature, WithOp(op), WithKind(KindIdTokenValidation), WithWrap(err))
	}
	if v.next == nil {
		return nil
	}
	return v.next.Validate(ctx, t, p)
}

type validatorOptions struct {
	withNow func() time.Time
}

func validatorDefaults() validatorOptions {
	return validatorOptions{withNow: time.Now}
}

func getValidatorOpts(opt ...Option) validatorOptions {
	opts := validatorDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}
