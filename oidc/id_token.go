// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-jose/go-jose/v4/jwt"
)

// IdToken is an oidc id_token
type IdToken string

// RedactedIdToken is the redacted string or json for an oidc id_token
const RedactedIdToken = "[REDACTED: id_token]"

// String will redact the token
func (t IdToken) String() string {
	return RedactedIdToken
}

// MarshalJSON will redact the token
func (t IdToken) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedIdToken)
}

// Claims retrieves the IdToken claims.
func (t IdToken) Claims(claims interface{}) error {
	const op = "IdToken.Claims"
	if len(t) == 0 {
		return NewError(ErrInvalidParameter, WithOp(op), WithKind(KindParameterViolation), WithMsg("id_token is empty"))
	}
	if claims == nil {
		return NewError(ErrNilParameter, WithOp(op), WithKind(KindParameterViolation), WithMsg("claims interface is nil"))
	}
	return UnmarshalClaims(string(t), claims)
}

// IdTokenHeader is the JOSE header of an id_token.
type IdTokenHeader struct {
	Alg string `json:"alg"`
	Kid string `json:"kid,omitempty"`
	Typ string `json:"typ,omitempty"`
}

// IdTokenClaims are the claims of an id_token.  Raw holds every claim,
// including the ones without a field.
type IdTokenClaims struct {
	jwt.Claims

	Nonce             string           `json:"nonce,omitempty"`
	AuthTime          *jwt.NumericDate `json:"auth_time,omitempty"`
	AMR               []string         `json:"amr,omitempty"`
	ACR               string           `json:"acr,omitempty"`
	AZP               string           `json:"azp,omitempty"`
	Name              string           `json:"name,omitempty"`
	GivenName         string           `json:"given_name,omitempty"`
	FamilyName        string           `json:"family_name,omitempty"`
	PreferredUsername string           `json:"preferred_username,omitempty"`
	Email             string           `json:"email,omitempty"`
	EmailVerified     bool             `json:"email_verified,omitempty"`
	Picture           string           `json:"picture,omitempty"`
	Locale            string           `json:"locale,omitempty"`

	Raw map[string]interface{} `json:"-"`
}

// ParsedIdToken is a decoded id_token.  Its signature isn't verified.
type ParsedIdToken struct {
	Raw    IdToken
	Header IdTokenHeader
	Claims IdTokenClaims

	// Signed is false for a two segment token without a signature.
	Signed bool
}

// ParseIdToken decodes a three segment (header.payload.signature) or two
// segment (header.payload) token.
func ParseIdToken(raw string) (*ParsedIdToken, error) {
	const op = "oidc.ParseIdToken"
	if raw == "" {
		return nil, NewError(ErrMissingIdToken, WithOp(op), WithKind(KindIdTokenValidation))
	}
	parts := strings.Split(raw, ".")
	if len(parts) != 2 && len(parts) != 3 {
		return nil, NewError(ErrMalformedIdToken, WithOp(op), WithKind(KindIdTokenValidation), WithMsg(fmt.Sprintf("%d segments", len(parts))))
	}
	t := &ParsedIdToken{
		Raw:    IdToken(raw),
		Signed: len(parts) == 3 && parts[2] != "",
	}
	if err := decodeSegment(parts[0], &t.Header); err != nil {
		return nil, NewError(ErrMalformedIdToken, WithOp(op), WithKind(KindIdTokenValidation), WithMsg("invalid header"), WithWrap(err))
	}
	if err := decodeSegment(parts[1], &t.Claims); err != nil {
		return nil, NewError(ErrMalformedIdToken, WithOp(op), WithKind(KindIdTokenValidation), WithMsg("invalid claims"), WithWrap(err))
	}
	if err := decodeSegment(parts[1], &t.Claims.Raw); err != nil {
		return nil, NewError(ErrMalformedIdToken, WithOp(op), WithKind(KindIdTokenValidation), WithMsg("invalid claims"), WithWrap(err))
	}
	return t, nil
}

// UnmarshalClaims will retrieve the claims from the provided raw JWT token.
func UnmarshalClaims(rawToken string, claims interface{}) error {
	const op = "oidc.UnmarshalClaims"
	parts := strings.Split(rawToken, ".")
	if len(parts) < 2 {
		return NewError(ErrMalformedIdToken, WithOp(op), WithKind(KindParameterViolation), WithMsg(fmt.Sprintf("expected at least 2 segments and got %d", len(parts))))
	}
	if err := decodeSegment(parts[1], claims); err != nil {
		return NewError(ErrMalformedIdToken, WithOp(op), WithKind(KindParameterViolation), WithMsg("unable to decode claims"), WithWrap(err))
	}
	return nil
}

func decodeSegment(seg string, v interface{}) error {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(seg, "="))
	if err != nil {
		return fmt.Errorf("malformed jwt segment: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("unable to unmarshal jwt segment: %w", err)
	}
	return nil
}
