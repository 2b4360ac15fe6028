// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// TokenResponseKey is the storage key of the persisted TokenResponse.
const TokenResponseKey = "TokenResponse"

const (
	// RedactedAccessToken is the redacted string or json for an oauth
	// access_token
	RedactedAccessToken = "[REDACTED: access_token]"

	// RedactedRefreshToken is the redacted string or json for an oauth
	// refresh_token
	RedactedRefreshToken = "[REDACTED: refresh_token]"
)

// AccessToken is an oauth access_token.
type AccessToken string

// String will redact the token.
func (t AccessToken) String() string {
	return RedactedAccessToken
}

// MarshalJSON will redact the token.
func (t AccessToken) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedAccessToken)
}

// RefreshToken is an oauth refresh_token.
type RefreshToken string

// String will redact the token.
func (t RefreshToken) String() string {
	return RedactedRefreshToken
}

// MarshalJSON will redact the token.
func (t RefreshToken) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedRefreshToken)
}

// TokenResponse is a successful response of the token endpoint.  Marshaling
// it redacts the tokens; use Persist to serialize it for storage.
type TokenResponse struct {
	AccessToken  AccessToken  `json:"access_token"`
	TokenType    string       `json:"token_type,omitempty"`
	RefreshToken RefreshToken `json:"refresh_token,omitempty"`
	IdToken      IdToken      `json:"id_token,omitempty"`
	ExpiresIn    int64        `json:"expires_in,omitempty"`
	Scope        string       `json:"scope,omitempty"`

	// IssuedAt is when the response was received.
	IssuedAt time.Time `json:"-"`
}

// Merge returns the response of a refresh grant completed with the values
// the provider omitted: the refresh_token and id_token of tr are kept when
// refreshed doesn't carry new ones.
func (tr *TokenResponse) Merge(refreshed *TokenResponse) *TokenResponse {
	if refreshed == nil {
		return tr
	}
	merged := *refreshed
	if tr == nil {
		return &merged
	}
	if merged.RefreshToken == "" {
		merged.RefreshToken = tr.RefreshToken
	}
	if merged.IdToken == "" {
		merged.IdToken = tr.IdToken
	}
	if merged.Scope == "" {
		merged.Scope = tr.Scope
	}
	return &merged
}

// Key is the storage key.
func (tr *TokenResponse) Key() string { return TokenResponseKey }

// Encrypt reports the token response is secret.
func (tr *TokenResponse) Encrypt() bool { return true }

// persistedTokenResponse mirrors TokenResponse with plain strings, so the
// tokens aren't redacted.
type persistedTokenResponse struct {
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	IdToken      string    `json:"id_token,omitempty"`
	ExpiresIn    int64     `json:"expires_in,omitempty"`
	Scope        string    `json:"scope,omitempty"`
	IssuedAt     time.Time `json:"issued_at"`
}

// Persist serializes the token response, tokens included.
func (tr *TokenResponse) Persist() (string, error) {
	const op = "TokenResponse.Persist"
	b, err := json.Marshal(persistedTokenResponse{
		AccessToken:  string(tr.AccessToken),
		TokenType:    tr.TokenType,
		RefreshToken: string(tr.RefreshToken),
		IdToken:      string(tr.IdToken),
		ExpiresIn:    tr.ExpiresIn,
		Scope:        tr.Scope,
		IssuedAt:     tr.IssuedAt,
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return string(b), nil
}

// TokenResponseRestorer restores a persisted *TokenResponse.
type TokenResponseRestorer struct{}

// Key is the storage key.
func (TokenResponseRestorer) Key() string { return TokenResponseKey }

// Encrypted matches TokenResponse.Encrypt.
func (TokenResponseRestorer) Encrypted() bool { return true }

// Restore parses a persisted token response.
func (TokenResponseRestorer) Restore(data string) (*TokenResponse, error) {
	const op = "TokenResponseRestorer.Restore"
	var p persistedTokenResponse
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if p.AccessToken == "" {
		return nil, fmt.Errorf("%s: access token is empty: %w", op, ErrMalformedResponse)
	}
	return &TokenResponse{
		AccessToken:  AccessToken(p.AccessToken),
		TokenType:    p.TokenType,
		RefreshToken: RefreshToken(p.RefreshToken),
		IdToken:      IdToken(p.IdToken),
		ExpiresIn:    p.ExpiresIn,
		Scope:        p.Scope,
		IssuedAt:     p.IssuedAt,
	}, nil
}

// Tokens is a read only view of a TokenResponse.
type Tokens struct {
	resp *TokenResponse
	now  func() time.Time
	skew time.Duration
}

// NewTokens creates a view of tr.
//
// Supported options: WithNow, WithExpirySkew
func NewTokens(tr *TokenResponse, opt ...Option) (*Tokens, error) {
	const op = "oidc.NewTokens"
	if tr == nil {
		return nil, NewError(ErrNilParameter, WithOp(op), WithKind(KindParameterViolation), WithMsg("token response is nil"))
	}
	if tr.AccessToken == "" {
		return nil, NewError(ErrInvalidParameter, WithOp(op), WithKind(KindParameterViolation), WithMsg("access token is empty"))
	}
	opts := getTokensOpts(opt...)
	cp := *tr
	return &Tokens{resp: &cp, now: opts.withNow, skew: opts.withExpirySkew}, nil
}

// AccessToken returns the access_token.
func (t *Tokens) AccessToken() AccessToken { return t.resp.AccessToken }

// RefreshToken returns the refresh_token, which may be empty.
func (t *Tokens) RefreshToken() RefreshToken { return t.resp.RefreshToken }

// IdToken returns the id_token, which may be empty.
func (t *Tokens) IdToken() IdToken { return t.resp.IdToken }

// TokenType returns the token_type, Bearer when the provider omitted it.
func (t *Tokens) TokenType() string {
	if t.resp.TokenType == "" {
		return "Bearer"
	}
	return t.resp.TokenType
}

// Scopes returns the granted scopes.
func (t *Tokens) Scopes() []string {
	return strings.Fields(t.resp.Scope)
}

// Expiry returns when the access_token expires, the zero time when the
// provider didn't say.
func (t *Tokens) Expiry() time.Time {
	if t.resp.ExpiresIn <= 0 || t.resp.IssuedAt.IsZero() {
		return time.Time{}
	}
	return t.resp.IssuedAt.Add(time.Duration(t.resp.ExpiresIn) * time.Second)
}

// IsAccessTokenExpired reports whether the access_token is expired, or will
// be within the expiry skew.  A token without an expiry never expires.
func (t *Tokens) IsAccessTokenExpired() bool {
	exp := t.Expiry()
	if exp.IsZero() {
		return false
	}
	return !t.now().Add(t.skew).Before(exp)
}

// Response returns a copy of the underlying token response.
func (t *Tokens) Response() *TokenResponse {
	cp := *t.resp
	return &cp
}

// OAuth2Token converts the tokens to an *oauth2.Token.  The id_token is
// available as the "id_token" extra.
func (t *Tokens) OAuth2Token() *oauth2.Token {
	tk := &oauth2.Token{
		AccessToken:  string(t.resp.AccessToken),
		TokenType:    t.TokenType(),
		RefreshToken: string(t.resp.RefreshToken),
		Expiry:       t.Expiry(),
	}
	if t.resp.IdToken != "" {
		tk = tk.WithExtra(map[string]interface{}{"id_token": string(t.resp.IdToken)})
	}
	return tk
}

// DefaultExpirySkew is subtracted from the access_token's lifetime by
// IsAccessTokenExpired.
const DefaultExpirySkew = 10 * time.Second

type tokensOptions struct {
	withNow        func() time.Time
	withExpirySkew time.Duration
}

func tokensDefaults() tokensOptions {
	return tokensOptions{
		withNow:        time.Now,
		withExpirySkew: DefaultExpirySkew,
	}
}

func getTokensOpts(opt ...Option) tokensOptions {
	opts := tokensDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithExpirySkew overrides DefaultExpirySkew for Tokens.
func WithExpirySkew(d time.Duration) Option {
	return func(o interface{}) {
		if v, ok := o.(*tokensOptions); ok && d >= 0 {
			v.withExpirySkew = d
		}
	}
}
