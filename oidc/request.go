// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
)

// WebRequestKey is the storage key of the pending WebRequest.
const WebRequestKey = "WebRequest"

// WebRequestType identifies the concrete type of a WebRequest.
type WebRequestType string

const (
	AuthorizeRequestType WebRequestType = "authorize"
	LogoutRequestType    WebRequestType = "logout"
)

// WebRequest is a request handed to the user-agent: an AuthorizeRequest or a
// LogoutRequest.  Exactly one may be pending per client.
type WebRequest interface {
	// Type of the request.
	Type() WebRequestType

	// State is the opaque value the redirect must echo back.
	State() string

	// URL returns the url the user-agent must open.
	URL() (string, error)

	// RedirectURI is where the provider sends the user-agent back.
	RedirectURI() string

	Key() string
	Encrypt() bool
	Persist() (string, error)
}

// AuthorizeRequest is an authorization code request with PKCE.
type AuthorizeRequest struct {
	ClientID              string            `json:"client_id"`
	AuthorizationEndpoint string            `json:"authorization_endpoint"`
	Redirect              string            `json:"redirect_uri"`
	Scopes                []string          `json:"scopes"`
	RequestState          string            `json:"state"`
	Nonce                 string            `json:"nonce"`
	CodeVerifier          string            `json:"code_verifier"`
	CodeChallenge         string            `json:"code_challenge"`
	CodeChallengeMethod   ChallengeMethod   `json:"code_challenge_method"`
	LoginHint             string            `json:"login_hint,omitempty"`
	Prompts               []Prompt          `json:"prompt,omitempty"`
	MaxAge                *uint             `json:"max_age,omitempty"`
	UILocales             []string          `json:"ui_locales,omitempty"`
	ExtraParams           map[string]string `json:"extra_params,omitempty"`
	CreatedAt             time.Time         `json:"created_at"`
}

// ensure that AuthorizeRequest implements the WebRequest interface
var _ WebRequest = (*AuthorizeRequest)(nil)

// Prompt is a value of the authorization request's prompt parameter.
// See: https://openid.net/specs/openid-connect-core-1_0.html#AuthRequest
type Prompt string

const (
	None          Prompt = "none"
	Login         Prompt = "login"
	Consent       Prompt = "consent"
	SelectAccount Prompt = "select_account"
)

// NewAuthorizeRequest creates an AuthorizeRequest with a fresh state, nonce
// and code verifier.
//
// Supported options: WithScopes, WithLoginHint, WithPrompts, WithMaxAge,
// WithUILocales, WithExtraParams, WithVerifierLength
func NewAuthorizeRequest(cfg *Config, pc *ProviderConfig, opt ...Option) (*AuthorizeRequest, error) {
	const op = "oidc.NewAuthorizeRequest"
	switch {
	case cfg == nil:
		return nil, NewError(ErrNilParameter, WithOp(op), WithKind(KindParameterViolation), WithMsg("config is nil"))
	case pc == nil:
		return nil, NewError(ErrNilParameter, WithOp(op), WithKind(KindParameterViolation), WithMsg("provider config is nil"))
	case pc.AuthorizationEndpoint == "":
		return nil, NewError(ErrMissingEndpoint, WithOp(op), WithKind(KindConfiguration), WithMsg("authorization endpoint is missing"))
	}
	opts := getAuthorizeOpts(opt...)
	scopes := cfg.Scopes
	if len(opts.withScopes) > 0 {
		scopes = opts.withScopes
	}
	for _, p := range opts.withPrompts {
		if p == None && len(opts.withPrompts) > 1 {
			return nil, NewError(ErrInvalidParameter, WithOp(op), WithKind(KindParameterViolation), WithMsg(`prompt "none" must be used alone`))
		}
	}

	v, err := NewCodeVerifier(WithVerifierLength(opts.withVerifierLength))
	if err != nil {
		return nil, WrapError(err, WithOp(op))
	}
	state, err := NewState()
	if err != nil {
		return nil, WrapError(err, WithOp(op))
	}
	nonce, err := NewNonce()
	if err != nil {
		return nil, WrapError(err, WithOp(op))
	}
	// state and nonce must never be equal
	for nonce == state {
		if nonce, err = NewNonce(); err != nil {
			return nil, WrapError(err, WithOp(op))
		}
	}

	locales := make([]string, 0, len(opts.withUILocales))
	for _, l := range opts.withUILocales {
		locales = append(locales, l.String())
	}
	return &AuthorizeRequest{
		ClientID:              cfg.ClientID,
		AuthorizationEndpoint: pc.AuthorizationEndpoint,
		Redirect:              cfg.RedirectURI,
		Scopes:                append([]string(nil), scopes...),
		RequestState:          state,
		Nonce:                 nonce,
		CodeVerifier:          v.Verifier(),
		CodeChallenge:         v.Challenge(),
		CodeChallengeMethod:   v.Method(),
		LoginHint:             opts.withLoginHint,
		Prompts:               opts.withPrompts,
		MaxAge:                opts.withMaxAge,
		UILocales:             locales,
		ExtraParams:           opts.withExtraParams,
		CreatedAt:             time.Now(),
	}, nil
}

// Type implements the WebRequest interface.
func (r *AuthorizeRequest) Type() WebRequestType { return AuthorizeRequestType }

// State implements the WebRequest interface.
func (r *AuthorizeRequest) State() string { return r.RequestState }

// RedirectURI implements the WebRequest interface.
func (r *AuthorizeRequest) RedirectURI() string { return r.Redirect }

// URL implements the WebRequest interface.
func (r *AuthorizeRequest) URL() (string, error) {
	const op = "AuthorizeRequest.URL"
	u, err := url.Parse(r.AuthorizationEndpoint)
	if err != nil {
		return "", NewError(ErrInvalidParameter, WithOp(op), WithKind(KindConfiguration), WithMsg("invalid authorization endpoint"), WithWrap(err))
	}
	q := u.Query()
	// extra params go first so they can't override the protocol params
	for k, v := range r.ExtraParams {
		q.Set(k, v)
	}
	q.Set("response_type", "code")
	q.Set("client_id", r.ClientID)
	q.Set("redirect_uri", r.Redirect)
	q.Set("scope", strings.Join(r.Scopes, " "))
	q.Set("state", r.RequestState)
	q.Set("nonce", r.Nonce)
	q.Set("code_challenge", r.CodeChallenge)
	q.Set("code_challenge_method", string(r.CodeChallengeMethod))
	if r.LoginHint != "" {
		q.Set("login_hint", r.LoginHint)
	}
	if len(r.Prompts) > 0 {
		prompts := make([]string, 0, len(r.Prompts))
		for _, p := range r.Prompts {
			prompts = append(prompts, string(p))
		}
		q.Set("prompt", strings.Join(prompts, " "))
	}
	if r.MaxAge != nil {
		q.Set("max_age", strconv.FormatUint(uint64(*r.MaxAge), 10))
	}
	if len(r.UILocales) > 0 {
		q.Set("ui_locales", strings.Join(r.UILocales, " "))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Key implements the WebRequest interface.
func (r *AuthorizeRequest) Key() string { return WebRequestKey }

// Encrypt implements the WebRequest interface.  The request carries the
// PKCE verifier.
func (r *AuthorizeRequest) Encrypt() bool { return true }

// Persist implements the WebRequest interface.
func (r *AuthorizeRequest) Persist() (string, error) {
	return persistWebRequest(r)
}

// LogoutRequest is an RP-initiated logout request.
// See: https://openid.net/specs/openid-connect-rpinitiated-1_0.html
type LogoutRequest struct {
	ClientID              string            `json:"client_id"`
	EndSessionEndpoint    string            `json:"end_session_endpoint"`
	PostLogoutRedirectURI string            `json:"post_logout_redirect_uri,omitempty"`
	IDTokenHint           string            `json:"id_token_hint,omitempty"`
	RequestState          string            `json:"state"`
	UILocales             []string          `json:"ui_locales,omitempty"`
	ExtraParams           map[string]string `json:"extra_params,omitempty"`
	CreatedAt             time.Time         `json:"created_at"`
}

// ensure that LogoutRequest implements the WebRequest interface
var _ WebRequest = (*LogoutRequest)(nil)

// NewLogoutRequest creates a LogoutRequest with a fresh state.
//
// Supported options: WithUILocales, WithExtraParams
func NewLogoutRequest(cfg *Config, pc *ProviderConfig, idTokenHint IdToken, opt ...Option) (*LogoutRequest, error) {
	const op = "oidc.NewLogoutRequest"
	switch {
	case cfg == nil:
		return nil, NewError(ErrNilParameter, WithOp(op), WithKind(KindParameterViolation), WithMsg("config is nil"))
	case pc == nil:
		return nil, NewError(ErrNilParameter, WithOp(op), WithKind(KindParameterViolation), WithMsg("provider config is nil"))
	case pc.EndSessionEndpoint == "":
		return nil, NewError(ErrMissingEndpoint, WithOp(op), WithKind(KindConfiguration), WithMsg("end session endpoint is missing"))
	}
	opts := getAuthorizeOpts(opt...)
	state, err := NewState()
	if err != nil {
		return nil, WrapError(err, WithOp(op))
	}
	locales := make([]string, 0, len(opts.withUILocales))
	for _, l := range opts.withUILocales {
		locales = append(locales, l.String())
	}
	return &LogoutRequest{
		ClientID:              cfg.ClientID,
		EndSessionEndpoint:    pc.EndSessionEndpoint,
		PostLogoutRedirectURI: cfg.EndSessionRedirectURI,
		IDTokenHint:           string(idTokenHint),
		RequestState:          state,
		UILocales:             locales,
		ExtraParams:           opts.withExtraParams,
		CreatedAt:             time.Now(),
	}, nil
}

// Type implements the WebRequest interface.
func (r *LogoutRequest) Type() WebRequestType { return LogoutRequestType }

// State implements the WebRequest interface.
func (r *LogoutRequest) State() string { return r.RequestState }

// RedirectURI implements the WebRequest interface.
func (r *LogoutRequest) RedirectURI() string { return r.PostLogoutRedirectURI }

// URL implements the WebRequest interface.
func (r *LogoutRequest) URL() (string, error) {
	const op = "LogoutRequest.URL"
	u, err := url.Parse(r.EndSessionEndpoint)
	if err != nil {
		return "", NewError(ErrInvalidParameter, WithOp(op), WithKind(KindConfiguration), WithMsg("invalid end session endpoint"), WithWrap(err))
	}
	q := u.Query()
	for k, v := range r.ExtraParams {
		q.Set(k, v)
	}
	q.Set("client_id", r.ClientID)
	q.Set("state", r.RequestState)
	if r.IDTokenHint != "" {
		q.Set("id_token_hint", r.IDTokenHint)
	}
	if r.PostLogoutRedirectURI != "" {
		q.Set("post_logout_redirect_uri", r.PostLogoutRedirectURI)
	}
	if len(r.UILocales) > 0 {
		q.Set("ui_locales", strings.Join(r.UILocales, " "))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Key implements the WebRequest interface.
func (r *LogoutRequest) Key() string { return WebRequestKey }

// Encrypt implements the WebRequest interface.  The request carries the
// id_token hint.
func (r *LogoutRequest) Encrypt() bool { return true }

// Persist implements the WebRequest interface.
func (r *LogoutRequest) Persist() (string, error) {
	return persistWebRequest(r)
}

type persistedWebRequest struct {
	Type    WebRequestType  `json:"type"`
	Request json.RawMessage `json:"request"`
}

func persistWebRequest(r WebRequest) (string, error) {
	const op = "oidc.persistWebRequest"
	b, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	out, err := json.Marshal(persistedWebRequest{Type: r.Type(), Request: b})
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return string(out), nil
}

// WebRequestRestorer restores a persisted WebRequest.
type WebRequestRestorer struct{}

// Key is the storage key.
func (WebRequestRestorer) Key() string { return WebRequestKey }

// Encrypted matches WebRequest.Encrypt.
func (WebRequestRestorer) Encrypted() bool { return true }

// Restore parses a persisted web request into its concrete type.
func (WebRequestRestorer) Restore(data string) (WebRequest, error) {
	const op = "WebRequestRestorer.Restore"
	var p persistedWebRequest
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	switch p.Type {
	case AuthorizeRequestType:
		var r AuthorizeRequest
		if err := json.Unmarshal(p.Request, &r); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return &r, nil
	case LogoutRequestType:
		var r LogoutRequest
		if err := json.Unmarshal(p.Request, &r); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return &r, nil
	default:
		return nil, fmt.Errorf("%s: unknown web request type %q: %w", op, p.Type, ErrInvalidParameter)
	}
}

type authorizeOptions struct {
	withScopes         []string
	withLoginHint      string
	withPrompts        []Prompt
	withMaxAge         *uint
	withUILocales      []language.Tag
	withExtraParams    map[string]string
	withVerifierLength int
}

func authorizeDefaults() authorizeOptions {
	return authorizeOptions{withVerifierLength: verifierLen}
}

func getAuthorizeOpts(opt ...Option) authorizeOptions {
	opts := authorizeDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithLoginHint provides a hint about the user's login identifier.
func WithLoginHint(hint string) Option {
	return func(o interface{}) {
		if v, ok := o.(*authorizeOptions); ok {
			v.withLoginHint = hint
		}
	}
}

// WithPrompts provides the prompt values.  Duplicates are removed; "none"
// can't be combined with other values.
func WithPrompts(prompts ...Prompt) Option {
	return func(o interface{}) {
		if v, ok := o.(*authorizeOptions); ok {
			seen := map[Prompt]struct{}{}
			v.withPrompts = v.withPrompts[:0]
			for _, p := range prompts {
				if _, dup := seen[p]; dup {
					continue
				}
				seen[p] = struct{}{}
				v.withPrompts = append(v.withPrompts, p)
			}
		}
	}
}

// WithMaxAge provides the allowable elapsed time in seconds since the user
// last authenticated.
func WithMaxAge(seconds uint) Option {
	return func(o interface{}) {
		if v, ok := o.(*authorizeOptions); ok {
			v.withMaxAge = &seconds
		}
	}
}

// WithUILocales provides the preferred languages of the provider's UI, in
// order of preference.
func WithUILocales(locales ...language.Tag) Option {
	return func(o interface{}) {
		if v, ok := o.(*authorizeOptions); ok {
			v.withUILocales = locales
		}
	}
}

// WithExtraParams provides additional query parameters.  They can't
// override the protocol parameters.
func WithExtraParams(params map[string]string) Option {
	return func(o interface{}) {
		if v, ok := o.(*authorizeOptions); ok {
			v.withExtraParams = params
		}
	}
}
