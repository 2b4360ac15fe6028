// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	apphttp "github.com/hashicorp/appauth/sdk/http"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/oauth2"
)

// TokenTypeHint is the token_type_hint of revocation and introspection
// requests.
type TokenTypeHint string

const (
	AccessTokenHint  TokenTypeHint = "access_token"
	RefreshTokenHint TokenTypeHint = "refresh_token"
)

const formContentType = "application/x-www-form-urlencoded"

// TokenClient makes requests to a provider's token, revocation,
// introspection and userinfo endpoints on behalf of a public client.
type TokenClient struct {
	clientID       string
	transport      apphttp.Transport
	logger         hclog.Logger
	now            func() time.Time
	connectTimeout time.Duration
	readTimeout    time.Duration
}

// NewTokenClient creates a TokenClient for the client id.
//
// Supported options: WithLogger, WithNow, WithTimeouts
func NewTokenClient(clientID string, t apphttp.Transport, opt ...Option) (*TokenClient, error) {
	const op = "oidc.NewTokenClient"
	switch {
	case clientID == "":
		return nil, NewError(ErrInvalidParameter, WithOp(op), WithKind(KindParameterViolation), WithMsg("client id is empty"))
	case t == nil:
		return nil, NewError(ErrNilParameter, WithOp(op), WithKind(KindParameterViolation), WithMsg("transport is nil"))
	}
	opts := getTokenClientOpts(opt...)
	return &TokenClient{
		clientID:       clientID,
		transport:      t,
		logger:         opts.withLogger,
		now:            opts.withNow,
		connectTimeout: opts.withConnectTimeout,
		readTimeout:    opts.withReadTimeout,
	}, nil
}

// Exchange trades the code of resp for tokens, proving possession of the
// request's code verifier.
func (c *TokenClient) Exchange(ctx context.Context, pc *ProviderConfig, req *AuthorizeRequest, resp *AuthorizeResponse) (*TokenResponse, error) {
	const op = "TokenClient.Exchange"
	switch {
	case pc == nil:
		return nil, NewError(ErrNilParameter, WithOp(op), WithKind(KindParameterViolation), WithMsg("provider config is nil"))
	case req == nil:
		return nil, NewError(ErrNilParameter, WithOp(op), WithKind(KindParameterViolation), WithMsg("authorize request is nil"))
	case resp == nil:
		return nil, NewError(ErrNilParameter, WithOp(op), WithKind(KindParameterViolation), WithMsg("authorize response is nil"))
	case resp.Code == "":
		return nil, NewError(ErrInvalidParameter, WithOp(op), WithKind(KindParameterViolation), WithMsg("authorization code is empty"))
	}
	form := url.Values{
		"grant_type":    {GrantTypeAuthorizationCode},
		"code":          {resp.Code},
		"code_verifier": {req.CodeVerifier},
		"client_id":     {c.clientID},
		"redirect_uri":  {req.Redirect},
	}
	tr, err := c.tokenRequest(ctx, pc, form)
	if err != nil {
		return nil, WrapError(err, WithOp(op))
	}
	return tr, nil
}

// Refresh requests new tokens with the refresh token.  Scopes are optional.
// The caller merges the response into the current one, see
// TokenResponse.Merge.
func (c *TokenClient) Refresh(ctx context.Context, pc *ProviderConfig, refreshToken RefreshToken, scopes []string) (*TokenResponse, error) {
	const op = "TokenClient.Refresh"
	switch {
	case pc == nil:
		return nil, NewError(ErrNilParameter, WithOp(op), WithKind(KindParameterViolation), WithMsg("provider config is nil"))
	case refreshToken == "":
		return nil, NewError(ErrInvalidParameter, WithOp(op), WithKind(KindParameterViolation), WithMsg("refresh token is empty"))
	}
	form := url.Values{
		"grant_type":    {GrantTypeRefreshToken},
		"refresh_token": {string(refreshToken)},
		"client_id":     {c.clientID},
	}
	if len(scopes) > 0 {
		form.Set("scope", strings.Join(scopes, " "))
	}
	tr, err := c.tokenRequest(ctx, pc, form)
	if err != nil {
		return nil, WrapError(err, WithOp(op))
	}
	return tr, nil
}

func (c *TokenClient) tokenRequest(ctx context.Context, pc *ProviderConfig, form url.Values) (*TokenResponse, error) {
	const op = "TokenClient.tokenRequest"
	if pc.TokenEndpoint == "" {
		return nil, NewError(ErrMissingEndpoint, WithOp(op), WithKind(KindConfiguration), WithMsg("token endpoint is missing"))
	}
	c.logger.Debug("token request", "endpoint", pc.TokenEndpoint, "grant_type", form.Get("grant_type"))
	status, body, err := c.post(ctx, pc.TokenEndpoint, form, nil)
	if err != nil {
		return nil, WrapError(err, WithOp(op))
	}
	if !success(status) {
		return nil, oauthError(op, ErrTokenRequestFailed, status, body)
	}
	var tr TokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, NewError(ErrMalformedResponse, WithOp(op), WithKind(KindJSONDeserialization), WithMsg("unable to parse token response"), WithWrap(err))
	}
	if tr.AccessToken == "" {
		return nil, NewError(ErrMalformedResponse, WithOp(op), WithKind(KindJSONDeserialization), WithMsg("token response has no access_token"))
	}
	tr.IssuedAt = c.now()
	return &tr, nil
}

// Revoke asks the provider to revoke the token.  It returns true when the
// provider acknowledged the revocation.
func (c *TokenClient) Revoke(ctx context.Context, pc *ProviderConfig, token string, hint TokenTypeHint) (bool, error) {
	const op = "TokenClient.Revoke"
	switch {
	case pc == nil:
		return false, NewError(ErrNilParameter, WithOp(op), WithKind(KindParameterViolation), WithMsg("provider config is nil"))
	case pc.RevocationEndpoint == "":
		return false, NewError(ErrMissingEndpoint, WithOp(op), WithKind(KindConfiguration), WithMsg("revocation endpoint is missing"))
	case token == "":
		return false, NewError(ErrInvalidParameter, WithOp(op), WithKind(KindParameterViolation), WithMsg("token is empty"))
	}
	form := url.Values{
		"token":     {token},
		"client_id": {c.clientID},
	}
	if hint != "" {
		form.Set("token_type_hint", string(hint))
	}
	status, body, err := c.post(ctx, pc.RevocationEndpoint, form, nil)
	if err != nil {
		return false, WrapError(err, WithOp(op))
	}
	if !success(status) {
		return false, oauthError(op, ErrTokenRequestFailed, status, body)
	}
	c.logger.Debug("token revoked", "hint", hint)
	return true, nil
}

// IntrospectResponse is the response of the introspection endpoint.  Claims
// holds every member of the response.
type IntrospectResponse struct {
	Active    bool     `json:"active"`
	Scope     string   `json:"scope,omitempty"`
	ClientID  string   `json:"client_id,omitempty"`
	Username  string   `json:"username,omitempty"`
	TokenType string   `json:"token_type,omitempty"`
	Exp       int64    `json:"exp,omitempty"`
	Iat       int64    `json:"iat,omitempty"`
	Nbf       int64    `json:"nbf,omitempty"`
	Sub       string   `json:"sub,omitempty"`
	Aud       Audience `json:"aud,omitempty"`
	Iss       string   `json:"iss,omitempty"`
	Jti       string   `json:"jti,omitempty"`

	Claims map[string]interface{} `json:"-"`
}

// Audience is a string or a list of strings.
type Audience []string

// UnmarshalJSON accepts a string or a list of strings.
func (a *Audience) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*a = Audience{s}
		return nil
	}
	var l []string
	if err := json.Unmarshal(b, &l); err != nil {
		return err
	}
	*a = l
	return nil
}

// Introspect asks the provider about the state of the token.
func (c *TokenClient) Introspect(ctx context.Context, pc *ProviderConfig, token string, hint TokenTypeHint) (*IntrospectResponse, error) {
	const op = "TokenClient.Introspect"
	switch {
	case pc == nil:
		return nil, NewError(ErrNilParameter, WithOp(op), WithKind(KindParameterViolation), WithMsg("provider config is nil"))
	case pc.IntrospectionEndpoint == "":
		return nil, NewError(ErrMissingEndpoint, WithOp(op), WithKind(KindConfiguration), WithMsg("introspection endpoint is missing"))
	case token == "":
		return nil, NewError(ErrInvalidParameter, WithOp(op), WithKind(KindParameterViolation), WithMsg("token is empty"))
	}
	form := url.Values{
		"token":     {token},
		"client_id": {c.clientID},
	}
	if hint != "" {
		form.Set("token_type_hint", string(hint))
	}
	status, body, err := c.post(ctx, pc.IntrospectionEndpoint, form, nil)
	if err != nil {
		return nil, WrapError(err, WithOp(op))
	}
	if !success(status) {
		return nil, oauthError(op, ErrTokenRequestFailed, status, body)
	}
	var ir IntrospectResponse
	if err := json.Unmarshal(body, &ir); err != nil {
		return nil, NewError(ErrMalformedResponse, WithOp(op), WithKind(KindJSONDeserialization), WithMsg("unable to parse introspection response"), WithWrap(err))
	}
	if err := json.Unmarshal(body, &ir.Claims); err != nil {
		return nil, NewError(ErrMalformedResponse, WithOp(op), WithKind(KindJSONDeserialization), WithMsg("unable to parse introspection response"), WithWrap(err))
	}
	return &ir, nil
}

// UserInfo fetches the claims of the userinfo endpoint with the access token.
func (c *TokenClient) UserInfo(ctx context.Context, pc *ProviderConfig, accessToken AccessToken) (map[string]interface{}, error) {
	const op = "TokenClient.UserInfo"
	switch {
	case pc == nil:
		return nil, NewError(ErrNilParameter, WithOp(op), WithKind(KindParameterViolation), WithMsg("provider config is nil"))
	case pc.UserInfoEndpoint == "":
		return nil, NewError(ErrMissingEndpoint, WithOp(op), WithKind(KindConfiguration), WithMsg("userinfo endpoint is missing"))
	}
	resp, err := c.AuthorizedRequest(ctx, pc.UserInfoEndpoint, http.MethodGet, nil, accessToken)
	if err != nil {
		return nil, WrapError(err, WithOp(op))
	}
	if !success(resp.StatusCode) {
		return nil, oauthError(op, ErrTokenRequestFailed, resp.StatusCode, resp.Body)
	}
	var claims map[string]interface{}
	if err := json.Unmarshal(resp.Body, &claims); err != nil {
		return nil, NewError(ErrMalformedResponse, WithOp(op), WithKind(KindJSONDeserialization), WithMsg("unable to parse userinfo response"), WithWrap(err))
	}
	return claims, nil
}

// AuthorizedResponse is the response of an AuthorizedRequest.
type AuthorizedResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// AuthorizedRequest calls a protected resource with the access token as a
// bearer token.  GET params are sent in the query, other methods send them
// form encoded.  Any status is returned as a response; only failing to make
// the request is an error.
func (c *TokenClient) AuthorizedRequest(ctx context.Context, uri, method string, params url.Values, accessToken AccessToken) (*AuthorizedResponse, error) {
	const op = "TokenClient.AuthorizedRequest"
	switch {
	case uri == "":
		return nil, NewError(ErrInvalidParameter, WithOp(op), WithKind(KindParameterViolation), WithMsg("uri is empty"))
	case accessToken == "":
		return nil, NewError(ErrInvalidParameter, WithOp(op), WithKind(KindParameterViolation), WithMsg("access token is empty"))
	}
	if method == "" {
		method = http.MethodGet
	}
	header := bearerHeader(accessToken)
	var body []byte
	if len(params) > 0 {
		if method == http.MethodGet {
			u, err := url.Parse(uri)
			if err != nil {
				return nil, NewError(ErrInvalidParameter, WithOp(op), WithKind(KindParameterViolation), WithMsg("invalid uri"), WithWrap(err))
			}
			q := u.Query()
			for k, vs := range params {
				for _, v := range vs {
					q.Add(k, v)
				}
			}
			u.RawQuery = q.Encode()
			uri = u.String()
		} else {
			header.Set("Content-Type", formContentType)
			body = []byte(params.Encode())
		}
	}
	status, respHeader, respBody, err := c.do(ctx, uri, method, header, body)
	if err != nil {
		return nil, WrapError(err, WithOp(op))
	}
	return &AuthorizedResponse{StatusCode: status, Header: respHeader, Body: respBody}, nil
}

// bearerHeader returns a header carrying the access token the way
// oauth2.Token sets it on a request.
func bearerHeader(t AccessToken) http.Header {
	req := &http.Request{Header: make(http.Header)}
	(&oauth2.Token{AccessToken: string(t), TokenType: "Bearer"}).SetAuthHeader(req)
	return req.Header
}

func (c *TokenClient) post(ctx context.Context, uri string, form url.Values, header http.Header) (int, []byte, error) {
	if header == nil {
		header = make(http.Header)
	}
	header.Set("Content-Type", formContentType)
	status, _, body, err := c.do(ctx, uri, http.MethodPost, header, []byte(form.Encode()))
	return status, body, err
}

// do makes a request with the common headers and reads the whole response.
func (c *TokenClient) do(ctx context.Context, uri, method string, header http.Header, body []byte) (int, http.Header, []byte, error) {
	const op = "TokenClient.do"
	if header == nil {
		header = make(http.Header)
	}
	header.Set("User-Agent", UserAgent())
	header.Set("Accept", "application/json")
	resp, err := c.transport.Connect(ctx, uri, &apphttp.ConnectParams{
		Method:         method,
		Header:         header,
		Body:           body,
		ConnectTimeout: c.connectTimeout,
		ReadTimeout:    c.readTimeout,
	})
	if err != nil {
		return 0, nil, nil, NewError(ErrTransportFailed, WithOp(op), WithKind(transportKind(ctx, err)), WithWrap(err))
	}
	defer resp.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return 0, nil, nil, NewError(ErrTransportFailed, WithOp(op), WithKind(transportKind(ctx, err)), WithMsg("unable to read response"), WithWrap(err))
	}
	return resp.StatusCode, resp.Header, b, nil
}

func success(status int) bool {
	return status >= 200 && status <= 299
}

// oauthError builds a KindOAuthToken error from an error response, keeping
// the provider's error and error_description when the body has them.
func oauthError(op string, code error, status int, body []byte) error {
	var e struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	_ = json.Unmarshal(body, &e)
	opts := []Option{WithOp(op), WithKind(KindOAuthToken), WithMsg(fmt.Sprintf("status %d", status))}
	if e.Error != "" {
		opts = append(opts, WithOAuthError(e.Error, e.ErrorDescription))
	} else if len(body) > 0 {
		opts = append(opts, WithMsg(fmt.Sprintf("status %d: %s", status, truncate(body))))
	}
	return NewError(code, opts...)
}

type tokenClientOptions struct {
	withLogger         hclog.Logger
	withNow            func() time.Time
	withConnectTimeout time.Duration
	withReadTimeout    time.Duration
}

func tokenClientDefaults() tokenClientOptions {
	return tokenClientOptions{
		withLogger:         hclog.NewNullLogger(),
		withNow:            time.Now,
		withConnectTimeout: DefaultConnectTimeout,
		withReadTimeout:    DefaultReadTimeout,
	}
}

func getTokenClientOpts(opt ...Option) tokenClientOptions {
	opts := tokenClientDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}
