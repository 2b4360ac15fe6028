// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"bytes"
	"context"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/hashicorp/appauth/sdk/id"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

// TestProviderKeyID is the kid of the TestProvider's signing key.
const TestProviderKeyID = "test-provider-key"

// TestProvider is a local TLS server acting as an OIDC provider for public
// clients using the authorization code flow with PKCE.  It serves discovery,
// authorization, token, revocation, introspection, userinfo, jwks and end
// session endpoints.  Its issuer is its https address.
type TestProvider struct {
	httpServer *httptest.Server
	caCert     string

	jwks       *jose.JSONWebKeySet
	signingKey *rsa.PrivateKey
	publicPEM  string
	privatePEM string

	mu                  sync.Mutex
	clientID            string
	allowedRedirectURIs []string
	subject             string
	userInfo            map[string]interface{}
	customClaims        map[string]interface{}
	customAudience      string
	omitIDToken         bool
	omitRefreshToken    bool
	expiresIn           int64
	authError           *testOAuthError
	tokenError          *testOAuthError
	revokeError         *testOAuthError

	codes         map[string]*testAuthCode
	accessTokens  map[string]bool
	refreshTokens map[string]bool
	revoked       []string
	tokenRequests int
}

type testAuthCode struct {
	challenge   string
	redirectURI string
	nonce       string
}

type testOAuthError struct {
	status      int
	code        string
	description string
}

// StartTestProvider creates a disposable TestProvider.  A zero port picks
// any free port.
func StartTestProvider(t *testing.T, port int) *TestProvider {
	t.Helper()
	require := require.New(t)

	p := &TestProvider{
		clientID:      "test-client-id",
		subject:       "alice@example.com",
		expiresIn:     3600,
		codes:         map[string]*testAuthCode{},
		accessTokens:  map[string]bool{},
		refreshTokens: map[string]bool{},
		userInfo: map[string]interface{}{
			"sub":   "alice@example.com",
			"email": "alice@example.com",
			"name":  "Alice Doe-Smith",
		},
	}
	p.publicPEM, p.privatePEM = TestGenerateKeys(t)
	key, err := parseRSAPrivateKey(p.privatePEM)
	require.NoError(err)
	p.signingKey = key
	p.jwks = &jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{{
			Key:       key.Public(),
			KeyID:     TestProviderKeyID,
			Algorithm: string(jose.RS256),
			Use:       "sig",
		}},
	}

	if port == 0 {
		p.httpServer = httptest.NewUnstartedServer(p)
	} else {
		p.httpServer = httptestNewUnstartedServerWithPort(t, p, port)
	}
	p.httpServer.Config.ErrorLog = log.New(io.Discard, "", 0)
	p.httpServer.StartTLS()
	t.Cleanup(p.httpServer.Close)

	var buf bytes.Buffer
	err = pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: p.httpServer.Certificate().Raw})
	require.NoError(err)
	p.caCert = buf.String()
	return p
}

// Stop stops the running TestProvider.
func (p *TestProvider) Stop() {
	p.httpServer.Close()
}

// Addr returns the provider's address, which is also its issuer.
func (p *TestProvider) Addr() string { return p.httpServer.URL }

// Issuer returns the provider's issuer.
func (p *TestProvider) Issuer() string { return p.httpServer.URL }

// CACert returns the PEM encoded CA cert of the provider's TLS certificate.
func (p *TestProvider) CACert() string { return p.caCert }

// SigningKeys returns the PEM encoded RSA key pair signing id_tokens.
func (p *TestProvider) SigningKeys() (pub, priv string) {
	return p.publicPEM, p.privatePEM
}

// HTTPClient returns a client trusting the provider's certificate which
// doesn't follow redirects.
func (p *TestProvider) HTTPClient() *http.Client {
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM([]byte(p.caCert))
	return &http.Client{
		Transport: &http.Transport{TLSClientConfig: &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}},
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// Authorize plays the part of a user-agent: it requests the authorization
// or end session url and returns the redirect uri the provider sends the
// user back to.
func (p *TestProvider) Authorize(ctx context.Context, authURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, authURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := p.HTTPClient().Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, b)
	}
	return resp.Header.Get("Location"), nil
}

// SetClientID sets the client id the provider accepts.
func (p *TestProvider) SetClientID(clientID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientID = clientID
}

// SetAllowedRedirectURIs sets the redirect uris the provider accepts.  Every
// uri is allowed when none are set.
func (p *TestProvider) SetAllowedRedirectURIs(uris []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allowedRedirectURIs = uris
}

// SetSubject sets the sub of issued id_tokens.
func (p *TestProvider) SetSubject(sub string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subject = sub
}

// SetCustomClaims sets claims added to issued id_tokens.  They override
// the standard claims.
func (p *TestProvider) SetCustomClaims(claims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customClaims = claims
}

// SetCustomAudience overrides the aud of issued id_tokens.
func (p *TestProvider) SetCustomAudience(aud string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customAudience = aud
}

// SetUserInfo sets the claims returned by the userinfo endpoint.
func (p *TestProvider) SetUserInfo(claims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.userInfo = claims
}

// SetExpiresIn sets the expires_in of token responses.
func (p *TestProvider) SetExpiresIn(seconds int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expiresIn = seconds
}

// OmitIDTokens stops the token endpoint from returning id_tokens.
func (p *TestProvider) OmitIDTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitIDToken = true
}

// OmitRefreshTokens stops the refresh grant from rotating refresh tokens.
func (p *TestProvider) OmitRefreshTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitRefreshToken = true
}

// SetAuthError makes the authorization endpoint redirect with the error.
// An empty code clears it.
func (p *TestProvider) SetAuthError(code, description string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.authError = newTestOAuthError(http.StatusFound, code, description)
}

// SetTokenError makes the token endpoint fail with the status and error.
// An empty code clears it.
func (p *TestProvider) SetTokenError(status int, code, description string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenError = newTestOAuthError(status, code, description)
}

// SetRevokeError makes the revocation endpoint fail with the status and
// error.  An empty code clears it.
func (p *TestProvider) SetRevokeError(status int, code, description string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.revokeError = newTestOAuthError(status, code, description)
}

// Revoked returns the tokens revoked so far.
func (p *TestProvider) Revoked() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.revoked...)
}

// TokenRequests returns the number of token endpoint requests served.
func (p *TestProvider) TokenRequests() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tokenRequests
}

func newTestOAuthError(status int, code, description string) *testOAuthError {
	if code == "" {
		return nil
	}
	return &testOAuthError{status: status, code: code, description: description}
}

func (p *TestProvider) writeJSON(w http.ResponseWriter, out interface{}) {
	_ = json.NewEncoder(w).Encode(out)
}

func (p *TestProvider) writeRedirect(w http.ResponseWriter, req *http.Request, redirectURI string, params url.Values) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		p.writeOAuthError(w, http.StatusBadRequest, "invalid_request", "invalid redirect uri")
		return
	}
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	http.Redirect(w, req, u.String(), http.StatusFound)
}

func (p *TestProvider) writeOAuthError(w http.ResponseWriter, status int, code, description string) {
	body := struct {
		Code string `json:"error"`
		Desc string `json:"error_description,omitempty"`
	}{
		Code: code,
		Desc: description,
	}
	w.WriteHeader(status)
	p.writeJSON(w, &body)
}

func (p *TestProvider) redirectAllowed(uri string) bool {
	if len(p.allowedRedirectURIs) == 0 {
		return true
	}
	for _, a := range p.allowedRedirectURIs {
		if a == uri {
			return true
		}
	}
	return false
}

// ServeHTTP implements the test provider's http.Handler.
func (p *TestProvider) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")

	switch req.URL.Path {
	case "/.well-known/openid-configuration", "/.well-known/oauth-authorization-server":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p.writeJSON(w, &ProviderConfig{
			Issuer:                           p.Addr(),
			AuthorizationEndpoint:            p.Addr() + "/auth",
			TokenEndpoint:                    p.Addr() + "/token",
			UserInfoEndpoint:                 p.Addr() + "/userinfo",
			IntrospectionEndpoint:            p.Addr() + "/introspect",
			RevocationEndpoint:               p.Addr() + "/revoke",
			EndSessionEndpoint:               p.Addr() + "/logout",
			JWKSURI:                          p.Addr() + "/certs",
			ScopesSupported:                  []string{"openid", "profile", "email", "offline_access"},
			ResponseTypesSupported:           []string{"code"},
			CodeChallengeMethodsSupported:    []string{string(S256)},
			IDTokenSigningAlgValuesSupported: []string{RS256},
		})

	case "/auth":
		p.serveAuth(w, req)

	case "/token":
		p.serveToken(w, req)

	case "/revoke":
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if p.revokeError != nil {
			p.writeOAuthError(w, p.revokeError.status, p.revokeError.code, p.revokeError.description)
			return
		}
		if req.FormValue("client_id") != p.clientID {
			p.writeOAuthError(w, http.StatusUnauthorized, "invalid_client", "unknown client")
			return
		}
		token := req.FormValue("token")
		delete(p.accessTokens, token)
		delete(p.refreshTokens, token)
		p.revoked = append(p.revoked, token)
		w.WriteHeader(http.StatusOK)

	case "/introspect":
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if req.FormValue("client_id") != p.clientID {
			p.writeOAuthError(w, http.StatusUnauthorized, "invalid_client", "unknown client")
			return
		}
		token := req.FormValue("token")
		if !p.accessTokens[token] && !p.refreshTokens[token] {
			p.writeJSON(w, map[string]interface{}{"active": false})
			return
		}
		p.writeJSON(w, map[string]interface{}{
			"active":    true,
			"client_id": p.clientID,
			"sub":       p.subject,
			"aud":       p.clientID,
			"iss":       p.Addr(),
			"scope":     "openid",
		})

	case "/userinfo":
		if req.Method != http.MethodGet && req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		token := strings.TrimPrefix(req.Header.Get("Authorization"), "Bearer ")
		if !p.accessTokens[token] {
			w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
			p.writeOAuthError(w, http.StatusUnauthorized, "invalid_token", "unknown access token")
			return
		}
		p.writeJSON(w, p.userInfo)

	case "/certs":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p.writeJSON(w, p.jwks)

	case "/logout":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		qv := req.URL.Query()
		redirectURI := qv.Get("post_logout_redirect_uri")
		if redirectURI == "" {
			w.WriteHeader(http.StatusOK)
			return
		}
		p.writeRedirect(w, req, redirectURI, url.Values{"state": {qv.Get("state")}})

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (p *TestProvider) serveAuth(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	qv := req.URL.Query()
	redirectURI := qv.Get("redirect_uri")
	if redirectURI == "" || !p.redirectAllowed(redirectURI) {
		p.writeOAuthError(w, http.StatusBadRequest, "invalid_request", "redirect_uri is not allowed")
		return
	}
	state := qv.Get("state")
	fail := func(code, desc string) {
		params := url.Values{"error": {code}, "state": {state}}
		if desc != "" {
			params.Set("error_description", desc)
		}
		p.writeRedirect(w, req, redirectURI, params)
	}
	switch {
	case p.authError != nil:
		fail(p.authError.code, p.authError.description)
		return
	case qv.Get("response_type") != "code":
		fail("unsupported_response_type", "")
		return
	case qv.Get("client_id") != p.clientID:
		fail("unauthorized_client", "unknown client")
		return
	case state == "":
		fail("invalid_request", "missing state parameter")
		return
	case qv.Get("code_challenge_method") != string(S256) || qv.Get("code_challenge") == "":
		fail("invalid_request", "code challenge required")
		return
	}
	code, err := id.Random(16)
	if err != nil {
		fail("server_error", err.Error())
		return
	}
	p.codes[code] = &testAuthCode{
		challenge:   qv.Get("code_challenge"),
		redirectURI: redirectURI,
		nonce:       qv.Get("nonce"),
	}
	p.writeRedirect(w, req, redirectURI, url.Values{"code": {code}, "state": {state}})
}

func (p *TestProvider) serveToken(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p.tokenRequests++
	if p.tokenError != nil {
		p.writeOAuthError(w, p.tokenError.status, p.tokenError.code, p.tokenError.description)
		return
	}
	if req.FormValue("client_id") != p.clientID {
		p.writeOAuthError(w, http.StatusUnauthorized, "invalid_client", "unknown client")
		return
	}

	var nonce string
	rotate := true
	switch req.FormValue("grant_type") {
	case GrantTypeAuthorizationCode:
		ac, ok := p.codes[req.FormValue("code")]
		if !ok {
			p.writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "unexpected auth code")
			return
		}
		// codes are single use
		delete(p.codes, req.FormValue("code"))
		switch {
		case ac.redirectURI != req.FormValue("redirect_uri"):
			p.writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "redirect_uri does not match")
			return
		case oauth2.S256ChallengeFromVerifier(req.FormValue("code_verifier")) != ac.challenge:
			p.writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "code verifier does not match")
			return
		}
		nonce = ac.nonce
	case GrantTypeRefreshToken:
		if !p.refreshTokens[req.FormValue("refresh_token")] {
			p.writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "unknown refresh token")
			return
		}
		rotate = !p.omitRefreshToken
	default:
		p.writeOAuthError(w, http.StatusBadRequest, "unsupported_grant_type", "")
		return
	}

	access, err := id.Random(32)
	if err != nil {
		p.writeOAuthError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	p.accessTokens[access] = true
	reply := struct {
		AccessToken  string `json:"access_token"`
		TokenType    string `json:"token_type"`
		ExpiresIn    int64  `json:"expires_in,omitempty"`
		RefreshToken string `json:"refresh_token,omitempty"`
		IDToken      string `json:"id_token,omitempty"`
		Scope        string `json:"scope,omitempty"`
	}{
		AccessToken: access,
		TokenType:   "Bearer",
		ExpiresIn:   p.expiresIn,
		Scope:       req.FormValue("scope"),
	}
	if rotate {
		if reply.RefreshToken, err = id.Random(32); err != nil {
			p.writeOAuthError(w, http.StatusInternalServerError, "server_error", err.Error())
			return
		}
		p.refreshTokens[reply.RefreshToken] = true
	}
	if !p.omitIDToken {
		if reply.IDToken, err = p.idToken(nonce); err != nil {
			p.writeOAuthError(w, http.StatusInternalServerError, "server_error", err.Error())
			return
		}
	}
	p.writeJSON(w, &reply)
}

func (p *TestProvider) idToken(nonce string) (string, error) {
	now := time.Now()
	claims := jwt.Claims{
		Subject:   p.subject,
		Issuer:    p.Addr(),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now.Add(-5 * time.Second)),
		Expiry:    jwt.NewNumericDate(now.Add(5 * time.Minute)),
		Audience:  jwt.Audience{p.clientID},
	}
	if p.customAudience != "" {
		claims.Audience = jwt.Audience{p.customAudience}
	}
	private := map[string]interface{}{}
	if nonce != "" {
		private["nonce"] = nonce
	}
	for k, v := range p.customClaims {
		private[k] = v
	}
	return signJWT(p.signingKey, TestProviderKeyID, claims, private)
}

// httptestNewUnstartedServerWithPort is roughly the same as
// httptest.NewUnstartedServer() but allows the caller to explicitly choose the
// port if desired.
func httptestNewUnstartedServerWithPort(t *testing.T, handler http.Handler, port int) *httptest.Server {
	t.Helper()
	require := require.New(t)
	require.NotEmpty(port)

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	l, err := net.Listen("tcp", addr)
	require.NoError(err)

	return &httptest.Server{
		Listener: l,
		Config:   &http.Server{Handler: handler},
	}
}
