// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func testConfig(t *testing.T, opt ...Option) (*Config, *ProviderConfig) {
	t.Helper()
	custom := &CustomConfiguration{
		Issuer:                "https://as.example.com",
		AuthorizationEndpoint: "https://as.example.com/auth?tenant=1",
		TokenEndpoint:         "https://as.example.com/token",
		EndSessionEndpoint:    "https://as.example.com/logout",
		RevocationEndpoint:    "https://as.example.com/revoke",
	}
	opts := append([]Option{
		WithCustomConfiguration(custom),
		WithScopes("openid", "email"),
		WithEndSessionRedirectURI("com.example.app:/logout"),
	}, opt...)
	cfg, err := NewConfig("client-id", "com.example.app:/callback", opts...)
	require.NoError(t, err)
	return cfg, custom.ProviderConfig()
}

func TestNewAuthorizeRequest(t *testing.T) {
	t.Parallel()
	cfg, pc := testConfig(t)

	t.Run("defaults", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		r, err := NewAuthorizeRequest(cfg, pc)
		require.NoError(err)
		assert.Equal(AuthorizeRequestType, r.Type())
		assert.Equal("com.example.app:/callback", r.RedirectURI())
		assert.NotEqual(r.State(), r.Nonce)
		assert.NoError(ValidateCodeVerifier(r.CodeVerifier))
		assert.Equal(S256, r.CodeChallengeMethod)
		assert.True(r.Encrypt())
		assert.Equal(WebRequestKey, r.Key())

		raw, err := r.URL()
		require.NoError(err)
		u, err := url.Parse(raw)
		require.NoError(err)
		assert.Equal("as.example.com", u.Host)
		assert.Equal("/auth", u.Path)
		q := u.Query()
		assert.Equal("1", q.Get("tenant"))
		assert.Equal("code", q.Get("response_type"))
		assert.Equal("client-id", q.Get("client_id"))
		assert.Equal("com.example.app:/callback", q.Get("redirect_uri"))
		assert.Equal("openid email", q.Get("scope"))
		assert.Equal(r.RequestState, q.Get("state"))
		assert.Equal(r.Nonce, q.Get("nonce"))
		assert.Equal(r.CodeChallenge, q.Get("code_challenge"))
		assert.Equal("S256", q.Get("code_challenge_method"))
		assert.False(q.Has("prompt"))
		assert.False(q.Has("max_age"))
		assert.False(q.Has("code_verifier"))
	})
	t.Run("options", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		r, err := NewAuthorizeRequest(cfg, pc,
			WithScopes("openid", "offline_access"),
			WithLoginHint("alice@example.com"),
			WithPrompts(Login, Consent, Login),
			WithMaxAge(0),
			WithUILocales(language.AmericanEnglish, language.French),
			WithExtraParams(map[string]string{"audience": "api", "state": "evil"}),
			WithVerifierLength(MaxVerifierBytes),
		)
		require.NoError(err)
		assert.Len(r.CodeVerifier, 128)

		raw, err := r.URL()
		require.NoError(err)
		u, err := url.Parse(raw)
		require.NoError(err)
		q := u.Query()
		assert.Equal("openid offline_access", q.Get("scope"))
		assert.Equal("alice@example.com", q.Get("login_hint"))
		assert.Equal("login consent", q.Get("prompt"))
		assert.Equal("0", q.Get("max_age"))
		assert.Equal("en-US fr", q.Get("ui_locales"))
		assert.Equal("api", q.Get("audience"))
		assert.Equal(r.RequestState, q.Get("state"))
		assert.Len(q["state"], 1)
	})
	t.Run("prompt-none-alone", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		_, err := NewAuthorizeRequest(cfg, pc, WithPrompts(None, Login))
		require.Error(err)
		assert.ErrorIs(err, ErrInvalidParameter)

		_, err = NewAuthorizeRequest(cfg, pc, WithPrompts(None))
		require.NoError(err)
	})
	t.Run("errors", func(t *testing.T) {
		t.Parallel()
		assert := assert.New(t)
		_, err := NewAuthorizeRequest(nil, pc)
		assert.ErrorIs(err, ErrNilParameter)
		_, err = NewAuthorizeRequest(cfg, nil)
		assert.ErrorIs(err, ErrNilParameter)
		_, err = NewAuthorizeRequest(cfg, &ProviderConfig{})
		assert.ErrorIs(err, ErrMissingEndpoint)
	})
	t.Run("unique-state", func(t *testing.T) {
		t.Parallel()
		require := require.New(t)
		seen := map[string]bool{}
		for i := 0; i < 50; i++ {
			r, err := NewAuthorizeRequest(cfg, pc)
			require.NoError(err)
			require.False(seen[r.State()])
			seen[r.State()] = true
		}
	})
}

func TestNewLogoutRequest(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	cfg, pc := testConfig(t)

	r, err := NewLogoutRequest(cfg, pc, IdToken("header.claims.sig"), WithUILocales(language.German))
	require.NoError(err)
	assert.Equal(LogoutRequestType, r.Type())
	assert.Equal("com.example.app:/logout", r.RedirectURI())
	assert.NotEmpty(r.State())

	raw, err := r.URL()
	require.NoError(err)
	u, err := url.Parse(raw)
	require.NoError(err)
	q := u.Query()
	assert.Equal("header.claims.sig", q.Get("id_token_hint"))
	assert.Equal("com.example.app:/logout", q.Get("post_logout_redirect_uri"))
	assert.Equal(r.State(), q.Get("state"))
	assert.Equal("de", q.Get("ui_locales"))

	_, err = NewLogoutRequest(cfg, &ProviderConfig{}, "")
	require.Error(err)
	assert.ErrorIs(err, ErrMissingEndpoint)
	assert.ErrorIs(err, KindConfiguration)
}

func TestWebRequestRestorer(t *testing.T) {
	t.Parallel()
	cfg, pc := testConfig(t)
	authz, err := NewAuthorizeRequest(cfg, pc, WithLoginHint("alice"), WithMaxAge(60))
	require.NoError(t, err)
	logout, err := NewLogoutRequest(cfg, pc, "id-token")
	require.NoError(t, err)

	tests := []struct {
		name string
		req  WebRequest
	}{
		{name: "authorize", req: authz},
		{name: "logout", req: logout},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			data, err := tt.req.Persist()
			require.NoError(err)
			got, err := WebRequestRestorer{}.Restore(data)
			require.NoError(err)
			assert.Equal(tt.req.Type(), got.Type())
			assert.Equal(tt.req.State(), got.State())
			wantURL, err := tt.req.URL()
			require.NoError(err)
			gotURL, err := got.URL()
			require.NoError(err)
			assert.Equal(wantURL, gotURL)
		})
	}
	t.Run("invalid", func(t *testing.T) {
		t.Parallel()
		assert := assert.New(t)
		_, err := WebRequestRestorer{}.Restore("not json")
		assert.Error(err)
		_, err = WebRequestRestorer{}.Restore(`{"type":"unknown","request":{}}`)
		assert.ErrorIs(err, ErrInvalidParameter)
		assert.True(strings.Contains(err.Error(), "unknown"))
	})
}
