// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package client

import (
	"context"
	"errors"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/appauth/encryption"
	"github.com/hashicorp/appauth/oidc"
	"github.com/hashicorp/appauth/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAppID  = "com.example.app"
	testScheme = "com.example.app"
)

type testEnv struct {
	tp    *oidc.TestProvider
	cfg   *oidc.Config
	mem   *storage.MemoryStorage
	store *storage.SecureStore
}

// testSetup starts a provider and an empty store for a client registered
// with it.
func testSetup(t *testing.T) *testEnv {
	t.Helper()
	require := require.New(t)
	tp := oidc.StartTestProvider(t, 0)
	cfg, err := oidc.NewConfig(
		"test-client-id",
		testScheme+":/callback",
		oidc.WithIssuer(tp.Issuer()),
		oidc.WithScopes("openid", "offline_access"),
		oidc.WithEndSessionRedirectURI(testScheme+":/logout"),
		oidc.WithProviderCA(tp.CACert()),
	)
	require.NoError(err)
	mem := storage.NewMemoryStorage()
	store, err := storage.NewSecureStore(mem, encryption.NewPlainManager())
	require.NoError(err)
	return &testEnv{tp: tp, cfg: cfg, mem: mem, store: store}
}

func (e *testEnv) controller(t *testing.T, ua UserAgent, opt ...Option) *Controller {
	t.Helper()
	opts := append([]Option{
		WithAppID(testAppID),
		WithHandlerResolver(StaticHandlerResolver{{AppID: testAppID, Scheme: testScheme}}),
	}, opt...)
	c, err := NewController(e.cfg, e.store, ua, opts...)
	require.NoError(t, err)
	return c
}

func (e *testEnv) storedTokens(t *testing.T) *oidc.TokenResponse {
	t.Helper()
	tr, err := storage.Get(context.Background(), e.store, oidc.TokenResponseRestorer{})
	require.NoError(t, err)
	return tr
}

func (e *testEnv) storedWebRequest(t *testing.T) oidc.WebRequest {
	t.Helper()
	wr, err := storage.Get(context.Background(), e.store, oidc.WebRequestRestorer{})
	require.NoError(t, err)
	return wr
}

// testAgent is a user-agent which follows the launched url at the test
// provider and reports the redirect, optionally rewritten.
type testAgent struct {
	tp       *oidc.TestProvider
	rewrite  func(string) string
	launches atomic.Int32
}

func (a *testAgent) Launch(ctx context.Context, r *LaunchRequest) error {
	a.launches.Add(1)
	go func() {
		redirect, err := a.tp.Authorize(ctx, r.URL)
		if err != nil {
			_ = r.Respond(Failure(err))
			return
		}
		if a.rewrite != nil {
			redirect = a.rewrite(redirect)
		}
		_ = r.Respond(Success(redirect))
	}()
	return nil
}

// blockingAgent never reports a result on its own.
type blockingAgent struct {
	launched chan *LaunchRequest
}

func newBlockingAgent() *blockingAgent {
	return &blockingAgent{launched: make(chan *LaunchRequest, 1)}
}

func (a *blockingAgent) Launch(_ context.Context, r *LaunchRequest) error {
	a.launched <- r
	return nil
}

func (a *blockingAgent) waitLaunch(t *testing.T) *LaunchRequest {
	t.Helper()
	select {
	case r := <-a.launched:
		return r
	case <-time.After(5 * time.Second):
		require.FailNow(t, "user-agent was not launched")
		return nil
	}
}

func withState(state string) func(string) string {
	return func(redirect string) string {
		u, _ := url.Parse(redirect)
		q := u.Query()
		q.Set("state", state)
		u.RawQuery = q.Encode()
		return u.String()
	}
}

func TestNewController(t *testing.T) {
	t.Parallel()
	env := testSetup(t)
	ua := &testAgent{tp: env.tp}

	tests := []struct {
		name    string
		cfg     *oidc.Config
		store   *storage.SecureStore
		ua      UserAgent
		wantErr error
	}{
		{name: "valid", cfg: env.cfg, store: env.store, ua: ua},
		{name: "nil-config", store: env.store, ua: ua, wantErr: ErrNilParameter},
		{name: "nil-store", cfg: env.cfg, ua: ua, wantErr: ErrNilParameter},
		{name: "nil-user-agent", cfg: env.cfg, store: env.store, wantErr: ErrNilParameter},
		{name: "invalid-config", cfg: &oidc.Config{ClientID: "id"}, store: env.store, ua: ua, wantErr: oidc.ErrInvalidParameter},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			c, err := NewController(tt.cfg, tt.store, tt.ua)
			if tt.wantErr != nil {
				require.Error(err)
				assert.ErrorIs(err, tt.wantErr)
				assert.Nil(c)
				return
			}
			require.NoError(err)
			assert.Equal(Idle, c.State())
			assert.Equal(NoOutcome, c.LastOutcome())
			assert.Equal(tt.cfg.ClientID, c.appID)
		})
	}
}

func TestController_SignIn(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("authorized", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		env := testSetup(t)
		c := env.controller(t, &testAgent{tp: env.tp})

		tokens, err := c.SignIn(ctx)
		require.NoError(err)
		assert.False(tokens.IsAccessTokenExpired())
		assert.NotEmpty(tokens.IdToken())
		assert.NotEmpty(tokens.RefreshToken())
		assert.Equal(Idle, c.State())
		assert.Equal(Authorized, c.LastOutcome())

		stored := env.storedTokens(t)
		require.NotNil(stored)
		assert.Equal(tokens.AccessToken(), stored.AccessToken)
		assert.Nil(env.storedWebRequest(t))
		pc, err := storage.Get(ctx, env.store, oidc.ProviderConfigRestorer{})
		require.NoError(err)
		require.NotNil(pc)
		assert.Equal(env.tp.Issuer(), pc.Issuer)
		assert.True(c.IsAuthenticated(ctx))
	})

	t.Run("signature-verification", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		env := testSetup(t)
		c := env.controller(t, &testAgent{tp: env.tp}, WithSignatureVerification())
		_, err := c.SignIn(ctx)
		require.NoError(err)
		assert.Equal(Authorized, c.LastOutcome())
	})

	t.Run("custom-validator", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		env := testSetup(t)
		var got oidc.ValidationParams
		rejected := errors.New("rejected")
		c := env.controller(t, &testAgent{tp: env.tp}, WithIDTokenValidator(oidc.ValidatorFunc(
			func(_ context.Context, _ *oidc.ParsedIdToken, p oidc.ValidationParams) error {
				got = p
				return rejected
			})))
		_, err := c.SignIn(ctx)
		require.Error(err)
		assert.ErrorIs(err, rejected)
		assert.Equal(Failed, c.LastOutcome())
		assert.Equal(env.tp.Issuer(), got.Issuer)
		assert.Equal("test-client-id", got.ClientID)
		assert.NotEmpty(got.Nonce)
		assert.Equal(oidc.GrantTypeAuthorizationCode, got.GrantType)
		assert.Nil(env.storedTokens(t))
	})

	t.Run("expired-id-token", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		env := testSetup(t)
		later := func() time.Time { return time.Now().Add(6 * time.Minute) }
		c := env.controller(t, &testAgent{tp: env.tp}, WithNow(later))
		_, err := c.SignIn(ctx)
		require.Error(err)
		assert.ErrorIs(err, oidc.KindIdTokenValidation)
		assert.ErrorIs(err, oidc.ErrExpiredToken)
		assert.Equal(Failed, c.LastOutcome())
		assert.Nil(env.storedTokens(t))
		assert.Nil(env.storedWebRequest(t))
	})

	t.Run("missing-id-token", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		env := testSetup(t)
		env.tp.OmitIDTokens()
		c := env.controller(t, &testAgent{tp: env.tp})
		_, err := c.SignIn(ctx)
		require.Error(err)
		assert.ErrorIs(err, oidc.ErrMissingIdToken)
		assert.Nil(env.storedTokens(t))
	})

	t.Run("state-mismatch", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		env := testSetup(t)
		c := env.controller(t, &testAgent{tp: env.tp, rewrite: withState("S2")})
		_, err := c.SignIn(ctx)
		require.Error(err)
		assert.ErrorIs(err, oidc.KindStateMismatch)
		assert.Equal(oidc.KindStateMismatch, oidc.KindOf(err))
		assert.Equal(Failed, c.LastOutcome())
		assert.Nil(env.storedWebRequest(t))
		assert.Nil(env.storedTokens(t))
		assert.Equal(0, env.tp.TokenRequests())
	})

	t.Run("authorization-error", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		env := testSetup(t)
		env.tp.SetAuthError("access_denied", "user said no")
		c := env.controller(t, &testAgent{tp: env.tp})
		_, err := c.SignIn(ctx)
		require.Error(err)
		assert.ErrorIs(err, oidc.KindAuthorization)
		var oerr *oidc.Err
		require.ErrorAs(err, &oerr)
		assert.Equal("access_denied", oerr.OAuthError)
		assert.Equal("user said no", oerr.OAuthDescription)
	})

	t.Run("token-error", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		env := testSetup(t)
		env.tp.SetTokenError(400, "invalid_grant", "")
		c := env.controller(t, &testAgent{tp: env.tp})
		_, err := c.SignIn(ctx)
		require.Error(err)
		assert.ErrorIs(err, oidc.KindOAuthToken)
		assert.Nil(env.storedTokens(t))
	})

	t.Run("ambiguous-redirect-handler", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		env := testSetup(t)
		ua := &testAgent{tp: env.tp}
		c := env.controller(t, ua, WithHandlerResolver(StaticHandlerResolver{
			{AppID: testAppID, Scheme: testScheme},
			{AppID: "com.evil.app", Scheme: testScheme},
		}))
		_, err := c.SignIn(ctx)
		require.Error(err)
		assert.ErrorIs(err, oidc.KindInvalidRedirectURI)
		assert.ErrorIs(err, oidc.ErrInvalidRedirectURI)
		assert.Equal(int32(0), ua.launches.Load())
		assert.Equal(0, env.mem.Len())
	})

	t.Run("foreign-redirect-handler", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		env := testSetup(t)
		ua := &testAgent{tp: env.tp}
		c := env.controller(t, ua, WithHandlerResolver(StaticHandlerResolver{{AppID: "com.evil.app", Scheme: testScheme}}))
		_, err := c.SignIn(ctx)
		require.Error(err)
		assert.ErrorIs(err, oidc.KindInvalidRedirectURI)
		assert.Equal(int32(0), ua.launches.Load())
		assert.Equal(0, env.mem.Len())
	})

	t.Run("user-agent-canceled", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		env := testSetup(t)
		ua := UserAgentFunc(func(_ context.Context, r *LaunchRequest) error {
			go func() { _ = r.Respond(Canceled()) }()
			return nil
		})
		c := env.controller(t, ua)
		_, err := c.SignIn(ctx)
		require.Error(err)
		assert.ErrorIs(err, oidc.KindUserCanceled)
		assert.Equal(Canceled, c.LastOutcome())
		assert.Nil(env.storedTokens(t))
		assert.Nil(env.storedWebRequest(t))
	})

	t.Run("user-agent-launch-failure", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		env := testSetup(t)
		ua := UserAgentFunc(func(context.Context, *LaunchRequest) error {
			return errors.New("no browser")
		})
		c := env.controller(t, ua)
		_, err := c.SignIn(ctx)
		require.Error(err)
		assert.ErrorIs(err, ErrUserAgentFailed)
		assert.Equal(Failed, c.LastOutcome())
		assert.Nil(env.storedWebRequest(t))
	})

	t.Run("discovery-failure", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		env := testSetup(t)
		env.tp.Stop()
		c := env.controller(t, &testAgent{tp: env.tp})
		_, err := c.SignIn(ctx)
		require.Error(err)
		assert.Equal(oidc.KindConfiguration, oidc.KindOf(err))
		assert.Equal(Failed, c.LastOutcome())
	})
}

func TestController_SignIn_Concurrency(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("second-sign-in-rejected", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		env := testSetup(t)
		ua := newBlockingAgent()
		c := env.controller(t, ua)

		errCh := make(chan error, 1)
		go func() {
			_, err := c.SignIn(ctx)
			errCh <- err
		}()
		r := ua.waitLaunch(t)
		assert.Equal(SignInRequest, c.State())

		_, err := c.SignIn(ctx)
		require.Error(err)
		assert.ErrorIs(err, oidc.ErrFlowInProgress)
		assert.ErrorIs(err, oidc.KindFlowInProgress)
		assert.ErrorIs(c.SignOut(ctx), oidc.ErrFlowInProgress)

		require.NoError(r.Respond(Canceled()))
		assert.ErrorIs(<-errCh, oidc.KindUserCanceled)
		assert.Equal(Idle, c.State())
	})

	t.Run("cancel-releases-wait", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		env := testSetup(t)
		ua := newBlockingAgent()
		c := env.controller(t, ua)

		errCh := make(chan error, 1)
		go func() {
			_, err := c.SignIn(ctx)
			errCh <- err
		}()
		r := ua.waitLaunch(t)
		c.Cancel()

		select {
		case err := <-errCh:
			require.Error(err)
			assert.ErrorIs(err, oidc.KindUserCanceled)
		case <-time.After(5 * time.Second):
			require.FailNow("Cancel did not release the sign in")
		}
		assert.Equal(Canceled, c.LastOutcome())
		assert.Equal(Idle, c.State())
		assert.Nil(env.storedWebRequest(t))

		// the request is no longer pending
		assert.ErrorIs(r.Respond(Success("com.example.app:/callback")), ErrUnknownRequest)
	})

	t.Run("context-canceled", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		env := testSetup(t)
		ua := newBlockingAgent()
		c := env.controller(t, ua)

		cctx, cancel := context.WithCancel(ctx)
		errCh := make(chan error, 1)
		go func() {
			_, err := c.SignIn(cctx)
			errCh <- err
		}()
		ua.waitLaunch(t)
		cancel()
		err := <-errCh
		require.Error(err)
		assert.ErrorIs(err, oidc.KindUserCanceled)
		assert.Equal(Canceled, c.LastOutcome())
	})

	t.Run("complete-out-of-band", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		env := testSetup(t)
		ua := newBlockingAgent()
		c := env.controller(t, ua)

		type result struct {
			tokens *oidc.Tokens
			err    error
		}
		resCh := make(chan result, 1)
		go func() {
			tokens, err := c.SignIn(ctx)
			resCh <- result{tokens, err}
		}()
		r := ua.waitLaunch(t)
		assert.Equal(oidc.AuthorizeRequestType, r.Type)
		assert.Equal(env.cfg.RedirectURI, r.RedirectURI)
		assert.NotEmpty(r.State)

		assert.ErrorIs(c.Complete("unknown", Canceled()), ErrUnknownRequest)
		redirect, err := env.tp.Authorize(ctx, r.URL)
		require.NoError(err)
		require.NoError(c.Complete(r.ID, Success(redirect)))
		// only the first result is accepted
		assert.ErrorIs(c.Complete(r.ID, Canceled()), ErrUnknownRequest)

		res := <-resCh
		require.NoError(res.err)
		assert.NotEmpty(res.tokens.AccessToken())
		assert.Equal(Authorized, c.LastOutcome())
	})
}

func TestController_SignOut(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("not-authorized", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		env := testSetup(t)
		ua := &testAgent{tp: env.tp}
		c := env.controller(t, ua)
		require.NoError(c.SignOut(ctx))
		assert.Equal(LoggedOut, c.LastOutcome())
		assert.Equal(int32(0), ua.launches.Load())
	})

	t.Run("logged-out", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		env := testSetup(t)
		ua := &testAgent{tp: env.tp}
		c := env.controller(t, ua)
		_, err := c.SignIn(ctx)
		require.NoError(err)

		require.NoError(c.SignOut(ctx))
		assert.Equal(LoggedOut, c.LastOutcome())
		assert.Equal(int32(2), ua.launches.Load())
		assert.Nil(env.storedWebRequest(t))
		// tokens are only removed by Clear
		assert.NotNil(env.storedTokens(t))
		assert.True(c.IsAuthenticated(ctx))
	})

	t.Run("state-mismatch", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		env := testSetup(t)
		c := env.controller(t, &testAgent{tp: env.tp})
		_, err := c.SignIn(ctx)
		require.NoError(err)

		c.userAgent = &testAgent{tp: env.tp, rewrite: withState("S2")}
		err = c.SignOut(ctx)
		require.Error(err)
		assert.ErrorIs(err, oidc.KindStateMismatch)
		assert.Equal(Failed, c.LastOutcome())
		assert.Nil(env.storedWebRequest(t))
	})

	t.Run("launch-request", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		env := testSetup(t)
		c := env.controller(t, &testAgent{tp: env.tp})
		tokens, err := c.SignIn(ctx)
		require.NoError(err)

		ua := newBlockingAgent()
		c.userAgent = ua
		errCh := make(chan error, 1)
		go func() { errCh <- c.SignOut(ctx) }()
		r := ua.waitLaunch(t)
		assert.Equal(oidc.LogoutRequestType, r.Type)
		assert.Equal(SignOutRequest, c.State())
		u, err := url.Parse(r.URL)
		require.NoError(err)
		assert.Equal(string(tokens.IdToken()), u.Query().Get("id_token_hint"))
		assert.Equal(env.cfg.EndSessionRedirectURI, u.Query().Get("post_logout_redirect_uri"))

		wr := env.storedWebRequest(t)
		require.NotNil(wr)
		assert.Equal(r.State, wr.State())

		require.NoError(r.Respond(Canceled()))
		assert.ErrorIs(<-errCh, oidc.KindUserCanceled)
		assert.Equal(Canceled, c.LastOutcome())
	})
}
