// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package client

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/hashicorp/appauth/oidc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignOutFlag_String(t *testing.T) {
	t.Parallel()
	tests := []struct {
		flags SignOutFlag
		want  string
	}{
		{0, "none"},
		{SignOutOfBrowser, "sign_out_of_browser"},
		{RevokeAccessToken | RemoveTokens, "revoke_access_token|remove_tokens"},
		{AllSignOut, "sign_out_of_browser|revoke_access_token|revoke_refresh_token|remove_tokens"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.flags.String())
	}
}

func testSyncClient(t *testing.T, env *testEnv, ua UserAgent) *SyncClient {
	t.Helper()
	s, err := NewSyncClient(env.controller(t, ua))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return s
}

func TestSyncClient(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("nil-controller", func(t *testing.T) {
		_, err := NewSyncClient(nil)
		assert.ErrorIs(t, err, ErrNilParameter)
	})

	t.Run("session", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		env := testSetup(t)
		s := testSyncClient(t, env, &testAgent{tp: env.tp})

		ok, err := s.IsAuthenticated(ctx)
		require.NoError(err)
		assert.False(ok)

		signedIn, err := s.SignIn(ctx)
		require.NoError(err)
		assert.Equal(Authorized, s.Controller().LastOutcome())

		tokens, err := s.Tokens(ctx)
		require.NoError(err)
		assert.Equal(signedIn.AccessToken(), tokens.AccessToken())

		refreshed, err := s.Refresh(ctx)
		require.NoError(err)
		assert.NotEqual(signedIn.AccessToken(), refreshed.AccessToken())

		resp, err := s.Introspect(ctx, oidc.AccessTokenHint)
		require.NoError(err)
		assert.True(resp.Active)

		_, err = s.UserInfo(ctx)
		require.NoError(err)

		require.NoError(s.Clear(ctx))
		ok, err = s.IsAuthenticated(ctx)
		require.NoError(err)
		assert.False(ok)
	})

	t.Run("canceled", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		env := testSetup(t)
		ua := newBlockingAgent()
		s := testSyncClient(t, env, ua)

		errCh := make(chan error, 1)
		go func() {
			_, err := s.SignIn(ctx)
			errCh <- err
		}()
		ua.waitLaunch(t)
		s.Cancel()
		err := <-errCh
		require.Error(err)
		assert.ErrorIs(err, oidc.KindUserCanceled)
		assert.Equal(Canceled, s.Controller().LastOutcome())
	})

	t.Run("caller-context-done", func(t *testing.T) {
		assert := assert.New(t)
		env := testSetup(t)
		ua := newBlockingAgent()
		s := testSyncClient(t, env, ua)

		cctx, cancel := context.WithCancel(ctx)
		errCh := make(chan error, 1)
		go func() {
			_, err := s.SignIn(cctx)
			errCh <- err
		}()
		ua.waitLaunch(t)
		cancel()
		assert.ErrorIs(<-errCh, oidc.KindUserCanceled)
	})

	t.Run("after-shutdown", func(t *testing.T) {
		env := testSetup(t)
		s := testSyncClient(t, env, &testAgent{tp: env.tp})
		require.NoError(t, s.Shutdown(ctx))
		_, err := s.Tokens(ctx)
		assert.ErrorIs(t, err, ErrDispatcherShutdown)
	})
}

func TestSyncClient_SignOut(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("all", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		env := testSetup(t)
		s := testSyncClient(t, env, &testAgent{tp: env.tp})
		tokens, err := s.SignIn(ctx)
		require.NoError(err)

		require.NoError(s.SignOut(ctx, AllSignOut))
		assert.Equal([]string{string(tokens.AccessToken()), string(tokens.RefreshToken())}, env.tp.Revoked())
		assert.Equal(LoggedOut, s.Controller().LastOutcome())
		assert.Equal(0, env.mem.Len())
	})

	t.Run("remove-only", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		env := testSetup(t)
		ua := &testAgent{tp: env.tp}
		s := testSyncClient(t, env, ua)
		_, err := s.SignIn(ctx)
		require.NoError(err)

		require.NoError(s.SignOut(ctx, RemoveTokens))
		assert.Empty(env.tp.Revoked())
		assert.Equal(int32(1), ua.launches.Load())
		assert.Equal(0, env.mem.Len())
	})

	t.Run("not-authorized", func(t *testing.T) {
		env := testSetup(t)
		s := testSyncClient(t, env, &testAgent{tp: env.tp})
		require.NoError(t, s.SignOut(ctx, AllSignOut))
		assert.Empty(t, env.tp.Revoked())
	})

	t.Run("aggregated-failures", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		env := testSetup(t)
		s := testSyncClient(t, env, &testAgent{tp: env.tp})
		_, err := s.SignIn(ctx)
		require.NoError(err)

		env.tp.SetRevokeError(http.StatusServiceUnavailable, "temporarily_unavailable", "")
		s.Controller().userAgent = &testAgent{tp: env.tp, rewrite: withState("S2")}
		err = s.SignOut(ctx, AllSignOut)
		require.Error(err)
		assert.ErrorIs(err, oidc.KindOAuthToken)
		assert.ErrorIs(err, oidc.KindStateMismatch)
		assert.Contains(err.Error(), "3 errors occurred")
		// the tokens are removed anyway
		assert.Equal(0, env.mem.Len())
	})
}

// testCallback records what an AsyncClient delivers.
type testCallback[T any] struct {
	success chan T
	failure chan error
	cancel  chan struct{}
}

func newTestCallback[T any]() *testCallback[T] {
	return &testCallback[T]{
		success: make(chan T, 1),
		failure: make(chan error, 1),
		cancel:  make(chan struct{}, 1),
	}
}

func (c *testCallback[T]) callback() Callback[T] {
	return Callback[T]{
		OnSuccess: func(v T) { c.success <- v },
		OnError:   func(err error) { c.failure <- err },
		OnCancel:  func() { c.cancel <- struct{}{} },
	}
}

// wait returns which of the funcs was called.
func (c *testCallback[T]) wait(t *testing.T) (T, error, bool) {
	t.Helper()
	var zero T
	select {
	case v := <-c.success:
		return v, nil, false
	case err := <-c.failure:
		return zero, err, false
	case <-c.cancel:
		return zero, nil, true
	case <-time.After(10 * time.Second):
		require.FailNow(t, "no callback delivered")
		return zero, nil, false
	}
}

func testAsyncClient(t *testing.T, env *testEnv, ua UserAgent) *AsyncClient {
	t.Helper()
	a, err := NewAsyncClient(env.controller(t, ua))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

func TestAsyncClient(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		env := testSetup(t)
		a := testAsyncClient(t, env, &testAgent{tp: env.tp})

		cb := newTestCallback[*oidc.Tokens]()
		require.NoError(a.SignIn(ctx, cb.callback()))
		tokens, err, canceled := cb.wait(t)
		require.NoError(err)
		require.False(canceled)
		assert.NotEmpty(tokens.AccessToken())

		revoked := newTestCallback[bool]()
		require.NoError(a.Revoke(ctx, oidc.AccessTokenHint, revoked.callback()))
		ok, err, _ := revoked.wait(t)
		require.NoError(err)
		assert.True(ok)
	})

	t.Run("canceled", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		env := testSetup(t)
		ua := newBlockingAgent()
		a := testAsyncClient(t, env, ua)

		cb := newTestCallback[*oidc.Tokens]()
		require.NoError(a.SignIn(ctx, cb.callback()))
		ua.waitLaunch(t)
		a.Cancel()
		_, err, canceled := cb.wait(t)
		require.NoError(err)
		assert.True(canceled)
	})

	t.Run("error", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		env := testSetup(t)
		a := testAsyncClient(t, env, &testAgent{tp: env.tp})

		cb := newTestCallback[*oidc.Tokens]()
		require.NoError(a.Tokens(ctx, cb.callback()))
		_, err, canceled := cb.wait(t)
		require.False(canceled)
		assert.ErrorIs(err, oidc.ErrNotAuthorized)
	})

	t.Run("shutdown-cancels-queued", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		env := testSetup(t)
		ua := newBlockingAgent()
		a, err := NewAsyncClient(env.controller(t, ua))
		require.NoError(err)

		running := newTestCallback[*oidc.Tokens]()
		queued := newTestCallback[*oidc.Tokens]()
		require.NoError(a.SignIn(ctx, running.callback()))
		require.NoError(a.SignIn(ctx, queued.callback()))
		ua.waitLaunch(t)

		sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		require.NoError(a.Shutdown(sctx))
		_, _, canceled := running.wait(t)
		assert.True(canceled)
		_, _, canceled = queued.wait(t)
		assert.True(canceled)

		err = a.Clear(ctx, Callback[struct{}]{})
		assert.ErrorIs(err, ErrDispatcherShutdown)
	})
}
