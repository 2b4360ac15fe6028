// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/hashicorp/appauth/encryption"
	"github.com/hashicorp/appauth/oidc"
	"github.com/hashicorp/go-multierror"
)

// SignOutFlag selects the steps of a sign out.
type SignOutFlag uint

const (
	// SignOutOfBrowser ends the provider session through the user-agent.
	SignOutOfBrowser SignOutFlag = 1 << iota

	// RevokeAccessToken revokes the stored access token.
	RevokeAccessToken

	// RevokeRefreshToken revokes the stored refresh token.
	RevokeRefreshToken

	// RemoveTokens clears every stored record.
	RemoveTokens

	AllSignOut = SignOutOfBrowser | RevokeAccessToken | RevokeRefreshToken | RemoveTokens
)

// String returns the names of the set flags joined by "|".
func (f SignOutFlag) String() string {
	var names []string
	for _, n := range []struct {
		flag SignOutFlag
		name string
	}{
		{SignOutOfBrowser, "sign_out_of_browser"},
		{RevokeAccessToken, "revoke_access_token"},
		{RevokeRefreshToken, "revoke_refresh_token"},
		{RemoveTokens, "remove_tokens"},
	} {
		if f&n.flag != 0 {
			names = append(names, n.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

// signOutWithFlags runs the steps selected by flags, in the order: revoke
// the access token, revoke the refresh token, sign out of the browser,
// remove the tokens.  Every step runs even when an earlier one fails; the
// failures are aggregated.  Revoking a token which isn't stored is skipped.
func signOutWithFlags(ctx context.Context, c *Controller, flags SignOutFlag) error {
	const op = "client.signOutWithFlags"
	var result *multierror.Error
	revoke := func(hint oidc.TokenTypeHint) {
		tokens, err := c.Tokens(ctx)
		switch {
		case errors.Is(err, oidc.ErrNotAuthorized):
			return
		case err != nil:
			result = multierror.Append(result, err)
			return
		}
		if hint == oidc.RefreshTokenHint && tokens.RefreshToken() == "" {
			return
		}
		if _, err := c.Revoke(ctx, hint); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if flags&RevokeAccessToken != 0 {
		revoke(oidc.AccessTokenHint)
	}
	if flags&RevokeRefreshToken != 0 {
		revoke(oidc.RefreshTokenHint)
	}
	if flags&SignOutOfBrowser != 0 {
		if err := c.SignOut(ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if flags&RemoveTokens != 0 {
		if err := c.Clear(ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// run submits fn to d and waits for its result or ctx.
func run[T any](ctx context.Context, d *Dispatcher, fn func(ctx context.Context) (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	var zero T
	ch := make(chan result, 1)
	err := d.Submit(ctx, func(ctx context.Context) {
		v, err := fn(ctx)
		ch <- result{v, err}
	})
	if err != nil {
		return zero, err
	}
	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		return zero, oidc.NewError(oidc.ErrUserCanceled, oidc.WithOp("client.run"), oidc.WithKind(oidc.KindUserCanceled), oidc.WithWrap(ctx.Err()))
	}
}

// SyncClient runs the controller's operations on a Dispatcher worker and
// blocks until they complete.
type SyncClient struct {
	controller *Controller
	dispatcher *Dispatcher
}

// NewSyncClient creates a SyncClient over c.
//
// Supported options: WithExecutor, WithLogger
func NewSyncClient(c *Controller, opt ...Option) (*SyncClient, error) {
	const op = "client.NewSyncClient"
	if c == nil {
		return nil, oidc.NewError(ErrNilParameter, oidc.WithOp(op), oidc.WithKind(oidc.KindParameterViolation), oidc.WithMsg("controller is nil"))
	}
	return &SyncClient{controller: c, dispatcher: NewDispatcher(opt...)}, nil
}

// Controller returns the underlying controller.
func (s *SyncClient) Controller() *Controller { return s.controller }

// SignIn runs Controller.SignIn.
func (s *SyncClient) SignIn(ctx context.Context, opt ...oidc.Option) (*oidc.Tokens, error) {
	return run(ctx, s.dispatcher, func(ctx context.Context) (*oidc.Tokens, error) {
		return s.controller.SignIn(ctx, opt...)
	})
}

// SignOut runs the sign out steps selected by flags.
func (s *SyncClient) SignOut(ctx context.Context, flags SignOutFlag) error {
	_, err := run(ctx, s.dispatcher, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, signOutWithFlags(ctx, s.controller, flags)
	})
	return err
}

// Cancel cancels the flow in progress.  It doesn't go through the worker,
// which is busy running the flow.
func (s *SyncClient) Cancel() { s.controller.Cancel() }

// Tokens runs Controller.Tokens.
func (s *SyncClient) Tokens(ctx context.Context) (*oidc.Tokens, error) {
	return run(ctx, s.dispatcher, s.controller.Tokens)
}

// IsAuthenticated runs Controller.IsAuthenticated.
func (s *SyncClient) IsAuthenticated(ctx context.Context) (bool, error) {
	return run(ctx, s.dispatcher, func(ctx context.Context) (bool, error) {
		return s.controller.IsAuthenticated(ctx), nil
	})
}

// Refresh runs Controller.Refresh.
func (s *SyncClient) Refresh(ctx context.Context, scopes ...string) (*oidc.Tokens, error) {
	return run(ctx, s.dispatcher, func(ctx context.Context) (*oidc.Tokens, error) {
		return s.controller.Refresh(ctx, scopes...)
	})
}

// Revoke runs Controller.Revoke.
func (s *SyncClient) Revoke(ctx context.Context, hint oidc.TokenTypeHint) (bool, error) {
	return run(ctx, s.dispatcher, func(ctx context.Context) (bool, error) {
		return s.controller.Revoke(ctx, hint)
	})
}

// Introspect runs Controller.Introspect.
func (s *SyncClient) Introspect(ctx context.Context, hint oidc.TokenTypeHint) (*oidc.IntrospectResponse, error) {
	return run(ctx, s.dispatcher, func(ctx context.Context) (*oidc.IntrospectResponse, error) {
		return s.controller.Introspect(ctx, hint)
	})
}

// UserInfo runs Controller.UserInfo.
func (s *SyncClient) UserInfo(ctx context.Context) (map[string]interface{}, error) {
	return run(ctx, s.dispatcher, s.controller.UserInfo)
}

// AuthorizedRequest runs Controller.AuthorizedRequest.
func (s *SyncClient) AuthorizedRequest(ctx context.Context, uri, method string, params url.Values) (*oidc.AuthorizedResponse, error) {
	return run(ctx, s.dispatcher, func(ctx context.Context) (*oidc.AuthorizedResponse, error) {
		return s.controller.AuthorizedRequest(ctx, uri, method, params)
	})
}

// Clear runs Controller.Clear.
func (s *SyncClient) Clear(ctx context.Context) error {
	_, err := run(ctx, s.dispatcher, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.controller.Clear(ctx)
	})
	return err
}

// MigrateTo runs Controller.MigrateTo.
func (s *SyncClient) MigrateTo(ctx context.Context, m encryption.Manager) error {
	_, err := run(ctx, s.dispatcher, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.controller.MigrateTo(ctx, m)
	})
	return err
}

// Shutdown cancels the running operation and stops the client.
func (s *SyncClient) Shutdown(ctx context.Context) error {
	s.controller.Cancel()
	return s.dispatcher.Shutdown(ctx)
}

// Callback receives the result of an AsyncClient operation on the
// dispatcher's Executor.  Nil funcs are skipped.
type Callback[T any] struct {
	OnSuccess func(T)
	OnError   func(error)

	// OnCancel is called instead of OnError for errors of
	// oidc.KindUserCanceled.
	OnCancel func()
}

func (cb Callback[T]) deliver(v T, err error) {
	switch {
	case err == nil:
		if cb.OnSuccess != nil {
			cb.OnSuccess(v)
		}
	case errors.Is(err, oidc.KindUserCanceled):
		if cb.OnCancel != nil {
			cb.OnCancel()
		}
	default:
		if cb.OnError != nil {
			cb.OnError(err)
		}
	}
}

// dispatch submits fn to d and delivers its result to cb on the executor.
func dispatch[T any](ctx context.Context, d *Dispatcher, fn func(ctx context.Context) (T, error), cb Callback[T]) error {
	return d.Submit(ctx, func(ctx context.Context) {
		v, err := fn(ctx)
		d.Post(func() { cb.deliver(v, err) })
	})
}

// AsyncClient runs the controller's operations on a Dispatcher worker and
// reports their results to Callbacks on the dispatcher's Executor.  Every
// method returns once the operation is queued; the returned error is only
// about queuing it.
type AsyncClient struct {
	controller *Controller
	dispatcher *Dispatcher
}

// NewAsyncClient creates an AsyncClient over c.
//
// Supported options: WithExecutor, WithLogger
func NewAsyncClient(c *Controller, opt ...Option) (*AsyncClient, error) {
	const op = "client.NewAsyncClient"
	if c == nil {
		return nil, oidc.NewError(ErrNilParameter, oidc.WithOp(op), oidc.WithKind(oidc.KindParameterViolation), oidc.WithMsg("controller is nil"))
	}
	return &AsyncClient{controller: c, dispatcher: NewDispatcher(opt...)}, nil
}

// Controller returns the underlying controller.
func (a *AsyncClient) Controller() *Controller { return a.controller }

// SignIn runs Controller.SignIn.
func (a *AsyncClient) SignIn(ctx context.Context, cb Callback[*oidc.Tokens], opt ...oidc.Option) error {
	return dispatch(ctx, a.dispatcher, func(ctx context.Context) (*oidc.Tokens, error) {
		return a.controller.SignIn(ctx, opt...)
	}, cb)
}

// SignOut runs the sign out steps selected by flags.
func (a *AsyncClient) SignOut(ctx context.Context, flags SignOutFlag, cb Callback[struct{}]) error {
	return dispatch(ctx, a.dispatcher, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, signOutWithFlags(ctx, a.controller, flags)
	}, cb)
}

// Cancel cancels the flow in progress.
func (a *AsyncClient) Cancel() { a.controller.Cancel() }

// Tokens runs Controller.Tokens.
func (a *AsyncClient) Tokens(ctx context.Context, cb Callback[*oidc.Tokens]) error {
	return dispatch(ctx, a.dispatcher, a.controller.Tokens, cb)
}

// IsAuthenticated runs Controller.IsAuthenticated.
func (a *AsyncClient) IsAuthenticated(ctx context.Context, cb Callback[bool]) error {
	return dispatch(ctx, a.dispatcher, func(ctx context.Context) (bool, error) {
		return a.controller.IsAuthenticated(ctx), nil
	}, cb)
}

// Refresh runs Controller.Refresh.
func (a *AsyncClient) Refresh(ctx context.Context, cb Callback[*oidc.Tokens], scopes ...string) error {
	return dispatch(ctx, a.dispatcher, func(ctx context.Context) (*oidc.Tokens, error) {
		return a.controller.Refresh(ctx, scopes...)
	}, cb)
}

// Revoke runs Controller.Revoke.
func (a *AsyncClient) Revoke(ctx context.Context, hint oidc.TokenTypeHint, cb Callback[bool]) error {
	return dispatch(ctx, a.dispatcher, func(ctx context.Context) (bool, error) {
		return a.controller.Revoke(ctx, hint)
	}, cb)
}

// Introspect runs Controller.Introspect.
func (a *AsyncClient) Introspect(ctx context.Context, hint oidc.TokenTypeHint, cb Callback[*oidc.IntrospectResponse]) error {
	return dispatch(ctx, a.dispatcher, func(ctx context.Context) (*oidc.IntrospectResponse, error) {
		return a.controller.Introspect(ctx, hint)
	}, cb)
}

// UserInfo runs Controller.UserInfo.
func (a *AsyncClient) UserInfo(ctx context.Context, cb Callback[map[string]interface{}]) error {
	return dispatch(ctx, a.dispatcher, a.controller.UserInfo, cb)
}

// AuthorizedRequest runs Controller.AuthorizedRequest.
func (a *AsyncClient) AuthorizedRequest(ctx context.Context, uri, method string, params url.Values, cb Callback[*oidc.AuthorizedResponse]) error {
	return dispatch(ctx, a.dispatcher, func(ctx context.Context) (*oidc.AuthorizedResponse, error) {
		return a.controller.AuthorizedRequest(ctx, uri, method, params)
	}, cb)
}

// Clear runs Controller.Clear.
func (a *AsyncClient) Clear(ctx context.Context, cb Callback[struct{}]) error {
	return dispatch(ctx, a.dispatcher, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, a.controller.Clear(ctx)
	}, cb)
}

// MigrateTo runs Controller.MigrateTo.
func (a *AsyncClient) MigrateTo(ctx context.Context, m encryption.Manager, cb Callback[struct{}]) error {
	return dispatch(ctx, a.dispatcher, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, a.controller.MigrateTo(ctx, m)
	}, cb)
}

// Shutdown cancels the running operation and stops the client.  Queued
// operations are canceled and their callbacks delivered before it returns,
// unless ctx is done first.
func (a *AsyncClient) Shutdown(ctx context.Context) error {
	a.controller.Cancel()
	return a.dispatcher.Shutdown(ctx)
}
