// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package client

import (
	"context"
	"fmt"
	"net/url"

	"github.com/hashicorp/appauth/encryption"
	"github.com/hashicorp/appauth/oidc"
	"github.com/hashicorp/appauth/storage"
)

// tokenResponse returns the persisted token response or ErrNotAuthorized.
func (c *Controller) tokenResponse(ctx context.Context, op string) (*oidc.TokenResponse, error) {
	tr, err := storage.Get(ctx, c.store, oidc.TokenResponseRestorer{})
	if err != nil {
		return nil, storeError(op, err)
	}
	if tr == nil {
		return nil, oidc.NewError(oidc.ErrNotAuthorized, oidc.WithOp(op), oidc.WithKind(oidc.KindAuthorization), oidc.WithMsg("no tokens are stored"))
	}
	return tr, nil
}

// Tokens returns the stored tokens.
func (c *Controller) Tokens(ctx context.Context) (*oidc.Tokens, error) {
	const op = "Controller.Tokens"
	tr, err := c.tokenResponse(ctx, op)
	if err != nil {
		return nil, err
	}
	return oidc.NewTokens(tr, oidc.WithNow(c.now))
}

// IsAuthenticated reports whether tokens are stored.  The access token may
// be expired; see Tokens.IsAccessTokenExpired and Refresh.
func (c *Controller) IsAuthenticated(ctx context.Context) bool {
	tr, err := storage.Get(ctx, c.store, oidc.TokenResponseRestorer{})
	if err != nil {
		c.logger.Warn("unable to read tokens", "error", err)
		return false
	}
	return tr != nil
}

// Refresh exchanges the stored refresh token for new tokens and persists
// them in place of the old ones.  The refresh token and id_token are kept
// when the provider doesn't return new ones.  Scopes optionally narrow the
// requested scope.
func (c *Controller) Refresh(ctx context.Context, scopes ...string) (*oidc.Tokens, error) {
	const op = "Controller.Refresh"
	tr, err := c.tokenResponse(ctx, op)
	if err != nil {
		return nil, err
	}
	if tr.RefreshToken == "" {
		return nil, oidc.NewError(oidc.ErrInvalidParameter, oidc.WithOp(op), oidc.WithKind(oidc.KindParameterViolation), oidc.WithMsg("no refresh token is stored"))
	}
	pc, err := c.providerConfig(ctx)
	if err != nil {
		return nil, oidc.WrapError(err, oidc.WithOp(op))
	}
	refreshed, err := c.tokens.Refresh(ctx, pc, tr.RefreshToken, scopes)
	if err != nil {
		return nil, oidc.WrapError(err, oidc.WithOp(op))
	}
	if err := c.validate(ctx, pc, refreshed.IdToken, "", oidc.GrantTypeRefreshToken); err != nil {
		return nil, oidc.WrapError(err, oidc.WithOp(op))
	}
	merged := tr.Merge(refreshed)
	if err := c.store.Save(ctx, merged); err != nil {
		return nil, storeError(op, err)
	}
	c.logger.Debug("refreshed tokens")
	return oidc.NewTokens(merged, oidc.WithNow(c.now))
}

// Revoke revokes the stored access token, or the refresh token for
// oidc.RefreshTokenHint.  The stored tokens are kept.
func (c *Controller) Revoke(ctx context.Context, hint oidc.TokenTypeHint) (bool, error) {
	const op = "Controller.Revoke"
	token, pc, err := c.hintedToken(ctx, op, hint)
	if err != nil {
		return false, err
	}
	ok, err := c.tokens.Revoke(ctx, pc, token, hint)
	if err != nil {
		return false, oidc.WrapError(err, oidc.WithOp(op))
	}
	return ok, nil
}

// Introspect introspects the stored access token, or the refresh token for
// oidc.RefreshTokenHint.
func (c *Controller) Introspect(ctx context.Context, hint oidc.TokenTypeHint) (*oidc.IntrospectResponse, error) {
	const op = "Controller.Introspect"
	token, pc, err := c.hintedToken(ctx, op, hint)
	if err != nil {
		return nil, err
	}
	resp, err := c.tokens.Introspect(ctx, pc, token, hint)
	if err != nil {
		return nil, oidc.WrapError(err, oidc.WithOp(op))
	}
	return resp, nil
}

func (c *Controller) hintedToken(ctx context.Context, op string, hint oidc.TokenTypeHint) (string, *oidc.ProviderConfig, error) {
	tr, err := c.tokenResponse(ctx, op)
	if err != nil {
		return "", nil, err
	}
	var token string
	switch hint {
	case oidc.AccessTokenHint:
		token = string(tr.AccessToken)
	case oidc.RefreshTokenHint:
		token = string(tr.RefreshToken)
	default:
		return "", nil, oidc.NewError(oidc.ErrInvalidParameter, oidc.WithOp(op), oidc.WithKind(oidc.KindParameterViolation), oidc.WithMsg(fmt.Sprintf("unknown token type hint %q", hint)))
	}
	if token == "" {
		return "", nil, oidc.NewError(oidc.ErrInvalidParameter, oidc.WithOp(op), oidc.WithKind(oidc.KindParameterViolation), oidc.WithMsg(fmt.Sprintf("no %s is stored", hint)))
	}
	pc, err := c.providerConfig(ctx)
	if err != nil {
		return "", nil, oidc.WrapError(err, oidc.WithOp(op))
	}
	return token, pc, nil
}

// UserInfo returns the claims of the userinfo endpoint for the stored
// access token.
func (c *Controller) UserInfo(ctx context.Context) (map[string]interface{}, error) {
	const op = "Controller.UserInfo"
	tr, err := c.tokenResponse(ctx, op)
	if err != nil {
		return nil, err
	}
	pc, err := c.providerConfig(ctx)
	if err != nil {
		return nil, oidc.WrapError(err, oidc.WithOp(op))
	}
	claims, err := c.tokens.UserInfo(ctx, pc, tr.AccessToken)
	if err != nil {
		return nil, oidc.WrapError(err, oidc.WithOp(op))
	}
	return claims, nil
}

// AuthorizedRequest sends a request to a protected resource with the stored
// access token as bearer credentials.
func (c *Controller) AuthorizedRequest(ctx context.Context, uri, method string, params url.Values) (*oidc.AuthorizedResponse, error) {
	const op = "Controller.AuthorizedRequest"
	tr, err := c.tokenResponse(ctx, op)
	if err != nil {
		return nil, err
	}
	resp, err := c.tokens.AuthorizedRequest(ctx, uri, method, params, tr.AccessToken)
	if err != nil {
		return nil, oidc.WrapError(err, oidc.WithOp(op))
	}
	return resp, nil
}

// Clear removes every record of the client: tokens, pending web request and
// provider configuration.  It doesn't contact the provider.
func (c *Controller) Clear(ctx context.Context) error {
	const op = "Controller.Clear"
	if err := c.store.Clear(ctx, oidc.ProviderConfigKey, oidc.WebRequestKey, oidc.TokenResponseKey); err != nil {
		return storeError(op, err)
	}
	c.logger.Debug("cleared stored records")
	return nil
}

// MigrateTo re-encrypts the stored records with m.  On failure the records
// and the active manager are unchanged and the error is of
// oidc.KindEncryption.
func (c *Controller) MigrateTo(ctx context.Context, m encryption.Manager) error {
	const op = "Controller.MigrateTo"
	if m == nil {
		return oidc.NewError(ErrNilParameter, oidc.WithOp(op), oidc.WithKind(oidc.KindParameterViolation), oidc.WithMsg("encryption manager is nil"))
	}
	if err := c.store.MigrateTo(ctx, m); err != nil {
		return oidc.NewError(oidc.ErrEncryptionFailed, oidc.WithOp(op), oidc.WithKind(oidc.KindEncryption), oidc.WithWrap(err))
	}
	c.logger.Info("migrated stored records", "capability", m.Capability().String())
	return nil
}

// Authenticate runs the device authentication ceremony of the active
// encryption manager when it's gated by one.  Other managers need none.
func (c *Controller) Authenticate(ctx context.Context) error {
	const op = "Controller.Authenticate"
	m, ok := c.store.Manager().(encryption.Authenticating)
	if !ok {
		return nil
	}
	if err := m.Authenticate(ctx); err != nil {
		return oidc.NewError(oidc.ErrEncryptionFailed, oidc.WithOp(op), oidc.WithKind(oidc.KindEncryption), oidc.WithWrap(err))
	}
	return nil
}
