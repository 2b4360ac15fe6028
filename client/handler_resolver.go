// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package client

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/hashicorp/appauth/oidc"
)

// Handler is an installed application registered for a redirect scheme.
type Handler struct {
	// AppID identifies the application.
	AppID string

	// Scheme the application handles.
	Scheme string
}

// HandlerResolver lists the installed handlers of a redirect scheme, the
// way a platform's application registry would.
type HandlerResolver interface {
	Handlers(ctx context.Context, scheme string) ([]Handler, error)
}

// StaticHandlerResolver is a HandlerResolver over a fixed list of handlers.
type StaticHandlerResolver []Handler

// ensure that StaticHandlerResolver implements the HandlerResolver interface
var _ HandlerResolver = StaticHandlerResolver(nil)

// Handlers implements the HandlerResolver interface.  Schemes are compared
// case insensitively.
func (s StaticHandlerResolver) Handlers(_ context.Context, scheme string) ([]Handler, error) {
	var found []Handler
	for _, h := range s {
		if strings.EqualFold(h.Scheme, scheme) {
			found = append(found, h)
		}
	}
	return found, nil
}

// verifyRedirectHandler requires exactly one handler for the scheme of
// redirectURI and that it's appID.  Anything else could hand the redirect,
// and its code, to another application.
func verifyRedirectHandler(ctx context.Context, r HandlerResolver, appID, redirectURI string) error {
	const op = "client.verifyRedirectHandler"
	invalid := func(msg string, err error) error {
		return oidc.NewError(oidc.ErrInvalidRedirectURI, oidc.WithOp(op), oidc.WithKind(oidc.KindInvalidRedirectURI), oidc.WithMsg(msg), oidc.WithWrap(err))
	}
	if r == nil {
		return invalid("no handler resolver", nil)
	}
	u, err := url.Parse(redirectURI)
	if err != nil || u.Scheme == "" {
		return invalid(fmt.Sprintf("redirect uri %q has no scheme", redirectURI), err)
	}
	scheme := strings.ToLower(u.Scheme)
	handlers, err := r.Handlers(ctx, scheme)
	if err != nil {
		return invalid(fmt.Sprintf("unable to resolve handlers of %q", scheme), err)
	}
	switch {
	case len(handlers) == 0:
		return invalid(fmt.Sprintf("no handler for scheme %q", scheme), nil)
	case len(handlers) > 1:
		return invalid(fmt.Sprintf("%d handlers for scheme %q", len(handlers), scheme), nil)
	case handlers[0].AppID != appID:
		return invalid(fmt.Sprintf("scheme %q is handled by %q", scheme, handlers[0].AppID), nil)
	}
	return nil
}
