// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"fmt"
	"net/url"
)

// AuthorizeResponse is the authorization response carried by the redirect
// uri: a code or an error, and the echoed state.
type AuthorizeResponse struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
	ErrorURI         string
}

// ParseAuthorizeResponse parses the query of the redirect uri.
func ParseAuthorizeResponse(redirectURI string) (*AuthorizeResponse, error) {
	const op = "oidc.ParseAuthorizeResponse"
	q, err := redirectQuery(redirectURI)
	if err != nil {
		return nil, NewError(ErrInvalidRedirectURI, WithOp(op), WithKind(KindAuthorization), WithMsg("unable to parse redirect uri"), WithWrap(err))
	}
	return &AuthorizeResponse{
		Code:             q.Get("code"),
		State:            q.Get("state"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
		ErrorURI:         q.Get("error_uri"),
	}, nil
}

// Err returns the authorization server's error, or an error when the
// response carries neither an error nor a code.  It returns nil for a
// successful response.
func (r *AuthorizeResponse) Err() error {
	const op = "AuthorizeResponse.Err"
	switch {
	case r.Error != "":
		return NewError(ErrAuthorizationFailed, WithOp(op), WithKind(KindAuthorization), WithOAuthError(r.Error, r.ErrorDescription))
	case r.Code == "":
		return NewError(ErrAuthorizationFailed, WithOp(op), WithKind(KindAuthorization), WithMsg("response has no code"))
	}
	return nil
}

// LogoutResponse is the logout response carried by the post logout redirect
// uri.
type LogoutResponse struct {
	State            string
	Error            string
	ErrorDescription string
}

// ParseLogoutResponse parses the query of the post logout redirect uri.
func ParseLogoutResponse(redirectURI string) (*LogoutResponse, error) {
	const op = "oidc.ParseLogoutResponse"
	q, err := redirectQuery(redirectURI)
	if err != nil {
		return nil, NewError(ErrInvalidRedirectURI, WithOp(op), WithKind(KindAuthorization), WithMsg("unable to parse redirect uri"), WithWrap(err))
	}
	return &LogoutResponse{
		State:            q.Get("state"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	}, nil
}

// Err returns the authorization server's error or nil.
func (r *LogoutResponse) Err() error {
	const op = "LogoutResponse.Err"
	if r.Error != "" {
		return NewError(ErrAuthorizationFailed, WithOp(op), WithKind(KindAuthorization), WithOAuthError(r.Error, r.ErrorDescription))
	}
	return nil
}

// CheckState compares the state of a response with the state of the request
// which launched it.  Both must be exactly equal, empty included.
func CheckState(requestState, responseState string) error {
	const op = "oidc.CheckState"
	if requestState != responseState {
		return NewError(ErrResponseStateInvalid, WithOp(op), WithKind(KindStateMismatch))
	}
	return nil
}

func redirectQuery(redirectURI string) (url.Values, error) {
	if redirectURI == "" {
		return nil, fmt.Errorf("redirect uri is empty: %w", ErrInvalidParameter)
	}
	u, err := url.Parse(redirectURI)
	if err != nil {
		return nil, err
	}
	return u.Query(), nil
}
