// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package client

import (
	"context"

	"github.com/hashicorp/appauth/oidc"
)

// ResultType identifies what a user-agent reported back.
type ResultType int

const (
	// ResultSuccess means the user-agent received a redirect.
	ResultSuccess ResultType = iota

	// ResultCanceled means the user closed the browser surface before a
	// redirect was received.
	ResultCanceled

	// ResultError means the user-agent failed.
	ResultError
)

// String returns the name of the result type.
func (t ResultType) String() string {
	switch t {
	case ResultSuccess:
		return "success"
	case ResultCanceled:
		return "canceled"
	case ResultError:
		return "error"
	default:
		return "unknown"
	}
}

// Result is the single result a user-agent reports for a LaunchRequest.
type Result struct {
	Type ResultType

	// URI is the redirect uri received, query included.  Only set for
	// ResultSuccess.
	URI string

	// Err is only set for ResultError.
	Err error
}

// Success is the Result of a received redirect.
func Success(uri string) Result { return Result{Type: ResultSuccess, URI: uri} }

// Canceled is the Result of a user-agent closed without a redirect.
func Canceled() Result { return Result{Type: ResultCanceled} }

// Failure is the Result of a failed user-agent.
func Failure(err error) Result { return Result{Type: ResultError, Err: err} }

// LaunchRequest is handed to a UserAgent.  Exactly one result must be
// reported for it, with Respond or Controller.Complete.
type LaunchRequest struct {
	// ID correlates the result with the flow waiting for it.
	ID string

	// URL the user-agent must open.
	URL string

	// RedirectURI the provider will redirect to.
	RedirectURI string

	// State the redirect is expected to echo.
	State string

	// Type of the web request.
	Type oidc.WebRequestType

	respond func(Result) error
}

// Respond reports the result of the request.  Only the first result is
// accepted; later ones return ErrUnknownRequest.
func (r *LaunchRequest) Respond(res Result) error {
	if r.respond == nil {
		return ErrUnknownRequest
	}
	return r.respond(res)
}

// UserAgent launches a browser capable surface.  Launch must not block
// until the result is known: the result is reported asynchronously through
// LaunchRequest.Respond.
type UserAgent interface {
	Launch(ctx context.Context, r *LaunchRequest) error
}

// UserAgentFunc adapts a func to the UserAgent interface.
type UserAgentFunc func(ctx context.Context, r *LaunchRequest) error

// Launch implements the UserAgent interface.
func (f UserAgentFunc) Launch(ctx context.Context, r *LaunchRequest) error {
	return f(ctx, r)
}
