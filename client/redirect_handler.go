// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package client

import (
	"context"
	"net/http"
	"net/url"
	"sync"

	"github.com/hashicorp/appauth/oidc"
	"github.com/hashicorp/go-hclog"
)

// OpenFunc opens a url in the system browser.
type OpenFunc func(ctx context.Context, url string) error

// ResponseFunc writes the page the browser shows once the redirect is
// received.  failed is true when the redirect carries an error.
type ResponseFunc func(w http.ResponseWriter, req *http.Request, failed bool)

// RedirectHandler is a UserAgent for loopback redirect uris
// (http://127.0.0.1:<port>/callback).  Launch opens the url with its
// OpenFunc and the handler, served on the redirect uri's address, reports
// the redirect it receives as the result of the launched request.
//
// It holds one launched request at a time, so it's a one-time use handler
// per flow: a second redirect without a new Launch is rejected.
type RedirectHandler struct {
	open     OpenFunc
	respond  ResponseFunc
	logger   hclog.Logger
	mu       sync.Mutex
	launched *LaunchRequest
}

// ensure that RedirectHandler implements the UserAgent and http.Handler
// interfaces
var (
	_ UserAgent    = (*RedirectHandler)(nil)
	_ http.Handler = (*RedirectHandler)(nil)
)

// NewRedirectHandler creates a RedirectHandler which opens urls with open.
//
// Supported options: WithLogger, WithResponseFunc
func NewRedirectHandler(open OpenFunc, opt ...Option) (*RedirectHandler, error) {
	const op = "client.NewRedirectHandler"
	if open == nil {
		return nil, oidc.NewError(ErrNilParameter, oidc.WithOp(op), oidc.WithKind(oidc.KindParameterViolation), oidc.WithMsg("open func is nil"))
	}
	opts := getRedirectHandlerOpts(opt...)
	return &RedirectHandler{
		open:    open,
		respond: opts.withResponseFunc,
		logger:  opts.withLogger.Named("redirect"),
	}, nil
}

// Launch implements the UserAgent interface.  It replaces any request
// launched before.
func (h *RedirectHandler) Launch(ctx context.Context, r *LaunchRequest) error {
	const op = "RedirectHandler.Launch"
	if r == nil {
		return oidc.NewError(ErrNilParameter, oidc.WithOp(op), oidc.WithKind(oidc.KindParameterViolation), oidc.WithMsg("launch request is nil"))
	}
	h.mu.Lock()
	h.launched = r
	h.mu.Unlock()
	h.logger.Debug("opening browser", "request_id", r.ID, "type", string(r.Type))
	if err := h.open(ctx, r.URL); err != nil {
		h.mu.Lock()
		if h.launched == r {
			h.launched = nil
		}
		h.mu.Unlock()
		return err
	}
	return nil
}

// ServeHTTP implements the http.Handler interface.  The redirect is
// reported as is: the state and error parameters are checked by the
// Controller.
func (h *RedirectHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	h.mu.Lock()
	r := h.launched
	h.launched = nil
	h.mu.Unlock()
	if r == nil {
		h.logger.Warn("redirect without a launched request", "path", req.URL.Path)
		http.Error(w, "no authorization request in progress", http.StatusBadRequest)
		return
	}

	uri, err := url.Parse(r.RedirectURI)
	if err != nil {
		_ = r.Respond(Failure(err))
		h.respond(w, req, true)
		return
	}
	uri.RawQuery = req.URL.RawQuery
	if err := r.Respond(Success(uri.String())); err != nil {
		h.logger.Warn("unable to report redirect", "request_id", r.ID, "error", err)
	}
	h.respond(w, req, req.URL.Query().Get("error") != "")
}

// DefaultResponseFunc writes a minimal page asking the user to return to
// the application.
func DefaultResponseFunc(w http.ResponseWriter, _ *http.Request, failed bool) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if failed {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(failedHTML))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(successHTML))
}

const successHTML = `<!doctype html>
<html><head><title>Signed in</title></head>
<body><p>Authentication complete. You may close this window and return to the application.</p></body>
</html>`

const failedHTML = `<!doctype html>
<html><head><title>Sign in failed</title></head>
<body><p>Authentication failed. You may close this window and return to the application.</p></body>
</html>`

type redirectHandlerOptions struct {
	withLogger       hclog.Logger
	withResponseFunc ResponseFunc
}

func redirectHandlerDefaults() redirectHandlerOptions {
	return redirectHandlerOptions{
		withLogger:       hclog.NewNullLogger(),
		withResponseFunc: DefaultResponseFunc,
	}
}

func getRedirectHandlerOpts(opt ...Option) redirectHandlerOptions {
	opts := redirectHandlerDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithResponseFunc overrides DefaultResponseFunc for a RedirectHandler.
func WithResponseFunc(fn ResponseFunc) Option {
	return func(o interface{}) {
		if v, ok := o.(*redirectHandlerOptions); ok && fn != nil {
			v.withResponseFunc = fn
		}
	}
}
