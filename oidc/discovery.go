// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	apphttp "github.com/hashicorp/appauth/sdk/http"
	"github.com/hashicorp/go-hclog"
)

const (
	// DefaultConnectTimeout and DefaultReadTimeout bound every request to
	// the provider.
	DefaultConnectTimeout = 15 * time.Second
	DefaultReadTimeout    = 10 * time.Second

	// maxResponseSize caps how much of a provider response is read.
	maxResponseSize = 1 << 20
)

// DiscoveryURL returns the well-known document url of the issuer for the
// mode.
func DiscoveryURL(issuer string, mode DiscoveryMode) string {
	return strings.TrimSuffix(issuer, "/") + mode.String()
}

// Resolver resolves the ProviderConfig of a Config.
type Resolver struct {
	transport      apphttp.Transport
	logger         hclog.Logger
	connectTimeout time.Duration
	readTimeout    time.Duration
}

// NewResolver creates a Resolver using the transport t.
//
// Supported options: WithLogger, WithTimeouts
func NewResolver(t apphttp.Transport, opt ...Option) (*Resolver, error) {
	const op = "oidc.NewResolver"
	if t == nil {
		return nil, NewError(ErrNilParameter, WithOp(op), WithKind(KindParameterViolation), WithMsg("transport is nil"))
	}
	opts := getResolverOpts(opt...)
	return &Resolver{
		transport:      t,
		logger:         opts.withLogger,
		connectTimeout: opts.withConnectTimeout,
		readTimeout:    opts.withReadTimeout,
	}, nil
}

// Resolve returns the provider config of cfg:
//   - cfg.Custom converted without network access
//   - cached when its issuer equals cfg.Issuer
//   - otherwise the discovery document of cfg.Issuer, which must name
//     cfg.Issuer as its issuer
//
// Failures are of KindConfiguration.  Transport failures keep a KindNetwork
// cause.
func (r *Resolver) Resolve(ctx context.Context, cfg *Config, cached *ProviderConfig) (*ProviderConfig, error) {
	const op = "Resolver.Resolve"
	if cfg == nil {
		return nil, NewError(ErrNilParameter, WithOp(op), WithKind(KindConfiguration), WithMsg("config is nil"))
	}
	if cfg.Custom != nil {
		if err := cfg.Custom.Validate(); err != nil {
			return nil, WrapError(err, WithOp(op))
		}
		return cfg.Custom.ProviderConfig(), nil
	}
	if cached != nil && cached.Issuer == cfg.Issuer {
		r.logger.Trace("using cached provider config", "issuer", cfg.Issuer)
		return cached, nil
	}

	var (
		pc  *ProviderConfig
		err error
	)
	switch cfg.DiscoveryMode {
	case DiscoveryOAuth2:
		pc, err = r.fetchMetadata(ctx, cfg)
	default:
		pc, err = r.discover(ctx, cfg)
	}
	if err != nil {
		return nil, err
	}
	if pc.Issuer != cfg.Issuer {
		return nil, NewError(ErrInvalidIssuer, WithOp(op), WithKind(KindConfiguration),
			WithMsg(fmt.Sprintf("discovery document issuer %q does not match %q", pc.Issuer, cfg.Issuer)))
	}
	if err := pc.Validate(); err != nil {
		return nil, WrapError(err, WithOp(op), WithMsg("invalid discovery document"))
	}
	return pc, nil
}

// discover resolves an OpenID Connect provider with go-oidc, which refuses a
// document whose issuer differs from cfg.Issuer.
func (r *Resolver) discover(ctx context.Context, cfg *Config) (*ProviderConfig, error) {
	const op = "Resolver.discover"
	r.logger.Debug("discovering provider", "url", DiscoveryURL(cfg.Issuer, DiscoveryOIDC))
	client := &http.Client{Transport: &transportRoundTripper{
		transport:      r.transport,
		connectTimeout: r.connectTimeout,
		readTimeout:    r.readTimeout,
	}}
	provider, err := gooidc.NewProvider(gooidc.ClientContext(ctx, client), cfg.Issuer)
	if err != nil {
		var terr *transportError
		if errors.As(err, &terr) {
			cause := NewError(ErrTransportFailed, WithOp(op), WithKind(transportKind(ctx, terr.err)), WithWrap(terr.err))
			return nil, WrapError(cause, WithKind(KindConfiguration), WithOp(op), WithMsg("unable to fetch discovery document"))
		}
		return nil, NewError(ErrDiscoveryFailed, WithOp(op), WithKind(KindConfiguration), WithMsg(truncate([]byte(err.Error()))), WithWrap(err))
	}
	var pc ProviderConfig
	if err := provider.Claims(&pc); err != nil {
		return nil, NewError(ErrDiscoveryFailed, WithOp(op), WithKind(KindConfiguration), WithMsg("unable to parse discovery document"), WithWrap(err))
	}
	return &pc, nil
}

// fetchMetadata reads an RFC 8414 authorization server metadata document,
// which go-oidc has no support for.
func (r *Resolver) fetchMetadata(ctx context.Context, cfg *Config) (*ProviderConfig, error) {
	const op = "Resolver.fetchMetadata"
	uri := DiscoveryURL(cfg.Issuer, DiscoveryOAuth2)
	r.logger.Debug("fetching authorization server metadata", "url", uri)
	resp, err := r.transport.Connect(ctx, uri, &apphttp.ConnectParams{
		Method:         http.MethodGet,
		Header:         http.Header{"Accept": []string{"application/json"}, "User-Agent": []string{UserAgent()}},
		ConnectTimeout: r.connectTimeout,
		ReadTimeout:    r.readTimeout,
	})
	if err != nil {
		cause := NewError(ErrTransportFailed, WithOp(op), WithKind(transportKind(ctx, err)), WithWrap(err))
		return nil, WrapError(cause, WithKind(KindConfiguration), WithOp(op), WithMsg("unable to fetch discovery document"))
	}
	defer resp.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		cause := NewError(ErrTransportFailed, WithOp(op), WithKind(transportKind(ctx, err)), WithWrap(err))
		return nil, WrapError(cause, WithKind(KindConfiguration), WithOp(op), WithMsg("unable to read discovery document"))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, NewError(ErrDiscoveryFailed, WithOp(op), WithKind(KindConfiguration),
			WithMsg(fmt.Sprintf("%s returned %d: %s", uri, resp.StatusCode, truncate(body))))
	}
	var pc ProviderConfig
	if err := json.Unmarshal(body, &pc); err != nil {
		return nil, NewError(ErrDiscoveryFailed, WithOp(op), WithKind(KindConfiguration), WithMsg("unable to parse discovery document"), WithWrap(err))
	}
	return &pc, nil
}

// transportError marks a failure of the Transport itself, as opposed to a
// response go-oidc refused.
type transportError struct {
	err error
}

func (e *transportError) Error() string { return e.err.Error() }

func (e *transportError) Unwrap() error { return e.err }

// transportRoundTripper lets an *http.Client, and so go-oidc, send its
// requests through a Transport.
type transportRoundTripper struct {
	transport      apphttp.Transport
	connectTimeout time.Duration
	readTimeout    time.Duration
}

func (rt *transportRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		b, err := io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			return nil, &transportError{err: err}
		}
		body = b
	}
	header := req.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set("Accept", "application/json")
	header.Set("User-Agent", UserAgent())
	resp, err := rt.transport.Connect(req.Context(), req.URL.String(), &apphttp.ConnectParams{
		Method:         req.Method,
		Header:         header,
		Body:           body,
		ConnectTimeout: rt.connectTimeout,
		ReadTimeout:    rt.readTimeout,
	})
	if err != nil {
		return nil, &transportError{err: err}
	}
	h := resp.Header
	if h == nil {
		h = http.Header{}
	}
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
		StatusCode:    resp.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        h,
		ContentLength: -1,
		Body:          &limitedBody{Reader: io.LimitReader(resp.Body, maxResponseSize), resp: resp},
		Request:       req,
	}, nil
}

// limitedBody caps a response body and closes the underlying Response.
type limitedBody struct {
	io.Reader
	resp *apphttp.Response
}

func (b *limitedBody) Close() error { return b.resp.Close() }

// transportKind classifies a transport failure.  A canceled ctx is a user
// cancellation, anything else a network error.
func transportKind(ctx context.Context, err error) Kind {
	if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		return KindUserCanceled
	}
	return KindNetwork
}

func truncate(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}

type resolverOptions struct {
	withLogger         hclog.Logger
	withConnectTimeout time.Duration
	withReadTimeout    time.Duration
}

func resolverDefaults() resolverOptions {
	return resolverOptions{
		withLogger:         hclog.NewNullLogger(),
		withConnectTimeout: DefaultConnectTimeout,
		withReadTimeout:    DefaultReadTimeout,
	}
}

func getResolverOpts(opt ...Option) resolverOptions {
	opts := resolverDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}
