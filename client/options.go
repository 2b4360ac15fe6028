// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package client

import (
	"time"

	"github.com/hashicorp/appauth/oidc"
	apphttp "github.com/hashicorp/appauth/sdk/http"
	"github.com/hashicorp/go-hclog"
)

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		if o == nil { // ignore any nil Options
			continue
		}
		o(opts)
	}
}

type controllerOptions struct {
	withLogger           hclog.Logger
	withTransport        apphttp.Transport
	withHandlerResolver  HandlerResolver
	withAppID            string
	withValidator        oidc.IDTokenValidator
	withVerifySignatures bool
	withNow              func() time.Time
}

func controllerDefaults() controllerOptions {
	return controllerOptions{
		withLogger:          hclog.NewNullLogger(),
		withHandlerResolver: StaticHandlerResolver(nil),
		withNow:             time.Now,
	}
}

func getControllerOpts(opt ...Option) controllerOptions {
	opts := controllerDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

type dispatcherOptions struct {
	withLogger   hclog.Logger
	withExecutor Executor
}

func dispatcherDefaults() dispatcherOptions {
	return dispatcherOptions{
		withLogger: hclog.NewNullLogger(),
	}
}

func getDispatcherOpts(opt ...Option) dispatcherOptions {
	opts := dispatcherDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithLogger provides an optional logger for: Controller, Dispatcher,
// RedirectHandler
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if l == nil {
			return
		}
		switch v := o.(type) {
		case *controllerOptions:
			v.withLogger = l
		case *dispatcherOptions:
			v.withLogger = l
		case *redirectHandlerOptions:
			v.withLogger = l
		}
	}
}

// WithTransport provides the transport used to reach the provider.  The
// default is an apphttp.ClientTransport trusting the config's ProviderCA.
func WithTransport(t apphttp.Transport) Option {
	return func(o interface{}) {
		if v, ok := o.(*controllerOptions); ok && t != nil {
			v.withTransport = t
		}
	}
}

// WithHandlerResolver provides the registry of installed redirect handlers.
// The default resolver knows no handlers, so every flow fails with an
// InvalidRedirectUri error until one is provided.
func WithHandlerResolver(r HandlerResolver) Option {
	return func(o interface{}) {
		if v, ok := o.(*controllerOptions); ok && r != nil {
			v.withHandlerResolver = r
		}
	}
}

// WithAppID identifies this application among the redirect handlers.  It
// defaults to the client id.
func WithAppID(id string) Option {
	return func(o interface{}) {
		if v, ok := o.(*controllerOptions); ok {
			v.withAppID = id
		}
	}
}

// WithIDTokenValidator replaces the default id_token validation entirely.
func WithIDTokenValidator(val oidc.IDTokenValidator) Option {
	return func(o interface{}) {
		if v, ok := o.(*controllerOptions); ok {
			v.withValidator = val
		}
	}
}

// WithSignatureVerification verifies id_token signatures against the
// provider's jwks_uri before the default validation.  It's ignored when
// WithIDTokenValidator is used.
func WithSignatureVerification() Option {
	return func(o interface{}) {
		if v, ok := o.(*controllerOptions); ok {
			v.withVerifySignatures = true
		}
	}
}

// WithNow provides an optional clock for the Controller.
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if v, ok := o.(*controllerOptions); ok && now != nil {
			v.withNow = now
		}
	}
}

// WithExecutor provides the callback context of a Dispatcher.  The default
// is a SerialExecutor owned, and stopped, by the Dispatcher.
func WithExecutor(e Executor) Option {
	return func(o interface{}) {
		if v, ok := o.(*dispatcherOptions); ok && e != nil {
			v.withExecutor = e
		}
	}
}
