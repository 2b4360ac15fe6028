// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"time"

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

// WithNow provides an optional clock for: DefaultValidator, Tokens,
// TokenClient
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if now == nil {
			return
		}
		switch v := o.(type) {
		case *validatorOptions:
			v.withNow = now
		case *tokensOptions:
			v.withNow = now
		case *tokenClientOptions:
			v.withNow = now
		}
	}
}

// WithLogger provides an optional logger for: Resolver, TokenClient
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if l == nil {
			return
		}
		switch v := o.(type) {
		case *resolverOptions:
			v.withLogger = l
		case *tokenClientOptions:
			v.withLogger = l
		}
	}
}

// WithTimeouts provides optional connect and read timeouts for every request
// made by: Resolver, TokenClient
func WithTimeouts(connect, read time.Duration) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *resolverOptions:
			v.withConnectTimeout, v.withReadTimeout = connect, read
		case *tokenClientOptions:
			v.withConnectTimeout, v.withReadTimeout = connect, read
		}
	}
}
