// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package http

import (
	"net/http"
	"time"
)

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

type options struct {
	withHTTPClient     *http.Client
	withCACert         string
	withConnectTimeout time.Duration
}

func optDefaults() options {
	return options{
		withConnectTimeout: DefaultConnectTimeout,
	}
}

func getOpts(opt ...Option) options {
	opts := optDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

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

// WithHTTPClient provides an *http.Client to use instead of building one.
func WithHTTPClient(c *http.Client) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withHTTPClient = c
		}
	}
}

// WithCACert provides an optional PEM encoded CA certificate used to verify
// the provider's TLS certificate.
func WithCACert(pem string) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withCACert = pem
		}
	}
}

// WithConnectTimeout overrides DefaultConnectTimeout for dialing.
func WithConnectTimeout(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withConnectTimeout = d
		}
	}
}
