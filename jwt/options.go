// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package jwt

import (
	"net/http"

	jose "github.com/go-jose/go-jose/v4"
)

// DefaultSupportedAlgorithms are the signature algorithms a StaticKeySet
// accepts when none are provided.
var DefaultSupportedAlgorithms = []jose.SignatureAlgorithm{
	jose.RS256, jose.RS384, jose.RS512,
	jose.PS256, jose.PS384, jose.PS512,
	jose.ES256, jose.ES384, jose.ES512,
	jose.EdDSA,
}

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

type keySetOptions struct {
	withCACert              string
	withHTTPClient          *http.Client
	withSupportedAlgorithms []jose.SignatureAlgorithm
}

func keySetDefaults() keySetOptions {
	return keySetOptions{
		withSupportedAlgorithms: DefaultSupportedAlgorithms,
	}
}

// getKeySetOpts gets the defaults and applies the opt overrides passed
// in.
func getKeySetOpts(opt ...Option) keySetOptions {
	opts := keySetDefaults()
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

// WithCACert provides the PEM encoded CA certificates used to verify the
// JWKS endpoint's TLS certificate.
func WithCACert(caPEM string) Option {
	return func(o interface{}) {
		if v, ok := o.(*keySetOptions); ok {
			v.withCACert = caPEM
		}
	}
}

// WithHTTPClient provides the client used to fetch the JWKS.  It takes
// precedence over WithCACert.
func WithHTTPClient(c *http.Client) Option {
	return func(o interface{}) {
		if v, ok := o.(*keySetOptions); ok {
			v.withHTTPClient = c
		}
	}
}

// WithSupportedAlgorithms overrides DefaultSupportedAlgorithms.
func WithSupportedAlgorithms(algs ...jose.SignatureAlgorithm) Option {
	return func(o interface{}) {
		if v, ok := o.(*keySetOptions); ok && len(algs) > 0 {
			v.withSupportedAlgorithms = algs
		}
	}
}
