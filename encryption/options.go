// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package encryption

import "time"

const (
	// DefaultKeyAlias is the key store alias used when none is provided.
	DefaultKeyAlias = "appauth.encryption.key"

	// DefaultKeySize is the RSA modulus size in bits.
	DefaultKeySize = 2048

	// DefaultValidityWindow is how long the cipher of a user authentication
	// gated manager stays usable after a successful device authentication.
	DefaultValidityWindow = 30 * time.Second

	// DefaultPBKDF2Iterations is the iteration count used to derive a
	// passphrase manager's key.
	DefaultPBKDF2Iterations = 100_000
)

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

type options struct {
	withKeyStore       KeyStore
	withAuthenticator  Authenticator
	withKeyAlias       string
	withKeySize        int
	withValidityWindow time.Duration
	withNow            func() time.Time
	withPlain          bool
	withPassphrase     string
	withSalt           []byte
	withIterations     int
}

func optDefaults() options {
	return options{
		withKeyAlias:       DefaultKeyAlias,
		withKeySize:        DefaultKeySize,
		withValidityWindow: DefaultValidityWindow,
		withNow:            time.Now,
		withIterations:     DefaultPBKDF2Iterations,
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

// WithKeyStore provides the platform key store holding the manager's keys.
func WithKeyStore(ks KeyStore) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withKeyStore = ks
		}
	}
}

// WithAuthenticator provides the device authenticator which gates the
// manager's keys.
func WithAuthenticator(a Authenticator) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withAuthenticator = a
		}
	}
}

// WithKeyAlias overrides DefaultKeyAlias.
func WithKeyAlias(alias string) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withKeyAlias = alias
		}
	}
}

// WithKeySize overrides DefaultKeySize.
func WithKeySize(bits int) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withKeySize = bits
		}
	}
}

// WithValidityWindow overrides DefaultValidityWindow.
func WithValidityWindow(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withValidityWindow = d
		}
	}
}

// WithNow provides a clock, which is useful for tests.
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withNow = now
		}
	}
}

// WithEncryptionDisabled makes NewManager return a pass-through manager.
func WithEncryptionDisabled() Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withPlain = true
		}
	}
}

// WithPassphrase makes NewManager return a symmetric manager whose key is
// derived from passphrase.
func WithPassphrase(passphrase string) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withPassphrase = passphrase
		}
	}
}

// WithSalt provides the PBKDF2 salt for a passphrase manager.
func WithSalt(salt []byte) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withSalt = salt
		}
	}
}

// WithIterations overrides DefaultPBKDF2Iterations.
func WithIterations(n int) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withIterations = n
		}
	}
}
