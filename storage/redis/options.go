// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package redis

import "time"

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

type options struct {
	withKeyPrefix   string
	withUsername    string
	withPassword    string
	withDB          int
	withTTL         time.Duration
	withDialTimeout time.Duration
}

func getDefaults() options {
	return options{
		withKeyPrefix:   DefaultKeyPrefix,
		withDialTimeout: DefaultDialTimeout,
	}
}

func getOpts(opt ...Option) options {
	opts := getDefaults()
	for _, o := range opt {
		if o != nil {
			o(&opts)
		}
	}
	return opts
}

// WithKeyPrefix overrides DefaultKeyPrefix.
func WithKeyPrefix(p string) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withKeyPrefix = p
		}
	}
}

// WithCredentials provides ACL credentials.
func WithCredentials(username, password string) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withUsername = username
			o.withPassword = password
		}
	}
}

// WithDB selects the database number.
func WithDB(db int) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withDB = db
		}
	}
}

// WithTTL expires every saved key after d.  Zero keeps keys forever.
func WithTTL(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withTTL = d
		}
	}
}

// WithDialTimeout overrides DefaultDialTimeout.
func WithDialTimeout(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withDialTimeout = d
		}
	}
}
