// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package storage

import "github.com/hashicorp/go-hclog"

// DefaultIndexKey is the plain entry in which a SecureStore records the keys
// it saved.
const DefaultIndexKey = "SecureStoreIndex"

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

type options struct {
	withLogger   hclog.Logger
	withIndexKey string
}

func getDefaults() options {
	return options{
		withLogger:   hclog.NewNullLogger(),
		withIndexKey: DefaultIndexKey,
	}
}

func getOpts(opt ...Option) options {
	opts := getDefaults()
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

// WithLogger provides an optional logger.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && l != nil {
			o.withLogger = l
		}
	}
}

// WithIndexKey overrides DefaultIndexKey.
func WithIndexKey(k string) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withIndexKey = k
		}
	}
}
