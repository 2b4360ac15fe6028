// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package storage persists the client's records (provider configuration,
// pending web request and tokens) on a raw key-value Storage collaborator,
// encrypting each record through an encryption.Manager when the record asks
// for it.
package storage

import "context"

// Storage is the raw key-value collaborator.  Implementations must be safe
// for concurrent use.
type Storage interface {
	// Save stores value under key, replacing any previous value.
	Save(ctx context.Context, key, value string) error

	// Get returns the value under key or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Delete removes key.  Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// Persistable is a record which can be saved in a SecureStore.
type Persistable interface {
	// Key is the storage key of the record.
	Key() string

	// Persist serializes the record.
	Persist() (string, error)

	// Encrypt reports whether the record must be encrypted at rest.
	Encrypt() bool
}

// Restorer reads back a record of type T saved by a Persistable with the
// same key.
type Restorer[T any] interface {
	// Key is the storage key of the record.
	Key() string

	// Encrypted reports whether the record was saved encrypted.
	Encrypted() bool

	// Restore deserializes the record.
	Restore(data string) (T, error)
}
