// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package encryption provides the encryption managers used to protect
// persisted credentials.  A Manager is selected by NewManager according to
// the capabilities of the platform: a pass-through manager, managers backed
// by a software or hardware key store, a manager whose keys are gated by
// device authentication, and a symmetric passphrase manager.
package encryption

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
)

// Capability tags the protection a Manager offers.
type Capability int

const (
	Plain Capability = iota
	SoftwareBacked
	HardwareBacked
	UserAuthGated
)

// String returns the capability name.
func (c Capability) String() string {
	switch c {
	case Plain:
		return "plain"
	case SoftwareBacked:
		return "software-backed"
	case HardwareBacked:
		return "hardware-backed"
	case UserAuthGated:
		return "user-auth-gated"
	default:
		return "unknown"
	}
}

// Manager encrypts and decrypts persisted values.  Implementations must be
// safe for concurrent use and must satisfy Decrypt(Encrypt(s)) == s.
type Manager interface {
	// Encrypt returns the ciphertext of value.
	Encrypt(value string) (string, error)

	// Decrypt returns the plaintext of a value produced by Encrypt.
	Decrypt(value string) (string, error)

	// Hashed returns the hex encoded SHA-256 digest of value.
	Hashed(value string) (string, error)

	// IsHardwareBackedKeyStore reports whether the key material never leaves
	// secure hardware.
	IsHardwareBackedKeyStore() bool

	// RecreateCipher reloads the cipher from the current keys.
	RecreateCipher() error

	// RemoveKeys deletes the keys.  Values encrypted with them can no longer
	// be decrypted.
	RemoveKeys() error

	// RecreateKeys removes and generates new keys.
	RecreateKeys() error

	// IsValidKeys reports whether the keys exist and are usable.
	IsValidKeys() bool

	// IsUserAuthenticatedOnDevice reports whether the cipher may currently be
	// used.  Managers that aren't gated by device authentication always
	// return true.
	IsUserAuthenticatedOnDevice() bool

	// Capability returns the capability tag of the manager.
	Capability() Capability
}

// Authenticating is implemented by managers which require a device
// authentication ceremony before their cipher can be used.
type Authenticating interface {
	Manager
	Authenticate(ctx context.Context) error
}

func hashed(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
