// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package encryption

import "errors"

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNilParameter     = errors.New("nil parameter")

	// key lifecycle errors

	ErrKeyNotFound    = errors.New("key not found")
	ErrInvalidKeys    = errors.New("invalid keys")
	ErrKeyInvalidated = errors.New("key invalidated")

	// cipher errors

	ErrEncryptFailed      = errors.New("encryption failed")
	ErrDecryptFailed      = errors.New("decryption failed")
	ErrInvalidCiphertext  = errors.New("invalid ciphertext")
	ErrUnsupportedKeyType = errors.New("unsupported key type")

	// device authentication errors

	ErrDeviceNotSecure      = errors.New("device is not secure")
	ErrUserNotAuthenticated = errors.New("user not authenticated on device")
	ErrAuthenticationFailed = errors.New("device authentication failed")
)
