// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package encryption

import "fmt"

// NewManager probes the capabilities provided through its options and
// returns the most protective Manager they allow:
//   - WithEncryptionDisabled: Plain
//   - WithPassphrase: a symmetric SoftwareBacked manager
//   - WithAuthenticator: UserAuthGated; fails with ErrDeviceNotSecure when
//     the device has no credential enrolled
//   - otherwise HardwareBacked or SoftwareBacked, depending on the key store
//     (an in-memory SoftwareKeyStore when WithKeyStore isn't provided)
//
// Supported options: WithEncryptionDisabled, WithPassphrase, WithSalt,
// WithIterations, WithKeyStore, WithAuthenticator, WithKeyAlias, WithKeySize,
// WithValidityWindow, WithNow
func NewManager(opt ...Option) (Manager, error) {
	const op = "encryption.NewManager"
	opts := getOpts(opt...)
	switch {
	case opts.withPlain:
		return NewPlainManager(), nil
	case opts.withPassphrase != "":
		m, err := NewPassphraseManager(opts.withPassphrase, opt...)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return m, nil
	}

	ks := opts.withKeyStore
	if ks == nil {
		ks = NewSoftwareKeyStore()
	}
	if opts.withAuthenticator != nil {
		m, err := NewUserAuthManager(ks, opts.withAuthenticator, opt...)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return m, nil
	}
	m, err := NewKeyStoreManager(ks, opt...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return m, nil
}
