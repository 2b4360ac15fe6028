// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package encryption

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// UserAuthManager is a KeyStoreManager whose cipher may only be used for a
// bounded validity window after a successful device authentication.
type UserAuthManager struct {
	*KeyStoreManager

	auth   Authenticator
	window time.Duration
	now    func() time.Time

	mu              sync.RWMutex
	authenticatedAt time.Time
}

// ensure that UserAuthManager implements the Authenticating interface
var _ Authenticating = (*UserAuthManager)(nil)

// NewUserAuthManager creates a manager gated by auth.  The device must be
// secure.
//
// Supported options: WithKeyAlias, WithKeySize, WithValidityWindow, WithNow
func NewUserAuthManager(ks KeyStore, auth Authenticator, opt ...Option) (*UserAuthManager, error) {
	const op = "encryption.NewUserAuthManager"
	if auth == nil {
		return nil, fmt.Errorf("%s: authenticator is nil: %w", op, ErrNilParameter)
	}
	if !auth.IsDeviceSecure() {
		return nil, fmt.Errorf("%s: %w", op, ErrDeviceNotSecure)
	}
	opts := getOpts(opt...)
	if opts.withValidityWindow <= 0 {
		return nil, fmt.Errorf("%s: validity window must be positive: %w", op, ErrInvalidParameter)
	}
	ksm, err := newKeyStoreManager(ks, opts.withKeyAlias, KeySpec{
		Bits:                      opts.withKeySize,
		RequireUserAuthentication: true,
		ValidityWindow:            opts.withValidityWindow,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &UserAuthManager{
		KeyStoreManager: ksm,
		auth:            auth,
		window:          opts.withValidityWindow,
		now:             opts.withNow,
	}, nil
}

// Authenticate runs the device authentication ceremony.  On success the
// cipher is usable for the validity window.
func (m *UserAuthManager) Authenticate(ctx context.Context) error {
	const op = "UserAuthManager.Authenticate"
	if !m.auth.IsDeviceSecure() {
		return fmt.Errorf("%s: %w", op, ErrDeviceNotSecure)
	}
	if err := m.auth.Authenticate(ctx); err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrAuthenticationFailed, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authenticatedAt = m.now()
	return nil
}

// IsUserAuthenticatedOnDevice implements the Manager interface.
func (m *UserAuthManager) IsUserAuthenticatedOnDevice() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.authenticatedAt.IsZero() {
		return false
	}
	return m.now().Sub(m.authenticatedAt) < m.window
}

// Encrypt implements the Manager interface.
func (m *UserAuthManager) Encrypt(value string) (string, error) {
	const op = "UserAuthManager.Encrypt"
	if !m.IsUserAuthenticatedOnDevice() {
		return "", fmt.Errorf("%s: %w", op, ErrUserNotAuthenticated)
	}
	return m.KeyStoreManager.Encrypt(value)
}

// Decrypt implements the Manager interface.
func (m *UserAuthManager) Decrypt(value string) (string, error) {
	const op = "UserAuthManager.Decrypt"
	if !m.IsUserAuthenticatedOnDevice() {
		return "", fmt.Errorf("%s: %w", op, ErrUserNotAuthenticated)
	}
	return m.KeyStoreManager.Decrypt(value)
}

// RecreateCipher implements the Manager interface.  The new cipher requires
// a new device authentication.
func (m *UserAuthManager) RecreateCipher() error {
	m.mu.Lock()
	m.authenticatedAt = time.Time{}
	m.mu.Unlock()
	return m.KeyStoreManager.RecreateCipher()
}

// RecreateKeys implements the Manager interface.
func (m *UserAuthManager) RecreateKeys() error {
	m.mu.Lock()
	m.authenticatedAt = time.Time{}
	m.mu.Unlock()
	return m.KeyStoreManager.RecreateKeys()
}

// IsValidKeys implements the Manager interface.  The probe round trip needs
// an authenticated cipher, so an unauthenticated manager only checks the key
// store still holds the keys.
func (m *UserAuthManager) IsValidKeys() bool {
	if m.IsUserAuthenticatedOnDevice() {
		return m.KeyStoreManager.IsValidKeys()
	}
	_, err := m.ks.Key(m.alias)
	return err == nil
}

// Capability implements the Manager interface.
func (m *UserAuthManager) Capability() Capability {
	return UserAuthGated
}
