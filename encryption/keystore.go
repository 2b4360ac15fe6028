// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package encryption

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"sync"
	"time"
)

// KeySpec describes a key to generate in a KeyStore.
type KeySpec struct {
	// Bits is the RSA modulus size.
	Bits int

	// RequireUserAuthentication asks the key store to only allow use of the
	// private key after a device authentication.
	RequireUserAuthentication bool

	// ValidityWindow is how long the key stays usable after a device
	// authentication.
	ValidityWindow time.Duration
}

// KeyStore is the platform key store collaborator.  Private keys are exposed
// as crypto.Decrypter so their material may stay in secure hardware.
type KeyStore interface {
	// GenerateKey creates an RSA key pair under alias, replacing any existing
	// one.
	GenerateKey(alias string, spec KeySpec) error

	// Key returns the private key handle for alias or ErrKeyNotFound.
	Key(alias string) (crypto.Decrypter, error)

	// DeleteKey removes alias.  Removing a missing alias is not an error.
	DeleteKey(alias string) error

	// IsHardwareBacked reports whether the key under alias lives in secure
	// hardware.
	IsHardwareBacked(alias string) (bool, error)
}

// Authenticator is the device authentication collaborator (biometric or
// device credential prompt).
type Authenticator interface {
	// IsDeviceSecure reports whether a device credential is enrolled.
	IsDeviceSecure() bool

	// Authenticate runs the authentication ceremony and returns nil once the
	// user authenticated.
	Authenticate(ctx context.Context) error
}

// SoftwareKeyStore is an in-memory KeyStore.  Keys don't survive the process
// and are never hardware backed.
type SoftwareKeyStore struct {
	mu   sync.RWMutex
	keys map[string]*rsa.PrivateKey
}

// ensure that SoftwareKeyStore implements the KeyStore interface
var _ KeyStore = (*SoftwareKeyStore)(nil)

// NewSoftwareKeyStore creates an empty SoftwareKeyStore.
func NewSoftwareKeyStore() *SoftwareKeyStore {
	return &SoftwareKeyStore{
		keys: map[string]*rsa.PrivateKey{},
	}
}

// GenerateKey implements the KeyStore interface.
func (s *SoftwareKeyStore) GenerateKey(alias string, spec KeySpec) error {
	const op = "SoftwareKeyStore.GenerateKey"
	if alias == "" {
		return fmt.Errorf("%s: alias is empty: %w", op, ErrInvalidParameter)
	}
	bits := spec.Bits
	if bits == 0 {
		bits = DefaultKeySize
	}
	k, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return fmt.Errorf("%s: unable to generate key: %w", op, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[alias] = k
	return nil
}

// Key implements the KeyStore interface.
func (s *SoftwareKeyStore) Key(alias string) (crypto.Decrypter, error) {
	const op = "SoftwareKeyStore.Key"
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.keys[alias]
	if !ok {
		return nil, fmt.Errorf("%s: %q: %w", op, alias, ErrKeyNotFound)
	}
	return k, nil
}

// DeleteKey implements the KeyStore interface.
func (s *SoftwareKeyStore) DeleteKey(alias string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, alias)
	return nil
}

// IsHardwareBacked implements the KeyStore interface.
func (s *SoftwareKeyStore) IsHardwareBacked(alias string) (bool, error) {
	const op = "SoftwareKeyStore.IsHardwareBacked"
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.keys[alias]; !ok {
		return false, fmt.Errorf("%s: %q: %w", op, alias, ErrKeyNotFound)
	}
	return false, nil
}
