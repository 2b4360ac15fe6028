// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/pbkdf2"
)

// PassphraseManager is a symmetric Manager using AES-256-GCM with a key
// derived from a passphrase via PBKDF2-SHA256.  It needs no key store, so
// it's always software backed.
type PassphraseManager struct {
	passphrase string
	salt       []byte
	iterations int

	mu   sync.RWMutex
	key  []byte
	aead cipher.AEAD
}

// ensure that PassphraseManager implements the Manager interface
var _ Manager = (*PassphraseManager)(nil)

// NewPassphraseManager creates a PassphraseManager.
//
// Supported options: WithSalt, WithIterations, WithKeyAlias (used as the salt
// when none is provided)
func NewPassphraseManager(passphrase string, opt ...Option) (*PassphraseManager, error) {
	const op = "encryption.NewPassphraseManager"
	if passphrase == "" {
		return nil, fmt.Errorf("%s: passphrase is empty: %w", op, ErrInvalidParameter)
	}
	opts := getOpts(opt...)
	if opts.withIterations <= 0 {
		return nil, fmt.Errorf("%s: iterations must be positive: %w", op, ErrInvalidParameter)
	}
	salt := opts.withSalt
	if len(salt) == 0 {
		salt = []byte(opts.withKeyAlias)
	}
	m := &PassphraseManager{
		passphrase: passphrase,
		salt:       salt,
		iterations: opts.withIterations,
	}
	if err := m.RecreateKeys(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return m, nil
}

// Encrypt implements the Manager interface.  The output is the base64
// encoding of nonce || ciphertext.
func (m *PassphraseManager) Encrypt(value string) (string, error) {
	const op = "PassphraseManager.Encrypt"
	m.mu.RLock()
	aead := m.aead
	m.mu.RUnlock()
	if aead == nil {
		return "", fmt.Errorf("%s: %w", op, ErrInvalidKeys)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("%s: %w: %s", op, ErrEncryptFailed, err)
	}
	ct := aead.Seal(nonce, nonce, []byte(value), nil)
	return base64.StdEncoding.EncodeToString(ct), nil
}

// Decrypt implements the Manager interface.
func (m *PassphraseManager) Decrypt(value string) (string, error) {
	const op = "PassphraseManager.Decrypt"
	m.mu.RLock()
	aead := m.aead
	m.mu.RUnlock()
	if aead == nil {
		return "", fmt.Errorf("%s: %w", op, ErrInvalidKeys)
	}
	data, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return "", fmt.Errorf("%s: %w: %s", op, ErrInvalidCiphertext, err)
	}
	if len(data) < aead.NonceSize() {
		return "", fmt.Errorf("%s: ciphertext too short: %w", op, ErrInvalidCiphertext)
	}
	nonce, ct := data[:aead.NonceSize()], data[aead.NonceSize():]
	pt, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("%s: %w: %s", op, ErrDecryptFailed, err)
	}
	return string(pt), nil
}

// Hashed implements the Manager interface.
func (m *PassphraseManager) Hashed(value string) (string, error) {
	return hashed(value), nil
}

// IsHardwareBackedKeyStore implements the Manager interface.
func (m *PassphraseManager) IsHardwareBackedKeyStore() bool { return false }

// RecreateCipher implements the Manager interface.
func (m *PassphraseManager) RecreateCipher() error {
	const op = "PassphraseManager.RecreateCipher"
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.key == nil {
		m.aead = nil
		return fmt.Errorf("%s: %w", op, ErrInvalidKeys)
	}
	block, err := aes.NewCipher(m.key)
	if err != nil {
		return fmt.Errorf("%s: unable to create cipher: %w", op, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("%s: unable to create GCM: %w", op, err)
	}
	m.aead = aead
	return nil
}

// RemoveKeys implements the Manager interface.
func (m *PassphraseManager) RemoveKeys() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.key {
		m.key[i] = 0
	}
	m.key = nil
	m.aead = nil
	return nil
}

// RecreateKeys implements the Manager interface.  The key is derived again
// from the passphrase, so values encrypted before remain readable.
func (m *PassphraseManager) RecreateKeys() error {
	key := pbkdf2.Key([]byte(m.passphrase), m.salt, m.iterations, 32, sha256.New)
	m.mu.Lock()
	m.key = key
	m.mu.Unlock()
	return m.RecreateCipher()
}

// IsValidKeys implements the Manager interface.
func (m *PassphraseManager) IsValidKeys() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.aead != nil
}

// IsUserAuthenticatedOnDevice implements the Manager interface.
func (m *PassphraseManager) IsUserAuthenticatedOnDevice() bool { return true }

// Capability implements the Manager interface.
func (m *PassphraseManager) Capability() Capability { return SoftwareBacked }
