// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package encryption

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ChunkDelimiter separates the encrypted chunks of a value.  It's not part of
// the standard base64 alphabet.
const ChunkDelimiter = ":"

// oaepOverhead is the OAEP padding overhead for SHA-256: 2*hLen + 2.
const oaepOverhead = 2*sha256.Size + 2

// ChunkSize returns the largest plaintext chunk RSA-OAEP(SHA-256) can
// encrypt with pub: 190 bytes for a 2048 bit key.
func ChunkSize(pub *rsa.PublicKey) int {
	if pub == nil {
		return 0
	}
	return pub.Size() - oaepOverhead
}

// KeyStoreManager is a Manager whose RSA keys live in a KeyStore.  Values
// longer than ChunkSize are split into chunks which are encrypted
// independently and joined with ChunkDelimiter.
type KeyStoreManager struct {
	ks    KeyStore
	alias string
	spec  KeySpec

	mu        sync.RWMutex
	key       crypto.Decrypter
	pub       *rsa.PublicKey
	chunkSize int
	hardware  bool
}

// ensure that KeyStoreManager implements the Manager interface
var _ Manager = (*KeyStoreManager)(nil)

// NewKeyStoreManager creates a manager using the keys under the alias in ks,
// generating them if they don't exist yet.
//
// Supported options: WithKeyAlias, WithKeySize
func NewKeyStoreManager(ks KeyStore, opt ...Option) (*KeyStoreManager, error) {
	const op = "encryption.NewKeyStoreManager"
	if ks == nil {
		return nil, fmt.Errorf("%s: key store is nil: %w", op, ErrNilParameter)
	}
	opts := getOpts(opt...)
	m, err := newKeyStoreManager(ks, opts.withKeyAlias, KeySpec{Bits: opts.withKeySize})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return m, nil
}

// newKeyStoreManager generates missing keys with the complete spec, so a key
// store sees the authentication requirements of the very first key.
func newKeyStoreManager(ks KeyStore, alias string, spec KeySpec) (*KeyStoreManager, error) {
	if ks == nil {
		return nil, fmt.Errorf("key store is nil: %w", ErrNilParameter)
	}
	if alias == "" {
		return nil, fmt.Errorf("key alias is empty: %w", ErrInvalidParameter)
	}
	m := &KeyStoreManager{
		ks:    ks,
		alias: alias,
		spec:  spec,
	}
	if err := m.init(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *KeyStoreManager) init() error {
	_, err := m.ks.Key(m.alias)
	switch {
	case errors.Is(err, ErrKeyNotFound):
		if err := m.ks.GenerateKey(m.alias, m.spec); err != nil {
			return fmt.Errorf("unable to generate keys: %w", err)
		}
	case err != nil:
		return fmt.Errorf("unable to read keys: %w", err)
	}
	return m.RecreateCipher()
}

// Alias returns the key store alias of the manager's keys.
func (m *KeyStoreManager) Alias() string {
	return m.alias
}

// Encrypt implements the Manager interface.
func (m *KeyStoreManager) Encrypt(value string) (string, error) {
	const op = "KeyStoreManager.Encrypt"
	m.mu.RLock()
	pub, size := m.pub, m.chunkSize
	m.mu.RUnlock()
	if pub == nil || size <= 0 {
		return "", fmt.Errorf("%s: %w", op, ErrInvalidKeys)
	}

	chunks := chunk([]byte(value), size)
	parts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		ct, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, c, nil)
		if err != nil {
			return "", fmt.Errorf("%s: %w: %s", op, ErrEncryptFailed, err)
		}
		parts = append(parts, base64.StdEncoding.EncodeToString(ct))
	}
	return strings.Join(parts, ChunkDelimiter), nil
}

// Decrypt implements the Manager interface.
func (m *KeyStoreManager) Decrypt(value string) (string, error) {
	const op = "KeyStoreManager.Decrypt"
	m.mu.RLock()
	key := m.key
	m.mu.RUnlock()
	if key == nil {
		return "", fmt.Errorf("%s: %w", op, ErrInvalidKeys)
	}
	if value == "" {
		return "", fmt.Errorf("%s: value is empty: %w", op, ErrInvalidCiphertext)
	}

	var sb strings.Builder
	for i, part := range strings.Split(value, ChunkDelimiter) {
		ct, err := base64.StdEncoding.DecodeString(part)
		if err != nil {
			return "", fmt.Errorf("%s: chunk %d: %w: %s", op, i, ErrInvalidCiphertext, err)
		}
		pt, err := key.Decrypt(rand.Reader, ct, &rsa.OAEPOptions{Hash: crypto.SHA256})
		if err != nil {
			return "", fmt.Errorf("%s: chunk %d: %w: %s", op, i, ErrDecryptFailed, err)
		}
		sb.Write(pt)
	}
	return sb.String(), nil
}

// Hashed implements the Manager interface.
func (m *KeyStoreManager) Hashed(value string) (string, error) {
	return hashed(value), nil
}

// IsHardwareBackedKeyStore implements the Manager interface.
func (m *KeyStoreManager) IsHardwareBackedKeyStore() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hardware
}

// RecreateCipher implements the Manager interface.  It reloads the key
// handle from the key store.
func (m *KeyStoreManager) RecreateCipher() error {
	const op = "KeyStoreManager.RecreateCipher"
	key, err := m.ks.Key(m.alias)
	if err != nil {
		m.reset()
		return fmt.Errorf("%s: %w", op, err)
	}
	pub, ok := key.Public().(*rsa.PublicKey)
	if !ok {
		m.reset()
		return fmt.Errorf("%s: %T: %w", op, key.Public(), ErrUnsupportedKeyType)
	}
	hw, err := m.ks.IsHardwareBacked(m.alias)
	if err != nil {
		m.reset()
		return fmt.Errorf("%s: %w", op, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.key = key
	m.pub = pub
	m.chunkSize = ChunkSize(pub)
	m.hardware = hw
	return nil
}

func (m *KeyStoreManager) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.key = nil
	m.pub = nil
	m.chunkSize = 0
}

// RemoveKeys implements the Manager interface.
func (m *KeyStoreManager) RemoveKeys() error {
	const op = "KeyStoreManager.RemoveKeys"
	m.reset()
	if err := m.ks.DeleteKey(m.alias); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// RecreateKeys implements the Manager interface.
func (m *KeyStoreManager) RecreateKeys() error {
	const op = "KeyStoreManager.RecreateKeys"
	if err := m.RemoveKeys(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := m.ks.GenerateKey(m.alias, m.spec); err != nil {
		return fmt.Errorf("%s: unable to generate keys: %w", op, err)
	}
	if err := m.RecreateCipher(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// IsValidKeys implements the Manager interface.  Keys are valid when the key
// store still holds them and a probe value round trips.
func (m *KeyStoreManager) IsValidKeys() bool {
	key, err := m.ks.Key(m.alias)
	if err != nil {
		return false
	}
	m.mu.RLock()
	pub := m.pub
	m.mu.RUnlock()
	if pub == nil {
		return false
	}
	current, ok := key.Public().(*rsa.PublicKey)
	if !ok || !current.Equal(pub) {
		return false
	}
	const probe = "appauth"
	ct, err := m.Encrypt(probe)
	if err != nil {
		return false
	}
	pt, err := m.Decrypt(ct)
	return err == nil && pt == probe
}

// IsUserAuthenticatedOnDevice implements the Manager interface.  The keys
// aren't gated, so it always returns true.
func (m *KeyStoreManager) IsUserAuthenticatedOnDevice() bool {
	return true
}

// Capability implements the Manager interface.
func (m *KeyStoreManager) Capability() Capability {
	if m.IsHardwareBackedKeyStore() {
		return HardwareBacked
	}
	return SoftwareBacked
}

// chunk splits data into slices of at most size bytes.  Empty data yields a
// single empty chunk so empty values still round trip.
func chunk(data []byte, size int) [][]byte {
	if len(data) == 0 {
		return [][]byte{{}}
	}
	chunks := make([][]byte, 0, (len(data)+size-1)/size)
	for len(data) > 0 {
		n := size
		if len(data) < n {
			n = len(data)
		}
		chunks = append(chunks, data[:n])
		data = data[n:]
	}
	return chunks
}
