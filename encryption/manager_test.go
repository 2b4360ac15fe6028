// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package encryption

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testKeySize keeps key generation fast while still exercising chunking.
const testKeySize = 1024

type testAuthenticator struct {
	mu      sync.Mutex
	secure  bool
	failure error
	calls   int
}

func (a *testAuthenticator) IsDeviceSecure() bool { return a.secure }

func (a *testAuthenticator) Authenticate(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	return a.failure
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestManager_RoundTrip(t *testing.T) {
	t.Parallel()
	ksm, err := NewKeyStoreManager(NewSoftwareKeyStore(), WithKeySize(testKeySize))
	require.NoError(t, err)
	pm, err := NewPassphraseManager("correct horse battery staple", WithIterations(1000))
	require.NoError(t, err)

	managers := map[string]Manager{
		"keystore":   ksm,
		"passphrase": pm,
		"plain":      NewPlainManager(),
	}
	values := []string{
		"",
		"a",
		`{"access_token":"abc","token_type":"Bearer"}`,
		strings.Repeat("x", 1000),
		strings.Repeat("€", 300),
	}
	for name, m := range managers {
		m := m
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			for _, v := range values {
				ct, err := m.Encrypt(v)
				require.NoError(err)
				pt, err := m.Decrypt(ct)
				require.NoError(err)
				assert.Equal(v, pt)
			}
		})
	}
}

func TestKeyStoreManager_Chunking(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	m, err := NewKeyStoreManager(NewSoftwareKeyStore(), WithKeySize(testKeySize))
	require.NoError(err)

	size := m.chunkSize
	assert.Equal(testKeySize/8-66, size)

	tests := []struct {
		name       string
		value      string
		wantChunks int
	}{
		{name: "empty", value: "", wantChunks: 1},
		{name: "one-byte", value: "a", wantChunks: 1},
		{name: "exact", value: strings.Repeat("a", size), wantChunks: 1},
		{name: "exact-plus-one", value: strings.Repeat("a", size+1), wantChunks: 2},
		{name: "three", value: strings.Repeat("a", 2*size+1), wantChunks: 3},
	}
	for _, tt := range tests {
		ct, err := m.Encrypt(tt.value)
		require.NoError(err, tt.name)
		assert.Len(strings.Split(ct, ChunkDelimiter), tt.wantChunks, tt.name)
		pt, err := m.Decrypt(ct)
		require.NoError(err, tt.name)
		assert.Equal(tt.value, pt, tt.name)
	}
}

func TestKeyStoreManager_Decrypt(t *testing.T) {
	t.Parallel()
	m, err := NewKeyStoreManager(NewSoftwareKeyStore(), WithKeySize(testKeySize))
	require.NoError(t, err)
	other, err := NewKeyStoreManager(NewSoftwareKeyStore(), WithKeySize(testKeySize))
	require.NoError(t, err)
	foreign, err := other.Encrypt("secret")
	require.NoError(t, err)

	tests := []struct {
		name      string
		value     string
		wantErrIs error
	}{
		{name: "empty", value: "", wantErrIs: ErrInvalidCiphertext},
		{name: "not-base64", value: "%%%", wantErrIs: ErrInvalidCiphertext},
		{name: "foreign-key", value: foreign, wantErrIs: ErrDecryptFailed},
		{name: "bad-chunk", value: "!!" + ChunkDelimiter + foreign, wantErrIs: ErrInvalidCiphertext},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := m.Decrypt(tt.value)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErrIs)
		})
	}
}

func TestKeyStoreManager_Keys(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ks := NewSoftwareKeyStore()
	m, err := NewKeyStoreManager(ks, WithKeySize(testKeySize), WithKeyAlias("test-alias"))
	require.NoError(err)
	assert.Equal("test-alias", m.Alias())
	assert.True(m.IsValidKeys())
	assert.False(m.IsHardwareBackedKeyStore())
	assert.Equal(SoftwareBacked, m.Capability())
	assert.True(m.IsUserAuthenticatedOnDevice())

	ct, err := m.Encrypt("before")
	require.NoError(err)

	// a second manager over the same alias shares the keys
	m2, err := NewKeyStoreManager(ks, WithKeySize(testKeySize), WithKeyAlias("test-alias"))
	require.NoError(err)
	pt, err := m2.Decrypt(ct)
	require.NoError(err)
	assert.Equal("before", pt)

	// rotating the keys from elsewhere invalidates m2's cipher
	require.NoError(m.RecreateKeys())
	assert.True(m.IsValidKeys())
	assert.False(m2.IsValidKeys())
	_, err = m.Decrypt(ct)
	assert.ErrorIs(err, ErrDecryptFailed)

	require.NoError(m.RemoveKeys())
	assert.False(m.IsValidKeys())
	_, err = m.Encrypt("after")
	assert.ErrorIs(err, ErrInvalidKeys)
	err = m.RecreateCipher()
	assert.ErrorIs(err, ErrKeyNotFound)
}

func TestNewKeyStoreManager(t *testing.T) {
	t.Parallel()
	_, err := NewKeyStoreManager(nil)
	assert.ErrorIs(t, err, ErrNilParameter)
	_, err = NewKeyStoreManager(NewSoftwareKeyStore(), WithKeyAlias(""))
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

func TestUserAuthManager(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	clock := &testClock{now: time.Now()}
	auth := &testAuthenticator{secure: true}
	m, err := NewUserAuthManager(NewSoftwareKeyStore(), auth,
		WithKeySize(testKeySize),
		WithValidityWindow(10*time.Second),
		WithNow(clock.Now),
	)
	require.NoError(err)
	assert.Equal(UserAuthGated, m.Capability())
	assert.False(m.IsUserAuthenticatedOnDevice())
	assert.True(m.IsValidKeys())

	_, err = m.Encrypt("secret")
	assert.ErrorIs(err, ErrUserNotAuthenticated)

	require.NoError(m.Authenticate(context.Background()))
	assert.True(m.IsUserAuthenticatedOnDevice())
	ct, err := m.Encrypt("secret")
	require.NoError(err)
	pt, err := m.Decrypt(ct)
	require.NoError(err)
	assert.Equal("secret", pt)

	clock.Advance(11 * time.Second)
	assert.False(m.IsUserAuthenticatedOnDevice())
	_, err = m.Decrypt(ct)
	assert.ErrorIs(err, ErrUserNotAuthenticated)

	require.NoError(m.Authenticate(context.Background()))
	require.NoError(m.RecreateCipher())
	assert.False(m.IsUserAuthenticatedOnDevice())

	auth.failure = errors.New("canceled by user")
	err = m.Authenticate(context.Background())
	assert.ErrorIs(err, ErrAuthenticationFailed)
	assert.False(m.IsUserAuthenticatedOnDevice())
	assert.Equal(3, auth.calls)
}

func TestNewUserAuthManager(t *testing.T) {
	t.Parallel()
	_, err := NewUserAuthManager(NewSoftwareKeyStore(), nil)
	assert.ErrorIs(t, err, ErrNilParameter)
	_, err = NewUserAuthManager(NewSoftwareKeyStore(), &testAuthenticator{})
	assert.ErrorIs(t, err, ErrDeviceNotSecure)
	_, err = NewUserAuthManager(NewSoftwareKeyStore(), &testAuthenticator{secure: true}, WithValidityWindow(0))
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

// recordingKeyStore records the specs keys are generated with.
type recordingKeyStore struct {
	*SoftwareKeyStore
	mu    sync.Mutex
	specs []KeySpec
}

func (r *recordingKeyStore) GenerateKey(alias string, spec KeySpec) error {
	r.mu.Lock()
	r.specs = append(r.specs, spec)
	r.mu.Unlock()
	return r.SoftwareKeyStore.GenerateKey(alias, spec)
}

func TestUserAuthManager_KeySpec(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ks := &recordingKeyStore{SoftwareKeyStore: NewSoftwareKeyStore()}
	m, err := NewUserAuthManager(ks, &testAuthenticator{secure: true},
		WithKeySize(testKeySize),
		WithValidityWindow(time.Minute),
	)
	require.NoError(err)

	want := KeySpec{Bits: testKeySize, RequireUserAuthentication: true, ValidityWindow: time.Minute}
	require.Len(ks.specs, 1)
	assert.Equal(want, ks.specs[0])

	require.NoError(m.RecreateKeys())
	require.Len(ks.specs, 2)
	assert.Equal(want, ks.specs[1])

	// keys of a plain key store manager aren't gated
	plain := &recordingKeyStore{SoftwareKeyStore: NewSoftwareKeyStore()}
	_, err = NewKeyStoreManager(plain, WithKeySize(testKeySize))
	require.NoError(err)
	require.Len(plain.specs, 1)
	assert.Equal(KeySpec{Bits: testKeySize}, plain.specs[0])
}

func TestPassphraseManager(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	m, err := NewPassphraseManager("pass", WithIterations(1000), WithSalt([]byte("salt")))
	require.NoError(err)
	assert.Equal(SoftwareBacked, m.Capability())

	ct, err := m.Encrypt("secret")
	require.NoError(err)
	ct2, err := m.Encrypt("secret")
	require.NoError(err)
	assert.NotEqual(ct, ct2, "nonces must differ")

	// same passphrase and salt derive the same key
	same, err := NewPassphraseManager("pass", WithIterations(1000), WithSalt([]byte("salt")))
	require.NoError(err)
	pt, err := same.Decrypt(ct)
	require.NoError(err)
	assert.Equal("secret", pt)

	wrong, err := NewPassphraseManager("other", WithIterations(1000), WithSalt([]byte("salt")))
	require.NoError(err)
	_, err = wrong.Decrypt(ct)
	assert.ErrorIs(err, ErrDecryptFailed)
	_, err = m.Decrypt("AAAA")
	assert.ErrorIs(err, ErrInvalidCiphertext)

	require.NoError(m.RemoveKeys())
	assert.False(m.IsValidKeys())
	_, err = m.Encrypt("x")
	assert.ErrorIs(err, ErrInvalidKeys)
	require.NoError(m.RecreateKeys())
	pt, err = m.Decrypt(ct)
	require.NoError(err)
	assert.Equal("secret", pt)

	_, err = NewPassphraseManager("")
	assert.ErrorIs(err, ErrInvalidParameter)
	_, err = NewPassphraseManager("pass", WithIterations(0))
	assert.ErrorIs(err, ErrInvalidParameter)
}

func TestNewManager(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		opts      []Option
		want      Capability
		wantErrIs error
	}{
		{name: "plain", opts: []Option{WithEncryptionDisabled()}, want: Plain},
		{name: "passphrase", opts: []Option{WithPassphrase("p"), WithIterations(1000)}, want: SoftwareBacked},
		{name: "default", opts: []Option{WithKeySize(testKeySize)}, want: SoftwareBacked},
		{
			name: "gated",
			opts: []Option{WithKeySize(testKeySize), WithAuthenticator(&testAuthenticator{secure: true})},
			want: UserAuthGated,
		},
		{
			name:      "insecure-device",
			opts:      []Option{WithKeySize(testKeySize), WithAuthenticator(&testAuthenticator{})},
			wantErrIs: ErrDeviceNotSecure,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			m, err := NewManager(tt.opts...)
			if tt.wantErrIs != nil {
				require.Error(err)
				assert.ErrorIs(err, tt.wantErrIs)
				return
			}
			require.NoError(err)
			assert.Equal(tt.want, m.Capability())
		})
	}
}

func TestHashed(t *testing.T) {
	t.Parallel()
	h, err := NewPlainManager().Hashed("abc")
	require.NoError(t, err)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", h)
}
