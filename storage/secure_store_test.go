// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/hashicorp/appauth/encryption"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testRecord struct {
	Name    string `json:"name"`
	Value   int    `json:"value"`
	key     string
	encrypt bool
}

func (r *testRecord) Key() string   { return r.key }
func (r *testRecord) Encrypt() bool { return r.encrypt }
func (r *testRecord) Persist() (string, error) {
	b, err := json.Marshal(r)
	return string(b), err
}

type testRestorer struct {
	key       string
	encrypted bool
}

func (r testRestorer) Key() string     { return r.key }
func (r testRestorer) Encrypted() bool { return r.encrypted }
func (r testRestorer) Restore(data string) (*testRecord, error) {
	var rec testRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, err
	}
	rec.key, rec.encrypt = r.key, r.encrypted
	return &rec, nil
}

// failingStorage wraps a MemoryStorage and fails Save for the listed keys.
type failingStorage struct {
	*MemoryStorage
	mu       sync.Mutex
	failSave map[string]bool
}

func (f *failingStorage) Save(ctx context.Context, key, value string) error {
	f.mu.Lock()
	fail := f.failSave[key]
	f.mu.Unlock()
	if fail {
		return errors.New("write failed")
	}
	return f.MemoryStorage.Save(ctx, key, value)
}

func (f *failingStorage) setFailSave(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failSave[key] = true
}

func testManager(t *testing.T, passphrase string) encryption.Manager {
	t.Helper()
	m, err := encryption.NewPassphraseManager(passphrase, encryption.WithIterations(1000))
	require.NoError(t, err)
	return m
}

func TestSecureStore_SaveGet(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	raw := NewMemoryStorage()
	s, err := NewSecureStore(raw, testManager(t, "p1"))
	require.NoError(err)

	secret := &testRecord{Name: "secret", Value: 1, key: "secret", encrypt: true}
	public := &testRecord{Name: "public", Value: 2, key: "public"}
	require.NoError(s.Save(ctx, secret))
	require.NoError(s.Save(ctx, public))

	stored, err := raw.Get(ctx, "secret")
	require.NoError(err)
	assert.NotContains(stored, "secret")
	stored, err = raw.Get(ctx, "public")
	require.NoError(err)
	assert.Contains(stored, `"name":"public"`)

	got, err := Get[*testRecord](ctx, s, testRestorer{key: "secret", encrypted: true})
	require.NoError(err)
	require.NotNil(got)
	assert.Equal("secret", got.Name)
	assert.Equal(1, got.Value)

	got, err = Get[*testRecord](ctx, s, testRestorer{key: "public"})
	require.NoError(err)
	require.NotNil(got)
	assert.Equal(2, got.Value)

	keys, err := s.Keys(ctx)
	require.NoError(err)
	assert.Equal(map[string]bool{"secret": true, "public": false}, keys)

	assert.ErrorIs(s.Save(ctx, &testRecord{key: DefaultIndexKey}), ErrInvalidParameter)
	assert.ErrorIs(s.Save(ctx, nil), ErrNilParameter)
}

func TestSecureStore_GetSwallowsBadEntries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	raw := NewMemoryStorage()
	s, err := NewSecureStore(raw, testManager(t, "p1"))
	require.NoError(t, err)
	require.NoError(t, raw.Save(ctx, "undecryptable", "bm90IGNpcGhlcnRleHQ="))
	require.NoError(t, raw.Save(ctx, "unparsable", "{"))

	tests := []struct {
		name     string
		restorer testRestorer
	}{
		{name: "missing", restorer: testRestorer{key: "missing", encrypted: true}},
		{name: "undecryptable", restorer: testRestorer{key: "undecryptable", encrypted: true}},
		{name: "unparsable", restorer: testRestorer{key: "unparsable"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Get[*testRecord](ctx, s, tt.restorer)
			require.NoError(t, err)
			assert.Nil(t, got)
		})
	}
}

func TestSecureStore_DeleteClear(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	raw := NewMemoryStorage()
	s, err := NewSecureStore(raw, encryption.NewPlainManager())
	require.NoError(err)

	require.NoError(s.Save(ctx, &testRecord{key: "a", encrypt: true}))
	require.NoError(s.Save(ctx, &testRecord{key: "b"}))
	require.NoError(s.Delete(ctx, "a"))
	require.NoError(s.Delete(ctx, "never-saved"))
	keys, err := s.Keys(ctx)
	require.NoError(err)
	assert.Equal(map[string]bool{"b": false}, keys)

	require.NoError(raw.Save(ctx, "unindexed", "x"))
	require.NoError(s.Clear(ctx, "unindexed"))
	assert.Equal(0, raw.Len())
}

func TestSecureStore_SaveIndexFirst(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("value-write-fails", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		raw := &failingStorage{MemoryStorage: NewMemoryStorage(), failSave: map[string]bool{}}
		s, err := NewSecureStore(raw, encryption.NewPlainManager())
		require.NoError(err)

		raw.setFailSave("a")
		require.Error(s.Save(ctx, &testRecord{key: "a", encrypt: true}))
		keys, err := s.Keys(ctx)
		require.NoError(err)
		assert.Equal(map[string]bool{"a": true}, keys)

		// the indexed key is cleared although no value was written
		require.NoError(s.Clear(ctx))
		assert.Equal(0, raw.Len())
	})
	t.Run("index-write-fails", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		raw := &failingStorage{MemoryStorage: NewMemoryStorage(), failSave: map[string]bool{}}
		s, err := NewSecureStore(raw, encryption.NewPlainManager())
		require.NoError(err)

		raw.setFailSave(DefaultIndexKey)
		require.Error(s.Save(ctx, &testRecord{key: "a"}))
		_, err = raw.Get(ctx, "a")
		assert.ErrorIs(err, ErrNotFound)
	})
	t.Run("flag-restored", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		raw := &failingStorage{MemoryStorage: NewMemoryStorage(), failSave: map[string]bool{}}
		s, err := NewSecureStore(raw, encryption.NewPlainManager())
		require.NoError(err)

		require.NoError(s.Save(ctx, &testRecord{key: "a"}))
		raw.setFailSave("a")
		require.Error(s.Save(ctx, &testRecord{key: "a", encrypt: true}))
		keys, err := s.Keys(ctx)
		require.NoError(err)
		assert.Equal(map[string]bool{"a": false}, keys)
	})
}

func TestSecureStore_MigrateTo(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	setup := func(t *testing.T) (*failingStorage, *SecureStore, encryption.Manager) {
		t.Helper()
		raw := &failingStorage{MemoryStorage: NewMemoryStorage(), failSave: map[string]bool{}}
		old := testManager(t, "old")
		s, err := NewSecureStore(raw, old)
		require.NoError(t, err)
		for _, k := range []string{"a", "b", "c"} {
			require.NoError(t, s.Save(ctx, &testRecord{Name: k, key: k, encrypt: true}))
		}
		require.NoError(t, s.Save(ctx, &testRecord{Name: "plain", key: "plain"}))
		return raw, s, old
	}

	t.Run("success", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		raw, s, old := setup(t)
		next := testManager(t, "new")
		plainBefore, err := raw.Get(ctx, "plain")
		require.NoError(err)

		require.NoError(s.MigrateTo(ctx, next))
		assert.Same(next, s.Manager())
		for _, k := range []string{"a", "b", "c"} {
			got, err := Get[*testRecord](ctx, s, testRestorer{key: k, encrypted: true})
			require.NoError(err)
			require.NotNil(got, k)
			assert.Equal(k, got.Name)

			v, err := raw.Get(ctx, k)
			require.NoError(err)
			_, err = old.Decrypt(v)
			assert.ErrorIs(err, encryption.ErrDecryptFailed)
		}
		plainAfter, err := raw.Get(ctx, "plain")
		require.NoError(err)
		assert.Equal(plainBefore, plainAfter)
	})

	t.Run("decrypt-failure-writes-nothing", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		raw, s, old := setup(t)
		require.NoError(raw.MemoryStorage.Save(ctx, "b", "Zm9vYmFyYmF6cXV4cXV1eA=="))
		before := map[string]string{}
		for _, k := range []string{"a", "c"} {
			before[k], _ = raw.Get(ctx, k)
		}

		err := s.MigrateTo(ctx, testManager(t, "new"))
		require.Error(err)
		assert.ErrorIs(err, ErrMigrationFailed)
		assert.Same(old, s.Manager())
		for k, v := range before {
			after, err := raw.Get(ctx, k)
			require.NoError(err)
			assert.Equal(v, after)
		}
	})

	t.Run("write-failure-rolls-back", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		raw, s, old := setup(t)
		before := map[string]string{}
		for _, k := range []string{"a", "b", "c"} {
			before[k], _ = raw.Get(ctx, k)
		}
		raw.setFailSave("c")

		err := s.MigrateTo(ctx, testManager(t, "new"))
		require.Error(err)
		assert.ErrorIs(err, ErrMigrationFailed)
		assert.True(strings.Contains(err.Error(), "write failed"))
		assert.Same(old, s.Manager())
		for k, v := range before {
			after, err := raw.Get(ctx, k)
			require.NoError(err)
			assert.Equal(v, after, k)
		}
		got, err := Get[*testRecord](ctx, s, testRestorer{key: "a", encrypted: true})
		require.NoError(err)
		require.NotNil(got)
		assert.Equal("a", got.Name)
	})

	t.Run("nil-manager", func(t *testing.T) {
		t.Parallel()
		_, s, _ := setup(t)
		assert.ErrorIs(t, s.MigrateTo(ctx, nil), ErrNilParameter)
	})
}

func TestNewSecureStore(t *testing.T) {
	t.Parallel()
	_, err := NewSecureStore(nil, encryption.NewPlainManager())
	assert.ErrorIs(t, err, ErrNilParameter)
	_, err = NewSecureStore(NewMemoryStorage(), nil)
	assert.ErrorIs(t, err, ErrNilParameter)
	_, err = NewSecureStore(NewMemoryStorage(), encryption.NewPlainManager(), WithIndexKey(""))
	assert.ErrorIs(t, err, ErrInvalidParameter)
}
