// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/hashicorp/appauth/encryption"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
)

// SecureStore saves Persistable records on a Storage, encrypting the ones
// which ask for it with the active encryption.Manager.  Every key it saves is
// recorded in a plain index entry so a manager migration can find the
// encrypted entries and Clear can remove everything.
//
// MigrateTo is serialized against all other operations.
type SecureStore struct {
	storage  Storage
	indexKey string
	logger   hclog.Logger

	mu      sync.RWMutex
	manager encryption.Manager
}

// NewSecureStore creates a SecureStore.
//
// Supported options: WithLogger, WithIndexKey
func NewSecureStore(s Storage, m encryption.Manager, opt ...Option) (*SecureStore, error) {
	const op = "storage.NewSecureStore"
	switch {
	case s == nil:
		return nil, fmt.Errorf("%s: storage is nil: %w", op, ErrNilParameter)
	case m == nil:
		return nil, fmt.Errorf("%s: encryption manager is nil: %w", op, ErrNilParameter)
	}
	opts := getOpts(opt...)
	if opts.withIndexKey == "" {
		return nil, fmt.Errorf("%s: index key is empty: %w", op, ErrInvalidParameter)
	}
	return &SecureStore{
		storage:  s,
		indexKey: opts.withIndexKey,
		logger:   opts.withLogger,
		manager:  m,
	}, nil
}

// Manager returns the active encryption manager.
func (s *SecureStore) Manager() encryption.Manager {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.manager
}

// Save persists p, encrypting it when p.Encrypt() is true.
func (s *SecureStore) Save(ctx context.Context, p Persistable) error {
	const op = "SecureStore.Save"
	if p == nil {
		return fmt.Errorf("%s: persistable is nil: %w", op, ErrNilParameter)
	}
	key := p.Key()
	if key == "" || key == s.indexKey {
		return fmt.Errorf("%s: invalid key %q: %w", op, key, ErrInvalidParameter)
	}
	value, err := p.Persist()
	if err != nil {
		return fmt.Errorf("%s: unable to persist %q: %w", op, key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if p.Encrypt() {
		if value, err = s.manager.Encrypt(value); err != nil {
			return fmt.Errorf("%s: %q: %w: %w", op, key, ErrEncryptFailed, err)
		}
	}
	// a value is never stored without an index entry
	idx, err := s.readIndex(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	previous, indexed := idx[key]
	changed := !indexed || previous != p.Encrypt()
	if changed {
		idx[key] = p.Encrypt()
		if err := s.writeIndex(ctx, idx); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	if err := s.storage.Save(ctx, key, value); err != nil {
		if !changed || !indexed {
			return fmt.Errorf("%s: %w", op, err)
		}
		// the previous value is still stored
		var result *multierror.Error
		result = multierror.Append(result, fmt.Errorf("%q: %w", key, err))
		idx[key] = previous
		if rerr := s.writeIndex(ctx, idx); rerr != nil {
			result = multierror.Append(result, fmt.Errorf("rollback %q: %w", s.indexKey, rerr))
		}
		return fmt.Errorf("%s: %w", op, result.ErrorOrNil())
	}
	return nil
}

// Get restores the record of r.  A missing entry, an entry which fails to
// decrypt or one which fails to restore yields the zero value of T and no
// error; the last two are logged.  Only storage failures are returned.
func Get[T any](ctx context.Context, s *SecureStore, r Restorer[T]) (T, error) {
	const op = "storage.Get"
	var zero T
	if s == nil {
		return zero, fmt.Errorf("%s: secure store is nil: %w", op, ErrNilParameter)
	}
	if r == nil {
		return zero, fmt.Errorf("%s: restorer is nil: %w", op, ErrNilParameter)
	}
	key := r.Key()

	s.mu.RLock()
	defer s.mu.RUnlock()
	value, err := s.storage.Get(ctx, key)
	switch {
	case errors.Is(err, ErrNotFound):
		return zero, nil
	case err != nil:
		return zero, fmt.Errorf("%s: %w", op, err)
	}
	if r.Encrypted() {
		if value, err = s.manager.Decrypt(value); err != nil {
			s.logger.Warn("unable to decrypt entry", "key", key, "error", err)
			return zero, nil
		}
	}
	t, err := r.Restore(value)
	if err != nil {
		s.logger.Warn("unable to restore entry", "key", key, "error", err)
		return zero, nil
	}
	return t, nil
}

// Delete removes key.
func (s *SecureStore) Delete(ctx context.Context, key string) error {
	const op = "SecureStore.Delete"
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.storage.Delete(ctx, key); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	idx, err := s.readIndex(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if _, ok := idx[key]; ok {
		delete(idx, key)
		if err := s.writeIndex(ctx, idx); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return nil
}

// Clear removes every indexed entry, the additional keys and the index
// itself.  It attempts every deletion and returns the aggregated failures.
func (s *SecureStore) Clear(ctx context.Context, keys ...string) error {
	const op = "SecureStore.Clear"
	s.mu.Lock()
	defer s.mu.Unlock()

	var result *multierror.Error
	all := map[string]struct{}{}
	idx, err := s.readIndex(ctx)
	if err != nil {
		result = multierror.Append(result, err)
	}
	for k := range idx {
		all[k] = struct{}{}
	}
	for _, k := range keys {
		all[k] = struct{}{}
	}
	for _, k := range sortedKeys(all) {
		if err := s.storage.Delete(ctx, k); err != nil {
			result = multierror.Append(result, fmt.Errorf("%q: %w", k, err))
		}
	}
	if err := s.storage.Delete(ctx, s.indexKey); err != nil {
		result = multierror.Append(result, fmt.Errorf("%q: %w", s.indexKey, err))
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// MigrateTo re-encrypts every encrypted entry with m and makes m the active
// manager.  Every entry is decrypted and re-encrypted in memory before
// anything is written; a failure there leaves the store untouched.  When a
// write fails, the entries already written are restored to their previous
// values.  The active manager only changes on success.
func (s *SecureStore) MigrateTo(ctx context.Context, m encryption.Manager) error {
	const op = "SecureStore.MigrateTo"
	if m == nil {
		return fmt.Errorf("%s: encryption manager is nil: %w", op, ErrNilParameter)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.readIndex(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrMigrationFailed, err)
	}

	type entry struct {
		key, previous, next string
	}
	var entries []entry
	for _, key := range sortedKeys(idx) {
		if !idx[key] {
			continue
		}
		raw, err := s.storage.Get(ctx, key)
		switch {
		case errors.Is(err, ErrNotFound):
			continue
		case err != nil:
			return fmt.Errorf("%s: %w: %q: %w", op, ErrMigrationFailed, key, err)
		}
		plain, err := s.manager.Decrypt(raw)
		if err != nil {
			return fmt.Errorf("%s: %w: unable to decrypt %q: %w", op, ErrMigrationFailed, key, err)
		}
		next, err := m.Encrypt(plain)
		if err != nil {
			return fmt.Errorf("%s: %w: unable to encrypt %q: %w", op, ErrMigrationFailed, key, err)
		}
		entries = append(entries, entry{key: key, previous: raw, next: next})
	}

	for i, e := range entries {
		if err := s.storage.Save(ctx, e.key, e.next); err != nil {
			var result *multierror.Error
			result = multierror.Append(result, fmt.Errorf("%q: %w", e.key, err))
			for _, w := range entries[:i] {
				if rerr := s.storage.Save(ctx, w.key, w.previous); rerr != nil {
					result = multierror.Append(result, fmt.Errorf("rollback %q: %w", w.key, rerr))
				}
			}
			return fmt.Errorf("%s: %w: %w", op, ErrMigrationFailed, result.ErrorOrNil())
		}
	}
	s.logger.Debug("migrated secure store", "entries", len(entries), "capability", m.Capability().String())
	s.manager = m
	return nil
}

// Keys returns the indexed keys and whether each is encrypted.
func (s *SecureStore) Keys(ctx context.Context) (map[string]bool, error) {
	const op = "SecureStore.Keys"
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, err := s.readIndex(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return idx, nil
}

func (s *SecureStore) readIndex(ctx context.Context) (map[string]bool, error) {
	idx := map[string]bool{}
	raw, err := s.storage.Get(ctx, s.indexKey)
	switch {
	case errors.Is(err, ErrNotFound):
		return idx, nil
	case err != nil:
		return nil, fmt.Errorf("unable to read index: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), &idx); err != nil {
		s.logger.Warn("discarding corrupt index", "error", err)
		return map[string]bool{}, nil
	}
	return idx, nil
}

func (s *SecureStore) writeIndex(ctx context.Context, idx map[string]bool) error {
	data, err := json.Marshal(idx)
	if err != nil {
		return fmt.Errorf("unable to marshal index: %w", err)
	}
	if err := s.storage.Save(ctx, s.indexKey, string(data)); err != nil {
		return fmt.Errorf("unable to write index: %w", err)
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
