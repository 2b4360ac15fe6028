// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// FileStorage is a Storage keeping every key in a single JSON object file.
// The file is only readable by its owner and is replaced atomically on
// every write.
type FileStorage struct {
	path string
	mu   sync.Mutex
}

// ensure that FileStorage implements the Storage interface
var _ Storage = (*FileStorage)(nil)

// NewFileStorage creates a FileStorage at path.  The parent directory is
// created if needed; the file itself is created on the first Save.
func NewFileStorage(path string) (*FileStorage, error) {
	const op = "storage.NewFileStorage"
	if path == "" {
		return nil, fmt.Errorf("%s: path is empty: %w", op, ErrInvalidParameter)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("%s: unable to create directory: %w", op, err)
	}
	return &FileStorage{path: path}, nil
}

// Path returns the file location.
func (f *FileStorage) Path() string {
	return f.path
}

// Save implements the Storage interface.
func (f *FileStorage) Save(_ context.Context, key, value string) error {
	const op = "FileStorage.Save"
	if key == "" {
		return fmt.Errorf("%s: key is empty: %w", op, ErrInvalidParameter)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	values, err := f.load()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	values[key] = value
	if err := f.store(values); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Get implements the Storage interface.
func (f *FileStorage) Get(_ context.Context, key string) (string, error) {
	const op = "FileStorage.Get"
	f.mu.Lock()
	defer f.mu.Unlock()
	values, err := f.load()
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	v, ok := values[key]
	if !ok {
		return "", fmt.Errorf("%s: %q: %w", op, key, ErrNotFound)
	}
	return v, nil
}

// Delete implements the Storage interface.
func (f *FileStorage) Delete(_ context.Context, key string) error {
	const op = "FileStorage.Delete"
	f.mu.Lock()
	defer f.mu.Unlock()
	values, err := f.load()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if _, ok := values[key]; !ok {
		return nil
	}
	delete(values, key)
	if err := f.store(values); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (f *FileStorage) load() (map[string]string, error) {
	data, err := os.ReadFile(f.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return map[string]string{}, nil
	case err != nil:
		return nil, fmt.Errorf("unable to read %s: %w", f.path, err)
	}
	values := map[string]string{}
	if len(data) == 0 {
		return values, nil
	}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("unable to parse %s: %w", f.path, err)
	}
	return values, nil
}

func (f *FileStorage) store(values map[string]string) error {
	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("unable to marshal values: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("unable to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("unable to set permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("unable to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("unable to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("unable to replace %s: %w", f.path, err)
	}
	return nil
}
