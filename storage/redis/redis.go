// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package redis provides a storage.Storage backed by Redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/appauth/storage"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second
	DefaultKeyPrefix    = "appauth:"
)

// Storage implements storage.Storage on a Redis client.  Keys are namespaced
// with a prefix so several clients can share one database.
type Storage struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
}

// ensure that Storage implements the storage.Storage interface
var _ storage.Storage = (*Storage)(nil)

// NewStorage connects to addr and verifies the connection with a PING.
//
// Supported options: WithKeyPrefix, WithCredentials, WithDB, WithTTL,
// WithDialTimeout
func NewStorage(ctx context.Context, addr string, opt ...Option) (*Storage, error) {
	const op = "redis.NewStorage"
	if addr == "" {
		return nil, fmt.Errorf("%s: address is empty: %w", op, storage.ErrInvalidParameter)
	}
	opts := getOpts(opt...)
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Username:     opts.withUsername,
		Password:     opts.withPassword,
		DB:           opts.withDB,
		DialTimeout:  opts.withDialTimeout,
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%s: unable to connect to redis: %w", op, err)
	}
	return &Storage{
		client:    client,
		keyPrefix: opts.withKeyPrefix,
		ttl:       opts.withTTL,
	}, nil
}

// NewStorageWithClient wraps a pre-configured client.
//
// Supported options: WithKeyPrefix, WithTTL
func NewStorageWithClient(client redis.UniversalClient, opt ...Option) (*Storage, error) {
	const op = "redis.NewStorageWithClient"
	if client == nil {
		return nil, fmt.Errorf("%s: client is nil: %w", op, storage.ErrNilParameter)
	}
	opts := getOpts(opt...)
	return &Storage{
		client:    client,
		keyPrefix: opts.withKeyPrefix,
		ttl:       opts.withTTL,
	}, nil
}

// Save implements the storage.Storage interface.
func (s *Storage) Save(ctx context.Context, key, value string) error {
	const op = "redis.(Storage).Save"
	if key == "" {
		return fmt.Errorf("%s: key is empty: %w", op, storage.ErrInvalidParameter)
	}
	if err := s.client.Set(ctx, s.keyPrefix+key, value, s.ttl).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Get implements the storage.Storage interface.
func (s *Storage) Get(ctx context.Context, key string) (string, error) {
	const op = "redis.(Storage).Get"
	v, err := s.client.Get(ctx, s.keyPrefix+key).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return "", fmt.Errorf("%s: %q: %w", op, key, storage.ErrNotFound)
	case err != nil:
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return v, nil
}

// Delete implements the storage.Storage interface.
func (s *Storage) Delete(ctx context.Context, key string) error {
	const op = "redis.(Storage).Delete"
	if err := s.client.Del(ctx, s.keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Close closes the underlying client.
func (s *Storage) Close() error {
	return s.client.Close()
}
