// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package id provides the random identifiers used throughout an
// authorization flow: opaque state and nonce values, PKCE code verifiers and
// request correlation ids.
package id

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/hashicorp/go-uuid"
)

// ErrInvalidLength is returned when a requested random length is not
// positive.
var ErrInvalidLength = errors.New("invalid length")

// Reader is the source of randomness for Random.  Tests may replace it.
var Reader io.Reader = rand.Reader

// Random returns byteLen cryptographically random bytes encoded as URL safe
// base64 without padding.  The result only contains characters from the
// RFC 7636 unreserved set.
func Random(byteLen int) (string, error) {
	const op = "id.Random"
	if byteLen <= 0 {
		return "", fmt.Errorf("%s: %d: %w", op, byteLen, ErrInvalidLength)
	}
	b := make([]byte, byteLen)
	if _, err := io.ReadFull(Reader, b); err != nil {
		return "", fmt.Errorf("%s: unable to read random bytes: %w", op, err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// New generates a UUID with an optional prefix.  It's suitable for
// correlating a launched user-agent with the result it reports back.
func New(optionalPrefix string) (string, error) {
	id, err := uuid.GenerateUUID()
	if err != nil {
		return "", fmt.Errorf("unable to generate id: %w", err)
	}
	switch {
	case optionalPrefix != "":
		return fmt.Sprintf("%s_%s", optionalPrefix, id), nil
	default:
		return id, nil
	}
}
