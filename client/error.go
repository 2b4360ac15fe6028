// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package client

import (
	"errors"

	"github.com/hashicorp/appauth/oidc"
	"github.com/hashicorp/appauth/storage"
)

var (
	ErrInvalidParameter   = errors.New("invalid parameter")
	ErrNilParameter       = errors.New("nil parameter")
	ErrUnknownRequest     = errors.New("unknown user-agent request")
	ErrUserAgentFailed    = errors.New("user-agent failed")
	ErrStorageFailed      = errors.New("storage failed")
	ErrDispatcherShutdown = errors.New("dispatcher is shut down")
)

// storeError classifies a SecureStore failure: encryption failures are
// KindEncryption, anything else KindInternal.
func storeError(op string, err error) error {
	if errors.Is(err, storage.ErrEncryptFailed) || errors.Is(err, storage.ErrMigrationFailed) {
		return oidc.NewError(oidc.ErrEncryptionFailed, oidc.WithOp(op), oidc.WithKind(oidc.KindEncryption), oidc.WithWrap(err))
	}
	return oidc.NewError(ErrStorageFailed, oidc.WithOp(op), oidc.WithKind(oidc.KindInternal), oidc.WithWrap(err))
}
