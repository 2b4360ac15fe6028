// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package encryption

// PlainManager is a pass-through Manager for tests and deployments with
// encryption disabled.
type PlainManager struct{}

// ensure that PlainManager implements the Manager interface
var _ Manager = (*PlainManager)(nil)

// NewPlainManager creates a PlainManager.
func NewPlainManager() *PlainManager { return &PlainManager{} }

func (*PlainManager) Encrypt(value string) (string, error) { return value, nil }
func (*PlainManager) Decrypt(value string) (string, error) { return value, nil }
func (*PlainManager) Hashed(value string) (string, error)  { return hashed(value), nil }
func (*PlainManager) IsHardwareBackedKeyStore() bool       { return false }
func (*PlainManager) RecreateCipher() error                { return nil }
func (*PlainManager) RemoveKeys() error                    { return nil }
func (*PlainManager) RecreateKeys() error                  { return nil }
func (*PlainManager) IsValidKeys() bool                    { return true }
func (*PlainManager) IsUserAuthenticatedOnDevice() bool    { return true }
func (*PlainManager) Capability() Capability               { return Plain }
