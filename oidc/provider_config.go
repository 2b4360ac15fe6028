// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"encoding/json"
	"fmt"
)

// ProviderConfigKey is the storage key of the persisted ProviderConfig.
const ProviderConfigKey = "ProviderConfiguration"

// ProviderConfig is the set of provider endpoints, from a discovery document
// or a CustomConfiguration.
type ProviderConfig struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	UserInfoEndpoint      string `json:"userinfo_endpoint,omitempty"`
	IntrospectionEndpoint string `json:"introspection_endpoint,omitempty"`
	RevocationEndpoint    string `json:"revocation_endpoint,omitempty"`
	EndSessionEndpoint    string `json:"end_session_endpoint,omitempty"`
	JWKSURI               string `json:"jwks_uri,omitempty"`
	RegistrationEndpoint  string `json:"registration_endpoint,omitempty"`

	ScopesSupported                  []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported           []string `json:"response_types_supported,omitempty"`
	CodeChallengeMethodsSupported    []string `json:"code_challenge_methods_supported,omitempty"`
	IDTokenSigningAlgValuesSupported []string `json:"id_token_signing_alg_values_supported,omitempty"`
}

// Validate requires the issuer, authorization and token endpoints.
func (pc *ProviderConfig) Validate() error {
	const op = "ProviderConfig.Validate"
	switch {
	case pc == nil:
		return NewError(ErrNilParameter, WithOp(op), WithKind(KindConfiguration), WithMsg("provider config is nil"))
	case pc.Issuer == "":
		return NewError(ErrMissingEndpoint, WithOp(op), WithKind(KindConfiguration), WithMsg("issuer is missing"))
	case pc.AuthorizationEndpoint == "":
		return NewError(ErrMissingEndpoint, WithOp(op), WithKind(KindConfiguration), WithMsg("authorization_endpoint is missing"))
	case pc.TokenEndpoint == "":
		return NewError(ErrMissingEndpoint, WithOp(op), WithKind(KindConfiguration), WithMsg("token_endpoint is missing"))
	}
	return nil
}

// Key is the storage key.
func (pc *ProviderConfig) Key() string { return ProviderConfigKey }

// Encrypt reports the provider config isn't secret.
func (pc *ProviderConfig) Encrypt() bool { return false }

// Persist serializes the provider config.
func (pc *ProviderConfig) Persist() (string, error) {
	const op = "ProviderConfig.Persist"
	b, err := json.Marshal(pc)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return string(b), nil
}

// ProviderConfigRestorer restores a persisted *ProviderConfig.
type ProviderConfigRestorer struct{}

// Key is the storage key.
func (ProviderConfigRestorer) Key() string { return ProviderConfigKey }

// Encrypted matches ProviderConfig.Encrypt.
func (ProviderConfigRestorer) Encrypted() bool { return false }

// Restore parses a persisted provider config.
func (ProviderConfigRestorer) Restore(data string) (*ProviderConfig, error) {
	const op = "ProviderConfigRestorer.Restore"
	var pc ProviderConfig
	if err := json.Unmarshal([]byte(data), &pc); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := pc.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &pc, nil
}
