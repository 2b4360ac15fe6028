// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"fmt"
	"net/url"
	"strings"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
)

// DiscoveryMode selects the well-known document a Resolver fetches.
type DiscoveryMode int

const (
	// DiscoveryOIDC fetches {issuer}/.well-known/openid-configuration
	DiscoveryOIDC DiscoveryMode = iota

	// DiscoveryOAuth2 fetches {issuer}/.well-known/oauth-authorization-server
	DiscoveryOAuth2
)

// String returns the well-known path of the mode.
func (m DiscoveryMode) String() string {
	switch m {
	case DiscoveryOAuth2:
		return "/.well-known/oauth-authorization-server"
	default:
		return "/.well-known/openid-configuration"
	}
}

// DefaultScopes are requested when WithScopes isn't provided.
var DefaultScopes = []string{gooidc.ScopeOpenID}

// CustomConfiguration is a static set of provider endpoints used instead of
// discovery.
type CustomConfiguration struct {
	// Issuer is optional, but required to validate id_tokens.
	Issuer                string
	AuthorizationEndpoint string
	TokenEndpoint         string
	UserInfoEndpoint      string
	IntrospectionEndpoint string
	RevocationEndpoint    string
	EndSessionEndpoint    string
	JWKSURI               string
	RegistrationEndpoint  string
}

// Validate requires the authorization and token endpoints and checks every
// provided endpoint is an absolute URL.
func (c *CustomConfiguration) Validate() error {
	const op = "CustomConfiguration.Validate"
	if c == nil {
		return NewError(ErrNilParameter, WithOp(op), WithKind(KindConfiguration), WithMsg("custom configuration is nil"))
	}
	if c.AuthorizationEndpoint == "" {
		return NewError(ErrMissingEndpoint, WithOp(op), WithKind(KindConfiguration), WithMsg("authorization endpoint is empty"))
	}
	if c.TokenEndpoint == "" {
		return NewError(ErrMissingEndpoint, WithOp(op), WithKind(KindConfiguration), WithMsg("token endpoint is empty"))
	}
	endpoints := map[string]string{
		"issuer":                 c.Issuer,
		"authorization_endpoint": c.AuthorizationEndpoint,
		"token_endpoint":         c.TokenEndpoint,
		"userinfo_endpoint":      c.UserInfoEndpoint,
		"introspection_endpoint": c.IntrospectionEndpoint,
		"revocation_endpoint":    c.RevocationEndpoint,
		"end_session_endpoint":   c.EndSessionEndpoint,
		"jwks_uri":               c.JWKSURI,
		"registration_endpoint":  c.RegistrationEndpoint,
	}
	for name, e := range endpoints {
		if e == "" {
			continue
		}
		if err := validateAbsoluteURL(e); err != nil {
			return NewError(ErrInvalidParameter, WithOp(op), WithKind(KindConfiguration), WithMsg(fmt.Sprintf("%s %q is invalid", name, e)), WithWrap(err))
		}
	}
	return nil
}

// ProviderConfig converts the custom configuration.
func (c *CustomConfiguration) ProviderConfig() *ProviderConfig {
	return &ProviderConfig{
		Issuer:                c.Issuer,
		AuthorizationEndpoint: c.AuthorizationEndpoint,
		TokenEndpoint:         c.TokenEndpoint,
		UserInfoEndpoint:      c.UserInfoEndpoint,
		IntrospectionEndpoint: c.IntrospectionEndpoint,
		RevocationEndpoint:    c.RevocationEndpoint,
		EndSessionEndpoint:    c.EndSessionEndpoint,
		JWKSURI:               c.JWKSURI,
		RegistrationEndpoint:  c.RegistrationEndpoint,
	}
}

// Config is the client configuration.  It's validated when built and must
// not be modified afterwards; use Clone to derive a new one.
type Config struct {
	// ClientID is the client identifier registered with the provider.
	ClientID string

	// RedirectURI receives the authorization response.  Its scheme selects
	// the redirect handler that must belong to this application.
	RedirectURI string

	// EndSessionRedirectURI receives the logout response.  Optional.
	EndSessionRedirectURI string

	// Scopes requested during sign in.
	Scopes []string

	// Issuer is the discovery issuer.  Exactly one of Issuer and Custom is
	// set.
	Issuer string

	// DiscoveryMode selects the discovery document fetched for Issuer.
	DiscoveryMode DiscoveryMode

	// Custom is a static provider configuration used instead of discovery.
	Custom *CustomConfiguration

	// ProviderCA is an optional PEM encoded CA cert used to verify the
	// provider's TLS certificate.
	ProviderCA string
}

// NewConfig composes a new config.  One of WithIssuer or
// WithCustomConfiguration is required.
//
// Supported options: WithIssuer, WithDiscoveryMode, WithCustomConfiguration,
// WithScopes, WithEndSessionRedirectURI, WithProviderCA
func NewConfig(clientID, redirectURI string, opt ...Option) (*Config, error) {
	const op = "oidc.NewConfig"
	opts := getConfigOpts(opt...)
	c := &Config{
		ClientID:              clientID,
		RedirectURI:           redirectURI,
		EndSessionRedirectURI: opts.withEndSessionRedirectURI,
		Scopes:                opts.withScopes,
		Issuer:                opts.withIssuer,
		DiscoveryMode:         opts.withDiscoveryMode,
		Custom:                opts.withCustom,
		ProviderCA:            opts.withProviderCA,
	}
	if err := c.Validate(); err != nil {
		return nil, WrapError(err, WithOp(op), WithMsg("invalid config"))
	}
	return c, nil
}

// Validate the configuration.  It doesn't verify the issuer is discoverable.
func (c *Config) Validate() error {
	const op = "Config.Validate"
	if c == nil {
		return NewError(ErrNilParameter, WithOp(op), WithKind(KindConfiguration), WithMsg("config is nil"))
	}
	if c.ClientID == "" {
		return NewError(ErrInvalidParameter, WithOp(op), WithKind(KindConfiguration), WithMsg("client id is empty"))
	}
	if c.RedirectURI == "" {
		return NewError(ErrInvalidParameter, WithOp(op), WithKind(KindConfiguration), WithMsg("redirect uri is empty"))
	}
	if err := validateRedirectURI(c.RedirectURI); err != nil {
		return NewError(ErrInvalidRedirectURI, WithOp(op), WithKind(KindConfiguration), WithMsg(fmt.Sprintf("redirect uri %q is invalid", c.RedirectURI)), WithWrap(err))
	}
	if c.EndSessionRedirectURI != "" {
		if err := validateRedirectURI(c.EndSessionRedirectURI); err != nil {
			return NewError(ErrInvalidRedirectURI, WithOp(op), WithKind(KindConfiguration), WithMsg(fmt.Sprintf("end session redirect uri %q is invalid", c.EndSessionRedirectURI)), WithWrap(err))
		}
	}
	if len(c.Scopes) == 0 {
		return NewError(ErrInvalidParameter, WithOp(op), WithKind(KindConfiguration), WithMsg("scopes are empty"))
	}
	for _, s := range c.Scopes {
		if strings.TrimSpace(s) == "" {
			return NewError(ErrInvalidParameter, WithOp(op), WithKind(KindConfiguration), WithMsg("scopes contain an empty scope"))
		}
	}
	switch {
	case c.Issuer != "" && c.Custom != nil:
		return NewError(ErrInvalidParameter, WithOp(op), WithKind(KindConfiguration), WithMsg("both issuer and custom configuration are set"))
	case c.Issuer == "" && c.Custom == nil:
		return NewError(ErrInvalidParameter, WithOp(op), WithKind(KindConfiguration), WithMsg("neither issuer nor custom configuration is set"))
	case c.Custom != nil:
		if err := c.Custom.Validate(); err != nil {
			return WrapError(err, WithOp(op))
		}
	default:
		if err := validateAbsoluteURL(c.Issuer); err != nil {
			return NewError(ErrInvalidIssuer, WithOp(op), WithKind(KindConfiguration), WithMsg(fmt.Sprintf("issuer %q is invalid", c.Issuer)), WithWrap(err))
		}
		if c.DiscoveryMode != DiscoveryOIDC && c.DiscoveryMode != DiscoveryOAuth2 {
			return NewError(ErrInvalidParameter, WithOp(op), WithKind(KindConfiguration), WithMsg(fmt.Sprintf("unknown discovery mode %d", c.DiscoveryMode)))
		}
	}
	return nil
}

// Clone returns a deep copy of the config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Scopes = append([]string(nil), c.Scopes...)
	if c.Custom != nil {
		custom := *c.Custom
		clone.Custom = &custom
	}
	return &clone
}

// RedirectScheme returns the lowercased scheme of the redirect uri.
func (c *Config) RedirectScheme() string {
	u, err := url.Parse(c.RedirectURI)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Scheme)
}

// IsOIDC reports whether the openid scope is requested, in which case an
// id_token is expected from the token endpoint.
func (c *Config) IsOIDC() bool {
	for _, s := range c.Scopes {
		if s == gooidc.ScopeOpenID {
			return true
		}
	}
	return false
}

func validateAbsoluteURL(s string) error {
	u, err := url.Parse(s)
	if err != nil {
		return err
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%q is not an absolute url", s)
	}
	return nil
}

// validateRedirectURI accepts absolute urls and private-use scheme uris such
// as com.example.app:/callback.
func validateRedirectURI(s string) error {
	u, err := url.Parse(s)
	if err != nil {
		return err
	}
	if u.Scheme == "" {
		return fmt.Errorf("%q has no scheme", s)
	}
	if u.Fragment != "" {
		return fmt.Errorf("%q has a fragment", s)
	}
	return nil
}

// configOptions is the set of available options for NewConfig
type configOptions struct {
	withIssuer                string
	withDiscoveryMode         DiscoveryMode
	withCustom                *CustomConfiguration
	withScopes                []string
	withEndSessionRedirectURI string
	withProviderCA            string
}

func configDefaults() configOptions {
	return configOptions{
		withScopes:        append([]string(nil), DefaultScopes...),
		withDiscoveryMode: DiscoveryOIDC,
	}
}

func getConfigOpts(opt ...Option) configOptions {
	opts := configDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithIssuer provides the discovery issuer.
func WithIssuer(issuer string) Option {
	return func(o interface{}) {
		if v, ok := o.(*configOptions); ok {
			v.withIssuer = issuer
		}
	}
}

// WithDiscoveryMode overrides DiscoveryOIDC.
func WithDiscoveryMode(m DiscoveryMode) Option {
	return func(o interface{}) {
		if v, ok := o.(*configOptions); ok {
			v.withDiscoveryMode = m
		}
	}
}

// WithCustomConfiguration provides static provider endpoints.
func WithCustomConfiguration(c *CustomConfiguration) Option {
	return func(o interface{}) {
		if v, ok := o.(*configOptions); ok {
			v.withCustom = c
		}
	}
}

// WithScopes provides an optional list of scopes for: Config, AuthorizeRequest
func WithScopes(scopes ...string) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *configOptions:
			v.withScopes = scopes
		case *authorizeOptions:
			v.withScopes = scopes
		}
	}
}

// WithEndSessionRedirectURI provides the post logout redirect uri.
func WithEndSessionRedirectURI(uri string) Option {
	return func(o interface{}) {
		if v, ok := o.(*configOptions); ok {
			v.withEndSessionRedirectURI = uri
		}
	}
}

// WithProviderCA provides an optional CA cert for the provider's config
func WithProviderCA(cert string) Option {
	return func(o interface{}) {
		if v, ok := o.(*configOptions); ok {
			v.withProviderCA = cert
		}
	}
}
