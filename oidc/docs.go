// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
Package oidc implements the protocol side of a native (public) OAuth2 and
OpenID Connect client using the authorization code flow with PKCE.

Primary types provided by the package

* Config: the client configuration.  It names the client id, the redirect
uri, the requested scopes and either a discovery issuer or a
CustomConfiguration.  It's validated by NewConfig and never modified
afterwards.

* Resolver and ProviderConfig: the provider endpoints, fetched from the
issuer's discovery document or taken from the custom configuration.

* AuthorizeRequest and LogoutRequest: the two WebRequests a user-agent is
launched for.  Each carries a fresh state; the authorize request also
carries a nonce and a PKCE code verifier.  AuthorizeResponse and
LogoutResponse are parsed from the uri the user-agent is redirected to.

* TokenClient: exchanges codes, refreshes, revokes and introspects tokens,
and makes userinfo and other bearer authorized requests.

* TokenResponse and Tokens: the token endpoint's response and a read only
view of it.  AccessToken, RefreshToken and IdToken redact themselves when
printed or marshaled.

* IDTokenValidator: DefaultValidator checks the alg, issuer, audience,
expiry, issued at and nonce of an id_token.  NewSignatureValidator adds JWS
signature verification with a jwt.KeySet.

* Err: every error is an *Err classified by a Kind, which callers can match
with errors.Is.

Testing

TestProvider is a TLS OIDC provider for tests.  TestGenerateKeys, TestSignJWT
and TestGenerateCA build keys, id_tokens and certificates.
*/
package oidc
