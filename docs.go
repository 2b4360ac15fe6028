// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// appauth (application authentication) provides a collection of related
// packages which let native applications sign users in with OAuth2 and
// OpenID Connect providers, and keep the resulting session encrypted at rest.
//
//   - oidc: configuration, discovery, authorization and logout requests,
//     token endpoint calls and id_token validation
//   - client: the sign in and sign out flows, user-agents and the sync and
//     async client facades
//   - storage: the encrypted session store over memory, file or redis
//     backends
//   - encryption: the encryption managers protecting the stored session
//   - jwt: JSON web key sets for id_token signature verification
package appauth
