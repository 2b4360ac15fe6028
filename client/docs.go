// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
Package client runs OAuth2 and OpenID Connect sign in and sign out flows for
native applications, on top of the oidc, storage and encryption packages.

Primary types provided by the package

* Controller: the flow state machine.  SignIn verifies the redirect uri is
handled by the application, resolves the provider, launches a UserAgent for
an authorization request, checks the state of the redirect, exchanges the
code and validates the id_token.  SignOut does the same for the end session
endpoint.  Only one flow runs at a time; Cancel ends it.  The persisted
session (tokens, provider config and the in flight request) lives in a
storage.SecureStore.

* UserAgent: opens the authorization url and reports the redirect, a cancel
or a failure through LaunchRequest.Respond.  RedirectHandler is a UserAgent
for loopback redirect uris which opens the system browser with an OpenFunc.

* HandlerResolver: lists the applications registered for a redirect scheme.
A flow is refused unless exactly one handler, the configured application,
is registered.

* SyncClient and AsyncClient: run the Controller's operations on a
Dispatcher worker, one at a time.  SyncClient blocks until they complete.
AsyncClient reports results to Callbacks on the Dispatcher's Executor.

Errors

Every error is an *oidc.Err and can be matched with errors.Is against its
oidc.Kind, for example oidc.KindUserCanceled or oidc.KindStateMismatch.
*/
package client
