// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc_test

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/appauth/oidc"
	apphttp "github.com/hashicorp/appauth/sdk/http"
)

func Example() {
	ctx := context.Background()

	// Create a new Config
	cfg, err := oidc.NewConfig(
		"your_client_id",
		"com.example.app:/callback",
		oidc.WithIssuer("https://your-issuer.com"),
		oidc.WithScopes("openid", "email", "offline_access"),
	)
	if err != nil {
		// handle error
	}

	transport, err := apphttp.NewTransport()
	if err != nil {
		// handle error
	}

	// Resolve the provider's endpoints
	resolver, err := oidc.NewResolver(transport)
	if err != nil {
		// handle error
	}
	pc, err := resolver.Resolve(ctx, cfg, nil)
	if err != nil {
		// handle error
	}

	// Create an authorization request and launch a user-agent with its url
	req, err := oidc.NewAuthorizeRequest(cfg, pc, oidc.WithPrompts(oidc.Login))
	if err != nil {
		// handle error
	}
	authURL, err := req.URL()
	if err != nil {
		// handle error
	}
	fmt.Println("open url to kick-off authentication: ", authURL)

	// The user-agent returns the redirect uri
	redirect := "com.example.app:/callback?code=code&state=" + req.State()
	resp, err := oidc.ParseAuthorizeResponse(redirect)
	if err != nil {
		// handle error
	}
	if err := resp.Err(); err != nil {
		// handle error
	}
	if err := oidc.CheckState(req.State(), resp.State); err != nil {
		// handle error
	}

	// Exchange the code for tokens
	tc, err := oidc.NewTokenClient(cfg.ClientID, transport)
	if err != nil {
		// handle error
	}
	tr, err := tc.Exchange(ctx, pc, req, resp)
	if err != nil {
		// handle error
	}

	// Validate the id_token
	idToken, err := oidc.ParseIdToken(string(tr.IdToken))
	if err != nil {
		// handle error
	}
	err = oidc.NewDefaultValidator().Validate(ctx, idToken, oidc.ValidationParams{
		Issuer:    pc.Issuer,
		ClientID:  cfg.ClientID,
		Nonce:     req.Nonce,
		GrantType: oidc.GrantTypeAuthorizationCode,
	})
	if err != nil {
		// handle error
	}
}

func ExampleKindOf() {
	err := oidc.CheckState("expected", "received")
	fmt.Println(oidc.KindOf(err))
	fmt.Println(errors.Is(err, oidc.KindStateMismatch))
	fmt.Println(errors.Is(err, oidc.ErrResponseStateInvalid))

	// Output:
	// state mismatch
	// true
	// true
}

func ExampleTokens() {
	tokens, err := oidc.NewTokens(&oidc.TokenResponse{
		AccessToken:  "access",
		RefreshToken: "refresh",
		TokenType:    "Bearer",
	})
	if err != nil {
		// handle error
	}
	fmt.Println(tokens.AccessToken())
	fmt.Println(tokens.RefreshToken())
	fmt.Println(tokens.IsAccessTokenExpired())

	// Output:
	// [REDACTED: access_token]
	// [REDACTED: refresh_token]
	// false
}
