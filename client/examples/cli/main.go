// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/hashicorp/appauth/client"
	"github.com/hashicorp/appauth/encryption"
	"github.com/hashicorp/appauth/oidc"
	"github.com/hashicorp/appauth/storage"
	"github.com/hashicorp/appauth/storage/redis"
	"github.com/hashicorp/go-hclog"
)

// List of configuration environment variables
const (
	clientID   = "OIDC_CLIENT_ID"
	issuer     = "OIDC_ISSUER"
	port       = "OIDC_PORT"
	passphrase = "APPAUTH_PASSPHRASE"
)

const appID = "appauth-cli"

func envConfig() (map[string]string, error) {
	const op = "envConfig"
	env := map[string]string{
		clientID: os.Getenv(clientID),
		issuer:   os.Getenv(issuer),
		port:     os.Getenv(port),
	}
	for k, v := range env {
		if v == "" {
			return nil, fmt.Errorf("%s: %s is empty", op, k)
		}
	}
	return env, nil
}

func main() {
	scopes := flag.String("scopes", "openid,email,profile,offline_access", "comma separated list of scopes to request")
	storePath := flag.String("store", filepath.Join(os.TempDir(), "appauth-cli.json"), "file the session is persisted to")
	redisAddr := flag.String("redis", "", "persist the session to the redis server at this address instead of a file")
	signOut := flag.Bool("sign-out", false, "sign out of the persisted session and exit")
	timeout := flag.Duration("timeout", 2*time.Minute, "how long to wait for the browser")
	debug := flag.Bool("debug", false, "debug logging")
	flag.Parse()

	level := hclog.Info
	if *debug {
		level = hclog.Debug
	}
	logger := hclog.New(&hclog.LoggerOptions{Name: "appauth-cli", Level: level})

	env, err := envConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n\n", err)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	l, err := net.Listen("tcp", "127.0.0.1:"+env[port])
	if err != nil {
		fmt.Fprintf(os.Stderr, "listen error: %s\n\n", err)
		return
	}
	redirectURI := fmt.Sprintf("http://%s/callback", l.Addr())

	cfg, err := oidc.NewConfig(
		env[clientID],
		redirectURI,
		oidc.WithIssuer(env[issuer]),
		oidc.WithScopes(splitScopes(*scopes)...),
		oidc.WithEndSessionRedirectURI(redirectURI),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n\n", err)
		return
	}

	store, closeStore, err := newStore(ctx, *storePath, *redisAddr, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n\n", err)
		return
	}
	defer closeStore()

	ua, err := client.NewRedirectHandler(openBrowser, client.WithLogger(logger))
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n\n", err)
		return
	}
	srv := &http.Server{Handler: ua, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("redirect listener failed", "error", err)
		}
	}()
	defer srv.Close()

	c, err := client.NewController(cfg, store, ua,
		client.WithAppID(appID),
		client.WithHandlerResolver(client.StaticHandlerResolver{{AppID: appID, Scheme: "http"}}),
		client.WithSignatureVerification(),
		client.WithLogger(logger),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n\n", err)
		return
	}
	sc, err := client.NewSyncClient(c, client.WithLogger(logger))
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n\n", err)
		return
	}
	defer func() { _ = sc.Shutdown(context.Background()) }()

	flowCtx, flowCancel := context.WithTimeout(ctx, *timeout)
	defer flowCancel()

	if *signOut {
		if err := sc.SignOut(flowCtx, client.AllSignOut); err != nil {
			fmt.Fprintf(os.Stderr, "sign out error: %s\n\n", err)
			return
		}
		fmt.Println("signed out")
		return
	}

	tokens, err := sc.Tokens(flowCtx)
	switch {
	case errors.Is(err, oidc.ErrNotAuthorized):
		tokens, err = sc.SignIn(flowCtx)
	case err == nil && tokens.IsAccessTokenExpired() && tokens.RefreshToken() != "":
		tokens, err = sc.Refresh(flowCtx)
	}
	switch {
	case errors.Is(err, oidc.KindUserCanceled):
		fmt.Fprint(os.Stderr, "sign in canceled\n\n")
		return
	case err != nil:
		fmt.Fprintf(os.Stderr, "sign in error: %s\n\n", err)
		return
	}

	printTokens(tokens)

	info, err := sc.UserInfo(flowCtx)
	if err != nil {
		logger.Warn("unable to get user info", "error", err)
		return
	}
	printJSON("UserInfo", info)
}

// newStore persists to redis when addr is set and to a file otherwise.  The
// session is encrypted with APPAUTH_PASSPHRASE when it's set.
func newStore(ctx context.Context, path, addr string, logger hclog.Logger) (*storage.SecureStore, func(), error) {
	const op = "newStore"
	var opts []encryption.Option
	if p := os.Getenv(passphrase); p != "" {
		opts = append(opts, encryption.WithPassphrase(p))
	} else {
		logger.Warn("no passphrase set, the session is persisted unencrypted", "env", passphrase)
		opts = append(opts, encryption.WithEncryptionDisabled())
	}
	m, err := encryption.NewManager(opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	var (
		s       storage.Storage
		closeFn = func() {}
	)
	switch addr {
	case "":
		fs, err := storage.NewFileStorage(path)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", op, err)
		}
		s = fs
	default:
		rs, err := redis.NewStorage(ctx, addr, redis.WithKeyPrefix(appID+":"))
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", op, err)
		}
		s = rs
		closeFn = func() { _ = rs.Close() }
	}
	store, err := storage.NewSecureStore(s, m, storage.WithLogger(logger))
	if err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	return store, closeFn, nil
}

func openBrowser(ctx context.Context, url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.CommandContext(ctx, "open", url)
	case "windows":
		cmd = exec.CommandContext(ctx, "rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.CommandContext(ctx, "xdg-open", url)
	}
	fmt.Printf("opening browser, or visit:\n\n%s\n\n", url)
	return cmd.Start()
}

func splitScopes(s string) []string {
	var scopes []string
	for _, sc := range strings.Split(s, ",") {
		if sc = strings.TrimSpace(sc); sc != "" {
			scopes = append(scopes, sc)
		}
	}
	return scopes
}

func printTokens(t *oidc.Tokens) {
	fmt.Printf("token type: %s\nexpires: %s\nscopes: %s\n\n", t.TokenType(), t.Expiry().Format(time.RFC3339), strings.Join(t.Scopes(), " "))
	if t.IdToken() == "" {
		return
	}
	var claims map[string]interface{}
	if err := t.IdToken().Claims(&claims); err != nil {
		fmt.Fprintf(os.Stderr, "unable to parse id_token claims: %s\n\n", err)
		return
	}
	printJSON("Claims", claims)
}

func printJSON(label string, v interface{}) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n\n", err)
		return
	}
	fmt.Printf("%s:\n%s\n\n", label, b)
}
