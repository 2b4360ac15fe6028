// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/appauth/jwt"
	"github.com/hashicorp/appauth/oidc"
	apphttp "github.com/hashicorp/appauth/sdk/http"
	"github.com/hashicorp/appauth/sdk/id"
	"github.com/hashicorp/appauth/storage"
	"github.com/hashicorp/go-hclog"
)

// State of a Controller.
type State int

const (
	Idle State = iota
	ObtainConfiguration
	SignInRequest
	SignOutRequest
	TokenExchange
)

// String returns the name of the state.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case ObtainConfiguration:
		return "obtain configuration"
	case SignInRequest:
		return "sign in request"
	case SignOutRequest:
		return "sign out request"
	case TokenExchange:
		return "token exchange"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Outcome is how a flow ended.
type Outcome int

const (
	// NoOutcome is reported until the first flow ends.
	NoOutcome Outcome = iota
	Authorized
	LoggedOut
	Canceled

	// Failed is the outcome of a flow which ended with an error other than
	// a cancellation.
	Failed
)

// String returns the name of the outcome.
func (o Outcome) String() string {
	switch o {
	case NoOutcome:
		return "none"
	case Authorized:
		return "authorized"
	case LoggedOut:
		return "logged out"
	case Canceled:
		return "canceled"
	case Failed:
		return "error"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Controller drives the sign in and sign out flows of one client.  It runs
// one flow at a time: a flow started while another is in progress fails
// with oidc.ErrFlowInProgress.
//
// The pending web request, the provider configuration and the token
// response are kept in the SecureStore so a flow survives the process being
// restarted between launching the user-agent and receiving the redirect.
type Controller struct {
	cfg              *oidc.Config
	appID            string
	store            *storage.SecureStore
	resolver         *oidc.Resolver
	tokens           *oidc.TokenClient
	userAgent        UserAgent
	handlers         HandlerResolver
	validator        oidc.IDTokenValidator
	verifySignatures bool
	caCert           string
	logger           hclog.Logger
	now              func() time.Time

	mu      sync.Mutex
	busy    bool
	state   State
	outcome Outcome
	cancel  context.CancelFunc
	pending map[string]chan Result
	keySet  jwt.KeySet
	jwksURI string
}

// NewController creates a Controller for cfg which persists its records in
// store and launches ua for every web request.
//
// Supported options: WithLogger, WithTransport, WithHandlerResolver,
// WithAppID, WithIDTokenValidator, WithSignatureVerification, WithNow
func NewController(cfg *oidc.Config, store *storage.SecureStore, ua UserAgent, opt ...Option) (*Controller, error) {
	const op = "client.NewController"
	switch {
	case cfg == nil:
		return nil, oidc.NewError(ErrNilParameter, oidc.WithOp(op), oidc.WithKind(oidc.KindParameterViolation), oidc.WithMsg("config is nil"))
	case store == nil:
		return nil, oidc.NewError(ErrNilParameter, oidc.WithOp(op), oidc.WithKind(oidc.KindParameterViolation), oidc.WithMsg("secure store is nil"))
	case ua == nil:
		return nil, oidc.NewError(ErrNilParameter, oidc.WithOp(op), oidc.WithKind(oidc.KindParameterViolation), oidc.WithMsg("user-agent is nil"))
	}
	if err := cfg.Validate(); err != nil {
		return nil, oidc.WrapError(err, oidc.WithOp(op))
	}
	opts := getControllerOpts(opt...)
	logger := opts.withLogger.Named("controller")

	t := opts.withTransport
	if t == nil {
		ct, err := apphttp.NewTransport(apphttp.WithCACert(cfg.ProviderCA))
		if err != nil {
			return nil, oidc.NewError(oidc.ErrInvalidCACert, oidc.WithOp(op), oidc.WithKind(oidc.KindConfiguration), oidc.WithWrap(err))
		}
		t = ct
	}
	resolver, err := oidc.NewResolver(t, oidc.WithLogger(logger.Named("resolver")))
	if err != nil {
		return nil, oidc.WrapError(err, oidc.WithOp(op))
	}
	tc, err := oidc.NewTokenClient(cfg.ClientID, t, oidc.WithLogger(logger.Named("token")), oidc.WithNow(opts.withNow))
	if err != nil {
		return nil, oidc.WrapError(err, oidc.WithOp(op))
	}
	appID := opts.withAppID
	if appID == "" {
		appID = cfg.ClientID
	}
	return &Controller{
		cfg:              cfg.Clone(),
		appID:            appID,
		store:            store,
		resolver:         resolver,
		tokens:           tc,
		userAgent:        ua,
		handlers:         opts.withHandlerResolver,
		validator:        opts.withValidator,
		verifySignatures: opts.withVerifySignatures,
		caCert:           cfg.ProviderCA,
		logger:           logger,
		now:              opts.withNow,
		pending:          map[string]chan Result{},
	}, nil
}

// Config returns a copy of the controller's config.
func (c *Controller) Config() *oidc.Config { return c.cfg.Clone() }

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastOutcome returns the outcome of the last finished flow.
func (c *Controller) LastOutcome() Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outcome
}

// SignIn runs the authorization code flow and returns the new tokens.  The
// options are those of oidc.NewAuthorizeRequest.  A flow canceled by the
// user-agent, by Cancel or by ctx returns an error of oidc.KindUserCanceled
// and persists no tokens.
func (c *Controller) SignIn(ctx context.Context, opt ...oidc.Option) (*oidc.Tokens, error) {
	const op = "Controller.SignIn"
	ctx, err := c.begin(ctx, op)
	if err != nil {
		return nil, err
	}
	tr, err := c.signIn(ctx, opt...)
	if err := c.finish(ctx, err, Authorized); err != nil {
		return nil, err
	}
	return oidc.NewTokens(tr, oidc.WithNow(c.now))
}

func (c *Controller) signIn(ctx context.Context, opt ...oidc.Option) (*oidc.TokenResponse, error) {
	const op = "Controller.signIn"
	if err := verifyRedirectHandler(ctx, c.handlers, c.appID, c.cfg.RedirectURI); err != nil {
		return nil, oidc.WrapError(err, oidc.WithOp(op))
	}

	c.transition(ObtainConfiguration)
	pc, err := c.providerConfig(ctx)
	if err != nil {
		return nil, err
	}

	c.transition(SignInRequest)
	req, err := oidc.NewAuthorizeRequest(c.cfg, pc, opt...)
	if err != nil {
		return nil, oidc.WrapError(err, oidc.WithOp(op))
	}
	if err := c.store.Save(ctx, req); err != nil {
		return nil, storeError(op, err)
	}
	defer c.deleteWebRequest(ctx)

	uri, err := c.launch(ctx, req)
	if err != nil {
		return nil, err
	}
	resp, err := oidc.ParseAuthorizeResponse(uri)
	if err != nil {
		return nil, oidc.WrapError(err, oidc.WithOp(op))
	}
	pending, err := storage.Get(ctx, c.store, oidc.WebRequestRestorer{})
	if err != nil {
		return nil, storeError(op, err)
	}
	areq, ok := pending.(*oidc.AuthorizeRequest)
	if !ok {
		return nil, oidc.NewError(oidc.ErrResponseStateInvalid, oidc.WithOp(op), oidc.WithKind(oidc.KindStateMismatch), oidc.WithMsg("no pending authorization request"))
	}
	if err := oidc.CheckState(areq.State(), resp.State); err != nil {
		return nil, oidc.WrapError(err, oidc.WithOp(op))
	}
	if err := resp.Err(); err != nil {
		return nil, oidc.WrapError(err, oidc.WithOp(op))
	}

	c.transition(TokenExchange)
	tr, err := c.tokens.Exchange(ctx, pc, areq, resp)
	if err != nil {
		return nil, oidc.WrapError(err, oidc.WithOp(op))
	}
	if err := c.validate(ctx, pc, tr.IdToken, areq.Nonce, oidc.GrantTypeAuthorizationCode); err != nil {
		return nil, err
	}
	if err := c.store.Save(ctx, tr); err != nil {
		return nil, storeError(op, err)
	}
	return tr, nil
}

// SignOut runs an RP-initiated logout through the user-agent.  It's a no-op
// when no tokens are stored.  The tokens are kept: use Clear to remove
// them.  The options are those of oidc.NewLogoutRequest.
func (c *Controller) SignOut(ctx context.Context, opt ...oidc.Option) error {
	const op = "Controller.SignOut"
	ctx, err := c.begin(ctx, op)
	if err != nil {
		return err
	}
	return c.finish(ctx, c.signOut(ctx, opt...), LoggedOut)
}

func (c *Controller) signOut(ctx context.Context, opt ...oidc.Option) error {
	const op = "Controller.signOut"
	tr, err := storage.Get(ctx, c.store, oidc.TokenResponseRestorer{})
	if err != nil {
		return storeError(op, err)
	}
	if tr == nil {
		c.logger.Debug("not authorized, nothing to sign out")
		return nil
	}
	if c.cfg.EndSessionRedirectURI == "" {
		return oidc.NewError(oidc.ErrInvalidRedirectURI, oidc.WithOp(op), oidc.WithKind(oidc.KindConfiguration), oidc.WithMsg("end session redirect uri is not configured"))
	}
	if err := verifyRedirectHandler(ctx, c.handlers, c.appID, c.cfg.EndSessionRedirectURI); err != nil {
		return oidc.WrapError(err, oidc.WithOp(op))
	}

	c.transition(SignOutRequest)
	pc, err := c.providerConfig(ctx)
	if err != nil {
		return err
	}
	req, err := oidc.NewLogoutRequest(c.cfg, pc, tr.IdToken, opt...)
	if err != nil {
		return oidc.WrapError(err, oidc.WithOp(op))
	}
	if err := c.store.Save(ctx, req); err != nil {
		return storeError(op, err)
	}
	defer c.deleteWebRequest(ctx)

	uri, err := c.launch(ctx, req)
	if err != nil {
		return err
	}
	resp, err := oidc.ParseLogoutResponse(uri)
	if err != nil {
		return oidc.WrapError(err, oidc.WithOp(op))
	}
	pending, err := storage.Get(ctx, c.store, oidc.WebRequestRestorer{})
	if err != nil {
		return storeError(op, err)
	}
	lreq, ok := pending.(*oidc.LogoutRequest)
	if !ok {
		return oidc.NewError(oidc.ErrResponseStateInvalid, oidc.WithOp(op), oidc.WithKind(oidc.KindStateMismatch), oidc.WithMsg("no pending logout request"))
	}
	if err := oidc.CheckState(lreq.State(), resp.State); err != nil {
		return oidc.WrapError(err, oidc.WithOp(op))
	}
	return oidc.WrapError(resp.Err(), oidc.WithOp(op))
}

// Cancel cancels the flow in progress, if any: its in-flight request is
// aborted and a wait on the user-agent is released.  The flow ends with the
// Canceled outcome.
func (c *Controller) Cancel() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		c.logger.Debug("canceling flow")
		cancel()
	}
}

// Complete reports the result of the user-agent request requestID.  It's
// the out of band equivalent of LaunchRequest.Respond.  Only the first
// result of a request is accepted.
func (c *Controller) Complete(requestID string, r Result) error {
	const op = "Controller.Complete"
	c.mu.Lock()
	ch, ok := c.pending[requestID]
	delete(c.pending, requestID)
	c.mu.Unlock()
	if !ok {
		return oidc.NewError(ErrUnknownRequest, oidc.WithOp(op), oidc.WithKind(oidc.KindParameterViolation), oidc.WithMsg(fmt.Sprintf("no pending request %q", requestID)))
	}
	ch <- r
	return nil
}

func (c *Controller) begin(ctx context.Context, op string) (context.Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy {
		return nil, oidc.NewError(oidc.ErrFlowInProgress, oidc.WithOp(op), oidc.WithKind(oidc.KindFlowInProgress), oidc.WithMsg(fmt.Sprintf("controller is in state %q", c.state)))
	}
	ctx, cancel := context.WithCancel(ctx)
	c.busy = true
	c.cancel = cancel
	return ctx, nil
}

func (c *Controller) transition(s State) {
	c.mu.Lock()
	from := c.state
	c.state = s
	c.mu.Unlock()
	c.logger.Debug("state transition", "from", from.String(), "to", s.String())
}

// finish records the outcome of the flow run with ctx and returns to Idle.
// An error of a flow whose ctx was canceled becomes a cancellation.
func (c *Controller) finish(ctx context.Context, err error, success Outcome) error {
	const op = "Controller.finish"
	if err != nil && errors.Is(ctx.Err(), context.Canceled) && !errors.Is(err, oidc.KindUserCanceled) {
		err = oidc.NewError(oidc.ErrUserCanceled, oidc.WithOp(op), oidc.WithKind(oidc.KindUserCanceled), oidc.WithWrap(err))
	}
	outcome := success
	switch {
	case err == nil:
	case errors.Is(err, oidc.KindUserCanceled):
		outcome = Canceled
	default:
		outcome = Failed
	}

	c.mu.Lock()
	from := c.state
	cancel := c.cancel
	c.state, c.busy, c.outcome, c.cancel = Idle, false, outcome, nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	c.logger.Debug("state transition", "from", from.String(), "to", Idle.String())
	if err != nil {
		c.logger.Info("flow finished", "outcome", outcome.String(), "error", err)
		return err
	}
	c.logger.Info("flow finished", "outcome", outcome.String())
	return nil
}

// providerConfig resolves the provider config, reusing the persisted one
// when its issuer matches, and persists the result.
func (c *Controller) providerConfig(ctx context.Context) (*oidc.ProviderConfig, error) {
	const op = "Controller.providerConfig"
	cached, err := storage.Get(ctx, c.store, oidc.ProviderConfigRestorer{})
	if err != nil {
		return nil, storeError(op, err)
	}
	pc, err := c.resolver.Resolve(ctx, c.cfg, cached)
	if err != nil {
		return nil, oidc.WrapError(err, oidc.WithOp(op))
	}
	if pc != cached {
		if err := c.store.Save(ctx, pc); err != nil {
			return nil, storeError(op, err)
		}
	}
	return pc, nil
}

// launch hands wr to the user-agent and waits for its result.
func (c *Controller) launch(ctx context.Context, wr oidc.WebRequest) (string, error) {
	const op = "Controller.launch"
	u, err := wr.URL()
	if err != nil {
		return "", oidc.WrapError(err, oidc.WithOp(op))
	}
	requestID, err := id.New("ua")
	if err != nil {
		return "", oidc.NewError(oidc.ErrIdGeneratorFailed, oidc.WithOp(op), oidc.WithKind(oidc.KindInternal), oidc.WithWrap(err))
	}

	ch := make(chan Result, 1)
	c.mu.Lock()
	c.pending[requestID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, requestID)
		c.mu.Unlock()
	}()

	lr := &LaunchRequest{
		ID:          requestID,
		URL:         u,
		RedirectURI: wr.RedirectURI(),
		State:       wr.State(),
		Type:        wr.Type(),
		respond: func(r Result) error {
			return c.Complete(requestID, r)
		},
	}
	c.logger.Debug("launching user-agent", "request_id", requestID, "type", string(wr.Type()))
	if err := c.userAgent.Launch(ctx, lr); err != nil {
		if errors.Is(err, context.Canceled) {
			return "", oidc.NewError(oidc.ErrUserCanceled, oidc.WithOp(op), oidc.WithKind(oidc.KindUserCanceled), oidc.WithWrap(err))
		}
		return "", oidc.NewError(ErrUserAgentFailed, oidc.WithOp(op), oidc.WithKind(oidc.KindAuthorization), oidc.WithMsg("unable to launch user-agent"), oidc.WithWrap(err))
	}

	select {
	case r := <-ch:
		c.logger.Debug("user-agent responded", "request_id", requestID, "result", r.Type.String())
		switch r.Type {
		case ResultSuccess:
			return r.URI, nil
		case ResultCanceled:
			return "", oidc.NewError(oidc.ErrUserCanceled, oidc.WithOp(op), oidc.WithKind(oidc.KindUserCanceled), oidc.WithMsg("user-agent was closed"))
		default:
			if oidc.KindOf(r.Err) != oidc.KindUnknown {
				return "", oidc.WrapError(r.Err, oidc.WithOp(op))
			}
			return "", oidc.NewError(ErrUserAgentFailed, oidc.WithOp(op), oidc.WithKind(oidc.KindAuthorization), oidc.WithWrap(r.Err))
		}
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.Canceled) {
			return "", oidc.NewError(oidc.ErrUserCanceled, oidc.WithOp(op), oidc.WithKind(oidc.KindUserCanceled), oidc.WithWrap(ctx.Err()))
		}
		return "", oidc.NewError(ErrUserAgentFailed, oidc.WithOp(op), oidc.WithKind(oidc.KindAuthorization), oidc.WithMsg("timed out waiting for the user-agent"), oidc.WithWrap(ctx.Err()))
	}
}

// deleteWebRequest removes the pending web request, even when ctx is
// already canceled.
func (c *Controller) deleteWebRequest(ctx context.Context) {
	if err := c.store.Delete(context.WithoutCancel(ctx), oidc.WebRequestKey); err != nil {
		c.logger.Warn("unable to delete pending web request", "error", err)
	}
}

// validate validates the id_token of a token response.  A response without
// an id_token is only valid for a refresh, or when openid wasn't requested.
func (c *Controller) validate(ctx context.Context, pc *oidc.ProviderConfig, raw oidc.IdToken, nonce, grantType string) error {
	const op = "Controller.validate"
	if raw == "" {
		if grantType == oidc.GrantTypeAuthorizationCode && c.cfg.IsOIDC() {
			return oidc.NewError(oidc.ErrMissingIdToken, oidc.WithOp(op), oidc.WithKind(oidc.KindIdTokenValidation))
		}
		return nil
	}
	t, err := oidc.ParseIdToken(string(raw))
	if err != nil {
		return oidc.WrapError(err, oidc.WithOp(op))
	}
	v, err := c.idTokenValidator(ctx, pc)
	if err != nil {
		return err
	}
	err = v.Validate(ctx, t, oidc.ValidationParams{
		Issuer:    pc.Issuer,
		ClientID:  c.cfg.ClientID,
		Nonce:     nonce,
		GrantType: grantType,
	})
	return oidc.WrapError(err, oidc.WithOp(op))
}

func (c *Controller) idTokenValidator(ctx context.Context, pc *oidc.ProviderConfig) (oidc.IDTokenValidator, error) {
	const op = "Controller.idTokenValidator"
	if c.validator != nil {
		return c.validator, nil
	}
	def := oidc.NewDefaultValidator(oidc.WithNow(c.now))
	if !c.verifySignatures {
		return def, nil
	}
	if pc.JWKSURI == "" {
		return nil, oidc.NewError(oidc.ErrMissingEndpoint, oidc.WithOp(op), oidc.WithKind(oidc.KindConfiguration), oidc.WithMsg("jwks_uri is missing"))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.keySet == nil || c.jwksURI != pc.JWKSURI {
		ks, err := jwt.NewJSONWebKeySet(ctx, pc.JWKSURI, jwt.WithCACert(c.caCert))
		if err != nil {
			return nil, oidc.NewError(oidc.ErrInvalidParameter, oidc.WithOp(op), oidc.WithKind(oidc.KindConfiguration), oidc.WithMsg("unable to create key set"), oidc.WithWrap(err))
		}
		c.keySet, c.jwksURI = ks, pc.JWKSURI
	}
	return oidc.NewSignatureValidator(c.keySet, def)
}
