// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"errors"
	"fmt"
	"strings"
)

// Codes identify the specific reason for an error.  They're returned wrapped
// in an *Err, so callers should match them with errors.Is.
var (
	ErrCodeUnknown                = errors.New("unknown")
	ErrInvalidParameter           = errors.New("invalid parameter")
	ErrNilParameter               = errors.New("nil parameter")
	ErrInvalidCACert              = errors.New("invalid CA certificate")
	ErrInvalidIssuer              = errors.New("invalid issuer")
	ErrInvalidIssuerURI           = errors.New("invalid issuer uri")
	ErrIdGeneratorFailed          = errors.New("id generation failed")
	ErrUnsupportedChallengeMethod = errors.New("unsupported PKCE challenge method")
	ErrInvalidCodeVerifier        = errors.New("invalid PKCE code verifier")
	ErrDiscoveryFailed            = errors.New("discovery failed")
	ErrMissingEndpoint            = errors.New("missing endpoint")
	ErrInvalidRedirectURI         = errors.New("invalid redirect uri")
	ErrResponseStateInvalid       = errors.New("response state does not match request")
	ErrUserCanceled               = errors.New("user canceled")
	ErrAuthorizationFailed        = errors.New("authorization failed")
	ErrTokenRequestFailed         = errors.New("token request failed")
	ErrMissingIdToken             = errors.New("id_token is missing")
	ErrMalformedIdToken           = errors.New("id_token is malformed")
	ErrUnsupportedAlg             = errors.New("unsupported signing algorithm")
	ErrInvalidAudience            = errors.New("invalid audience")
	ErrExpiredToken               = errors.New("token is expired")
	ErrInvalidIssuedAt            = errors.New("invalid issued at")
	ErrInvalidNonce               = errors.New("invalid nonce")
	ErrInvalidSignature           = errors.New("invalid signature")
	ErrMalformedResponse          = errors.New("malformed response")
	ErrTransportFailed            = errors.New("transport failed")
	ErrEncryptionFailed           = errors.New("encryption failed")
	ErrFlowInProgress             = errors.New("a flow is already in progress")
	ErrNotAuthorized              = errors.New("not authorized")
	ErrNotFound                   = errors.New("not found")
)

// Kind classifies an error so callers can decide how to handle it without
// matching every Code.  Kind implements error, so errors.Is(err, KindX)
// matches any *Err of that classification.
type Kind uint32

const (
	KindUnknown Kind = iota
	KindParameterViolation
	KindInternal
	KindConfiguration
	KindInvalidRedirectURI
	KindStateMismatch
	KindUserCanceled
	KindAuthorization
	KindOAuthToken
	KindIdTokenValidation
	KindJSONDeserialization
	KindNetwork
	KindEncryption
	KindFlowInProgress
)

var kindNames = map[Kind]string{
	KindUnknown:             "unknown",
	KindParameterViolation:  "parameter violation",
	KindInternal:            "internal error",
	KindConfiguration:       "configuration error",
	KindInvalidRedirectURI:  "invalid redirect uri",
	KindStateMismatch:       "state mismatch",
	KindUserCanceled:        "user canceled",
	KindAuthorization:       "authorization error",
	KindOAuthToken:          "oauth token error",
	KindIdTokenValidation:   "id_token validation error",
	KindJSONDeserialization: "json deserialization error",
	KindNetwork:             "network error",
	KindEncryption:          "encryption error",
	KindFlowInProgress:      "flow in progress",
}

// String returns the name of the kind.
func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return kindNames[KindUnknown]
}

// Error implements the error interface.
func (k Kind) Error() string { return k.String() }

// Err provides the ability to specify a Msg, Op, Kind, Code and Wrapped
// error.  Errors from an authorization server's error response also carry
// its error and error_description.
type Err struct {
	// Code is the specific reason for the error.
	Code error

	// Kind is the classification of the error.
	Kind Kind

	// Msg for the error
	Msg string

	// Op represents the operation raising/propagating an error and is
	// optional.
	Op string

	// Wrapped is the error which this Err wraps and will be nil if there's
	// no error being wrapped.
	Wrapped error

	// OAuthError is the "error" returned by the authorization server.
	OAuthError string

	// OAuthDescription is the "error_description" returned by the
	// authorization server.
	OAuthDescription string
}

// ensure that *Err implements the error interface
var _ error = (*Err)(nil)

// NewError creates a new Err with the code and options.
//
// Supported options: WithOp, WithKind, WithMsg, WithWrap, WithOAuthError
func NewError(code error, opt ...Option) error {
	opts := getErrOpts(opt...)
	if code == nil {
		code = ErrCodeUnknown
	}
	return &Err{
		Code:             code,
		Kind:             opts.withKind,
		Op:               opts.withOp,
		Msg:              opts.withErrMsg,
		Wrapped:          opts.withErrWrapped,
		OAuthError:       opts.withOAuthError,
		OAuthDescription: opts.withOAuthDescription,
	}
}

// WrapError wraps err in a new Err.  The Code, Kind and OAuth fields are
// inherited from err when it's an *Err and no option overrides them.
//
// Supported options: WithOp, WithKind, WithMsg, WithOAuthError
func WrapError(err error, opt ...Option) error {
	if err == nil {
		return nil
	}
	opts := getErrOpts(opt...)
	e := &Err{
		Code:             ErrCodeUnknown,
		Kind:             opts.withKind,
		Op:               opts.withOp,
		Msg:              opts.withErrMsg,
		Wrapped:          err,
		OAuthError:       opts.withOAuthError,
		OAuthDescription: opts.withOAuthDescription,
	}
	var inner *Err
	if errors.As(err, &inner) {
		e.Code = inner.Code
		if e.Kind == KindUnknown {
			e.Kind = inner.Kind
		}
		if e.OAuthError == "" {
			e.OAuthError = inner.OAuthError
			e.OAuthDescription = inner.OAuthDescription
		}
	}
	return e
}

// Error satisfies the error interface and returns a string representation of
// the error.
func (e *Err) Error() string {
	if e == nil {
		return ""
	}
	var s strings.Builder
	join := func(str string) {
		if str == "" {
			return
		}
		if s.Len() > 0 {
			s.WriteString(": ")
		}
		s.WriteString(str)
	}
	join(e.Op)
	join(e.Msg)
	if e.Code != nil && e.Code != ErrCodeUnknown {
		join(e.Code.Error())
	}
	if e.OAuthError != "" {
		oauth := e.OAuthError
		if e.OAuthDescription != "" {
			oauth = fmt.Sprintf("%s (%s)", oauth, e.OAuthDescription)
		}
		join(oauth)
	}
	if e.Wrapped != nil {
		join(e.Wrapped.Error())
	}
	if s.Len() == 0 {
		return e.Kind.String()
	}
	return s.String()
}

// Unwrap implements the errors.Unwrap interface and allows callers to use
// the errors.Is() and errors.As() functions effectively for any wrapped
// errors.
func (e *Err) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Wrapped
}

// Is reports whether target is e's Code or Kind.
func (e *Err) Is(target error) bool {
	if e == nil {
		return false
	}
	if k, ok := target.(Kind); ok {
		return e.Kind == k
	}
	return e.Code != nil && e.Code == target
}

// KindOf returns the Kind of the outermost *Err in err's chain, or
// KindUnknown.
func KindOf(err error) Kind {
	var e *Err
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

type errOptions struct {
	withErrWrapped       error
	withErrMsg           string
	withOp               string
	withKind             Kind
	withOAuthError       string
	withOAuthDescription string
}

func errDefaults() errOptions {
	return errOptions{}
}

func getErrOpts(opt ...Option) errOptions {
	opts := errDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithWrap provides an option to provide an error to wrap when creating a
// new error.
func WithWrap(e error) Option {
	return func(o interface{}) {
		if v, ok := o.(*errOptions); ok {
			v.withErrWrapped = e
		}
	}
}

// WithMsg provides an option to provide a message when creating a new
// error.
func WithMsg(msg string) Option {
	return func(o interface{}) {
		if v, ok := o.(*errOptions); ok {
			v.withErrMsg = msg
		}
	}
}

// WithOp provides an option to provide the operation that's raising/propagating
// the error.
func WithOp(op string) Option {
	return func(o interface{}) {
		if v, ok := o.(*errOptions); ok {
			v.withOp = op
		}
	}
}

// WithKind provides an option to classify the error.
func WithKind(k Kind) Option {
	return func(o interface{}) {
		if v, ok := o.(*errOptions); ok {
			v.withKind = k
		}
	}
}

// WithOAuthError provides the error and error_description an authorization
// server returned.
func WithOAuthError(code, description string) Option {
	return func(o interface{}) {
		if v, ok := o.(*errOptions); ok {
			v.withOAuthError = code
			v.withOAuthDescription = description
		}
	}
}
