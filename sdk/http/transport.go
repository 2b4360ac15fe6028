// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package http defines the transport collaborator used to talk to an
// authorization server and a default implementation built on net/http.
// Callers may substitute any blocking or asynchronous HTTP stack by
// implementing Transport.
package http

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ConnectParams describes a single request made through a Transport.
type ConnectParams struct {
	// Method is the HTTP method, GET when empty.
	Method string

	// Header holds request headers.
	Header http.Header

	// Body is an optional request body.
	Body []byte

	// ConnectTimeout and ReadTimeout bound the request.  When either is
	// set, their sum is applied as the deadline for the whole exchange,
	// including reading the response body.
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
}

// Response is the result of Transport.Connect.  Callers must Close it.
type Response struct {
	StatusCode    int
	Header        http.Header
	ContentLength int64
	Body          io.ReadCloser
}

// Close releases the response body.
func (r *Response) Close() error {
	if r == nil || r.Body == nil {
		return nil
	}
	return r.Body.Close()
}

// Transport connects to a uri and returns the response stream.  A canceled
// ctx must abort the in-flight request.
type Transport interface {
	Connect(ctx context.Context, uri string, params *ConnectParams) (*Response, error)
}

// ClientTransport is a Transport backed by an *http.Client.
type ClientTransport struct {
	client *http.Client
}

// ensure that ClientTransport implements the Transport interface
var _ Transport = (*ClientTransport)(nil)

// NewTransport returns a ClientTransport.
//
// Supported options: WithHTTPClient, WithCACert, WithConnectTimeout
func NewTransport(opt ...Option) (*ClientTransport, error) {
	const op = "http.NewTransport"
	opts := getOpts(opt...)
	if opts.withHTTPClient != nil {
		return &ClientTransport{client: opts.withHTTPClient}, nil
	}
	c, err := NewClient(opts.withCACert, opt...)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create http client: %w", op, err)
	}
	return &ClientTransport{client: c}, nil
}

// Client returns the underlying *http.Client.
func (t *ClientTransport) Client() *http.Client {
	return t.client
}

// Connect implements the Transport interface.
func (t *ClientTransport) Connect(ctx context.Context, uri string, params *ConnectParams) (*Response, error) {
	const op = "ClientTransport.Connect"
	if uri == "" {
		return nil, fmt.Errorf("%s: uri is empty: %w", op, ErrInvalidParameter)
	}
	if params == nil {
		params = &ConnectParams{}
	}
	method := params.Method
	if method == "" {
		method = http.MethodGet
	}

	cancel := context.CancelFunc(func() {})
	if timeout := params.ConnectTimeout + params.ReadTimeout; timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	}

	var body io.Reader
	if params.Body != nil {
		body = bytes.NewReader(params.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, uri, body)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%s: unable to create request: %w", op, err)
	}
	for k, vs := range params.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := t.client.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Response{
		StatusCode:    resp.StatusCode,
		Header:        resp.Header,
		ContentLength: resp.ContentLength,
		Body:          &cancelOnClose{ReadCloser: resp.Body, cancel: cancel},
	}, nil
}

// cancelOnClose releases the request deadline once the body is consumed.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	defer c.cancel()
	return c.ReadCloser.Close()
}
