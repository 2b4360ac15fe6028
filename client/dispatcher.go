// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package client

import (
	"context"
	"sync"

	"github.com/hashicorp/appauth/oidc"
	"github.com/hashicorp/appauth/sdk/id"
	"github.com/hashicorp/go-hclog"
)

// Executor runs callbacks.  It's the callback context of a Dispatcher: a
// caller with a UI thread provides an Executor posting to it.
type Executor interface {
	Execute(fn func())
}

// ExecutorFunc adapts a func to the Executor interface.
type ExecutorFunc func(fn func())

// Execute implements the Executor interface.
func (f ExecutorFunc) Execute(fn func()) { f(fn) }

// SerialExecutor runs funcs one at a time, in submission order, on its own
// goroutine.  Execute never blocks.
type SerialExecutor struct {
	mu      sync.Mutex
	queue   []func()
	stopped bool
	signal  chan struct{}
	done    chan struct{}
}

// ensure that SerialExecutor implements the Executor interface
var _ Executor = (*SerialExecutor)(nil)

// NewSerialExecutor starts a SerialExecutor.  Stop it when done.
func NewSerialExecutor() *SerialExecutor {
	e := &SerialExecutor{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go e.run()
	return e
}

// Execute queues fn.  It's dropped once the executor is stopped.
func (e *SerialExecutor) Execute(fn func()) {
	if fn == nil {
		return
	}
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.queue = append(e.queue, fn)
	e.mu.Unlock()
	e.notify()
}

// Stop stops accepting funcs, runs the ones already queued and waits for
// them until ctx is done.
func (e *SerialExecutor) Stop(ctx context.Context) error {
	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()
	e.notify()
	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *SerialExecutor) notify() {
	select {
	case e.signal <- struct{}{}:
	default:
	}
}

func (e *SerialExecutor) run() {
	defer close(e.done)
	for range e.signal {
		for {
			e.mu.Lock()
			if len(e.queue) == 0 {
				stopped := e.stopped
				e.mu.Unlock()
				if stopped {
					return
				}
				break
			}
			fn := e.queue[0]
			e.queue[0] = nil
			e.queue = e.queue[1:]
			e.mu.Unlock()
			fn()
		}
	}
}

// Dispatcher runs work on a single background worker, one task at a time,
// and delivers callbacks through an Executor, never on the worker.
type Dispatcher struct {
	worker     *SerialExecutor
	executor   Executor
	ownsExec   bool
	logger     hclog.Logger
	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// NewDispatcher starts a Dispatcher.
//
// Supported options: WithExecutor, WithLogger
func NewDispatcher(opt ...Option) *Dispatcher {
	opts := getDispatcherOpts(opt...)
	d := &Dispatcher{
		worker:   NewSerialExecutor(),
		executor: opts.withExecutor,
		logger:   opts.withLogger.Named("dispatcher"),
	}
	if d.executor == nil {
		d.executor = NewSerialExecutor()
		d.ownsExec = true
	}
	d.baseCtx, d.baseCancel = context.WithCancel(context.Background())
	return d
}

// Submit queues fn on the worker.  The ctx given to fn is done when ctx is
// or when the dispatcher shuts down.  It returns ErrDispatcherShutdown once
// Shutdown was called.
func (d *Dispatcher) Submit(ctx context.Context, fn func(ctx context.Context)) error {
	const op = "Dispatcher.Submit"
	if fn == nil {
		return oidc.NewError(ErrNilParameter, oidc.WithOp(op), oidc.WithKind(oidc.KindParameterViolation), oidc.WithMsg("func is nil"))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return oidc.NewError(ErrDispatcherShutdown, oidc.WithOp(op), oidc.WithKind(oidc.KindInternal))
	}
	taskID, err := id.New("task")
	if err != nil {
		return oidc.NewError(oidc.ErrIdGeneratorFailed, oidc.WithOp(op), oidc.WithKind(oidc.KindInternal), oidc.WithWrap(err))
	}
	d.worker.Execute(func() {
		taskCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		stop := context.AfterFunc(d.baseCtx, cancel)
		defer stop()
		d.logger.Trace("running task", "task_id", taskID)
		fn(taskCtx)
	})
	return nil
}

// Post delivers fn on the callback Executor.
func (d *Dispatcher) Post(fn func()) {
	d.executor.Execute(fn)
}

// Shutdown stops accepting work and cancels the running and queued tasks,
// which still run to deliver their callbacks.  It waits for them, then for
// the callbacks, until ctx is done.  An Executor provided with WithExecutor
// isn't stopped.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	d.logger.Debug("shutting down")
	d.baseCancel()
	if err := d.worker.Stop(ctx); err != nil {
		return err
	}
	if se, ok := d.executor.(*SerialExecutor); ok && d.ownsExec {
		return se.Stop(ctx)
	}
	return nil
}
