package engine

import (
	"context"
	"fmt"
	"sync"
)

// request is a unit of work to be executed on the engine goroutine.
type request struct {
	fn   func(*Engine) (any, error)
	done chan response
}

type response struct {
	value any
	err   error
}

// Worker serializes all engine access through a single goroutine.
// An engine shares one store connection and one compiled-program cache;
// sessions, the LSP server and the CLI all go through the worker.
type Worker struct {
	engine   *Engine
	requests chan request
	quit     chan struct{}
	stop     sync.Once
}

// NewWorker creates a Worker and starts the processing goroutine.
func NewWorker(e *Engine) *Worker {
	w := &Worker{
		engine:   e,
		requests: make(chan request, 64),
		quit:     make(chan struct{}),
	}
	go w.loop()
	return w
}

// loop processes requests sequentially on a dedicated goroutine.
func (w *Worker) loop() {
	for {
		select {
		case req := <-w.requests:
			req.done <- w.execute(req.fn)
		case <-w.quit:
			return
		}
	}
}

// execute runs a function on the engine, recovering from panics.
func (w *Worker) execute(fn func(*Engine) (any, error)) (res response) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("worker: panic: %v", r)
			res = response{err: fmt.Errorf("engine panic: %v", r)}
		}
	}()
	v, err := fn(w.engine)
	return response{value: v, err: err}
}

// Do submits fn for execution on the engine goroutine and blocks until it
// completes or ctx is done. Work already accepted runs to completion even
// if the caller stops waiting.
func (w *Worker) Do(ctx context.Context, fn func(*Engine) (any, error)) (any, error) {
	req := request{fn: fn, done: make(chan response, 1)}
	select {
	case <-w.quit:
		return nil, ErrStopped
	default:
	}
	select {
	case w.requests <- req:
	case <-w.quit:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-req.done:
		return res.value, res.err
	case <-w.quit:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Run executes an invocation on the engine goroutine.
func (w *Worker) Run(ctx context.Context, inv Invocation) (*Result, error) {
	v, err := w.Do(ctx, func(e *Engine) (any, error) {
		return e.Run(ctx, inv)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Result), nil
}

// Stop shuts down the worker goroutine. It is safe to call more than once.
func (w *Worker) Stop() {
	w.stop.Do(func() { close(w.quit) })
}

// Engine returns the underlying engine, for read-only metadata access such
// as opcode listings.
func (w *Worker) Engine() *Engine {
	return w.engine
}
