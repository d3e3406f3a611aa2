package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/chazu/tern/compiler"
	"github.com/chazu/tern/pkg/bytecode"
)

// job is a unit of work for the pool.
type job struct {
	fn   func() (any, error)
	done chan jobResult
}

type jobResult struct {
	value any
	err   error
}

// ErrInternal wraps a compiler or VM invariant violation caught by the pool.
var ErrInternal = errors.New("internal error")

// Workers runs compilations and VM runs on a fixed set of goroutines.
// Compiler and VM state is never shared between jobs; the pool bounds how
// many run at once and turns internal panics into errors.
type Workers struct {
	jobs chan job
	quit chan struct{}
}

// NewWorkers starts n worker goroutines.
func NewWorkers(n int) *Workers {
	if n < 1 {
		n = 1
	}
	w := &Workers{
		jobs: make(chan job, 4*n),
		quit: make(chan struct{}),
	}
	for i := 0; i < n; i++ {
		go w.loop()
	}
	return w
}

func (w *Workers) loop() {
	for {
		select {
		case j := <-w.jobs:
			j.done <- execute(j.fn)
		case <-w.quit:
			return
		}
	}
}

// execute runs fn, recovering internal error panics.
func execute(fn func() (any, error)) (result jobResult) {
	defer func() {
		if r := recover(); r != nil {
			switch e := r.(type) {
			case *compiler.InternalError:
				result.err = fmt.Errorf("%w: %v", ErrInternal, e)
			case *bytecode.InternalError:
				result.err = fmt.Errorf("%w: %v", ErrInternal, e)
			default:
				result.err = fmt.Errorf("%w: %v", ErrInternal, r)
			}
			log.Errorf("recovered: %v", r)
		}
	}()
	result.value, result.err = fn()
	return result
}

// Do submits fn and waits for its result. It gives up when ctx is done,
// in which case fn may still run to completion in the background.
func (w *Workers) Do(ctx context.Context, fn func() (any, error)) (any, error) {
	j := job{fn: fn, done: make(chan jobResult, 1)}
	select {
	case w.jobs <- j:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-w.quit:
		return nil, errors.New("server stopped")
	}
	select {
	case r := <-j.done:
		return r.value, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop shuts down the worker goroutines.
func (w *Workers) Stop() {
	close(w.quit)
}
