package request

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/fulldump/unikv/engine"
	"github.com/fulldump/unikv/loop"
)

// Meta is the diagnostic information stamped on every handle.
type Meta struct {
	Component string
	Operation string
	Args      []any
}

// Error is the failure of a handle: its metadata plus the engine error. Key
// is set when the failure comes from one entry of a join.
type Error struct {
	Component string
	Operation string
	Args      []any
	Key       any
	Err       error
}

func (e *Error) Error() string {
	if e.Key != nil {
		return fmt.Sprintf("[%v] %v", e.Key, e.Err)
	}
	args := make([]string, len(e.Args))
	for i, arg := range e.Args {
		args[i] = fmt.Sprintf("%v", arg)
	}
	return fmt.Sprintf("%s.%s(%s): %v", e.Component, e.Operation, strings.Join(args, ", "), e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the engine error code carried by err, or "" if there is
// none.
func CodeOf(err error) engine.Code {
	var engineErr *engine.Error
	if errors.As(err, &engineErr) {
		return engineErr.Code
	}
	return ""
}

// ErrorHandler receives failures nobody listened to.
type ErrorHandler func(err *Error)

const (
	statePending = iota
	stateDone
	stateFailed
)

// Handle is one in-flight or completed asynchronous operation. OnDone and
// OnFailed listeners run on the loop; each handle settles once.
type Handle struct {
	loop     *loop.Loop
	meta     Meta
	fallback ErrorHandler

	mutex    sync.Mutex
	state    int
	result   any
	err      *Error
	onDone   []func(result any)
	onFailed []func(err *Error)
	done     chan struct{}
}

// New returns a pending handle, settled later with Resolve or Fail. If it
// fails without OnFailed listeners, fallback is called; a nil fallback
// panics.
func New(l *loop.Loop, meta Meta, fallback ErrorHandler) *Handle {
	return &Handle{
		loop:     l,
		meta:     meta,
		fallback: fallback,
		done:     make(chan struct{}),
	}
}

// Wrap adapts a native request. The handle settles on its first outcome.
func Wrap(l *loop.Loop, r *engine.Request, meta Meta, fallback ErrorHandler) *Handle {
	h := New(l, meta, fallback)
	r.OnSuccess = func(result any) {
		h.Resolve(result)
	}
	r.OnError = func(err error) {
		h.Fail(err)
	}
	return h
}

// Failed returns a handle that fails with err on the next loop turn, so the
// caller can still register its listeners.
func Failed(l *loop.Loop, meta Meta, fallback ErrorHandler, err error) *Handle {
	h := New(l, meta, fallback)
	if !l.Post(func() { h.Fail(err) }) {
		h.Fail(err)
	}
	return h
}

// Resolved returns an already resolved handle.
func Resolved(l *loop.Loop, meta Meta, value any) *Handle {
	h := New(l, meta, nil)
	h.Resolve(value)
	return h
}

// Rejected returns an already failed handle. The failure is only reported to
// the listeners registered on it, never to a fallback.
func Rejected(l *loop.Loop, meta Meta, err error) *Handle {
	h := New(l, meta, func(*Error) {})
	h.Fail(err)
	return h
}

func (h *Handle) Meta() Meta {
	return h.meta
}

// OnDone registers f. If the handle already resolved, f is posted to the
// loop.
func (h *Handle) OnDone(f func(result any)) *Handle {
	h.mutex.Lock()
	switch h.state {
	case statePending:
		h.onDone = append(h.onDone, f)
		h.mutex.Unlock()
	case stateDone:
		result := h.result
		h.mutex.Unlock()
		h.post(func() { f(result) })
	default:
		h.mutex.Unlock()
	}
	return h
}

// OnFailed registers f. If the handle already failed, f is posted to the
// loop.
func (h *Handle) OnFailed(f func(err *Error)) *Handle {
	h.mutex.Lock()
	switch h.state {
	case statePending:
		h.onFailed = append(h.onFailed, f)
		h.mutex.Unlock()
	case stateFailed:
		err := h.err
		h.mutex.Unlock()
		h.post(func() { f(err) })
	default:
		h.mutex.Unlock()
	}
	return h
}

func (h *Handle) post(f func()) {
	if !h.loop.Post(f) {
		f()
	}
}

// Resolve settles the handle with result. It is a no-op once settled.
func (h *Handle) Resolve(result any) {
	h.mutex.Lock()
	if h.state != statePending {
		h.mutex.Unlock()
		return
	}
	h.state = stateDone
	h.result = result
	listeners := h.onDone
	h.onDone, h.onFailed = nil, nil
	close(h.done)
	h.mutex.Unlock()

	for _, f := range listeners {
		f(result)
	}
}

// Fail settles the handle with err, stamped with the handle metadata unless
// it already is an *Error. It is a no-op once settled.
func (h *Handle) Fail(err error) {
	e, ok := err.(*Error)
	if !ok {
		e = &Error{
			Component: h.meta.Component,
			Operation: h.meta.Operation,
			Args:      h.meta.Args,
			Err:       err,
		}
	}

	h.mutex.Lock()
	if h.state != statePending {
		h.mutex.Unlock()
		return
	}
	h.state = stateFailed
	h.err = e
	listeners := h.onFailed
	h.onDone, h.onFailed = nil, nil
	close(h.done)
	h.mutex.Unlock()

	if len(listeners) == 0 {
		if h.fallback == nil {
			panic(e)
		}
		h.fallback(e)
		return
	}

	for _, f := range listeners {
		f(e)
	}
}

// Done is closed once the handle settles.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Result returns the outcome of a settled handle, or nil, nil while pending.
func (h *Handle) Result() (any, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if h.state == stateFailed {
		return nil, h.err
	}
	return h.result, nil
}

// Wait blocks until the handle settles or ctx is done. It must not be called
// from the loop.
func (h *Handle) Wait(ctx context.Context) (any, error) {
	select {
	case <-h.done:
		return h.Result()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
