// Package xerrors creates and wraps errors with call-site information that
// the logger turns into stacks and error_links. Errors stay compatible with
// errors.Is and errors.As.
package xerrors

import (
	"errors"
	"fmt"
	"runtime"
)

const maxStackDepth = 64

// stacked carries the goroutine stack at the point the error entered the
// service, whether created here or adopted from a library
type stacked struct {
	err error
	pcs []uintptr
}

func (s *stacked) Error() string       { return s.err.Error() }
func (s *stacked) Unwrap() error       { return s.err }
func (s *stacked) StackPCs() []uintptr { return s.pcs }
func (s *stacked) IsXerrorsWrapper()   {}

// wrapped adds context and the single PC of the wrap site
type wrapped struct {
	err error
	msg string
	pc  uintptr
}

func (w *wrapped) Error() string     { return w.msg + ": " + w.err.Error() }
func (w *wrapped) Unwrap() error     { return w.err }
func (w *wrapped) PC() uintptr       { return w.pc }
func (w *wrapped) IsXerrorsWrapper() {}

// stack captures PCs above the caller of the exported function. skip
// counts frames above runtime.Callers and stack itself.
func stack(skip int) []uintptr {
	pcs := make([]uintptr, maxStackDepth)
	n := runtime.Callers(2+skip, pcs)
	return pcs[:n]
}

func callerPC(skip int) uintptr {
	var pcs [1]uintptr
	if runtime.Callers(2+skip, pcs[:]) == 0 {
		return 0
	}
	return pcs[0]
}

func withStack(err error, skip int) error {
	if err == nil {
		return nil
	}
	return &stacked{err: err, pcs: stack(skip + 1)}
}

func New(msg string) error             { return withStack(errors.New(msg), 1) }
func Newf(f string, args ...any) error { return withStack(fmt.Errorf(f, args...), 1) }

// WithStack records the caller's stack on err. Use it for sentinel-wrapped
// errors built with fmt.Errorf that should still carry a stack.
func WithStack(err error) error { return withStack(err, 1) }

// EnsureTrace adds a stack only when nothing in err's chain has one yet
func EnsureTrace(err error) error {
	if err == nil {
		return nil
	}
	var hs interface{ StackPCs() []uintptr }
	if errors.As(err, &hs) && len(hs.StackPCs()) > 0 {
		return err
	}
	return withStack(err, 1)
}

func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &wrapped{err: err, msg: msg, pc: callerPC(1)}
}

func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &wrapped{err: err, msg: fmt.Sprintf(format, args...), pc: callerPC(1)}
}

// Join combines failures that happened together, such as both halves of a
// cleanup, keeping a stack at the join site. Nil errors are dropped and
// Join returns nil when none remain.
func Join(errs ...error) error {
	joined := errors.Join(errs...)
	if joined == nil {
		return nil
	}
	return withStack(joined, 1)
}
