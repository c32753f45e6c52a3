package socketcan

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by every I/O operation invoked on a session that is
// not open. The zero Session value is an unopened session.
var ErrClosed = errors.New("socketcan: session not open")

// InitError reports a failed step of session construction or of a socket
// option call. The session is unusable after one.
type InitError struct {
	Step string
	Err  error
}

func (e *InitError) Error() string { return fmt.Sprintf("socketcan: init %s: %v", e.Step, e.Err) }
func (e *InitError) Unwrap() error { return e.Err }

// CloseError reports a failed or repeated teardown.
type CloseError struct {
	Err error
}

func (e *CloseError) Error() string { return fmt.Sprintf("socketcan: close: %v", e.Err) }
func (e *CloseError) Unwrap() error { return e.Err }

// IOError reports a failed read or write syscall. A would-block condition is
// still an IOError at this level; callers that need to treat it as "no data"
// test errors.Is against the platform would-block errno.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string { return fmt.Sprintf("socketcan: %s: %v", e.Op, e.Err) }
func (e *IOError) Unwrap() error { return e.Err }

// FilterError reports a kernel-rejected filter array. The previously
// installed set stays in effect.
type FilterError struct {
	Err error
}

func (e *FilterError) Error() string { return fmt.Sprintf("socketcan: install filters: %v", e.Err) }
func (e *FilterError) Unwrap() error { return e.Err }
