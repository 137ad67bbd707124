package bridge

import (
	"errors"
	"fmt"
)

// ErrClosed is returned for work submitted after Stop.
var ErrClosed = errors.New("bridge: closed")

// Coded is implemented by native errors that carry a daemon error code.
type Coded interface {
	Code() int
}

// DaemonError reports a failed native call.
type DaemonError struct {
	Call string
	Code int
	Err  error
}

func (e *DaemonError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("daemon %s: code %d: %v", e.Call, e.Code, e.Err)
	}
	return fmt.Sprintf("daemon %s: %v", e.Call, e.Err)
}

func (e *DaemonError) Unwrap() error { return e.Err }

func wrapNative(call string, err error) error {
	if err == nil {
		return nil
	}
	var de *DaemonError
	if errors.As(err, &de) {
		return err
	}
	out := &DaemonError{Call: call, Err: err}
	var c Coded
	if errors.As(err, &c) {
		out.Code = c.Code()
	}
	return out
}
