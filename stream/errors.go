package stream

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"syscall"
)

// Error kinds surfaced by the library. Match with errors.Is; the concrete
// error values returned by operations are *OpError wrapping one of these.
var (
	ErrTimeout              = errors.New("timed out")
	ErrHostNotFound         = errors.New("host not found")
	ErrHostNotFoundTryAgain = errors.New("host not found, try again later")
	ErrRefused              = errors.New("connection refused")
	ErrUnreachable          = errors.New("host unreachable")
	ErrAborted              = errors.New("connection aborted")
	ErrReset                = errors.New("connection reset by peer")
	ErrBrokenPipe           = errors.New("broken pipe")
	ErrEOF                  = errors.New("end of file")
	ErrBadDescriptor        = errors.New("socket is closed")
	ErrWrongProtocol        = errors.New("wrong protocol type")
	ErrVerifyFailed         = errors.New("certificate verification failed")
	ErrProtocol             = errors.New("protocol error")
	ErrBufferOverflow       = errors.New("receive buffer limit exceeded")
	ErrEndOfStream          = errors.New("end of stream before message")
	ErrPoolEmpty            = errors.New("connection pool is empty")
	ErrCancelled            = errors.New("operation cancelled")
)

// OpError carries the failed operation, the remote target and the taxonomy
// kind, optionally keeping the lower-level cause.
type OpError struct {
	Op     string
	Target string
	Err    error // one of the Err* kinds, or the raw error if unclassified
	Cause  error // underlying error when distinct from Err
}

func (e *OpError) Error() string {
	s := e.Op
	if e.Target != "" {
		s += " " + e.Target
	}
	s += ": " + e.Err.Error()
	if e.Cause != nil {
		s += " (" + e.Cause.Error() + ")"
	}
	return s
}

func (e *OpError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
}

// Timeout reports whether the error is deadline expiry. Together with
// Temporary this makes *OpError satisfy net.Error.
func (e *OpError) Timeout() bool { return e.Err == ErrTimeout }

// Temporary reports whether retrying later may help.
func (e *OpError) Temporary() bool {
	return e.Err == ErrTimeout || e.Err == ErrHostNotFoundTryAgain || e.Err == ErrPoolEmpty
}

var kinds = []error{
	ErrTimeout, ErrHostNotFound, ErrHostNotFoundTryAgain, ErrRefused,
	ErrUnreachable, ErrAborted, ErrReset, ErrBrokenPipe, ErrEOF,
	ErrBadDescriptor, ErrWrongProtocol, ErrVerifyFailed, ErrProtocol,
	ErrBufferOverflow, ErrEndOfStream, ErrPoolEmpty, ErrCancelled,
}

// Classify maps an arbitrary error to its taxonomy kind. Unknown errors are
// returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	switch {
	case errors.Is(err, os.ErrDeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	case errors.Is(err, context.Canceled):
		return ErrCancelled
	case errors.Is(err, net.ErrClosed):
		return ErrBadDescriptor
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return ErrEOF
	case errors.Is(err, syscall.ECONNREFUSED):
		return ErrRefused
	case errors.Is(err, syscall.ECONNRESET):
		return ErrReset
	case errors.Is(err, syscall.EPIPE):
		return ErrBrokenPipe
	case errors.Is(err, syscall.EHOSTUNREACH), errors.Is(err, syscall.ENETUNREACH):
		return ErrUnreachable
	case errors.Is(err, syscall.ECONNABORTED):
		return ErrAborted
	case errors.Is(err, syscall.EBADF):
		return ErrBadDescriptor
	case errors.Is(err, syscall.EPROTOTYPE), errors.Is(err, syscall.EPROTONOSUPPORT):
		return ErrWrongProtocol
	case errors.Is(err, syscall.ECANCELED):
		return ErrCancelled
	case errors.Is(err, syscall.ETIMEDOUT):
		return ErrTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ErrTimeout
	}
	return err
}

// opError wraps err as an *OpError after classification. Returns nil for a
// nil err.
func opError(op, target string, err error) error {
	if err == nil {
		return nil
	}
	kind := Classify(err)
	if kind == err {
		return &OpError{Op: op, Target: target, Err: kind}
	}
	return &OpError{Op: op, Target: target, Err: kind, Cause: err}
}
