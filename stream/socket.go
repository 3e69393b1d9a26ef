package stream

import (
	"errors"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Tinkoff/stream-client/log"
)

// Transport is the capability set common to every session kind: fully
// transferring send/receive plus lifecycle.
type Transport interface {
	// Send writes all of p or fails. The deadline bounds the whole call.
	Send(p []byte, deadline Deadline) error
	// Receive reads exactly len(p) bytes or fails. Datagram sessions read
	// a single datagram instead, which may be shorter than p.
	Receive(p []byte, deadline Deadline) error
	// Close releases the session. Closing twice returns ErrBadDescriptor.
	Close() error
	// IsOpen reports whether the session is still usable. A session that
	// timed out or was closed is not.
	IsOpen() bool
	// ID is a short identifier for log correlation.
	ID() string
	// Remote is the dialed address in host:port form.
	Remote() string
	// IOTimeout is the default bound for I/O on this session, as configured
	// at construction. Callers wanting the default pass Within(IOTimeout()).
	IOTimeout() time.Duration
}

// Socket extends Transport with partial transfers, available on stream
// (byte-ordered) sessions only.
type Socket interface {
	Transport
	// WriteSome performs a single underlying write and returns the count
	// actually transferred.
	WriteSome(p []byte, deadline Deadline) (int, error)
	// ReadSome performs a single underlying read.
	ReadSome(p []byte, deadline Deadline) (int, error)
}

// socket is the shared deadline plumbing under the TCP/UDP/TLS variants.
type socket struct {
	conn      net.Conn
	id        string
	remote    string
	ioTimeout time.Duration
	closed    atomic.Bool
}

func shortID() string { return uuid.NewString()[:8] }

func (s *socket) ID() string                { return s.id }
func (s *socket) Remote() string            { return s.remote }
func (s *socket) IOTimeout() time.Duration  { return s.ioTimeout }
func (s *socket) IsOpen() bool              { return !s.closed.Load() }
func (s *socket) LocalAddr() net.Addr       { return s.conn.LocalAddr() }

// arm validates the deadline and sets it on the connection via set
// (SetReadDeadline or SetWriteDeadline).
func (s *socket) arm(op string, d Deadline, set func(time.Time) error) error {
	if s.closed.Load() {
		return &OpError{Op: op, Target: s.remote, Err: ErrBadDescriptor}
	}
	if d.Expired() {
		return &OpError{Op: op, Target: s.remote, Err: ErrTimeout}
	}
	if err := set(d.Time()); err != nil {
		return opError(op, s.remote, err)
	}
	return nil
}

// ioError classifies an I/O failure. Deadline expiry tears the session
// down: the handle is closed and the session reports !IsOpen afterwards.
func (s *socket) ioError(op string, err error) error {
	e := opError(op, s.remote, err)
	if errors.Is(e, ErrTimeout) {
		s.teardown(op)
	}
	return e
}

func (s *socket) teardown(op string) {
	if s.closed.CompareAndSwap(false, true) {
		log.Logf(log.Debug, "stream", "session %s: %s deadline expired, closing %s", s.id, op, s.remote)
		s.conn.Close()
	}
}

func (s *socket) writeSome(op string, p []byte, d Deadline) (int, error) {
	if err := s.arm(op, d, s.conn.SetWriteDeadline); err != nil {
		return 0, err
	}
	n, err := s.conn.Write(p)
	if err != nil {
		return n, s.ioError(op, err)
	}
	return n, nil
}

func (s *socket) readSome(op string, p []byte, d Deadline) (int, error) {
	if err := s.arm(op, d, s.conn.SetReadDeadline); err != nil {
		return 0, err
	}
	n, err := s.conn.Read(p)
	if err != nil {
		return n, s.ioError(op, err)
	}
	return n, nil
}

// send writes all of p, reusing one armed deadline across partial writes.
func (s *socket) send(op string, p []byte, d Deadline) error {
	if err := s.arm(op, d, s.conn.SetWriteDeadline); err != nil {
		return err
	}
	for len(p) > 0 {
		n, err := s.conn.Write(p)
		p = p[n:]
		if err != nil {
			return s.ioError(op, err)
		}
	}
	return nil
}

// receive reads exactly len(p) bytes under one armed deadline.
func (s *socket) receive(op string, p []byte, d Deadline) error {
	if err := s.arm(op, d, s.conn.SetReadDeadline); err != nil {
		return err
	}
	for len(p) > 0 {
		n, err := s.conn.Read(p)
		p = p[n:]
		if err != nil {
			return s.ioError(op, err)
		}
	}
	return nil
}
