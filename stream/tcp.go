package stream

import (
	"context"
	"errors"
	"net"
	"syscall"
	"time"

	"github.com/Tinkoff/stream-client/log"
)

// keepAlivePeriod enabled on every TCP session.
const keepAlivePeriod = 30 * time.Second

// TCPSocket is a connected TCP session.
type TCPSocket struct {
	socket
}

// DialTCP connects to ep within connectDeadline. The I/O timeout does not
// bound the connect itself, it only records the default for subsequent
// operations on the session. On success keep-alive, no-delay and (where the
// platform has it) quick-ack are enabled.
func DialTCP(ep Endpoint, connectDeadline Deadline, ioTimeout time.Duration) (*TCPSocket, error) {
	ctx, cancel := connectDeadline.Context(context.Background())
	defer cancel()

	d := net.Dialer{KeepAlive: keepAlivePeriod}
	conn, err := d.DialContext(ctx, "tcp", ep.Addr())
	if err != nil {
		return nil, opError("connect", ep.Addr(), err)
	}
	tc := conn.(*net.TCPConn)
	tc.SetNoDelay(true)
	if err := setQuickAck(tc); err != nil {
		log.Logf(log.Trace, "stream", "quick-ack on %s: %v", ep.Addr(), err)
	}

	s := &TCPSocket{socket: socket{conn: conn, id: shortID(), remote: ep.Addr(), ioTimeout: ioTimeout}}
	log.Logf(log.Trace, "stream", "session %s: connected tcp %s", s.id, s.remote)
	return s, nil
}

// Send writes all of p or fails. One deadline covers all partial writes.
func (s *TCPSocket) Send(p []byte, deadline Deadline) error {
	return s.send("send", p, deadline)
}

// Receive reads exactly len(p) bytes or fails.
func (s *TCPSocket) Receive(p []byte, deadline Deadline) error {
	return s.receive("receive", p, deadline)
}

// WriteSome performs a single write, returning the count transferred.
func (s *TCPSocket) WriteSome(p []byte, deadline Deadline) (int, error) {
	return s.writeSome("write_some", p, deadline)
}

// ReadSome performs a single read.
func (s *TCPSocket) ReadSome(p []byte, deadline Deadline) (int, error) {
	return s.readSome("read_some", p, deadline)
}

// Close shuts the write side down first, then closes the handle. A peer
// that already closed (ENOTCONN during shutdown) counts as success. A
// second Close returns ErrBadDescriptor.
func (s *TCPSocket) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return &OpError{Op: "close", Target: s.remote, Err: ErrBadDescriptor}
	}
	if tc, ok := s.conn.(*net.TCPConn); ok {
		if err := tc.CloseWrite(); err != nil && !errors.Is(err, syscall.ENOTCONN) {
			log.Logf(log.Debug, "stream", "session %s: shutdown: %v", s.id, err)
		}
	}
	if err := s.conn.Close(); err != nil {
		return opError("close", s.remote, err)
	}
	log.Logf(log.Trace, "stream", "session %s: closed", s.id)
	return nil
}
