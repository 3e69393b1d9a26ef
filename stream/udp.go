package stream

import (
	"context"
	"net"
	"time"

	"github.com/Tinkoff/stream-client/log"
)

// UDPSocket is a connected UDP session. Send and Receive move single
// datagrams; there are no partial transfers.
type UDPSocket struct {
	socket
}

// DialUDP creates a connected UDP socket to ep. The connect itself does not
// touch the network, so the deadline matters only for local failures.
func DialUDP(ep Endpoint, connectDeadline Deadline, ioTimeout time.Duration) (*UDPSocket, error) {
	ctx, cancel := connectDeadline.Context(context.Background())
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", ep.Addr())
	if err != nil {
		return nil, opError("connect", ep.Addr(), err)
	}

	s := &UDPSocket{socket: socket{conn: conn, id: shortID(), remote: ep.Addr(), ioTimeout: ioTimeout}}
	log.Logf(log.Trace, "stream", "session %s: connected udp %s", s.id, s.remote)
	return s, nil
}

// Send transmits p as one datagram.
func (s *UDPSocket) Send(p []byte, deadline Deadline) error {
	_, err := s.writeSome("send", p, deadline)
	return err
}

// Receive reads one datagram into p. A datagram longer than p is truncated
// by the kernel; the portion that fits is delivered.
func (s *UDPSocket) Receive(p []byte, deadline Deadline) error {
	_, err := s.readSome("receive", p, deadline)
	return err
}

// Close releases the socket. A second Close returns ErrBadDescriptor.
func (s *UDPSocket) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return &OpError{Op: "close", Target: s.remote, Err: ErrBadDescriptor}
	}
	if err := s.conn.Close(); err != nil {
		return opError("close", s.remote, err)
	}
	return nil
}
