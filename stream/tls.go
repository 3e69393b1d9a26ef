package stream

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"time"

	"github.com/Tinkoff/stream-client/log"
)

// TLSOptions configure the TLS layer of a session.
type TLSOptions struct {
	// UpstreamHost is used for SNI and, unless verification is disabled,
	// RFC 2818 hostname verification. Required.
	UpstreamHost string
	// InsecureSkipVerify disables peer certificate verification.
	InsecureSkipVerify bool
	// RootCAs overrides the system trust anchors. Nil means system roots.
	RootCAs *x509.CertPool
}

// TLSSocket is a TLS session over a TCP connection. The handshake is done
// at construction.
type TLSSocket struct {
	socket
	state tls.ConnectionState
}

// DialTLS connects to ep and performs the TLS handshake, all within
// connectDeadline.
func DialTLS(ep Endpoint, opts TLSOptions, connectDeadline Deadline, ioTimeout time.Duration) (*TLSSocket, error) {
	tcp, err := DialTCP(ep, connectDeadline, ioTimeout)
	if err != nil {
		return nil, err
	}

	cfg := &tls.Config{
		ServerName:         opts.UpstreamHost,
		InsecureSkipVerify: opts.InsecureSkipVerify,
		RootCAs:            opts.RootCAs,
	}
	tconn := tls.Client(tcp.conn, cfg)

	ctx, cancel := connectDeadline.Context(context.Background())
	if err := tconn.HandshakeContext(ctx); err != nil {
		cancel()
		tcp.teardown("handshake")
		return nil, opError("handshake", ep.Addr(), classifyTLS(err))
	}
	cancel()

	s := &TLSSocket{
		socket: socket{conn: tconn, id: tcp.id, remote: tcp.remote, ioTimeout: tcp.ioTimeout},
		state:  tconn.ConnectionState(),
	}
	log.Logf(log.Trace, "stream", "session %s: tls established with %s (%s)", s.id, ep.Addr(), opts.UpstreamHost)
	return s, nil
}

// classifyTLS maps handshake failures onto the taxonomy before the generic
// classification runs.
func classifyTLS(err error) error {
	var (
		unkAuth x509.UnknownAuthorityError
		hostErr x509.HostnameError
		invalid x509.CertificateInvalidError
		certErr *tls.CertificateVerificationError
		recErr  tls.RecordHeaderError
	)
	switch {
	case errors.As(err, &certErr), errors.As(err, &unkAuth),
		errors.As(err, &hostErr), errors.As(err, &invalid):
		return &OpError{Op: "verify", Err: ErrVerifyFailed, Cause: err}
	case errors.As(err, &recErr):
		return &OpError{Op: "handshake", Err: ErrProtocol, Cause: err}
	}
	return err
}

// ConnectionState exposes the negotiated TLS parameters.
func (s *TLSSocket) ConnectionState() tls.ConnectionState { return s.state }

// Send writes all of p through the TLS layer.
func (s *TLSSocket) Send(p []byte, deadline Deadline) error {
	return s.send("send", p, deadline)
}

// Receive reads exactly len(p) decrypted bytes.
func (s *TLSSocket) Receive(p []byte, deadline Deadline) error {
	return s.receive("receive", p, deadline)
}

// WriteSome performs a single TLS write.
func (s *TLSSocket) WriteSome(p []byte, deadline Deadline) (int, error) {
	return s.writeSome("write_some", p, deadline)
}

// ReadSome performs a single TLS read.
func (s *TLSSocket) ReadSome(p []byte, deadline Deadline) (int, error) {
	return s.readSome("read_some", p, deadline)
}

// Close sends close_notify and closes the handle. Peers routinely drop the
// link without their own close_notify; the resulting truncation is treated
// as success.
func (s *TLSSocket) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return &OpError{Op: "close", Target: s.remote, Err: ErrBadDescriptor}
	}
	tc := s.conn.(*tls.Conn)
	tc.SetWriteDeadline(time.Now().Add(time.Second))
	if err := tc.CloseWrite(); err != nil && !isShortClose(err) {
		log.Logf(log.Debug, "stream", "session %s: tls shutdown: %v", s.id, err)
	}
	if err := tc.Close(); err != nil && !isShortClose(err) {
		return opError("close", s.remote, err)
	}
	return nil
}

func isShortClose(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
