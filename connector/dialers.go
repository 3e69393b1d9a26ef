package connector

import (
	"time"

	"github.com/Tinkoff/stream-client/stream"
)

// NewTCP returns a connector producing plain TCP sessions.
func NewTCP(cfg Config) *Connector[*stream.TCPSocket] {
	return New[*stream.TCPSocket](cfg, stream.DialTCP)
}

// NewUDP returns a connector producing connected UDP sessions.
func NewUDP(cfg Config) *Connector[*stream.UDPSocket] {
	return New[*stream.UDPSocket](cfg, stream.DialUDP)
}

// NewTLS returns a connector producing TLS sessions. An empty
// opts.UpstreamHost defaults to cfg.Host.
func NewTLS(cfg Config, opts stream.TLSOptions) *Connector[*stream.TLSSocket] {
	if opts.UpstreamHost == "" {
		opts.UpstreamHost = cfg.Host
	}
	dial := func(ep stream.Endpoint, deadline stream.Deadline, ioTimeout time.Duration) (*stream.TLSSocket, error) {
		return stream.DialTLS(ep, opts, deadline, ioTimeout)
	}
	return New[*stream.TLSSocket](cfg, dial)
}

// NewHTTP returns a connector producing HTTP sessions over plain TCP.
func NewHTTP(cfg Config, opts stream.HTTPOptions) *Connector[*stream.HTTPSocket] {
	dial := func(ep stream.Endpoint, deadline stream.Deadline, ioTimeout time.Duration) (*stream.HTTPSocket, error) {
		s, err := stream.DialTCP(ep, deadline, ioTimeout)
		if err != nil {
			return nil, err
		}
		return stream.NewHTTP(s, opts), nil
	}
	return New[*stream.HTTPSocket](cfg, dial)
}

// NewHTTPS returns a connector producing HTTP sessions over TLS. An empty
// tlsOpts.UpstreamHost defaults to cfg.Host.
func NewHTTPS(cfg Config, tlsOpts stream.TLSOptions, httpOpts stream.HTTPOptions) *Connector[*stream.HTTPSocket] {
	if tlsOpts.UpstreamHost == "" {
		tlsOpts.UpstreamHost = cfg.Host
	}
	dial := func(ep stream.Endpoint, deadline stream.Deadline, ioTimeout time.Duration) (*stream.HTTPSocket, error) {
		s, err := stream.DialTLS(ep, tlsOpts, deadline, ioTimeout)
		if err != nil {
			return nil, err
		}
		return stream.NewHTTP(s, httpOpts), nil
	}
	return New[*stream.HTTPSocket](cfg, dial)
}
