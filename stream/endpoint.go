package stream

import (
	"net"
	"strconv"
)

// Endpoint is a resolved remote address and port.
type Endpoint struct {
	IP   net.IP
	Port int
	Zone string // IPv6 scope zone, if any
}

// Addr returns the endpoint in host:port form suitable for dialing.
func (e Endpoint) Addr() string {
	host := e.IP.String()
	if e.Zone != "" {
		host += "%" + e.Zone
	}
	return net.JoinHostPort(host, strconv.Itoa(e.Port))
}

func (e Endpoint) String() string { return e.Addr() }

// IsV4 reports whether the endpoint address is IPv4.
func (e Endpoint) IsV4() bool { return e.IP.To4() != nil }

// IsV6 reports whether the endpoint address is IPv6.
func (e Endpoint) IsV6() bool { return !e.IsV4() }
