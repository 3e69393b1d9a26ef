// Package resolver provides deadline bounded DNS resolution into dialable
// endpoints, filtered by IP family.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/Tinkoff/stream-client/log"
	"github.com/Tinkoff/stream-client/stream"
)

// IPFamily restricts which address families a resolve may yield.
type IPFamily int

const (
	Any IPFamily = iota
	V4
	V6
)

func (f IPFamily) String() string {
	switch f {
	case V4:
		return "v4"
	case V6:
		return "v6"
	}
	return "any"
}

// ParseFamily converts "v4"/"v6"/"any" (also "ipv4"/"ipv6") to an IPFamily.
func ParseFamily(s string) (IPFamily, error) {
	switch s {
	case "v4", "ipv4", "4":
		return V4, nil
	case "v6", "ipv6", "6":
		return V6, nil
	case "any", "":
		return Any, nil
	}
	return Any, fmt.Errorf("resolver: unknown ip family %q", s)
}

// Flags are resolution hints mirroring getaddrinfo-style flags. They are
// stored with the query but Resolve does not apply them: the answers are
// whatever the platform resolver returns, filtered only by IPFamily.
type Flags uint

const (
	// AddressConfigured names the getaddrinfo hint that limits answers to
	// families the host has a configured source address for.
	AddressConfigured Flags = 1 << iota
)

// DefaultFlags used when nothing else is configured.
const DefaultFlags = AddressConfigured

// Resolver resolves one host:port pair. The query parameters are fixed at
// construction; only Resolve touches the network.
//
// Concurrent calls to Resolve on a single Resolver are not supported and
// must be serialized by the caller.
type Resolver struct {
	host    string
	port    string
	timeout time.Duration
	family  IPFamily
	flags   Flags

	res *net.Resolver
}

// New creates a resolver for host:port. The timeout bounds a single
// ResolveDefault call.
func New(host, port string, timeout time.Duration, family IPFamily, flags Flags) *Resolver {
	return &Resolver{
		host:    host,
		port:    port,
		timeout: timeout,
		family:  family,
		flags:   flags,
		res:     net.DefaultResolver,
	}
}

// Host returns the configured hostname.
func (r *Resolver) Host() string { return r.host }

// Port returns the configured port or service name.
func (r *Resolver) Port() string { return r.port }

// Timeout returns the default resolve timeout.
func (r *Resolver) Timeout() time.Duration { return r.timeout }

// ResolveDefault resolves within the configured timeout.
func (r *Resolver) ResolveDefault() ([]stream.Endpoint, error) {
	return r.Resolve(stream.Within(r.timeout))
}

// Resolve performs the lookup bounded by deadline. A successful call
// returns at least one endpoint. A literal address resolves to exactly one
// endpoint without a DNS round-trip.
func (r *Resolver) Resolve(deadline stream.Deadline) ([]stream.Endpoint, error) {
	target := net.JoinHostPort(r.host, r.port)
	if deadline.Expired() {
		return nil, &stream.OpError{Op: "resolve", Target: target, Err: stream.ErrTimeout}
	}
	ctx, cancel := deadline.Context(context.Background())
	defer cancel()

	port, err := r.lookupPort(ctx)
	if err != nil {
		return nil, r.wrap(target, err)
	}

	if ip := net.ParseIP(r.host); ip != nil {
		if !familyMatch(ip, r.family) {
			return nil, &stream.OpError{Op: "resolve", Target: target, Err: stream.ErrHostNotFound}
		}
		return []stream.Endpoint{{IP: ip, Port: port}}, nil
	}

	addrs, err := r.res.LookupIPAddr(ctx, r.host)
	if err != nil {
		return nil, r.wrap(target, err)
	}

	eps := make([]stream.Endpoint, 0, len(addrs))
	for _, a := range addrs {
		if !familyMatch(a.IP, r.family) {
			continue
		}
		eps = append(eps, stream.Endpoint{IP: a.IP, Port: port, Zone: a.Zone})
	}
	if len(eps) == 0 {
		return nil, &stream.OpError{Op: "resolve", Target: target, Err: stream.ErrHostNotFound}
	}
	log.Logf(log.Debug, "resolver", "%s resolved to %d endpoint(s)", target, len(eps))
	return eps, nil
}

func (r *Resolver) lookupPort(ctx context.Context) (int, error) {
	if n, err := strconv.Atoi(r.port); err == nil {
		if n < 0 || n > 65535 {
			return 0, fmt.Errorf("resolver: port %d out of range", n)
		}
		return n, nil
	}
	return r.res.LookupPort(ctx, "tcp", r.port)
}

// wrap classifies resolution failures.
func (r *Resolver) wrap(target string, err error) error {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		switch {
		case dnsErr.IsNotFound:
			return &stream.OpError{Op: "resolve", Target: target, Err: stream.ErrHostNotFound, Cause: err}
		case dnsErr.IsTimeout:
			return &stream.OpError{Op: "resolve", Target: target, Err: stream.ErrTimeout, Cause: err}
		case dnsErr.IsTemporary:
			return &stream.OpError{Op: "resolve", Target: target, Err: stream.ErrHostNotFoundTryAgain, Cause: err}
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &stream.OpError{Op: "resolve", Target: target, Err: stream.ErrTimeout, Cause: err}
	}
	e := stream.Classify(err)
	if e != err {
		return &stream.OpError{Op: "resolve", Target: target, Err: e, Cause: err}
	}
	return &stream.OpError{Op: "resolve", Target: target, Err: err}
}

func familyMatch(ip net.IP, f IPFamily) bool {
	switch f {
	case V4:
		return ip.To4() != nil
	case V6:
		return ip.To4() == nil
	}
	return true
}
