// Package connector manufactures live sessions to a logical remote
// endpoint, keeping its DNS view fresh with a background worker.
//
// The worker resolves once at startup and again whenever a session attempt
// fails or an explicit refresh is requested; requests are coalesced. The
// endpoint list is swapped atomically under a mutex, so readers never
// observe a partially updated list.
package connector

import (
	"math/rand"
	"sync"
	"time"

	"github.com/One-com/gone/metric"

	"github.com/Tinkoff/stream-client/log"
	"github.com/Tinkoff/stream-client/resolver"
	"github.com/Tinkoff/stream-client/stream"
)

// Defaults applied by New for zero Config fields.
const (
	DefaultResolveTimeout   = 5 * time.Second
	DefaultConnectTimeout   = 5 * time.Second
	DefaultOperationTimeout = 5 * time.Second
)

// resolveRetryDelay paces re-resolution while DNS keeps failing.
const resolveRetryDelay = time.Second

var (
	mtrResolveErrors = metric.NewCounter("stream_client.connector.resolve_errors")
	mtrSessions      = metric.NewCounter("stream_client.connector.sessions")
	mtrSessionErrors = metric.NewCounter("stream_client.connector.session_errors")
)

// Config holds the immutable connector settings.
type Config struct {
	Host string
	Port string

	// ResolveTimeout bounds one resolve attempt of the refresh worker.
	ResolveTimeout time.Duration
	// ConnectTimeout is the default bound for NewSessionDefault.
	ConnectTimeout time.Duration
	// OperationTimeout is the default I/O bound on produced sessions.
	OperationTimeout time.Duration

	Family resolver.IPFamily
	Flags  resolver.Flags
}

func (c *Config) withDefaults() {
	if c.ResolveTimeout <= 0 {
		c.ResolveTimeout = DefaultResolveTimeout
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = DefaultOperationTimeout
	}
	if c.Flags == 0 {
		c.Flags = resolver.DefaultFlags
	}
}

// Dialer constructs one session kind to a concrete endpoint.
type Dialer[S stream.Transport] func(ep stream.Endpoint, connectDeadline stream.Deadline, ioTimeout time.Duration) (S, error)

// Connector produces sessions of type S. Safe for concurrent use.
type Connector[S stream.Transport] struct {
	cfg  Config
	res  *resolver.Resolver
	dial Dialer[S]

	mu         sync.Mutex
	endpoints  []stream.Endpoint
	resolveErr error

	needed chan struct{} // coalesced refresh requests

	done     chan struct{} // latched after the first resolve attempt
	doneOnce sync.Once

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	rndMu sync.Mutex
	rnd   *rand.Rand
}

// New creates a connector producing sessions via dial and starts the
// refresh worker. Close must be called to stop it.
func New[S stream.Transport](cfg Config, dial Dialer[S]) *Connector[S] {
	cfg.withDefaults()
	c := &Connector[S]{
		cfg:    cfg,
		res:    resolver.New(cfg.Host, cfg.Port, cfg.ResolveTimeout, cfg.Family, cfg.Flags),
		dial:   dial,
		needed: make(chan struct{}, 1),
		done:   make(chan struct{}),
		stop:   make(chan struct{}),
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	c.kick() // first resolve is always wanted
	c.wg.Add(1)
	go c.resolveRoutine()
	return c
}

// Close stops the refresh worker and waits for it to exit. Sessions
// already produced are unaffected.
func (c *Connector[S]) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
	c.wg.Wait()
}

// Host returns the remote hostname.
func (c *Connector[S]) Host() string { return c.cfg.Host }

// Port returns the remote port.
func (c *Connector[S]) Port() string { return c.cfg.Port }

// Target returns "host:port" for diagnostics.
func (c *Connector[S]) Target() string { return c.cfg.Host + ":" + c.cfg.Port }

// ResolveTimeout returns the per-attempt resolve bound.
func (c *Connector[S]) ResolveTimeout() time.Duration { return c.cfg.ResolveTimeout }

// ConnectTimeout returns the default NewSession bound.
func (c *Connector[S]) ConnectTimeout() time.Duration { return c.cfg.ConnectTimeout }

// OperationTimeout returns the default I/O bound of produced sessions.
func (c *Connector[S]) OperationTimeout() time.Duration { return c.cfg.OperationTimeout }

// NewSessionDefault establishes a session within the connect timeout.
func (c *Connector[S]) NewSessionDefault() (S, error) {
	return c.NewSession(stream.Within(c.cfg.ConnectTimeout))
}

// NewSession establishes a session before deadline. An endpoint is picked
// uniformly at random from the current cache. A failed attempt requests a
// DNS refresh and retries while time remains; at the deadline the call
// fails with ErrTimeout carrying the last attempt error.
func (c *Connector[S]) NewSession(deadline stream.Deadline) (S, error) {
	var zero S
	for {
		eps := c.snapshot()
		if len(eps) == 0 {
			// the worker latches "done" after its first attempt even on
			// failure, so this wait terminates
			if !c.waitDone(deadline) {
				return zero, &stream.OpError{Op: "new_session", Target: c.Target(), Err: stream.ErrTimeout}
			}
			eps = c.snapshot()
			if len(eps) == 0 {
				if err := c.lastResolveError(); err != nil {
					return zero, err
				}
				return zero, &stream.OpError{Op: "new_session", Target: c.Target(), Err: stream.ErrTimeout}
			}
		}

		ep := eps[c.pick(len(eps))]
		s, err := c.dial(ep, deadline, c.cfg.OperationTimeout)
		if err == nil {
			mtrSessions.Inc(1)
			return s, nil
		}
		mtrSessionErrors.Inc(1)
		log.Logf(log.Debug, "connector", "%s: session to %s failed: %v", c.Target(), ep, err)
		c.kick()
		if deadline.Expired() {
			return zero, &stream.OpError{Op: "new_session", Target: c.Target(), Err: stream.ErrTimeout, Cause: err}
		}
	}
}

// kick requests a refresh; concurrent requests are coalesced.
func (c *Connector[S]) kick() {
	select {
	case c.needed <- struct{}{}:
	default:
	}
}

func (c *Connector[S]) snapshot() []stream.Endpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endpoints
}

func (c *Connector[S]) lastResolveError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resolveErr
}

func (c *Connector[S]) pick(n int) int {
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.rnd.Intn(n)
}

func (c *Connector[S]) markDone() {
	c.doneOnce.Do(func() { close(c.done) })
}

// waitDone blocks until the first resolve attempt finished, the deadline
// expired or the connector closed.
func (c *Connector[S]) waitDone(deadline stream.Deadline) bool {
	var expire <-chan time.Time
	if !deadline.IsNever() {
		t := time.NewTimer(deadline.Remaining())
		defer t.Stop()
		expire = t.C
	}
	select {
	case <-c.done:
		return true
	case <-c.stop:
		return false
	case <-expire:
		return false
	}
}

// resolveRoutine is the refresh worker. It resolves whenever a refresh is
// requested and, while resolution keeps failing, retries on its own every
// resolveRetryDelay.
func (c *Connector[S]) resolveRoutine() {
	defer c.wg.Done()
	for {
		select {
		case <-c.stop:
			return
		case <-c.needed:
		}

		eps, err := c.res.Resolve(stream.Within(c.cfg.ResolveTimeout))
		c.mu.Lock()
		if err == nil {
			c.endpoints = eps
			c.resolveErr = nil
		} else {
			// keep whatever endpoints we had, they may still connect
			c.resolveErr = err
		}
		c.mu.Unlock()
		c.markDone()

		if err != nil {
			mtrResolveErrors.Inc(1)
			log.Logf(log.Warning, "connector", "%s: resolve failed: %v", c.Target(), err)
			select {
			case <-c.stop:
				return
			case <-c.needed:
			case <-time.After(resolveRetryDelay):
			}
			c.kick()
		}
	}
}
