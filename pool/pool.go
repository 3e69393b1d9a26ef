// Package pool maintains a warm, bounded reservoir of established sessions
// to one logical remote.
//
// A watcher goroutine started at construction evicts entries that sat idle
// past the idle timeout and asks the configured Strategy to refill vacant
// slots through the pool's connector. Sessions are handed out oldest
// first; returning a session puts it at the back with a fresh timestamp.
//
// The pool never validates pooled sessions: a session that died server
// side surfaces its failure on first use and must not be returned.
package pool

import (
	"errors"
	"reflect"
	"time"

	"github.com/One-com/gone/metric"

	"github.com/Tinkoff/stream-client/connector"
	"github.com/Tinkoff/stream-client/log"
	"github.com/Tinkoff/stream-client/stream"
)

const (
	// watcherLockTimeout bounds the watcher's mutex acquisition per pass.
	watcherLockTimeout = 100 * time.Millisecond
	// watcherIdleSleep is slept when the strategy reports no progress.
	watcherIdleSleep = 50 * time.Millisecond
	// returnLockTimeout bounds ReturnSession; a stalled return drops the
	// session instead of blocking the caller.
	returnLockTimeout = time.Millisecond
)

var (
	mtrAppended  = metric.NewCounter("stream_client.pool.appended")
	mtrEvicted   = metric.NewCounter("stream_client.pool.evicted")
	mtrDropped   = metric.NewCounter("stream_client.pool.dropped_returns")
	mtrDelivered = metric.NewCounter("stream_client.pool.delivered")
)

type entry[S stream.Transport] struct {
	added   time.Time
	session S
}

// Pool is a bounded reservoir of sessions of type S. Safe for concurrent
// use. The pool owns its connector's lifecycle: Close stops both.
type Pool[S stream.Transport] struct {
	conn     *connector.Connector[S]
	maxSize  int
	idle     time.Duration // 0 means entries never expire
	strategy Strategy[S]

	mu       timedMutex
	entries  []entry[S]
	nonEmpty *signal

	stop chan struct{}
	done chan struct{}
}

// New creates a pool of up to size sessions and starts the watcher that
// fills it. idleTimeout of 0 disables idle eviction. A nil strategy
// defaults to Greedy.
func New[S stream.Transport](conn *connector.Connector[S], size int, idleTimeout time.Duration, strategy Strategy[S]) (*Pool[S], error) {
	if conn == nil {
		return nil, errors.New("pool: nil connector")
	}
	if size < 1 {
		return nil, errors.New("pool: size must be at least 1")
	}
	if strategy == nil {
		strategy = Greedy[S]{}
	}
	p := &Pool[S]{
		conn:     conn,
		maxSize:  size,
		idle:     idleTimeout,
		strategy: strategy,
		mu:       newTimedMutex(),
		nonEmpty: newSignal(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go p.watchRoutine()
	return p, nil
}

// Close stops the watcher, closes the connector and every pooled session.
// Waiters blocked in GetSession fail with ErrPoolEmpty.
func (p *Pool[S]) Close() {
	select {
	case <-p.stop:
		return
	default:
	}
	close(p.stop)
	<-p.done
	p.conn.Close()

	p.mu.lock()
	drained := p.entries
	p.entries = nil
	p.mu.unlock()
	for _, e := range drained {
		e.session.Close()
	}
}

// Target returns the remote "host:port" the pool connects to.
func (p *Pool[S]) Target() string { return p.conn.Target() }

// ConnectTimeout returns the default deadline bound used by the
// *Default call variants.
func (p *Pool[S]) ConnectTimeout() time.Duration { return p.conn.ConnectTimeout() }

// GetSessionDefault pulls a session within the connect timeout.
func (p *Pool[S]) GetSessionDefault() (S, error) {
	return p.GetSession(stream.Within(p.conn.ConnectTimeout()))
}

// GetSession pulls the oldest pooled session, waiting until the pool is
// non-empty or the deadline passes. Failing to lock the pool in time
// yields ErrTimeout; an empty pool past the deadline yields ErrPoolEmpty.
func (p *Pool[S]) GetSession(deadline stream.Deadline) (S, error) {
	var zero S
	if !p.mu.lockBefore(deadline) {
		return zero, &stream.OpError{Op: "get_session", Target: p.Target(), Err: stream.ErrTimeout}
	}
	for len(p.entries) == 0 {
		ch := p.nonEmpty.wait()
		p.mu.unlock()
		if !await(ch, deadline, p.stop) {
			return zero, &stream.OpError{Op: "get_session", Target: p.Target(), Err: stream.ErrPoolEmpty}
		}
		if !p.mu.lockBefore(deadline) {
			return zero, &stream.OpError{Op: "get_session", Target: p.Target(), Err: stream.ErrTimeout}
		}
	}
	s := p.popFront()
	p.mu.unlock()
	mtrDelivered.Inc(1)
	return s, nil
}

// TryGetSession pulls the oldest pooled session without waiting for the
// pool to fill: once the lock is acquired an empty pool immediately yields
// ErrPoolEmpty.
func (p *Pool[S]) TryGetSession(deadline stream.Deadline) (S, error) {
	var zero S
	if !p.mu.lockBefore(deadline) {
		return zero, &stream.OpError{Op: "try_get_session", Target: p.Target(), Err: stream.ErrTimeout}
	}
	if len(p.entries) == 0 {
		p.mu.unlock()
		return zero, &stream.OpError{Op: "try_get_session", Target: p.Target(), Err: stream.ErrPoolEmpty}
	}
	s := p.popFront()
	p.mu.unlock()
	mtrDelivered.Inc(1)
	return s, nil
}

// ReturnSession gives a borrowed session back. Dead or nil sessions are
// dropped, as is the session when the pool lock stays contested past 1 ms -
// a stalled return is worse than a fresh connection.
func (p *Pool[S]) ReturnSession(s S) {
	if isNil(s) {
		mtrDropped.Inc(1)
		return
	}
	if !s.IsOpen() {
		mtrDropped.Inc(1)
		log.Logf(log.Debug, "pool", "dropping dead session %s on return", s.ID())
		return
	}
	if !p.mu.lockBefore(stream.Within(returnLockTimeout)) {
		mtrDropped.Inc(1)
		log.Logf(log.Debug, "pool", "pool contested, dropping returned session %s", s.ID())
		s.Close()
		return
	}
	p.entries = append(p.entries, entry[S]{added: time.Now(), session: s})
	p.mu.unlock()
	p.nonEmpty.broadcast()
}

// IsConnected waits until the pool holds at least one session or the
// deadline passes. The error is non-nil only when the pool lock could not
// be acquired in time.
func (p *Pool[S]) IsConnected(deadline stream.Deadline) (bool, error) {
	if !p.mu.lockBefore(deadline) {
		return false, &stream.OpError{Op: "is_connected", Target: p.Target(), Err: stream.ErrTimeout}
	}
	for len(p.entries) == 0 {
		ch := p.nonEmpty.wait()
		p.mu.unlock()
		if !await(ch, deadline, p.stop) {
			return false, nil
		}
		if !p.mu.lockBefore(deadline) {
			return false, &stream.OpError{Op: "is_connected", Target: p.Target(), Err: stream.ErrTimeout}
		}
	}
	p.mu.unlock()
	return true, nil
}

// Size reports the current number of pooled sessions.
func (p *Pool[S]) Size() int {
	p.mu.lock()
	defer p.mu.unlock()
	return len(p.entries)
}

func (p *Pool[S]) popFront() S {
	e := p.entries[0]
	p.entries = p.entries[1:]
	return e.session
}

// appendSession is handed to the strategy as its append callback. Called
// with no pool lock held.
func (p *Pool[S]) appendSession(s S) {
	p.mu.lock()
	p.entries = append(p.entries, entry[S]{added: time.Now(), session: s})
	p.mu.unlock()
	mtrAppended.Inc(1)
	p.nonEmpty.broadcast()
}

// watchRoutine evicts idle entries and keeps the pool topped up. The
// strategy runs with no lock held, so a connector blocked on DNS cannot
// deadlock the pool.
func (p *Pool[S]) watchRoutine() {
	defer close(p.done)
	for {
		select {
		case <-p.stop:
			return
		default:
		}

		if !p.mu.lockBefore(stream.Within(watcherLockTimeout)) {
			continue
		}
		var stale []S
		if p.idle > 0 {
			now := time.Now()
			for len(p.entries) > 0 && now.Sub(p.entries[0].added) >= p.idle {
				stale = append(stale, p.entries[0].session)
				p.entries = p.entries[1:]
			}
		}
		vacant := p.maxSize - len(p.entries)
		p.mu.unlock()

		for _, s := range stale {
			mtrEvicted.Inc(1)
			log.Logf(log.Debug, "pool", "evicting idle session %s", s.ID())
			s.Close()
		}

		if vacant > 0 && p.strategy.Refill(p.conn, vacant, p.appendSession) {
			continue
		}

		select {
		case <-p.stop:
			return
		case <-time.After(watcherIdleSleep):
		}
	}
}

// isNil guards against both a nil interface and a typed nil session
// pointer.
func isNil[S stream.Transport](s S) bool {
	v := reflect.ValueOf(&s).Elem()
	switch v.Kind() {
	case reflect.Interface, reflect.Ptr:
		return v.IsNil()
	}
	return false
}
