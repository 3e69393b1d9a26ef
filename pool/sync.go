package pool

import (
	"sync"
	"time"

	"github.com/Tinkoff/stream-client/stream"
)

// timedMutex is a mutex whose acquisition can give up at a deadline.
// Implemented as a one-slot token channel.
type timedMutex struct {
	ch chan struct{}
}

func newTimedMutex() timedMutex {
	return timedMutex{ch: make(chan struct{}, 1)}
}

func (m timedMutex) lock() {
	m.ch <- struct{}{}
}

// lockBefore acquires the mutex, failing once the deadline passes.
func (m timedMutex) lockBefore(deadline stream.Deadline) bool {
	if deadline.IsNever() {
		m.ch <- struct{}{}
		return true
	}
	if deadline.Expired() {
		select {
		case m.ch <- struct{}{}:
			return true
		default:
			return false
		}
	}
	t := time.NewTimer(deadline.Remaining())
	defer t.Stop()
	select {
	case m.ch <- struct{}{}:
		return true
	case <-t.C:
		return false
	}
}

func (m timedMutex) unlock() {
	<-m.ch
}

// signal is a broadcast condition: wait() hands out the channel current at
// call time, broadcast() closes it and installs a fresh one, waking every
// pending waiter.
type signal struct {
	mu sync.Mutex
	ch chan struct{}
}

func newSignal() *signal {
	return &signal{ch: make(chan struct{})}
}

func (s *signal) wait() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ch
}

func (s *signal) broadcast() {
	s.mu.Lock()
	close(s.ch)
	s.ch = make(chan struct{})
	s.mu.Unlock()
}

// await blocks on ch until it fires, the deadline passes or stop closes.
func await(ch <-chan struct{}, deadline stream.Deadline, stop <-chan struct{}) bool {
	var expire <-chan time.Time
	if !deadline.IsNever() {
		if deadline.Expired() {
			return false
		}
		t := time.NewTimer(deadline.Remaining())
		defer t.Stop()
		expire = t.C
	}
	select {
	case <-ch:
		return true
	case <-stop:
		return false
	case <-expire:
		return false
	}
}
