package pool

import (
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Tinkoff/stream-client/connector"
	"github.com/Tinkoff/stream-client/log"
	"github.com/Tinkoff/stream-client/stream"
)

// Conservative strategy defaults.
const (
	DefaultInitialDelay = 50 * time.Millisecond
	DefaultMultiplier   = 3.0

	maxBackoffDelay = 10 * time.Second
)

// Conservative refills with exponential back-off and jitter: while the
// peer keeps failing, attempts get rarer and less parallel, so a dead
// remote is probed by a single connection instead of a thundering herd.
//
// Owned by the pool watcher; Refill is not reentrant.
type Conservative[S stream.Transport] struct {
	initialDelay time.Duration
	multiplier   float64

	delay     time.Duration // current back-off, 0 when healthy
	waitUntil time.Time
}

// NewConservative creates the strategy. Zero arguments select the
// defaults. The multiplier must be at least 1.
func NewConservative[S stream.Transport](initialDelay time.Duration, multiplier float64) (*Conservative[S], error) {
	if initialDelay <= 0 {
		initialDelay = DefaultInitialDelay
	}
	if multiplier == 0 {
		multiplier = DefaultMultiplier
	}
	if multiplier < 1 {
		return nil, fmt.Errorf("pool: back-off multiplier must be >= 1, got %g", multiplier)
	}
	return &Conservative[S]{initialDelay: initialDelay, multiplier: multiplier}, nil
}

// Refill runs one attempt inline, plus ceil(vacant/3)-1 concurrent ones
// while the back-off is clear. Any success resets the back-off.
func (s *Conservative[S]) Refill(c *connector.Connector[S], vacant int, appendFn func(S)) bool {
	if vacant <= 0 || time.Now().Before(s.waitUntil) {
		return false
	}

	extra := 0
	if s.delay == 0 {
		if extra = (vacant+2)/3 - 1; extra < 0 {
			extra = 0
		}
	}

	var filled atomic.Int32
	attempt := func() {
		sess, err := c.NewSessionDefault()
		if err != nil {
			mtrRefillErrors.Inc(1)
			log.Logf(log.Debug, "pool", "refill attempt to %s failed: %v", c.Target(), err)
			return
		}
		appendFn(sess)
		filled.Add(1)
	}

	var wg sync.WaitGroup
	wg.Add(extra)
	for i := 0; i < extra; i++ {
		go func() {
			defer wg.Done()
			attempt()
		}()
	}
	attempt()
	wg.Wait()

	if filled.Load() > 0 {
		s.delay = 0
		return true
	}

	if s.delay == 0 {
		s.delay = s.initialDelay
	} else {
		s.delay = time.Duration(float64(s.delay) * s.multiplier * rand.Float64())
	}
	if s.delay > maxBackoffDelay {
		s.delay = maxBackoffDelay
	}
	s.waitUntil = time.Now().Add(s.delay)
	log.Logf(log.Debug, "pool", "refill to %s backing off for %v", c.Target(), s.delay)
	return false
}
