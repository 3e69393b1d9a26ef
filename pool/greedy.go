package pool

import (
	"sync"

	"github.com/One-com/gone/metric"

	"github.com/Tinkoff/stream-client/connector"
	"github.com/Tinkoff/stream-client/log"
	"github.com/Tinkoff/stream-client/stream"
)

var mtrRefillErrors = metric.NewCounter("stream_client.pool.refill_errors")

// Greedy refills every vacant slot at once, one concurrent attempt per
// slot. Fast to fill, heavy on a struggling peer.
type Greedy[S stream.Transport] struct{}

// Refill spawns vacant concurrent attempts and waits for all of them.
func (Greedy[S]) Refill(c *connector.Connector[S], vacant int, appendFn func(S)) bool {
	if vacant <= 0 {
		return false
	}
	var wg sync.WaitGroup
	wg.Add(vacant)
	for i := 0; i < vacant; i++ {
		go func() {
			defer wg.Done()
			s, err := c.NewSessionDefault()
			if err != nil {
				mtrRefillErrors.Inc(1)
				log.Logf(log.Debug, "pool", "refill attempt to %s failed: %v", c.Target(), err)
				return
			}
			appendFn(s)
		}()
	}
	wg.Wait()
	return true
}
