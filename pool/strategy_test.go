package pool

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tinkoff/stream-client/connector"
	"github.com/Tinkoff/stream-client/stream"
)

type collector struct {
	mu       sync.Mutex
	sessions []*stream.TCPSocket
}

func (c *collector) append(s *stream.TCPSocket) {
	c.mu.Lock()
	c.sessions = append(c.sessions, s)
	c.mu.Unlock()
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

func (c *collector) closeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.sessions {
		s.Close()
	}
}

func TestGreedyRefillFillsAllVacancies(t *testing.T) {
	host, port := echoServer(t)
	c := connector.NewTCP(testConfig(host, port))
	defer c.Close()

	var got collector
	defer got.closeAll()

	progress := Greedy[*stream.TCPSocket]{}.Refill(c, 5, got.append)
	assert.True(t, progress)
	assert.Equal(t, 5, got.count())
}

func TestGreedyRefillNothingVacant(t *testing.T) {
	host, port := echoServer(t)
	c := connector.NewTCP(testConfig(host, port))
	defer c.Close()

	progress := Greedy[*stream.TCPSocket]{}.Refill(c, 0, func(*stream.TCPSocket) {
		t.Fatal("append called with no vacancies")
	})
	assert.False(t, progress)
}

func TestGreedyRefillSwallowsFailures(t *testing.T) {
	host, port := deadPort(t)
	cfg := testConfig(host, port)
	cfg.ConnectTimeout = 300 * time.Millisecond
	c := connector.NewTCP(cfg)
	defer c.Close()

	progress := Greedy[*stream.TCPSocket]{}.Refill(c, 3, func(*stream.TCPSocket) {
		t.Fatal("append called for a dead peer")
	})
	// greedy reports progress by vacancy count, not by success
	assert.True(t, progress)
}

func TestConservativeValidation(t *testing.T) {
	_, err := NewConservative[*stream.TCPSocket](0, 0.5)
	assert.Error(t, err)

	s, err := NewConservative[*stream.TCPSocket](0, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultInitialDelay, s.initialDelay)
	assert.Equal(t, DefaultMultiplier, s.multiplier)
}

func TestConservativeRefillSuccess(t *testing.T) {
	host, port := echoServer(t)
	c := connector.NewTCP(testConfig(host, port))
	defer c.Close()

	st, err := NewConservative[*stream.TCPSocket](0, 0)
	require.NoError(t, err)

	var got collector
	defer got.closeAll()

	progress := st.Refill(c, 6, got.append)
	assert.True(t, progress)
	// ceil(6/3)-1 extra attempts plus the inline one
	assert.Equal(t, 2, got.count())
	assert.Equal(t, time.Duration(0), st.delay)
}

func TestConservativeBackoffGrows(t *testing.T) {
	host, port := deadPort(t)
	cfg := testConfig(host, port)
	cfg.ConnectTimeout = 200 * time.Millisecond
	c := connector.NewTCP(cfg)
	defer c.Close()

	st, err := NewConservative[*stream.TCPSocket](50*time.Millisecond, 3)
	require.NoError(t, err)

	progress := st.Refill(c, 3, func(*stream.TCPSocket) {
		t.Fatal("append called for a dead peer")
	})
	assert.False(t, progress)
	assert.Equal(t, 50*time.Millisecond, st.delay)
	assert.True(t, st.waitUntil.After(time.Now().Add(-time.Second)))

	// inside the back-off window nothing is attempted
	progress = st.Refill(c, 3, func(*stream.TCPSocket) {
		t.Fatal("append called during back-off")
	})
	assert.False(t, progress)

	// after the window the delay is recomputed with jitter, bounded by
	// initial*multiplier^k
	st.waitUntil = time.Time{}
	progress = st.Refill(c, 3, func(*stream.TCPSocket) {})
	assert.False(t, progress)
	assert.LessOrEqual(t, st.delay, 150*time.Millisecond)
}

func TestConservativeBackoffClamped(t *testing.T) {
	host, port := deadPort(t)
	cfg := testConfig(host, port)
	cfg.ConnectTimeout = 100 * time.Millisecond
	c := connector.NewTCP(cfg)
	defer c.Close()

	st, err := NewConservative[*stream.TCPSocket](time.Second, 1000)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		st.waitUntil = time.Time{}
		st.Refill(c, 1, func(*stream.TCPSocket) {})
	}
	assert.LessOrEqual(t, st.delay, 10*time.Second)
}

func TestConservativeResetsAfterSuccess(t *testing.T) {
	host, port := echoServer(t)
	c := connector.NewTCP(testConfig(host, port))
	defer c.Close()

	st, err := NewConservative[*stream.TCPSocket](0, 0)
	require.NoError(t, err)
	st.delay = 5 * time.Second // pretend the peer was down for a while

	var got collector
	defer got.closeAll()

	progress := st.Refill(c, 3, got.append)
	assert.True(t, progress)
	// back-off active: only the inline attempt runs
	assert.Equal(t, 1, got.count())
	assert.Equal(t, time.Duration(0), st.delay)
}

func TestConservativePoolRecovers(t *testing.T) {
	// start against a dead peer, then bring the peer up and watch the
	// conservative pool catch up
	ln, err := newListener()
	require.NoError(t, err)
	host, port, err := splitAddr(ln.Addr().String())
	require.NoError(t, err)
	ln.Close()

	cfg := testConfig(host, port)
	cfg.ConnectTimeout = 300 * time.Millisecond
	c := connector.NewTCP(cfg)
	st, err := NewConservative[*stream.TCPSocket](20*time.Millisecond, 2)
	require.NoError(t, err)
	p, err := New[*stream.TCPSocket](c, 2, 0, st)
	require.NoError(t, err)
	defer p.Close()

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 0, p.Size())

	// revive the peer on the same address
	ln2, err := listenOn(host, port)
	if err != nil {
		t.Skipf("could not rebind %s:%s: %v", host, port, err)
	}
	defer ln2.Close()
	go acceptAndEcho(ln2)

	require.Eventually(t, func() bool { return p.Size() == 2 },
		10*time.Second, 50*time.Millisecond)
}
