package pool

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/nettest"

	"github.com/Tinkoff/stream-client/connector"
	"github.com/Tinkoff/stream-client/stream"
)

func echoServer(t *testing.T) (host, port string) {
	t.Helper()
	ln, err := nettest.NewLocalListener("tcp")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				buf := make([]byte, 4096)
				for {
					n, err := c.Read(buf)
					if n > 0 {
						c.Write(buf[:n])
					}
					if err != nil {
						return
					}
				}
			}(c)
		}
	}()
	host, port, err = net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	return host, port
}

func deadPort(t *testing.T) (host, port string) {
	t.Helper()
	ln, err := nettest.NewLocalListener("tcp")
	require.NoError(t, err)
	host, port, err = net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	ln.Close()
	return host, port
}

func testConfig(host, port string) connector.Config {
	return connector.Config{
		Host:             host,
		Port:             port,
		ResolveTimeout:   time.Second,
		ConnectTimeout:   2 * time.Second,
		OperationTimeout: time.Second,
	}
}

// noRefill keeps the watcher idle so tests fully control pool content.
type noRefill[S stream.Transport] struct{}

func (noRefill[S]) Refill(*connector.Connector[S], int, func(S)) bool { return false }

type tcpPool = Pool[*stream.TCPSocket]

func manualPool(t *testing.T, size int, idle time.Duration) (*tcpPool, *connector.Connector[*stream.TCPSocket]) {
	t.Helper()
	host, port := echoServer(t)
	c := connector.NewTCP(testConfig(host, port))
	p, err := New[*stream.TCPSocket](c, size, idle, noRefill[*stream.TCPSocket]{})
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p, c
}

func TestNewValidation(t *testing.T) {
	host, port := echoServer(t)
	c := connector.NewTCP(testConfig(host, port))
	defer c.Close()

	_, err := New[*stream.TCPSocket](c, 0, 0, nil)
	assert.Error(t, err)
	_, err = New[*stream.TCPSocket](nil, 1, 0, nil)
	assert.Error(t, err)
}

func TestGreedyFillsPool(t *testing.T) {
	host, port := echoServer(t)
	c := connector.NewTCP(testConfig(host, port))
	p, err := New[*stream.TCPSocket](c, 4, 0, nil)
	require.NoError(t, err)
	defer p.Close()

	ok, err := p.IsConnected(stream.Within(5 * time.Second))
	require.NoError(t, err)
	assert.True(t, ok)

	require.Eventually(t, func() bool { return p.Size() == 4 },
		5*time.Second, 20*time.Millisecond)
}

func TestGetSessionDelivers(t *testing.T) {
	host, port := echoServer(t)
	c := connector.NewTCP(testConfig(host, port))
	p, err := New[*stream.TCPSocket](c, 2, 0, nil)
	require.NoError(t, err)
	defer p.Close()

	s, err := p.GetSession(stream.Within(5 * time.Second))
	require.NoError(t, err)
	require.True(t, s.IsOpen())

	require.NoError(t, s.Send([]byte("via pool"), stream.Within(time.Second)))
	got := make([]byte, 8)
	require.NoError(t, s.Receive(got, stream.Within(time.Second)))
	assert.Equal(t, "via pool", string(got))

	p.ReturnSession(s)
}

func TestGetSessionFIFO(t *testing.T) {
	p, c := manualPool(t, 4, 0)

	a, err := c.NewSessionDefault()
	require.NoError(t, err)
	b, err := c.NewSessionDefault()
	require.NoError(t, err)

	p.ReturnSession(a)
	p.ReturnSession(b)

	first, err := p.GetSession(stream.Within(time.Second))
	require.NoError(t, err)
	second, err := p.GetSession(stream.Within(time.Second))
	require.NoError(t, err)

	assert.Equal(t, a.ID(), first.ID())
	assert.Equal(t, b.ID(), second.ID())

	first.Close()
	second.Close()
}

func TestGetSessionEmptyTimesOut(t *testing.T) {
	p, _ := manualPool(t, 2, 0)

	start := time.Now()
	_, err := p.GetSession(stream.Within(150 * time.Millisecond))
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, errors.Is(err, stream.ErrPoolEmpty), "got %v", err)
	assert.GreaterOrEqual(t, elapsed, 150*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
}

func TestTryGetSessionDoesNotWait(t *testing.T) {
	p, c := manualPool(t, 2, 0)

	start := time.Now()
	_, err := p.TryGetSession(stream.Within(time.Second))
	assert.True(t, errors.Is(err, stream.ErrPoolEmpty))
	assert.Less(t, time.Since(start), 200*time.Millisecond)

	s, err := c.NewSessionDefault()
	require.NoError(t, err)
	p.ReturnSession(s)

	got, err := p.TryGetSession(stream.Within(time.Second))
	require.NoError(t, err)
	assert.Equal(t, s.ID(), got.ID())
	got.Close()
}

func TestGetSessionWokenByReturn(t *testing.T) {
	p, c := manualPool(t, 2, 0)

	s, err := c.NewSessionDefault()
	require.NoError(t, err)

	res := make(chan error, 1)
	go func() {
		got, err := p.GetSession(stream.Within(3 * time.Second))
		if err == nil {
			got.Close()
		}
		res <- err
	}()

	time.Sleep(100 * time.Millisecond)
	p.ReturnSession(s)

	select {
	case err := <-res:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter was not woken by return")
	}
}

func TestReturnDropsClosedSession(t *testing.T) {
	p, c := manualPool(t, 2, 0)

	s, err := c.NewSessionDefault()
	require.NoError(t, err)
	require.NoError(t, s.Close())

	p.ReturnSession(s)
	assert.Equal(t, 0, p.Size())
}

func TestReturnDropsNilSession(t *testing.T) {
	p, _ := manualPool(t, 2, 0)
	p.ReturnSession(nil)
	assert.Equal(t, 0, p.Size())
}

func TestIdleEviction(t *testing.T) {
	p, c := manualPool(t, 2, 300*time.Millisecond)

	a, err := c.NewSessionDefault()
	require.NoError(t, err)
	b, err := c.NewSessionDefault()
	require.NoError(t, err)
	p.ReturnSession(a)
	p.ReturnSession(b)
	require.Equal(t, 2, p.Size())

	// both entries cross the idle threshold and the watcher reaps them
	require.Eventually(t, func() bool { return p.Size() == 0 },
		2*time.Second, 20*time.Millisecond)
	assert.False(t, a.IsOpen())
	assert.False(t, b.IsOpen())
}

func TestIdleEvictionReplacesSessions(t *testing.T) {
	host, port := echoServer(t)
	c := connector.NewTCP(testConfig(host, port))
	p, err := New[*stream.TCPSocket](c, 2, 500*time.Millisecond, nil)
	require.NoError(t, err)
	defer p.Close()

	a, err := p.GetSession(stream.Within(5 * time.Second))
	require.NoError(t, err)
	b, err := p.GetSession(stream.Within(5 * time.Second))
	require.NoError(t, err)
	p.ReturnSession(a)
	p.ReturnSession(b)

	time.Sleep(time.Second)

	x, err := p.GetSession(stream.Within(5 * time.Second))
	require.NoError(t, err)
	y, err := p.GetSession(stream.Within(5 * time.Second))
	require.NoError(t, err)
	defer x.Close()
	defer y.Close()

	old := map[string]bool{a.ID(): true, b.ID(): true}
	assert.False(t, old[x.ID()], "expected a fresh session, got %s back", x.ID())
	assert.False(t, old[y.ID()], "expected a fresh session, got %s back", y.ID())
}

func TestPoolSessionReuseIdentity(t *testing.T) {
	host, port := echoServer(t)
	c := connector.NewTCP(testConfig(host, port))
	p, err := New[*stream.TCPSocket](c, 10, 0, nil)
	require.NoError(t, err)
	defer p.Close()

	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		s, err := p.GetSession(stream.Within(5 * time.Second))
		require.NoError(t, err, "borrow %d", i)
		seen[s.ID()] = true
		p.ReturnSession(s)
	}
	// serial borrow/return against a size-10 pool should cycle a bounded
	// set of distinct sessions
	assert.GreaterOrEqual(t, len(seen), 9)
	assert.LessOrEqual(t, len(seen), 12)
}

func TestIsConnectedEmptyPool(t *testing.T) {
	p, _ := manualPool(t, 2, 0)

	ok, err := p.IsConnected(stream.Within(200 * time.Millisecond))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCloseWakesWaiters(t *testing.T) {
	p, _ := manualPool(t, 2, 0)

	res := make(chan error, 1)
	go func() {
		_, err := p.GetSession(stream.Never())
		res <- err
	}()
	time.Sleep(100 * time.Millisecond)
	p.Close()

	select {
	case err := <-res:
		assert.True(t, errors.Is(err, stream.ErrPoolEmpty))
	case <-time.After(2 * time.Second):
		t.Fatal("waiter not released by Close")
	}
}

func TestCloseClosesPooledSessions(t *testing.T) {
	host, port := echoServer(t)
	c := connector.NewTCP(testConfig(host, port))
	p, err := New[*stream.TCPSocket](c, 2, 0, noRefill[*stream.TCPSocket]{})
	require.NoError(t, err)

	s, err := c.NewSessionDefault()
	require.NoError(t, err)
	p.ReturnSession(s)

	p.Close()
	assert.False(t, s.IsOpen())
}
