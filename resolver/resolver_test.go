package resolver

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tinkoff/stream-client/stream"
)

func TestResolveLiteral(t *testing.T) {
	r := New("127.0.0.1", "8080", time.Second, Any, DefaultFlags)
	eps, err := r.Resolve(stream.Within(time.Second))
	require.NoError(t, err)
	require.Len(t, eps, 1)
	assert.Equal(t, "127.0.0.1:8080", eps[0].Addr())
	assert.True(t, eps[0].IsV4())
}

func TestResolveLiteralV6(t *testing.T) {
	r := New("::1", "53", time.Second, Any, DefaultFlags)
	eps, err := r.Resolve(stream.Within(time.Second))
	require.NoError(t, err)
	require.Len(t, eps, 1)
	assert.True(t, eps[0].IsV6())
	assert.Equal(t, "[::1]:53", eps[0].Addr())
}

func TestResolveLiteralFamilyMismatch(t *testing.T) {
	r := New("127.0.0.1", "80", time.Second, V6, DefaultFlags)
	_, err := r.Resolve(stream.Within(time.Second))
	require.Error(t, err)
	assert.True(t, errors.Is(err, stream.ErrHostNotFound))
}

func TestResolveLocalhost(t *testing.T) {
	r := New("localhost", "80", 2*time.Second, Any, DefaultFlags)
	eps, err := r.ResolveDefault()
	require.NoError(t, err)
	require.NotEmpty(t, eps)
	for _, ep := range eps {
		assert.True(t, ep.IP.IsLoopback(), "%v", ep)
		assert.Equal(t, 80, ep.Port)
	}
}

func TestResolveLocalhostV4Only(t *testing.T) {
	r := New("localhost", "80", 2*time.Second, V4, DefaultFlags)
	eps, err := r.ResolveDefault()
	require.NoError(t, err)
	for _, ep := range eps {
		assert.True(t, ep.IsV4(), "%v", ep)
	}
}

func TestResolveUnknownHost(t *testing.T) {
	r := New("definitely-does-not-exist.invalid", "80", 2*time.Second, Any, DefaultFlags)
	_, err := r.Resolve(stream.Within(2 * time.Second))
	require.Error(t, err)
	ok := errors.Is(err, stream.ErrHostNotFound) ||
		errors.Is(err, stream.ErrHostNotFoundTryAgain) ||
		errors.Is(err, stream.ErrTimeout)
	assert.True(t, ok, "got %v", err)
}

func TestResolveExpiredDeadline(t *testing.T) {
	r := New("localhost", "80", time.Second, Any, DefaultFlags)
	start := time.Now()
	_, err := r.Resolve(stream.Within(0))
	assert.True(t, errors.Is(err, stream.ErrTimeout))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestResolveServicePort(t *testing.T) {
	r := New("127.0.0.1", "http", time.Second, Any, DefaultFlags)
	eps, err := r.Resolve(stream.Within(time.Second))
	require.NoError(t, err)
	require.Len(t, eps, 1)
	assert.Equal(t, 80, eps[0].Port)
}

func TestResolvePortOutOfRange(t *testing.T) {
	r := New("127.0.0.1", "70000", time.Second, Any, DefaultFlags)
	_, err := r.Resolve(stream.Within(time.Second))
	assert.Error(t, err)
}

func TestParseFamily(t *testing.T) {
	for in, want := range map[string]IPFamily{
		"v4": V4, "ipv6": V6, "any": Any, "": Any,
	} {
		got, err := ParseFamily(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseFamily("v5")
	assert.Error(t, err)
}

func TestFamilyMatch(t *testing.T) {
	v4 := net.ParseIP("10.1.2.3")
	v6 := net.ParseIP("fe80::1")
	assert.True(t, familyMatch(v4, Any))
	assert.True(t, familyMatch(v4, V4))
	assert.False(t, familyMatch(v4, V6))
	assert.True(t, familyMatch(v6, V6))
	assert.False(t, familyMatch(v6, V4))
}
