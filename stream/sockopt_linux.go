//go:build linux

package stream

import (
	"net"

	"golang.org/x/sys/unix"
)

// setQuickAck disables delayed ACKs on the connection.
func setQuickAck(c *net.TCPConn) error {
	raw, err := c.SyscallConn()
	if err != nil {
		return err
	}
	var serr error
	err = raw.Control(func(fd uintptr) {
		serr = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_QUICKACK, 1)
	})
	if err != nil {
		return err
	}
	return serr
}
