//go:build !linux

package stream

import "net"

// setQuickAck is a no-op where TCP_QUICKACK is not available.
func setQuickAck(*net.TCPConn) error { return nil }
