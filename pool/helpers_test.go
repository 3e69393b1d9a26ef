package pool

import (
	"net"

	"golang.org/x/net/nettest"
)

func newListener() (net.Listener, error) {
	return nettest.NewLocalListener("tcp")
}

func splitAddr(addr string) (host, port string, err error) {
	return net.SplitHostPort(addr)
}

func listenOn(host, port string) (net.Listener, error) {
	return net.Listen("tcp", net.JoinHostPort(host, port))
}

func acceptAndEcho(ln net.Listener) {
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
}
