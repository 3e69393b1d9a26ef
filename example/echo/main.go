// Command echo sends one line to a TCP echo peer through a connector and
// prints what comes back.
package main

import (
	"fmt"
	"os"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/Tinkoff/stream-client/connector"
	"github.com/Tinkoff/stream-client/log"
	"github.com/Tinkoff/stream-client/stream"
)

func main() {
	var (
		host    = flag.String("host", "127.0.0.1", "echo server host")
		port    = flag.String("port", "7", "echo server port")
		message = flag.String("message", "hello, stream-client", "payload to send")
		verbose = flag.Bool("verbose", false, "enable debug logging")
	)
	flag.Parse()

	if *verbose {
		log.SetLogger(log.NewStdLogger(log.Trace))
	}

	c := connector.NewTCP(connector.Config{
		Host:             *host,
		Port:             *port,
		ResolveTimeout:   2 * time.Second,
		ConnectTimeout:   5 * time.Second,
		OperationTimeout: 5 * time.Second,
	})
	defer c.Close()

	s, err := c.NewSessionDefault()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer s.Close()

	payload := []byte(*message)
	if err := s.Send(payload, stream.Within(s.IOTimeout())); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	back := make([]byte, len(payload))
	if err := s.Receive(back, stream.Within(s.IOTimeout())); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("%s -> %q\n", s.Remote(), back)
}
