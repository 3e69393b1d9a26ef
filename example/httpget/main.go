// Command httpget keeps a warm pool of HTTPS sessions to one host and
// performs GET requests through it.
//
// Example:
//
//	httpget --host example.com --uri / --count 3
package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	golog "github.com/One-com/gone/log"
	flag "github.com/spf13/pflag"

	"github.com/Tinkoff/stream-client/config"
	"github.com/Tinkoff/stream-client/log"
	"github.com/Tinkoff/stream-client/log/gonelog"
	"github.com/Tinkoff/stream-client/pool"
	"github.com/Tinkoff/stream-client/stream"
)

func main() {
	var (
		cfgPath  = flag.String("config", "", "configuration file (yaml/toml/env)")
		host     = flag.String("host", "", "remote host (overrides config)")
		port     = flag.String("port", "443", "remote port")
		uri      = flag.String("uri", "/", "request URI")
		count    = flag.Int("count", 1, "number of requests to perform")
		poolSize = flag.Int("pool", 2, "pool size")
		verbose  = flag.Bool("verbose", false, "enable debug logging")
	)
	flag.Parse()

	gonelog.Use(golog.Default())
	if *verbose {
		log.SetLevel(log.Debug)
	} else {
		log.SetLevel(log.Warning)
	}

	var cfg *config.Config
	var err error
	if *cfgPath != "" {
		cfg, err = config.Load(*cfgPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		cfg.ApplyLogLevel()
	} else {
		c := config.Default()
		cfg = &c
		cfg.Port = *port
		cfg.PoolSize = *poolSize
	}
	if *host != "" {
		cfg.Host = *host
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	p, err := config.BuildHTTPSPool(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer p.Close()

	if ok, err := p.IsConnected(stream.Within(10 * time.Second)); err != nil || !ok {
		fmt.Fprintf(os.Stderr, "no session to %s available: %v\n", p.Target(), err)
		os.Exit(1)
	}

	for i := 0; i < *count; i++ {
		if err := get(p, cfg.Host, *uri); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
}

type httpPool = pool.Pool[*stream.HTTPSocket]

func get(p *httpPool, host, uri string) error {
	s, err := p.GetSessionDefault()
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodGet, "https://"+host+uri, nil)
	if err != nil {
		s.Close()
		return err
	}
	req.Host = host

	resp, err := s.PerformDefault(req)
	if err != nil {
		// a faulted session must not go back to the pool
		s.Close()
		return err
	}
	p.ReturnSession(s)

	body, _ := io.ReadAll(resp.Body)
	fmt.Printf("%s %s -> %s (%d bytes)\n", req.Method, req.URL, resp.Status, len(body))
	return nil
}
