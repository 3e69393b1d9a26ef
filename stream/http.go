package stream

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"net/http"

	"github.com/Tinkoff/stream-client/log"
)

// Default limits for the HTTP receive path.
const (
	DefaultHeaderLimit = 1 << 20
	DefaultBodyLimit   = 8 << 20
)

// readChunk caps how much is pulled from the wire per read.
const readChunk = 64 << 10

// HTTPOptions bound the response receive path. Exceeding a limit fails the
// request with ErrBufferOverflow.
type HTTPOptions struct {
	HeaderLimit int
	BodyLimit   int
}

// HTTPSocket speaks HTTP/1.1 over an underlying stream session, plain or
// TLS. The raw Socket operations stay available through the embedded
// interface.
//
// The response body is read fully into a buffer owned by the session and
// reused across requests, so the returned http.Response does not borrow the
// wire and memory per session stays bounded by the configured limits.
type HTTPSocket struct {
	Socket

	headerLimit int
	bodyLimit   int

	rd  *socketReader
	br  *bufio.Reader
	buf []byte
}

// NewHTTP layers HTTP on top of sock. Zero limits fall back to
// DefaultHeaderLimit/DefaultBodyLimit.
func NewHTTP(sock Socket, opts HTTPOptions) *HTTPSocket {
	if opts.HeaderLimit <= 0 {
		opts.HeaderLimit = DefaultHeaderLimit
	}
	if opts.BodyLimit <= 0 {
		opts.BodyLimit = DefaultBodyLimit
	}
	h := &HTTPSocket{
		Socket:      sock,
		headerLimit: opts.HeaderLimit,
		bodyLimit:   opts.BodyLimit,
	}
	h.rd = &socketReader{sock: sock}
	h.br = bufio.NewReaderSize(h.rd, readChunk)
	return h
}

// Perform sends the request and receives the response, both bounded by the
// same deadline.
func (h *HTTPSocket) Perform(req *http.Request, deadline Deadline) (*http.Response, error) {
	if err := h.SendRequest(req, deadline); err != nil {
		return nil, err
	}
	return h.RecvResponse(req, deadline)
}

// PerformDefault is Perform bounded by the session I/O timeout.
func (h *HTTPSocket) PerformDefault(req *http.Request) (*http.Response, error) {
	return h.Perform(req, Within(h.IOTimeout()))
}

// SendRequest serializes req onto the wire. The serializer emits fragments
// which are pushed with WriteSome under the shared deadline.
func (h *HTTPSocket) SendRequest(req *http.Request, deadline Deadline) error {
	w := &socketWriter{sock: h.Socket, deadline: deadline}
	if err := req.Write(w); err != nil {
		if w.lastErr != nil {
			return w.lastErr
		}
		return opError("http send", h.Remote(), err)
	}
	return nil
}

// RecvResponse parses one response off the wire. Headers are bounded by the
// header limit and the body by the body limit; crossing either yields
// ErrBufferOverflow. A connection closed before any response byte yields
// ErrEndOfStream.
func (h *HTTPSocket) RecvResponse(req *http.Request, deadline Deadline) (*http.Response, error) {
	h.rd.deadline = deadline
	h.rd.budget = h.headerLimit
	h.rd.overflow = false
	h.br.Reset(h.rd)

	resp, err := http.ReadResponse(h.br, req)
	if err != nil {
		return nil, h.recvError(err, false)
	}

	// wire reads are re-budgeted for the body; the length check below also
	// covers body bytes prefetched into the parser buffer
	h.rd.budget = h.bodyLimit
	body, err := readAllInto(h.buf[:0], resp.Body, h.bodyLimit)
	resp.Body.Close()
	h.buf = body
	if err != nil {
		return nil, h.recvError(err, true)
	}

	resp.Body = io.NopCloser(bytes.NewReader(body))
	log.Logf(log.Trace, "http", "session %s: %s -> %d (%d body bytes)", h.ID(), h.Remote(), resp.StatusCode, len(body))
	return resp, nil
}

func (h *HTTPSocket) recvError(err error, inBody bool) error {
	switch {
	case h.rd.overflow, inBody && errors.Is(err, ErrBufferOverflow):
		return &OpError{Op: "http receive", Target: h.Remote(), Err: ErrBufferOverflow}
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return &OpError{Op: "http receive", Target: h.Remote(), Err: ErrEndOfStream, Cause: err}
	case errors.Is(err, ErrTimeout), errors.Is(err, ErrBadDescriptor):
		return opError("http receive", h.Remote(), err)
	}
	kind := Classify(err)
	if kind != err {
		return &OpError{Op: "http receive", Target: h.Remote(), Err: kind, Cause: err}
	}
	// anything else the parser rejects is a framing problem
	return &OpError{Op: "http receive", Target: h.Remote(), Err: ErrProtocol, Cause: err}
}

// socketWriter adapts WriteSome to io.Writer, looping until each fragment
// is fully written.
type socketWriter struct {
	sock     Socket
	deadline Deadline
	lastErr  error
}

func (w *socketWriter) Write(p []byte) (int, error) {
	total := 0
	for total < len(p) {
		n, err := w.sock.WriteSome(p[total:], w.deadline)
		total += n
		if err != nil {
			w.lastErr = err
			return total, err
		}
	}
	return total, nil
}

// socketReader adapts ReadSome to io.Reader under a byte budget. EOF kinds
// are translated back to io.EOF so the HTTP parser sees plain stream
// semantics.
type socketReader struct {
	sock     Socket
	deadline Deadline
	budget   int
	overflow bool
}

func (r *socketReader) Read(p []byte) (int, error) {
	if r.budget <= 0 {
		r.overflow = true
		return 0, ErrBufferOverflow
	}
	if len(p) > r.budget {
		p = p[:r.budget]
	}
	if len(p) > readChunk {
		p = p[:readChunk]
	}
	n, err := r.sock.ReadSome(p, r.deadline)
	r.budget -= n
	if err != nil && errors.Is(err, ErrEOF) {
		return n, io.EOF
	}
	return n, err
}

// readAllInto appends r's content to buf until EOF, growing as needed.
// Crossing limit bytes fails with ErrBufferOverflow.
func readAllInto(buf []byte, r io.Reader, limit int) ([]byte, error) {
	for {
		if len(buf) > limit {
			return buf, ErrBufferOverflow
		}
		if len(buf) == cap(buf) {
			buf = append(buf, 0)[:len(buf)]
		}
		n, err := r.Read(buf[len(buf):cap(buf)])
		buf = buf[:len(buf)+n]
		if err == io.EOF {
			if len(buf) > limit {
				return buf, ErrBufferOverflow
			}
			return buf, nil
		}
		if err != nil {
			return buf, err
		}
	}
}
