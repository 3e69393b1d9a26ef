// Package stream implements synchronous, deadline bounded client sockets
// over TCP, UDP and TLS, plus an HTTP/1.1 layer on top of any of the stream
// variants.
//
// Every blocking operation takes a Deadline. A Deadline of Never() blocks
// until completion; anything else bounds the total wall-clock span of the
// call. When the deadline fires during I/O the underlying handle is torn
// down, so a timed out session is unusable and must be discarded.
//
// Sockets are exclusively owned by their holder; concurrent operations on
// the same socket are not supported.
package stream
