// Package session owns the per-visit pairing of an inbound and an outbound
// ByteConn, plus the protocol-detection and vector-assignment state that
// travels with it for the lifetime of one client connection.
package session

import (
	"net"
	"strings"

	"github.com/striptls-gate/striptls-gate/internal/domain/byteconn"
	"github.com/striptls-gate/striptls-gate/internal/domain/detect"
	"github.com/striptls-gate/striptls-gate/internal/domain/vector"
)

// Session pairs exactly two ByteConns for the duration of one client visit:
// inbound (client-facing) and outbound (server-facing). The two peers are
// always disjoint; the outbound peer is always the configured target.
// A Session ends when either leg reports an orderly close or a protocol
// violation is raised; it is never persisted.
type Session struct {
	// ID is a unique identifier for this session, assigned at accept time.
	ID string

	Inbound  *byteconn.ByteConn
	Outbound *byteconn.ByteConn
	Detector *detect.Detector

	// Vector is nil until the Dispatcher assigns one for this session's
	// detected protocol.
	Vector vector.Vector

	BufferSize int
	ClientIP   string
}

// clientIPFromAddr extracts the host portion of a dialed or accepted peer
// address, falling back to the address verbatim if it carries no port.
func clientIPFromAddr(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return strings.TrimSpace(addr.String())
	}
	return host
}
