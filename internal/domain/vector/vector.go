// Package vector implements the attack-vector catalogue: one (protocol,
// strategy) rewriter per vector, each a pure mangler over client->server
// and server->client byte chunks. Vectors are stateless; all mutable state
// lives on the MangleContext passed to each call, per session.
package vector

import (
	"crypto/tls"
	"log/slog"

	"github.com/striptls-gate/striptls-gate/internal/domain/byteconn"
	"github.com/striptls-gate/striptls-gate/internal/domain/detect"
)

// MangleContext is the side-effect surface a vector may use while
// rewriting one chunk. It carries both ByteConns so a client-side mangler
// can inject a synthetic server->client response, and the TLS-upgrade
// entry points so UntrustedIntercept-class vectors can drive a handshake
// without reaching into session internals or any global state.
type MangleContext struct {
	Inbound  *byteconn.ByteConn // client-facing leg
	Outbound *byteconn.ByteConn // server-facing leg
	ClientIP string

	// ServerCert is the proxy's own certificate, loaded once at startup,
	// used for every inbound (server-role) TLS upgrade.
	ServerCert tls.Certificate

	Logger *slog.Logger

	// MarkVulnerable flips this session's result record to vulnerable.
	// Vectors call it when they observe a sentinel cleartext command
	// after a successful strip.
	MarkVulnerable func()

	// CloseSession tears down both legs of the session immediately. Used
	// by vectors that want to end the session cleanly on a condition
	// that is not itself a protocol violation (e.g. InjectCommand
	// observing a TLS EOF from the upstream handshake).
	CloseSession func()

	// LockOutboundRead and UnlockOutboundRead give an UntrustedIntercept-
	// class vector exclusive use of Outbound.Recv for the duration of its
	// handshake-validation read. The server->client pump's own read loop
	// takes the same lock around each of its Recv calls, so the two can
	// never race to read the same bytes off the upstream socket.
	LockOutboundRead   func()
	UnlockOutboundRead func()

	// LockInboundWrite and UnlockInboundWrite give a vector exclusive use
	// of the inbound leg for the duration of a Send+UpgradeServer
	// handshake sequence, so the generic pump's concurrent forwarding of
	// server data to the client can't interleave with the handshake on
	// the same socket.
	LockInboundWrite   func()
	UnlockInboundWrite func()
}

// Vector is a named (protocol, strategy) rewriter. Implementations carry no
// mutable state of their own.
type Vector interface {
	// Protocol identifies which application protocol this vector targets.
	Protocol() detect.Protocol
	// Name is the vector's strategy name, used in --vectors selection and
	// in the audit report (e.g. "StripFromCapabilities").
	Name() string
	// MangleClientData rewrites one client->server chunk. A nil slice
	// with a nil error suppresses forwarding; a non-nil error (typically
	// a *protoerr.ViolationError) ends the session.
	MangleClientData(ctx *MangleContext, data []byte) ([]byte, error)
	// MangleServerData rewrites one server->client chunk, symmetrically.
	MangleServerData(ctx *MangleContext, data []byte) ([]byte, error)
}

// FullName renders "Protocol.Name", the catalogue identifier used by
// --vectors and printed in the audit report.
func FullName(v Vector) string {
	return v.Protocol().String() + "." + v.Name()
}
