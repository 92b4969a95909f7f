package session

import (
	"crypto/tls"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/striptls-gate/striptls-gate/internal/domain/byteconn"
	"github.com/striptls-gate/striptls-gate/internal/domain/detect"
	"github.com/striptls-gate/striptls-gate/internal/domain/vector"
)

// New constructs a Session from an already-accepted inbound ByteConn and an
// already-connected outbound ByteConn. targetPort seeds protocol detection;
// bufferSize bounds every Recv call driven by this session's pump loops.
func New(inbound, outbound *byteconn.ByteConn, targetPort, bufferSize int) *Session {
	return &Session{
		ID:         uuid.NewString(),
		Inbound:    inbound,
		Outbound:   outbound,
		Detector:   detect.New(targetPort),
		BufferSize: bufferSize,
		ClientIP:   clientIPFromAddr(inbound.Peer()),
	}
}

// MangleContext builds the side-effect surface this session's assigned
// vector uses to rewrite one chunk: both ByteConns, the client IP, the
// proxy's certificate for inbound handshakes, and the callbacks that flip
// this session's result record and tear the session down. Building this
// narrow context — rather than handing the vector the Session itself —
// keeps package vector from importing package session.
//
// outboundReadMu and inboundWriteMu are the same two per-session mutexes
// the proxy's pump loops use: a vector's handshake sequence (UntrustedIntercept
// and anything built on it) takes one of them for the duration of a
// Send/Recv/Upgrade step so the generic pump running in the other direction
// can't race it for the same bytes.
func (s *Session) MangleContext(logger *slog.Logger, serverCert tls.Certificate, markVulnerable, closeSession func(), outboundReadMu, inboundWriteMu *sync.Mutex) *vector.MangleContext {
	return &vector.MangleContext{
		Inbound:            s.Inbound,
		Outbound:           s.Outbound,
		ClientIP:           s.ClientIP,
		ServerCert:         serverCert,
		Logger:             logger,
		MarkVulnerable:     markVulnerable,
		CloseSession:       closeSession,
		LockOutboundRead:   outboundReadMu.Lock,
		UnlockOutboundRead: outboundReadMu.Unlock,
		LockInboundWrite:   inboundWriteMu.Lock,
		UnlockInboundWrite: inboundWriteMu.Unlock,
	}
}

// Close tears down both legs of the session. Safe to call more than once;
// the second call observes an already-closed net.Conn and returns its
// (ignorable) error.
func (s *Session) Close() error {
	outErr := s.Outbound.Close()
	inErr := s.Inbound.Close()
	if inErr != nil {
		return inErr
	}
	return outErr
}
