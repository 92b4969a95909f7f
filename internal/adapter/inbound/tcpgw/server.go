// Package tcpgw hosts the inbound TCP listener that pairs every accepted
// client with a freshly dialed outbound leg, then pumps bytes between them
// through whichever AttackVector the Dispatcher assigns. Unlike the source
// this is grounded on (a single-threaded, readiness-multiplexed event
// loop, spec.md §5), this implementation runs one goroutine pair per
// session — the per-session task model spec.md explicitly allows. The two
// pump goroutines are independent readers of the two legs, which is exactly
// the problem for an UntrustedIntercept-class vector: its handshake runs
// inside the client->server pump but needs to read and write the very legs
// the server->client pump is concurrently reading and writing. outboundMu
// and inboundMu (built in handleConn, threaded through MangleContext) give
// a handshake sequence exclusive use of the leg it needs for as long as it
// needs it, so the generic pump can never steal or interleave with those
// bytes.
package tcpgw

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/striptls-gate/striptls-gate/internal/domain/audit"
	"github.com/striptls-gate/striptls-gate/internal/domain/byteconn"
	"github.com/striptls-gate/striptls-gate/internal/domain/detect"
	"github.com/striptls-gate/striptls-gate/internal/domain/dispatch"
	"github.com/striptls-gate/striptls-gate/internal/domain/protoerr"
	"github.com/striptls-gate/striptls-gate/internal/domain/session"
	"github.com/striptls-gate/striptls-gate/internal/domain/vector"
)

const defaultRecvSize = 8 * 1024

// outboundPollInterval bounds how long the server->client pump's Recv call
// can hold outboundMu before releasing it to check whether a vector's
// handshake is waiting for exclusive access to the outbound leg.
const outboundPollInterval = 200 * time.Millisecond

// Config collects everything one ProxyServer instance needs. Cert is
// loaded once at startup (pkg/certstore.Load) and reused for every inbound
// TLS upgrade, unlike the source this is grounded on, which reloads the
// key pair from disk on every handshake.
type Config struct {
	ListenAddr string
	RemoteAddr string
	Cert       tls.Certificate
	Dispatcher *dispatch.Dispatcher
	BufferSize int
	Logger     *slog.Logger
}

// ProxyServer owns the listening socket and spawns one session per
// accepted connection.
type ProxyServer struct {
	listenAddr string
	remoteAddr string
	remotePort int
	cert       tls.Certificate
	dispatcher *dispatch.Dispatcher
	bufferSize int
	logger     *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
}

// New validates cfg and constructs a ProxyServer. The remote address's
// port seeds every session's ProtocolDetector (spec.md §4.2); it must be a
// valid host:port pair.
func New(cfg Config) (*ProxyServer, error) {
	_, portStr, err := net.SplitHostPort(cfg.RemoteAddr)
	if err != nil {
		return nil, fmt.Errorf("tcpgw: invalid remote address %q: %w", cfg.RemoteAddr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("tcpgw: remote address %q has non-numeric port: %w", cfg.RemoteAddr, err)
	}

	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = defaultRecvSize
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &ProxyServer{
		listenAddr: cfg.ListenAddr,
		remoteAddr: cfg.RemoteAddr,
		remotePort: port,
		cert:       cfg.Cert,
		dispatcher: cfg.Dispatcher,
		bufferSize: bufferSize,
		logger:     logger,
	}, nil
}

// Serve opens the listening socket and accepts connections until ctx is
// canceled or Close is called, then waits for every in-flight session to
// finish tearing down.
func (p *ProxyServer) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", p.listenAddr)
	if err != nil {
		return fmt.Errorf("tcpgw: listen %s: %w", p.listenAddr, err)
	}
	p.mu.Lock()
	p.listener = ln
	p.mu.Unlock()

	p.logger.Info("proxy listening", "listen", p.listenAddr, "remote", p.remoteAddr)

	go func() {
		<-ctx.Done()
		p.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				p.wg.Wait()
				return nil
			}
			return fmt.Errorf("tcpgw: accept: %w", err)
		}

		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.handleConn(ctx, conn)
		}()
	}
}

// Addr returns the listener's bound address. Only valid after Serve has
// started; used by tests that bind to ":0" and need the assigned port.
func (p *ProxyServer) Addr() net.Addr {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listener == nil {
		return nil
	}
	return p.listener.Addr()
}

// Close stops accepting new connections. Already-accepted sessions run to
// completion.
func (p *ProxyServer) Close() error {
	p.mu.Lock()
	ln := p.listener
	p.mu.Unlock()
	if ln == nil {
		return nil
	}
	return ln.Close()
}

func (p *ProxyServer) handleConn(ctx context.Context, clientConn net.Conn) {
	logger := p.logger.With("client", clientConn.RemoteAddr().String())

	outbound, err := byteconn.Connect(p.remoteAddr)
	if err != nil {
		logger.Warn("failed to connect outbound leg", "error", err)
		clientConn.Close()
		return
	}

	inbound := byteconn.New(clientConn)
	sess := session.New(inbound, outbound, p.remotePort, p.bufferSize)
	logger = logger.With("session", sess.ID)
	logger.Info("session started")

	var closeOnce sync.Once
	closeSession := func() {
		closeOnce.Do(func() {
			sess.Close()
			logger.Info("session closed")
		})
	}
	defer closeSession()

	markVulnerable := func() {
		if p.dispatcher != nil {
			p.dispatcher.SetResult(ctx, sess.ID, audit.Vulnerable)
		}
	}

	// outboundMu serializes every Recv on the outbound leg between the
	// server->client pump's normal read loop and a vector's handshake
	// validation read. inboundMu serializes every Send to the inbound leg
	// between that same pump's forwarding writes and a vector's
	// Send+UpgradeServer handshake sequence. See the package doc comment.
	var outboundMu, inboundMu sync.Mutex
	mangleCtx := sess.MangleContext(logger, p.cert, markVulnerable, closeSession, &outboundMu, &inboundMu)

	// Both pump directions may observe the protocol becoming known and race
	// to assign sess.Vector; vectorMu serializes that one write per session.
	var vectorMu sync.Mutex

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		p.pump(ctx, sess, mangleCtx, logger, true, closeSession, &vectorMu, &outboundMu, &inboundMu)
	}()
	go func() {
		defer wg.Done()
		p.pump(ctx, sess, mangleCtx, logger, false, closeSession, &vectorMu, &outboundMu, &inboundMu)
	}()
	wg.Wait()
}

// pump reads from one leg, mangles through the session's assigned vector,
// and forwards non-suppressed output to the other leg. clientToServer
// selects direction: true reads Inbound/writes Outbound and calls
// MangleClientData; false is the mirror image with MangleServerData.
//
// The two directions are not symmetric with respect to outboundMu/inboundMu:
// only the client->server direction ever runs a vector handshake sequence
// (every UntrustedIntercept-class MangleClientData does), so only the
// server->client direction's own Recv/Send calls need to be gated against
// one of those handshakes in progress.
func (p *ProxyServer) pump(ctx context.Context, sess *session.Session, mangleCtx *vector.MangleContext, logger *slog.Logger, clientToServer bool, closeSession func(), vectorMu, outboundMu, inboundMu *sync.Mutex) {
	from, to := sess.Inbound, sess.Outbound
	if !clientToServer {
		from, to = sess.Outbound, sess.Inbound
	}

	for {
		var data []byte
		var err error
		if clientToServer {
			data, err = from.Recv(sess.BufferSize)
		} else {
			data, err = recvGated(from, sess.BufferSize, outboundMu, outboundPollInterval)
		}
		if err != nil {
			logger.Debug("pump recv error", "client_to_server", clientToServer, "error", err)
			closeSession()
			return
		}
		if len(data) == 0 {
			closeSession()
			return
		}

		vectorMu.Lock()
		sess.Detector.Detect(data)
		v := p.assignVector(ctx, sess)
		vectorMu.Unlock()

		var out []byte
		if v == nil {
			out = data
		} else if clientToServer {
			out, err = v.MangleClientData(mangleCtx, data)
		} else {
			out, err = v.MangleServerData(mangleCtx, data)
		}

		if err != nil {
			if protoerr.IsViolation(err) {
				logger.Warn("protocol violation", "error", err)
			} else {
				logger.Warn("vector error", "error", err)
			}
			closeSession()
			return
		}
		if out == nil {
			continue
		}

		if clientToServer {
			err = to.Send(out)
		} else {
			inboundMu.Lock()
			err = to.Send(out)
			inboundMu.Unlock()
		}
		if err != nil {
			logger.Debug("pump send error", "error", err)
			closeSession()
			return
		}
	}
}

// recvGated calls bc.Recv(n) under mu, setting a poll-interval read
// deadline first so a long wait for the next chunk periodically releases mu
// instead of holding it indefinitely. A vector's handshake sequence on the
// same leg acquires mu directly (no deadline) and so is guaranteed to get
// it within one poll interval, at which point this loop blocks on mu until
// the handshake releases it and resumes with a clean, un-deadlined Recv.
func recvGated(bc *byteconn.ByteConn, n int, mu *sync.Mutex, poll time.Duration) ([]byte, error) {
	for {
		mu.Lock()
		if err := bc.SetReadDeadline(time.Now().Add(poll)); err != nil {
			mu.Unlock()
			return nil, err
		}
		data, err := bc.Recv(n)
		// Always leave the conn with no deadline set once mu is released,
		// so whoever acquires it next — another poll iteration, or a
		// vector's handshake read that sets no deadline of its own — never
		// observes an already-expired one.
		bc.SetReadDeadline(time.Time{})
		mu.Unlock()
		if err != nil {
			if isTimeoutErr(err) {
				continue
			}
			return nil, err
		}
		return data, nil
	}
}

func isTimeoutErr(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// assignVector binds sess.Vector on first call once the protocol is known.
func (p *ProxyServer) assignVector(ctx context.Context, sess *session.Session) vector.Vector {
	if sess.Vector != nil {
		return sess.Vector
	}
	proto := sess.Detector.Protocol()
	if proto == detect.Unknown || p.dispatcher == nil {
		return nil
	}
	v := p.dispatcher.GetMangle(ctx, sess.ID, sess.ClientIP, proto)
	sess.Vector = v
	return v
}
