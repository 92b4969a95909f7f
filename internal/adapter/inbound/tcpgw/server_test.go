package tcpgw

import (
	"bufio"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/striptls-gate/striptls-gate/internal/domain/detect"
	"github.com/striptls-gate/striptls-gate/internal/domain/dispatch"
	"github.com/striptls-gate/striptls-gate/internal/domain/vector"
)

func generateTestCert(t *testing.T) tls.Certificate {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "tcpgw-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("CreateCertificate() error = %v", err)
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}

// fakeSMTPUpstream accepts exactly one connection, sends a greeting and an
// EHLO response advertising STARTTLS, then answers every further line with
// a "500 " reply that echoes it.
func fakeSMTPUpstream(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		conn.Write([]byte("220 fake.example ESMTP\r\n"))
		r := bufio.NewReader(conn)
		line, _ := r.ReadString('\n')
		if line == "" {
			return
		}
		conn.Write([]byte("250-fake.example\r\n250-PIPELINING\r\n250-STARTTLS\r\n250 HELP\r\n"))

		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			conn.Write([]byte("500 " + line))
		}
	}()

	return ln.Addr().String()
}

func TestProxyServer_SMTP_StripsSTARTTLSFromCapabilities(t *testing.T) {
	defer goleak.VerifyNone(t,
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)

	upstreamAddr := fakeSMTPUpstream(t)

	dispatcher := dispatch.New(nil)
	dispatcher.Add(detect.SMTP, smtpOnlyVector{})

	srv, err := New(Config{
		ListenAddr: "127.0.0.1:0",
		RemoteAddr: upstreamAddr,
		Cert:       generateTestCert(t),
		Dispatcher: dispatcher,
		BufferSize: 4096,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	serveErrCh := make(chan error, 1)
	go func() { serveErrCh <- srv.Serve(ctx) }()

	var listenAddr string
	for i := 0; i < 50; i++ {
		if addr := srv.Addr(); addr != nil {
			listenAddr = addr.String()
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if listenAddr == "" {
		t.Fatal("ProxyServer never bound a listen address")
	}

	var clientConn net.Conn
	for i := 0; i < 50; i++ {
		clientConn, err = net.Dial("tcp", listenAddr)
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer clientConn.Close()

	r := bufio.NewReader(clientConn)
	greeting, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read greeting error = %v", err)
	}
	if greeting != "220 fake.example ESMTP\r\n" {
		t.Errorf("greeting = %q, want passthrough", greeting)
	}

	clientConn.Write([]byte("EHLO client.example\r\n"))

	var lines []string
	for i := 0; i < 3; i++ {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read capability line %d error = %v", i, err)
		}
		lines = append(lines, line)
	}

	for _, line := range lines {
		if line == "250-STARTTLS\r\n" {
			t.Errorf("STARTTLS capability was not stripped: %v", lines)
		}
	}
	if lines[2] != "250 HELP\r\n" {
		t.Errorf("final capability line = %q, want %q (terminator fixed after strip)", lines[2], "250 HELP\r\n")
	}

	cancel()
	clientConn.Close()
	if err := <-serveErrCh; err != nil {
		t.Errorf("Serve() error = %v", err)
	}
}

// smtpOnlyVector wraps the real SMTP StripFromCapabilities vector so the
// test doesn't need to import the unexported vector package type directly;
// it satisfies vector.Vector by delegating to a fresh catalogue lookup.
type smtpOnlyVector struct{}

func (smtpOnlyVector) Protocol() detect.Protocol { return detect.SMTP }
func (smtpOnlyVector) Name() string              { return "StripFromCapabilities" }
func (smtpOnlyVector) MangleClientData(ctx *vector.MangleContext, data []byte) ([]byte, error) {
	return vector.ByFullName()["SMTP.StripFromCapabilities"].MangleClientData(ctx, data)
}
func (smtpOnlyVector) MangleServerData(ctx *vector.MangleContext, data []byte) ([]byte, error) {
	return vector.ByFullName()["SMTP.StripFromCapabilities"].MangleServerData(ctx, data)
}

// smtpUntrustedInterceptVector is the same delegation trick as
// smtpOnlyVector, for the UntrustedIntercept strategy.
type smtpUntrustedInterceptVector struct{}

func (smtpUntrustedInterceptVector) Protocol() detect.Protocol { return detect.SMTP }
func (smtpUntrustedInterceptVector) Name() string               { return "UntrustedIntercept" }
func (smtpUntrustedInterceptVector) MangleClientData(ctx *vector.MangleContext, data []byte) ([]byte, error) {
	return vector.ByFullName()["SMTP.UntrustedIntercept"].MangleClientData(ctx, data)
}
func (smtpUntrustedInterceptVector) MangleServerData(ctx *vector.MangleContext, data []byte) ([]byte, error) {
	return vector.ByFullName()["SMTP.UntrustedIntercept"].MangleServerData(ctx, data)
}

// fakeSMTPUpstreamSTARTTLS accepts one connection, runs the plaintext SMTP
// greeting/EHLO/STARTTLS exchange, then completes a real server-role TLS
// handshake using cert and echoes every line it receives afterward. This is
// the upstream half of an UntrustedIntercept run: the proxy's outbound leg
// talks to this exactly the way the real SMTP UntrustedIntercept vector
// (vector/smtp.go) expects to.
func fakeSMTPUpstreamSTARTTLS(t *testing.T, cert tls.Certificate) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		conn.Write([]byte("220 fake.example ESMTP\r\n"))
		r := bufio.NewReader(conn)
		if _, err := r.ReadString('\n'); err != nil { // EHLO
			return
		}
		conn.Write([]byte("250-fake.example\r\n250-PIPELINING\r\n250-STARTTLS\r\n250 HELP\r\n"))
		if _, err := r.ReadString('\n'); err != nil { // STARTTLS
			return
		}
		conn.Write([]byte("220 Ready to start TLS\r\n"))

		tlsConn := tls.Server(conn, &tls.Config{Certificates: []tls.Certificate{cert}})
		if err := tlsConn.Handshake(); err != nil {
			return
		}
		tr := bufio.NewReader(tlsConn)
		for {
			line, err := tr.ReadString('\n')
			if err != nil {
				return
			}
			tlsConn.Write([]byte("250 got: " + line))
		}
	}()

	return ln.Addr().String()
}

// TestProxyServer_SMTP_UntrustedIntercept_BothPumpsRunConcurrently exercises
// an UntrustedIntercept vector end to end: client EHLO/capability exchange,
// client STARTTLS triggering the proxy's own handshake with the client,
// forwarding STARTTLS to the real upstream, reading and validating the
// upstream's "220" response, and upgrading the outbound leg to TLS too —
// all while the server->client pump goroutine is independently looping on
// the same outbound connection. Before the outboundMu/inboundMu gating, the
// generic server->client pump could steal the upstream's "220 Ready to
// start TLS" response (or race the TLS handshake bytes on either leg),
// leaving the hijack's Outbound.Recv hanging or handed forged bytes. A
// post-handshake round-trip over both new TLS legs proves the validation
// read actually saw the real response and the handshakes completed clean.
func TestProxyServer_SMTP_UntrustedIntercept_BothPumpsRunConcurrently(t *testing.T) {
	defer goleak.VerifyNone(t,
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)

	proxyCert := generateTestCert(t)
	upstreamCert := generateTestCert(t)
	upstreamAddr := fakeSMTPUpstreamSTARTTLS(t, upstreamCert)

	dispatcher := dispatch.New(nil)
	dispatcher.Add(detect.SMTP, smtpUntrustedInterceptVector{})

	srv, err := New(Config{
		ListenAddr: "127.0.0.1:0",
		RemoteAddr: upstreamAddr,
		Cert:       proxyCert,
		Dispatcher: dispatcher,
		BufferSize: 4096,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	serveErrCh := make(chan error, 1)
	go func() { serveErrCh <- srv.Serve(ctx) }()

	var listenAddr string
	for i := 0; i < 50; i++ {
		if addr := srv.Addr(); addr != nil {
			listenAddr = addr.String()
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if listenAddr == "" {
		t.Fatal("ProxyServer never bound a listen address")
	}

	var clientConn net.Conn
	for i := 0; i < 50; i++ {
		clientConn, err = net.Dial("tcp", listenAddr)
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer clientConn.Close()
	clientConn.SetDeadline(time.Now().Add(10 * time.Second))

	r := bufio.NewReader(clientConn)
	if greeting, err := r.ReadString('\n'); err != nil || greeting != "220 fake.example ESMTP\r\n" {
		t.Fatalf("greeting = %q, err = %v", greeting, err)
	}

	clientConn.Write([]byte("EHLO client.example\r\n"))
	for i := 0; i < 4; i++ {
		if _, err := r.ReadString('\n'); err != nil {
			t.Fatalf("read capability line %d error = %v", i, err)
		}
	}

	clientConn.Write([]byte("STARTTLS\r\n"))
	ready, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read STARTTLS ready line error = %v", err)
	}
	if ready != "220 Go ahead\r\n" {
		t.Fatalf("STARTTLS ready line = %q, want %q", ready, "220 Go ahead\r\n")
	}

	tlsClient := tls.Client(clientConn, &tls.Config{InsecureSkipVerify: true}) //nolint:gosec // test harness, not a real TLS client
	if err := tlsClient.Handshake(); err != nil {
		t.Fatalf("client TLS handshake error = %v", err)
	}

	tlsClient.Write([]byte("MAIL FROM:<a@b>\r\n"))
	tr := bufio.NewReader(tlsClient)
	resp, err := tr.ReadString('\n')
	if err != nil {
		t.Fatalf("post-handshake read error = %v", err)
	}
	if resp != "250 got: MAIL FROM:<a@b>\r\n" {
		t.Fatalf("post-handshake response = %q, want the upstream's echo of what was actually sent over its own TLS leg", resp)
	}

	cancel()
	tlsClient.Close()
	if err := <-serveErrCh; err != nil {
		t.Errorf("Serve() error = %v", err)
	}
}
