package vector

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/striptls-gate/striptls-gate/internal/domain/byteconn"
)

func generateTestCert(t *testing.T) tls.Certificate {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "striptls-gate-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}
}

// testHarness wires a MangleContext across two in-memory conn pairs: one
// simulating the client<->proxy leg (inbound), one simulating the
// proxy<->server leg (outbound). Each pair exposes the "remote" half so
// tests can play a fake client or fake server.
type testHarness struct {
	ctx           *MangleContext
	fakeClient    net.Conn
	fakeServer    net.Conn
	vulnerable    bool
	closed        bool
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	inProxy, inClient := net.Pipe()
	outProxy, outServer := net.Pipe()

	h := &testHarness{
		fakeClient: inClient,
		fakeServer: outServer,
	}
	var inboundMu, outboundMu sync.Mutex
	h.ctx = &MangleContext{
		Inbound:            byteconn.New(inProxy),
		Outbound:           byteconn.New(outProxy),
		ClientIP:           "203.0.113.9",
		ServerCert:         generateTestCert(t),
		MarkVulnerable:     func() { h.vulnerable = true },
		CloseSession:       func() { h.closed = true },
		LockOutboundRead:   outboundMu.Lock,
		UnlockOutboundRead: outboundMu.Unlock,
		LockInboundWrite:   inboundMu.Lock,
		UnlockInboundWrite: inboundMu.Unlock,
	}
	t.Cleanup(func() {
		inClient.Close()
		outServer.Close()
		h.ctx.Inbound.Close()
		h.ctx.Outbound.Close()
	})
	return h
}
