package byteconn

import (
	"bytes"
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

func TestByteConn_SendRecv_RoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	cc := New(client)
	cs := New(server)

	go func() {
		cs.Send([]byte("hello"))
	}()

	got, err := cc.Recv(16)
	if err != nil {
		t.Fatalf("Recv() error = %v", err)
	}
	if !bytes.Equal(got, []byte("hello")) {
		t.Errorf("Recv() = %q, want %q", got, "hello")
	}
	if !bytes.Equal(cc.LastRecv(), []byte("hello")) {
		t.Errorf("LastRecv() = %q, want %q", cc.LastRecv(), "hello")
	}
}

func TestByteConn_Recv_OrderlyCloseIsNilNotError(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	cc := New(client)
	server.Close()

	data, err := cc.Recv(16)
	if err != nil {
		t.Fatalf("Recv() error = %v, want nil on orderly close", err)
	}
	if data != nil {
		t.Errorf("Recv() = %v, want nil on orderly close", data)
	}
}

func TestByteConn_Send_WrapsFailureAsIoError(t *testing.T) {
	client, server := net.Pipe()
	server.Close()
	cc := New(client)

	err := cc.Send([]byte("x"))
	if err == nil {
		t.Fatal("Send() error = nil, want *IoError after peer closed")
	}
	var ioErr *IoError
	if !asIoError(err, &ioErr) {
		t.Errorf("Send() error = %v (%T), want *IoError", err, err)
	}
}

func asIoError(err error, target **IoError) bool {
	e, ok := err.(*IoError)
	if ok {
		*target = e
	}
	return ok
}

func TestByteConn_Upgrade_StateTransitions(t *testing.T) {
	cert := generateTestCert(t)
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	client := New(clientConn)
	server := New(serverConn)

	errCh := make(chan error, 2)
	go func() { errCh <- server.UpgradeServer(cert) }()
	go func() {
		errCh <- client.UpgradeClient()
	}()

	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil {
			t.Fatalf("handshake error: %v", err)
		}
	}

	if got := server.State(); got != StateTLSServer {
		t.Errorf("server.State() = %v, want %v", got, StateTLSServer)
	}
	if got := client.State(); got != StateTLSClient {
		t.Errorf("client.State() = %v, want %v", got, StateTLSClient)
	}

	go func() { client.Send([]byte("ping")) }()
	got, err := server.Recv(16)
	if err != nil {
		t.Fatalf("Recv() after upgrade error = %v", err)
	}
	if !bytes.Equal(got, []byte("ping")) {
		t.Errorf("Recv() after upgrade = %q, want %q", got, "ping")
	}
}

func TestByteConn_UpgradeServer_TwiceFails(t *testing.T) {
	cert := generateTestCert(t)
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	client := New(clientConn)
	server := New(serverConn)

	go client.UpgradeClient()
	if err := server.UpgradeServer(cert); err != nil {
		t.Fatalf("first UpgradeServer() error = %v", err)
	}
	if err := server.UpgradeServer(cert); err == nil {
		t.Error("second UpgradeServer() error = nil, want error for already-upgraded conn")
	}
}

func TestByteConn_Close_SafeWhenNil(t *testing.T) {
	c := &ByteConn{}
	if err := c.Close(); err != nil {
		t.Errorf("Close() on zero-value ByteConn error = %v, want nil", err)
	}
}
