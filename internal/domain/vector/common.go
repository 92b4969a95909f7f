package vector

import (
	"bytes"
	"errors"
	"io"
	"strings"

	"github.com/striptls-gate/striptls-gate/internal/domain/protoerr"
)

// recvBufferSize is the read size used for the single blocking upstream
// read every UntrustedIntercept-class vector performs while validating the
// server accepted the forwarded STARTTLS-equivalent command.
const recvBufferSize = 8 * 1024

// untrustedIntercept drives the common "untrusted intercept" handshake
// sequence shared by every protocol's UntrustedIntercept vector (and SMTP's
// InjectCommand, which wraps it): answer the client's upgrade request,
// perform a server-role handshake toward the client, forward the original
// upgrade command upstream, validate the plaintext response, then perform a
// client-role handshake toward the server. The ordering here is load
// bearing: the inbound handshake must complete before the forwarded command
// reaches the server, and the outbound handshake must complete before any
// further mangling runs on this session.
func untrustedIntercept(ctx *MangleContext, readyLine, forward, successSubstr []byte) error {
	return untrustedInterceptFunc(ctx, readyLine, forward, func(resp []byte) bool {
		return bytes.Contains(resp, successSubstr)
	})
}

// untrustedInterceptPrefix is untrustedIntercept for the protocols whose
// source validates the upstream response by prefix rather than substring.
func untrustedInterceptPrefix(ctx *MangleContext, readyLine, forward, successPrefix []byte) error {
	return untrustedInterceptFunc(ctx, readyLine, forward, func(resp []byte) bool {
		return bytes.HasPrefix(resp, successPrefix)
	})
}

func untrustedInterceptFunc(ctx *MangleContext, readyLine, forward []byte, accept func([]byte) bool) error {
	ctx.LockInboundWrite()
	err := func() error {
		if err := ctx.Inbound.Send(readyLine); err != nil {
			return err
		}
		return ctx.Inbound.UpgradeServer(ctx.ServerCert)
	}()
	ctx.UnlockInboundWrite()
	if err != nil {
		return err
	}

	ctx.LockOutboundRead()
	defer ctx.UnlockOutboundRead()
	if err := ctx.Outbound.Send(forward); err != nil {
		return err
	}
	resp, err := ctx.Outbound.Recv(recvBufferSize)
	if err != nil {
		return err
	}
	if !accept(resp) {
		return protoerr.Violation("whoop!? client sent STARTTLS even though we did not announce it.. proto violation: %q", resp)
	}
	return ctx.Outbound.UpgradeClient()
}

// isHandshakeEOF reports whether err represents a peer closing the
// connection mid-handshake, the condition SMTP's InjectCommand vector
// treats as a clean (non-violation) session end rather than a failure to
// propagate.
func isHandshakeEOF(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "eof")
}

func containsFold(data []byte, substr string) bool {
	return bytes.Contains(bytes.ToLower(data), []byte(strings.ToLower(substr)))
}

func containsAnyFold(data []byte, substrs ...string) bool {
	lower := bytes.ToLower(data)
	for _, s := range substrs {
		if bytes.Contains(lower, []byte(strings.ToLower(s))) {
			return true
		}
	}
	return false
}
