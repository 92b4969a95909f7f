package vector

import (
	"bytes"

	"github.com/striptls-gate/striptls-gate/internal/domain/detect"
	"github.com/striptls-gate/striptls-gate/internal/domain/protoerr"
)

const (
	xmppStartTLSOpen  = "<starttls"
	xmppStartTLSClose = "</starttls>"
)

func xmppVulnerableOnSentinel(ctx *MangleContext, data []byte) {
	if containsAnyFold(data, "</auth>", "<query", "<iq", "<username") {
		ctx.MarkVulnerable()
	}
}

// xmppExciseStartTLS finds the first <starttls ...>...</starttls> element
// and returns the data with it removed, plus the element's own contents (for
// inspecting the "required" flag). ok is false if no complete element is
// present.
func xmppExciseStartTLS(data []byte) (rest, element []byte, ok bool) {
	start := bytes.Index(data, []byte(xmppStartTLSOpen))
	if start < 0 {
		return data, nil, false
	}
	closeIdx := bytes.Index(data[start:], []byte(xmppStartTLSClose))
	if closeIdx < 0 {
		return data, nil, false
	}
	end := start + closeIdx + len(xmppStartTLSClose)
	element = data[start:end]
	rest = append(append([]byte{}, data[:start]...), data[end:]...)
	return rest, element, true
}

// xmppStripFromCapabilities excises <starttls>...</starttls> from the
// server's stream features and raises a violation if the client attempts
// the upgrade anyway.
type xmppStripFromCapabilities struct{}

func (xmppStripFromCapabilities) Protocol() detect.Protocol { return detect.XMPP }
func (xmppStripFromCapabilities) Name() string              { return "StripFromCapabilities" }

func (xmppStripFromCapabilities) MangleClientData(ctx *MangleContext, data []byte) ([]byte, error) {
	if bytes.Contains(data, []byte(xmppStartTLSOpen)) {
		return nil, protoerr.Violation("whoop!? client sent STARTTLS even though we did not announce it.. proto violation: %q", data)
	}
	xmppVulnerableOnSentinel(ctx, data)
	return data, nil
}

func (xmppStripFromCapabilities) MangleServerData(ctx *MangleContext, data []byte) ([]byte, error) {
	if rest, _, ok := xmppExciseStartTLS(data); ok {
		return rest, nil
	}
	return data, nil
}

// xmppStripInboundTLS strips the server's <starttls> advertisement from the
// inbound leg only. If the server marked the upgrade required, the proxy
// still performs the outbound TLS handshake on the client's behalf, leaving
// the inbound leg in cleartext.
type xmppStripInboundTLS struct{}

func (xmppStripInboundTLS) Protocol() detect.Protocol { return detect.XMPP }
func (xmppStripInboundTLS) Name() string              { return "StripInboundTLS" }

func (xmppStripInboundTLS) MangleClientData(ctx *MangleContext, data []byte) ([]byte, error) {
	if bytes.Contains(data, []byte(xmppStartTLSOpen)) {
		return nil, protoerr.Violation("whoop!? client sent STARTTLS even though we did not announce it.. proto violation: %q", data)
	}
	xmppVulnerableOnSentinel(ctx, data)
	return data, nil
}

func (xmppStripInboundTLS) MangleServerData(ctx *MangleContext, data []byte) ([]byte, error) {
	rest, element, ok := xmppExciseStartTLS(data)
	if !ok {
		return data, nil
	}
	if bytes.Contains(element, []byte("required")) {
		if err := ctx.Outbound.Send([]byte("<starttls xmlns='urn:ietf:params:xml:ns:xmpp-tls'/>")); err != nil {
			return nil, err
		}
		resp, err := ctx.Outbound.Recv(recvBufferSize)
		if err != nil {
			return nil, err
		}
		if !bytes.HasPrefix(resp, []byte("<proceed ")) {
			return nil, protoerr.Violation("whoop!? server announced STARTTLS *required* but fails to proceed. proto violation: %q", resp)
		}
		if err := ctx.Outbound.UpgradeClient(); err != nil {
			return nil, err
		}
	}
	return rest, nil
}

// xmppUntrustedIntercept terminates TLS toward the client and opens a
// second TLS leg toward the server.
type xmppUntrustedIntercept struct{}

func (xmppUntrustedIntercept) Protocol() detect.Protocol { return detect.XMPP }
func (xmppUntrustedIntercept) Name() string              { return "UntrustedIntercept" }

func (xmppUntrustedIntercept) MangleClientData(ctx *MangleContext, data []byte) ([]byte, error) {
	if bytes.Contains(data, []byte(xmppStartTLSOpen+" ")) {
		ready := []byte("<proceed xmlns='urn:ietf:params:xml:ns:xmpp-tls'/>")
		if err := untrustedInterceptPrefix(ctx, ready, data, []byte("<proceed ")); err != nil {
			return nil, err
		}
		return nil, nil
	}
	if bytes.Contains(data, []byte("</auth>")) {
		ctx.MarkVulnerable()
	}
	return data, nil
}

func (xmppUntrustedIntercept) MangleServerData(ctx *MangleContext, data []byte) ([]byte, error) {
	return data, nil
}
