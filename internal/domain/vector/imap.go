package vector

import (
	"strings"

	"github.com/striptls-gate/striptls-gate/internal/domain/detect"
	"github.com/striptls-gate/striptls-gate/internal/domain/protoerr"
)

func imapVulnerableOnLogin(ctx *MangleContext, data []byte) {
	if containsFold(data, " LOGIN ") {
		ctx.MarkVulnerable()
	}
}

// imapTag splits the leading tag off a tagged IMAP command line, e.g.
// "a001 STARTTLS" -> "a001".
func imapTag(data []byte) string {
	fields := strings.SplitN(string(data), " ", 2)
	return strings.TrimSpace(fields[0])
}

func imapIsSTARTTLS(data []byte) bool {
	return strings.HasSuffix(strings.ToLower(strings.TrimSpace(string(data))), "starttls")
}

// imapStripFromCapabilities removes STARTTLS and LOGINDISABLED from the
// CAPABILITY response and raises a violation if the client tries anyway.
type imapStripFromCapabilities struct{}

func (imapStripFromCapabilities) Protocol() detect.Protocol { return detect.IMAP }
func (imapStripFromCapabilities) Name() string              { return "StripFromCapabilities" }

func (imapStripFromCapabilities) MangleClientData(ctx *MangleContext, data []byte) ([]byte, error) {
	if strings.Contains(string(data), " STARTTLS") {
		return nil, protoerr.Violation("whoop!? client sent STARTTLS even though we did not announce it.. proto violation: %q", data)
	}
	imapVulnerableOnLogin(ctx, data)
	return data, nil
}

func (imapStripFromCapabilities) MangleServerData(ctx *MangleContext, data []byte) ([]byte, error) {
	if !strings.Contains(string(data), "CAPABILITY ") {
		return data, nil
	}
	out := strings.ReplaceAll(string(data), " STARTTLS", "")
	out = strings.ReplaceAll(out, " LOGINDISABLED", "")
	return []byte(out), nil
}

// imapStripWithError answers a tagged STARTTLS command with a BAD response
// using the same tag the client sent.
type imapStripWithError struct{}

func (imapStripWithError) Protocol() detect.Protocol { return detect.IMAP }
func (imapStripWithError) Name() string              { return "StripWithError" }

func (imapStripWithError) MangleClientData(ctx *MangleContext, data []byte) ([]byte, error) {
	if imapIsSTARTTLS(data) {
		tag := imapTag(data)
		if err := ctx.Inbound.Send([]byte(tag + " BAD unknown command\r\n")); err != nil {
			return nil, err
		}
		return nil, nil
	}
	imapVulnerableOnLogin(ctx, data)
	return data, nil
}

func (imapStripWithError) MangleServerData(ctx *MangleContext, data []byte) ([]byte, error) {
	return data, nil
}

// imapUntrustedIntercept terminates TLS toward the client, preserving the
// client's own command tag in the synthetic OK response, and opens a
// second TLS leg toward the server.
type imapUntrustedIntercept struct{}

func (imapUntrustedIntercept) Protocol() detect.Protocol { return detect.IMAP }
func (imapUntrustedIntercept) Name() string              { return "UntrustedIntercept" }

func (imapUntrustedIntercept) MangleClientData(ctx *MangleContext, data []byte) ([]byte, error) {
	if imapIsSTARTTLS(data) {
		tag := imapTag(data)
		ready := []byte(tag + " OK Begin TLS negotation now\r\n")
		success := []byte(tag + " OK")
		if err := untrustedIntercept(ctx, ready, data, success); err != nil {
			return nil, err
		}
		return nil, nil
	}
	imapVulnerableOnLogin(ctx, data)
	return data, nil
}

func (imapUntrustedIntercept) MangleServerData(ctx *MangleContext, data []byte) ([]byte, error) {
	return data, nil
}
