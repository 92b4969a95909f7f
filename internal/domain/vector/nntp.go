package vector

import (
	"bytes"
	"strings"

	"github.com/striptls-gate/striptls-gate/internal/domain/detect"
	"github.com/striptls-gate/striptls-gate/internal/domain/protoerr"
)

func nntpVulnerableOnGroup(ctx *MangleContext, data []byte) {
	if bytes.Contains(data, []byte("GROUP ")) {
		ctx.MarkVulnerable()
	}
}

// nntpStripFromCapabilities removes STARTTLS lines from a CAPABILITIES
// response and raises a violation if the client attempts it anyway.
type nntpStripFromCapabilities struct{}

func (nntpStripFromCapabilities) Protocol() detect.Protocol { return detect.NNTP }
func (nntpStripFromCapabilities) Name() string              { return "StripFromCapabilities" }

func (nntpStripFromCapabilities) MangleClientData(ctx *MangleContext, data []byte) ([]byte, error) {
	if bytes.Contains(data, []byte("STARTTLS")) {
		return nil, protoerr.Violation("whoop!? client sent STARTTLS even though we did not announce it.. proto violation: %q", data)
	}
	nntpVulnerableOnGroup(ctx, data)
	return data, nil
}

func (nntpStripFromCapabilities) MangleServerData(ctx *MangleContext, data []byte) ([]byte, error) {
	sent := strings.ToLower(strings.TrimSpace(string(ctx.Outbound.LastSent())))
	if sent != "capabilities" || !bytes.Contains(data, []byte("STARTTLS")) {
		return data, nil
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if !strings.Contains(line, "STARTTLS") {
			kept = append(kept, line)
		}
	}
	return []byte(strings.Join(kept, "\n") + "\r\n"), nil
}

// nntpStripWithError answers client STARTTLS with a command-unavailable
// error.
type nntpStripWithError struct{}

func (nntpStripWithError) Protocol() detect.Protocol { return detect.NNTP }
func (nntpStripWithError) Name() string              { return "StripWithError" }

func (nntpStripWithError) MangleClientData(ctx *MangleContext, data []byte) ([]byte, error) {
	if bytes.Contains(data, []byte("STARTTLS")) {
		if err := ctx.Inbound.Send([]byte("502 Command unavailable\r\n")); err != nil {
			return nil, err
		}
		return nil, nil
	}
	nntpVulnerableOnGroup(ctx, data)
	return data, nil
}

func (nntpStripWithError) MangleServerData(ctx *MangleContext, data []byte) ([]byte, error) {
	return data, nil
}

// nntpUntrustedIntercept terminates TLS toward the client and opens a
// second TLS leg toward the server.
type nntpUntrustedIntercept struct{}

func (nntpUntrustedIntercept) Protocol() detect.Protocol { return detect.NNTP }
func (nntpUntrustedIntercept) Name() string              { return "UntrustedIntercept" }

func (nntpUntrustedIntercept) MangleClientData(ctx *MangleContext, data []byte) ([]byte, error) {
	if bytes.Contains(data, []byte("STARTTLS")) {
		if err := untrustedInterceptPrefix(ctx, []byte("382 Continue with TLS negotiation\r\n"), data, []byte("382")); err != nil {
			return nil, err
		}
		return nil, nil
	}
	nntpVulnerableOnGroup(ctx, data)
	return data, nil
}

func (nntpUntrustedIntercept) MangleServerData(ctx *MangleContext, data []byte) ([]byte, error) {
	return data, nil
}
