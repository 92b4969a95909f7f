package vector

import (
	"bytes"
	"strings"

	"github.com/striptls-gate/striptls-gate/internal/domain/detect"
	"github.com/striptls-gate/striptls-gate/internal/domain/protoerr"
)

func ftpVulnerableOnUser(ctx *MangleContext, data []byte) {
	if bytes.Contains(data, []byte("USER ")) {
		ctx.MarkVulnerable()
	}
}

// ftpStripFromCapabilities removes "AUTH TLS" lines from a FEAT response
// and raises a violation if the client attempts AUTH TLS anyway.
type ftpStripFromCapabilities struct{}

func (ftpStripFromCapabilities) Protocol() detect.Protocol { return detect.FTP }
func (ftpStripFromCapabilities) Name() string              { return "StripFromCapabilities" }

func (ftpStripFromCapabilities) MangleClientData(ctx *MangleContext, data []byte) ([]byte, error) {
	if bytes.Contains(data, []byte("AUTH TLS")) {
		return nil, protoerr.Violation("whoop!? client sent STARTTLS even though we did not announce it.. proto violation: %q", data)
	}
	ftpVulnerableOnUser(ctx, data)
	return data, nil
}

func (ftpStripFromCapabilities) MangleServerData(ctx *MangleContext, data []byte) ([]byte, error) {
	sent := strings.ToLower(strings.TrimSpace(string(ctx.Outbound.LastSent())))
	if sent != "feat" || !bytes.Contains(data, []byte("AUTH TLS")) {
		return data, nil
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if !strings.Contains(line, "AUTH TLS") {
			kept = append(kept, line)
		}
	}
	return []byte(strings.Join(kept, "\n") + "\r\n"), nil
}

// ftpStripWithError answers client AUTH TLS with an unrecognized-command
// error.
type ftpStripWithError struct{}

func (ftpStripWithError) Protocol() detect.Protocol { return detect.FTP }
func (ftpStripWithError) Name() string              { return "StripWithError" }

func (ftpStripWithError) MangleClientData(ctx *MangleContext, data []byte) ([]byte, error) {
	if bytes.Contains(data, []byte("AUTH TLS")) {
		if err := ctx.Inbound.Send([]byte("500 AUTH TLS not understood\r\n")); err != nil {
			return nil, err
		}
		return nil, nil
	}
	ftpVulnerableOnUser(ctx, data)
	return data, nil
}

func (ftpStripWithError) MangleServerData(ctx *MangleContext, data []byte) ([]byte, error) {
	return data, nil
}

// ftpUntrustedIntercept terminates TLS toward the client and opens a
// second TLS leg toward the server.
type ftpUntrustedIntercept struct{}

func (ftpUntrustedIntercept) Protocol() detect.Protocol { return detect.FTP }
func (ftpUntrustedIntercept) Name() string              { return "UntrustedIntercept" }

func (ftpUntrustedIntercept) MangleClientData(ctx *MangleContext, data []byte) ([]byte, error) {
	if bytes.Contains(data, []byte("AUTH TLS")) {
		if err := untrustedInterceptPrefix(ctx, []byte("234 OK Begin TLS negotation now\r\n"), data, []byte("234")); err != nil {
			return nil, err
		}
		return nil, nil
	}
	ftpVulnerableOnUser(ctx, data)
	return data, nil
}

func (ftpUntrustedIntercept) MangleServerData(ctx *MangleContext, data []byte) ([]byte, error) {
	return data, nil
}
