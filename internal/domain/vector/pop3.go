package vector

import (
	"strings"

	"github.com/striptls-gate/striptls-gate/internal/domain/detect"
	"github.com/striptls-gate/striptls-gate/internal/domain/protoerr"
)

func pop3VulnerableOnSentinel(ctx *MangleContext, data []byte) {
	if containsAnyFold(data, "list", "user ", "pass ") {
		ctx.MarkVulnerable()
	}
}

func pop3IsSTLS(data []byte) bool {
	return strings.ToLower(strings.TrimSpace(string(data))) == "stls"
}

// pop3StripFromCapabilities hides STLS from the CAPA response and raises a
// violation if the client attempts it anyway.
type pop3StripFromCapabilities struct{}

func (pop3StripFromCapabilities) Protocol() detect.Protocol { return detect.POP3 }
func (pop3StripFromCapabilities) Name() string              { return "StripFromCapabilities" }

func (pop3StripFromCapabilities) MangleClientData(ctx *MangleContext, data []byte) ([]byte, error) {
	if strings.HasPrefix(strings.ToLower(string(data)), "stls") {
		return nil, protoerr.Violation("whoop!? client sent STLS even though we did not announce it.. proto violation: %q", data)
	}
	pop3VulnerableOnSentinel(ctx, data)
	return data, nil
}

func (pop3StripFromCapabilities) MangleServerData(ctx *MangleContext, data []byte) ([]byte, error) {
	if !strings.HasPrefix(strings.ToLower(string(data)), "+ok capability") {
		return data, nil
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\r\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if !containsFold([]byte(line), "stls") {
			kept = append(kept, line)
		}
	}
	return []byte(strings.Join(kept, "\r\n") + "\r\n"), nil
}

// pop3StripWithError answers client STLS with an unknown-command error.
type pop3StripWithError struct{}

func (pop3StripWithError) Protocol() detect.Protocol { return detect.POP3 }
func (pop3StripWithError) Name() string              { return "StripWithError" }

func (pop3StripWithError) MangleClientData(ctx *MangleContext, data []byte) ([]byte, error) {
	if pop3IsSTLS(data) {
		if err := ctx.Inbound.Send([]byte("-ERR unknown command\r\n")); err != nil {
			return nil, err
		}
		return nil, nil
	}
	pop3VulnerableOnSentinel(ctx, data)
	return data, nil
}

func (pop3StripWithError) MangleServerData(ctx *MangleContext, data []byte) ([]byte, error) {
	return data, nil
}

// pop3UntrustedIntercept terminates TLS toward the client and opens a
// second TLS leg toward the server.
type pop3UntrustedIntercept struct{}

func (pop3UntrustedIntercept) Protocol() detect.Protocol { return detect.POP3 }
func (pop3UntrustedIntercept) Name() string              { return "UntrustedIntercept" }

func (pop3UntrustedIntercept) MangleClientData(ctx *MangleContext, data []byte) ([]byte, error) {
	if pop3IsSTLS(data) {
		if err := untrustedIntercept(ctx, []byte("+OK Begin TLS negotiation\r\n"), data, []byte("+OK")); err != nil {
			return nil, err
		}
		return nil, nil
	}
	pop3VulnerableOnSentinel(ctx, data)
	return data, nil
}

func (pop3UntrustedIntercept) MangleServerData(ctx *MangleContext, data []byte) ([]byte, error) {
	return data, nil
}
