package vector

import (
	"regexp"
	"strings"

	"github.com/striptls-gate/striptls-gate/internal/domain/detect"
	"github.com/striptls-gate/striptls-gate/internal/domain/protoerr"
)

// acapGroupRe extracts parenthesised capability groups, e.g.
// "(IMPLEMENTATION ...) (STARTTLS)" -> ["IMPLEMENTATION ...", "STARTTLS"].
var acapGroupRe = regexp.MustCompile(`\(([^)]+)\)`)

func acapVulnerableOnAuthenticate(ctx *MangleContext, data []byte) {
	if strings.Contains(string(data), " AUTHENTICATE ") {
		ctx.MarkVulnerable()
	}
}

func acapTag(data []byte) string {
	fields := strings.SplitN(string(data), " ", 2)
	return strings.TrimSpace(fields[0])
}

// acapStripFromCapabilities re-emits the capability advertisement with any
// group containing STARTTLS removed, and raises a violation if the client
// attempts the upgrade anyway.
type acapStripFromCapabilities struct{}

func (acapStripFromCapabilities) Protocol() detect.Protocol { return detect.ACAP }
func (acapStripFromCapabilities) Name() string              { return "StripFromCapabilities" }

func (acapStripFromCapabilities) MangleClientData(ctx *MangleContext, data []byte) ([]byte, error) {
	if strings.Contains(string(data), " STARTTLS") {
		return nil, protoerr.Violation("whoop!? client sent STARTTLS even though we did not announce it.. proto violation: %q", data)
	}
	acapVulnerableOnAuthenticate(ctx, data)
	return data, nil
}

func (acapStripFromCapabilities) MangleServerData(ctx *MangleContext, data []byte) ([]byte, error) {
	s := string(data)
	if !strings.Contains(s, "ACAP") || !strings.Contains(s, "STARTTLS") {
		return data, nil
	}
	groups := acapGroupRe.FindAllStringSubmatch(s, -1)
	kept := make([]string, 0, len(groups))
	for _, g := range groups {
		if !strings.Contains(g[1], "STARTTLS") {
			kept = append(kept, "("+g[1]+")")
		}
	}
	return []byte(strings.Join(kept, " ")), nil
}

// acapStripWithError answers a tagged STARTTLS command with a BAD response.
type acapStripWithError struct{}

func (acapStripWithError) Protocol() detect.Protocol { return detect.ACAP }
func (acapStripWithError) Name() string              { return "StripWithError" }

func (acapStripWithError) MangleClientData(ctx *MangleContext, data []byte) ([]byte, error) {
	if strings.Contains(string(data), " STARTTLS") {
		tag := acapTag(data)
		if err := ctx.Inbound.Send([]byte(tag + ` BAD "command unknown or arguments invalid"`)); err != nil {
			return nil, err
		}
		return nil, nil
	}
	acapVulnerableOnAuthenticate(ctx, data)
	return data, nil
}

func (acapStripWithError) MangleServerData(ctx *MangleContext, data []byte) ([]byte, error) {
	return data, nil
}

// acapUntrustedIntercept terminates TLS toward the client, preserving the
// client's own tag, and opens a second TLS leg toward the server.
type acapUntrustedIntercept struct{}

func (acapUntrustedIntercept) Protocol() detect.Protocol { return detect.ACAP }
func (acapUntrustedIntercept) Name() string              { return "UntrustedIntercept" }

func (acapUntrustedIntercept) MangleClientData(ctx *MangleContext, data []byte) ([]byte, error) {
	if strings.Contains(string(data), " STARTTLS") {
		tag := acapTag(data)
		ready := []byte(tag + ` OK "Begin TLS negotiation now"`)
		if err := untrustedIntercept(ctx, ready, data, []byte(" OK ")); err != nil {
			return nil, err
		}
		return nil, nil
	}
	acapVulnerableOnAuthenticate(ctx, data)
	return data, nil
}

func (acapUntrustedIntercept) MangleServerData(ctx *MangleContext, data []byte) ([]byte, error) {
	return data, nil
}
