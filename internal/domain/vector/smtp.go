package vector

import (
	"bytes"
	"strings"

	"github.com/striptls-gate/striptls-gate/internal/domain/detect"
	"github.com/striptls-gate/striptls-gate/internal/domain/protoerr"
)

// smtpVulnerableOnMailFrom is shared by every SMTP vector: the sentinel
// proving the client kept talking in cleartext after a strip.
func smtpVulnerableOnMailFrom(ctx *MangleContext, data []byte) {
	if containsFold(data, "mail from") {
		ctx.MarkVulnerable()
	}
}

// smtpStripFromCapabilities hides STARTTLS from the EHLO/HELO response and
// raises a violation if the client attempts the upgrade anyway.
type smtpStripFromCapabilities struct{}

func (smtpStripFromCapabilities) Protocol() detect.Protocol { return detect.SMTP }
func (smtpStripFromCapabilities) Name() string              { return "StripFromCapabilities" }

func (smtpStripFromCapabilities) MangleClientData(ctx *MangleContext, data []byte) ([]byte, error) {
	if bytes.Contains(data, []byte("STARTTLS")) {
		return nil, protoerr.Violation("whoop!? client sent STARTTLS even though we did not announce it.. proto violation: %q", data)
	}
	smtpVulnerableOnMailFrom(ctx, data)
	return data, nil
}

func (smtpStripFromCapabilities) MangleServerData(ctx *MangleContext, data []byte) ([]byte, error) {
	sent := ctx.Outbound.LastSent()
	if !containsAnyFold(sent, "ehlo", "helo") || !bytes.Contains(data, []byte("250")) {
		return data, nil
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\r\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if !strings.Contains(strings.ToUpper(line), "STARTTLS") {
			kept = append(kept, line)
		}
	}
	if len(kept) == 0 {
		return nil, nil
	}
	last := len(kept) - 1
	if !strings.HasPrefix(kept[last], "250 ") {
		kept[last] = strings.ReplaceAll(kept[last], "250-", "250 ")
	}
	return []byte(strings.Join(kept, "\r\n") + "\r\n"), nil
}

// smtpProtocolDowngradeToV2 replaces an IMAP4 greeting with a fabricated
// IMAP2 one, suppressing the original entirely. Present under SMTP in the
// source this is grounded on; kept as-is.
type smtpProtocolDowngradeToV2 struct{}

func (smtpProtocolDowngradeToV2) Protocol() detect.Protocol { return detect.SMTP }
func (smtpProtocolDowngradeToV2) Name() string              { return "ProtocolDowngradeToV2" }

func (smtpProtocolDowngradeToV2) MangleClientData(ctx *MangleContext, data []byte) ([]byte, error) {
	if bytes.Contains(data, []byte("STARTTLS")) {
		return nil, protoerr.Violation("whoop!? client sent STARTTLS even though we did not announce it.. proto violation: %q", data)
	}
	smtpVulnerableOnMailFrom(ctx, data)
	return data, nil
}

func (smtpProtocolDowngradeToV2) MangleServerData(ctx *MangleContext, data []byte) ([]byte, error) {
	if containsAnyFold(data, "IMAP4") && containsAnyFold(data, "* OK ") {
		if err := ctx.Inbound.Send([]byte("OK IMAP2 Server Ready\r\n")); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return data, nil
}

// smtpStripWithInvalidResponseCode advertises STARTTLS that was never there,
// then answers the client's attempt with an out-of-spec response code.
type smtpStripWithInvalidResponseCode struct{}

func (smtpStripWithInvalidResponseCode) Protocol() detect.Protocol { return detect.SMTP }
func (smtpStripWithInvalidResponseCode) Name() string              { return "StripWithInvalidResponseCode" }

func (smtpStripWithInvalidResponseCode) MangleClientData(ctx *MangleContext, data []byte) ([]byte, error) {
	if bytes.Contains(data, []byte("STARTTLS")) {
		if err := ctx.Inbound.Send([]byte("200 STRIPTLS\r\n")); err != nil {
			return nil, err
		}
		return nil, nil
	}
	smtpVulnerableOnMailFrom(ctx, data)
	return data, nil
}

func (smtpStripWithInvalidResponseCode) MangleServerData(ctx *MangleContext, data []byte) ([]byte, error) {
	sent := ctx.Outbound.LastSent()
	if !containsAnyFold(sent, "ehlo", "helo") || !bytes.Contains(data, []byte("250")) {
		return data, nil
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\r\n")
	if len(lines) == 0 {
		return data, nil
	}
	last := len(lines) - 1
	lines = append(lines[:last], append([]string{"250-STARTTLS"}, lines[last:]...)...)
	return []byte(strings.Join(lines, "\r\n") + "\r\n"), nil
}

// smtpStripWithTemporaryError answers the client's STARTTLS with a
// transient-failure response code.
type smtpStripWithTemporaryError struct{}

func (smtpStripWithTemporaryError) Protocol() detect.Protocol { return detect.SMTP }
func (smtpStripWithTemporaryError) Name() string              { return "StripWithTemporaryError" }

func (smtpStripWithTemporaryError) MangleClientData(ctx *MangleContext, data []byte) ([]byte, error) {
	if bytes.Contains(data, []byte("STARTTLS")) {
		if err := ctx.Inbound.Send([]byte("454 TLS not available due to temporary reason\r\n")); err != nil {
			return nil, err
		}
		return nil, nil
	}
	smtpVulnerableOnMailFrom(ctx, data)
	return data, nil
}

func (smtpStripWithTemporaryError) MangleServerData(ctx *MangleContext, data []byte) ([]byte, error) {
	return data, nil
}

// smtpStripWithError answers the client's STARTTLS with a syntax error.
type smtpStripWithError struct{}

func (smtpStripWithError) Protocol() detect.Protocol { return detect.SMTP }
func (smtpStripWithError) Name() string              { return "StripWithError" }

func (smtpStripWithError) MangleClientData(ctx *MangleContext, data []byte) ([]byte, error) {
	if bytes.Contains(data, []byte("STARTTLS")) {
		if err := ctx.Inbound.Send([]byte("501 Syntax error\r\n")); err != nil {
			return nil, err
		}
		return nil, nil
	}
	smtpVulnerableOnMailFrom(ctx, data)
	return data, nil
}

func (smtpStripWithError) MangleServerData(ctx *MangleContext, data []byte) ([]byte, error) {
	return data, nil
}

// smtpUntrustedIntercept terminates TLS toward the client with the proxy's
// own certificate and opens a second, independent TLS leg toward the
// server.
type smtpUntrustedIntercept struct{}

func (smtpUntrustedIntercept) Protocol() detect.Protocol { return detect.SMTP }
func (smtpUntrustedIntercept) Name() string              { return "UntrustedIntercept" }

func (smtpUntrustedIntercept) MangleClientData(ctx *MangleContext, data []byte) ([]byte, error) {
	if bytes.Contains(data, []byte("STARTTLS")) {
		if err := untrustedIntercept(ctx, []byte("220 Go ahead\r\n"), data, []byte("220")); err != nil {
			return nil, err
		}
		return nil, nil
	}
	smtpVulnerableOnMailFrom(ctx, data)
	return data, nil
}

func (smtpUntrustedIntercept) MangleServerData(ctx *MangleContext, data []byte) ([]byte, error) {
	return data, nil
}

// smtpProtocolDowngradeStripExtendedMode rejects EHLO outright to force the
// client back to plain HELO mode, which never advertises STARTTLS.
type smtpProtocolDowngradeStripExtendedMode struct{}

func (smtpProtocolDowngradeStripExtendedMode) Protocol() detect.Protocol { return detect.SMTP }
func (smtpProtocolDowngradeStripExtendedMode) Name() string {
	return "ProtocolDowngradeStripExtendedMode"
}

func (smtpProtocolDowngradeStripExtendedMode) MangleClientData(ctx *MangleContext, data []byte) ([]byte, error) {
	if strings.HasPrefix(strings.ToLower(string(data)), "ehlo ") {
		if err := ctx.Inbound.Send([]byte("502 Error: command \"EHLO\" not implemented\r\n")); err != nil {
			return nil, err
		}
		return nil, nil
	}
	smtpVulnerableOnMailFrom(ctx, data)
	return data, nil
}

func (smtpProtocolDowngradeStripExtendedMode) MangleServerData(ctx *MangleContext, data []byte) ([]byte, error) {
	return data, nil
}

// smtpInjectCommand appends a bogus command to the client's STARTTLS before
// running the UntrustedIntercept sequence, to see whether the server's
// confusion over the injected command surfaces as a clean TLS EOF (handled
// as an orderly close) rather than a real protocol violation.
type smtpInjectCommand struct{}

func (smtpInjectCommand) Protocol() detect.Protocol { return detect.SMTP }
func (smtpInjectCommand) Name() string              { return "InjectCommand" }

func (smtpInjectCommand) MangleClientData(ctx *MangleContext, data []byte) ([]byte, error) {
	if bytes.Contains(data, []byte("STARTTLS")) {
		injected := append(append([]byte{}, data...), []byte("INJECTED_INVALID_COMMAND\r\n")...)
		if err := untrustedIntercept(ctx, []byte("220 Go ahead\r\n"), injected, []byte("220")); err != nil {
			if isHandshakeEOF(err) {
				ctx.CloseSession()
				return nil, nil
			}
			return nil, err
		}
		return nil, nil
	}
	smtpVulnerableOnMailFrom(ctx, data)
	return data, nil
}

func (smtpInjectCommand) MangleServerData(ctx *MangleContext, data []byte) ([]byte, error) {
	return data, nil
}
