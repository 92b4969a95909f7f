package vector

import (
	"fmt"
	"strings"

	"github.com/striptls-gate/striptls-gate/internal/domain/detect"
	"github.com/striptls-gate/striptls-gate/internal/domain/protoerr"
)

// IRCCapsForwardsNullOnMatch resolves an open question about
// StripFromCapabilities' server-data mangler: whenever a matched CAP/TLS
// line is mangled, should the rewritten line be forwarded, or suppressed?
// The source this vector is grounded on returns bare (no value) on this
// path, which the caller treats as "suppress" rather than "forward the
// rewritten data" — behavior elsewhere in the same source always forwards
// the return value. That asymmetry looks unintentional, so it is exposed
// here as a package-level toggle instead of silently picking one reading.
// Default true reproduces the source's literal behavior.
var IRCCapsForwardsNullOnMatch = true

func ircVulnerableOnSentinel(ctx *MangleContext, data []byte) bool {
	if containsAnyFold(data, "authenticate ", "privmsg ", "protoctl ") {
		ctx.MarkVulnerable()
		return true
	}
	return false
}

// ircSrvNickname recovers the server name and nickname fields the source
// opportunistically scrapes from the last line the upstream server sent, so
// injected numeric replies look at least superficially plausible. Falls
// back to placeholder values when there's nothing to scrape from.
func ircSrvNickname(ctx *MangleContext) (srv, nick string) {
	srv, nick = "this.server.com", "*"
	prev := strings.TrimSpace(string(ctx.Outbound.LastRecv()))
	if prev == "" {
		return srv, nick
	}
	fields := strings.Split(prev, " ")
	if len(fields) > 0 {
		srv = fields[0]
	}
	if len(fields) > 2 {
		nick = fields[2]
	}
	return srv, nick
}

func ircIsCapLine(line string) bool {
	lower := strings.ToLower(line)
	return strings.Contains(lower, " cap ") && strings.Contains(lower, " tls")
}

// ircStripFromCapabilities rewrites CAP ACK/LS lines to hide TLS support.
type ircStripFromCapabilities struct{}

func (ircStripFromCapabilities) Protocol() detect.Protocol { return detect.IRC }
func (ircStripFromCapabilities) Name() string              { return "StripFromCapabilities" }

func (ircStripFromCapabilities) MangleClientData(ctx *MangleContext, data []byte) ([]byte, error) {
	if strings.Contains(string(data), "STARTTLS") {
		return nil, protoerr.Violation("whoop!? client sent STARTTLS even though we did not announce it.. proto violation: %q", data)
	}
	ircVulnerableOnSentinel(ctx, data)
	return data, nil
}

func (ircStripFromCapabilities) MangleServerData(ctx *MangleContext, data []byte) ([]byte, error) {
	s := string(data)
	lower := strings.ToLower(s)
	if !strings.Contains(lower, " cap ") || !strings.Contains(lower, " tls") {
		ircVulnerableOnSentinel(ctx, data)
		return data, nil
	}

	isAck := strings.Contains(lower, " ack ")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if !ircIsCapLine(line) {
			continue
		}
		if isAck {
			line = strings.ReplaceAll(line, "ACK", "NAK")
			line = strings.ReplaceAll(line, "ack", "nak")
		} else {
			tokens := strings.Split(line, " ")
			kept := make([]string, 0, len(tokens))
			for _, t := range tokens {
				if !strings.Contains(strings.ToLower(t), "tls") {
					kept = append(kept, t)
				}
			}
			line = strings.Join(kept, " ")
		}
		lines[i] = line
	}
	mangled := []byte(strings.Join(lines, "\n"))

	if IRCCapsForwardsNullOnMatch {
		return nil, nil
	}
	return mangled, nil
}

// ircStripWithError answers client STARTTLS with a raw numeric error reply.
type ircStripWithError struct{}

func (ircStripWithError) Protocol() detect.Protocol { return detect.IRC }
func (ircStripWithError) Name() string              { return "StripWithError" }

func (ircStripWithError) MangleClientData(ctx *MangleContext, data []byte) ([]byte, error) {
	if strings.Contains(string(data), "STARTTLS") {
		srv, nick := ircSrvNickname(ctx)
		if err := ctx.Inbound.Send([]byte(fmt.Sprintf("%s 691 %s :STARTTLS\r\n", srv, nick))); err != nil {
			return nil, err
		}
		return nil, nil
	}
	ircVulnerableOnSentinel(ctx, data)
	return data, nil
}

func (ircStripWithError) MangleServerData(ctx *MangleContext, data []byte) ([]byte, error) {
	ircVulnerableOnSentinel(ctx, data)
	return data, nil
}

// ircStripWithNotRegistered answers client STARTTLS as if it were sent
// before registration completed.
type ircStripWithNotRegistered struct{}

func (ircStripWithNotRegistered) Protocol() detect.Protocol { return detect.IRC }
func (ircStripWithNotRegistered) Name() string              { return "StripWithNotRegistered" }

func (ircStripWithNotRegistered) MangleClientData(ctx *MangleContext, data []byte) ([]byte, error) {
	if strings.Contains(string(data), "STARTTLS") {
		srv, nick := ircSrvNickname(ctx)
		msg := fmt.Sprintf("%s 451 %s :You have not registered\r\n", srv, nick)
		if err := ctx.Inbound.Send([]byte(msg)); err != nil {
			return nil, err
		}
		return nil, nil
	}
	ircVulnerableOnSentinel(ctx, data)
	return data, nil
}

func (ircStripWithNotRegistered) MangleServerData(ctx *MangleContext, data []byte) ([]byte, error) {
	ircVulnerableOnSentinel(ctx, data)
	return data, nil
}

// ircStripCAPWithNotRegistered answers client CAP LS the same way.
type ircStripCAPWithNotRegistered struct{}

func (ircStripCAPWithNotRegistered) Protocol() detect.Protocol { return detect.IRC }
func (ircStripCAPWithNotRegistered) Name() string              { return "StripCAPWithNotRegistered" }

func (ircStripCAPWithNotRegistered) MangleClientData(ctx *MangleContext, data []byte) ([]byte, error) {
	if strings.Contains(string(data), "CAP LS") {
		srv, nick := ircSrvNickname(ctx)
		msg := fmt.Sprintf("%s 451 %s :You have not registered\r\n", srv, nick)
		if err := ctx.Inbound.Send([]byte(msg)); err != nil {
			return nil, err
		}
		return nil, nil
	}
	ircVulnerableOnSentinel(ctx, data)
	return data, nil
}

func (ircStripCAPWithNotRegistered) MangleServerData(ctx *MangleContext, data []byte) ([]byte, error) {
	ircVulnerableOnSentinel(ctx, data)
	return data, nil
}

// ircStripWithSilentDrop drops the client's STARTTLS with no reply at all.
type ircStripWithSilentDrop struct{}

func (ircStripWithSilentDrop) Protocol() detect.Protocol { return detect.IRC }
func (ircStripWithSilentDrop) Name() string              { return "StripWithSilentDrop" }

func (ircStripWithSilentDrop) MangleClientData(ctx *MangleContext, data []byte) ([]byte, error) {
	if strings.Contains(string(data), "STARTTLS") {
		return nil, nil
	}
	ircVulnerableOnSentinel(ctx, data)
	return data, nil
}

func (ircStripWithSilentDrop) MangleServerData(ctx *MangleContext, data []byte) ([]byte, error) {
	ircVulnerableOnSentinel(ctx, data)
	return data, nil
}

// ircUntrustedIntercept terminates TLS toward the client, preserving the
// scraped server/nick fields in its synthetic reply, and opens a second TLS
// leg toward the server.
type ircUntrustedIntercept struct{}

func (ircUntrustedIntercept) Protocol() detect.Protocol { return detect.IRC }
func (ircUntrustedIntercept) Name() string              { return "UntrustedIntercept" }

func (ircUntrustedIntercept) MangleClientData(ctx *MangleContext, data []byte) ([]byte, error) {
	if strings.Contains(string(data), "STARTTLS") {
		srv, nick := ircSrvNickname(ctx)
		ready := []byte(fmt.Sprintf(":%s 670 %s :STARTTLS successful, go ahead with TLS handshake\r\n", srv, nick))
		if err := untrustedIntercept(ctx, ready, data, []byte(" 670 ")); err != nil {
			return nil, err
		}
		return nil, nil
	}
	ircVulnerableOnSentinel(ctx, data)
	return data, nil
}

func (ircUntrustedIntercept) MangleServerData(ctx *MangleContext, data []byte) ([]byte, error) {
	if strings.Contains(strings.ToLower(string(data)), " ident ") {
		// Ident lines are forwarded unchanged, without a sentinel check.
		return data, nil
	}
	ircVulnerableOnSentinel(ctx, data)
	return data, nil
}
