// Package detect identifies the application protocol of a new proxy
// session, first by destination port, then by keyword inspection of early
// traffic.
package detect

import "bytes"

// Protocol identifies one of the cleartext application protocols this
// proxy audits.
type Protocol int

// The protocol set, matching the well-known ports in PortMap.
const (
	Unknown Protocol = iota
	SMTP
	POP3
	IMAP
	FTP
	NNTP
	XMPP
	ACAP
	IRC
)

// String renders the protocol's conventional name.
func (p Protocol) String() string {
	switch p {
	case SMTP:
		return "SMTP"
	case POP3:
		return "POP3"
	case IMAP:
		return "IMAP"
	case FTP:
		return "FTP"
	case NNTP:
		return "NNTP"
	case XMPP:
		return "XMPP"
	case ACAP:
		return "ACAP"
	case IRC:
		return "IRC"
	default:
		return "UNKNOWN"
	}
}

// PortMap fixes a protocol at construction when the destination port is
// well-known. Detection short-circuits in that case.
var PortMap = map[int]Protocol{
	25:   SMTP,
	110:  POP3,
	143:  IMAP,
	21:   FTP,
	119:  NNTP,
	5222: XMPP,
	675:  ACAP,
	6667: IRC,
}

type keywordSet struct {
	keywords []string
	protocol Protocol
}

// keywordSets is tried in order; the first set with a matching keyword
// wins. This is the fallback used when the destination port isn't in
// PortMap.
var keywordSets = []keywordSet{
	{keywords: []string{"ehlo", "helo", "starttls", "rcpt to:", "mail from:"}, protocol: SMTP},
	{keywords: []string{"xmpp"}, protocol: XMPP},
	{keywords: []string{". capability"}, protocol: IMAP},
	{keywords: []string{"auth tls"}, protocol: FTP},
}

// Detector holds the detection state for one session.
type Detector struct {
	protocol Protocol
	// history records every chunk inspected on the keyword path. It is
	// never populated when the port short-circuits detection, and no
	// vector reads it today — kept for parity with the source this is
	// grounded on and for future diagnostics.
	history [][]byte
}

// New seeds a Detector with the session's destination port. If the port is
// well-known, the protocol is fixed immediately and Detect becomes a no-op.
func New(targetPort int) *Detector {
	return &Detector{protocol: PortMap[targetPort]}
}

// Protocol returns the currently detected protocol (Unknown if undetected).
func (d *Detector) Protocol() Protocol {
	return d.protocol
}

// History returns the chunks inspected so far on the keyword-detection
// path. Empty when the protocol was fixed by port.
func (d *Detector) History() [][]byte {
	return d.history
}

// Detect inspects data for protocol keywords and returns the detected
// protocol. Detection is monotonic: once a protocol is set (by port or by
// a previous call), it never changes, and this call is a pure accessor.
func (d *Detector) Detect(data []byte) Protocol {
	if d.protocol != Unknown {
		return d.protocol
	}
	d.history = append(d.history, data)

	lower := bytes.ToLower(data)
	for _, ks := range keywordSets {
		for _, kw := range ks.keywords {
			if bytes.Contains(lower, []byte(kw)) {
				d.protocol = ks.protocol
				return d.protocol
			}
		}
	}
	return Unknown
}
