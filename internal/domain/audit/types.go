// Package audit holds the result record for one (client, vector) audit and
// the store interface that accumulates them, grouped for reporting by the
// client IP that was tested.
package audit

import (
	"time"

	"github.com/striptls-gate/striptls-gate/internal/domain/detect"
)

// Result is the tri-state outcome of testing one vector against one
// session. The zero value is Pending: a vector that never gets to run its
// full check (the session closes, the client never sends the probed
// command) leaves its record at Pending rather than being recorded as safe.
// NotVulnerable exists for an explicit negative result, but no vector sets
// it (MangleContext only exposes MarkVulnerable), matching the source this
// is grounded on, which never marks a negative result either — absence of a
// Vulnerable record is read as not-vulnerable by report consumers, not
// asserted by the proxy itself.
type Result int

const (
	Pending Result = iota
	Vulnerable
	NotVulnerable
)

func (r Result) String() string {
	switch r {
	case Vulnerable:
		return "vulnerable"
	case NotVulnerable:
		return "not-vulnerable"
	default:
		return "pending"
	}
}

// Record is one audit outcome: a single vector run against a single client
// IP, for a single protocol, with the time the result was last updated.
// SessionID identifies which session produced it — a client that
// reconnects enough times to wrap the round-robin and get re-assigned a
// vector it already hit produces a second Record with the same
// (ClientIP, Protocol, VectorName) but a different SessionID, and a store
// must keep both rather than collapsing them into one.
type Record struct {
	SessionID  string
	ClientIP   string
	Protocol   detect.Protocol
	VectorName string
	Result     Result
	UpdatedAt  time.Time
}
