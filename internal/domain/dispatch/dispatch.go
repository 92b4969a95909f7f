// Package dispatch assigns an AttackVector to each session and records the
// audit outcome, rotating vectors round-robin across repeat visits from the
// same client IP so that a client probed more than once exercises a
// different attack each time.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/striptls-gate/striptls-gate/internal/domain/audit"
	"github.com/striptls-gate/striptls-gate/internal/domain/detect"
	"github.com/striptls-gate/striptls-gate/internal/domain/vector"
)

// Dispatcher holds the protocol → vector registry, the session → assigned
// vector binding, and the round-robin history needed to rotate vectors per
// client IP. The zero value is not usable; construct with New.
type Dispatcher struct {
	mu sync.Mutex

	vectors  map[detect.Protocol][]vector.Vector
	seen     map[string]struct{} // protocol.FullName, for Add dedup
	assigned map[string]vector.Vector
	records  map[string]audit.Record

	// lastIndex remembers the round-robin index last handed to a client IP
	// for a given protocol, keyed by an xxhash digest rather than the raw
	// string so the per-client history map doesn't retain client IP bytes
	// directly.
	lastIndex map[uint64]int

	store audit.Store
}

// New constructs an empty Dispatcher. store may be nil, in which case
// assignments and results are tracked only in memory for round-robin
// purposes and never reported.
func New(store audit.Store) *Dispatcher {
	return &Dispatcher{
		vectors:   make(map[detect.Protocol][]vector.Vector),
		seen:      make(map[string]struct{}),
		assigned:  make(map[string]vector.Vector),
		records:   make(map[string]audit.Record),
		lastIndex: make(map[uint64]int),
		store:     store,
	}
}

// Add registers v under protocol, appending to that protocol's ordered
// vector list. Registering the same vector (by FullName) twice is a no-op.
func (d *Dispatcher) Add(protocol detect.Protocol, v vector.Vector) {
	d.mu.Lock()
	defer d.mu.Unlock()

	name := vector.FullName(v)
	if _, ok := d.seen[name]; ok {
		return
	}
	d.seen[name] = struct{}{}
	d.vectors[protocol] = append(d.vectors[protocol], v)
}

// GetMangle returns the vector assigned to sessionID, assigning one if this
// is the first call for that session. Returns nil if protocol has no
// registered vectors. The returned vector is round-robin rotated relative
// to the last vector handed to clientIP for this protocol.
func (d *Dispatcher) GetMangle(ctx context.Context, sessionID, clientIP string, protocol detect.Protocol) vector.Vector {
	d.mu.Lock()
	defer d.mu.Unlock()

	if v, ok := d.assigned[sessionID]; ok {
		return v
	}

	list := d.vectors[protocol]
	if len(list) == 0 {
		return nil
	}

	key := historyKey(clientIP, protocol)
	idx := 0
	if last, ok := d.lastIndex[key]; ok {
		idx = (last + 1) % len(list)
	}
	d.lastIndex[key] = idx

	v := list[idx]
	d.assigned[sessionID] = v

	rec := audit.Record{
		SessionID:  sessionID,
		ClientIP:   clientIP,
		Protocol:   protocol,
		VectorName: v.Name(),
		Result:     audit.Pending,
		UpdatedAt:  time.Now(),
	}
	d.records[sessionID] = rec
	if d.store != nil {
		d.store.Record(ctx, rec)
	}
	return v
}

// SetResult updates sessionID's result record in place. Vectors call this
// (via MangleContext.MarkVulnerable) when they observe the sentinel
// cleartext command that proves the TLS strip succeeded.
func (d *Dispatcher) SetResult(ctx context.Context, sessionID string, result audit.Result) {
	d.mu.Lock()
	rec, ok := d.records[sessionID]
	if !ok {
		d.mu.Unlock()
		return
	}
	rec.Result = result
	rec.UpdatedAt = time.Now()
	d.records[sessionID] = rec
	d.mu.Unlock()

	if d.store != nil {
		d.store.Record(ctx, rec)
	}
}

func historyKey(clientIP string, protocol detect.Protocol) uint64 {
	h := xxhash.New()
	h.WriteString(clientIP)
	h.WriteString("|")
	h.WriteString(protocol.String())
	return h.Sum64()
}
