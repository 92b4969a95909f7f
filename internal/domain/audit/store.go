package audit

import "context"

// Store persists audit Records and reports them back grouped by client.
// Interface owned by domain per hexagonal architecture; the in-memory
// implementation lives in the outbound memory adapter.
type Store interface {
	// Record upserts the result of one vector run against one session,
	// keyed by rec.SessionID: a later call for the same SessionID (e.g.
	// Pending followed by Vulnerable as the session progresses) replaces
	// the earlier one in place. A different SessionID is always a new,
	// appended entry, even if it repeats an earlier session's ClientIP,
	// Protocol, and VectorName — the store holds one record per session,
	// not one per vector per client.
	Record(ctx context.Context, rec Record) error

	// ByClient returns every Record seen so far, grouped by ClientIP.
	ByClient(ctx context.Context) (map[string][]Record, error)

	// Close releases resources held by the store.
	Close() error
}
