// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"context"
	"sync"

	"github.com/striptls-gate/striptls-gate/internal/domain/audit"
)

// MemoryAuditStore implements audit.Store as an append-only history of
// Records per client IP: one entry per session, keyed by SessionID, so a
// client that gets re-assigned a vector it already hit in an earlier
// session produces a second entry rather than overwriting the first.
type MemoryAuditStore struct {
	mu      sync.RWMutex
	byKey   map[string]audit.Record // SessionID -> current record
	clients map[string][]string     // ClientIP -> SessionIDs, in session-start order
}

// NewAuditStore creates an empty in-memory audit store.
func NewAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{
		byKey:   make(map[string]audit.Record),
		clients: make(map[string][]string),
	}
}

// Record upserts rec, keyed by rec.SessionID. A SessionID seen for the
// first time appends a new entry to rec.ClientIP's history; a repeat
// SessionID (the same session moving from Pending to a final result)
// replaces that entry in place without touching its position in the
// client's history.
func (s *MemoryAuditStore) Record(ctx context.Context, rec audit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byKey[rec.SessionID]; !exists {
		s.clients[rec.ClientIP] = append(s.clients[rec.ClientIP], rec.SessionID)
	}
	s.byKey[rec.SessionID] = rec
	return nil
}

// ByClient returns every stored Record grouped by ClientIP, in the order
// each session first recorded a result.
func (s *MemoryAuditStore) ByClient(ctx context.Context) (map[string][]audit.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string][]audit.Record, len(s.clients))
	for clientIP, sessionIDs := range s.clients {
		recs := make([]audit.Record, 0, len(sessionIDs))
		for _, id := range sessionIDs {
			recs = append(recs, s.byKey[id])
		}
		out[clientIP] = recs
	}
	return out, nil
}

// Close is a no-op: the store holds no external resources.
func (s *MemoryAuditStore) Close() error { return nil }

// Compile-time interface verification.
var _ audit.Store = (*MemoryAuditStore)(nil)
