// Package ledger keeps an optional append-only audit trail of session
// mutations in SQLite.
//
// # Store
//
//	s, err := ledger.Open("/var/lib/intake/ledger.db", logger)
//	entries, err := s.List(ctx, ledger.Filter{SessionID: &id})
//
// Table session_events holds one row per action: session ID, action, whether
// the session existed, the resulting status and a JSON detail blob. Image
// bytes are never stored, only their size and media type.
//
// # Journal
//
// The router must never wait on disk, so writes go through a Journal: Append
// queues the entry on a bounded channel and a single goroutine inserts rows
// in order. When the queue is full the entry is dropped. Close drains what
// is queued, then closes the store.
//
// The ledger is write-only from the gateway's point of view. Session state is
// not rebuilt from it after a restart.
package ledger
