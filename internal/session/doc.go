// Package session holds the authoritative in-memory registry of onboarding
// sessions.
//
// # Overview
//
// A session is keyed by a caller-chosen ID and filled in progressively as the
// client moves through the flow:
//
//	started -> email added -> ready for scoring -> image uploaded -> scored
//
// The status is advisory. The registry accepts any update in any order and a
// scored session can still be changed.
//
// # Registry
//
//	reg := session.NewRegistry()
//	reg.Create("abc", session.Fields{Username: &name})
//	reg.Update("abc", session.Fields{Email: &email, Status: &status})
//
// Key properties:
//
//   - Create on an existing ID replaces the record (last write wins)
//   - Update on a missing ID does nothing and reports found=false
//   - Merges are shallow: a new Image replaces the old one entirely
//   - List returns copies in first-created order
//
// The registry does no I/O. Nothing is persisted across restarts.
package session
