// Package router turns client actions and connection events into session
// registry mutations and outbound notifications.
//
// # Stimuli
//
// HTTP actions (one registry mutation each, then a full fan-out):
//
//   - Start(id, username, ip)   -> create, status "started"
//   - AddEmail(id, email)       -> update, status "email added"
//   - AddName(id, name)         -> update, status "ready for scoring"
//   - UploadImage(id, image)    -> update, status "image uploaded"
//
// Connection frames (see package protocol):
//
//   - register-admin: the connection becomes an observer and immediately
//     receives an all-sessions snapshot, sent to it alone
//   - register-user: the connection is bound to the session ID; no reply
//   - send-score: the session is scored, the bound client (if any) receives
//     {"type":"score"}, then every observer receives a fresh snapshot
//
// Closing a connection releases its bindings without a fan-out.
//
// # Fan-out
//
// The registry is listed and serialized once per mutation; the same bytes go
// to every observer. Connections that are not ready report Skipped and are
// not retried.
//
// # Concurrency
//
// A single mutex serializes stimuli, so observers see snapshots in mutation
// order. Conn.Notify only enqueues, so a slow socket never holds the lock.
package router
