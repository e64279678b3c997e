// Package directory tracks live connections for the session router.
//
// Two independent bindings are kept:
//
//   - session ID -> the one connection representing that session (last bind wins)
//   - the set of observer connections that receive every snapshot
//
// A reverse index from connection to bound session IDs makes
// ReleaseConnection proportional to the bindings of the closing connection
// rather than to the whole table. Releasing a connection never touches
// session records.
package directory
