// Package gateway orchestrates the intake-gateway server components.
//
// # Overview
//
// The gateway owns the session registry, the connection directory, the event
// router and the optional ledger journal, and mounts every transport on one
// HTTP server:
//
//   - POST /api/start, /api/email, /api/name, /api/upload - client actions
//   - GET /api/sessions/{id} - current record
//   - GET <websocket.path> - persistent connection for clients and observers
//   - GET /health - Liveness check
//   - GET /health/ready - Session and connection counts
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	if err != nil {
//	    return err
//	}
//	return gw.Run(ctx) // blocks until ctx is cancelled
//
// Shutdown stops the HTTP server, closes every WebSocket (releasing its
// bindings) and drains the journal. Sessions live only in memory and are
// gone after a restart.
package gateway
