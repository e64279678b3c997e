// Package socket serves the persistent WebSocket endpoint.
//
// Every accepted connection gets a uuid identity, a read loop that hands
// frames to the router, and a write pump that drains a bounded queue. The
// router only ever calls Notify, which enqueues or drops and never blocks.
//
// Keepalive pings go out every ping interval. A connection that produces no
// frame or pong within the pong timeout is closed and released from the
// router.
package socket
