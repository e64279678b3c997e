// Package protocol defines the JSON frames exchanged over the session
// WebSocket. Every frame is an object with a "type" discriminator; Decode
// turns inbound frames into one concrete variant per type and rejects
// everything else with ErrMalformed or ErrUnknownType.
package protocol
