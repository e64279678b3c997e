// Package config handles configuration loading for intake-gateway.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// Every field has a default, so an empty file is a valid configuration.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from INTAKE_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/intake/gateway.yaml
//  3. ~/.config/intake/gateway.yaml
//
// When no file exists the server runs on defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	ledger:
//	  path: "${INTAKE_LEDGER_PATH}"
//
// Syntax: ${VAR_NAME}
//
// The PORT variable, when set, replaces the port of server.http_addr.
//
// # Configuration Sections
//
// Server:
//
//	server:
//	  http_addr: "0.0.0.0:3000"   # HTTP actions, WebSocket and health
//
// WebSocket:
//
//	websocket:
//	  path: "/ws"
//	  write_timeout: "10s"
//	  ping_interval: "30s"
//	  pong_timeout: "60s"       # must exceed ping_interval
//	  read_limit_bytes: 65536
//	  send_buffer: 32           # queued frames per connection
//
// Uploads:
//
//	uploads:
//	  max_image_bytes: 10485760
//
// CORS:
//
//	cors:
//	  allowed_origins: ["*"]
//
// Ledger (optional audit journal, disabled when path is empty):
//
//	ledger:
//	  path: "/var/lib/intake/ledger.db"
//	  buffer_size: 256
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
