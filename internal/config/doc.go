// Package config handles configuration loading for hookrelay.
//
// # Overview
//
// Configuration is loaded from a YAML file (or TOML, when the file name ends
// in .toml) with environment variable expansion, then overridden from the
// environment, filled with defaults and validated.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from the -config flag
//  2. Path from HOOKRELAY_CONFIG environment variable
//  3. $XDG_CONFIG_HOME/hookrelay/relay.yaml (or ~/.config/hookrelay/relay.yaml)
//
// A missing default file is not an error: the relay can run from the
// environment alone.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  shared_secret: "${RELAY_SECRET}"
//
// # Environment Overrides
//
// PORT, METRICS_PORT and SHARED_SECRET are honoured as-is. Every other
// override uses the HOOKRELAY_ prefix (HOOKRELAY_HTTP_ADDR,
// HOOKRELAY_PRIVATE_ADDR, HOOKRELAY_SHARED_SECRET, HOOKRELAY_WS_PATH,
// HOOKRELAY_PROVISIONING_TIMEOUT, HOOKRELAY_LEDGER_PATH, HOOKRELAY_LOG_LEVEL,
// HOOKRELAY_LOG_FORMAT).
//
// # Configuration Sections
//
//	server:
//	  http_addr: ":18080"     # webhooks and consumer upgrades
//	  private_addr: ":9100"   # health and metrics, unauthenticated
//
//	auth:
//	  shared_secret: "${SHARED_SECRET}"
//
//	relay:
//	  ws_path: "/ws"
//	  provisioning_timeout: "30s"
//	  write_wait: "10s"
//	  pong_wait: "60s"
//	  ping_interval: "54s"
//	  late_reply_ttl: "5m"
//	  max_message_bytes: 1048576
//	  max_body_bytes: 1048576
//	  allowed_origins: []
//
//	ledger:
//	  path: "/var/lib/hookrelay/ledger.db"   # empty disables the ledger
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
//	metrics:
//	  path: "/metrics"
//
// # Validation
//
// Load() rejects a missing shared secret (ErrMissingSecret), identical public
// and private addresses, a ws_path without a leading slash, and a ping
// interval that is not shorter than the pong wait.
package config
