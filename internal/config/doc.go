// Package config handles configuration loading for agentcomm.
//
// # Overview
//
// One file configures both the client (agentcomm) and the development
// gateway (agentcomm-devserver). Files are YAML, or TOML when the name ends
// in .toml. Every setting has a default, so no file is required.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from AGENTCOMM_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/agentcomm/config.yaml (or .yml, .toml)
//  3. ~/.config/agentcomm/config.yaml (or .yml, .toml)
//
// # Environment Variables
//
// Values can reference environment variables:
//
//	gateway:
//	  jwt_secret: "${AGENTCOMM_JWT_SECRET}"
//
// After the file is read, AGENTCOMM_<SECTION>_<FIELD> variables override it:
//
//	AGENTCOMM_SERVER_URL=http://10.0.0.5:8000
//	AGENTCOMM_AGENT_ID=planner
//	AGENTCOMM_STREAM_HEARTBEAT_TOKENS=heartbeat,:heartbeat,ping
//	AGENTCOMM_LOG_LEVEL=debug
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	stream:
//	  reconnect_interval: "3s"
//	  idle_timeout: "30s"       # negative disables
//	session:
//	  match_window: "2s"
//	  peer_poll_interval: "5s"
//
// # Configuration Sections
//
//	server:
//	  url: "http://localhost:8000"
//	agent:
//	  id: "planner"
//	  token_path: ""            # default ~/.config/agentcomm/token
//	session:
//	  history_limit: 50
//	gateway:
//	  addr: ":8000"
//	  database_path: "~/.local/share/agentcomm/messages.db"
//	  poll_interval: "1s"
//	  token_ttl: "60m"
//	logging:
//	  level: "info"             # debug, info, warn, error
//	  format: "text"            # text, json
package config
