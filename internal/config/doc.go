// Package config handles configuration loading for pnm-gateway and pnm-agent.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. --config flag
//  2. Path from PNM_GATEWAY_CONFIG (or PNM_AGENT_CONFIG)
//  3. $XDG_CONFIG_HOME/pnm/gateway.yaml (or agent.yaml)
//  4. ~/.config/pnm/gateway.yaml (or agent.yaml)
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  agent_token: "${PNM_AGENT_TOKEN}"
//
// Syntax: ${VAR_NAME}. Unset variables expand to the empty string.
//
// # Gateway Sections
//
//	server:
//	  http_addr: "0.0.0.0:5050"
//
//	auth:
//	  agent_token: "${PNM_AGENT_TOKEN}"   # shared secret presented by agents
//	  jwt_secret: "${PNM_JWT_SECRET}"     # optional, protects /api
//
//	agents:
//	  handshake_timeout: "30s"
//	  heartbeat_interval: "30s"
//	  liveness_window: "90s"
//	  default_task_timeout: "30s"
//
//	capture:
//	  tftp_dir: "/var/lib/tftpboot"       # empty: fetch files through an agent
//	  community: "private"
//	  buffer_capacity: 500
//	  initial_fill: 20
//	  low_watermark: 5
//	  min_retrigger_interval: "2s"
//	  refresh_interval: "500ms"
//	  max_duration: "10m"
//
//	database:
//	  path: "/var/lib/pnm/audit.db"
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Agent Sections
//
//	agent_id: "agent-01"
//	server:
//	  url: "wss://gateway.example/ws/agent"
//	  auth_token: "${PNM_AGENT_TOKEN}"
//	  reconnect_interval: "5s"
//	cmts_access:
//	  snmp_direct: true
//	  ssh_enabled: false
//	cm_proxy:
//	  host: "cm-proxy.example"
//	  username: "pnm"
//	  key_file: "~/.ssh/cm_proxy"
//	tftp_server:
//	  host: "tftp.example"
//	  tftp_path: "/tftpboot"
//	workers: 8
package config
