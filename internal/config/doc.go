// Package config loads lugma.yaml, the project file read by the lugma CLI.
//
// # Configuration File Structure
//
//	name: chat
//	version: 0.1.0
//	server:
//	  address: ":8080"
//	  shutdown_timeout: 30s
//	  allowed_origins: ["https://chat.example.com"]
//	stream:
//	  read_timeout: 60s
//	  write_timeout: 10s
//	  handshake_timeout: 10s
//	  heartbeat_interval: 30s
//	  max_message_size: 1048576
//	metrics:
//	  enabled: true
//	  path: /metrics
//	  namespace: chat
//	tracing:
//	  enabled: false
//	  tracer_name: chat
//	client:
//	  base_url: http://localhost:8080
//
// Unset fields take their defaults. LUGMA_ADDRESS and LUGMA_BASE_URL
// override server.address and client.base_url.
//
// # Usage
//
//	cfg, err := config.Load(".")
//	if err != nil {
//	    return err
//	}
//	srv := server.New(cfg.ServerConfig(), router)
package config
