// Package config handles configuration loading for pipedeck.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	agents:
//	  builder_url: "${PIPEDECK_BUILDER_URL}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	agents:
//	  request_timeout: "45s"
//	state:
//	  save_interval: "30s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//
// Remote agents:
//
//	agents:
//	  builder_url: "http://localhost:9001"
//	  interactor_url: "http://localhost:9002"
//	  request_timeout: "60s"
//
// Snapshot persistence:
//
//	state:
//	  snapshot_path: "/var/lib/pipedeck/state.json"
//	  save_interval: "30s"
//
// Uploaded documents:
//
//	uploads:
//	  dir: "/var/lib/pipedeck/uploads"
//	  registry_path: "/var/lib/pipedeck/uploads.db"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// Metrics:
//
//	metrics:
//	  enabled: true
//	  path: "/metrics"
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load("/etc/pipedeck/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
