// ABOUTME: Package documentation for configuration loading
// ABOUTME: Describes file formats, env overrides, and validation rules

// Package config provides configuration loading and validation for agentworld.
//
// # Overview
//
// Configuration starts from [Default] and is overlaid by a YAML or TOML file,
// then by AGENTWORLD_* environment variables. A missing file is not an error
// when loading through [LoadOrDefault].
//
// # Configuration File
//
// Files ending in .toml are decoded as TOML. Anything else is YAML:
//
//	server:
//	  http_addr: "127.0.0.1:8080"
//	  shutdown_timeout: "10s"
//
//	database:
//	  driver: "sqlite"
//	  path: "./agentworld.db"
//
//	events:
//	  persist: true
//	  history_limit: 1000
//
//	broker:
//	  provider: "local"      # or "kafka"
//	  brokers: ["localhost:9092"]
//	  topic_prefix: "agentworld"
//	  dedupe_ttl: "5m"
//
//	auth:
//	  jwt_secret: "${AGENTWORLD_SECRET}"
//
// # Environment Variable Expansion
//
// ${VAR_NAME} anywhere in the file is replaced with the variable's value, or
// the empty string when unset.
//
// # Environment Overrides
//
// After the file is parsed these variables take precedence:
//
//   - AGENTWORLD_DB_PATH, AGENTWORLD_DB_DRIVER
//   - AGENTWORLD_DISABLE_PERSISTENCE
//   - AGENTWORLD_HTTP_ADDR
//   - AGENTWORLD_KAFKA_BROKERS (comma separated; selects the kafka provider)
//   - AGENTWORLD_JWT_SECRET
//   - AGENTWORLD_LOG_LEVEL
//
// # Duration Parsing
//
// shutdown_timeout and dedupe_ttl accept Go duration strings such as "30s"
// or "5m".
//
// # Validation
//
// [Config.Validate] returns the first problem it finds. An empty jwt_secret is
// valid and disables authentication on the HTTP API.
package config
