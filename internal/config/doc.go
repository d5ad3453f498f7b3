// Package config provides configuration loading and validation for cowdb.
//
// # Overview
//
// The config package reads environment settings from YAML files. It supports:
//
//   - YAML configuration files (gopkg.in/yaml.v3)
//   - ${VAR} and ${VAR:-default} environment variable substitution
//   - Default values for all settings
//   - Configuration validation
//
// # Configuration Structure
//
//	type Config struct {
//	    Log          LogStoreConfig // Append-only log files
//	    Tree         TreeConfig     // Page sizes
//	    Transactions TxConfig       // Dispatcher and replay policy
//	    GC           GCConfig       // Garbage collector
//	    Logging      LogConfig      // Structured logging
//	}
//
// # Loading Configuration
//
//	cfg, err := config.LoadConfig("/etc/cowdb/cowdb.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Sizes accept humanized forms such as "64MiB" or "1 GB"; durations use Go
// duration syntax ("30s", "5m").
package config
