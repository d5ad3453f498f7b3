// Package logging provides structured logging for the cowdb storage engine.
//
// # Overview
//
// The logging package wraps a zap sugared logger behind a small interface so
// storage components never depend on zap directly:
//
//   - Multiple log levels (debug, info, warn, error)
//   - Text (console) and JSON output formats
//   - Field-based contextual logging
//
// # Creating a Logger
//
// Create a logger with configuration:
//
//	logger := logging.New(logging.Config{
//	    Level:  "info",
//	    Format: "json",
//	    Output: "/var/log/cowdb/cowdb.log",
//	})
//
// Or use defaults:
//
//	logger := logging.NewDefault() // Info level, text format, stderr
//
// For testing, use a no-op logger:
//
//	logger := logging.NewNop()
//
// # Contextual Fields
//
// Components tag their logger once and pass it down:
//
//	log := logger.WithFields("component", "gc")
//	log.Info("cleaned file", "file", addr, "reclaimed", humanize.Bytes(n))
package logging
