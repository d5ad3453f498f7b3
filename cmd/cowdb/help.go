package main

import (
	"fmt"
	"io"
)

// printUsage prints the main usage information to the given writer.
func printUsage(w io.Writer) {
	fmt.Fprint(w, `cowdb - transactional log-structured key-value storage

Usage:
  cowdb <command> [options]

Commands:
  stat        Show files, utilization and stores of an environment
  dump        List the records of the log
  gc          Clean log files
  verify      Check tree invariants and live records
  config      Configuration management
  report      Summarize benchmark output against targets
  version     Show version information

Use "cowdb <command> -h" for more information about a command.
`)
}

const envOptionsUsage = `  -config string
        Path to configuration file
  -dir string
        Environment directory (overrides config, default "./data")
  -log-level string
        Log level: debug, info, warn, error (overrides config)
`

func printStatUsage(w io.Writer) {
	fmt.Fprint(w, `Show files, utilization and stores of an environment

Usage:
  cowdb stat [options]

Options:
`+envOptionsUsage)
}

func printDumpUsage(w io.Writer) {
	fmt.Fprint(w, `List the records of the log

Usage:
  cowdb dump [options]

Options:
`+envOptionsUsage+`  -from int
        Address to start at
  -limit int
        Maximum number of records (0 = all)
`)
}

func printGCUsage(w io.Writer) {
	fmt.Fprint(w, `Clean log files

Copies the live records of sparsely used files to the end of the log and
deletes the files.

Usage:
  cowdb gc [options]

Options:
`+envOptionsUsage+`  -all
        Clean every sealed file regardless of utilization
  -min-utilization int
        Utilization threshold in percent (overrides config)
  -timeout duration
        Maximum duration of the run (default 1m0s)
`)
}

func printVerifyUsage(w io.Writer) {
	fmt.Fprint(w, `Check tree invariants and live records

Usage:
  cowdb verify [options]

Options:
`+envOptionsUsage+`  -digests
        Print the BLAKE3 digest of every log file
`)
}

func printConfigUsage(w io.Writer) {
	fmt.Fprint(w, `Configuration management

Usage:
  cowdb config <subcommand> [options]

Subcommands:
  validate    Validate a configuration file (-config required)
  init        Print the default configuration
  show        Print the effective configuration (-config, -format yaml|json)

Environment Variables:
  COWDB_DIR              Override the environment directory
  COWDB_LOG_FILE_SIZE    Override the log file size
  COWDB_LOGGING_LEVEL    Override the log level
`)
}

func printReportUsage(w io.Writer) {
	fmt.Fprint(w, `Summarize benchmark output against targets

Reads the output of "go test -bench . -benchmem" and prints a report.

Usage:
  cowdb report [options]

Options:
  -input string
        Benchmark output file (default stdin)
  -output string
        Report file (default stdout)
  -format string
        Report format: text, markdown, json (default "text")
  -strict
        Exit with status 2 when a target is missed
`)
}

func printVersionUsage(w io.Writer) {
	fmt.Fprint(w, `Show version information

Usage:
  cowdb version [options]

Options:
  -short
        Show only version number
`)
}
