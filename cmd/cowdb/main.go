// Package main provides the cowdb command line tool for inspecting and
// maintaining environments.
package main

import (
	"fmt"
	"os"
)

func main() {
	exitCode := run(os.Args)
	os.Exit(exitCode)
}

// run executes the CLI and returns an exit code.
func run(args []string) int {
	if len(args) < 2 {
		printUsage(os.Stdout)
		return 1
	}

	switch args[1] {
	case "stat":
		return statCmd(args[2:])
	case "dump":
		return dumpCmd(args[2:])
	case "gc":
		return gcCmd(args[2:])
	case "verify":
		return verifyCmd(args[2:])
	case "config":
		return configCmd(args[2:])
	case "report":
		return reportCmd(args[2:])
	case "version":
		return versionCmd(args[2:])
	case "help", "-h", "--help":
		printUsage(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[1])
		fmt.Fprintln(os.Stderr, "Run 'cowdb help' for usage.")
		return 1
	}
}
