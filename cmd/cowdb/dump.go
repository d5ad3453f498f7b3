package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/KilimcininKorOglu/cowdb/internal/storage/logstore"
	"github.com/KilimcininKorOglu/cowdb/internal/storage/tree"
)

// dumpCmd handles the dump command.
func dumpCmd(args []string) int {
	fs := flag.NewFlagSet("dump", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	flags := addEnvFlags(fs)
	from := fs.Int64("from", 0, "Address to start at")
	limit := fs.Int("limit", 0, "Maximum number of records (0 = all)")
	help := fs.Bool("h", false, "Show help message")
	helpLong := fs.Bool("help", false, "Show help message")

	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *help || *helpLong {
		printDumpUsage(os.Stdout)
		return 0
	}
	if *from < 0 {
		fmt.Fprintln(os.Stderr, "Error: -from must not be negative")
		return 1
	}

	e, _, _, err := flags.open(true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening environment: %v\n", err)
		return 1
	}
	defer e.Close()

	n := 0
	it := e.Log().ReadIterator(logstore.Address(*from))
	for it.Next() {
		if *limit > 0 && n == *limit {
			break
		}
		rec := it.Loggable()
		fmt.Printf("%016x  %-22s  sid=%-6d  len=%d\n", rec.Address, tree.TypeName(rec.Type), rec.StructureID, rec.Length)
		n++
	}
	if err := it.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading log: %v\n", err)
		return 1
	}
	fmt.Printf("%d records\n", n)
	return 0
}
