package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/KilimcininKorOglu/cowdb/internal/storage/gc"
	"github.com/KilimcininKorOglu/cowdb/internal/storage/logstore"
)

// gcCmd handles the gc command.
func gcCmd(args []string) int {
	fs := flag.NewFlagSet("gc", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	flags := addEnvFlags(fs)
	all := fs.Bool("all", false, "Clean every sealed file regardless of utilization")
	minUtilization := fs.Int("min-utilization", 0, "Utilization threshold in percent (overrides config)")
	timeout := fs.Duration("timeout", time.Minute, "Maximum duration of the run")
	help := fs.Bool("h", false, "Show help message")
	helpLong := fs.Bool("help", false, "Show help message")

	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *help || *helpLong {
		printGCUsage(os.Stdout)
		return 0
	}

	e, cfg, logger, err := flags.open(false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening environment: %v\n", err)
		return 1
	}
	defer e.Close()

	opts := cfg.GCOptions(logger).WithUtilizationFromScratch(true, cfg.GC.BloomFalsePositiveRate)
	if *minUtilization > 0 {
		opts = opts.WithMinUtilization(*minUtilization)
	}
	collector, err := gc.New(e, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error starting collector: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	before := len(e.Log().Files())
	start := time.Now()
	if *all {
		var files []logstore.Address
		writable := e.Log().WritableFile()
		for _, f := range e.Log().Files() {
			if f != writable {
				files = append(files, f)
			}
		}
		err = e.CleanFiles(ctx, files)
	} else {
		err = e.GC(ctx)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "GC failed: %v\n", err)
		return 1
	}

	stats := collector.Stats()
	fmt.Printf("GC completed\n")
	fmt.Printf("  Files before:    %d\n", before)
	fmt.Printf("  Files removed:   %d\n", stats.FilesCleaned)
	fmt.Printf("  Records scanned: %s\n", humanize.Comma(int64(stats.RecordsScanned)))
	fmt.Printf("  Reclaimed:       %s\n", humanize.IBytes(stats.BytesReclaimed))
	fmt.Printf("  Duration:        %v\n", time.Since(start).Round(time.Millisecond))
	return 0
}
