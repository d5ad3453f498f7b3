package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"github.com/KilimcininKorOglu/cowdb/internal/storage/env"
	"github.com/KilimcininKorOglu/cowdb/internal/storage/gc"
)

// statCmd handles the stat command.
func statCmd(args []string) int {
	fs := flag.NewFlagSet("stat", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	flags := addEnvFlags(fs)
	help := fs.Bool("h", false, "Show help message")
	helpLong := fs.Bool("help", false, "Show help message")

	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *help || *helpLong {
		printStatUsage(os.Stdout)
		return 0
	}

	e, cfg, _, err := flags.open(true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening environment: %v\n", err)
		return 1
	}
	defer e.Close()

	profile := gc.NewUtilizationProfile(e.Log())
	if err := profile.ComputeFromScratch(context.Background(), e, cfg.GC.BloomFalsePositiveRate); err != nil {
		fmt.Fprintf(os.Stderr, "Error computing utilization: %v\n", err)
		return 1
	}

	stats := e.Stats()
	fmt.Printf("Environment %s\n", e.Dir())
	fmt.Printf("  Log id:        %s\n", e.Log().ID())
	fmt.Printf("  Meta version:  %d\n", stats.MetaVersion)
	fmt.Printf("  Database root: %d\n", stats.DatabaseRoot)
	fmt.Printf("  High address:  %d\n", stats.HighAddress)

	var total, expired int64
	files := profile.Files()
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\nFILE\tSIZE\tEXPIRED\tUTILIZATION")
	for _, f := range files {
		fmt.Fprintf(tw, "%016x\t%s\t%s\t%d%%\n", f.File,
			humanize.IBytes(uint64(f.Length)), humanize.IBytes(uint64(f.Expired)), f.Utilization)
		total += f.Length
		expired += f.Expired
	}
	tw.Flush()
	fmt.Printf("  %d files, %s, %s expired\n", len(files), humanize.IBytes(uint64(total)), humanize.IBytes(uint64(expired)))

	err = e.ComputeInReadonlyTransaction(func(txn *env.Transaction) error {
		stores, err := txn.Snapshot().Stores()
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "\nSTORE\tID\tDUPLICATES\tPREFIXING\tPAIRS")
		for _, s := range stores {
			store, err := e.OpenStore(s.Name, env.UseExisting, txn)
			if err != nil {
				return err
			}
			n, err := store.Count(txn)
			if err != nil {
				return err
			}
			fmt.Fprintf(tw, "%s\t%d\t%v\t%v\t%s\n", s.Name, s.Meta.StructureID,
				s.Meta.Duplicates, s.Meta.Prefixing, humanize.Comma(n))
		}
		return tw.Flush()
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading stores: %v\n", err)
		return 1
	}
	return 0
}
