package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/KilimcininKorOglu/cowdb/benchmarks"
)

// reportCmd handles the report command.
func reportCmd(args []string) int {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	input := fs.String("input", "", "Benchmark output file (default stdin)")
	output := fs.String("output", "", "Report file (default stdout)")
	format := fs.String("format", "text", "Report format: text, markdown, json")
	strict := fs.Bool("strict", false, "Exit with status 2 when a target is missed")
	help := fs.Bool("h", false, "Show help message")
	helpLong := fs.Bool("help", false, "Show help message")

	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *help || *helpLong {
		printReportUsage(os.Stdout)
		return 0
	}

	var in io.Reader = os.Stdin
	if *input != "" {
		f, err := os.Open(*input)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		defer f.Close()
		in = f
	}

	report := benchmarks.NewReport()
	if err := report.Parse(in); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	var out io.Writer = os.Stdout
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		defer f.Close()
		out = f
	}
	if err := report.Write(out, *format); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if *strict && !report.Passed() {
		return 2
	}
	return 0
}
