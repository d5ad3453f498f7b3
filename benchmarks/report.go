// Package benchmarks turns `go test -bench` output of the storage packages
// into reports checked against latency and throughput targets.
package benchmarks

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
)

// Result is a single benchmark line.
type Result struct {
	Name        string  `json:"name"`
	Package     string  `json:"package"`
	Iterations  int     `json:"iterations"`
	NsPerOp     float64 `json:"nsPerOp"`
	BytesPerOp  int64   `json:"bytesPerOp"`
	AllocsPerOp int64   `json:"allocsPerOp"`
}

// Target is a performance goal for one benchmark. Exactly one of MaxNsPerOp
// and MinOpsPerSec is set.
type Target struct {
	Benchmark    string  `json:"benchmark"`
	Description  string  `json:"description"`
	MaxNsPerOp   float64 `json:"maxNsPerOp,omitempty"`
	MinOpsPerSec float64 `json:"minOpsPerSec,omitempty"`
}

// Check is the outcome of comparing a result with its target.
type Check struct {
	Target    Target  `json:"target"`
	NsPerOp   float64 `json:"nsPerOp"`
	OpsPerSec float64 `json:"opsPerSec"`
	Passed    bool    `json:"passed"`
}

// Report collects results and the targets they are checked against.
type Report struct {
	Timestamp time.Time `json:"timestamp"`
	GoOS      string    `json:"goos,omitempty"`
	GoArch    string    `json:"goarch,omitempty"`
	CPU       string    `json:"cpu,omitempty"`
	Results   []Result  `json:"results"`
	Targets   []Target  `json:"-"`
}

// DefaultTargets returns the goals for the environment benchmarks.
func DefaultTargets() []Target {
	return []Target{
		{Benchmark: "BenchmarkGet", Description: "Point lookup in a read-only transaction", MaxNsPerOp: 10000},
		{Benchmark: "BenchmarkCursorScan", Description: "Cursor step over a committed store", MaxNsPerOp: 2000},
		{Benchmark: "BenchmarkPutCommit", Description: "Single put committed per transaction", MinOpsPerSec: 5000},
		{Benchmark: "BenchmarkPutBatch", Description: "Put inside a 1000-key transaction", MinOpsPerSec: 100000},
	}
}

// NewReport creates an empty report with the default targets.
func NewReport() *Report {
	return &Report{
		Timestamp: time.Now(),
		Targets:   DefaultTargets(),
	}
}

var (
	benchLine = regexp.MustCompile(`^(Benchmark\S+?)(?:-\d+)?\s+(\d+)\s+([\d.]+) ns/op(?:\s+(\d+) B/op)?(?:\s+(\d+) allocs/op)?`)
	headLine  = regexp.MustCompile(`^(goos|goarch|pkg|cpu):\s*(.+)$`)
)

// Parse reads benchmark output into the report. Header lines set the
// platform fields and the package of the following results.
func (r *Report) Parse(in io.Reader) error {
	scanner := bufio.NewScanner(in)
	pkg := ""
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if m := headLine.FindStringSubmatch(line); m != nil {
			switch m[1] {
			case "goos":
				r.GoOS = m[2]
			case "goarch":
				r.GoArch = m[2]
			case "cpu":
				r.CPU = m[2]
			case "pkg":
				pkg = m[2]
			}
			continue
		}
		m := benchLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		res := Result{Name: m[1], Package: pkg}
		res.Iterations, _ = strconv.Atoi(m[2])
		res.NsPerOp, _ = strconv.ParseFloat(m[3], 64)
		if m[4] != "" {
			res.BytesPerOp, _ = strconv.ParseInt(m[4], 10, 64)
		}
		if m[5] != "" {
			res.AllocsPerOp, _ = strconv.ParseInt(m[5], 10, 64)
		}
		r.Results = append(r.Results, res)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read benchmark output: %w", err)
	}
	return nil
}

// Checks compares every result that has a target. A benchmark reported by
// several packages yields one check per result.
func (r *Report) Checks() []Check {
	targets := make(map[string]Target, len(r.Targets))
	for _, t := range r.Targets {
		targets[t.Benchmark] = t
	}
	var checks []Check
	for _, res := range r.Results {
		t, ok := targets[res.Name]
		if !ok || res.NsPerOp <= 0 {
			continue
		}
		c := Check{Target: t, NsPerOp: res.NsPerOp, OpsPerSec: 1e9 / res.NsPerOp}
		if t.MaxNsPerOp > 0 {
			c.Passed = c.NsPerOp <= t.MaxNsPerOp
		} else {
			c.Passed = c.OpsPerSec >= t.MinOpsPerSec
		}
		checks = append(checks, c)
	}
	return checks
}

// Passed reports whether every check passed.
func (r *Report) Passed() bool {
	for _, c := range r.Checks() {
		if !c.Passed {
			return false
		}
	}
	return true
}

func (r *Report) sorted() []Result {
	out := append([]Result(nil), r.Results...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Package != out[j].Package {
			return out[i].Package < out[j].Package
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// WriteText writes an aligned plain text report.
func (r *Report) WriteText(w io.Writer) error {
	fmt.Fprintf(w, "cowdb benchmark report (%s)\n", r.Timestamp.Format(time.RFC3339))
	if r.GoOS != "" {
		fmt.Fprintf(w, "platform: %s/%s %s\n", r.GoOS, r.GoArch, r.CPU)
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "BENCHMARK\tPACKAGE\tITERATIONS\tTIME/OP\tALLOC/OP\tALLOCS/OP\t")
	for _, res := range r.sorted() {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t\n", res.Name, shortPackage(res.Package),
			humanize.Comma(int64(res.Iterations)), formatNs(res.NsPerOp),
			humanize.IBytes(uint64(res.BytesPerOp)), res.AllocsPerOp)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	checks := r.Checks()
	if len(checks) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TARGET\tACTUAL\tGOAL\tSTATUS")
	for _, c := range checks {
		actual, goal := c.describe()
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.Target.Benchmark, actual, goal, c.status())
	}
	return tw.Flush()
}

// WriteMarkdown writes the report as Markdown tables.
func (r *Report) WriteMarkdown(w io.Writer) error {
	fmt.Fprintf(w, "# cowdb benchmark report\n\nGenerated %s", r.Timestamp.Format(time.RFC3339))
	if r.GoOS != "" {
		fmt.Fprintf(w, " on %s/%s", r.GoOS, r.GoArch)
	}
	fmt.Fprint(w, "\n\n| Benchmark | Package | Iterations | Time/op | Alloc/op | Allocs/op |\n")
	fmt.Fprint(w, "|---|---|---:|---:|---:|---:|\n")
	for _, res := range r.sorted() {
		fmt.Fprintf(w, "| %s | %s | %d | %s | %s | %d |\n", res.Name, shortPackage(res.Package),
			res.Iterations, formatNs(res.NsPerOp), humanize.IBytes(uint64(res.BytesPerOp)), res.AllocsPerOp)
	}

	checks := r.Checks()
	if len(checks) > 0 {
		fmt.Fprint(w, "\n## Targets\n\n| Benchmark | Actual | Goal | Status |\n|---|---:|---:|---|\n")
		for _, c := range checks {
			actual, goal := c.describe()
			fmt.Fprintf(w, "| %s | %s | %s | %s |\n", c.Target.Benchmark, actual, goal, c.status())
		}
	}
	_, err := fmt.Fprintln(w)
	return err
}

// WriteJSON writes the results and checks as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		*Report
		Checks []Check `json:"checks"`
		Passed bool    `json:"passed"`
	}{r, r.Checks(), r.Passed()})
}

// Write dispatches on format: text, markdown (md) or json.
func (r *Report) Write(w io.Writer, format string) error {
	switch format {
	case "text", "txt", "":
		return r.WriteText(w)
	case "markdown", "md":
		return r.WriteMarkdown(w)
	case "json":
		return r.WriteJSON(w)
	default:
		return fmt.Errorf("unknown report format %q", format)
	}
}

func (c Check) describe() (actual, goal string) {
	if c.Target.MaxNsPerOp > 0 {
		return formatNs(c.NsPerOp), "<= " + formatNs(c.Target.MaxNsPerOp)
	}
	return humanize.SIWithDigits(c.OpsPerSec, 2, "op/s"), ">= " + humanize.SIWithDigits(c.Target.MinOpsPerSec, 2, "op/s")
}

func (c Check) status() string {
	if c.Passed {
		return "PASS"
	}
	return "FAIL"
}

func formatNs(ns float64) string {
	return time.Duration(ns).String()
}

func shortPackage(pkg string) string {
	if i := strings.LastIndex(pkg, "/"); i >= 0 {
		return pkg[i+1:]
	}
	return pkg
}
