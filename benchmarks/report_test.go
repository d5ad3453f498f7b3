package benchmarks

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleOutput = `goos: linux
goarch: amd64
pkg: github.com/KilimcininKorOglu/cowdb/internal/storage/env
cpu: AMD EPYC 7B13
BenchmarkGet-8           	  812345	      1432 ns/op	     240 B/op	       5 allocs/op
BenchmarkPutCommit-8     	    1200	    998001 ns/op	   20480 B/op	     180 allocs/op
BenchmarkCursorScan-8    	 4000000	       301.5 ns/op
PASS
ok  	github.com/KilimcininKorOglu/cowdb/internal/storage/env	6.120s
pkg: github.com/KilimcininKorOglu/cowdb/internal/storage/btree
BenchmarkInsert/page=16-8	  500000	      2100 ns/op	     512 B/op	       9 allocs/op
`

func parsed(t *testing.T) *Report {
	t.Helper()
	r := NewReport()
	require.NoError(t, r.Parse(strings.NewReader(sampleOutput)))
	return r
}

func TestParse(t *testing.T) {
	r := parsed(t)
	assert.Equal(t, "linux", r.GoOS)
	assert.Equal(t, "amd64", r.GoArch)
	assert.Equal(t, "AMD EPYC 7B13", r.CPU)
	require.Len(t, r.Results, 4)

	get := r.Results[0]
	assert.Equal(t, "BenchmarkGet", get.Name)
	assert.Equal(t, "github.com/KilimcininKorOglu/cowdb/internal/storage/env", get.Package)
	assert.Equal(t, 812345, get.Iterations)
	assert.InDelta(t, 1432, get.NsPerOp, 0.01)
	assert.EqualValues(t, 240, get.BytesPerOp)
	assert.EqualValues(t, 5, get.AllocsPerOp)

	scan := r.Results[2]
	assert.InDelta(t, 301.5, scan.NsPerOp, 0.01)
	assert.Zero(t, scan.BytesPerOp)

	sub := r.Results[3]
	assert.Equal(t, "BenchmarkInsert/page=16", sub.Name)
	assert.Equal(t, "github.com/KilimcininKorOglu/cowdb/internal/storage/btree", sub.Package)
}

func TestChecks(t *testing.T) {
	r := parsed(t)
	checks := r.Checks()
	require.Len(t, checks, 3)

	byName := map[string]Check{}
	for _, c := range checks {
		byName[c.Target.Benchmark] = c
	}
	assert.True(t, byName["BenchmarkGet"].Passed)
	assert.True(t, byName["BenchmarkCursorScan"].Passed)
	// ~1002 op/s against a goal of 5000.
	assert.False(t, byName["BenchmarkPutCommit"].Passed)
	assert.False(t, r.Passed())

	r.Targets = []Target{{Benchmark: "BenchmarkGet", MaxNsPerOp: 2000}}
	assert.True(t, r.Passed())
}

func TestWriteFormats(t *testing.T) {
	r := parsed(t)

	var text bytes.Buffer
	require.NoError(t, r.Write(&text, "text"))
	assert.Contains(t, text.String(), "platform: linux/amd64")
	assert.Contains(t, text.String(), "812,345")
	assert.Contains(t, text.String(), "1.432µs")
	assert.Contains(t, text.String(), "FAIL")

	var md bytes.Buffer
	require.NoError(t, r.Write(&md, "md"))
	assert.Contains(t, md.String(), "| BenchmarkGet | env | 812345 | 1.432µs | 240 B | 5 |")
	assert.Contains(t, md.String(), "## Targets")

	var js bytes.Buffer
	require.NoError(t, r.Write(&js, "json"))
	var decoded struct {
		GoOS    string   `json:"goos"`
		Results []Result `json:"results"`
		Checks  []Check  `json:"checks"`
		Passed  bool     `json:"passed"`
	}
	require.NoError(t, json.Unmarshal(js.Bytes(), &decoded))
	assert.Equal(t, "linux", decoded.GoOS)
	assert.Len(t, decoded.Results, 4)
	assert.Len(t, decoded.Checks, 3)
	assert.False(t, decoded.Passed)

	assert.Error(t, r.Write(&js, "xml"))
}

func TestEmptyReport(t *testing.T) {
	r := NewReport()
	require.NoError(t, r.Parse(strings.NewReader("PASS\nok  \tpkg\t0.01s\n")))
	assert.Empty(t, r.Results)
	assert.Empty(t, r.Checks())
	assert.True(t, r.Passed())

	var buf bytes.Buffer
	require.NoError(t, r.WriteText(&buf))
	assert.NotContains(t, buf.String(), "TARGET")
}
