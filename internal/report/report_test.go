package report

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tlcrun/internal/check"
)

func sampleResult() *check.Result {
	r := check.New("run-1", check.SourceProcess, check.SpecFiles{
		TLAPath: "/specs/Queue.tla",
		CfgPath: "/specs/MC.cfg",
	})
	r.Status = check.FinishedError
	r.StartTime = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	r.EndTime = r.StartTime.Add(5 * time.Second)
	r.Version = "TLC2 Version 2.18"
	r.Stats = check.Stats{Generated: 1310, Distinct: 655, Depth: 12, InitialStates: 1, Duration: 5 * time.Second}
	id := r.Values().Store("<<1, 2,\n  3>>")
	r.Errors = []check.ErrorReport{{
		Kind:    check.ErrorInvariantViolated,
		Message: "Invariant QueueBounded is violated.",
		Trace: []check.TraceStep{
			{Num: 1, Kind: check.StepInitial, Action: "Initial predicate", Vars: []check.Binding{{Name: "x", Value: "0"}}},
			{Num: 2, Kind: check.StepAction, Action: "Push", Location: "line 10, col 5 to line 12, col 20 of module Queue",
				Vars: []check.Binding{{Name: "q", Value: "<<1, 2, 3>>", ValueID: id}}},
		},
	}}
	r.Coverage = []check.CoverageItem{
		{Module: "Queue", Action: "Push", Location: "line 10, col 5 to line 12, col 20", Distinct: 700, Total: 1300},
		{Module: "MC", Action: "Init", Location: "line 1, col 1 to line 1, col 9", Distinct: 1, Total: 1},
		{Module: "Queue", Action: "Init", Location: "line 5, col 1 to line 5, col 9", Distinct: 1, Total: 1},
	}
	return r
}

func TestMarkdown(t *testing.T) {
	md := Markdown(sampleResult(), Options{})

	require.Contains(t, md, "# Queue / MC\n")
	require.Contains(t, md, "- **Status:** error\n")
	require.Contains(t, md, "| 1 | 1,310 | 655 | 0 | 12 | 5s |")
	require.Contains(t, md, "## Error 1: invariant-violated")
	require.Contains(t, md, "### 2: Push (line 10, col 5 to line 12, col 20 of module Queue)")
	require.Contains(t, md, "- `x` = `0`\n")
	require.Regexp(t, "- `q` = `<<1, 2, 3>>` \\(value \\d+\\)", md)
	require.NotContains(t, md, "## Output")
}

func TestMarkdownExpandValues(t *testing.T) {
	md := Markdown(sampleResult(), Options{ExpandValues: true})
	require.Contains(t, md, "- `q` =\n\n```\n<<1, 2,\n  3>>\n```")
}

func TestCoverageOrder(t *testing.T) {
	md := Markdown(sampleResult(), Options{})
	mc := strings.Index(md, "### MC")
	queue := strings.Index(md, "### Queue")
	require.True(t, mc > 0 && queue > mc, "modules sorted by name")

	section := md[queue:]
	require.Less(t, strings.Index(section, "| Init |"), strings.Index(section, "| Push |"))
	require.Contains(t, section, "| 700 | 1,300 |")
}

func TestOutputTail(t *testing.T) {
	r := sampleResult()
	r.Output = []string{"one", "two", "three"}
	r.OutputDropped = 4

	md := Markdown(r, Options{OutputTail: 2})
	require.Contains(t, md, "```\ntwo\nthree\n```")
	require.NotContains(t, md, "one\n")
	require.Contains(t, md, "_4 output lines were dropped._")
}

func TestFailureAndFence(t *testing.T) {
	r := check.New("", check.SourceOutFile, check.SpecFiles{TLAPath: "A.tla", CfgPath: "A.cfg"})
	r.Status = check.ToolingFailure
	r.Failure = "Error running TLC (exit code 1)\n```boom```"

	md := Markdown(r, Options{})
	require.Contains(t, md, "## Failure\n\n````\nError running TLC (exit code 1)\n```boom```\n````")
}

func TestCount(t *testing.T) {
	tests := map[int64]string{
		0:        "0",
		999:      "999",
		1000:     "1,000",
		1234567:  "1,234,567",
		-1234567: "-1,234,567",
	}
	for n, want := range tests {
		require.Equal(t, want, Count(n))
	}
}

func TestHTMLSanitizesOutput(t *testing.T) {
	r := sampleResult()
	r.Output = []string{`<script>alert("x")</script>`}
	r.Warnings = []check.Warning{{Code: 2121, Lines: []string{`<img src=x onerror=alert(1)>`}}}

	html := HTML(r, Options{OutputTail: 10})
	require.Contains(t, html, "<h1")
	require.Contains(t, html, "<table>")
	require.NotContains(t, html, "<script>")
	require.NotContains(t, html, "<img")
	require.NotContains(t, html, "onerror=alert(1)>")
}

func TestRenderToHTML(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		contains []string
	}{
		{
			name:     "headers",
			input:    "# Header 1\n## Header 2",
			contains: []string{"<h1", "Header 1", "<h2", "Header 2"},
		},
		{
			name:     "code block",
			input:    "```\ncode block\n```",
			contains: []string{"<pre>", "<code>", "code block"},
		},
		{
			name:     "table",
			input:    "| a | b |\n|---|---:|\n| 1 | 2 |",
			contains: []string{"<table>", "<th>a</th>", "<td>1</td>"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RenderToHTML(tt.input)
			for _, want := range tt.contains {
				require.Contains(t, got, want)
			}
		})
	}
}
