// Package report renders check results as Markdown and sanitized HTML.
package report

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"tlcrun/internal/check"
)

// Options control how much of a result is rendered.
type Options struct {
	// ExpandValues inlines registered trace values instead of their previews.
	ExpandValues bool
	// OutputTail is the number of trailing output lines to include. Zero omits the output.
	OutputTail int
}

// Markdown renders r.
func Markdown(r *check.Result, opts Options) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s / %s\n\n", r.Files.SpecName(), r.Files.ModelName())

	fmt.Fprintf(&b, "- **Status:** %s\n", r.Status)
	if r.Version != "" {
		fmt.Fprintf(&b, "- **Checker:** %s\n", r.Version)
	}
	if r.Mode != "" {
		fmt.Fprintf(&b, "- **Mode:** %s\n", oneLine(r.Mode))
	}
	if !r.StartTime.IsZero() {
		fmt.Fprintf(&b, "- **Started:** %s\n", r.StartTime.Format(time.DateTime))
	}
	if !r.EndTime.IsZero() {
		fmt.Fprintf(&b, "- **Ended:** %s\n", r.EndTime.Format(time.DateTime))
	}
	if r.FingerprintCollision != "" {
		fmt.Fprintf(&b, "- **Fingerprint collision probability:** %s\n", r.FingerprintCollision)
	}
	b.WriteString("\n")

	if r.Failure != "" {
		b.WriteString("## Failure\n\n")
		writeCode(&b, r.Failure)
	}

	writeStats(&b, r.Stats)

	for i, e := range r.Errors {
		writeError(&b, r, i+1, e, opts)
	}

	if len(r.Warnings) > 0 {
		b.WriteString("## Warnings\n\n")
		for _, w := range r.Warnings {
			fmt.Fprintf(&b, "- %s (%d)\n", oneLine(strings.Join(w.Lines, " ")), w.Code)
		}
		b.WriteString("\n")
	}

	writeCoverage(&b, r.Coverage)

	if opts.OutputTail > 0 && len(r.Output) > 0 {
		b.WriteString("## Output\n\n")
		lines := r.Output
		if len(lines) > opts.OutputTail {
			lines = lines[len(lines)-opts.OutputTail:]
		}
		writeCode(&b, strings.Join(lines, "\n"))
		if r.OutputDropped > 0 {
			fmt.Fprintf(&b, "_%d output lines were dropped._\n\n", r.OutputDropped)
		}
	}
	return b.String()
}

func writeStats(b *strings.Builder, st check.Stats) {
	b.WriteString("## Statistics\n\n")
	b.WriteString("| Initial states | Generated | Distinct | Queue | Depth | Duration |\n")
	b.WriteString("|---:|---:|---:|---:|---:|---:|\n")
	fmt.Fprintf(b, "| %s | %s | %s | %s | %s | %s |\n\n",
		Count(st.InitialStates), Count(st.Generated), Count(st.Distinct),
		Count(st.Queue), Count(st.Depth), st.Duration)
}

func writeError(b *strings.Builder, r *check.Result, n int, e check.ErrorReport, opts Options) {
	fmt.Fprintf(b, "## Error %d: %s\n\n", n, e.Kind)
	writeCode(b, e.Message)
	if len(e.Details) > 0 {
		writeCode(b, strings.Join(e.Details, "\n"))
	}
	for _, step := range e.Trace {
		title := step.Action
		if step.Location != "" {
			title += " (" + step.Location + ")"
		}
		fmt.Fprintf(b, "### %d: %s\n\n", step.Num, escape(title))
		for _, v := range step.Vars {
			value := v.Value
			if v.IsRef() && opts.ExpandValues {
				if full, ok := r.FormatValue(v.ValueID); ok {
					value = full
				}
			}
			if strings.Contains(value, "\n") {
				fmt.Fprintf(b, "- `%s` =\n\n", v.Name)
				writeCode(b, value)
				continue
			}
			fmt.Fprintf(b, "- `%s` = `%s`", v.Name, value)
			if v.IsRef() && !opts.ExpandValues {
				fmt.Fprintf(b, " (value %s)", v.ValueID)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
}

// writeCoverage prints one table per module, modules and actions in name order.
func writeCoverage(b *strings.Builder, items []check.CoverageItem) {
	if len(items) == 0 {
		return
	}
	byModule := make(map[string][]check.CoverageItem)
	for _, item := range items {
		byModule[item.Module] = append(byModule[item.Module], item)
	}
	modules := maps.Keys(byModule)
	slices.Sort(modules)

	b.WriteString("## Coverage\n\n")
	for _, module := range modules {
		actions := byModule[module]
		slices.SortStableFunc(actions, func(x, y check.CoverageItem) bool {
			return x.Action < y.Action
		})
		fmt.Fprintf(b, "### %s\n\n", escape(module))
		b.WriteString("| Action | Location | Distinct | Total |\n")
		b.WriteString("|---|---|---:|---:|\n")
		for _, item := range actions {
			fmt.Fprintf(b, "| %s | %s | %s | %s |\n", escape(item.Action), item.Location, Count(item.Distinct), Count(item.Total))
		}
		b.WriteString("\n")
	}
}

// Count formats n with thousands separators, the way the checker prints it.
func Count(n int64) string {
	s := fmt.Sprint(n)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	var out []byte
	for i := range len(s) {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, s[i])
	}
	if neg {
		return "-" + string(out)
	}
	return string(out)
}

func writeCode(b *strings.Builder, text string) {
	fence := "```"
	for strings.Contains(text, fence) {
		fence += "`"
	}
	fmt.Fprintf(b, "%s\n%s\n%s\n\n", fence, strings.TrimRight(text, "\n"), fence)
}

func oneLine(s string) string {
	return escape(strings.Join(strings.Fields(s), " "))
}

var escaper = strings.NewReplacer(`|`, `\|`, `*`, `\*`, `_`, `\_`, "`", "\\`", `<`, `&lt;`, `>`, `&gt;`)

func escape(s string) string {
	return escaper.Replace(s)
}
