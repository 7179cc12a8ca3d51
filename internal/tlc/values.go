package tlc

import (
	"strings"

	"tlcrun/internal/check"
)

// InlineValueLimit is the longest value kept inline in a trace binding.
const InlineValueLimit = 64

// previewLimit bounds the one-line preview kept for registered values.
const previewLimit = 40

// needsRegistry reports whether a value is large or structured and must be
// stored in the Value Registry instead of the snapshot.
func needsRegistry(v string) bool {
	if len(v) > InlineValueLimit || strings.Contains(v, "\n") {
		return true
	}
	switch v {
	case "{}", "<<>>", "[]", "()":
		return false
	}
	for _, open := range []string{"[", "<<", "{", "("} {
		if strings.HasPrefix(v, open) {
			return true
		}
	}
	return false
}

// formatValue normalizes the indentation of continuation lines.
func formatValue(v string) string {
	lines := strings.Split(v, "\n")
	if len(lines) == 1 {
		return v
	}
	indent := -1
	for _, l := range lines[1:] {
		if strings.TrimSpace(l) == "" {
			continue
		}
		n := len(l) - len(strings.TrimLeft(l, " \t"))
		if indent < 0 || n < indent {
			indent = n
		}
	}
	if indent <= 0 {
		return v
	}
	for i := 1; i < len(lines); i++ {
		if len(lines[i]) >= indent {
			lines[i] = "  " + lines[i][indent:]
		}
	}
	return strings.Join(lines, "\n")
}

// preview returns a single-line abbreviation of v.
func preview(v string) string {
	v = strings.Join(strings.Fields(v), " ")
	if len(v) <= previewLimit {
		return v
	}
	return v[:previewLimit] + "..."
}

// bind turns parsed assignments into bindings, registering large values in values.
func bind(raw []rawBinding, values *check.Values) []check.Binding {
	out := make([]check.Binding, 0, len(raw))
	for _, rb := range raw {
		b := check.Binding{Name: rb.name, Value: rb.value}
		if needsRegistry(rb.value) {
			text := formatValue(rb.value)
			b.ValueID = values.Store(text)
			b.Value = preview(text)
		}
		out = append(out, b)
	}
	return out
}
